package launchdarkly

import (
	"fmt"
	"sync"
	"time"

	"github.com/launchdarkly/go-server-sdk/v7/interfaces"
	"github.com/open-feature/go-sdk/openfeature"
)

const (
	offMessage         = "permanent error or shutdown"
	interruptedMessage = "unknown error"
)

// Init blocks until the LaunchDarkly client is initialized or has failed
// permanently (part of StateHandler interface). Without an init timeout the
// wait is unbounded.
func (p *Provider) Init(evaluationContext openfeature.EvaluationContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &openfeature.ProviderInitError{
				ErrorCode: openfeature.ProviderFatalCode,
				Message:   fmt.Sprintf("Init panicked: %v", r),
			}
		}
	}()

	if p.backend == nil {
		return &openfeature.ProviderInitError{
			ErrorCode: openfeature.ProviderFatalCode,
			Message:   "backend is nil, cannot initialize",
		}
	}

	p.awaitInitialization()

	if !p.backend.Initialized() {
		status := p.backend.DataSourceStatus()
		p.logger.Error("LaunchDarkly client failed to initialize",
			"state", string(status.State),
			"error", status.LastError.Message,
		)
		return &openfeature.ProviderInitError{
			ErrorCode: openfeature.ProviderFatalCode,
			Message:   initFailureMessage(status),
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &openfeature.ProviderInitError{
			ErrorCode: openfeature.ProviderFatalCode,
			Message:   "provider was shut down during initialization",
		}
	}
	if !p.listening {
		p.statusHandle = p.backend.AddStatusListener(p.onStatus)
		p.flagHandle = p.backend.AddFlagChangeListener(p.onFlagChange)
		p.listening = true
	}

	p.logger.Info("Provider initialized successfully")
	return nil
}

// awaitInitialization returns once the data source is VALID or OFF. The
// transient listener is attached before the current status is read, so a
// transition is either seen by the read or delivered to the listener.
func (p *Provider) awaitInitialization() {
	settled := make(chan struct{})
	var once sync.Once
	signal := func() { once.Do(func() { close(settled) }) }

	handle := p.backend.AddStatusListener(func(status interfaces.DataSourceStatus) {
		if isSettled(status.State) {
			signal()
		}
	})
	defer p.backend.RemoveStatusListener(handle)

	if isSettled(p.backend.DataSourceStatus().State) || p.backend.Initialized() {
		signal()
	}

	if p.initTimeout <= 0 {
		<-settled
		return
	}

	timer := time.NewTimer(p.initTimeout)
	defer timer.Stop()
	select {
	case <-settled:
	case <-timer.C:
		p.logger.Warn("Timed out waiting for LaunchDarkly client", "timeout", p.initTimeout)
	}
}

func isSettled(state interfaces.DataSourceState) bool {
	return state == interfaces.DataSourceStateValid || state == interfaces.DataSourceStateOff
}

func initFailureMessage(status interfaces.DataSourceStatus) string {
	if status.LastError.Message != "" {
		return fmt.Sprintf("LaunchDarkly client failed to initialize: %s", status.LastError.Message)
	}
	return fmt.Sprintf("LaunchDarkly client failed to initialize (data source %s)", status.State)
}

// Shutdown removes the provider's listeners and closes the client (part of
// StateHandler interface). It is safe to call more than once and without a
// prior Init.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.logger.Info("Shutting down provider")

	// unblock listeners waiting on a full event channel
	close(p.done)

	if p.backend == nil {
		return
	}

	if p.listening {
		p.backend.RemoveStatusListener(p.statusHandle)
		p.backend.RemoveFlagChangeListener(p.flagHandle)
		p.listening = false
		p.logger.Debug("Removed backend listeners")
	}

	if err := p.backend.Close(); err != nil {
		p.logger.Error("Failed to close LaunchDarkly client", "error", err)
	}

	p.logger.Info("Provider has been shut down")
}

// EventChannel returns the channel on which provider events are delivered
// (part of EventHandler interface)
func (p *Provider) EventChannel() <-chan openfeature.Event {
	return p.events
}

func (p *Provider) onStatus(status interfaces.DataSourceStatus) {
	p.metrics.SetDataSourceState(string(status.State))

	switch status.State {
	case interfaces.DataSourceStateValid:
		p.emit(openfeature.ProviderReady, openfeature.ProviderEventDetails{})
	case interfaces.DataSourceStateOff:
		p.emit(openfeature.ProviderError, openfeature.ProviderEventDetails{
			Message:   messageOr(status.LastError.Message, offMessage),
			ErrorCode: openfeature.ProviderFatalCode,
		})
	case interfaces.DataSourceStateInterrupted:
		p.emit(openfeature.ProviderStale, openfeature.ProviderEventDetails{
			Message: messageOr(status.LastError.Message, interruptedMessage),
		})
	default:
		// INITIALIZING and unknown states are not reported
	}
}

func (p *Provider) onFlagChange(event interfaces.FlagChangeEvent) {
	p.emit(openfeature.ProviderConfigChange, openfeature.ProviderEventDetails{
		FlagChanges: []string{event.Key},
	})
}

func (p *Provider) emit(eventType openfeature.EventType, eventDetails openfeature.ProviderEventDetails) {
	event := openfeature.Event{
		ProviderName:         ProviderName,
		EventType:            eventType,
		ProviderEventDetails: eventDetails,
	}

	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.events <- event:
		p.metrics.RecordEvent(string(eventType))
		p.logger.Debug("Emitted provider event", "event", string(eventType))
	case <-p.done:
	}
}

func messageOr(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}
