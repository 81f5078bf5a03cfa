package launchdarkly

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/launchdarkly/go-server-sdk/v7/interfaces"
	"github.com/open-feature/go-sdk/openfeature"

	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/testutil"
)

const eventTimeout = 2 * time.Second

func receiveEvent(t *testing.T, provider *Provider) openfeature.Event {
	t.Helper()
	select {
	case event := <-provider.EventChannel():
		return event
	case <-time.After(eventTimeout):
		t.Fatal("Timed out waiting for provider event")
		return openfeature.Event{}
	}
}

func expectNoEvent(t *testing.T, provider *Provider) {
	t.Helper()
	select {
	case event := <-provider.EventChannel():
		t.Fatalf("Expected no event, got %s", event.EventType)
	default:
	}
}

// runInit runs Init on its own goroutine so a hang fails the test instead of blocking it
func runInit(t *testing.T, provider *Provider) error {
	t.Helper()
	result := make(chan error, 1)
	go func() { result <- provider.Init(openfeature.EvaluationContext{}) }()

	select {
	case err := <-result:
		return err
	case <-time.After(eventTimeout):
		t.Fatal("Init did not return")
		return nil
	}
}

func requireFatalInitError(t *testing.T, err error) *openfeature.ProviderInitError {
	t.Helper()
	var initErr *openfeature.ProviderInitError
	if !errors.As(err, &initErr) {
		t.Fatalf("Expected *openfeature.ProviderInitError, got %v", err)
	}
	if initErr.ErrorCode != openfeature.ProviderFatalCode {
		t.Errorf("Expected PROVIDER_FATAL, got %s", initErr.ErrorCode)
	}
	return initErr
}

func TestInit_BackendAlreadyInitialized(t *testing.T) {
	backend := testutil.NewReadyBackend()
	provider, _ := newTestProvider(t, backend)

	if err := runInit(t, provider); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// transient listener removed, permanent listeners installed
	if n := backend.StatusListenerCount(); n != 1 {
		t.Errorf("Expected 1 status listener, got %d", n)
	}
	if n := backend.FlagListenerCount(); n != 1 {
		t.Errorf("Expected 1 flag change listener, got %d", n)
	}
	expectNoEvent(t, provider)
}

func TestInit_InitializedFlagWithoutValidStatus(t *testing.T) {
	backend := testutil.NewMockBackend()
	backend.SetInitialized(true)
	provider, _ := newTestProvider(t, backend)

	if err := runInit(t, provider); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
}

func TestInit_WaitsForValid(t *testing.T) {
	backend := testutil.NewMockBackend()
	provider, _ := newTestProvider(t, backend)

	go func() {
		testutil.WaitFor(eventTimeout, func() bool { return backend.StatusListenerCount() == 1 })
		backend.SetStatus(interfaces.DataSourceStateInterrupted, "")
		backend.SetStatus(interfaces.DataSourceStateValid, "")
	}()

	if err := runInit(t, provider); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	// transitions seen by the transient listener are not replayed as events
	expectNoEvent(t, provider)
	if n := backend.StatusListenerCount(); n != 1 {
		t.Errorf("Expected 1 status listener, got %d", n)
	}
}

func TestInit_OffBeforeListenerRegistration(t *testing.T) {
	backend := testutil.NewMockBackend()
	backend.SetStatus(interfaces.DataSourceStateOff, "invalid SDK key")
	provider, _ := newTestProvider(t, backend)

	err := runInit(t, provider)

	initErr := requireFatalInitError(t, err)
	if !strings.Contains(initErr.Message, "invalid SDK key") {
		t.Errorf("Expected message to contain the data source error, got '%s'", initErr.Message)
	}
	if n := backend.StatusListenerCount(); n != 0 {
		t.Errorf("Expected no status listeners after failure, got %d", n)
	}
	if n := backend.FlagListenerCount(); n != 0 {
		t.Errorf("Expected no flag change listeners after failure, got %d", n)
	}
}

func TestInit_OffWhileWaiting(t *testing.T) {
	backend := testutil.NewMockBackend()
	provider, handler := newTestProvider(t, backend)

	go func() {
		testutil.WaitFor(eventTimeout, func() bool { return backend.StatusListenerCount() == 1 })
		backend.SetStatus(interfaces.DataSourceStateOff, "")
	}()

	err := runInit(t, provider)

	initErr := requireFatalInitError(t, err)
	if !strings.Contains(initErr.Message, string(interfaces.DataSourceStateOff)) {
		t.Errorf("Expected message to name the data source state, got '%s'", initErr.Message)
	}
	if len(handler.Records()) == 0 {
		t.Error("Expected the failure to be logged")
	}
}

func TestInit_Timeout(t *testing.T) {
	backend := testutil.NewMockBackend()
	provider, err := NewProvider(context.Background(), ProviderConfig{
		Backend:     backend,
		Logger:      slog.New(slog.DiscardHandler),
		InitTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	requireFatalInitError(t, runInit(t, provider))

	if n := backend.StatusListenerCount(); n != 0 {
		t.Errorf("Expected transient listener to be removed, got %d listeners", n)
	}
}

func TestInit_RecoversPanic(t *testing.T) {
	backend := &panickingBackend{MockBackend: testutil.NewMockBackend()}
	provider, _ := newTestProvider(t, backend)

	initErr := requireFatalInitError(t, runInit(t, provider))
	if !strings.Contains(initErr.Message, "Init panicked") {
		t.Errorf("Expected panic message, got '%s'", initErr.Message)
	}
}

type panickingBackend struct {
	*testutil.MockBackend
}

func (b *panickingBackend) DataSourceStatus() interfaces.DataSourceStatus {
	panic("status unavailable")
}

func TestInit_AfterShutdown(t *testing.T) {
	backend := testutil.NewReadyBackend()
	provider, _ := newTestProvider(t, backend)

	provider.Shutdown()

	requireFatalInitError(t, runInit(t, provider))
	if n := backend.StatusListenerCount(); n != 0 {
		t.Errorf("Expected no status listeners, got %d", n)
	}
}

func TestStatusEvents(t *testing.T) {
	backend := testutil.NewReadyBackend()
	provider, _ := newTestProvider(t, backend)
	if err := runInit(t, provider); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	testCases := []struct {
		name        string
		state       interfaces.DataSourceState
		message     string
		expected    openfeature.EventType
		expectedMsg string
		errorCode   openfeature.ErrorCode
	}{
		{name: "interrupted without detail", state: interfaces.DataSourceStateInterrupted, expected: openfeature.ProviderStale, expectedMsg: "unknown error"},
		{name: "valid again", state: interfaces.DataSourceStateValid, expected: openfeature.ProviderReady},
		{name: "interrupted with detail", state: interfaces.DataSourceStateInterrupted, message: "connection reset", expected: openfeature.ProviderStale, expectedMsg: "connection reset"},
		{name: "off without detail", state: interfaces.DataSourceStateOff, expected: openfeature.ProviderError, expectedMsg: "permanent error or shutdown", errorCode: openfeature.ProviderFatalCode},
		{name: "off with detail", state: interfaces.DataSourceStateOff, message: "401 unauthorized", expected: openfeature.ProviderError, expectedMsg: "401 unauthorized", errorCode: openfeature.ProviderFatalCode},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend.SetStatus(tc.state, tc.message)
			event := receiveEvent(t, provider)

			if event.EventType != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, event.EventType)
			}
			if event.ProviderName != ProviderName {
				t.Errorf("Expected provider name %s, got %s", ProviderName, event.ProviderName)
			}
			if event.Message != tc.expectedMsg {
				t.Errorf("Expected message '%s', got '%s'", tc.expectedMsg, event.Message)
			}
			if event.ErrorCode != tc.errorCode {
				t.Errorf("Expected error code '%s', got '%s'", tc.errorCode, event.ErrorCode)
			}
			expectNoEvent(t, provider)
		})
	}

	t.Run("initializing is ignored", func(t *testing.T) {
		backend.SetStatus(interfaces.DataSourceStateInitializing, "")
		expectNoEvent(t, provider)
	})

	t.Run("unknown state is ignored", func(t *testing.T) {
		backend.SetStatus(interfaces.DataSourceState("SOMETHING_NEW"), "")
		expectNoEvent(t, provider)
	})
}

func TestStatusEvents_ValidInterruptedValidSequence(t *testing.T) {
	backend := testutil.NewReadyBackend()
	provider, _ := newTestProvider(t, backend)
	if err := runInit(t, provider); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	backend.SetStatus(interfaces.DataSourceStateValid, "")
	backend.SetStatus(interfaces.DataSourceStateInterrupted, "")
	backend.SetStatus(interfaces.DataSourceStateValid, "")

	expected := []openfeature.EventType{openfeature.ProviderReady, openfeature.ProviderStale, openfeature.ProviderReady}
	for i, want := range expected {
		if got := receiveEvent(t, provider).EventType; got != want {
			t.Errorf("Event %d: expected %s, got %s", i, want, got)
		}
	}
	expectNoEvent(t, provider)
}

func TestFlagChangeEvent(t *testing.T) {
	backend := testutil.NewReadyBackend()
	provider, _ := newTestProvider(t, backend)
	if err := runInit(t, provider); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	backend.ChangeFlag("my-flag")
	event := receiveEvent(t, provider)

	if event.EventType != openfeature.ProviderConfigChange {
		t.Errorf("Expected %s, got %s", openfeature.ProviderConfigChange, event.EventType)
	}
	if len(event.FlagChanges) != 1 || event.FlagChanges[0] != "my-flag" {
		t.Errorf("Expected flag changes [my-flag], got %v", event.FlagChanges)
	}
}

func TestShutdown(t *testing.T) {
	backend := testutil.NewReadyBackend()
	provider, _ := newTestProvider(t, backend)
	if err := runInit(t, provider); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	provider.Shutdown()

	if n := backend.StatusListenerCount(); n != 0 {
		t.Errorf("Expected no status listeners, got %d", n)
	}
	if n := backend.FlagListenerCount(); n != 0 {
		t.Errorf("Expected no flag change listeners, got %d", n)
	}
	if n := backend.CloseCount(); n != 1 {
		t.Errorf("Expected backend closed once, got %d", n)
	}

	backend.SetStatus(interfaces.DataSourceStateInterrupted, "")
	backend.ChangeFlag("my-flag")
	expectNoEvent(t, provider)

	t.Run("is idempotent", func(t *testing.T) {
		provider.Shutdown()
		if n := backend.CloseCount(); n != 1 {
			t.Errorf("Expected backend closed once, got %d", n)
		}
	})
}

func TestShutdown_WithoutInit(t *testing.T) {
	backend := testutil.NewMockBackend()
	provider, _ := newTestProvider(t, backend)

	provider.Shutdown()

	if n := backend.CloseCount(); n != 1 {
		t.Errorf("Expected backend closed once, got %d", n)
	}
}

func TestShutdown_DropsLateEvents(t *testing.T) {
	backend := testutil.NewReadyBackend()
	provider, _ := newTestProvider(t, backend)
	if err := runInit(t, provider); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	provider.Shutdown()

	// a notification already in flight when Shutdown ran
	for i := 0; i < 50; i++ {
		provider.onFlagChange(interfaces.FlagChangeEvent{Key: "late-flag"})
		provider.onStatus(interfaces.DataSourceStatus{State: interfaces.DataSourceStateInterrupted})
	}

	if n := len(provider.events); n != 0 {
		t.Errorf("Expected no events after shutdown, got %d", n)
	}
}

func TestShutdown_UnblocksPendingEvents(t *testing.T) {
	backend := testutil.NewReadyBackend()
	provider, _ := newTestProvider(t, backend)
	if err := runInit(t, provider); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i <= eventBufferSize; i++ {
			backend.ChangeFlag("flag")
		}
	}()

	if !testutil.WaitFor(eventTimeout, func() bool { return len(provider.events) == eventBufferSize }) {
		t.Fatal("Expected the event buffer to fill")
	}

	provider.Shutdown()

	select {
	case <-published:
	case <-time.After(eventTimeout):
		t.Fatal("Publisher still blocked after Shutdown")
	}
}

func TestProvider_WithOpenFeatureClient(t *testing.T) {
	backend := fallthroughBackend(ldvalue.Bool(true), 0)
	provider, _ := newTestProvider(t, backend)

	if err := openfeature.SetProviderAndWait(provider); err != nil {
		t.Fatalf("Failed to set provider: %v", err)
	}
	t.Cleanup(openfeature.Shutdown)

	client := openfeature.NewClient("launchdarkly-test")
	details, err := client.BooleanValueDetails(
		context.Background(),
		"fallthrough-boolean",
		false,
		openfeature.NewEvaluationContext("user-key", map[string]interface{}{"plan": "pro"}),
	)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !details.Value {
		t.Error("Expected true")
	}
	if details.Variant != "0" {
		t.Errorf("Expected variant '0', got '%s'", details.Variant)
	}

	evaluations := backend.Evaluations()
	if len(evaluations) != 1 {
		t.Fatalf("Expected 1 evaluation, got %d", len(evaluations))
	}
	if plan := evaluations[0].Context.GetValue("plan"); plan.StringValue() != "pro" {
		t.Errorf("Expected attribute plan=pro, got %v", plan)
	}
}
