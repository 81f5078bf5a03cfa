package launchdarkly

import (
	"sync"

	"github.com/google/uuid"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/launchdarkly/go-server-sdk/v7/interfaces"

	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/pubsub"
)

// ListenerHandle identifies a registered backend listener
type ListenerHandle = uuid.UUID

// Backend is the part of the LaunchDarkly client the provider depends on.
//
// Listeners may be invoked on any goroutine. A listener registered before a
// status change is guaranteed to be called for it.
type Backend interface {
	EvaluateWithReason(flagKey string, evalCtx ldcontext.Context, defaultValue ldvalue.Value) ldreason.EvaluationDetail
	Initialized() bool
	DataSourceStatus() interfaces.DataSourceStatus
	AddStatusListener(fn func(interfaces.DataSourceStatus)) ListenerHandle
	RemoveStatusListener(h ListenerHandle)
	AddFlagChangeListener(fn func(interfaces.FlagChangeEvent)) ListenerHandle
	RemoveFlagChangeListener(h ListenerHandle)
	Close() error
}

// ldClient is the subset of *ld.LDClient used by ldBackend
type ldClient interface {
	JSONVariationDetail(key string, context ldcontext.Context, defaultVal ldvalue.Value) (ldvalue.Value, ldreason.EvaluationDetail, error)
	Initialized() bool
	GetDataSourceStatusProvider() interfaces.DataSourceStatusProvider
	GetFlagTracker() interfaces.FlagTracker
	Close() error
}

// ldBackend adapts the LaunchDarkly client's channel based notifications to
// Backend. One goroutine per stream forwards values into a pubsub.Subject.
type ldBackend struct {
	client ldClient

	statusSource <-chan interfaces.DataSourceStatus
	flagSource   <-chan interfaces.FlagChangeEvent

	statuses *pubsub.Subject[interfaces.DataSourceStatus]
	flags    *pubsub.Subject[interfaces.FlagChangeEvent]

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Compile-time interface conformance check
var _ Backend = (*ldBackend)(nil)

func newLDBackend(client ldClient) *ldBackend {
	b := &ldBackend{
		client:       client,
		statusSource: client.GetDataSourceStatusProvider().AddStatusListener(),
		flagSource:   client.GetFlagTracker().AddFlagChangeListener(),
		statuses:     pubsub.NewSubject[interfaces.DataSourceStatus](),
		flags:        pubsub.NewSubject[interfaces.FlagChangeEvent](),
		done:         make(chan struct{}),
	}

	b.wg.Add(2)
	go forward(b.statusSource, b.statuses, b.done, &b.wg)
	go forward(b.flagSource, b.flags, b.done, &b.wg)

	return b
}

// forward publishes every value received on src until src is closed or done fires
func forward[T any](src <-chan T, dst *pubsub.Subject[T], done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case v, ok := <-src:
			if !ok {
				return
			}
			dst.Publish(v)
		case <-done:
			return
		}
	}
}

func (b *ldBackend) EvaluateWithReason(flagKey string, evalCtx ldcontext.Context, defaultValue ldvalue.Value) ldreason.EvaluationDetail {
	// the error is also reported through the detail's reason
	_, detail, _ := b.client.JSONVariationDetail(flagKey, evalCtx, defaultValue)
	return detail
}

func (b *ldBackend) Initialized() bool {
	return b.client.Initialized()
}

func (b *ldBackend) DataSourceStatus() interfaces.DataSourceStatus {
	return b.client.GetDataSourceStatusProvider().GetStatus()
}

func (b *ldBackend) AddStatusListener(fn func(interfaces.DataSourceStatus)) ListenerHandle {
	return b.statuses.Subscribe(fn)
}

func (b *ldBackend) RemoveStatusListener(h ListenerHandle) {
	b.statuses.Unsubscribe(h)
}

func (b *ldBackend) AddFlagChangeListener(fn func(interfaces.FlagChangeEvent)) ListenerHandle {
	return b.flags.Subscribe(fn)
}

func (b *ldBackend) RemoveFlagChangeListener(h ListenerHandle) {
	b.flags.Unsubscribe(h)
}

// Close stops forwarding and closes the client. Only the first call has any effect.
func (b *ldBackend) Close() error {
	b.closeOnce.Do(func() {
		b.client.GetDataSourceStatusProvider().RemoveStatusListener(b.statusSource)
		b.client.GetFlagTracker().RemoveFlagChangeListener(b.flagSource)
		close(b.done)
		b.wg.Wait()
		b.closeErr = b.client.Close()
	})
	return b.closeErr
}
