// Package testutil holds test doubles shared by the provider tests.
package testutil

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/launchdarkly/go-server-sdk/v7/interfaces"

	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/pubsub"
)

// MockBackend is a scriptable stand-in for the LaunchDarkly client.
// It is safe for concurrent use.
type MockBackend struct {
	// EvaluateFunc answers evaluations. When nil every flag is reported as
	// not found and the default value is returned.
	EvaluateFunc func(flagKey string, evalCtx ldcontext.Context, defaultValue ldvalue.Value) ldreason.EvaluationDetail

	mu          sync.Mutex
	initialized bool
	status      interfaces.DataSourceStatus
	closeCount  int
	evaluations []Evaluation

	statusSubject *pubsub.Subject[interfaces.DataSourceStatus]
	flagSubject   *pubsub.Subject[interfaces.FlagChangeEvent]
}

// Evaluation records one call to EvaluateWithReason
type Evaluation struct {
	FlagKey      string
	Context      ldcontext.Context
	DefaultValue ldvalue.Value
}

// NewMockBackend creates a backend in the INITIALIZING state
func NewMockBackend() *MockBackend {
	return &MockBackend{
		status: interfaces.DataSourceStatus{
			State:      interfaces.DataSourceStateInitializing,
			StateSince: time.Now(),
		},
		statusSubject: pubsub.NewSubject[interfaces.DataSourceStatus](),
		flagSubject:   pubsub.NewSubject[interfaces.FlagChangeEvent](),
	}
}

// NewReadyBackend creates a backend that is already initialized and VALID
func NewReadyBackend() *MockBackend {
	m := NewMockBackend()
	m.initialized = true
	m.status.State = interfaces.DataSourceStateValid
	return m
}

func (m *MockBackend) EvaluateWithReason(flagKey string, evalCtx ldcontext.Context, defaultValue ldvalue.Value) ldreason.EvaluationDetail {
	m.mu.Lock()
	m.evaluations = append(m.evaluations, Evaluation{FlagKey: flagKey, Context: evalCtx, DefaultValue: defaultValue})
	m.mu.Unlock()

	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(flagKey, evalCtx, defaultValue)
	}
	return ldreason.NewEvaluationDetailForError(ldreason.EvalErrorFlagNotFound, defaultValue)
}

func (m *MockBackend) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

func (m *MockBackend) DataSourceStatus() interfaces.DataSourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockBackend) AddStatusListener(fn func(interfaces.DataSourceStatus)) uuid.UUID {
	return m.statusSubject.Subscribe(fn)
}

func (m *MockBackend) RemoveStatusListener(id uuid.UUID) {
	m.statusSubject.Unsubscribe(id)
}

func (m *MockBackend) AddFlagChangeListener(fn func(interfaces.FlagChangeEvent)) uuid.UUID {
	return m.flagSubject.Subscribe(fn)
}

func (m *MockBackend) RemoveFlagChangeListener(id uuid.UUID) {
	m.flagSubject.Unsubscribe(id)
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return nil
}

// SetInitialized sets the value reported by Initialized
func (m *MockBackend) SetInitialized(initialized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = initialized
}

// SetStatus stores a new data source status and publishes it to the status
// listeners. Like the LaunchDarkly client, reaching VALID marks the backend
// initialized. errMessage becomes LastError.Message when non-empty.
func (m *MockBackend) SetStatus(state interfaces.DataSourceState, errMessage string) {
	status := interfaces.DataSourceStatus{State: state, StateSince: time.Now()}
	if errMessage != "" {
		status.LastError = interfaces.DataSourceErrorInfo{
			Kind:    interfaces.DataSourceErrorKindUnknown,
			Message: errMessage,
			Time:    status.StateSince,
		}
	}

	m.mu.Lock()
	m.status = status
	if state == interfaces.DataSourceStateValid {
		m.initialized = true
	}
	m.mu.Unlock()

	m.statusSubject.Publish(status)
}

// ChangeFlag notifies the flag change listeners that key changed
func (m *MockBackend) ChangeFlag(key string) {
	m.flagSubject.Publish(interfaces.FlagChangeEvent{Key: key})
}

func (m *MockBackend) StatusListenerCount() int {
	return m.statusSubject.Len()
}

func (m *MockBackend) FlagListenerCount() int {
	return m.flagSubject.Len()
}

func (m *MockBackend) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// Evaluations returns the evaluations recorded so far
func (m *MockBackend) Evaluations() []Evaluation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Evaluation, len(m.evaluations))
	copy(out, m.evaluations)
	return out
}

// WaitFor polls cond until it holds or timeout elapses
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// CapturedRecord is a log record kept by CapturingHandler
type CapturedRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// CapturingHandler is a slog.Handler that keeps every record it handles.
// Handlers derived with WithAttrs share the same record store.
type CapturingHandler struct {
	store *recordStore
	attrs []slog.Attr
}

type recordStore struct {
	mu      sync.Mutex
	records []CapturedRecord
}

// NewCapturingHandler creates an empty CapturingHandler
func NewCapturingHandler() *CapturingHandler {
	return &CapturingHandler{store: &recordStore{}}
}

// NewCapturingLogger returns a logger backed by a new CapturingHandler
func NewCapturingLogger() (*slog.Logger, *CapturingHandler) {
	h := NewCapturingHandler()
	return slog.New(h), h
}

func (h *CapturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *CapturingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := CapturedRecord{Level: r.Level, Message: r.Message, Attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[a.Key] = a.Value.Any()
		return true
	})

	h.store.mu.Lock()
	h.store.records = append(h.store.records, rec)
	h.store.mu.Unlock()
	return nil
}

func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CapturingHandler{store: h.store, attrs: merged}
}

// WithGroup is not needed by the provider; groups are flattened.
func (h *CapturingHandler) WithGroup(string) slog.Handler { return h }

// Records returns a copy of the captured records
func (h *CapturingHandler) Records() []CapturedRecord {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	out := make([]CapturedRecord, len(h.store.records))
	copy(out, h.store.records)
	return out
}

// RecordsAt returns the captured records at exactly level
func (h *CapturingHandler) RecordsAt(level slog.Level) []CapturedRecord {
	var out []CapturedRecord
	for _, r := range h.Records() {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}
