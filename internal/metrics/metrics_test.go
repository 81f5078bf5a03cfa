package metrics

import (
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}

	m.RecordEvent("PROVIDER_READY")
	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(fams) == 0 {
		t.Fatal("expected at least one metric family after increment")
	}
}

func TestNew_NilRegisterer(t *testing.T) {
	m, err := New(nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if m != nil {
		t.Fatal("expected nil Metrics for nil registerer")
	}

	// nil receivers must be safe
	m.RecordEvaluation("boolean", "ERROR", "GENERAL")
	m.RecordEvent("PROVIDER_READY")
	m.RecordDiagnostic(slog.LevelWarn)
	m.SetDataSourceState("VALID")
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New failed: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected error registering the same collectors twice")
	}
}

func TestRecordEvaluation(t *testing.T) {
	m, _ := New(prometheus.NewRegistry())

	m.RecordEvaluation("boolean", "FALLTHROUGH", "")
	m.RecordEvaluation("boolean", "FALLTHROUGH", "")
	m.RecordEvaluation("string", "ERROR", "TYPE_MISMATCH")

	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("boolean", "FALLTHROUGH", "")); got != 2 {
		t.Fatalf("expected 2 boolean evaluations, got %v", got)
	}
	if got := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("string", "ERROR", "TYPE_MISMATCH")); got != 1 {
		t.Fatalf("expected 1 type mismatch, got %v", got)
	}
}

func TestRecordDiagnostic(t *testing.T) {
	m, _ := New(prometheus.NewRegistry())

	m.RecordDiagnostic(slog.LevelWarn)
	m.RecordDiagnostic(slog.LevelError)
	m.RecordDiagnostic(slog.LevelError)

	if got := testutil.ToFloat64(m.DiagnosticsTotal.WithLabelValues("warn")); got != 1 {
		t.Fatalf("expected 1 warning, got %v", got)
	}
	if got := testutil.ToFloat64(m.DiagnosticsTotal.WithLabelValues("error")); got != 2 {
		t.Fatalf("expected 2 errors, got %v", got)
	}
}

func TestSetDataSourceState(t *testing.T) {
	m, _ := New(prometheus.NewRegistry())

	m.SetDataSourceState("VALID")
	m.SetDataSourceState("INTERRUPTED")

	if got := testutil.ToFloat64(m.DataSourceState.WithLabelValues("INTERRUPTED")); got != 1 {
		t.Fatalf("expected INTERRUPTED to be active, got %v", got)
	}
	if got := testutil.CollectAndCount(m.DataSourceState); got != 1 {
		t.Fatalf("expected a single active state series, got %d", got)
	}
}
