package launchdarkly

import (
	"context"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/open-feature/go-sdk/openfeature"

	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/contextconv"
	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/details"
	"github.com/ldopenfeature/openfeature-provider/go/launchdarkly/internal/metrics"
)

// ProviderName is reported in the provider metadata
const ProviderName = "launchdarkly-openfeature-server"

const eventBufferSize = 64

type flagType string

const (
	flagTypeBoolean flagType = "boolean"
	flagTypeString  flagType = "string"
	flagTypeInt     flagType = "int"
	flagTypeFloat   flagType = "float"
	flagTypeObject  flagType = "object"
)

// accepts reports whether v may be returned for a flag of type t.
// Booleans and numbers are disjoint.
func (t flagType) accepts(v ldvalue.Value) bool {
	switch t {
	case flagTypeBoolean:
		return v.Type() == ldvalue.BoolType
	case flagTypeString:
		return v.Type() == ldvalue.StringType
	case flagTypeInt:
		return v.Type() == ldvalue.NumberType && fitsInt64(v.Float64Value())
	case flagTypeFloat:
		return v.Type() == ldvalue.NumberType
	case flagTypeObject:
		return v.Type() == ldvalue.ArrayType || v.Type() == ldvalue.ObjectType
	default:
		return false
	}
}

// fitsInt64 reports whether f converts to int64 without overflow. NaN never does.
func fitsInt64(f float64) bool {
	return f >= math.MinInt64 && f < math.MaxInt64
}

// Provider implements the OpenFeature FeatureProvider interface on top of a
// LaunchDarkly client
type Provider struct {
	backend     Backend
	logger      *slog.Logger
	metrics     *metrics.Metrics
	initTimeout time.Duration

	events chan openfeature.Event
	done   chan struct{}

	mu           sync.Mutex
	listening    bool
	statusHandle ListenerHandle
	flagHandle   ListenerHandle
	closed       bool
}

// Compile-time interface conformance checks
var (
	_ openfeature.FeatureProvider = (*Provider)(nil)
	_ openfeature.StateHandler    = (*Provider)(nil)
	_ openfeature.EventHandler    = (*Provider)(nil)
)

func newProvider(backend Backend, logger *slog.Logger, m *metrics.Metrics, initTimeout time.Duration) *Provider {
	// Create a default logger if none provided
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	return &Provider{
		backend:     backend,
		logger:      logger,
		metrics:     m,
		initTimeout: initTimeout,
		events:      make(chan openfeature.Event, eventBufferSize),
		done:        make(chan struct{}),
	}
}

// Metadata returns the provider metadata
func (p *Provider) Metadata() openfeature.Metadata {
	return openfeature.Metadata{
		Name: ProviderName,
	}
}

// Hooks returns provider hooks (none for this implementation)
func (p *Provider) Hooks() []openfeature.Hook {
	return []openfeature.Hook{}
}

// BooleanEvaluation evaluates a boolean flag
func (p *Provider) BooleanEvaluation(
	ctx context.Context,
	flag string,
	defaultValue bool,
	evalCtx openfeature.FlattenedContext,
) openfeature.BoolResolutionDetail {
	result := p.resolve(flagTypeBoolean, flag, defaultValue, evalCtx)

	value, ok := result.Value.(bool)
	if !ok {
		value = defaultValue
	}
	return openfeature.BoolResolutionDetail{
		Value:                    value,
		ProviderResolutionDetail: result.ProviderResolutionDetail,
	}
}

// StringEvaluation evaluates a string flag
func (p *Provider) StringEvaluation(
	ctx context.Context,
	flag string,
	defaultValue string,
	evalCtx openfeature.FlattenedContext,
) openfeature.StringResolutionDetail {
	result := p.resolve(flagTypeString, flag, defaultValue, evalCtx)

	value, ok := result.Value.(string)
	if !ok {
		value = defaultValue
	}
	return openfeature.StringResolutionDetail{
		Value:                    value,
		ProviderResolutionDetail: result.ProviderResolutionDetail,
	}
}

// FloatEvaluation evaluates a float flag. Integer values are promoted.
func (p *Provider) FloatEvaluation(
	ctx context.Context,
	flag string,
	defaultValue float64,
	evalCtx openfeature.FlattenedContext,
) openfeature.FloatResolutionDetail {
	result := p.resolve(flagTypeFloat, flag, defaultValue, evalCtx)

	value, ok := result.Value.(float64)
	if !ok {
		value = defaultValue
	}
	return openfeature.FloatResolutionDetail{
		Value:                    value,
		ProviderResolutionDetail: result.ProviderResolutionDetail,
	}
}

// IntEvaluation evaluates an int flag. Float values are truncated toward zero;
// values outside the int64 range are a type mismatch.
func (p *Provider) IntEvaluation(
	ctx context.Context,
	flag string,
	defaultValue int64,
	evalCtx openfeature.FlattenedContext,
) openfeature.IntResolutionDetail {
	result := p.resolve(flagTypeInt, flag, defaultValue, evalCtx)

	var value int64
	switch v := result.Value.(type) {
	case int64:
		value = v
	case float64:
		value = int64(v)
	default:
		value = defaultValue
	}
	return openfeature.IntResolutionDetail{
		Value:                    value,
		ProviderResolutionDetail: result.ProviderResolutionDetail,
	}
}

// ObjectEvaluation evaluates a flag whose value is a JSON object or array
func (p *Provider) ObjectEvaluation(
	ctx context.Context,
	flag string,
	defaultValue interface{},
	evalCtx openfeature.FlattenedContext,
) openfeature.InterfaceResolutionDetail {
	return p.resolve(flagTypeObject, flag, defaultValue, evalCtx)
}

// resolve runs one evaluation. On a type mismatch or a missing context the
// caller's default is returned untouched.
func (p *Provider) resolve(
	t flagType,
	flag string,
	defaultValue interface{},
	evalCtx openfeature.FlattenedContext,
) openfeature.InterfaceResolutionDetail {
	if evalCtx == nil {
		return p.finish(t, flag, errorDetail(defaultValue, openfeature.NewTargetingKeyMissingResolutionError("")))
	}

	ldCtx, diags := contextconv.ToLDContext(evalCtx)
	p.logDiagnostics(flag, diags)

	result := p.backend.EvaluateWithReason(flag, ldCtx, ldvalue.CopyArbitraryValue(defaultValue))

	if !t.accepts(result.Value) {
		return p.finish(t, flag, errorDetail(defaultValue, openfeature.NewTypeMismatchResolutionError("")))
	}

	detail := details.ToResolutionDetail(result)
	if result.Reason.GetKind() == ldreason.EvalReasonError {
		detail.Value = defaultValue
	}
	return p.finish(t, flag, detail)
}

func errorDetail(defaultValue interface{}, resolutionError openfeature.ResolutionError) openfeature.InterfaceResolutionDetail {
	return openfeature.InterfaceResolutionDetail{
		Value: defaultValue,
		ProviderResolutionDetail: openfeature.ProviderResolutionDetail{
			Reason:          openfeature.ErrorReason,
			ResolutionError: resolutionError,
		},
	}
}

// finish records and logs a completed evaluation
func (p *Provider) finish(t flagType, flag string, detail openfeature.InterfaceResolutionDetail) openfeature.InterfaceResolutionDetail {
	var errorCode string
	if detail.ResolutionError != (openfeature.ResolutionError{}) {
		errorCode = string(detail.ResolutionDetail().ErrorCode)
		p.logger.Warn("Flag evaluation returned an error",
			"flag", flag,
			"type", string(t),
			"error_code", errorCode,
		)
	}
	p.metrics.RecordEvaluation(string(t), string(detail.Reason), errorCode)
	return detail
}

func (p *Provider) logDiagnostics(flag string, diags []contextconv.Diagnostic) {
	for _, d := range diags {
		p.logger.Log(context.Background(), d.Level, d.Message, "flag", flag)
		p.metrics.RecordDiagnostic(d.Level)
	}
}
