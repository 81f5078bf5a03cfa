// Package contextconv converts OpenFeature evaluation contexts into
// LaunchDarkly contexts.
//
// Conversion never fails. A context is always produced, but it may be invalid
// (its Err method returns non-nil). Every input problem that is repaired or
// dropped along the way is reported as a Diagnostic instead of being logged,
// so callers decide where the messages go.
package contextconv

import (
	"log/slog"
	"reflect"
	"sort"

	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/open-feature/go-sdk/openfeature"
)

const (
	attrKind              = "kind"
	attrKey               = "key"
	attrTargetingKey      = openfeature.TargetingKey
	attrName              = "name"
	attrAnonymous         = "anonymous"
	attrPrivateAttributes = "privateAttributes"

	multiKind = "multi"
)

// Diagnostic messages
const (
	MsgNonStringKind          = "'kind' was set to a non-string value; defaulting to user"
	MsgBothKeys               = "EvaluationContext contained both a 'key' and 'targetingKey'."
	MsgNonStringKey           = "A non-string 'key' attribute was provided."
	MsgMissingKey             = "The EvaluationContext must contain either a 'targetingKey' or a 'key' and the type must be a string."
	MsgNestedNotMap           = "Top level attributes in a multi-kind context should be maps"
	MsgNestedNonStringTargKey = "A multi-kind entry with a non-string 'targetingKey' was discarded"
	MsgNameNotString          = "The attribute 'name' must be a string"
	MsgAnonymousNotBool       = "The attribute 'anonymous' must be a boolean"
	MsgPrivateNotArray        = "The attribute 'privateAttributes' must be an array"
	MsgPrivateNonString       = "'privateAttributes' must be an array of only string values"
)

// Diagnostic describes one anomaly found while converting a context
type Diagnostic struct {
	Level   slog.Level
	Message string
}

type diagnostics []Diagnostic

func (d *diagnostics) warn(msg string) { *d = append(*d, Diagnostic{Level: slog.LevelWarn, Message: msg}) }
func (d *diagnostics) err(msg string)  { *d = append(*d, Diagnostic{Level: slog.LevelError, Message: msg}) }

// ToLDContext converts a flattened OpenFeature evaluation context.
//
// The explicit targeting key is read from the openfeature.TargetingKey entry.
// When the "kind" attribute is "multi", every other top-level entry is treated
// as one single-kind context keyed by its kind.
func ToLDContext(evalCtx openfeature.FlattenedContext) (ldcontext.Context, []Diagnostic) {
	var diags diagnostics

	kindAttr, hasKind := evalCtx[attrKind]
	if kindAttr == multiKind {
		return buildMulti(evalCtx, &diags), diags
	}

	kind := string(ldcontext.DefaultKind)
	if hasKind && kindAttr != nil {
		if s, ok := kindAttr.(string); ok {
			kind = s
		} else {
			diags.warn(MsgNonStringKind)
		}
	}

	key := resolveTargetingKey(evalCtx[attrTargetingKey], evalCtx[attrKey], &diags)
	return buildSingle(evalCtx, kind, key, &diags), diags
}

// resolveTargetingKey picks the context key from the explicit targeting key
// and the "key" attribute. A non-empty string targeting key wins.
func resolveTargetingKey(targetingKey, key interface{}, diags *diagnostics) string {
	tk, _ := targetingKey.(string)
	keyStr, keyIsString := key.(string)

	if tk != "" && keyIsString {
		diags.warn(MsgBothKeys)
	}

	if key != nil && !keyIsString {
		diags.warn(MsgNonStringKey)
	}

	if tk == "" && keyIsString {
		tk = keyStr
	}

	if tk == "" {
		diags.err(MsgMissingKey)
	}
	return tk
}

func buildMulti(evalCtx openfeature.FlattenedContext, diags *diagnostics) ldcontext.Context {
	builder := ldcontext.NewMultiBuilder()

	for _, kind := range sortedKeys(evalCtx) {
		if kind == attrKind || kind == attrTargetingKey {
			continue
		}

		attributes, ok := asAttributeMap(evalCtx[kind])
		if !ok {
			diags.warn(MsgNestedNotMap)
			continue
		}

		targetingKey := attributes[attrTargetingKey]
		if targetingKey != nil {
			if _, ok := targetingKey.(string); !ok {
				diags.warn(MsgNestedNonStringTargKey)
				continue
			}
		}

		key := resolveTargetingKey(targetingKey, attributes[attrKey], diags)
		builder.Add(buildSingle(attributes, kind, key, diags))
	}

	return builder.Build()
}

func buildSingle(attributes map[string]interface{}, kind string, key string, diags *diagnostics) ldcontext.Context {
	builder := ldcontext.NewBuilder(key)
	builder.Kind(ldcontext.Kind(kind))

	for _, name := range sortedKeys(attributes) {
		value := attributes[name]

		switch name {
		case attrKey, attrTargetingKey, attrKind:
			continue
		case attrName:
			if s, ok := value.(string); ok {
				builder.Name(s)
			} else {
				diags.err(MsgNameNotString)
			}
		case attrAnonymous:
			if b, ok := value.(bool); ok {
				builder.Anonymous(b)
			} else {
				diags.err(MsgAnonymousNotBool)
			}
		case attrPrivateAttributes:
			private, ok := privateAttributes(value, diags)
			if !ok {
				diags.err(MsgPrivateNotArray)
			} else if len(private) > 0 {
				builder.Private(private...)
			}
		default:
			builder.SetValue(name, ldvalue.CopyArbitraryValue(value))
		}
	}

	return builder.Build()
}

// privateAttributes extracts the string entries of a sequence value. Non-string
// entries are dropped and reported once. The second result is false when the
// value is not a sequence at all.
func privateAttributes(value interface{}, diags *diagnostics) ([]string, bool) {
	if refs, ok := value.([]string); ok {
		return refs, true
	}

	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}

	refs := make([]string, 0, rv.Len())
	invalid := false
	for i := 0; i < rv.Len(); i++ {
		if s, ok := rv.Index(i).Interface().(string); ok {
			refs = append(refs, s)
		} else {
			invalid = true
		}
	}
	if invalid {
		diags.err(MsgPrivateNonString)
	}
	return refs, true
}

func asAttributeMap(value interface{}) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, true
	case openfeature.FlattenedContext:
		return v, true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
