// Package details converts LaunchDarkly evaluation details into OpenFeature
// resolution details.
package details

import (
	"strconv"

	"github.com/launchdarkly/go-sdk-common/v3/ldreason"
	"github.com/open-feature/go-sdk/openfeature"
)

// ToResolutionDetail converts an evaluation detail. The value is returned as
// its arbitrary Go representation; callers that need a concrete type convert
// it themselves.
func ToResolutionDetail(detail ldreason.EvaluationDetail) openfeature.InterfaceResolutionDetail {
	kind := detail.Reason.GetKind()

	resolutionError := openfeature.ResolutionError{}
	if kind == ldreason.EvalReasonError {
		resolutionError = errorKindToResolutionError(detail.Reason.GetErrorKind())
	}

	var variant string
	if index, ok := detail.VariationIndex.Get(); ok {
		variant = strconv.Itoa(index)
	}

	return openfeature.InterfaceResolutionDetail{
		Value: detail.Value.AsArbitraryValue(),
		ProviderResolutionDetail: openfeature.ProviderResolutionDetail{
			ResolutionError: resolutionError,
			Reason:          KindToReason(kind),
			Variant:         variant,
		},
	}
}

// KindToReason maps a LaunchDarkly reason kind to an OpenFeature reason.
// FALLTHROUGH, RULE_MATCH, PREREQUISITE_FAILED and unknown kinds are passed
// through unchanged.
func KindToReason(kind ldreason.EvalReasonKind) openfeature.Reason {
	switch kind {
	case ldreason.EvalReasonOff:
		return openfeature.DisabledReason
	case ldreason.EvalReasonTargetMatch:
		return openfeature.TargetingMatchReason
	case ldreason.EvalReasonError:
		return openfeature.ErrorReason
	default:
		return openfeature.Reason(kind)
	}
}

// errorKindToResolutionError maps a LaunchDarkly error kind to an OpenFeature
// resolution error. The message is left empty.
func errorKindToResolutionError(errorKind ldreason.EvalErrorKind) openfeature.ResolutionError {
	switch errorKind {
	case ldreason.EvalErrorClientNotReady:
		return openfeature.NewProviderNotReadyResolutionError("")
	case ldreason.EvalErrorFlagNotFound:
		return openfeature.NewFlagNotFoundResolutionError("")
	case ldreason.EvalErrorMalformedFlag:
		return openfeature.NewParseErrorResolutionError("")
	case ldreason.EvalErrorUserNotSpecified:
		return openfeature.NewTargetingKeyMissingResolutionError("")
	default:
		// includes EXCEPTION and an absent error kind
		return openfeature.NewGeneralResolutionError("")
	}
}
