package effect

import (
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region kind
// Kind names an effect variant. Kinds are stable and appear in provenance rows.
type Kind string

const (
	KindFreezeMetricsAndTrust                Kind = "freeze_metrics_and_trust"
	KindSetAllKiToMin                        Kind = "set_all_ki_to_min"
	KindOversampleFailingDimensions          Kind = "oversample_failing_dimensions"
	KindReduceTauForWorstDimension           Kind = "reduce_tau_for_worst_dimension"
	KindRecenterAndRetuneLambdaMu            Kind = "recenter_and_retune_lambda_mu"
	KindReallocateTauForProductiveAdaptation Kind = "reallocate_tau_for_productive_adaptation"
	KindApplySimplifyActions                 Kind = "apply_simplify_actions"
	KindResetCounters                        Kind = "reset_counters"
)

// #endregion kind

// #region effect
// Effect is an intent emitted by the transition function. The set of variants is closed:
// only types in this package implement it, and Interpret matches every one of them.
type Effect interface {
	Kind() Kind
	sealed()
}

// FreezeMetricsAndTrust stops trusting the headline score while in LOCKDOWN.
type FreezeMetricsAndTrust struct{}

// SetAllKiToMin drops every adaptation gain to its minimum.
type SetAllKiToMin struct{}

// OversampleFailingDimensions asks for a richer window on the dimensions that degenerated.
type OversampleFailingDimensions struct {
	Policy verify.VerifyPolicy
}

// ReduceTauForWorstDimension trims the budget of the least healthy dimension.
type ReduceTauForWorstDimension struct {
	Witnesses verify.WitnessStatus
}

// RecenterAndRetuneLambdaMu re-centers the optimizer after a drift window.
type RecenterAndRetuneLambdaMu struct{}

// ReallocateTauForProductiveAdaptation moves budget toward dimensions still adapting.
type ReallocateTauForProductiveAdaptation struct{}

// ApplySimplifyActions simplifies the model against a target, e.g. "witness_health" or "J_cost".
type ApplySimplifyActions struct {
	Target string
}

// ResetCounters tells the runtime which counter groups the transition just cleared.
type ResetCounters struct {
	Names []string
}

// Simplify targets emitted by the transition rules.
const (
	TargetWitnessHealth = "witness_health"
	TargetJCost         = "J_cost"
)

// Counter group names carried by ResetCounters.
const (
	CounterLockdown  = "lockdown"
	CounterDrift     = "drift"
	CounterHandshake = "handshake"
)

func (FreezeMetricsAndTrust) Kind() Kind                { return KindFreezeMetricsAndTrust }
func (SetAllKiToMin) Kind() Kind                        { return KindSetAllKiToMin }
func (OversampleFailingDimensions) Kind() Kind          { return KindOversampleFailingDimensions }
func (ReduceTauForWorstDimension) Kind() Kind           { return KindReduceTauForWorstDimension }
func (RecenterAndRetuneLambdaMu) Kind() Kind            { return KindRecenterAndRetuneLambdaMu }
func (ReallocateTauForProductiveAdaptation) Kind() Kind { return KindReallocateTauForProductiveAdaptation }
func (ApplySimplifyActions) Kind() Kind                 { return KindApplySimplifyActions }
func (ResetCounters) Kind() Kind                        { return KindResetCounters }

func (FreezeMetricsAndTrust) sealed()                {}
func (SetAllKiToMin) sealed()                        {}
func (OversampleFailingDimensions) sealed()          {}
func (ReduceTauForWorstDimension) sealed()           {}
func (RecenterAndRetuneLambdaMu) sealed()            {}
func (ReallocateTauForProductiveAdaptation) sealed() {}
func (ApplySimplifyActions) sealed()                 {}
func (ResetCounters) sealed()                        {}

// Kinds lists the kinds of effects in order.
func Kinds(effects []Effect) []Kind {
	out := make([]Kind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind()
	}
	return out
}

// #endregion effect
