package effect

import (
	"context"
	"log/slog"
	"sync"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region hooks
// Hooks is the side-effect boundary. A runtime overrides the methods it cares about,
// typically by embedding NopHooks.
type Hooks interface {
	FreezeMetricsAndTrust(ctx context.Context) error
	SetAllKiToMin(ctx context.Context) error
	OversampleFailingDimensions(ctx context.Context, policy verify.VerifyPolicy) error
	ReduceTauForWorstDimension(ctx context.Context, tau state.TauBudget, witnesses verify.WitnessStatus) (state.TauBudget, error)
	RecenterAndRetuneLambdaMu(ctx context.Context) error
	ReallocateTauForProductiveAdaptation(ctx context.Context, tau state.TauBudget) (state.TauBudget, error)
	ApplySimplifyActions(ctx context.Context, target string) error
	ResetCounters(ctx context.Context, names []string) error
}

// ExitPolicy holds the checks a runtime may use to leave MINIMAL_INFO or REINFLATE.
// The transition function never consults it.
type ExitPolicy interface {
	WitnessesAboveMarginsFor(requiredSteps int, epsilonH float64) bool
	PassWithNonIncreasingJCost(requiredSteps int) bool
}

// #endregion hooks

// #region nop-hooks
// NopHooks does nothing and returns budgets unchanged.
type NopHooks struct{}

var (
	_ Hooks      = NopHooks{}
	_ ExitPolicy = NopHooks{}
)

func (NopHooks) FreezeMetricsAndTrust(context.Context) error { return nil }
func (NopHooks) SetAllKiToMin(context.Context) error         { return nil }
func (NopHooks) OversampleFailingDimensions(context.Context, verify.VerifyPolicy) error {
	return nil
}
func (NopHooks) ReduceTauForWorstDimension(_ context.Context, tau state.TauBudget, _ verify.WitnessStatus) (state.TauBudget, error) {
	return tau, nil
}
func (NopHooks) RecenterAndRetuneLambdaMu(context.Context) error { return nil }
func (NopHooks) ReallocateTauForProductiveAdaptation(_ context.Context, tau state.TauBudget) (state.TauBudget, error) {
	return tau, nil
}
func (NopHooks) ApplySimplifyActions(context.Context, string) error { return nil }
func (NopHooks) ResetCounters(context.Context, []string) error      { return nil }

func (NopHooks) WitnessesAboveMarginsFor(int, float64) bool { return false }
func (NopHooks) PassWithNonIncreasingJCost(int) bool        { return false }

// #endregion nop-hooks

// #region recorder
// Recorder forwards to Next (NopHooks when nil) and remembers the kind of every hook
// that ran, in order. Safe for concurrent use.
type Recorder struct {
	Next Hooks

	mu    sync.Mutex
	kinds []Kind
}

func (r *Recorder) next() Hooks {
	if r.Next == nil {
		return NopHooks{}
	}
	return r.Next
}

func (r *Recorder) note(k Kind) {
	r.mu.Lock()
	r.kinds = append(r.kinds, k)
	r.mu.Unlock()
}

// Applied returns a copy of the recorded kinds.
func (r *Recorder) Applied() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Kind(nil), r.kinds...)
}

// Reset clears the recorded kinds.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.kinds = nil
	r.mu.Unlock()
}

func (r *Recorder) FreezeMetricsAndTrust(ctx context.Context) error {
	r.note(KindFreezeMetricsAndTrust)
	return r.next().FreezeMetricsAndTrust(ctx)
}

func (r *Recorder) SetAllKiToMin(ctx context.Context) error {
	r.note(KindSetAllKiToMin)
	return r.next().SetAllKiToMin(ctx)
}

func (r *Recorder) OversampleFailingDimensions(ctx context.Context, policy verify.VerifyPolicy) error {
	r.note(KindOversampleFailingDimensions)
	return r.next().OversampleFailingDimensions(ctx, policy)
}

func (r *Recorder) ReduceTauForWorstDimension(ctx context.Context, tau state.TauBudget, w verify.WitnessStatus) (state.TauBudget, error) {
	r.note(KindReduceTauForWorstDimension)
	return r.next().ReduceTauForWorstDimension(ctx, tau, w)
}

func (r *Recorder) RecenterAndRetuneLambdaMu(ctx context.Context) error {
	r.note(KindRecenterAndRetuneLambdaMu)
	return r.next().RecenterAndRetuneLambdaMu(ctx)
}

func (r *Recorder) ReallocateTauForProductiveAdaptation(ctx context.Context, tau state.TauBudget) (state.TauBudget, error) {
	r.note(KindReallocateTauForProductiveAdaptation)
	return r.next().ReallocateTauForProductiveAdaptation(ctx, tau)
}

func (r *Recorder) ApplySimplifyActions(ctx context.Context, target string) error {
	r.note(KindApplySimplifyActions)
	return r.next().ApplySimplifyActions(ctx, target)
}

func (r *Recorder) ResetCounters(ctx context.Context, names []string) error {
	r.note(KindResetCounters)
	return r.next().ResetCounters(ctx, names)
}

// #endregion recorder

// #region logging-hooks
// LoggingHooks logs every dispatched hook at debug level before forwarding to Next.
type LoggingHooks struct {
	Next   Hooks
	Logger *slog.Logger
}

func (l LoggingHooks) next() Hooks {
	if l.Next == nil {
		return NopHooks{}
	}
	return l.Next
}

func (l LoggingHooks) log(ctx context.Context, k Kind, args ...any) {
	if l.Logger == nil {
		return
	}
	l.Logger.DebugContext(ctx, "effect", append([]any{"kind", string(k)}, args...)...)
}

func (l LoggingHooks) FreezeMetricsAndTrust(ctx context.Context) error {
	l.log(ctx, KindFreezeMetricsAndTrust)
	return l.next().FreezeMetricsAndTrust(ctx)
}

func (l LoggingHooks) SetAllKiToMin(ctx context.Context) error {
	l.log(ctx, KindSetAllKiToMin)
	return l.next().SetAllKiToMin(ctx)
}

func (l LoggingHooks) OversampleFailingDimensions(ctx context.Context, policy verify.VerifyPolicy) error {
	l.log(ctx, KindOversampleFailingDimensions, "policy", policy.Name)
	return l.next().OversampleFailingDimensions(ctx, policy)
}

func (l LoggingHooks) ReduceTauForWorstDimension(ctx context.Context, tau state.TauBudget, w verify.WitnessStatus) (state.TauBudget, error) {
	l.log(ctx, KindReduceTauForWorstDimension, "tau_h", tau.H, "tau_v", tau.V, "tau_d", tau.D)
	return l.next().ReduceTauForWorstDimension(ctx, tau, w)
}

func (l LoggingHooks) RecenterAndRetuneLambdaMu(ctx context.Context) error {
	l.log(ctx, KindRecenterAndRetuneLambdaMu)
	return l.next().RecenterAndRetuneLambdaMu(ctx)
}

func (l LoggingHooks) ReallocateTauForProductiveAdaptation(ctx context.Context, tau state.TauBudget) (state.TauBudget, error) {
	l.log(ctx, KindReallocateTauForProductiveAdaptation, "tau_h", tau.H, "tau_v", tau.V, "tau_d", tau.D)
	return l.next().ReallocateTauForProductiveAdaptation(ctx, tau)
}

func (l LoggingHooks) ApplySimplifyActions(ctx context.Context, target string) error {
	l.log(ctx, KindApplySimplifyActions, "target", target)
	return l.next().ApplySimplifyActions(ctx, target)
}

func (l LoggingHooks) ResetCounters(ctx context.Context, names []string) error {
	l.log(ctx, KindResetCounters, "names", names)
	return l.next().ResetCounters(ctx, names)
}

// #endregion logging-hooks
