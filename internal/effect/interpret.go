package effect

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region interpret
// Interpret applies effects in order through hooks and returns the budget as modified by
// the tau-carrying hooks. It stops at the first hook error. Interpret has no policy of
// its own: each effect is dispatched to its hook and nothing else.
func Interpret(ctx context.Context, effects []Effect, hooks Hooks, tau state.TauBudget) (state.TauBudget, error) {
	for _, e := range effects {
		var err error
		switch e := e.(type) {
		case FreezeMetricsAndTrust:
			err = hooks.FreezeMetricsAndTrust(ctx)
		case SetAllKiToMin:
			err = hooks.SetAllKiToMin(ctx)
		case OversampleFailingDimensions:
			err = hooks.OversampleFailingDimensions(ctx, e.Policy)
		case ReduceTauForWorstDimension:
			tau, err = keepOnError(tau)(hooks.ReduceTauForWorstDimension(ctx, tau, e.Witnesses))
		case RecenterAndRetuneLambdaMu:
			err = hooks.RecenterAndRetuneLambdaMu(ctx)
		case ReallocateTauForProductiveAdaptation:
			tau, err = keepOnError(tau)(hooks.ReallocateTauForProductiveAdaptation(ctx, tau))
		case ApplySimplifyActions:
			err = hooks.ApplySimplifyActions(ctx, e.Target)
		case ResetCounters:
			err = hooks.ResetCounters(ctx, e.Names)
		default:
			panic(fmt.Sprintf("effect: unhandled variant %T", e))
		}
		if err != nil {
			return tau, fmt.Errorf("apply %s: %w", e.Kind(), err)
		}
	}
	return tau, nil
}

// keepOnError returns a function that yields next unless err is set, in which case the
// budget before the failing hook is kept.
func keepOnError(prev state.TauBudget) func(state.TauBudget, error) (state.TauBudget, error) {
	return func(next state.TauBudget, err error) (state.TauBudget, error) {
		if err != nil {
			return prev, err
		}
		return next, nil
	}
}

// #endregion interpret
