package transition

import (
	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region transition-function
// Transition is a pure function computing the next controller state and the effects the
// runtime should apply. The rules are checked in order and the first one that matches
// decides:
//
//  1. OOD outside LOCKDOWN enters LOCKDOWN with the budget zeroed.
//  2. LOCKDOWN counts clear windows and exits to OPTIMIZE after cfg.MZ of them.
//  3. HANDSHAKE counts passes and exits to OPTIMIZE after cfg.MH of them.
//  4. A degenerate verdict moves to REINFLATE.
//  5. FAIL outside MINIMAL_INFO counts drift and escalates past cfg.MM.
//  6. FAIL in MINIMAL_INFO holds.
//  7. PASS returns to OPTIMIZE.
//
// The budget is changed only by rules 1 and 5; hook adjustments happen in the interpreter.
func Transition(
	cfg verify.PolicyConfig,
	policy verify.VerifyPolicy,
	ctrl state.ControllerState,
	verdict verify.Verdict,
	witnesses verify.WitnessStatus,
	ood verify.OODStatus,
) Result {
	s, c, tau := ctrl.State, ctrl.Counters, ctrl.Tau
	outOfDistribution := ood.Zt >= cfg.Zcrit

	// 1. lockdown entry
	if s != state.Lockdown && outOfDistribution {
		c.OODClear = 0
		return Result{
			Next:    state.ControllerState{State: state.Lockdown, Tau: tau.Zeroed(), Counters: c},
			Effects: []effect.Effect{effect.FreezeMetricsAndTrust{}, effect.SetAllKiToMin{}},
			Rule:    RuleLockdownEnter,
		}
	}

	// 2. lockdown maintenance and exit
	if s == state.Lockdown {
		if outOfDistribution {
			c.OODClear = 0
			return Result{Next: with(ctrl, c), Rule: RuleLockdownHold}
		}
		c.OODClear++
		if c.OODClear < cfg.MZ {
			return Result{Next: with(ctrl, c), Rule: RuleLockdownClear}
		}
		c.OODClear, c.Drift = 0, 0
		return Result{
			Next:    state.ControllerState{State: state.Optimize, Tau: tau, Counters: c},
			Effects: []effect.Effect{effect.ResetCounters{Names: []string{effect.CounterLockdown, effect.CounterDrift}}},
			Rule:    RuleLockdownExit,
		}
	}

	// 3. handshake
	if s == state.Handshake {
		if verdict != verify.Pass {
			c.HandshakePasses = 0
			return Result{Next: with(ctrl, c), Rule: RuleHandshakeReset}
		}
		c.HandshakePasses++
		if c.HandshakePasses < cfg.MH {
			return Result{Next: with(ctrl, c), Rule: RuleHandshakePass}
		}
		c.HandshakePasses = 0
		return Result{
			Next: state.ControllerState{State: state.Optimize, Tau: tau, Counters: c},
			Rule: RuleHandshakeExit,
		}
	}

	// 4. degenerate witnesses
	if verdict.IsDegenerate() {
		next := ctrl
		next.State = state.Reinflate
		return Result{
			Next: next,
			Effects: []effect.Effect{
				effect.OversampleFailingDimensions{Policy: policy},
				effect.ReduceTauForWorstDimension{Witnesses: witnesses},
				effect.ApplySimplifyActions{Target: effect.TargetWitnessHealth},
			},
			Rule: RuleDegenerate,
		}
	}

	// 5 and 6. drift
	if verdict == verify.Fail {
		if s == state.MinimalInfo {
			return Result{Next: ctrl, Rule: RuleMinimalInfoHold}
		}
		c.Drift++
		if c.Drift > cfg.MM {
			return Result{
				Next: state.ControllerState{
					State:    state.MinimalInfo,
					Tau:      tau.ShrinkWorst(state.DefaultShrinkFactor),
					Counters: c,
				},
				Effects: []effect.Effect{effect.ApplySimplifyActions{Target: effect.TargetJCost}},
				Rule:    RuleDriftEscalate,
			}
		}
		return Result{
			Next: with(ctrl, c),
			Effects: []effect.Effect{
				effect.RecenterAndRetuneLambdaMu{},
				effect.ReallocateTauForProductiveAdaptation{},
			},
			Rule: RuleDrift,
		}
	}

	// 7. pass
	c.Drift, c.HandshakePasses = 0, 0
	return Result{
		Next:    state.ControllerState{State: state.Optimize, Tau: tau, Counters: c},
		Effects: []effect.Effect{effect.ResetCounters{Names: []string{effect.CounterDrift, effect.CounterHandshake}}},
		Rule:    RulePass,
	}
}

func with(ctrl state.ControllerState, c state.Counters) state.ControllerState {
	ctrl.Counters = c
	return ctrl
}

// #endregion transition-function
