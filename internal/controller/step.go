package controller

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/transition"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region outcome
// Outcome is everything one tick produced, kept for journaling and replay.
type Outcome struct {
	Prev    state.ControllerState
	Verify  verify.Result
	Rule    transition.Rule
	Effects []effect.Effect
	Next    state.ControllerState

	// Inputs the tick was judged against
	Floors verify.WitnessFloors
	Config verify.PolicyConfig
	Policy verify.VerifyPolicy
}

// Changed reports whether the tick moved the controller to another protocol state.
func (o Outcome) Changed() bool {
	return o.Prev.State != o.Next.State
}

// #endregion outcome

// #region run
// Run executes one tick: verify the window for ctrl's state, compute the transition,
// interpret its effects against the next state's budget, and install the budget the
// hooks returned. On error the zero Outcome is returned and ctrl is not affected.
func Run(
	ctx context.Context,
	ctrl state.ControllerState,
	floors verify.WitnessFloors,
	cfg verify.PolicyConfig,
	policy verify.VerifyPolicy,
	env verify.Environment,
	hooks effect.Hooks,
) (Outcome, error) {
	res, err := verify.Verify(ctx, ctrl.State, policy, floors, cfg, env)
	if err != nil {
		return Outcome{}, fmt.Errorf("verify: %w", err)
	}

	tr := transition.Transition(cfg, policy, ctrl, res.Verdict, res.Witnesses, res.OOD)

	tau, err := effect.Interpret(ctx, tr.Effects, hooks, tr.Next.Tau)
	if err != nil {
		return Outcome{}, fmt.Errorf("interpret: %w", err)
	}
	next := tr.Next
	next.Tau = tau

	return Outcome{
		Prev:    ctrl,
		Verify:  res,
		Rule:    tr.Rule,
		Effects: tr.Effects,
		Next:    next,
		Floors:  floors,
		Config:  cfg,
		Policy:  policy,
	}, nil
}

// #endregion run

// #region step
// Step is Run without the bookkeeping: it returns only the next controller state.
func Step(
	ctx context.Context,
	ctrl state.ControllerState,
	floors verify.WitnessFloors,
	cfg verify.PolicyConfig,
	policy verify.VerifyPolicy,
	env verify.Environment,
	hooks effect.Hooks,
) (state.ControllerState, error) {
	out, err := Run(ctx, ctrl, floors, cfg, policy, env, hooks)
	if err != nil {
		return ctrl, err
	}
	return out.Next, nil
}

// #endregion step
