package verify

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region verify
// Verify judges one window. The environment is asked for the window indices, then for
// metrics, witnesses and OOD status over exactly those indices. The gates run in a fixed
// order and the first match wins:
//
//  1. OOD: Zt >= cfg.Zcrit is FAIL, whatever the score or witnesses say.
//  2. H/V witnesses below floors is FAIL_DEGENERATE.
//  3. D witnesses below floors is FAIL_DEGENERATE_D.
//  4. PASS iff the CI lower bound reaches cfg.Theta, otherwise FAIL.
//
// Environment errors are returned wrapped; Verify validates nothing else.
func Verify(
	ctx context.Context,
	s state.State,
	policy VerifyPolicy,
	floors WitnessFloors,
	cfg PolicyConfig,
	env Environment,
) (Result, error) {
	indices, err := env.SampleIndexSet(ctx, s, policy)
	if err != nil {
		return Result{}, fmt.Errorf("sample index set: %w", err)
	}
	metrics, err := env.ComputeMetrics(ctx, indices)
	if err != nil {
		return Result{}, fmt.Errorf("compute metrics: %w", err)
	}
	witnesses, err := env.ComputeWitnesses(ctx, indices)
	if err != nil {
		return Result{}, fmt.Errorf("compute witnesses: %w", err)
	}
	ood, err := env.ComputeOOD(ctx, indices)
	if err != nil {
		return Result{}, fmt.Errorf("compute ood: %w", err)
	}

	return Result{
		Verdict:   Judge(floors, cfg, metrics, witnesses, ood),
		Metrics:   metrics,
		Witnesses: witnesses,
		OOD:       ood,
		Indices:   indices,
		State:     s,
	}, nil
}

// #endregion verify

// #region judge
// Judge applies the gate order of Verify to measurements already in hand.
func Judge(floors WitnessFloors, cfg PolicyConfig, m Metrics, w WitnessStatus, ood OODStatus) Verdict {
	switch {
	case ood.Zt >= cfg.Zcrit:
		return Fail
	case w.HVFails(floors):
		return FailDegenerate
	case w.DFails(floors):
		return FailDegenerateD
	case m.CI.Lo >= cfg.Theta:
		return Pass
	default:
		return Fail
	}
}

// #endregion judge
