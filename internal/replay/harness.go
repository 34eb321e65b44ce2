package replay

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/tsc-controller/internal/controller"
	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region types
// Window is one recorded measurement window.
type Window struct {
	TickID    string
	Indices   []verify.Index
	Metrics   verify.Metrics
	Witnesses verify.WitnessStatus
	OOD       verify.OODStatus
}

// ReplayConfig bundles the thresholds and hooks for a replay run.
type ReplayConfig struct {
	Floors verify.WitnessFloors
	Config verify.PolicyConfig
	Policy verify.VerifyPolicy
	Hooks  effect.Hooks
}

// DefaultReplayConfig returns the reference thresholds with no-op hooks.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Floors: verify.DefaultWitnessFloors(),
		Config: verify.DefaultPolicyConfig(),
		Policy: verify.DefaultVerifyPolicy(),
		Hooks:  effect.NopHooks{},
	}
}

// ReplayResult captures the outcome of replaying one window.
type ReplayResult struct {
	TickID  string
	Verdict verify.Verdict
	State   state.State // state after the tick
	Rule    string
	Effects []effect.Kind
	Next    state.ControllerState
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTicks  int
	Passes      int
	Fails       int
	Degenerate  int
	Transitions int
	FinalState  state.ControllerState
}

// #endregion types

// #region recorded-env
// recordedEnv serves a single recorded window regardless of the requested state.
type recordedEnv struct {
	w Window
}

func (r recordedEnv) SampleIndexSet(context.Context, state.State, verify.VerifyPolicy) ([]verify.Index, error) {
	return r.w.Indices, nil
}

func (r recordedEnv) ComputeMetrics(context.Context, []verify.Index) (verify.Metrics, error) {
	return r.w.Metrics, nil
}

func (r recordedEnv) ComputeWitnesses(context.Context, []verify.Index) (verify.WitnessStatus, error) {
	return r.w.Witnesses, nil
}

func (r recordedEnv) ComputeOOD(context.Context, []verify.Index) (verify.OODStatus, error) {
	return r.w.OOD, nil
}

// #endregion recorded-env

// #region replay
// Replay feeds the windows through the controller one tick each, in memory.
func Replay(ctx context.Context, start state.ControllerState, windows []Window, config ReplayConfig) ([]ReplayResult, error) {
	hooks := config.Hooks
	if hooks == nil {
		hooks = effect.NopHooks{}
	}
	current := start
	results := make([]ReplayResult, 0, len(windows))

	for i, w := range windows {
		out, err := controller.Run(ctx, current, config.Floors, config.Config, config.Policy, recordedEnv{w: w}, hooks)
		if err != nil {
			return results, fmt.Errorf("replay window %d (%s): %w", i, w.TickID, err)
		}
		current = out.Next
		results = append(results, ReplayResult{
			TickID:  w.TickID,
			Verdict: out.Verify.Verdict,
			State:   out.Next.State,
			Rule:    string(out.Rule),
			Effects: effect.Kinds(out.Effects),
			Next:    out.Next,
		})
	}
	return results, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(start state.ControllerState, results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalTicks: len(results), FinalState: start}
	prev := start.State
	for _, r := range results {
		switch {
		case r.Verdict == verify.Pass:
			s.Passes++
		case r.Verdict.IsDegenerate():
			s.Degenerate++
		default:
			s.Fails++
		}
		if r.State != prev {
			s.Transitions++
		}
		prev = r.State
		s.FinalState = r.Next
	}
	return s
}

// #endregion replay
