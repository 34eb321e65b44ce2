package controller

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region helpers
type window struct {
	metrics   verify.Metrics
	witnesses verify.WitnessStatus
	ood       verify.OODStatus
}

func passWindow() window {
	return window{
		metrics:   verify.Metrics{HC: 0.9, VC: 0.9, DC: 0.9, CSigma: 0.9, CI: verify.Interval{Lo: 0.85, Hi: 0.95}},
		witnesses: verify.WitnessStatus{HVariance: 0.02, HEntropy: 0.25, HLipschitz: 0.06, DEntropy: 0.22, DVariance: 0.015},
		ood:       verify.OODStatus{Zt: 0.1, Zcrit: 0.95},
	}
}

func failWindow() window {
	w := passWindow()
	w.metrics.CI.Lo = 0.5
	return w
}

func oodWindow() window {
	w := passWindow()
	w.ood.Zt = 0.99
	return w
}

func degenerateWindow() window {
	w := passWindow()
	w.witnesses.HEntropy = 0
	return w
}

// scriptedEnv serves one window per tick and repeats the last one when exhausted.
type scriptedEnv struct {
	windows []window
	tick    int
	states  []state.State
}

func (s *scriptedEnv) current() window {
	return s.windows[min(s.tick, len(s.windows)-1)]
}

func (s *scriptedEnv) SampleIndexSet(_ context.Context, st state.State, _ verify.VerifyPolicy) ([]verify.Index, error) {
	s.states = append(s.states, st)
	return verify.Range(8), nil
}

func (s *scriptedEnv) ComputeMetrics(context.Context, []verify.Index) (verify.Metrics, error) {
	return s.current().metrics, nil
}

func (s *scriptedEnv) ComputeWitnesses(context.Context, []verify.Index) (verify.WitnessStatus, error) {
	return s.current().witnesses, nil
}

func (s *scriptedEnv) ComputeOOD(context.Context, []verify.Index) (verify.OODStatus, error) {
	w := s.current()
	s.tick++
	return w.ood, nil
}

func defaults() (verify.WitnessFloors, verify.PolicyConfig, verify.VerifyPolicy) {
	return verify.DefaultWitnessFloors(), verify.DefaultPolicyConfig(), verify.DefaultVerifyPolicy()
}

// #endregion helpers

func TestStepPassIsIdempotentInOptimize(t *testing.T) {
	floors, cfg, policy := defaults()
	env := &scriptedEnv{windows: []window{passWindow()}}
	ctrl := state.NewControllerState()

	for i := 0; i < 3; i++ {
		next, err := Step(context.Background(), ctrl, floors, cfg, policy, env, effect.NopHooks{})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if next != ctrl {
			t.Fatalf("tick %d: expected %+v, got %+v", i, ctrl, next)
		}
	}
}

func TestRunLockdownCycle(t *testing.T) {
	floors, cfg, policy := defaults()
	env := &scriptedEnv{windows: []window{oodWindow(), passWindow(), passWindow(), passWindow()}}
	rec := &effect.Recorder{}
	ctrl := state.NewControllerState()
	ctrl.Tau = state.TauBudget{TauMax: 0.1, H: 0.05, V: 0.05, D: 0.05}

	var trail []state.State
	for i := 0; i < 4; i++ {
		out, err := Run(context.Background(), ctrl, floors, cfg, policy, env, rec)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		ctrl = out.Next
		trail = append(trail, ctrl.State)
	}

	want := []state.State{state.Lockdown, state.Lockdown, state.Lockdown, state.Optimize}
	if !slices.Equal(trail, want) {
		t.Fatalf("expected %v, got %v", want, trail)
	}
	if ctrl.Tau != (state.TauBudget{TauMax: 0.1}) {
		t.Fatalf("expected zeroed budget after lockdown, got %+v", ctrl.Tau)
	}
	applied := rec.Applied()
	wantKinds := []effect.Kind{effect.KindFreezeMetricsAndTrust, effect.KindSetAllKiToMin, effect.KindResetCounters}
	if !slices.Equal(applied, wantKinds) {
		t.Fatalf("expected %v, got %v", wantKinds, applied)
	}
	// the environment sees the state being verified, not the next one
	if env.states[1] != state.Lockdown {
		t.Fatalf("expected second window sampled in LOCKDOWN, got %s", env.states[1])
	}
}

// halvingHooks halves every allocation on reallocation.
type halvingHooks struct{ effect.NopHooks }

func (halvingHooks) ReallocateTauForProductiveAdaptation(_ context.Context, tau state.TauBudget) (state.TauBudget, error) {
	tau.H, tau.V, tau.D = tau.H/2, tau.V/2, tau.D/2
	return tau, nil
}

func TestRunInstallsHookBudget(t *testing.T) {
	floors, cfg, policy := defaults()
	env := &scriptedEnv{windows: []window{failWindow()}}
	ctrl := state.NewControllerState()
	ctrl.Tau = state.TauBudget{TauMax: 0.1, H: 0.08, V: 0.04, D: 0.02}

	out, err := Run(context.Background(), ctrl, floors, cfg, policy, env, halvingHooks{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := state.TauBudget{TauMax: 0.1, H: 0.04, V: 0.02, D: 0.01}
	if out.Next.Tau != want {
		t.Fatalf("expected %+v, got %+v", want, out.Next.Tau)
	}
	if out.Next.Counters.Drift != 1 || out.Verify.Verdict != verify.Fail {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRunDriftEscalation(t *testing.T) {
	floors, cfg, policy := defaults()
	env := &scriptedEnv{windows: []window{failWindow()}}
	ctrl := state.NewControllerState()
	ctrl.Tau = state.TauBudget{TauMax: 1, H: 0.6, V: 0.3, D: 0.1}

	for i := 0; i <= cfg.MM; i++ {
		next, err := Step(context.Background(), ctrl, floors, cfg, policy, env, effect.NopHooks{})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		ctrl = next
	}
	if ctrl.State != state.MinimalInfo {
		t.Fatalf("expected MINIMAL_INFO, got %s", ctrl.State)
	}
	if want := (state.TauBudget{TauMax: 1, H: 0.3, V: 0.3, D: 0.1}); ctrl.Tau != want {
		t.Fatalf("expected %+v, got %+v", want, ctrl.Tau)
	}
}

func TestRunDegenerateReinflates(t *testing.T) {
	floors, cfg, policy := defaults()
	env := &scriptedEnv{windows: []window{degenerateWindow()}}
	rec := &effect.Recorder{}

	out, err := Run(context.Background(), state.NewControllerState(), floors, cfg, policy, env, rec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Next.State != state.Reinflate || out.Verify.Verdict != verify.FailDegenerate {
		t.Fatalf("unexpected outcome %s / %s", out.Next.State, out.Verify.Verdict)
	}
	if len(rec.Applied()) != 3 {
		t.Fatalf("expected 3 effects applied, got %v", rec.Applied())
	}
}

type failingOOD struct {
	scriptedEnv
	err error
}

func (f *failingOOD) ComputeOOD(context.Context, []verify.Index) (verify.OODStatus, error) {
	return verify.OODStatus{}, f.err
}

func TestStepEnvironmentErrorKeepsState(t *testing.T) {
	floors, cfg, policy := defaults()
	sentinel := errors.New("reference distribution unavailable")
	env := &failingOOD{scriptedEnv: scriptedEnv{windows: []window{passWindow()}}, err: sentinel}
	ctrl := state.ControllerState{State: state.Handshake, Counters: state.Counters{HandshakePasses: 4}}

	next, err := Step(context.Background(), ctrl, floors, cfg, policy, env, effect.NopHooks{})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if next != ctrl {
		t.Fatalf("expected state untouched, got %+v", next)
	}
}

type failingHook struct{ effect.NopHooks }

func (failingHook) FreezeMetricsAndTrust(context.Context) error { return context.DeadlineExceeded }

func TestStepHookErrorKeepsState(t *testing.T) {
	floors, cfg, policy := defaults()
	env := &scriptedEnv{windows: []window{oodWindow()}}
	ctrl := state.NewControllerState()

	next, err := Step(context.Background(), ctrl, floors, cfg, policy, env, failingHook{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if next != ctrl {
		t.Fatalf("expected state untouched, got %+v", next)
	}
}

func TestHandshakeThroughStep(t *testing.T) {
	floors, cfg, policy := defaults()
	windows := make([]window, 0, cfg.MH+1)
	for i := 0; i < cfg.MH-1; i++ {
		windows = append(windows, passWindow())
	}
	windows = append(windows, failWindow())
	env := &scriptedEnv{windows: windows}
	ctrl := state.ControllerState{State: state.Handshake}

	for range windows {
		next, err := Step(context.Background(), ctrl, floors, cfg, policy, env, effect.NopHooks{})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		ctrl = next
	}
	if ctrl.State != state.Handshake || ctrl.Counters.HandshakePasses != 0 {
		t.Fatalf("interleaved FAIL must reset the pass count, got %+v", ctrl)
	}
}
