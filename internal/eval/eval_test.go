package eval

import (
	"slices"
	"strings"
	"testing"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

func wellFormed() (verify.Result, state.ControllerState) {
	res := verify.Result{
		Verdict:   verify.Pass,
		Metrics:   verify.Metrics{HC: 0.9, VC: 0.85, DC: 0.8, CSigma: 0.85, CI: verify.Interval{Lo: 0.82, Hi: 0.88}},
		Witnesses: verify.WitnessStatus{HVariance: 0.02, HEntropy: 0.25, HLipschitz: 0.06, DEntropy: 0.22, DVariance: 0.015},
		OOD:       verify.OODStatus{Zt: 0.1, Zcrit: 0.95},
		Indices:   verify.Range(10),
		State:     state.Optimize,
	}
	return res, state.NewControllerState()
}

func TestEvalPassesOnWellFormedTick(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	res, next := wellFormed()

	result := h.Run(res, next)

	if !result.Passed {
		t.Fatalf("expected pass, got fail: %s", result.Reason)
	}
	if len(result.Metrics) == 0 {
		t.Fatal("expected metrics")
	}
	if len(result.Failed()) != 0 {
		t.Fatalf("expected no failed checks, got %v", result.Failed())
	}
}

func TestEvalFailsOnEmptyWindow(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	res, next := wellFormed()
	res.Indices = nil

	result := h.Run(res, next)

	if result.Passed {
		t.Fatal("expected fail on empty window")
	}
	if !slices.Contains(result.Failed(), "window_size") {
		t.Fatalf("expected window_size failure, got %v", result.Failed())
	}
}

func TestEvalFailsOnInvertedInterval(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	res, next := wellFormed()
	res.Metrics.CI = verify.Interval{Lo: 0.9, Hi: 0.8}

	result := h.Run(res, next)

	if result.Passed {
		t.Fatal("expected fail on inverted interval")
	}
	if !strings.Contains(result.Reason, "does not contain") {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestEvalFailsOnOutOfRangeScore(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	res, next := wellFormed()
	res.Metrics.HC = 1.3

	result := h.Run(res, next)

	if !slices.Contains(result.Failed(), "h_c_range") {
		t.Fatalf("expected h_c_range failure, got %v", result.Failed())
	}
}

func TestEvalFailsOnNegativeWitness(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	res, next := wellFormed()
	res.Witnesses.DVariance = -0.1

	result := h.Run(res, next)

	if !slices.Contains(result.Failed(), "witnesses_non_negative") {
		t.Fatalf("expected witness failure, got %v", result.Failed())
	}
}

func TestEvalFailsOnBudgetAboveCeiling(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	res, next := wellFormed()
	next.Tau.H = next.Tau.TauMax * 2

	result := h.Run(res, next)

	if !slices.Contains(result.Failed(), "tau_within_ceiling") {
		t.Fatalf("expected ceiling failure, got %v", result.Failed())
	}
}

func TestEvalOODRatioIsInformational(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	res, next := wellFormed()
	res.OOD.Zt = 0.94

	result := h.Run(res, next)

	if !result.Passed {
		t.Fatalf("OOD proximity must not fail the run: %s", result.Reason)
	}
	if !slices.Contains(result.Failed(), "ood_ratio") {
		t.Fatalf("expected ood_ratio flagged, got %v", result.Failed())
	}
}

func TestEvalCountsMultipleFailures(t *testing.T) {
	h := NewEvalHarness(DefaultEvalConfig())
	res, next := wellFormed()
	res.Indices = nil
	res.Witnesses.HEntropy = -1

	result := h.Run(res, next)

	if !strings.Contains(result.Reason, "2 checks") {
		t.Fatalf("expected count in reason, got %q", result.Reason)
	}
}
