package eval

import (
	"fmt"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region eval-harness
// EvalHarness runs diagnostic checks on a verify result and the state it produced.
// None of the checks influence the controller; they flag environments that return
// measurements outside their documented ranges.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks one tick.
func (h *EvalHarness) Run(res verify.Result, next state.ControllerState) EvalResult {
	var metrics []EvalMetric
	var failReasons []string
	tol := h.config.Tolerance

	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Window size
	n := len(res.Indices)
	check("window_size", float64(n), n >= h.config.MinWindow,
		fmt.Sprintf("window has %d indices, want at least %d", n, h.config.MinWindow))

	// 2. Confidence interval ordering: Lo <= CSigma <= Hi
	m := res.Metrics
	ordered := m.CI.Lo <= m.CSigma+tol && m.CSigma <= m.CI.Hi+tol
	check("ci_order", m.CI.Hi-m.CI.Lo, ordered,
		fmt.Sprintf("interval [%.4f, %.4f] does not contain %.4f", m.CI.Lo, m.CI.Hi, m.CSigma))

	// 3. Unit range of every score
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"h_c", m.HC}, {"v_c", m.VC}, {"d_c", m.DC},
		{"c_sigma", m.CSigma}, {"ci_lo", m.CI.Lo}, {"ci_hi", m.CI.Hi},
	} {
		check(v.name+"_range", v.value, v.value >= -tol && v.value <= 1+tol,
			fmt.Sprintf("%s %.4f outside [0, 1]", v.name, v.value))
	}

	// 4. Witnesses are magnitudes
	w := res.Witnesses
	lowest := min(w.HVariance, w.HEntropy, w.HLipschitz, w.DEntropy, w.DVariance)
	check("witnesses_non_negative", lowest, lowest >= 0,
		fmt.Sprintf("witness value %.4f is negative", lowest))

	// 5. Budget within ceiling
	check("tau_within_ceiling", next.Tau.TauMax, next.Tau.WithinCeiling(),
		fmt.Sprintf("budget %+v exceeds ceiling", next.Tau))

	// 6. OOD proximity: informational, never fails the run
	ratio := 0.0
	if res.OOD.Zcrit > 0 {
		ratio = res.OOD.Zt / res.OOD.Zcrit
	}
	metrics = append(metrics, EvalMetric{
		Name:  "ood_ratio",
		Value: ratio,
		Pass:  ratio < h.config.MaxOODRatio,
	})

	reason := "all checks passed"
	if len(failReasons) > 0 {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  len(failReasons) == 0,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness
