package eval

// #region eval-config
// EvalConfig holds tolerances for the well-formedness checks on a tick.
type EvalConfig struct {
	MinWindow   int     // warn if the sampled window is smaller than this
	Tolerance   float64 // slack allowed on interval ordering and unit ranges
	MaxOODRatio float64 // warn if Zt/Zcrit reaches this while the gate stays open
}

// DefaultEvalConfig returns the tolerances used by the runner.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		MinWindow:   1,
		Tolerance:   1e-9,
		MaxOODRatio: 0.9,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single check result.
type EvalMetric struct {
	Name  string
	Value float64
	Pass  bool
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of a diagnostic run. Passed is false when any blocking-grade
// check failed; the runner only logs it.
type EvalResult struct {
	Passed  bool
	Metrics []EvalMetric
	Reason  string
}

// Failed returns the names of the checks that did not pass.
func (r EvalResult) Failed() []string {
	var out []string
	for _, m := range r.Metrics {
		if !m.Pass {
			out = append(out, m.Name)
		}
	}
	return out
}

// #endregion eval-result
