package verify

import (
	"maps"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region verdict
// Verdict is the verifier's single-window judgment.
type Verdict string

const (
	Pass            Verdict = "PASS"
	Fail            Verdict = "FAIL"
	FailDegenerate  Verdict = "FAIL_DEGENERATE"   // H/V witness floors violated
	FailDegenerateD Verdict = "FAIL_DEGENERATE_D" // D witness floors violated
)

// IsDegenerate reports whether v is one of the witness-floor verdicts.
func (v Verdict) IsDegenerate() bool {
	return v == FailDegenerate || v == FailDegenerateD
}

// #endregion verdict

// #region metrics
// Interval is a closed confidence interval.
type Interval struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Metrics holds the dimensional coherence measurements of one window.
type Metrics struct {
	HC     float64  `json:"h_c"`
	VC     float64  `json:"v_c"`
	DC     float64  `json:"d_c"`
	CSigma float64  `json:"c_sigma"`
	CI     Interval `json:"c_sigma_ci"`
}

// #endregion metrics

// #region witnesses
// WitnessFloors are the health minima that keep a degenerate window from faking a pass.
type WitnessFloors struct {
	NuMin  float64 `json:"nu_min" toml:"nu_min"`     // H/V variance
	HMin   float64 `json:"h_min" toml:"h_min"`       // H/V entropy
	LMin   float64 `json:"l_min" toml:"l_min"`       // H/V Lipschitz margin
	NuMinD float64 `json:"nu_min_d" toml:"nu_min_d"` // D variance
	HMinD  float64 `json:"h_min_d" toml:"h_min_d"`   // D entropy
}

// DefaultWitnessFloors returns the floors used when none are configured.
func DefaultWitnessFloors() WitnessFloors {
	return WitnessFloors{
		NuMin:  1e-3,
		HMin:   0.1,
		LMin:   1e-3,
		NuMinD: 1e-4,
		HMinD:  0.05,
	}
}

// WitnessStatus is the witness health summary of one window.
type WitnessStatus struct {
	HVariance  float64 `json:"h_variance"`
	HEntropy   float64 `json:"h_entropy"`
	HLipschitz float64 `json:"h_lipschitz"`
	DEntropy   float64 `json:"d_entropy"`
	DVariance  float64 `json:"d_variance"`
}

// HVFails reports whether any H/V witness is below its floor.
func (w WitnessStatus) HVFails(f WitnessFloors) bool {
	return w.HVariance < f.NuMin || w.HEntropy < f.HMin || w.HLipschitz < f.LMin
}

// DFails reports whether either D witness is below its floor.
func (w WitnessStatus) DFails(f WitnessFloors) bool {
	return w.DEntropy < f.HMinD || w.DVariance < f.NuMinD
}

// #endregion witnesses

// #region ood
// OODStatus is the out-of-distribution gate reading for one window.
type OODStatus struct {
	Zt       float64 `json:"z_t"`
	Zcrit    float64 `json:"z_crit"`
	PRefHash string  `json:"p_ref_hash,omitempty"` // provenance of the reference distribution
}

// #endregion ood

// #region policy-config
// PolicyConfig holds controller thresholds and patience horizons.
type PolicyConfig struct {
	Theta    float64 `json:"theta" toml:"theta"`         // pass threshold on the CI lower bound
	Delta    float64 `json:"delta" toml:"delta"`         // reserved tolerance
	Zcrit    float64 `json:"z_crit" toml:"z_crit"`       // OOD critical value
	MZ       int     `json:"m_z" toml:"m_z"`             // clear windows to exit LOCKDOWN
	EpsilonH float64 `json:"epsilon_h" toml:"epsilon_h"` // witness margin, used by exit policies
	MR       int     `json:"m_r" toml:"m_r"`             // reserved
	MM       int     `json:"m_m" toml:"m_m"`             // drift patience before MINIMAL_INFO
	MH       int     `json:"m_h" toml:"m_h"`             // passes to exit HANDSHAKE
}

// DefaultPolicyConfig returns the reference thresholds.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Theta:    0.80,
		Delta:    0.05,
		Zcrit:    0.95,
		MZ:       3,
		EpsilonH: 0.05,
		MR:       3,
		MM:       5,
		MH:       10,
	}
}

// #endregion policy-config

// #region verify-policy
// VerifyPolicy is a named parameter bag handed opaquely to the environment and to effects.
type VerifyPolicy struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// DefaultVerifyPolicy returns the policy named "default" with no parameters.
func DefaultVerifyPolicy() VerifyPolicy {
	return VerifyPolicy{Name: "default"}
}

// NewVerifyPolicy copies params so later changes by the caller are not observed.
func NewVerifyPolicy(name string, params map[string]any) VerifyPolicy {
	return VerifyPolicy{Name: name, Params: maps.Clone(params)}
}

// Param returns the named parameter and whether it was present.
func (p VerifyPolicy) Param(key string) (any, bool) {
	v, ok := p.Params[key]
	return v, ok
}

// #endregion verify-policy

// #region index
// Index identifies one sample of the underlying dataset.
type Index int

// #endregion index

// #region result
// Result is the verifier's output: the verdict plus the raw window measurements.
type Result struct {
	Verdict   Verdict       `json:"verdict"`
	Metrics   Metrics       `json:"metrics"`
	Witnesses WitnessStatus `json:"witnesses"`
	OOD       OODStatus     `json:"ood"`
	Indices   []Index       `json:"indices"`
	State     state.State   `json:"state"`
}

// #endregion result
