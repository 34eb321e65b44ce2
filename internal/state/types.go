package state

import (
	"fmt"
	"strings"
	"time"
)

// #region state
// State is the controller's protocol state.
type State string

const (
	Optimize    State = "OPTIMIZE"
	Reinflate   State = "REINFLATE"
	MinimalInfo State = "MINIMAL_INFO"
	Lockdown    State = "LOCKDOWN"
	Handshake   State = "HANDSHAKE"
)

// AllStates returns every protocol state in declaration order.
func AllStates() []State {
	return []State{Optimize, Reinflate, MinimalInfo, Lockdown, Handshake}
}

// IsValid reports whether s is a recognized protocol state.
func (s State) IsValid() bool {
	switch s {
	case Optimize, Reinflate, MinimalInfo, Lockdown, Handshake:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// ParseState parses a state name case-insensitively. The empty string maps to Optimize.
func ParseState(raw string) (State, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Optimize, nil
	}
	s := State(strings.ToUpper(trimmed))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown controller state %q", raw)
	}
	return s, nil
}

// #endregion state

// #region tau-budget
// TauBudget is the per-dimension measurement effort allocation.
// Each of H, V, D stays within [0, TauMax].
type TauBudget struct {
	TauMax float64 `json:"tau_max"`
	H      float64 `json:"h"`
	V      float64 `json:"v"`
	D      float64 `json:"d"`
}

// DefaultShrinkFactor is the factor ShrinkWorst applies when escalating to MINIMAL_INFO.
const DefaultShrinkFactor = 0.5

// ShrinkWorst multiplies the largest allocation by factor and leaves the other two
// untouched. Ties resolve to H, then V, then D. The result is floored at zero.
func (t TauBudget) ShrinkWorst(factor float64) TauBudget {
	out := t
	worst := &out.H
	if out.V > *worst {
		worst = &out.V
	}
	if out.D > *worst {
		worst = &out.D
	}
	*worst = max(0, *worst*factor)
	return out
}

// Zeroed returns the budget with every allocation at zero and the ceiling preserved.
func (t TauBudget) Zeroed() TauBudget {
	return TauBudget{TauMax: t.TauMax}
}

// WithinCeiling reports whether every allocation is non-negative and at most TauMax.
func (t TauBudget) WithinCeiling() bool {
	for _, v := range [3]float64{t.H, t.V, t.D} {
		if v < 0 || v > t.TauMax {
			return false
		}
	}
	return true
}

// #endregion tau-budget

// #region counters
// Counters tracks the patience counters consulted by the transition rules.
type Counters struct {
	OODClear        int `json:"ood_clear"`
	Drift           int `json:"drift"`
	HandshakePasses int `json:"handshake_passes"`
}

// #endregion counters

// #region controller-state
// ControllerState is the only value that persists across ticks.
// It is replaced wholesale every tick, never mutated in place.
type ControllerState struct {
	State    State     `json:"state"`
	Tau      TauBudget `json:"tau"`
	Counters Counters  `json:"counters"`
}

// DefaultTauMax is the budget ceiling of a freshly started controller.
const DefaultTauMax = 0.10

// NewControllerState returns the process-start state: OPTIMIZE, a default budget, zero counters.
func NewControllerState() ControllerState {
	return ControllerState{
		State: Optimize,
		Tau:   TauBudget{TauMax: DefaultTauMax},
	}
}

// #endregion controller-state

// #region state-record
// StateRecord is a versioned snapshot of the controller state.
type StateRecord struct {
	VersionID  string
	ParentID   string
	Controller ControllerState
	CreatedAt  time.Time
}

// #endregion state-record

// #region version-with-provenance
// VersionWithProvenance pairs a controller version with the provenance row that produced it.
type VersionWithProvenance struct {
	StateRecord
	Verdict     string
	Effects     string
	Reason      string
	WindowHash  string
	Measurement string
}

// #endregion version-with-provenance
