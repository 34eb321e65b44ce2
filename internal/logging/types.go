package logging

import (
	"time"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	VersionID        string
	WindowHash       string
	TriggerType      string // "tick" | "replay" | "manual"
	Verdict          string
	EffectsJSON      string
	MeasurementsJSON string
	Reason           string
	CreatedAt        time.Time
}

// #endregion provenance-entry

// #region tick-record
// TickRecord captures the complete inputs and outputs of one controller tick.
// Serialized as JSON into provenance_log.measurements_json so a tick can be replayed.
type TickRecord struct {
	Prev state.ControllerState `json:"prev"`
	Next state.ControllerState `json:"next"`

	// Measurements exactly as returned by the environment
	Indices   []verify.Index       `json:"indices"`
	Metrics   verify.Metrics       `json:"metrics"`
	Witnesses verify.WitnessStatus `json:"witnesses"`
	OOD       verify.OODStatus     `json:"ood"`

	// Thresholds active at decision time
	Floors verify.WitnessFloors `json:"floors"`
	Config verify.PolicyConfig  `json:"config"`
	Policy string               `json:"policy"`

	Verdict verify.Verdict `json:"verdict"`
	Rule    string         `json:"rule"`
	Effects []string       `json:"effects"`
}

// #endregion tick-record

// #region tick-row
// TickRow is a provenance row read back together with its decoded record.
type TickRow struct {
	ID         int64
	VersionID  string
	WindowHash string
	Record     TickRecord
	CreatedAt  time.Time
}

// #endregion tick-row
