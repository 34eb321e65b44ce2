package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/danielpatrickdp/tsc-controller/internal/logging"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	StartState      state.ControllerState   `json:"start_state"`
	Config          FixtureConfig           `json:"config"`
	Windows         []FixtureWindow         `json:"windows"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig holds the thresholds active for the whole fixture. Omitted sections
// fall back to the defaults.
type FixtureConfig struct {
	Floors       *verify.WitnessFloors `json:"floors,omitempty"`
	Policy       *verify.PolicyConfig  `json:"policy,omitempty"`
	VerifyPolicy string                `json:"verify_policy,omitempty"`
}

// FixtureWindow is one recorded window.
type FixtureWindow struct {
	TickID    string               `json:"tick_id"`
	Indices   []verify.Index       `json:"indices"`
	Metrics   verify.Metrics       `json:"metrics"`
	Witnesses verify.WitnessStatus `json:"witnesses"`
	OOD       verify.OODStatus     `json:"ood"`
}

// FixtureExpectedResult captures the expected verdict and state after each tick.
type FixtureExpectedResult struct {
	TickID  string         `json:"tick_id"`
	Verdict verify.Verdict `json:"verdict"`
	State   state.State    `json:"state"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.StartState.State == "" {
		f.StartState.State = state.Optimize
	}
	if !f.StartState.State.IsValid() {
		return nil, fmt.Errorf("parse fixture %s: unknown start state %q", path, f.StartState.State)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToWindows converts the fixture windows to replay windows.
func (f *Fixture) ToWindows() []Window {
	out := make([]Window, len(f.Windows))
	for i, w := range f.Windows {
		out[i] = Window{
			TickID:    w.TickID,
			Indices:   w.Indices,
			Metrics:   w.Metrics,
			Witnesses: w.Witnesses,
			OOD:       w.OOD,
		}
	}
	return out
}

// ToReplayConfig converts a FixtureConfig to a ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if fc.Floors != nil {
		cfg.Floors = *fc.Floors
	}
	if fc.Policy != nil {
		cfg.Config = *fc.Policy
	}
	if fc.VerifyPolicy != "" {
		cfg.Policy = verify.VerifyPolicy{Name: fc.VerifyPolicy}
	}
	return cfg
}

// #endregion fixture-loader

// #region fixture-export

// ErrThresholdsChanged is returned by FixtureFromTicks when the journal spans a change of
// floors, policy config or verify policy.
var ErrThresholdsChanged = errors.New("thresholds changed within journal")

// FixtureFromTicks builds a single fixture from journaled ticks recorded under one set of
// thresholds. Use FixturesFromTicks for journals that span a config change.
func FixtureFromTicks(description string, rows []logging.TickRow) (*Fixture, error) {
	fixtures, err := FixturesFromTicks(description, rows)
	if err != nil {
		return nil, err
	}
	if len(fixtures) > 1 {
		return nil, fmt.Errorf("fixture from ticks: %w at tick %s", ErrThresholdsChanged, fixtures[1].Windows[0].TickID)
	}
	return fixtures[0], nil
}

// FixturesFromTicks builds one fixture per run of ticks that share floors, policy config
// and verify policy. Each fixture starts from its first tick's previous state, and the
// expected results are what the controller recorded at the time.
func FixturesFromTicks(description string, rows []logging.TickRow) ([]*Fixture, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fixture from ticks: no ticks")
	}
	var out []*Fixture
	start := 0
	for i := 1; i <= len(rows); i++ {
		if i < len(rows) && sameThresholds(rows[start].Record, rows[i].Record) {
			continue
		}
		out = append(out, fixtureSegment(description, rows[start:i]))
		start = i
	}
	if len(out) > 1 {
		for i, f := range out {
			f.Description = fmt.Sprintf("%s (part %d/%d)", description, i+1, len(out))
		}
	}
	return out, nil
}

func sameThresholds(a, b logging.TickRecord) bool {
	return a.Floors == b.Floors && a.Config == b.Config && a.Policy == b.Policy
}

func fixtureSegment(description string, rows []logging.TickRow) *Fixture {
	first := rows[0].Record
	floors, policy := first.Floors, first.Config
	f := &Fixture{
		Description: description,
		StartState:  first.Prev,
		Config: FixtureConfig{
			Floors:       &floors,
			Policy:       &policy,
			VerifyPolicy: first.Policy,
		},
	}
	for _, row := range rows {
		rec := row.Record
		f.Windows = append(f.Windows, FixtureWindow{
			TickID:    row.VersionID,
			Indices:   rec.Indices,
			Metrics:   rec.Metrics,
			Witnesses: rec.Witnesses,
			OOD:       rec.OOD,
		})
		f.ExpectedResults = append(f.ExpectedResults, FixtureExpectedResult{
			TickID:  row.VersionID,
			Verdict: rec.Verdict,
			State:   rec.Next.State,
		})
	}
	return f
}

// #endregion fixture-export
