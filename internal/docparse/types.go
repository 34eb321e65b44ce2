package docparse

import (
	"errors"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region parsed-input
// Format names the parser that produced a ParsedInput.
type Format string

const (
	FormatTSCYAML  Format = "tsc_yaml"
	FormatCellular Format = "cellular_automaton"
	FormatStub     Format = "stub"
)

// ParsedInput bundles everything a verifier run needs from one document.
type ParsedInput struct {
	Format Format
	Env    verify.Environment
	Floors verify.WitnessFloors
	Config verify.PolicyConfig
	Policy verify.VerifyPolicy
	State  state.State
}

// newParsedInput fills the defaults shared by every parser.
func newParsedInput(format Format, env verify.Environment) ParsedInput {
	return ParsedInput{
		Format: format,
		Env:    env,
		Floors: verify.DefaultWitnessFloors(),
		Config: verify.DefaultPolicyConfig(),
		Policy: verify.DefaultVerifyPolicy(),
		State:  state.Optimize,
	}
}

// #endregion parsed-input

// ErrNoTSCBlock is returned when a document has no recognizable TSC YAML block.
var ErrNoTSCBlock = errors.New("no TSC YAML found (expected 'tsc:' block or compatible structure)")
