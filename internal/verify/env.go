package verify

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region environment
// Environment supplies the window and the three measurements the verifier consumes.
// All three measurement calls receive the same index slice for a given tick.
// Implementations may block; the verifier imposes no timeout beyond ctx.
type Environment interface {
	SampleIndexSet(ctx context.Context, s state.State, policy VerifyPolicy) ([]Index, error)
	ComputeMetrics(ctx context.Context, indices []Index) (Metrics, error)
	ComputeWitnesses(ctx context.Context, indices []Index) (WitnessStatus, error)
	ComputeOOD(ctx context.Context, indices []Index) (OODStatus, error)
}

// #endregion environment

// #region env-funcs
// EnvFuncs adapts four plain functions to Environment. Document parsers build
// environments this way, closing over whatever they extracted.
type EnvFuncs struct {
	Sample    func(s state.State, policy VerifyPolicy) []Index
	Metrics   func(indices []Index) Metrics
	Witnesses func(indices []Index) WitnessStatus
	OOD       func(indices []Index) OODStatus
}

var errIncompleteEnv = errors.New("environment function not set")

func (e EnvFuncs) SampleIndexSet(_ context.Context, s state.State, policy VerifyPolicy) ([]Index, error) {
	if e.Sample == nil {
		return nil, errIncompleteEnv
	}
	return e.Sample(s, policy), nil
}

func (e EnvFuncs) ComputeMetrics(_ context.Context, indices []Index) (Metrics, error) {
	if e.Metrics == nil {
		return Metrics{}, errIncompleteEnv
	}
	return e.Metrics(indices), nil
}

func (e EnvFuncs) ComputeWitnesses(_ context.Context, indices []Index) (WitnessStatus, error) {
	if e.Witnesses == nil {
		return WitnessStatus{}, errIncompleteEnv
	}
	return e.Witnesses(indices), nil
}

func (e EnvFuncs) ComputeOOD(_ context.Context, indices []Index) (OODStatus, error) {
	if e.OOD == nil {
		return OODStatus{}, errIncompleteEnv
	}
	return e.OOD(indices), nil
}

// Range returns the indices 0..n-1.
func Range(n int) []Index {
	out := make([]Index, n)
	for i := range out {
		out[i] = Index(i)
	}
	return out
}

// #endregion env-funcs
