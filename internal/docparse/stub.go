package docparse

import (
	"strings"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// ParseStub returns fixed measurements: high coherence when the file name mentions a
// glider or LWSS, low otherwise. Content and seed are ignored.
func ParseStub(path string, _ []byte, _ *int64) (ParsedInput, error) {
	return stubInput(path), nil
}

func stubInput(path string) ParsedInput {
	name := strings.ToLower(path)
	c := 0.24
	if strings.Contains(name, "glider") || strings.Contains(name, "lwss") {
		c = 0.996
	}

	env := verify.EnvFuncs{
		Sample: func(state.State, verify.VerifyPolicy) []verify.Index { return verify.Range(10) },
		Metrics: func([]verify.Index) verify.Metrics {
			return verify.Metrics{HC: c, VC: c, DC: c, CSigma: c, CI: verify.Interval{Lo: c - 0.01, Hi: c + 0.01}}
		},
		Witnesses: func([]verify.Index) verify.WitnessStatus {
			return verify.WitnessStatus{HVariance: 0.02, HEntropy: 0.25, HLipschitz: 0.06, DEntropy: 0.22, DVariance: 0.015}
		},
		OOD: func([]verify.Index) verify.OODStatus {
			return verify.OODStatus{Zt: 0.10, Zcrit: 0.95}
		},
	}
	return newParsedInput(FormatStub, env)
}
