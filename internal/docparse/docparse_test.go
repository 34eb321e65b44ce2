package docparse

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

func testdata(name string) string {
	return filepath.Join("testdata", name)
}

func runVerify(t *testing.T, in ParsedInput) verify.Result {
	t.Helper()
	res, err := verify.Verify(context.Background(), in.State, in.Policy, in.Floors, in.Config, in.Env)
	require.NoError(t, err)
	return res
}

func measure(t *testing.T, in ParsedInput) (verify.Metrics, verify.WitnessStatus, verify.OODStatus) {
	t.Helper()
	ctx := context.Background()
	idx, err := in.Env.SampleIndexSet(ctx, in.State, in.Policy)
	require.NoError(t, err)
	m, err := in.Env.ComputeMetrics(ctx, idx)
	require.NoError(t, err)
	w, err := in.Env.ComputeWitnesses(ctx, idx)
	require.NoError(t, err)
	o, err := in.Env.ComputeOOD(ctx, idx)
	require.NoError(t, err)
	return m, w, o
}

// #region registry
func TestParseFileSelectsFormat(t *testing.T) {
	tests := []struct {
		file string
		want Format
	}{
		{"consciousness.md", FormatTSCYAML},
		{"fenced.md", FormatTSCYAML},
		{"glider.md", FormatCellular},
		{"frames.md", FormatCellular},
		{"random-soup.md", FormatCellular},
		{"plain.md", FormatStub},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			in, err := ParseFile(testdata(tt.file), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Format)
		})
	}
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile(testdata("does-not-exist.md"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRegistryFirstMatchWins(t *testing.T) {
	called := ""
	reg := Registry{
		{Name: "first", Match: func(string, []byte) bool { return true }, Parser: func(p string, c []byte, s *int64) (ParsedInput, error) {
			called = "first"
			return ParseStub(p, c, s)
		}},
		{Name: "second", Match: func(string, []byte) bool { return true }, Parser: func(p string, c []byte, s *int64) (ParsedInput, error) {
			called = "second"
			return ParseStub(p, c, s)
		}},
	}
	_, err := reg.Parse("x.md", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", called)

	_, err = Registry{}.Parse("x.md", nil, nil)
	assert.Error(t, err)
}

// #endregion registry

// #region stub
func TestStubCoherenceFromName(t *testing.T) {
	glider, err := ParseStub("examples/lwss-run.md", nil, nil)
	require.NoError(t, err)
	m, w, o := measure(t, glider)
	assert.Equal(t, 0.996, m.CSigma)
	assert.InDelta(t, 0.986, m.CI.Lo, 1e-12)
	assert.Equal(t, 0.02, w.HVariance)
	assert.Equal(t, 0.10, o.Zt)
	assert.Equal(t, verify.Pass, runVerify(t, glider).Verdict)

	other, err := ParseStub("examples/soup.md", nil, nil)
	require.NoError(t, err)
	res := runVerify(t, other)
	assert.Equal(t, 0.24, res.Metrics.CSigma)
	assert.Equal(t, verify.Fail, res.Verdict)
	assert.Len(t, res.Indices, 10)
	assert.Equal(t, state.Optimize, other.State)
	assert.Equal(t, "default", other.Policy.Name)
}

// #endregion stub

// #region cellular
func TestCellularGliderMeasurements(t *testing.T) {
	in, err := ParseFile(testdata("glider.md"), nil)
	require.NoError(t, err)

	m, w, o := measure(t, in)
	assert.InDelta(t, 0.766666666667, m.HC, 1e-9)
	assert.InDelta(t, 0.766666666667, m.VC, 1e-9)
	assert.InDelta(t, 0.7, m.DC, 1e-9)
	assert.InDelta(t, 0.753333333333, m.CSigma, 1e-9)
	assert.InDelta(t, m.CSigma-0.05, m.CI.Lo, 1e-12)
	assert.InDelta(t, m.CSigma+0.05, m.CI.Hi, 1e-12)

	assert.InDelta(t, 0.043555555556, w.HVariance, 1e-9)
	assert.InDelta(t, 0.271428571429, w.HEntropy, 1e-9)
	assert.InDelta(t, 0.071666666667, w.HLipschitz, 1e-9)
	assert.InDelta(t, 0.25, w.DEntropy, 1e-9)
	assert.InDelta(t, 0.021428571429, w.DVariance, 1e-9)

	assert.InDelta(t, 0.161111111111, o.Zt, 1e-9)
	assert.InDelta(t, 0.677777777778, o.Zcrit, 1e-9)

	// lo ~0.703 is below Theta
	assert.Equal(t, verify.Fail, runVerify(t, in).Verdict)
}

func TestCellularFrameSectionsDedupe(t *testing.T) {
	raw, err := os.ReadFile(testdata("frames.md"))
	require.NoError(t, err)

	frames := ExtractFrames(string(raw))
	require.Len(t, frames, 2, "frame 3 repeats frame 1")
	assert.InDelta(t, 0.2, temporalStability(frames), 1e-12)
	assert.InDelta(t, 0.12, meanDensity(frames), 1e-12)
}

func TestCellularRandomSoup(t *testing.T) {
	in, err := ParseFile(testdata("random-soup.md"), nil)
	require.NoError(t, err)
	m, w, _ := measure(t, in)
	assert.InDelta(t, 0.530526859504, m.CSigma, 1e-9)
	assert.InDelta(t, 0.023408204155, w.DVariance, 1e-9)
}

func TestCellularFallsBackToStub(t *testing.T) {
	content := []byte("```life\n#\n```\n")
	require.True(t, IsCellularAutomaton("soup.md", content))

	in, err := ParseCellularAutomaton("soup.md", content, nil)
	require.NoError(t, err)
	assert.Equal(t, FormatStub, in.Format)
}

func TestIsCellularAutomatonBareGrid(t *testing.T) {
	assert.True(t, IsCellularAutomaton("", []byte("intro\n.#.\n.#.\n.#.\n")))
	assert.False(t, IsCellularAutomaton("", []byte("intro\n.#.\ntext\n.#.\n.#.\n")))
}

func TestAdjacencyCoherence(t *testing.T) {
	g := Grid{
		{1, 0, 1},
		{0, 1, 0},
		{1, 0, 1},
	}
	h, v, d := adjacencyCoherence(g)
	assert.Equal(t, 0.0, h)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, 1.0, d)

	h, v, d = adjacencyCoherence(Grid{})
	assert.Zero(t, h+v+d)
}

func TestJaccard(t *testing.T) {
	a := Grid{{1, 1}, {0, 0}}
	b := Grid{{1, 0}, {0, 0}, {1, 1}}
	assert.InDelta(t, 0.5, jaccard(a, b), 1e-12)
	assert.Equal(t, 1.0, jaccard(Grid{{0}}, Grid{{0}}))
	assert.Equal(t, 0.0, jaccard(Grid{}, b))
}

func TestLooksLikeGrid(t *testing.T) {
	assert.True(t, looksLikeGrid([]string{"...", ".#.", "..."}))
	assert.False(t, looksLikeGrid([]string{"...", "..."}), "two rows")
	assert.False(t, looksLikeGrid([]string{"..", ".#", ".."}), "narrow")
	assert.False(t, looksLikeGrid([]string{"..........", "..........", ".........."}), "empty")
}

// #endregion cellular

// #region tsc-yaml
func TestTSCYAMLFrontMatter(t *testing.T) {
	in, err := ParseFile(testdata("consciousness.md"), nil)
	require.NoError(t, err)

	assert.Equal(t, state.Optimize, in.State)
	assert.Equal(t, "triadic", in.Policy.Name)
	v, ok := in.Policy.Param("oversample")
	assert.True(t, ok)
	assert.Equal(t, "D", v)
	assert.Equal(t, 0.12, in.Floors.HMin)
	assert.Equal(t, verify.DefaultWitnessFloors().LMin, in.Floors.LMin)
	assert.Equal(t, 0.75, in.Config.Theta)
	assert.Equal(t, 4, in.Config.MH)
	assert.Equal(t, verify.DefaultPolicyConfig().MZ, in.Config.MZ)

	m, w, o := measure(t, in)
	assert.InDelta(t, (0.92+0.88+0.80)/3, m.HC, 1e-12)
	assert.InDelta(t, 0.88, m.VC, 1e-12)
	assert.InDelta(t, 0.81, m.DC, 1e-12)
	assert.InDelta(t, math.Cbrt(m.HC*m.VC*m.DC), m.CSigma, 1e-12)

	half := m.CSigma - m.CI.Lo
	assert.InDelta(t, 0.0625, half, 0.005+1e-12)
	assert.InDelta(t, half, m.CI.Hi-m.CSigma, 1e-12)

	assert.InDelta(t, 3.0/67, w.HVariance, 1e-12)
	assert.InDelta(t, 0.05+0.10*math.Log(4), w.HEntropy, 1e-12)
	assert.InDelta(t, 0.01+0.10*math.Log(3), w.HLipschitz, 1e-12)
	assert.InDelta(t, 0.04+0.10*math.Log(4), w.DEntropy, 1e-12)
	assert.Equal(t, verify.OODStatus{Zt: 0.12, Zcrit: 0.95, PRefHash: "sha256:ref-2025"}, o)

	res := runVerify(t, in)
	assert.Len(t, res.Indices, 16)
	assert.Equal(t, verify.Pass, res.Verdict)
	assert.GreaterOrEqual(t, res.Metrics.CSigma, 0.5)
}

func TestTSCYAMLFencedInference(t *testing.T) {
	in, err := ParseFile(testdata("fenced.md"), nil)
	require.NoError(t, err)

	m, w, o := measure(t, in)
	assert.InDelta(t, 0.45+0.12*math.Log(4), m.HC, 1e-12, "no numeric keys: count fallback")
	assert.InDelta(t, 0.45, m.VC, 1e-12, "empty list")
	assert.Equal(t, 0.9, m.DC)
	assert.Equal(t, 0.5, w.DVariance, "override")
	assert.InDelta(t, 0.04, w.DEntropy, 1e-12)
	assert.Equal(t, verify.OODStatus{Zt: 0, Zcrit: 0.95}, o)

	res := runVerify(t, in)
	assert.Len(t, res.Indices, DefaultWindow)
	assert.Equal(t, verify.FailDegenerateD, res.Verdict)
}

func TestTSCYAMLSeededJitter(t *testing.T) {
	content, err := os.ReadFile(testdata("consciousness.md"))
	require.NoError(t, err)

	ci := func(seed *int64) verify.Interval {
		in, err := ParseTSCYAML("c.md", content, seed)
		require.NoError(t, err)
		m, _, _ := measure(t, in)
		return m.CI
	}
	seed := int64(3)
	def := DefaultSeed
	assert.Equal(t, ci(&seed), ci(&seed))
	assert.Equal(t, ci(nil), ci(&def))
}

func TestTSCYAMLWholeFile(t *testing.T) {
	content := []byte("tsc:\n  state: lockdown\n  sampling:\n    N: 4\n  provisional: {H_c: 1.4, V_c: 0.5, D_c: 0}\n")
	in, err := ParseTSCYAML("doc.yaml", content, nil)
	require.NoError(t, err)
	assert.Equal(t, state.Lockdown, in.State)

	m, _, _ := measure(t, in)
	assert.Equal(t, 1.0, m.HC, "clamped")
	assert.Equal(t, 0.0, m.DC)
	assert.InDelta(t, math.Cbrt(1*0.5*1e-12), m.CSigma, 1e-15)
	assert.GreaterOrEqual(t, m.CI.Lo, 0.0)

	idx, err := in.Env.SampleIndexSet(context.Background(), in.State, in.Policy)
	require.NoError(t, err)
	assert.Len(t, idx, 4)
}

func TestTSCYAMLUnknownStateIsOptimize(t *testing.T) {
	in, err := ParseTSCYAML("doc.yaml", []byte("tsc:\n  state: dreaming\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, state.Optimize, in.State)
}

func TestTSCYAMLNoBlock(t *testing.T) {
	content := []byte("# Notes\n\n```yaml\nname: not tsc\n```\n")
	assert.False(t, IsTSCYAML("notes.md", content))

	_, err := ParseTSCYAML("notes.md", content, nil)
	assert.ErrorIs(t, err, ErrNoTSCBlock)
}

func TestTSCYAMLBadValues(t *testing.T) {
	tests := map[string]string{
		"cfg":       "tsc:\n  cfg:\n    Theta: high\n",
		"floors":    "tsc:\n  floors:\n    nu_min: [1]\n",
		"window":    "tsc:\n  window:\n    N: many\n",
		"witnesses": "tsc:\n  provisional:\n    witnesses:\n      H_entropy: lots\n",
		"ood":       "tsc:\n  ood:\n    Z_t: far\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTSCYAML("doc.yaml", []byte(content), nil)
			assert.ErrorContains(t, err, name)
		})
	}
}

// #endregion tsc-yaml
