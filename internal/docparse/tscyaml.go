package docparse

import (
	"fmt"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// DefaultSeed drives the CI jitter when the caller does not pass a seed.
const DefaultSeed int64 = 0xC0FFEE

// DefaultWindow is the window size when a document names none.
const DefaultWindow = 32

var (
	frontMatter = regexp.MustCompile(`(?s)^---\s*(.*?)\s*---`)
	yamlFence   = regexp.MustCompile("(?is)```(?:ya?ml)\\s+(.*?)```")

	// blockKeys mark a mapping as TSC content even without a top-level tsc key.
	blockKeys = []string{"O_H", "O_V", "O_D", "aligners", "observations"}
)

// #region discovery
// IsTSCYAML reports whether the document carries a TSC block.
func IsTSCYAML(_ string, content []byte) bool {
	_, err := firstTSCBlock(string(content))
	return err == nil
}

// firstTSCBlock searches front matter, then fenced yaml blocks, then the whole text.
func firstTSCBlock(text string) (fields, error) {
	if m := frontMatter.FindStringSubmatch(text); m != nil {
		if block, ok := tscBlock(m[1]); ok {
			return block, nil
		}
	}
	for _, m := range yamlFence.FindAllStringSubmatch(text, -1) {
		if block, ok := tscBlock(m[1]); ok {
			return block, nil
		}
	}
	if block, ok := tscBlock(text); ok {
		return block, nil
	}
	return nil, ErrNoTSCBlock
}

func tscBlock(raw string) (fields, bool) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(raw), &doc); err != nil || doc == nil {
		return nil, false
	}
	if inner, ok := doc["tsc"]; ok {
		sub, _ := inner.(map[string]any)
		return fields(sub), true
	}
	for _, k := range blockKeys {
		if _, ok := doc[k]; ok {
			return fields(doc), true
		}
	}
	return nil, false
}

// #endregion discovery

// #region document
// tscDocument is the typed form of a TSC block.
type tscDocument struct {
	State       state.State
	Policy      verify.VerifyPolicy
	Floors      verify.WitnessFloors
	Config      verify.PolicyConfig
	N           int
	OH, OV, OD  []any
	Provisional fields
	OOD         fields
}

func parseDocument(doc fields) (tscDocument, error) {
	out := tscDocument{
		State:       parseStateOrOptimize(doc["state"]),
		Provisional: doc.sub("provisional"),
		OOD:         doc.sub("ood"),
	}

	var err error
	out.Policy = parsePolicy(doc.sub("policy"))
	if out.Floors, err = parseFloors(doc.sub("floors")); err != nil {
		return out, fmt.Errorf("floors: %w", err)
	}
	if out.Config, err = parseConfig(doc.sub("cfg")); err != nil {
		return out, fmt.Errorf("cfg: %w", err)
	}

	win := doc.sub("window")
	if len(win) == 0 {
		win = doc.sub("sampling")
	}
	if out.N, err = win.intOr("N", DefaultWindow); err != nil {
		return out, fmt.Errorf("window: %w", err)
	}
	if out.N < 0 {
		return out, fmt.Errorf("window: negative N %d", out.N)
	}

	obs := doc.sub("observations")
	out.OH = observations(obs, doc, "O_H")
	out.OV = observations(obs, doc, "O_V")
	out.OD = observations(obs, doc, "O_D")
	return out, nil
}

func parseStateOrOptimize(v any) state.State {
	raw, ok := v.(string)
	if !ok {
		return state.Optimize
	}
	s, err := state.ParseState(raw)
	if err != nil {
		return state.Optimize
	}
	return s
}

func parsePolicy(d fields) verify.VerifyPolicy {
	if len(d) == 0 {
		return verify.DefaultVerifyPolicy()
	}
	name := "default"
	if v, ok := d["name"]; ok && v != nil {
		name = fmt.Sprint(v)
	}
	return verify.NewVerifyPolicy(name, d.sub("params"))
}

func parseFloors(d fields) (verify.WitnessFloors, error) {
	f := verify.DefaultWitnessFloors()
	var err error
	for _, p := range []struct {
		key string
		dst *float64
	}{
		{"nu_min", &f.NuMin},
		{"H_min", &f.HMin},
		{"L_min", &f.LMin},
		{"nu_min_D", &f.NuMinD},
		{"H_min_D", &f.HMinD},
	} {
		if *p.dst, err = d.floatOr(p.key, *p.dst); err != nil {
			return f, err
		}
	}
	return f, nil
}

func parseConfig(d fields) (verify.PolicyConfig, error) {
	c := verify.DefaultPolicyConfig()
	var err error
	for _, p := range []struct {
		key string
		dst *float64
	}{
		{"Theta", &c.Theta},
		{"delta", &c.Delta},
		{"Z_crit", &c.Zcrit},
		{"epsilon_H", &c.EpsilonH},
	} {
		if *p.dst, err = d.floatOr(p.key, *p.dst); err != nil {
			return c, err
		}
	}
	for _, p := range []struct {
		key string
		dst *int
	}{
		{"M_Z", &c.MZ},
		{"M_R", &c.MR},
		{"M_M", &c.MM},
		{"M_H", &c.MH},
	} {
		if *p.dst, err = d.intOr(p.key, *p.dst); err != nil {
			return c, err
		}
	}
	return c, nil
}

// observations reads key from the observations mapping, falling back to the top level.
func observations(obs, doc fields, key string) []any {
	if v, ok := obs[key]; ok {
		list, _ := v.([]any)
		return list
	}
	list, _ := doc[key].([]any)
	return list
}

// #endregion document

// #region parser
// ParseTSCYAML builds an environment from a TSC block. Coherence comes from provisional
// H_c/V_c/D_c values when present, otherwise from observation confidences. The CI
// half-width shrinks with the window and carries a small seeded jitter.
func ParseTSCYAML(_ string, content []byte, seed *int64) (ParsedInput, error) {
	block, err := firstTSCBlock(string(content))
	if err != nil {
		return ParsedInput{}, err
	}
	doc, err := parseDocument(block)
	if err != nil {
		return ParsedInput{}, err
	}

	witnesses, err := doc.witnesses()
	if err != nil {
		return ParsedInput{}, fmt.Errorf("provisional.witnesses: %w", err)
	}
	ood, err := doc.ood()
	if err != nil {
		return ParsedInput{}, fmt.Errorf("ood: %w", err)
	}
	base := doc.coherence()

	s := DefaultSeed
	if seed != nil {
		s = *seed
	}
	jitter := newJitter(s)

	env := verify.EnvFuncs{
		Sample: func(state.State, verify.VerifyPolicy) []verify.Index { return verify.Range(doc.N) },
		Metrics: func(indices []verify.Index) verify.Metrics {
			m := base
			w := math.Max(0.02, 0.25/math.Sqrt(float64(max(1, len(indices))))) + jitter.next()
			m.CI = verify.Interval{Lo: clamp01(m.CSigma - w), Hi: clamp01(m.CSigma + w)}
			return m
		},
		Witnesses: func([]verify.Index) verify.WitnessStatus { return witnesses },
		OOD:       func([]verify.Index) verify.OODStatus { return ood },
	}

	return ParsedInput{
		Format: FormatTSCYAML,
		Env:    env,
		Floors: doc.Floors,
		Config: doc.Config,
		Policy: doc.Policy,
		State:  doc.State,
	}, nil
}

// coherence returns the point estimates; CI is filled per window.
func (d tscDocument) coherence() verify.Metrics {
	h, ok := number(d.Provisional["H_c"])
	if !ok {
		h = inferScore(d.OH, "confidence", "p", "score", "weight")
	}
	v, ok := number(d.Provisional["V_c"])
	if !ok {
		v = inferScore(d.OV, "confidence", "clarity", "score", "p")
	}
	dc, ok := number(d.Provisional["D_c"])
	if !ok {
		dc = inferScore(d.OD, "confidence", "p", "score")
	}
	h, v, dc = clamp01(h), clamp01(v), clamp01(dc)
	return verify.Metrics{HC: h, VC: v, DC: dc, CSigma: geomean3(h, v, dc)}
}

// witnesses derives saturating proxies from observation counts, then applies overrides.
func (d tscDocument) witnesses() (verify.WitnessStatus, error) {
	nH, nV, nD := float64(len(d.OH)), float64(len(d.OV)), float64(len(d.OD))
	w := verify.WitnessStatus{
		HVariance:  math.Max(1e-6, nH/(nH+64)),
		HEntropy:   math.Max(1e-6, 0.05+0.10*math.Log1p(nH)),
		HLipschitz: math.Max(1e-6, 0.01+0.10*math.Log1p(nV)),
		DEntropy:   math.Max(1e-6, 0.04+0.10*math.Log1p(nD)),
		DVariance:  math.Max(1e-6, nD/(nD+64)),
	}

	override := d.Provisional.sub("witnesses")
	var err error
	for _, p := range []struct {
		key string
		dst *float64
	}{
		{"H_variance", &w.HVariance},
		{"H_entropy", &w.HEntropy},
		{"H_lipschitz", &w.HLipschitz},
		{"D_entropy", &w.DEntropy},
		{"D_variance", &w.DVariance},
	} {
		if *p.dst, err = override.floatOr(p.key, *p.dst); err != nil {
			return w, err
		}
	}
	return w, nil
}

func (d tscDocument) ood() (verify.OODStatus, error) {
	var o verify.OODStatus
	var err error
	if o.Zt, err = d.OOD.floatOr("Z_t", 0); err != nil {
		return o, err
	}
	if o.Zcrit, err = d.OOD.floatOr("Z_crit", 0.95); err != nil {
		return o, err
	}
	if v, ok := d.OOD["p_ref_hash"]; ok && v != nil {
		o.PRefHash = fmt.Sprint(v)
	}
	return o, nil
}

// inferScore averages the first numeric key found on each item. With no numeric values
// it falls back to a saturating function of the item count.
func inferScore(items []any, keys ...string) float64 {
	var sum float64
	var n int
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range keys {
			if v, ok := number(m[k]); ok {
				sum += v
				n++
				break
			}
		}
	}
	if n > 0 {
		return clamp01(sum / float64(n))
	}
	return clamp01(0.45 + 0.12*math.Log1p(float64(len(items))))
}

// #endregion parser

// #region helpers
// jitter yields values in [-0.005, 0.005). Shared by every Metrics call of one env.
type jitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newJitter(seed int64) *jitter {
	return &jitter{rng: rand.New(rand.NewPCG(uint64(seed), 0))}
}

func (j *jitter) next() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return (j.rng.Float64() - 0.5) * 0.01
}

func clamp01(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}

func geomean3(a, b, c float64) float64 {
	a, b, c = math.Max(a, 1e-12), math.Max(b, 1e-12), math.Max(c, 1e-12)
	return math.Cbrt(a * b * c)
}

// number accepts YAML numerics. Booleans and strings are not numbers here.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// fields is a decoded YAML mapping with typed, defaulting accessors.
type fields map[string]any

func (f fields) sub(key string) fields {
	m, _ := f[key].(map[string]any)
	return fields(m)
}

func (f fields) floatOr(key string, def float64) (float64, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return def, nil
	}
	if n, ok := number(v); ok {
		return n, nil
	}
	if s, ok := v.(string); ok {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s: expected a number, got %T", key, v)
}

func (f fields) intOr(key string, def int) (int, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return def, nil
	}
	if n, ok := number(v); ok {
		return int(n), nil
	}
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s: expected an integer, got %T", key, v)
}

// #endregion helpers
