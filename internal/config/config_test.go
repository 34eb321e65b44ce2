package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "controller.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
db_path = "/var/lib/tsc/state.db"
codec_addr = "measure:7000"
log_level = "debug"
interval = "250ms"
initial_state = "handshake"
tau_max = 0.2

[floors]
h_min = 0.2

[policy]
theta = 0.9
m_m = 7

[verify_policy]
name = "oversample"

[verify_policy.params]
factor = 2
dims = ["H", "D"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tsc/state.db", cfg.DBPath)
	assert.Equal(t, "measure:7000", cfg.CodecAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, state.Handshake, cfg.InitialState)
	assert.InDelta(t, 0.2, cfg.TauMax, 1e-12)

	want := verify.DefaultWitnessFloors()
	want.HMin = 0.2
	assert.Equal(t, want, cfg.Floors, "undefined floors keep their defaults")

	assert.InDelta(t, 0.9, cfg.Policy.Theta, 1e-12)
	assert.Equal(t, 7, cfg.Policy.MM)
	assert.Equal(t, verify.DefaultPolicyConfig().MZ, cfg.Policy.MZ)

	assert.Equal(t, "oversample", cfg.VerifyPolicy.Name)
	factor, ok := cfg.VerifyPolicy.Param("factor")
	require.True(t, ok)
	assert.EqualValues(t, 2, factor)
}

func TestLoadZeroValuesAreHonored(t *testing.T) {
	path := writeConfig(t, `
[floors]
nu_min = 0.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Floors.NuMin)
}

func TestInitialController(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialState = state.Handshake
	cfg.TauMax = 0.3

	ctrl := cfg.InitialController()
	assert.Equal(t, state.Handshake, ctrl.State)
	assert.Equal(t, state.TauBudget{TauMax: 0.3}, ctrl.Tau)
	assert.Equal(t, state.Counters{}, ctrl.Counters)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
db_path = "x.db"
theta = 0.5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "theta")
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"interval":      `interval = "soon"`,
		"initial_state": `initial_state = "PANIC"`,
		"syntax":        `db_path = `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.Theta = 1.5
	cfg.Policy.MH = 0
	cfg.Floors.LMin = -1
	cfg.Interval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	for _, want := range []string{"theta", "m_h", "l_min", "interval"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadValidatesResult(t *testing.T) {
	path := writeConfig(t, `
[policy]
theta = -0.1
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadMetricsTable(t *testing.T) {
	path := writeConfig(t, `
[metrics]
endpoint = "otel-collector:4317"
insecure = true
interval = "30s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Metrics.Enabled())
	assert.Equal(t, "otel-collector:4317", cfg.Metrics.Endpoint)
	assert.True(t, cfg.Metrics.Insecure)
	assert.Equal(t, 30*time.Second, cfg.Metrics.Interval)
	assert.Equal(t, "tsc-controller", cfg.Metrics.ServiceName, "service name keeps its default")

	_, err = Load(writeConfig(t, "[metrics]\nendpoint = \"c:4317\"\ninterval = \"0s\"\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}
