package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/telemetry"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// #region config
// Config is the runtime configuration of the controller daemon.
type Config struct {
	DBPath       string
	CodecAddr    string
	LogLevel     string
	Interval     time.Duration
	InitialState state.State
	TauMax       float64
	Floors       verify.WitnessFloors
	Policy       verify.PolicyConfig
	VerifyPolicy verify.VerifyPolicy
	Metrics      telemetry.Config
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		DBPath:       "tsc_controller.db",
		CodecAddr:    "localhost:50051",
		LogLevel:     "info",
		Interval:     5 * time.Second,
		InitialState: state.Optimize,
		TauMax:       state.DefaultTauMax,
		Floors:       verify.DefaultWitnessFloors(),
		Policy:       verify.DefaultPolicyConfig(),
		VerifyPolicy: verify.DefaultVerifyPolicy(),
		Metrics:      telemetry.DefaultConfig(),
	}
}

// InitialController returns the controller state a fresh store starts from.
func (c Config) InitialController() state.ControllerState {
	ctrl := state.NewControllerState()
	ctrl.State = c.InitialState
	ctrl.Tau.TauMax = c.TauMax
	return ctrl
}

// #endregion config

// #region file-config
type fileConfig struct {
	DBPath       string               `toml:"db_path"`
	CodecAddr    string               `toml:"codec_addr"`
	LogLevel     string               `toml:"log_level"`
	Interval     string               `toml:"interval"`
	InitialState string               `toml:"initial_state"`
	TauMax       float64              `toml:"tau_max"`
	Floors       verify.WitnessFloors `toml:"floors"`
	Policy       verify.PolicyConfig  `toml:"policy"`
	VerifyPolicy fileVerifyPolicy     `toml:"verify_policy"`
	Metrics      fileMetrics          `toml:"metrics"`
}

type fileVerifyPolicy struct {
	Name   string         `toml:"name"`
	Params map[string]any `toml:"params"`
}

type fileMetrics struct {
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
	Interval string `toml:"interval"`
}

// #endregion file-config

// #region load
// Load reads a TOML file and overlays every key it defines onto DefaultConfig.
// An empty path returns the defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config: %w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}

	if meta.IsDefined("db_path") {
		cfg.DBPath = strings.TrimSpace(raw.DBPath)
	}
	if meta.IsDefined("codec_addr") {
		cfg.CodecAddr = strings.TrimSpace(raw.CodecAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
		if err != nil {
			return Config{}, fmt.Errorf("parse interval: %w", err)
		}
		cfg.Interval = d
	}
	if meta.IsDefined("initial_state") {
		s, err := state.ParseState(raw.InitialState)
		if err != nil {
			return Config{}, fmt.Errorf("parse initial_state: %w", err)
		}
		cfg.InitialState = s
	}
	if meta.IsDefined("tau_max") {
		cfg.TauMax = raw.TauMax
	}

	overlay(meta, "floors", map[string]overlayPair{
		"nu_min":   {&cfg.Floors.NuMin, raw.Floors.NuMin},
		"h_min":    {&cfg.Floors.HMin, raw.Floors.HMin},
		"l_min":    {&cfg.Floors.LMin, raw.Floors.LMin},
		"nu_min_d": {&cfg.Floors.NuMinD, raw.Floors.NuMinD},
		"h_min_d":  {&cfg.Floors.HMinD, raw.Floors.HMinD},
	})
	overlay(meta, "policy", map[string]overlayPair{
		"theta":     {&cfg.Policy.Theta, raw.Policy.Theta},
		"delta":     {&cfg.Policy.Delta, raw.Policy.Delta},
		"z_crit":    {&cfg.Policy.Zcrit, raw.Policy.Zcrit},
		"epsilon_h": {&cfg.Policy.EpsilonH, raw.Policy.EpsilonH},
	})
	for key, p := range map[string]struct {
		dst *int
		src int
	}{
		"m_z": {&cfg.Policy.MZ, raw.Policy.MZ},
		"m_r": {&cfg.Policy.MR, raw.Policy.MR},
		"m_m": {&cfg.Policy.MM, raw.Policy.MM},
		"m_h": {&cfg.Policy.MH, raw.Policy.MH},
	} {
		if meta.IsDefined("policy", key) {
			*p.dst = p.src
		}
	}

	if meta.IsDefined("verify_policy", "name") {
		cfg.VerifyPolicy.Name = strings.TrimSpace(raw.VerifyPolicy.Name)
	}
	if meta.IsDefined("verify_policy", "params") {
		cfg.VerifyPolicy = verify.NewVerifyPolicy(cfg.VerifyPolicy.Name, raw.VerifyPolicy.Params)
	}

	if meta.IsDefined("metrics", "endpoint") {
		cfg.Metrics.Endpoint = strings.TrimSpace(raw.Metrics.Endpoint)
	}
	if meta.IsDefined("metrics", "insecure") {
		cfg.Metrics.Insecure = raw.Metrics.Insecure
	}
	if meta.IsDefined("metrics", "interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Metrics.Interval))
		if err != nil {
			return Config{}, fmt.Errorf("parse metrics.interval: %w", err)
		}
		cfg.Metrics.Interval = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type overlayPair struct {
	dst *float64
	src float64
}

func overlay(meta toml.MetaData, table string, fields map[string]overlayPair) {
	for key, p := range fields {
		if meta.IsDefined(table, key) {
			*p.dst = p.src
		}
	}
}

// #endregion load

// #region validate
// Validate reports every constraint the configuration violates, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.DBPath == "" {
		bad("db_path is empty")
	}
	if c.Interval <= 0 {
		bad("interval %s must be positive", c.Interval)
	}
	if !c.InitialState.IsValid() {
		bad("initial_state %q is not a controller state", c.InitialState)
	}
	if c.TauMax < 0 {
		bad("tau_max %v is negative", c.TauMax)
	}
	if c.VerifyPolicy.Name == "" {
		bad("verify_policy.name is empty")
	}
	if c.Metrics.Enabled() && c.Metrics.Interval <= 0 {
		bad("metrics.interval %s must be positive", c.Metrics.Interval)
	}

	f := c.Floors
	for name, v := range map[string]float64{
		"nu_min": f.NuMin, "h_min": f.HMin, "l_min": f.LMin, "nu_min_d": f.NuMinD, "h_min_d": f.HMinD,
	} {
		if v < 0 {
			bad("floors.%s %v is negative", name, v)
		}
	}

	p := c.Policy
	if p.Theta < 0 || p.Theta > 1 {
		bad("policy.theta %v outside [0, 1]", p.Theta)
	}
	if p.Zcrit < 0 {
		bad("policy.z_crit %v is negative", p.Zcrit)
	}
	for name, v := range map[string]int{"m_z": p.MZ, "m_r": p.MR, "m_m": p.MM, "m_h": p.MH} {
		if v <= 0 {
			bad("policy.%s %d must be positive", name, v)
		}
	}
	return errors.Join(errs...)
}

// #endregion validate
