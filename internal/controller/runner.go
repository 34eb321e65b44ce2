package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/eval"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/danielpatrickdp/tsc-controller/internal/controller"

// #region options
// Options configures a Runner. Zero fields fall back to DefaultOptions.
type Options struct {
	Floors  verify.WitnessFloors
	Config  verify.PolicyConfig
	Policy  verify.VerifyPolicy
	Hooks   effect.Hooks
	Journal Journal
	Logger  *slog.Logger
	Meter   metric.Meter
	Eval    *eval.EvalHarness
}

// DefaultOptions returns the reference thresholds, no-op hooks, no journal, the default
// logger and the global meter.
func DefaultOptions() Options {
	return Options{
		Floors: verify.DefaultWitnessFloors(),
		Config: verify.DefaultPolicyConfig(),
		Policy: verify.DefaultVerifyPolicy(),
		Hooks:  effect.NopHooks{},
		Logger: slog.Default(),
		Meter:  otel.Meter(meterName),
		Eval:   eval.NewEvalHarness(eval.DefaultEvalConfig()),
	}
}

// #endregion options

// #region runner
// Runner owns one controller state and advances it one tick at a time. Ticks are
// serialized; a failed tick leaves the state where it was.
type Runner struct {
	env  verify.Environment
	opts Options

	ticks       metric.Int64Counter
	transitions metric.Int64Counter
	failures    metric.Int64Counter

	mu   sync.Mutex
	ctrl state.ControllerState
}

// NewRunner creates a runner starting from initial.
func NewRunner(initial state.ControllerState, env verify.Environment, opts Options) (*Runner, error) {
	if env == nil {
		return nil, errors.New("new runner: nil environment")
	}
	def := DefaultOptions()
	if opts.Policy.Name == "" {
		opts.Policy = def.Policy
	}
	if opts.Config == (verify.PolicyConfig{}) {
		opts.Config = def.Config
	}
	if opts.Floors == (verify.WitnessFloors{}) {
		opts.Floors = def.Floors
	}
	if opts.Hooks == nil {
		opts.Hooks = def.Hooks
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.Meter == nil {
		opts.Meter = def.Meter
	}
	if opts.Eval == nil {
		opts.Eval = def.Eval
	}

	r := &Runner{env: env, opts: opts, ctrl: initial}
	var err error
	r.ticks, err = opts.Meter.Int64Counter("tsc.ticks",
		metric.WithDescription("Controller ticks by verdict and resulting state"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tick counter: %w", err)
	}
	r.transitions, err = opts.Meter.Int64Counter("tsc.transitions",
		metric.WithDescription("Protocol state changes"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transition counter: %w", err)
	}
	r.failures, err = opts.Meter.Int64Counter("tsc.tick.errors",
		metric.WithDescription("Ticks aborted by an environment, hook or journal error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create error counter: %w", err)
	}
	return r, nil
}

// State returns the current controller state.
func (r *Runner) State() state.ControllerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctrl
}

// Tick runs one tick. The new state is installed only after the journal accepted it.
func (r *Runner) Tick(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out, err := Run(ctx, r.ctrl, r.opts.Floors, r.opts.Config, r.opts.Policy, r.env, r.opts.Hooks)
	if err != nil {
		r.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "run")))
		return Outcome{}, err
	}
	if r.opts.Journal != nil {
		if err := r.opts.Journal.Record(ctx, out); err != nil {
			r.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "journal")))
			return Outcome{}, fmt.Errorf("journal: %w", err)
		}
	}
	r.ctrl = out.Next

	r.ticks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", string(out.Verify.Verdict)),
		attribute.String("state", string(out.Next.State)),
	))
	if out.Changed() {
		r.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(out.Prev.State)),
			attribute.String("to", string(out.Next.State)),
		))
		r.opts.Logger.InfoContext(ctx, "state change",
			"from", out.Prev.State, "to", out.Next.State, "verdict", out.Verify.Verdict, "rule", out.Rule)
	}
	r.opts.Logger.DebugContext(ctx, "tick",
		"state", out.Next.State,
		"verdict", out.Verify.Verdict,
		"ci_lo", out.Verify.Metrics.CI.Lo,
		"z_t", out.Verify.OOD.Zt,
		"effects", len(out.Effects),
	)

	if diag := r.opts.Eval.Run(out.Verify, out.Next); !diag.Passed {
		r.opts.Logger.WarnContext(ctx, "measurement diagnostics", "reason", diag.Reason, "failed", diag.Failed())
	}
	return out, nil
}

// Loop ticks every interval until ctx is done. Tick errors are logged and the loop
// continues; the returned error is ctx's. A non-positive interval is an error.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("loop: interval %s must be positive", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.opts.Logger.ErrorContext(ctx, "tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// #endregion runner
