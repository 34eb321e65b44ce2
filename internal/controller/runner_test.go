package controller

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// #region helpers
func newTestRunner(t *testing.T, env verify.Environment, opts Options) (*Runner, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	opts.Meter = provider.Meter("test")

	r, err := NewRunner(state.NewControllerState(), env, opts)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r, reader
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

type failingJournal struct{ err error }

func (f failingJournal) Record(context.Context, Outcome) error { return f.err }

type memJournal struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (m *memJournal) Record(_ context.Context, out Outcome) error {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, out)
	m.mu.Unlock()
	return nil
}

// #endregion helpers

func TestRunnerCountsTicksAndTransitions(t *testing.T) {
	env := &scriptedEnv{windows: []window{passWindow(), oodWindow(), oodWindow(), passWindow()}}
	journal := &memJournal{}
	r, reader := newTestRunner(t, env, Options{Journal: journal})

	for i := 0; i < 4; i++ {
		if _, err := r.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	if got := counterTotal(t, reader, "tsc.ticks"); got != 4 {
		t.Errorf("expected 4 ticks, got %d", got)
	}
	if got := counterTotal(t, reader, "tsc.transitions"); got != 1 {
		t.Errorf("expected 1 transition (into LOCKDOWN), got %d", got)
	}
	if r.State().State != state.Lockdown || r.State().Counters.OODClear != 1 {
		t.Errorf("unexpected final state %+v", r.State())
	}
	if len(journal.outcomes) != 4 {
		t.Errorf("expected 4 journaled outcomes, got %d", len(journal.outcomes))
	}
}

func TestRunnerJournalErrorKeepsState(t *testing.T) {
	env := &scriptedEnv{windows: []window{oodWindow()}}
	sentinel := errors.New("disk full")
	r, reader := newTestRunner(t, env, Options{Journal: failingJournal{err: sentinel}})

	_, err := r.Tick(context.Background())
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected journal error, got %v", err)
	}
	if r.State() != state.NewControllerState() {
		t.Fatalf("state must not advance past a failed journal, got %+v", r.State())
	}
	if got := counterTotal(t, reader, "tsc.tick.errors"); got != 1 {
		t.Errorf("expected 1 error, got %d", got)
	}
	if got := counterTotal(t, reader, "tsc.ticks"); got != 0 {
		t.Errorf("expected no counted ticks, got %d", got)
	}
}

func TestRunnerLogsStateChangeAndDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bad := oodWindow()
	bad.metrics.CI = verify.Interval{Lo: 0.95, Hi: 0.85} // inverted
	env := &scriptedEnv{windows: []window{bad}}
	r, _ := newTestRunner(t, env, Options{Logger: logger})

	if _, err := r.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"state change", "LOCKDOWN", "measurement diagnostics", "ci_order"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output:\n%s", want, out)
		}
	}
}

func TestRunnerFillsDefaults(t *testing.T) {
	r, _ := newTestRunner(t, &scriptedEnv{windows: []window{passWindow()}}, Options{})
	if r.opts.Config != verify.DefaultPolicyConfig() || r.opts.Floors != verify.DefaultWitnessFloors() {
		t.Fatalf("expected default thresholds, got %+v %+v", r.opts.Config, r.opts.Floors)
	}
	if r.opts.Policy.Name != "default" || r.opts.Hooks == nil || r.opts.Eval == nil {
		t.Fatalf("expected defaults filled, got %+v", r.opts)
	}
}

func TestNewRunnerRejectsNilEnvironment(t *testing.T) {
	if _, err := NewRunner(state.NewControllerState(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil environment")
	}
}

func TestRunnerLoopStopsOnCancel(t *testing.T) {
	env := &scriptedEnv{windows: []window{passWindow()}}
	r, reader := newTestRunner(t, env, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Loop(ctx, time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for counterTotal(t, reader, "tsc.ticks") < 3 {
		select {
		case <-deadline:
			t.Fatal("loop did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunnerLoopRejectsNonPositiveInterval(t *testing.T) {
	env := &scriptedEnv{windows: []window{passWindow()}}
	r, reader := newTestRunner(t, env, Options{})

	for _, interval := range []time.Duration{0, -time.Second} {
		if err := r.Loop(context.Background(), interval); err == nil {
			t.Fatalf("interval %s: expected error", interval)
		}
	}
	if got := counterTotal(t, reader, "tsc.ticks"); got != 0 {
		t.Fatalf("expected no ticks, got %d", got)
	}
}
