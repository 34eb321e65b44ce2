package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/tsc-controller/internal/codec"
	"github.com/danielpatrickdp/tsc-controller/internal/config"
	"github.com/danielpatrickdp/tsc-controller/internal/controller"
	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/logging"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/telemetry"
)

// #region main
func main() {
	configPath := flag.String("config", envOr("TSC_CONFIG", ""), "path to controller TOML config")
	once := flag.Bool("once", false, "run a single tick and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	cfg.DBPath = envOr("TSC_DB", cfg.DBPath)
	cfg.CodecAddr = envOr("CODEC_ADDR", cfg.CodecAddr)
	cfg.LogLevel = envOr("TSC_LOG_LEVEL", cfg.LogLevel)

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(os.Stderr, level, os.Getenv("NO_COLOR") != "")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error("controller stopped", "err", err)
		stop()
		os.Exit(1)
	}
}

// #endregion main

// #region run
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, once bool) error {
	tel, err := telemetry.Setup(ctx, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	store, err := state.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	journal, ctrl, err := controller.OpenStoreJournal(store, cfg.InitialController(), "tick")
	if err != nil {
		return err
	}

	env, err := codec.NewClient(cfg.CodecAddr)
	if err != nil {
		return fmt.Errorf("connect to measurement service at %s: %w", cfg.CodecAddr, err)
	}
	defer env.Close()

	opts := controller.DefaultOptions()
	opts.Floors = cfg.Floors
	opts.Config = cfg.Policy
	opts.Policy = cfg.VerifyPolicy
	opts.Hooks = effect.LoggingHooks{Logger: logger}
	opts.Journal = journal
	opts.Logger = logger
	opts.Meter = tel.Meter("github.com/danielpatrickdp/tsc-controller/internal/controller")

	runner, err := controller.NewRunner(ctrl, env, opts)
	if err != nil {
		return err
	}

	logger.Info("controller ready",
		"db", cfg.DBPath,
		"codec", cfg.CodecAddr,
		"state", ctrl.State,
		"version", journal.Head(),
		"interval", cfg.Interval,
		"metrics", cfg.Metrics.Endpoint,
	)

	if once {
		_, err := runner.Tick(ctx)
		return err
	}
	err = runner.Loop(ctx, cfg.Interval)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down", "state", runner.State().State, "version", journal.Head())
		return nil
	}
	return err
}

// #endregion run

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
