// Command measured serves the measurement environment described by one document over
// gRPC, so the controller daemon can tick against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/danielpatrickdp/tsc-controller/internal/codec"
	"github.com/danielpatrickdp/tsc-controller/internal/docparse"
	"github.com/danielpatrickdp/tsc-controller/internal/logging"
)

// #region main
func main() {
	docPath := flag.String("doc", envOr("TSC_DOC", ""), "document describing the measured system")
	addr := flag.String("addr", envOr("CODEC_ADDR", "localhost:50051"), "listen address")
	seedRaw := flag.String("seed", envOr("TSC_SEED", ""), "jitter seed for TSC-YAML documents")
	logLevel := flag.String("log-level", envOr("TSC_LOG_LEVEL", "info"), "debug|info|warn|error")
	flag.Parse()

	if *docPath == "" {
		fmt.Fprintln(os.Stderr, "usage: measured --doc path/to/document.md [--addr host:port] [--seed N]")
		os.Exit(2)
	}
	seed, err := parseSeed(*seedRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(os.Stderr, level, os.Getenv("NO_COLOR") != "")

	in, err := docparse.ParseFile(*docPath, seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen %s: %v\n", *addr, err)
		os.Exit(1)
	}
	if err := serve(ctx, lis, in, logger); err != nil {
		logger.Error("measurement service stopped", "err", err)
		stop()
		os.Exit(1)
	}
}

// #endregion main

// #region serve
func serve(ctx context.Context, lis net.Listener, in docparse.ParsedInput, logger *slog.Logger) error {
	logger.Info("measurement service ready", "addr", lis.Addr().String(), "format", in.Format, "state", in.State)
	return codec.Serve(ctx, lis, in.Env, logger)
}

// #endregion serve

// #region helpers
func parseSeed(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q: %w", raw, err)
	}
	return &v, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
