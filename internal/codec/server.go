package codec

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region server
// Server exposes a verify.Environment over gRPC.
type Server struct {
	env    verify.Environment
	logger *slog.Logger
}

var _ MeasurementServiceServer = (*Server)(nil)

// NewServer wraps env. A nil logger discards.
func NewServer(env verify.Environment, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{env: env, logger: logger}
}

func (s *Server) SampleIndexSet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sampleRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	indices, err := s.env.SampleIndexSet(ctx, req.State, req.Policy)
	if err != nil {
		return nil, s.fail("sample_index_set", err)
	}
	s.logger.DebugContext(ctx, "sampled", "state", req.State, "policy", req.Policy.Name, "n", len(indices))
	return reply(indexPayload{Indices: indices})
}

func (s *Server) ComputeMetrics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return measure(ctx, s, "compute_metrics", in, s.env.ComputeMetrics)
}

func (s *Server) ComputeWitnesses(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return measure(ctx, s, "compute_witnesses", in, s.env.ComputeWitnesses)
}

func (s *Server) ComputeOOD(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return measure(ctx, s, "compute_ood", in, s.env.ComputeOOD)
}

func measure[T any](ctx context.Context, s *Server, name string, in *structpb.Struct, fn func(context.Context, []verify.Index) (T, error)) (*structpb.Struct, error) {
	var req indexPayload
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out, err := fn(ctx, req.Indices)
	if err != nil {
		return nil, s.fail(name, err)
	}
	s.logger.DebugContext(ctx, "measured", "rpc", name, "n", len(req.Indices))
	return reply(out)
}

// fail maps environment errors to status errors. Context errors keep their own codes.
func (s *Server) fail(name string, err error) error {
	s.logger.Warn("measurement failed", "rpc", name, "err", err)
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Errorf(codes.Internal, "%s: %v", name, err)
}

func reply(v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// #endregion server

// #region serve
// Serve registers env on a new grpc.Server and serves lis until ctx is done, then stops
// gracefully. It returns nil after a clean shutdown.
func Serve(ctx context.Context, lis net.Listener, env verify.Environment, logger *slog.Logger, opts ...grpc.ServerOption) error {
	srv := grpc.NewServer(opts...)
	RegisterMeasurementServiceServer(srv, NewServer(env, logger))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			srv.GracefulStop()
		case <-done:
		}
	}()
	defer close(done)

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// #endregion serve
