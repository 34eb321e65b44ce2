package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region client-struct
// Client is a verify.Environment backed by a remote measurement service.
type Client struct {
	conn   *grpc.ClientConn
	client MeasurementServiceClient
}

var _ verify.Environment = (*Client)(nil)

// #endregion client-struct

// #region constructor
// NewClient connects to the measurement service at addr. Extra dial options are applied
// after the default insecure transport credentials.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		client: NewMeasurementServiceClient(conn),
	}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc MeasurementServiceClient) *Client {
	return &Client{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region environment
// SampleIndexSet asks the service for the window to measure.
func (c *Client) SampleIndexSet(ctx context.Context, s state.State, policy verify.VerifyPolicy) ([]verify.Index, error) {
	req, err := encode(sampleRequest{State: s, Policy: policy})
	if err != nil {
		return nil, fmt.Errorf("sample index set: %w", err)
	}
	resp, err := c.client.SampleIndexSet(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sample index set rpc: %w", err)
	}
	var out indexPayload
	if err := decode(resp, &out); err != nil {
		return nil, fmt.Errorf("sample index set: %w", err)
	}
	return out.Indices, nil
}

// ComputeMetrics measures dimensional coherence over indices.
func (c *Client) ComputeMetrics(ctx context.Context, indices []verify.Index) (verify.Metrics, error) {
	var m verify.Metrics
	err := c.measure(ctx, "compute metrics", c.client.ComputeMetrics, indices, &m)
	return m, err
}

// ComputeWitnesses measures witness health over indices.
func (c *Client) ComputeWitnesses(ctx context.Context, indices []verify.Index) (verify.WitnessStatus, error) {
	var w verify.WitnessStatus
	err := c.measure(ctx, "compute witnesses", c.client.ComputeWitnesses, indices, &w)
	return w, err
}

// ComputeOOD reads the out-of-distribution gate over indices.
func (c *Client) ComputeOOD(ctx context.Context, indices []verify.Index) (verify.OODStatus, error) {
	var o verify.OODStatus
	err := c.measure(ctx, "compute ood", c.client.ComputeOOD, indices, &o)
	return o, err
}

type rpc func(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

func (c *Client) measure(ctx context.Context, name string, call rpc, indices []verify.Index, out any) error {
	req, err := encode(indexPayload{Indices: indices})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	resp, err := call(ctx, req)
	if err != nil {
		return fmt.Errorf("%s rpc: %w", name, err)
	}
	if err := decode(resp, out); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// #endregion environment
