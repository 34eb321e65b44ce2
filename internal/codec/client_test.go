package codec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/tsc-controller/internal/state"
	"github.com/danielpatrickdp/tsc-controller/internal/verify"
)

// #region mock
type mockMeasurementService struct {
	MeasurementServiceClient

	lastRequest *structpb.Struct

	sampleResp *structpb.Struct
	sampleErr  error

	metricsResp *structpb.Struct
	metricsErr  error
}

func (m *mockMeasurementService) SampleIndexSet(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	m.lastRequest = in
	return m.sampleResp, m.sampleErr
}

func (m *mockMeasurementService) ComputeMetrics(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	m.lastRequest = in
	return m.metricsResp, m.metricsErr
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

// #endregion mock

// #region constructor-tests
func TestNewClientLazyConnect(t *testing.T) {
	client, err := NewClient("localhost:0")
	require.NoError(t, err, "grpc.NewClient does not dial eagerly")
	assert.NoError(t, client.Close())
}

func TestNewClientWithServiceClose(t *testing.T) {
	c := NewClientWithService(&mockMeasurementService{})
	require.NotNil(t, c.client)
	assert.NoError(t, c.Close())
}

// #endregion constructor-tests

// #region sample-tests
func TestSampleIndexSetSuccess(t *testing.T) {
	mock := &mockMeasurementService{
		sampleResp: mustStruct(t, map[string]any{"indices": []any{4, 1, 9}}),
	}
	c := NewClientWithService(mock)

	got, err := c.SampleIndexSet(context.Background(), state.Handshake, verify.NewVerifyPolicy("strict", map[string]any{"oversample": "H"}))
	require.NoError(t, err)
	assert.Equal(t, []verify.Index{4, 1, 9}, got)

	req := mock.lastRequest.AsMap()
	assert.Equal(t, "HANDSHAKE", req["state"])
	policy := req["policy"].(map[string]any)
	assert.Equal(t, "strict", policy["name"])
	assert.Equal(t, map[string]any{"oversample": "H"}, policy["params"])
}

func TestSampleIndexSetRPCError(t *testing.T) {
	sentinel := errors.New("connection refused")
	c := NewClientWithService(&mockMeasurementService{sampleErr: sentinel})

	_, err := c.SampleIndexSet(context.Background(), state.Optimize, verify.DefaultVerifyPolicy())
	assert.ErrorIs(t, err, sentinel)
	assert.ErrorContains(t, err, "sample index set rpc")
}

func TestSampleIndexSetMalformedResponse(t *testing.T) {
	c := NewClientWithService(&mockMeasurementService{
		sampleResp: mustStruct(t, map[string]any{"indices": "all of them"}),
	})
	_, err := c.SampleIndexSet(context.Background(), state.Optimize, verify.DefaultVerifyPolicy())
	assert.ErrorContains(t, err, "decode payload")
}

// #endregion sample-tests

// #region metrics-tests
func TestComputeMetricsSuccess(t *testing.T) {
	mock := &mockMeasurementService{
		metricsResp: mustStruct(t, map[string]any{
			"h_c": 0.9, "v_c": 0.8, "d_c": 0.7, "c_sigma": 0.8,
			"c_sigma_ci": map[string]any{"lo": 0.75, "hi": 0.85},
		}),
	}
	c := NewClientWithService(mock)

	got, err := c.ComputeMetrics(context.Background(), []verify.Index{0, 1})
	require.NoError(t, err)
	assert.Equal(t, verify.Metrics{HC: 0.9, VC: 0.8, DC: 0.7, CSigma: 0.8, CI: verify.Interval{Lo: 0.75, Hi: 0.85}}, got)
	assert.Equal(t, []any{0.0, 1.0}, mock.lastRequest.AsMap()["indices"])
}

func TestComputeMetricsNilResponse(t *testing.T) {
	c := NewClientWithService(&mockMeasurementService{})
	_, err := c.ComputeMetrics(context.Background(), nil)
	assert.ErrorContains(t, err, "empty payload")
}

// #endregion metrics-tests
