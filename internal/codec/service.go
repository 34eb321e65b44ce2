package codec

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Measurement RPCs carry structpb.Struct payloads, so the service needs no generated code.
// Request and response shapes:
//
//	SampleIndexSet    {state, policy{name, params}} -> {indices}
//	ComputeMetrics    {indices} -> {h_c, v_c, d_c, c_sigma, c_sigma_ci{lo, hi}}
//	ComputeWitnesses  {indices} -> {h_variance, h_entropy, h_lipschitz, d_entropy, d_variance}
//	ComputeOOD        {indices} -> {z_t, z_crit, p_ref_hash}
const ServiceName = "tsc.measurement.v1.MeasurementService"

const (
	methodSampleIndexSet   = "/" + ServiceName + "/SampleIndexSet"
	methodComputeMetrics   = "/" + ServiceName + "/ComputeMetrics"
	methodComputeWitnesses = "/" + ServiceName + "/ComputeWitnesses"
	methodComputeOOD       = "/" + ServiceName + "/ComputeOOD"
)

// #region client-interface
// MeasurementServiceClient is the raw RPC surface of the measurement service.
type MeasurementServiceClient interface {
	SampleIndexSet(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ComputeMetrics(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ComputeWitnesses(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ComputeOOD(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type measurementServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewMeasurementServiceClient binds the RPC surface to a connection.
func NewMeasurementServiceClient(cc grpc.ClientConnInterface) MeasurementServiceClient {
	return &measurementServiceClient{cc: cc}
}

func (c *measurementServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *measurementServiceClient) SampleIndexSet(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodSampleIndexSet, in, opts)
}

func (c *measurementServiceClient) ComputeMetrics(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodComputeMetrics, in, opts)
}

func (c *measurementServiceClient) ComputeWitnesses(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodComputeWitnesses, in, opts)
}

func (c *measurementServiceClient) ComputeOOD(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodComputeOOD, in, opts)
}

// #endregion client-interface

// #region server-interface
// MeasurementServiceServer is implemented by Server.
type MeasurementServiceServer interface {
	SampleIndexSet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ComputeMetrics(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ComputeWitnesses(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ComputeOOD(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterMeasurementServiceServer registers srv on s.
func RegisterMeasurementServiceServer(s grpc.ServiceRegistrar, srv MeasurementServiceServer) {
	s.RegisterService(&MeasurementServiceDesc, srv)
}

// MeasurementServiceDesc describes the service for grpc.Server.
var MeasurementServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeasurementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SampleIndexSet", Handler: unaryHandler(methodSampleIndexSet, MeasurementServiceServer.SampleIndexSet)},
		{MethodName: "ComputeMetrics", Handler: unaryHandler(methodComputeMetrics, MeasurementServiceServer.ComputeMetrics)},
		{MethodName: "ComputeWitnesses", Handler: unaryHandler(methodComputeWitnesses, MeasurementServiceServer.ComputeWitnesses)},
		{MethodName: "ComputeOOD", Handler: unaryHandler(methodComputeOOD, MeasurementServiceServer.ComputeOOD)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tsc/measurement/v1/measurement.proto",
}

type unaryCall func(MeasurementServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MeasurementServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(MeasurementServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// #endregion server-interface
