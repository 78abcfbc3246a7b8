package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// AdminServiceName is the fully qualified gRPC service name
	AdminServiceName = "ringnode.admin.v1.RingAdmin"
	// GetTopologyMethod is the full method path of GetTopology
	GetTopologyMethod = "/" + AdminServiceName + "/GetTopology"
)

// RingAdminServer is the admin service implemented by a ring node
type RingAdminServer interface {
	GetTopology(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var ringAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*RingAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetTopology",
			Handler:    getTopologyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ringnode/admin/v1/admin.proto",
}

func getTopologyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RingAdminServer).GetTopology(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetTopologyMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RingAdminServer).GetTopology(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// AdminServerConfig holds configuration for the admin server
type AdminServerConfig struct {
	Port int
}

// AdminServer exposes the topology and the standard gRPC health service
type AdminServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	topology   TopologySource
	addr       string
	logger     *zap.Logger
}

// NewAdminServer creates a new admin server. Health starts as NOT_SERVING.
func NewAdminServer(cfg *AdminServerConfig, topology TopologySource, logger *zap.Logger) *AdminServer {
	s := &AdminServer{
		health:   health.NewServer(),
		topology: topology,
		addr:     fmt.Sprintf(":%d", cfg.Port),
		logger:   logger,
	}

	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logUnary))
	s.grpcServer.RegisterService(&ringAdminServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	s.SetServing(false)
	return s
}

// GetTopology returns the latest ring snapshot
func (s *AdminServer) GetTopology(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	topo := s.topology.Topology()
	if topo == nil {
		return nil, errors.Unavailable("topology not published yet", nil).ToGRPCStatus().Err()
	}

	st, err := structpb.NewStruct(topo.Map())
	if err != nil {
		return nil, errors.InternalError("failed to encode topology", err).ToGRPCStatus().Err()
	}
	return st, nil
}

// SetServing flips the health status of the server and the admin service
func (s *AdminServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(AdminServiceName, status)
}

// Start binds the port and serves in the background
func (s *AdminServer) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on an existing listener in the background
func (s *AdminServer) Serve(lis net.Listener) {
	s.logger.Info("Starting admin server", zap.String("addr", lis.Addr().String()))

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			s.logger.Error("Admin server failed", zap.Error(err))
		}
	}()
}

// Stop marks the server NOT_SERVING and stops it, forcing after timeout
func (s *AdminServer) Stop(timeout time.Duration) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("Admin server stopped gracefully")
	case <-time.After(timeout):
		s.logger.Warn("Admin server stop timeout, forcing shutdown")
		s.grpcServer.Stop()
	}
}

func (s *AdminServer) logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("Admin request",
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return resp, err
}
