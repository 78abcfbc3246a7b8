package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const getTopologyMethod = "/ringnode.admin.v1.RingAdmin/GetTopology"

// AdminClient talks to the admin service of one ring node
type AdminClient struct {
	addr   string
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	logger *zap.Logger
}

// NewAdminClient creates a client for the admin server at addr (host:port).
// The connection is established lazily on the first call.
func NewAdminClient(addr string, logger *zap.Logger) (*AdminClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create admin client for %s: %w", addr, err)
	}

	return &AdminClient{
		addr:   addr,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger,
	}, nil
}

// Topology fetches the node's neighbour snapshot
func (c *AdminClient) Topology(ctx context.Context) (map[string]interface{}, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, getTopologyMethod, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("failed to get topology from %s: %w", c.addr, err)
	}

	c.logger.Debug("Fetched topology", zap.String("node", c.addr))
	return out.AsMap(), nil
}

// Health returns the serving status of service ("" for the whole server)
func (c *AdminClient) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check against %s failed: %w", c.addr, err)
	}
	return resp.GetStatus(), nil
}

// Close closes the client connection
func (c *AdminClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
