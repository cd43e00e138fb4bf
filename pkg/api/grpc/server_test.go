package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/aescanero/velodago/internal/application/workers"
	"github.com/aescanero/velodago/pkg/adapters/interpreter/memory"
	metrics "github.com/aescanero/velodago/pkg/adapters/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthFollowsPool(t *testing.T) {
	logger := zaptest.NewLogger(t)
	collector := metrics.NewCollectorWithRegistry(prometheus.NewRegistry())
	pool := workers.NewPool(1, memory.NewBackend(), collector, logger, time.Hour)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newServer(listener, pool, logger)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient(listener.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceName))

	require.NoError(t, pool.Shutdown(context.Background()))

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceName))
}

func TestShutdownStopsServing(t *testing.T) {
	logger := zaptest.NewLogger(t)
	collector := metrics.NewCollectorWithRegistry(prometheus.NewRegistry())
	pool := workers.NewPool(1, memory.NewBackend(), collector, logger, time.Hour)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := newServer(listener, pool, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-errCh:
		// Serve may not have started before the stop.
		if err != nil {
			assert.ErrorIs(t, err, grpc.ErrServerStopped)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
