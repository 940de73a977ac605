package transport

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akriventsev/ordering/framework/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRESTServer_ServesRoutesAndHealth(t *testing.T) {
	health := observability.NewHealthManager(time.Second)
	var healthy atomic.Bool
	healthy.Store(true)
	health.RegisterHealthCheck(observability.NewHealthCheck("store", func(ctx context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("store down")
	}))

	cfg := DefaultRESTConfig()
	cfg.Address = "127.0.0.1:0"
	server := NewRESTServer(cfg, WithHealth(health), WithMetricsEndpoint())
	server.Router().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop(context.Background()) })
	assert.True(t, server.IsRunning())

	base := "http://" + server.Addr()
	resp, err := http.Get(base + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy.Store(false)
	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, server.Stop(context.Background()))
	assert.False(t, server.IsRunning())
}

func TestGRPCServer_HealthService(t *testing.T) {
	health := observability.NewHealthManager(time.Second)
	cfg := DefaultGRPCConfig()
	cfg.Address = "127.0.0.1:0"
	server := NewGRPCServer(cfg, health, nil)

	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	conn, err := grpc.NewClient(server.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	assert.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "ordering"})
		return err == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	assert.False(t, server.IsRunning())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultRESTConfig().Validate())
	assert.NoError(t, DefaultGRPCConfig().Validate())
	assert.Error(t, RESTConfig{}.Validate())
	assert.Error(t, GRPCConfig{}.Validate())
}
