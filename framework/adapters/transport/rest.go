// Package transport предоставляет HTTP и gRPC серверы с жизненным циклом core.Lifecycle.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/observability"
)

// RESTConfig конфигурация REST сервера
type RESTConfig struct {
	Address         string
	ServiceName     string
	MetricsPath     string
	HealthPath      string
	ShutdownTimeout time.Duration
}

// DefaultRESTConfig возвращает конфигурацию REST по умолчанию
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Address:         ":8080",
		ServiceName:     "ordering",
		MetricsPath:     "/metrics",
		HealthPath:      "/healthz",
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c RESTConfig) Validate() error {
	if c.Address == "" {
		return core.NewError(core.ErrInvalidConfig, "http address cannot be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return core.NewError(core.ErrInvalidConfig, "http shutdown timeout must be positive")
	}
	return nil
}

// RESTServer gin сервер с трассировкой, correlation id, метриками и health check
type RESTServer struct {
	config RESTConfig
	engine *gin.Engine
	logger *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// RESTOption опция RESTServer
type RESTOption func(*RESTServer)

// WithRESTLogger устанавливает логгер
func WithRESTLogger(logger *zap.Logger) RESTOption {
	return func(r *RESTServer) {
		r.logger = logger
	}
}

// WithHealth подключает health endpoint
func WithHealth(health *observability.HealthManager) RESTOption {
	return func(r *RESTServer) {
		if r.config.HealthPath != "" {
			r.engine.GET(r.config.HealthPath, health.HealthCheckHandler())
		}
	}
}

// WithMetricsEndpoint подключает endpoint Prometheus
func WithMetricsEndpoint() RESTOption {
	return func(r *RESTServer) {
		if r.config.MetricsPath != "" {
			r.engine.GET(r.config.MetricsPath, gin.WrapH(metrics.Handler()))
		}
	}
}

// NewRESTServer создает сервер. Маршруты регистрируются через Router до Start.
func NewRESTServer(config RESTConfig, opts ...RESTOption) *RESTServer {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(observability.CorrelationIDMiddleware())
	engine.Use(observability.HTTPTracingMiddleware(config.ServiceName))

	r := &RESTServer{
		config: config,
		engine: engine,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Router возвращает gin engine для регистрации маршрутов
func (r *RESTServer) Router() *gin.Engine {
	return r.engine
}

// Addr возвращает адрес, на котором слушает сервер
func (r *RESTServer) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return r.config.Address
	}
	return r.listener.Addr().String()
}

// Start запускает сервер (реализация core.Lifecycle)
func (r *RESTServer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	listener, err := net.Listen("tcp", r.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.config.Address, err)
	}
	r.listener = listener
	r.server = &http.Server{
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server := r.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", zap.Error(err))
		}
	}()

	r.running = true
	r.logger.Info("http server started", zap.String("address", listener.Addr().String()))
	return nil
}

// Stop останавливает сервер (реализация core.Lifecycle)
func (r *RESTServer) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}
	r.running = false

	shutdownCtx, cancel := context.WithTimeout(ctx, r.config.ShutdownTimeout)
	defer cancel()
	return r.server.Shutdown(shutdownCtx)
}

// IsRunning проверяет, запущен ли сервер (реализация core.Lifecycle)
func (r *RESTServer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RESTServer) Name() string {
	return "rest-server"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RESTServer) Type() core.ComponentType {
	return core.ComponentTypeTransport
}
