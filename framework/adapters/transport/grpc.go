package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/observability"
)

// GRPCConfig конфигурация gRPC сервера
type GRPCConfig struct {
	Address               string
	ServiceName           string
	MaxConcurrentStreams  uint32
	MaxReceiveMessageSize int
	// HealthSyncInterval период обновления статуса health service
	HealthSyncInterval time.Duration
}

// DefaultGRPCConfig возвращает конфигурацию gRPC по умолчанию
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		Address:               ":50051",
		ServiceName:           "ordering",
		MaxConcurrentStreams:  100,
		MaxReceiveMessageSize: 4 * 1024 * 1024, // 4MB
		HealthSyncInterval:    10 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c GRPCConfig) Validate() error {
	if c.Address == "" {
		return core.NewError(core.ErrInvalidConfig, "grpc address cannot be empty")
	}
	if c.HealthSyncInterval <= 0 {
		return core.NewError(core.ErrInvalidConfig, "grpc health sync interval must be positive")
	}
	return nil
}

// GRPCServer gRPC сервер со стандартным health service.
// Статус health service периодически синхронизируется с HealthManager.
type GRPCServer struct {
	config GRPCConfig
	server *grpc.Server
	health *observability.HealthManager
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewGRPCServer создает gRPC сервер
func NewGRPCServer(config GRPCConfig, health *observability.HealthManager, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []grpc.ServerOption{
		grpc.MaxConcurrentStreams(config.MaxConcurrentStreams),
		grpc.MaxRecvMsgSize(config.MaxReceiveMessageSize),
		grpc.UnaryInterceptor(observability.GRPCTracingInterceptor()),
	}
	server := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(server, health.GRPCServer())

	return &GRPCServer{
		config: config,
		server: server,
		health: health,
		logger: logger,
	}
}

// Server возвращает grpc.Server для регистрации сервисов до Start
func (g *GRPCServer) Server() *grpc.Server {
	return g.server
}

// Addr возвращает адрес, на котором слушает сервер
func (g *GRPCServer) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return g.config.Address
	}
	return g.listener.Addr().String()
}

// Start запускает адаптер (реализация core.Lifecycle)
func (g *GRPCServer) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}

	listener, err := net.Listen("tcp", g.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.config.Address, err)
	}
	g.listener = listener
	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	go func() {
		if err := g.server.Serve(listener); err != nil {
			g.logger.Error("grpc server failed", zap.Error(err))
		}
	}()
	go g.syncHealth(context.WithoutCancel(ctx), g.stop, g.done)

	g.running = true
	g.logger.Info("grpc server started", zap.String("address", listener.Addr().String()))
	return nil
}

func (g *GRPCServer) syncHealth(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.config.HealthSyncInterval)
	defer ticker.Stop()

	g.health.SyncGRPC(ctx, g.config.ServiceName)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.health.SyncGRPC(ctx, g.config.ServiceName)
		}
	}
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (g *GRPCServer) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	close(g.stop)
	done := g.done
	g.mu.Unlock()

	<-done
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		g.server.Stop()
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (g *GRPCServer) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Name возвращает имя компонента (реализация core.Component)
func (g *GRPCServer) Name() string {
	return "grpc-server"
}

// Type возвращает тип компонента (реализация core.Component)
func (g *GRPCServer) Type() core.ComponentType {
	return core.ComponentTypeTransport
}
