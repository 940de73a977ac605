// Package app собирает сервис заказов из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/adapters/messagebus"
	transportadapter "github.com/akriventsev/ordering/framework/adapters/transport"
	"github.com/akriventsev/ordering/framework/container"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/framework/idempotency"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/framework/scheduler"
	"github.com/akriventsev/ordering/internal/config"
	"github.com/akriventsev/ordering/internal/ordering/api"
	"github.com/akriventsev/ordering/internal/ordering/application"
	"github.com/akriventsev/ordering/internal/ordering/collaborators"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// App собранный сервис
type App struct {
	config    *config.Config
	logger    *zap.Logger
	container *container.Container
	health    *observability.HealthManager
	rest      *transportadapter.RESTServer
	grpc      *transportadapter.GRPCServer

	// Orders сервис команд, доступный встраивающему коду и тестам
	Orders *application.OrderService
	// Catalog симулятор каталога, nil если симуляторы выключены
	Catalog *collaborators.Catalog
}

// New собирает сервис. Подключения к хранилищу открываются сразу,
// остальные компоненты запускаются в Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	a := &App{
		config:    cfg,
		logger:    logger,
		container: container.NewContainer(&container.Config{ShutdownTimeout: cfg.HTTP.ShutdownTimeout}, logger),
		health:    observability.NewHealthManager(5 * time.Second),
	}
	if err := a.build(ctx); err != nil {
		_ = a.container.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config
	logger := a.logger

	tracing, err := observability.NewTracingManager(cfg.TracingConfig())
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	a.container.Add("tracing", tracing)

	if cfg.Metrics.Enabled {
		provider, err := metrics.SetupMetrics(cfg.MetricsConfig())
		if err != nil {
			return fmt.Errorf("failed to init metrics: %w", err)
		}
		a.container.OnShutdown("metrics", func(ctx context.Context) error {
			return metrics.ShutdownMetrics(ctx, provider)
		})
	}
	m, err := metrics.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	st, err := openStores(ctx, cfg, a.container, a.health, logger)
	if err != nil {
		return err
	}

	busType, busConfig := cfg.MessageBusConfig()
	adapter, err := messagebus.NewMessageBusFactory().Create(busType, busConfig)
	if err != nil {
		return fmt.Errorf("failed to create %s message bus: %w", busType, err)
	}
	a.container.AddComponent(adapter)
	if hc, ok := adapter.(core.HealthCheckable); ok {
		a.health.RegisterHealthCheck(observability.NewHealthCheck(adapter.Name(), hc.HealthCheck))
	}

	codec := domain.EventCodec{}
	router := events.NewSubjectRouter(cfg.Bus.SubjectPrefix)
	poller := scheduler.NewPoller(st.outbox, adapter, cfg.PollerConfig(), logger, scheduler.WithMetrics(m))
	bus := events.NewDurableBus(st.outbox, codec, router,
		events.WithNotifier(poller),
		events.WithBusLogger(logger),
		events.WithBusMetrics(m))

	gatewayOpts := []idempotency.GatewayOption{
		idempotency.WithLogger(logger),
		idempotency.WithMetrics(m),
	}
	if cfg.Cache.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		cache := idempotency.NewRedisCache(client, cfg.CacheConfig())
		gatewayOpts = append(gatewayOpts, idempotency.WithCache(cache))
		a.health.RegisterHealthCheck(observability.NewHealthCheck("idempotency-cache", cache.HealthCheck))
		a.container.OnShutdown("idempotency-cache", func(ctx context.Context) error {
			return client.Close()
		})
	}
	gateway := idempotency.NewGateway(st.requests, st.tx, gatewayOpts...)

	opts := []application.Option{
		application.WithLogger(logger),
		application.WithMetrics(m),
		application.WithRetry(cfg.RetryConfig()),
	}
	a.Orders = application.NewOrderService(st.orders, st.buyers, bus, gateway, opts...)
	handlers := application.NewOrderEventHandlers(st.orders, st.tx, bus, a.Orders, opts...)
	gracePeriod := application.NewGracePeriodSaga(st.sagas, st.tx, bus, cfg.SagaConfig(), opts...)

	registry := events.NewRegistry()
	if err := application.RegisterOrderHandlers(registry, handlers); err != nil {
		return err
	}
	if err := application.RegisterSaga(registry, gracePeriod); err != nil {
		return err
	}
	if cfg.Ordering.SimulateCollaborators {
		a.Catalog = collaborators.NewCatalog(bus, cfg.Ordering.Stock, logger)
		payment := collaborators.NewPayment(bus, cfg.Ordering.PaymentSucceeds, logger)
		if err := collaborators.Register(registry, a.Catalog, payment); err != nil {
			return err
		}
	}

	dispatcher := events.NewDispatcher(cfg.DispatcherConfig(), adapter, registry, codec, router,
		events.WithDispatcherLogger(logger),
		events.WithDispatcherMetrics(m))
	a.container.AddComponent(dispatcher)
	a.container.AddComponent(poller)

	if cfg.Sweeper.Enabled {
		sweeper := application.NewGracePeriodSweeper(st.orders, bus, cfg.SweeperConfig(), opts...)
		a.container.AddComponent(sweeper)
	}

	restOpts := []transportadapter.RESTOption{
		transportadapter.WithRESTLogger(logger),
		transportadapter.WithHealth(a.health),
	}
	if cfg.Metrics.Enabled {
		restOpts = append(restOpts, transportadapter.WithMetricsEndpoint())
	}
	a.rest = transportadapter.NewRESTServer(cfg.RESTConfig(), restOpts...)
	api.NewHandler(a.Orders, logger).RegisterRoutes(a.rest.Router())
	a.container.AddComponent(a.rest)

	if cfg.GRPC.Enabled {
		a.grpc = transportadapter.NewGRPCServer(cfg.GRPCConfig(), a.health, logger)
		a.container.AddComponent(a.grpc)
	}
	return nil
}

// Start запускает компоненты в порядке зависимостей
func (a *App) Start(ctx context.Context) error {
	if err := a.container.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("ordering service started",
		zap.String("storage", a.config.Storage.Driver),
		zap.String("bus", a.config.Bus.Driver),
		zap.String("http", a.rest.Addr()),
		zap.Strings("components", a.container.Names()))
	return nil
}

// Stop останавливает компоненты в обратном порядке
func (a *App) Stop(ctx context.Context) error {
	err := a.container.Shutdown(ctx)
	a.logger.Info("ordering service stopped")
	return err
}

// Run запускает сервис и блокируется до отмены ctx
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop(context.WithoutCancel(ctx))
}

// HTTPAddr адрес HTTP сервера
func (a *App) HTTPAddr() string {
	return a.rest.Addr()
}

// GRPCAddr адрес gRPC сервера, пустой если gRPC выключен
func (a *App) GRPCAddr() string {
	if a.grpc == nil {
		return ""
	}
	return a.grpc.Addr()
}
