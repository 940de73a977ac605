package config

import (
	"time"

	"github.com/akriventsev/ordering/framework/adapters/messagebus"
	"github.com/akriventsev/ordering/framework/adapters/repository"
	transportadapter "github.com/akriventsev/ordering/framework/adapters/transport"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/framework/idempotency"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/framework/scheduler"
	"github.com/akriventsev/ordering/framework/transport"
	"github.com/akriventsev/ordering/internal/ordering/application"
)

// PostgresConfig конфигурация адаптера PostgreSQL
func (c *Config) PostgresConfig() repository.PostgresConfig {
	cfg := repository.DefaultPostgresConfig()
	cfg.DSN = c.Storage.Postgres.DSN
	cfg.MaxOpenConns = c.Storage.Postgres.MaxOpenConns
	cfg.MaxIdleConns = c.Storage.Postgres.MaxIdleConns
	cfg.ConnMaxLifetime = int(c.Storage.Postgres.ConnMaxLifetime / time.Second)
	return cfg
}

// MongoConfig конфигурация адаптера MongoDB
func (c *Config) MongoConfig() repository.MongoConfig {
	cfg := repository.DefaultMongoConfig()
	cfg.URI = c.Storage.Mongo.URI
	cfg.Database = c.Storage.Mongo.Database
	cfg.Timeout = int(c.Storage.Mongo.Timeout / time.Second)
	cfg.MaxPoolSize = c.Storage.Mongo.MaxPoolSize
	return cfg
}

// MessageBusConfig возвращает тип адаптера для фабрики и его конфигурацию
func (c *Config) MessageBusConfig() (string, interface{}) {
	switch c.Bus.Driver {
	case BusNATS:
		cfg := messagebus.DefaultNATSConfig()
		cfg.URL = c.Bus.NATS.URL
		cfg.Stream = c.Bus.NATS.Stream
		cfg.StreamSubjects = []string{c.Bus.SubjectPrefix + ".>"}
		cfg.AckWait = c.Bus.NATS.AckWait
		return "nats", cfg
	case BusKafka:
		cfg := messagebus.DefaultKafkaConfig()
		cfg.Brokers = c.Bus.Kafka.Brokers
		cfg.GroupID = c.Bus.Kafka.GroupID
		return "kafka", cfg
	case BusRedis:
		cfg := messagebus.DefaultRedisConfig()
		cfg.Addr = c.Bus.Redis.Addr
		cfg.Password = c.Bus.Redis.Password
		cfg.DB = c.Bus.Redis.DB
		cfg.StreamName = c.Bus.Redis.Stream
		cfg.ConsumerGroup = c.Service.Name + "-group"
		return "redis", cfg
	case BusRabbitMQ:
		cfg := messagebus.DefaultRabbitMQConfig()
		cfg.URL = c.Bus.RabbitMQ.URL
		cfg.Exchange = c.Bus.RabbitMQ.Exchange
		cfg.PrefetchCount = c.Bus.RabbitMQ.Prefetch
		return "rabbitmq", cfg
	default:
		return "inmemory", messagebus.InMemoryConfig{EnableOrdering: true}
	}
}

// DispatcherConfig конфигурация подписки обработчиков
func (c *Config) DispatcherConfig() events.DispatcherConfig {
	cfg := events.DefaultDispatcherConfig()
	cfg.Service = c.Service.Name
	cfg.RetryPolicy = &transport.ExponentialBackoffRetryPolicy{
		InitialDelay: c.Bus.Delivery.InitialDelay,
		MaxDelay:     c.Bus.Delivery.MaxDelay,
		Multiplier:   2,
		MaxAttempts:  c.Bus.Delivery.MaxAttempts,
	}
	return cfg
}

// PollerConfig конфигурация доставки отложенных сообщений
func (c *Config) PollerConfig() scheduler.PollerConfig {
	return scheduler.PollerConfig{
		Interval:      c.Poller.Interval,
		BatchSize:     c.Poller.BatchSize,
		Lease:         c.Poller.Lease,
		RetryDelay:    c.Poller.RetryDelay,
		MaxRetryDelay: c.Poller.MaxRetryDelay,
		MaxAttempts:   c.Poller.MaxAttempts,
	}
}

// RetryConfig повторы при конфликте версий
func (c *Config) RetryConfig() core.RetryConfig {
	return core.RetryConfig{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
	}
}

// SagaConfig конфигурация саги периода отмены
func (c *Config) SagaConfig() application.GracePeriodSagaConfig {
	return application.GracePeriodSagaConfig{GracePeriod: c.Ordering.GracePeriod}
}

// SweeperConfig конфигурация sweeper
func (c *Config) SweeperConfig() application.SweeperConfig {
	return application.SweeperConfig{
		Interval:    c.Sweeper.Interval,
		GracePeriod: c.Ordering.GracePeriod,
		BatchSize:   c.Sweeper.BatchSize,
	}
}

// CacheConfig конфигурация Redis кэша идемпотентности
func (c *Config) CacheConfig() idempotency.RedisCacheConfig {
	return idempotency.RedisCacheConfig{Prefix: c.Cache.Prefix, TTL: c.Cache.TTL}
}

// RESTConfig конфигурация HTTP сервера
func (c *Config) RESTConfig() transportadapter.RESTConfig {
	cfg := transportadapter.DefaultRESTConfig()
	cfg.Address = c.HTTP.Address
	cfg.ServiceName = c.Service.Name
	cfg.ShutdownTimeout = c.HTTP.ShutdownTimeout
	cfg.MetricsPath = ""
	if c.Metrics.Enabled {
		cfg.MetricsPath = c.Metrics.Path
	}
	return cfg
}

// GRPCConfig конфигурация gRPC сервера
func (c *Config) GRPCConfig() transportadapter.GRPCConfig {
	cfg := transportadapter.DefaultGRPCConfig()
	cfg.Address = c.GRPC.Address
	cfg.ServiceName = c.Service.Name
	return cfg
}

// LogConfig конфигурация логгера
func (c *Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:       c.Logging.Level,
		Format:      c.Logging.Format,
		Development: c.Logging.Development,
	}
}

// TracingConfig конфигурация трассировки
func (c *Config) TracingConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:          c.Tracing.Enabled,
		ServiceName:      c.Service.Name,
		ServiceVersion:   c.Service.Version,
		Exporter:         c.Tracing.Exporter,
		ExporterEndpoint: c.Tracing.Endpoint,
		SamplingRate:     c.Tracing.SamplingRate,
		Environment:      c.Service.Environment,
	}
}

// MetricsConfig конфигурация метрик
func (c *Config) MetricsConfig() *metrics.MetricsConfig {
	cfg := metrics.DefaultMetricsConfig()
	cfg.Enabled = c.Metrics.Enabled
	cfg.Path = c.Metrics.Path
	cfg.ResourceAttrs = map[string]string{
		"service.name":           c.Service.Name,
		"service.version":        c.Service.Version,
		"deployment.environment": c.Service.Environment,
	}
	return &cfg
}
