package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/ordering/framework/adapters/messagebus"
	"github.com/akriventsev/ordering/framework/core"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, BusMemory, cfg.Bus.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Ordering.GracePeriod)
}

func TestLoad_WithoutFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().HTTP.Address, cfg.HTTP.Address)
	assert.Equal(t, Default().Poller.Interval, cfg.Poller.Interval)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ordering.yaml")
	content := `
storage:
  driver: postgres
  postgres:
    dsn: postgres://u:p@db:5432/ordering
bus:
  driver: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
ordering:
  grace_period: 2m
  payment_succeeds: false
  stock:
    "7": 10
sweeper:
  interval: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ORDERING_HTTP_ADDRESS", ":9090")
	t.Setenv("ORDERING_RETRY_MAX_RETRIES", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/ordering", cfg.Storage.Postgres.DSN)
	assert.Equal(t, 25, cfg.Storage.Postgres.MaxOpenConns)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Bus.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Ordering.GracePeriod)
	assert.False(t, cfg.Ordering.PaymentSucceeds)
	assert.Equal(t, 10, cfg.Ordering.Stock["7"])
	assert.Equal(t, 10*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, ":9090", cfg.HTTP.Address)
	assert.Equal(t, uint64(7), cfg.Retry.MaxRetries)

	assert.Equal(t, 2*time.Minute, cfg.SweeperConfig().GracePeriod)
	assert.Equal(t, 2*time.Minute, cfg.SagaConfig().GracePeriod)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = StoragePostgres; c.Storage.Postgres.DSN = "" }},
		{"mongo without database", func(c *Config) { c.Storage.Driver = StorageMongoDB; c.Storage.Mongo.Database = "" }},
		{"unknown bus", func(c *Config) { c.Bus.Driver = "sqs" }},
		{"empty subject prefix", func(c *Config) { c.Bus.SubjectPrefix = "" }},
		{"cache without addr", func(c *Config) { c.Cache.Enabled = true; c.Cache.Addr = "" }},
		{"zero grace period", func(c *Config) { c.Ordering.GracePeriod = 0 }},
		{"negative stock", func(c *Config) { c.Ordering.Stock = map[string]int{"7": -1} }},
		{"zero sweeper interval", func(c *Config) { c.Sweeper.Interval = 0 }},
		{"zero poller batch", func(c *Config) { c.Poller.BatchSize = 0 }},
		{"retry delays", func(c *Config) { c.Retry.MaxDelay = c.Retry.InitialDelay / 2 }},
		{"sampling rate", func(c *Config) { c.Tracing.SamplingRate = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, core.HasCode(err, core.ErrInvalidConfig))
		})
	}
}

func TestMessageBusConfig(t *testing.T) {
	tests := []struct {
		driver   string
		wantType string
		check    func(t *testing.T, cfg interface{})
	}{
		{BusMemory, "inmemory", func(t *testing.T, cfg interface{}) {
			assert.True(t, cfg.(messagebus.InMemoryConfig).EnableOrdering)
		}},
		{BusNATS, "nats", func(t *testing.T, cfg interface{}) {
			nats := cfg.(messagebus.NATSConfig)
			assert.Equal(t, []string{"ordering.>"}, nats.StreamSubjects)
			assert.NoError(t, nats.Validate())
		}},
		{BusKafka, "kafka", func(t *testing.T, cfg interface{}) {
			assert.NoError(t, cfg.(messagebus.KafkaConfig).Validate())
		}},
		{BusRedis, "redis", func(t *testing.T, cfg interface{}) {
			assert.Equal(t, "ordering-group", cfg.(messagebus.RedisConfig).ConsumerGroup)
		}},
		{BusRabbitMQ, "rabbitmq", func(t *testing.T, cfg interface{}) {
			assert.NoError(t, cfg.(messagebus.RabbitMQConfig).Validate())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := Default()
			cfg.Bus.Driver = tt.driver
			busType, busCfg := cfg.MessageBusConfig()
			assert.Equal(t, tt.wantType, busType)
			tt.check(t, busCfg)
		})
	}
}

func TestAdapterConfigs(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 300, cfg.PostgresConfig().ConnMaxLifetime)
	assert.Equal(t, 10, cfg.MongoConfig().Timeout)
	assert.NoError(t, cfg.PollerConfig().Validate())
	assert.NoError(t, cfg.RetryConfig().Validate())
	assert.NoError(t, cfg.RESTConfig().Validate())
	assert.NoError(t, cfg.GRPCConfig().Validate())
	assert.NoError(t, cfg.SweeperConfig().Validate())
	assert.NoError(t, cfg.SagaConfig().Validate())
	assert.Equal(t, "ordering", cfg.DispatcherConfig().Service)
	assert.Equal(t, "/metrics", cfg.RESTConfig().MetricsPath)

	cfg.Metrics.Enabled = false
	assert.Empty(t, cfg.RESTConfig().MetricsPath)
}
