package application

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
	retry   core.RetryConfig
	newID   func() string
}

// Option общая опция компонентов приложения
type Option func(*options)

// WithLogger устанавливает логгер
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics подключает метрики
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock подменяет источник времени
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithRetry задает повторы при конфликте версий
func WithRetry(cfg core.RetryConfig) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: zap.NewNop(),
		clock:  time.Now,
		retry:  core.DefaultRetryConfig(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
