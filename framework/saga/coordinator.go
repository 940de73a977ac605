package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
)

// Outcome результат применения входа к саге
type Outcome string

const (
	OutcomeStarted          Outcome = "started"
	OutcomeDuplicateStart   Outcome = "duplicate_start"
	OutcomeHandled          Outcome = "handled"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeNotFound         Outcome = "not_found"
)

// StepFunc изменяет состояние экземпляра и публикует события через ctx.
// Ошибка откатывает единицу работы.
type StepFunc[S any] func(ctx context.Context, instance *Instance[S]) error

type options struct {
	retry   core.RetryConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// Option опция Coordinator
type Option func(*options)

// WithRetry устанавливает повторы при конфликте версий
func WithRetry(cfg core.RetryConfig) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithLogger устанавливает логгер
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
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

var errDuplicateStart = errors.New("saga already started")

// Coordinator применяет шаги к экземплярам саги одного типа
type Coordinator[S any] struct {
	sagaType string
	store    Store[S]
	tx       core.Transactor
	opts     options
}

// NewCoordinator создает новый Coordinator
func NewCoordinator[S any](sagaType string, store Store[S], tx core.Transactor, opts ...Option) *Coordinator[S] {
	o := options{
		retry:  core.DefaultRetryConfig(),
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator[S]{
		sagaType: sagaType,
		store:    store,
		tx:       tx,
		opts:     o,
	}
}

// Type возвращает тип саги
func (c *Coordinator[S]) Type() string {
	return c.sagaType
}

// Start создает экземпляр с ключом id и выполняет onStart.
// Повторный старт ничего не меняет и ничего не публикует.
func (c *Coordinator[S]) Start(ctx context.Context, id string, initial S, onStart StepFunc[S]) (Outcome, error) {
	if id == "" {
		return "", core.NewError(core.ErrValidationFailed, "saga correlation id cannot be empty")
	}

	err := c.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := c.store.Load(ctx, id); err == nil {
			return errDuplicateStart
		} else if !core.IsNotFound(err) {
			return err
		}

		now := c.opts.clock().UTC()
		instance := &Instance[S]{
			ID:        id,
			Type:      c.sagaType,
			State:     initial,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if onStart != nil {
			if err := onStart(ctx, instance); err != nil {
				return err
			}
		}
		if err := c.store.Insert(ctx, instance); err != nil {
			if core.HasCode(err, core.ErrAlreadyExists) {
				return errDuplicateStart
			}
			return err
		}
		return nil
	})

	switch {
	case errors.Is(err, errDuplicateStart):
		c.opts.logger.Debug("duplicate saga start ignored",
			zap.String("saga_type", c.sagaType), zap.String("correlation_id", id))
		c.record(ctx, OutcomeDuplicateStart)
		return OutcomeDuplicateStart, nil
	case err != nil:
		return "", fmt.Errorf("failed to start %s saga %s: %w", c.sagaType, id, err)
	}

	c.record(ctx, OutcomeStarted)
	return OutcomeStarted, nil
}

// Handle загружает экземпляр, применяет step и сохраняет его по версии.
// Конфликт версий повторяет весь шаг со свежего чтения.
// Завершенный экземпляр не передается в step.
func (c *Coordinator[S]) Handle(ctx context.Context, id string, step StepFunc[S]) (Outcome, error) {
	var outcome Outcome

	err := core.RetryOnConflict(ctx, c.opts.retry, func(ctx context.Context) error {
		return c.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			instance, err := c.store.Load(ctx, id)
			if core.IsNotFound(err) {
				outcome = OutcomeNotFound
				return nil
			}
			if err != nil {
				return err
			}
			if instance.Completed {
				outcome = OutcomeAlreadyCompleted
				return nil
			}

			expected := instance.Version
			if err := step(ctx, instance); err != nil {
				return err
			}
			instance.Version = expected + 1
			instance.UpdatedAt = c.opts.clock().UTC()
			if err := c.store.Update(ctx, instance, expected); err != nil {
				return err
			}
			outcome = OutcomeHandled
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to handle %s saga %s: %w", c.sagaType, id, err)
	}

	switch outcome {
	case OutcomeNotFound:
		c.opts.logger.Warn("no saga for correlation id, input dropped",
			zap.String("saga_type", c.sagaType), zap.String("correlation_id", id))
	case OutcomeAlreadyCompleted:
		c.opts.logger.Debug("saga already completed, input ignored",
			zap.String("saga_type", c.sagaType), zap.String("correlation_id", id))
	}
	c.record(ctx, outcome)
	return outcome, nil
}

// Load возвращает экземпляр
func (c *Coordinator[S]) Load(ctx context.Context, id string) (*Instance[S], error) {
	return c.store.Load(ctx, id)
}

func (c *Coordinator[S]) record(ctx context.Context, outcome Outcome) {
	c.opts.metrics.RecordSagaStep(ctx, c.sagaType, string(outcome))
}
