package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/transport"
)

// PollerConfig конфигурация доставки отложенных сообщений
type PollerConfig struct {
	Interval      time.Duration
	BatchSize     int
	Lease         time.Duration
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// MaxAttempts после стольких неудачных попыток сообщение удаляется (0 = без ограничений)
	MaxAttempts int
}

// DefaultPollerConfig возвращает конфигурацию по умолчанию
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:      500 * time.Millisecond,
		BatchSize:     100,
		Lease:         30 * time.Second,
		RetryDelay:    time.Second,
		MaxRetryDelay: time.Minute,
	}
}

// Validate проверяет корректность конфигурации
func (c PollerConfig) Validate() error {
	if c.Interval <= 0 {
		return core.NewError(core.ErrInvalidConfig, "scheduler interval must be positive")
	}
	if c.BatchSize <= 0 {
		return core.NewError(core.ErrInvalidConfig, "scheduler batch size must be positive")
	}
	if c.Lease <= 0 {
		return core.NewError(core.ErrInvalidConfig, "scheduler lease must be positive")
	}
	if c.RetryDelay <= 0 || c.MaxRetryDelay < c.RetryDelay {
		return core.NewError(core.ErrInvalidConfig, "scheduler retry delays are inconsistent")
	}
	return nil
}

// Poller периодически забирает готовые сообщения и публикует их в транспорт.
// Доставка at-least-once: сообщение удаляется только после успешной публикации.
type Poller struct {
	store     Store
	publisher transport.Publisher
	config    PollerConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
	notify    chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// PollerOption опция Poller
type PollerOption func(*Poller)

// WithClock подменяет источник времени
func WithClock(clock func() time.Time) PollerOption {
	return func(p *Poller) {
		p.clock = clock
	}
}

// WithMetrics подключает метрики
func WithMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

// NewPoller создает новый Poller
func NewPoller(store Store, publisher transport.Publisher, config PollerConfig, logger *zap.Logger, opts ...PollerOption) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger.Named("scheduler"),
		clock:     time.Now,
		notify:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notify будит poller без ожидания следующего тика
func (p *Poller) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// RunOnce доставляет одну пачку готовых сообщений и возвращает число доставленных
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	now := p.clock()
	batch, err := p.store.ClaimDue(ctx, now, p.config.Lease, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due messages: %w", err)
	}

	delivered, failed := 0, 0
	for _, msg := range batch {
		if err := p.publisher.Publish(ctx, msg.Subject, msg.Payload, msg.Headers); err != nil {
			failed++
			p.handleFailure(ctx, msg, err)
			continue
		}
		if err := p.store.Complete(ctx, msg.ID); err != nil {
			// lease истечет, и сообщение будет доставлено повторно
			p.logger.Warn("failed to complete delivered message",
				zap.String("message_id", msg.ID), zap.Error(err))
		}
		delivered++
	}

	p.metrics.RecordScheduledRelay(ctx, delivered, failed)
	return delivered, nil
}

func (p *Poller) handleFailure(ctx context.Context, msg *Message, cause error) {
	attempts := msg.Attempts + 1
	if p.config.MaxAttempts > 0 && attempts >= p.config.MaxAttempts {
		p.logger.Error("dropping scheduled message after max attempts",
			zap.String("message_id", msg.ID),
			zap.String("event_type", msg.EventType),
			zap.String("correlation_id", msg.CorrelationID),
			zap.Int("attempts", attempts),
			zap.Error(cause))
		if err := p.store.Complete(ctx, msg.ID); err != nil {
			p.logger.Warn("failed to drop message", zap.String("message_id", msg.ID), zap.Error(err))
		}
		return
	}

	fireAt := p.clock().Add(p.backoff(attempts))
	p.logger.Warn("failed to publish scheduled message",
		zap.String("message_id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.Int("attempt", attempts),
		zap.Time("next_attempt", fireAt),
		zap.Error(cause))
	if err := p.store.Retry(ctx, msg.ID, fireAt, cause.Error()); err != nil {
		p.logger.Warn("failed to reschedule message", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (p *Poller) backoff(attempts int) time.Duration {
	b := retry.WithCappedDuration(p.config.MaxRetryDelay, retry.NewExponential(p.config.RetryDelay))
	delay := p.config.RetryDelay
	for i := 0; i < attempts && delay < p.config.MaxRetryDelay; i++ {
		delay, _ = b.Next()
	}
	return delay
}

// Start запускает цикл доставки (реализация core.Lifecycle)
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(loopCtx)
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.notify:
		}

		for {
			n, err := p.RunOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("scheduler pass failed", zap.Error(err))
				}
				break
			}
			if n < p.config.BatchSize {
				break
			}
		}
	}
}

// Stop останавливает цикл и ждет завершения текущей пачки (реализация core.Lifecycle)
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли poller (реализация core.Lifecycle)
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Name возвращает имя компонента
func (p *Poller) Name() string {
	return "scheduler-poller"
}

// Type возвращает тип компонента
func (p *Poller) Type() core.ComponentType {
	return core.ComponentTypeWorker
}
