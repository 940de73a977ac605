package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/framework/scheduler"
	"github.com/akriventsev/ordering/framework/transport"
)

// Notifier будит доставщик отложенных сообщений
type Notifier interface {
	Notify()
}

// DurableBus реализация Bus поверх хранилища отложенных сообщений.
// Publish и ScheduleTimeout пишут в хранилище в транзакции из контекста,
// в транспорт сообщения передает scheduler.Poller после фиксации.
type DurableBus struct {
	store    scheduler.Store
	codec    Codec
	router   SubjectRouter
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// DurableBusOption опция DurableBus
type DurableBusOption func(*DurableBus)

// WithNotifier подключает немедленное пробуждение доставщика
func WithNotifier(n Notifier) DurableBusOption {
	return func(b *DurableBus) {
		b.notifier = n
	}
}

// WithBusLogger устанавливает логгер
func WithBusLogger(logger *zap.Logger) DurableBusOption {
	return func(b *DurableBus) {
		b.logger = logger
	}
}

// WithBusMetrics подключает метрики
func WithBusMetrics(m *metrics.Metrics) DurableBusOption {
	return func(b *DurableBus) {
		b.metrics = m
	}
}

// WithBusClock подменяет источник времени
func WithBusClock(clock func() time.Time) DurableBusOption {
	return func(b *DurableBus) {
		b.clock = clock
	}
}

// NewDurableBus создает новую шину
func NewDurableBus(store scheduler.Store, codec Codec, router SubjectRouter, opts ...DurableBusOption) *DurableBus {
	b := &DurableBus{
		store:  store,
		codec:  codec,
		router: router,
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish публикует событие
func (b *DurableBus) Publish(ctx context.Context, event Event) error {
	return b.enqueue(ctx, event.AggregateID(), 0, event)
}

// ScheduleTimeout откладывает доставку события
func (b *DurableBus) ScheduleTimeout(ctx context.Context, correlationID string, delay time.Duration, payload Event) error {
	if delay < 0 {
		delay = 0
	}
	return b.enqueue(ctx, correlationID, delay, payload)
}

func (b *DurableBus) enqueue(ctx context.Context, correlationID string, delay time.Duration, event Event) error {
	data, err := b.codec.Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.EventType(), err)
	}

	headers := map[string]string{
		transport.HeaderEventType:     event.EventType(),
		transport.HeaderEventID:       event.EventID(),
		transport.HeaderCorrelationID: correlationID,
	}
	observability.InjectMessageHeaders(ctx, headers)

	now := b.clock().UTC()
	msg := &scheduler.Message{
		ID:            event.EventID(),
		CorrelationID: correlationID,
		Subject:       b.router.Subject(event.EventType()),
		EventType:     event.EventType(),
		Payload:       data,
		Headers:       headers,
		FireAt:        now.Add(delay),
		CreatedAt:     now,
	}
	if err := b.store.Schedule(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue event %s: %w", event.EventType(), err)
	}

	b.logger.Debug("event enqueued",
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID()),
		zap.String("correlation_id", correlationID),
		zap.Duration("delay", delay))
	b.metrics.RecordEventPublished(ctx, event.EventType())

	if delay == 0 && b.notifier != nil {
		repository.OnCommit(ctx, b.notifier.Notify)
	}
	return nil
}
