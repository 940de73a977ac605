package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/framework/transport"
)

// DispatcherConfig конфигурация Dispatcher
type DispatcherConfig struct {
	// Service префикс имен групп потребителей
	Service     string
	RetryPolicy transport.RetryPolicy
}

// DefaultDispatcherConfig возвращает конфигурацию по умолчанию
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Service:     "ordering",
		RetryPolicy: transport.DefaultRetryPolicy(),
	}
}

// Dispatcher подписывает каждый зарегистрированный обработчик на subject его типа
// отдельной группой потребителей, декодирует сообщения и вызывает обработчики.
// Ошибка обработчика возвращается транспорту для повторной доставки.
type Dispatcher struct {
	config     DispatcherConfig
	subscriber transport.Subscriber
	registry   *Registry
	codec      Codec
	router     SubjectRouter
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	running  bool
	subjects []string
}

// DispatcherOption опция Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger устанавливает логгер
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics подключает метрики
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher создает новый Dispatcher
func NewDispatcher(config DispatcherConfig, subscriber transport.Subscriber, registry *Registry, codec Codec, router SubjectRouter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		config:     config,
		subscriber: subscriber,
		registry:   registry,
		codec:      codec,
		router:     router,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start подписывает обработчики (реализация core.Lifecycle)
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	for _, reg := range d.registry.Registrations() {
		subject := d.router.Subject(reg.Handler.EventType())
		opts := []transport.MessageHandlerOption{transport.WithQueue(d.queueName(reg.Name))}
		if d.config.RetryPolicy != nil {
			opts = append(opts, transport.WithRetryPolicy(d.config.RetryPolicy))
		}
		if err := d.subscriber.Subscribe(ctx, subject, d.messageHandler(reg), opts...); err != nil {
			return fmt.Errorf("failed to subscribe handler %s to %s: %w", reg.Name, subject, err)
		}
		d.subjects = append(d.subjects, subject)
		d.logger.Info("handler subscribed",
			zap.String("handler", reg.Name),
			zap.String("subject", subject))
	}

	d.running = true
	return nil
}

// Stop отписывает обработчики (реализация core.Lifecycle)
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	seen := make(map[string]struct{}, len(d.subjects))
	for _, subject := range d.subjects {
		if _, ok := seen[subject]; ok {
			continue
		}
		seen[subject] = struct{}{}
		if err := d.subscriber.Unsubscribe(subject); err != nil {
			d.logger.Warn("failed to unsubscribe", zap.String("subject", subject), zap.Error(err))
		}
	}
	d.subjects = nil
	d.running = false
	return nil
}

// IsRunning проверяет, запущен ли Dispatcher
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Name возвращает имя компонента
func (d *Dispatcher) Name() string {
	return "event-dispatcher"
}

// Type возвращает тип компонента
func (d *Dispatcher) Type() core.ComponentType {
	return core.ComponentTypeHandler
}

func (d *Dispatcher) queueName(handlerName string) string {
	if d.config.Service == "" {
		return handlerName
	}
	return d.config.Service + "." + handlerName
}

func (d *Dispatcher) messageHandler(reg Registration) transport.MessageHandler {
	return func(ctx context.Context, msg *transport.Message) error {
		// обработчик открывает собственную единицу работы
		ctx = core.DetachTx(ctx)

		eventType := msg.Header(transport.HeaderEventType)
		if eventType == "" {
			eventType = strings.TrimPrefix(msg.Subject, d.router.Prefix+".")
		}

		event, err := d.codec.Decode(eventType, msg.Data)
		if err != nil {
			if core.HasCode(err, core.ErrUnknownEvent) {
				d.logger.Warn("dropping unknown event",
					zap.String("event_type", eventType),
					zap.String("subject", msg.Subject))
				return nil
			}
			// повторная доставка не исправит поврежденное сообщение
			d.logger.Error("dropping malformed event",
				zap.String("event_type", eventType),
				zap.String("event_id", msg.Header(transport.HeaderEventID)),
				zap.Error(err))
			return nil
		}

		start := time.Now()
		err = observability.TraceEvent(ctx, eventType, reg.Name, msg.Headers, func(ctx context.Context) error {
			return reg.Handler.Handle(ctx, event)
		})
		d.metrics.RecordEventHandled(ctx, eventType, reg.Name, time.Since(start), err == nil)

		if err != nil {
			observability.LoggerWithTrace(ctx, d.logger).Warn("event handler failed",
				zap.String("handler", reg.Name),
				zap.String("event_type", eventType),
				zap.String("event_id", event.EventID()),
				zap.String("attempt", msg.Header(transport.HeaderAttempt)),
				zap.Error(err))
			return err
		}
		return nil
	}
}
