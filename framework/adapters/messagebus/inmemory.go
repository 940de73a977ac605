// Package messagebus предоставляет адаптеры для различных message brokers.
package messagebus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/transport"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	// EnableOrdering синхронная доставка в горутине публикатора (FIFO).
	// Ошибка обработчика после исчерпания повторов возвращается из Publish.
	// В асинхронном режиме Publish не ждет обработчиков, такая ошибка
	// только логируется и учитывается в метриках.
	EnableOrdering bool
}

// DefaultInMemoryConfig возвращает конфигурацию InMemory по умолчанию
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{
		EnableOrdering: false,
	}
}

type inMemorySubscription struct {
	pattern string
	handler transport.MessageHandler
	options transport.HandlerOptions
}

// InMemoryAdapter реализация MessageBus в памяти.
// Подписки с одинаковой очередью образуют группу: сообщение получает один ее член.
// Ошибка обработчика приводит к повторной доставке по RetryPolicy подписки.
type InMemoryAdapter struct {
	config      InMemoryConfig
	subscribers map[string][]*inMemorySubscription
	metrics     *metrics.Metrics
	logger      *zap.Logger
	mu          sync.RWMutex
	running     bool
	rr          uint64
	inflight    sync.WaitGroup
}

// InMemoryOption опция InMemory адаптера
type InMemoryOption func(*InMemoryAdapter)

// WithInMemoryLogger задает логгер для ошибок асинхронной доставки
func WithInMemoryLogger(logger *zap.Logger) InMemoryOption {
	return func(i *InMemoryAdapter) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInMemoryAdapter создает новый InMemory адаптер
func NewInMemoryAdapter(config InMemoryConfig, opts ...InMemoryOption) *InMemoryAdapter {
	adapter := &InMemoryAdapter{
		config:      config,
		subscribers: make(map[string][]*inMemorySubscription),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(adapter)
	}

	m, err := metrics.NewMetrics()
	if err != nil {
		// nil *Metrics пропускает запись
		adapter.logger.Warn("in-memory bus metrics disabled", zap.Error(err))
		m = nil
	}
	adapter.metrics = m
	return adapter
}

// Start запускает адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.running = true
	return nil
}

// Stop останавливает адаптер и ждет завершения асинхронных доставок
func (i *InMemoryAdapter) Stop(ctx context.Context) error {
	i.mu.Lock()
	i.running = false
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (i *InMemoryAdapter) IsRunning() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.running
}

// Name возвращает имя компонента (реализация core.Component)
func (i *InMemoryAdapter) Name() string {
	return "inmemory-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (i *InMemoryAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в subject
func (i *InMemoryAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()
	targets := i.route(subject)
	if len(targets) == 0 {
		return nil
	}

	var errs []string
	for _, sub := range targets {
		msg := &transport.Message{
			Subject: subject,
			Data:    data,
			Headers: copyHeaders(headers),
		}

		if i.config.EnableOrdering {
			if err := i.deliver(ctx, sub, msg); err != nil {
				errs = append(errs, err.Error())
			}
			continue
		}

		i.inflight.Add(1)
		go func(sub *inMemorySubscription, msg *transport.Message) {
			defer i.inflight.Done()
			ctx := context.WithoutCancel(ctx)
			if err := i.deliver(ctx, sub, msg); err != nil {
				i.metrics.RecordTransport(ctx, "inmemory", time.Since(start), false)
				i.logger.Error("async delivery failed, message dropped",
					zap.String("subject", msg.Subject),
					zap.String("queue", sub.options.Queue),
					zap.Error(err))
			}
		}(sub, msg)
	}

	if len(errs) > 0 {
		i.metrics.RecordTransport(ctx, "inmemory", time.Since(start), false)
		return fmt.Errorf("delivery to %s failed: %s", subject, strings.Join(errs, "; "))
	}
	i.metrics.RecordTransport(ctx, "inmemory", time.Since(start), true)
	return nil
}

// route выбирает получателей: все подписки без очереди и по одной из каждой группы
func (i *InMemoryAdapter) route(subject string) []*inMemorySubscription {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var targets []*inMemorySubscription
	groups := make(map[string][]*inMemorySubscription)
	var groupOrder []string

	for pattern, subs := range i.subscribers {
		if pattern != subject && !matchSubject(subject, pattern) {
			continue
		}
		for _, sub := range subs {
			if sub.options.Queue == "" {
				targets = append(targets, sub)
				continue
			}
			if _, ok := groups[sub.options.Queue]; !ok {
				groupOrder = append(groupOrder, sub.options.Queue)
			}
			groups[sub.options.Queue] = append(groups[sub.options.Queue], sub)
		}
	}

	for _, queue := range groupOrder {
		members := groups[queue]
		idx := atomic.AddUint64(&i.rr, 1) % uint64(len(members))
		targets = append(targets, members[idx])
	}
	return targets
}

// deliver вызывает обработчик с повторами по политике подписки
func (i *InMemoryAdapter) deliver(ctx context.Context, sub *inMemorySubscription, msg *transport.Message) error {
	policy := sub.options.RetryPolicy
	attempt := 1
	for {
		msg.Headers[transport.HeaderAttempt] = strconv.Itoa(attempt)
		err := sub.handler(ctx, msg)
		if err == nil {
			return nil
		}
		if policy == nil || !policy.ShouldRetry(attempt, err) {
			return err
		}

		select {
		case <-time.After(policy.GetDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
		attempt++
	}
}

// Subscribe подписывается на subject
func (i *InMemoryAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler, opts ...transport.MessageHandlerOption) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.subscribers[subject] = append(i.subscribers[subject], &inMemorySubscription{
		pattern: subject,
		handler: handler,
		options: transport.ApplyHandlerOptions(opts...),
	})
	return nil
}

// Unsubscribe отписывается от subject
func (i *InMemoryAdapter) Unsubscribe(subject string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.subscribers, subject)
	return nil
}

// GetSubscriberCount возвращает количество подписчиков для subject (для тестирования)
func (i *InMemoryAdapter) GetSubscriberCount(subject string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.subscribers[subject])
}

// matchSubject проверяет соответствие subject с wildcard паттерном
// Поддерживает NATS-style wildcards: * (один токен) и > (все токены)
func matchSubject(subject, pattern string) bool {
	subjectParts := strings.Split(subject, ".")
	patternParts := strings.Split(pattern, ".")

	for i, part := range patternParts {
		if part == ">" {
			return i < len(subjectParts)
		}
		if i >= len(subjectParts) {
			return false
		}
		if part != "*" && part != subjectParts[i] {
			return false
		}
	}

	return len(patternParts) == len(subjectParts)
}

func copyHeaders(headers map[string]string) map[string]string {
	result := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		result[k] = v
	}
	return result
}
