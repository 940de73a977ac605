// Package transport предоставляет абстракции для работы с message bus.
package transport

import (
	"context"
	"time"
)

// Стандартные заголовки сообщений
const (
	HeaderEventType     = "event-type"
	HeaderEventID       = "event-id"
	HeaderCorrelationID = "correlation-id"
	HeaderAttempt       = "attempt"
)

// Message представляет сообщение в очереди
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// Header возвращает значение заголовка или пустую строку
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// MessageHandler обработчик сообщений.
// Ошибка означает, что сообщение должно быть доставлено повторно.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscriber подписчик на сообщения
type Subscriber interface {
	// Subscribe подписывается на subject и вызывает handler при получении сообщения
	Subscribe(ctx context.Context, subject string, handler MessageHandler, opts ...MessageHandlerOption) error
	// Unsubscribe отписывается от subject
	Unsubscribe(subject string) error
}

// Publisher публикатор сообщений
type Publisher interface {
	// Publish публикует сообщение в subject
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// MessageBus объединяет возможности публикации и подписки
type MessageBus interface {
	Publisher
	Subscriber
}

// RetryPolicy политика повторов для сообщений
type RetryPolicy interface {
	// ShouldRetry определяет, нужно ли повторить попытку
	ShouldRetry(attempt int, err error) bool
	// GetDelay возвращает задержку перед повтором
	GetDelay(attempt int) time.Duration
	// GetMaxAttempts возвращает максимальное количество попыток
	GetMaxAttempts() int
}

// ExponentialBackoffRetryPolicy политика повторов с экспоненциальной задержкой
type ExponentialBackoffRetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// DefaultRetryPolicy возвращает политику повторов по умолчанию
func DefaultRetryPolicy() *ExponentialBackoffRetryPolicy {
	return &ExponentialBackoffRetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		MaxAttempts:  10,
	}
}

// ShouldRetry определяет, нужно ли повторить попытку
func (p *ExponentialBackoffRetryPolicy) ShouldRetry(attempt int, err error) bool {
	return attempt < p.MaxAttempts && err != nil
}

// GetDelay возвращает задержку перед повтором
func (p *ExponentialBackoffRetryPolicy) GetDelay(attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * float64(attempt) * p.Multiplier)
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// GetMaxAttempts возвращает максимальное количество попыток
func (p *ExponentialBackoffRetryPolicy) GetMaxAttempts() int {
	return p.MaxAttempts
}

// MessageHandlerOption опции для обработчика сообщений
type MessageHandlerOption func(*HandlerOptions)

// HandlerOptions итоговые опции подписки
type HandlerOptions struct {
	// Queue группа потребителей: каждое сообщение получает один член группы
	Queue       string
	RetryPolicy RetryPolicy
}

// WithQueue указывает очередь для обработчика
func WithQueue(queue string) MessageHandlerOption {
	return func(opts *HandlerOptions) {
		opts.Queue = queue
	}
}

// WithRetryPolicy устанавливает политику повторов
func WithRetryPolicy(policy RetryPolicy) MessageHandlerOption {
	return func(opts *HandlerOptions) {
		opts.RetryPolicy = policy
	}
}

// ApplyHandlerOptions собирает опции подписки
func ApplyHandlerOptions(opts ...MessageHandlerOption) HandlerOptions {
	options := HandlerOptions{RetryPolicy: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
