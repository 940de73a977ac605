// Package events предоставляет базовые интерфейсы для работы с интеграционными событиями.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event представляет интеграционное событие
type Event interface {
	// EventID возвращает уникальный идентификатор события
	EventID() string
	// EventType возвращает тип события
	EventType() string
	// OccurredAt возвращает время возникновения события
	OccurredAt() time.Time
	// AggregateID возвращает идентификатор агрегата (ключ корреляции)
	AggregateID() string
	// Metadata возвращает метаданные события
	Metadata() EventMetadata
}

// EventMetadata метаданные события
type EventMetadata map[string]string

// Get получает значение метаданных по ключу
func (m EventMetadata) Get(key string) (string, bool) {
	val, ok := m[key]
	return val, ok
}

// CorrelationID возвращает correlation ID
func (m EventMetadata) CorrelationID() string {
	return m["correlation_id"]
}

// CausationID возвращает causation ID
func (m EventMetadata) CausationID() string {
	return m["causation_id"]
}

// BaseEvent базовая реализация события. Встраивается в конкретные события,
// поля сериализуются вместе с ними.
type BaseEvent struct {
	ID        string        `json:"event_id" bson:"event_id"`
	Type      string        `json:"event_type" bson:"event_type"`
	Aggregate string        `json:"aggregate_id" bson:"aggregate_id"`
	Occurred  time.Time     `json:"occurred_at" bson:"occurred_at"`
	Meta      EventMetadata `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// NewBaseEvent создает новое базовое событие
func NewBaseEvent(eventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Aggregate: aggregateID,
		Occurred:  time.Now().UTC(),
		Meta:      make(EventMetadata),
	}
}

// WithCorrelationID устанавливает correlation ID
func (e *BaseEvent) WithCorrelationID(id string) *BaseEvent {
	e.setMeta("correlation_id", id)
	return e
}

// WithCausationID устанавливает causation ID
func (e *BaseEvent) WithCausationID(id string) *BaseEvent {
	e.setMeta("causation_id", id)
	return e
}

func (e *BaseEvent) setMeta(key, value string) {
	if e.Meta == nil {
		e.Meta = make(EventMetadata)
	}
	e.Meta[key] = value
}

func (e *BaseEvent) EventID() string {
	return e.ID
}

func (e *BaseEvent) EventType() string {
	return e.Type
}

func (e *BaseEvent) OccurredAt() time.Time {
	return e.Occurred
}

func (e *BaseEvent) AggregateID() string {
	return e.Aggregate
}

func (e *BaseEvent) Metadata() EventMetadata {
	return e.Meta
}

// EventHandler обработчик интеграционных событий
type EventHandler interface {
	// Handle обрабатывает событие
	Handle(ctx context.Context, event Event) error
	// EventType возвращает тип события, который обрабатывает этот handler
	EventType() string
}

type handlerFunc struct {
	eventType string
	fn        func(ctx context.Context, event Event) error
}

func (h handlerFunc) Handle(ctx context.Context, event Event) error {
	return h.fn(ctx, event)
}

func (h handlerFunc) EventType() string {
	return h.eventType
}

// HandlerFunc создает EventHandler из функции
func HandlerFunc(eventType string, fn func(ctx context.Context, event Event) error) EventHandler {
	return handlerFunc{eventType: eventType, fn: fn}
}

// Typed создает EventHandler для конкретного варианта события.
// Событие другого типа считается ошибкой маршрутизации.
func Typed[E Event](eventType string, fn func(ctx context.Context, event E) error) EventHandler {
	return HandlerFunc(eventType, func(ctx context.Context, event Event) error {
		typed, ok := event.(E)
		if !ok {
			return fmt.Errorf("handler for %s received %T", eventType, event)
		}
		return fn(ctx, typed)
	})
}

// Publisher порт публикации событий
type Publisher interface {
	// Publish публикует событие (fire-and-forget, at-least-once)
	Publish(ctx context.Context, event Event) error
}

// Bus порт шины событий, используемый сагой и обработчиками
type Bus interface {
	Publisher
	// ScheduleTimeout откладывает доставку события payload на delay.
	// correlationID связывает таймаут с экземпляром саги.
	ScheduleTimeout(ctx context.Context, correlationID string, delay time.Duration, payload Event) error
}

// Codec кодирует и декодирует закрытый набор вариантов событий
type Codec interface {
	Encode(event Event) ([]byte, error)
	Decode(eventType string, data []byte) (Event, error)
}
