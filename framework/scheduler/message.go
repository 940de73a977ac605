// Package scheduler хранит сообщения с отложенной доставкой и передает их в транспорт.
//
// Одно хранилище обслуживает обычные публикации (fire_at = now) и таймауты саг
// (fire_at = now + delay). Запись выполняется в той же транзакции, что и изменение
// состояния, поэтому сообщение появляется в шине только после фиксации.
package scheduler

import (
	"context"
	"time"
)

// Message сообщение, ожидающее доставки
type Message struct {
	ID            string            `json:"id" bson:"_id"`
	CorrelationID string            `json:"correlation_id" bson:"correlation_id"`
	Subject       string            `json:"subject" bson:"subject"`
	EventType     string            `json:"event_type" bson:"event_type"`
	Payload       []byte            `json:"payload" bson:"payload"`
	Headers       map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	FireAt        time.Time         `json:"fire_at" bson:"fire_at"`
	Attempts      int               `json:"attempts" bson:"attempts"`
	LastError     string            `json:"last_error,omitempty" bson:"last_error,omitempty"`
	LockedUntil   time.Time         `json:"locked_until,omitempty" bson:"locked_until,omitempty"`
	CreatedAt     time.Time         `json:"created_at" bson:"created_at"`
	Rev           int64             `json:"-" bson:"rev"`
}

// Due проверяет, пора ли доставлять сообщение и не захвачено ли оно другим poller
func (m *Message) Due(now time.Time) bool {
	return !m.FireAt.After(now) && !m.LockedUntil.After(now)
}

// Store хранилище отложенных сообщений
type Store interface {
	// Schedule сохраняет сообщение. Использует транзакцию из контекста.
	Schedule(ctx context.Context, msg *Message) error
	// ClaimDue захватывает до limit готовых сообщений на время lease в порядке FireAt
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Message, error)
	// Complete удаляет доставленное сообщение
	Complete(ctx context.Context, id string) error
	// Retry снимает захват и переносит доставку на fireAt
	Retry(ctx context.Context, id string, fireAt time.Time, lastErr string) error
	// Pending возвращает недоставленные сообщения по ключу корреляции
	Pending(ctx context.Context, correlationID string) ([]*Message, error)
}

func cloneMessage(m *Message) *Message {
	c := *m
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	return &c
}
