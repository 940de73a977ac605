// Package idempotency выполняет команды не более одного раза на идентификатор запроса.
package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Status состояние записи
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Record запись о выполненной команде
type Record struct {
	RequestID   string          `json:"request_id" bson:"_id"`
	CommandType string          `json:"command_type" bson:"command_type"`
	Status      Status          `json:"status" bson:"status"`
	Result      json.RawMessage `json:"result,omitempty" bson:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at" bson:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	Rev         int64           `json:"-" bson:"rev"`
}

// ID реализует repository.Entity
func (r *Record) ID() string {
	return r.RequestID
}

// Version реализует repository.Versioned
func (r *Record) Version() int64 {
	return r.Rev
}

// Completed проверяет, записан ли результат
func (r *Record) Completed() bool {
	return r.Status == StatusCompleted
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.Result != nil {
		c.Result = append(json.RawMessage(nil), r.Result...)
	}
	return &c
}

// Store хранилище записей идемпотентности.
// Операции используют транзакцию из контекста.
type Store interface {
	// Get возвращает запись или ошибку с кодом core.ErrNotFound
	Get(ctx context.Context, requestID string) (*Record, error)
	// Insert сохраняет запись "в процессе".
	// Существующий requestID дает ошибку с кодом core.ErrAlreadyExists.
	Insert(ctx context.Context, record *Record) error
	// Complete записывает результат выполнения
	Complete(ctx context.Context, requestID string, result json.RawMessage, completedAt time.Time) error
}

// Cache кэш завершенных записей перед Store
type Cache interface {
	Get(ctx context.Context, requestID string) (*Record, bool, error)
	Set(ctx context.Context, record *Record) error
}
