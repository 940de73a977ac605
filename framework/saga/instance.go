// Package saga хранит состояние долгоживущих процессов и применяет к нему шаги
// с оптимистичной блокировкой.
//
// Экземпляр саги однозначно определяется типом и ключом корреляции.
// Каждый шаг выполняется в единице работы: чтение, изменение состояния,
// публикации и условная запись по версии фиксируются вместе.
package saga

import (
	"context"
	"encoding/json"
	"time"
)

// Instance экземпляр саги с состоянием S
type Instance[S any] struct {
	ID        string    `json:"id" bson:"correlation_id"`
	Type      string    `json:"type" bson:"saga_type"`
	State     S         `json:"state" bson:"state"`
	Completed bool      `json:"completed" bson:"completed"`
	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Complete помечает сагу завершенной. Последующие входы игнорируются.
func (i *Instance[S]) Complete() {
	i.Completed = true
}

// Store хранилище экземпляров одного типа саги.
// Операции используют транзакцию из контекста.
type Store[S any] interface {
	// Load возвращает экземпляр или ошибку с кодом core.ErrNotFound
	Load(ctx context.Context, id string) (*Instance[S], error)
	// Insert сохраняет новый экземпляр, дубликат дает core.ErrAlreadyExists
	Insert(ctx context.Context, instance *Instance[S]) error
	// Update записывает экземпляр, если сохраненная версия равна expectedVersion.
	// Иначе возвращает core.ErrConflict.
	Update(ctx context.Context, instance *Instance[S], expectedVersion int64) error
}

func cloneInstance[S any](i *Instance[S]) *Instance[S] {
	c := *i
	data, err := json.Marshal(i.State)
	if err != nil {
		return &c
	}
	var state S
	if err := json.Unmarshal(data, &state); err == nil {
		c.State = state
	}
	return &c
}
