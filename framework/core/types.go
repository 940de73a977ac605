// Package core предоставляет базовые типы для всех компонентов фреймворка.
package core

import "context"

// ComponentType enum для типов компонентов
type ComponentType string

const (
	ComponentTypeAdapter   ComponentType = "adapter"
	ComponentTypeTransport ComponentType = "transport"
	ComponentTypeHandler   ComponentType = "handler"
	ComponentTypeWorker    ComponentType = "worker"
)

type txKey struct{}

// ContextWithTx кладет транзакцию в контекст
func ContextWithTx(ctx context.Context, tx interface{}) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext извлекает транзакцию из контекста
func TxFromContext(ctx context.Context) (interface{}, bool) {
	tx := ctx.Value(txKey{})
	if tx == nil {
		return nil, false
	}
	return tx, true
}

// DetachTx возвращает контекст без транзакции вызывающего.
// Обработчики, запущенные из шины, не должны продолжать чужую единицу работы.
func DetachTx(ctx context.Context) context.Context {
	if _, ok := TxFromContext(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, nil)
}
