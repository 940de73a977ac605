package repository

import (
	"context"
	"sync"

	"github.com/akriventsev/ordering/framework/core"
)

// inMemoryTx журнал компенсаций и commit-хуков in-memory единицы работы
type inMemoryTx struct {
	mu        sync.Mutex
	rollbacks []func()
	commits   []func()
}

func (tx *inMemoryTx) add(fn func()) {
	tx.mu.Lock()
	tx.rollbacks = append(tx.rollbacks, fn)
	tx.mu.Unlock()
}

func (tx *inMemoryTx) onCommit(fn func()) {
	tx.mu.Lock()
	tx.commits = append(tx.commits, fn)
	tx.mu.Unlock()
}

func (tx *inMemoryTx) commit() {
	tx.mu.Lock()
	commits := tx.commits
	tx.commits, tx.rollbacks = nil, nil
	tx.mu.Unlock()

	for _, fn := range commits {
		fn()
	}
}

func (tx *inMemoryTx) rollback() {
	tx.mu.Lock()
	rollbacks := tx.rollbacks
	tx.rollbacks, tx.commits = nil, nil
	tx.mu.Unlock()

	for i := len(rollbacks) - 1; i >= 0; i-- {
		rollbacks[i]()
	}
}

// InMemoryTransactor реализует core.Transactor для in-memory хранилищ.
// Изменения применяются сразу, при ошибке откатываются в обратном порядке.
// Изоляции между параллельными единицами работы нет: конкурентные записи
// разрешаются проверкой версий в InMemoryRepository, компенсация не затирает
// запись, зафиксированную поверх отменяемой. То, что должно стать видимым
// только после фиксации, регистрируется через OnCommit.
type InMemoryTransactor struct{}

// NewInMemoryTransactor создает новый InMemoryTransactor
func NewInMemoryTransactor() *InMemoryTransactor {
	return &InMemoryTransactor{}
}

// WithinTransaction выполняет fn в единице работы
func (t *InMemoryTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if existing, ok := core.TxFromContext(ctx); ok {
		if _, nested := existing.(*inMemoryTx); nested {
			return fn(ctx)
		}
	}

	tx := &inMemoryTx{}
	err := fn(core.ContextWithTx(ctx, tx))
	if err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

// OnRollback регистрирует компенсацию в текущей in-memory единице работы.
// Вне единицы работы изменение фиксируется сразу и fn не запоминается.
func OnRollback(ctx context.Context, fn func()) {
	raw, ok := core.TxFromContext(ctx)
	if !ok {
		return
	}
	if tx, ok := raw.(*inMemoryTx); ok {
		tx.add(fn)
	}
}

// OnCommit регистрирует fn, выполняемую после фиксации текущей in-memory единицы работы.
// При откате fn не вызывается. Вне in-memory единицы работы fn выполняется сразу.
func OnCommit(ctx context.Context, fn func()) {
	if raw, ok := core.TxFromContext(ctx); ok {
		if tx, ok := raw.(*inMemoryTx); ok {
			tx.onCommit(fn)
			return
		}
	}
	fn()
}
