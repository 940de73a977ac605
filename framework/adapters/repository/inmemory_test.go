package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/akriventsev/ordering/framework/core"
)

// TestEntity для тестирования
type TestEntity struct {
	IDField string
	Name    string
	Ver     int64
}

func (e TestEntity) ID() string {
	return e.IDField
}

func (e TestEntity) Version() int64 {
	return e.Ver
}

func newTestRepo() *InMemoryRepository[TestEntity] {
	return NewInMemoryRepository[TestEntity](DefaultInMemoryConfig(), nil)
}

func TestInMemoryRepository_Insert(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	if err := repo.Insert(ctx, TestEntity{IDField: "test-1", Name: "Test", Ver: 1}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	err := repo.Insert(ctx, TestEntity{IDField: "test-1", Name: "Other", Ver: 1})
	if !core.HasCode(err, core.ErrAlreadyExists) {
		t.Errorf("Expected ALREADY_EXISTS, got %v", err)
	}
}

func TestInMemoryRepository_Insert_EmptyID(t *testing.T) {
	repo := newTestRepo()

	if err := repo.Insert(context.Background(), TestEntity{IDField: ""}); err == nil {
		t.Error("Expected error for empty ID")
	}
}

func TestInMemoryRepository_Get_NotFound(t *testing.T) {
	repo := newTestRepo()

	_, err := repo.Get(context.Background(), "missing")
	if !core.IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestInMemoryRepository_Update_VersionCheck(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	if err := repo.Insert(ctx, TestEntity{IDField: "e", Name: "v1", Ver: 1}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	if err := repo.Update(ctx, TestEntity{IDField: "e", Name: "v2", Ver: 2}, 1); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	err := repo.Update(ctx, TestEntity{IDField: "e", Name: "stale", Ver: 2}, 1)
	if !core.IsConflict(err) {
		t.Errorf("Expected CONFLICT, got %v", err)
	}

	found, _ := repo.Get(ctx, "e")
	if found.Name != "v2" {
		t.Errorf("Expected Name 'v2', got %s", found.Name)
	}
}

func TestInMemoryRepository_Find(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b", "d"} {
		if err := repo.Insert(ctx, TestEntity{IDField: id, Name: id, Ver: 1}); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	found := repo.Find(ctx,
		func(e TestEntity) bool { return e.IDField != "d" },
		func(a, b TestEntity) bool { return a.IDField < b.IDField },
		2)

	if len(found) != 2 {
		t.Fatalf("Expected 2 entities, got %d", len(found))
	}
	if found[0].IDField != "a" || found[1].IDField != "b" {
		t.Errorf("Unexpected order: %v", found)
	}
}

func TestInMemoryTransactor_RollbackOnError(t *testing.T) {
	repo := newTestRepo()
	tx := NewInMemoryTransactor()
	ctx := context.Background()

	if err := repo.Insert(ctx, TestEntity{IDField: "kept", Name: "v1", Ver: 1}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	boom := errors.New("boom")
	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Insert(ctx, TestEntity{IDField: "new", Ver: 1}); err != nil {
			return err
		}
		if err := repo.Update(ctx, TestEntity{IDField: "kept", Name: "v2", Ver: 2}, 1); err != nil {
			return err
		}
		if err := repo.Delete(ctx, "kept"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	if _, err := repo.Get(ctx, "new"); !core.IsNotFound(err) {
		t.Errorf("Expected inserted entity to be rolled back, got %v", err)
	}
	kept, err := repo.Get(ctx, "kept")
	if err != nil {
		t.Fatalf("Expected kept entity to be restored, got %v", err)
	}
	if kept.Name != "v1" || kept.Ver != 1 {
		t.Errorf("Expected original state, got %+v", kept)
	}
}

func TestInMemoryTransactor_CommitKeepsChanges(t *testing.T) {
	repo := newTestRepo()
	tx := NewInMemoryTransactor()
	ctx := context.Background()

	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return tx.WithinTransaction(ctx, func(ctx context.Context) error {
			return repo.Insert(ctx, TestEntity{IDField: "x", Ver: 1})
		})
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if repo.Count() != 1 {
		t.Errorf("Expected 1 entity, got %d", repo.Count())
	}
}

func TestInMemoryTransactor_DetachedContextCommitsImmediately(t *testing.T) {
	repo := newTestRepo()
	tx := NewInMemoryTransactor()
	ctx := context.Background()

	_ = tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Insert(core.DetachTx(ctx), TestEntity{IDField: "detached", Ver: 1}); err != nil {
			return err
		}
		return errors.New("rollback outer")
	})

	if _, err := repo.Get(ctx, "detached"); err != nil {
		t.Errorf("Expected detached write to survive rollback, got %v", err)
	}
}

func TestInMemoryTransactor_RollbackKeepsLaterCommittedWrite(t *testing.T) {
	repo := newTestRepo()
	tx := NewInMemoryTransactor()
	ctx := context.Background()

	if err := repo.Insert(ctx, TestEntity{IDField: "e", Name: "base", Ver: 1}); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Update(ctx, TestEntity{IDField: "e", Name: "A", Ver: 2}, 1); err != nil {
			return err
		}
		// независимая единица работы видит v2 и фиксирует v3
		if err := tx.WithinTransaction(core.DetachTx(ctx), func(ctx context.Context) error {
			current, err := repo.Get(ctx, "e")
			if err != nil {
				return err
			}
			return repo.Update(ctx, TestEntity{IDField: "e", Name: "B", Ver: current.Ver + 1}, current.Ver)
		}); err != nil {
			return err
		}
		return errors.New("A failed")
	})
	if err == nil {
		t.Fatal("Expected error from A")
	}

	found, err := repo.Get(ctx, "e")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if found.Name != "B" || found.Ver != 3 {
		t.Errorf("Expected committed write B/3 to survive, got %+v", found)
	}
}

func TestInMemoryTransactor_RollbackKeepsReinsertedEntity(t *testing.T) {
	repo := newTestRepo()
	tx := NewInMemoryTransactor()
	ctx := context.Background()

	_ = tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Insert(ctx, TestEntity{IDField: "e", Name: "A", Ver: 1}); err != nil {
			return err
		}
		if err := repo.Delete(core.DetachTx(ctx), "e"); err != nil {
			return err
		}
		if err := repo.Insert(core.DetachTx(ctx), TestEntity{IDField: "e", Name: "B", Ver: 5}); err != nil {
			return err
		}
		return errors.New("A failed")
	})

	found, err := repo.Get(ctx, "e")
	if err != nil {
		t.Fatalf("Expected entity B to survive, got %v", err)
	}
	if found.Name != "B" {
		t.Errorf("Expected B, got %+v", found)
	}
}

func TestOnCommit(t *testing.T) {
	tx := NewInMemoryTransactor()
	ctx := context.Background()

	var calls []string
	_ = tx.WithinTransaction(ctx, func(ctx context.Context) error {
		OnCommit(ctx, func() { calls = append(calls, "rolled back") })
		return errors.New("fail")
	})
	_ = tx.WithinTransaction(ctx, func(ctx context.Context) error {
		OnCommit(ctx, func() { calls = append(calls, "committed") })
		if len(calls) != 0 {
			t.Errorf("Expected hook to wait for commit, got %v", calls)
		}
		return nil
	})
	OnCommit(ctx, func() { calls = append(calls, "immediate") })

	if len(calls) != 2 || calls[0] != "committed" || calls[1] != "immediate" {
		t.Errorf("Unexpected hook calls: %v", calls)
	}
}
