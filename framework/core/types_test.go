package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestContextWithTx(t *testing.T) {
	ctx := context.Background()

	if _, ok := TxFromContext(ctx); ok {
		t.Error("Expected no transaction in background context")
	}

	txCtx := ContextWithTx(ctx, "tx-1")
	tx, ok := TxFromContext(txCtx)
	if !ok {
		t.Fatal("Expected transaction in context")
	}
	if tx != "tx-1" {
		t.Errorf("Expected tx-1, got %v", tx)
	}

	detached := DetachTx(txCtx)
	if _, ok := TxFromContext(detached); ok {
		t.Error("Expected detached context to have no transaction")
	}

	// DetachTx без транзакции возвращает тот же контекст
	if DetachTx(ctx) != ctx {
		t.Error("Expected same context when no transaction present")
	}
}

func TestHasCode(t *testing.T) {
	base := NewError(ErrConflict, "version mismatch")
	wrapped := Wrap(base, ErrTransient, "retries exhausted")

	if !HasCode(wrapped, ErrTransient) {
		t.Error("Expected TRANSIENT code")
	}
	if !IsConflict(wrapped) {
		t.Error("Expected CONFLICT in chain")
	}
	if IsNotFound(wrapped) {
		t.Error("Did not expect NOT_FOUND")
	}
	if HasCode(nil, ErrConflict) {
		t.Error("nil error has no code")
	}
	if HasCode(errors.New("plain"), ErrConflict) {
		t.Error("plain error has no code")
	}
}

func TestFrameworkError_WithContext(t *testing.T) {
	err := NewError(ErrNotFound, "order 42").WithContext("load")

	if err.Error() != "[NOT_FOUND] load: order 42" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryOnConflict_SucceedsAfterConflicts(t *testing.T) {
	var attempts int32
	err := RetryOnConflict(context.Background(), fastRetry(), func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return NewError(ErrConflict, "stale")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryOnConflict_Exhausted(t *testing.T) {
	var attempts int32
	err := RetryOnConflict(context.Background(), fastRetry(), func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return NewError(ErrConflict, "stale")
	})

	if !HasCode(err, ErrTransient) {
		t.Errorf("Expected TRANSIENT after exhaustion, got %v", err)
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts (1 + 3 retries), got %d", attempts)
	}
}

func TestRetryOnConflict_OtherErrorsNotRetried(t *testing.T) {
	var attempts int32
	boom := errors.New("boom")
	err := RetryOnConflict(context.Background(), fastRetry(), func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	if err := DefaultRetryConfig().Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}
	if err := (RetryConfig{InitialDelay: 0}).Validate(); err == nil {
		t.Error("Expected error for zero initial delay")
	}
}
