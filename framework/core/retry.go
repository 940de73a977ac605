package core

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig конфигурация повторов при конфликте версий
type RetryConfig struct {
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig возвращает конфигурацию повторов по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     200 * time.Millisecond,
	}
}

// Validate проверяет корректность конфигурации
func (c RetryConfig) Validate() error {
	if c.InitialDelay <= 0 {
		return NewError(ErrInvalidConfig, "retry initial delay must be positive")
	}
	if c.MaxDelay < c.InitialDelay {
		return NewError(ErrInvalidConfig, "retry max delay must not be less than initial delay")
	}
	return nil
}

func (c RetryConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.InitialDelay)
	b = retry.WithCappedDuration(c.MaxDelay, b)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(c.MaxRetries, b)
}

// RetryOnConflict выполняет fn заново, пока она возвращает ошибку с кодом ErrConflict.
// Каждая попытка должна начинаться со свежего чтения состояния.
// Исчерпание попыток превращается в ErrTransient, чтобы шина повторила доставку.
func RetryOnConflict(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, cfg.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if IsConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if IsConflict(err) {
		return Wrap(err, ErrTransient, "conflict retries exhausted")
	}
	return err
}
