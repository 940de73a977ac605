package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
)

// Command команда, проходящая через Gateway
type Command interface {
	CommandName() string
}

// GatewayConfig конфигурация ожидания конкурирующего выполнения
type GatewayConfig struct {
	WaitAttempts uint64
	WaitDelay    time.Duration
	WaitMaxDelay time.Duration
}

// DefaultGatewayConfig возвращает конфигурацию по умолчанию
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		WaitAttempts: 20,
		WaitDelay:    10 * time.Millisecond,
		WaitMaxDelay: 500 * time.Millisecond,
	}
}

var errStillInProgress = errors.New("command still in progress")

// Gateway выполняет команду не более одного раза на идентификатор запроса.
// Запись идемпотентности сохраняется в той же единице работы, что и изменения команды.
type Gateway struct {
	store   Store
	tx      core.Transactor
	cache   Cache
	config  GatewayConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

// GatewayOption опция Gateway
type GatewayOption func(*Gateway)

// WithCache подключает кэш завершенных записей
func WithCache(cache Cache) GatewayOption {
	return func(g *Gateway) {
		g.cache = cache
	}
}

// WithConfig устанавливает конфигурацию
func WithConfig(config GatewayConfig) GatewayOption {
	return func(g *Gateway) {
		g.config = config
	}
}

// WithLogger устанавливает логгер
func WithLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics подключает метрики
func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway создает новый Gateway
func NewGateway(store Store, tx core.Transactor, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:  store,
		tx:     tx,
		config: DefaultGatewayConfig(),
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute выполняет handler для команды с идентификатором requestID.
// Повторный requestID возвращает сохраненный результат без вызова handler.
// Пустой requestID отключает дедупликацию.
// Execute открывает собственную единицу работы и не должен вызываться внутри чужой.
func Execute[C Command, R any](ctx context.Context, g *Gateway, requestID string, cmd C, handler func(ctx context.Context, cmd C) (R, error)) (R, error) {
	name := cmd.CommandName()
	var result R

	if requestID == "" {
		err := g.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			r, err := handler(ctx, cmd)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		g.metrics.RecordIdempotency(ctx, name, "bypass")
		return result, err
	}

	if rec, ok := g.lookup(ctx, requestID); ok {
		g.metrics.RecordIdempotency(ctx, name, "replayed")
		return replay[R](rec, name)
	}

	err := g.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		now := g.clock().UTC()
		if err := g.store.Insert(ctx, &Record{
			RequestID:   requestID,
			CommandType: name,
			Status:      StatusInProgress,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		r, err := handler(ctx, cmd)
		if err != nil {
			return err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode %s result: %w", name, err)
		}
		if err := g.store.Complete(ctx, requestID, data, g.clock().UTC()); err != nil {
			return err
		}
		result = r
		return nil
	})

	if core.HasCode(err, core.ErrAlreadyExists) {
		g.logger.Debug("concurrent execution detected, waiting for result",
			zap.String("request_id", requestID), zap.String("command", name))
		rec, waitErr := g.awaitCompletion(ctx, requestID)
		if waitErr != nil {
			var zero R
			return zero, waitErr
		}
		g.metrics.RecordIdempotency(ctx, name, "raced")
		return replay[R](rec, name)
	}
	if err != nil {
		var zero R
		return zero, err
	}

	g.metrics.RecordIdempotency(ctx, name, "executed")
	if g.cache != nil {
		if rec, getErr := g.store.Get(core.DetachTx(ctx), requestID); getErr == nil {
			if cacheErr := g.cache.Set(ctx, rec); cacheErr != nil {
				g.logger.Warn("failed to cache idempotency record",
					zap.String("request_id", requestID), zap.Error(cacheErr))
			}
		}
	}
	return result, nil
}

// lookup ищет завершенную запись в кэше, затем в хранилище
func (g *Gateway) lookup(ctx context.Context, requestID string) (*Record, bool) {
	if g.cache != nil {
		rec, ok, err := g.cache.Get(ctx, requestID)
		if err != nil {
			g.logger.Warn("idempotency cache unavailable", zap.String("request_id", requestID), zap.Error(err))
		} else if ok {
			return rec, true
		}
	}

	rec, err := g.store.Get(core.DetachTx(ctx), requestID)
	if err != nil {
		if !core.IsNotFound(err) {
			g.logger.Warn("failed to load idempotency record", zap.String("request_id", requestID), zap.Error(err))
		}
		return nil, false
	}
	return rec, rec.Completed()
}

func (g *Gateway) awaitCompletion(ctx context.Context, requestID string) (*Record, error) {
	backoff := retry.WithMaxRetries(g.config.WaitAttempts,
		retry.WithCappedDuration(g.config.WaitMaxDelay, retry.NewExponential(g.config.WaitDelay)))

	var found *Record
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rec, err := g.store.Get(core.DetachTx(ctx), requestID)
		if core.IsNotFound(err) {
			// конкурент откатился, повтор запроса выполнит команду заново
			return core.NewError(core.ErrTransient, fmt.Sprintf("competing execution of %s rolled back", requestID))
		}
		if err != nil {
			return err
		}
		if !rec.Completed() {
			return retry.RetryableError(errStillInProgress)
		}
		found = rec
		return nil
	})
	if errors.Is(err, errStillInProgress) {
		return nil, core.Wrap(err, core.ErrTransient, fmt.Sprintf("request %s", requestID))
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

func replay[R any](rec *Record, commandName string) (R, error) {
	var out R
	if rec.CommandType != commandName {
		return out, core.NewError(core.ErrValidationFailed,
			fmt.Sprintf("request %s was used for %s, not %s", rec.RequestID, rec.CommandType, commandName))
	}
	if len(rec.Result) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(rec.Result, &out); err != nil {
		return out, fmt.Errorf("failed to decode stored %s result: %w", commandName, err)
	}
	return out, nil
}
