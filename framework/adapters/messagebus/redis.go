package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/transport"
)

// RedisConfig конфигурация для Redis адаптера
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	MaxRetries    int
	StreamMaxLen  int64 // Максимальная длина stream (0 = без ограничений)
	ConsumerGroup string
	BlockTimeout  time.Duration
	// ClaimMinIdle через сколько неподтвержденное сообщение забирается повторно
	ClaimMinIdle  time.Duration
	EnableMetrics bool
	StreamName    string // Префикс stream для публикации сообщений
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.StreamName == "" {
		return fmt.Errorf("StreamName cannot be empty")
	}
	if c.BlockTimeout <= 0 {
		return fmt.Errorf("BlockTimeout must be positive")
	}
	return nil
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MaxRetries:    3,
		StreamMaxLen:  10000,
		ConsumerGroup: "ordering-group",
		BlockTimeout:  5 * time.Second,
		ClaimMinIdle:  30 * time.Second,
		EnableMetrics: true,
		StreamName:    "ordering",
	}
}

type redisSubscription struct {
	stream   string
	group    string
	consumer string
	cancel   context.CancelFunc
}

// RedisAdapter реализация MessageBus через Redis Streams.
// Каждая очередь подписки становится consumer group. Сообщения без XACK
// остаются в pending list и забираются повторно через ClaimMinIdle.
type RedisAdapter struct {
	config  RedisConfig
	client  redis.UniversalClient
	subs    map[string][]*redisSubscription
	metrics *metrics.Metrics
	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// NewRedisAdapter создает новый Redis адаптер
func NewRedisAdapter(config RedisConfig) (*RedisAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: config.MaxRetries,
	})

	return NewRedisAdapterFromClient(config, client), nil
}

// NewRedisAdapterFromClient создает Redis адаптер поверх существующего клиента
func NewRedisAdapterFromClient(config RedisConfig, client redis.UniversalClient) *RedisAdapter {
	adapter := &RedisAdapter{
		config: config,
		client: client,
		subs:   make(map[string][]*redisSubscription),
	}
	if config.EnableMetrics {
		m, err := metrics.NewMetrics()
		if err != nil {
			// nil *Metrics пропускает запись
			m = nil
		}
		adapter.metrics = m
	}
	return adapter
}

// Start проверяет подключение (реализация core.Lifecycle)
func (r *RedisAdapter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.running = true
	return nil
}

// Stop останавливает чтение и закрывает клиент (реализация core.Lifecycle)
func (r *RedisAdapter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	for subject, subs := range r.subs {
		for _, sub := range subs {
			sub.cancel()
		}
		delete(r.subs, subject)
	}
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	return r.client.Close()
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (r *RedisAdapter) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// HealthCheck проверяет соединение
func (r *RedisAdapter) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Name возвращает имя компонента (реализация core.Component)
func (r *RedisAdapter) Name() string {
	return "redis-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (r *RedisAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в stream (XADD)
func (r *RedisAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()
	stream := r.getStreamName(subject)

	values := map[string]interface{}{
		"data": string(data),
	}
	if headers != nil {
		headersJSON, err := json.Marshal(headers)
		if err != nil {
			return fmt.Errorf("failed to marshal headers: %w", err)
		}
		values["headers"] = string(headersJSON)
	}

	args := redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, &args).Err(); err != nil {
		r.metrics.RecordTransport(ctx, "redis", time.Since(start), false)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.metrics.RecordTransport(ctx, "redis", time.Since(start), true)
	return nil
}

// Subscribe подписывается на stream (XREADGROUP)
func (r *RedisAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler, opts ...transport.MessageHandlerOption) error {
	options := transport.ApplyHandlerOptions(opts...)
	stream := r.getStreamName(subject)

	group := r.config.ConsumerGroup
	if options.Queue != "" {
		group = options.Queue
	}

	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &redisSubscription{
		stream:   stream,
		group:    group,
		consumer: fmt.Sprintf("consumer-%s", uuid.NewString()),
		cancel:   cancel,
	}

	r.mu.Lock()
	r.subs[subject] = append(r.subs[subject], sub)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.readLoop(subCtx, subject, sub, handler)
	}()

	return nil
}

func (r *RedisAdapter) readLoop(ctx context.Context, subject string, sub *redisSubscription, handler transport.MessageHandler) {
	lastClaim := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		if r.config.ClaimMinIdle > 0 && time.Since(lastClaim) >= r.config.ClaimMinIdle {
			_ = r.processPending(ctx, subject, sub, handler)
			lastClaim = time.Now()
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sub.group,
			Consumer: sub.consumer,
			Streams:  []string{sub.stream, ">"},
			Count:    10,
			Block:    r.config.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				r.handle(ctx, subject, sub, msg, 1, handler)
			}
		}
	}
}

// handle вызывает обработчик и подтверждает сообщение при успехе
func (r *RedisAdapter) handle(ctx context.Context, subject string, sub *redisSubscription, msg redis.XMessage, attempt int64, handler transport.MessageHandler) {
	mbMsg := &transport.Message{
		Subject: subject,
		Headers: make(map[string]string),
	}
	if data, ok := msg.Values["data"].(string); ok {
		mbMsg.Data = []byte(data)
	}
	if headersStr, ok := msg.Values["headers"].(string); ok {
		_ = json.Unmarshal([]byte(headersStr), &mbMsg.Headers)
	}
	mbMsg.Headers[transport.HeaderAttempt] = strconv.FormatInt(attempt, 10)

	if err := handler(ctx, mbMsg); err != nil {
		return
	}
	_ = r.client.XAck(ctx, sub.stream, sub.group, msg.ID).Err()
}

// processPending забирает зависшие сообщения группы и обрабатывает их повторно
func (r *RedisAdapter) processPending(ctx context.Context, subject string, sub *redisSubscription, handler transport.MessageHandler) error {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: sub.stream,
		Group:  sub.group,
		Idle:   r.config.ClaimMinIdle,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to get pending messages: %w", err)
	}

	for _, p := range pending {
		msgs, err := r.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   sub.stream,
			Group:    sub.group,
			Consumer: sub.consumer,
			MinIdle:  r.config.ClaimMinIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			continue
		}
		for _, msg := range msgs {
			r.handle(ctx, subject, sub, msg, p.RetryCount+1, handler)
		}
	}
	return nil
}

// Unsubscribe отписывается от stream
func (r *RedisAdapter) Unsubscribe(subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs[subject] {
		sub.cancel()
	}
	delete(r.subs, subject)
	return nil
}

// getStreamName преобразует subject в имя stream
func (r *RedisAdapter) getStreamName(subject string) string {
	if r.config.StreamName != "" {
		return fmt.Sprintf("%s:%s", r.config.StreamName, subject)
	}
	return fmt.Sprintf("stream:%s", subject)
}
