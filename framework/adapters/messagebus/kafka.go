package messagebus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/transport"
)

// KafkaConfig конфигурация для Kafka адаптера
type KafkaConfig struct {
	Brokers        []string
	GroupID        string
	Compression    string // none, gzip, snappy, lz4, zstd
	BatchSize      int
	FlushInterval  time.Duration
	ConsumerConfig KafkaConsumerConfig
	ProducerConfig KafkaProducerConfig
	// DLQSuffix суффикс топика для сообщений, исчерпавших повторы
	DLQSuffix     string
	EnableMetrics bool
}

// Validate проверяет корректность конфигурации
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for i, broker := range c.Brokers {
		if broker == "" {
			return fmt.Errorf("broker[%d] cannot be empty", i)
		}
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("broker[%d] must be in format host:port", i)
		}
	}
	if c.GroupID == "" {
		return fmt.Errorf("group ID cannot be empty")
	}
	return nil
}

// KafkaConsumerConfig конфигурация для Kafka consumer
type KafkaConsumerConfig struct {
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	StartOffset int64 // -2 (earliest), -1 (latest)
}

// KafkaProducerConfig конфигурация для Kafka producer
type KafkaProducerConfig struct {
	RequiredAcks int // 0, 1, -1 (all)
	MaxAttempts  int
}

// DefaultKafkaConfig возвращает конфигурацию Kafka по умолчанию
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "ordering-group",
		Compression:   "snappy",
		BatchSize:     100,
		FlushInterval: 10 * time.Millisecond,
		ConsumerConfig: KafkaConsumerConfig{
			MinBytes:    1,
			MaxBytes:    10e6, // 10MB
			MaxWait:     1 * time.Second,
			StartOffset: kafka.FirstOffset,
		},
		ProducerConfig: KafkaProducerConfig{
			RequiredAcks: -1, // all
			MaxAttempts:  3,
		},
		DLQSuffix:     ".dlq",
		EnableMetrics: true,
	}
}

// KafkaAdapter реализация MessageBus через Kafka.
// Offset фиксируется только после успешной обработки; при ошибке сообщение
// повторяется на месте по RetryPolicy, затем уходит в DLQ топик.
type KafkaAdapter struct {
	config  KafkaConfig
	writer  *kafka.Writer
	subs    map[string][]*kafka.Reader
	mu      sync.RWMutex
	running bool
	metrics *metrics.Metrics
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewKafkaAdapter создает новый Kafka адаптер
func NewKafkaAdapter(config KafkaConfig) (*KafkaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	adapter := &KafkaAdapter{
		config: config,
		subs:   make(map[string][]*kafka.Reader),
		ctx:    ctx,
		cancel: cancel,
	}

	if config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewMetrics()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	adapter.writer = &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(config.ProducerConfig.RequiredAcks),
		MaxAttempts:            config.ProducerConfig.MaxAttempts,
		Async:                  false,
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.FlushInterval,
		Compression:            getCompression(config.Compression),
		AllowAutoTopicCreation: true,
	}

	return adapter, nil
}

// getCompression преобразует строку в kafka.Compression
func getCompression(compression string) kafka.Compression {
	switch compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0) // zero value - no compression
	}
}

// Start запускает адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	k.running = false
	k.mu.Unlock()

	k.cancel()
	k.wg.Wait()

	k.mu.Lock()
	for topic := range k.subs {
		delete(k.subs, topic)
	}
	k.mu.Unlock()

	if k.writer != nil {
		return k.writer.Close()
	}
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (k *KafkaAdapter) IsRunning() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.running
}

// Name возвращает имя компонента (реализация core.Component)
func (k *KafkaAdapter) Name() string {
	return "kafka-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (k *KafkaAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в топик. Ключ сообщения: correlation ID,
// поэтому события одного заказа попадают в одну партицию.
func (k *KafkaAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()

	msg := kafka.Message{
		Topic: subject,
		Value: data,
	}
	if key := headers[transport.HeaderCorrelationID]; key != "" {
		msg.Key = []byte(key)
	}
	if headers != nil {
		msg.Headers = make([]kafka.Header, 0, len(headers))
		for k, v := range headers {
			msg.Headers = append(msg.Headers, kafka.Header{
				Key:   k,
				Value: []byte(v),
			})
		}
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.metrics.RecordTransport(ctx, "kafka", time.Since(start), false)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	k.metrics.RecordTransport(ctx, "kafka", time.Since(start), true)
	return nil
}

// Subscribe подписывается на топик. Очередь становится consumer group.
func (k *KafkaAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler, opts ...transport.MessageHandlerOption) error {
	options := transport.ApplyHandlerOptions(opts...)
	groupID := k.config.GroupID
	if options.Queue != "" {
		groupID = options.Queue
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       subject,
		GroupID:     groupID,
		MinBytes:    k.config.ConsumerConfig.MinBytes,
		MaxBytes:    k.config.ConsumerConfig.MaxBytes,
		MaxWait:     k.config.ConsumerConfig.MaxWait,
		StartOffset: k.config.ConsumerConfig.StartOffset,
	})

	k.mu.Lock()
	k.subs[subject] = append(k.subs[subject], reader)
	k.mu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer func() {
			_ = reader.Close()
		}()
		k.consume(k.ctx, reader, handler, options.RetryPolicy)
	}()

	return nil
}

func (k *KafkaAdapter) consume(ctx context.Context, reader *kafka.Reader, handler transport.MessageHandler, policy transport.RetryPolicy) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			continue
		}

		mbMsg := &transport.Message{
			Subject: msg.Topic,
			Data:    msg.Value,
			Headers: make(map[string]string),
		}
		for _, h := range msg.Headers {
			mbMsg.Headers[h.Key] = string(h.Value)
		}

		if err := k.handleWithRetry(ctx, mbMsg, handler, policy); err != nil {
			if ctx.Err() != nil {
				return
			}
			if dlqErr := k.DeadLetterQueue(ctx, msg.Topic, mbMsg, err.Error()); dlqErr != nil {
				// offset не фиксируем: сообщение будет прочитано снова после перезапуска
				continue
			}
		}

		_ = reader.CommitMessages(ctx, msg)
	}
}

func (k *KafkaAdapter) handleWithRetry(ctx context.Context, msg *transport.Message, handler transport.MessageHandler, policy transport.RetryPolicy) error {
	attempt := 1
	for {
		msg.Headers[transport.HeaderAttempt] = strconv.Itoa(attempt)
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if policy == nil || !policy.ShouldRetry(attempt, err) {
			return err
		}
		select {
		case <-time.After(policy.GetDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
		attempt++
	}
}

// Unsubscribe отписывается от топика
func (k *KafkaAdapter) Unsubscribe(subject string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, reader := range k.subs[subject] {
		if err := reader.Close(); err != nil {
			return fmt.Errorf("failed to close reader: %w", err)
		}
	}
	delete(k.subs, subject)
	return nil
}

// DeadLetterQueue отправляет failed messages в DLQ топик
func (k *KafkaAdapter) DeadLetterQueue(ctx context.Context, topic string, msg *transport.Message, reason string) error {
	dlqTopic := topic + k.config.DLQSuffix
	headers := make(map[string]string, len(msg.Headers)+3)
	for key, v := range msg.Headers {
		headers[key] = v
	}
	headers["original_topic"] = msg.Subject
	headers["reason"] = reason
	headers["timestamp"] = time.Now().Format(time.RFC3339)

	return k.Publish(ctx, dlqTopic, msg.Data, headers)
}
