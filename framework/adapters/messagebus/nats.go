package messagebus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/metrics"
	"github.com/akriventsev/ordering/framework/transport"
)

// NATSConfig конфигурация для NATS JetStream адаптера
type NATSConfig struct {
	URL               string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionTimeout time.Duration
	TLS               *tls.Config
	Token             string
	Username          string
	Password          string
	EnableMetrics     bool
	// Stream имя JetStream stream, создается при старте
	Stream string
	// StreamSubjects subjects, которые хранит stream
	StreamSubjects []string
	AckWait        time.Duration
	MaxDeliver     int
}

// Validate проверяет корректность конфигурации
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("URL must start with nats:// or tls://")
	}
	if c.Stream == "" {
		return fmt.Errorf("stream cannot be empty")
	}
	if len(c.StreamSubjects) == 0 {
		return fmt.Errorf("stream subjects cannot be empty")
	}
	return nil
}

// DefaultNATSConfig возвращает конфигурацию NATS по умолчанию
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		MaxReconnects:     10,
		ReconnectWait:     2 * time.Second,
		ConnectionTimeout: 5 * time.Second,
		EnableMetrics:     true,
		Stream:            "ORDERING",
		StreamSubjects:    []string{"ordering.>"},
		AckWait:           30 * time.Second,
		MaxDeliver:        -1,
	}
}

// NATSAdapter реализация MessageBus через NATS JetStream.
// Подписки durable: сообщение подтверждается после успешной обработки,
// ошибка обработчика возвращает его в stream с задержкой.
type NATSAdapter struct {
	config  NATSConfig
	conn    *nats.Conn
	js      nats.JetStreamContext
	subs    map[string][]*nats.Subscription
	mu      sync.RWMutex
	running bool
	metrics *metrics.Metrics
}

// NATSAdapterBuilder построитель для NATS адаптера
type NATSAdapterBuilder struct {
	config NATSConfig
}

// NewNATSAdapterBuilder создает новый построитель NATS адаптера
func NewNATSAdapterBuilder() *NATSAdapterBuilder {
	return &NATSAdapterBuilder{
		config: DefaultNATSConfig(),
	}
}

// WithConfig заменяет конфигурацию целиком
func (b *NATSAdapterBuilder) WithConfig(config NATSConfig) *NATSAdapterBuilder {
	b.config = config
	return b
}

// WithURL устанавливает URL NATS сервера
func (b *NATSAdapterBuilder) WithURL(url string) *NATSAdapterBuilder {
	b.config.URL = url
	return b
}

// WithStream устанавливает stream и его subjects
func (b *NATSAdapterBuilder) WithStream(name string, subjects ...string) *NATSAdapterBuilder {
	b.config.Stream = name
	b.config.StreamSubjects = subjects
	return b
}

// WithTLS устанавливает TLS конфигурацию
func (b *NATSAdapterBuilder) WithTLS(tls *tls.Config) *NATSAdapterBuilder {
	b.config.TLS = tls
	return b
}

// WithCredentials устанавливает username и password
func (b *NATSAdapterBuilder) WithCredentials(username, password string) *NATSAdapterBuilder {
	b.config.Username = username
	b.config.Password = password
	return b
}

// WithMetrics включает/выключает метрики
func (b *NATSAdapterBuilder) WithMetrics(enable bool) *NATSAdapterBuilder {
	b.config.EnableMetrics = enable
	return b
}

// Build создает NATS адаптер
func (b *NATSAdapterBuilder) Build() (*NATSAdapter, error) {
	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid nats config: %w", err)
	}

	adapter := &NATSAdapter{
		config: b.config,
		subs:   make(map[string][]*nats.Subscription),
	}

	if b.config.EnableMetrics {
		var err error
		adapter.metrics, err = metrics.NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	return adapter, nil
}

// Start подключается к NATS и создает stream (реализация core.Lifecycle)
func (n *NATSAdapter) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(n.config.MaxReconnects),
		nats.ReconnectWait(n.config.ReconnectWait),
		nats.Timeout(n.config.ConnectionTimeout),
	}
	if n.config.TLS != nil {
		opts = append(opts, nats.Secure(n.config.TLS))
	}
	if n.config.Token != "" {
		opts = append(opts, nats.Token(n.config.Token))
	}
	if n.config.Username != "" && n.config.Password != "" {
		opts = append(opts, nats.UserInfo(n.config.Username, n.config.Password))
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(n.config.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			conn.Close()
			return fmt.Errorf("failed to get stream info: %w", err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:     n.config.Stream,
			Subjects: n.config.StreamSubjects,
			Storage:  nats.FileStorage,
		}); err != nil {
			conn.Close()
			return fmt.Errorf("failed to create stream %s: %w", n.config.Stream, err)
		}
	}

	n.conn = conn
	n.js = js
	n.running = true
	return nil
}

// Stop останавливает адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return nil
	}

	for subject, subs := range n.subs {
		for _, sub := range subs {
			_ = sub.Drain()
		}
		delete(n.subs, subject)
	}

	if n.conn != nil {
		_ = n.conn.Drain()
		n.conn.Close()
	}

	n.running = false
	return nil
}

// IsRunning проверяет, запущен ли адаптер (реализация core.Lifecycle)
func (n *NATSAdapter) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// HealthCheck проверяет соединение
func (n *NATSAdapter) HealthCheck(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.conn == nil || !n.conn.IsConnected() {
		return fmt.Errorf("nats adapter is not connected")
	}
	return nil
}

// Name возвращает имя компонента (реализация core.Component)
func (n *NATSAdapter) Name() string {
	return "nats-adapter"
}

// Type возвращает тип компонента (реализация core.Component)
func (n *NATSAdapter) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish публикует сообщение в stream и ждет подтверждения JetStream
func (n *NATSAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	start := time.Now()
	n.mu.RLock()
	js := n.js
	n.mu.RUnlock()
	if js == nil {
		return fmt.Errorf("nats adapter is not connected")
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	// Msg-Id включает дедупликацию JetStream для повторной отправки того же события
	if id := headers[transport.HeaderEventID]; id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}

	if _, err := js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		n.metrics.RecordTransport(ctx, "nats", time.Since(start), false)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	n.metrics.RecordTransport(ctx, "nats", time.Since(start), true)
	return nil
}

// Subscribe создает durable подписку. Очередь становится именем durable consumer.
func (n *NATSAdapter) Subscribe(ctx context.Context, subject string, handler transport.MessageHandler, opts ...transport.MessageHandlerOption) error {
	n.mu.RLock()
	js := n.js
	n.mu.RUnlock()
	if js == nil {
		return fmt.Errorf("nats adapter is not connected")
	}

	options := transport.ApplyHandlerOptions(opts...)
	queue := durableName(options.Queue)

	cb := func(msg *nats.Msg) {
		mbMsg := &transport.Message{
			Subject: msg.Subject,
			Data:    msg.Data,
			Headers: make(map[string]string),
		}
		for k, vals := range msg.Header {
			if len(vals) > 0 {
				mbMsg.Headers[k] = vals[0]
			}
		}

		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
		}
		mbMsg.Headers[transport.HeaderAttempt] = strconv.Itoa(attempt)

		if err := handler(ctx, mbMsg); err != nil {
			delay := time.Second
			if options.RetryPolicy != nil {
				delay = options.RetryPolicy.GetDelay(attempt)
			}
			_ = msg.NakWithDelay(delay)
			return
		}
		_ = msg.Ack()
	}

	subOpts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckWait(n.config.AckWait),
		nats.MaxDeliver(n.config.MaxDeliver),
		nats.DeliverAll(),
	}

	var sub *nats.Subscription
	var err error
	if queue != "" {
		sub, err = js.QueueSubscribe(subject, queue, cb, append(subOpts, nats.Durable(queue))...)
	} else {
		sub, err = js.Subscribe(subject, cb, subOpts...)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.mu.Lock()
	n.subs[subject] = append(n.subs[subject], sub)
	n.mu.Unlock()

	return nil
}

// Unsubscribe отписывается от subject
func (n *NATSAdapter) Unsubscribe(subject string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs[subject] {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
	}
	delete(n.subs, subject)
	return nil
}

// durableName приводит имя очереди к допустимому имени durable consumer
func durableName(queue string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(queue)
}
