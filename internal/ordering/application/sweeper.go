package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// SweeperConfig конфигурация GracePeriodSweeper
type SweeperConfig struct {
	// Interval период между проходами
	Interval time.Duration
	// GracePeriod возраст заказа, после которого период отмены считается истекшим
	GracePeriod time.Duration
	// BatchSize максимум заказов за проход
	BatchSize int
}

// DefaultSweeperConfig возвращает конфигурацию по умолчанию
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:    30 * time.Second,
		GracePeriod: 5 * time.Minute,
		BatchSize:   500,
	}
}

// Validate проверяет корректность конфигурации
func (c SweeperConfig) Validate() error {
	if c.Interval <= 0 {
		return core.NewError(core.ErrInvalidConfig, "sweeper interval must be positive")
	}
	if c.GracePeriod <= 0 {
		return core.NewError(core.ErrInvalidConfig, "grace period must be positive")
	}
	if c.BatchSize <= 0 {
		return core.NewError(core.ErrInvalidConfig, "sweeper batch size must be positive")
	}
	return nil
}

// GracePeriodSweeper периодически ищет заказы в статусе Submitted старше периода отмены
// и публикует для них GracePeriodConfirmed. Страхует сагу от потерянного таймаута.
type GracePeriodSweeper struct {
	config SweeperConfig
	orders domain.OrderRepository
	bus    events.Publisher
	opts   options

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewGracePeriodSweeper создает sweeper
func NewGracePeriodSweeper(orders domain.OrderRepository, bus events.Publisher, config SweeperConfig, opts ...Option) *GracePeriodSweeper {
	o := buildOptions(opts)
	o.logger = o.logger.Named("sweeper")
	return &GracePeriodSweeper{
		config: config,
		orders: orders,
		bus:    bus,
		opts:   o,
	}
}

// RunOnce выполняет один проход и возвращает число подтвержденных заказов.
// Ошибка публикации по одному заказу не прерывает проход.
func (s *GracePeriodSweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.opts.clock().Add(-s.config.GracePeriod)
	s.opts.logger.Debug("checking confirmed grace period orders", zap.Time("cutoff", cutoff))

	orders, err := s.orders.FindSubmittedBefore(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.opts.metrics.RecordSweep(ctx, 0, false)
		return 0, err
	}

	confirmed := 0
	for _, order := range orders {
		if err := s.bus.Publish(ctx, domain.NewGracePeriodConfirmed(order.ID())); err != nil {
			s.opts.logger.Error("failed to publish grace period confirmation",
				zap.String("order_id", order.ID()), zap.Error(err))
			continue
		}
		confirmed++
	}

	s.opts.metrics.RecordSweep(ctx, confirmed, confirmed == len(orders))
	if confirmed > 0 {
		s.opts.logger.Info("grace period confirmed by sweeper", zap.Int("orders", confirmed))
	}
	return confirmed, nil
}

// Start запускает периодические проходы (реализация core.Lifecycle)
func (s *GracePeriodSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.loop(context.WithoutCancel(ctx), s.stop, s.done)
	return nil
}

func (s *GracePeriodSweeper) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		// остановка не прерывает начатый проход
		if _, err := s.RunOnce(ctx); err != nil {
			s.opts.logger.Error("grace period sweep failed", zap.Error(err))
		}
	}
}

// Stop прекращает новые проходы и ждет завершения текущего (реализация core.Lifecycle)
func (s *GracePeriodSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли sweeper (реализация core.Lifecycle)
func (s *GracePeriodSweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Name возвращает имя компонента
func (s *GracePeriodSweeper) Name() string {
	return "grace-period-sweeper"
}

// Type возвращает тип компонента
func (s *GracePeriodSweeper) Type() core.ComponentType {
	return core.ComponentTypeWorker
}
