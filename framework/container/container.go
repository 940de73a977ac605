// Package container управляет жизненным циклом компонентов сервиса.
// Компоненты запускаются в порядке регистрации и останавливаются в обратном.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/core"
)

// Config конфигурация контейнера
type Config struct {
	ShutdownTimeout time.Duration
}

type entry struct {
	name      string
	lifecycle core.Lifecycle
	// dispose вызывается при остановке для ресурсов без Start
	dispose func(ctx context.Context) error
}

// Container упорядоченный набор компонентов с общим запуском и остановкой
type Container struct {
	Config *Config

	logger  *zap.Logger
	mu      sync.Mutex
	entries []entry
	started int
}

// NewContainer создает новый контейнер
func NewContainer(config *Config, logger *zap.Logger) *Container {
	if config == nil {
		config = &Config{
			ShutdownTimeout: 30 * time.Second,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{
		Config: config,
		logger: logger,
	}
}

// Add регистрирует компонент с жизненным циклом
func (c *Container) Add(name string, lifecycle core.Lifecycle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{name: name, lifecycle: lifecycle})
}

// AddComponent регистрирует компонент под его собственным именем
func (c *Container) AddComponent(component interface {
	core.Lifecycle
	core.Component
}) {
	c.Add(component.Name(), component)
}

// OnShutdown регистрирует функцию освобождения ресурса.
// Она вызывается при Shutdown в обратном порядке вместе с остальными компонентами.
func (c *Container) OnShutdown(name string, dispose func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry{name: name, dispose: dispose})
}

// Names возвращает имена компонентов в порядке запуска
func (c *Container) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.name)
	}
	return names
}

// Start запускает компоненты по порядку.
// При ошибке уже запущенные компоненты останавливаются в обратном порядке.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := c.started; i < len(c.entries); i++ {
		e := c.entries[i]
		if e.lifecycle != nil {
			if err := e.lifecycle.Start(ctx); err != nil {
				rollbackErr := c.stopFrom(ctx, i-1)
				c.started = 0
				if rollbackErr != nil {
					return fmt.Errorf("failed to start %s: %w (rollback: %v)", e.name, err, rollbackErr)
				}
				return fmt.Errorf("failed to start %s: %w", e.name, err)
			}
			c.logger.Debug("component started", zap.String("component", e.name))
		}
		c.started = i + 1
	}
	return nil
}

// Shutdown останавливает компоненты в обратном порядке.
// Ошибка одного компонента не прерывает остановку остальных.
func (c *Container) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.Config.ShutdownTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.stopFrom(ctx, len(c.entries)-1)
	c.started = 0
	return err
}

func (c *Container) stopFrom(ctx context.Context, last int) error {
	var errs []error
	for i := last; i >= 0; i-- {
		e := c.entries[i]
		var err error
		switch {
		case e.lifecycle != nil:
			if e.lifecycle.IsRunning() {
				err = e.lifecycle.Stop(ctx)
			}
		case e.dispose != nil:
			// ресурс освобождается один раз
			c.entries[i].dispose = nil
			err = e.dispose(ctx)
		}
		if err != nil {
			c.logger.Error("component stop failed", zap.String("component", e.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}
