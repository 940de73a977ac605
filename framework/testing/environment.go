// Package testing предоставляет утилиты для тестирования приложений на базе фреймворка.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/akriventsev/ordering/framework/adapters/messagebus"
	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/events"
	"github.com/akriventsev/ordering/framework/scheduler"
)

// InMemoryTestEnvironment тестовая среда с готовыми in-memory компонентами:
// шина с отложенной доставкой, синхронный брокер, диспетчер и управляемые часы.
type InMemoryTestEnvironment struct {
	Outbox     *scheduler.InMemoryStore
	Bus        *events.DurableBus
	Poller     *scheduler.Poller
	MessageBus *messagebus.InMemoryAdapter
	Registry   *events.Registry
	Tx         *repository.InMemoryTransactor
	Codec      events.Codec
	Router     events.SubjectRouter

	mu         sync.Mutex
	now        time.Time
	dispatcher *events.Dispatcher
}

// NewInMemoryTestEnvironment создает новую тестовую среду. Часы стоят на start,
// пока тест не сдвинет их через Advance.
func NewInMemoryTestEnvironment(t *testing.T, codec events.Codec, prefix string, start time.Time) *InMemoryTestEnvironment {
	t.Helper()
	e := &InMemoryTestEnvironment{
		Outbox:     scheduler.NewInMemoryStore(),
		MessageBus: messagebus.NewInMemoryAdapter(messagebus.InMemoryConfig{EnableOrdering: true}),
		Registry:   events.NewRegistry(),
		Tx:         repository.NewInMemoryTransactor(),
		Codec:      codec,
		Router:     events.NewSubjectRouter(prefix),
		now:        start,
	}
	e.Bus = events.NewDurableBus(e.Outbox, codec, e.Router, events.WithBusClock(e.Now))
	e.Poller = scheduler.NewPoller(e.Outbox, e.MessageBus, scheduler.DefaultPollerConfig(), nil, scheduler.WithClock(e.Now))
	return e
}

// Now текущее время среды
func (e *InMemoryTestEnvironment) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// Advance сдвигает часы среды
func (e *InMemoryTestEnvironment) Advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

// Start подписывает обработчики реестра. Регистрировать обработчики нужно до вызова.
func (e *InMemoryTestEnvironment) Start(t *testing.T) {
	t.Helper()
	e.dispatcher = events.NewDispatcher(events.DefaultDispatcherConfig(), e.MessageBus, e.Registry, e.Codec, e.Router)
	if err := e.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("failed to start dispatcher: %v", err)
	}
	t.Cleanup(func() {
		_ = e.Shutdown(context.Background())
	})
}

// Settle доставляет готовые сообщения, пока очередь не опустеет
func (e *InMemoryTestEnvironment) Settle(t *testing.T) {
	t.Helper()
	for i := 0; i < 50; i++ {
		n, err := e.Poller.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("poller failed: %v", err)
		}
		if n == 0 {
			return
		}
	}
	t.Fatal("bus did not settle")
}

// Shutdown корректно завершает работу тестовой среды
func (e *InMemoryTestEnvironment) Shutdown(ctx context.Context) error {
	if e.dispatcher != nil {
		return e.dispatcher.Stop(ctx)
	}
	return nil
}
