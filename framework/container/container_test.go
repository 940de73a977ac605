package container

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(call string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, call)
}

type fakeComponent struct {
	name     string
	journal  *journal
	startErr error
	stopErr  error
	running  bool
}

func (f *fakeComponent) Start(ctx context.Context) error {
	f.journal.add("start " + f.name)
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeComponent) Stop(ctx context.Context) error {
	f.journal.add("stop " + f.name)
	f.running = false
	return f.stopErr
}

func (f *fakeComponent) IsRunning() bool {
	return f.running
}

func TestContainer_StartAndShutdownOrder(t *testing.T) {
	j := &journal{}
	c := NewContainer(nil, nil)
	c.OnShutdown("db", func(ctx context.Context) error {
		j.add("close db")
		return nil
	})
	c.Add("poller", &fakeComponent{name: "poller", journal: j})
	c.Add("http", &fakeComponent{name: "http", journal: j})

	assert.Equal(t, []string{"db", "poller", "http"}, c.Names())

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))

	assert.Equal(t, []string{"start poller", "start http", "stop http", "stop poller", "close db"}, j.calls)
}

func TestContainer_StartFailureRollsBack(t *testing.T) {
	j := &journal{}
	c := NewContainer(nil, nil)
	c.Add("poller", &fakeComponent{name: "poller", journal: j})
	c.Add("http", &fakeComponent{name: "http", journal: j, startErr: errors.New("address in use")})
	c.Add("grpc", &fakeComponent{name: "grpc", journal: j})

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start http")

	assert.Equal(t, []string{"start poller", "start http", "stop poller"}, j.calls)
}

func TestContainer_ShutdownContinuesAfterError(t *testing.T) {
	j := &journal{}
	c := NewContainer(nil, nil)
	disposed := 0
	c.OnShutdown("cache", func(ctx context.Context) error {
		disposed++
		return nil
	})
	c.Add("poller", &fakeComponent{name: "poller", journal: j})
	c.Add("http", &fakeComponent{name: "http", journal: j, stopErr: errors.New("timeout")})

	require.NoError(t, c.Start(context.Background()))
	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http")
	assert.Equal(t, []string{"start poller", "start http", "stop http", "stop poller"}, j.calls)

	// повторная остановка не закрывает ресурсы второй раз
	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, 1, disposed)
}
