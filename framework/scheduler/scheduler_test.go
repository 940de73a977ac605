package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
)

type publishedMessage struct {
	subject string
	data    []byte
	headers map[string]string
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	failures int
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, publishedMessage{subject: subject, data: data, headers: headers})
	return nil
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.subject)
	}
	return out
}

func testPollerConfig() PollerConfig {
	cfg := DefaultPollerConfig()
	cfg.Interval = 10 * time.Millisecond
	return cfg
}

func TestInMemoryStore_ClaimDueOrderAndLease(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Schedule(ctx, &Message{ID: "late", Subject: "b", FireAt: now.Add(-time.Second)}))
	require.NoError(t, store.Schedule(ctx, &Message{ID: "early", Subject: "a", FireAt: now.Add(-time.Minute)}))
	require.NoError(t, store.Schedule(ctx, &Message{ID: "future", Subject: "c", FireAt: now.Add(time.Minute)}))

	claimed, err := store.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "early", claimed[0].ID)
	assert.Equal(t, "late", claimed[1].ID)

	again, err := store.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed messages stay locked for the lease")

	expired, err := store.ClaimDue(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, expired, 3, "expired lease and the future message become due")
}

func TestInMemoryStore_RetryClearsLease(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	require.NoError(t, store.Schedule(ctx, &Message{ID: "m1", CorrelationID: "42", FireAt: now}))
	claimed, err := store.ClaimDue(ctx, now, time.Hour, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.Retry(ctx, "m1", now.Add(time.Second), "boom"))

	pending, err := store.Pending(ctx, "42")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "boom", pending[0].LastError)
	assert.True(t, pending[0].LockedUntil.IsZero())

	claimed, err = store.ClaimDue(ctx, now.Add(time.Second), time.Hour, 1)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestInMemoryStore_ScheduleRolledBackWithTransaction(t *testing.T) {
	store := NewInMemoryStore()
	tx := repository.NewInMemoryTransactor()

	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		if err := store.Schedule(ctx, &Message{ID: "m1", FireAt: time.Now()}); err != nil {
			return err
		}
		return errors.New("state change failed")
	})
	require.Error(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestInMemoryStore_ClaimDueSkipsUncommittedMessages(t *testing.T) {
	store := NewInMemoryStore()
	tx := repository.NewInMemoryTransactor()
	now := time.Now()

	err := tx.WithinTransaction(context.Background(), func(ctx context.Context) error {
		if err := store.Schedule(ctx, &Message{ID: "m1", FireAt: now.Add(-time.Second)}); err != nil {
			return err
		}
		claimed, err := store.ClaimDue(context.Background(), now, time.Minute, 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
		return nil
	})
	require.NoError(t, err)

	claimed, err := store.ClaimDue(context.Background(), now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "m1", claimed[0].ID)
}

func TestPoller_RunOnceRelaysDueMessages(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	pub := &recordingPublisher{}
	now := time.Now()
	poller := NewPoller(store, pub, testPollerConfig(), nil, WithClock(func() time.Time { return now }))

	require.NoError(t, store.Schedule(ctx, &Message{ID: "1", Subject: "ordering.first", FireAt: now.Add(-2 * time.Second),
		Payload: []byte(`{}`), Headers: map[string]string{"event-type": "first"}}))
	require.NoError(t, store.Schedule(ctx, &Message{ID: "2", Subject: "ordering.second", FireAt: now.Add(-time.Second)}))
	require.NoError(t, store.Schedule(ctx, &Message{ID: "3", Subject: "ordering.timeout", FireAt: now.Add(5 * time.Minute)}))

	n, err := poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"ordering.first", "ordering.second"}, pub.subjects())
	assert.Equal(t, "first", pub.messages[0].headers["event-type"])
	assert.Equal(t, 1, store.Count())

	n, err = poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPoller_FailedPublishIsRescheduled(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	pub := &recordingPublisher{failures: 1}
	now := time.Now()
	clock := now
	cfg := testPollerConfig()
	cfg.RetryDelay = time.Second
	poller := NewPoller(store, pub, cfg, nil, WithClock(func() time.Time { return clock }))

	require.NoError(t, store.Schedule(ctx, &Message{ID: "1", CorrelationID: "42", Subject: "s", FireAt: now}))

	n, err := poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := store.Pending(ctx, "42")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, now.Add(time.Second), pending[0].FireAt)

	n, err = poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due before backoff elapses")

	clock = now.Add(time.Second)
	n, err = poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, store.Count())
}

func TestPoller_DropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	pub := &recordingPublisher{failures: 10}
	cfg := testPollerConfig()
	cfg.MaxAttempts = 1
	poller := NewPoller(store, pub, cfg, nil)

	require.NoError(t, store.Schedule(ctx, &Message{ID: "1", Subject: "s", FireAt: time.Now().Add(-time.Second)}))
	_, err := poller.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestPoller_Backoff(t *testing.T) {
	cfg := testPollerConfig()
	cfg.RetryDelay = time.Second
	cfg.MaxRetryDelay = 5 * time.Second
	p := NewPoller(NewInMemoryStore(), &recordingPublisher{}, cfg, nil)

	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 4*time.Second, p.backoff(3))
	assert.Equal(t, 5*time.Second, p.backoff(4))
	assert.Equal(t, 5*time.Second, p.backoff(10))
}

func TestPoller_StartStop(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	pub := &recordingPublisher{}
	poller := NewPoller(store, pub, testPollerConfig(), nil)

	require.NoError(t, poller.Start(ctx))
	assert.True(t, poller.IsRunning())

	require.NoError(t, store.Schedule(ctx, &Message{ID: "1", Subject: "ordering.async", FireAt: time.Now()}))
	poller.Notify()

	assert.Eventually(t, func() bool { return store.Count() == 0 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, poller.Stop(stopCtx))
	assert.False(t, poller.IsRunning())
	assert.Equal(t, []string{"ordering.async"}, pub.subjects())
}

func TestPollerConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultPollerConfig().Validate())

	cfg := DefaultPollerConfig()
	cfg.BatchSize = 0
	assert.True(t, core.HasCode(cfg.Validate(), core.ErrInvalidConfig))

	cfg = DefaultPollerConfig()
	cfg.MaxRetryDelay = cfg.RetryDelay / 2
	assert.Error(t, cfg.Validate())
}

func TestPostgresStore_ScheduleAndComplete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(repository.NewPostgresDBFromSQL(db))
	ctx := context.Background()
	fireAt := time.Now().UTC()

	mock.ExpectExec("INSERT INTO scheduled_messages").
		WithArgs("m1", "42", "ordering.x", "x", []byte(`{}`), []byte(`{"event-type":"x"}`), fireAt, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM scheduled_messages").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Schedule(ctx, &Message{
		ID: "m1", CorrelationID: "42", Subject: "ordering.x", EventType: "x",
		Payload: []byte(`{}`), Headers: map[string]string{"event-type": "x"}, FireAt: fireAt,
	}))
	require.NoError(t, store.Complete(ctx, "m1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(repository.NewPostgresDBFromSQL(db))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{"id", "correlation_id", "subject", "event_type", "payload", "headers", "fire_at", "attempts", "created_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("b", "42", "ordering.b", "b", []byte(`{}`), []byte(`{}`), now, 0, now).
		AddRow("a", "42", "ordering.a", "a", []byte(`{}`), nil, now.Add(-time.Minute), 2, now)

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(now, now.Add(time.Minute), 10).
		WillReturnRows(rows)

	claimed, err := store.ClaimDue(context.Background(), now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "a", claimed[0].ID)
	assert.Equal(t, 2, claimed[0].Attempts)
	assert.Equal(t, now.Add(time.Minute), claimed[0].LockedUntil)
	assert.Equal(t, "b", claimed[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UsesTransactionFromContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pg := repository.NewPostgresDBFromSQL(db)
	store := NewPostgresStore(pg)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO scheduled_messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err = pg.WithinTransaction(context.Background(), func(ctx context.Context) error {
		if err := store.Schedule(ctx, &Message{ID: "m1", FireAt: time.Now()}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")
	assert.NoError(t, mock.ExpectationsWereMet())
}
