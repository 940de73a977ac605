package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

func TestInMemoryBuyerRepository_InsertGetUpdate(t *testing.T) {
	repo := NewInMemoryBuyerRepository()
	ctx := context.Background()

	_, err := repo.Get(ctx, "buyer-1")
	assert.True(t, core.IsNotFound(err))

	buyer, err := domain.NewBuyer("buyer-1")
	require.NoError(t, err)
	buyer.VerifyOrAddPaymentMethod("card-1", fixedID("pm-1"), time.Now())
	require.NoError(t, repo.Insert(ctx, buyer))
	assert.Equal(t, int64(1), buyer.Version())

	twin, err := domain.NewBuyer("buyer-1")
	require.NoError(t, err)
	assert.True(t, core.IsConflict(repo.Insert(ctx, twin)))

	loaded, err := repo.Get(ctx, "buyer-1")
	require.NoError(t, err)
	loaded.VerifyOrAddPaymentMethod("card-2", fixedID("pm-2"), time.Now())
	loaded.Rev = 2
	require.NoError(t, repo.Update(ctx, loaded, 1))

	stale := buyer.Clone()
	stale.Rev = 2
	assert.True(t, core.IsConflict(repo.Update(ctx, stale, 1)))

	current, err := repo.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, current.PaymentMethods, 2)
}

func TestPostgresBuyerRepository_GetAndUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresBuyerRepository(repository.NewPostgresDBFromSQL(db))
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, payment_methods, version FROM buyers").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_methods", "version"}).
			AddRow("buyer-1", []byte(`[{"id":"pm-1","card_reference":"card-1"}]`), int64(3)))
	mock.ExpectExec("UPDATE buyers").
		WithArgs("buyer-1", sqlmock.AnyArg(), int64(4), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	buyer, err := repo.Get(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, buyer.PaymentMethods, 1)
	assert.Equal(t, "pm-1", buyer.PaymentMethods[0].ID)

	buyer.VerifyOrAddPaymentMethod("card-2", fixedID("pm-2"), time.Now())
	buyer.Rev = 4
	assert.True(t, core.IsConflict(repo.Update(ctx, buyer, 3)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBuyerRepository_InsertAndMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresBuyerRepository(repository.NewPostgresDBFromSQL(db))
	ctx := context.Background()

	mock.ExpectQuery("FROM buyers").WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_methods", "version"}))
	mock.ExpectExec("INSERT INTO buyers").
		WithArgs("buyer-1", []byte(`[{"id":"pm-1","card_reference":"card-1","created_at":"2026-03-01T10:00:00Z"}]`), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = repo.Get(ctx, "nobody")
	assert.True(t, core.IsNotFound(err))

	buyer, err := domain.NewBuyer("buyer-1")
	require.NoError(t, err)
	buyer.VerifyOrAddPaymentMethod("card-1", fixedID("pm-1"), time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Insert(ctx, buyer))
	assert.Equal(t, int64(1), buyer.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func fixedID(id string) func() string {
	return func() string { return id }
}
