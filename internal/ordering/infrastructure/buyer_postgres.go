package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// PostgresBuyerRepository хранилище покупателей в таблице buyers.
// Способы оплаты хранятся в jsonb рядом с покупателем.
type PostgresBuyerRepository struct {
	db *repository.PostgresDB
}

// NewPostgresBuyerRepository создает PostgreSQL хранилище покупателей
func NewPostgresBuyerRepository(db *repository.PostgresDB) *PostgresBuyerRepository {
	return &PostgresBuyerRepository{db: db}
}

// Get возвращает покупателя
func (r *PostgresBuyerRepository) Get(ctx context.Context, id string) (*domain.Buyer, error) {
	var (
		buyer   domain.Buyer
		methods []byte
	)
	err := r.db.Querier(ctx).QueryRowContext(ctx,
		`SELECT id, payment_methods, version FROM buyers WHERE id = $1`, id).
		Scan(&buyer.BuyerID, &methods, &buyer.Rev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("buyer %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer %s: %w", id, err)
	}
	if err := json.Unmarshal(methods, &buyer.PaymentMethods); err != nil {
		return nil, fmt.Errorf("failed to decode payment methods of buyer %s: %w", id, err)
	}
	return &buyer, nil
}

// Insert сохраняет нового покупателя
func (r *PostgresBuyerRepository) Insert(ctx context.Context, buyer *domain.Buyer) error {
	methods, err := json.Marshal(buyer.PaymentMethods)
	if err != nil {
		return fmt.Errorf("failed to encode payment methods: %w", err)
	}
	buyer.Rev = 1

	_, err = r.db.Querier(ctx).ExecContext(ctx,
		`INSERT INTO buyers (id, payment_methods, version) VALUES ($1, $2, $3)`,
		buyer.BuyerID, methods, buyer.Rev)
	if repository.IsUniqueViolation(err) {
		return buyerExists(buyer.BuyerID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert buyer %s: %w", buyer.BuyerID, err)
	}
	return nil
}

// Update сохраняет способы оплаты покупателя по версии
func (r *PostgresBuyerRepository) Update(ctx context.Context, buyer *domain.Buyer, expectedVersion int64) error {
	methods, err := json.Marshal(buyer.PaymentMethods)
	if err != nil {
		return fmt.Errorf("failed to encode payment methods: %w", err)
	}

	res, err := r.db.Querier(ctx).ExecContext(ctx,
		`UPDATE buyers SET payment_methods = $2, version = $3 WHERE id = $1 AND version = $4`,
		buyer.BuyerID, methods, buyer.Rev, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update buyer %s: %w", buyer.BuyerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update buyer %s: %w", buyer.BuyerID, err)
	}
	if n == 0 {
		return core.NewError(core.ErrConflict,
			fmt.Sprintf("buyer %s changed since version %d", buyer.BuyerID, expectedVersion))
	}
	return nil
}

var _ domain.BuyerRepository = (*PostgresBuyerRepository)(nil)
