package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

const orderColumns = `id, buyer_id, address, card_reference, payment_method_id, items, status,
	description, rejected_product_ids, created_at, updated_at, version`

// PostgresOrderRepository хранилище заказов в таблице orders.
// Адрес, позиции и отклоненные товары хранятся в jsonb.
type PostgresOrderRepository struct {
	db *repository.PostgresDB
}

// NewPostgresOrderRepository создает PostgreSQL хранилище заказов
func NewPostgresOrderRepository(db *repository.PostgresDB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// Get возвращает заказ
func (r *PostgresOrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	rows, err := r.db.Querier(ctx).QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to load order %s: %w", id, err)
		}
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("order %s not found", id))
	}
	return scanOrder(rows)
}

// Insert сохраняет новый заказ
func (r *PostgresOrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	address, items, rejected, err := encodeOrder(order)
	if err != nil {
		return err
	}
	order.Rev = 1

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = r.db.Querier(ctx).ExecContext(ctx, query,
		order.OrderID, order.BuyerID, address, order.CardReference, order.PaymentMethodID, items, string(order.Status),
		order.Description, rejected, order.CreatedAt, order.UpdatedAt, order.Rev)
	if repository.IsUniqueViolation(err) {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("order %s already exists", order.OrderID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.OrderID, err)
	}
	return nil
}

// Update сохраняет статус заказа по версии. Позиции не меняются.
func (r *PostgresOrderRepository) Update(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	rejected, err := json.Marshal(order.RejectedProductIDs)
	if err != nil {
		return fmt.Errorf("failed to encode rejected products: %w", err)
	}

	query := `
		UPDATE orders
		SET status = $2, description = $3, rejected_product_ids = $4, updated_at = $5, version = $6
		WHERE id = $1 AND version = $7
	`
	res, err := r.db.Querier(ctx).ExecContext(ctx, query,
		order.OrderID, string(order.Status), order.Description, rejected, order.UpdatedAt, order.Rev, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.OrderID, err)
	}
	if n == 0 {
		return core.NewError(core.ErrConflict,
			fmt.Sprintf("order %s changed since version %d", order.OrderID, expectedVersion))
	}
	return nil
}

// FindSubmittedBefore возвращает заказы в статусе Submitted, созданные не позже cutoff
func (r *PostgresOrderRepository) FindSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND created_at <= $2
		ORDER BY created_at
		LIMIT $3`
	rows, err := r.db.Querier(ctx).QueryContext(ctx, query, string(domain.StatusSubmitted), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submitted orders: %w", err)
	}
	defer rows.Close()

	var result []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submitted orders: %w", err)
	}
	return result, nil
}

func encodeOrder(order *domain.Order) (address, items, rejected []byte, err error) {
	if address, err = json.Marshal(order.Address); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode address: %w", err)
	}
	if items, err = json.Marshal(order.Items); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode items: %w", err)
	}
	if rejected, err = json.Marshal(order.RejectedProductIDs); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode rejected products: %w", err)
	}
	return address, items, rejected, nil
}

func scanOrder(rows *sql.Rows) (*domain.Order, error) {
	var (
		order                    domain.Order
		status                   string
		paymentMethodID          sql.NullString
		description              sql.NullString
		address, items, rejected []byte
	)
	err := rows.Scan(&order.OrderID, &order.BuyerID, &address, &order.CardReference, &paymentMethodID, &items,
		&status, &description, &rejected, &order.CreatedAt, &order.UpdatedAt, &order.Rev)
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	order.Description = description.String
	order.PaymentMethodID = paymentMethodID.String
	if err := json.Unmarshal(address, &order.Address); err != nil {
		return nil, fmt.Errorf("failed to decode address: %w", err)
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	if len(rejected) > 0 {
		if err := json.Unmarshal(rejected, &order.RejectedProductIDs); err != nil {
			return nil, fmt.Errorf("failed to decode rejected products: %w", err)
		}
	}
	return &order, nil
}

var _ domain.OrderRepository = (*PostgresOrderRepository)(nil)
