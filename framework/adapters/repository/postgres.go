package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx драйвер для database/sql

	"github.com/akriventsev/ordering/framework/core"
)

// PostgresConfig конфигурация подключения к PostgreSQL
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // в секундах
}

// Validate проверяет корректность конфигурации
func (c PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("MaxOpenConns must be greater than 0")
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("MaxIdleConns must be greater than 0")
	}
	return nil
}

// DefaultPostgresConfig возвращает конфигурацию PostgreSQL по умолчанию
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 300,
	}
}

// Querier общий интерфейс *sql.DB и *sql.Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresDB пул соединений PostgreSQL с единицей работы через контекст.
// Реализует core.Transactor: хранилища получают текущую транзакцию через Querier.
type PostgresDB struct {
	config  PostgresConfig
	db      *sql.DB
	mu      sync.RWMutex
	running bool
}

// NewPostgresDB открывает пул соединений через pgx stdlib
func NewPostgresDB(config PostgresConfig) (*PostgresDB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}

	db, err := sql.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)

	return &PostgresDB{config: config, db: db}, nil
}

// NewPostgresDBFromSQL оборачивает готовый *sql.DB
func NewPostgresDBFromSQL(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

// DB возвращает пул соединений
func (p *PostgresDB) DB() *sql.DB {
	return p.db
}

// WithinTransaction выполняет fn в транзакции. Вложенный вызов переиспользует внешнюю транзакцию.
func (p *PostgresDB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if raw, ok := core.TxFromContext(ctx); ok {
		if _, nested := raw.(*sql.Tx); nested {
			return fn(ctx)
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(core.ContextWithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Querier возвращает транзакцию из контекста или пул соединений
func (p *PostgresDB) Querier(ctx context.Context) Querier {
	if raw, ok := core.TxFromContext(ctx); ok {
		if tx, ok := raw.(*sql.Tx); ok {
			return tx
		}
	}
	return p.db
}

// Start проверяет соединение
func (p *PostgresDB) Start(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	return nil
}

// Stop закрывает пул соединений
func (p *PostgresDB) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return p.db.Close()
}

// IsRunning проверяет, запущен ли компонент
func (p *PostgresDB) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// HealthCheck проверяет доступность базы
func (p *PostgresDB) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Name возвращает имя компонента
func (p *PostgresDB) Name() string {
	return "postgres"
}

// Type возвращает тип компонента
func (p *PostgresDB) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// IsUniqueViolation проверяет, является ли ошибка нарушением уникальности (23505)
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
