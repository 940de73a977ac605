// Package migrations предоставляет обертку над goose для управления миграциями схемы базы данных.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// MigrationStatus представляет статус миграции
type MigrationStatus struct {
	Version   int64
	Name      string
	AppliedAt *time.Time
	Status    string // "pending", "applied"
}

// Migrator применяет SQL миграции из файловой системы (обычно embed.FS)
type Migrator struct {
	db     *sql.DB
	dir    string
	logger *zap.Logger
}

// NewMigrator создает Migrator. goose хранит базовую FS и диалект глобально,
// поэтому в процессе должен жить один Migrator.
func NewMigrator(db *sql.DB, fsys fs.FS, dir, dialect string, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialect == "" {
		dialect = "postgres"
	}
	if dir == "" {
		dir = "."
	}

	goose.SetBaseFS(fsys)
	goose.SetLogger(&gooseLogger{logger: logger.Named("migrations").Sugar()})
	if err := goose.SetDialect(dialect); err != nil {
		return nil, fmt.Errorf("failed to set dialect %s: %w", dialect, err)
	}

	return &Migrator{db: db, dir: dir, logger: logger}, nil
}

// Up применяет все pending миграции
func (m *Migrator) Up(ctx context.Context) error {
	if err := goose.UpContext(ctx, m.db, m.dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// UpBy применяет не более steps pending миграций
func (m *Migrator) UpBy(ctx context.Context, steps int64) error {
	if steps <= 0 {
		return m.Up(ctx)
	}

	current, err := goose.GetDBVersionContext(ctx, m.db)
	if err != nil {
		current = 0
	}

	migrations, err := m.Migrations()
	if err != nil {
		return err
	}

	var pending []*goose.Migration
	for _, migration := range migrations {
		if migration.Version > current {
			pending = append(pending, migration)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	target := pending[len(pending)-1].Version
	if int64(len(pending)) > steps {
		target = pending[steps-1].Version
	}
	if err := goose.UpToContext(ctx, m.db, m.dir, target); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Down откатывает последнюю миграцию
func (m *Migrator) Down(ctx context.Context) error {
	if err := goose.DownContext(ctx, m.db, m.dir); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

// DownBy откатывает steps миграций
func (m *Migrator) DownBy(ctx context.Context, steps int64) error {
	current, err := m.Version(ctx)
	if err != nil {
		return err
	}

	migrations, err := m.Migrations()
	if err != nil {
		return err
	}

	var applied []int64
	for _, migration := range migrations {
		if migration.Version <= current {
			applied = append(applied, migration.Version)
		}
	}

	target := int64(0)
	if idx := len(applied) - 1 - int(steps); idx >= 0 {
		target = applied[idx]
	}
	if err := goose.DownToContext(ctx, m.db, m.dir, target); err != nil {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	return nil
}

// Version возвращает текущую версию схемы
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	version, err := goose.GetDBVersionContext(ctx, m.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// Migrations возвращает известные миграции по возрастанию версии
func (m *Migrator) Migrations() (goose.Migrations, error) {
	migrations, err := goose.CollectMigrations(m.dir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to collect migrations: %w", err)
	}
	sort.Sort(migrations)
	return migrations, nil
}

// Status возвращает статус всех миграций
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := m.Migrations()
	if err != nil {
		return nil, err
	}

	current, err := goose.GetDBVersionContext(ctx, m.db)
	if err != nil {
		current = 0
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, migration := range migrations {
		status := MigrationStatus{
			Version: migration.Version,
			Name:    migration.Source,
			Status:  "pending",
		}

		if migration.Version <= current {
			var appliedAt time.Time
			err := m.db.QueryRowContext(ctx,
				"SELECT tstamp FROM goose_db_version WHERE version_id = $1 AND is_applied = true ORDER BY tstamp DESC LIMIT 1",
				migration.Version,
			).Scan(&appliedAt)
			if err == nil {
				status.AppliedAt = &appliedAt
				status.Status = "applied"
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Create создает новый файл SQL миграции в каталоге на диске
func Create(dir, name string) error {
	goose.SetBaseFS(nil)
	if err := goose.Create(nil, dir, name, "sql"); err != nil {
		return fmt.Errorf("failed to create migration: %w", err)
	}
	return nil
}

type gooseLogger struct {
	logger *zap.SugaredLogger
}

func (l *gooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Errorf(format, v...)
}

func (l *gooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Infof(format, v...)
}
