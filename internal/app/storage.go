package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/container"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/framework/idempotency"
	"github.com/akriventsev/ordering/framework/migrations"
	"github.com/akriventsev/ordering/framework/observability"
	"github.com/akriventsev/ordering/framework/saga"
	"github.com/akriventsev/ordering/framework/scheduler"
	"github.com/akriventsev/ordering/internal/config"
	"github.com/akriventsev/ordering/internal/ordering/application"
	"github.com/akriventsev/ordering/internal/ordering/domain"
	"github.com/akriventsev/ordering/internal/ordering/infrastructure"
	ordermigrations "github.com/akriventsev/ordering/internal/ordering/infrastructure/migrations"
)

// stores хранилища сервиса на одном движке с общей единицей работы
type stores struct {
	tx       core.Transactor
	orders   domain.OrderRepository
	buyers   domain.BuyerRepository
	sagas    saga.Store[application.GracePeriodState]
	requests idempotency.Store
	outbox   scheduler.Store
}

// openStores подключает хранилище по storage.driver и регистрирует его в контейнере
func openStores(ctx context.Context, cfg *config.Config, c *container.Container, health *observability.HealthManager, logger *zap.Logger) (*stores, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := repository.NewPostgresDB(cfg.PostgresConfig())
		if err != nil {
			return nil, err
		}
		if err := db.Start(ctx); err != nil {
			return nil, err
		}
		c.OnShutdown(db.Name(), db.Stop)
		health.RegisterHealthCheck(observability.NewHealthCheck(db.Name(), db.HealthCheck))

		if cfg.Storage.AutoMigrate {
			migrator, err := migrations.NewMigrator(db.DB(), ordermigrations.FS, ordermigrations.Dir, "postgres", logger)
			if err != nil {
				return nil, err
			}
			if err := migrator.Up(ctx); err != nil {
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
		}

		return &stores{
			tx:       db,
			orders:   infrastructure.NewPostgresOrderRepository(db),
			buyers:   infrastructure.NewPostgresBuyerRepository(db),
			sagas:    saga.NewPostgresStore[application.GracePeriodState](db, application.GracePeriodSagaType),
			requests: idempotency.NewPostgresStore(db),
			outbox:   scheduler.NewPostgresStore(db),
		}, nil

	case config.StorageMongoDB:
		db, err := repository.NewMongoDB(ctx, cfg.MongoConfig())
		if err != nil {
			return nil, err
		}
		if err := db.Start(ctx); err != nil {
			return nil, err
		}
		c.OnShutdown(db.Name(), db.Stop)
		health.RegisterHealthCheck(observability.NewHealthCheck(db.Name(), db.HealthCheck))

		orders := infrastructure.NewMongoOrderRepository(db)
		if err := orders.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		outbox := scheduler.NewMongoStore(db)
		if err := outbox.EnsureIndexes(ctx); err != nil {
			return nil, err
		}

		return &stores{
			tx:       db,
			orders:   orders,
			buyers:   infrastructure.NewMongoBuyerRepository(db),
			sagas:    saga.NewMongoStore[application.GracePeriodState](db, application.GracePeriodSagaType),
			requests: idempotency.NewMongoStore(db),
			outbox:   outbox,
		}, nil

	default:
		return &stores{
			tx:       repository.NewInMemoryTransactor(),
			orders:   infrastructure.NewInMemoryOrderRepository(),
			buyers:   infrastructure.NewInMemoryBuyerRepository(),
			sagas:    saga.NewInMemoryStore[application.GracePeriodState](),
			requests: idempotency.NewInMemoryStore(),
			outbox:   scheduler.NewInMemoryStore(),
		}, nil
	}
}
