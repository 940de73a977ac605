package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/ordering/framework/core"
)

// MongoConfig конфигурация подключения к MongoDB
type MongoConfig struct {
	URI         string
	Database    string
	Timeout     int // в секундах
	MaxPoolSize int
	MinPoolSize int
}

// Validate проверяет корректность конфигурации
func (c MongoConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	if c.MaxPoolSize <= 0 {
		return fmt.Errorf("MaxPoolSize must be greater than 0")
	}
	return nil
}

// DefaultMongoConfig возвращает конфигурацию MongoDB по умолчанию
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:    "ordering",
		Timeout:     10,
		MaxPoolSize: 100,
		MinPoolSize: 10,
	}
}

// IndexSpec спецификация индекса коллекции
type IndexSpec struct {
	Name   string
	Fields []string
	Unique bool
}

// mongoTx маркер транзакции MongoDB в контексте.
// Сессия хранится отдельно от контекста, чтобы core.DetachTx отвязывал ее целиком.
type mongoTx struct {
	session mongo.Session
}

// MongoDB клиент MongoDB с единицей работы на сессиях.
// Транзакции требуют replica set.
type MongoDB struct {
	config  MongoConfig
	client  *mongo.Client
	db      *mongo.Database
	mu      sync.RWMutex
	running bool
}

// NewMongoDB подключается к MongoDB
func NewMongoDB(ctx context.Context, config MongoConfig) (*MongoDB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongodb config: %w", err)
	}

	clientOptions := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(uint64(config.MaxPoolSize)).
		SetMinPoolSize(uint64(config.MinPoolSize)).
		SetConnectTimeout(time.Duration(config.Timeout) * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &MongoDB{
		config: config,
		client: client,
		db:     client.Database(config.Database),
	}, nil
}

// Collection возвращает коллекцию базы
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// EnsureIndexes создает индексы коллекции, если их нет
func (m *MongoDB) EnsureIndexes(ctx context.Context, collection string, specs ...IndexSpec) error {
	models := make([]mongo.IndexModel, 0, len(specs))
	for _, spec := range specs {
		keys := bson.D{}
		for _, field := range spec.Fields {
			keys = append(keys, bson.E{Key: field, Value: 1})
		}
		opts := options.Index().SetUnique(spec.Unique)
		if spec.Name != "" {
			opts.SetName(spec.Name)
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	if len(models) == 0 {
		return nil
	}
	if _, err := m.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
	}
	return nil
}

// WithinTransaction выполняет fn в транзакции сессии MongoDB.
// Драйвер может повторить fn при TransientTransactionError.
func (m *MongoDB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if raw, ok := core.TxFromContext(ctx); ok {
		if _, nested := raw.(*mongoTx); nested {
			return fn(ctx)
		}
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start mongo session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(core.ContextWithTx(ctx, &mongoTx{session: sc}))
	})
	return err
}

// SessionContext возвращает контекст, привязанный к сессии текущей транзакции.
// Вне транзакции возвращает ctx как есть.
func (m *MongoDB) SessionContext(ctx context.Context) context.Context {
	if raw, ok := core.TxFromContext(ctx); ok {
		if tx, ok := raw.(*mongoTx); ok {
			return mongo.NewSessionContext(ctx, tx.session)
		}
	}
	return ctx
}

// Start проверяет соединение
func (m *MongoDB) Start(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	return nil
}

// Stop закрывает соединение
func (m *MongoDB) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return m.client.Disconnect(ctx)
}

// IsRunning проверяет, запущен ли компонент
func (m *MongoDB) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// HealthCheck проверяет доступность MongoDB
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Name возвращает имя компонента
func (m *MongoDB) Name() string {
	return "mongodb"
}

// Type возвращает тип компонента
func (m *MongoDB) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// IsDuplicateKey проверяет, является ли ошибка нарушением уникального индекса
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
