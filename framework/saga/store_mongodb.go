package saga

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
)

const sagaCollection = "saga_instances"

type mongoInstance[S any] struct {
	Key         string `bson:"_id"`
	Instance[S] `bson:",inline"`
}

// MongoStore хранилище экземпляров в MongoDB.
// Ключ документа "<saga_type>:<correlation_id>", состояние хранится вложенным документом.
type MongoStore[S any] struct {
	db         *repository.MongoDB
	collection *mongo.Collection
	sagaType   string
}

// NewMongoStore создает новое MongoDB хранилище для типа саги
func NewMongoStore[S any](db *repository.MongoDB, sagaType string) *MongoStore[S] {
	return &MongoStore[S]{db: db, collection: db.Collection(sagaCollection), sagaType: sagaType}
}

func (s *MongoStore[S]) key(id string) string {
	return s.sagaType + ":" + id
}

func (s *MongoStore[S]) document(instance *Instance[S]) mongoInstance[S] {
	return mongoInstance[S]{Key: s.key(instance.ID), Instance: *instance}
}

// Load возвращает экземпляр
func (s *MongoStore[S]) Load(ctx context.Context, id string) (*Instance[S], error) {
	var doc mongoInstance[S]
	err := s.collection.FindOne(s.db.SessionContext(ctx), bson.M{"_id": s.key(id)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("%s saga %s not found", s.sagaType, id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load saga: %w", err)
	}
	return &doc.Instance, nil
}

// Insert сохраняет новый экземпляр
func (s *MongoStore[S]) Insert(ctx context.Context, instance *Instance[S]) error {
	_, err := s.collection.InsertOne(s.db.SessionContext(ctx), s.document(instance))
	if repository.IsDuplicateKey(err) {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("%s saga %s already exists", s.sagaType, instance.ID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert saga: %w", err)
	}
	return nil
}

// Update сохраняет экземпляр по версии
func (s *MongoStore[S]) Update(ctx context.Context, instance *Instance[S], expectedVersion int64) error {
	res, err := s.collection.ReplaceOne(s.db.SessionContext(ctx),
		bson.M{"_id": s.key(instance.ID), "version": expectedVersion}, s.document(instance))
	if err != nil {
		return fmt.Errorf("failed to update saga: %w", err)
	}
	if res.MatchedCount == 0 {
		return core.NewError(core.ErrConflict,
			fmt.Sprintf("%s saga %s changed since version %d", s.sagaType, instance.ID, expectedVersion))
	}
	return nil
}
