package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
)

const recordsCollection = "idempotency_records"

// MongoStore хранилище записей в MongoDB, request_id хранится в _id
type MongoStore struct {
	db         *repository.MongoDB
	collection *mongo.Collection
}

// NewMongoStore создает новое MongoDB хранилище
func NewMongoStore(db *repository.MongoDB) *MongoStore {
	return &MongoStore{db: db, collection: db.Collection(recordsCollection)}
}

// Get возвращает запись
func (s *MongoStore) Get(ctx context.Context, requestID string) (*Record, error) {
	var rec Record
	err := s.collection.FindOne(s.db.SessionContext(ctx), bson.M{"_id": requestID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("request %s not found", requestID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load idempotency record: %w", err)
	}
	return &rec, nil
}

// Insert сохраняет запись
func (s *MongoStore) Insert(ctx context.Context, record *Record) error {
	_, err := s.collection.InsertOne(s.db.SessionContext(ctx), record)
	if repository.IsDuplicateKey(err) {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("request %s already recorded", record.RequestID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}
	return nil
}

// Complete записывает результат
func (s *MongoStore) Complete(ctx context.Context, requestID string, result json.RawMessage, completedAt time.Time) error {
	filter, update := completeQuery(requestID, result, completedAt)
	res, err := s.collection.UpdateOne(s.db.SessionContext(ctx), filter, update)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	if res.MatchedCount == 0 {
		return core.NewError(core.ErrConflict, fmt.Sprintf("request %s is not in progress", requestID))
	}
	return nil
}

// completeQuery завершает только запись в статусе in_progress
func completeQuery(requestID string, result json.RawMessage, completedAt time.Time) (filter, update bson.M) {
	filter = bson.M{"_id": requestID, "status": StatusInProgress}
	update = bson.M{
		"$set": bson.M{"status": StatusCompleted, "result": []byte(result), "completed_at": completedAt},
		"$inc": bson.M{"rev": 1},
	}
	return filter, update
}
