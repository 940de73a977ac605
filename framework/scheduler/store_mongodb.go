package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/ordering/framework/adapters/repository"
)

const scheduledCollection = "scheduled_messages"

// MongoStore хранилище отложенных сообщений в MongoDB.
// Захват выполняется по одному документу через FindOneAndUpdate.
type MongoStore struct {
	db         *repository.MongoDB
	collection *mongo.Collection
}

// NewMongoStore создает новое MongoDB хранилище
func NewMongoStore(db *repository.MongoDB) *MongoStore {
	return &MongoStore{
		db:         db,
		collection: db.Collection(scheduledCollection),
	}
}

// EnsureIndexes создает индексы коллекции
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	return s.db.EnsureIndexes(ctx, scheduledCollection,
		repository.IndexSpec{Name: "idx_scheduled_fire_at", Fields: []string{"fire_at", "created_at"}},
		repository.IndexSpec{Name: "idx_scheduled_correlation", Fields: []string{"correlation_id"}},
	)
}

// Schedule сохраняет сообщение
func (s *MongoStore) Schedule(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if _, err := s.collection.InsertOne(s.db.SessionContext(ctx), msg); err != nil {
		return fmt.Errorf("failed to schedule message %s: %w", msg.ID, err)
	}
	return nil
}

// ClaimDue захватывает готовые сообщения
func (s *MongoStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Message, error) {
	filter, update := claimQuery(now, lease)
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "fire_at", Value: 1}, {Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	sctx := s.db.SessionContext(ctx)
	var result []*Message
	for limit <= 0 || len(result) < limit {
		var msg Message
		err := s.collection.FindOneAndUpdate(sctx, filter, update, opts).Decode(&msg)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim scheduled message: %w", err)
		}
		result = append(result, &msg)
	}
	return result, nil
}

// Complete удаляет доставленное сообщение
func (s *MongoStore) Complete(ctx context.Context, id string) error {
	if _, err := s.collection.DeleteOne(s.db.SessionContext(ctx), bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to complete message %s: %w", id, err)
	}
	return nil
}

// Retry переносит доставку
func (s *MongoStore) Retry(ctx context.Context, id string, fireAt time.Time, lastErr string) error {
	if _, err := s.collection.UpdateByID(s.db.SessionContext(ctx), id, retryUpdate(fireAt, lastErr)); err != nil {
		return fmt.Errorf("failed to reschedule message %s: %w", id, err)
	}
	return nil
}

// Pending возвращает недоставленные сообщения по ключу корреляции
func (s *MongoStore) Pending(ctx context.Context, correlationID string) ([]*Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "fire_at", Value: 1}})
	cursor, err := s.collection.Find(s.db.SessionContext(ctx), bson.M{"correlation_id": correlationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}

	var result []*Message
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode pending messages: %w", err)
	}
	return result, nil
}

// claimQuery выбирает готовое сообщение без действующей аренды и продлевает аренду до now+lease.
// Незахваченное сообщение хранится без поля locked_until.
func claimQuery(now time.Time, lease time.Duration) (filter, update bson.M) {
	filter = bson.M{
		"fire_at": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"locked_until": bson.M{"$exists": false}},
			bson.M{"locked_until": bson.M{"$lte": now}},
		},
	}
	update = bson.M{"$set": bson.M{"locked_until": now.Add(lease)}, "$inc": bson.M{"rev": 1}}
	return filter, update
}

func retryUpdate(fireAt time.Time, lastErr string) bson.M {
	return bson.M{
		"$set":   bson.M{"fire_at": fireAt, "last_error": lastErr},
		"$unset": bson.M{"locked_until": ""},
		"$inc":   bson.M{"attempts": 1, "rev": 1},
	}
}
