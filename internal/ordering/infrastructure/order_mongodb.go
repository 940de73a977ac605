package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

const ordersCollection = "orders"

// MongoOrderRepository хранилище заказов в MongoDB
type MongoOrderRepository struct {
	db         *repository.MongoDB
	collection *mongo.Collection
}

// NewMongoOrderRepository создает MongoDB хранилище заказов
func NewMongoOrderRepository(db *repository.MongoDB) *MongoOrderRepository {
	return &MongoOrderRepository{db: db, collection: db.Collection(ordersCollection)}
}

// EnsureIndexes создает индекс для поиска заказов по статусу и дате
func (r *MongoOrderRepository) EnsureIndexes(ctx context.Context) error {
	return r.db.EnsureIndexes(ctx, ordersCollection,
		repository.IndexSpec{Name: "idx_orders_status_created", Fields: []string{"status", "created_at"}},
	)
}

// Get возвращает заказ
func (r *MongoOrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	err := r.collection.FindOne(r.db.SessionContext(ctx), bson.M{"_id": id}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("order %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	return &order, nil
}

// Insert сохраняет новый заказ
func (r *MongoOrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	order.Rev = 1
	_, err := r.collection.InsertOne(r.db.SessionContext(ctx), order)
	if repository.IsDuplicateKey(err) {
		return core.NewError(core.ErrAlreadyExists, fmt.Sprintf("order %s already exists", order.OrderID))
	}
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.OrderID, err)
	}
	return nil
}

// Update сохраняет статус заказа по версии
func (r *MongoOrderRepository) Update(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	res, err := r.collection.UpdateOne(r.db.SessionContext(ctx),
		versionFilter(order.OrderID, expectedVersion), orderStatusUpdate(order))
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", order.OrderID, err)
	}
	if res.MatchedCount == 0 {
		return core.NewError(core.ErrConflict,
			fmt.Sprintf("order %s changed since version %d", order.OrderID, expectedVersion))
	}
	return nil
}

// FindSubmittedBefore возвращает заказы в статусе Submitted, созданные не позже cutoff
func (r *MongoOrderRepository) FindSubmittedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	filter, opts := submittedBeforeQuery(cutoff, limit)
	cursor, err := r.collection.Find(r.db.SessionContext(ctx), filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query submitted orders: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*domain.Order
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode submitted orders: %w", err)
	}
	return result, nil
}

// versionFilter выбирает документ id только в версии expectedVersion
func versionFilter(id string, expectedVersion int64) bson.M {
	return bson.M{"_id": id, "version": expectedVersion}
}

// orderStatusUpdate меняет только статусные поля: позиции и адрес неизменны
func orderStatusUpdate(order *domain.Order) bson.M {
	return bson.M{"$set": bson.M{
		"status":               order.Status,
		"description":          order.Description,
		"rejected_product_ids": order.RejectedProductIDs,
		"updated_at":           order.UpdatedAt,
		"version":              order.Rev,
	}}
}

func submittedBeforeQuery(cutoff time.Time, limit int) (bson.M, *options.FindOptions) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return bson.M{"status": domain.StatusSubmitted, "created_at": bson.M{"$lte": cutoff}}, opts
}

var _ domain.OrderRepository = (*MongoOrderRepository)(nil)
