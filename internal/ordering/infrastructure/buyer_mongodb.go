package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/akriventsev/ordering/framework/adapters/repository"
	"github.com/akriventsev/ordering/framework/core"
	"github.com/akriventsev/ordering/internal/ordering/domain"
)

const buyersCollection = "buyers"

// MongoBuyerRepository хранилище покупателей в MongoDB
type MongoBuyerRepository struct {
	db         *repository.MongoDB
	collection *mongo.Collection
}

// NewMongoBuyerRepository создает MongoDB хранилище покупателей
func NewMongoBuyerRepository(db *repository.MongoDB) *MongoBuyerRepository {
	return &MongoBuyerRepository{db: db, collection: db.Collection(buyersCollection)}
}

// Get возвращает покупателя
func (r *MongoBuyerRepository) Get(ctx context.Context, id string) (*domain.Buyer, error) {
	var buyer domain.Buyer
	err := r.collection.FindOne(r.db.SessionContext(ctx), bson.M{"_id": id}).Decode(&buyer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("buyer %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer %s: %w", id, err)
	}
	return &buyer, nil
}

// Insert сохраняет нового покупателя
func (r *MongoBuyerRepository) Insert(ctx context.Context, buyer *domain.Buyer) error {
	buyer.Rev = 1
	_, err := r.collection.InsertOne(r.db.SessionContext(ctx), buyer)
	if repository.IsDuplicateKey(err) {
		return buyerExists(buyer.BuyerID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert buyer %s: %w", buyer.BuyerID, err)
	}
	return nil
}

// Update сохраняет способы оплаты покупателя по версии
func (r *MongoBuyerRepository) Update(ctx context.Context, buyer *domain.Buyer, expectedVersion int64) error {
	res, err := r.collection.UpdateOne(r.db.SessionContext(ctx),
		versionFilter(buyer.BuyerID, expectedVersion), buyerUpdate(buyer))
	if err != nil {
		return fmt.Errorf("failed to update buyer %s: %w", buyer.BuyerID, err)
	}
	if res.MatchedCount == 0 {
		return core.NewError(core.ErrConflict,
			fmt.Sprintf("buyer %s changed since version %d", buyer.BuyerID, expectedVersion))
	}
	return nil
}

func buyerUpdate(buyer *domain.Buyer) bson.M {
	return bson.M{"$set": bson.M{
		"payment_methods": buyer.PaymentMethods,
		"version":         buyer.Rev,
	}}
}

var _ domain.BuyerRepository = (*MongoBuyerRepository)(nil)
