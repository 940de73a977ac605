package infrastructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/akriventsev/ordering/internal/ordering/domain"
)

// Хранилища MongoDB проверяются на уровне построения фильтров и обновлений.
// Обмен с сервером требует живого mongod и покрывается интеграционным окружением.

func TestMongoOrderRepository_StatusUpdateKeepsItems(t *testing.T) {
	order := newOrder(t, "42", time.Now())
	order.SetCancelledStatus()
	order.Rev = 2

	assert.Equal(t, bson.M{"_id": "42", "version": int64(1)}, versionFilter("42", 1))

	set := orderStatusUpdate(order)["$set"].(bson.M)
	assert.Equal(t, domain.StatusCancelled, set["status"])
	assert.Equal(t, int64(2), set["version"])
	assert.NotContains(t, set, "items")
	assert.NotContains(t, set, "address")
}

func TestMongoOrderRepository_SubmittedBeforeQuery(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	filter, opts := submittedBeforeQuery(cutoff, 25)
	assert.Equal(t, domain.StatusSubmitted, filter["status"])
	assert.Equal(t, bson.M{"$lte": cutoff}, filter["created_at"])
	assert.Equal(t, bson.D{{Key: "created_at", Value: 1}}, opts.Sort)
	if assert.NotNil(t, opts.Limit) {
		assert.Equal(t, int64(25), *opts.Limit)
	}

	_, unlimited := submittedBeforeQuery(cutoff, 0)
	assert.Nil(t, unlimited.Limit)
}

func TestMongoBuyerRepository_UpdateReplacesPaymentMethods(t *testing.T) {
	buyer, err := domain.NewBuyer("buyer-1")
	assert.NoError(t, err)
	buyer.VerifyOrAddPaymentMethod("card-1", fixedID("pm-1"), time.Now())
	buyer.Rev = 2

	set := buyerUpdate(buyer)["$set"].(bson.M)
	assert.Equal(t, buyer.PaymentMethods, set["payment_methods"])
	assert.Equal(t, int64(2), set["version"])
}
