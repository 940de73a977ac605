package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// Документ саги должен нести поля, по которым строятся фильтры Update
func TestMongoStore_DocumentLayout(t *testing.T) {
	store := &MongoStore[shipmentState]{sagaType: "shipment"}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	instance := &Instance[shipmentState]{
		ID:        "order-1",
		Type:      "shipment",
		State:     shipmentState{Parcels: []string{"p1"}, Received: 1},
		Version:   3,
		CreatedAt: now,
		UpdatedAt: now,
	}

	raw, err := bson.Marshal(store.document(instance))
	require.NoError(t, err)
	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))

	assert.Equal(t, "shipment:order-1", doc["_id"])
	assert.Equal(t, "order-1", doc["correlation_id"])
	assert.Equal(t, int64(3), doc["version"])
	assert.Contains(t, doc, "state")

	var decoded mongoInstance[shipmentState]
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	assert.Equal(t, instance.ID, decoded.ID)
	assert.Equal(t, instance.State, decoded.State)
	assert.True(t, instance.CreatedAt.Equal(decoded.CreatedAt))
}
