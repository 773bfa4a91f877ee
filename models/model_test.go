package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderStatusPending, OrderStatusProcessing, true},
		{OrderStatusPending, OrderStatusShipped, false},
		{OrderStatusProcessing, OrderStatusShipped, true},
		{OrderStatusProcessing, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusProcessing, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.False(t, OrderStatus("Lost").Valid())
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(2500), ToCents(25.00))
	assert.Equal(t, int64(1999), ToCents(19.99))
	assert.Equal(t, 50.0, FromCents(ToCents(25.00)*2))
	assert.False(t, ValidPrice(-0.01))
	assert.False(t, ValidPrice(math.NaN()))
	assert.True(t, ValidPrice(0))
}

func TestCartItemFlattensProduct(t *testing.T) {
	item := CartItem{Product: Product{ID: "p1", Name: "Lamp", Price: 25}, Quantity: 2}
	body, err := json.Marshal(item)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, "p1", raw["id"])
	assert.Equal(t, float64(2), raw["quantity"])
}
