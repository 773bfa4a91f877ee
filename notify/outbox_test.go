package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/store/memstore"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockAmqpClient struct {
	mock.Mock
}

func (m *MockAmqpClient) DeclareQueue(queueName string) error {
	return m.Called(queueName).Error(0)
}

func (m *MockAmqpClient) Publish(ctx context.Context, message []byte, queueName string) error {
	return m.Called(ctx, message, queueName).Error(0)
}

func (m *MockAmqpClient) SetupConsumer(queueName string, handler func(amqp.Delivery)) error {
	return m.Called(queueName, handler).Error(0)
}

func (m *MockAmqpClient) Close() error {
	return m.Called().Error(0)
}

func TestOutboxWriterEnqueuesEvents(t *testing.T) {
	db := memstore.New()
	w := NewOutboxWriter(db, "order_events")

	order := &models.Order{ID: "o1", UserID: "u1", CustomerEmail: "buyer@example.com", Status: models.OrderStatusProcessing}
	require.NoError(t, w.OrderPlaced(context.Background(), order))
	order.Status = models.OrderStatusShipped
	require.NoError(t, w.OrderStatusChanged(context.Background(), order))

	msgs, err := db.FetchOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var placed, changed models.OrderEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &placed))
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &changed))

	assert.Equal(t, "order_events", msgs[0].Topic)
	assert.Equal(t, models.OrderEventPlaced, placed.Kind)
	assert.Equal(t, "buyer@example.com", placed.CustomerEmail)
	assert.Equal(t, models.OrderEventStatusChanged, changed.Kind)
	assert.Equal(t, models.OrderStatusShipped, changed.Status)
}

func TestRelayPublishesAndMarks(t *testing.T) {
	db := memstore.New()
	w := NewOutboxWriter(db, "order_events")
	require.NoError(t, w.OrderPlaced(context.Background(), &models.Order{ID: "o1", UserID: "u1"}))
	require.NoError(t, w.OrderPlaced(context.Background(), &models.Order{ID: "o2", UserID: "u1"}))

	client := &MockAmqpClient{}
	client.On("Publish", mock.Anything, mock.Anything, "order_events").Return(nil)

	r := NewRelay(db, client, zap.NewNop(), time.Second, 10)
	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, db.PendingOutbox())
	client.AssertNumberOfCalls(t, "Publish", 2)
}

func TestRelayKeepsFailedMessages(t *testing.T) {
	db := memstore.New()
	w := NewOutboxWriter(db, "order_events")
	require.NoError(t, w.OrderPlaced(context.Background(), &models.Order{ID: "o1", UserID: "u1"}))

	client := &MockAmqpClient{}
	client.On("Publish", mock.Anything, mock.Anything, "order_events").Return(errors.New("channel closed")).Once()
	client.On("Publish", mock.Anything, mock.Anything, "order_events").Return(nil)

	r := NewRelay(db, client, zap.NewNop(), time.Second, 10)
	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, db.PendingOutbox())

	msgs, err := db.FetchOutbox(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, msgs[0].Attempts)

	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, db.PendingOutbox())
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	db := memstore.New()
	client := &MockAmqpClient{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRelay(db, client, zap.NewNop(), 10*time.Millisecond, 10).Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
