package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/notify"
	"github.com/jeffsasaki/storefront/store/memstore"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// loopbackClient hands every published message straight to the registered
// consumer.
type loopbackClient struct {
	mu       sync.Mutex
	handlers map[string]func(amqp.Delivery)
	acks     *countingAck
}

type countingAck struct {
	mu     sync.Mutex
	acked  int
	nacked int
}

func (a *countingAck) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *countingAck) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	return nil
}

func (a *countingAck) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func newLoopback() *loopbackClient {
	return &loopbackClient{handlers: make(map[string]func(amqp.Delivery)), acks: &countingAck{}}
}

func (c *loopbackClient) DeclareQueue(queueName string) error { return nil }

func (c *loopbackClient) Publish(ctx context.Context, message []byte, queueName string) error {
	c.mu.Lock()
	h := c.handlers[queueName]
	c.mu.Unlock()
	if h != nil {
		h(amqp.Delivery{Acknowledger: c.acks, Body: message})
	}
	return nil
}

func (c *loopbackClient) SetupConsumer(queueName string, handler func(amqp.Delivery)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[queueName] = handler
	return nil
}

func (c *loopbackClient) Close() error { return nil }

func TestOutboxToNotifications(t *testing.T) {
	const queue = "order_events"
	db := memstore.New()
	db.AddUser(models.UserProfile{UID: "u1", Email: "buyer@example.com"})
	db.AddUser(models.UserProfile{UID: "a1", IsAdmin: true})
	db.AddUser(models.UserProfile{UID: "a2", IsAdmin: true})

	client := newLoopback()
	logger := zap.NewNop()
	require.NoError(t, notify.NewConsumer(notify.NewFanout(db, logger), logger).Start(client, queue))

	writer := notify.NewOutboxWriter(db, queue)
	order := &models.Order{ID: "o1", UserID: "u1", CustomerEmail: "buyer@example.com", Status: models.OrderStatusProcessing}
	require.NoError(t, writer.OrderPlaced(context.Background(), order))
	order.Status = models.OrderStatusShipped
	require.NoError(t, writer.OrderStatusChanged(context.Background(), order))

	relay := notify.NewRelay(db, client, logger, time.Second, 10)
	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, db.PendingOutbox())

	all, err := db.ListAllNotifications(context.Background())
	require.NoError(t, err)
	// owner placed + two admins + owner status change
	assert.Len(t, all, 4)
	assert.Equal(t, 2, client.acks.acked)
	assert.Zero(t, client.acks.nacked)
}
