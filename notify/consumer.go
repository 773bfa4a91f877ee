package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp_client "github.com/jeffsasaki/storefront/clients"
	"github.com/jeffsasaki/storefront/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type OrderNotifier interface {
	OrderPlaced(ctx context.Context, o *models.Order) error
	OrderStatusChanged(ctx context.Context, o *models.Order) error
}

// Consumer applies order events from the queue to the fanout.
type Consumer struct {
	notifier OrderNotifier
	logger   *zap.Logger
	timeout  time.Duration
}

func NewConsumer(notifier OrderNotifier, logger *zap.Logger) *Consumer {
	return &Consumer{notifier: notifier, logger: logger, timeout: 30 * time.Second}
}

// Start declares queueName and begins consuming it.
func (c *Consumer) Start(client amqp_client.AmqpClient, queueName string) error {
	if err := client.DeclareQueue(queueName); err != nil {
		return err
	}
	return client.SetupConsumer(queueName, c.Handle)
}

// Handle processes one delivery: ack on success, requeue on a failed write,
// reject what cannot be decoded.
func (c *Consumer) Handle(d amqp.Delivery) {
	var event models.OrderEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.logger.Error("error decoding order event", zap.Error(err))
		d.Reject(false)
		return
	}
	log := c.logger.With(zap.String("order_id", event.OrderID), zap.String("kind", string(event.Kind)))

	order := &models.Order{
		ID:            event.OrderID,
		UserID:        event.UserID,
		CustomerEmail: event.CustomerEmail,
		Status:        event.Status,
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var err error
	switch event.Kind {
	case models.OrderEventPlaced:
		err = c.notifier.OrderPlaced(ctx, order)
	case models.OrderEventStatusChanged:
		err = c.notifier.OrderStatusChanged(ctx, order)
	default:
		log.Warn("unknown order event kind")
		d.Reject(false)
		return
	}

	if err != nil {
		log.Error("failed to apply order event", zap.Error(err))
		d.Nack(false, !d.Redelivered)
		return
	}

	log.Debug("order event applied")
	d.Ack(false)
}
