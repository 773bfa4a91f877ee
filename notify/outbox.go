package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp_client "github.com/jeffsasaki/storefront/clients"
	"github.com/jeffsasaki/storefront/models"
	"go.uber.org/zap"
)

type OutboxStore interface {
	EnqueueOutbox(ctx context.Context, m *models.OutboxMessage) error
	FetchOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id string) error
	MarkOutboxFailed(ctx context.Context, id string, reason string) error
}

// OutboxWriter records order events for later delivery instead of writing
// notifications inline.
type OutboxWriter struct {
	store OutboxStore
	topic string
	now   func() time.Time
}

func NewOutboxWriter(store OutboxStore, topic string) *OutboxWriter {
	return &OutboxWriter{store: store, topic: topic, now: time.Now}
}

func (w *OutboxWriter) OrderPlaced(ctx context.Context, o *models.Order) error {
	return w.enqueue(ctx, models.OrderEventPlaced, o)
}

func (w *OutboxWriter) OrderStatusChanged(ctx context.Context, o *models.Order) error {
	return w.enqueue(ctx, models.OrderEventStatusChanged, o)
}

// OrderPlacedEvent builds the outbox row for a new order without writing it,
// for callers that store it in the same transaction as the order.
func (w *OutboxWriter) OrderPlacedEvent(o *models.Order) (*models.OutboxMessage, error) {
	return w.message(models.OrderEventPlaced, o)
}

func (w *OutboxWriter) enqueue(ctx context.Context, kind models.OrderEventKind, o *models.Order) error {
	m, err := w.message(kind, o)
	if err != nil {
		return err
	}
	return w.store.EnqueueOutbox(ctx, m)
}

func (w *OutboxWriter) message(kind models.OrderEventKind, o *models.Order) (*models.OutboxMessage, error) {
	now := w.now().UTC()
	payload, err := json.Marshal(models.OrderEvent{
		Kind:          kind,
		OrderID:       o.ID,
		UserID:        o.UserID,
		CustomerEmail: o.CustomerEmail,
		Status:        o.Status,
		OccurredAt:    now,
	})
	if err != nil {
		return nil, err
	}
	return &models.OutboxMessage{
		ID:        uuid.New().String(),
		Topic:     w.topic,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

// Relay publishes outbox messages to RabbitMQ. Messages stay in the outbox
// until the broker has accepted them, so delivery is at-least-once.
type Relay struct {
	store     OutboxStore
	client    amqp_client.AmqpClient
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(store OutboxStore, client amqp_client.AmqpClient, logger *zap.Logger, interval time.Duration, batchSize int) *Relay {
	return &Relay{
		store:     store,
		client:    client,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox relay pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and reports how many messages went out.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	msgs, err := r.store.FetchOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch outbox: %w", err)
	}

	published := 0
	for _, m := range msgs {
		if err := r.client.Publish(ctx, m.Payload, m.Topic); err != nil {
			r.logger.Warn("failed to publish outbox message",
				zap.String("message_id", m.ID), zap.Int("attempts", m.Attempts+1), zap.Error(err))
			if err := r.store.MarkOutboxFailed(ctx, m.ID, err.Error()); err != nil {
				r.logger.Error("failed to record outbox failure", zap.String("message_id", m.ID), zap.Error(err))
			}
			continue
		}
		if err := r.store.MarkOutboxPublished(ctx, m.ID); err != nil {
			// Republished on the next pass; notification ids make that harmless.
			r.logger.Error("failed to mark outbox message published", zap.String("message_id", m.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}
