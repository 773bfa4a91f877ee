package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jeffsasaki/storefront/models"
	"go.uber.org/zap"
)

type Store interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
	InsertNotifications(ctx context.Context, batch []models.Notification) error
	ListAdmins(ctx context.Context) ([]models.UserProfile, error)
}

// Fanout writes per-recipient notification records for order events.
type Fanout struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewFanout(store Store, logger *zap.Logger) *Fanout {
	return &Fanout{store: store, logger: logger, now: time.Now}
}

// OrderPlaced notifies the order owner, then every administrator in a single
// atomic batch. The owner's notification stands even if the admin batch fails.
// Notification ids derive from the order, so a redelivered event only fills in
// what is missing.
func (f *Fanout) OrderPlaced(ctx context.Context, o *models.Order) error {
	now := f.now().UTC()
	link := "/orders/" + o.ID

	owner := &models.Notification{
		ID:        notificationID(o.ID, string(models.NotificationOrderPlaced), o.UserID),
		UserID:    o.UserID,
		Message:   fmt.Sprintf("Your order #%s has been placed and is being processed.", shortID(o.ID)),
		Type:      models.NotificationOrderPlaced,
		Link:      link,
		CreatedAt: now,
	}
	if err := f.store.InsertNotification(ctx, owner); err != nil {
		return fmt.Errorf("failed to notify owner of order %s: %w", o.ID, err)
	}

	admins, err := f.store.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("failed to list admins for order %s: %w", o.ID, err)
	}

	customer := o.CustomerEmail
	if customer == "" {
		customer = o.UserID
	}
	batch := make([]models.Notification, 0, len(admins))
	for _, admin := range admins {
		batch = append(batch, models.Notification{
			ID:        notificationID(o.ID, string(models.NotificationNewOrder), admin.UID),
			UserID:    admin.UID,
			Message:   fmt.Sprintf("New order #%s placed by %s.", shortID(o.ID), customer),
			Type:      models.NotificationNewOrder,
			Link:      "/admin" + link,
			CreatedAt: now,
		})
	}
	if err := f.store.InsertNotifications(ctx, batch); err != nil {
		return fmt.Errorf("failed to notify %d admins of order %s: %w", len(batch), o.ID, err)
	}

	f.logger.Info("order notifications written",
		zap.String("order_id", o.ID), zap.Int("admins", len(batch)))
	return nil
}

// OrderStatusChanged tells the owner about an admin status change.
func (f *Fanout) OrderStatusChanged(ctx context.Context, o *models.Order) error {
	n := &models.Notification{
		ID:        notificationID(o.ID, string(models.NotificationOrderStatus), string(o.Status), o.UserID),
		UserID:    o.UserID,
		Message:   fmt.Sprintf("Your order #%s is now %s.", shortID(o.ID), o.Status),
		Type:      models.NotificationOrderStatus,
		Link:      "/orders/" + o.ID,
		CreatedAt: f.now().UTC(),
	}
	if err := f.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to notify owner of order %s: %w", o.ID, err)
	}
	return nil
}

// notificationID is stable per order, event and recipient.
func notificationID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "/"))).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
