package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/payment"
	"github.com/jeffsasaki/storefront/store"
	"go.uber.org/zap"
)

var (
	ErrMissingSession      = errors.New("missing checkout session id")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrMissingMetadata     = errors.New("checkout session carries no user id")
	ErrForbidden           = errors.New("checkout session belongs to another user")
)

type Orders interface {
	FindOrderBySession(ctx context.Context, sessionID string) (*models.Order, error)
	ConfirmPendingOrder(ctx context.Context, o *models.Order, event *models.OutboxMessage) (bool, error)
	InsertOrderIfAbsent(ctx context.Context, o *models.Order, event *models.OutboxMessage) (bool, error)
}

type Sessions interface {
	GetSession(ctx context.Context, id string) (*payment.Session, error)
}

// Notifier is told about each newly fulfilled order. Delivery is best-effort.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *models.Order) error
}

// EventRecorder is a Notifier backed by the outbox. Its event is committed
// together with the order, so a fulfilled order always carries its event.
type EventRecorder interface {
	OrderPlacedEvent(o *models.Order) (*models.OutboxMessage, error)
}

type Result struct {
	OrderID   string `json:"orderId"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored,omitempty"`
}

type Handler struct {
	orders   Orders
	sessions Sessions
	notifier Notifier
	events   EventRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler builds a Handler. When notifier is also an EventRecorder, order
// events go out through the outbox in the order's transaction instead of a
// call after the write.
func NewHandler(orders Orders, sessions Sessions, notifier Notifier, logger *zap.Logger) *Handler {
	events, _ := notifier.(EventRecorder)
	return &Handler{
		orders:   orders,
		sessions: sessions,
		notifier: notifier,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// Confirm fulfills a session on behalf of the customer returning from the
// hosted checkout page.
func (h *Handler) Confirm(ctx context.Context, sessionID, userID string) (*Result, error) {
	return h.fulfill(ctx, sessionID, userID)
}

// HandleEvent fulfills the session named by a verified gateway event. Events
// unrelated to completed payments are acknowledged without side effects.
func (h *Handler) HandleEvent(ctx context.Context, ev *payment.Event) (*Result, error) {
	switch ev.Type {
	case payment.EventCheckoutCompleted, payment.EventAsyncPaymentSucceeded:
		return h.fulfill(ctx, ev.SessionID, "")
	default:
		h.logger.Debug("ignoring webhook event", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		return &Result{Ignored: true}, nil
	}
}

// Fulfill turns a paid checkout session into a Processing order. Running it
// again for the same session is a no-op.
func (h *Handler) Fulfill(ctx context.Context, sessionID string) (*Result, error) {
	return h.fulfill(ctx, sessionID, "")
}

func (h *Handler) fulfill(ctx context.Context, sessionID, callerID string) (*Result, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	log := h.logger.With(zap.String("session_id", sessionID))

	existing, err := h.orders.FindOrderBySession(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up order for session: %w", err)
	}
	if existing != nil && existing.Status != models.OrderStatusPending {
		if callerID != "" && existing.UserID != callerID {
			return nil, ErrForbidden
		}
		log.Info("session already fulfilled", zap.String("order_id", existing.ID))
		return &Result{OrderID: existing.ID, Duplicate: true}, nil
	}

	session, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if !session.Paid() {
		log.Warn("checkout session not paid", zap.String("payment_status", session.PaymentStatus))
		return nil, fmt.Errorf("%w: status %q", ErrPaymentNotCompleted, session.PaymentStatus)
	}

	order, err := h.buildOrder(session, existing)
	if err != nil {
		return nil, err
	}
	if callerID != "" && order.UserID != callerID {
		return nil, ErrForbidden
	}

	var event *models.OutboxMessage
	if h.events != nil {
		if event, err = h.events.OrderPlacedEvent(order); err != nil {
			return nil, fmt.Errorf("failed to build order event: %w", err)
		}
	}

	created, err := h.persist(ctx, order, event)
	if err != nil {
		return nil, err
	}
	if !created {
		// Another trigger for the same session won between our existence check
		// and our write.
		log.Warn("concurrent fulfillment detected; keeping the first order", zap.String("order_id", order.ID))
		winner, err := h.orders.FindOrderBySession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load concurrently fulfilled order: %w", err)
		}
		return &Result{OrderID: winner.ID, Duplicate: true}, nil
	}

	log.Info("order fulfilled",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Float64("total", order.TotalPrice))

	if event == nil && h.notifier != nil {
		if err := h.notifier.OrderPlaced(ctx, order); err != nil {
			log.Error("order notification failed", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	return &Result{OrderID: order.ID}, nil
}

func (h *Handler) buildOrder(s *payment.Session, pending *models.Order) (*models.Order, error) {
	userID := s.Metadata[payment.MetadataUserID]
	if userID == "" && pending != nil {
		userID = pending.UserID
	}
	if userID == "" {
		return nil, ErrMissingMetadata
	}

	orderID := s.Metadata[payment.MetadataOrderID]
	if pending != nil {
		orderID = pending.ID
	}
	if orderID == "" {
		orderID = uuid.New().String()
	}

	var (
		items []models.CartItem
		total int64
	)
	for _, li := range s.LineItems {
		items = append(items, models.CartItem{
			Product: models.Product{
				ID:          li.ProductID,
				Name:        li.Name,
				Description: li.Description,
				Price:       models.FromCents(li.UnitAmount),
				ImageURL:    li.ImageURL,
			},
			Quantity: int(li.Quantity),
		})
		total += li.UnitAmount * li.Quantity
	}
	if s.AmountTotal > 0 {
		total = s.AmountTotal
	}

	email := s.CustomerEmail
	if email == "" && pending != nil {
		email = pending.CustomerEmail
	}

	return &models.Order{
		ID:                      orderID,
		UserID:                  userID,
		Items:                   items,
		TotalPrice:              models.FromCents(total),
		OrderDate:               h.now().UTC(),
		Status:                  models.OrderStatusProcessing,
		PaymentStatus:           models.PaymentStatusPaid,
		StripeCheckoutSessionID: s.ID,
		CustomerEmail:           email,
	}, nil
}

// persist promotes the pending order created at checkout when there is one,
// and otherwise inserts a new order. Both writes are conditional, so at most
// one order ever holds the session.
func (h *Handler) persist(ctx context.Context, order *models.Order, event *models.OutboxMessage) (bool, error) {
	confirmed, err := h.orders.ConfirmPendingOrder(ctx, order, event)
	if err != nil {
		return false, fmt.Errorf("failed to confirm pending order: %w", err)
	}
	if confirmed {
		return true, nil
	}

	created, err := h.orders.InsertOrderIfAbsent(ctx, order, event)
	if err != nil {
		return false, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}
