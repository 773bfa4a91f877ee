package checkout

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

// Validation errors. Nothing has been written when one of these is returned.
var (
	ErrUnauthenticated = errors.New("user is not authenticated")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidPrice    = errors.New("invalid product price")
)

var (
	ErrGatewayFailure   = errors.New("payment gateway failure")
	ErrPersistenceError = errors.New("order persistence failure")
)

type Products interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
}

type Orders interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	AttachSession(ctx context.Context, orderID, sessionID string) error
}

type Users interface {
	GetUser(ctx context.Context, uid string) (*models.UserProfile, error)
}

type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
}

// Item is one cart line as sent by the client. Only ID and Quantity are
// trusted; Price is whatever the browser had cached.
type Item struct {
	ID       string  `json:"id"`
	Price    float64 `json:"price,omitempty"`
	Quantity int     `json:"quantity"`
}

type Request struct {
	UserID string
	Items  []Item
}

type Result struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

type Initiator struct {
	products Products
	orders   Orders
	users    Users
	gateway  SessionCreator
	logger   *zap.Logger
	now      func() time.Time
}

func NewInitiator(products Products, orders Orders, users Users, gateway SessionCreator, logger *zap.Logger) *Initiator {
	return &Initiator{
		products: products,
		orders:   orders,
		users:    users,
		gateway:  gateway,
		logger:   logger,
		now:      time.Now,
	}
}

// Start prices the cart from the catalogue, records a pending order and opens
// a hosted checkout session for it.
func (in *Initiator) Start(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}

	items, totalCents, err := in.price(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	var email string
	if in.users != nil {
		if profile, err := in.users.GetUser(ctx, req.UserID); err == nil {
			email = profile.Email
		}
	}

	order := &models.Order{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Items:         items,
		TotalPrice:    models.FromCents(totalCents),
		OrderDate:     in.now().UTC(),
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		CustomerEmail: email,
	}
	if err := in.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceError, err)
	}

	lines := make([]payment.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, payment.LineItem{
			ProductID:   item.ID,
			Name:        item.Name,
			Description: item.Description,
			ImageURL:    item.ImageURL,
			UnitAmount:  models.ToCents(item.Price),
			Quantity:    int64(item.Quantity),
		})
	}

	session, err := in.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		OrderID:       order.ID,
		UserID:        order.UserID,
		CustomerEmail: email,
		Items:         lines,
	})
	if err != nil {
		in.logger.Error("checkout session creation failed; order left pending",
			zap.String("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	if err := in.orders.AttachSession(ctx, order.ID, session.ID); err != nil {
		in.logger.Error("failed to attach checkout session to pending order",
			zap.String("order_id", order.ID), zap.String("session_id", session.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistenceError, err)
	}

	in.logger.Info("checkout started",
		zap.String("order_id", order.ID),
		zap.String("session_id", session.ID),
		zap.String("user_id", order.UserID),
		zap.Float64("total", order.TotalPrice))

	return &Result{OrderID: order.ID, SessionID: session.ID, URL: session.URL}, nil
}

// price resolves every line against the catalogue. Duplicate ids are merged.
func (in *Initiator) price(ctx context.Context, lines []Item) ([]models.CartItem, int64, error) {
	var (
		items []models.CartItem
		index = make(map[string]int)
		total int64
	)
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, 0, fmt.Errorf("%w: %d for product %s", ErrInvalidQuantity, line.Quantity, line.ID)
		}

		product, err := in.products.GetProduct(ctx, line.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, 0, fmt.Errorf("%w: %s", ErrProductNotFound, line.ID)
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load product %s: %w", line.ID, err)
		}
		if !models.ValidPrice(product.Price) {
			return nil, 0, fmt.Errorf("%w: product %s", ErrInvalidPrice, line.ID)
		}

		total += models.ToCents(product.Price) * int64(line.Quantity)
		if i, ok := index[product.ID]; ok {
			items[i].Quantity += line.Quantity
			continue
		}
		index[product.ID] = len(items)
		items = append(items, models.CartItem{Product: *product, Quantity: line.Quantity})
	}
	return items, total, nil
}
