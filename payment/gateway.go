package payment

import (
	"context"
	"errors"
)

// Metadata keys stored on hosted checkout sessions and their products.
const (
	MetadataOrderID   = "orderId"
	MetadataUserID    = "userId"
	MetadataProductID = "productId"
)

const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// ErrInvalidEvent covers signature mismatches and undecodable webhook bodies.
var ErrInvalidEvent = errors.New("invalid webhook event")

type LineItem struct {
	ProductID   string
	Name        string
	Description string
	ImageURL    string
	UnitAmount  int64 // cents
	Quantity    int64
}

type CheckoutRequest struct {
	OrderID       string
	UserID        string
	CustomerEmail string
	Items         []LineItem
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Session is the gateway's view of a checkout after the customer returns.
type Session struct {
	ID            string
	PaymentStatus string
	CustomerEmail string
	AmountTotal   int64
	Metadata      map[string]string
	LineItems     []LineItem
}

// Paid reports whether the session's payment completed.
func (s *Session) Paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "succeeded"
}

type Event struct {
	ID        string
	Type      string
	SessionID string
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*Session, error)
}

type WebhookVerifier interface {
	VerifyEvent(payload []byte, signature string) (*Event, error)
}
