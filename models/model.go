package models

import (
	"math"
	"time"
)

type Product struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Price       float64 `json:"price" yaml:"price"`
	ImageURL    string  `json:"imageUrl" yaml:"imageUrl"`
	ImageHint   string  `json:"imageHint" yaml:"imageHint"`
}

// CartItem is a denormalized product line. Orders keep their own copy so later
// product edits never rewrite history.
type CartItem struct {
	Product
	Quantity int `json:"quantity"`
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID                      string      `json:"id"`
	UserID                  string      `json:"userId"`
	Items                   []CartItem  `json:"items"`
	TotalPrice              float64     `json:"totalPrice"`
	OrderDate               time.Time   `json:"orderDate"`
	Status                  OrderStatus `json:"status"`
	PaymentStatus           string      `json:"paymentStatus"`
	StripeCheckoutSessionID string      `json:"stripeCheckoutSessionId,omitempty"`
	CustomerEmail           string      `json:"customerEmail,omitempty"`
}

type NotificationType string

const (
	NotificationOrderPlaced NotificationType = "order_placed"
	NotificationNewOrder    NotificationType = "new_order"
	NotificationOrderStatus NotificationType = "order_status"
	NotificationPromotion   NotificationType = "promotion"
	NotificationGeneral     NotificationType = "general"
)

// Sentinel recipients. They are never real account ids.
const (
	RecipientAll   = "all"
	RecipientAdmin = "admin"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Link      string           `json:"link,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

type NotificationPreferences struct {
	OrderUpdates bool `json:"orderUpdates"`
	Promotions   bool `json:"promotions"`
}

func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{OrderUpdates: true, Promotions: true}
}

type UserProfile struct {
	UID                     string                  `json:"uid"`
	Email                   string                  `json:"email"`
	DisplayName             string                  `json:"displayName"`
	CreatedAt               time.Time               `json:"createdAt"`
	IsAdmin                 bool                    `json:"isAdmin"`
	NotificationPreferences NotificationPreferences `json:"notificationPreferences"`
}

type OrderEventKind string

const (
	OrderEventPlaced        OrderEventKind = "order.placed"
	OrderEventStatusChanged OrderEventKind = "order.status_changed"
)

// OrderEvent is the message carried through the outbox and the order_events queue.
type OrderEvent struct {
	Kind          OrderEventKind `json:"kind"`
	OrderID       string         `json:"order_id"`
	UserID        string         `json:"user_id"`
	CustomerEmail string         `json:"customer_email,omitempty"`
	Status        OrderStatus    `json:"status"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// ToCents converts a two-decimal price into integer cents.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func FromCents(cents int64) float64 {
	return float64(cents) / 100
}

// ValidPrice rejects negative, NaN and infinite prices.
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p >= 0
}

// OutboxMessage is an event waiting in the outbox table to be published.
type OutboxMessage struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}
