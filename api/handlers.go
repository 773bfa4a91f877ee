// Package api is the storefront's HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeffsasaki/storefront/auth"
	"github.com/jeffsasaki/storefront/cart"
	"github.com/jeffsasaki/storefront/checkout"
	"github.com/jeffsasaki/storefront/fulfillment"
	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/payment"
	"github.com/jeffsasaki/storefront/store"
	"go.uber.org/zap"
)

// Store is the persistence surface the handlers read and administer.
type Store interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id string) error

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error)
	TransitionOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) error
	DeleteOrder(ctx context.Context, id string) error

	GetUser(ctx context.Context, uid string) (*models.UserProfile, error)
	ListUsers(ctx context.Context) ([]models.UserProfile, error)
	SetAdmin(ctx context.Context, uid string, isAdmin bool) error
	UpdatePreferences(ctx context.Context, uid string, prefs models.NotificationPreferences) error
	DeleteUser(ctx context.Context, uid string) error

	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipients []string) ([]models.Notification, error)
	ListAllNotifications(ctx context.Context) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string, recipients []string) error
	DeleteRecipientNotification(ctx context.Context, id, uid string) error
	DeleteNotification(ctx context.Context, id string) error
}

// StatusNotifier is told when an admin moves an order to a new status.
type StatusNotifier interface {
	OrderStatusChanged(ctx context.Context, o *models.Order) error
}

type Deps struct {
	Store       Store
	Feed        store.ChangeFeed
	Auth        *auth.Service
	Checkout    *checkout.Initiator
	Fulfillment *fulfillment.Handler
	Webhooks    payment.WebhookVerifier
	Carts       cart.Persister
	Notifier    StatusNotifier
	Logger      *zap.Logger
}

type Handler struct {
	store       Store
	feed        store.ChangeFeed
	auth        *auth.Service
	checkout    *checkout.Initiator
	fulfillment *fulfillment.Handler
	webhooks    payment.WebhookVerifier
	carts       cart.Persister
	notifier    StatusNotifier
	logger      *zap.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		store:       d.Store,
		feed:        d.Feed,
		auth:        d.Auth,
		checkout:    d.Checkout,
		fulfillment: d.Fulfillment,
		webhooks:    d.Webhooks,
		carts:       d.Carts,
		notifier:    d.Notifier,
		logger:      d.Logger,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// failure maps a domain error to a status and error code, logging anything
// that is not the caller's fault.
func (h *Handler) failure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, auth.ErrEmailTaken):
		status, code = http.StatusConflict, "already_exists"
	case errors.Is(err, store.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, checkout.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, fulfillment.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, fulfillment.ErrMissingSession):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, checkout.ErrProductNotFound):
		status, code = http.StatusUnprocessableEntity, "product_not_found"
	case errors.Is(err, checkout.ErrInvalidPrice):
		status, code = http.StatusUnprocessableEntity, "invalid_price"
	case errors.Is(err, fulfillment.ErrPaymentNotCompleted):
		status, code = http.StatusPaymentRequired, "payment_not_completed"
	case errors.Is(err, checkout.ErrGatewayFailure):
		status, code = http.StatusBadGateway, "gateway_error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, code, http.StatusText(status))
		return
	}
	writeError(w, status, code, err.Error())
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
