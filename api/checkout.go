package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/jeffsasaki/storefront/checkout"
	"github.com/jeffsasaki/storefront/fulfillment"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

type CheckoutRequest struct {
	Items  []checkout.Item `json:"items"`
	UserID string          `json:"userId"`
}

type ConfirmRequest struct {
	SessionID string `json:"sessionId"`
}

// Checkout starts a hosted payment session for the caller's cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	uid := identity(r).UID
	if req.UserID != "" && req.UserID != uid {
		writeError(w, http.StatusForbidden, "forbidden", "userId does not match the signed-in user")
		return
	}

	res, err := h.checkout.Start(r.Context(), checkout.Request{UserID: uid, Items: req.Items})
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConfirmCheckout fulfills the session the customer was redirected back with.
func (h *Handler) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	res, err := h.fulfillment.Confirm(r.Context(), req.SessionID, identity(r).UID)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StripeWebhook answers 200 for processed, duplicate and ignored events, 400
// when the event cannot be trusted or used, 413 for oversized bodies, and 500 so the gateway retries
// anything that failed on our side.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body")
		return
	}
	if len(body) > maxWebhookBody {
		h.logger.Warn("rejected oversized webhook", zap.Int("limit", maxWebhookBody))
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Webhook body exceeds limit")
		return
	}

	ev, err := h.webhooks.VerifyEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
		return
	}
	log := h.logger.With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	res, err := h.fulfillment.HandleEvent(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, fulfillment.ErrPaymentNotCompleted):
		// async payment methods complete later with their own event
		log.Info("checkout completed before payment settled")
		writeJSON(w, http.StatusOK, fulfillment.Result{Ignored: true})
	case errors.Is(err, fulfillment.ErrMissingSession), errors.Is(err, fulfillment.ErrMissingMetadata):
		log.Warn("unusable webhook event", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_event", err.Error())
	default:
		log.Error("webhook processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "processing_error", "Webhook processing failed")
	}
}
