package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/store"
	"go.uber.org/zap"
)

const streamKeepAlive = 25 * time.Second

// recipients are the notification addresses that reach u.
func recipients(u *models.UserProfile) []string {
	r := []string{u.UID, models.RecipientAll}
	if u.IsAdmin {
		r = append(r, models.RecipientAdmin)
	}
	return r
}

// visible drops the notification types u has opted out of. Status updates are
// governed by orderUpdates; the order_placed receipt always shows.
func visible(u *models.UserProfile, list []models.Notification) []models.Notification {
	prefs := u.NotificationPreferences
	if prefs.Promotions && prefs.OrderUpdates {
		return list
	}
	out := make([]models.Notification, 0, len(list))
	for _, n := range list {
		switch {
		case n.Type == models.NotificationPromotion && !prefs.Promotions:
		case n.Type == models.NotificationOrderStatus && !prefs.OrderUpdates:
		default:
			out = append(out, n)
		}
	}
	return out
}

func (h *Handler) notificationsFor(ctx context.Context, uid string) ([]models.Notification, error) {
	u, err := h.store.GetUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	list, err := h.store.ListNotifications(ctx, recipients(u))
	if err != nil {
		return nil, err
	}
	return visible(u, list), nil
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.notificationsFor(r.Context(), identity(r).UID)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUser(r.Context(), identity(r).UID)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if err := h.store.MarkNotificationRead(r.Context(), chi.URLParam(r, "id"), recipients(u)); err != nil {
		h.failure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotification removes one of the caller's own notifications. Broadcasts
// are only removed by admins.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteRecipientNotification(r.Context(), chi.URLParam(r, "id"), identity(r).UID); err != nil {
		h.failure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StreamNotifications sends the caller's notification list as a server-sent
// event, then again after every change that could affect it.
func (h *Handler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "Streaming unsupported")
		return
	}

	uid := identity(r).UID
	match := func(payload string) bool {
		return payload == uid || payload == models.RecipientAll || payload == models.RecipientAdmin
	}
	snapshots, err := store.Watch(r.Context(), h.feed, store.ChannelNotifications, match,
		func(ctx context.Context) ([]models.Notification, error) { return h.notificationsFor(ctx, uid) },
		h.logger.With(zap.String("user_id", uid)))
	if err != nil {
		h.failure(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case list, ok := <-snapshots:
			if !ok {
				return
			}
			data, err := json.Marshal(list)
			if err != nil {
				h.logger.Error("failed to encode notification snapshot", zap.Error(err))
				return
			}
			fmt.Fprintf(w, "event: notifications\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type CreateNotificationRequest struct {
	UserID  string                  `json:"userId"`
	Message string                  `json:"message"`
	Type    models.NotificationType `json:"type"`
	Link    string                  `json:"link"`
}

func (h *Handler) AdminListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListAllNotifications(r.Context())
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// AdminCreateNotification sends to one user, or to everyone with userId "all",
// or to every admin with userId "admin".
func (h *Handler) AdminCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "userId and message are required")
		return
	}
	if req.Type == "" {
		req.Type = models.NotificationGeneral
	}

	if req.UserID != models.RecipientAll && req.UserID != models.RecipientAdmin {
		if _, err := h.store.GetUser(r.Context(), req.UserID); err != nil {
			h.failure(w, r, err)
			return
		}
	}

	n := &models.Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Message:   req.Message,
		Type:      req.Type,
		Link:      req.Link,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.InsertNotification(r.Context(), n); err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) AdminDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteNotification(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.failure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
