package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/store"
)

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string              `json:"token"`
	User  *models.UserProfile `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if _, err := h.auth.Register(r.Context(), req.Email, req.Password, req.DisplayName); err != nil {
		h.failure(w, r, err)
		return
	}

	token, u, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{Token: token, User: u})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	token, u, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, User: u})
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUser(r.Context(), identity(r).UID)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs models.NotificationPreferences
	if err := decode(r, &prefs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	uid := identity(r).UID
	if err := h.store.UpdatePreferences(r.Context(), uid, prefs); err != nil {
		h.failure(w, r, err)
		return
	}
	u, err := h.store.GetUser(r.Context(), uid)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context())
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.ListOrders(r.Context(), store.OrderFilter{UserID: identity(r).UID})
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder answers 404 for other users' orders so ids cannot be probed.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err == nil && o.UserID != identity(r).UID {
		err = store.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Order not found")
			return
		}
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
