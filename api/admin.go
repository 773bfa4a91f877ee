package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jeffsasaki/storefront/models"
	"github.com/jeffsasaki/storefront/store"
	"go.uber.org/zap"
)

type UpdateStatusRequest struct {
	Status models.OrderStatus `json:"status"`
}

type ProductRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"imageUrl"`
	ImageHint   string  `json:"imageHint"`
}

type SetAdminRequest struct {
	IsAdmin bool `json:"isAdmin"`
}

func (h *Handler) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	var f store.OrderFilter
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = models.OrderStatus(s)
		if !f.Status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "Unknown order status "+s)
			return
		}
	}
	orders, err := h.store.ListOrders(r.Context(), f)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.store.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// AdminUpdateOrderStatus moves an order along the transition table and tells
// the owner. Only fulfillment may take an order out of pending into Processing.
func (h *Handler) AdminUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_status", "Unknown order status "+string(req.Status))
		return
	}

	id := chi.URLParam(r, "id")
	o, err := h.store.GetOrder(r.Context(), id)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if o.Status == models.OrderStatusPending && req.Status == models.OrderStatusProcessing {
		writeError(w, http.StatusConflict, "invalid_transition", "Pending orders are confirmed by payment, not by hand")
		return
	}
	if !o.Status.CanTransition(req.Status) {
		writeError(w, http.StatusConflict, "invalid_transition",
			"Cannot move order from "+string(o.Status)+" to "+string(req.Status))
		return
	}

	if err := h.store.TransitionOrderStatus(r.Context(), id, o.Status, req.Status); err != nil {
		h.failure(w, r, err)
		return
	}
	o.Status = req.Status

	if err := h.notifier.OrderStatusChanged(r.Context(), o); err != nil {
		h.logger.Error("status notification failed",
			zap.String("order_id", o.ID), zap.String("status", string(o.Status)), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) AdminDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.failure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req *ProductRequest) product(id string) (*models.Product, string) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, "name is required"
	}
	if !models.ValidPrice(req.Price) {
		return nil, "price must be a non-negative amount"
	}
	return &models.Product{
		ID:          id,
		Name:        name,
		Description: req.Description,
		Price:       models.FromCents(models.ToCents(req.Price)),
		ImageURL:    req.ImageURL,
		ImageHint:   req.ImageHint,
	}, ""
}

func (h *Handler) AdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	p, problem := req.product(uuid.New().String())
	if p == nil {
		writeError(w, http.StatusBadRequest, "invalid_product", problem)
		return
	}
	if err := h.store.CreateProduct(r.Context(), p); err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) AdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	p, problem := req.product(chi.URLParam(r, "id"))
	if p == nil {
		writeError(w, http.StatusBadRequest, "invalid_product", problem)
		return
	}
	if err := h.store.UpdateProduct(r.Context(), p); err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) AdminDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.failure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// AdminSetAdmin grants or revokes admin access. Admins cannot revoke their own.
func (h *Handler) AdminSetAdmin(w http.ResponseWriter, r *http.Request) {
	var req SetAdminRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	uid := chi.URLParam(r, "id")
	if uid == identity(r).UID && !req.IsAdmin {
		writeError(w, http.StatusConflict, "self_demotion", "Admins cannot revoke their own access")
		return
	}
	if err := h.store.SetAdmin(r.Context(), uid, req.IsAdmin); err != nil {
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

func (h *Handler) AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "id")
	if uid == identity(r).UID {
		writeError(w, http.StatusConflict, "self_deletion", "Admins cannot delete their own account")
		return
	}
	if err := h.store.DeleteUser(r.Context(), uid); err != nil {
		h.failure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
