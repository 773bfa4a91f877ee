package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jeffsasaki/storefront/cart"
	"github.com/jeffsasaki/storefront/models"
)

type AddCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type CartResponse struct {
	cart.Cart
	Count    int     `json:"count"`
	Subtotal float64 `json:"subtotal"`
}

func (h *Handler) openCart(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	s, err := cart.Open(r.Context(), h.carts, identity(r).UID)
	if err != nil {
		h.failure(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, s *cart.Store) {
	c, err := s.Snapshot()
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if c.Items == nil {
		c.Items = []models.CartItem{}
	}
	if c.Wishlist == nil {
		c.Wishlist = []models.Product{}
	}
	writeJSON(w, http.StatusOK, CartResponse{Cart: c, Count: c.Count(), Subtotal: c.Subtotal()})
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.openCart(w, r); ok {
		h.writeCart(w, r, s)
	}
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openCart(w, r)
	if !ok {
		return
	}
	if err := s.Clear(r.Context()); err != nil {
		h.failure(w, r, err)
		return
	}
	h.writeCart(w, r, s)
}

// AddCartItem adds a catalogue product; the cart keeps a snapshot of it for
// display.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req AddCartItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	p, err := h.store.GetProduct(r.Context(), req.ProductID)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	s, ok := h.openCart(w, r)
	if !ok {
		return
	}
	if err := s.Add(r.Context(), *p, req.Quantity); err != nil {
		h.failure(w, r, err)
		return
	}
	h.writeCart(w, r, s)
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateCartItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	s, ok := h.openCart(w, r)
	if !ok {
		return
	}
	if err := s.SetQuantity(r.Context(), chi.URLParam(r, "id"), req.Quantity); err != nil {
		h.failure(w, r, err)
		return
	}
	h.writeCart(w, r, s)
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openCart(w, r)
	if !ok {
		return
	}
	if err := s.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.failure(w, r, err)
		return
	}
	h.writeCart(w, r, s)
}

func (h *Handler) AddWishlistItem(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.failure(w, r, err)
		return
	}
	s, ok := h.openCart(w, r)
	if !ok {
		return
	}
	if err := s.AddToWishlist(r.Context(), *p); err != nil {
		h.failure(w, r, err)
		return
	}
	h.writeCart(w, r, s)
}

func (h *Handler) RemoveWishlistItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.openCart(w, r)
	if !ok {
		return
	}
	if err := s.RemoveFromWishlist(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.failure(w, r, err)
		return
	}
	h.writeCart(w, r, s)
}
