// Package cart holds a shopper's cart and wishlist. A Cart is a plain value;
// Store gives it an explicit load/save lifecycle against a Persister.
package cart

import (
	"errors"

	"github.com/jeffsasaki/storefront/models"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

type Cart struct {
	Items    []models.CartItem `json:"items"`
	Wishlist []models.Product  `json:"wishlist"`
}

// Add puts qty of p in the cart, merging with an existing line.
func (c *Cart) Add(p models.Product, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	for i := range c.Items {
		if c.Items[i].ID == p.ID {
			c.Items[i].Quantity += qty
			return nil
		}
	}
	c.Items = append(c.Items, models.CartItem{Product: p, Quantity: qty})
	return nil
}

// Remove drops the line for productID. Unknown ids are ignored.
func (c *Cart) Remove(productID string) {
	for i := range c.Items {
		if c.Items[i].ID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return
		}
	}
}

// SetQuantity replaces a line's quantity; anything below 1 removes the line.
func (c *Cart) SetQuantity(productID string, qty int) {
	if qty < 1 {
		c.Remove(productID)
		return
	}
	for i := range c.Items {
		if c.Items[i].ID == productID {
			c.Items[i].Quantity = qty
			return
		}
	}
}

func (c *Cart) Clear() {
	c.Items = nil
}

// Count is the number of units across all lines.
func (c *Cart) Count() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Subtotal is for display only. Checkout reprices every line.
func (c *Cart) Subtotal() float64 {
	var cents int64
	for _, it := range c.Items {
		cents += models.ToCents(it.Price) * int64(it.Quantity)
	}
	return models.FromCents(cents)
}

func (c *Cart) AddToWishlist(p models.Product) {
	if c.InWishlist(p.ID) {
		return
	}
	c.Wishlist = append(c.Wishlist, p)
}

func (c *Cart) RemoveFromWishlist(productID string) {
	for i := range c.Wishlist {
		if c.Wishlist[i].ID == productID {
			c.Wishlist = append(c.Wishlist[:i], c.Wishlist[i+1:]...)
			return
		}
	}
}

func (c *Cart) InWishlist(productID string) bool {
	for _, p := range c.Wishlist {
		if p.ID == productID {
			return true
		}
	}
	return false
}

func (c *Cart) clone() Cart {
	out := Cart{
		Items:    make([]models.CartItem, len(c.Items)),
		Wishlist: make([]models.Product, len(c.Wishlist)),
	}
	copy(out.Items, c.Items)
	copy(out.Wishlist, c.Wishlist)
	return out
}
