package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jeffsasaki/storefront/models"
)

var ErrNotLoaded = errors.New("cart not loaded")

// Persister stores carts by key. Load of an unknown key returns an empty cart.
type Persister interface {
	Load(ctx context.Context, key string) (*Cart, error)
	Save(ctx context.Context, key string, c *Cart) error
	Delete(ctx context.Context, key string) error
}

// Store is one user's cart. Call Load once before mutating; every mutation is
// saved before it returns.
type Store struct {
	mu     sync.Mutex
	p      Persister
	key    string
	cart   *Cart
	loaded bool
}

func NewStore(p Persister, key string) *Store {
	return &Store{p: p, key: key}
}

// Open is NewStore followed by Load.
func Open(ctx context.Context, p Persister, key string) (*Store, error) {
	s := NewStore(p, key)
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.p.Load(ctx, s.key)
	if err != nil {
		return fmt.Errorf("failed to load cart %s: %w", s.key, err)
	}
	s.cart = c
	s.loaded = true
	return nil
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return Cart{}, ErrNotLoaded
	}
	return s.cart.clone(), nil
}

func (s *Store) Add(ctx context.Context, p models.Product, qty int) error {
	return s.mutate(ctx, func(c *Cart) error { return c.Add(p, qty) })
}

func (s *Store) Remove(ctx context.Context, productID string) error {
	return s.mutate(ctx, func(c *Cart) error { c.Remove(productID); return nil })
}

func (s *Store) SetQuantity(ctx context.Context, productID string, qty int) error {
	return s.mutate(ctx, func(c *Cart) error { c.SetQuantity(productID, qty); return nil })
}

func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, func(c *Cart) error { c.Clear(); return nil })
}

func (s *Store) AddToWishlist(ctx context.Context, p models.Product) error {
	return s.mutate(ctx, func(c *Cart) error { c.AddToWishlist(p); return nil })
}

func (s *Store) RemoveFromWishlist(ctx context.Context, productID string) error {
	return s.mutate(ctx, func(c *Cart) error { c.RemoveFromWishlist(productID); return nil })
}

// mutate applies fn to a copy and only swaps it in once the save succeeded.
func (s *Store) mutate(ctx context.Context, fn func(*Cart) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}

	next := s.cart.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.p.Save(ctx, s.key, &next); err != nil {
		return fmt.Errorf("failed to save cart %s: %w", s.key, err)
	}
	s.cart = &next
	return nil
}
