// Package cart holds each client's pending selection before checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/clientstate"
	"github.com/shopspring/decimal"
)

var (
	ErrItemNotFound = errors.New("item not in cart")
	ErrInvalidItem  = errors.New("invalid cart item")
)

// Product is what gets added to a cart: a menu entry at its current price.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

type Item struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int32           `json:"quantity"`
	Note     string          `json:"note,omitempty"`
}

// Subtotal is price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt32(i.Quantity))
}

type Cart struct {
	Items []Item `json:"items"`
}

// Total sums every line; it is never stored.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

func (c Cart) find(id string) int {
	for i, it := range c.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Store applies cart operations for many clients. Carts are persisted in a
// clientstate.Store; the last-added marker lives in memory only.
type Store struct {
	state clientstate.Store
	now   func() time.Time

	mu        sync.Mutex
	lastAdded map[string]time.Time
}

func NewStore(state clientstate.Store) *Store {
	return &Store{
		state:     state,
		now:       time.Now,
		lastAdded: make(map[string]time.Time),
	}
}

func (s *Store) Get(ctx context.Context, clientID string) (Cart, error) {
	var c Cart
	if _, err := s.state.Load(ctx, clientstate.CartKey(clientID), &c); err != nil {
		return Cart{}, fmt.Errorf("load cart: %w", err)
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	return c, nil
}

// Add puts one unit of p in the cart, incrementing an existing line.
func (s *Store) Add(ctx context.Context, clientID string, p Product) (Cart, error) {
	if p.ID == "" || p.Price.IsNegative() {
		return Cart{}, ErrInvalidItem
	}
	c, err := s.update(ctx, clientID, func(c *Cart) error {
		if i := c.find(p.ID); i >= 0 {
			c.Items[i].Quantity++
			return nil
		}
		c.Items = append(c.Items, Item{ID: p.ID, Name: p.Name, Price: p.Price, Quantity: 1})
		return nil
	})
	if err != nil {
		return Cart{}, err
	}

	s.mu.Lock()
	s.lastAdded[clientID] = s.now()
	s.mu.Unlock()
	return c, nil
}

func (s *Store) Increase(ctx context.Context, clientID, id string) (Cart, error) {
	return s.update(ctx, clientID, func(c *Cart) error {
		i := c.find(id)
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items[i].Quantity++
		return nil
	})
}

// Decrease removes one unit; the line is dropped when it reaches zero.
func (s *Store) Decrease(ctx context.Context, clientID, id string) (Cart, error) {
	return s.update(ctx, clientID, func(c *Cart) error {
		i := c.find(id)
		if i < 0 {
			return ErrItemNotFound
		}
		if c.Items[i].Quantity <= 1 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
		c.Items[i].Quantity--
		return nil
	})
}

func (s *Store) Remove(ctx context.Context, clientID, id string) (Cart, error) {
	return s.update(ctx, clientID, func(c *Cart) error {
		i := c.find(id)
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
}

func (s *Store) UpdateNote(ctx context.Context, clientID, id, note string) (Cart, error) {
	return s.update(ctx, clientID, func(c *Cart) error {
		i := c.find(id)
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items[i].Note = note
		return nil
	})
}

func (s *Store) Clear(ctx context.Context, clientID string) error {
	if err := s.state.Delete(ctx, clientstate.CartKey(clientID)); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// RemoveOrdered takes the ordered quantities out of the cart once they are
// part of an order. Lines added or increased since the cart was read stay.
// The key is deleted when nothing is left.
func (s *Store) RemoveOrdered(ctx context.Context, clientID string, ordered []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Get(ctx, clientID)
	if err != nil {
		return err
	}
	for _, o := range ordered {
		i := c.find(o.ID)
		if i < 0 {
			continue
		}
		if c.Items[i].Quantity <= o.Quantity {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			continue
		}
		c.Items[i].Quantity -= o.Quantity
	}

	if c.IsEmpty() {
		if err := s.state.Delete(ctx, clientstate.CartKey(clientID)); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	}
	if err := s.state.Save(ctx, clientstate.CartKey(clientID), c); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// LastAdded reports when the client last added an item. It is lost on restart.
func (s *Store) LastAdded(clientID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastAdded[clientID]
	return t, ok
}

// update runs fn against the stored cart and saves the result.
// Operations from one process are serialised.
func (s *Store) update(ctx context.Context, clientID string, fn func(*Cart) error) (Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.Get(ctx, clientID)
	if err != nil {
		return Cart{}, err
	}
	if err := fn(&c); err != nil {
		return Cart{}, err
	}
	if err := s.state.Save(ctx, clientstate.CartKey(clientID), c); err != nil {
		return Cart{}, fmt.Errorf("save cart: %w", err)
	}
	return c, nil
}
