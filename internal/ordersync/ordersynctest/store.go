// Package ordersynctest provides an in-memory order store and change feed
// for tests of code built on ordersync.
package ordersynctest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store implements ordersync.Store and ordersync.Feed.
type Store struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]database.Order
	notify  []func()
	broken  chan error
	listErr error
}

func New() *Store {
	return &Store{
		orders: make(map[uuid.UUID]database.Order),
		broken: make(chan error, 1),
	}
}

// Add inserts o, filling ID, Version and timestamps when unset, and
// signals listeners.
func (s *Store) Add(o database.Order) database.Order {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Version == 0 {
		o.Version = 1
	}
	if o.Status == "" {
		o.Status = database.OrderStatusPENDING
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	if o.Items == nil {
		o.Items = []database.OrderItem{}
	}

	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
	s.changed()
	return o
}

// SetStatus overwrites an order's status as another client would.
func (s *Store) SetStatus(id uuid.UUID, status database.OrderStatus) {
	s.mu.Lock()
	o := s.orders[id]
	o.Status = status
	o.Version++
	s.orders[id] = o
	s.mu.Unlock()
	s.changed()
}

// FailList makes ListOrders return err until called again with nil.
func (s *Store) FailList(err error) {
	s.mu.Lock()
	s.listErr = err
	s.mu.Unlock()
}

// Break ends the current Listen call with err.
func (s *Store) Break(err error) {
	s.broken <- err
}

func (s *Store) changed() {
	s.mu.Lock()
	fns := slices.Clone(s.notify)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Store) Listen(ctx context.Context, notify func()) error {
	s.mu.Lock()
	s.notify = append(s.notify, notify)
	idx := len(s.notify) - 1
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.notify[idx] = func() {}
		s.mu.Unlock()
	}()

	notify()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-s.broken:
		return err
	}
}

func (s *Store) ListOrders(_ context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	var out []database.Order
	for _, o := range s.orders {
		if arg.Statuses != nil && !slices.Contains(arg.Statuses, string(o.Status)) {
			continue
		}
		if arg.OrderNumbers != nil && !slices.Contains(arg.OrderNumbers, o.OrderNumber) {
			continue
		}
		if arg.StartDate.Valid && o.CreatedAt.Before(arg.StartDate.Time) {
			continue
		}
		if arg.EndDate.Valid && !o.CreatedAt.Before(arg.EndDate.Time) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].OrderNumber > out[j].OrderNumber
	})
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (database.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[arg.ID]
	if !ok || o.Status != arg.PrevStatus {
		s.mu.Unlock()
		return database.Order{}, pgx.ErrNoRows
	}
	o.Status = arg.Status
	if arg.CompletedAt.Valid {
		t := arg.CompletedAt.Time
		o.CompletedAt = &t
	}
	o.Version++
	o.UpdatedAt = time.Now()
	s.orders[o.ID] = o
	s.mu.Unlock()

	s.changed()
	return o, nil
}

func (s *Store) UpdateOrder(_ context.Context, arg database.UpdateOrderParams) (database.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[arg.ID]
	if !ok || o.Status != arg.PrevStatus || (arg.Version != 0 && o.Version != arg.Version) {
		s.mu.Unlock()
		return database.Order{}, pgx.ErrNoRows
	}
	if arg.Items != nil {
		o.Items = arg.Items
	}
	if arg.Total.Valid {
		o.Total = database.NumericToDecimal(arg.Total)
	}
	if arg.Status.Valid {
		o.Status = database.OrderStatus(arg.Status.String)
	}
	if arg.CompletedAt.Valid {
		t := arg.CompletedAt.Time
		o.CompletedAt = &t
	}
	o.Version++
	o.UpdatedAt = time.Now()
	s.orders[o.ID] = o
	s.mu.Unlock()

	s.changed()
	return o, nil
}
