// Package ordersync maintains the live view over all orders and is the only
// place order status is changed.
package ordersync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/events"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderClosed   = errors.New("order is completed or cancelled")
	ErrConflict      = errors.New("order was changed concurrently")
	ErrInvalidStatus = errors.New("invalid order status")
	ErrInvalidPatch  = errors.New("invalid order update")
)

const defaultRetryDelay = 2 * time.Second

// Store is the order persistence used by Sync.
// Satisfied by *database.Queries; narrow interface for testability.
type Store interface {
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	UpdateOrder(ctx context.Context, arg database.UpdateOrderParams) (database.Order, error)
}

// Feed reports that orders changed. Listen calls notify once it is ready and
// after every change, and blocks until ctx ends or the feed breaks.
type Feed interface {
	Listen(ctx context.Context, notify func()) error
}

// OrderPatch is a staff edit. Nil fields are left unchanged.
type OrderPatch struct {
	Items           []database.OrderItem
	Total           *decimal.Decimal
	Status          *database.OrderStatus
	ExpectedVersion int32
}

// Sync fans out full order snapshots to subscribers and applies order changes.
type Sync struct {
	store     Store
	feed      Feed
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
	retry     time.Duration

	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	current Snapshot
	loaded  bool
}

func New(store Store, feed Feed, publisher events.Publisher, logger *zap.Logger) *Sync {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Sync{
		store:     store,
		feed:      feed,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		retry:     defaultRetryDelay,
		subs:      make(map[*Subscription]struct{}),
	}
}

// Run keeps the view current until ctx is cancelled. When the feed fails,
// every live subscription is ended with the error and the feed is restarted
// after a delay.
func (s *Sync) Run(ctx context.Context) error {
	for {
		err := s.follow(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		feedErrorsTotal.Inc()
		s.logger.Error("order feed failed", zap.Error(err), zap.Duration("retry_in", s.retry))
		s.failAll(err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retry):
		}
	}
}

func (s *Sync) follow(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changed := make(chan struct{}, 1)
	feedErr := make(chan error, 1)
	go func() {
		feedErr <- s.feed.Listen(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	for {
		select {
		case <-changed:
			if err := s.reload(ctx); err != nil {
				return err
			}
		case err := <-feedErr:
			if err == nil {
				err = errors.New("order feed closed")
			}
			return err
		}
	}
}

func (s *Sync) reload(ctx context.Context) error {
	orders, err := s.store.ListOrders(ctx, database.ListOrdersParams{})
	if err != nil {
		return fmt.Errorf("reload orders: %w", err)
	}
	snapshotsTotal.Inc()

	s.mu.Lock()
	s.current = Snapshot{Seq: s.current.Seq + 1, Orders: orders, At: s.now()}
	s.loaded = true
	snap := s.current
	subs := s.subscribers()
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(snap)
	}
	return nil
}

func (s *Sync) failAll(err error) {
	s.mu.Lock()
	subs := s.subscribers()
	s.mu.Unlock()
	for _, sub := range subs {
		sub.fail(err)
	}
}

// subscribers must be called with s.mu held.
func (s *Sync) subscribers() []*Subscription {
	out := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// Subscribe registers a live query. The current snapshot is delivered
// before Subscribe returns. The subscription ends with ctx or Close.
func (s *Sync) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	sub := newSubscription(q, s.release)

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	snap, loaded := s.current, s.loaded
	s.mu.Unlock()
	subscriptionsActive.Inc()

	if !loaded {
		orders, err := s.store.ListOrders(ctx, q.params())
		if err != nil {
			sub.Close()
			return nil, fmt.Errorf("load orders: %w", err)
		}
		snap = Snapshot{Orders: orders, At: s.now()}
	}
	sub.deliver(snap)

	stop := context.AfterFunc(ctx, sub.Close)
	sub.mu.Lock()
	sub.stop = stop
	sub.mu.Unlock()
	return sub, nil
}

func (s *Sync) release(sub *Subscription) {
	s.mu.Lock()
	_, ok := s.subs[sub]
	delete(s.subs, sub)
	s.mu.Unlock()
	if ok {
		subscriptionsActive.Dec()
	}
}

// Snapshot is a one-shot read of the orders matching q, newest first.
func (s *Sync) Snapshot(ctx context.Context, q Query) ([]database.Order, error) {
	orders, err := s.store.ListOrders(ctx, q.params())
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if orders == nil {
		orders = []database.Order{}
	}
	return orders, nil
}

func (s *Sync) Get(ctx context.Context, id uuid.UUID) (database.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return database.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// UpdateStatus moves an order to status after checking the lifecycle. The
// write only lands if the order still has the status that was validated.
func (s *Sync) UpdateStatus(ctx context.Context, id uuid.UUID, status database.OrderStatus, actor Actor) (database.Order, error) {
	if !status.Valid() {
		return database.Order{}, ErrInvalidStatus
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return database.Order{}, err
	}
	if err := ValidateTransition(current.Status, status, actor); err != nil {
		statusChangesTotal.WithLabelValues(string(status), "rejected").Inc()
		return database.Order{}, err
	}

	params := database.UpdateOrderStatusParams{
		ID:         id,
		Status:     status,
		PrevStatus: current.Status,
	}
	if status == database.OrderStatusCOMPLETED {
		params.CompletedAt = pgtype.Timestamptz{Time: s.now(), Valid: true}
	}

	updated, err := s.store.UpdateOrderStatus(ctx, params)
	if errors.Is(err, pgx.ErrNoRows) {
		statusChangesTotal.WithLabelValues(string(status), "conflict").Inc()
		return database.Order{}, ErrConflict
	}
	if err != nil {
		return database.Order{}, fmt.Errorf("update order status: %w", err)
	}
	statusChangesTotal.WithLabelValues(string(status), "ok").Inc()

	s.logger.Info("order status changed",
		zap.Int32("order_number", updated.OrderNumber),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
		zap.Stringer("actor", actor),
	)
	s.publish(ctx, events.OrderStatusChanged, updated)
	return updated, nil
}

// UpdateOrder applies a staff edit to an open order. Items without a total
// recompute the total. A status in the patch is validated like UpdateStatus.
func (s *Sync) UpdateOrder(ctx context.Context, id uuid.UUID, patch OrderPatch) (database.Order, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return database.Order{}, err
	}
	if current.Status.Terminal() {
		return database.Order{}, ErrOrderClosed
	}
	if patch.ExpectedVersion != 0 && patch.ExpectedVersion != current.Version {
		return database.Order{}, ErrConflict
	}

	params := database.UpdateOrderParams{
		ID:         id,
		PrevStatus: current.Status,
		Version:    current.Version,
	}

	if patch.Items != nil {
		for _, it := range patch.Items {
			if it.Quantity <= 0 || it.Price.IsNegative() {
				return database.Order{}, ErrInvalidPatch
			}
		}
		params.Items = patch.Items
		if patch.Total == nil {
			params.Total = database.DecimalToNumeric(itemsTotal(patch.Items))
		}
	}
	if patch.Total != nil {
		if patch.Total.IsNegative() {
			return database.Order{}, ErrInvalidPatch
		}
		params.Total = database.DecimalToNumeric(*patch.Total)
	}
	if patch.Status != nil && *patch.Status != current.Status {
		if !patch.Status.Valid() {
			return database.Order{}, ErrInvalidStatus
		}
		if err := ValidateTransition(current.Status, *patch.Status, Staff); err != nil {
			return database.Order{}, err
		}
		params.Status = pgtype.Text{String: string(*patch.Status), Valid: true}
		if *patch.Status == database.OrderStatusCOMPLETED {
			params.CompletedAt = pgtype.Timestamptz{Time: s.now(), Valid: true}
		}
	}

	updated, err := s.store.UpdateOrder(ctx, params)
	if errors.Is(err, pgx.ErrNoRows) {
		return database.Order{}, ErrConflict
	}
	if err != nil {
		return database.Order{}, fmt.Errorf("update order: %w", err)
	}

	s.logger.Info("order updated",
		zap.Int32("order_number", updated.OrderNumber),
		zap.Int32("version", updated.Version),
	)
	s.publish(ctx, events.OrderUpdated, updated)
	return updated, nil
}

func (s *Sync) publish(ctx context.Context, typ string, o database.Order) {
	err := s.publisher.Publish(ctx, events.Event{
		Type:        typ,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      string(o.Status),
		Total:       o.Total.StringFixed(2),
		At:          s.now(),
	})
	if err != nil {
		s.logger.Warn("publish order event", zap.String("type", typ), zap.Error(err))
	}
}

func itemsTotal(items []database.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt32(it.Quantity)))
	}
	return total
}
