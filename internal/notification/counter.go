// Package notification derives each client's count of active orders from
// the live order view.
package notification

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/ordersync"
	"go.uber.org/zap"
)

const DefaultIndicatorDuration = 10 * time.Second

// OrderIndex lists the order numbers a client submitted.
// Satisfied by *clientstate.OrderIndex.
type OrderIndex interface {
	OrderNumbers(ctx context.Context, clientID string) ([]int32, error)
}

// Subscriber opens live order queries. Satisfied by *ordersync.Sync.
type Subscriber interface {
	Subscribe(ctx context.Context, q ordersync.Query) (*ordersync.Subscription, error)
}

type State struct {
	Count         int    `json:"count"`
	ShowIndicator bool   `json:"show_indicator"`
	Error         string `json:"error,omitempty"`
}

// Counter tracks how many of one client's orders are pending or preparing,
// along with the live list of those orders.
type Counter struct {
	clientID  string
	parent    context.Context
	index     OrderIndex
	orders    Subscriber
	logger    *zap.Logger
	indicator time.Duration
	onChange  func(clientID string, s State)
	onOrders  func(clientID string, orders []database.Order)

	mu         sync.Mutex
	subscribed bool
	sub        *ordersync.Subscription
	cancel     context.CancelFunc
	count      int
	list       []database.Order
	show       bool
	err        error
	timers     []*time.Timer
}

// Init starts watching the client's orders. Calling it again while
// subscribed does nothing. A client with no orders is not subscribed.
func (c *Counter) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return nil
	}
	return c.subscribeLocked(ctx)
}

// Refresh drops the current subscription and subscribes again so newly
// submitted orders are included.
func (c *Counter) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeLocked()
	return c.subscribeLocked(ctx)
}

func (c *Counter) subscribeLocked(ctx context.Context) error {
	numbers, err := c.index.OrderNumbers(ctx, c.clientID)
	if err != nil {
		return fmt.Errorf("read order index: %w", err)
	}
	c.subscribed = true
	c.err = nil
	if len(numbers) == 0 {
		c.count = 0
		c.list = nil
		return nil
	}

	subCtx, cancel := context.WithCancel(c.parent)
	sub, err := c.orders.Subscribe(subCtx, ordersync.Query{OrderNumbers: numbers})
	if err != nil {
		cancel()
		c.subscribed = false
		c.err = err
		return fmt.Errorf("subscribe to orders: %w", err)
	}
	c.sub = sub
	c.cancel = cancel
	if snap, ok := sub.Latest(); ok {
		c.count = ordersync.CountActive(snap.Orders)
		c.list = snap.Orders
	}
	go c.watch(sub)
	return nil
}

func (c *Counter) unsubscribeLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.sub != nil {
		c.sub.Close()
	}
	c.sub = nil
	c.cancel = nil
	c.subscribed = false
}

func (c *Counter) watch(sub *ordersync.Subscription) {
	for snap := range sub.Updates() {
		c.mu.Lock()
		if c.sub != sub {
			c.mu.Unlock()
			return
		}
		changed := c.count != ordersync.CountActive(snap.Orders)
		c.count = ordersync.CountActive(snap.Orders)
		c.list = snap.Orders
		state := c.stateLocked()
		c.mu.Unlock()
		if changed {
			c.emit(state)
		}
		if c.onOrders != nil {
			c.onOrders(c.clientID, orEmpty(snap.Orders))
		}
	}

	err := sub.Err()
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.sub != sub {
		c.mu.Unlock()
		return
	}
	c.logger.Error("notification subscription failed", zap.String("client_id", c.clientID), zap.Error(err))
	c.err = err
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.sub = nil
	c.subscribed = false
	state := c.stateLocked()
	c.mu.Unlock()
	c.emit(state)
}

// SetShowIndicator raises the new-activity flag, which clears itself after
// the indicator duration. Each call schedules its own clear.
func (c *Counter) SetShowIndicator(show bool) {
	c.mu.Lock()
	c.show = show
	if show {
		var t *time.Timer
		t = time.AfterFunc(c.indicator, func() {
			c.mu.Lock()
			c.show = false
			c.timers = slices.DeleteFunc(c.timers, func(p *time.Timer) bool { return p == t })
			state := c.stateLocked()
			c.mu.Unlock()
			c.emit(state)
		})
		c.timers = append(c.timers, t)
	}
	state := c.stateLocked()
	c.mu.Unlock()
	c.emit(state)
}

func (c *Counter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Orders returns the client's orders from the last snapshot, newest first.
// After a failure it keeps the last known list.
func (c *Counter) Orders() []database.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return orEmpty(c.list)
}

func orEmpty(orders []database.Order) []database.Order {
	if orders == nil {
		return []database.Order{}
	}
	return orders
}

func (c *Counter) stateLocked() State {
	s := State{Count: c.count, ShowIndicator: c.show}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

func (c *Counter) emit(s State) {
	if c.onChange != nil {
		c.onChange(c.clientID, s)
	}
}

// Close stops the subscription and pending indicator timers.
func (c *Counter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeLocked()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}
