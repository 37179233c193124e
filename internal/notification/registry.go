package notification

import (
	"context"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"go.uber.org/zap"
)

// Registry owns one Counter per client for the lifetime of the process.
type Registry struct {
	ctx       context.Context
	index     OrderIndex
	orders    Subscriber
	logger    *zap.Logger
	indicator time.Duration

	mu         sync.Mutex
	counters   map[string]*Counter
	watchers   map[string]int
	lastAccess map[string]time.Time
	onChange   func(clientID string, s State)
	onOrders   func(clientID string, orders []database.Order)
}

// NewRegistry creates a registry whose subscriptions live until ctx ends.
func NewRegistry(ctx context.Context, index OrderIndex, orders Subscriber, indicator time.Duration, logger *zap.Logger) *Registry {
	if indicator <= 0 {
		indicator = DefaultIndicatorDuration
	}
	return &Registry{
		ctx:        ctx,
		index:      index,
		orders:     orders,
		logger:     logger,
		indicator:  indicator,
		counters:   make(map[string]*Counter),
		watchers:   make(map[string]int),
		lastAccess: make(map[string]time.Time),
	}
}

// OnChange sets the callback run whenever a counter's state changes.
// It must be set before the first Get.
func (r *Registry) OnChange(fn func(clientID string, s State)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// OnOrders sets the callback run with each new snapshot of a client's
// orders. It must be set before the first Get.
func (r *Registry) OnOrders(fn func(clientID string, orders []database.Order)) {
	r.mu.Lock()
	r.onOrders = fn
	r.mu.Unlock()
}

func (r *Registry) Get(clientID string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAccess[clientID] = time.Now()
	c, ok := r.counters[clientID]
	if !ok {
		c = &Counter{
			clientID:  clientID,
			parent:    r.ctx,
			index:     r.index,
			orders:    r.orders,
			logger:    r.logger,
			indicator: r.indicator,
			onChange:  r.onChange,
			onOrders:  r.onOrders,
		}
		r.counters[clientID] = c
	}
	return c
}

// State initialises the client's counter if needed and returns its state.
func (r *Registry) State(ctx context.Context, clientID string) (State, error) {
	c := r.Get(clientID)
	if err := c.Init(ctx); err != nil {
		return c.State(), err
	}
	return c.State(), nil
}

// Orders initialises the client's counter if needed and returns the
// client's orders from its live view.
func (r *Registry) Orders(ctx context.Context, clientID string) ([]database.Order, error) {
	c := r.Get(clientID)
	err := c.Init(ctx)
	return c.Orders(), err
}

// OrderSubmitted resubscribes the client's counter to include a new order
// and raises the indicator.
func (r *Registry) OrderSubmitted(ctx context.Context, clientID string) error {
	c := r.Get(clientID)
	err := c.Refresh(ctx)
	c.SetShowIndicator(true)
	return err
}

// Watch marks the client as having a live connection. The returned func
// releases it; the counter is dropped once the last watcher leaves.
func (r *Registry) Watch(clientID string) func() {
	r.mu.Lock()
	r.watchers[clientID]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.watchers[clientID]--
			last := r.watchers[clientID] <= 0
			if last {
				delete(r.watchers, clientID)
			}
			r.mu.Unlock()
			if last {
				r.Forget(clientID)
			}
		})
	}
}

// Forget closes and removes the client's counter.
func (r *Registry) Forget(clientID string) {
	r.mu.Lock()
	c, ok := r.counters[clientID]
	delete(r.counters, clientID)
	delete(r.lastAccess, clientID)
	r.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Evict forgets unwatched counters not used within maxAge.
func (r *Registry) Evict(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	var stale []string
	for id, last := range r.lastAccess {
		if r.watchers[id] == 0 && last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()
	for _, id := range stale {
		r.Forget(id)
	}
}

// Run evicts idle counters every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict(maxAge)
		}
	}
}
