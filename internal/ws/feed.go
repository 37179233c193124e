package ws

import (
	"context"
	"sync"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/notification"
	"github.com/comanda-pos/api/internal/ordersync"
	"go.uber.org/zap"
)

// OrderSubscriber opens live order queries. Satisfied by *ordersync.Sync.
type OrderSubscriber interface {
	Subscribe(ctx context.Context, q ordersync.Query) (*ordersync.Subscription, error)
}

type errorPayload struct {
	Error string `json:"error"`
}

type clientOrdersPayload struct {
	Orders []database.Order `json:"orders"`
}

// StaffFeed relays snapshots of every order to the staff room. Panels derive
// their tabs from it with ordersync.FilterByStatus.
type StaffFeed struct {
	orders OrderSubscriber
	hub    *Hub
	logger *zap.Logger
	retry  time.Duration

	mu     sync.RWMutex
	latest *Event
}

func NewStaffFeed(orders OrderSubscriber, hub *Hub, logger *zap.Logger) *StaffFeed {
	return &StaffFeed{
		orders: orders,
		hub:    hub,
		logger: logger,
		retry:  2 * time.Second,
	}
}

// Run keeps one subscription open until ctx ends. When it fails, staff
// panels get a subscription.error event and the feed resubscribes.
func (f *StaffFeed) Run(ctx context.Context) {
	for {
		err := f.relay(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			f.logger.Error("staff order feed failed", zap.Error(err))
			if ev, encErr := NewEvent(enum.EventSubscriptionError, errorPayload{Error: err.Error()}); encErr == nil {
				f.hub.BroadcastToRoom(enum.RoomStaff, ev)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.retry):
		}
	}
}

func (f *StaffFeed) relay(ctx context.Context) error {
	sub, err := f.orders.Subscribe(ctx, ordersync.Query{})
	if err != nil {
		return err
	}
	defer sub.Close()

	for snap := range sub.Updates() {
		ev, err := NewEvent(enum.EventOrdersSnapshot, snap)
		if err != nil {
			f.logger.Error("encode order snapshot", zap.Error(err))
			continue
		}
		f.mu.Lock()
		f.latest = &ev
		f.mu.Unlock()
		f.hub.BroadcastToRoom(enum.RoomStaff, ev)
	}
	return sub.Err()
}

// Latest returns the last snapshot event, for connections that join after it
// was broadcast.
func (f *StaffFeed) Latest() (Event, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return Event{}, false
	}
	return *f.latest, true
}

// NotificationRelay returns a notification.Registry change callback that
// pushes each client's state to its room.
func NotificationRelay(hub *Hub, logger *zap.Logger) func(clientID string, s notification.State) {
	return func(clientID string, s notification.State) {
		ev, err := NewEvent(enum.EventNotificationsUpdated, s)
		if err != nil {
			logger.Error("encode notification state", zap.Error(err))
			return
		}
		hub.BroadcastToRoom(enum.ClientRoom(clientID), ev)
	}
}

// ClientOrdersRelay returns a notification.Registry orders callback that
// pushes each client's live order list to its room.
func ClientOrdersRelay(hub *Hub, logger *zap.Logger) func(clientID string, orders []database.Order) {
	return func(clientID string, orders []database.Order) {
		ev, err := NewEvent(enum.EventClientOrders, clientOrdersPayload{Orders: orders})
		if err != nil {
			logger.Error("encode client orders", zap.Error(err))
			return
		}
		hub.BroadcastToRoom(enum.ClientRoom(clientID), ev)
	}
}
