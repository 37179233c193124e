package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/comanda-pos/api/internal/metrics"
	"github.com/comanda-pos/api/internal/notification"
	"github.com/comanda-pos/api/internal/ordersync"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifications is satisfied by *notification.Registry.
type Notifications interface {
	Watch(clientID string) func()
	State(ctx context.Context, clientID string) (notification.State, error)
	Orders(ctx context.Context, clientID string) ([]database.Order, error)
}

// ConfigSource is satisfied by *database.Queries.
type ConfigSource interface {
	GetRestaurantConfig(ctx context.Context) (database.RestaurantConfig, error)
}

// Handler serves the WebSocket endpoints. Authentication is applied by the
// router before these handlers run.
type Handler struct {
	hub           *Hub
	staff         *StaffFeed
	notifications Notifications
	orders        OrderSubscriber
	config        ConfigSource
	logger        *zap.Logger
	now           func() time.Time
}

func NewHandler(hub *Hub, staff *StaffFeed, notifications Notifications, orders OrderSubscriber, config ConfigSource, logger *zap.Logger) *Handler {
	return &Handler{
		hub:           hub,
		staff:         staff,
		notifications: notifications,
		orders:        orders,
		config:        config,
		logger:        logger,
		now:           time.Now,
	}
}

// Orders streams order snapshots to kitchen and waiter panels. Without a
// status filter the connection shares the staff feed of every order;
// with one it gets its own live query.
// WS /ws/orders?token=JWT&status=
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" || status == "all" {
		var initial []Event
		if ev, ok := h.staff.Latest(); ok {
			initial = append(initial, ev)
		}
		ServeWS(h.hub, h.logger, w, r, Session{Room: enum.RoomStaff, Initial: initial})
		return
	}

	q, err := ordersync.ParseStatusFilter(status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	sub, err := h.orders.Subscribe(ctx, q)
	if err != nil {
		cancel()
		h.logger.Error("subscribe to orders", zap.Error(err))
		http.Error(w, "order feed unavailable", http.StatusServiceUnavailable)
		return
	}

	var (
		initial []Event
		sent    *ordersync.Snapshot
	)
	if snap, ok := sub.Latest(); ok {
		if ev, err := NewEvent(enum.EventOrdersSnapshot, snap); err == nil {
			initial = append(initial, ev)
			sent = &snap
		}
	}
	client := ServeWS(h.hub, h.logger, w, r, Session{Room: enum.RoomStaffFiltered, Initial: initial, OnClose: cancel})
	if client == nil {
		return
	}
	go h.relayOrders(ctx, client, sub, sent)
}

// relayOrders forwards one connection's subscription until it ends,
// skipping snapshots no newer than sent.
func (h *Handler) relayOrders(ctx context.Context, client *Client, sub *ordersync.Subscription, sent *ordersync.Snapshot) {
	defer sub.Close()
	for snap := range sub.Updates() {
		if sent != nil && snap.Seq <= sent.Seq {
			continue
		}
		ev, err := NewEvent(enum.EventOrdersSnapshot, snap)
		if err != nil {
			h.logger.Error("encode order snapshot", zap.Error(err))
			continue
		}
		h.hub.SendToClient(client, ev)
	}
	if err := sub.Err(); err != nil && ctx.Err() == nil {
		h.logger.Error("order subscription failed", zap.Error(err))
		if ev, encErr := NewEvent(enum.EventSubscriptionError, errorPayload{Error: err.Error()}); encErr == nil {
			h.hub.SendToClient(client, ev)
		}
	}
}

// Notifications streams one customer's active order count and the live list
// of their own orders.
// WS /ws/clients/{cid}/notifications
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		http.Error(w, "invalid client id", http.StatusBadRequest)
		return
	}
	clientID := id.String()

	release := h.notifications.Watch(clientID)
	state, err := h.notifications.State(r.Context(), clientID)
	if err != nil {
		h.logger.Warn("notification state", zap.String("client_id", clientID), zap.Error(err))
	}

	orders, err := h.notifications.Orders(r.Context(), clientID)
	if err != nil {
		h.logger.Warn("client orders", zap.String("client_id", clientID), zap.Error(err))
	}

	var initial []Event
	if ev, err := NewEvent(enum.EventNotificationsUpdated, state); err == nil {
		initial = append(initial, ev)
	}
	if ev, err := NewEvent(enum.EventClientOrders, clientOrdersPayload{Orders: orders}); err == nil {
		initial = append(initial, ev)
	}
	ServeWS(h.hub, h.logger, w, r, Session{
		Room:    enum.ClientRoom(clientID),
		Initial: initial,
		OnClose: release,
	})
}

// Public pushes restaurant config changes to customer screens.
// WS /ws/public
func (h *Handler) Public(w http.ResponseWriter, r *http.Request) {
	var initial []Event
	cfg, err := h.config.GetRestaurantConfig(r.Context())
	if err != nil {
		h.logger.Warn("load restaurant config", zap.Error(err))
	} else if ev, err := NewEvent(enum.EventConfigUpdated, cfg); err == nil {
		initial = append(initial, ev)
	}
	ServeWS(h.hub, h.logger, w, r, Session{Room: enum.RoomPublic, Initial: initial})
}

// Metrics streams dashboard reports recomputed on every order change. The
// filter uses the query parameters of GET /admin/metrics.
// WS /ws/metrics?token=JWT&start_date=&end_date=&status=
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, err := metrics.ParseFilter(q.Get("start_date"), q.Get("end_date"), q.Get("status"), h.now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	client := ServeWS(h.hub, h.logger, w, r, Session{Room: enum.RoomMetrics, OnClose: cancel})
	if client == nil {
		return
	}

	go func() {
		err := metrics.Watch(ctx, h.orders, f, func(rep metrics.Report) {
			ev, err := NewEvent(enum.EventMetricsUpdated, rep)
			if err != nil {
				h.logger.Error("encode metrics report", zap.Error(err))
				return
			}
			h.hub.SendToClient(client, ev)
		})
		if err != nil && ctx.Err() == nil {
			h.logger.Error("metrics subscription failed", zap.Error(err))
			if ev, encErr := NewEvent(enum.EventSubscriptionError, errorPayload{Error: err.Error()}); encErr == nil {
				h.hub.SendToClient(client, ev)
			}
		}
	}()
}
