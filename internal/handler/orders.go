package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/ordersync"
	"github.com/comanda-pos/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderServicer defines the service methods needed by customer order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	SubmitOrder(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error)
	ListClientOrders(ctx context.Context, clientID string) ([]database.Order, error)
	CancelOrder(ctx context.Context, clientID string, orderNumber int32) (database.Order, error)
}

// OrderManager defines the order operations staff handlers need.
// Satisfied by *ordersync.Sync.
type OrderManager interface {
	Snapshot(ctx context.Context, q ordersync.Query) ([]database.Order, error)
	Get(ctx context.Context, id uuid.UUID) (database.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status database.OrderStatus, actor ordersync.Actor) (database.Order, error)
	UpdateOrder(ctx context.Context, id uuid.UUID, patch ordersync.OrderPatch) (database.Order, error)
}

// OrderHandler handles order endpoints for customers and staff.
type OrderHandler struct {
	svc    OrderServicer
	orders OrderManager
	logger *zap.Logger
}

func NewOrderHandler(svc OrderServicer, orders OrderManager, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, orders: orders, logger: logger}
}

// RegisterCustomerRoutes registers the checkout endpoints. Expected behind
// middleware.RequireClientID; limiter throttles submissions only.
func (h *OrderHandler) RegisterCustomerRoutes(r chi.Router, limiter func(http.Handler) http.Handler) {
	r.With(limiter).Post("/orders", h.Submit)
	r.Get("/orders/mine", h.ListMine)
	r.Post("/orders/mine/{number}/cancel", h.CancelMine)
}

// RegisterStaffRoutes registers the kitchen and waiter endpoints. Expected
// behind middleware.Authenticate.
func (h *OrderHandler) RegisterStaffRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{id}", h.Get)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
	r.Patch("/orders/{id}", h.Update)
}

// --- Request / Response types ---

type submitOrderRequest struct {
	OrderType     string `json:"order_type"`
	TableNumber   string `json:"table_number"`
	PaymentMethod string `json:"payment_method"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type orderItemRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int32  `json:"quantity"`
	Note     string `json:"note"`
}

type updateOrderRequest struct {
	Items   []orderItemRequest `json:"items"`
	Total   *string            `json:"total"`
	Status  *string            `json:"status"`
	Version int32              `json:"version"`
}

type orderItemResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int32  `json:"quantity"`
	Note     string `json:"note"`
}

type orderResponse struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   int32               `json:"order_number"`
	Status        string              `json:"status"`
	OrderType     string              `json:"order_type"`
	TableNumber   string              `json:"table_number"`
	PaymentMethod string              `json:"payment_method"`
	Total         string              `json:"total"`
	Items         []orderItemResponse `json:"items"`
	Version       int32               `json:"version"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	CompletedAt   *time.Time          `json:"completed_at"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Count  int             `json:"count"`
}

func toOrderResponse(o database.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        string(o.Status),
		OrderType:     string(o.OrderType),
		TableNumber:   o.TableNumber,
		PaymentMethod: string(o.PaymentMethod),
		Total:         o.Total.StringFixed(2),
		Items:         make([]orderItemResponse, len(o.Items)),
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		CompletedAt:   o.CompletedAt,
	}
	for i, it := range o.Items {
		resp.Items[i] = orderItemResponse{
			ID:       it.ID,
			Name:     it.Name,
			Price:    it.Price.StringFixed(2),
			Quantity: it.Quantity,
			Note:     it.Note,
		}
	}
	return resp
}

func toOrderListResponse(orders []database.Order) orderListResponse {
	resp := orderListResponse{Orders: make([]orderResponse, len(orders)), Count: len(orders)}
	for i, o := range orders {
		resp.Orders[i] = toOrderResponse(o)
	}
	return resp
}

// --- Customer handlers ---

// Submit checks out the client's cart.
func (h *OrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	result, err := h.svc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		ClientID:      middleware.ClientIDFromContext(r.Context()),
		OrderType:     req.OrderType,
		TableNumber:   req.TableNumber,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyCart),
			errors.Is(err, service.ErrTableRequired),
			errors.Is(err, service.ErrInvalidOrderType),
			errors.Is(err, service.ErrInvalidPaymentMethod):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			internalError(w, h.logger, "submit order", err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(result.Order))
}

// ListMine returns the orders placed from this device, newest first.
func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListClientOrders(r.Context(), middleware.ClientIDFromContext(r.Context()))
	if err != nil {
		internalError(w, h.logger, "list client orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderListResponse(orders))
}

func (h *OrderHandler) CancelMine(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(chi.URLParam(r, "number"), 10, 32)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order number"})
		return
	}

	order, err := h.svc.CancelOrder(r.Context(), middleware.ClientIDFromContext(r.Context()), int32(n))
	if err != nil {
		if errors.Is(err, service.ErrOrderNotOwned) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		h.writeOrderError(w, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// --- Staff handlers ---

// List returns orders filtered by ?status= (comma separated, or "active"),
// ?start_date= and ?end_date= (YYYY-MM-DD, UTC, inclusive), newest first.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseOrderQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	orders, err := h.orders.Snapshot(r.Context(), q)
	if err != nil {
		internalError(w, h.logger, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderListResponse(orders))
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeOrderError(w, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), id, database.OrderStatus(req.Status), ordersync.Staff)
	if err != nil {
		h.writeOrderError(w, "update order status", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// Update applies a partial edit. Sending the last seen version makes the
// write fail with 409 if someone else changed the order meanwhile.
func (h *OrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	patch := ordersync.OrderPatch{ExpectedVersion: req.Version}
	if req.Items != nil {
		patch.Items = make([]database.OrderItem, len(req.Items))
		for i, it := range req.Items {
			price, err := decimal.NewFromString(it.Price)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price for item " + strconv.Itoa(i)})
				return
			}
			patch.Items[i] = database.OrderItem{
				ID:       it.ID,
				Name:     it.Name,
				Price:    price,
				Quantity: it.Quantity,
				Note:     it.Note,
			}
		}
	}
	if req.Total != nil {
		total, err := decimal.NewFromString(*req.Total)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid total"})
			return
		}
		patch.Total = &total
	}
	if req.Status != nil {
		s := database.OrderStatus(*req.Status)
		patch.Status = &s
	}

	order, err := h.orders.UpdateOrder(r.Context(), id, patch)
	if err != nil {
		h.writeOrderError(w, "update order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// --- Helpers ---

func (h *OrderHandler) writeOrderError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ordersync.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, ordersync.ErrInvalidStatus),
		errors.Is(err, ordersync.ErrInvalidPatch):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ordersync.ErrInvalidTransition),
		errors.Is(err, ordersync.ErrOrderClosed):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, ordersync.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		internalError(w, h.logger, op, err)
	}
}

func parseOrderQuery(r *http.Request) (ordersync.Query, error) {
	const layout = "2006-01-02"
	q, err := ordersync.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		return ordersync.Query{}, err
	}

	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			return ordersync.Query{}, errors.New("invalid start_date format, use YYYY-MM-DD")
		}
		q.From = t
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			return ordersync.Query{}, errors.New("invalid end_date format, use YYYY-MM-DD")
		}
		q.To = t.AddDate(0, 0, 1)
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return ordersync.Query{}, errors.New("start_date must not be after end_date")
	}
	return q, nil
}
