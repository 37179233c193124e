package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/handler"
	"github.com/comanda-pos/api/internal/middleware"
	"github.com/comanda-pos/api/internal/ordersync"
	"github.com/comanda-pos/api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- Mock OrderServicer ---

type mockOrderService struct {
	submitFn func(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error)
	listFn   func(ctx context.Context, clientID string) ([]database.Order, error)
	cancelFn func(ctx context.Context, clientID string, orderNumber int32) (database.Order, error)
}

func (m *mockOrderService) SubmitOrder(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
	return m.submitFn(ctx, req)
}

func (m *mockOrderService) ListClientOrders(ctx context.Context, clientID string) ([]database.Order, error) {
	return m.listFn(ctx, clientID)
}

func (m *mockOrderService) CancelOrder(ctx context.Context, clientID string, orderNumber int32) (database.Order, error) {
	return m.cancelFn(ctx, clientID, orderNumber)
}

// --- Mock OrderManager ---

type mockOrderManager struct {
	snapshotFn     func(ctx context.Context, q ordersync.Query) ([]database.Order, error)
	getFn          func(ctx context.Context, id uuid.UUID) (database.Order, error)
	updateStatusFn func(ctx context.Context, id uuid.UUID, status database.OrderStatus, actor ordersync.Actor) (database.Order, error)
	updateOrderFn  func(ctx context.Context, id uuid.UUID, patch ordersync.OrderPatch) (database.Order, error)
}

func (m *mockOrderManager) Snapshot(ctx context.Context, q ordersync.Query) ([]database.Order, error) {
	return m.snapshotFn(ctx, q)
}

func (m *mockOrderManager) Get(ctx context.Context, id uuid.UUID) (database.Order, error) {
	return m.getFn(ctx, id)
}

func (m *mockOrderManager) UpdateStatus(ctx context.Context, id uuid.UUID, status database.OrderStatus, actor ordersync.Actor) (database.Order, error) {
	return m.updateStatusFn(ctx, id, status, actor)
}

func (m *mockOrderManager) UpdateOrder(ctx context.Context, id uuid.UUID, patch ordersync.OrderPatch) (database.Order, error) {
	return m.updateOrderFn(ctx, id, patch)
}

// --- Helpers ---

const testClientID = "8a1f54c2-0f7e-4c55-9b1e-3c2f5d6e7a80"

func setupOrderRouter(svc *mockOrderService, mgr *mockOrderManager) *chi.Mux {
	h := handler.NewOrderHandler(svc, mgr, zap.NewNop())
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireClientID)
		h.RegisterCustomerRoutes(r, middleware.NewClientRateLimiter(600).Limit)
	})
	r.Group(h.RegisterStaffRoutes)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.ClientIDHeader, testClientID)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func testOrder(n int32, status database.OrderStatus) database.Order {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	return database.Order{
		ID:            uuid.New(),
		OrderNumber:   n,
		Status:        status,
		OrderType:     database.OrderTypeDINEIN,
		TableNumber:   "7",
		PaymentMethod: database.PaymentMethodPAYPAL,
		Total:         decimal.RequireFromString("51"),
		Items: []database.OrderItem{
			{ID: "p1", Name: "Burger", Price: decimal.RequireFromString("12.5"), Quantity: 4},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- Submit ---

func TestOrderSubmit_HappyPath(t *testing.T) {
	var got service.SubmitOrderRequest
	svc := &mockOrderService{submitFn: func(_ context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
		got = req
		o := testOrder(6, database.OrderStatusPENDING)
		return &service.SubmitOrderResult{Order: o, OrderNumber: o.OrderNumber, Total: o.Total}, nil
	}}
	router := setupOrderRouter(svc, &mockOrderManager{})

	rr := doRequest(t, router, "POST", "/orders", map[string]string{
		"order_type":     "dine_in",
		"table_number":   "7",
		"payment_method": "paypal",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if got.ClientID != testClientID || got.OrderType != "dine_in" || got.TableNumber != "7" || got.PaymentMethod != "paypal" {
		t.Errorf("request passed to service: %+v", got)
	}

	resp := decodeResponse(t, rr)
	if resp["order_number"] != float64(6) {
		t.Errorf("order_number: got %v, want 6", resp["order_number"])
	}
	if resp["total"] != "51.00" {
		t.Errorf("total: got %v, want 51.00", resp["total"])
	}
	if resp["status"] != "pending" {
		t.Errorf("status: got %v, want pending", resp["status"])
	}
}

func TestOrderSubmit_ValidationErrors(t *testing.T) {
	for _, svcErr := range []error{
		service.ErrEmptyCart,
		service.ErrTableRequired,
		service.ErrInvalidOrderType,
		service.ErrInvalidPaymentMethod,
	} {
		t.Run(svcErr.Error(), func(t *testing.T) {
			svc := &mockOrderService{submitFn: func(context.Context, service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
				return nil, svcErr
			}}
			rr := doRequest(t, setupOrderRouter(svc, &mockOrderManager{}), "POST", "/orders", map[string]string{"order_type": "dine_in"})
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestOrderSubmit_PersistenceError(t *testing.T) {
	svc := &mockOrderService{submitFn: func(context.Context, service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
		return nil, fmt.Errorf("create order: %w", context.DeadlineExceeded)
	}}
	rr := doRequest(t, setupOrderRouter(svc, &mockOrderManager{}), "POST", "/orders", map[string]string{})
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestOrderSubmit_RateLimited(t *testing.T) {
	svc := &mockOrderService{submitFn: func(context.Context, service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
		o := testOrder(1, database.OrderStatusPENDING)
		return &service.SubmitOrderResult{Order: o, OrderNumber: 1, Total: o.Total}, nil
	}}
	h := handler.NewOrderHandler(svc, &mockOrderManager{}, zap.NewNop())
	r := chi.NewRouter()
	r.Use(middleware.RequireClientID)
	h.RegisterCustomerRoutes(r, middleware.NewClientRateLimiter(1).Limit)

	if rr := doRequest(t, r, "POST", "/orders", map[string]string{}); rr.Code != http.StatusCreated {
		t.Fatalf("first submit: got %d", rr.Code)
	}
	if rr := doRequest(t, r, "POST", "/orders", map[string]string{}); rr.Code != http.StatusTooManyRequests {
		t.Errorf("second submit: got %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
}

// --- Customer reads and cancel ---

func TestOrderListMine(t *testing.T) {
	svc := &mockOrderService{listFn: func(_ context.Context, clientID string) ([]database.Order, error) {
		if clientID != testClientID {
			t.Errorf("client ID: got %q", clientID)
		}
		return []database.Order{testOrder(2, database.OrderStatusPREPARING), testOrder(1, database.OrderStatusCOMPLETED)}, nil
	}}
	rr := doRequest(t, setupOrderRouter(svc, &mockOrderManager{}), "GET", "/orders/mine", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp["count"] != float64(2) {
		t.Errorf("count: got %v, want 2", resp["count"])
	}
}

func TestOrderCancelMine(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"ok", "/orders/mine/3/cancel", nil, http.StatusOK},
		{"bad number", "/orders/mine/abc/cancel", nil, http.StatusBadRequest},
		{"not owned", "/orders/mine/3/cancel", service.ErrOrderNotOwned, http.StatusNotFound},
		{"already preparing", "/orders/mine/3/cancel", &ordersync.TransitionError{
			From: database.OrderStatusPREPARING, To: database.OrderStatusCANCELLED, Actor: ordersync.Customer,
		}, http.StatusUnprocessableEntity},
		{"raced", "/orders/mine/3/cancel", ordersync.ErrConflict, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{cancelFn: func(_ context.Context, _ string, n int32) (database.Order, error) {
				if tt.err != nil {
					return database.Order{}, tt.err
				}
				return testOrder(n, database.OrderStatusCANCELLED), nil
			}}
			rr := doRequest(t, setupOrderRouter(svc, &mockOrderManager{}), "POST", tt.path, nil)
			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d; body: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

// --- Staff ---

func TestOrderList_ParsesFilters(t *testing.T) {
	var got ordersync.Query
	mgr := &mockOrderManager{snapshotFn: func(_ context.Context, q ordersync.Query) ([]database.Order, error) {
		got = q
		return []database.Order{}, nil
	}}
	router := setupOrderRouter(&mockOrderService{}, mgr)

	rr := doRequest(t, router, "GET", "/orders?status=pending,completed&start_date=2026-04-01&end_date=2026-04-02", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d; body: %s", rr.Code, rr.Body.String())
	}
	if len(got.Statuses) != 2 || got.Statuses[0] != database.OrderStatusPENDING || got.Statuses[1] != database.OrderStatusCOMPLETED {
		t.Errorf("statuses: got %v", got.Statuses)
	}
	if !got.From.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from: got %v", got.From)
	}
	if !got.To.Equal(time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to (exclusive): got %v", got.To)
	}

	doRequest(t, router, "GET", "/orders?status=active", nil)
	if len(got.Statuses) != 2 || got.Statuses[1] != database.OrderStatusPREPARING {
		t.Errorf("active statuses: got %v", got.Statuses)
	}

	for _, path := range []string{
		"/orders?status=served",
		"/orders?start_date=01-04-2026",
		"/orders?start_date=2026-04-05&end_date=2026-04-01",
	} {
		if rr := doRequest(t, router, "GET", path, nil); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want %d", path, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestOrderGet_NotFound(t *testing.T) {
	mgr := &mockOrderManager{getFn: func(context.Context, uuid.UUID) (database.Order, error) {
		return database.Order{}, ordersync.ErrOrderNotFound
	}}
	router := setupOrderRouter(&mockOrderService{}, mgr)

	if rr := doRequest(t, router, "GET", "/orders/"+uuid.New().String(), nil); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
	if rr := doRequest(t, router, "GET", "/orders/not-a-uuid", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestOrderUpdateStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"invalid status", ordersync.ErrInvalidStatus, http.StatusBadRequest},
		{"invalid transition", &ordersync.TransitionError{
			From: database.OrderStatusCOMPLETED, To: database.OrderStatusPENDING, Actor: ordersync.Staff,
		}, http.StatusUnprocessableEntity},
		{"conflict", ordersync.ErrConflict, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := &mockOrderManager{updateStatusFn: func(_ context.Context, _ uuid.UUID, status database.OrderStatus, actor ordersync.Actor) (database.Order, error) {
				if actor != ordersync.Staff {
					t.Errorf("actor: got %v, want staff", actor)
				}
				if tt.err != nil {
					return database.Order{}, tt.err
				}
				return testOrder(1, status), nil
			}}
			rr := doRequest(t, setupOrderRouter(&mockOrderService{}, mgr), "PATCH",
				"/orders/"+uuid.New().String()+"/status", map[string]string{"status": "preparing"})
			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestOrderUpdate_BuildsPatch(t *testing.T) {
	var got ordersync.OrderPatch
	mgr := &mockOrderManager{updateOrderFn: func(_ context.Context, _ uuid.UUID, patch ordersync.OrderPatch) (database.Order, error) {
		got = patch
		return testOrder(1, database.OrderStatusPENDING), nil
	}}
	router := setupOrderRouter(&mockOrderService{}, mgr)

	rr := doRequest(t, router, "PATCH", "/orders/"+uuid.New().String(), map[string]interface{}{
		"items": []map[string]interface{}{
			{"id": "p1", "name": "Burger", "price": "12.50", "quantity": 2, "note": "rare"},
		},
		"version": 4,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d; body: %s", rr.Code, rr.Body.String())
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 || !got.Items[0].Price.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("items: got %+v", got.Items)
	}
	if got.Total != nil || got.Status != nil {
		t.Errorf("unset fields must stay nil: total=%v status=%v", got.Total, got.Status)
	}
	if got.ExpectedVersion != 4 {
		t.Errorf("expected version: got %d, want 4", got.ExpectedVersion)
	}

	rr = doRequest(t, router, "PATCH", "/orders/"+uuid.New().String(), map[string]interface{}{"total": "abc"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad total: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestOrderUpdate_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ordersync.ErrOrderClosed, http.StatusUnprocessableEntity},
		{ordersync.ErrConflict, http.StatusConflict},
		{ordersync.ErrInvalidPatch, http.StatusBadRequest},
		{ordersync.ErrOrderNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			mgr := &mockOrderManager{updateOrderFn: func(context.Context, uuid.UUID, ordersync.OrderPatch) (database.Order, error) {
				return database.Order{}, tt.err
			}}
			rr := doRequest(t, setupOrderRouter(&mockOrderService{}, mgr), "PATCH",
				"/orders/"+uuid.New().String(), map[string]string{"status": "completed"})
			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
