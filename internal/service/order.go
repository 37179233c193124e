package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comanda-pos/api/internal/cart"
	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/events"
	"github.com/comanda-pos/api/internal/ordersync"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxOrderNumberRetries = 3

// TablePlaceholder is stored as the table of orders that are not dine-in.
const TablePlaceholder = "N/A"

var paypalSurcharge = decimal.RequireFromString("1.02")

// Errors returned by the order service.
var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrTableRequired        = errors.New("table_number is required for dine_in orders")
	ErrInvalidOrderType     = errors.New("invalid order_type")
	ErrInvalidPaymentMethod = errors.New("invalid payment_method")
	ErrOrderNotOwned        = errors.New("order was not placed by this client")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed to create orders.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	LockOrderNumbers(ctx context.Context) error
	GetNextOrderNumber(ctx context.Context) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// Carts is satisfied by *cart.Store.
type Carts interface {
	Get(ctx context.Context, clientID string) (cart.Cart, error)
	RemoveOrdered(ctx context.Context, clientID string, ordered []cart.Item) error
}

// OrderIndex is satisfied by *clientstate.OrderIndex.
type OrderIndex interface {
	OrderNumbers(ctx context.Context, clientID string) ([]int32, error)
	Append(ctx context.Context, clientID string, n int32) error
	Contains(ctx context.Context, clientID string, n int32) (bool, error)
}

// Notifier is satisfied by *notification.Registry.
type Notifier interface {
	OrderSubmitted(ctx context.Context, clientID string) error
}

// Orders is satisfied by *ordersync.Sync.
type Orders interface {
	Snapshot(ctx context.Context, q ordersync.Query) ([]database.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status database.OrderStatus, actor ordersync.Actor) (database.Order, error)
}

// Deps are the collaborators of OrderService besides the database.
type Deps struct {
	Carts     Carts
	Index     OrderIndex
	Orders    Orders
	Notifier  Notifier
	Publisher events.Publisher
	Logger    *zap.Logger
}

// SubmitOrderRequest is a checkout of the client's current cart.
type SubmitOrderRequest struct {
	ClientID      string
	OrderType     string
	TableNumber   string
	PaymentMethod string
}

type SubmitOrderResult struct {
	Order       database.Order
	OrderNumber int32
	Total       decimal.Decimal
}

// OrderService handles order business logic.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
	deps     Deps
	now      func() time.Time
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, deps Deps) *OrderService {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &OrderService{pool: pool, newStore: newStore, deps: deps, now: time.Now}
}

// SubmitOrder turns the client's cart into a pending order. Validation
// failures and persistence errors leave the cart untouched. Once the order is
// committed, failures of the follow-up steps are logged only.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*SubmitOrderResult, error) {
	// --- Validate ---
	orderType := database.OrderType(req.OrderType)
	if !orderType.Valid() {
		return nil, ErrInvalidOrderType
	}
	payment := database.PaymentMethod(req.PaymentMethod)
	if !payment.Valid() {
		return nil, ErrInvalidPaymentMethod
	}

	c, err := s.deps.Carts.Get(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if c.IsEmpty() {
		return nil, ErrEmptyCart
	}

	table := strings.TrimSpace(req.TableNumber)
	if orderType == database.OrderTypeDINEIN && table == "" {
		return nil, ErrTableRequired
	}
	if table == "" {
		table = TablePlaceholder
	}

	// --- Build order params ---
	params := database.CreateOrderParams{
		OrderType:     orderType,
		TableNumber:   table,
		PaymentMethod: payment,
		Total:         OrderTotal(c.Total(), payment),
		Items:         snapshotItems(c.Items),
		CreatedAt:     s.now(),
	}

	// Retry loop: a concurrent insert can still take the number if the
	// advisory lock is bypassed by another writer.
	var (
		order   database.Order
		lastErr error
	)
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		order, err = s.createOrderTx(ctx, params)
		if err == nil {
			lastErr = nil
			break
		}
		if !isOrderNumberConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}

	s.afterCommit(ctx, req.ClientID, order, c.Items)

	return &SubmitOrderResult{
		Order:       order,
		OrderNumber: order.OrderNumber,
		Total:       order.Total,
	}, nil
}

// createOrderTx assigns the next order number and inserts in one transaction.
func (s *OrderService) createOrderTx(ctx context.Context, params database.CreateOrderParams) (database.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if err := store.LockOrderNumbers(ctx); err != nil {
		return database.Order{}, fmt.Errorf("lock order numbers: %w", err)
	}
	next, err := store.GetNextOrderNumber(ctx)
	if err != nil {
		return database.Order{}, fmt.Errorf("get next order number: %w", err)
	}
	params.OrderNumber = next

	order, err := store.CreateOrder(ctx, params)
	if err != nil {
		return database.Order{}, fmt.Errorf("create order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.Order{}, fmt.Errorf("commit tx: %w", err)
	}
	return order, nil
}

// afterCommit runs the follow-up steps. Only the ordered lines leave the
// cart, so items added while the order was being written are kept.
func (s *OrderService) afterCommit(ctx context.Context, clientID string, order database.Order, ordered []cart.Item) {
	log := s.deps.Logger.With(zap.String("client_id", clientID), zap.Int32("order_number", order.OrderNumber))

	if err := s.deps.Index.Append(ctx, clientID, order.OrderNumber); err != nil {
		log.Error("record order in client index", zap.Error(err))
	}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.OrderSubmitted(ctx, clientID); err != nil {
			log.Error("refresh notifications", zap.Error(err))
		}
	}
	if err := s.deps.Carts.RemoveOrdered(ctx, clientID, ordered); err != nil {
		log.Error("clear cart", zap.Error(err))
	}

	err := s.deps.Publisher.Publish(ctx, events.Event{
		Type:        events.OrderCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Total:       order.Total.StringFixed(2),
		At:          order.CreatedAt,
	})
	if err != nil {
		log.Warn("publish order event", zap.Error(err))
	}

	log.Info("order submitted",
		zap.String("order_type", string(order.OrderType)),
		zap.String("total", order.Total.StringFixed(2)),
	)
}

// ListClientOrders returns the orders the client placed, newest first.
func (s *OrderService) ListClientOrders(ctx context.Context, clientID string) ([]database.Order, error) {
	numbers, err := s.deps.Index.OrderNumbers(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("read order index: %w", err)
	}
	if len(numbers) == 0 {
		return []database.Order{}, nil
	}
	return s.deps.Orders.Snapshot(ctx, ordersync.Query{OrderNumbers: numbers})
}

// CancelOrder cancels one of the client's own orders while it is pending.
func (s *OrderService) CancelOrder(ctx context.Context, clientID string, orderNumber int32) (database.Order, error) {
	owned, err := s.deps.Index.Contains(ctx, clientID, orderNumber)
	if err != nil {
		return database.Order{}, fmt.Errorf("read order index: %w", err)
	}
	if !owned {
		return database.Order{}, ErrOrderNotOwned
	}

	orders, err := s.deps.Orders.Snapshot(ctx, ordersync.Query{OrderNumbers: []int32{orderNumber}})
	if err != nil {
		return database.Order{}, err
	}
	if len(orders) == 0 {
		return database.Order{}, ordersync.ErrOrderNotFound
	}
	return s.deps.Orders.UpdateStatus(ctx, orders[0].ID, database.OrderStatusCANCELLED, ordersync.Customer)
}

// --- Helpers ---

// OrderTotal applies the PayPal surcharge to a cart total, rounded to cents.
func OrderTotal(subtotal decimal.Decimal, payment database.PaymentMethod) decimal.Decimal {
	if payment == database.PaymentMethodPAYPAL {
		return subtotal.Mul(paypalSurcharge).Round(2)
	}
	return subtotal.Round(2)
}

func snapshotItems(items []cart.Item) []database.OrderItem {
	out := make([]database.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, database.OrderItem{
			ID:       it.ID,
			Name:     it.Name,
			Price:    it.Price,
			Quantity: it.Quantity,
			Note:     it.Note,
		})
	}
	return out
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_number_key"
	}
	return false
}
