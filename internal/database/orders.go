package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// OrdersChangedChannel is the NOTIFY channel fed by the orders trigger.
const OrdersChangedChannel = "orders_changed"

// orderNumberLockKey serialises order number assignment across transactions.
const orderNumberLockKey int64 = 0x6f72646572 // "order"

const orderColumns = `id, order_number, status, order_type, table_number, payment_method,
	total, items, version, created_at, updated_at, completed_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o           Order
		status      string
		orderType   string
		payment     string
		total       pgtype.Numeric
		items       []byte
		completedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&status,
		&orderType,
		&o.TableNumber,
		&payment,
		&total,
		&items,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return Order{}, err
	}
	o.Status = OrderStatus(status)
	o.OrderType = OrderType(orderType)
	o.PaymentMethod = PaymentMethod(payment)
	o.Total = NumericToDecimal(total)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return Order{}, fmt.Errorf("decode items of order %d: %w", o.OrderNumber, err)
		}
	}
	if o.Items == nil {
		o.Items = []OrderItem{}
	}
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// LockOrderNumbers takes a transaction-scoped advisory lock so that only one
// transaction at a time can read MAX(order_number) and insert.
func (q *Queries) LockOrderNumbers(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, orderNumberLockKey)
	return err
}

// GetNextOrderNumber returns MAX(order_number)+1, or 1 when no order exists.
func (q *Queries) GetNextOrderNumber(ctx context.Context) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, `SELECT COALESCE(MAX(order_number), 0) + 1 FROM orders`).Scan(&n)
	return n, err
}

type CreateOrderParams struct {
	OrderNumber   int32
	OrderType     OrderType
	TableNumber   string
	PaymentMethod PaymentMethod
	Total         decimal.Decimal
	Items         []OrderItem
	CreatedAt     time.Time
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	items, err := json.Marshal(arg.Items)
	if err != nil {
		return Order{}, fmt.Errorf("encode items: %w", err)
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO orders (order_number, status, order_type, table_number, payment_method, total, items, created_at, updated_at)
		VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+orderColumns,
		arg.OrderNumber,
		string(arg.OrderType),
		arg.TableNumber,
		string(arg.PaymentMethod),
		DecimalToNumeric(arg.Total),
		items,
		arg.CreatedAt,
	)
	return scanOrder(row)
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (q *Queries) GetOrderByNumber(ctx context.Context, orderNumber int32) (Order, error) {
	row := q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
	return scanOrder(row)
}

// ListOrdersParams filters ListOrders. Nil slices and invalid timestamps
// disable the corresponding filter. EndDate is exclusive.
type ListOrdersParams struct {
	Statuses     []string
	OrderNumbers []int32
	StartDate    pgtype.Timestamptz
	EndDate      pgtype.Timestamptz
}

// ListOrders returns matching orders, newest first.
func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::text[] IS NULL OR status = ANY($1::text[]))
		  AND ($2::int[] IS NULL OR order_number = ANY($2::int[]))
		  AND ($3::timestamptz IS NULL OR created_at >= $3::timestamptz)
		  AND ($4::timestamptz IS NULL OR created_at < $4::timestamptz)
		ORDER BY created_at DESC, order_number DESC`,
		arg.Statuses,
		arg.OrderNumbers,
		arg.StartDate,
		arg.EndDate,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

type UpdateOrderStatusParams struct {
	ID          uuid.UUID
	Status      OrderStatus
	PrevStatus  OrderStatus
	CompletedAt pgtype.Timestamptz
}

// UpdateOrderStatus only writes when the row still has PrevStatus; a lost
// race surfaces as pgx.ErrNoRows.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders
		SET status = $2,
		    completed_at = COALESCE($4::timestamptz, completed_at),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+orderColumns,
		arg.ID,
		string(arg.Status),
		string(arg.PrevStatus),
		arg.CompletedAt,
	)
	return scanOrder(row)
}

// UpdateOrderParams is a partial update. Nil Items, invalid Total/Status and
// CompletedAt keep the stored value. Version 0 skips the version check.
type UpdateOrderParams struct {
	ID          uuid.UUID
	Items       []OrderItem
	Total       pgtype.Numeric
	Status      pgtype.Text
	CompletedAt pgtype.Timestamptz
	PrevStatus  OrderStatus
	Version     int32
}

func (q *Queries) UpdateOrder(ctx context.Context, arg UpdateOrderParams) (Order, error) {
	var items []byte
	if arg.Items != nil {
		b, err := json.Marshal(arg.Items)
		if err != nil {
			return Order{}, fmt.Errorf("encode items: %w", err)
		}
		items = b
	}
	row := q.db.QueryRow(ctx, `
		UPDATE orders
		SET items = COALESCE($2::jsonb, items),
		    total = COALESCE($3::numeric, total),
		    status = COALESCE($4::text, status),
		    completed_at = COALESCE($5::timestamptz, completed_at),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND status = $6 AND ($7::int = 0 OR version = $7::int)
		RETURNING `+orderColumns,
		arg.ID,
		items,
		arg.Total,
		arg.Status,
		arg.CompletedAt,
		string(arg.PrevStatus),
		arg.Version,
	)
	return scanOrder(row)
}
