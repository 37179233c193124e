package ordersync

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/jackc/pgx/v5/pgtype"
)

// Query selects orders by status, order number and creation time. Empty
// fields do not filter. To is exclusive.
type Query struct {
	Statuses     []database.OrderStatus
	OrderNumbers []int32
	From         time.Time
	To           time.Time
}

// ActiveQuery selects orders still being worked on, as the waiter panel shows them.
func ActiveQuery() Query {
	return Query{Statuses: []database.OrderStatus{database.OrderStatusPENDING, database.OrderStatusPREPARING}}
}

var ErrInvalidStatusFilter = errors.New("invalid status filter")

// ParseStatusFilter reads a status query parameter: a comma separated list
// of statuses, "active" for pending and preparing, or "" and "all" for no
// filter.
func ParseStatusFilter(s string) (Query, error) {
	switch s {
	case "", "all":
		return Query{}, nil
	case "active":
		return ActiveQuery(), nil
	}
	var q Query
	for _, part := range strings.Split(s, ",") {
		st := database.OrderStatus(strings.TrimSpace(part))
		if !st.Valid() {
			return Query{}, ErrInvalidStatusFilter
		}
		q.Statuses = append(q.Statuses, st)
	}
	return q, nil
}

func (q Query) Matches(o database.Order) bool {
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, o.Status) {
		return false
	}
	if len(q.OrderNumbers) > 0 && !slices.Contains(q.OrderNumbers, o.OrderNumber) {
		return false
	}
	if !q.From.IsZero() && o.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !o.CreatedAt.Before(q.To) {
		return false
	}
	return true
}

// Apply returns the matching orders, keeping their order.
func (q Query) Apply(orders []database.Order) []database.Order {
	out := make([]database.Order, 0, len(orders))
	for _, o := range orders {
		if q.Matches(o) {
			out = append(out, o)
		}
	}
	return out
}

func (q Query) params() database.ListOrdersParams {
	var p database.ListOrdersParams
	for _, s := range q.Statuses {
		p.Statuses = append(p.Statuses, string(s))
	}
	if len(q.OrderNumbers) > 0 {
		p.OrderNumbers = q.OrderNumbers
	}
	if !q.From.IsZero() {
		p.StartDate = pgtype.Timestamptz{Time: q.From, Valid: true}
	}
	if !q.To.IsZero() {
		p.EndDate = pgtype.Timestamptz{Time: q.To, Valid: true}
	}
	return p
}

// FilterByStatus derives a per-status tab from a full snapshot.
func FilterByStatus(orders []database.Order, status database.OrderStatus) []database.Order {
	return Query{Statuses: []database.OrderStatus{status}}.Apply(orders)
}

// CountActive counts pending and preparing orders.
func CountActive(orders []database.Order) int {
	n := 0
	for _, o := range orders {
		if o.Status == database.OrderStatusPENDING || o.Status == database.OrderStatusPREPARING {
			n++
		}
	}
	return n
}
