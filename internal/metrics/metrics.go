// Package metrics computes dashboard figures from a set of orders.
// Every figure is recomputed from scratch on each call.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/ordersync"
	"github.com/shopspring/decimal"
)

type DishCount struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

// DailyPoint aggregates one UTC calendar day.
type DailyPoint struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
	Dishes  int64           `json:"dishes"`
	Orders  int             `json:"orders"`
	Tables  int             `json:"tables"` // table services, one per order
}

// Trend compares the first and last day of the range for one figure.
type Trend struct {
	Metric    string  `json:"metric"`
	Delta     float64 `json:"delta"`
	Direction string  `json:"direction"` // gained, lost or stable
}

type Report struct {
	Revenue        decimal.Decimal            `json:"revenue"`
	DishCount      int64                      `json:"dish_count"`
	MostOrdered    []DishCount                `json:"most_ordered"`
	OrderTypes     map[database.OrderType]int `json:"order_types"`
	DistinctTables int                        `json:"distinct_tables"`
	OrderCount     int                        `json:"order_count"`
	Daily          []DailyPoint               `json:"daily"`
	Trends         []Trend                    `json:"trends"`
}

// Compute derives the report. Revenue counts completed orders only; the
// other figures include every order given.
func Compute(orders []database.Order) Report {
	r := Report{
		Revenue:     decimal.Zero,
		MostOrdered: []DishCount{},
		OrderTypes:  make(map[database.OrderType]int),
		OrderCount:  len(orders),
	}

	dishIndex := make(map[string]int)
	tables := make(map[string]struct{})
	days := make(map[string]*DailyPoint)

	for _, o := range orders {
		day := o.CreatedAt.UTC().Format(time.DateOnly)
		point, ok := days[day]
		if !ok {
			point = &DailyPoint{Date: day, Revenue: decimal.Zero}
			days[day] = point
		}
		point.Orders++
		point.Tables++

		if o.Status == database.OrderStatusCOMPLETED {
			r.Revenue = r.Revenue.Add(o.Total)
			point.Revenue = point.Revenue.Add(o.Total)
		}

		for _, it := range o.Items {
			q := int64(it.Quantity)
			r.DishCount += q
			point.Dishes += q
			i, seen := dishIndex[it.Name]
			if !seen {
				i = len(r.MostOrdered)
				dishIndex[it.Name] = i
				r.MostOrdered = append(r.MostOrdered, DishCount{Name: it.Name})
			}
			r.MostOrdered[i].Quantity += q
		}

		r.OrderTypes[o.OrderType]++

		if o.TableNumber != "" {
			tables[o.TableNumber] = struct{}{}
		}
	}

	sort.SliceStable(r.MostOrdered, func(i, j int) bool {
		return r.MostOrdered[i].Quantity > r.MostOrdered[j].Quantity
	})
	r.DistinctTables = len(tables)

	r.Daily = make([]DailyPoint, 0, len(days))
	for _, point := range days {
		r.Daily = append(r.Daily, *point)
	}
	sort.Slice(r.Daily, func(i, j int) bool { return r.Daily[i].Date < r.Daily[j].Date })
	r.Trends = trends(r.Daily)
	return r
}

func trends(daily []DailyPoint) []Trend {
	figures := []struct {
		name  string
		value func(DailyPoint) float64
	}{
		{"revenue", func(p DailyPoint) float64 { return p.Revenue.InexactFloat64() }},
		{"dishes", func(p DailyPoint) float64 { return float64(p.Dishes) }},
		{"tables", func(p DailyPoint) float64 { return float64(p.Tables) }},
		{"orders", func(p DailyPoint) float64 { return float64(p.Orders) }},
	}

	out := make([]Trend, 0, len(figures))
	for _, f := range figures {
		t := Trend{Metric: f.name, Direction: "stable"}
		if len(daily) > 0 {
			t.Delta = f.value(daily[len(daily)-1]) - f.value(daily[0])
		}
		switch {
		case t.Delta > 0:
			t.Direction = "gained"
		case t.Delta < 0:
			t.Direction = "lost"
		}
		out = append(out, t)
	}
	return out
}

// Filter is a dashboard selection: a creation date range and an optional
// single status ("" means all).
type Filter struct {
	From   time.Time
	To     time.Time
	Status database.OrderStatus
}

func (f Filter) Query() ordersync.Query {
	q := ordersync.Query{From: f.From, To: f.To}
	if f.Status != "" {
		q.Statuses = []database.OrderStatus{f.Status}
	}
	return q
}

// Subscriber opens live order queries. Satisfied by *ordersync.Sync.
type Subscriber interface {
	Subscribe(ctx context.Context, q ordersync.Query) (*ordersync.Subscription, error)
}

// Watch calls fn with a fresh report for every snapshot matching f until ctx
// ends or the subscription fails. The subscription error is returned.
func Watch(ctx context.Context, orders Subscriber, f Filter, fn func(Report)) error {
	sub, err := orders.Subscribe(ctx, f.Query())
	if err != nil {
		return err
	}
	defer sub.Close()

	for snap := range sub.Updates() {
		fn(Compute(snap.Orders))
	}
	return sub.Err()
}

const dateLayout = "2006-01-02"

// DefaultRange is the span used when no start date is given.
const DefaultRange = 30 * 24 * time.Hour

// ParseFilter reads YYYY-MM-DD dates in UTC. end is inclusive, so the
// returned To is midnight after it. Empty dates default to the last 30 days
// up to today; status "" or "all" selects every status.
func ParseFilter(start, end, status string, now time.Time) (Filter, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	f := Filter{
		From: today.Add(-DefaultRange),
		To:   today.AddDate(0, 0, 1),
	}

	if start != "" {
		t, err := time.ParseInLocation(dateLayout, start, time.UTC)
		if err != nil {
			return Filter{}, errors.New("invalid start_date format, use YYYY-MM-DD")
		}
		f.From = t
	}
	if end != "" {
		t, err := time.ParseInLocation(dateLayout, end, time.UTC)
		if err != nil {
			return Filter{}, errors.New("invalid end_date format, use YYYY-MM-DD")
		}
		f.To = t.AddDate(0, 0, 1)
	}
	if !f.From.Before(f.To) {
		return Filter{}, errors.New("start_date must not be after end_date")
	}

	if status != "" && status != "all" {
		s := database.OrderStatus(status)
		if !s.Valid() {
			return Filter{}, fmt.Errorf("invalid status %q", status)
		}
		f.Status = s
	}
	return f, nil
}
