package ordersync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/events"
	"github.com/comanda-pos/api/internal/ordersync/ordersynctest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	ch chan events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.ch <- e
	return nil
}

func startSync(t *testing.T, store *ordersynctest.Store) *Sync {
	t.Helper()
	s := New(store, store, nil, zap.NewNop())
	s.retry = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.loaded
	}, time.Second, 5*time.Millisecond)
	return s
}

func order(n int32, status database.OrderStatus, createdAt time.Time) database.Order {
	return database.Order{
		OrderNumber:   n,
		Status:        status,
		OrderType:     database.OrderTypeDINEIN,
		TableNumber:   "1",
		PaymentMethod: database.PaymentMethodCASH,
		Total:         decimal.NewFromInt(10),
		Items:         []database.OrderItem{{ID: "p", Name: "Pasta", Price: decimal.NewFromInt(10), Quantity: 1}},
		CreatedAt:     createdAt,
	}
}

// next waits for the next snapshot on sub.
func next(t *testing.T, sub *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-sub.Updates():
		require.True(t, ok, "subscription ended: %v", sub.Err())
		return snap
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
		return Snapshot{}
	}
}

func TestSubscribeDeliversNewestFirstSnapshot(t *testing.T) {
	store := ordersynctest.New()
	base := time.Now()
	store.Add(order(1, database.OrderStatusPENDING, base.Add(-2*time.Minute)))
	store.Add(order(2, database.OrderStatusPENDING, base.Add(-time.Minute)))
	s := startSync(t, store)

	sub, err := s.Subscribe(context.Background(), Query{})
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	require.Len(t, snap.Orders, 2)
	assert.Equal(t, int32(2), snap.Orders[0].OrderNumber)
	assert.Equal(t, int32(1), snap.Orders[1].OrderNumber)
}

func TestChangesFanOutFullSnapshots(t *testing.T) {
	store := ordersynctest.New()
	s := startSync(t, store)

	kitchen, err := s.Subscribe(context.Background(), Query{})
	require.NoError(t, err)
	defer kitchen.Close()
	waiter, err := s.Subscribe(context.Background(), ActiveQuery())
	require.NoError(t, err)
	defer waiter.Close()
	next(t, kitchen)
	next(t, waiter)

	o := store.Add(order(1, database.OrderStatusPENDING, time.Now()))
	require.Eventually(t, func() bool {
		snap, _ := kitchen.Latest()
		return len(snap.Orders) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = s.UpdateStatus(context.Background(), o.ID, database.OrderStatusPREPARING, Staff)
	require.NoError(t, err)
	_, err = s.UpdateStatus(context.Background(), o.ID, database.OrderStatusCOMPLETED, Staff)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		k, _ := kitchen.Latest()
		w, _ := waiter.Latest()
		return len(k.Orders) == 1 && k.Orders[0].Status == database.OrderStatusCOMPLETED && len(w.Orders) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSubscriptionKeepsOnlyLatest(t *testing.T) {
	store := ordersynctest.New()
	s := startSync(t, store)

	sub, err := s.Subscribe(context.Background(), Query{})
	require.NoError(t, err)
	defer sub.Close()

	for i := int32(1); i <= 5; i++ {
		store.Add(order(i, database.OrderStatusPENDING, time.Now()))
	}
	require.Eventually(t, func() bool {
		snap, _ := sub.Latest()
		return len(snap.Orders) == 5
	}, time.Second, 5*time.Millisecond)

	// Nothing was read yet, so the first read is already the newest snapshot.
	snap := next(t, sub)
	assert.Len(t, snap.Orders, 5)
	select {
	case later := <-sub.Updates():
		assert.Greater(t, later.Seq, snap.Seq)
	default:
	}
}

func TestFeedFailureEndsSubscriptionsAndRecovers(t *testing.T) {
	store := ordersynctest.New()
	store.Add(order(1, database.OrderStatusPENDING, time.Now()))
	s := startSync(t, store)

	sub, err := s.Subscribe(context.Background(), Query{})
	require.NoError(t, err)
	first := next(t, sub)

	boom := errors.New("connection reset")
	store.Break(boom)

	require.Eventually(t, func() bool { return sub.Err() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, sub.Err(), boom)
	frozen, ok := sub.Latest()
	require.True(t, ok)
	assert.Equal(t, first.Seq, frozen.Seq)

	store.Add(order(2, database.OrderStatusPENDING, time.Now()))
	frozen, _ = sub.Latest()
	assert.Len(t, frozen.Orders, 1, "failed subscription must not receive updates")

	again, err := s.Subscribe(context.Background(), Query{})
	require.NoError(t, err)
	defer again.Close()
	require.Eventually(t, func() bool {
		snap, _ := again.Latest()
		return len(snap.Orders) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	store := ordersynctest.New()
	s := startSync(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.Subscribe(ctx, Query{})
	require.NoError(t, err)
	next(t, sub)

	cancel()
	select {
	case _, open := <-sub.Updates():
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	assert.NoError(t, sub.Err())

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subs) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeBeforeFirstLoadReadsStore(t *testing.T) {
	store := ordersynctest.New()
	store.Add(order(4, database.OrderStatusPENDING, time.Now()))
	store.Add(order(5, database.OrderStatusCOMPLETED, time.Now()))
	s := New(store, store, nil, zap.NewNop())

	sub, err := s.Subscribe(context.Background(), Query{OrderNumbers: []int32{4}})
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, int32(4), snap.Orders[0].OrderNumber)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("full lifecycle is reachable", func(t *testing.T) {
		store := ordersynctest.New()
		pub := &recordingPublisher{ch: make(chan events.Event, 4)}
		s := New(store, store, pub, zap.NewNop())
		o := store.Add(order(1, database.OrderStatusPENDING, time.Now()))

		got, err := s.UpdateStatus(ctx, o.ID, database.OrderStatusPREPARING, Staff)
		require.NoError(t, err)
		assert.Nil(t, got.CompletedAt)

		got, err = s.UpdateStatus(ctx, o.ID, database.OrderStatusCOMPLETED, Staff)
		require.NoError(t, err)
		assert.Equal(t, database.OrderStatusCOMPLETED, got.Status)
		assert.NotNil(t, got.CompletedAt)

		e := <-pub.ch
		assert.Equal(t, events.OrderStatusChanged, e.Type)
		assert.Equal(t, "preparing", e.Status)
	})

	t.Run("terminal orders reject every transition", func(t *testing.T) {
		store := ordersynctest.New()
		s := New(store, store, nil, zap.NewNop())
		done := store.Add(order(1, database.OrderStatusCOMPLETED, time.Now()))
		cancelled := store.Add(order(2, database.OrderStatusCANCELLED, time.Now()))

		for _, to := range []database.OrderStatus{
			database.OrderStatusPENDING, database.OrderStatusPREPARING,
			database.OrderStatusCOMPLETED, database.OrderStatusCANCELLED,
		} {
			_, err := s.UpdateStatus(ctx, done.ID, to, Staff)
			assert.ErrorIs(t, err, ErrInvalidTransition, "completed -> %s", to)
			_, err = s.UpdateStatus(ctx, cancelled.ID, to, Staff)
			assert.ErrorIs(t, err, ErrInvalidTransition, "cancelled -> %s", to)
		}

		var te *TransitionError
		_, err := s.UpdateStatus(ctx, done.ID, database.OrderStatusCANCELLED, Staff)
		require.True(t, errors.As(err, &te))
		assert.Equal(t, database.OrderStatusCOMPLETED, te.From)
	})

	t.Run("customers may only cancel pending orders", func(t *testing.T) {
		store := ordersynctest.New()
		s := New(store, store, nil, zap.NewNop())
		pending := store.Add(order(1, database.OrderStatusPENDING, time.Now()))
		preparing := store.Add(order(2, database.OrderStatusPREPARING, time.Now()))

		_, err := s.UpdateStatus(ctx, pending.ID, database.OrderStatusPREPARING, Customer)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = s.UpdateStatus(ctx, preparing.ID, database.OrderStatusCANCELLED, Customer)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		got, err := s.UpdateStatus(ctx, pending.ID, database.OrderStatusCANCELLED, Customer)
		require.NoError(t, err)
		assert.Equal(t, database.OrderStatusCANCELLED, got.Status)
	})

	t.Run("unknown order and status", func(t *testing.T) {
		store := ordersynctest.New()
		s := New(store, store, nil, zap.NewNop())
		o := store.Add(order(1, database.OrderStatusPENDING, time.Now()))

		_, err := s.UpdateStatus(ctx, o.ID, "ready", Staff)
		assert.ErrorIs(t, err, ErrInvalidStatus)
		_, err = s.UpdateStatus(ctx, uuid.New(), database.OrderStatusPREPARING, Staff)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestUpdateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("items without total recompute total", func(t *testing.T) {
		store := ordersynctest.New()
		s := New(store, store, nil, zap.NewNop())
		o := store.Add(order(1, database.OrderStatusPENDING, time.Now()))

		got, err := s.UpdateOrder(ctx, o.ID, OrderPatch{Items: []database.OrderItem{
			{ID: "a", Name: "Soup", Price: decimal.RequireFromString("4.50"), Quantity: 2},
			{ID: "b", Name: "Bread", Price: decimal.RequireFromString("1.25"), Quantity: 1},
		}})
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("10.25").Equal(got.Total))
		assert.Len(t, got.Items, 2)
		assert.Equal(t, o.Version+1, got.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		store := ordersynctest.New()
		s := New(store, store, nil, zap.NewNop())
		o := store.Add(order(1, database.OrderStatusPENDING, time.Now()))
		total := decimal.NewFromInt(12)

		_, err := s.UpdateOrder(ctx, o.ID, OrderPatch{Total: &total, ExpectedVersion: o.Version})
		require.NoError(t, err)
		_, err = s.UpdateOrder(ctx, o.ID, OrderPatch{Total: &total, ExpectedVersion: o.Version})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("closed orders are read-only", func(t *testing.T) {
		store := ordersynctest.New()
		s := New(store, store, nil, zap.NewNop())
		o := store.Add(order(1, database.OrderStatusCOMPLETED, time.Now()))
		total := decimal.NewFromInt(1)

		_, err := s.UpdateOrder(ctx, o.ID, OrderPatch{Total: &total})
		assert.ErrorIs(t, err, ErrOrderClosed)
	})

	t.Run("status in patch is validated", func(t *testing.T) {
		store := ordersynctest.New()
		s := New(store, store, nil, zap.NewNop())
		o := store.Add(order(1, database.OrderStatusPENDING, time.Now()))
		completed := database.OrderStatusCOMPLETED

		_, err := s.UpdateOrder(ctx, o.ID, OrderPatch{Status: &completed})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("invalid items", func(t *testing.T) {
		store := ordersynctest.New()
		s := New(store, store, nil, zap.NewNop())
		o := store.Add(order(1, database.OrderStatusPENDING, time.Now()))

		_, err := s.UpdateOrder(ctx, o.ID, OrderPatch{Items: []database.OrderItem{{ID: "a", Quantity: 0}}})
		assert.ErrorIs(t, err, ErrInvalidPatch)
	})
}

func TestQueryMatches(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	o := order(7, database.OrderStatusPREPARING, now)

	assert.True(t, Query{}.Matches(o))
	assert.True(t, ActiveQuery().Matches(o))
	assert.False(t, Query{Statuses: []database.OrderStatus{database.OrderStatusCOMPLETED}}.Matches(o))
	assert.True(t, Query{OrderNumbers: []int32{3, 7}}.Matches(o))
	assert.False(t, Query{OrderNumbers: []int32{3}}.Matches(o))
	assert.True(t, Query{From: now, To: now.Add(time.Hour)}.Matches(o))
	assert.False(t, Query{To: now}.Matches(o), "To is exclusive")
	assert.False(t, Query{From: now.Add(time.Second)}.Matches(o))
}

func TestFilterHelpers(t *testing.T) {
	now := time.Now()
	orders := []database.Order{
		order(1, database.OrderStatusPENDING, now),
		order(2, database.OrderStatusPREPARING, now),
		order(3, database.OrderStatusCOMPLETED, now),
		order(4, database.OrderStatusCANCELLED, now),
	}
	assert.Equal(t, 2, CountActive(orders))
	pending := FilterByStatus(orders, database.OrderStatusPENDING)
	require.Len(t, pending, 1)
	assert.Equal(t, int32(1), pending[0].OrderNumber)
}

func TestParseStatusFilter(t *testing.T) {
	q, err := ParseStatusFilter("")
	require.NoError(t, err)
	assert.Empty(t, q.Statuses)

	q, err = ParseStatusFilter("all")
	require.NoError(t, err)
	assert.Empty(t, q.Statuses)

	q, err = ParseStatusFilter("active")
	require.NoError(t, err)
	assert.Equal(t, ActiveQuery(), q)

	q, err = ParseStatusFilter("completed, cancelled")
	require.NoError(t, err)
	assert.Equal(t, []database.OrderStatus{database.OrderStatusCOMPLETED, database.OrderStatusCANCELLED}, q.Statuses)

	_, err = ParseStatusFilter("completed,served")
	assert.ErrorIs(t, err, ErrInvalidStatusFilter)
}
