package cart

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/comanda-pos/api/internal/clientstate"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	taco   = Product{ID: "taco", Name: "Taco", Price: decimal.RequireFromString("3.50")}
	burger = Product{ID: "burger", Name: "Burger", Price: decimal.RequireFromString("9.25")}
)

func newTestStore() *Store {
	return NewStore(clientstate.NewMemory())
}

func TestAddIncrementsExistingLine(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.Add(ctx, "c1", taco)
	require.NoError(t, err)
	c, err := s.Add(ctx, "c1", taco)
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assert.Equal(t, int32(2), c.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("7.00").Equal(c.Total()))
}

func TestAddRejectsInvalidProduct(t *testing.T) {
	s := newTestStore()
	_, err := s.Add(context.Background(), "c1", Product{ID: "", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = s.Add(context.Background(), "c1", Product{ID: "x", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestDecrease(t *testing.T) {
	ctx := context.Background()

	t.Run("from one removes the item", func(t *testing.T) {
		s := newTestStore()
		_, err := s.Add(ctx, "c1", taco)
		require.NoError(t, err)

		c, err := s.Decrease(ctx, "c1", taco.ID)
		require.NoError(t, err)
		assert.Empty(t, c.Items)
	})

	t.Run("from n keeps n-1", func(t *testing.T) {
		s := newTestStore()
		for i := 0; i < 3; i++ {
			_, err := s.Add(ctx, "c1", taco)
			require.NoError(t, err)
		}

		c, err := s.Decrease(ctx, "c1", taco.ID)
		require.NoError(t, err)
		require.Len(t, c.Items, 1)
		assert.Equal(t, int32(2), c.Items[0].Quantity)
	})

	t.Run("unknown item", func(t *testing.T) {
		s := newTestStore()
		_, err := s.Decrease(ctx, "c1", "nope")
		assert.ErrorIs(t, err, ErrItemNotFound)
	})
}

func TestNoteDoesNotChangeTotal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	_, err := s.Add(ctx, "c1", burger)
	require.NoError(t, err)

	c, err := s.UpdateNote(ctx, "c1", burger.ID, "no onions")
	require.NoError(t, err)
	assert.Equal(t, "no onions", c.Items[0].Note)
	assert.True(t, burger.Price.Equal(c.Total()))

	_, err = s.UpdateNote(ctx, "c1", "nope", "x")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	_, err := s.Add(ctx, "c1", taco)
	require.NoError(t, err)
	_, err = s.Add(ctx, "c1", burger)
	require.NoError(t, err)

	c, err := s.Remove(ctx, "c1", taco.ID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, burger.ID, c.Items[0].ID)

	require.NoError(t, s.Clear(ctx, "c1"))
	c, err = s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestRemoveOrdered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	for i := 0; i < 3; i++ {
		_, err := s.Add(ctx, "c1", taco)
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, "c1", burger)
	require.NoError(t, err)
	ordered := []Item{{ID: "taco", Quantity: 2}, {ID: "burger", Quantity: 1}}

	require.NoError(t, s.RemoveOrdered(ctx, "c1", ordered))
	c, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "taco", c.Items[0].ID)
	assert.Equal(t, int32(1), c.Items[0].Quantity)

	require.NoError(t, s.RemoveOrdered(ctx, "c1", []Item{{ID: "taco", Quantity: 1}, {ID: "gone", Quantity: 1}}))
	c, err = s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestCartsAreScopedPerClient(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	_, err := s.Add(ctx, "c1", taco)
	require.NoError(t, err)

	c, err := s.Get(ctx, "c2")
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestCartSurvivesNewStoreOverSameState(t *testing.T) {
	ctx := context.Background()
	state := clientstate.NewMemory()
	_, err := NewStore(state).Add(ctx, "c1", taco)
	require.NoError(t, err)

	restarted := NewStore(state)
	c, err := restarted.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)

	_, ok := restarted.LastAdded("c1")
	assert.False(t, ok, "last-added marker is not persisted")
}

func TestLastAdded(t *testing.T) {
	s := newTestStore()
	fixed := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Add(context.Background(), "c1", taco)
	require.NoError(t, err)

	got, ok := s.LastAdded("c1")
	require.True(t, ok)
	assert.Equal(t, fixed, got)
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	products := []Product{taco, burger, {ID: "soda", Name: "Soda", Price: decimal.RequireFromString("1.99")}}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		p := products[rng.Intn(len(products))]
		var err error
		switch rng.Intn(4) {
		case 0:
			_, err = s.Add(ctx, "c1", p)
		case 1:
			_, err = s.Increase(ctx, "c1", p.ID)
		case 2:
			_, err = s.Decrease(ctx, "c1", p.ID)
		case 3:
			_, err = s.Remove(ctx, "c1", p.ID)
		}
		if err != nil {
			require.ErrorIs(t, err, ErrItemNotFound)
		}

		c, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		want := decimal.Zero
		seen := map[string]bool{}
		for _, it := range c.Items {
			require.Greater(t, it.Quantity, int32(0))
			require.False(t, seen[it.ID], "duplicate line %s", it.ID)
			seen[it.ID] = true
			want = want.Add(it.Price.Mul(decimal.NewFromInt32(it.Quantity)))
		}
		require.True(t, want.Equal(c.Total()))
	}
}
