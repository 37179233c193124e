package clientstate

import (
	"context"
	"sync"
)

// OrderIndex is the per-client list of order numbers the client has placed.
type OrderIndex struct {
	store Store
	mu    sync.Mutex
}

func NewOrderIndex(store Store) *OrderIndex {
	return &OrderIndex{store: store}
}

// OrderNumbers returns the client's order numbers in submission order.
func (x *OrderIndex) OrderNumbers(ctx context.Context, clientID string) ([]int32, error) {
	var numbers []int32
	if _, err := x.store.Load(ctx, OrdersKey(clientID), &numbers); err != nil {
		return nil, err
	}
	return numbers, nil
}

// Append adds n to the index unless it is already listed.
func (x *OrderIndex) Append(ctx context.Context, clientID string, n int32) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	numbers, err := x.OrderNumbers(ctx, clientID)
	if err != nil {
		return err
	}
	for _, existing := range numbers {
		if existing == n {
			return nil
		}
	}
	return x.store.Save(ctx, OrdersKey(clientID), append(numbers, n))
}

// Contains reports whether n was placed by the client.
func (x *OrderIndex) Contains(ctx context.Context, clientID string, n int32) (bool, error) {
	numbers, err := x.OrderNumbers(ctx, clientID)
	if err != nil {
		return false, err
	}
	for _, existing := range numbers {
		if existing == n {
			return true, nil
		}
	}
	return false, nil
}
