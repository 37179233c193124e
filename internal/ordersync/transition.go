package ordersync

import (
	"errors"
	"fmt"
	"slices"

	"github.com/comanda-pos/api/internal/database"
)

// Actor is who asks for a status change.
type Actor int

const (
	Staff Actor = iota
	Customer
)

func (a Actor) String() string {
	if a == Customer {
		return "customer"
	}
	return "staff"
}

var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From  database.OrderStatus
	To    database.OrderStatus
	Actor Actor
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move order from %s to %s", e.Actor, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// allowedTransitions maps current status to the statuses staff may set.
var allowedTransitions = map[database.OrderStatus][]database.OrderStatus{
	database.OrderStatusPENDING:   {database.OrderStatusPREPARING, database.OrderStatusCANCELLED},
	database.OrderStatusPREPARING: {database.OrderStatusCOMPLETED, database.OrderStatusCANCELLED},
}

// ValidateTransition checks a status change against the order lifecycle.
// Customers may only cancel pending orders.
func ValidateTransition(from, to database.OrderStatus, actor Actor) error {
	if actor == Customer {
		if from == database.OrderStatusPENDING && to == database.OrderStatusCANCELLED {
			return nil
		}
		return &TransitionError{From: from, To: to, Actor: actor}
	}
	if slices.Contains(allowedTransitions[from], to) {
		return nil
	}
	return &TransitionError{From: from, To: to, Actor: actor}
}
