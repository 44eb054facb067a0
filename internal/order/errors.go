package order

import (
	"errors"
	"fmt"

	"ms-ordering/internal/models"
)

var (
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	// ErrConcurrentUpdate means another writer changed the order first.
	// Reload and retry.
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
	ErrOrderNotFound    = errors.New("order not found")
	ErrInvalidOrder     = errors.New("invalid order")
)

type InvalidStateTransitionError struct {
	OrderID string
	From    models.OrderStatus
	To      models.OrderStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}
