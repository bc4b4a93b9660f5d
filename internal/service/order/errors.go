package order

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrEventInactive    = errors.New("event is not selling tickets")
	ErrInvalidQuantity  = errors.New("quantity must be at least 1")
	ErrQuantityTooLarge = errors.New("quantity exceeds the per-order limit")
)

// InsufficientCapacityError carries the number of seats actually left
// so the buyer can be told what is still possible.
type InsufficientCapacityError struct {
	Available int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("only %d seats available", e.Available)
}
