package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrEventInactive    = errors.New("event is not active")
	ErrCapacityExceeded = errors.New("capacity exceeded")
)

// InsufficientCapacityError reports a reservation that asked for more
// seats than the event has left. Available carries the remaining count
// so callers can show it to the buyer.
type InsufficientCapacityError struct {
	Available int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("only %d seats available", e.Available)
}
