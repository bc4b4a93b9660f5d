package admin

import "errors"

var (
	ErrEventNotFound = errors.New("event not found or capacity below consumed")
	ErrUserConflict  = errors.New("user with this email already exists")
)
