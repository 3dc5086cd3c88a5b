package session

import "errors"

var (
	ErrNotFound      = errors.New("session not found")
	ErrTokenConflict = errors.New("session token already exists")
	ErrUserDisabled  = errors.New("session owner is disabled")
	ErrInvalidUser   = errors.New("session owner is required")
)
