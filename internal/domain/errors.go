package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrTransient     = errors.New("transient failure")
	ErrUnresolved    = errors.New("unresolved after retries")
	ErrRateLimited   = errors.New("rate limited")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidConfig = errors.New("invalid configuration")
)
