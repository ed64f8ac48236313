package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrInvalidRequest = errors.New("invalid request")
	ErrLockHeld       = errors.New("lock already held")
	ErrNoSmartTargets = errors.New("no smart targets")
	ErrMalformed      = errors.New("malformed record")
)
