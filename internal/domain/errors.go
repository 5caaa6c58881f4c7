package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrInvalidKey         = errors.New("invalid position key")
	ErrInvalidEvent       = errors.New("invalid position event")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrStalePendingUpdate = errors.New("pending update is stale")
	ErrLockHeld           = errors.New("lock held")
)
