package errors

import (
	"errors"
)

// Common error types
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrStore           = errors.New("store error")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyPunished = errors.New("already punished")
	ErrAlreadyAppealed = errors.New("appeal already pending")
	ErrNotAppealable   = errors.New("not appealable")
	ErrCooldown        = errors.New("on cooldown")
	ErrUnavailable     = errors.New("integration unavailable")
	ErrInternal        = errors.New("internal error")
)
