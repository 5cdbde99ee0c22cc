package postgres

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrLeaseMismatch = errors.New("lease token mismatch")
	ErrBadTransition = errors.New("invalid status transition")
)
