package database

import "errors"

// Storage sentinels. Services translate them into domain errors.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrInactive means the write needed an active, unexpired session.
	ErrInactive = errors.New("session not active")
)
