// Package store provides the Data Access Layer (Repository) for the Herald
// application. It handles all direct interactions with the PostgreSQL
// database using the pgx driver.
package store

import "errors"

// ErrNotFound is returned when a record does not exist.
// Callers compare with errors.Is so wrapping stays safe.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a unique constraint is violated.
var ErrDuplicate = errors.New("store: already exists")
