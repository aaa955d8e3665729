// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity was not in the state the caller expected
// (compare-and-set lost, or an optimistic lock failed).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")
