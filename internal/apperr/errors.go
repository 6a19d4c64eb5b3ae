// Package apperr holds the error taxonomy shared by the store, the services and the transports.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyExists    = errors.New("already exists")
	ErrConstraint       = errors.New("constraint violation")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidFilter    = errors.New("invalid filter")
)

// OpError attaches the failing operation and its target id to an error so callers
// can decide between retry and abort. It unwraps to the underlying cause.
type OpError struct {
	Op  string
	ID  int64
	Err error
}

func (e *OpError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s %d: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Op wraps err with operation context. A nil err stays nil.
func Op(op string, id int64, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, ID: id, Err: err}
}
