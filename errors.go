package sindi

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed build or search
	// parameters and malformed vectors.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a label or internal id cannot be
	// resolved, including lookups of tombstoned labels without the
	// explicit override.
	ErrNotFound = errors.New("not found")

	// ErrOutOfRange is returned when an internal id falls outside the
	// current table or window capacity.
	ErrOutOfRange = errors.New("out of range")

	// ErrCapacityShrink is returned when a resize would drop below the
	// current high-water mark.
	ErrCapacityShrink = errors.New("capacity shrink rejected")

	// ErrCorruptState is returned when deserialization encounters a
	// truncated stream, a header mismatch or inconsistent content.
	ErrCorruptState = errors.New("corrupt state")

	// ErrResourceExhausted is returned when an operation would exceed a
	// configured resource limit, such as the memory hard limit.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = fmt.Errorf("%w: k must be positive", ErrInvalidArgument)
)

// ErrDimensionExceeded indicates a vector with more non-zero pairs than
// the configured dim.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionExceeded struct {
	Dim    int
	Actual int
	cause  error
}

func (e *ErrDimensionExceeded) Error() string {
	return fmt.Sprintf("vector has %d pairs, dim is %d", e.Actual, e.Dim)
}

func (e *ErrDimensionExceeded) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return ErrInvalidArgument
}

// ErrTermOutOfRange indicates a term id at or beyond the configured
// term id limit.
type ErrTermOutOfRange struct {
	TermID uint32
	Limit  int
}

func (e *ErrTermOutOfRange) Error() string {
	return fmt.Sprintf("term id %d exceeds limit %d", e.TermID, e.Limit)
}

func (e *ErrTermOutOfRange) Unwrap() error { return ErrInvalidArgument }
