package labeltable

import "errors"

var (
	// ErrNotFound is returned when a label or id cannot be resolved,
	// including tombstoned labels looked up without allowRemoved.
	ErrNotFound = errors.New("labeltable: not found")

	// ErrOutOfRange is returned when an id lies beyond the current
	// capacity.
	ErrOutOfRange = errors.New("labeltable: id out of range")

	// ErrCapacityShrink is returned when a resize would drop below the
	// high-water mark.
	ErrCapacityShrink = errors.New("labeltable: capacity shrink rejected")

	// ErrImmutable is returned for mutations after SetImmutable.
	ErrImmutable = errors.New("labeltable: immutable")

	// ErrInvalidState is returned when an operation requires a feature
	// that was not enabled at construction.
	ErrInvalidState = errors.New("labeltable: invalid state")

	// ErrCorrupt is returned when deserialization encounters
	// inconsistent content.
	ErrCorrupt = errors.New("labeltable: corrupt state")
)
