package docstore

import "errors"

var (
	// ErrInvalidDocument is returned when a document lacks a required field.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrInvalidRevision is returned when "rev" is not a non-negative integer.
	ErrInvalidRevision = errors.New("invalid revision")
	// ErrInvalidType is returned for a type that maps outside the store root.
	ErrInvalidType = errors.New("invalid type")
	// ErrInvalidID is returned for an id that maps to no usable file name.
	ErrInvalidID = errors.New("invalid id")

	errLockFailed = errors.New("lock failed")
)
