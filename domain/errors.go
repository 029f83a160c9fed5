package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for board mutations. Handlers translate these to HTTP
// status codes; everything else is treated as a persistence failure.
var (
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrPersistence      = errors.New("persistence failure")
)

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func invalidOp(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}
