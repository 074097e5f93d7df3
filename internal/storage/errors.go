package storage

import (
	"errors"
	"fmt"
)

// Error kinds surfaced through completion callbacks. Callers match with
// errors.Is; ErrIOFailure wraps the underlying filesystem error.
var (
	ErrNotFound      = errors.New("not found")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrInvalid       = errors.New("invalid stored data")
	ErrIOFailure     = errors.New("storage I/O failure")
)

// ioFailure tags err as an ErrIOFailure while keeping the original message.
func ioFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIOFailure, op, err)
}
