package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a transfer_id has no matching row.
	ErrNotFound = errors.New("catalog: transfer not found")

	// ErrWrite is the sentinel all write failures wrap (permissions,
	// disk full, locked file). Fatal to the engine.
	ErrWrite = errors.New("catalog: write failed")
)

// wrapWriteErr wraps err so that errors.Is(result, ErrWrite) is true
// while preserving the underlying driver error for logging.
func wrapWriteErr(op string, err error) error {
	return fmt.Errorf("catalog: %s: %w: %v", op, ErrWrite, err)
}
