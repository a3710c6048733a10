package hibernation

import (
	"errors"
	"fmt"
)

var (
	ErrIO              = errors.New("hibernation i/o failed")
	ErrCompression     = errors.New("hibernation payload could not be decompressed")
	ErrSerialization   = errors.New("snapshot encoding failed")
	ErrInvalidFile     = errors.New("invalid hibernation file")
	ErrVersionMismatch = errors.New("hibernation file version mismatch")
	ErrTabNotFound     = errors.New("no hibernation file for tab")
	ErrQuotaExceeded   = errors.New("hibernation storage quota exceeded")
	ErrInvalidConfig   = errors.New("invalid hibernation config")
)

// VersionError reports a file written by an incompatible format version
type VersionError struct {
	Expected uint32
	Got      uint32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s: expected %d, got %d", ErrVersionMismatch, e.Expected, e.Got)
}

// Is matches ErrVersionMismatch
func (e *VersionError) Is(target error) bool {
	return target == ErrVersionMismatch
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
