package sequencer

import (
	"errors"
	"fmt"
)

var (
	// ErrTableInvalid indicates the flash header didn't match at Init.
	ErrTableInvalid = errors.New("sequencer table invalid")
	// ErrOutOfRange indicates the entry index is outside the table.
	ErrOutOfRange = errors.New("sequencer index out of range")
	// ErrFieldRange indicates an entry field doesn't fit into a record.
	ErrFieldRange = errors.New("sequencer field out of range")
)

// FieldError reports an entry field which doesn't fit into a record.
type FieldError struct {
	Field string
	Value int64
}

// Error implements error.
func (e *FieldError) Error() string {
	return fmt.Sprintf("sequencer entry %s out of range: %d", e.Field, e.Value)
}

// Unwrap returns ErrFieldRange.
func (e *FieldError) Unwrap() error {
	return ErrFieldRange
}

// FlashError wraps a failed flash operation on one mirror.
type FlashError struct {
	Mirror int
	Op     string
	Offset uint32
	Err    error
}

// Error implements error.
func (e *FlashError) Error() string {
	return fmt.Sprintf("flash %s mirror %d at %#x: %v", e.Op, e.Mirror, e.Offset, e.Err)
}

// Unwrap returns the underlying error.
func (e *FlashError) Unwrap() error {
	return e.Err
}
