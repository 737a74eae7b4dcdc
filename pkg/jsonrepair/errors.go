package jsonrepair

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when Repair or SafeParse is given an empty or
// whitespace-only string.
var ErrEmptyInput = errors.New("jsonrepair: empty input")

// ErrTooLarge is returned when input exceeds MaxInputBytes.
var ErrTooLarge = errors.New("jsonrepair: input exceeds size limit")

// RepairError is returned when the repair catalogue is exhausted without
// producing input that parses as JSON. It is a result type, not a panic:
// callers decide whether a null/placeholder value is acceptable.
type RepairError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RepairError) Error() string {
	return fmt.Sprintf("jsonrepair: could not repair after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the underlying parse error from the final attempt.
func (e *RepairError) Unwrap() error {
	return e.Err
}
