package shared

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every module. Module sentinels wrap one of these so
// callers can classify failures with errors.Is.
var (
	// ErrValidation indicates rejected input (bad transaction type, non-positive quantity, malformed dates).
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrArithmetic indicates a decimal conversion or arithmetic failure.
	ErrArithmetic = errors.New("arithmetic error")
	// ErrConcurrencyConflict indicates a lost update was detected and the write aborted.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)

// Validationf builds an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}
