package segment

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation marks programmer errors: an enrichment that deletes
// the user's words, or an operation on a segment id the store does not know.
var ErrInvariantViolation = errors.New("invariant violation")

// InvariantViolation describes which operation broke an invariant.
type InvariantViolation struct {
	Op     string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvariantViolation, e.Op, e.Detail)
}

func (e *InvariantViolation) Unwrap() error {
	return ErrInvariantViolation
}

func violation(op, format string, args ...any) error {
	return &InvariantViolation{Op: op, Detail: fmt.Sprintf(format, args...)}
}
