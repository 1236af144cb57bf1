package ledger

import (
	"errors"
	"fmt"

	"github.com/fitblendz/bookingd/internal/model"
)

// ErrNotFound covers both an unknown appointment id and an unauthorized
// actor. The two are deliberately indistinguishable so responses never
// confirm whether an id exists.
var ErrNotFound = errors.New("appointment not found")

// ValidationError is malformed input: surfaced verbatim, never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TransitionError means the target status is unreachable from the current
// one. Re-requesting the held status is not an error; it is a no-op
// success.
type TransitionError struct {
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition appointment from %s to %s", e.From, e.To)
}
