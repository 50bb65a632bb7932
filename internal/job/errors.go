package job

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition signals a (stage, trigger) pair outside the
	// transition table. Caller error; never retried.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrApprovalPending tells the caller a forward advance is blocked on a
	// human decision.
	ErrApprovalPending = errors.New("approval pending")

	// ErrConcurrentModification signals the job changed under a caller; the
	// whole operation should be retried.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrNoPendingApproval signals a decision arrived for a job with nothing
	// awaiting one.
	ErrNoPendingApproval = errors.New("no pending approval")

	// ErrInvariantViolation signals a broken internal invariant, such as a
	// second pending approval for the same job. Fatal; never swallowed.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotFound signals an unknown job identifier.
	ErrNotFound = errors.New("job not found")
)

func invalidTransition(stage Stage, trigger Trigger) error {
	return fmt.Errorf("%w: no edge from %q on trigger %q", ErrInvalidTransition, stage, trigger)
}
