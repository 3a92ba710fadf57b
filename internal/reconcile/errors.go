package reconcile

import (
	"fmt"

	"laundry-room-coordinator/internal/model"
)

// ValidationError reports a bad machine id or duration. It is raised before
// the store is touched and is resolved at the boundary, never logged as a
// system failure.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// InvalidStateError reports a pause or resume against the wrong stored
// status. Recoverable: the caller's view was stale, nothing was mutated.
type InvalidStateError struct {
	MachineID string
	Op        string
	Current   model.MachineStatus // empty when no record exists
}

func (e *InvalidStateError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("cannot %s %s: machine is not in use", e.Op, e.MachineID)
	}
	return fmt.Sprintf("cannot %s %s: machine is %s", e.Op, e.MachineID, e.Current)
}

// TransactionError reports that a store operation did not commit after the
// bounded retries. Surfaced to the caller; the action is always retriable.
type TransactionError struct {
	MachineID string
	Op        string
	Attempts  int
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s %s did not commit after %d attempts: %v", e.Op, e.MachineID, e.Attempts, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
