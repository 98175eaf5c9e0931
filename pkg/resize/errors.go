package resize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gw-resize/pkg/topology"
)

// ErrLockLost is reported when the gateway pair lock is taken away mid-run.
var ErrLockLost = errors.New("gateway pair lock lost")

// ValidationError is a guard rejection. No mutating call was made.
type ValidationError struct {
	Gateway string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Gateway, e.Reason)
}

// ConvergenceError reports routes that never showed their expected next hop within the budget.
type ConvergenceError struct {
	Phase   string
	Pending []topology.RouteUpdate
	Budget  time.Duration
}

func (e *ConvergenceError) Error() string {
	names := make([]string, 0, len(e.Pending))
	for _, u := range e.Pending {
		names = append(names, u.Table.Name+"/"+u.After.Name)
	}
	return fmt.Sprintf("%s: %d route(s) not converged after %s: %s", e.Phase, len(e.Pending), e.Budget, strings.Join(names, ", "))
}

// RollbackError wraps a mid-sequence failure together with the outcome of unwinding the undo stack.
type RollbackError struct {
	Cause    error
	Undone   int
	Failures []error
}

func (e *RollbackError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%v (rolled back %d change(s))", e.Cause, e.Undone)
	}
	return fmt.Sprintf("%v (rollback incomplete, %d change(s) undone: %v)", e.Cause, e.Undone, errors.Join(e.Failures...))
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// Complete reports whether every undo action succeeded.
func (e *RollbackError) Complete() bool { return len(e.Failures) == 0 }
