package actioncard

import (
	"errors"
	"fmt"
)

// Eligibility sentinels. Each EligibilityError wraps exactly one of them.
var (
	ErrUnknownCard          = errors.New("unknown action card")
	ErrNoTarget             = errors.New("no valid target")
	ErrNoEmbeddedAction     = errors.New("no embedded action")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrItemNotEquipped      = errors.New("item not equipped")
	ErrNotActorsTurn        = errors.New("not the actor's turn")
)

// EligibilityError aborts an execution before anything is rolled or mutated.
// Reason is shown to the initiator as is.
type EligibilityError struct {
	Reason string
	Err    error
}

func (e *EligibilityError) Error() string { return e.Reason }

func (e *EligibilityError) Unwrap() error { return e.Err }

func ineligible(sentinel error, format string, args ...any) *EligibilityError {
	return &EligibilityError{Reason: fmt.Sprintf(format, args...), Err: sentinel}
}

// EvaluationError reports a formula that could not be evaluated. It is fatal
// to the execution.
type EvaluationError struct {
	Step    string
	Formula string
	Err     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("actioncard: evaluating %s formula %q: %v", e.Step, e.Formula, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
