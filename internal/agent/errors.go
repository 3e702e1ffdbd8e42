package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable means the reasoning engine failed after its retry.
	ErrEngineUnavailable = errors.New("reasoning engine unavailable")
	// ErrTurnTimeout means the turn ran past its deadline. Nothing was saved.
	ErrTurnTimeout = errors.New("turn timed out")
)

// TurnError is a turn-level failure surfaced to the caller. Retryable errors
// left no partial state behind; the caller may resend the same turn.
type TurnError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a retryable turn failure.
func IsRetryable(err error) bool {
	var te *TurnError
	return errors.As(err, &te) && te.Retryable
}
