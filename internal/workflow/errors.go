package workflow

import (
	"fmt"
	"strings"
)

// StageError reports a workflow rule that refused an operation. Sentinels
// below carry only a Kind and match any StageError of the same kind through
// errors.Is.
type StageError struct {
	Kind    string
	Stage   Stage
	Want    Stage
	Missing []string
	Message string
}

func (e *StageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Kind)
	if e.Stage != "" {
		fmt.Fprintf(&b, " (stage %s)", e.Stage)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	return b.String()
}

// Is matches on Kind so callers can test against the sentinels.
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrPrecondition      = &StageError{Kind: "stage precondition not met"}
	ErrBlocked           = &StageError{Kind: "stage is blocked pending override"}
	ErrIncomplete        = &StageError{Kind: "stage is incomplete"}
	ErrTerminal          = &StageError{Kind: "workflow already closed"}
	ErrInvalidTransition = &StageError{Kind: "invalid stage transition"}
	ErrUnknownStage      = &StageError{Kind: "unknown stage"}
	ErrRuleInput         = &StageError{Kind: "invalid rule input"}
)

func stageErr(sentinel *StageError, stage Stage, format string, args ...any) *StageError {
	return &StageError{
		Kind:    sentinel.Kind,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
	}
}
