package workflows

import (
	"errors"
	"fmt"
)

var (
	ErrRunInProgress   = errors.New("a run of this workflow is already in progress")
	ErrUnknownWorkflow = errors.New("unknown workflow type")
	ErrNotEntitled     = errors.New("plan does not include AI generation")
)

// StepError classifies a step failure. Fatal errors end the run at once;
// the rest are retried.
type StepError struct {
	Stage   string
	Message string
	Fatal   bool
	Err     error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

func (e *StepError) Unwrap() error { return e.Err }

// Fatal marks input that can never succeed, such as a malformed URL.
func Fatal(stage, message string) error {
	return &StepError{Stage: stage, Message: message, Fatal: true}
}

// Retriable marks a transient failure.
func Retriable(err error) error {
	return &StepError{Err: err}
}

func IsFatal(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr) && stepErr.Fatal
}

func isRetriable(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr) && !stepErr.Fatal
}
