package toolexecutor

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrMissingParameter = errors.New("missing parameter")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrExecutionFailed  = errors.New("tool execution failed")
	ErrTimeout          = errors.New("tool execution timed out")
)

// UnknownToolError reports a call to a tool that is not registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// MissingParameterError names the first required parameter absent from a call.
type MissingParameterError struct {
	Tool      string
	Parameter string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter %q for tool %s", e.Parameter, e.Tool)
}

func (e *MissingParameterError) Is(target error) bool { return target == ErrMissingParameter }

// InvalidParameterError reports parameters that are present but unusable.
type InvalidParameterError struct {
	Tool   string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameters for tool %s: %s", e.Tool, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// ExecutionError wraps a failure raised by a tool handler.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailed }

// TimeoutError reports a handler that did not finish within the executor timeout.
type TimeoutError struct {
	Tool  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool execution timed out after %v", e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// errorKind labels err for metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "execution_failed"
	}
}
