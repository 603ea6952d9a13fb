package exchange

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProvider matches every failed backend call, timeouts included.
	ErrProvider = errors.New("provider error")
	// ErrTimeout matches backend calls that exceeded the configured deadline.
	ErrTimeout = errors.New("provider call timed out")
	// ErrEmptyHistory is returned by Rewind when there is nothing to remove.
	ErrEmptyHistory = errors.New("history is empty")
)

// ProviderError wraps a backend failure. History and token usage are unchanged when
// Generate returns one.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("provider error: %v", e.Err)
	}
	return fmt.Sprintf("provider error: %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// TimeoutError is carried inside a ProviderError when the backend call ran past its deadline.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("model call timed out after %v", e.After)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
