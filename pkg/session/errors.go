package session

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence error")
	// ErrTerminated is returned for turns submitted after the session ended.
	ErrTerminated = errors.New("session terminated")
	// ErrToolRoundLimit ends a turn in which the model kept requesting tools.
	ErrToolRoundLimit = errors.New("tool round limit reached")
	// ErrInvalidName rejects session names that are not safe file names.
	ErrInvalidName = errors.New("invalid session name")
	// ErrNoSessions is returned by Store.Latest when no session log exists.
	ErrNoSessions = errors.New("no sessions found")
	// ErrNoOperator is returned by Run when the session has no operator.
	ErrNoOperator = errors.New("session has no operator")
)

// PersistenceError reports a failed read or write of a session log. Line is set for
// malformed entries found while loading.
type PersistenceError struct {
	Op      string
	Session string
	Line    int
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("session %s: %s: line %d: %v", e.Session, e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("session %s: %s: %v", e.Session, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
