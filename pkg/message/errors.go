package message

import "errors"

// ErrInvalidMessage matches every *InvalidMessageError via errors.Is.
var ErrInvalidMessage = errors.New("invalid message")

// InvalidMessageError reports the role/content rule a message violated.
type InvalidMessageError struct {
	Rule string
}

func (e *InvalidMessageError) Error() string {
	return "invalid message: " + e.Rule
}

func (e *InvalidMessageError) Is(target error) bool {
	return target == ErrInvalidMessage
}

func invalid(rule string) error {
	return &InvalidMessageError{Rule: rule}
}
