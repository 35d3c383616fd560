package utils

import "fmt"

// OpError ties a failed operation name and an operator-facing message to the
// underlying cause. It unwraps, so callers can still match sentinel errors
// through it.
type OpError struct {
	Op  string
	Msg string
	Err error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// WrapOp constructs an OpError.
func WrapOp(op, msg string, err error) error {
	return &OpError{Op: op, Msg: msg, Err: err}
}
