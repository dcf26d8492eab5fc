package entityserver

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted = errors.New("entity server already started")
	ErrInvalidConfig  = errors.New("invalid service configuration")
)

// BindError reports that a listener could not be opened. It is terminal for the
// Start attempt; there is no retry.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// IsBindError reports whether err carries a *BindError.
func IsBindError(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}
