package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrStopUser ends the task loop of the user returning it. OnStop still runs.
	ErrStopUser = errors.New("stop user")

	// ErrNoTasks is returned for a task set without runnable tasks.
	ErrNoTasks = errors.New("task set has no tasks")
)

// RequestError reports a request that never produced an HTTP response. The
// request has already been recorded as a failure when this error is seen.
type RequestError struct {
	Name string
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
