package retry

import (
	"fmt"
	"time"
)

// Attempt records one invocation of the wrapped operation. Appended in order
// to a Result and never mutated afterwards.
type Attempt struct {
	Number      int
	DelayBefore time.Duration
	Err         error
	At          time.Time
}

// Result is the terminal outcome of one Execute call. Errors are carried in
// FinalError rather than returned; callers branch on Succeeded.
type Result[T any] struct {
	// ID correlates log lines and attempts belonging to one execution.
	ID         string
	Succeeded  bool
	Value      T
	Attempts   []Attempt
	Elapsed    time.Duration
	FinalError error
}

// ExhaustedError reports that every permitted attempt failed.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts exhausted: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// CancelledError reports that the execution was cut short by context
// cancellation, during either a backoff wait or the operation itself.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("execution cancelled: %v", e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }
