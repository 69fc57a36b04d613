package videosync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingEventID     = errors.New("missing event id")
	ErrMissingUserID      = errors.New("missing user id")
	ErrOutsideEventWindow = errors.New("outside event time window")
	ErrNotConfigured      = errors.New("session not configured")
	ErrSessionClosed      = errors.New("session closed")
)

// StoreError wraps any failure of the remote store.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that ran past its deadline.
type TimeoutError struct {
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Duration)
}

func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}
