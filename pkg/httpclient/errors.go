package httpclient

import (
	"fmt"
	"time"
)

// RetryableError describes a transport failure that went through (or
// exhausted) the retry loop. Callers can branch on it with errors.As.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
