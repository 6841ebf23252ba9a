package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed completion call. The orchestrator maps each
// kind to a fixed user-visible string; raw provider errors never reach users.
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindTimeout           ErrorKind = "timeout"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindServerError       ErrorKind = "server_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindNetworkError      ErrorKind = "network_error"
)

// Error is the terminal failure of a completion call, after any retries the
// provider client performed internally.
type Error struct {
	Kind   ErrorKind
	Status int           // HTTP status when the server answered, 0 otherwise
	Hint   time.Duration // server-suggested wait for rate limits, 0 if absent
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "llm: unknown error"
	}
	switch {
	case e.Err != nil && e.Status > 0:
		return fmt.Sprintf("llm: %s (http %d): %v", e.Kind, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
	case e.Status > 0:
		return fmt.Sprintf("llm: %s (http %d)", e.Kind, e.Status)
	default:
		return fmt.Sprintf("llm: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the classification of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
