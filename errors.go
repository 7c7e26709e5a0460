package unireq

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error types used in ClientError.Type.
const (
	ErrorTypeNetwork       = "Network"
	ErrorTypeTimeout       = "Timeout"
	ErrorTypeSerialization = "Serialization"
	ErrorTypeAuth          = "Auth"
	ErrorTypeCircuitOpen   = "CircuitOpen"
	ErrorTypeRateLimit     = "RateLimit"
	ErrorTypeCache         = "Cache"
	ErrorTypeValidation    = "Validation"
	ErrorTypeServer        = "Server"
)

// Sentinel errors for errors.Is. Matching is by Type, so any *ClientError of the
// same type satisfies errors.Is(err, ErrTimeout) and friends.
var (
	ErrNetwork       = &ClientError{Type: ErrorTypeNetwork, Message: "network failure"}
	ErrTimeout       = &ClientError{Type: ErrorTypeTimeout, Message: "deadline exceeded"}
	ErrSerialization = &ClientError{Type: ErrorTypeSerialization, Message: "serialization failure"}
	ErrAuth          = &ClientError{Type: ErrorTypeAuth, Message: "authentication failed"}
	ErrCircuitOpen   = &ClientError{Type: ErrorTypeCircuitOpen, Message: "circuit breaker is open"}
	ErrRateLimited   = &ClientError{Type: ErrorTypeRateLimit, Message: "rate limited"}
	ErrValidation    = &ClientError{Type: ErrorTypeValidation, Message: "validation failed"}
)

// ClientError is the base error surfaced by connectors and policies. Type
// classifies it; Cause keeps the original error.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	Method     string
	URL        string
	Attempt    int
	StatusCode int
	// Duration is the configured deadline for Timeout errors.
	Duration  time.Duration
	Timestamp time.Time
	// Response is set for errors raised after a response was received (Auth).
	Response *Response
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Method != "" && e.URL != "" {
		msg = fmt.Sprintf("%s (%s %s)", msg, e.Method, e.URL)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d\n", e.Attempt)
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

func newError(errorType, message string, req *Request, cause error) *ClientError {
	e := &ClientError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
	if req != nil {
		e.Method = req.Method
		e.URL = req.URL
	}
	return e
}

// NetworkError classifies a transport-level connectivity failure.
func NetworkError(req *Request, cause error) *ClientError {
	return newError(ErrorTypeNetwork, "network request failed", req, cause)
}

// TimeoutError reports that a deadline of d (zero when unknown) or a
// cancellation signal fired.
func TimeoutError(req *Request, d time.Duration, cause error) *ClientError {
	msg := "request cancelled"
	if d > 0 {
		msg = fmt.Sprintf("deadline of %v exceeded", d)
	} else if errors.Is(cause, context.DeadlineExceeded) {
		msg = "deadline exceeded"
	}
	e := newError(ErrorTypeTimeout, msg, req, cause)
	e.Duration = d
	return e
}

// SerializationError reports a body encode or decode failure.
func SerializationError(req *Request, message string, cause error) *ClientError {
	return newError(ErrorTypeSerialization, message, req, cause)
}

// AuthError reports an authentication failure signalled by resp.
func AuthError(resp *Response) *ClientError {
	var req *Request
	if resp != nil {
		req = resp.Request
	}
	e := newError(ErrorTypeAuth, "authentication failed", req, nil)
	if resp != nil {
		e.StatusCode = resp.StatusCode
		e.Response = resp
	}
	return e
}

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Network failures, timeouts, open circuits and rate limiting are transient; caller
// cancellation, serialization, auth and validation failures are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		default:
			return false
		}
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// fromContext converts a context error into a TimeoutError, passing through
// anything else.
func fromContext(ctx context.Context, req *Request, d time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if errors.Is(err, ErrTimeout) {
			return err
		}
		return TimeoutError(req, d, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return TimeoutError(req, d, ctxErr)
	}
	return err
}
