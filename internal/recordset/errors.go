package recordset

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ApplyError classifies record-set backend failures as transient or permanent.
type ApplyError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ApplyError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "apply error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ApplyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Permanent builds a non-retryable failure, such as a conflicting record.
func Permanent(format string, args ...any) *ApplyError {
	return &ApplyError{Message: fmt.Sprintf(format, args...)}
}

// Transient builds a retryable failure wrapping cause.
func Transient(message string, cause error) *ApplyError {
	return &ApplyError{Message: message, Transient: true, Cause: cause}
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var applyErr *ApplyError
	if errors.As(err, &applyErr) {
		return applyErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// Reason returns the message recorded on a failed single change.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var applyErr *ApplyError
	if errors.As(err, &applyErr) && strings.TrimSpace(applyErr.Message) != "" {
		return applyErr.Message
	}
	return err.Error()
}
