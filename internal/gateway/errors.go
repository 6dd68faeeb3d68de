package gateway

import (
	"errors"
	"fmt"
)

// ErrInvalidResponse is wrapped by ServiceError when a body is not JSON.
var ErrInvalidResponse = errors.New("invalid response body")

// ValidationError rejects input locally, before any request is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ServiceError reports a transport failure or a non-2xx HTTP status.
// Message carries the server's text when the body had one.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	msg := e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsService reports whether err is a ServiceError.
func IsService(err error) bool {
	var s *ServiceError
	return errors.As(err, &s)
}
