package delivery

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input synchronously, before a job
// is ever enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks a delivery failure worth retrying: timeouts,
// connection refusals, 5xx responses.
type TransientError struct {
	Code int
	Err  error
}

func (e *TransientError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transient delivery failure (status %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func Transient(code int, err error) error { return &TransientError{Code: code, Err: err} }

// PermanentError marks a failure that retrying cannot fix: a blocked
// destination or a malformed recipient. The job dies immediately.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent delivery failure: %s: %v", e.Reason, e.Err)
	}
	return "permanent delivery failure: " + e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(reason string, err error) error { return &PermanentError{Reason: reason, Err: err} }

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
