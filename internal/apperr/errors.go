package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies an Error. Callers branch on the code, never on the message.
type Code string

const (
	CodeAuthentication Code = "AUTHENTICATION"
	CodeAuthorization  Code = "AUTHORIZATION"
	CodeTenantInactive Code = "TENANT_INACTIVE"
	CodeUserInactive   Code = "USER_INACTIVE"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeValidation     Code = "VALIDATION"
	CodeDependency     Code = "DEPENDENCY"
	CodeTimeout        Code = "TIMEOUT"
	CodeSuperseded     Code = "SUPERSEDED"
)

// Error is the typed error returned by every core operation.
type Error struct {
	Code      Code              `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	Cause     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetail returns a copy with one more detail entry.
func (e *Error) WithDetail(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is.
var (
	ErrAuthentication = &Error{Code: CodeAuthentication}
	ErrAuthorization  = &Error{Code: CodeAuthorization}
	ErrTenantInactive = &Error{Code: CodeTenantInactive}
	ErrUserInactive   = &Error{Code: CodeUserInactive}
	ErrNotFound       = &Error{Code: CodeNotFound}
	ErrConflict       = &Error{Code: CodeConflict}
	ErrValidation     = &Error{Code: CodeValidation}
	ErrDependency     = &Error{Code: CodeDependency}
	ErrTimeout        = &Error{Code: CodeTimeout}
	ErrSuperseded     = &Error{Code: CodeSuperseded}
)

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

func Authentication(message string) *Error { return New(CodeAuthentication, message) }
func Authorization(message string) *Error  { return New(CodeAuthorization, message) }
func TenantInactive(message string) *Error { return New(CodeTenantInactive, message) }
func UserInactive(message string) *Error   { return New(CodeUserInactive, message) }
func Conflict(message string) *Error       { return New(CodeConflict, message) }

func NotFound(resource string) *Error {
	return New(CodeNotFound, resource+" not found")
}

// Validation reports a rejected input field.
func Validation(field, message string) *Error {
	return New(CodeValidation, message).WithDetail("field", field)
}

// Dependency wraps a failure of an external collaborator.
func Dependency(err error, message string, retryable bool) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeDependency, Message: message, Retryable: retryable, Cause: err}
}

// Superseded reports a session resolution replaced by a newer one.
func Superseded() *Error {
	return New(CodeSuperseded, "session resolution superseded by a newer request")
}

// CodeOf returns the code of err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is a dependency failure worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// FromContext converts context cancellation into a typed timeout error.
// It returns nil when err is not a context error.
func FromContext(err error, op string) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeTimeout, Message: op + " timed out", Retryable: true, Cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Code: CodeTimeout, Message: op + " cancelled", Retryable: true, Cause: err}
	}
	return nil
}

// External classifies an error returned by an IdentityProvider or store call.
// Typed errors pass through, context errors become timeouts and anything else
// becomes a retryable dependency failure.
func External(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if te := FromContext(err, op); te != nil {
		return te
	}
	return Dependency(err, op+" failed", true)
}

// Compensated joins the original failure with a failed rollback so both stay
// visible to errors.Is and to the caller.
func Compensated(original, rollback error) error {
	if rollback == nil {
		return original
	}
	code := CodeOf(original)
	if code == "" {
		code = CodeDependency
	}
	return &Error{
		Code:    code,
		Message: "operation failed and rollback did not complete",
		Cause:   errors.Join(original, rollback),
	}
}
