package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for the storage taxonomy. DomainErrors built by the helpers
// below wrap one of these so callers can match with errors.Is.
var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrDecodeFailure      = errors.New("decode failure")
	ErrValidation         = errors.New("validation failure")
	ErrAuthRequired       = errors.New("auth required")
	ErrNotFound           = errors.New("not found")
	ErrLockedOut          = errors.New("locked out")
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

// NewBackendUnavailable reports a storage tier that does not exist or cannot be reached.
func NewBackendUnavailable(tier string, err error) error {
	return &DomainError{
		Code:       "BACKEND_UNAVAILABLE",
		Message:    fmt.Sprintf("%s unavailable", tier),
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"tier": tier},
		Err:        errors.Join(ErrBackendUnavailable, err),
	}
}

func NewDecodeFailure(message string, err error) error {
	return &DomainError{
		Code:       "DECODE_FAILED",
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        errors.Join(ErrDecodeFailure, err),
	}
}

func NewValidationError(message string, details map[string]any) error {
	return &DomainError{
		Code:       "VALIDATION_FAILED",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
		Err:        ErrValidation,
	}
}

func NewAuthRequired(message string) error {
	return &DomainError{
		Code:       "AUTH_REQUIRED",
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
		Err:        ErrAuthRequired,
	}
}

// NewLockedOut reports a login attempt during the lockout window.
func NewLockedOut(until time.Time) error {
	return &DomainError{
		Code:       "LOCKED_OUT",
		Message:    "too many failed attempts",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]any{"locked_until": until.UTC().Format(time.RFC3339)},
		Err:        ErrLockedOut,
	}
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
		Err:        ErrNotFound,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	switch {
	case errors.Is(err, ErrAuthRequired):
		return NewAuthRequired(err.Error()).(*DomainError)
	case errors.Is(err, ErrNotFound):
		return NewNotFound("resource", nil).(*DomainError)
	case errors.Is(err, ErrBackendUnavailable):
		return NewBackendUnavailable("storage", err).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}
