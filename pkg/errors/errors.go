package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness. Soft errors
// are expected negative outcomes (a lost scan race, a duplicate time-out)
// and must not be logged as failures.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Soft    bool   `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors covering the attendance domain.
var (
	ErrNotAuthorized      = New("NOT_AUTHORIZED", http.StatusForbidden, "teacher does not own this class")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrTokenNotFound      = New("TOKEN_NOT_FOUND", http.StatusNotFound, "invalid QR code")
	ErrTokenExpired       = New("TOKEN_EXPIRED", http.StatusGone, "QR code has expired")
	ErrStudentNotFound    = New("STUDENT_NOT_FOUND", http.StatusNotFound, "student not found or inactive")
	ErrAlreadyRecorded    = &Error{Code: "ALREADY_RECORDED", Status: http.StatusConflict, Message: "attendance already marked for today", Soft: true}
	ErrAlreadyMarked      = &Error{Code: "ALREADY_MARKED", Status: http.StatusConflict, Message: "time out already marked", Soft: true}
	ErrInvalidStatus      = New("INVALID_STATUS", http.StatusBadRequest, "invalid attendance status")
	ErrStorage            = New("STORAGE_ERROR", http.StatusInternalServerError, "a storage error occurred")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error. Unknown errors become a
// generic storage failure so internal detail never reaches the caller.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrStorage.Code, ErrStorage.Status, ErrStorage.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsSoft reports whether err is an expected negative outcome.
func IsSoft(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Soft
	}
	return false
}
