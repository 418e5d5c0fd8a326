package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to API clients.
const (
	CodeNotFound               = "NOT_FOUND"
	CodeValidation             = "VALIDATION_ERROR"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeStoreUnavailable       = "STORE_UNAVAILABLE"
	CodeChannelError           = "CHANNEL_ERROR"
	CodeInternal               = "INTERNAL_ERROR"
)

// AppError carries an error code and the HTTP status it maps to.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches two AppErrors by code, so sentinel-style comparisons work
// through errors.Is regardless of message text.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NotFound reports an absent entity (4xx).
func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// Validation reports a missing or invalid field (4xx).
func Validation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// ConcurrentModification reports a failed optimistic-locking precondition.
// Surfaced distinctly (409) so clients can offer refresh/retry instead of
// treating it as fatal.
func ConcurrentModification(message string) *AppError {
	return &AppError{Code: CodeConcurrentModification, Message: message, HTTPStatus: http.StatusConflict}
}

// StoreUnavailable wraps an underlying store failure (5xx).
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeStoreUnavailable,
		Message:    "store unavailable",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ChannelError wraps a push-channel transport failure. Never surfaced to
// the caller of a mutation; used for logging and client-side state.
func ChannelError(err error) *AppError {
	return &AppError{
		Code:       CodeChannelError,
		Message:    "live channel failure",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// CodeOf extracts the error code, defaulting to INTERNAL_ERROR.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// StatusOf extracts the HTTP status, defaulting to 500.
func StatusOf(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.HTTPStatus
	}
	return http.StatusInternalServerError
}
