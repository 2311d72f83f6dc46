package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a smartbin error code.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"         // 400
	ErrInvalidBinColor       ErrorCode = "INVALID_BIN_COLOR"       // 400
	ErrInvalidOperatorChoice ErrorCode = "INVALID_OPERATOR_CHOICE" // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"               // 404
	ErrDuplicateLabel        ErrorCode = "DUPLICATE_LABEL"         // 409
	ErrInterrupted           ErrorCode = "INTERRUPTED"             // 499
	ErrInternal              ErrorCode = "INTERNAL"                // 500
	ErrActuatorWriteFailure  ErrorCode = "ACTUATOR_WRITE_FAILURE"  // 502
	ErrStorageUnavailable    ErrorCode = "STORAGE_UNAVAILABLE"     // 503
	ErrActuatorUnavailable   ErrorCode = "ACTUATOR_UNAVAILABLE"    // 503
)

// SortError represents a structured error with code, status, and details.
type SortError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *SortError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *SortError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SortError {
	return &SortError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidBinColor creates a 400 error for a color outside the valid set.
func NewInvalidBinColor(color string) *SortError {
	return &SortError{
		Code:    ErrInvalidBinColor,
		Status:  400,
		Message: fmt.Sprintf("invalid bin color %q (want yellow, green or brown)", color),
		Details: map[string]any{"bin_color": color},
	}
}

// NewInvalidOperatorChoice creates a 400 error for an operator answer that is neither a bin nor skip.
func NewInvalidOperatorChoice(input string) *SortError {
	return &SortError{
		Code:    ErrInvalidOperatorChoice,
		Status:  400,
		Message: fmt.Sprintf("invalid choice %q", input),
		Details: map[string]any{"input": input},
	}
}

// NewNotFound creates a 404 error for a label with no classification.
func NewNotFound(label string) *SortError {
	return &SortError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("classification not found: %s", label),
		Details: map[string]any{"item_label": label},
	}
}

// NewDuplicateLabel creates a 409 error when a label is already classified.
func NewDuplicateLabel(label string) *SortError {
	return &SortError{
		Code:    ErrDuplicateLabel,
		Status:  409,
		Message: fmt.Sprintf("classification for %q already exists", label),
		Details: map[string]any{"item_label": label},
	}
}

// NewInterrupted creates an error for an operator-issued interrupt.
func NewInterrupted(err error) *SortError {
	return &SortError{
		Code:    ErrInterrupted,
		Status:  499,
		Message: "session interrupted",
		Err:     err,
	}
}

// NewStorageUnavailable creates a 503 error when the store cannot be opened or created.
func NewStorageUnavailable(path string, err error) *SortError {
	msg := "storage unavailable"
	if err != nil {
		msg = fmt.Sprintf("storage unavailable: %v", err)
	}
	return &SortError{
		Code:    ErrStorageUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewActuatorUnavailable creates a 503 error when the serial device cannot be opened.
func NewActuatorUnavailable(port string, err error) *SortError {
	msg := fmt.Sprintf("actuator not detected on %s", port)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &SortError{
		Code:    ErrActuatorUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"port": port},
		Err:     err,
	}
}

// NewActuatorWriteFailure creates a 502 error when a sort command cannot be written.
func NewActuatorWriteFailure(color string, err error) *SortError {
	msg := fmt.Sprintf("failed to send %q to actuator", color)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &SortError{
		Code:    ErrActuatorWriteFailure,
		Status:  502,
		Message: msg,
		Details: map[string]any{"bin_color": color},
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *SortError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &SortError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// As extracts a *SortError from err, following wrapped errors.
func As(err error) (*SortError, bool) {
	var sErr *SortError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}

// Is checks if an error (or any error it wraps) is a SortError with the given code.
func Is(err error, code ErrorCode) bool {
	if sErr, ok := As(err); ok {
		return sErr.Code == code
	}
	return false
}
