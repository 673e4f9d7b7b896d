package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of batch errors.
type ErrorType string

const (
	// Fatal: surfaced before any file is touched.
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDirectory  ErrorType = "directory"

	// Per-file: recorded in the batch result, the batch continues.
	ErrorTypeDecode     ErrorType = "decode"
	ErrorTypeProcessing ErrorType = "processing"
	ErrorTypeEncode     ErrorType = "encode"
	ErrorTypeCanceled   ErrorType = "canceled"
)

// AppError represents a structured batch error.
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"` // offending parameter, validation only
	Path    string    `json:"path,omitempty"`  // file or directory the error refers to
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	msg := e.Message
	if e.Param != "" {
		msg = fmt.Sprintf("%s: %s", e.Param, msg)
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Reason returns a human-readable description without the type prefix.
func (e *AppError) Reason() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// NewValidationError creates an error naming the offending parameter and the
// constraint it was expected to satisfy.
func NewValidationError(param, constraint string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: constraint,
		Param:   param,
		Cause:   cause,
	}
}

// NewDirectoryError creates an error for a missing or unreadable input directory.
func NewDirectoryError(dir, message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeDirectory,
		Message: message,
		Path:    dir,
		Cause:   cause,
	}
}

// NewDecodeError creates an error for a file that cannot be read as an image.
func NewDecodeError(path string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeDecode,
		Message: "failed to decode image",
		Path:    path,
		Cause:   cause,
	}
}

// NewProcessingError creates an error for a filter that failed on an image.
func NewProcessingError(path string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeProcessing,
		Message: "failed to apply filter",
		Path:    path,
		Cause:   cause,
	}
}

// NewEncodeError creates an error for an output that could not be written.
func NewEncodeError(path string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeEncode,
		Message: "failed to encode image",
		Path:    path,
		Cause:   cause,
	}
}

// NewCanceledError creates an error for a job that was never started.
func NewCanceledError(path string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeCanceled,
		Message: "batch canceled before file was processed",
		Path:    path,
		Cause:   cause,
	}
}

// IsType checks if the error chain holds an AppError of a specific type.
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// TypeOf returns the type of the first AppError in the chain, or "" if none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsFatal reports whether err aborts a batch before it starts.
func IsFatal(err error) bool {
	return IsType(err, ErrorTypeValidation) || IsType(err, ErrorTypeDirectory)
}
