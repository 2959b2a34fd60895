package vigil

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of an error
type ErrorType string

const (
	// ErrorTypeConfig represents configuration-related errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFS represents file system-related errors
	ErrorTypeFS ErrorType = "filesystem"
	// ErrorTypeCheck represents check execution errors
	ErrorTypeCheck ErrorType = "check"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
)

// Cache snapshot validation errors. All of them mean "no usable cache":
// callers recover by starting with an empty store, never by failing the run.
var (
	// ErrVersionMismatch is returned when the on-disk cache format version
	// differs from the one this build understands.
	ErrVersionMismatch = errors.New("cache format version mismatch")
	// ErrToolVersionMismatch is returned when the cache was written by a
	// different build of the tool.
	ErrToolVersionMismatch = errors.New("cache written by a different tool version")
	// ErrConfigChanged is returned when the configuration hash embedded in
	// the cache differs from the active configuration.
	ErrConfigChanged = errors.New("configuration changed since cache was written")
	// ErrCacheCorrupt is returned when the snapshot cannot be decoded.
	ErrCacheCorrupt = errors.New("cache snapshot is corrupt")
)

// AppError is a custom error type that provides context about the error
type AppError struct {
	Type    ErrorType // The category of the error
	Message string    // A human-readable error message
	Err     error     // The underlying error, if any
	File    string    // The file related to the error, if applicable
	Details string    // Additional details about the error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithFile adds file information to an AppError
func WithFile(e *AppError, file string) *AppError {
	e.File = file
	return e
}

// WithDetails adds additional details to an AppError
func WithDetails(e *AppError, details string) *AppError {
	e.Details = details
	return e
}

// NewConfigError creates a new configuration error
func NewConfigError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeConfig,
		Message: message,
		Err:     err,
	}
}

// NewFSError creates a new file system error
func NewFSError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeFS,
		Message: message,
		Err:     err,
	}
}

// NewCheckError creates a new check execution error
func NewCheckError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeCheck,
		Message: message,
		Err:     err,
	}
}

// NewCacheError creates a new cache error
func NewCacheError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeCache,
		Message: message,
		Err:     err,
	}
}

// ErrorInfo holds extracted information about an AppError
type ErrorInfo struct {
	Type    ErrorType
	File    string
	Details string
}

// GetErrorInfo extracts structured information from an error chain.
// Returns false if the error is not an AppError.
func GetErrorInfo(err error) (ErrorInfo, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return ErrorInfo{
			Type:    appErr.Type,
			File:    appErr.File,
			Details: appErr.Details,
		}, true
	}
	return ErrorInfo{}, false
}
