// Package errors provides the structured error type returned by every arraycache component.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE"

	// Lookup errors
	ErrCodeUnknownID               ErrorCode = "UNKNOWN_ID"
	ErrCodeUnsupportedPayloadShape ErrorCode = "UNSUPPORTED_PAYLOAD_SHAPE"
	ErrCodeNotOwner                ErrorCode = "NOT_OWNER"

	// Storage errors
	ErrCodeCorruptSpillFile  ErrorCode = "CORRUPT_SPILL_FILE"
	ErrCodeSpillWriteFailure ErrorCode = "SPILL_WRITE_FAILURE"
	ErrCodeStorageDelete     ErrorCode = "STORAGE_DELETE"
	ErrCodeFlushFailure      ErrorCode = "FLUSH_FAILURE"
	ErrCodeSourceLoadFailed  ErrorCode = "SOURCE_LOAD_FAILED"

	// State errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryLookup        ErrorCategory = "lookup"
	CategoryStorage       ErrorCategory = "storage"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrUnknownID               = &CacheError{Code: ErrCodeUnknownID}
	ErrUnsupportedPayloadShape = &CacheError{Code: ErrCodeUnsupportedPayloadShape}
	ErrNotOwner                = &CacheError{Code: ErrCodeNotOwner}
	ErrCorruptSpillFile        = &CacheError{Code: ErrCodeCorruptSpillFile}
	ErrSpillWriteFailure       = &CacheError{Code: ErrCodeSpillWriteFailure}
	ErrFlushFailure            = &CacheError{Code: ErrCodeFlushFailure}
	ErrSourceLoadFailed        = &CacheError{Code: ErrCodeSourceLoadFailed}
	ErrInvalidConfig           = &CacheError{Code: ErrCodeInvalidConfig}
	ErrAlreadyStarted          = &CacheError{Code: ErrCodeAlreadyStarted}
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if t, ok := target.(*CacheError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// New creates a new cache error with default values.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new cache error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new cache error caused by err.
func Wrap(code ErrorCode, err error, message string) *CacheError {
	return New(code, message).WithCause(err)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeUnknownID, ErrCodeUnsupportedPayloadShape, ErrCodeNotOwner:
		return CategoryLookup
	case ErrCodeCorruptSpillFile, ErrCodeSpillWriteFailure, ErrCodeStorageDelete,
		ErrCodeFlushFailure, ErrCodeSourceLoadFailed:
		return CategoryStorage
	case ErrCodeAlreadyStarted:
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether the operation may succeed if simply repeated.
// A failed spill is retried by the next pressure check; the others need caller action.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeSpillWriteFailure, ErrCodeStorageDelete:
		return true
	default:
		return false
	}
}

// CodeOf returns the code of the first CacheError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var ce *CacheError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// WithContext adds contextual information to an error
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}
