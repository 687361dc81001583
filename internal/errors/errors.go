// Package errors provides structured error types for the cube query core.
// All errors include a category, code, message, and retryable flag so that
// callers can tell configuration defects apart from data and storage failures.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the kind of failure.
type ErrorCategory string

// Configuration errors (bad factory registration, naming-case violations,
// serializer conflicts) are build-time defects and are never recovered.
const (
	ErrCategoryConfig      ErrorCategory = "CONFIG"
	ErrCategoryResolution  ErrorCategory = "RESOLUTION"
	ErrCategoryUnsupported ErrorCategory = "UNSUPPORTED"
	ErrCategorySketch      ErrorCategory = "SKETCH"
	ErrCategoryStatistics  ErrorCategory = "STATISTICS"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryQuery       ErrorCategory = "QUERY"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeInvalidNameCase    = "INVALID_NAME_CASE"
	CodeSerializerConflict = "SERIALIZER_CONFLICT"
	CodeDuplicateFactory   = "DUPLICATE_FACTORY"
	CodeInvalidDataType    = "INVALID_DATA_TYPE"
	CodeTooManyCuboids     = "TOO_MANY_CUBOIDS"

	// Resolution codes
	CodeNoMatchingFactory   = "NO_MATCHING_FACTORY"
	CodeNoRewriteConsensus  = "NO_REWRITE_CONSENSUS"
	CodeUnsupportedFunction = "UNSUPPORTED_FUNCTION"

	// Unsupported codes
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"

	// Sketch codes
	CodePrecisionMismatch = "PRECISION_MISMATCH"
	CodeInvalidPrecision  = "INVALID_PRECISION"
	CodeCorruptSketch     = "CORRUPT_SKETCH"

	// Statistics codes
	CodeStatsNotFound = "STATS_NOT_FOUND"
	CodeStatsCorrupt  = "STATS_CORRUPT"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeDeleteFailed   = "DELETE_FAILED"

	// Query codes
	CodeSearchFailed          = "SEARCH_FAILED"
	CodeInvalidProperty       = "INVALID_PROPERTY"
	CodeEnumeratorClosed      = "ENUMERATOR_CLOSED"
	CodeScanThresholdExceeded = "SCAN_THRESHOLD_EXCEEDED"
	CodeInvalidValue          = "INVALID_VALUE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// CubeError is the structured error type used throughout the system.
type CubeError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *CubeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CubeError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *CubeError) Is(target error) bool {
	var t *CubeError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new CubeError.
func New(category ErrorCategory, code, message string) *CubeError {
	return &CubeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new CubeError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *CubeError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new CubeError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *CubeError {
	return &CubeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *CubeError) WithDetails(details map[string]interface{}) *CubeError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ce *CubeError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a CubeError.
func GetCategory(err error) ErrorCategory {
	var ce *CubeError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a CubeError.
func GetCode(err error) string {
	var ce *CubeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// HasCode reports whether err carries the given category and code anywhere in its chain.
func HasCode(err error, category ErrorCategory, code string) bool {
	return errors.Is(err, &CubeError{Category: category, Code: code})
}

// isRetryable reports whether a failure is transient. Only storage transfers
// are retried; configuration, resolution and corruption never are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *CubeError {
	return New(ErrCategoryConfig, code, message)
}

func NewResolutionError(code, message string) *CubeError {
	return New(ErrCategoryResolution, code, message)
}

func NewUnsupportedError(message string) *CubeError {
	return New(ErrCategoryUnsupported, CodeUnsupportedOperation, message)
}

func NewSketchError(code, message string) *CubeError {
	return New(ErrCategorySketch, code, message)
}

func NewStatisticsError(code, message string, cause error) *CubeError {
	return Wrap(ErrCategoryStatistics, code, message, cause)
}

func NewStorageError(code, message string, cause error) *CubeError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewQueryError(code, message string) *CubeError {
	return New(ErrCategoryQuery, code, message)
}

func NewInternalError(message string, cause error) *CubeError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
