package errors

import (
	"errors"
	"fmt"
)

// Error codes carried by structured errors.
const (
	CodeManifestNotFound  = "MANIFEST_NOT_FOUND"
	CodeComponentNotFound = "COMPONENT_NOT_FOUND"
	CodeLoadFailed        = "LOAD_FAILED"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeWidgetTransform   = "WIDGET_TRANSFORM_ERROR"
	CodeRateLimited       = "RATE_LIMITED"
	CodeSizeLimitExceeded = "SIZE_LIMIT_EXCEEDED"
	CodeCyclicDependency  = "CYCLIC_DEPENDENCY"
	CodeCircuitOpen       = "CIRCUIT_OPEN"
	CodeInvalidManifest   = "INVALID_MANIFEST"
)

var (
	// ErrManifestNotFound indicates that no manifest is registered for a widget id
	ErrManifestNotFound = &Error{Code: CodeManifestNotFound, Message: "manifest not found"}

	// ErrComponentNotFound indicates that an imported bundle exposes neither a default
	// export nor an export matching the manifest name
	ErrComponentNotFound = &Error{Code: CodeComponentNotFound, Message: "component not found"}

	// ErrLoadFailed indicates that importing a widget failed
	ErrLoadFailed = &Error{Code: CodeLoadFailed, Message: "widget load failed"}

	// ErrValidationFailed indicates that transformation code matched a dangerous pattern
	ErrValidationFailed = &Error{Code: CodeValidationFailed, Message: "code validation failed"}

	// ErrWidgetTransform indicates that sandboxed execution failed. It never carries the cause.
	ErrWidgetTransform = &Error{Code: CodeWidgetTransform, Message: "widget transformation failed"}

	// ErrRateLimited indicates that a widget exceeded its operation budget
	ErrRateLimited = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}

	// ErrSizeLimitExceeded indicates that data exceeded the configured byte size
	ErrSizeLimitExceeded = &Error{Code: CodeSizeLimitExceeded, Message: "size limit exceeded"}

	// ErrCyclicDependency indicates that manifest dependencies form a cycle
	ErrCyclicDependency = &Error{Code: CodeCyclicDependency, Message: "cyclic widget dependency"}

	// ErrCircuitOpen indicates that a widget failed too often and loads are short-circuited
	ErrCircuitOpen = &Error{Code: CodeCircuitOpen, Message: "circuit breaker is open"}

	// ErrInvalidManifest indicates that a manifest failed validation
	ErrInvalidManifest = &Error{Code: CodeInvalidManifest, Message: "invalid manifest"}
)

// Error represents a structured Aegis error scoped to one widget
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// WidgetID is the widget the error belongs to, if any
	WidgetID string

	// Details holds extra human-readable findings, such as validation messages
	Details []string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.WidgetID != "" {
		msg = fmt.Sprintf("%s (widget %s)", msg, e.WidgetID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a structured error with the same code.
// This lets errors.Is match the package sentinels against constructed errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ManifestNotFound reports that id has no registered manifest
func ManifestNotFound(id string) *Error {
	return &Error{Code: CodeManifestNotFound, Message: "manifest not found", WidgetID: id}
}

// ComponentNotFound reports that the bundle for id exports neither default nor name
func ComponentNotFound(id, name string) *Error {
	return &Error{
		Code:     CodeComponentNotFound,
		Message:  fmt.Sprintf("no default export and no export named %q", name),
		WidgetID: id,
	}
}

// LoadFailed wraps the cause of a failed import for id
func LoadFailed(id string, cause error) *Error {
	return &Error{Code: CodeLoadFailed, Message: "widget load failed", WidgetID: id, Err: cause}
}

// ValidationFailed reports dangerous-pattern findings
func ValidationFailed(findings []string) *Error {
	details := make([]string, len(findings))
	copy(details, findings)
	return &Error{
		Code:    CodeValidationFailed,
		Message: fmt.Sprintf("code validation failed with %d finding(s)", len(details)),
		Details: details,
	}
}

// WidgetTransform returns the generic sandbox failure. The cause is intentionally dropped.
func WidgetTransform(id string) *Error {
	return &Error{Code: CodeWidgetTransform, Message: "widget transformation failed", WidgetID: id}
}

// RateLimited reports that id exhausted its rate window
func RateLimited(id string) *Error {
	return &Error{Code: CodeRateLimited, Message: "rate limit exceeded", WidgetID: id}
}

// SizeLimitExceeded reports a payload above the byte limit
func SizeLimitExceeded(id string, size, limit int) *Error {
	return &Error{
		Code:     CodeSizeLimitExceeded,
		Message:  fmt.Sprintf("payload of %d bytes exceeds limit of %d bytes", size, limit),
		WidgetID: id,
	}
}

// CyclicDependency reports a dependency cycle through the given path
func CyclicDependency(id string, path []string) *Error {
	return &Error{
		Code:     CodeCyclicDependency,
		Message:  fmt.Sprintf("cyclic widget dependency: %v", path),
		WidgetID: id,
	}
}

// CircuitOpen reports that loads for id are short-circuited
func CircuitOpen(id string) *Error {
	return &Error{Code: CodeCircuitOpen, Message: "circuit breaker is open", WidgetID: id}
}

// InvalidManifest reports a manifest validation failure
func InvalidManifest(id, reason string) *Error {
	return &Error{Code: CodeInvalidManifest, Message: reason, WidgetID: id}
}

// Code returns the code of the outermost structured error in err's chain, or "".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether a later attempt of the same operation may succeed
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeLoadFailed, CodeRateLimited, CodeCircuitOpen:
		return true
	}
	return false
}
