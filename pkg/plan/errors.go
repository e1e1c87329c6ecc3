// Package plan defines the plan language data model, parser, validator,
// migrator and DAG builder: the typed representation of a submitted plan
// and the structural checks it must pass before it reaches the scheduler.
package plan

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an error for retry and recovery decisions.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a resource state conflict.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes from spec.md §7's error taxonomy.
const (
	CodeParseError            = "parse_error"
	CodeValidationError       = "validation_error"
	CodeUnknownModule         = "unknown_module"
	CodeUnknownAction         = "unknown_action"
	CodePermissionDenied      = "permission_denied"
	CodePermissionNotGranted  = "permission_not_granted"
	CodeRateLimitExceeded     = "rate_limit_exceeded"
	CodeScanBlocked           = "scan_blocked"
	CodeSuspiciousIntent      = "suspicious_intent"
	CodeTemplateError         = "template_error"
	CodeTimeout               = "timeout"
	CodeCancelled             = "cancelled"
	CodeProviderUnavailable   = "provider_unavailable"
	CodeProviderError         = "provider_error"
	CodeUnsupportedPlatform  = "unsupported_platform"
	CodeRollbackFailed        = "rollback_failed"
	CodeRollbackDepthExceeded = "rollback_depth_exceeded"
	CodeDependencyFailed      = "dependency_failed"
	CodeWatcherFailed         = "watcher_failed"
	CodeConflictRejected      = "conflict_rejected"
	CodeTriggerDisabled       = "trigger_disabled"
	CodeInternalError         = "internal_error"
	CodeUserRejected          = "user_rejected"
)

// EngineError is the one error type used throughout the core. It carries a
// retry classification, a taxonomy code, and optional recovery guidance so a
// caller (often the LLM itself) can self-correct.
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Err       error                  `json:"-"`
	Recovery  *RecoveryHint          `json:"recovery,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// RecoveryHint tells the caller exactly what to submit next to self-correct,
// per spec.md §7's requirement for permission_not_granted in particular.
type RecoveryHint struct {
	Module string                 `json:"module"`
	Action string                 `json:"action"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

func (e *EngineError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s/%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Code, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s/%s] %s (resource=%s): %s", e.Class, e.Code, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s/%s] %s: %s", e.Class, e.Code, e.Message, e.unwrapMessage())
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality for errors.Is keyed on class+code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{Class: class, Code: code, Message: message, Err: err}
}

// NewTransientError creates a retryable transient error.
func NewTransientError(code, message string, err error) *EngineError {
	return newError(ErrorClassTransient, code, message, err)
}

// NewThrottledError creates a retryable throttled error with a wait hint.
func NewThrottledError(code, message string, err error) *EngineError {
	return newError(ErrorClassThrottled, code, message, err)
}

// NewConflictError creates a retryable conflict error.
func NewConflictError(code, message string, err error) *EngineError {
	return newError(ErrorClassConflict, code, message, err)
}

// NewPermanentError creates a terminal, non-retryable error.
func NewPermanentError(code, message string, err error) *EngineError {
	return newError(ErrorClassPermanent, code, message, err)
}

// WithResource attaches the offending resource/action id.
func (e *EngineError) WithResource(id string) *EngineError { e.Resource = id; return e }

// WithOperation attaches the operation name.
func (e *EngineError) WithOperation(op string) *EngineError { e.Operation = op; return e }

// WithRecovery attaches a recovery hint for the caller to act on.
func (e *EngineError) WithRecovery(hint *RecoveryHint) *EngineError { e.Recovery = hint; return e }

// WithDetail attaches a single detail field.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsRetryable reports whether err (or something it wraps) is retryable:
// transient, throttled, or conflict. Parse/validation/permission/intent
// errors are always terminal.
func IsRetryable(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		switch e.Class {
		case ErrorClassTransient, ErrorClassThrottled, ErrorClassConflict:
			return true
		}
	}
	return false
}

// IsTerminalSecurity reports whether err is a security-stage error that must
// never be retried regardless of its class (permission_denied in particular).
func IsTerminalSecurity(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		switch e.Code {
		case CodePermissionDenied, CodePermissionNotGranted, CodeScanBlocked, CodeSuspiciousIntent:
			return true
		}
	}
	return false
}

// ClassOf returns the error's class, or "" if err isn't an *EngineError.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// CodeOf returns the error's taxonomy code, or "" if err isn't an *EngineError.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
