// Package workflow implements the task-dependency engine coordinating a
// three-party donation process: beneficiary organization, contributor, and
// independent valuator. Tasks form a DAG per workflow instance; completion
// cascades availability to dependents, and branch decisions rewrite the
// remaining graph in place.
package workflow

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for caller handling.
type ErrorClass string

const (
	// ErrorClassValidation indicates a payload or request that does not match
	// the task kind's required shape. Never retried.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassConflict indicates the task is already completed or a
	// concurrent write lost the race. Never retried automatically.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassDependency indicates an attempt to complete a blocked task.
	ErrorClassDependency ErrorClass = "dependency"

	// ErrorClassNotFound indicates an unknown instance or task.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassTemplate indicates a cyclic or dangling-reference template.
	// Fatal at template-load time, never seen for an instantiated graph.
	ErrorClassTemplate ErrorClass = "template"

	// ErrorClassDispatch indicates a notification/signing/valuation bridge
	// failure. The task completion it accompanied is not rolled back.
	ErrorClassDispatch ErrorClass = "dispatch"

	// ErrorClassInternal indicates an engine invariant violation.
	ErrorClassInternal ErrorClass = "internal"
)

// WorkflowError represents a classified error with workflow context.
// nolint:revive // WorkflowError is intentionally named to distinguish from standard errors
type WorkflowError struct {
	// Class is the error classification for caller handling.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Instance is the workflow instance ID, if applicable.
	Instance string `json:"instance,omitempty"`

	// Task is the task ID that caused the error, if applicable.
	Task string `json:"task,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Task != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (task=%s, operation=%s): %s",
			e.Class, e.Message, e.Task, e.Operation, e.unwrapMessage())
	}
	if e.Task != "" {
		return fmt.Sprintf("[%s] %s (task=%s): %s",
			e.Class, e.Message, e.Task, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *WorkflowError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassValidation,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewDependencyViolation creates an error for acting on a blocked task.
func NewDependencyViolation(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassDependency,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassNotFound,
		Message: message,
		Err:     err,
	}
}

// NewTemplateError creates an error for an invalid task graph template.
func NewTemplateError(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassTemplate,
		Message: message,
		Err:     err,
	}
}

// NewDispatchError creates an error for a failed external dispatch.
func NewDispatchError(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassDispatch,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates an error for an engine invariant violation.
func NewInternalError(message string, err error) *WorkflowError {
	return &WorkflowError{
		Class:   ErrorClassInternal,
		Message: message,
		Err:     err,
	}
}

// WithInstance adds instance context to an error.
func (e *WorkflowError) WithInstance(instanceID string) *WorkflowError {
	e.Instance = instanceID
	return e
}

// WithTask adds task context to an error.
func (e *WorkflowError) WithTask(taskID string) *WorkflowError {
	e.Task = taskID
	return e
}

// WithOperation adds operation context to an error.
func (e *WorkflowError) WithOperation(operation string) *WorkflowError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *WorkflowError) WithCode(code string) *WorkflowError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *WorkflowError) WithDetail(key string, value interface{}) *WorkflowError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsDependencyViolation returns true if the error reports a blocked task.
func IsDependencyViolation(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassDependency
	}
	return false
}

// IsNotFound returns true if the error is classified as not-found.
func IsNotFound(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassNotFound
	}
	return false
}

// IsTemplateInvalid returns true if the error reports an invalid template.
func IsTemplateInvalid(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTemplate
	}
	return false
}

// IsDispatch returns true if the error reports a failed external dispatch.
func IsDispatch(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassDispatch
	}
	return false
}

// IsRetryable returns true if retrying the same request may succeed. Only
// store-level write races qualify; a completion conflict is a final answer.
func IsRetryable(err error) bool {
	var e *WorkflowError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict && e.Code == ErrCodeStaleWrite
	}
	return false
}

// Common error codes.
const (
	ErrCodePayloadShape     = "PAYLOAD_SHAPE"
	ErrCodeUnknownOption    = "UNKNOWN_OPTION"
	ErrCodeAlreadyCompleted = "ALREADY_COMPLETED"
	ErrCodeStaleWrite       = "STALE_WRITE"
	ErrCodeBlocked          = "BLOCKED"
	ErrCodeUnknownTask      = "UNKNOWN_TASK"
	ErrCodeUnknownInstance  = "UNKNOWN_INSTANCE"
	ErrCodeUnknownActor     = "UNKNOWN_ACTOR"
	ErrCodeActorMismatch    = "ACTOR_MISMATCH"
	ErrCodeCycle            = "CYCLE"
	ErrCodeDanglingRef      = "DANGLING_REFERENCE"
	ErrCodeDuplicateTask    = "DUPLICATE_TASK"
	ErrCodeNotExpirable     = "NOT_EXPIRABLE"
	ErrCodeDispatchFailed   = "DISPATCH_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
