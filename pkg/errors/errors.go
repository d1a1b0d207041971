// Package errors provides the standardized fatal-error type used across kelora's
// stages. Per-event errors (parse/filter/exec failures) are NOT represented here —
// those are plain errors recovered locally by resilient mode. AppError is reserved
// for errors that terminate a source, a run, or the process (spec §7 kinds 1, 2,
// 5, 8, 9).
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// AppError represents a standardized, fatal application error.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   Severity               `json:"severity"`
}

// Severity levels for errors.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Error codes, grouped by the error kinds spec.md §7 names.
const (
	CodeUsage          = "USAGE_INVALID"         // kind 1: bad flags, conflicting options
	CodeIO             = "IO_FAILURE"            // kind 2: source open/read/decode failure
	CodeScriptCompile  = "SCRIPT_COMPILE_FAILED" // a script stage failed while running; compile failures use CodeUsage
	CodeStateForbidden = "STATE_FORBIDDEN"       // kind 8: state touched in parallel mode
	CodeSealedConf     = "CONF_SEALED"           // kind 8: write to conf after begin
	CodeInternal       = "INTERNAL_INVARIANT"    // kind 9: invariant violation / bug
)

// New creates a new standardized error, capturing the caller's location.
func New(code, component, operation, message string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	return &AppError{
		Code:       code,
		Message:    message,
		Component:  component,
		Operation:  operation,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
		Severity:   SeverityHigh,
	}
}

// NewWithSeverity creates an error with a specific severity.
func NewWithSeverity(severity Severity, code, component, operation, message string) *AppError {
	err := New(code, component, operation, message)
	err.Severity = severity
	return err
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Wrap attaches a cause to the error.
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithMetadata attaches a diagnostic key/value pair (e.g. line number, source, stage).
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ToMap converts the error to a map for structured logging via logrus.WithFields.
func (e *AppError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code":      e.Code,
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_severity":  string(e.Severity),
	}
	if e.Cause != nil {
		result["error_cause"] = e.Cause.Error()
	}
	for k, v := range e.Metadata {
		result["error_meta_"+k] = v
	}
	return result
}

// ExitCode maps the error kind to the process exit code the CLI contract promises.
func (e *AppError) ExitCode() int {
	if e.Code == CodeUsage {
		return 2
	}
	return 1
}

// UsageError creates a usage error (exit 2): unknown flag, conflicting options,
// malformed format spec, invalid script compilation source.
func UsageError(operation, message string) *AppError {
	return New(CodeUsage, "cli", operation, message)
}

// ScriptCompileError creates the error the pipeline drivers return when a
// begin/filter/exec/end/span-close stage fails while running and the run
// stops (exit 1). script.Compile reports compile failures with UsageError
// instead (exit 2).
func ScriptCompileError(stage, message string, cause error) *AppError {
	return New(CodeScriptCompile, "script", stage, message).Wrap(cause)
}

// IOError creates an I/O error for a source (fatal to that source).
func IOError(source, message string, cause error) *AppError {
	return New(CodeIO, "reader", source, message).Wrap(cause)
}

// StateForbiddenError creates the fatal error raised the first time a builtin
// touches `state` while running in parallel mode.
func StateForbiddenError(builtin string) *AppError {
	return NewWithSeverity(SeverityCritical, CodeStateForbidden, "script", builtin,
		"state is not accessible in parallel mode")
}

// SealedConfError creates the fatal error raised when a script assigns to
// conf after the begin stage has already run and sealed it.
func SealedConfError() *AppError {
	return NewWithSeverity(SeverityCritical, CodeSealedConf, "script", "set",
		"conf is sealed after begin and cannot be mutated")
}

// IsAppError reports whether err is an *AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// AsAppError converts an error to *AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}
