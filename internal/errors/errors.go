// Package errors defines the structured error taxonomy for the RCA engine.
// Every boundary-visible failure carries a code, a category, and a recovery
// suggestion; recoverable conditions inside the pipeline never surface as
// errors at all.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCategory classifies the type of error
type ErrorCategory string

const (
	// ClientError indicates the error was caused by the caller (4xx)
	ClientError ErrorCategory = "CLIENT_ERROR"
	// ServerError indicates the error was caused by the engine (5xx)
	ServerError ErrorCategory = "SERVER_ERROR"
	// ExternalError indicates the error was caused by an external dependency
	ExternalError ErrorCategory = "EXTERNAL_ERROR"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Client errors
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"

	// Engine errors
	CodeInternalError    ErrorCode = "INTERNAL_ERROR"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
	CodeInsufficientData ErrorCode = "INSUFFICIENT_DATA"

	// External errors
	CodeCredentialError ErrorCode = "CREDENTIAL_ERROR"
	CodeToolError       ErrorCode = "TOOL_ERROR"
	CodeLLMError        ErrorCode = "LLM_ERROR"
	CodeNetworkError    ErrorCode = "NETWORK_ERROR"
)

// StructuredError represents a detailed error with category, code, and recovery suggestion
type StructuredError struct {
	Code       ErrorCode     `json:"code"`
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	Details    interface{}   `json:"details,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// ToJSON converts the error to JSON string
func (e *StructuredError) ToJSON() string {
	bytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"code":"%s","category":"%s","message":"%s"}`, e.Code, e.Category, e.Message)
	}
	return string(bytes)
}

// New creates a new structured error
func New(code ErrorCode, category ErrorCategory, message string) *StructuredError {
	return &StructuredError{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

// WithDetails adds details to the error
func (e *StructuredError) WithDetails(details interface{}) *StructuredError {
	e.Details = details
	return e
}

// WithSuggestion adds a recovery suggestion to the error
func (e *StructuredError) WithSuggestion(suggestion string) *StructuredError {
	e.Suggestion = suggestion
	return e
}

// Common error constructors

// NewInvalidInput creates an invalid input error
func NewInvalidInput(message string) *StructuredError {
	return New(CodeInvalidInput, ClientError, message).
		WithSuggestion("Check the investigation payload and try again")
}

// NewMissingParameter creates a missing parameter error
func NewMissingParameter(param string) *StructuredError {
	return New(CodeMissingParameter, ClientError, fmt.Sprintf("Required parameter '%s' is missing", param)).
		WithSuggestion(fmt.Sprintf("Provide the '%s' parameter", param))
}

// NewCredentialError creates a credential acquisition error. This is fatal
// for the investigation that hit it.
func NewCredentialError(message string) *StructuredError {
	return New(CodeCredentialError, ExternalError, message).
		WithSuggestion("Verify the role ARN, external ID, and base credentials")
}

// NewInsufficientData marks an investigation that had nothing to work with.
func NewInsufficientData(reason string) *StructuredError {
	return New(CodeInsufficientData, ClientError, reason).
		WithSuggestion("Provide a trace ID or at least one resource to investigate")
}

// NewToolError wraps a tool failure. Tool errors are handled locally in
// specialists and only reach a boundary through diagnostics.
func NewToolError(tool, message string) *StructuredError {
	return New(CodeToolError, ExternalError, fmt.Sprintf("tool %s: %s", tool, message)).
		WithDetails(map[string]interface{}{"tool": tool}).
		WithSuggestion("The affected tool was skipped; results may be partial")
}

// NewLLMError wraps a model transport or parse failure. Phases fall back to
// their deterministic heuristics on this error.
func NewLLMError(message string) *StructuredError {
	return New(CodeLLMError, ExternalError, message).
		WithSuggestion("The deterministic fallback was used for this phase")
}

// NewDeadlineExceeded creates a deadline error for the named stage.
func NewDeadlineExceeded(stage string) *StructuredError {
	return New(CodeDeadlineExceeded, ServerError, fmt.Sprintf("stage '%s' exceeded its deadline", stage)).
		WithSuggestion("Partial results were kept where possible; raise the timeout if this recurs")
}

// NewInternalError creates an internal engine error
func NewInternalError(message string) *StructuredError {
	return New(CodeInternalError, ServerError, message).
		WithSuggestion("Try again later or file an issue if the problem persists")
}

// NewNetworkError creates a network error
func NewNetworkError(message string) *StructuredError {
	return New(CodeNetworkError, ExternalError, message).
		WithSuggestion("Check network reachability of the cloud APIs and try again")
}

// IsCode reports whether err is (or wraps) a StructuredError with the code.
func IsCode(err error, code ErrorCode) bool {
	var se *StructuredError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}
