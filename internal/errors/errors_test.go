package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestStructuredError(t *testing.T) {
	tests := []struct {
		name     string
		error    *StructuredError
		wantCode ErrorCode
		wantCat  ErrorCategory
	}{
		{
			name:     "invalid input error",
			error:    NewInvalidInput("test message"),
			wantCode: CodeInvalidInput,
			wantCat:  ClientError,
		},
		{
			name:     "missing parameter error",
			error:    NewMissingParameter("input"),
			wantCode: CodeMissingParameter,
			wantCat:  ClientError,
		},
		{
			name:     "credential error",
			error:    NewCredentialError("assume role denied"),
			wantCode: CodeCredentialError,
			wantCat:  ExternalError,
		},
		{
			name:     "insufficient data error",
			error:    NewInsufficientData("No resources or trace IDs identified"),
			wantCode: CodeInsufficientData,
			wantCat:  ClientError,
		},
		{
			name:     "tool error",
			error:    NewToolError("get_trace", "throttled"),
			wantCode: CodeToolError,
			wantCat:  ExternalError,
		},
		{
			name:     "llm error",
			error:    NewLLMError("unparseable response"),
			wantCode: CodeLLMError,
			wantCat:  ExternalError,
		},
		{
			name:     "deadline error",
			error:    NewDeadlineExceeded("collector"),
			wantCode: CodeDeadlineExceeded,
			wantCat:  ServerError,
		},
		{
			name:     "internal error",
			error:    NewInternalError("something went wrong"),
			wantCode: CodeInternalError,
			wantCat:  ServerError,
		},
		{
			name:     "network error",
			error:    NewNetworkError("connection refused"),
			wantCode: CodeNetworkError,
			wantCat:  ExternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.error.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", tt.error.Code, tt.wantCode)
			}
			if tt.error.Category != tt.wantCat {
				t.Errorf("Category = %v, want %v", tt.error.Category, tt.wantCat)
			}
			if tt.error.Message == "" {
				t.Error("Message should not be empty")
			}
			if tt.error.Suggestion == "" {
				t.Error("Suggestion should not be empty")
			}
		})
	}
}

func TestStructuredErrorWithDetails(t *testing.T) {
	err := NewInvalidInput("test").WithDetails(map[string]interface{}{
		"field": "input",
		"value": "",
	})

	details, ok := err.Details.(map[string]interface{})
	if !ok {
		t.Fatal("Details should be a map")
	}
	if details["field"] != "input" {
		t.Errorf("Details[field] = %v, want 'input'", details["field"])
	}
}

func TestStructuredErrorToJSON(t *testing.T) {
	err := NewCredentialError("role assumption failed")
	out := err.ToJSON()

	if !strings.Contains(out, string(CodeCredentialError)) {
		t.Errorf("JSON should contain code: %s", out)
	}
	if !strings.Contains(out, string(ExternalError)) {
		t.Errorf("JSON should contain category: %s", out)
	}
	if !strings.Contains(out, "role assumption failed") {
		t.Errorf("JSON should contain message: %s", out)
	}
}

func TestErrorInterface(t *testing.T) {
	err := NewInvalidInput("test")

	var _ error = err

	errStr := err.Error()
	if !strings.Contains(errStr, string(CodeInvalidInput)) {
		t.Errorf("Error() should contain code: %s", errStr)
	}
}

func TestIsCode(t *testing.T) {
	err := NewDeadlineExceeded("collector")
	if !IsCode(err, CodeDeadlineExceeded) {
		t.Error("IsCode should match the error's own code")
	}
	if IsCode(err, CodeInternalError) {
		t.Error("IsCode should not match a different code")
	}

	wrapped := fmt.Errorf("investigation failed: %w", err)
	if !IsCode(wrapped, CodeDeadlineExceeded) {
		t.Error("IsCode should unwrap wrapped errors")
	}
}
