package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/smithy-go"
)

// Success serializes a tool result. The call arguments are echoed into the
// document for traceability, then the domain payload is merged over them.
func Success(args map[string]any, payload map[string]any) string {
	doc := make(map[string]any, len(args)+len(payload))
	for k, v := range args {
		doc[k] = v
	}
	for k, v := range payload {
		doc[k] = v
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return Failure(fmt.Sprintf("failed to serialize result: %v", err), args)
	}
	return string(b)
}

// Failure serializes the fixed error envelope: a top-level "error" message
// with the call arguments echoed as strings.
func Failure(message string, args map[string]any) string {
	doc := make(map[string]any, len(args)+1)
	for k, v := range args {
		doc[k] = fmt.Sprintf("%v", v)
	}
	doc["error"] = message
	b, err := json.Marshal(doc)
	if err != nil {
		return `{"error":"failed to serialize error envelope"}`
	}
	return string(b)
}

// ErrorMessage returns the envelope's error string, or "" for success
// documents and non-JSON input.
func ErrorMessage(doc string) string {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		return ""
	}
	if msg, ok := parsed["error"].(string); ok {
		return msg
	}
	return ""
}

// IsError reports whether a tool document carries the error envelope.
func IsError(doc string) bool {
	return ErrorMessage(doc) != ""
}

// awsError renders an SDK failure as "Code: message" when the service
// returned a coded error, falling back to the plain error text.
func awsError(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err.Error()
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	}
	return false
}

// clampLimit bounds a caller-provided item count to [1, max].
func clampLimit(n, max int) int {
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
