// Package security provides masking utilities for logs and telemetry.
package security

import (
	"regexp"
	"strings"
)

// MaskAPIKey masks an API key, showing only the first 4 and last 4 characters
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

// MaskExternalID fully redacts an STS external ID; the value is a shared
// secret between accounts and must never appear in logs, even partially.
func MaskExternalID(externalID string) string {
	if externalID == "" {
		return ""
	}
	return "***REDACTED***"
}

// MaskRoleARN keeps the account and role name visible but hides the middle
// of long paths so session logs stay readable without leaking full ARNs.
func MaskRoleARN(arn string) string {
	parts := strings.Split(arn, "/")
	if len(parts) <= 2 {
		return arn
	}
	return parts[0] + "/.../" + parts[len(parts)-1]
}

// SensitivePatterns contains regex patterns for sensitive data
var SensitivePatterns = []*regexp.Regexp{
	// API keys (various formats)
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)[=:]["']?([a-zA-Z0-9_-]{20,})["']?`),
	// Bearer tokens
	regexp.MustCompile(`(?i)(bearer\s+)([a-zA-Z0-9_.-]{20,})`),
	// AWS secret access keys
	regexp.MustCompile(`(?i)(aws_secret_access_key|secret_access_key)[=:]["']?([a-zA-Z0-9/+=]{30,})["']?`),
	// AWS session tokens
	regexp.MustCompile(`(?i)(session_token|x-amz-security-token)[=:]["']?([a-zA-Z0-9/+=]{40,})["']?`),
	// External IDs for role assumption
	regexp.MustCompile(`(?i)(external[_-]?id)[=:]["']?([^"'\s&]+)["']?`),
	// Passwords in URLs or config
	regexp.MustCompile(`(?i)(password|passwd|pwd)[=:]["']?([^"'\s&]+)["']?`),
	// Secrets
	regexp.MustCompile(`(?i)(secret|token)[=:]["']?([a-zA-Z0-9_-]{16,})["']?`),
}

// MaskSensitiveData masks sensitive data in a string using pattern matching
func MaskSensitiveData(data string) string {
	result := data

	for _, pattern := range SensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			// Keep the key name, mask the value
			parts := pattern.FindStringSubmatch(match)
			if len(parts) >= 3 {
				return parts[1] + "***REDACTED***"
			}
			return "***REDACTED***"
		})
	}

	return result
}

// IsSensitiveField checks if a field name indicates sensitive data
func IsSensitiveField(fieldName string) bool {
	sensitiveNames := []string{
		"password", "passwd", "pwd",
		"secret", "token", "key", "apikey", "api_key",
		"authorization", "auth", "credential",
		"external_id", "externalid",
		"private", "ssh", "certificate", "cert",
	}

	fieldLower := strings.ToLower(fieldName)
	for _, name := range sensitiveNames {
		if strings.Contains(fieldLower, name) {
			return true
		}
	}

	return false
}

// SanitizeError removes sensitive data from error messages
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return MaskSensitiveData(err.Error())
}

// SanitizeArgs returns a copy of tool arguments with sensitive values
// masked, suitable for audit entries and span attributes.
func SanitizeArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if IsSensitiveField(k) {
			out[k] = "***REDACTED***"
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = MaskSensitiveData(s)
			continue
		}
		out[k] = v
	}
	return out
}
