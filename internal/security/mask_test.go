package security

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "***", MaskAPIKey("short"))
	assert.Equal(t, "sk-a...wxyz", MaskAPIKey("sk-ant-api03-abcdwxyz"))
}

func TestMaskExternalID(t *testing.T) {
	assert.Equal(t, "", MaskExternalID(""))
	assert.Equal(t, "***REDACTED***", MaskExternalID("unique-external-id"))
}

func TestMaskRoleARN(t *testing.T) {
	tests := []struct {
		name string
		arn  string
		want string
	}{
		{
			name: "simple role",
			arn:  "arn:aws:iam::123456789012:role/investigator",
			want: "arn:aws:iam::123456789012:role/investigator",
		},
		{
			name: "role with path",
			arn:  "arn:aws:iam::123456789012:role/teams/payments/investigator",
			want: "arn:aws:iam::123456789012:role/.../investigator",
		},
		{
			name: "not an arn",
			arn:  "investigator",
			want: "investigator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskRoleARN(tt.arn))
		})
	}
}

func TestMaskSensitiveData(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
		excludes string
	}{
		{
			name:     "api key",
			input:    `api_key="sk-ant-REDACTED"`,
			contains: "***REDACTED***",
			excludes: "verylongapikeyvalue123",
		},
		{
			name:     "aws secret access key",
			input:    "aws_secret_access_key=wJalrXUtnFEMIK7MDENGbPxRfiCYEXAMPLEKEY123",
			contains: "***REDACTED***",
			excludes: "wJalrXUtnFEMIK7MDENG",
		},
		{
			name:     "external id",
			input:    "external_id=tenant-42-shared-secret",
			contains: "***REDACTED***",
			excludes: "tenant-42-shared-secret",
		},
		{
			name:     "plain text untouched",
			input:    "Task timed out after 3.00 seconds",
			contains: "Task timed out after 3.00 seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskSensitiveData(tt.input)
			assert.Contains(t, got, tt.contains)
			if tt.excludes != "" {
				assert.NotContains(t, got, tt.excludes)
			}
		})
	}
}

func TestIsSensitiveField(t *testing.T) {
	assert.True(t, IsSensitiveField("api_key"))
	assert.True(t, IsSensitiveField("ExternalID"))
	assert.True(t, IsSensitiveField("Authorization"))
	assert.False(t, IsSensitiveField("trace_id"))
	assert.False(t, IsSensitiveField("function_name"))
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))

	err := errors.New("assume role failed: external_id=super-secret-value rejected")
	got := SanitizeError(err)
	assert.Contains(t, got, "assume role failed")
	assert.NotContains(t, got, "super-secret-value")
}

func TestSanitizeArgs(t *testing.T) {
	args := map[string]any{
		"function_name": "payment-processor",
		"api_key":       "sk-ant-REDACTED",
		"max_items":     10,
	}

	got := SanitizeArgs(args)
	assert.Equal(t, "payment-processor", got["function_name"])
	assert.Equal(t, "***REDACTED***", got["api_key"])
	assert.Equal(t, 10, got["max_items"])

	// Original untouched.
	assert.Equal(t, "sk-ant-REDACTED", args["api_key"])
	assert.Nil(t, SanitizeArgs(nil))
}
