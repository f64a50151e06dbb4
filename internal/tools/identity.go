package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// IdentityTools inspects IAM roles and their effective permissions. Policy
// substring analysis is fast but blind to condition blocks and NotAction;
// simulate_permission is the authoritative check when the caller may call
// iam:SimulatePrincipalPolicy.
type IdentityTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewIdentityTools(client *cloudclient.Client, logger *zap.Logger) *IdentityTools {
	return &IdentityTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *IdentityTools) Register(reg *Registry) {
	reg.Set("get_role_config",
		"Fetch an IAM role with its attached and inline policy names",
		t.GetRoleConfig)
	reg.Set("analyze_role_permissions",
		"Scan a role's policy documents for a specific action, reporting allow/deny matches",
		t.AnalyzeRolePermissions)
	reg.Set("simulate_permission",
		"Authoritatively simulate whether a role may perform an action on a resource",
		t.SimulatePermission)
}

// GetRoleConfig returns the role plus its policy inventory.
func (t *IdentityTools) GetRoleConfig(ctx context.Context, args map[string]any) string {
	roleName := stringArg(args, "role_name")
	if roleName == "" {
		return Failure("role_name is required", args)
	}

	role, err := t.client.IAM().GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(roleName)})
	if err != nil {
		return Failure(awsError(err), args)
	}

	config := map[string]any{
		"role_name":   aws.ToString(role.Role.RoleName),
		"role_arn":    aws.ToString(role.Role.Arn),
		"create_date": fmtTime(role.Role.CreateDate),
	}
	if role.Role.MaxSessionDuration != nil {
		config["max_session_duration"] = aws.ToInt32(role.Role.MaxSessionDuration)
	}

	attached, err := t.client.IAM().ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err == nil {
		names := make([]string, 0, len(attached.AttachedPolicies))
		for _, p := range attached.AttachedPolicies {
			names = append(names, aws.ToString(p.PolicyName))
		}
		config["attached_policies"] = names
	}

	inline, err := t.client.IAM().ListRolePolicies(ctx, &iam.ListRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err == nil {
		config["inline_policies"] = inline.PolicyNames
	}

	return Success(args, map[string]any{"config": config})
}

// policyStatement is the tolerant shape for one policy statement. Action and
// Resource may each be a string or an array.
type policyStatement struct {
	Effect   string `json:"Effect"`
	Action   any    `json:"Action"`
	Resource any    `json:"Resource"`
}

type policyDocument struct {
	Statement []policyStatement `json:"Statement"`
}

// AnalyzeRolePermissions scans every policy document attached to the role
// for the requested action. Substring matching cannot see condition blocks
// or NotAction, so callers treat matches as strong hints, not proof.
func (t *IdentityTools) AnalyzeRolePermissions(ctx context.Context, args map[string]any) string {
	roleName := stringArg(args, "role_name")
	action := stringArg(args, "action")
	if roleName == "" || action == "" {
		return Failure("role_name and action are required", args)
	}

	var allows, denies []string

	scan := func(policyName, document string) {
		decoded, err := url.QueryUnescape(document)
		if err != nil {
			decoded = document
		}
		var doc policyDocument
		if json.Unmarshal([]byte(decoded), &doc) != nil {
			return
		}
		for _, stmt := range doc.Statement {
			if !actionMatches(stmt.Action, action) {
				continue
			}
			switch strings.ToLower(stmt.Effect) {
			case "allow":
				allows = append(allows, policyName)
			case "deny":
				denies = append(denies, policyName)
			}
		}
	}

	inline, err := t.client.IAM().ListRolePolicies(ctx, &iam.ListRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}
	for _, policyName := range inline.PolicyNames {
		out, err := t.client.IAM().GetRolePolicy(ctx, &iam.GetRolePolicyInput{
			RoleName:   aws.String(roleName),
			PolicyName: aws.String(policyName),
		})
		if err != nil {
			continue
		}
		scan(policyName, aws.ToString(out.PolicyDocument))
	}

	attached, err := t.client.IAM().ListAttachedRolePolicies(ctx, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	if err == nil {
		for _, p := range attached.AttachedPolicies {
			policy, err := t.client.IAM().GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: p.PolicyArn})
			if err != nil || policy.Policy == nil {
				continue
			}
			version, err := t.client.IAM().GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
				PolicyArn: p.PolicyArn,
				VersionId: policy.Policy.DefaultVersionId,
			})
			if err != nil || version.PolicyVersion == nil {
				continue
			}
			scan(aws.ToString(p.PolicyName), aws.ToString(version.PolicyVersion.Document))
		}
	}

	return Success(args, map[string]any{
		"analysis": map[string]any{
			"role_name":          roleName,
			"action":             action,
			"allowed_by":         allows,
			"denied_by":          denies,
			"explicitly_denied":  len(denies) > 0,
			"explicitly_allowed": len(allows) > 0,
			"method":             "policy_substring",
		},
	})
}

// actionMatches reports whether a statement's Action field covers the
// requested action, honoring trailing-wildcard patterns like "states:*".
func actionMatches(field any, action string) bool {
	match := func(pattern string) bool {
		if pattern == "*" || pattern == action {
			return true
		}
		if strings.HasSuffix(pattern, "*") {
			return strings.HasPrefix(action, strings.TrimSuffix(pattern, "*"))
		}
		return false
	}
	switch v := field.(type) {
	case string:
		return match(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && match(s) {
				return true
			}
		}
	}
	return false
}

// SimulatePermission runs iam:SimulatePrincipalPolicy for one action against
// one resource. This is the authoritative answer when available.
func (t *IdentityTools) SimulatePermission(ctx context.Context, args map[string]any) string {
	roleARN := stringArg(args, "role_arn")
	action := stringArg(args, "action")
	if roleARN == "" || action == "" {
		return Failure("role_arn and action are required", args)
	}

	input := &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: aws.String(roleARN),
		ActionNames:     []string{action},
	}
	if resource := stringArg(args, "resource_arn"); resource != "" {
		input.ResourceArns = []string{resource}
	}

	out, err := t.client.IAM().SimulatePrincipalPolicy(ctx, input)
	if err != nil {
		return Failure(awsError(err), args)
	}

	results := make([]map[string]any, 0, len(out.EvaluationResults))
	for _, r := range out.EvaluationResults {
		results = append(results, map[string]any{
			"action":   aws.ToString(r.EvalActionName),
			"resource": aws.ToString(r.EvalResourceName),
			"decision": string(r.EvalDecision),
		})
	}

	return Success(args, map[string]any{
		"simulation": map[string]any{
			"role_arn": roleARN,
			"results":  results,
			"method":   "simulate_principal_policy",
		},
	})
}

// RoleNameCandidates produces the ordered list of role names to try for a
// resource when the exact execution role is unknown. Patterns may contain
// one %s which is substituted with the resource name.
func RoleNameCandidates(resourceName string, patterns []string) []string {
	if len(patterns) == 0 {
		patterns = DefaultRolePatterns
	}
	candidates := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if strings.Contains(p, "%s") {
			candidates = append(candidates, fmt.Sprintf(p, resourceName))
		} else {
			candidates = append(candidates, p)
		}
	}
	return candidates
}

// DefaultRolePatterns is the compiled-in candidate list for execution role
// guessing, most specific first.
var DefaultRolePatterns = []string{
	"%s-role",
	"%s-execution-role",
	"%s-lambda-role",
	"%s",
}
