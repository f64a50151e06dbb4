// Package discover expands parsed inputs into the full set of resources to
// investigate. Primary targets seed the set; every trace ID contributes the
// resources its segments touched; human API Gateway names are resolved to
// REST API identifiers. The result is de-duplicated in first-seen order.
package discover

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/tools"
)

// Discoverer resolves and expands investigation targets through the tool
// layer.
type Discoverer struct {
	caller tools.Caller
	logger *zap.Logger
}

func New(caller tools.Caller, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{caller: caller, logger: logger}
}

// Discover returns the resources to collect evidence for. Seed targets come
// first, then trace-derived resources in trace order. Duplicates collapse on
// Resource.Key; the first occurrence wins so explicit targets keep their
// metadata.
func (d *Discoverer) Discover(ctx context.Context, parsed investigation.ParsedInputs) []investigation.Resource {
	var out []investigation.Resource
	seen := make(map[string]bool)

	add := func(r investigation.Resource) {
		key := r.Key()
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, r)
	}

	for _, target := range parsed.PrimaryTargets {
		add(d.resolve(ctx, target))
	}

	for _, traceID := range parsed.TraceIDs {
		for _, r := range d.fromTrace(ctx, traceID) {
			add(r)
		}
	}

	d.logger.Info("Resource discovery complete",
		zap.Int("seed_targets", len(parsed.PrimaryTargets)),
		zap.Int("trace_ids", len(parsed.TraceIDs)),
		zap.Int("resources", len(out)))
	return out
}

// resolve refines a single target. Today the only refinement is API Gateway
// name resolution; other types pass through unchanged.
func (d *Discoverer) resolve(ctx context.Context, r investigation.Resource) investigation.Resource {
	if r.Type != "apigateway" || r.Name == "" || tools.APIIDPattern.MatchString(r.Name) {
		return r
	}

	raw := d.caller.Call(ctx, "resolve_api_id", map[string]any{"name_or_id": r.Name})
	if tools.IsError(raw) {
		d.logger.Warn("API name resolution failed",
			zap.String("api_name", r.Name),
			zap.String("reason", tools.ErrorMessage(raw)))
		return withMetadata(r, "resolution_failed", true)
	}

	var resp struct {
		APIID    string `json:"api_id"`
		Resolved bool   `json:"resolved"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil || resp.APIID == "" {
		return withMetadata(r, "resolution_failed", true)
	}

	resolved := r
	resolved.Metadata = copyMetadata(r.Metadata)
	resolved.Metadata["api_id"] = resp.APIID
	if resp.Resolved {
		resolved.Metadata["api_name"] = r.Name
	}
	return resolved
}

// fromTrace extracts the resources a trace touched. A failed trace lookup
// yields no resources; the collector surfaces the failure as evidence later.
func (d *Discoverer) fromTrace(ctx context.Context, traceID string) []investigation.Resource {
	raw := d.caller.Call(ctx, "get_all_resources_from_trace", map[string]any{"trace_id": traceID})
	if tools.IsError(raw) {
		d.logger.Warn("Trace resource extraction failed",
			zap.String("trace_id", traceID),
			zap.String("reason", tools.ErrorMessage(raw)))
		return nil
	}

	var resp struct {
		Resources []struct {
			Type string `json:"type"`
			Name string `json:"name"`
			ARN  string `json:"arn"`
		} `json:"resources"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		d.logger.Warn("Unparseable trace resource payload", zap.String("trace_id", traceID), zap.Error(err))
		return nil
	}

	resources := make([]investigation.Resource, 0, len(resp.Resources))
	for _, r := range resp.Resources {
		if r.Name == "" && r.ARN == "" {
			continue
		}
		resources = append(resources, investigation.Resource{
			Type: r.Type,
			Name: r.Name,
			ARN:  r.ARN,
			Metadata: map[string]any{
				"discovered_from_trace": traceID,
			},
		})
	}
	return resources
}

func withMetadata(r investigation.Resource, key string, value any) investigation.Resource {
	r.Metadata = copyMetadata(r.Metadata)
	r.Metadata[key] = value
	return r
}

func copyMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md)+2)
	for k, v := range md {
		out[k] = v
	}
	return out
}
