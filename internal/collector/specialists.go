package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/tools"
)

// toolFailureConfidence is the confidence of the fact recording a failed
// tool call. The failure itself is certain; what it implies is not.
const toolFailureConfidence = 0.7

// specialist extracts facts for one resource type.
type specialist func(c *Collector, ctx context.Context, agg *aggregator, r investigation.Resource)

var specialists = map[string]specialist{
	"lambda":        (*Collector).collectLambda,
	"apigateway":    (*Collector).collectAPIGateway,
	"stepfunctions": (*Collector).collectStepFunctions,
	"s3":            (*Collector).collectS3,
	"sqs":           (*Collector).collectSQS,
	"sns":           (*Collector).collectSNS,
	"eventbridge":   (*Collector).collectEventBridge,
	"dynamodb":      (*Collector).collectDynamoDB,
	"ec2":           (*Collector).collectEC2,
	"iam":           (*Collector).collectIAM,
}

// collectResource dispatches to the type's specialist. Unknown types get a
// single low-confidence fact so the reasoning phases still see the resource.
func (c *Collector) collectResource(ctx context.Context, agg *aggregator, r investigation.Resource) {
	sp, ok := specialists[r.Type]
	if !ok {
		agg.add(r.Key(), investigation.NewFact(
			r.Key(),
			fmt.Sprintf("Resource %s has unrecognized type %q; no specialist evidence collected", r.Name, r.Type),
			0.5,
		))
		return
	}
	sp(c, ctx, agg, r)
}

// call runs one tool and hands a decoded payload to extract. A tool error
// becomes a single failure fact; extract is only invoked on success.
func (c *Collector) call(ctx context.Context, agg *aggregator, r investigation.Resource, tool string, args map[string]any, extract func(payload map[string]any) []investigation.Fact) {
	raw := c.caller.Call(ctx, tool, args)
	if tools.IsError(raw) {
		agg.add(r.Key(), investigation.NewFact(
			r.Key(),
			fmt.Sprintf("%s failed: %s", tool, tools.ErrorMessage(raw)),
			toolFailureConfidence,
		).WithMetadata("tool", tool))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		c.logger.Warn("Unparseable tool payload",
			zap.String("tool", tool),
			zap.String("resource", r.Key()),
			zap.Error(err))
		return
	}
	agg.add(r.Key(), extract(payload)...)
}

func (c *Collector) collectLambda(ctx context.Context, agg *aggregator, r investigation.Resource) {
	args := map[string]any{"function_name": r.Name}
	source := r.Key()

	c.call(ctx, agg, r, "get_function_config", args, func(p map[string]any) []investigation.Fact {
		cfg := getMap(p, "config")
		facts := []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
			"Lambda %s: runtime %s, timeout %.0fs, memory %.0fMB, state %s",
			r.Name, getStr(cfg, "runtime"), getNum(cfg, "timeout"), getNum(cfg, "memory_size"), getStr(cfg, "state"),
		), 0.9)}
		if state := getStr(cfg, "state"); state != "" && state != "Active" {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"Lambda %s is in state %s: %s", r.Name, state, getStr(cfg, "state_reason"),
			), 0.95))
		}
		return facts
	})

	c.call(ctx, agg, r, "get_function_metrics", args, func(p map[string]any) []investigation.Fact {
		m := getMap(p, "metrics")
		var facts []investigation.Fact
		if errs := getNum(getMap(m, "errors"), "total"); errs > 0 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"Lambda %s recorded %.0f invocation errors in the evidence window", r.Name, errs), 0.9))
		}
		if throttles := getNum(getMap(m, "throttles"), "total"); throttles > 0 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"Lambda %s was throttled %.0f times in the evidence window", r.Name, throttles), 0.9))
		}
		if len(facts) == 0 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"Lambda %s: %.0f invocations, no errors or throttles in the evidence window",
				r.Name, getNum(getMap(m, "invocations"), "total")), 0.8))
		}
		return facts
	})

	c.call(ctx, agg, r, "get_function_failed_invocations", args, func(p map[string]any) []investigation.Fact {
		failures := getSlice(p, "failed_invocations")
		var facts []investigation.Fact
		for i, f := range failures {
			if i >= 3 {
				break
			}
			if entry, ok := f.(map[string]any); ok {
				facts = append(facts, investigation.NewFact(source,
					fmt.Sprintf("Lambda %s failure log: %s", r.Name, getStr(entry, "message")), 0.95))
			}
		}
		if count := getNum(p, "failure_count"); count > float64(len(facts)) {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"Lambda %s has %.0f failed invocation log entries in the evidence window", r.Name, count), 0.9))
		}
		return facts
	})
}

func (c *Collector) collectAPIGateway(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()
	apiID := getStr(r.Metadata, "api_id")
	if apiID == "" && tools.APIIDPattern.MatchString(r.Name) {
		apiID = r.Name
	}
	stage := getStr(r.Metadata, "stage")
	if stage == "" {
		stage = "prod"
	}

	if apiID != "" {
		c.call(ctx, agg, r, "get_stage_config", map[string]any{"api_id": apiID, "stage": stage},
			func(p map[string]any) []investigation.Fact {
				cfg := getMap(p, "config")
				return []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
					"API Gateway %s stage %s: deployment %s, logging %v, cache %v",
					r.Name, stage, getStr(cfg, "deployment_id"),
					cfg["logging_level"], cfg["cache_cluster_enabled"]), 0.85)}
			})
	}

	c.call(ctx, agg, r, "get_apigateway_metrics", map[string]any{"api_name": r.Name},
		func(p map[string]any) []investigation.Fact {
			m := getMap(p, "metrics")
			var facts []investigation.Fact
			if n := getNum(getMap(m, "5xxerror"), "total"); n > 0 {
				facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
					"API Gateway %s returned %.0f HTTP 5XX responses in the evidence window", r.Name, n), 0.95))
			}
			if n := getNum(getMap(m, "4xxerror"), "total"); n > 0 {
				facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
					"API Gateway %s returned %.0f HTTP 4XX responses in the evidence window", r.Name, n), 0.9))
			}
			if lat := getNum(getMap(m, "latency"), "average"); lat > 0 {
				facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
					"API Gateway %s average latency %.0fms in the evidence window", r.Name, lat), 0.8))
			}
			return facts
		})
}

func (c *Collector) collectStepFunctions(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()
	args := map[string]any{"state_machine_arn": r.ARN, "state_machine_name": r.Name}

	c.call(ctx, agg, r, "list_recent_executions", args, func(p map[string]any) []investigation.Fact {
		var facts []investigation.Fact
		if failed := getNum(p, "failed_count"); failed > 0 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"State machine %s has %.0f failed executions among the %.0f most recent",
				r.Name, failed, getNum(p, "execution_count")), 0.95))
			for _, e := range getSlice(p, "executions") {
				entry, ok := e.(map[string]any)
				if !ok || getStr(entry, "status") == "SUCCEEDED" || getStr(entry, "status") == "RUNNING" {
					continue
				}
				facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
					"Execution %s ended %s", getStr(entry, "name"), getStr(entry, "status")), 0.9))
				break
			}
		} else {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"State machine %s: %.0f recent executions, none failed",
				r.Name, getNum(p, "execution_count")), 0.8))
		}
		return facts
	})

	c.call(ctx, agg, r, "get_state_machine_metrics", args, func(p map[string]any) []investigation.Fact {
		m := getMap(p, "metrics")
		var facts []investigation.Fact
		for metric, label := range map[string]string{
			"executionsfailed":   "failed",
			"executionstimedout": "timed out",
			"executionthrottled": "throttled",
		} {
			if n := getNum(getMap(m, metric), "total"); n > 0 {
				facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
					"State machine %s: %.0f executions %s in the evidence window", r.Name, n, label), 0.9))
			}
		}
		return facts
	})
}

func (c *Collector) collectS3(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()
	args := map[string]any{"bucket": r.Name}

	c.call(ctx, agg, r, "check_bucket_access", args, func(p map[string]any) []investigation.Fact {
		if accessible, ok := p["accessible"].(bool); ok && !accessible {
			return []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
				"S3 bucket %s is not accessible: %s", r.Name, getStr(p, "reason")), 0.95)}
		}
		return []investigation.Fact{investigation.NewFact(source,
			fmt.Sprintf("S3 bucket %s is accessible with current credentials", r.Name), 0.85)}
	})

	c.call(ctx, agg, r, "get_bucket_metrics", args, func(p map[string]any) []investigation.Fact {
		m := getMap(p, "metrics")
		var facts []investigation.Fact
		if n := getNum(getMap(m, "5xxerrors"), "total"); n > 0 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"S3 bucket %s served %.0f 5xx errors in the evidence window", r.Name, n), 0.9))
		}
		if n := getNum(getMap(m, "4xxerrors"), "total"); n > 0 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"S3 bucket %s served %.0f 4xx errors in the evidence window", r.Name, n), 0.9))
		}
		return facts
	})
}

func (c *Collector) collectSQS(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()
	args := map[string]any{"queue_name": r.Name}

	c.call(ctx, agg, r, "get_queue_config", args, func(p map[string]any) []investigation.Fact {
		// Queue attributes arrive as strings from the SQS API.
		cfg := getMap(p, "config")
		facts := []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
			"SQS queue %s: %s messages visible, %s not yet visible, visibility timeout %ss",
			r.Name, getStr(cfg, "approximate_messages"), getStr(cfg, "messages_not_visible"),
			getStr(cfg, "visibility_timeout")), 0.85)}
		if dlq := getStr(cfg, "dead_letter_target"); dlq != "" {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"SQS queue %s redrives to %s after %v receives", r.Name, dlq, cfg["max_receive_count"]), 0.85))
		}
		return facts
	})

	c.call(ctx, agg, r, "get_queue_metrics", args, func(p map[string]any) []investigation.Fact {
		m := getMap(p, "metrics")
		var facts []investigation.Fact
		if age := getNum(getMap(m, "approximateageofoldestmessage"), "max"); age > 300 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"SQS queue %s oldest message age reached %.0fs; consumers are falling behind", r.Name, age), 0.9))
		}
		return facts
	})
}

func (c *Collector) collectSNS(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()
	args := map[string]any{"topic_name": r.Name, "topic_arn": r.ARN}

	c.call(ctx, agg, r, "get_topic_config", args, func(p map[string]any) []investigation.Fact {
		cfg := getMap(p, "config")
		return []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
			"SNS topic %s: %s confirmed subscriptions, %s pending",
			r.Name, getStr(cfg, "subscriptions_confirmed"), getStr(cfg, "subscriptions_pending")), 0.85)}
	})

	c.call(ctx, agg, r, "get_topic_metrics", args, func(p map[string]any) []investigation.Fact {
		m := getMap(p, "metrics")
		if n := getNum(getMap(m, "numberofnotificationsfailed"), "total"); n > 0 {
			return []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
				"SNS topic %s failed to deliver %.0f notifications in the evidence window", r.Name, n), 0.9)}
		}
		return nil
	})
}

func (c *Collector) collectEventBridge(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()

	// Delivery metrics are per rule, so the bus config is fetched first and
	// the first rule's name feeds the metrics call.
	var firstRule string
	c.call(ctx, agg, r, "get_event_bus_config", map[string]any{"event_bus_name": r.Name},
		func(p map[string]any) []investigation.Fact {
			cfg := getMap(p, "config")
			if rules := getSlice(cfg, "rules"); len(rules) > 0 {
				if rule, ok := rules[0].(map[string]any); ok {
					firstRule = getStr(rule, "name")
				}
			}
			facts := []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
				"EventBridge bus %s: %.0f rules, %.0f disabled",
				r.Name, getNum(cfg, "rule_count"), getNum(cfg, "disabled_rules")), 0.85)}
			if getNum(cfg, "disabled_rules") > 0 {
				facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
					"EventBridge bus %s has disabled rules; events matching them are being dropped", r.Name), 0.85))
			}
			return facts
		})

	if firstRule == "" {
		return
	}
	c.call(ctx, agg, r, "get_event_bus_metrics", map[string]any{"rule_name": firstRule},
		func(p map[string]any) []investigation.Fact {
			m := getMap(p, "metrics")
			if n := getNum(getMap(m, "failedinvocations"), "total"); n > 0 {
				return []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
					"EventBridge rule %s: %.0f failed target invocations in the evidence window", firstRule, n), 0.9)}
			}
			return nil
		})
}

func (c *Collector) collectDynamoDB(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()
	args := map[string]any{"table_name": r.Name}

	c.call(ctx, agg, r, "get_table_config", args, func(p map[string]any) []investigation.Fact {
		cfg := getMap(p, "config")
		facts := []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
			"DynamoDB table %s: status %s, billing %s",
			r.Name, getStr(cfg, "table_status"), getStr(cfg, "billing_mode")), 0.85)}
		if status := getStr(cfg, "table_status"); status != "" && status != "ACTIVE" {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"DynamoDB table %s is not active (status %s)", r.Name, status), 0.95))
		}
		return facts
	})

	c.call(ctx, agg, r, "get_table_metrics", args, func(p map[string]any) []investigation.Fact {
		m := getMap(p, "metrics")
		var facts []investigation.Fact
		if n := getNum(getMap(m, "throttledrequests"), "total"); n > 0 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"DynamoDB table %s throttled %.0f requests in the evidence window", r.Name, n), 0.95))
		}
		if n := getNum(getMap(m, "systemerrors"), "total"); n > 0 {
			facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
				"DynamoDB table %s returned %.0f system errors in the evidence window", r.Name, n), 0.9))
		}
		return facts
	})
}

func (c *Collector) collectEC2(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()
	args := map[string]any{"instance_id": r.Name}

	c.call(ctx, agg, r, "get_instance_status", args, func(p map[string]any) []investigation.Fact {
		inst := getMap(p, "instance")
		facts := []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
			"EC2 instance %s: state %s, system status %s, instance status %s",
			r.Name, getStr(inst, "state"), getStr(inst, "system_status"), getStr(inst, "instance_status")), 0.85)}
		for _, key := range []string{"system_status", "instance_status"} {
			if s := getStr(inst, key); s != "" && s != "ok" {
				facts = append(facts, investigation.NewFact(source, fmt.Sprintf(
					"EC2 instance %s %s is %s", r.Name, strings.ReplaceAll(key, "_", " "), s), 0.9))
				break
			}
		}
		return facts
	})
}

func (c *Collector) collectIAM(ctx context.Context, agg *aggregator, r investigation.Resource) {
	source := r.Key()
	args := map[string]any{"role_name": r.Name}

	c.call(ctx, agg, r, "get_role_config", args, func(p map[string]any) []investigation.Fact {
		cfg := getMap(p, "config")
		return []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
			"IAM role %s: %d attached policies, %d inline policies",
			r.Name, len(getSlice(cfg, "attached_policies")), len(getSlice(cfg, "inline_policies"))), 0.85)}
	})

	if action := getStr(r.Metadata, "action"); action != "" {
		c.call(ctx, agg, r, "analyze_role_permissions", map[string]any{"role_name": r.Name, "action": action},
			func(p map[string]any) []investigation.Fact {
				a := getMap(p, "analysis")
				if denied, _ := a["explicitly_denied"].(bool); denied {
					return []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
						"IAM role %s is explicitly denied %s", r.Name, action), 0.95)}
				}
				if allowed, _ := a["explicitly_allowed"].(bool); !allowed {
					return []investigation.Fact{investigation.NewFact(source, fmt.Sprintf(
						"IAM role %s has no policy statement allowing %s", r.Name, action), 0.9)}
				}
				return nil
			})
	}
}

// healthFact converts a check_service_health payload into a fact. Healthy
// services produce nothing.
func healthFact(r investigation.Resource, raw string) (investigation.Fact, bool) {
	var p map[string]any
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return investigation.Fact{}, false
	}
	if healthy, ok := p["healthy"].(bool); !ok || healthy {
		return investigation.Fact{}, false
	}
	return investigation.NewFact("aws_health", fmt.Sprintf(
		"AWS Health reports %.0f open issues for %s in %s",
		getNum(p, "event_count"), getStr(p, "service"), getStr(p, "region")), 0.9), true
}

// auditFact surfaces recent configuration changes to a resource.
func auditFact(r investigation.Resource, raw string) (investigation.Fact, bool) {
	var p map[string]any
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return investigation.Fact{}, false
	}
	events := getSlice(p, "events")
	if len(events) == 0 {
		return investigation.Fact{}, false
	}
	latest, ok := events[0].(map[string]any)
	if !ok {
		return investigation.Fact{}, false
	}
	return investigation.NewFact("cloudtrail", fmt.Sprintf(
		"%s was modified recently: %s by %s at %s (%d change events in window)",
		r.Name, getStr(latest, "event_name"), getStr(latest, "username"),
		getStr(latest, "event_time"), len(events)), 0.85), true
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func getSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	v, _ := m[key].([]any)
	return v
}

func getStr(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func getNum(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
