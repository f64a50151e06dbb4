package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/tools"
)

// maxTraceFacts bounds how many facts one trace walk contributes before the
// per-group cap applies.
const maxTraceFacts = 8

// collectTrace runs the deep trace analysis for one trace ID: HTTP error
// statuses, fault and error flags, recorded exceptions, and correlated log
// entries. A failed trace fetch is itself evidence.
func (c *Collector) collectTrace(ctx context.Context, agg *aggregator, traceID string) {
	group := "trace:" + traceID
	source := "xray:" + traceID

	raw := c.caller.Call(ctx, "get_xray_trace", map[string]any{"trace_id": traceID})
	if tools.IsError(raw) {
		agg.add(group, investigation.NewFact(source,
			fmt.Sprintf("Trace %s could not be retrieved: %s", traceID, tools.ErrorMessage(raw)), 0.8))
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		agg.add(group, investigation.NewFact(source,
			fmt.Sprintf("Trace %s returned an unparseable payload", traceID), 0.8))
		return
	}

	trace := getMap(payload, "trace")
	segments := getSlice(trace, "segments")

	w := &traceWalk{source: source}
	for _, seg := range segments {
		if doc, ok := seg.(map[string]any); ok {
			w.walkSegment(doc, "")
		}
	}

	if len(w.facts) == 0 {
		agg.add(group, investigation.NewFact(source, fmt.Sprintf(
			"Trace %s: %d segments, no faults or HTTP errors recorded",
			traceID, len(segments)), 0.8))
	} else {
		if len(w.faultedNames) > 0 {
			agg.add(group, investigation.NewFact(source, fmt.Sprintf(
				"Trace %s: %d of %d segments recorded a fault or error (%s)",
				traceID, len(w.faultedNames), len(segments), strings.Join(w.faultedNames, ", ")), 0.9))
		}
		agg.add(group, w.facts...)
	}

	c.correlateLogs(ctx, agg, group, traceID)
}

// traceWalk accumulates facts while descending segments and subsegments.
type traceWalk struct {
	source       string
	facts        []investigation.Fact
	faultedNames []string
}

func (w *traceWalk) walkSegment(doc map[string]any, parent string) {
	name := getStr(doc, "name")
	if name == "" {
		name = parent
	}

	if status := getNum(getMap(doc, "http"), "status"); status == 0 {
		// Segment documents nest the status under http.response.
		if resp := getMap(getMap(doc, "http"), "response"); resp != nil {
			if s := getNum(resp, "status"); s >= 400 {
				w.emit(investigation.NewFact(w.source, fmt.Sprintf(
					"%s returned HTTP %.0f", name, s), 0.95))
			}
		}
	} else if status >= 400 {
		w.emit(investigation.NewFact(w.source, fmt.Sprintf(
			"%s returned HTTP %.0f", name, status), 0.95))
	}

	fault, _ := doc["fault"].(bool)
	errFlag, _ := doc["error"].(bool)
	throttle, _ := doc["throttle"].(bool)
	if fault || errFlag {
		w.faultedNames = append(w.faultedNames, name)
	}
	if throttle {
		w.emit(investigation.NewFact(w.source, fmt.Sprintf("%s was throttled", name), 0.95))
	}

	if cause := getMap(doc, "cause"); cause != nil {
		for _, ex := range getSlice(cause, "exceptions") {
			exc, ok := ex.(map[string]any)
			if !ok {
				continue
			}
			if msg := getStr(exc, "message"); msg != "" {
				w.emit(investigation.NewFact(w.source, fmt.Sprintf(
					"%s raised %s: %s", name, getStr(exc, "type"), msg), 0.95))
			}
		}
		if msg := getStr(cause, "message"); msg != "" {
			w.emit(investigation.NewFact(w.source, fmt.Sprintf("%s failed: %s", name, msg), 0.95))
		}
	}

	// Downstream AWS calls show up as subsegments with an aws block.
	for _, sub := range getSlice(doc, "subsegments") {
		subDoc, ok := sub.(map[string]any)
		if !ok {
			continue
		}
		subFault, _ := subDoc["fault"].(bool)
		subErr, _ := subDoc["error"].(bool)
		if (subFault || subErr) && getMap(subDoc, "aws") != nil {
			op := getStr(getMap(subDoc, "aws"), "operation")
			w.emit(investigation.NewFact(w.source, fmt.Sprintf(
				"Downstream call from %s to %s (%s) failed", name, getStr(subDoc, "name"), op), 0.9))
		}
		w.walkSegment(subDoc, name)
	}
}

func (w *traceWalk) emit(f investigation.Fact) {
	if len(w.facts) >= maxTraceFacts {
		return
	}
	w.facts = append(w.facts, f)
}

// correlateLogs pulls log entries mentioning the trace ID from the log
// groups of the resources the trace touched.
func (c *Collector) correlateLogs(ctx context.Context, agg *aggregator, group, traceID string) {
	raw := c.caller.Call(ctx, "query_logs_by_trace_id", map[string]any{"trace_id": traceID})
	if tools.IsError(raw) {
		return
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return
	}

	added := 0
	for _, ev := range getSlice(payload, "events") {
		if added >= 3 {
			break
		}
		entry, ok := ev.(map[string]any)
		if !ok {
			continue
		}
		msg := strings.TrimSpace(getStr(entry, "message"))
		if msg == "" {
			continue
		}
		agg.add(group, investigation.NewFact("logs:"+traceID,
			fmt.Sprintf("Log entry correlated with trace %s: %s", traceID, msg), 0.9))
		added++
	}
}
