package investigation

import (
	"encoding/json"
	"time"
)

// summaryPayload is the fixed-shape object encoded into Report.Summary.
// Field order is part of the wire contract; do not reorder.
type summaryPayload struct {
	InvestigationType string `json:"investigation_type"`
	TargetCount       int    `json:"target_count"`
	TraceCount        int    `json:"trace_count"`
	ErrorCount        int    `json:"error_count"`
	Facts             int    `json:"facts"`
	Hypotheses        int    `json:"hypotheses"`
	Advice            int    `json:"advice"`
	Region            string `json:"region"`
}

// Assembler composes the final report from pipeline outputs. It owns the
// timeline seeding and the summary encoding; everything else is passed
// through verbatim.
type Assembler struct {
	Region string
}

// AssembleInput carries everything the assembler needs. Slices may be nil;
// the assembler normalizes them to empty slices so the report JSON is stable.
type AssembleInput struct {
	RunID       string
	Status      Status
	StartedAt   time.Time
	CompletedAt time.Time
	Parsed      ParsedInputs
	Affected    []AffectedResource
	Facts       []Fact
	Hypotheses  []Hypothesis
	RootCause   *RootCauseAnalysis
	Severity    *SeverityAssessment
	Advice      []Advice
	// Reason is included in the summary for non-completed terminal states.
	Reason string
}

// Assemble builds the report. Duration is computed from the wall-clock
// bounds and never negative.
func (a Assembler) Assemble(in AssembleInput) *Report {
	duration := in.CompletedAt.Sub(in.StartedAt).Seconds()
	if duration < 0 {
		duration = 0
	}

	report := &Report{
		RunID:              in.RunID,
		Status:             in.Status,
		StartedAt:          in.StartedAt.UTC(),
		CompletedAt:        in.CompletedAt.UTC(),
		DurationSeconds:    duration,
		AffectedResources:  emptyIfNil(in.Affected),
		SeverityAssessment: in.Severity,
		Facts:              emptyIfNil(in.Facts),
		RootCauseAnalysis:  in.RootCause,
		Hypotheses:         emptyIfNil(in.Hypotheses),
		Advice:             emptyIfNil(in.Advice),
		Timeline:           a.buildTimeline(in),
		Summary:            a.buildSummary(in),
	}
	return report
}

// buildTimeline seeds the canonical entries: investigation_start with a
// snapshot of the parsed inputs, one trace_analysis per trace ID, and
// investigation_complete.
func (a Assembler) buildTimeline(in AssembleInput) []EventTimeline {
	timeline := make([]EventTimeline, 0, len(in.Parsed.TraceIDs)+2)

	timeline = append(timeline, EventTimeline{
		Timestamp:   in.StartedAt.UTC(),
		EventType:   "investigation_start",
		Component:   "engine",
		Description: "Investigation started",
		Metadata: map[string]any{
			"targets":   len(in.Parsed.PrimaryTargets),
			"trace_ids": len(in.Parsed.TraceIDs),
			"errors":    len(in.Parsed.ErrorMessages),
			"kind":      in.Parsed.Kind(),
		},
	})

	for _, traceID := range in.Parsed.TraceIDs {
		timeline = append(timeline, EventTimeline{
			Timestamp:   in.StartedAt.UTC(),
			EventType:   "trace_analysis",
			Component:   "collector",
			Description: "Analyzed trace " + traceID,
			Metadata:    map[string]any{"trace_id": traceID},
		})
	}

	completeDesc := "Investigation completed"
	if in.Status != StatusCompleted {
		completeDesc = "Investigation finished with status " + string(in.Status)
		if in.Reason != "" {
			completeDesc += ": " + in.Reason
		}
	}
	timeline = append(timeline, EventTimeline{
		Timestamp:   in.CompletedAt.UTC(),
		EventType:   "investigation_complete",
		Component:   "engine",
		Description: completeDesc,
		Metadata:    map[string]any{"status": string(in.Status)},
	})

	return timeline
}

func (a Assembler) buildSummary(in AssembleInput) string {
	payload := summaryPayload{
		InvestigationType: in.Parsed.Kind(),
		TargetCount:       len(in.Parsed.PrimaryTargets),
		TraceCount:        len(in.Parsed.TraceIDs),
		ErrorCount:        len(in.Parsed.ErrorMessages),
		Facts:             len(in.Facts),
		Hypotheses:        len(in.Hypotheses),
		Advice:            len(in.Advice),
		Region:            a.Region,
	}

	var data []byte
	var err error
	if in.Reason != "" {
		data, err = json.Marshal(struct {
			summaryPayload
			Reason string `json:"reason"`
		}{payload, in.Reason})
	} else {
		data, err = json.Marshal(payload)
	}
	if err != nil {
		return "{}"
	}
	return string(data)
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
