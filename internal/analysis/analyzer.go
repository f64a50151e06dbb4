package analysis

import (
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/llm"
)

// Analyzer runs the reasoning phases over collected evidence. Every phase
// has a deterministic fallback, so a nil or disabled LLM still produces a
// complete report.
type Analyzer struct {
	phases *llm.Phases
	logger *zap.Logger
}

func NewAnalyzer(phases *llm.Phases, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{phases: phases, logger: logger}
}

func (a *Analyzer) llmEnabled() bool {
	return a.phases != nil && a.phases.Enabled()
}
