// Package llm provides the model interface for the three reasoning phases
// and the providers that implement it. The engine never hands the model
// tools; every call is a closed prompt that must come back as JSON, and
// every phase has a deterministic fallback when the model misbehaves.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	rcaerrors "github.com/tareqmamari/cloud-rca-engine/internal/errors"
	"github.com/tareqmamari/cloud-rca-engine/internal/metrics"
)

// Model is a stateless completion provider. Implementations hold their model
// identifier; the caller chooses temperature and token budget per phase.
type Model interface {
	Complete(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// ErrDisabled is returned by phase completion when the provider is "off".
// Phases treat it like any other LLM error and run their fallbacks.
var ErrDisabled = errors.New("llm provider is disabled")

const (
	maxRetries     = 2
	retryBaseDelay = 500 * time.Millisecond
)

// Phases wraps providers with the per-phase model selection, rate limiting,
// retry, and metrics the reasoning phases share.
type Phases struct {
	cfg     config.LLMConfig
	models  map[string]Model // keyed by model identifier
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// PhasesOptions carries the optional collaborators.
type PhasesOptions struct {
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// BedrockFactory builds the Bedrock provider for a model identifier.
	// Supplied by the caller because it needs the investigation's AWS
	// credentials; nil with provider=bedrock is a configuration error.
	BedrockFactory func(modelID string) Model
}

// NewPhases builds one provider per distinct model identifier the config
// names. With provider "off" it returns a Phases whose completions always
// fail with ErrDisabled.
func NewPhases(cfg config.LLMConfig, opts PhasesOptions) (*Phases, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	p := &Phases{
		cfg:     cfg,
		models:  make(map[string]Model),
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}

	if cfg.Provider == "off" {
		return p, nil
	}

	build := func(modelID string) (Model, error) {
		switch cfg.Provider {
		case "anthropic":
			return NewAnthropic(cfg.AnthropicAPIKey, modelID), nil
		case "bedrock":
			if opts.BedrockFactory == nil {
				return nil, rcaerrors.NewLLMError("bedrock provider requires AWS credentials")
			}
			return opts.BedrockFactory(modelID), nil
		default:
			return nil, rcaerrors.NewLLMError(fmt.Sprintf("unknown llm provider %q", cfg.Provider))
		}
	}

	for _, modelID := range p.distinctModels() {
		m, err := build(modelID)
		if err != nil {
			return nil, err
		}
		p.models[modelID] = m
	}
	return p, nil
}

func (p *Phases) distinctModels() []string {
	seen := map[string]bool{p.cfg.Model: true}
	models := []string{p.cfg.Model}
	for _, m := range p.cfg.PhaseModels {
		if m != "" && !seen[m] {
			seen[m] = true
			models = append(models, m)
		}
	}
	return models
}

// Enabled reports whether a real provider is configured.
func (p *Phases) Enabled() bool {
	return len(p.models) > 0
}

// Complete runs one phase completion with the phase's model and temperature,
// retrying transient failures before giving up. Callers fall back to their
// deterministic heuristics on any returned error.
func (p *Phases) Complete(ctx context.Context, phase, prompt string) (string, error) {
	return p.CompleteWith(ctx, phase, prompt, p.cfg.MaxTokens)
}

// CompleteWith is Complete with an explicit token budget, used by the parser
// phase which runs on a much tighter budget than the reasoning phases.
func (p *Phases) CompleteWith(ctx context.Context, phase, prompt string, maxTokens int) (string, error) {
	if !p.Enabled() {
		return "", ErrDisabled
	}

	modelID := p.cfg.ModelFor(phase)
	model, ok := p.models[modelID]
	if !ok {
		model = p.models[p.cfg.Model]
	}
	temperature := p.cfg.TemperatureFor(phase)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}

		start := time.Now()
		out, err := model.Complete(ctx, prompt, temperature, maxTokens)
		if p.metrics != nil {
			p.metrics.RecordLLMRequest(phase, err == nil, time.Since(start))
		}
		if err == nil {
			if strings.TrimSpace(out) == "" {
				lastErr = rcaerrors.NewLLMError("model returned an empty response")
				continue
			}
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Warn("LLM call failed",
			zap.String("phase", phase),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return "", lastErr
}

// backoffDelay is exponential with ±10% jitter.
func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay << (attempt - 1)
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(d) * jitter)
}
