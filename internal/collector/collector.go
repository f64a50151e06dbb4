// Package collector gathers evidence for an investigation. Each discovered
// resource and each trace ID becomes one concurrent task; tasks call tools
// through the dispatcher and emit facts into a shared aggregator. Output is
// capped per resource and globally so the reasoning prompts stay bounded.
package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/metrics"
	"github.com/tareqmamari/cloud-rca-engine/internal/tools"
)

// Evidence caps. Per-resource truncation runs before the global cap so one
// noisy resource cannot crowd out the others.
const (
	MaxFactsPerResource = 10
	MaxFactsGlobal      = 50
)

// maxConcurrentTasks bounds the fan-out so a wide trace does not open an
// unbounded number of AWS call chains at once.
const maxConcurrentTasks = 8

// Collector runs the evidence-gathering phase.
type Collector struct {
	caller  tools.Caller
	metrics *metrics.Metrics
	logger  *zap.Logger

	timeout      time.Duration
	enableChecks bool
}

// Options configures a Collector. Metrics may be nil.
type Options struct {
	Timeout            time.Duration
	EnableHealthChecks bool
	Metrics            *metrics.Metrics
	Logger             *zap.Logger
}

func New(caller tools.Caller, opts Options) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Collector{
		caller:       caller,
		metrics:      opts.Metrics,
		logger:       logger,
		timeout:      timeout,
		enableChecks: opts.EnableHealthChecks,
	}
}

// aggregator receives facts from concurrent tasks. Per-resource slices keep
// insertion order so truncation keeps the earliest, highest-signal facts.
type aggregator struct {
	mu     sync.Mutex
	order  []string
	groups map[string][]investigation.Fact
}

func newAggregator() *aggregator {
	return &aggregator{groups: make(map[string][]investigation.Fact)}
}

func (a *aggregator) add(group string, facts ...investigation.Fact) {
	if len(facts) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.groups[group]; !ok {
		a.order = append(a.order, group)
	}
	a.groups[group] = append(a.groups[group], facts...)
}

// drain applies both caps and returns the final fact list in group order.
func (a *aggregator) drain() []investigation.Fact {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []investigation.Fact
	for _, group := range a.order {
		facts := a.groups[group]
		if len(facts) > MaxFactsPerResource {
			facts = facts[:MaxFactsPerResource]
		}
		out = append(out, facts...)
	}
	if len(out) > MaxFactsGlobal {
		out = out[:MaxFactsGlobal]
	}
	return out
}

// Collect fans out one task per resource and one per trace, waits for all of
// them or the collection deadline, and returns the capped fact list. A
// deadline hit yields whatever was gathered plus a synthetic fact marking
// the truncation.
func (c *Collector) Collect(ctx context.Context, resources []investigation.Resource, traceIDs []string) []investigation.Fact {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	agg := newAggregator()
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTasks)

	for _, r := range resources {
		g.Go(func() error {
			c.collectResource(gctx, agg, r)
			return nil
		})
	}
	for _, traceID := range traceIDs {
		g.Go(func() error {
			c.collectTrace(gctx, agg, traceID)
			return nil
		})
	}
	if c.enableChecks {
		for _, r := range resources {
			g.Go(func() error {
				c.runEnrichmentChecks(gctx, agg, r)
				return nil
			})
		}
	}

	g.Wait()

	if ctx.Err() != nil {
		agg.add("collection", investigation.NewFact(
			"collector",
			"Evidence collection hit its deadline; results are partial",
			1.0,
		).WithMetadata("truncated", true))
		c.logger.Warn("Evidence collection deadline exceeded",
			zap.Duration("timeout", c.timeout),
			zap.Int("resources", len(resources)))
	}

	facts := agg.drain()
	if c.metrics != nil {
		c.metrics.RecordEvidence(len(facts), 0)
	}
	c.logger.Info("Evidence collection complete",
		zap.Int("facts", len(facts)),
		zap.Int("resources", len(resources)),
		zap.Int("traces", len(traceIDs)),
		zap.Duration("elapsed", time.Since(started)))
	return facts
}

// runEnrichmentChecks gathers optional service-health and audit context.
// These never produce failure facts; an unavailable Health API (it needs a
// support plan) just logs and moves on.
func (c *Collector) runEnrichmentChecks(ctx context.Context, agg *aggregator, r investigation.Resource) {
	group := "checks:" + r.Key()

	raw := c.caller.Call(ctx, "check_service_health", map[string]any{"service": r.Type})
	if tools.IsError(raw) {
		c.logger.Info("Service health check unavailable",
			zap.String("service", r.Type),
			zap.String("reason", tools.ErrorMessage(raw)))
	} else if fact, ok := healthFact(r, raw); ok {
		agg.add(group, fact)
	}

	if r.Name == "" {
		return
	}
	raw = c.caller.Call(ctx, "get_recent_audit_events", map[string]any{"resource_name": r.Name})
	if tools.IsError(raw) {
		c.logger.Info("Audit event lookup unavailable",
			zap.String("resource", r.Name),
			zap.String("reason", tools.ErrorMessage(raw)))
		return
	}
	if fact, ok := auditFact(r, raw); ok {
		agg.add(group, fact)
	}
}
