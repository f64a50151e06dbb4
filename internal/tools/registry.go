// Package tools implements the diagnostic tool registry. Every tool is a
// pure function from arguments to a JSON document; failures are serialized
// into the document as an error envelope, never raised.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tareqmamari/cloud-rca-engine/internal/audit"
	"github.com/tareqmamari/cloud-rca-engine/internal/cache"
	"github.com/tareqmamari/cloud-rca-engine/internal/metrics"
	"github.com/tareqmamari/cloud-rca-engine/internal/telemetry"
)

// Func is a single diagnostic tool. Implementations return a JSON document
// and encode failures with Failure; they never panic and never return
// non-JSON text.
type Func func(ctx context.Context, args map[string]any) string

// Caller dispatches tool calls by name. Resource discovery and the evidence
// collector depend on this seam only, which is also what tests script.
type Caller interface {
	Call(ctx context.Context, name string, args map[string]any) string
}

type entry struct {
	fn          Func
	description string
}

// Registry maps tool names to implementations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Set registers a tool under a name, replacing any previous registration.
func (r *Registry) Set(name, description string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{fn: fn, description: description}
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.fn, ok
}

// Description returns the registered description for a tool.
func (r *Registry) Description(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].description
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// DispatcherOptions wire the cross-cutting concerns around tool execution.
// Nil fields disable the corresponding concern.
type DispatcherOptions struct {
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	Audit           *audit.Logger
	Cache           *cache.Manager
	Limiter         *rate.Limiter
	Timeout         time.Duration // per-call I/O deadline
	Region          string
	RoleARN         string
	InvestigationID string
}

// Dispatcher is the production Caller. Every call runs inside its own span
// and timeout, is rate limited against the cloud APIs, recorded in metrics
// and the audit log, and served from cache when a fresh result exists.
type Dispatcher struct {
	registry *Registry
	opts     DispatcherOptions
}

// NewDispatcher wraps a registry with the operational concerns.
func NewDispatcher(registry *Registry, opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Dispatcher{registry: registry, opts: opts}
}

// Call executes the named tool. Unknown names yield an error envelope, not
// an error: callers always receive a JSON document.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any) string {
	fn, ok := d.registry.Get(name)
	if !ok {
		return Failure(fmt.Sprintf("unknown tool: %s", name), args)
	}

	ctx, span := telemetry.ToolSpan(ctx, name)
	defer span.End()

	argsKey := cache.ArgsKey(args)
	if d.opts.Cache != nil {
		if cached, hit := d.opts.Cache.Get(d.opts.Region, d.opts.RoleARN, name, argsKey); hit {
			if d.opts.Metrics != nil {
				d.opts.Metrics.RecordCacheHit()
			}
			return cached
		}
		if d.opts.Metrics != nil {
			d.opts.Metrics.RecordCacheMiss()
		}
	}

	if d.opts.Limiter != nil {
		if !d.opts.Limiter.Allow() {
			if d.opts.Metrics != nil {
				d.opts.Metrics.RecordRateLimitHit()
			}
			if err := d.opts.Limiter.Wait(ctx); err != nil {
				return Failure(fmt.Sprintf("rate limit wait aborted: %v", err), args)
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	start := time.Now()
	result := d.invoke(callCtx, name, fn, args)
	elapsed := time.Since(start)

	errMsg := ErrorMessage(result)
	success := errMsg == ""

	if d.opts.Metrics != nil {
		d.opts.Metrics.RecordToolExecution(name, success, elapsed)
	}
	if d.opts.Audit != nil {
		d.opts.Audit.LogToolExecution(ctx, d.opts.InvestigationID, name, args, success, elapsed, errMsg)
	}
	if !success {
		telemetry.RecordError(span, errors.New(errMsg))
		d.opts.Logger.Debug("Tool returned error envelope",
			zap.String("tool", name),
			zap.String("error", errMsg),
			zap.Duration("elapsed", elapsed))
	}

	if d.opts.Cache != nil && success {
		d.opts.Cache.Set(d.opts.Region, d.opts.RoleARN, name, argsKey, result)
	}

	return result
}

// invoke shields the pipeline from panicking tools.
func (d *Dispatcher) invoke(ctx context.Context, name string, fn Func, args map[string]any) (result string) {
	defer func() {
		if r := recover(); r != nil {
			d.opts.Logger.Error("Tool panicked",
				zap.String("tool", name),
				zap.Any("panic", r))
			result = Failure(fmt.Sprintf("tool %s panicked: %v", name, r), args)
		}
	}()
	return fn(ctx, args)
}
