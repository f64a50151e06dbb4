// Package mcp exposes the engine over the Model Context Protocol so agent
// frontends can trigger investigations and poke individual diagnostic tools
// over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/engine"
	"github.com/tareqmamari/cloud-rca-engine/internal/metrics"
	"github.com/tareqmamari/cloud-rca-engine/internal/tools"
)

// Server serves the MCP stdio surface.
type Server struct {
	engine  *engine.Engine
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	version string

	mcpServer *sdk.Server

	// Lazily built diagnostic dispatcher for run_tool; investigations build
	// their own inside the engine.
	mu         sync.Mutex
	dispatcher tools.Caller
	registry   *tools.Registry
}

// New builds the MCP server and registers its tools.
func New(eng *engine.Engine, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger, version string) *Server {
	s := &Server{
		engine:  eng,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		version: version,
	}

	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    "Cloud RCA Engine",
		Version: version,
	}, &sdk.ServerOptions{
		HasTools: true,
	})

	s.registerTools()
	return s
}

// Run serves over stdio until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server", zap.String("version", s.version))
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) registerTools() {
	s.addTool("investigate",
		"Run a full root-cause investigation for a cloud incident",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{
					"type":        "string",
					"description": "Incident description, error output, or identifiers to investigate",
				},
				"xray_trace_id": map[string]any{
					"type":        "string",
					"description": "Optional X-Ray trace ID to anchor the investigation",
				},
				"region": map[string]any{
					"type":        "string",
					"description": "AWS region; defaults to the configured region",
				},
				"role_arn": map[string]any{
					"type":        "string",
					"description": "Role to assume in the target account",
				},
				"external_id": map[string]any{
					"type":        "string",
					"description": "External ID for the role assumption",
				},
			},
			"required": []string{"input"},
		},
		s.handleInvestigate)

	s.addTool("engine_status",
		"Report in-flight and recent investigations",
		map[string]any{"type": "object", "properties": map[string]any{}},
		s.handleStatus)

	s.addTool("list_diagnostic_tools",
		"List the diagnostic tools available to investigations",
		map[string]any{"type": "object", "properties": map[string]any{}},
		s.handleListTools)

	s.addTool("run_tool",
		"Execute one diagnostic tool directly, outside an investigation",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tool": map[string]any{
					"type":        "string",
					"description": "Diagnostic tool name, as returned by list_diagnostic_tools",
				},
				"args": map[string]any{
					"type":        "object",
					"description": "Arguments for the tool",
				},
			},
			"required": []string{"tool"},
		},
		s.handleRunTool)

	s.logger.Info("Registered MCP tools")
}

type toolHandler func(ctx context.Context, args map[string]any) (string, error)

// addTool wires one tool with argument decoding and metrics.
func (s *Server) addTool(name, description string, schema any, handler toolHandler) {
	tool := &sdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}

	s.mcpServer.AddTool(tool, func(ctx context.Context, request *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		start := time.Now()

		var args map[string]any
		if len(request.Params.Arguments) > 0 {
			if err := json.Unmarshal(request.Params.Arguments, &args); err != nil {
				if s.metrics != nil {
					s.metrics.RecordToolExecution(name, false, time.Since(start))
				}
				return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
			}
		}

		text, err := handler(ctx, args)
		if s.metrics != nil {
			s.metrics.RecordToolExecution(name, err == nil, time.Since(start))
		}
		if err != nil {
			return nil, err
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: text}},
		}, nil
	})
}

func (s *Server) handleInvestigate(ctx context.Context, args map[string]any) (string, error) {
	input, _ := args["input"].(string)
	if input == "" {
		return "", fmt.Errorf("input is required")
	}
	traceID, _ := args["xray_trace_id"].(string)
	region, _ := args["region"].(string)
	roleARN, _ := args["role_arn"].(string)
	externalID, _ := args["external_id"].(string)

	report := s.engine.Investigate(ctx, engine.Request{
		Input:      input,
		TraceID:    traceID,
		Region:     region,
		RoleARN:    roleARN,
		ExternalID: externalID,
		Structured: args,
	})

	data, err := report.MarshalStable()
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	return string(data), nil
}

func (s *Server) handleStatus(ctx context.Context, _ map[string]any) (string, error) {
	tracker := s.engine.Tracker()
	payload := map[string]any{
		"version": s.version,
		"region":  s.cfg.Region,
		"runs":    tracker.Stats(),
		"active":  tracker.Active(),
		"recent":  tracker.Recent(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Server) handleListTools(ctx context.Context, _ map[string]any) (string, error) {
	registry, _, err := s.diagnostics(ctx)
	if err != nil {
		return "", err
	}

	titler := cases.Title(language.English)
	entries := make([]map[string]string, 0, registry.Len())
	for _, name := range registry.Names() {
		entries = append(entries, map[string]string{
			"name":        name,
			"title":       titler.String(strings.ReplaceAll(name, "_", " ")),
			"description": registry.Description(name),
		})
	}
	data, err := json.Marshal(map[string]any{"tools": entries, "count": len(entries)})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Server) handleRunTool(ctx context.Context, args map[string]any) (string, error) {
	name, _ := args["tool"].(string)
	if name == "" {
		return "", fmt.Errorf("tool is required")
	}
	toolArgs, _ := args["args"].(map[string]any)

	_, caller, err := s.diagnostics(ctx)
	if err != nil {
		return "", err
	}
	return caller.Call(ctx, name, toolArgs), nil
}

// diagnostics lazily builds a dispatcher against the configured default
// role for direct tool execution.
func (s *Server) diagnostics(ctx context.Context) (*tools.Registry, tools.Caller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispatcher != nil {
		return s.registry, s.dispatcher, nil
	}

	client, err := cloudclient.New(ctx, cloudclient.Options{
		Region:     s.cfg.Region,
		RoleARN:    s.cfg.RoleARN,
		ExternalID: s.cfg.ExternalID,
	}, s.logger.Named("cloudclient"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire cloud credentials: %w", err)
	}

	s.registry = tools.NewRegistryForClient(client, s.logger.Named("tools"))
	s.dispatcher = tools.NewDispatcher(s.registry, tools.DispatcherOptions{
		Logger:  s.logger.Named("dispatcher"),
		Metrics: s.metrics,
		Timeout: s.cfg.ToolTimeout,
		Region:  client.Region(),
		RoleARN: client.RoleARN(),
	})
	return s.registry, s.dispatcher, nil
}
