// Package cli wires the engine's entry points: the HTTP server, the MCP
// stdio server, and a one-shot investigation command for local use.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/audit"
	"github.com/tareqmamari/cloud-rca-engine/internal/cache"
	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/engine"
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/logging"
	"github.com/tareqmamari/cloud-rca-engine/internal/mcp"
	"github.com/tareqmamari/cloud-rca-engine/internal/metrics"
	"github.com/tareqmamari/cloud-rca-engine/internal/server"
	"github.com/tareqmamari/cloud-rca-engine/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// Build information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	builtBy = "manual"
)

// SetBuildInfo records the ldflags values from package main.
func SetBuildInfo(v, c, b string) {
	if v != "" {
		version = v
	}
	if c != "" {
		commit = c
	}
	if b != "" {
		builtBy = b
	}
}

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "cloud-rca-engine",
		Short:         "Root-cause analysis engine for cloud incidents",
		Long:          "Investigates cloud incidents by collecting evidence from AWS services, reasoning over it, and producing a root-cause report.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(investigateCmd())
	root.AddCommand(versionCmd())

	return root.Execute()
}

// runtime holds everything a command needs after bootstrap.
type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	engine  *engine.Engine
	cleanup func()
}

// bootstrap loads configuration, builds the logger, starts telemetry, and
// assembles the engine. Every command goes through here.
func bootstrap() (*runtime, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built_by", builtBy),
		zap.String("region", cfg.Region),
		zap.String("llm_provider", cfg.LLM.Provider))

	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Headers:        cfg.Telemetry.Headers,
		Username:       cfg.Telemetry.Username,
		Password:       cfg.Telemetry.Password,
		ConsoleExport:  cfg.Telemetry.ConsoleExport,
	}, logger.Named("telemetry"))
	if err != nil {
		logger.Warn("Telemetry initialization failed, traces disabled", zap.Error(err))
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	m := metrics.New(logger.Named("metrics"))

	cacheConfig := cache.DefaultConfig()
	cacheConfig.DefaultTTL = cfg.ToolCacheTTL
	cacheConfig.Enabled = cfg.EnableToolCache

	eng := engine.New(cfg, logger.Named("engine"), engine.Options{
		Metrics: m,
		Audit:   audit.NewLogger(logger.Named("audit"), cfg.EnableAuditLog),
		Cache:   cache.NewManager(cacheConfig),
	})

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
		_ = logger.Sync()
	}

	return &runtime{cfg: cfg, logger: logger, metrics: m, engine: eng, cleanup: cleanup}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP investigation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.cleanup()

			srv := server.New(rt.engine, rt.cfg, rt.metrics, rt.logger.Named("server"), version)

			serverDone := make(chan error, 1)
			go func() {
				serverDone <- srv.Start()
			}()
			srv.SetReady(true)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			select {
			case sig := <-sigChan:
				rt.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			case err := <-serverDone:
				return err
			}

			srv.SetReady(false)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				rt.logger.Warn("Shutdown did not complete cleanly", zap.Error(err))
			}
			rt.metrics.LogStats()
			return nil
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.cleanup()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				sig := <-sigChan
				rt.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
				cancel()
			}()

			defer rt.metrics.LogStats()
			err = mcp.New(rt.engine, rt.cfg, rt.metrics, rt.logger.Named("mcp"), version).Run(ctx)
			if err != nil && ctx.Err() != nil {
				// Cancellation is the normal exit path for stdio serving.
				return nil
			}
			return err
		},
	}
}

func investigateCmd() *cobra.Command {
	var (
		traceID    string
		region     string
		roleARN    string
		externalID string
	)

	cmd := &cobra.Command{
		Use:   "investigate \"incident description\"",
		Short: "Run one investigation and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.cleanup()

			report := rt.engine.Investigate(cmd.Context(), engine.Request{
				Input:      args[0],
				TraceID:    traceID,
				Region:     region,
				RoleARN:    roleARN,
				ExternalID: externalID,
			})

			data, err := report.MarshalStable()
			if err != nil {
				return fmt.Errorf("failed to encode report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))

			if report.Status == investigation.StatusFailed {
				return fmt.Errorf("investigation failed: %s", report.Summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&traceID, "trace-id", "", "X-Ray trace ID to anchor the investigation")
	cmd.Flags().StringVar(&region, "region", "", "AWS region override")
	cmd.Flags().StringVar(&roleARN, "role-arn", "", "role to assume in the target account")
	cmd.Flags().StringVar(&externalID, "external-id", "", "external ID for the role assumption")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cloud-rca-engine %s (commit %s, built by %s)\n", version, commit, builtBy)
		},
	}
}
