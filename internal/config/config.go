// Package config provides configuration management for the RCA engine.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultRegion is the compiled fallback when neither AWS_REGION nor
// AWS_DEFAULT_REGION is set.
const DefaultRegion = "us-east-1"

// LLM phase names used for per-phase model/temperature overrides.
const (
	PhaseParser     = "parser"
	PhaseHypothesis = "hypothesis"
	PhaseRootCause  = "rootcause"
	PhaseSeverity   = "severity"
)

// Config holds all configuration for the RCA engine
type Config struct {
	// Cloud configuration
	Region     string `json:"region"`
	RoleARN    string `json:"role_arn,omitempty"`    // Default role to assume; per-request override wins
	ExternalID string `json:"external_id,omitempty"` // Not stored in files, from env only

	// HTTP server
	HTTPPort        int    `json:"http_port"`
	HTTPBindAddr    string `json:"http_bind_addr"`
	MetricsEndpoint string `json:"metrics_endpoint"` // Path for the Prometheus endpoint; empty disables it

	// Pipeline deadlines
	InvestigationTimeout time.Duration `json:"investigation_timeout"` // Whole pipeline (default: 15m)
	CollectorTimeout     time.Duration `json:"collector_timeout"`     // Evidence collection (default: 120s)
	ToolTimeout          time.Duration `json:"tool_timeout"`          // Single tool I/O (default: 15s)

	// Rate limiting for outbound cloud and LLM calls
	RateLimit       int  `json:"rate_limit"` // requests per second
	RateLimitBurst  int  `json:"rate_limit_burst"`
	EnableRateLimit bool `json:"enable_rate_limit"`

	// Feature flags
	EnableHealthChecks bool          `json:"enable_health_checks"` // Optional service-health/audit enrichment
	EnableAuditLog     bool          `json:"enable_audit_log"`
	EnableToolCache    bool          `json:"enable_tool_cache"`
	ToolCacheTTL       time.Duration `json:"tool_cache_ttl"`

	// LLM
	LLM LLMConfig `json:"llm"`

	// Telemetry
	Telemetry TelemetryConfig `json:"telemetry"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // json or console
}

// LLMConfig selects the model provider and per-phase knobs.
type LLMConfig struct {
	Provider          string             `json:"provider"` // anthropic | bedrock | off
	Model             string             `json:"model"`
	Temperature       float64            `json:"temperature"`
	MaxTokens         int                `json:"max_tokens"`
	AnthropicAPIKey   string             `json:"-"` // From env only, never persisted
	PhaseModels       map[string]string  `json:"phase_models,omitempty"`
	PhaseTemperatures map[string]float64 `json:"phase_temperatures,omitempty"`
}

// ModelFor returns the model identifier for a phase, falling back to the
// global model.
func (l LLMConfig) ModelFor(phase string) string {
	if m, ok := l.PhaseModels[phase]; ok && m != "" {
		return m
	}
	return l.Model
}

// TemperatureFor returns the temperature for a phase, falling back to the
// global temperature.
func (l LLMConfig) TemperatureFor(phase string) float64 {
	if t, ok := l.PhaseTemperatures[phase]; ok {
		return t
	}
	return l.Temperature
}

// TelemetryConfig drives the OTLP bootstrap.
type TelemetryConfig struct {
	Endpoint      string `json:"endpoint"`
	ServiceName   string `json:"service_name"`
	Headers       string `json:"headers,omitempty"` // comma-separated k=v pairs
	Username      string `json:"-"`                 // Backend basic auth, env only
	Password      string `json:"-"`
	ConsoleExport bool   `json:"console_export"`
}

// Load configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		Region:               DefaultRegion,
		HTTPPort:             8080,
		HTTPBindAddr:         "127.0.0.1",
		MetricsEndpoint:      "/metrics",
		InvestigationTimeout: 15 * time.Minute,
		CollectorTimeout:     120 * time.Second,
		ToolTimeout:          15 * time.Second,
		RateLimit:            50,
		RateLimitBurst:       20,
		EnableRateLimit:      true,
		EnableHealthChecks:   false,
		EnableAuditLog:       true,
		EnableToolCache:      false,
		ToolCacheTTL:         2 * time.Minute,
		LogLevel:             "info",
		LogFormat:            "json",
		LLM: LLMConfig{
			Provider:    "bedrock",
			Model:       "anthropic.claude-3-5-sonnet-20241022-v2:0",
			Temperature: 0.2,
			MaxTokens:   2048,
			// Target classification must stay near-deterministic.
			PhaseTemperatures: map[string]float64{PhaseParser: 0.1},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cloud-rca-engine",
		},
	}

	// Try to load from config file if specified
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (these take precedence)
	loadFromEnv(cfg)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)

	// Prevent path traversal by checking for ".." components
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return json.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Region = v
	} else if v := os.Getenv("AWS_DEFAULT_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("RCA_ROLE_ARN"); v != "" {
		cfg.RoleARN = v
	}
	if v := os.Getenv("RCA_EXTERNAL_ID"); v != "" {
		cfg.ExternalID = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = p
		}
	}
	if v := os.Getenv("HTTP_BIND_ADDR"); v != "" {
		cfg.HTTPBindAddr = v
	}
	if v := os.Getenv("METRICS_ENDPOINT"); v != "" {
		cfg.MetricsEndpoint = v
	}
	if v := os.Getenv("INVESTIGATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InvestigationTimeout = d
		}
	}
	if v := os.Getenv("COLLECTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CollectorTimeout = d
		}
	}
	if v := os.Getenv("TOOL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ToolTimeout = d
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit = limit
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = burst
		}
	}
	if v := os.Getenv("ENABLE_RATE_LIMIT"); v != "" {
		cfg.EnableRateLimit = isTrue(v)
	}
	if v := os.Getenv("ENABLE_HEALTH_CHECKS"); v != "" {
		cfg.EnableHealthChecks = isTrue(v)
	}
	if v := os.Getenv("AUDIT_LOG_ENABLED"); v != "" {
		cfg.EnableAuditLog = isTrue(v)
	}
	if v := os.Getenv("TOOL_CACHE_ENABLED"); v != "" {
		cfg.EnableToolCache = isTrue(v)
	}
	if v := os.Getenv("TOOL_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ToolCacheTTL = d
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	loadLLMFromEnv(&cfg.LLM)
	loadTelemetryFromEnv(&cfg.Telemetry)
}

func loadLLMFromEnv(llm *LLMConfig) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		llm.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		llm.Model = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			llm.Temperature = t
		}
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			llm.MaxTokens = n
		}
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		llm.AnthropicAPIKey = v
	}

	for _, phase := range []string{PhaseParser, PhaseHypothesis, PhaseRootCause, PhaseSeverity} {
		upper := strings.ToUpper(phase)
		if v := os.Getenv("LLM_" + upper + "_MODEL"); v != "" {
			if llm.PhaseModels == nil {
				llm.PhaseModels = make(map[string]string)
			}
			llm.PhaseModels[phase] = v
		}
		if v := os.Getenv("LLM_" + upper + "_TEMPERATURE"); v != "" {
			if t, err := strconv.ParseFloat(v, 64); err == nil {
				if llm.PhaseTemperatures == nil {
					llm.PhaseTemperatures = make(map[string]float64)
				}
				llm.PhaseTemperatures[phase] = t
			}
		}
	}
}

func loadTelemetryFromEnv(tel *TelemetryConfig) {
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		tel.Endpoint = v
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		tel.ServiceName = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		tel.Headers = v
	}
	if v := os.Getenv("TELEMETRY_USERNAME"); v != "" {
		tel.Username = v
	}
	if v := os.Getenv("TELEMETRY_PASSWORD"); v != "" {
		tel.Password = v
	}
	if v := os.Getenv("OTEL_CONSOLE_EXPORT"); v != "" {
		tel.ConsoleExport = isTrue(v)
	}
}

func isTrue(v string) bool {
	return v == "true" || v == "1"
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New("region is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTPPort)
	}
	if c.InvestigationTimeout <= 0 {
		return errors.New("investigation_timeout must be positive")
	}
	if c.CollectorTimeout <= 0 {
		return errors.New("collector_timeout must be positive")
	}
	if c.ToolTimeout <= 0 {
		return errors.New("tool_timeout must be positive")
	}
	if c.RateLimit <= 0 && c.EnableRateLimit {
		return errors.New("rate_limit must be positive when rate limiting is enabled")
	}

	switch c.LLM.Provider {
	case "anthropic", "bedrock", "off":
	default:
		return fmt.Errorf("invalid llm provider: %s", c.LLM.Provider)
	}
	if c.LLM.Provider == "anthropic" && c.LLM.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("invalid llm temperature: %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return errors.New("llm max_tokens must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// Redact returns a copy of the config with sensitive data removed
func (c *Config) Redact() *Config {
	redacted := *c
	if redacted.ExternalID != "" {
		redacted.ExternalID = "***REDACTED***"
	}
	if redacted.LLM.AnthropicAPIKey != "" {
		redacted.LLM.AnthropicAPIKey = MaskSecret(redacted.LLM.AnthropicAPIKey)
	}
	if redacted.Telemetry.Password != "" {
		redacted.Telemetry.Password = "***REDACTED***"
	}
	return &redacted
}

// MaskSecret returns a masked version of a secret for safe logging
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
