// Package corecfg defines the typed configuration structures consumed by the
// task runner core. Parsing from file or environment is out of scope (the
// core accepts already-populated structs, per spec.md §6.3); this package
// only owns the shapes, their defaults, and validation.
package corecfg

import (
	"fmt"
	"time"
)

// Config aggregates every configuration group the core consumes, named after
// spec.md §6.3's groups.
type Config struct {
	Model      ModelConfig      `json:"model"`
	Execution  ExecutionConfig  `json:"execution"`
	Tools      ToolsConfig      `json:"tools"`
	Service    ServiceConfig    `json:"service"`
	Guardrail  GuardrailConfig  `json:"guardrail"`
	Resilience ResilienceConfig `json:"resilience"`
	Logging    LoggingConfig    `json:"logging"`

	// Development holds local-dev conveniences; never enable in production.
	Development DevelopmentConfig `json:"development"`
}

// ModelConfig configures the LLM Adapter (C3).
type ModelConfig struct {
	Provider    string        `json:"provider"`
	ModelName   string        `json:"model_name"`
	APIKey      string        `json:"api_key"`
	Endpoint    string        `json:"endpoint,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// Redacted returns a copy of ModelConfig with the API key masked, for
// surfacing over GET /api/v1/config.
func (m ModelConfig) Redacted() ModelConfig {
	if m.APIKey != "" {
		m.APIKey = "***redacted***"
	}
	return m
}

// ExecutionConfig governs the Sequential Executor (C6).
type ExecutionConfig struct {
	MaxSteps          int           `json:"max_steps"`
	MaxRetriesPerPhase int          `json:"max_retries_per_phase"`
	RetryDelay        time.Duration `json:"retry_delay"`
	TaskTimeout       time.Duration `json:"timeout"`
	MinConfidence     float64       `json:"min_confidence_threshold"`
}

// ToolsConfig governs the Tool Dispatcher and Safety Validator (C1, C2).
type ToolsConfig struct {
	EnableFileOperations    bool     `json:"enable_file_operations"`
	EnableCommandExecution  bool     `json:"enable_command_execution"`
	WorkingDirectory        string   `json:"working_directory"`
	AllowedPaths            []string `json:"allowed_paths"`
	ForbiddenCommands       []string `json:"forbidden_commands"`
	CommandWhitelist        []string `json:"command_whitelist,omitempty"`
	MaxCommandTimeoutSecs   int      `json:"max_command_timeout_secs"`
}

// ServiceConfig governs the Service Facade (C9) and HTTP surface.
type ServiceConfig struct {
	MaxConcurrentTasks int           `json:"max_concurrent_tasks"`
	DefaultTaskTimeout time.Duration `json:"default_task_timeout"`
	EnableMetrics      bool          `json:"enable_metrics"`
	ShardCount         int           `json:"shard_count"`

	CORS        CORSConfig        `json:"cors"`
	RateLimiting RateLimitConfig  `json:"rate_limiting"`
}

// CORSConfig mirrors the teacher's CORSConfig shape (core/config.go).
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// RateLimitConfig bounds request admission at the HTTP edge; the core itself
// only exposes the admission semaphore (ServiceConfig.MaxConcurrentTasks) —
// request-rate limiting is a transport concern per spec.md §1's non-goals,
// but the shape is still named here since httpapi needs somewhere to read it
// from.
type RateLimitConfig struct {
	Enabled           bool `json:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute"`
}

// GuardrailConfig governs the Guardrail Engine (C7), grounded on
// orchestration/hitl_interfaces.go's HITLConfig shape.
type GuardrailConfig struct {
	ForbiddenOperationTypes []string      `json:"forbidden_operation_types"`
	ProtectedPaths          []string      `json:"protected_paths"`
	AutoConfirmThreshold    string        `json:"auto_confirm_threshold"`
	ConfirmationTimeout     time.Duration `json:"confirmation_timeout"`
	FileCountThreshold      int           `json:"file_count_threshold"`
	LineCountThreshold      int           `json:"line_count_threshold"`
	SizeThresholdBytes      int64         `json:"size_threshold_bytes"`

	// RefuseOnSnapshotFailure resolves spec.md §9's open question: when true,
	// a failed snapshot capture aborts the step instead of proceeding
	// without rollback.
	RefuseOnSnapshotFailure bool `json:"refuse_on_snapshot_failure"`

	HistoryEnabled bool `json:"history_enabled"`
}

// ResilienceConfig governs retry/circuit-breaker behavior shared by the LLM
// Adapter (C3) and Sequential Executor (C6), grounded on
// core/config.go's ResilienceConfig.
type ResilienceConfig struct {
	RetryMaxAttempts     int           `json:"retry_max_attempts"`
	RetryInitialInterval time.Duration `json:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `json:"retry_max_interval"`
	RetryMultiplier      float64       `json:"retry_multiplier"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerThreshold        int           `json:"circuit_breaker_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`
	CircuitBreakerHalfOpenRequests int           `json:"circuit_breaker_half_open_requests"`
}

// LoggingConfig mirrors core/config.go's LoggingConfig, trimmed to the two
// fields the core actually reads (format selection happens in corelog).
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DevelopmentConfig holds local-dev-only toggles.
type DevelopmentConfig struct {
	Enabled bool `json:"enabled"`
}

// Default returns a Config populated with the defaults spec.md §6.3 implies
// and the teacher's own default magnitudes (3 retries, 100ms base delay,
// doubling backoff, 30s LLM timeout, 300s task timeout).
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "openai",
			ModelName:   "gpt-4",
			MaxTokens:   2000,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		},
		Execution: ExecutionConfig{
			MaxSteps:           50,
			MaxRetriesPerPhase: 3,
			RetryDelay:         100 * time.Millisecond,
			TaskTimeout:        300 * time.Second,
			MinConfidence:      0.7,
		},
		Tools: ToolsConfig{
			EnableFileOperations:   true,
			EnableCommandExecution: true,
			WorkingDirectory:       ".",
			MaxCommandTimeoutSecs:  120,
			ForbiddenCommands: []string{
				"rm -rf /", ":(){ :|:& };:",
			},
		},
		Service: ServiceConfig{
			MaxConcurrentTasks: 10,
			DefaultTaskTimeout: 300 * time.Second,
			EnableMetrics:      true,
			ShardCount:         16,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		Guardrail: GuardrailConfig{
			ProtectedPaths: []string{
				".git/", "node_modules/", "target/release/", ".env",
				"secrets/", "credentials/", "/etc/", "/usr/", "/System/",
			},
			AutoConfirmThreshold:   "Low",
			ConfirmationTimeout:    120 * time.Second,
			FileCountThreshold:     10,
			LineCountThreshold:     1000,
			SizeThresholdBytes:     10 * 1024 * 1024,
			RefuseOnSnapshotFailure: false,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:     3,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     5 * time.Second,
			RetryMultiplier:      2.0,

			CircuitBreakerThreshold:        5,
			CircuitBreakerTimeout:          30 * time.Second,
			CircuitBreakerHalfOpenRequests: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks for the invariants the core relies on; it does not
// validate transport-only fields (rate limiting, CORS) since those are a
// collaborator's concern per spec.md §1.
func (c *Config) Validate() error {
	if c.Service.MaxConcurrentTasks < 1 {
		return fmt.Errorf("service.max_concurrent_tasks must be >= 1, got %d", c.Service.MaxConcurrentTasks)
	}
	if c.Service.ShardCount < 1 {
		return fmt.Errorf("service.shard_count must be >= 1, got %d", c.Service.ShardCount)
	}
	if c.Execution.MaxRetriesPerPhase < 0 {
		return fmt.Errorf("execution.max_retries_per_phase must be >= 0")
	}
	if c.Execution.MinConfidence < 0 || c.Execution.MinConfidence > 1 {
		return fmt.Errorf("execution.min_confidence_threshold must be in [0,1], got %f", c.Execution.MinConfidence)
	}
	if c.Model.ModelName == "" {
		return fmt.Errorf("model.model_name is required")
	}
	return nil
}
