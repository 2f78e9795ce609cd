// Package config loads and validates application configuration from
// environment variables, with an optional .env overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	ListenAddr string

	// Model provider settings.
	ModelProvider   string // "openai", "anthropic", or "scripted" (tests)
	OpenAIAPIKey    string
	AnthropicAPIKey string
	ModelName       string
	Instructions    string

	// Scheduler settings.
	MaxConcurrentAgents int
	TaskTimeout         time.Duration
	RetryAttempts       int
	RetryBaseDelay      time.Duration

	// Transport settings.
	HeartbeatInterval    time.Duration
	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration

	// Engine settings.
	EventBuffer       int
	MaxConcurrentRuns int
	MaxTurns          int

	// Workflow settings.
	WorkflowDB string // SQLite DSN; empty keeps workflows in memory.

	// Research pipeline options. Independent toggles: search breadth and AI
	// post-processing can each be enabled without the other.
	DeepSearch        bool
	PostProcess       bool
	InteractiveReview bool

	// Operational settings.
	LogLevel  string
	LogFormat string // "json" or "text"
}

// Load reads configuration from the environment with sensible defaults. A
// .env file in the working directory is overlaid first when present;
// variables already set in the environment win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:           envStr("CASEMESH_LISTEN_ADDR", ":8080"),
		ModelProvider:        envStr("CASEMESH_MODEL_PROVIDER", "openai"),
		OpenAIAPIKey:         envStr("OPENAI_API_KEY", ""),
		AnthropicAPIKey:      envStr("ANTHROPIC_API_KEY", ""),
		ModelName:            envStr("CASEMESH_MODEL", ""),
		Instructions:         envStr("CASEMESH_INSTRUCTIONS", ""),
		MaxConcurrentAgents:  envInt("CASEMESH_MAX_CONCURRENT_AGENTS", 4),
		TaskTimeout:          envDuration("CASEMESH_TASK_TIMEOUT", 2*time.Minute),
		RetryAttempts:        envInt("CASEMESH_RETRY_ATTEMPTS", 3),
		RetryBaseDelay:       envDuration("CASEMESH_RETRY_BASE_DELAY", 500*time.Millisecond),
		HeartbeatInterval:    envDuration("CASEMESH_HEARTBEAT_INTERVAL", 30*time.Second),
		ReconnectMaxAttempts: envInt("CASEMESH_RECONNECT_MAX_ATTEMPTS", 5),
		ReconnectBaseDelay:   envDuration("CASEMESH_RECONNECT_BASE_DELAY", 250*time.Millisecond),
		EventBuffer:          envInt("CASEMESH_EVENT_BUFFER", 100),
		MaxConcurrentRuns:    envInt("CASEMESH_MAX_CONCURRENT_RUNS", 10),
		MaxTurns:             envInt("CASEMESH_MAX_TURNS", 16),
		WorkflowDB:           envStr("CASEMESH_WORKFLOW_DB", ""),
		DeepSearch:           envBool("CASEMESH_DEEP_SEARCH", false),
		PostProcess:          envBool("CASEMESH_POST_PROCESS", false),
		InteractiveReview:    envBool("CASEMESH_INTERACTIVE_REVIEW", false),
		LogLevel:             envStr("CASEMESH_LOG_LEVEL", "info"),
		LogFormat:            envStr("CASEMESH_LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch c.ModelProvider {
	case "openai", "anthropic", "scripted":
	default:
		return fmt.Errorf("config: unknown CASEMESH_MODEL_PROVIDER %q", c.ModelProvider)
	}
	if c.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("config: CASEMESH_MAX_CONCURRENT_AGENTS must be positive")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("config: CASEMESH_TASK_TIMEOUT must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("config: CASEMESH_RETRY_ATTEMPTS must be positive")
	}
	if c.ReconnectMaxAttempts <= 0 {
		return fmt.Errorf("config: CASEMESH_RECONNECT_MAX_ATTEMPTS must be positive")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: CASEMESH_LOG_FORMAT must be json or text")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
