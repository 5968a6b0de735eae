// Package config loads and validates the orchestrator's runtime configuration
// from compiled-in defaults overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config is the resolved configuration for a running orchestrator instance.
type Config struct {
	// Mode is "dev", "demo" or "prod".
	Mode string
	Addr string
	Port int

	// LLM providers, in failover order. The first entry is primary.
	LLMProviders []LLMProviderConfig

	// Redis backs the session store, the message bus and instance membership.
	RedisURL          string
	RedisSessionDB    int
	RedisBusDB        int
	RedisMembershipDB int

	SessionTTL       time.Duration
	MaxHistoryLength int

	IntentRulesFile string
	AgentTopicsFile string
	PromptsDir      string

	DispatchFlushDeadline time.Duration
	AgentSoftDeadline     time.Duration
	AgentHardDeadline     time.Duration
	SweepInterval         time.Duration

	ProviderRateLimitRPM    int
	ProviderCircuitCooldown time.Duration

	MaxMessageChars int
}

// LLMProviderConfig configures a single LLM backend slot in the registry.
type LLMProviderConfig struct {
	Name        string // stable name used in logs/metrics, e.g. "openai-primary"
	Kind        string // "openai" or "mock"
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Default returns a configuration suitable for local/dev use: an in-memory
// session store, the offline mock LLM provider, and compiled-in intent
// rules and agent topics.
func Default() *Config {
	return &Config{
		Mode:                    "dev",
		Addr:                    "",
		Port:                    8088,
		LLMProviders:            []LLMProviderConfig{{Name: "mock-primary", Kind: "mock", Model: "mock-1"}},
		RedisURL:                "",
		RedisSessionDB:          2,
		RedisBusDB:              3,
		RedisMembershipDB:       4,
		SessionTTL:              3600 * time.Second,
		MaxHistoryLength:        50,
		IntentRulesFile:         "",
		AgentTopicsFile:         "",
		PromptsDir:              "",
		DispatchFlushDeadline:   2 * time.Second,
		AgentSoftDeadline:       10 * time.Second,
		AgentHardDeadline:       30 * time.Second,
		SweepInterval:           250 * time.Millisecond,
		ProviderRateLimitRPM:    60,
		ProviderCircuitCooldown: 30 * time.Second,
		MaxMessageChars:         2000,
	}
}

// FromEnv overlays environment variables onto a base configuration. Unset
// variables leave the base value untouched, mirroring the teacher's
// layered env-then-default resolution.
func (c *Config) FromEnv() {
	c.Mode = getEnvOrDefault("ORCHESTRATOR_MODE", c.Mode)
	c.Addr = getEnvOrDefault("ORCHESTRATOR_ADDR", c.Addr)
	c.Port = getEnvOrDefaultInt("ORCHESTRATOR_PORT", c.Port)

	c.RedisURL = getEnvOrDefault("ORCHESTRATOR_REDIS_URL", c.RedisURL)
	c.RedisSessionDB = getEnvOrDefaultInt("ORCHESTRATOR_REDIS_SESSION_DB", c.RedisSessionDB)
	c.RedisBusDB = getEnvOrDefaultInt("ORCHESTRATOR_REDIS_BUS_DB", c.RedisBusDB)
	c.RedisMembershipDB = getEnvOrDefaultInt("ORCHESTRATOR_REDIS_MEMBERSHIP_DB", c.RedisMembershipDB)

	c.IntentRulesFile = getEnvOrDefault("ORCHESTRATOR_INTENT_RULES_FILE", c.IntentRulesFile)
	c.AgentTopicsFile = getEnvOrDefault("ORCHESTRATOR_AGENT_TOPICS_FILE", c.AgentTopicsFile)
	c.PromptsDir = getEnvOrDefault("ORCHESTRATOR_PROMPTS_DIR", c.PromptsDir)

	if key := os.Getenv("ORCHESTRATOR_LLM_PRIMARY_API_KEY"); key != "" {
		c.LLMProviders = []LLMProviderConfig{
			{
				Name:        "primary",
				Kind:        "openai",
				APIKey:      key,
				BaseURL:     getEnvOrDefault("ORCHESTRATOR_LLM_PRIMARY_BASE_URL", "https://api.openai.com/v1"),
				Model:       getEnvOrDefault("ORCHESTRATOR_LLM_PRIMARY_MODEL", "gpt-4o-mini"),
				MaxTokens:   getEnvOrDefaultInt("ORCHESTRATOR_LLM_MAX_TOKENS", 1024),
				Temperature: 0.3,
				Timeout:     120 * time.Second,
			},
		}
		if fbKey := os.Getenv("ORCHESTRATOR_LLM_FALLBACK_API_KEY"); fbKey != "" {
			c.LLMProviders = append(c.LLMProviders, LLMProviderConfig{
				Name:        "fallback",
				Kind:        "openai",
				APIKey:      fbKey,
				BaseURL:     getEnvOrDefault("ORCHESTRATOR_LLM_FALLBACK_BASE_URL", "https://api.openai.com/v1"),
				Model:       getEnvOrDefault("ORCHESTRATOR_LLM_FALLBACK_MODEL", "gpt-4o-mini"),
				MaxTokens:   getEnvOrDefaultInt("ORCHESTRATOR_LLM_MAX_TOKENS", 1024),
				Temperature: 0.3,
				Timeout:     120 * time.Second,
			})
		}
	}
}

// Validate checks invariants the rest of the system relies on.
func (c *Config) Validate() error {
	if len(c.LLMProviders) == 0 {
		return errors.New("at least one LLM provider must be configured")
	}
	if c.MaxMessageChars <= 0 {
		return errors.New("max message length must be positive")
	}
	if c.MaxHistoryLength <= 0 {
		return errors.New("max history length must be positive")
	}
	if c.AgentHardDeadline <= c.AgentSoftDeadline {
		return errors.New("agent hard deadline must exceed soft deadline")
	}
	return nil
}

// UsesRedis reports whether a Redis address was configured. When empty, the
// orchestrator falls back to in-process, single-instance implementations of
// the session store and message bus — fine for tests and local development,
// but not for a multi-instance deployment.
func (c *Config) UsesRedis() bool {
	return c.RedisURL != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{mode=%s addr=%s:%d redis=%v providers=%d}", c.Mode, c.Addr, c.Port, c.UsesRedis(), len(c.LLMProviders))
}
