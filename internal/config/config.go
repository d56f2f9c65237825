package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the transcript service.
type Config struct {
	BindAddr                      string
	ShutdownTimeout               time.Duration
	ConversationInactivityTimeout time.Duration
	MetricsNamespace              string

	AllowAnyOrigin bool

	// ThrottleInterval is the minimum gap between streamed transcript
	// snapshots per turn.
	ThrottleInterval time.Duration

	AgentSourceMode  string
	AgentCLIPath     string
	AnthropicAPIKey  string
	AnthropicModel   string
	AgentMaxTokens   int
	HistoryReplayMax int

	DatabaseURL string
	RedisAddr   string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                      envOrDefault("SCRIBE_BIND_ADDR", ":8080"),
		MetricsNamespace:              envOrDefault("SCRIBE_METRICS_NAMESPACE", "scribe"),
		AllowAnyOrigin:                false,
		ThrottleInterval:              80 * time.Millisecond,
		AgentSourceMode:               envOrDefault("SCRIBE_AGENT_MODE", "auto"),
		AgentCLIPath:                  envOrDefault("SCRIBE_AGENT_CLI_PATH", "claude"),
		AnthropicAPIKey:               stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:                envOrDefault("SCRIBE_ANTHROPIC_MODEL", ""),
		AgentMaxTokens:                4096,
		HistoryReplayMax:              40,
		DatabaseURL:                   stringsTrimSpace("DATABASE_URL"),
		RedisAddr:                     stringsTrimSpace("REDIS_ADDR"),
		ShutdownTimeout:               15 * time.Second,
		ConversationInactivityTimeout: 10 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("SCRIBE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationInactivityTimeout, err = durationFromEnv("SCRIBE_CONVERSATION_INACTIVITY_TIMEOUT", cfg.ConversationInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ThrottleInterval, err = durationFromEnv("SCRIBE_THROTTLE_INTERVAL", cfg.ThrottleInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("SCRIBE_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentMaxTokens, err = intFromEnv("SCRIBE_AGENT_MAX_TOKENS", cfg.AgentMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryReplayMax, err = intFromEnv("SCRIBE_HISTORY_REPLAY_MAX", cfg.HistoryReplayMax)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConversationInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("SCRIBE_CONVERSATION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ThrottleInterval <= 0 {
		return Config{}, fmt.Errorf("SCRIBE_THROTTLE_INTERVAL must be positive")
	}
	if cfg.AgentMaxTokens <= 0 {
		return Config{}, fmt.Errorf("SCRIBE_AGENT_MAX_TOKENS must be positive")
	}
	if cfg.HistoryReplayMax < 0 {
		return Config{}, fmt.Errorf("SCRIBE_HISTORY_REPLAY_MAX must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
