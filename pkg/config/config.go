// Package config loads service configuration from the environment and holds
// the static per-platform gating table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration assembled at startup.
type Config struct {
	HTTPPort string
	PodID    string

	Redis   RedisConfig
	Browser BrowserConfig
	LLM     LLMConfig
	Sweeper SweeperConfig
	Gate    GateTable

	// FeedURL overrides the video-feed proxy endpoint used by the youtube
	// connector. Empty uses the connector's built-in default.
	FeedURL string

	// APIKeys maps bearer credentials to tenant identities. In production
	// deployments the identity store is external; this static map is the
	// env-provisioned variant.
	APIKeys map[string]Identity

	// DefaultTaskTimeout bounds how long a running task may live before the
	// sweeper fails it.
	DefaultTaskTimeout time.Duration
}

// RedisConfig holds lock/rate store connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// BrowserConfig holds remote browser provider settings.
type BrowserConfig struct {
	BaseURL string
	APIKey  string
	ImageID string
	Timeout time.Duration
}

// LLMConfig holds settings for the analysis/planning LLM runner.
type LLMConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// SweeperConfig controls the task timeout sweeper loop.
type SweeperConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// Identity is the tenant attached to a request after authentication.
type Identity struct {
	Source   string
	SourceID string
}

// Load assembles configuration from environment variables with defaults.
func Load() (*Config, error) {
	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	browserTimeout, err := time.ParseDuration(getEnvOrDefault("BROWSER_HTTP_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BROWSER_HTTP_TIMEOUT: %w", err)
	}

	taskTimeout, err := time.ParseDuration(getEnvOrDefault("TASK_TIMEOUT", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid TASK_TIMEOUT: %w", err)
	}

	maxTokens, err := strconv.Atoi(getEnvOrDefault("LLM_MAX_TOKENS", "4096"))
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_TOKENS: %w", err)
	}

	apiKeys, err := parseAPIKeys(os.Getenv("SNIPER_API_KEYS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		PodID:    resolvePodID(),
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Browser: BrowserConfig{
			BaseURL: getEnvOrDefault("BROWSER_BASE_URL", "http://localhost:9222"),
			APIKey:  os.Getenv("BROWSER_API_KEY"),
			ImageID: getEnvOrDefault("BROWSER_IMAGE_ID", "chrome-stable"),
			Timeout: browserTimeout,
		},
		LLM: LLMConfig{
			APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			Model:     getEnvOrDefault("LLM_MODEL", "claude-sonnet-4-5"),
			MaxTokens: maxTokens,
		},
		FeedURL:            os.Getenv("YOUTUBE_FEED_URL"),
		Sweeper:            DefaultSweeperConfig(),
		Gate:               DefaultGateTable(),
		APIKeys:            apiKeys,
		DefaultTaskTimeout: taskTimeout,
	}, nil
}

// DefaultSweeperConfig returns the built-in sweeper defaults. The lock TTL
// deliberately exceeds the interval so a crashed holder's lock expires before
// the next election.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 60 * time.Second,
		LockTTL:  70 * time.Second,
	}
}

// parseAPIKeys parses "key=source:source_id" pairs separated by commas.
func parseAPIKeys(raw string) (map[string]Identity, error) {
	keys := make(map[string]Identity)
	if raw == "" {
		return keys, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, ident, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid SNIPER_API_KEYS entry %q: want key=source:source_id", pair)
		}
		source, sourceID, ok := strings.Cut(ident, ":")
		if !ok {
			return nil, fmt.Errorf("invalid SNIPER_API_KEYS entry %q: want key=source:source_id", pair)
		}
		keys[key] = Identity{Source: source, SourceID: sourceID}
	}
	return keys, nil
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
