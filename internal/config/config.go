// Package config assembles a typed Config from environment variables:
// provider credentials and model overrides, storage and skills paths, the
// scheduler's heartbeat cadence, and an optional system-prompt template.
// There is no config file format and no schema validation library — every
// setting has a single env var and a documented default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig holds one provider family's credentials and model choice.
// A family with no API key is left unconfigured; callers treat a nil
// *ProviderConfig (or an empty APIKey) as "this provider family is not
// available" and fall back accordingly.
type ProviderConfig struct {
	Backend        string // "anthropic" or "openai"
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

func (p *ProviderConfig) configured() bool {
	return p != nil && strings.TrimSpace(p.APIKey) != ""
}

// Config is the fully resolved runtime configuration for the engine.
type Config struct {
	Default *ProviderConfig
	Fast    *ProviderConfig
	Vision  *ProviderConfig

	DatabasePath string
	SkillsDir    string
	SkillsSidecarPath string
	TempRoot     string

	MaxIterations int

	HeartbeatEnabled  bool
	HeartbeatInterval time.Duration
	HeartbeatPrompt   string

	SystemPromptTemplatePath string
}

// DefaultProviderConfigured reports whether a default provider's API key
// was supplied; the engine cannot run at all without one.
func (c *Config) DefaultProviderConfigured() bool { return c.Default.configured() }

// FastProviderConfigured reports whether a fast-routing provider is usable.
func (c *Config) FastProviderConfigured() bool { return c.Fast.configured() }

// VisionProviderConfigured reports whether a vision-routing provider is usable.
func (c *Config) VisionProviderConfigured() bool { return c.Vision.configured() }

// Load reads every recognized AGENTCORE_* environment variable and
// assembles a Config, applying defaults for anything unset. It returns an
// error only when a required value is malformed (e.g. a non-numeric
// duration or iteration count), never for missing optional values.
func Load() (*Config, error) {
	cfg := &Config{
		Default:           loadProvider("AGENTCORE_DEFAULT"),
		Fast:              loadProvider("AGENTCORE_FAST"),
		Vision:            loadProvider("AGENTCORE_VISION"),
		DatabasePath:      getenvDefault("AGENTCORE_DATABASE_PATH", "data/agentcore.db"),
		SkillsDir:         getenvDefault("AGENTCORE_SKILLS_DIR", "skills"),
		SkillsSidecarPath: getenvDefault("AGENTCORE_SKILLS_SIDECAR", "data/skills-state.json"),
		TempRoot:          getenvDefault("AGENTCORE_TEMP_ROOT", "data/tmp"),
		HeartbeatPrompt:   os.Getenv("AGENTCORE_HEARTBEAT_PROMPT"),
		SystemPromptTemplatePath: os.Getenv("AGENTCORE_SYSTEM_PROMPT_TEMPLATE"),
	}

	maxIter, err := getenvInt("AGENTCORE_MAX_ITERATIONS", 12)
	if err != nil {
		return nil, err
	}
	cfg.MaxIterations = maxIter

	cfg.HeartbeatEnabled, err = getenvBool("AGENTCORE_HEARTBEAT_ENABLED", true)
	if err != nil {
		return nil, err
	}

	interval, err := getenvDuration("AGENTCORE_HEARTBEAT_INTERVAL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.HeartbeatInterval = interval

	if !cfg.DefaultProviderConfigured() {
		return nil, fmt.Errorf("config: AGENTCORE_DEFAULT_API_KEY is required")
	}
	return cfg, nil
}

// loadProvider reads a provider family's env vars under the given prefix
// (e.g. "AGENTCORE_FAST" -> AGENTCORE_FAST_API_KEY, AGENTCORE_FAST_MODEL,
// ...). Returns nil if no API key is set for this prefix.
func loadProvider(prefix string) *ProviderConfig {
	apiKey := os.Getenv(prefix + "_API_KEY")
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv(prefix + "_BACKEND")))
	if backend == "" {
		backend = "anthropic"
	}
	return &ProviderConfig{
		Backend:        backend,
		APIKey:         apiKey,
		BaseURL:        os.Getenv(prefix + "_BASE_URL"),
		Model:          os.Getenv(prefix + "_MODEL"),
		EmbeddingModel: os.Getenv(prefix + "_EMBEDDING_MODEL"),
	}
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration (e.g. \"30m\"): %w", key, err)
	}
	return d, nil
}
