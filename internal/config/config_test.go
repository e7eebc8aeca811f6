package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_RequiresDefaultProvider(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	withEnv(t, map[string]string{"AGENTCORE_DEFAULT_API_KEY": "sk-test"})

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.DefaultProviderConfigured())
	require.Equal(t, "anthropic", cfg.Default.Backend)
	require.Equal(t, "data/agentcore.db", cfg.DatabasePath)
	require.Equal(t, "skills", cfg.SkillsDir)
	require.Equal(t, 12, cfg.MaxIterations)
	require.True(t, cfg.HeartbeatEnabled)
}

func TestLoad_ProviderFamilies(t *testing.T) {
	withEnv(t, map[string]string{
		"AGENTCORE_DEFAULT_API_KEY": "sk-test",
		"AGENTCORE_FAST_API_KEY":    "sk-fast",
		"AGENTCORE_FAST_BACKEND":    "openai",
		"AGENTCORE_VISION_API_KEY":  "",
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.FastProviderConfigured())
	require.Equal(t, "openai", cfg.Fast.Backend)
	require.False(t, cfg.VisionProviderConfigured())
}

func TestLoad_InvalidMaxIterations(t *testing.T) {
	withEnv(t, map[string]string{
		"AGENTCORE_DEFAULT_API_KEY": "sk-test",
		"AGENTCORE_MAX_ITERATIONS":  "not-a-number",
	})

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidHeartbeatInterval(t *testing.T) {
	withEnv(t, map[string]string{
		"AGENTCORE_DEFAULT_API_KEY":     "sk-test",
		"AGENTCORE_HEARTBEAT_INTERVAL": "soon",
	})

	_, err := Load()
	require.Error(t, err)
}
