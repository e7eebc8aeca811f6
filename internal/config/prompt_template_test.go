package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderSystemPromptTemplate(t *testing.T) {
	raw := "You are {{name}}.\n{{#if tools}}Available tools: {{tools}}.{{/if}}{{#if empty}}hidden{{/if}}"

	out := RenderSystemPromptTemplate(raw, map[string]string{
		"name":  "agentcore",
		"tools": "exec, http_request",
	})

	require.Contains(t, out, "You are agentcore.")
	require.Contains(t, out, "Available tools: exec, http_request.")
	require.NotContains(t, out, "hidden")
}

func TestLoadSystemPrompt_NoPathUsesFallback(t *testing.T) {
	out, err := LoadSystemPrompt("", "fallback for {{name}}", map[string]string{"name": "agentcore"})
	require.NoError(t, err)
	require.Equal(t, "fallback for agentcore", out)
}
