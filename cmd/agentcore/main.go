// Package main provides the CLI entry point for agentcore, a self-hosted
// agentic execution core: an agent loop, context manager, memory store,
// planner, skill registry, scheduler, and orchestrator wired over Anthropic
// or OpenAI-compatible providers.
//
// # Basic Usage
//
// Start an interactive chat session:
//
//	agentcore serve
//
// Inspect sessions, memory, skills, scheduled tasks, traces, and plans:
//
//	agentcore sessions list
//	agentcore memory search "deployment checklist"
//	agentcore skills list
//	agentcore tasks list
//	agentcore trace show <trace-id>
//	agentcore plan create "migrate the staging database"
//
// # Environment Variables
//
// Every setting is read from AGENTCORE_* environment variables; see
// internal/config for the full list. At minimum, AGENTCORE_DEFAULT_API_KEY
// must be set.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentcore/engine/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentcore",
		Short:        "agentcore - self-hosted agentic execution core",
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSessionsCmd(),
		buildMemoryCmd(),
		buildSkillsCmd(),
		buildTasksCmd(),
		buildTraceCmd(),
		buildPlanCmd(),
	)
	return rootCmd
}

// loadConfig is the shared entry point every subcommand uses to read
// AGENTCORE_* environment variables before building its dependencies.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
