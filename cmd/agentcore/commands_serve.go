package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentcore/engine/internal/agent"
	"github.com/agentcore/engine/internal/orchestrator"
	"github.com/agentcore/engine/pkg/models"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command: an interactive chat session
// against one conversation, reading from stdin and streaming the agent
// loop's events to stdout until EOF or interrupt.
func buildServeCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session against the agent loop.

Each line of stdin is sent as one user turn. The response streams to
stdout as it is produced, including tool calls and their results.
Ctrl-D ends the session; Ctrl-C interrupts the in-flight turn.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session id instead of starting a new one")
	return cmd
}

func runServe(ctx context.Context, sessionID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Skills.Discover(ctx); err != nil {
		slog.Warn("skill discovery failed", "error", err)
	}
	if err := application.Skills.StartWatching(ctx); err != nil {
		slog.Warn("skill hot-reload watch failed", "error", err)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session, err := application.Orchestrator.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get or create session: %w", err)
	}
	if err := application.Orchestrator.StartHeartbeat(session.ConversationID); err != nil {
		slog.Warn("heartbeat start failed", "error", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("session %s (conversation %s). Ctrl-D to exit.\n", session.ID, session.ConversationID)
	reader := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !reader.Scan() {
			break
		}
		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		userCtx := orchestrator.UserContext{
			PromptUser: func(ctx context.Context, question string) (string, error) {
				fmt.Printf("\n[assistant asks] %s\n> ", question)
				if !reader.Scan() {
					return "", fmt.Errorf("no input available")
				}
				return reader.Text(), nil
			},
			NotifyUser: func(ctx context.Context, message string) error {
				fmt.Printf("\n[notify] %s\n", message)
				return nil
			},
		}

		events, err := application.Orchestrator.ProcessInputStream(sigCtx, session.ID, models.Message{Role: models.RoleUser, Text: line}, userCtx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		drainEvents(events)
	}

	if err := reader.Err(); err != nil {
		return err
	}
	return nil
}

func drainEvents(events <-chan agent.Event) {
	for ev := range events {
		switch ev.Kind {
		case agent.EventResponseChunk:
			fmt.Print(ev.Text)
		case agent.EventToolCall:
			fmt.Printf("\n[tool call] %s %s\n", ev.ToolName, string(ev.ToolInput))
		case agent.EventToolResult:
			if ev.ToolResult != nil {
				fmt.Printf("[tool result] %s -> %s\n", ev.ToolName, truncate(ev.ToolResult.Content, 200))
			}
		case agent.EventResponseComplete:
			fmt.Println()
		case agent.EventError:
			fmt.Fprintf(os.Stderr, "\n[error] %v\n", ev.Err)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
