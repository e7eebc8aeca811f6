package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Sessions Commands
// =============================================================================

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}
	cmd.AddCommand(buildSessionsListCmd(), buildSessionsCloseCmd())
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions to return")
	return cmd
}

func runSessionsList(cmd *cobra.Command, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	sessions, err := application.Store.ListSessions(cmd.Context(), limit)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s\t%s\t%s\tlast active %s\n", s.ID, s.ConversationID, title, s.LastActiveAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func buildSessionsCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close [session-id]",
		Short: "Close a session and release its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsClose(cmd, args[0])
		},
	}
	return cmd
}

func runSessionsClose(cmd *cobra.Command, sessionID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Orchestrator.CloseSession(cmd.Context(), sessionID); err != nil {
		return err
	}
	fmt.Printf("closed session %s\n", sessionID)
	return nil
}
