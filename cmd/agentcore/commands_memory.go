package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentcore/engine/pkg/models"
)

// =============================================================================
// Memory Commands
// =============================================================================

func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Search and inspect long-term memory entries",
	}
	cmd.AddCommand(buildMemorySearchCmd(), buildMemoryListCmd(), buildMemoryForgetCmd())
	return cmd
}

func buildMemorySearchCmd() *cobra.Command {
	var (
		conversationID string
		limit          int
		threshold      float64
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memory using semantic similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemorySearch(cmd, args[0], conversationID, limit, threshold)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Restrict search to one conversation")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.5, "Minimum hybrid ranking score (0-1)")
	return cmd
}

func runMemorySearch(cmd *cobra.Command, query, conversationID string, limit int, threshold float64) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	results, err := application.Store.SearchMemory(cmd.Context(), models.MemorySearchOptions{
		ConversationID: conversationID,
		Query:          query,
		Limit:          limit,
		Threshold:      threshold,
	})
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%.3f\t%s\t%s\n", r.Score, r.Entry.Type, truncate(r.Entry.Content, 160))
	}
	return nil
}

func buildMemoryListCmd() *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory entries for a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryList(cmd, conversationID)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id to list entries for")
	return cmd
}

func runMemoryList(cmd *cobra.Command, conversationID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	entries, err := application.Store.ListMemories(cmd.Context(), conversationID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%.2f\t%s\n", e.ID, e.Type, e.Importance, truncate(e.Content, 160))
	}
	return nil
}

func buildMemoryForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget [memory-id]",
		Short: "Delete a memory entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryForget(cmd, args[0])
		},
	}
	return cmd
}

func runMemoryForget(cmd *cobra.Command, id string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Store.DeleteMemory(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Printf("deleted memory %s\n", id)
	return nil
}
