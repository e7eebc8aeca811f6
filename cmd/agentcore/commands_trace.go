package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Trace Commands
// =============================================================================

func buildTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded turn traces",
		Long: `Inspect the per-turn traces recorded by the context manager and agent
loop: the system prompt and skill match used, the ordered step log of LLM
calls and tool calls/results, and the final response and token counts.`,
	}
	cmd.AddCommand(buildTraceListCmd(), buildTraceShowCmd())
	return cmd
}

func buildTraceListCmd() *cobra.Command {
	var (
		conversationID string
		limit          int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List traces for a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			traces, err := application.Store.ListTraces(cmd.Context(), conversationID, limit)
			if err != nil {
				return err
			}
			for _, t := range traces {
				fmt.Printf("%s\t%s\t%dms\t%d steps\n", t.ID, t.CreatedAt.Format("2006-01-02 15:04:05"), t.DurationMs, len(t.Steps))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id to list traces for")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of traces to return")
	return cmd
}

func buildTraceShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show [trace-id]",
		Short: "Show one trace's full step log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			application, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			trace, err := application.Store.GetTrace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				out, err := json.MarshalIndent(trace, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			fmt.Printf("trace %s (conversation %s)\n", trace.ID, trace.ConversationID)
			fmt.Printf("skill match: %s\n", trace.SkillMatch)
			for _, step := range trace.Steps {
				switch step.Kind {
				case "llm_call":
					fmt.Printf("[%s] llm_call iteration=%d tokens_in=%d tokens_out=%d\n", step.At.Format("15:04:05"), step.Iteration, step.TokensIn, step.TokensOut)
				case "tool_call":
					fmt.Printf("[%s] tool_call %s %s\n", step.At.Format("15:04:05"), step.ToolName, string(step.ToolInput))
				case "tool_result":
					fmt.Printf("[%s] tool_result %s error=%v (%dms)\n", step.At.Format("15:04:05"), step.ToolName, step.IsError, step.DurationMs)
				}
			}
			fmt.Printf("response: %s\n", trace.Response)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the trace as JSON")
	return cmd
}
