package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentcore/engine/pkg/models"
)

// =============================================================================
// Plan Commands
// =============================================================================

func buildPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Create and inspect multi-step plans",
	}
	cmd.AddCommand(buildPlanCreateCmd(), buildPlanShowCmd(), buildPlanListCmd(), buildPlanCancelCmd())
	return cmd
}

func buildPlanCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [goal]",
		Short: "Create a plan for a goal and run it to completion",
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

			plan, err := application.Orchestrator.Planner().CreatePlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("created plan %s with %d steps\n", plan.ID, len(plan.Steps))

			for plan.Status == models.PlanActive || plan.Status == models.PlanPending {
				executed, err := application.Orchestrator.Planner().ExecuteNext(cmd.Context(), plan.ID)
				if err != nil {
					return err
				}
				updated, ok := application.Orchestrator.Planner().Get(plan.ID)
				if !ok {
					break
				}
				plan = updated
				if len(executed) == 0 {
					// No runnable steps left but the plan isn't terminal:
					// an unsatisfiable dependency. Stop rather than spin.
					break
				}
			}
			printPlan(plan)
			return nil
		},
	}
	return cmd
}

func buildPlanShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [plan-id]",
		Short: "Show a plan's steps and status",
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

			plan, ok := application.Orchestrator.Planner().Get(args[0])
			if !ok {
				return fmt.Errorf("plan %q not found", args[0])
			}
			printPlan(plan)
			return nil
		},
	}
	return cmd
}

func buildPlanListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans, optionally filtered by status",
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

			for _, p := range application.Orchestrator.Planner().List(models.PlanStatus(status)) {
				fmt.Printf("%s\t%s\t%s\n", p.ID, p.Status, p.Goal)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, active, completed, failed, cancelled)")
	return cmd
}

func buildPlanCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel [plan-id]",
		Short: "Cancel a plan",
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

			if err := application.Orchestrator.Planner().Cancel(args[0]); err != nil {
				return err
			}
			fmt.Printf("cancelled plan %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func printPlan(plan *models.Plan) {
	fmt.Printf("plan %s [%s]: %s\n", plan.ID, plan.Status, plan.Goal)
	for _, step := range plan.Steps {
		fmt.Printf("  - [%s] %s\n", step.Status, step.Description)
	}
	if plan.Result != "" {
		fmt.Printf("result: %s\n", plan.Result)
	}
}
