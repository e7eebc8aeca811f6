package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Tasks Commands
// =============================================================================

func buildTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage scheduled tasks",
	}
	cmd.AddCommand(buildTasksListCmd(), buildTasksCreateCmd(), buildTasksDeleteCmd())
	return cmd
}

func buildTasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
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

			for _, t := range application.Scheduler.List() {
				status := "enabled"
				if !t.Enabled {
					status = "disabled"
				}
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Cron, status, t.Action)
			}
			return nil
		},
	}
	return cmd
}

func buildTasksCreateCmd() *cobra.Command {
	var (
		name     string
		cronExpr string
		action   string
		disabled bool
		oneShot  bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scheduled task",
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

			task, err := application.Scheduler.Create(name, cronExpr, action, !disabled, oneShot)
			if err != nil {
				return err
			}
			fmt.Printf("created task %s\n", task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Task name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (5-field)")
	cmd.Flags().StringVar(&action, "action", "", "Action string a scheduled-task tool interprets")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the task disabled")
	cmd.Flags().BoolVar(&oneShot, "one-shot", false, "Run once then deregister")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func buildTasksDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [task-id]",
		Short: "Delete a scheduled task",
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

			if !application.Scheduler.Delete(args[0]) {
				return fmt.Errorf("task %q not found", args[0])
			}
			fmt.Printf("deleted task %s\n", args[0])
			return nil
		},
	}
	return cmd
}
