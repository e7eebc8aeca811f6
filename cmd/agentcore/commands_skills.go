package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Skills Commands
// =============================================================================

func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage skills (SKILL.md-based)",
		Long: `Manage skills that extend the agent's capabilities.

Each skill is a directory under the configured skills directory containing
a SKILL.md file with YAML front-matter (name, description, triggers).`,
	}
	cmd.AddCommand(buildSkillsListCmd(), buildSkillsShowCmd(), buildSkillsEnableCmd(), buildSkillsDisableCmd())
	return cmd
}

func withSkillsRegistry(cmd *cobra.Command, fn func(reg *skillsHandle) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Skills.Discover(cmd.Context()); err != nil {
		return err
	}
	return fn(&skillsHandle{application})
}

// skillsHandle narrows *app to the skill operations these commands need.
type skillsHandle struct{ *app }

func buildSkillsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSkillsRegistry(cmd, func(h *skillsHandle) error {
				for _, s := range h.Skills.List() {
					status := "enabled"
					if !s.Enabled {
						status = "disabled"
					}
					fmt.Printf("%s\t%s\t%s\n", s.ID, status, s.Description)
				}
				return nil
			})
		},
	}
	return cmd
}

func buildSkillsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Show a skill's parsed instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSkillsRegistry(cmd, func(h *skillsHandle) error {
				skill, ok := h.Skills.Get(args[0])
				if !ok {
					return fmt.Errorf("skill %q not found", args[0])
				}
				fmt.Printf("# %s\n\n%s\n\n%s\n", skill.Name, skill.Description, skill.Instructions)
				return nil
			})
		},
	}
	return cmd
}

func buildSkillsEnableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable [name]",
		Short: "Enable a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSkillsRegistry(cmd, func(h *skillsHandle) error {
				return h.Skills.SetEnabled(args[0], true)
			})
		},
	}
	return cmd
}

func buildSkillsDisableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disable [name]",
		Short: "Disable a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSkillsRegistry(cmd, func(h *skillsHandle) error {
				return h.Skills.SetEnabled(args[0], false)
			})
		},
	}
	return cmd
}
