package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pledgeflow",
		Short: "PledgeFlow - Donation Workflow Engine",
		Long: `PledgeFlow coordinates multi-party donation workflows between a
beneficiary, a contributor, and an independent valuator.

Each donation instance is a dependency graph of tasks. Tasks unblock as
their dependencies complete; a contributor's commitment choice rewrites
the downstream path, skipping or converting tasks the chosen branch no
longer needs.

Features:
  - YAML workflow templates with cycle and reference validation
  - Role-filtered task views with cross-role blocking explanations
  - Branch rewriting on commitment decisions
  - Explicit expiry for lapsed invitations and signature requests
  - SQLite persistence with optimistic concurrency`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newTasksCommand())
	rootCmd.AddCommand(newCompleteCommand())
	rootCmd.AddCommand(newExpireCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newDevCommand(version))

	return rootCmd
}
