package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pledgeflow/pledgeflow/pkg/config"
	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

func newValidateCommand() *cobra.Command {
	var dotOutput string

	cmd := &cobra.Command{
		Use:   "validate [template-file]",
		Short: "Validate a workflow template",
		Long: `Validate a workflow template document: YAML shape, role and kind
values, dependency references, branch option targets, and graph
acyclicity. Without an argument the built-in donation template is
validated.`,
		Example: `  # Validate a custom template
  pledgeflow validate ./templates/grant.yaml

  # Validate the built-in template and render its graph
  pledgeflow validate --dot graph.dot`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				tmpl *workflow.Template
				err  error
				src  string
			)
			if len(args) == 1 {
				src = args[0]
				tmpl, err = config.LoadTemplate(src)
			} else {
				src = "built-in donation template"
				tmpl, err = config.DefaultTemplate()
			}
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			fmt.Printf("✓ %s is valid\n", src)
			fmt.Printf("  Kind:  %s\n", tmpl.Kind())
			fmt.Printf("  Tasks: %d\n", len(tmpl.TaskIDs()))
			fmt.Printf("  Depth: %d\n", tmpl.Depth())
			for i, level := range tmpl.Levels() {
				fmt.Printf("  Level %d: %s\n", i, strings.Join(level, ", "))
			}

			if dotOutput != "" {
				if err := os.WriteFile(dotOutput, []byte(tmpl.ToDOT()), 0644); err != nil {
					return fmt.Errorf("failed to write DOT file: %w", err)
				}
				fmt.Printf("✓ Wrote graph to %s\n", dotOutput)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dotOutput, "dot", "", "write the task graph in DOT format to this file")

	return cmd
}
