package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset <instance-id>",
		Short: "Reset an instance to its initial state",
		Long: `Reset an instance to the template's initial state, discarding all
completion facts, payloads, and branch rewrites. External artifacts
(uploaded documents, signature envelopes) are not cleaned up.`,
		Example: `  pledgeflow reset 4f7c... --force`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instanceID := args[0]

			if !force {
				fmt.Printf("Reset instance %s and discard all progress? [y/N]: ", instanceID)
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.ToLower(strings.TrimSpace(answer)) != "y" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			rt, err := newRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if err := rt.engine.ResetInstance(ctx, instanceID); err != nil {
				return err
			}

			fmt.Printf("✓ Reset instance %s to initial state\n", instanceID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")

	return cmd
}
