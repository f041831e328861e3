package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExpireCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire <instance-id> <task-id>",
		Short: "Expire a lapsed invitation or signature request",
		Long: `Expire an available invitation or signature request whose external
recipient never responded. The task completes with an expiry marker so
dependent tasks unblock; other task kinds cannot expire.`,
		Example: `  pledgeflow expire 4f7c... sign_agreement`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instanceID, taskID := args[0], args[1]

			rt, err := newRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			task, err := rt.engine.ExpireTask(ctx, instanceID, taskID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(task)
			}

			fmt.Printf("✓ Expired %s (%s)\n", task.ID, task.Kind)
			return nil
		},
	}

	return cmd
}
