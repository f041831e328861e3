package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCompleteCommand() *cobra.Command {
	var (
		asActor string
		setters []string
	)

	cmd := &cobra.Command{
		Use:   "complete <instance-id> <task-id>",
		Short: "Complete an available task",
		Long: `Complete an available task as one actor. The payload is validated
against the task kind; branch decision tasks additionally require an
"option" entry naming a declared branch, and the choice rewrites the
downstream tasks before anything is persisted.

Values are typed automatically: numbers and booleans are parsed, and
comma-separated values become lists (for document upload artifacts).`,
		Example: `  # Register the donation
  pledgeflow complete 4f7c... register_donation --as shelter-1

  # Commit a fixed amount now
  pledgeflow complete 4f7c... choose_commitment --as donor-1 \
    --set option=commit_now --set amount=500

  # Upload appraisal documents
  pledgeflow complete 4f7c... appraise_donation --as appraiser-1 \
    --set artifacts=appraisal.pdf,photos.zip`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instanceID, taskID := args[0], args[1]

			payload, err := parsePayload(setters)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			result, err := rt.engine.CompleteTaskAs(ctx, instanceID, taskID, asActor, payload)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			fmt.Printf("✓ Completed %s\n", result.Task.ID)
			if len(result.NowAvailable) > 0 {
				fmt.Println("  Now available:")
				for _, task := range result.NowAvailable {
					fmt.Printf("    %s (%s)\n", task.ID, task.Role)
				}
			}
			if result.DispatchError != nil {
				fmt.Printf("  ⚠ Notification dispatch failed: %v\n", result.DispatchError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&asActor, "as", "", "actor id completing the task")
	cmd.Flags().StringArrayVar(&setters, "set", nil, "payload entry as key=value (repeatable)")
	cmd.MarkFlagRequired("as")

	return cmd
}
