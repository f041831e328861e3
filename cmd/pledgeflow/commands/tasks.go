package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

func newTasksCommand() *cobra.Command {
	var asActor string

	cmd := &cobra.Command{
		Use:   "tasks <instance-id>",
		Short: "List an instance's tasks as one party sees them",
		Long: `List the task graph of an instance filtered through one actor's view.
Statuses are derived at read time; blocked tasks waiting on another party
name that party's task. Without --as, an anonymous view is shown and no
task is actionable.`,
		Example: `  # The contributor's view
  pledgeflow tasks 4f7c... --as donor-1

  # Anonymous status refresh
  pledgeflow tasks 4f7c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instanceID := args[0]

			rt, err := newRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			var views []workflow.TaskView
			if asActor == "" {
				views, err = rt.engine.Refresh(ctx, instanceID)
			} else {
				var actor workflow.Actor
				actor, err = rt.identity.Resolve(ctx, asActor)
				if err != nil {
					return err
				}
				views, err = rt.engine.ListTasks(ctx, instanceID, actor)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(views)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tKIND\tROLE\tSTATUS\tACT\tNOTE")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					v.ID, v.Kind, v.Role, v.Status, actMark(v), viewNote(v))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&asActor, "as", "", "actor id to view the instance as")

	return cmd
}

func actMark(v workflow.TaskView) string {
	if v.CanAct {
		return "yes"
	}
	return "-"
}

func viewNote(v workflow.TaskView) string {
	switch {
	case v.Expired:
		return "expired"
	case v.Skipped:
		return "skipped"
	case v.Status == workflow.StatusCompleted:
		return fmt.Sprintf("by %s", v.CompletedBy)
	case v.WaitingOn != nil:
		return fmt.Sprintf("waiting on %s (%s)", v.WaitingOn.Title, v.WaitingOn.Role)
	default:
		return ""
	}
}
