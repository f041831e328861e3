package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCreateCommand() *cobra.Command {
	var (
		beneficiary string
		contributor string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new workflow instance",
		Long: `Create a new workflow instance from the configured template for one
beneficiary/contributor pairing. All tasks start incomplete; roots are
immediately available.`,
		Example: `  pledgeflow create --beneficiary shelter-1 --contributor donor-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			inst, err := rt.engine.CreateInstance(ctx, beneficiary, contributor)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(inst)
			}

			fmt.Printf("✓ Created %s instance: %s\n", inst.TemplateKind, inst.ID)
			fmt.Printf("  Beneficiary: %s\n", inst.Beneficiary)
			fmt.Printf("  Contributor: %s\n", inst.Contributor)
			fmt.Printf("  Tasks:       %d\n", len(inst.Tasks))
			return nil
		},
	}

	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "beneficiary actor id")
	cmd.Flags().StringVar(&contributor, "contributor", "", "contributor actor id")
	cmd.MarkFlagRequired("beneficiary")
	cmd.MarkFlagRequired("contributor")

	return cmd
}
