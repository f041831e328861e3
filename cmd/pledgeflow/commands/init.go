package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pledgeflow/pledgeflow/pkg/config"
	"github.com/pledgeflow/pledgeflow/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		dataDir     string
		beneficiary string
		contributor string
		valuator    string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a PledgeFlow workspace",
		Long: `Initialize a new PledgeFlow workspace with a config file, the SQLite
database, and the default donation template written out for editing.`,
		Example: `  # Initialize in ./data with default party ids
  pledgeflow init

  # Initialize with named parties
  pledgeflow init --beneficiary shelter-1 --contributor donor-1 --valuator appraiser-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("data_dir", dataDir).Msg("Initializing workspace")

			ctx := context.Background()

			if err := os.MkdirAll(dataDir, 0700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
			}
			fmt.Printf("✓ Created directory: %s\n", dataDir)

			// Initialize the SQLite database
			dbPath := filepath.Join(dataDir, "pledgeflow.db")
			store, err := stores.NewSQLiteStore(stores.SQLiteConfig{Path: dbPath})
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized SQLite database: %s\n", dbPath)

			// Validate the embedded template before writing anything else
			tmpl, err := config.DefaultTemplate()
			if err != nil {
				return fmt.Errorf("embedded template is invalid: %w", err)
			}
			fmt.Printf("✓ Validated %s template (%d tasks)\n", tmpl.Kind(), len(tmpl.TaskIDs()))

			// Write the default config file
			configContent := fmt.Sprintf(`# PledgeFlow Configuration

database:
  path: %s

telemetry:
  log_level: info
  log_format: console
  metrics_address: ":9090"

# Path to a workflow template YAML. Empty uses the built-in donation
# template.
template_path: ""

parties:
  - id: %s
    role: beneficiary
  - id: %s
    role: contributor
  - id: %s
    role: valuator
`, dbPath, beneficiary, contributor, valuator)

			if configPath == "" {
				configPath = defaultConfigPath
			}
			if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("✓ Created config file: %s\n", configPath)

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Create a donation instance:\n")
			fmt.Printf("     pledgeflow create --beneficiary %s --contributor %s\n\n", beneficiary, contributor)
			fmt.Printf("  2. See each party's tasks:\n")
			fmt.Printf("     pledgeflow tasks <instance-id> --as %s\n\n", beneficiary)

			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "workspace data directory")
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "beneficiary-1", "beneficiary actor id")
	cmd.Flags().StringVar(&contributor, "contributor", "contributor-1", "contributor actor id")
	cmd.Flags().StringVar(&valuator, "valuator", "valuator-1", "valuator actor id")

	return cmd
}
