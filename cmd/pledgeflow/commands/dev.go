package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pledgeflow/pledgeflow/pkg/config"
	"github.com/pledgeflow/pledgeflow/pkg/telemetry"
	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

func newDevCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the development loop",
		Long: `Run the development loop: serve Prometheus metrics, stream workflow
events to the console, and hot-reload the configured template file on
change. A reload that fails validation keeps the previous template.`,
		Example: `  pledgeflow dev --config ./pledgeflow.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadAppConfig()
			if err != nil {
				return err
			}

			telCfg := cfg.Telemetry.Build(version)
			if verbose {
				telCfg.Logging.Level = "debug"
			}
			tel, err := telemetry.NewTelemetry(telCfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer tel.Shutdown(ctx)

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			tmpl, err := loadTemplate(cfg)
			if err != nil {
				return err
			}

			if telCfg.Metrics.Enabled {
				if err := tel.Metrics.StartMetricsServer(); err != nil {
					return fmt.Errorf("failed to start metrics server: %w", err)
				}
				fmt.Printf("✓ Metrics: http://localhost%s%s\n",
					telCfg.Metrics.ListenAddress, telCfg.Metrics.Path)
			}

			// Stream events to the console
			unsubscribe := tel.Events.Subscribe(func(ev telemetry.Event) {
				log.Info().
					Str("type", ev.Type).
					Str("instance", ev.InstanceID).
					Str("task", ev.TaskID).
					Msg(ev.Message)
			})
			defer unsubscribe()

			fmt.Printf("✓ Watching %s workflow (%d tasks)\n", tmpl.Kind(), len(tmpl.TaskIDs()))

			// Hot-reload the template file if one is configured
			if cfg.TemplatePath != "" {
				watcher, err := config.NewTemplateWatcher(
					cfg.TemplatePath,
					tel.Logger.NewComponentLogger("watcher"),
					func(reloaded *workflow.Template, err error) {
						if err != nil {
							fmt.Printf("✗ Template invalid: %v\n", err)
							return
						}
						fmt.Printf("✓ Template reloaded: %s (%d tasks)\n",
							reloaded.Kind(), len(reloaded.TaskIDs()))
					},
				)
				if err != nil {
					return err
				}
				defer watcher.Close()
				go watcher.Run(ctx)
				fmt.Printf("✓ Hot-reloading template: %s\n", cfg.TemplatePath)
			}

			fmt.Println("\nPress Ctrl+C to stop.")
			<-ctx.Done()
			return nil
		},
	}

	return cmd
}
