package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pledgeflow/pledgeflow/pkg/config"
	"github.com/pledgeflow/pledgeflow/pkg/stores"
	"github.com/pledgeflow/pledgeflow/pkg/telemetry"
	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

const defaultConfigPath = "./pledgeflow.yaml"

// runtime bundles everything a one-shot command needs.
type runtime struct {
	cfg      *config.AppConfig
	store    *stores.SQLiteStore
	engine   *workflow.Engine
	identity *config.StaticIdentity
	tel      *telemetry.Telemetry
}

// close releases the store and flushes telemetry.
func (r *runtime) close(ctx context.Context) {
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.tel != nil {
		_ = r.tel.Shutdown(ctx)
	}
}

// loadAppConfig reads the config from --config or the default path.
func loadAppConfig() (*config.AppConfig, error) {
	path := configPath
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load config (run 'pledgeflow init' first): %w", err)
	}
	return cfg, nil
}

// newRuntime builds the store, template, identity, and engine for one-shot
// commands. Metrics are disabled; the dev command runs its own server.
func newRuntime(ctx context.Context, version string) (*runtime, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, err
	}

	telCfg := cfg.Telemetry.Build(version)
	telCfg.Metrics.Enabled = false
	telCfg.Tracing.Enabled = false
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	tmpl, err := loadTemplate(cfg)
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	identity := config.NewStaticIdentity(cfg.Parties)
	engine, err := workflow.NewEngine(workflow.EngineOptions{
		Template:  tmpl,
		Store:     store,
		Identity:  identity,
		Notifier:  logNotifier{tel.Logger.NewComponentLogger("notifier")},
		Telemetry: tel,
	})
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &runtime{cfg: cfg, store: store, engine: engine, identity: identity, tel: tel}, nil
}

// openStore opens and migrates the SQLite instance store.
func openStore(ctx context.Context, cfg *config.AppConfig) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.SQLiteConfig{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// loadTemplate compiles the configured template, or the embedded default.
func loadTemplate(cfg *config.AppConfig) (*workflow.Template, error) {
	if cfg.TemplatePath != "" {
		return config.LoadTemplate(cfg.TemplatePath)
	}
	return config.DefaultTemplate()
}

// logNotifier logs invitation notifications instead of delivering them.
// Real delivery belongs to an external bridge consuming engine events.
type logNotifier struct {
	log *telemetry.Logger
}

func (n logNotifier) Send(_ context.Context, notification workflow.Notification) error {
	n.log.WithInstanceID(notification.InstanceID).
		WithTaskID(notification.TaskID).
		WithField("recipient", notification.Recipient).
		Info(notification.Subject)
	return nil
}

// parsePayload converts repeated key=value flags into a task payload.
// Numeric and boolean values are typed; comma-separated values become lists.
func parsePayload(pairs []string) (workflow.Payload, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	payload := make(workflow.Payload, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid payload entry %q, expected key=value", pair)
		}
		payload[key] = parseValue(value)
	}
	return payload, nil
}

func parseValue(value string) interface{} {
	if strings.Contains(value, ",") {
		parts := strings.Split(value, ",")
		list := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			list = append(list, parseValue(strings.TrimSpace(p)))
		}
		return list
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return value
}
