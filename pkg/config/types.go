package config

import (
	"github.com/pledgeflow/pledgeflow/pkg/telemetry"
)

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// Database configures the SQLite instance store.
	Database DatabaseConfig `yaml:"database"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// TemplatePath points at a workflow template YAML file. Empty means the
	// embedded donation template.
	TemplatePath string `yaml:"template_path"`

	// Parties declares the known actors and their roles.
	Parties []PartyConfig `yaml:"parties" validate:"dive"`
}

// DatabaseConfig configures the instance store.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// TelemetryConfig is the YAML-facing telemetry section. It maps onto
// telemetry.Config via Build.
type TelemetryConfig struct {
	LogLevel       string  `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat      string  `yaml:"log_format" validate:"omitempty,oneof=console json"`
	MetricsEnabled *bool   `yaml:"metrics_enabled"`
	MetricsAddress string  `yaml:"metrics_address"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	TraceExporter  string  `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TraceEndpoint  string  `yaml:"trace_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// Build produces a telemetry.Config with the section's overrides applied on
// top of the defaults.
func (tc TelemetryConfig) Build(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if tc.LogLevel != "" {
		cfg.Logging.Level = tc.LogLevel
	}
	if tc.LogFormat != "" {
		cfg.Logging.Format = tc.LogFormat
	}
	if tc.MetricsEnabled != nil {
		cfg.Metrics.Enabled = *tc.MetricsEnabled
	}
	if tc.MetricsAddress != "" {
		cfg.Metrics.ListenAddress = tc.MetricsAddress
	}
	cfg.Tracing.Enabled = tc.TracingEnabled
	if tc.TraceExporter != "" {
		cfg.Tracing.Exporter = tc.TraceExporter
	}
	if tc.TraceEndpoint != "" {
		cfg.Tracing.Endpoint = tc.TraceEndpoint
	}
	if tc.SamplingRate > 0 {
		cfg.Tracing.SamplingRate = tc.SamplingRate
	}
	return cfg
}

// PartyConfig binds an actor id to a workflow role.
type PartyConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Role string `yaml:"role" validate:"required,oneof=beneficiary contributor valuator"`
}

// TemplateDoc is the YAML document describing one workflow kind.
type TemplateDoc struct {
	Kind  string    `yaml:"kind" validate:"required"`
	Tasks []TaskDoc `yaml:"tasks" validate:"required,min=1,dive"`
}

// TaskDoc is one task definition within a template document.
type TaskDoc struct {
	ID           string      `yaml:"id" validate:"required"`
	Title        string      `yaml:"title" validate:"required"`
	Description  string      `yaml:"description"`
	Kind         string      `yaml:"kind" validate:"required,oneof=simple invitation document_upload signature_request branch_decision"`
	Role         string      `yaml:"role" validate:"required,oneof=beneficiary contributor valuator"`
	Actor        string      `yaml:"actor"`
	Dependencies []string    `yaml:"dependencies"`
	Order        int         `yaml:"order"`
	Options      []OptionDoc `yaml:"options" validate:"dive"`
}

// OptionDoc is one branch option on a branch decision task.
type OptionDoc struct {
	Name     string          `yaml:"name" validate:"required"`
	Requires []FieldRuleDoc  `yaml:"requires" validate:"dive"`
	Converts []ConversionDoc `yaml:"converts" validate:"dive"`
	Skips    []string        `yaml:"skips"`
}

// FieldRuleDoc declares a payload field an option requires.
type FieldRuleDoc struct {
	Field    string `yaml:"field" validate:"required"`
	Type     string `yaml:"type" validate:"required,oneof=number string"`
	Positive bool   `yaml:"positive"`
}

// ConversionDoc rewrites one task's kind when an option is chosen.
type ConversionDoc struct {
	TaskID   string `yaml:"task_id" validate:"required"`
	NewKind  string `yaml:"new_kind" validate:"required,oneof=simple invitation document_upload signature_request"`
	NewTitle string `yaml:"new_title"`
}
