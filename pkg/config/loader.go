package config

import (
	"embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

//go:embed templates/donation.yaml
var embeddedTemplates embed.FS

var docValidator = validator.New()

// LoadConfig reads and validates the application config from path.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates application config YAML.
func ParseConfig(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := docValidator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadTemplate reads a template document from path and compiles it into a
// validated workflow template.
func LoadTemplate(path string) (*workflow.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, workflow.NewTemplateError(
			fmt.Sprintf("failed to read template %s", path), err)
	}
	return ParseTemplate(data)
}

// DefaultTemplate compiles the embedded donation template.
func DefaultTemplate() (*workflow.Template, error) {
	data, err := embeddedTemplates.ReadFile("templates/donation.yaml")
	if err != nil {
		return nil, workflow.NewInternalError("embedded template missing", err)
	}
	return ParseTemplate(data)
}

// ParseTemplate parses template YAML, validates the document shape, and
// compiles the task graph. Graph-level errors (cycles, dangling references)
// come from the graph validator with task context attached.
func ParseTemplate(data []byte) (*workflow.Template, error) {
	var doc TemplateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, workflow.NewTemplateError("failed to parse template document", err)
	}
	if err := docValidator.Struct(&doc); err != nil {
		return nil, workflow.NewTemplateError("invalid template document", err)
	}

	defs := make([]workflow.TaskDef, 0, len(doc.Tasks))
	for _, task := range doc.Tasks {
		defs = append(defs, taskDef(task))
	}
	return workflow.NewTemplate(doc.Kind, defs)
}

// taskDef maps one document task onto the engine's definition type.
func taskDef(doc TaskDoc) workflow.TaskDef {
	def := workflow.TaskDef{
		ID:           doc.ID,
		Title:        doc.Title,
		Description:  doc.Description,
		Kind:         workflow.TaskKind(doc.Kind),
		Role:         workflow.Role(doc.Role),
		Actor:        doc.Actor,
		Dependencies: append([]string(nil), doc.Dependencies...),
		Order:        doc.Order,
	}
	for _, opt := range doc.Options {
		option := workflow.BranchOption{
			Name:  opt.Name,
			Skips: append([]string(nil), opt.Skips...),
		}
		for _, rule := range opt.Requires {
			option.Requires = append(option.Requires, workflow.FieldRule{
				Field:    rule.Field,
				Type:     rule.Type,
				Positive: rule.Positive,
			})
		}
		for _, conv := range opt.Converts {
			option.Converts = append(option.Converts, workflow.KindConversion{
				TaskID:   conv.TaskID,
				NewKind:  workflow.TaskKind(conv.NewKind),
				NewTitle: conv.NewTitle,
			})
		}
		def.Options = append(def.Options, option)
	}
	return def
}
