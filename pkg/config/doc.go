// Package config loads PledgeFlow configuration and workflow template
// documents from YAML.
//
// Two document types are handled. The application config (AppConfig) carries
// database, telemetry, and party settings for the CLI. Template documents
// (TemplateDoc) describe a workflow kind as a list of task definitions with
// dependencies and branch options; LoadTemplate validates the document with
// struct tags before handing it to the graph validator, so authoring mistakes
// are reported with field-level context rather than as a generic parse error.
//
// A default donation template is embedded in the binary and used whenever no
// template path is configured. TemplateWatcher reloads a template file on
// change for the dev workflow.
package config
