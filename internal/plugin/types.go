// Package plugin runs pluggable analysis units over a repository snapshot.
// Plugins are resolved by name through a Registry or, for the exec kind,
// described by a plugin.yaml manifest next to an executable.
package plugin

import (
	"context"
	"time"

	"github.com/felixgeelhaar/caretaker/internal/config"
	"github.com/felixgeelhaar/caretaker/internal/snapshot"
)

// Plugin is one loaded analysis unit.
type Plugin interface {
	Run(ctx context.Context, snap *snapshot.Snapshot, branch string) (Result, error)
}

// Result is the output of one plugin run.
type Result struct {
	// Name is the human readable plugin name, used in the result issue title
	Name string `json:"name"`
	// Result is the plugin payload, rendered as JSON in the result issue
	Result any `json:"result"`
}

// Factory builds a plugin from its configuration map.
type Factory func(cfg map[string]any) (Plugin, error)

// Descriptor is a plugin selected by configuration.
type Descriptor struct {
	Name    string
	Enabled bool
	Kind    config.PluginKind
	// Factory is set for builtin plugins
	Factory Factory
	// Manifest is the plugin.yaml path of exec plugins
	Manifest string
	// Timeout bounds one exec plugin invocation; zero uses the host default
	Timeout time.Duration
	Config  map[string]any
}

// Manifest represents an exec plugin's metadata
type Manifest struct {
	// Name is the unique identifier for the plugin
	Name string `json:"name" yaml:"name"`
	// Version follows semver (e.g., "1.0.0")
	Version string `json:"version" yaml:"version"`
	// Description is a short description of the plugin
	Description string `json:"description" yaml:"description"`
	// Author is the plugin author's name or organization
	Author string `json:"author" yaml:"author"`
	// Entrypoint is the executable or script to run, relative to the manifest
	Entrypoint string `json:"entrypoint" yaml:"entrypoint"`
	// Config defines plugin-specific configuration schema
	Config []ConfigField `json:"config,omitempty" yaml:"config,omitempty"`
}

// ConfigField defines a configuration field for a plugin
type ConfigField struct {
	// Name is the configuration key
	Name string `json:"name" yaml:"name"`
	// Type is the value type (string, int, bool, etc.)
	Type string `json:"type" yaml:"type"`
	// Description explains what this configuration does
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Required indicates if this field must be set
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`
	// Default is the default value if not specified
	Default interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// Request is sent to an exec plugin on stdin
type Request struct {
	// Action is the operation to perform, always "run"
	Action string        `json:"action"`
	Repo   string        `json:"repo"`
	Branch string        `json:"branch"`
	Files  []RequestFile `json:"files"`
	// Config is the plugin's configuration
	Config map[string]interface{} `json:"config,omitempty"`
}

// RequestFile is one snapshot file handed to an exec plugin
type RequestFile struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Fingerprint string `json:"fingerprint"`
}

// Response is returned from an exec plugin on stdout
type Response struct {
	// Success indicates if the action completed successfully
	Success bool `json:"success"`
	// Result contains the action's output
	Result interface{} `json:"result,omitempty"`
	// Error contains an error message if Success is false
	Error string `json:"error,omitempty"`
}
