package config

import (
	"time"
)

// Config is the full discovery configuration for one bindkit process.
type Config struct {
	// Environment is the environment name conditions evaluate against.
	Environment string `json:"environment" yaml:"environment" validate:"omitempty,printascii"`

	// Profiles lists the profiles known to this deployment.
	Profiles []string `json:"profiles,omitempty" yaml:"profiles,omitempty" validate:"dive,printascii"`

	// ActiveProfile selects the profile candidates are gated against. When
	// set it must be one of Profiles.
	ActiveProfile string `json:"active_profile,omitempty" yaml:"active_profile,omitempty"`

	// Flags are feature flags exposed to condition evaluation.
	Flags map[string]string `json:"flags,omitempty" yaml:"flags,omitempty"`

	// Settings are free-form configuration entries exposed to key_equals
	// conditions.
	Settings map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Cache configures the module scan cache.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Parallelism configures bounded worker counts.
	Parallelism ParallelismConfig `json:"parallelism" yaml:"parallelism"`

	// Plugins configures plugin coordination.
	Plugins PluginsConfig `json:"plugins" yaml:"plugins"`

	// Conditions configures the condition predicate sources.
	Conditions ConditionsConfig `json:"conditions" yaml:"conditions"`

	// Store configures run-history persistence.
	Store StoreConfig `json:"store" yaml:"store"`
}

// CacheConfig configures the module scan cache.
type CacheConfig struct {
	// Enabled turns the scan cache on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Watch invalidates cache entries when backing artifacts change on
	// disk, via fsnotify.
	Watch bool `json:"watch" yaml:"watch"`
}

// ParallelismConfig bounds concurrent work inside the pipeline.
type ParallelismConfig struct {
	// ModuleWorkers bounds concurrent module scans within one plugin's
	// discovery step. Zero or one selects sequential scanning.
	ModuleWorkers int `json:"module_workers" yaml:"module_workers" validate:"min=0,max=64"`
}

// PluginsConfig configures plugin coordination.
type PluginsConfig struct {
	// Disabled lists plugin names registered but excluded from runs.
	Disabled []string `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// TimeoutSeconds bounds one plugin's discovery and validation. Zero
	// means no deadline.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"min=0,max=3600"`
}

// Timeout returns the plugin timeout as a duration.
func (p PluginsConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ConditionsConfig configures predicate sources for condition evaluation.
type ConditionsConfig struct {
	// PolicyPaths lists Rego policy files compiled into predicates.
	PolicyPaths []string `json:"policy_paths,omitempty" yaml:"policy_paths,omitempty"`

	// ScriptPaths lists Starlark expression files compiled into predicates.
	ScriptPaths []string `json:"script_paths,omitempty" yaml:"script_paths,omitempty"`
}

// StoreConfig configures run-history persistence.
type StoreConfig struct {
	// Enabled turns run persistence on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the SQLite database path. Required when Enabled.
	Path string `json:"path,omitempty" yaml:"path,omitempty" validate:"required_if=Enabled true"`
}

// DefaultConfig returns the configuration used when no file is supplied:
// development environment, caching on without watching, sequential scans,
// no persistence.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Cache:       CacheConfig{Enabled: true},
	}
}

// ParsedConfig is the outcome of loading one or more configuration sources.
type ParsedConfig struct {
	// Config is the merged configuration. Nil when Errors is non-empty.
	Config *Config `json:"config,omitempty"`

	// SourceFiles are the files that were loaded, in load order.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when loading finished.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists schema and structural validation findings.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether any error-severity finding was recorded.
func (p *ParsedConfig) HasErrors() bool {
	for _, e := range p.Errors {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ValidationError is one validation finding with source location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the configuration path of the finding, e.g. "store.path".
	Path string `json:"path,omitempty"`

	// Message is the finding text.
	Message string `json:"message"`

	// Severity is error, warning, or info.
	Severity string `json:"severity"`
}
