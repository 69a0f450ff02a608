// Package plugins coordinates independent discovery strategies. Plugins are
// registered once, executed in priority order over a module set, and
// isolated from each other: one plugin's failure is recorded in the run
// report without aborting the run or contaminating the aggregated result.
package plugins

import (
	"context"

	"github.com/bindkit/bindkit/pkg/conditions"
	"github.com/bindkit/bindkit/pkg/discovery"
)

// Plugin is one discovery strategy.
type Plugin interface {
	// Name uniquely identifies the plugin within a coordinator.
	Name() string

	// Priority orders execution. Lower values run first; ties keep
	// registration order.
	Priority() int

	// AppliesTo reports whether the plugin wants to scan the module.
	AppliesTo(module discovery.Module) bool

	// Discover produces descriptors for one relevant module.
	Discover(ctx context.Context, module discovery.Module, ec *conditions.Context) ([]discovery.ComponentDescriptor, error)

	// Validate checks the plugin's own results against everything
	// aggregated from earlier plugins in the same run.
	Validate(ctx context.Context, own, aggregated []discovery.ComponentDescriptor, ec *conditions.Context) ValidationReport
}

// ValidationReport is the outcome of a plugin's validation pass.
type ValidationReport struct {
	// Valid reports whether the plugin's results may join the aggregate.
	Valid bool `json:"valid"`

	// Messages carries human-readable validation findings, surfaced in the
	// per-plugin run report whether or not the pass was valid.
	Messages []string `json:"messages,omitempty"`
}

// ValidReport returns a passing report with optional messages.
func ValidReport(messages ...string) ValidationReport {
	return ValidationReport{Valid: true, Messages: messages}
}

// InvalidReport returns a failing report with at least one message.
func InvalidReport(messages ...string) ValidationReport {
	return ValidationReport{Valid: false, Messages: messages}
}

// BindingDeclarer is implemented by modules that carry explicit binding
// declarations, typically sourced from a module manifest. The manifest
// plugin folds these into the plugin aggregate.
type BindingDeclarer interface {
	// DeclaredBindings returns the explicit descriptor declarations.
	DeclaredBindings() []discovery.ComponentDescriptor
}
