package discovery

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bindkit/bindkit/pkg/conditions"
)

// TypeRef identifies a contract or implementation type by qualified name,
// e.g. "acme/workers.UserWorker". Identity is the string itself; no runtime
// type system is assumed.
type TypeRef string

// Short returns the segment after the last "." or "/" separator.
func (t TypeRef) Short() string {
	s := string(t)
	if i := strings.LastIndexAny(s, "./"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// IsZero reports whether the reference is empty.
func (t TypeRef) IsZero() bool {
	return t == ""
}

// Lifecycle determines how a bound component is instantiated and shared.
type Lifecycle string

const (
	// LifecycleSingleton shares one instance for the container's lifetime.
	LifecycleSingleton Lifecycle = "singleton"

	// LifecycleScoped shares one instance per scope.
	LifecycleScoped Lifecycle = "scoped"

	// LifecycleTransient creates a new instance per resolution.
	LifecycleTransient Lifecycle = "transient"
)

// ParseLifecycle maps a string to a Lifecycle. The empty string selects
// LifecycleSingleton, the default.
func ParseLifecycle(s string) (Lifecycle, error) {
	switch strings.ToLower(s) {
	case "", string(LifecycleSingleton):
		return LifecycleSingleton, nil
	case string(LifecycleScoped):
		return LifecycleScoped, nil
	case string(LifecycleTransient):
		return LifecycleTransient, nil
	default:
		return "", fmt.Errorf("unknown lifecycle %q", s)
	}
}

// Valid reports whether the lifecycle is one of the known values.
func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleSingleton, LifecycleScoped, LifecycleTransient:
		return true
	default:
		return false
	}
}

// ModuleRef identifies a module by qualified name and version.
type ModuleRef struct {
	// Name is the qualified module name.
	Name string `json:"name"`

	// Version is the module version string.
	Version string `json:"version"`
}

// Key returns the cache and registry key for the module, "name@version".
func (r ModuleRef) Key() string {
	return r.Name + "@" + r.Version
}

// ComponentDescriptor is one contract-to-implementation binding produced by
// discovery. Descriptors are value types; once produced they are not
// mutated.
type ComponentDescriptor struct {
	// Contract is the type the component is bound under.
	Contract TypeRef `json:"contract"`

	// Implementation is the concrete component type.
	Implementation TypeRef `json:"implementation"`

	// Lifecycle determines instantiation and sharing for the binding.
	Lifecycle Lifecycle `json:"lifecycle"`

	// Order positions the descriptor in the final result. Lower runs first.
	Order int `json:"order"`

	// Profile restricts the descriptor to a named profile. Empty means all
	// profiles.
	Profile string `json:"profile,omitempty"`

	// SkipInTests excludes the descriptor from test-context discovery runs.
	SkipInTests bool `json:"skip_in_tests,omitempty"`

	// Conditions are the activation conditions. All must be satisfied.
	Conditions []conditions.Spec `json:"conditions,omitempty"`

	// Source names the convention or plugin that produced the descriptor.
	Source string `json:"source,omitempty"`
}

// BindingKey returns the de-duplication key for the descriptor. Two
// descriptors with the same key describe the same binding.
func (d ComponentDescriptor) BindingKey() string {
	return string(d.Contract) + "|" + string(d.Implementation)
}

// Validate checks structural validity. It does not check that the contract
// is actually declared by the implementation; that requires the candidate
// and happens during resolution.
func (d ComponentDescriptor) Validate() error {
	if d.Contract.IsZero() {
		return NewPermanentError("descriptor has empty contract", nil).WithCode(ErrCodeValidation)
	}
	if d.Implementation.IsZero() {
		return NewPermanentError("descriptor has empty implementation", nil).WithCode(ErrCodeValidation)
	}
	if !d.Lifecycle.Valid() {
		return NewPermanentError(fmt.Sprintf("descriptor %s has invalid lifecycle %q", d.BindingKey(), d.Lifecycle), nil).
			WithCode(ErrCodeValidation)
	}
	for _, spec := range d.Conditions {
		if err := spec.Validate(); err != nil {
			return NewPermanentError(fmt.Sprintf("descriptor %s has invalid condition", d.BindingKey()), err).
				WithCode(ErrCodeValidation)
		}
	}
	return nil
}

// SortDescriptors orders descriptors by Order ascending. The sort is stable
// so equal orders keep their relative position.
func SortDescriptors(descriptors []ComponentDescriptor) {
	sort.SliceStable(descriptors, func(i, j int) bool {
		return descriptors[i].Order < descriptors[j].Order
	})
}

// Candidate is a component found in a module before contract resolution.
type Candidate struct {
	// Name is the component's short name within the module.
	Name string `json:"name"`

	// Module identifies the module the candidate came from.
	Module ModuleRef `json:"module"`

	// Implementation is the candidate's own type.
	Implementation TypeRef `json:"implementation"`

	// Contracts are the contract types the candidate declares.
	Contracts []TypeRef `json:"contracts,omitempty"`

	// ExplicitContract pins the binding contract, bypassing convention
	// resolution. Zero means conventions decide.
	ExplicitContract TypeRef `json:"explicit_contract,omitempty"`

	// Lifecycle is the declared lifecycle. Empty selects the singleton
	// default.
	Lifecycle Lifecycle `json:"lifecycle,omitempty"`

	// Order is the declared result ordering value.
	Order int `json:"order,omitempty"`

	// Profile restricts the candidate to a named profile.
	Profile string `json:"profile,omitempty"`

	// SkipInTests excludes the candidate from test-context runs.
	SkipInTests bool `json:"skip_in_tests,omitempty"`

	// Conditions are the declared activation conditions.
	Conditions []conditions.Spec `json:"conditions,omitempty"`
}

// DeclaresContract reports whether ref is among the candidate's declared
// contracts.
func (c Candidate) DeclaresContract(ref TypeRef) bool {
	for _, contract := range c.Contracts {
		if contract == ref {
			return true
		}
	}
	return false
}

// Key identifies the candidate across a run, for resolution caching.
func (c Candidate) Key() string {
	return c.Module.Key() + "#" + string(c.Implementation)
}

// DiagnosticSeverity grades a diagnostic message.
type DiagnosticSeverity string

const (
	// SeverityInfo marks informational diagnostics.
	SeverityInfo DiagnosticSeverity = "info"

	// SeverityWarning marks recoverable problems the run worked around.
	SeverityWarning DiagnosticSeverity = "warning"

	// SeverityError marks failures that excluded work from the result.
	SeverityError DiagnosticSeverity = "error"
)

// Diagnostic is one structured finding from a discovery run.
type Diagnostic struct {
	// Severity grades the finding.
	Severity DiagnosticSeverity `json:"severity"`

	// Component names the pipeline stage that emitted the finding.
	Component string `json:"component"`

	// Module is the module key involved, if any.
	Module string `json:"module,omitempty"`

	// Message is the human-readable finding.
	Message string `json:"message"`
}

// PluginReport records one plugin's contribution to a coordinated run.
type PluginReport struct {
	// Name is the plugin name.
	Name string `json:"name"`

	// Priority is the plugin's execution priority.
	Priority int `json:"priority"`

	// Success reports whether the plugin discovered and validated cleanly.
	Success bool `json:"success"`

	// Descriptors are the descriptors the plugin produced, kept for
	// reporting even when validation failed.
	Descriptors []ComponentDescriptor `json:"descriptors,omitempty"`

	// Messages are validation messages emitted for this plugin.
	Messages []string `json:"messages,omitempty"`

	// Error is the failure message when the plugin errored or panicked.
	Error string `json:"error,omitempty"`

	// ExecutionTime is the wall time spent in this plugin.
	ExecutionTime time.Duration `json:"execution_time"`
}

// PluginExecution is the outcome of one coordinated plugin run.
type PluginExecution struct {
	// RunID is the unique identifier of the coordinated run.
	RunID string `json:"run_id"`

	// Reports holds one entry per executed plugin, in execution order.
	Reports []PluginReport `json:"reports"`

	// Aggregated is the merged descriptor set from successful plugins only.
	Aggregated []ComponentDescriptor `json:"aggregated"`

	// HasErrors reports whether any plugin failed or was invalid.
	HasErrors bool `json:"has_errors"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run wall time.
	Duration time.Duration `json:"duration"`
}

// PluginInfo describes a registered plugin.
type PluginInfo struct {
	// Name is the plugin name.
	Name string `json:"name"`

	// Priority is the plugin's execution priority.
	Priority int `json:"priority"`

	// Implementation is the plugin's Go type, for diagnostics.
	Implementation string `json:"implementation"`

	// Active reports whether the plugin participates in runs. Disabled
	// plugins stay registered but are skipped.
	Active bool `json:"active"`
}

// Result is the outcome of a full discovery run.
type Result struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id"`

	// Environment is the environment the run evaluated conditions against.
	Environment string `json:"environment"`

	// Descriptors is the final ordered descriptor set.
	Descriptors []ComponentDescriptor `json:"descriptors"`

	// ModuleCount is the number of modules scanned.
	ModuleCount int `json:"module_count"`

	// CacheHits counts modules served from the scan cache.
	CacheHits int `json:"cache_hits"`

	// CacheMisses counts modules that required a fresh scan.
	CacheMisses int `json:"cache_misses"`

	// Plugins is the plugin coordination outcome, when plugins ran.
	Plugins *PluginExecution `json:"plugins,omitempty"`

	// Diagnostics are the structured findings of the run.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`

	// HasErrors reports whether any stage recorded an error-grade finding.
	HasErrors bool `json:"has_errors"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run wall time.
	Duration time.Duration `json:"duration"`
}
