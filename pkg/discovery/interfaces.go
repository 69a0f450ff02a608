package discovery

import (
	"context"

	"github.com/bindkit/bindkit/pkg/conditions"
)

// Module is a scannable unit of components.
type Module interface {
	// Ref returns the module's identity.
	Ref() ModuleRef

	// ArtifactPath returns the path of the backing artifact on disk.
	// In-memory modules return the empty string.
	ArtifactPath() string
}

// Introspector extracts component candidates from a module. Implementations
// read manifests, inspect compiled artifacts, or return statically declared
// candidate sets.
type Introspector interface {
	// Introspect returns the candidates declared by the module.
	Introspect(ctx context.Context, module Module) ([]Candidate, error)
}

// ScanCache memoizes per-module descriptor lists across discovery runs.
type ScanCache interface {
	// TryGet returns the cached descriptors for the module when the cache
	// entry is still fresh.
	TryGet(module Module) ([]ComponentDescriptor, bool)

	// Store records the module's descriptors under its current fingerprint.
	Store(module Module, descriptors []ComponentDescriptor)
}

// ContractResolver selects the contract a candidate should be bound under.
type ContractResolver interface {
	// Resolve returns the chosen contract and whether any convention
	// matched.
	Resolve(candidate Candidate, contracts []TypeRef) (TypeRef, bool)
}

// PluginRunner executes registered discovery plugins over a module set.
type PluginRunner interface {
	// Execute runs all plugins and returns the coordinated outcome.
	Execute(ctx context.Context, modules []Module, ec *conditions.Context) (*PluginExecution, error)
}

// Binder receives the final ordered descriptor set. It is the boundary to
// the binding container.
type Binder interface {
	// Bind applies the descriptors to the container.
	Bind(ctx context.Context, descriptors []ComponentDescriptor) error
}

// RunStore persists discovery run outcomes for later inspection.
type RunStore interface {
	// SaveRun persists a run result and its plugin reports.
	SaveRun(ctx context.Context, result *Result) error
}
