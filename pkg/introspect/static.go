package introspect

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/bindkit/bindkit/pkg/discovery"
)

// StaticModule is an in-memory module whose candidates and bindings are
// declared directly in code. Without an artifact path it is a dynamic
// module: the scan cache keeps it under the sentinel fingerprint until an
// explicit clear.
type StaticModule struct {
	ref          discovery.ModuleRef
	artifactPath string
	candidates   []discovery.Candidate
	bindings     []discovery.ComponentDescriptor
}

// NewStaticModule creates an empty static module.
func NewStaticModule(name, version string) *StaticModule {
	return &StaticModule{
		ref: discovery.ModuleRef{Name: name, Version: version},
	}
}

// Ref implements discovery.Module.
func (m *StaticModule) Ref() discovery.ModuleRef { return m.ref }

// ArtifactPath implements discovery.Module.
func (m *StaticModule) ArtifactPath() string { return m.artifactPath }

// WithArtifact backs the module with a file so it participates in
// fingerprint invalidation like a file-backed module.
func (m *StaticModule) WithArtifact(path string) *StaticModule {
	m.artifactPath = path
	return m
}

// AddCandidate appends a candidate. The candidate's module reference is
// overwritten with this module's identity.
func (m *StaticModule) AddCandidate(candidate discovery.Candidate) *StaticModule {
	candidate.Module = m.ref
	if candidate.Implementation.IsZero() && candidate.Name != "" {
		candidate.Implementation = discovery.TypeRef(m.ref.Name + "." + candidate.Name)
	}
	m.candidates = append(m.candidates, candidate)
	return m
}

// DeclareBinding appends an explicit descriptor declaration, picked up by
// the manifest plugin.
func (m *StaticModule) DeclareBinding(descriptor discovery.ComponentDescriptor) *StaticModule {
	m.bindings = append(m.bindings, descriptor)
	return m
}

// DeclaredBindings implements plugins.BindingDeclarer.
func (m *StaticModule) DeclaredBindings() []discovery.ComponentDescriptor {
	return append([]discovery.ComponentDescriptor(nil), m.bindings...)
}

// StaticIntrospector serves candidates of static modules.
type StaticIntrospector struct{}

// Introspect implements discovery.Introspector.
func (StaticIntrospector) Introspect(_ context.Context, module discovery.Module) ([]discovery.Candidate, error) {
	staticModule, ok := module.(*StaticModule)
	if !ok {
		return nil, discovery.NewPermanentError("module is not a static module", nil).
			WithCode(discovery.ErrCodeIntrospection).
			WithModule(module.Ref().Key())
	}
	return append([]discovery.Candidate(nil), staticModule.candidates...), nil
}

// AutoIntrospector routes each module to the introspection strategy its
// shape calls for: static modules to the static introspector, manifest
// modules with a WASM artifact to the WASM introspector when one is
// configured, and remaining manifest modules to the manifest introspector.
type AutoIntrospector struct {
	static   StaticIntrospector
	manifest *ManifestIntrospector
	wasm     *WASMIntrospector
}

// NewAutoIntrospector creates a routing introspector. The WASM introspector
// is optional; without one, WASM artifacts fall back to plain manifest
// introspection.
func NewAutoIntrospector(manifest *ManifestIntrospector, wasm *WASMIntrospector) *AutoIntrospector {
	return &AutoIntrospector{
		manifest: manifest,
		wasm:     wasm,
	}
}

// Introspect implements discovery.Introspector.
func (a *AutoIntrospector) Introspect(ctx context.Context, module discovery.Module) ([]discovery.Candidate, error) {
	switch module.(type) {
	case *StaticModule:
		return a.static.Introspect(ctx, module)
	case *ManifestModule:
		if a.wasm != nil && strings.EqualFold(filepath.Ext(module.ArtifactPath()), ".wasm") {
			return a.wasm.Introspect(ctx, module)
		}
		return a.manifest.Introspect(ctx, module)
	default:
		return nil, discovery.NewPermanentError("no introspector for module type", nil).
			WithCode(discovery.ErrCodeIntrospection).
			WithModule(module.Ref().Key())
	}
}
