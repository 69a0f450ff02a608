// Package introspect provides the introspection implementations that turn
// modules into component candidates: YAML manifest modules, WASM artifacts
// cross-checked against their manifest, and static in-memory modules for
// embedders and tests.
package introspect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bindkit/bindkit/pkg/conditions"
	"github.com/bindkit/bindkit/pkg/discovery"
)

// DefaultManifestName is the manifest file looked up when a module path
// points at a directory.
const DefaultManifestName = "module.yaml"

// ModuleManifest is the raw YAML manifest of a module.
type ModuleManifest struct {
	// Metadata identifies the module.
	Metadata ManifestMetadata `yaml:"metadata"`

	// Artifact is the path of the module's backing artifact, relative to
	// the manifest file unless absolute. Empty means the manifest file
	// itself is the artifact.
	Artifact string `yaml:"artifact,omitempty"`

	// Checksum is the expected SHA-256 of the artifact, hex encoded.
	Checksum string `yaml:"checksum,omitempty"`

	// Components are the candidate component declarations.
	Components []ManifestComponent `yaml:"components,omitempty"`

	// Bindings are explicit descriptor declarations, folded in by the
	// manifest plugin rather than the convention path.
	Bindings []ManifestBinding `yaml:"bindings,omitempty"`
}

// ManifestMetadata identifies a module.
type ManifestMetadata struct {
	// Name is the qualified module name, e.g. "acme/workers".
	Name string `yaml:"name"`

	// Version is the module version string.
	Version string `yaml:"version"`
}

// ManifestComponent declares one candidate component.
type ManifestComponent struct {
	// Name is the component's short name. Required and unique per module.
	Name string `yaml:"name"`

	// Type is the full implementation type reference. Defaults to
	// "<module name>.<component name>".
	Type string `yaml:"type,omitempty"`

	// Contracts are the contract type references the component declares.
	Contracts []string `yaml:"contracts,omitempty"`

	// Contract pins the binding contract explicitly, bypassing convention
	// resolution.
	Contract string `yaml:"contract,omitempty"`

	// Lifecycle is the declared lifecycle. Empty selects singleton.
	Lifecycle string `yaml:"lifecycle,omitempty"`

	// Order is the declared result ordering value.
	Order int `yaml:"order,omitempty"`

	// Profile restricts the component to a named profile.
	Profile string `yaml:"profile,omitempty"`

	// SkipInTests excludes the component from test-context runs.
	SkipInTests bool `yaml:"skip_in_tests,omitempty"`

	// Conditions are the component's activation conditions.
	Conditions []conditions.Spec `yaml:"conditions,omitempty"`
}

// ManifestBinding declares one explicit contract-to-implementation binding.
type ManifestBinding struct {
	// Contract is the contract type reference. Required.
	Contract string `yaml:"contract"`

	// Implementation is the implementation type reference. Required.
	Implementation string `yaml:"implementation"`

	// Lifecycle is the declared lifecycle. Empty selects singleton.
	Lifecycle string `yaml:"lifecycle,omitempty"`

	// Order is the declared result ordering value.
	Order int `yaml:"order,omitempty"`

	// Profile restricts the binding to a named profile.
	Profile string `yaml:"profile,omitempty"`

	// SkipInTests excludes the binding from test-context runs.
	SkipInTests bool `yaml:"skip_in_tests,omitempty"`

	// Conditions are the binding's activation conditions.
	Conditions []conditions.Spec `yaml:"conditions,omitempty"`
}

// ManifestModule is a module loaded from a YAML manifest. It implements
// discovery.Module, and plugins.BindingDeclarer when the manifest carries a
// bindings section.
type ManifestModule struct {
	manifest     *ModuleManifest
	ref          discovery.ModuleRef
	path         string
	artifactPath string
	verified     bool
}

// Ref implements discovery.Module.
func (m *ManifestModule) Ref() discovery.ModuleRef { return m.ref }

// ArtifactPath implements discovery.Module. For manifests without an
// artifact field the manifest file itself is the artifact, so editing the
// manifest invalidates the scan cache entry.
func (m *ManifestModule) ArtifactPath() string { return m.artifactPath }

// Path returns the manifest file path the module was loaded from.
func (m *ManifestModule) Path() string { return m.path }

// Manifest returns the parsed manifest.
func (m *ManifestModule) Manifest() *ModuleManifest { return m.manifest }

// Verified reports whether the artifact checksum was verified at load time.
func (m *ManifestModule) Verified() bool { return m.verified }

// Candidates converts the manifest's component declarations into discovery
// candidates.
func (m *ManifestModule) Candidates() []discovery.Candidate {
	candidates := make([]discovery.Candidate, 0, len(m.manifest.Components))
	for _, component := range m.manifest.Components {
		implementation := component.Type
		if implementation == "" {
			implementation = m.ref.Name + "." + component.Name
		}

		contracts := make([]discovery.TypeRef, 0, len(component.Contracts))
		for _, contract := range component.Contracts {
			contracts = append(contracts, discovery.TypeRef(contract))
		}

		// Lifecycle strings were checked during manifest validation.
		lifecycle, _ := discovery.ParseLifecycle(component.Lifecycle)

		candidates = append(candidates, discovery.Candidate{
			Name:             component.Name,
			Module:           m.ref,
			Implementation:   discovery.TypeRef(implementation),
			Contracts:        contracts,
			ExplicitContract: discovery.TypeRef(component.Contract),
			Lifecycle:        lifecycle,
			Order:            component.Order,
			Profile:          component.Profile,
			SkipInTests:      component.SkipInTests,
			Conditions:       append([]conditions.Spec(nil), component.Conditions...),
		})
	}
	return candidates
}

// DeclaredBindings implements plugins.BindingDeclarer.
func (m *ManifestModule) DeclaredBindings() []discovery.ComponentDescriptor {
	descriptors := make([]discovery.ComponentDescriptor, 0, len(m.manifest.Bindings))
	for _, binding := range m.manifest.Bindings {
		lifecycle, _ := discovery.ParseLifecycle(binding.Lifecycle)
		descriptors = append(descriptors, discovery.ComponentDescriptor{
			Contract:       discovery.TypeRef(binding.Contract),
			Implementation: discovery.TypeRef(binding.Implementation),
			Lifecycle:      lifecycle,
			Order:          binding.Order,
			Profile:        binding.Profile,
			SkipInTests:    binding.SkipInTests,
			Conditions:     append([]conditions.Spec(nil), binding.Conditions...),
		})
	}
	return descriptors
}

// Loader loads module manifests from disk.
type Loader struct {
	// BaseDir is the base directory for resolving relative artifact paths
	// when a manifest is loaded from bytes rather than a file.
	BaseDir string
}

// NewLoader creates a manifest loader.
func NewLoader(baseDir string) *Loader {
	return &Loader{
		BaseDir: baseDir,
	}
}

// LoadFromFile loads a module manifest from a YAML file. A directory path
// selects the DefaultManifestName file inside it.
func (l *Loader) LoadFromFile(path string) (*ManifestModule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access manifest path: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, DefaultManifestName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	module, err := l.LoadFromBytes(data)
	if err != nil {
		return nil, err
	}
	module.path = path

	if err := l.resolveArtifactPath(module); err != nil {
		return nil, fmt.Errorf("failed to resolve artifact path: %w", err)
	}

	if module.manifest.Checksum != "" {
		if err := module.VerifyChecksum(); err != nil {
			return nil, err
		}
	}

	return module, nil
}

// LoadFromBytes parses and validates a manifest without touching the file
// system. Artifact resolution and checksum verification require a file
// context and only happen in LoadFromFile.
func (l *Loader) LoadFromBytes(data []byte) (*ManifestModule, error) {
	var manifest ModuleManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}

	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	return &ManifestModule{
		manifest: &manifest,
		ref: discovery.ModuleRef{
			Name:    manifest.Metadata.Name,
			Version: manifest.Metadata.Version,
		},
	}, nil
}

// validateManifest validates the basic structure of a manifest.
func validateManifest(manifest *ModuleManifest) error {
	if manifest.Metadata.Name == "" {
		return fmt.Errorf("module name is required")
	}
	if manifest.Metadata.Version == "" {
		return fmt.Errorf("module version is required")
	}

	seen := make(map[string]struct{}, len(manifest.Components))
	for i, component := range manifest.Components {
		if component.Name == "" {
			return fmt.Errorf("component %d: name is required", i)
		}
		if _, dup := seen[component.Name]; dup {
			return fmt.Errorf("component %s: declared more than once", component.Name)
		}
		seen[component.Name] = struct{}{}

		if _, err := discovery.ParseLifecycle(component.Lifecycle); err != nil {
			return fmt.Errorf("component %s: %w", component.Name, err)
		}
		for _, spec := range component.Conditions {
			if err := spec.Validate(); err != nil {
				return fmt.Errorf("component %s: %w", component.Name, err)
			}
		}
	}

	for i, binding := range manifest.Bindings {
		if binding.Contract == "" {
			return fmt.Errorf("binding %d: contract is required", i)
		}
		if binding.Implementation == "" {
			return fmt.Errorf("binding %d: implementation is required", i)
		}
		if _, err := discovery.ParseLifecycle(binding.Lifecycle); err != nil {
			return fmt.Errorf("binding %s: %w", binding.Contract, err)
		}
		for _, spec := range binding.Conditions {
			if err := spec.Validate(); err != nil {
				return fmt.Errorf("binding %s: %w", binding.Contract, err)
			}
		}
	}

	if manifest.Checksum != "" {
		if manifest.Artifact == "" {
			return fmt.Errorf("checksum requires an artifact")
		}
		raw, err := hex.DecodeString(manifest.Checksum)
		if err != nil || len(raw) != sha256.Size {
			return fmt.Errorf("checksum must be a hex-encoded SHA-256 digest")
		}
	}

	return nil
}

// resolveArtifactPath resolves the module's artifact path. Without an
// artifact field the manifest file itself backs the fingerprint.
func (l *Loader) resolveArtifactPath(module *ManifestModule) error {
	artifact := module.manifest.Artifact
	if artifact == "" {
		module.artifactPath = module.path
		return nil
	}

	if filepath.IsAbs(artifact) {
		module.artifactPath = artifact
	} else if module.path != "" {
		module.artifactPath = filepath.Join(filepath.Dir(module.path), artifact)
	} else {
		module.artifactPath = filepath.Join(l.BaseDir, artifact)
	}

	if _, err := os.Stat(module.artifactPath); err != nil {
		return fmt.Errorf("artifact not found at %s: %w", module.artifactPath, err)
	}
	return nil
}

// VerifyChecksum verifies the artifact against the manifest checksum.
func (m *ManifestModule) VerifyChecksum() error {
	if m.manifest.Checksum == "" {
		return fmt.Errorf("no checksum in manifest")
	}

	data, err := os.ReadFile(m.artifactPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}

	hash := sha256.Sum256(data)
	computed := hex.EncodeToString(hash[:])
	if computed != m.manifest.Checksum {
		return fmt.Errorf("artifact checksum mismatch: expected %s, got %s",
			m.manifest.Checksum, computed)
	}

	m.verified = true
	return nil
}

// ScanDirectory loads every module manifest found directly under dir. Each
// subdirectory containing a DefaultManifestName file yields one module;
// subdirectories without one are skipped.
func (l *Loader) ScanDirectory(dir string) ([]*ManifestModule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read module directory: %w", err)
	}

	var modules []*ManifestModule
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, entry.Name(), DefaultManifestName)
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		module, err := l.LoadFromFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", entry.Name(), err)
		}
		modules = append(modules, module)
	}
	return modules, nil
}

// ManifestIntrospector extracts candidates from manifest-backed modules.
type ManifestIntrospector struct {
	logger zerolog.Logger
}

// NewManifestIntrospector creates a manifest introspector.
func NewManifestIntrospector(logger zerolog.Logger) *ManifestIntrospector {
	return &ManifestIntrospector{
		logger: logger.With().Str("component", "manifest-introspector").Logger(),
	}
}

// Introspect implements discovery.Introspector.
func (mi *ManifestIntrospector) Introspect(_ context.Context, module discovery.Module) ([]discovery.Candidate, error) {
	manifestModule, ok := module.(*ManifestModule)
	if !ok {
		return nil, discovery.NewPermanentError("module does not carry a manifest", nil).
			WithCode(discovery.ErrCodeIntrospection).
			WithModule(module.Ref().Key())
	}

	candidates := manifestModule.Candidates()
	mi.logger.Debug().
		Str("module", module.Ref().Key()).
		Int("candidates", len(candidates)).
		Msg("Manifest introspection completed")
	return candidates, nil
}
