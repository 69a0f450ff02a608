package plugins

import (
	"context"
	"fmt"

	"github.com/bindkit/bindkit/pkg/conditions"
	"github.com/bindkit/bindkit/pkg/discovery"
)

// ManifestPluginName is the registered name of the built-in manifest plugin.
const ManifestPluginName = "manifest-bindings"

// ManifestPluginPriority places the manifest plugin ahead of custom plugins
// so explicitly declared bindings enter the aggregate first.
const ManifestPluginPriority = 10

// ManifestPlugin folds explicit binding declarations into the plugin
// aggregate. It applies to modules that implement BindingDeclarer, which a
// manifest-backed module does when its manifest carries a bindings section.
type ManifestPlugin struct{}

// NewManifestPlugin creates the built-in manifest plugin.
func NewManifestPlugin() *ManifestPlugin {
	return &ManifestPlugin{}
}

// Name implements Plugin.
func (*ManifestPlugin) Name() string { return ManifestPluginName }

// Priority implements Plugin.
func (*ManifestPlugin) Priority() int { return ManifestPluginPriority }

// AppliesTo implements Plugin. Only modules carrying explicit declarations
// are relevant.
func (*ManifestPlugin) AppliesTo(module discovery.Module) bool {
	_, ok := module.(BindingDeclarer)
	return ok
}

// Discover implements Plugin. Declared bindings are defaulted and validated
// before they are handed to the coordinator; one malformed declaration fails
// the whole module so broken manifests surface instead of silently thinning
// the result.
func (p *ManifestPlugin) Discover(_ context.Context, module discovery.Module, _ *conditions.Context) ([]discovery.ComponentDescriptor, error) {
	declarer, ok := module.(BindingDeclarer)
	if !ok {
		return nil, nil
	}

	declared := declarer.DeclaredBindings()
	descriptors := make([]discovery.ComponentDescriptor, 0, len(declared))
	for _, descriptor := range declared {
		if descriptor.Lifecycle == "" {
			descriptor.Lifecycle = discovery.LifecycleSingleton
		}
		if descriptor.Source == "" {
			descriptor.Source = ManifestPluginName
		}
		if err := descriptor.Validate(); err != nil {
			return nil, discovery.NewPermanentError(
				fmt.Sprintf("declared binding %s is invalid", descriptor.BindingKey()), err).
				WithCode(discovery.ErrCodeValidation).
				WithModule(module.Ref().Key())
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

// Validate implements Plugin. A manifest declaring the same binding twice is
// rejected; overlap with descriptors aggregated from earlier plugins is
// reported but tolerated, since downstream merging is first-wins.
func (p *ManifestPlugin) Validate(_ context.Context, own, aggregated []discovery.ComponentDescriptor, _ *conditions.Context) ValidationReport {
	var messages []string

	seen := make(map[string]struct{}, len(own))
	duplicates := false
	for _, descriptor := range own {
		key := descriptor.BindingKey()
		if _, dup := seen[key]; dup {
			duplicates = true
			messages = append(messages, fmt.Sprintf("binding %s declared more than once", key))
			continue
		}
		seen[key] = struct{}{}
	}

	existing := make(map[string]struct{}, len(aggregated))
	for _, descriptor := range aggregated {
		existing[descriptor.BindingKey()] = struct{}{}
	}
	for _, descriptor := range own {
		if _, overlap := existing[descriptor.BindingKey()]; overlap {
			messages = append(messages, fmt.Sprintf("binding %s already discovered by an earlier plugin", descriptor.BindingKey()))
		}
	}

	if duplicates {
		return ValidationReport{Valid: false, Messages: messages}
	}
	return ValidationReport{Valid: true, Messages: messages}
}
