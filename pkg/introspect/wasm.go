package introspect

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"

	"github.com/bindkit/bindkit/pkg/discovery"
)

// WASMConfig configures the WASM introspector.
type WASMConfig struct {
	// MemoryLimitPages is the maximum memory limit in pages (64KB each).
	MemoryLimitPages uint32
}

// DefaultWASMConfig returns the default WASM introspector configuration.
func DefaultWASMConfig() WASMConfig {
	return WASMConfig{
		MemoryLimitPages: 256, // 16MB
	}
}

// WASMIntrospector introspects modules whose artifact is a compiled WASM
// binary. The manifest still declares the component set; the introspector
// compiles the artifact and cross-checks every declared component against
// the module's exported functions, so a manifest cannot claim components
// the artifact does not provide.
type WASMIntrospector struct {
	runtime wazero.Runtime
	logger  zerolog.Logger
}

// NewWASMIntrospector creates a WASM introspector with a memory-limited
// runtime. Close must be called when the introspector is no longer needed.
func NewWASMIntrospector(ctx context.Context, config WASMConfig, logger zerolog.Logger) *WASMIntrospector {
	if config.MemoryLimitPages == 0 {
		config.MemoryLimitPages = 256
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(config.MemoryLimitPages).
		WithCloseOnContextDone(true)

	return &WASMIntrospector{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeConfig),
		logger:  logger.With().Str("component", "wasm-introspector").Logger(),
	}
}

// Introspect implements discovery.Introspector.
func (wi *WASMIntrospector) Introspect(ctx context.Context, module discovery.Module) ([]discovery.Candidate, error) {
	manifestModule, ok := module.(*ManifestModule)
	if !ok {
		return nil, discovery.NewPermanentError("WASM introspection requires a manifest-backed module", nil).
			WithCode(discovery.ErrCodeIntrospection).
			WithModule(module.Ref().Key())
	}

	artifactPath := manifestModule.ArtifactPath()
	wasmBytes, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, discovery.NewTransientError("failed to read WASM artifact", err).
			WithCode(discovery.ErrCodeIntrospection).
			WithModule(module.Ref().Key()).
			WithDetail("artifact", artifactPath)
	}

	compiled, err := wi.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, discovery.NewPermanentError("failed to compile WASM artifact", err).
			WithCode(discovery.ErrCodeIntrospection).
			WithModule(module.Ref().Key()).
			WithDetail("artifact", artifactPath)
	}
	defer compiled.Close(ctx)

	exports := compiled.ExportedFunctions()
	candidates := manifestModule.Candidates()
	for _, candidate := range candidates {
		if _, exported := exports[candidate.Name]; !exported {
			return nil, discovery.NewPermanentError(
				fmt.Sprintf("component %s is declared in the manifest but not exported by the artifact", candidate.Name), nil).
				WithCode(discovery.ErrCodeIntrospection).
				WithModule(module.Ref().Key()).
				WithDetail("artifact", artifactPath)
		}
	}

	wi.logger.Debug().
		Str("module", module.Ref().Key()).
		Int("candidates", len(candidates)).
		Int("exports", len(exports)).
		Msg("WASM introspection completed")

	return candidates, nil
}

// Close releases the introspector's WASM runtime.
func (wi *WASMIntrospector) Close(ctx context.Context) error {
	return wi.runtime.Close(ctx)
}
