package introspect

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bindkit/bindkit/pkg/discovery"
)

// wasmModuleWithExports assembles a minimal WASM binary exporting one no-op
// function per name. Counts and name lengths must stay below 128 so every
// LEB128 value fits in a single byte.
func wasmModuleWithExports(names ...string) []byte {
	module := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// Type section: a single () -> () function type.
	module = append(module, 0x01, 0x04, 0x01, 0x60, 0x00, 0x00)

	// Function section: every function uses type 0.
	functions := []byte{byte(len(names))}
	for range names {
		functions = append(functions, 0x00)
	}
	module = append(module, 0x03, byte(len(functions)))
	module = append(module, functions...)

	// Export section: one function export per name.
	exports := []byte{byte(len(names))}
	for i, name := range names {
		exports = append(exports, byte(len(name)))
		exports = append(exports, name...)
		exports = append(exports, 0x00, byte(i))
	}
	module = append(module, 0x07, byte(len(exports)))
	module = append(module, exports...)

	// Code section: empty bodies.
	code := []byte{byte(len(names))}
	for range names {
		code = append(code, 0x02, 0x00, 0x0b)
	}
	module = append(module, 0x0a, byte(len(code)))
	module = append(module, code...)

	return module
}

func writeWASMModule(t *testing.T, dir string, manifest string, exports ...string) *ManifestModule {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "mod.wasm"), wasmModuleWithExports(exports...), 0o644); err != nil {
		t.Fatalf("failed to write WASM artifact: %v", err)
	}
	path := writeManifest(t, dir, manifest)
	module, err := NewLoader(dir).LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	return module
}

const wasmManifest = `
metadata:
  name: acme/wasm
  version: 2.0.0
artifact: mod.wasm
components:
  - name: UserWorker
    contracts:
      - acme/wasm.IUserWorker
  - name: OrderWorker
    contracts:
      - acme/wasm.IOrderWorker
`

func TestWASMIntrospectorCrossChecksExports(t *testing.T) {
	ctx := context.Background()
	introspector := NewWASMIntrospector(ctx, DefaultWASMConfig(), testLogger())
	defer introspector.Close(ctx)

	module := writeWASMModule(t, t.TempDir(), wasmManifest, "UserWorker", "OrderWorker", "extraHelper")

	candidates, err := introspector.Introspect(ctx, module)
	if err != nil {
		t.Fatalf("Introspect() failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(candidates))
	}
}

func TestWASMIntrospectorRejectsMissingExport(t *testing.T) {
	ctx := context.Background()
	introspector := NewWASMIntrospector(ctx, DefaultWASMConfig(), testLogger())
	defer introspector.Close(ctx)

	// Manifest declares OrderWorker but the artifact only exports UserWorker.
	module := writeWASMModule(t, t.TempDir(), wasmManifest, "UserWorker")

	_, err := introspector.Introspect(ctx, module)
	if err == nil {
		t.Fatal("Introspect() succeeded, want missing-export error")
	}
	if !discovery.IsPermanent(err) {
		t.Errorf("error class = %v, want permanent", err)
	}
	if !strings.Contains(err.Error(), "OrderWorker") {
		t.Errorf("error = %q, want it to name the missing component", err)
	}
}

func TestWASMIntrospectorRejectsInvalidBinary(t *testing.T) {
	ctx := context.Background()
	introspector := NewWASMIntrospector(ctx, DefaultWASMConfig(), testLogger())
	defer introspector.Close(ctx)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mod.wasm"), []byte("not wasm at all"), 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	path := writeManifest(t, dir, wasmManifest)
	module, err := NewLoader(dir).LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if _, err := introspector.Introspect(ctx, module); err == nil {
		t.Fatal("Introspect() of invalid binary succeeded, want compile error")
	}
}

func TestWASMIntrospectorRequiresManifestModule(t *testing.T) {
	ctx := context.Background()
	introspector := NewWASMIntrospector(ctx, DefaultWASMConfig(), testLogger())
	defer introspector.Close(ctx)

	if _, err := introspector.Introspect(ctx, NewStaticModule("acme/static", "1")); err == nil {
		t.Fatal("Introspect(static module) succeeded, want error")
	}
}
