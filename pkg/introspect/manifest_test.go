package introspect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bindkit/bindkit/pkg/conditions"
	"github.com/bindkit/bindkit/pkg/discovery"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

const workerManifest = `
metadata:
  name: acme/workers
  version: 1.2.0
components:
  - name: UserWorker
    contracts:
      - acme/workers.IUserWorker
    conditions:
      - kind: key_equals
        key: "Flags:EnableWorker"
        expected: "true"
  - name: AuditWorker
    type: acme/workers.audit.Recorder
    contract: acme/workers.IAuditSink
    contracts:
      - acme/workers.IAuditSink
    lifecycle: scoped
    order: 5
    profile: production
    skip_in_tests: true
bindings:
  - contract: acme/workers.IClock
    implementation: acme/workers.SystemClock
    lifecycle: transient
`

func writeManifest(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultManifestName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	return path
}

func TestLoaderLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, workerManifest)

	module, err := NewLoader(dir).LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	ref := module.Ref()
	if ref.Name != "acme/workers" || ref.Version != "1.2.0" {
		t.Errorf("Ref() = %+v, want acme/workers@1.2.0", ref)
	}
	if module.ArtifactPath() != path {
		t.Errorf("ArtifactPath() = %s, want manifest path %s (no artifact declared)", module.ArtifactPath(), path)
	}

	candidates := module.Candidates()
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}

	user := candidates[0]
	if user.Name != "UserWorker" {
		t.Errorf("first candidate name = %s, want UserWorker", user.Name)
	}
	if user.Implementation != "acme/workers.UserWorker" {
		t.Errorf("default implementation = %s, want acme/workers.UserWorker", user.Implementation)
	}
	if user.Lifecycle != discovery.LifecycleSingleton {
		t.Errorf("default lifecycle = %s, want singleton", user.Lifecycle)
	}
	if len(user.Conditions) != 1 || user.Conditions[0].Kind != conditions.SpecKeyEquals {
		t.Errorf("conditions = %+v, want one key_equals spec", user.Conditions)
	}
	if user.Conditions[0].Key != "Flags:EnableWorker" || user.Conditions[0].Expected != "true" {
		t.Errorf("condition = %+v, want Flags:EnableWorker == true", user.Conditions[0])
	}

	audit := candidates[1]
	if audit.Implementation != "acme/workers.audit.Recorder" {
		t.Errorf("explicit type = %s, want acme/workers.audit.Recorder", audit.Implementation)
	}
	if audit.ExplicitContract != "acme/workers.IAuditSink" {
		t.Errorf("explicit contract = %s, want acme/workers.IAuditSink", audit.ExplicitContract)
	}
	if audit.Lifecycle != discovery.LifecycleScoped || audit.Order != 5 {
		t.Errorf("markers = (%s, %d), want (scoped, 5)", audit.Lifecycle, audit.Order)
	}
	if audit.Profile != "production" || !audit.SkipInTests {
		t.Errorf("markers = (%s, %v), want (production, true)", audit.Profile, audit.SkipInTests)
	}

	bindings := module.DeclaredBindings()
	if len(bindings) != 1 {
		t.Fatalf("got %d declared bindings, want 1", len(bindings))
	}
	if bindings[0].Contract != "acme/workers.IClock" || bindings[0].Lifecycle != discovery.LifecycleTransient {
		t.Errorf("declared binding = %+v, want IClock transient", bindings[0])
	}
}

func TestLoaderAcceptsDirectoryPath(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, workerManifest)

	module, err := NewLoader(dir).LoadFromFile(dir)
	if err != nil {
		t.Fatalf("LoadFromFile(dir) failed: %v", err)
	}
	if module.Ref().Name != "acme/workers" {
		t.Errorf("module name = %s, want acme/workers", module.Ref().Name)
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name:     "missing name",
			manifest: "metadata:\n  version: 1.0.0\n",
			wantErr:  "module name is required",
		},
		{
			name:     "missing version",
			manifest: "metadata:\n  name: acme/a\n",
			wantErr:  "module version is required",
		},
		{
			name: "component without name",
			manifest: `metadata:
  name: acme/a
  version: 1.0.0
components:
  - contracts: [acme/a.IThing]
`,
			wantErr: "name is required",
		},
		{
			name: "duplicate component",
			manifest: `metadata:
  name: acme/a
  version: 1.0.0
components:
  - name: Thing
  - name: Thing
`,
			wantErr: "declared more than once",
		},
		{
			name: "bad lifecycle",
			manifest: `metadata:
  name: acme/a
  version: 1.0.0
components:
  - name: Thing
    lifecycle: forever
`,
			wantErr: "unknown lifecycle",
		},
		{
			name: "bad condition",
			manifest: `metadata:
  name: acme/a
  version: 1.0.0
components:
  - name: Thing
    conditions:
      - kind: key_equals
`,
			wantErr: "requires a key",
		},
		{
			name: "binding without implementation",
			manifest: `metadata:
  name: acme/a
  version: 1.0.0
bindings:
  - contract: acme/a.IThing
`,
			wantErr: "implementation is required",
		},
		{
			name: "checksum without artifact",
			manifest: `metadata:
  name: acme/a
  version: 1.0.0
checksum: abc123
`,
			wantErr: "checksum requires an artifact",
		},
		{
			name: "malformed checksum",
			manifest: `metadata:
  name: acme/a
  version: 1.0.0
artifact: mod.bin
checksum: nothex
`,
			wantErr: "hex-encoded SHA-256",
		},
	}

	loader := NewLoader("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.LoadFromBytes([]byte(tt.manifest))
			if err == nil {
				t.Fatal("LoadFromBytes() succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderChecksumVerification(t *testing.T) {
	dir := t.TempDir()
	artifact := []byte("compiled module contents")
	if err := os.WriteFile(filepath.Join(dir, "mod.bin"), artifact, 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	sum := sha256.Sum256(artifact)

	manifest := `metadata:
  name: acme/checked
  version: 1.0.0
artifact: mod.bin
checksum: ` + hex.EncodeToString(sum[:]) + "\n"
	path := writeManifest(t, dir, manifest)

	module, err := NewLoader(dir).LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() with matching checksum failed: %v", err)
	}
	if !module.Verified() {
		t.Error("Verified() = false after successful checksum verification")
	}
	if module.ArtifactPath() != filepath.Join(dir, "mod.bin") {
		t.Errorf("ArtifactPath() = %s, want resolved relative path", module.ArtifactPath())
	}

	// Flip one digit of the checksum and reload.
	bad := sha256.Sum256([]byte("something else"))
	badManifest := strings.Replace(manifest, hex.EncodeToString(sum[:]), hex.EncodeToString(bad[:]), 1)
	writeManifest(t, dir, badManifest)

	if _, err := NewLoader(dir).LoadFromFile(path); err == nil {
		t.Fatal("LoadFromFile() with wrong checksum succeeded, want mismatch error")
	} else if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("error = %q, want checksum mismatch", err)
	}
}

func TestLoaderMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, `metadata:
  name: acme/missing
  version: 1.0.0
artifact: nowhere.bin
`)

	if _, err := NewLoader(dir).LoadFromFile(path); err == nil {
		t.Fatal("LoadFromFile() with missing artifact succeeded, want error")
	}
}

func TestLoaderScanDirectory(t *testing.T) {
	root := t.TempDir()

	for _, name := range []string{"alpha", "beta"} {
		dir := filepath.Join(root, name)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("failed to create module dir: %v", err)
		}
		writeManifest(t, dir, `metadata:
  name: acme/`+name+`
  version: 1.0.0
components:
  - name: Thing
`)
	}
	// A directory without a manifest is skipped.
	if err := os.Mkdir(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("failed to create empty dir: %v", err)
	}

	modules, err := NewLoader(root).ScanDirectory(root)
	if err != nil {
		t.Fatalf("ScanDirectory() failed: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(modules))
	}
}

func TestManifestIntrospector(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, workerManifest)
	module, err := NewLoader(dir).LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	introspector := NewManifestIntrospector(testLogger())
	candidates, err := introspector.Introspect(context.Background(), module)
	if err != nil {
		t.Fatalf("Introspect() failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(candidates))
	}

	if _, err := introspector.Introspect(context.Background(), NewStaticModule("acme/static", "1")); err == nil {
		t.Fatal("Introspect(static module) succeeded, want error")
	} else if !discovery.IsPermanent(err) {
		t.Errorf("error = %v, want permanent class", err)
	}
}
