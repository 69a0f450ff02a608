package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsWithoutSources(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.Load(nil)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if parsed.HasErrors() {
		t.Fatalf("Load() reported errors: %v", parsed.Errors)
	}
	if parsed.Config == nil {
		t.Fatal("Load() returned nil config")
	}
	if parsed.Config.Environment != "development" {
		t.Errorf("Environment = %q, want development default", parsed.Config.Environment)
	}
	if !parsed.Config.Cache.Enabled {
		t.Error("Cache.Enabled = false, want true default")
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	path := writeConfigFile(t, "bindkit.yaml", `
environment: production
profiles:
  - production
  - development
active_profile: production
flags:
  EnableWorker: "true"
settings:
  "Flags:EnableWorker": "true"
cache:
  enabled: true
  watch: true
parallelism:
  module_workers: 4
plugins:
  timeout_seconds: 30
store:
  enabled: true
  path: /var/lib/bindkit/runs.db
`)

	parser := NewCUEParser()
	parsed, err := parser.Load([]string{path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if parsed.HasErrors() {
		t.Fatalf("Load() reported errors: %v", parsed.Errors)
	}

	cfg := parsed.Config
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q, want production", cfg.Environment)
	}
	if cfg.ActiveProfile != "production" {
		t.Errorf("ActiveProfile = %q, want production", cfg.ActiveProfile)
	}
	if cfg.Parallelism.ModuleWorkers != 4 {
		t.Errorf("ModuleWorkers = %d, want 4", cfg.Parallelism.ModuleWorkers)
	}
	if cfg.Plugins.Timeout().Seconds() != 30 {
		t.Errorf("Plugins timeout = %v, want 30s", cfg.Plugins.Timeout())
	}
	if !cfg.Store.Enabled || cfg.Store.Path != "/var/lib/bindkit/runs.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if v, ok := cfg.Settings["Flags:EnableWorker"]; !ok || v != "true" {
		t.Errorf("Settings[Flags:EnableWorker] = %q, %v", v, ok)
	}
}

func TestLoadCUEConfig(t *testing.T) {
	path := writeConfigFile(t, "bindkit.cue", `
environment: "staging"
cache: {
	enabled: true
	watch:   false
}
`)

	parser := NewCUEParser()
	parsed, err := parser.Load([]string{path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if parsed.HasErrors() {
		t.Fatalf("Load() reported errors: %v", parsed.Errors)
	}
	if parsed.Config.Environment != "staging" {
		t.Errorf("Environment = %q, want staging", parsed.Config.Environment)
	}
}

func TestLoadMergesMultipleSources(t *testing.T) {
	base := writeConfigFile(t, "base.yaml", `
environment: production
cache:
  enabled: true
`)
	overlay := writeConfigFile(t, "overlay.yaml", `
parallelism:
  module_workers: 8
`)

	parser := NewCUEParser()
	parsed, err := parser.Load([]string{base, overlay})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if parsed.HasErrors() {
		t.Fatalf("Load() reported errors: %v", parsed.Errors)
	}
	if parsed.Config.Environment != "production" {
		t.Errorf("Environment = %q, want production from base", parsed.Config.Environment)
	}
	if parsed.Config.Parallelism.ModuleWorkers != 8 {
		t.Errorf("ModuleWorkers = %d, want 8 from overlay", parsed.Config.Parallelism.ModuleWorkers)
	}
}

func TestLoadConflictingSourcesReportsError(t *testing.T) {
	first := writeConfigFile(t, "first.yaml", `environment: production`)
	second := writeConfigFile(t, "second.yaml", `environment: staging`)

	parser := NewCUEParser()
	parsed, err := parser.Load([]string{first, second})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !parsed.HasErrors() {
		t.Fatal("Load() accepted conflicting environment values")
	}
}

func TestLoadRejectsUnknownWorkerCount(t *testing.T) {
	path := writeConfigFile(t, "bindkit.yaml", `
parallelism:
  module_workers: 500
`)

	parser := NewCUEParser()
	parsed, err := parser.Load([]string{path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !parsed.HasErrors() {
		t.Fatal("Load() accepted module_workers=500")
	}
}

func TestLoadRejectsUnlistedActiveProfile(t *testing.T) {
	path := writeConfigFile(t, "bindkit.yaml", `
profiles:
  - development
active_profile: production
`)

	parser := NewCUEParser()
	parsed, err := parser.Load([]string{path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !parsed.HasErrors() {
		t.Fatal("Load() accepted an active profile missing from profiles")
	}
	found := false
	for _, finding := range parsed.Errors {
		if finding.Path == "active_profile" {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors = %v, want an active_profile finding", parsed.Errors)
	}
}

func TestLoadMissingFile(t *testing.T) {
	parser := NewCUEParser()
	parsed, err := parser.Load([]string{filepath.Join(t.TempDir(), "absent.yaml")})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !parsed.HasErrors() {
		t.Fatal("Load() reported no errors for a missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "broken.yaml", "environment: [unclosed")

	parser := NewCUEParser()
	parsed, err := parser.Load([]string{path})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !parsed.HasErrors() {
		t.Fatal("Load() reported no errors for invalid YAML")
	}
	if !strings.Contains(parsed.Errors[0].Message, "YAML") {
		t.Errorf("Errors[0].Message = %q, want a YAML parse message", parsed.Errors[0].Message)
	}
}

func TestLoadInline(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.LoadInline(`environment: "test"`)
	if err != nil {
		t.Fatalf("LoadInline() error: %v", err)
	}
	if parsed.HasErrors() {
		t.Fatalf("LoadInline() reported errors: %v", parsed.Errors)
	}
	if parsed.Config.Environment != "test" {
		t.Errorf("Environment = %q, want test", parsed.Config.Environment)
	}
}

func TestStoreRequiresPathWhenEnabled(t *testing.T) {
	parser := NewCUEParser()

	parsed, err := parser.LoadInline(`store: enabled: true`)
	if err != nil {
		t.Fatalf("LoadInline() error: %v", err)
	}
	if !parsed.HasErrors() {
		t.Fatal("LoadInline() accepted an enabled store without a path")
	}
}
