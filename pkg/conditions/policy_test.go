package conditions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const productionOnlyPolicy = `package bindkit.conditions

import rego.v1

allow if {
	input.environment == "production"
}
`

const workerFlagPolicy = `package bindkit.conditions

import rego.v1

allow if {
	input.config["Flags:EnableWorker"] == "true"
}
`

func TestPolicySetCompileAndEvaluate(t *testing.T) {
	ps := NewPolicySet(testLogger(), 0)
	ctx := context.Background()

	if err := ps.CompileSource(ctx, "production-only", productionOnlyPolicy); err != nil {
		t.Fatalf("Failed to compile policy: %v", err)
	}

	predicates := ps.Predicates()
	predicate, ok := predicates["policy:production-only"]
	if !ok {
		t.Fatalf("Predicates() missing policy:production-only, got %v", ps.Names())
	}

	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{name: "matching environment", environment: "production", want: true},
		{name: "other environment", environment: "staging", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := NewContext(Config{Environment: tt.environment, Logger: testLogger()})
			got, err := predicate(ctx, ec)
			if err != nil {
				t.Fatalf("predicate returned error: %v", err)
			}
			if got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicySetConfigInput(t *testing.T) {
	ps := NewPolicySet(testLogger(), 0)
	ctx := context.Background()

	if err := ps.CompileSource(ctx, "worker-flag", workerFlagPolicy); err != nil {
		t.Fatalf("Failed to compile policy: %v", err)
	}
	predicate := ps.Predicates()["policy:worker-flag"]

	ec := NewContext(Config{
		Config: MapConfig{"Flags:EnableWorker": "true"},
		Logger: testLogger(),
	})
	got, err := predicate(ctx, ec)
	if err != nil {
		t.Fatalf("predicate returned error: %v", err)
	}
	if !got {
		t.Error("predicate = false with flag set in config, want true")
	}

	empty := NewContext(Config{Logger: testLogger()})
	got, err = predicate(ctx, empty)
	if err != nil {
		t.Fatalf("predicate returned error: %v", err)
	}
	if got {
		t.Error("predicate = true with empty config, want false")
	}
}

func TestPolicySetCompileError(t *testing.T) {
	ps := NewPolicySet(testLogger(), 0)
	err := ps.CompileSource(context.Background(), "broken", "this is not rego")
	if err == nil {
		t.Fatal("CompileSource() accepted invalid policy source")
	}
}

func TestPolicySetLoadPaths(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "prod-gate.rego")
	if err := os.WriteFile(policyPath, []byte(productionOnlyPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("Failed to write unrelated file: %v", err)
	}

	ps := NewPolicySet(testLogger(), 0)
	if err := ps.LoadPaths(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPaths() failed: %v", err)
	}

	if _, ok := ps.Predicates()["policy:prod-gate"]; !ok {
		t.Errorf("LoadPaths() did not register prod-gate, got %v", ps.Names())
	}
	if len(ps.Names()) != 1 {
		t.Errorf("LoadPaths() registered %d policies, want 1", len(ps.Names()))
	}
}
