package config

import (
	"testing"
)

func TestBuiltinSchemasRegistered(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{"config", "manifest", "condition"} {
		if _, ok := sr.GetSchema(name); !ok {
			t.Errorf("GetSchema(%q) missing built-in schema", name)
		}
	}
	if len(sr.ListSchemas()) != 3 {
		t.Errorf("ListSchemas() = %v, want 3 built-ins", sr.ListSchemas())
	}
}

func TestRegisterSchemaRejectsInvalidCUE(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", "#Broken: {"); err == nil {
		t.Fatal("RegisterSchema() accepted invalid CUE")
	}
}

func TestValidateConfigMap(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		doc     map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid",
			doc: map[string]interface{}{
				"environment": "production",
				"cache":       map[string]interface{}{"enabled": true},
			},
		},
		{
			name: "worker count above bound",
			doc: map[string]interface{}{
				"parallelism": map[string]interface{}{"module_workers": 100},
			},
			wantErr: true,
		},
		{
			name: "unknown field",
			doc: map[string]interface{}{
				"environmnet": "typo",
			},
			wantErr: true,
		},
		{
			name: "wrong type",
			doc: map[string]interface{}{
				"environment": 42,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateConfigMap(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfigMap() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateManifestMap(t *testing.T) {
	sr := NewSchemaRegistry()

	valid := map[string]interface{}{
		"metadata": map[string]interface{}{
			"name":    "acme/workers",
			"version": "1.0.0",
		},
		"components": []interface{}{
			map[string]interface{}{
				"name":      "UserWorker",
				"contracts": []interface{}{"acme/workers.IUserWorker"},
				"lifecycle": "singleton",
			},
		},
	}
	if err := sr.ValidateManifestMap(valid); err != nil {
		t.Errorf("ValidateManifestMap() rejected a valid manifest: %v", err)
	}

	missingVersion := map[string]interface{}{
		"metadata": map[string]interface{}{"name": "acme/workers"},
	}
	if err := sr.ValidateManifestMap(missingVersion); err == nil {
		t.Error("ValidateManifestMap() accepted a manifest without a version")
	}

	badLifecycle := map[string]interface{}{
		"metadata": map[string]interface{}{
			"name":    "acme/workers",
			"version": "1.0.0",
		},
		"components": []interface{}{
			map[string]interface{}{
				"name":      "UserWorker",
				"lifecycle": "forever",
			},
		},
	}
	if err := sr.ValidateManifestMap(badLifecycle); err == nil {
		t.Error("ValidateManifestMap() accepted an unknown lifecycle")
	}

	badChecksum := map[string]interface{}{
		"metadata": map[string]interface{}{
			"name":    "acme/workers",
			"version": "1.0.0",
		},
		"checksum": "nothex",
	}
	if err := sr.ValidateManifestMap(badChecksum); err == nil {
		t.Error("ValidateManifestMap() accepted a malformed checksum")
	}
}

func TestValidateAgainstUnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.ValidateAgainstSchema("absent", map[string]interface{}{}); err == nil {
		t.Fatal("ValidateAgainstSchema() accepted an unknown schema name")
	}
}
