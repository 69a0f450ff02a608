package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas cannot fail compilation.
	_ = sr.RegisterSchema("config", builtinConfigSchema)
	_ = sr.RegisterSchema("manifest", builtinManifestSchema)
	_ = sr.RegisterSchema("condition", builtinConditionSchema)

	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema's definition.
// The schema must contain a definition named "#" + the schema name with the
// first letter upcased, e.g. "#Config" in the "config" schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	definition := schema.LookupPath(cue.ParsePath(definitionName(schemaName)))
	if !definition.Exists() {
		return fmt.Errorf("schema %s has no definition %s", schemaName, definitionName(schemaName))
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := definition.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

func definitionName(schemaName string) string {
	if schemaName == "" {
		return "#"
	}
	first := schemaName[0]
	if first >= 'a' && first <= 'z' {
		first = first - 'a' + 'A'
	}
	return "#" + string(first) + schemaName[1:]
}

// Built-in schema definitions

const builtinConfigSchema = `
// Discovery configuration schema
#Config: {
	// Environment name conditions evaluate against
	environment?: string

	// Profiles known to this deployment
	profiles?: [...string]

	// Profile candidates are gated against
	active_profile?: string

	// Feature flags exposed to condition evaluation
	flags?: {[string]: string}

	// Free-form settings exposed to key_equals conditions
	settings?: {[string]: string}

	cache?: {
		enabled?: bool
		watch?:   bool
	}

	parallelism?: {
		module_workers?: int & >=0 & <=64
	}

	plugins?: {
		disabled?: [...string]
		timeout_seconds?: int & >=0 & <=3600
	}

	conditions?: {
		policy_paths?: [...string]
		script_paths?: [...string]
	}

	store?: {
		enabled?: bool
		path?:    string
	}
}
`

const builtinManifestSchema = `
// Module manifest schema
#Manifest: {
	metadata: {
		// Qualified module name
		name: string & =~"^[a-zA-Z0-9_./-]+$"

		// Module version
		version: string

		description?: string
	}

	// Path of the module's compiled artifact, relative to the manifest
	artifact?: string

	// sha256 hex digest of the artifact
	checksum?: string & =~"^[a-fA-F0-9]{64}$"

	components?: [...#Component]

	// Explicit contract-to-implementation declarations
	bindings?: [...{
		contract:       string
		implementation: string
		lifecycle?:     "singleton" | "scoped" | "transient"
		order?:         int
		profile?:       string
		skip_in_tests?: bool
		conditions?: [...#Condition]
	}]
}

#Component: {
	// Component name within the module
	name: string & =~"^[a-zA-Z0-9_]+$"

	// Contract types the component declares
	contracts?: [...string]

	// Pinned binding contract, bypassing conventions
	contract?: string

	lifecycle?:     "singleton" | "scoped" | "transient"
	order?:         int
	profile?:       string
	skip_in_tests?: bool
	conditions?: [...#Condition]
}

#Condition: {
	kind: "key_equals" | "predicate"
	key?:       string
	expected?:  string
	predicate?: string
}
`

const builtinConditionSchema = `
// Standalone condition spec schema
#Condition: {
	kind: "key_equals" | "predicate"
	key?:       string
	expected?:  string
	predicate?: string
}
`

// ValidateConfigMap validates a raw configuration document against the
// config schema.
func (sr *SchemaRegistry) ValidateConfigMap(data map[string]interface{}) error {
	return sr.ValidateAgainstSchema("config", data)
}

// ValidateManifestMap validates a raw manifest document against the
// manifest schema.
func (sr *SchemaRegistry) ValidateManifestMap(data map[string]interface{}) error {
	return sr.ValidateAgainstSchema("manifest", data)
}
