package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CUEParser loads discovery configuration from CUE and YAML sources,
// validates it against the embedded config schema, and decodes it into a
// Config. Multiple sources are merged by CUE unification, so conflicting
// concrete values surface as structured errors instead of silent overrides.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCUEParser creates a new parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{
		ctx:            cuecontext.New(),
		schemaRegistry: NewSchemaRegistry(),
		validator:      validator.New(),
	}
}

// Load parses and merges the given configuration files. An empty source
// list yields the default configuration. Validation findings are reported
// through ParsedConfig.Errors; the returned error covers only I/O-level
// failures.
func (cp *CUEParser) Load(sources []string) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		SourceFiles: append([]string(nil), sources...),
		ParsedAt:    time.Now(),
	}

	if len(sources) == 0 {
		parsed.Config = DefaultConfig()
		return parsed, nil
	}

	var unified cue.Value
	for _, source := range sources {
		val, errs := cp.loadFile(source)
		if len(errs) > 0 {
			parsed.Errors = append(parsed.Errors, errs...)
			continue
		}
		if unified.Exists() {
			unified = unified.Unify(val)
		} else {
			unified = val
		}
	}
	if parsed.HasErrors() {
		return parsed, nil
	}

	if err := unified.Err(); err != nil {
		parsed.Errors = append(parsed.Errors, cp.convertCUEErrors(err)...)
		return parsed, nil
	}

	cfg, errs := cp.decode(unified)
	parsed.Errors = append(parsed.Errors, errs...)
	if !parsed.HasErrors() {
		parsed.Config = cfg
	}
	return parsed, nil
}

// LoadInline parses inline CUE content, for embedders and tests.
func (cp *CUEParser) LoadInline(content string) (*ParsedConfig, error) {
	parsed := &ParsedConfig{
		SourceFiles: []string{"inline"},
		ParsedAt:    time.Now(),
	}

	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		parsed.Errors = cp.convertCUEErrors(err)
		return parsed, nil
	}

	cfg, errs := cp.decode(val)
	parsed.Errors = append(parsed.Errors, errs...)
	if !parsed.HasErrors() {
		parsed.Config = cfg
	}
	return parsed, nil
}

// loadFile loads one source file. YAML files are decoded and re-encoded as
// CUE values; CUE files are compiled directly.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]interface{}
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return cue.Value{}, []ValidationError{{
				File:     path,
				Message:  fmt.Sprintf("invalid YAML: %v", err),
				Severity: "error",
			}}
		}
		val := cp.ctx.Encode(doc)
		if err := val.Err(); err != nil {
			return cue.Value{}, cp.convertCUEErrors(err)
		}
		return val, nil
	default:
		val := cp.ctx.CompileString(string(content), cue.Filename(path))
		if err := val.Err(); err != nil {
			return cue.Value{}, cp.convertCUEErrors(err)
		}
		return val, nil
	}
}

// decode schema-checks the unified document and decodes it into a Config
// layered over the defaults.
func (cp *CUEParser) decode(val cue.Value) (*Config, []ValidationError) {
	var doc map[string]interface{}
	if err := val.Decode(&doc); err != nil {
		return nil, []ValidationError{{
			Message:  fmt.Sprintf("configuration is not a struct: %v", err),
			Severity: "error",
		}}
	}

	if err := cp.schemaRegistry.ValidateConfigMap(doc); err != nil {
		return nil, []ValidationError{{
			Message:  err.Error(),
			Severity: "error",
		}}
	}

	cfg := DefaultConfig()
	if err := val.Decode(cfg); err != nil {
		return nil, []ValidationError{{
			Message:  fmt.Sprintf("failed to decode configuration: %v", err),
			Severity: "error",
		}}
	}

	return cfg, cp.validateStruct(cfg)
}

// validateStruct applies the struct-tag and cross-field rules the CUE
// schema cannot express.
func (cp *CUEParser) validateStruct(cfg *Config) []ValidationError {
	var findings []ValidationError

	if err := cp.validator.Struct(cfg); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				findings = append(findings, ValidationError{
					Path:     fe.Namespace(),
					Message:  fmt.Sprintf("failed %s validation", fe.Tag()),
					Severity: "error",
				})
			}
		} else {
			findings = append(findings, ValidationError{
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}

	if cfg.ActiveProfile != "" {
		known := false
		for _, profile := range cfg.Profiles {
			if strings.EqualFold(profile, cfg.ActiveProfile) {
				known = true
				break
			}
		}
		if !known {
			findings = append(findings, ValidationError{
				Path:     "active_profile",
				Message:  fmt.Sprintf("active profile %q is not listed in profiles", cfg.ActiveProfile),
				Severity: "error",
			})
		}
	}

	for _, path := range append(append([]string(nil), cfg.Conditions.PolicyPaths...), cfg.Conditions.ScriptPaths...) {
		if _, err := os.Stat(path); err != nil {
			findings = append(findings, ValidationError{
				Path:     "conditions",
				Message:  fmt.Sprintf("predicate source %s is not readable: %v", path, err),
				Severity: "warning",
			})
		}
	}

	return findings
}

// SchemaRegistry returns the parser's schema registry, for callers that
// validate manifests or register additional schemas.
func (cp *CUEParser) SchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range cueerrors.Errors(err) {
		pos := cueerrors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}
