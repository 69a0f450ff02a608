// Package config loads and validates bindkit discovery configuration.
//
// # Overview
//
// Configuration may be written as CUE or YAML. Every source is unified into
// a single CUE value, checked against the embedded config schema, decoded
// over the defaults, and finally validated with struct tags plus the
// cross-field rules CUE cannot express (for example, that the active
// profile is one of the declared profiles).
//
// # Usage
//
//	parser := config.NewCUEParser()
//	parsed, err := parser.Load([]string{"bindkit.yaml", "overrides.cue"})
//	if err != nil {
//		// I/O failure
//	}
//	if parsed.HasErrors() {
//		// schema or validation findings in parsed.Errors
//	}
//	cfg := parsed.Config
//
// The schema registry also carries the module manifest schema used by the
// validate command to check module.yaml files before a discovery run.
package config
