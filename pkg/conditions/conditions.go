// Package conditions evaluates activation conditions attached to component
// descriptors. A Context carries the environment name, configuration access,
// feature flags, and named predicates for one discovery run. Evaluation is
// conjunctive and fails closed: an unknown predicate, an evaluation error,
// or a panic inside a predicate all count as "not satisfied".
package conditions

import (
	"fmt"
)

// SpecKind identifies the form of a condition spec.
type SpecKind string

const (
	// SpecKeyEquals compares a configuration value against an expected string.
	SpecKeyEquals SpecKind = "key_equals"

	// SpecPredicate invokes a named predicate registered on the Context.
	SpecPredicate SpecKind = "predicate"
)

// Spec is a single activation condition. All specs attached to a descriptor
// must be satisfied for the descriptor to be included in a discovery result.
type Spec struct {
	// Kind selects the condition form.
	Kind SpecKind `json:"kind" yaml:"kind"`

	// Key is the configuration key to look up. Only set for key_equals specs.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`

	// Expected is the value the configuration entry must equal,
	// compared case-insensitively. Only set for key_equals specs.
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`

	// Predicate is the name of a registered predicate. Only set for
	// predicate specs.
	Predicate string `json:"predicate,omitempty" yaml:"predicate,omitempty"`
}

// KeyEquals builds a spec that is satisfied when the configuration value for
// key equals expected, ignoring case.
func KeyEquals(key, expected string) Spec {
	return Spec{Kind: SpecKeyEquals, Key: key, Expected: expected}
}

// PredicateRef builds a spec that is satisfied when the named predicate
// returns true.
func PredicateRef(name string) Spec {
	return Spec{Kind: SpecPredicate, Predicate: name}
}

// Validate checks that the spec is structurally complete for its kind.
func (s Spec) Validate() error {
	switch s.Kind {
	case SpecKeyEquals:
		if s.Key == "" {
			return fmt.Errorf("key_equals condition requires a key")
		}
		return nil
	case SpecPredicate:
		if s.Predicate == "" {
			return fmt.Errorf("predicate condition requires a predicate name")
		}
		return nil
	default:
		return fmt.Errorf("unknown condition kind %q", s.Kind)
	}
}

// String renders the spec for diagnostics.
func (s Spec) String() string {
	switch s.Kind {
	case SpecKeyEquals:
		return fmt.Sprintf("%s == %q", s.Key, s.Expected)
	case SpecPredicate:
		return fmt.Sprintf("predicate(%s)", s.Predicate)
	default:
		return fmt.Sprintf("unknown(%s)", string(s.Kind))
	}
}
