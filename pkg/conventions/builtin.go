package conventions

import (
	"strings"

	"github.com/bindkit/bindkit/pkg/discovery"
)

// DefaultConventions returns the built-in naming chain in priority order:
// interface-prefix (10), exact-name (20), suffix-trim (30), and the
// single-contract fallback (100).
func DefaultConventions() []Convention {
	return []Convention{
		InterfacePrefix{},
		ExactName{},
		SuffixTrim{},
		SingleContract{},
	}
}

// InterfacePrefix matches a contract whose short name is the candidate's
// short name with an "I" prefix, e.g. UserWorker to IUserWorker.
type InterfacePrefix struct{}

// Name implements Convention.
func (InterfacePrefix) Name() string { return "interface-prefix" }

// Priority implements Convention.
func (InterfacePrefix) Priority() int { return 10 }

// CanApplyTo implements Convention.
func (InterfacePrefix) CanApplyTo(candidate discovery.Candidate) bool {
	return len(candidate.Contracts) > 0
}

// Resolve implements Convention.
func (InterfacePrefix) Resolve(candidate discovery.Candidate, contracts []discovery.TypeRef) Outcome {
	want := "I" + candidate.Implementation.Short()
	for _, contract := range contracts {
		if contract.Short() == want {
			return Matched(contract)
		}
	}
	return NotApplicable()
}

// ExactName matches a contract whose short name equals the candidate's
// short name, package paths aside.
type ExactName struct{}

// Name implements Convention.
func (ExactName) Name() string { return "exact-name" }

// Priority implements Convention.
func (ExactName) Priority() int { return 20 }

// CanApplyTo implements Convention.
func (ExactName) CanApplyTo(candidate discovery.Candidate) bool {
	return len(candidate.Contracts) > 0
}

// Resolve implements Convention.
func (ExactName) Resolve(candidate discovery.Candidate, contracts []discovery.TypeRef) Outcome {
	want := candidate.Implementation.Short()
	for _, contract := range contracts {
		if contract.Short() == want {
			return Matched(contract)
		}
	}
	return NotApplicable()
}

// SuffixTrim matches a contract whose short name, minus any "I" prefix, is
// a suffix of the candidate's short name, e.g. SqlUserRepository to
// IUserRepository.
type SuffixTrim struct{}

// Name implements Convention.
func (SuffixTrim) Name() string { return "suffix-trim" }

// Priority implements Convention.
func (SuffixTrim) Priority() int { return 30 }

// CanApplyTo implements Convention.
func (SuffixTrim) CanApplyTo(candidate discovery.Candidate) bool {
	return len(candidate.Contracts) > 0
}

// Resolve implements Convention.
func (SuffixTrim) Resolve(candidate discovery.Candidate, contracts []discovery.TypeRef) Outcome {
	implementation := candidate.Implementation.Short()
	for _, contract := range contracts {
		trimmed := strings.TrimPrefix(contract.Short(), "I")
		if trimmed == "" {
			continue
		}
		if strings.HasSuffix(implementation, trimmed) {
			return Matched(contract)
		}
	}
	return NotApplicable()
}

// SingleContract is the fallback: when a candidate declares exactly one
// contract, bind it regardless of naming.
type SingleContract struct{}

// Name implements Convention.
func (SingleContract) Name() string { return "single-contract" }

// Priority implements Convention.
func (SingleContract) Priority() int { return 100 }

// CanApplyTo implements Convention.
func (SingleContract) CanApplyTo(candidate discovery.Candidate) bool {
	return len(candidate.Contracts) == 1
}

// Resolve implements Convention.
func (SingleContract) Resolve(_ discovery.Candidate, contracts []discovery.TypeRef) Outcome {
	if len(contracts) == 1 {
		return Matched(contracts[0])
	}
	return NotApplicable()
}
