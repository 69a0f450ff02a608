// Package conventions maps component candidates to contracts through an
// ordered chain of naming strategies. The resolver consults conventions in
// ascending priority order, caches outcomes per candidate, and tracks
// per-convention performance counters.
package conventions

import (
	"github.com/bindkit/bindkit/pkg/discovery"
)

// Convention is one naming strategy in the resolution chain.
type Convention interface {
	// Name identifies the convention in statistics and diagnostics.
	Name() string

	// Priority orders the chain. Lower values are consulted first; ties
	// keep registration order.
	Priority() int

	// CanApplyTo is a cheap pre-filter. Returning false skips Resolve
	// without counting toward the convention's execution time.
	CanApplyTo(candidate discovery.Candidate) bool

	// Resolve picks a contract for the candidate from the declared set.
	Resolve(candidate discovery.Candidate, contracts []discovery.TypeRef) Outcome
}

// OutcomeKind tags a convention's resolution outcome.
type OutcomeKind string

const (
	// OutcomeMatched means the convention selected a contract.
	OutcomeMatched OutcomeKind = "matched"

	// OutcomeNotApplicable means the convention legitimately found nothing.
	OutcomeNotApplicable OutcomeKind = "not_applicable"

	// OutcomeFailed means the convention errored. Failures are treated like
	// not-applicable for chain progression but are counted separately in
	// statistics so crashes are distinguishable from clean misses.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the tagged result of one convention invocation. Construct with
// Matched, NotApplicable, or Failed.
type Outcome struct {
	kind     OutcomeKind
	contract discovery.TypeRef
	err      error
}

// Matched builds a successful outcome carrying the selected contract.
func Matched(contract discovery.TypeRef) Outcome {
	return Outcome{kind: OutcomeMatched, contract: contract}
}

// NotApplicable builds a clean no-match outcome.
func NotApplicable() Outcome {
	return Outcome{kind: OutcomeNotApplicable}
}

// Failed builds a failure outcome carrying the convention's error.
func Failed(err error) Outcome {
	return Outcome{kind: OutcomeFailed, err: err}
}

// Kind returns the outcome tag.
func (o Outcome) Kind() OutcomeKind {
	return o.kind
}

// Contract returns the selected contract for matched outcomes, zero
// otherwise.
func (o Outcome) Contract() discovery.TypeRef {
	return o.contract
}

// Err returns the convention's error for failed outcomes, nil otherwise.
func (o Outcome) Err() error {
	return o.err
}
