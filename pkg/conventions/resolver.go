package conventions

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bindkit/bindkit/pkg/discovery"
)

// registration pairs a convention with its metrics for the resolver's
// lifetime.
type registration struct {
	convention Convention
	metrics    *metrics
}

// resolution is one cached outcome. A negative outcome (matched=false) is
// cached like a positive one so repeated misses skip the chain too.
type resolution struct {
	contract discovery.TypeRef
	matched  bool
}

// Resolver runs the convention chain with caching and telemetry. It is
// constructed once and safe for concurrent use.
type Resolver struct {
	chain  []registration
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]resolution
}

// NewResolver builds a resolver over the given conventions. The chain is
// sorted ascending by priority at construction; equal priorities keep their
// registration order.
func NewResolver(conventions []Convention, logger zerolog.Logger) *Resolver {
	chain := make([]registration, 0, len(conventions))
	for _, convention := range conventions {
		chain = append(chain, registration{convention: convention, metrics: &metrics{}})
	}
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].convention.Priority() < chain[j].convention.Priority()
	})

	return &Resolver{
		chain:  chain,
		logger: logger.With().Str("component", "convention-resolver").Logger(),
		cache:  make(map[string]resolution),
	}
}

// Resolve selects a contract for the candidate from its declared contracts.
// The first matching convention in priority order wins. Both the match and
// a no-match outcome are cached under the candidate's identity, so repeated
// resolution of the same candidate never re-runs the chain.
//
// Implements discovery.ContractResolver.
func (r *Resolver) Resolve(candidate discovery.Candidate, contracts []discovery.TypeRef) (discovery.TypeRef, bool) {
	key := candidate.Key()

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached.contract, cached.matched
	}

	// Hand every convention the same materialized contract list.
	available := make([]discovery.TypeRef, len(contracts))
	copy(available, contracts)

	for _, reg := range r.chain {
		reg.metrics.consultations.Add(1)

		if !safeCanApply(reg.convention, candidate) {
			continue
		}

		reg.metrics.invocations.Add(1)
		start := time.Now()
		outcome := safeResolve(reg.convention, candidate, available)
		reg.metrics.addDuration(time.Since(start))

		switch outcome.Kind() {
		case OutcomeMatched:
			contract := outcome.Contract()
			reg.metrics.successes.Add(1)
			r.storeResolution(key, resolution{contract: contract, matched: true})
			r.logger.Debug().
				Str("candidate", candidate.Key()).
				Str("convention", reg.convention.Name()).
				Str("contract", string(contract)).
				Msg("Contract resolved")
			return contract, true

		case OutcomeFailed:
			reg.metrics.failures.Add(1)
			r.logger.Warn().
				Err(outcome.Err()).
				Str("candidate", candidate.Key()).
				Str("convention", reg.convention.Name()).
				Msg("Convention failed, trying next")

		case OutcomeNotApplicable:
			// Fall through to the next convention.
		}
	}

	r.storeResolution(key, resolution{})
	return "", false
}

func (r *Resolver) storeResolution(key string, res resolution) {
	r.mu.Lock()
	r.cache[key] = res
	r.mu.Unlock()
}

// ClearCache drops all cached resolutions. Counters are unaffected.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]resolution)
	r.mu.Unlock()
}

// Stats returns a snapshot of all convention counters and derived rates.
func (r *Resolver) Stats() StatsSnapshot {
	snapshot := StatsSnapshot{
		Conventions: make([]MetricsSnapshot, 0, len(r.chain)),
	}

	var best int64
	for _, reg := range r.chain {
		ms := reg.metrics.snapshot(reg.convention.Name(), reg.convention.Priority())
		snapshot.Conventions = append(snapshot.Conventions, ms)
		snapshot.TotalConsultations += ms.Consultations
		snapshot.TotalSuccesses += ms.Successes
		snapshot.TotalExecutionTime += ms.TotalExecutionTime
		if ms.Successes > best {
			best = ms.Successes
			snapshot.MostSuccessful = ms.Name
		}
	}

	r.mu.RLock()
	snapshot.CachedResolutions = len(r.cache)
	r.mu.RUnlock()

	return snapshot
}

// safeCanApply runs the pre-filter, treating a panic as not applicable.
func safeCanApply(c Convention, candidate discovery.Candidate) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return c.CanApplyTo(candidate)
}

// safeResolve runs the convention body, converting a panic into a failed
// outcome.
func safeResolve(c Convention, candidate discovery.Candidate, contracts []discovery.TypeRef) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Failed(fmt.Errorf("convention %s panicked: %v", c.Name(), r))
		}
	}()
	return c.Resolve(candidate, contracts)
}
