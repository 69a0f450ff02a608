// Package container provides the binding boundary the discovery pipeline
// hands its final descriptor set to. The registry is an in-memory container
// suitable for embedding; hosts with their own container implement
// discovery.Binder instead.
package container

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bindkit/bindkit/pkg/discovery"
)

// binding is one applied descriptor with its application sequence.
type binding struct {
	descriptor discovery.ComponentDescriptor
	seq        int
}

// Registry is a concurrency-safe in-memory binding container. Contracts are
// bound at most once: re-binding a contract is allowed only when the
// implementation and lifecycle are identical, so re-running discovery over
// an unchanged module set is idempotent.
type Registry struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	bindings map[discovery.TypeRef]*binding
	nextSeq  int
}

// NewRegistry creates an empty binding registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:   logger.With().Str("component", "binding-registry").Logger(),
		bindings: make(map[discovery.TypeRef]*binding),
	}
}

// Bind applies a descriptor set to the registry. The whole set is validated
// against the current state before anything is committed, so a rejected call
// leaves the registry unchanged.
//
// Implements discovery.Binder.
func (r *Registry) Bind(_ context.Context, descriptors []discovery.ComponentDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	incoming := make(map[discovery.TypeRef]discovery.ComponentDescriptor, len(descriptors))
	for _, descriptor := range descriptors {
		if err := descriptor.Validate(); err != nil {
			return discovery.NewPermanentError(
				fmt.Sprintf("descriptor %s failed validation", descriptor.BindingKey()), err).
				WithCode(discovery.ErrCodeBinding)
		}

		if previous, exists := incoming[descriptor.Contract]; exists {
			if !sameBinding(previous, descriptor) {
				return conflictError(descriptor.Contract, previous, descriptor)
			}
			continue
		}
		if bound, exists := r.bindings[descriptor.Contract]; exists {
			if !sameBinding(bound.descriptor, descriptor) {
				return conflictError(descriptor.Contract, bound.descriptor, descriptor)
			}
			continue
		}
		incoming[descriptor.Contract] = descriptor
	}

	// Commit in input order. Only the first occurrence of each contract is
	// still present in incoming; duplicates and pre-existing bindings were
	// settled above.
	for _, descriptor := range descriptors {
		if _, fresh := incoming[descriptor.Contract]; !fresh {
			continue
		}
		r.bindings[descriptor.Contract] = &binding{descriptor: descriptor, seq: r.nextSeq}
		r.nextSeq++
		delete(incoming, descriptor.Contract)

		r.logger.Debug().
			Str("contract", string(descriptor.Contract)).
			Str("implementation", string(descriptor.Implementation)).
			Str("lifecycle", string(descriptor.Lifecycle)).
			Msg("Binding registered")
	}

	return nil
}

// sameBinding reports whether two descriptors describe an identical binding
// for re-bind purposes.
func sameBinding(a, b discovery.ComponentDescriptor) bool {
	return a.Implementation == b.Implementation && a.Lifecycle == b.Lifecycle
}

func conflictError(contract discovery.TypeRef, bound, rejected discovery.ComponentDescriptor) error {
	return discovery.NewConflictError(
		fmt.Sprintf("contract %s is already bound to %s, cannot bind %s",
			contract, bound.Implementation, rejected.Implementation), nil).
		WithCode(discovery.ErrCodeConflict).
		WithOperation("bind")
}

// Resolve returns the descriptor bound under the contract.
func (r *Registry) Resolve(contract discovery.TypeRef) (discovery.ComponentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bound, exists := r.bindings[contract]
	if !exists {
		return discovery.ComponentDescriptor{}, false
	}
	return bound.descriptor, true
}

// Bindings returns a snapshot of all bindings ordered by Order ascending,
// ties by application sequence.
func (r *Registry) Bindings() []discovery.ComponentDescriptor {
	r.mu.RLock()
	ordered := make([]*binding, 0, len(r.bindings))
	for _, bound := range r.bindings {
		ordered = append(ordered, bound)
	}
	r.mu.RUnlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].descriptor.Order != ordered[j].descriptor.Order {
			return ordered[i].descriptor.Order < ordered[j].descriptor.Order
		}
		return ordered[i].seq < ordered[j].seq
	})

	descriptors := make([]discovery.ComponentDescriptor, 0, len(ordered))
	for _, bound := range ordered {
		descriptors = append(descriptors, bound.descriptor)
	}
	return descriptors
}

// Size returns the number of bound contracts.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Clear removes all bindings.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = make(map[discovery.TypeRef]*binding)
	r.nextSeq = 0
}
