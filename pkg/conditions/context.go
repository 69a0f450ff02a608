package conditions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Predicate is a named activation check evaluated against the run context.
// Returning an error counts as "not satisfied"; it never aborts the run.
type Predicate func(ctx context.Context, ec *Context) (bool, error)

// Config configures a Context. The zero value yields a context with no
// environment, no configuration, no flags, and no predicates.
type Config struct {
	// Environment is the active environment name, e.g. "production".
	Environment string

	// Config resolves configuration keys for key_equals conditions.
	Config ConfigAccessor

	// Flags resolves feature flags for flag-based predicates.
	Flags FlagAccessor

	// Predicates maps predicate names to their implementations. The map is
	// copied at construction; later mutation of the argument has no effect.
	Predicates map[string]Predicate

	// Logger receives evaluation diagnostics.
	Logger zerolog.Logger
}

// Context is the evaluation context for one discovery run. It is immutable
// after construction and safe for concurrent use.
type Context struct {
	environment string
	config      ConfigAccessor
	flags       FlagAccessor
	predicates  map[string]Predicate
	logger      zerolog.Logger
}

// NewContext builds an evaluation context from cfg.
func NewContext(cfg Config) *Context {
	predicates := make(map[string]Predicate, len(cfg.Predicates))
	for name, p := range cfg.Predicates {
		predicates[name] = p
	}
	config := cfg.Config
	if config == nil {
		config = MapConfig(nil)
	}
	flags := cfg.Flags
	if flags == nil {
		flags = MapFlags(nil)
	}
	return &Context{
		environment: cfg.Environment,
		config:      config,
		flags:       flags,
		predicates:  predicates,
		logger:      cfg.Logger.With().Str("component", "conditions").Logger(),
	}
}

// Environment returns the active environment name.
func (c *Context) Environment() string {
	return c.environment
}

// ConfigValue returns the configuration value for key.
func (c *Context) ConfigValue(key string) (string, bool) {
	return c.config.Get(key)
}

// FlagEnabled reports whether the named feature flag is on.
func (c *Context) FlagEnabled(name string) bool {
	return c.flags.Enabled(name)
}

// HasPredicate reports whether a predicate with the given name is registered.
func (c *Context) HasPredicate(name string) bool {
	_, ok := c.predicates[name]
	return ok
}

// PredicateNames returns the names of all registered predicates.
func (c *Context) PredicateNames() []string {
	names := make([]string, 0, len(c.predicates))
	for name := range c.predicates {
		names = append(names, name)
	}
	return names
}

// ConfigSnapshot returns the configuration entries when the backing accessor
// supports enumeration.
func (c *Context) ConfigSnapshot() (map[string]string, bool) {
	if s, ok := c.config.(ConfigSnapshotter); ok {
		return s.Snapshot(), true
	}
	return nil, false
}

// FlagSnapshot returns the flag entries when the backing accessor supports
// enumeration.
func (c *Context) FlagSnapshot() (map[string]bool, bool) {
	if s, ok := c.flags.(FlagSnapshotter); ok {
		return s.Snapshot(), true
	}
	return nil, false
}

// Evaluate reports whether every spec is satisfied. Evaluation is
// conjunctive and stops at the first unsatisfied spec. An empty spec list is
// satisfied.
func (c *Context) Evaluate(ctx context.Context, specs []Spec) bool {
	for _, spec := range specs {
		ok, reason := c.evalSpec(ctx, spec)
		if !ok {
			c.logger.Debug().
				Str("condition", spec.String()).
				Str("reason", reason).
				Msg("Condition not satisfied")
			return false
		}
	}
	return true
}

// Outcome records the result of evaluating a single spec.
type Outcome struct {
	// Spec is the evaluated condition.
	Spec Spec `json:"spec"`

	// Satisfied reports whether the condition held.
	Satisfied bool `json:"satisfied"`

	// Reason explains an unsatisfied condition. Empty when satisfied.
	Reason string `json:"reason,omitempty"`
}

// Explain evaluates every spec without short-circuiting and returns one
// outcome per spec, in order. Intended for diagnostics output.
func (c *Context) Explain(ctx context.Context, specs []Spec) []Outcome {
	outcomes := make([]Outcome, 0, len(specs))
	for _, spec := range specs {
		ok, reason := c.evalSpec(ctx, spec)
		outcomes = append(outcomes, Outcome{Spec: spec, Satisfied: ok, Reason: reason})
	}
	return outcomes
}

func (c *Context) evalSpec(ctx context.Context, spec Spec) (bool, string) {
	switch spec.Kind {
	case SpecKeyEquals:
		value, found := c.config.Get(spec.Key)
		if !found {
			return false, fmt.Sprintf("configuration key %q not set", spec.Key)
		}
		if !strings.EqualFold(value, spec.Expected) {
			return false, fmt.Sprintf("configuration key %q is %q, want %q", spec.Key, value, spec.Expected)
		}
		return true, ""
	case SpecPredicate:
		return c.invokePredicate(ctx, spec.Predicate)
	default:
		return false, fmt.Sprintf("unknown condition kind %q", spec.Kind)
	}
}

// invokePredicate runs a named predicate, converting panics and errors into
// an unsatisfied outcome.
func (c *Context) invokePredicate(ctx context.Context, name string) (ok bool, reason string) {
	p, exists := c.predicates[name]
	if !exists {
		return false, fmt.Sprintf("predicate %q not registered", name)
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			reason = fmt.Sprintf("predicate %q panicked: %v", name, r)
			c.logger.Error().
				Str("predicate", name).
				Interface("panic", r).
				Msg("Condition predicate panicked")
		}
	}()

	result, err := p(ctx, c)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("predicate", name).
			Msg("Condition predicate failed")
		return false, fmt.Sprintf("predicate %q failed: %v", name, err)
	}
	if !result {
		return false, fmt.Sprintf("predicate %q returned false", name)
	}
	return true, ""
}
