package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bindkit/bindkit/pkg/conditions"
)

// Descriptor sources recorded on convention-path descriptors.
const (
	SourceExplicit    = "explicit-marker"
	SourceConventions = "conventions"
	SourceSelfBinding = "self-binding"
)

// OrchestratorConfig wires the pipeline stages into an Orchestrator. Only
// the Introspector is required; every other collaborator is optional and
// its stage is skipped when absent.
type OrchestratorConfig struct {
	// Introspector extracts candidates from modules on cache misses.
	Introspector Introspector

	// Cache memoizes per-module scan results. Nil disables caching.
	Cache ScanCache

	// Resolver selects contracts for candidates without an explicit
	// contract marker. Nil limits resolution to explicit markers and
	// self-binding.
	Resolver ContractResolver

	// Plugins runs registered discovery plugins over the module set. Nil
	// skips plugin coordination.
	Plugins PluginRunner

	// Binder receives the final ordered descriptor set. Nil skips the
	// handoff, leaving consumption of the result to the caller.
	Binder Binder

	// Store persists run outcomes. Persistence failures degrade to a
	// warning diagnostic; they never fail the run.
	Store RunStore

	// Conditions is the evaluation context for activation conditions. Nil
	// selects an empty context, under which every key_equals and predicate
	// condition fails closed.
	Conditions *conditions.Context

	// ActiveProfile names the profile candidates may restrict themselves
	// to. A candidate with a non-empty profile is skipped unless it equals
	// the active profile, ignoring case.
	ActiveProfile string

	// TestContext marks the run as a test-context run, excluding
	// candidates flagged SkipInTests.
	TestContext bool

	// Logger receives orchestration diagnostics.
	Logger zerolog.Logger
}

// Orchestrator drives a discovery run end to end: scan cache, introspection,
// convention resolution, conditional gating, plugin coordination, merge, and
// binder handoff. It holds no per-run mutable state and is safe for
// concurrent runs over the same instance.
type Orchestrator struct {
	introspector  Introspector
	cache         ScanCache
	resolver      ContractResolver
	plugins       PluginRunner
	binder        Binder
	store         RunStore
	conditions    *conditions.Context
	activeProfile string
	testContext   bool
	logger        zerolog.Logger
}

// NewOrchestrator validates the configuration and builds an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Introspector == nil {
		return nil, NewPermanentError("orchestrator requires an introspector", nil).
			WithCode(ErrCodeValidation)
	}

	ec := cfg.Conditions
	if ec == nil {
		ec = conditions.NewContext(conditions.Config{Logger: cfg.Logger})
	}

	return &Orchestrator{
		introspector:  cfg.Introspector,
		cache:         cfg.Cache,
		resolver:      cfg.Resolver,
		plugins:       cfg.Plugins,
		binder:        cfg.Binder,
		store:         cfg.Store,
		conditions:    ec,
		activeProfile: cfg.ActiveProfile,
		testContext:   cfg.TestContext,
		logger:        cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// runIDKey carries a caller-supplied run identifier.
type runIDKey struct{}

// WithRunID pins the identifier the next Discover call stamps on its
// result, so callers can correlate the run with externally emitted
// telemetry. Without it each run gets a fresh UUID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// Discover runs the full pipeline over the module set. The run is
// best-effort: introspection failures, convention misses, and plugin
// failures are recorded as diagnostics on the result rather than aborting.
// A non-nil error is returned only for context cancellation or a rejected
// binder handoff; in the latter case the result is returned alongside the
// error.
func (o *Orchestrator) Discover(ctx context.Context, modules []Module) (*Result, error) {
	result := &Result{
		RunID:       runID(ctx),
		Environment: o.conditions.Environment(),
		ModuleCount: len(modules),
		StartedAt:   time.Now(),
	}

	o.logger.Info().
		Str("run_id", result.RunID).
		Str("environment", result.Environment).
		Int("modules", len(modules)).
		Msg("Discovery run started")

	var resolved []ComponentDescriptor
	for _, module := range modules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		descriptors, err := o.scanModule(ctx, module, result)
		if err != nil {
			o.addDiagnostic(result, Diagnostic{
				Severity:  SeverityError,
				Component: "introspection",
				Module:    module.Ref().Key(),
				Message:   err.Error(),
			})
			continue
		}
		resolved = append(resolved, descriptors...)
	}

	if o.plugins != nil {
		execution, err := o.plugins.Execute(ctx, modules, o.conditions)
		if err != nil {
			return nil, err
		}
		result.Plugins = execution
		for _, report := range execution.Reports {
			if report.Success {
				continue
			}
			message := report.Error
			if message == "" {
				message = fmt.Sprintf("validation rejected results: %s", strings.Join(report.Messages, "; "))
			}
			o.addDiagnostic(result, Diagnostic{
				Severity:  SeverityError,
				Component: "plugin:" + report.Name,
				Message:   message,
			})
		}
	}

	result.Descriptors = o.merge(ctx, resolved, result.Plugins, result)
	result.Duration = time.Since(result.StartedAt)

	if o.binder != nil {
		if err := o.binder.Bind(ctx, result.Descriptors); err != nil {
			o.addDiagnostic(result, Diagnostic{
				Severity:  SeverityError,
				Component: "binder",
				Message:   err.Error(),
			})
			o.saveRun(ctx, result)
			return result, err
		}
	}

	o.saveRun(ctx, result)

	o.logger.Info().
		Str("run_id", result.RunID).
		Int("descriptors", len(result.Descriptors)).
		Int("cache_hits", result.CacheHits).
		Int("cache_misses", result.CacheMisses).
		Bool("has_errors", result.HasErrors).
		Dur("duration", result.Duration).
		Msg("Discovery run completed")

	return result, nil
}

// scanModule returns the module's descriptors, from the cache when the
// entry is fresh and from a full introspect-resolve-gate pass otherwise.
func (o *Orchestrator) scanModule(ctx context.Context, module Module, result *Result) ([]ComponentDescriptor, error) {
	key := module.Ref().Key()

	if o.cache != nil {
		if descriptors, hit := o.cache.TryGet(module); hit {
			result.CacheHits++
			o.logger.Debug().Str("module", key).Msg("Module served from scan cache")
			return descriptors, nil
		}
		result.CacheMisses++
	}

	candidates, err := o.introspector.Introspect(ctx, module)
	if err != nil {
		return nil, err
	}

	descriptors := make([]ComponentDescriptor, 0, len(candidates))
	for _, candidate := range candidates {
		descriptor, included := o.resolveCandidate(ctx, candidate, result)
		if included {
			descriptors = append(descriptors, descriptor)
		}
	}

	if o.cache != nil {
		o.cache.Store(module, descriptors)
	}
	return descriptors, nil
}

// resolveCandidate gates and resolves one candidate. The returned flag
// reports whether the candidate made it into the module's descriptor set;
// exclusions are explained through run diagnostics.
func (o *Orchestrator) resolveCandidate(ctx context.Context, candidate Candidate, result *Result) (ComponentDescriptor, bool) {
	moduleKey := candidate.Module.Key()

	if candidate.Profile != "" && !strings.EqualFold(candidate.Profile, o.activeProfile) {
		o.addDiagnostic(result, Diagnostic{
			Severity:  SeverityInfo,
			Component: "gating",
			Module:    moduleKey,
			Message:   fmt.Sprintf("candidate %s requires profile %q, active profile is %q", candidate.Name, candidate.Profile, o.activeProfile),
		})
		return ComponentDescriptor{}, false
	}

	if o.testContext && candidate.SkipInTests {
		o.addDiagnostic(result, Diagnostic{
			Severity:  SeverityInfo,
			Component: "gating",
			Module:    moduleKey,
			Message:   fmt.Sprintf("candidate %s is skipped in test context", candidate.Name),
		})
		return ComponentDescriptor{}, false
	}

	if len(candidate.Conditions) > 0 && !o.conditions.Evaluate(ctx, candidate.Conditions) {
		o.addDiagnostic(result, Diagnostic{
			Severity:  SeverityInfo,
			Component: "conditions",
			Module:    moduleKey,
			Message:   fmt.Sprintf("candidate %s excluded: %s", candidate.Name, unsatisfiedReasons(o.conditions.Explain(ctx, candidate.Conditions))),
		})
		return ComponentDescriptor{}, false
	}

	contract, source, ok := o.selectContract(candidate, result)
	if !ok {
		return ComponentDescriptor{}, false
	}

	lifecycle := candidate.Lifecycle
	if lifecycle == "" {
		lifecycle = LifecycleSingleton
	}

	descriptor := ComponentDescriptor{
		Contract:       contract,
		Implementation: candidate.Implementation,
		Lifecycle:      lifecycle,
		Order:          candidate.Order,
		Profile:        candidate.Profile,
		SkipInTests:    candidate.SkipInTests,
		Conditions:     candidate.Conditions,
		Source:         source,
	}

	if err := descriptor.Validate(); err != nil {
		o.addDiagnostic(result, Diagnostic{
			Severity:  SeverityError,
			Component: "resolution",
			Module:    moduleKey,
			Message:   fmt.Sprintf("candidate %s produced an invalid descriptor: %v", candidate.Name, err),
		})
		return ComponentDescriptor{}, false
	}
	return descriptor, true
}

// selectContract picks the candidate's binding contract. An explicit marker
// wins without consulting conventions but must name a declared contract or
// the implementation itself; conventions decide otherwise, with self-binding
// as the last resort.
func (o *Orchestrator) selectContract(candidate Candidate, result *Result) (TypeRef, string, bool) {
	if !candidate.ExplicitContract.IsZero() {
		explicit := candidate.ExplicitContract
		if explicit != candidate.Implementation && !candidate.DeclaresContract(explicit) {
			o.addDiagnostic(result, Diagnostic{
				Severity:  SeverityError,
				Component: "resolution",
				Module:    candidate.Module.Key(),
				Message:   fmt.Sprintf("candidate %s pins contract %s it does not declare", candidate.Name, explicit),
			})
			return "", "", false
		}
		return explicit, SourceExplicit, true
	}

	if o.resolver != nil {
		if contract, matched := o.resolver.Resolve(candidate, candidate.Contracts); matched {
			return contract, SourceConventions, true
		}
	}

	return candidate.Implementation, SourceSelfBinding, true
}

// merge folds the plugin aggregate into the convention-resolved set. The
// convention set comes first, duplicates are dropped on binding identity
// with the first occurrence winning, and the final list is ordered by Order
// ascending. Plugin-contributed descriptors bypass candidate resolution, so
// their profile, test-context, and condition gates are applied here.
func (o *Orchestrator) merge(ctx context.Context, resolved []ComponentDescriptor, execution *PluginExecution, result *Result) []ComponentDescriptor {
	var fromPlugins []ComponentDescriptor
	if execution != nil {
		fromPlugins = execution.Aggregated
	}

	merged := make([]ComponentDescriptor, 0, len(resolved)+len(fromPlugins))
	seen := make(map[string]struct{}, len(resolved)+len(fromPlugins))
	for _, descriptor := range resolved {
		key := descriptor.BindingKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, descriptor)
	}
	for _, descriptor := range fromPlugins {
		key := descriptor.BindingKey()
		if _, dup := seen[key]; dup {
			continue
		}
		if !o.admitPluginDescriptor(ctx, descriptor, result) {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, descriptor)
	}

	SortDescriptors(merged)
	return merged
}

// admitPluginDescriptor applies the same gates to a plugin-contributed
// descriptor that candidates pass through during resolution.
func (o *Orchestrator) admitPluginDescriptor(ctx context.Context, descriptor ComponentDescriptor, result *Result) bool {
	key := descriptor.BindingKey()

	if descriptor.Profile != "" && !strings.EqualFold(descriptor.Profile, o.activeProfile) {
		o.addDiagnostic(result, Diagnostic{
			Severity:  SeverityInfo,
			Component: "gating",
			Message:   fmt.Sprintf("binding %s requires profile %q, active profile is %q", key, descriptor.Profile, o.activeProfile),
		})
		return false
	}

	if o.testContext && descriptor.SkipInTests {
		o.addDiagnostic(result, Diagnostic{
			Severity:  SeverityInfo,
			Component: "gating",
			Message:   fmt.Sprintf("binding %s is skipped in test context", key),
		})
		return false
	}

	if len(descriptor.Conditions) > 0 && !o.conditions.Evaluate(ctx, descriptor.Conditions) {
		o.addDiagnostic(result, Diagnostic{
			Severity:  SeverityInfo,
			Component: "conditions",
			Message:   fmt.Sprintf("binding %s excluded: %s", key, unsatisfiedReasons(o.conditions.Explain(ctx, descriptor.Conditions))),
		})
		return false
	}

	return true
}

// saveRun persists the run outcome when a store is configured. Failures are
// demoted to a warning diagnostic.
func (o *Orchestrator) saveRun(ctx context.Context, result *Result) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveRun(ctx, result); err != nil {
		o.logger.Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to persist run")
		o.addDiagnostic(result, Diagnostic{
			Severity:  SeverityWarning,
			Component: "store",
			Message:   fmt.Sprintf("run not persisted: %v", err),
		})
	}
}

func (o *Orchestrator) addDiagnostic(result *Result, diagnostic Diagnostic) {
	result.Diagnostics = append(result.Diagnostics, diagnostic)
	if diagnostic.Severity == SeverityError {
		result.HasErrors = true
	}
}

// unsatisfiedReasons renders the failing outcomes of a condition
// explanation for a diagnostic message.
func unsatisfiedReasons(outcomes []conditions.Outcome) string {
	reasons := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Satisfied {
			continue
		}
		reasons = append(reasons, outcome.Reason)
	}
	if len(reasons) == 0 {
		return "conditions not satisfied"
	}
	return strings.Join(reasons, "; ")
}
