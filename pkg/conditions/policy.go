package conditions

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// defaultPolicyTimeout bounds a single policy evaluation.
const defaultPolicyTimeout = 5 * time.Second

// PolicySet compiles Rego policies into named condition predicates. Each
// policy contributes one predicate named "policy:<name>" that is satisfied
// when the policy's "allow" rule evaluates to true for the run context.
//
// The evaluation input document has the shape:
//
//	{
//	    "environment": "production",
//	    "config":      {"Flags:EnableWorker": "true"},
//	    "flags":       {"beta": true}
//	}
//
// Config and flag entries are present only when the context's accessors
// support enumeration.
type PolicySet struct {
	mu       sync.RWMutex
	policies map[string]*preparedPolicy
	logger   zerolog.Logger
	timeout  time.Duration
}

// preparedPolicy is a compiled Rego module ready for repeated evaluation.
type preparedPolicy struct {
	name       string
	query      rego.PreparedEvalQuery
	compiledAt time.Time
}

// NewPolicySet creates an empty policy set. A zero evalTimeout selects the
// default of 5 seconds.
func NewPolicySet(logger zerolog.Logger, evalTimeout time.Duration) *PolicySet {
	if evalTimeout == 0 {
		evalTimeout = defaultPolicyTimeout
	}
	return &PolicySet{
		policies: make(map[string]*preparedPolicy),
		logger:   logger.With().Str("component", "condition-policies").Logger(),
		timeout:  evalTimeout,
	}
}

// CompileSource compiles a Rego module and registers it under name. The
// module's package determines the query; "allow" within that package is the
// rule consulted by the predicate.
func (ps *PolicySet) CompileSource(ctx context.Context, name, source string) error {
	module, err := ast.ParseModule(name, source)
	if err != nil {
		return fmt.Errorf("failed to parse policy %s: %w", name, err)
	}

	query := fmt.Sprintf("%s.allow", module.Package.Path.String())

	r := rego.New(
		rego.Module(name, source),
		rego.Query(query),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare policy %s: %w", name, err)
	}

	ps.mu.Lock()
	ps.policies[name] = &preparedPolicy{
		name:       name,
		query:      prepared,
		compiledAt: time.Now(),
	}
	ps.mu.Unlock()

	ps.logger.Debug().
		Str("policy", name).
		Str("query", query).
		Msg("Policy compiled successfully")

	return nil
}

// LoadPaths compiles every .rego file found at the given paths. Directories
// are walked recursively. The predicate name of each policy is the file base
// name without extension.
func (ps *PolicySet) LoadPaths(ctx context.Context, paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat policy path %s: %w", path, err)
		}

		if !info.IsDir() {
			if err := ps.loadFile(ctx, path); err != nil {
				return err
			}
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !strings.HasSuffix(p, ".rego") {
				return nil
			}
			return ps.loadFile(ctx, p)
		})
		if err != nil {
			return fmt.Errorf("failed to walk policy directory %s: %w", path, err)
		}
	}

	ps.mu.RLock()
	count := len(ps.policies)
	ps.mu.RUnlock()
	ps.logger.Info().
		Int("count", count).
		Msg("Condition policies loaded")

	return nil
}

func (ps *PolicySet) loadFile(ctx context.Context, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ps.CompileSource(ctx, name, string(source))
}

// Names returns the names of all compiled policies.
func (ps *PolicySet) Names() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	names := make([]string, 0, len(ps.policies))
	for name := range ps.policies {
		names = append(names, name)
	}
	return names
}

// Predicates returns one predicate per compiled policy, keyed
// "policy:<name>". The returned map is meant to be merged into
// Config.Predicates before building the run context.
func (ps *PolicySet) Predicates() map[string]Predicate {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	predicates := make(map[string]Predicate, len(ps.policies))
	for name, prepared := range ps.policies {
		predicates["policy:"+name] = ps.predicateFor(prepared)
	}
	return predicates
}

func (ps *PolicySet) predicateFor(prepared *preparedPolicy) Predicate {
	return func(ctx context.Context, ec *Context) (bool, error) {
		evalCtx, cancel := context.WithTimeout(ctx, ps.timeout)
		defer cancel()

		results, err := prepared.query.Eval(evalCtx, rego.EvalInput(buildPolicyInput(ec)))
		if err != nil {
			return false, fmt.Errorf("policy %s evaluation error: %w", prepared.name, err)
		}

		// An undefined allow rule means the policy does not permit activation.
		if len(results) == 0 || len(results[0].Expressions) == 0 {
			return false, nil
		}
		allowed, ok := results[0].Expressions[0].Value.(bool)
		if !ok {
			return false, fmt.Errorf("policy %s allow rule returned %T, want bool", prepared.name, results[0].Expressions[0].Value)
		}
		return allowed, nil
	}
}

// buildPolicyInput assembles the input document for policy evaluation.
func buildPolicyInput(ec *Context) map[string]interface{} {
	input := map[string]interface{}{
		"environment": ec.Environment(),
		"config":      map[string]string{},
		"flags":       map[string]bool{},
	}
	if snapshot, ok := ec.ConfigSnapshot(); ok {
		input["config"] = snapshot
	}
	if snapshot, ok := ec.FlagSnapshot(); ok {
		input["flags"] = snapshot
	}
	return input
}
