package conditions

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.starlark.net/starlark"
)

// defaultScriptTimeout bounds a single script evaluation.
const defaultScriptTimeout = 5 * time.Second

// ScriptEvaluator turns Starlark expressions into condition predicates.
// Expressions see three names: the string "environment", the function
// "config(key)" returning the configuration value or None, and the function
// "flag(name)" returning a bool. Standard Starlark truthiness decides the
// outcome.
type ScriptEvaluator struct {
	timeout time.Duration
}

// NewScriptEvaluator creates a script evaluator. A zero timeout selects the
// default of 5 seconds.
func NewScriptEvaluator(timeout time.Duration) *ScriptEvaluator {
	if timeout == 0 {
		timeout = defaultScriptTimeout
	}
	return &ScriptEvaluator{timeout: timeout}
}

// Predicate wraps a single Starlark expression as a predicate. Compilation
// happens on every call; the expression source is the unit of reuse.
func (se *ScriptEvaluator) Predicate(name, expr string) Predicate {
	return func(ctx context.Context, ec *Context) (bool, error) {
		evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
		defer cancel()

		thread := &starlark.Thread{
			Name: name,
			Print: func(_ *starlark.Thread, _ string) {
				// Suppress print output from condition scripts.
			},
		}

		resultCh := make(chan starlark.Value, 1)
		errCh := make(chan error, 1)

		go func() {
			value, err := starlark.Eval(thread, name+".star", expr, buildScriptEnv(ec))
			if err != nil {
				errCh <- err
				return
			}
			resultCh <- value
		}()

		select {
		case <-evalCtx.Done():
			thread.Cancel("timeout")
			return false, fmt.Errorf("script %s timed out after %v", name, se.timeout)
		case err := <-errCh:
			return false, fmt.Errorf("script %s failed: %w", name, err)
		case value := <-resultCh:
			return bool(value.Truth()), nil
		}
	}
}

// LoadPaths reads every .star file at the given paths and returns one
// predicate per file, keyed "script:<basename>". Directories are walked
// recursively. The file content is a single Starlark expression.
func (se *ScriptEvaluator) LoadPaths(paths []string) (map[string]Predicate, error) {
	predicates := make(map[string]Predicate)

	load := func(path string) error {
		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read script file %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		predicates["script:"+name] = se.Predicate(name, strings.TrimSpace(string(source)))
		return nil
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat script path %s: %w", path, err)
		}

		if !info.IsDir() {
			if err := load(path); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || !strings.HasSuffix(p, ".star") {
				return nil
			}
			return load(p)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk script directory %s: %w", path, err)
		}
	}

	return predicates, nil
}

// buildScriptEnv assembles the predeclared environment for expression
// evaluation.
func buildScriptEnv(ec *Context) starlark.StringDict {
	configFn := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
			return nil, err
		}
		value, ok := ec.ConfigValue(key)
		if !ok {
			return starlark.None, nil
		}
		return starlark.String(value), nil
	}

	flagFn := func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		return starlark.Bool(ec.FlagEnabled(name)), nil
	}

	return starlark.StringDict{
		"environment": starlark.String(ec.Environment()),
		"config":      starlark.NewBuiltin("config", configFn),
		"flag":        starlark.NewBuiltin("flag", flagFn),
	}
}
