package conditions

import (
	"context"
	"strings"
)

// EnvironmentIs returns a predicate satisfied when the run environment
// matches any of the given names, ignoring case.
func EnvironmentIs(names ...string) Predicate {
	return func(_ context.Context, ec *Context) (bool, error) {
		for _, name := range names {
			if strings.EqualFold(ec.Environment(), name) {
				return true, nil
			}
		}
		return false, nil
	}
}

// FlagOn returns a predicate satisfied when the named feature flag is on.
func FlagOn(name string) Predicate {
	return func(_ context.Context, ec *Context) (bool, error) {
		return ec.FlagEnabled(name), nil
	}
}

// ConfigEquals returns a predicate satisfied when the configuration value
// for key equals expected, ignoring case.
func ConfigEquals(key, expected string) Predicate {
	return func(_ context.Context, ec *Context) (bool, error) {
		value, ok := ec.ConfigValue(key)
		if !ok {
			return false, nil
		}
		return strings.EqualFold(value, expected), nil
	}
}

// Not inverts a predicate. Errors pass through unchanged.
func Not(p Predicate) Predicate {
	return func(ctx context.Context, ec *Context) (bool, error) {
		ok, err := p(ctx, ec)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
}

// All combines predicates conjunctively, stopping at the first false or
// error result.
func All(ps ...Predicate) Predicate {
	return func(ctx context.Context, ec *Context) (bool, error) {
		for _, p := range ps {
			ok, err := p(ctx, ec)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// Any combines predicates disjunctively, stopping at the first true result.
// Errors short-circuit the combination.
func Any(ps ...Predicate) Predicate {
	return func(ctx context.Context, ec *Context) (bool, error) {
		for _, p := range ps {
			ok, err := p(ctx, ec)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}
