package conditions

import (
	"os"
	"strings"
)

// ConfigAccessor resolves configuration keys to string values.
type ConfigAccessor interface {
	// Get returns the value for key and whether the key is present.
	Get(key string) (string, bool)
}

// FlagAccessor resolves feature flags by name.
type FlagAccessor interface {
	// Enabled reports whether the named flag is on. Unknown flags are off.
	Enabled(name string) bool
}

// ConfigSnapshotter is optionally implemented by accessors that can
// enumerate their entries. Policy and script predicates use the snapshot to
// build their evaluation input.
type ConfigSnapshotter interface {
	Snapshot() map[string]string
}

// FlagSnapshotter is the flag counterpart of ConfigSnapshotter.
type FlagSnapshotter interface {
	Snapshot() map[string]bool
}

// MapConfig is a ConfigAccessor backed by an in-memory map.
// Key lookup is case-insensitive.
type MapConfig map[string]string

// Get implements ConfigAccessor.
func (m MapConfig) Get(key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Snapshot implements ConfigSnapshotter.
func (m MapConfig) Snapshot() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EnvConfig is a ConfigAccessor backed by process environment variables.
// Keys are mapped to variable names by uppercasing, replacing every
// non-alphanumeric rune with an underscore, and prepending Prefix.
// "Flags:EnableWorker" with prefix "BINDKIT_" reads BINDKIT_FLAGS_ENABLEWORKER.
type EnvConfig struct {
	// Prefix is prepended to every mapped variable name.
	Prefix string
}

// Get implements ConfigAccessor.
func (e EnvConfig) Get(key string) (string, bool) {
	return os.LookupEnv(e.Prefix + mapEnvKey(key))
}

func mapEnvKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// MapFlags is a FlagAccessor backed by an in-memory map.
// Flag lookup is case-insensitive.
type MapFlags map[string]bool

// Enabled implements FlagAccessor.
func (m MapFlags) Enabled(name string) bool {
	if v, ok := m[name]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return false
}

// Snapshot implements FlagSnapshotter.
func (m MapFlags) Snapshot() map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ConfigFlags adapts a ConfigAccessor into a FlagAccessor. A flag is on when
// the configuration value under Prefix+name is "true" or "1", ignoring case.
type ConfigFlags struct {
	// Config is the backing accessor.
	Config ConfigAccessor

	// Prefix is prepended to the flag name before lookup, for example "Flags:".
	Prefix string
}

// Enabled implements FlagAccessor.
func (c ConfigFlags) Enabled(name string) bool {
	if c.Config == nil {
		return false
	}
	v, ok := c.Config.Get(c.Prefix + name)
	if !ok {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1"
}
