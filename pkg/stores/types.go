package stores

import (
	"context"
	"time"
)

// RunRecord is one persisted discovery run.
type RunRecord struct {
	// ID is the run's unique identifier.
	ID string `json:"id"`

	// Environment is the environment the run evaluated conditions against.
	Environment string `json:"environment"`

	// ModuleCount is the number of modules the run scanned.
	ModuleCount int `json:"module_count"`

	// DescriptorCount is the size of the final descriptor set.
	DescriptorCount int `json:"descriptor_count"`

	// CacheHits counts modules served from the scan cache.
	CacheHits int `json:"cache_hits"`

	// CacheMisses counts modules that required a fresh scan.
	CacheMisses int `json:"cache_misses"`

	// HasErrors reports whether the run recorded error diagnostics.
	HasErrors bool `json:"has_errors"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// DurationMs is the run wall time in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

// PluginReportRecord is one plugin's persisted contribution to a run.
type PluginReportRecord struct {
	// ID is the record's database identifier.
	ID int64 `json:"id"`

	// RunID references the owning run.
	RunID string `json:"run_id"`

	// Name is the plugin name.
	Name string `json:"name"`

	// Priority is the plugin's execution priority.
	Priority int `json:"priority"`

	// Success reports whether the plugin discovered and validated cleanly.
	Success bool `json:"success"`

	// DescriptorCount is the number of descriptors the plugin produced.
	DescriptorCount int `json:"descriptor_count"`

	// Error is the plugin's failure message, empty on success.
	Error string `json:"error,omitempty"`

	// Messages are the plugin's validation messages, JSON-encoded in the
	// database.
	Messages []string `json:"messages,omitempty"`

	// ExecutionTimeMs is the plugin's wall time in milliseconds.
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// Store persists discovery run history.
type Store interface {
	// Init opens the backing database.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// Close releases the backing database.
	Close() error

	// GetRun returns one run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)

	// GetPluginReports returns a run's plugin reports in execution order.
	GetPluginReports(ctx context.Context, runID string) ([]*PluginReportRecord, error)

	// DeleteRun removes a run and its plugin reports.
	DeleteRun(ctx context.Context, id string) error
}
