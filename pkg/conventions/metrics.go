package conventions

import (
	"sync"
	"sync/atomic"
	"time"
)

// metrics holds one convention's live counters. Counts are atomic; the
// duration accumulator is a compound value guarded by its own small mutex,
// never a resolver-wide lock.
type metrics struct {
	consultations atomic.Int64
	invocations   atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64

	mu            sync.Mutex
	totalDuration time.Duration
}

func (m *metrics) addDuration(d time.Duration) {
	m.mu.Lock()
	m.totalDuration += d
	m.mu.Unlock()
}

func (m *metrics) duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalDuration
}

// MetricsSnapshot is a point-in-time copy of one convention's counters.
type MetricsSnapshot struct {
	// Name is the convention name.
	Name string `json:"name"`

	// Priority is the convention's position weight in the chain.
	Priority int `json:"priority"`

	// Consultations counts how often the chain reached this convention,
	// including candidates its pre-filter rejected.
	Consultations int64 `json:"consultations"`

	// Invocations counts actual Resolve calls, i.e. consultations that
	// passed the pre-filter.
	Invocations int64 `json:"invocations"`

	// Successes counts matched outcomes.
	Successes int64 `json:"successes"`

	// Failures counts errored outcomes, kept separate from clean misses.
	Failures int64 `json:"failures"`

	// TotalExecutionTime is the accumulated Resolve wall time.
	TotalExecutionTime time.Duration `json:"total_execution_time"`

	// SuccessRate is Successes over Consultations, 0 when never consulted.
	SuccessRate float64 `json:"success_rate"`

	// AvgExecutionTimeMs is the mean Resolve wall time in milliseconds,
	// 0 when never invoked.
	AvgExecutionTimeMs float64 `json:"avg_execution_time_ms"`
}

// StatsSnapshot is a point-in-time copy of the whole resolver's statistics.
type StatsSnapshot struct {
	// Conventions lists per-convention snapshots in chain order.
	Conventions []MetricsSnapshot `json:"conventions"`

	// TotalConsultations sums consultations across the chain.
	TotalConsultations int64 `json:"total_consultations"`

	// TotalSuccesses sums matched outcomes across the chain.
	TotalSuccesses int64 `json:"total_successes"`

	// TotalExecutionTime sums Resolve wall time across the chain.
	TotalExecutionTime time.Duration `json:"total_execution_time"`

	// MostSuccessful names the convention with the most matches, empty when
	// nothing has matched yet.
	MostSuccessful string `json:"most_successful,omitempty"`

	// CachedResolutions is the number of entries in the resolution cache,
	// negative outcomes included.
	CachedResolutions int `json:"cached_resolutions"`
}

func (m *metrics) snapshot(name string, priority int) MetricsSnapshot {
	consultations := m.consultations.Load()
	invocations := m.invocations.Load()
	successes := m.successes.Load()
	total := m.duration()

	rate := 0.0
	if consultations > 0 {
		rate = float64(successes) / float64(consultations)
	}
	avgMs := 0.0
	if invocations > 0 {
		avgMs = float64(total.Microseconds()) / 1000.0 / float64(invocations)
	}

	return MetricsSnapshot{
		Name:               name,
		Priority:           priority,
		Consultations:      consultations,
		Invocations:        invocations,
		Successes:          successes,
		Failures:           m.failures.Load(),
		TotalExecutionTime: total,
		SuccessRate:        rate,
		AvgExecutionTimeMs: avgMs,
	}
}
