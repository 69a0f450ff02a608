package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bindkit/bindkit/pkg/conventions"
	"github.com/bindkit/bindkit/pkg/plugins"
	"github.com/bindkit/bindkit/pkg/scancache"
)

// Metrics provides Prometheus metrics for the discovery pipeline.
type Metrics struct {
	config MetricsConfig

	// Discovery run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Module scan metrics
	modulesScanned *prometheus.CounterVec

	// Scan cache metrics
	cacheRequests    prometheus.Gauge
	cacheHits        prometheus.Gauge
	cacheMisses      prometheus.Gauge
	cacheEntries     prometheus.Gauge
	cacheDescriptors prometheus.Gauge

	// Convention metrics
	conventionConsultations *prometheus.GaugeVec
	conventionMatches       *prometheus.GaugeVec

	// Plugin metrics
	pluginRuns            *prometheus.CounterVec
	pluginDuration        *prometheus.HistogramVec
	registeredPlugins     prometheus.Gauge
	descriptorsDiscovered prometheus.Gauge

	// Condition metrics
	conditionsEvaluated *prometheus.CounterVec

	// Binding metrics
	descriptorsBound *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_runs_started_total",
				Help:      "Total number of discovery runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discovery_runs_completed_total",
				Help:      "Total number of discovery runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "discovery_run_duration_seconds",
				Help:      "Duration of discovery runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		modulesScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "modules_scanned_total",
				Help:      "Total number of module scans by outcome",
			},
			[]string{"outcome"},
		),

		cacheRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scan_cache_requests",
				Help:      "Scan cache lookups since the last clear",
			},
		),
		cacheHits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scan_cache_hits",
				Help:      "Scan cache lookups served without re-scanning",
			},
		),
		cacheMisses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scan_cache_misses",
				Help:      "Scan cache lookups that required a fresh scan",
			},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scan_cache_entries",
				Help:      "Modules currently held in the scan cache",
			},
		),
		cacheDescriptors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scan_cache_descriptors",
				Help:      "Descriptors across all scan cache entries",
			},
		),

		conventionConsultations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "convention_consultations",
				Help:      "Times each convention was consulted",
			},
			[]string{"convention"},
		),
		conventionMatches: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "convention_matches",
				Help:      "Times each convention produced a contract",
			},
			[]string{"convention"},
		),
		pluginRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_runs_total",
				Help:      "Total number of plugin executions",
			},
			[]string{"plugin", "status"},
		),
		pluginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_duration_seconds",
				Help:      "Duration of plugin executions in seconds",
				Buckets:   buckets,
			},
			[]string{"plugin"},
		),
		registeredPlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_plugins",
				Help:      "Plugins currently registered with the coordinator",
			},
		),
		descriptorsDiscovered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plugin_descriptors_discovered",
				Help:      "Descriptors contributed by plugins across all runs",
			},
		),

		conditionsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conditions_evaluated_total",
				Help:      "Total number of candidate condition evaluations",
			},
			[]string{"outcome"},
		),

		descriptorsBound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "descriptors_bound_total",
				Help:      "Total number of descriptors bound into the registry",
			},
			[]string{"lifecycle", "source"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.modulesScanned,
		m.cacheRequests,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEntries,
		m.cacheDescriptors,
		m.conventionConsultations,
		m.conventionMatches,
		m.pluginRuns,
		m.pluginDuration,
		m.registeredPlugins,
		m.descriptorsDiscovered,
		m.conditionsEvaluated,
		m.descriptorsBound,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Discovery Run Metrics

// RecordRunStarted increments the counter for started discovery runs.
func (m *Metrics) RecordRunStarted() {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
}

// RecordRunCompleted records a completed discovery run with its status and
// duration. Status is "ok" or "error".
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Module Scan Metrics

// RecordModuleScans adds module scan outcomes: "cached", "scanned" or
// "failed".
func (m *Metrics) RecordModuleScans(outcome string, count int) {
	if m.modulesScanned == nil || count <= 0 {
		return
	}
	m.modulesScanned.WithLabelValues(outcome).Add(float64(count))
}

// Snapshot Feeders
//
// The cache, resolver and coordinator keep their own counters; these methods
// project their snapshots onto the Prometheus registry so a scrape after a
// run sees the pipeline's cumulative state.

// ObserveCacheStats publishes a scan cache snapshot.
func (m *Metrics) ObserveCacheStats(s scancache.Snapshot) {
	if m.cacheRequests == nil {
		return
	}
	m.cacheRequests.Set(float64(s.TotalRequests))
	m.cacheHits.Set(float64(s.Hits))
	m.cacheMisses.Set(float64(s.Misses))
	m.cacheEntries.Set(float64(s.Entries))
	m.cacheDescriptors.Set(float64(s.TotalDescriptors))
}

// ObserveConventionStats publishes a convention resolver snapshot.
func (m *Metrics) ObserveConventionStats(s conventions.StatsSnapshot) {
	if m.conventionConsultations == nil {
		return
	}
	for _, c := range s.Conventions {
		m.conventionConsultations.WithLabelValues(c.Name).Set(float64(c.Consultations))
		m.conventionMatches.WithLabelValues(c.Name).Set(float64(c.Successes))
	}
}

// ObserveCoordinatorStats publishes a plugin coordinator snapshot.
func (m *Metrics) ObserveCoordinatorStats(s plugins.Snapshot) {
	if m.registeredPlugins == nil {
		return
	}
	m.registeredPlugins.Set(float64(s.RegisteredPlugins))
	m.descriptorsDiscovered.Set(float64(s.DescriptorsDiscovered))
}

// Plugin Metrics

// RecordPluginRun records a single plugin execution.
func (m *Metrics) RecordPluginRun(plugin, status string, duration time.Duration) {
	if m.pluginRuns == nil {
		return
	}
	m.pluginRuns.WithLabelValues(plugin, status).Inc()
	m.pluginDuration.WithLabelValues(plugin).Observe(duration.Seconds())
}

// Condition Metrics

// RecordConditionEvaluations adds gate decisions for the given outcome,
// "satisfied" or "rejected".
func (m *Metrics) RecordConditionEvaluations(outcome string, count int) {
	if m.conditionsEvaluated == nil || count <= 0 {
		return
	}
	m.conditionsEvaluated.WithLabelValues(outcome).Add(float64(count))
}

// Binding Metrics

// RecordDescriptorBound records a descriptor accepted by the binder.
func (m *Metrics) RecordDescriptorBound(lifecycle, source string) {
	if m.descriptorsBound == nil {
		return
	}
	m.descriptorsBound.WithLabelValues(lifecycle, source).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
