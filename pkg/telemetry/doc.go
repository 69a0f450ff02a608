// Package telemetry provides observability instrumentation for the discovery
// pipeline.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing into a unified
// system for monitoring discovery runs.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx = tel.WithContext(ctx)
//
// # Pipeline counters
//
// The scan cache, convention resolver and plugin coordinator keep their own
// cumulative counters. ObservePipeline projects their snapshots onto the
// Prometheus registry:
//
//	tel.ObservePipeline(cache.Stats(), resolver.Stats(), coordinator.Stats())
//
// # Run instrumentation
//
// WithRunContext and EndRunContext wrap a discovery run with a span, a
// field-enriched logger, run metrics and published events.
package telemetry
