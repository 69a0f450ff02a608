package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/bindkit/bindkit/pkg/telemetry"
)

// Example demonstrates initializing the full telemetry stack for a
// discovery run.
func Example() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Metrics.Enabled = false
	cfg.Events.EnableAsync = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		fmt.Println("init failed:", err)
		return
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx = telemetry.WithRunContext(ctx, "run-42", 3)
	// ... scan modules, execute plugins ...
	telemetry.EndRunContext(ctx, "run-42", 7, nil)
}

// ExampleLogger_WithModule shows per-module child loggers.
func ExampleLogger_WithModule() {
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		fmt.Println("init failed:", err)
		return
	}

	modLogger := logger.WithModule("billing").WithRunID("run-42")
	modLogger.Info("module scanned")
	// Output:
}

// ExampleEventPublisher_Subscribe shows synchronous event delivery with a
// type filter.
func ExampleEventPublisher_Subscribe() {
	ep, err := telemetry.NewEventPublisher(telemetry.EventsConfig{
		Enabled:    true,
		BufferSize: 16,
	})
	if err != nil {
		fmt.Println("init failed:", err)
		return
	}

	done := make(chan string, 1)
	ep.Subscribe(func(event telemetry.Event) {
		done <- event.Type
	}, telemetry.FilterByType(telemetry.EventTypePluginFailed))

	_ = ep.PublishPluginFailed("run-42", "manifest", "timeout after 5s")

	select {
	case typ := <-done:
		fmt.Println(typ)
	case <-time.After(time.Second):
		fmt.Println("no event")
	}
	// Output: plugin.failed
}
