package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the discovery pipeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated discovery run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// ModuleID is the associated module ID, if applicable.
	ModuleID string `json:"module_id,omitempty"`

	// PluginName is the associated plugin, if applicable.
	PluginName string `json:"plugin_name,omitempty"`

	// BindingKey is the associated descriptor binding key, if applicable.
	BindingKey string `json:"binding_key,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunFailed         = "run.failed"
	EventTypeCacheInvalidated  = "cache.invalidated"
	EventTypePluginFailed      = "plugin.failed"
	EventTypeConditionRejected = "condition.rejected"
	EventTypeDescriptorBound   = "descriptor.bound"
	EventTypeError             = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a discovery run started event.
func (ep *EventPublisher) PublishRunStarted(runID string, moduleCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Discovery run %s started over %d modules", runID, moduleCount),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"module_count": moduleCount,
		},
	})
}

// PublishRunCompleted publishes a discovery run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID string, descriptors int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Discovery run %s completed with %d descriptors", runID, descriptors),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"descriptors": descriptors,
			"duration":    duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a discovery run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunFailed,
		Source:  "orchestrator",
		RunID:   runID,
		Message: fmt.Sprintf("Discovery run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishCacheInvalidated publishes a scan cache invalidation event.
func (ep *EventPublisher) PublishCacheInvalidated(moduleID, cause string) error {
	return ep.Publish(Event{
		Type:     EventTypeCacheInvalidated,
		Source:   "scancache",
		ModuleID: moduleID,
		Message:  fmt.Sprintf("Cache entry for module %s invalidated: %s", moduleID, cause),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"cause": cause,
		},
	})
}

// PublishPluginFailed publishes a plugin failure event.
func (ep *EventPublisher) PublishPluginFailed(runID, pluginName, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypePluginFailed,
		Source:     "plugins",
		RunID:      runID,
		PluginName: pluginName,
		Message:    fmt.Sprintf("Plugin %s failed: %s", pluginName, reason),
		Level:      EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishConditionRejected publishes a condition gate rejection event. The
// detail carries the diagnostic message naming the rejected candidate or
// binding and its unsatisfied specs.
func (ep *EventPublisher) PublishConditionRejected(runID, moduleID, detail string) error {
	return ep.Publish(Event{
		Type:     EventTypeConditionRejected,
		Source:   "conditions",
		RunID:    runID,
		ModuleID: moduleID,
		Message:  detail,
		Level:    EventLevelInfo,
	})
}

// PublishDescriptorBound publishes a descriptor bound event.
func (ep *EventPublisher) PublishDescriptorBound(runID, bindingKey, lifecycle, source string) error {
	return ep.Publish(Event{
		Type:       EventTypeDescriptorBound,
		Source:     "container",
		RunID:      runID,
		BindingKey: bindingKey,
		Message:    fmt.Sprintf("Descriptor %s bound (%s, %s)", bindingKey, lifecycle, source),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"lifecycle": lifecycle,
			"source":    source,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}

// FilterByModuleID creates a filter that only allows events for a specific module.
func FilterByModuleID(moduleID string) EventFilter {
	return func(event Event) bool {
		return event.ModuleID == moduleID
	}
}
