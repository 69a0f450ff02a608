package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bindkit/bindkit/pkg/conditions"
	"github.com/bindkit/bindkit/pkg/discovery"
)

// Config configures a Coordinator.
type Config struct {
	// Parallelism bounds concurrent module scans within one plugin's
	// discovery step. Values below 2 select sequential scanning. Plugins
	// themselves always run sequentially.
	Parallelism int

	// PluginTimeout bounds one plugin's discovery and validation. Zero
	// means no deadline.
	PluginTimeout time.Duration

	// Logger receives coordination diagnostics.
	Logger zerolog.Logger
}

// pluginEntry is one registered plugin with its registration sequence for
// stable priority ties.
type pluginEntry struct {
	plugin Plugin
	seq    int
	active bool
}

// Coordinator runs registered plugins in priority order with per-plugin
// fault isolation: a failing or invalid plugin is recorded in the run
// report and excluded from the aggregate, and the run always continues to
// the next plugin. There is no fail-fast mode.
type Coordinator struct {
	logger        zerolog.Logger
	parallelism   int
	pluginTimeout time.Duration

	mu      sync.RWMutex
	plugins map[string]*pluginEntry
	nextSeq int

	totalRuns             atomic.Int64
	successfulRuns        atomic.Int64
	pluginsExecuted       atomic.Int64
	descriptorsDiscovered atomic.Int64
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	parallelism := cfg.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &Coordinator{
		logger:        cfg.Logger.With().Str("component", "plugin-coordinator").Logger(),
		parallelism:   parallelism,
		pluginTimeout: cfg.PluginTimeout,
		plugins:       make(map[string]*pluginEntry),
	}
}

// Register adds a plugin. A name collision with an already-registered
// plugin is a hard error and leaves the registry unchanged.
func (c *Coordinator) Register(plugin Plugin) error {
	name := plugin.Name()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.plugins[name]; exists {
		return discovery.NewConflictError(fmt.Sprintf("plugin %s already registered", name), nil).
			WithCode(discovery.ErrCodeAlreadyExists).
			WithPlugin(name)
	}

	c.plugins[name] = &pluginEntry{plugin: plugin, seq: c.nextSeq, active: true}
	c.nextSeq++

	c.logger.Info().
		Str("plugin", name).
		Int("priority", plugin.Priority()).
		Msg("Plugin registered")

	return nil
}

// Unregister removes a plugin by name and reports whether it was present.
func (c *Coordinator) Unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.plugins[name]; !exists {
		return false
	}
	delete(c.plugins, name)

	c.logger.Info().Str("plugin", name).Msg("Plugin unregistered")
	return true
}

// SetActive enables or disables a registered plugin without removing it.
// Disabled plugins are skipped by Execute. Returns false when the plugin is
// not registered.
func (c *Coordinator) SetActive(name string, active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.plugins[name]
	if !exists {
		return false
	}
	entry.active = active
	return true
}

// Plugins returns a snapshot of the registry in execution order.
func (c *Coordinator) Plugins() []discovery.PluginInfo {
	entries := c.executionOrder(false)

	infos := make([]discovery.PluginInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, discovery.PluginInfo{
			Name:           entry.plugin.Name(),
			Priority:       entry.plugin.Priority(),
			Implementation: fmt.Sprintf("%T", entry.plugin),
			Active:         entry.active,
		})
	}
	return infos
}

// Snapshot is a point-in-time copy of the coordinator's run counters.
type Snapshot struct {
	// RegisteredPlugins is the current registry size, disabled included.
	RegisteredPlugins int `json:"registered_plugins"`

	// TotalRuns counts Execute calls.
	TotalRuns int64 `json:"total_runs"`

	// SuccessfulRuns counts Execute calls with no plugin failures.
	SuccessfulRuns int64 `json:"successful_runs"`

	// PluginsExecuted counts plugin executions across all runs.
	PluginsExecuted int64 `json:"plugins_executed"`

	// DescriptorsDiscovered counts descriptors folded into aggregates
	// across all runs.
	DescriptorsDiscovered int64 `json:"descriptors_discovered"`
}

// Stats returns a snapshot of cumulative run counters.
func (c *Coordinator) Stats() Snapshot {
	c.mu.RLock()
	registered := len(c.plugins)
	c.mu.RUnlock()

	return Snapshot{
		RegisteredPlugins:     registered,
		TotalRuns:             c.totalRuns.Load(),
		SuccessfulRuns:        c.successfulRuns.Load(),
		PluginsExecuted:       c.pluginsExecuted.Load(),
		DescriptorsDiscovered: c.descriptorsDiscovered.Load(),
	}
}

// Execute runs all active plugins over the module set. It returns an error
// only when the context is cancelled; plugin failures are reported through
// the execution result.
//
// Implements discovery.PluginRunner.
func (c *Coordinator) Execute(ctx context.Context, modules []discovery.Module, ec *conditions.Context) (*discovery.PluginExecution, error) {
	entries := c.executionOrder(true)

	execution := &discovery.PluginExecution{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Reports:   make([]discovery.PluginReport, 0, len(entries)),
	}

	c.logger.Info().
		Str("run_id", execution.RunID).
		Int("plugins", len(entries)).
		Int("modules", len(modules)).
		Msg("Plugin coordination started")

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		report := c.runPlugin(ctx, entry.plugin, modules, execution.Aggregated, ec)
		c.pluginsExecuted.Add(1)

		if report.Success {
			execution.Aggregated = append(execution.Aggregated, report.Descriptors...)
			c.descriptorsDiscovered.Add(int64(len(report.Descriptors)))
		} else {
			execution.HasErrors = true
		}
		execution.Reports = append(execution.Reports, report)
	}

	discovery.SortDescriptors(execution.Aggregated)
	execution.Duration = time.Since(execution.StartedAt)

	c.totalRuns.Add(1)
	if !execution.HasErrors {
		c.successfulRuns.Add(1)
	}

	c.logger.Info().
		Str("run_id", execution.RunID).
		Int("descriptors", len(execution.Aggregated)).
		Bool("has_errors", execution.HasErrors).
		Dur("duration", execution.Duration).
		Msg("Plugin coordination completed")

	return execution, nil
}

// executionOrder snapshots the registry sorted by priority, ties by
// registration sequence. When activeOnly is set, disabled plugins are
// omitted.
func (c *Coordinator) executionOrder(activeOnly bool) []*pluginEntry {
	c.mu.RLock()
	entries := make([]*pluginEntry, 0, len(c.plugins))
	for _, entry := range c.plugins {
		if activeOnly && !entry.active {
			continue
		}
		entries = append(entries, entry)
	}
	c.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].plugin.Priority(), entries[j].plugin.Priority()
		if pi != pj {
			return pi < pj
		}
		return entries[i].seq < entries[j].seq
	})
	return entries
}

// runPlugin executes one plugin's discovery and validation with panics and
// errors confined to the plugin's own report.
func (c *Coordinator) runPlugin(ctx context.Context, plugin Plugin, modules []discovery.Module, aggregated []discovery.ComponentDescriptor, ec *conditions.Context) (report discovery.PluginReport) {
	start := time.Now()
	report = discovery.PluginReport{
		Name:     plugin.Name(),
		Priority: plugin.Priority(),
	}

	defer func() {
		if r := recover(); r != nil {
			report.Success = false
			report.Error = fmt.Sprintf("plugin panicked: %v", r)
			report.ExecutionTime = time.Since(start)
			c.logger.Error().
				Str("plugin", report.Name).
				Interface("panic", r).
				Msg("Plugin panicked")
		}
	}()

	pluginCtx := ctx
	if c.pluginTimeout > 0 {
		var cancel context.CancelFunc
		pluginCtx, cancel = context.WithTimeout(ctx, c.pluginTimeout)
		defer cancel()
	}

	relevant := make([]discovery.Module, 0, len(modules))
	for _, module := range modules {
		if plugin.AppliesTo(module) {
			relevant = append(relevant, module)
		}
	}

	descriptors, err := c.discoverModules(pluginCtx, plugin, relevant, ec)
	if err != nil {
		report.Success = false
		report.Error = err.Error()
		report.ExecutionTime = time.Since(start)
		c.logger.Warn().
			Err(err).
			Str("plugin", report.Name).
			Msg("Plugin discovery failed")
		return report
	}
	report.Descriptors = descriptors

	validation := plugin.Validate(pluginCtx, descriptors, aggregated, ec)
	report.Messages = validation.Messages
	report.ExecutionTime = time.Since(start)

	if !validation.Valid {
		report.Success = false
		c.logger.Warn().
			Str("plugin", report.Name).
			Strs("messages", validation.Messages).
			Msg("Plugin validation rejected results")
		return report
	}

	report.Success = true
	c.logger.Debug().
		Str("plugin", report.Name).
		Int("descriptors", len(descriptors)).
		Int("modules", len(relevant)).
		Dur("duration", report.ExecutionTime).
		Msg("Plugin completed")

	return report
}

// discoverModules runs the plugin's discovery over its relevant modules,
// optionally with a bounded worker pool. Results are concatenated in module
// order regardless of scan scheduling, so aggregation stays deterministic.
func (c *Coordinator) discoverModules(ctx context.Context, plugin Plugin, modules []discovery.Module, ec *conditions.Context) ([]discovery.ComponentDescriptor, error) {
	if len(modules) == 0 {
		return nil, nil
	}

	workerCount := c.parallelism
	if len(modules) < workerCount {
		workerCount = len(modules)
	}

	if workerCount < 2 {
		var all []discovery.ComponentDescriptor
		for _, module := range modules {
			descriptors, err := plugin.Discover(ctx, module, ec)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", module.Ref().Key(), err)
			}
			all = append(all, descriptors...)
		}
		return all, nil
	}

	workQueue := make(chan int, len(modules))
	for i := range modules {
		workQueue <- i
	}
	close(workQueue)

	perModule := make([][]discovery.ComponentDescriptor, len(modules))
	errChan := make(chan error, len(modules))

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errChan <- fmt.Errorf("plugin panicked: %v", r)
				}
			}()

			for i := range workQueue {
				descriptors, err := plugin.Discover(ctx, modules[i], ec)
				if err != nil {
					errChan <- fmt.Errorf("module %s: %w", modules[i].Ref().Key(), err)
					continue
				}
				perModule[i] = descriptors

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
	close(errChan)

	for err := range errChan {
		return nil, err
	}

	var all []discovery.ComponentDescriptor
	for _, descriptors := range perModule {
		all = append(all, descriptors...)
	}
	return all, nil
}
