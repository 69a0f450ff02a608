package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bindkit/bindkit/pkg/conditions"
	"github.com/bindkit/bindkit/pkg/config"
	"github.com/bindkit/bindkit/pkg/container"
	"github.com/bindkit/bindkit/pkg/conventions"
	"github.com/bindkit/bindkit/pkg/discovery"
	"github.com/bindkit/bindkit/pkg/introspect"
	"github.com/bindkit/bindkit/pkg/plugins"
	"github.com/bindkit/bindkit/pkg/scancache"
	"github.com/bindkit/bindkit/pkg/stores"
	"github.com/bindkit/bindkit/pkg/telemetry"
)

func newDiscoverCommand() *cobra.Command {
	var (
		env           string
		profile       string
		flagOverrides []string
		parallel      int
		storePath     string
		metricsListen string
		noCache       bool
		testMode      bool
	)

	cmd := &cobra.Command{
		Use:   "discover [module-dir...]",
		Short: "Scan module directories and assemble the binding set",
		Long: `Scan one or more module directories for component descriptors.

Each subdirectory containing a module.yaml manifest is loaded as a module.
Candidates are gated by profile and activation conditions, contracts are
resolved through the convention chain, and registered plugins contribute
additional descriptors. The final set is ordered deterministically and
bound into the registry.`,
		Example: `  # Discover modules under ./modules
  bindkit discover ./modules

  # Discover with an explicit environment and a feature flag
  bindkit discover --env production --flag beta-payments=true ./modules

  # Persist the run and expose Prometheus metrics
  bindkit discover --store ./bindkit.db --metrics-listen :9090 ./modules`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			// Command-line overrides
			if env != "" {
				cfg.Environment = env
			}
			if profile != "" {
				cfg.ActiveProfile = profile
			}
			if parallel > 0 {
				cfg.Parallelism.ModuleWorkers = parallel
			}
			if storePath != "" {
				cfg.Store.Enabled = true
				cfg.Store.Path = storePath
			}
			if noCache {
				cfg.Cache.Enabled = false
			}

			dirs := args
			if len(dirs) == 0 {
				dirs = []string{"."}
			}

			// Telemetry
			tcfg := telemetry.DefaultConfig()
			tcfg.Metrics.Enabled = metricsListen != ""
			tcfg.Metrics.ListenAddress = metricsListen
			tel, err := telemetry.NewTelemetry(tcfg)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() { _ = tel.Shutdown(ctx) }()
			if err := tel.StartMetricsServer(); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}

			// Load modules
			loader := introspect.NewLoader("")
			var modules []discovery.Module
			for _, dir := range dirs {
				found, err := loader.ScanDirectory(dir)
				if err != nil {
					return fmt.Errorf("failed to scan %s: %w", dir, err)
				}
				for _, m := range found {
					modules = append(modules, m)
				}
			}
			log.Info().
				Int("modules", len(modules)).
				Strs("dirs", dirs).
				Str("environment", cfg.Environment).
				Msg("Modules loaded")

			// Introspection: manifest modules with WASM artifact routing
			wasmIntrospector := introspect.NewWASMIntrospector(ctx, introspect.DefaultWASMConfig(), logger)
			defer func() { _ = wasmIntrospector.Close(ctx) }()
			introspector := introspect.NewAutoIntrospector(
				introspect.NewManifestIntrospector(logger),
				wasmIntrospector,
			)

			// Scan cache, optionally watching artifacts for changes
			var cache *scancache.Cache
			if cfg.Cache.Enabled {
				cache = scancache.NewCache(logger)
				if cfg.Cache.Watch {
					watcher, err := scancache.NewWatcher(cache, logger)
					if err != nil {
						return fmt.Errorf("failed to create cache watcher: %w", err)
					}
					watcher.OnEvict = func(moduleKey, cause string) {
						_ = tel.Events.PublishCacheInvalidated(moduleKey, cause)
					}
					for _, m := range modules {
						if err := watcher.Track(m); err != nil {
							log.Warn().Err(err).Str("module", m.Ref().Key()).Msg("Failed to watch module artifact")
						}
					}
					watcher.Start(ctx)
				}
			}

			// Condition evaluation context
			ec, err := buildConditions(cmd, cfg, flagOverrides)
			if err != nil {
				return err
			}

			// Convention chain and plugin coordination
			resolver := conventions.NewResolver(conventions.DefaultConventions(), logger)
			coordinator := plugins.NewCoordinator(plugins.Config{
				Parallelism:   cfg.Parallelism.ModuleWorkers,
				PluginTimeout: cfg.Plugins.Timeout(),
				Logger:        logger,
			})
			if err := coordinator.Register(plugins.NewManifestPlugin()); err != nil {
				return fmt.Errorf("failed to register manifest plugin: %w", err)
			}
			for _, name := range cfg.Plugins.Disabled {
				coordinator.SetActive(name, false)
			}

			// Run-history store
			var store discovery.RunStore
			if cfg.Store.Enabled {
				sqlStore, err := openStore(ctx, cfg.Store.Path)
				if err != nil {
					return err
				}
				defer func() { _ = sqlStore.Close() }()
				store = sqlStore
			}

			registry := container.NewRegistry(logger)

			orchestrator, err := discovery.NewOrchestrator(discovery.OrchestratorConfig{
				Introspector:  introspector,
				Cache:         cacheOrNil(cache),
				Resolver:      resolver,
				Plugins:       coordinator,
				Binder:        registry,
				Store:         store,
				Conditions:    ec,
				ActiveProfile: cfg.ActiveProfile,
				TestContext:   testMode,
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			runID := uuid.New().String()
			runCtx := telemetry.WithRunContext(
				tel.WithContext(discovery.WithRunID(ctx, runID)), runID, len(modules))

			result, err := orchestrator.Discover(runCtx, modules)

			// Project pipeline counters for a post-run scrape
			if cache != nil {
				tel.Metrics.ObserveCacheStats(cache.Stats())
			}
			tel.Metrics.ObserveConventionStats(resolver.Stats())
			tel.Metrics.ObserveCoordinatorStats(coordinator.Stats())

			descriptors := 0
			if result != nil {
				recordRunTelemetry(tel, result)
				descriptors = len(result.Descriptors)
			}
			telemetry.EndRunContext(runCtx, runID, descriptors, err)

			if err != nil {
				var derr *discovery.Error
				if errors.As(err, &derr) {
					tel.Metrics.RecordError(string(derr.Class), derr.Code)
				}
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}
			printResult(result)

			if result.HasErrors {
				return fmt.Errorf("discovery completed with errors")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&env, "env", "", "environment name for condition evaluation")
	cmd.Flags().StringVar(&profile, "profile", "", "active profile candidates are gated against")
	cmd.Flags().StringSliceVar(&flagOverrides, "flag", nil, "feature flag override, name=true|false (repeatable)")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "bounded worker count for module scans")
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite path for run history persistence")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address for the Prometheus metrics endpoint")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the module scan cache")
	cmd.Flags().BoolVar(&testMode, "test", false, "evaluate candidates in a test context")

	return cmd
}

// recordRunTelemetry fans a finished run out to the metrics and event
// surfaces that are not fed from component snapshots.
func recordRunTelemetry(tel *telemetry.Telemetry, result *discovery.Result) {
	tel.Metrics.RecordModuleScans("cached", result.CacheHits)
	tel.Metrics.RecordModuleScans("scanned", result.CacheMisses)

	for _, descriptor := range result.Descriptors {
		tel.Metrics.RecordDescriptorBound(string(descriptor.Lifecycle), descriptor.Source)
		_ = tel.Events.PublishDescriptorBound(
			result.RunID, descriptor.BindingKey(), string(descriptor.Lifecycle), descriptor.Source)
	}

	if result.Plugins != nil {
		for _, report := range result.Plugins.Reports {
			status := "ok"
			if !report.Success {
				status = "error"
				_ = tel.Events.PublishPluginFailed(result.RunID, report.Name, report.Error)
			}
			tel.Metrics.RecordPluginRun(report.Name, status, report.ExecutionTime)
		}
	}

	satisfied := 0
	for _, descriptor := range result.Descriptors {
		if len(descriptor.Conditions) > 0 {
			satisfied++
		}
	}
	rejected := 0
	for _, diag := range result.Diagnostics {
		if diag.Component == "conditions" {
			rejected++
			_ = tel.Events.PublishConditionRejected(result.RunID, diag.Module, diag.Message)
		}
	}
	tel.Metrics.RecordConditionEvaluations("satisfied", satisfied)
	tel.Metrics.RecordConditionEvaluations("rejected", rejected)
}

// loadConfig merges the configured sources, falling back to defaults when no
// --config flag was given.
func loadConfig() (*config.Config, error) {
	parser := config.NewCUEParser()
	parsed, err := parser.Load(configPaths)
	if err != nil {
		return nil, err
	}
	for _, finding := range parsed.Errors {
		if finding.Severity == "error" {
			log.Error().Str("file", finding.File).Str("path", finding.Path).Msg(finding.Message)
		} else {
			log.Warn().Str("file", finding.File).Str("path", finding.Path).Msg(finding.Message)
		}
	}
	if parsed.HasErrors() {
		return nil, fmt.Errorf("configuration is invalid")
	}
	return parsed.Config, nil
}

// buildConditions assembles the condition evaluation context from config
// settings, feature flags, and compiled predicate sources.
func buildConditions(cmd *cobra.Command, cfg *config.Config, flagOverrides []string) (*conditions.Context, error) {
	ctx := cmd.Context()
	logger := log.Logger

	flags := make(conditions.MapFlags, len(cfg.Flags))
	for name, value := range cfg.Flags {
		flags[name] = strings.EqualFold(value, "true") || value == "1"
	}
	for _, override := range flagOverrides {
		name, value, found := strings.Cut(override, "=")
		if !found {
			flags[name] = true
			continue
		}
		flags[name] = strings.EqualFold(value, "true") || value == "1"
	}

	predicates := make(map[string]conditions.Predicate)
	if len(cfg.Conditions.PolicyPaths) > 0 {
		policies := conditions.NewPolicySet(logger, 0)
		if err := policies.LoadPaths(ctx, cfg.Conditions.PolicyPaths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		for name, pred := range policies.Predicates() {
			predicates[name] = pred
		}
	}
	if len(cfg.Conditions.ScriptPaths) > 0 {
		scripts := conditions.NewScriptEvaluator(0)
		loaded, err := scripts.LoadPaths(cfg.Conditions.ScriptPaths)
		if err != nil {
			return nil, fmt.Errorf("failed to load scripts: %w", err)
		}
		for name, pred := range loaded {
			predicates[name] = pred
		}
	}

	return conditions.NewContext(conditions.Config{
		Environment: cfg.Environment,
		Config:      conditions.MapConfig(cfg.Settings),
		Flags:       flags,
		Predicates:  predicates,
		Logger:      logger,
	}), nil
}

// openStore opens, initializes and migrates the run-history store.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// cacheOrNil keeps a nil *Cache from turning into a non-nil interface.
func cacheOrNil(cache *scancache.Cache) discovery.ScanCache {
	if cache == nil {
		return nil
	}
	return cache
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(result *discovery.Result) {
	fmt.Printf("Run %s (%s)\n", result.RunID, result.Environment)
	fmt.Printf("  modules: %d (cache hits %d, misses %d)\n",
		result.ModuleCount, result.CacheHits, result.CacheMisses)
	fmt.Printf("  descriptors: %d\n", len(result.Descriptors))
	for _, d := range result.Descriptors {
		fmt.Printf("    %-40s %-10s order=%d source=%s\n",
			d.BindingKey(), d.Lifecycle, d.Order, d.Source)
	}
	if len(result.Diagnostics) > 0 {
		fmt.Printf("  diagnostics:\n")
		for _, diag := range result.Diagnostics {
			fmt.Printf("    [%s] %s: %s\n", diag.Severity, diag.Component, diag.Message)
		}
	}
	fmt.Printf("  duration: %s\n", result.Duration)
}
