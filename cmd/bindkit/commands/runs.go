package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bindkit/bindkit/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted discovery runs",
		Long: `Inspect the discovery run history persisted by --store.

Each run records its module and descriptor counts, cache effectiveness,
and per-plugin contributions.`,
	}

	cmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite path of the run history store")

	cmd.AddCommand(newRunsListCommand(&storePath))
	cmd.AddCommand(newRunsShowCommand(&storePath))
	cmd.AddCommand(newRunsPruneCommand(&storePath))

	return cmd
}

// runsStorePath resolves the store path from the flag or the configuration.
func runsStorePath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if !cfg.Store.Enabled || cfg.Store.Path == "" {
		return "", fmt.Errorf("no run history store configured; pass --store or enable store in config")
	}
	return cfg.Store.Path, nil
}

func newRunsListCommand(storePath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := runsStorePath(*storePath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			fmt.Printf("%-36s %-14s %-8s %-12s %-12s %-8s %s\n",
				"RUN", "ENVIRONMENT", "MODULES", "DESCRIPTORS", "CACHE(H/M)", "ERRORS", "STARTED")
			for _, run := range runs {
				fmt.Printf("%-36s %-14s %-8d %-12d %-12s %-8t %s\n",
					run.ID, run.Environment, run.ModuleCount, run.DescriptorCount,
					fmt.Sprintf("%d/%d", run.CacheHits, run.CacheMisses),
					run.HasErrors, run.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func newRunsShowCommand(storePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its plugin reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := runsStorePath(*storePath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			reports, err := store.GetPluginReports(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(struct {
					Run     *stores.RunRecord            `json:"run"`
					Reports []*stores.PluginReportRecord `json:"reports"`
				}{run, reports})
			}

			fmt.Printf("Run %s (%s)\n", run.ID, run.Environment)
			fmt.Printf("  started:     %s\n", run.StartedAt.Format(time.RFC3339))
			fmt.Printf("  duration:    %dms\n", run.DurationMs)
			fmt.Printf("  modules:     %d (cache hits %d, misses %d)\n",
				run.ModuleCount, run.CacheHits, run.CacheMisses)
			fmt.Printf("  descriptors: %d\n", run.DescriptorCount)
			fmt.Printf("  errors:      %t\n", run.HasErrors)
			if len(reports) > 0 {
				fmt.Printf("  plugins:\n")
				for _, report := range reports {
					status := "ok"
					if !report.Success {
						status = "failed"
					}
					fmt.Printf("    %-20s %-8s descriptors=%-4d %dms\n",
						report.Name, status, report.DescriptorCount, report.ExecutionTimeMs)
					if report.Error != "" {
						fmt.Printf("      error: %s\n", report.Error)
					}
				}
			}
			return nil
		},
	}
}

func newRunsPruneCommand(storePath *string) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := runsStorePath(*storePath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			deleted, err := store.PruneRuns(cmd.Context(), keep)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d run(s), kept newest %d\n", deleted, keep)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "number of newest runs to keep")

	return cmd
}
