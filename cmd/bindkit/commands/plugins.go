package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bindkit/bindkit/pkg/conditions"
	"github.com/bindkit/bindkit/pkg/discovery"
	"github.com/bindkit/bindkit/pkg/introspect"
	"github.com/bindkit/bindkit/pkg/plugins"
)

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect discovery plugins",
		Long: `Inspect the discovery plugins known to this binary.

Plugins contribute component descriptors during discovery. They run in
ascending priority order, each one fault-isolated: a failing plugin is
reported in the run diagnostics without affecting the others.`,
	}

	cmd.AddCommand(newPluginsListCommand())
	cmd.AddCommand(newPluginsRunCommand())

	return cmd
}

func newPluginsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			coordinator, err := builtinCoordinator(cfg.Plugins.Disabled)
			if err != nil {
				return err
			}

			infos := coordinator.Plugins()
			if jsonOutput {
				return printJSON(infos)
			}

			fmt.Printf("%-20s %-10s %-8s %s\n", "NAME", "PRIORITY", "ACTIVE", "IMPLEMENTATION")
			for _, info := range infos {
				fmt.Printf("%-20s %-10d %-8t %s\n", info.Name, info.Priority, info.Active, info.Implementation)
			}
			return nil
		},
	}
}

func newPluginsRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [module-dir...]",
		Short: "Run plugins over modules without binding",
		Long: `Run the registered plugins over the given module directories and
report each plugin's contribution. Nothing is bound; the command exists to
debug a plugin chain in isolation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			coordinator, err := builtinCoordinator(cfg.Plugins.Disabled)
			if err != nil {
				return err
			}

			dirs := args
			if len(dirs) == 0 {
				dirs = []string{"."}
			}
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

			ec := conditions.NewContext(conditions.Config{
				Environment: cfg.Environment,
				Config:      conditions.MapConfig(cfg.Settings),
				Logger:      log.Logger,
			})

			execution, err := coordinator.Execute(cmd.Context(), modules, ec)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(execution)
			}

			for _, report := range execution.Reports {
				status := "ok"
				if !report.Success {
					status = "failed"
				}
				fmt.Printf("%-20s %-8s descriptors=%-4d duration=%s\n",
					report.Name, status, len(report.Descriptors), report.ExecutionTime)
				if report.Error != "" {
					fmt.Printf("  error: %s\n", report.Error)
				}
				for _, msg := range report.Messages {
					fmt.Printf("  %s\n", msg)
				}
			}
			fmt.Printf("total descriptors: %d\n", len(execution.Aggregated))
			return nil
		},
	}
}

// builtinCoordinator builds a coordinator with the built-in plugin set, with
// the named plugins deactivated.
func builtinCoordinator(disabled []string) (*plugins.Coordinator, error) {
	coordinator := plugins.NewCoordinator(plugins.Config{Logger: log.Logger})
	if err := coordinator.Register(plugins.NewManifestPlugin()); err != nil {
		return nil, err
	}
	for _, name := range disabled {
		coordinator.SetActive(name, false)
	}
	return coordinator, nil
}
