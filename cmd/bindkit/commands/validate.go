package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bindkit/bindkit/pkg/config"
	"github.com/bindkit/bindkit/pkg/introspect"
)

func newValidateCommand() *cobra.Command {
	var manifests bool

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate configuration files and module manifests",
		Long: `Validate bindkit configuration files against the built-in schemas.

Configuration sources may be YAML or CUE; they are unified in argument
order and checked for schema conformance, structural constraints, and
cross-field consistency. With --manifests the paths are treated as module
directories and every module.yaml found is validated instead.`,
		Example: `  # Validate a config file
  bindkit validate ./bindkit.yaml

  # Validate the sources named by --config
  bindkit -c base.yaml -c prod.cue validate

  # Validate module manifests under ./modules
  bindkit validate --manifests ./modules`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifests {
				return validateManifests(args)
			}

			sources := args
			if len(sources) == 0 {
				sources = configPaths
			}
			if len(sources) == 0 {
				return fmt.Errorf("no configuration sources given")
			}

			parser := config.NewCUEParser()
			parsed, err := parser.Load(sources)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(parsed)
			}

			for _, finding := range parsed.Errors {
				location := finding.File
				if finding.Line > 0 {
					location = fmt.Sprintf("%s:%d:%d", finding.File, finding.Line, finding.Column)
				}
				fmt.Printf("[%s] %s %s: %s\n", finding.Severity, location, finding.Path, finding.Message)
			}

			if parsed.HasErrors() {
				return fmt.Errorf("configuration is invalid")
			}
			fmt.Printf("OK: %d source(s) valid\n", len(parsed.SourceFiles))
			return nil
		},
	}

	cmd.Flags().BoolVar(&manifests, "manifests", false, "validate module manifests instead of configuration")

	return cmd
}

func validateManifests(dirs []string) error {
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	loader := introspect.NewLoader("")
	var failures int
	var total int
	for _, dir := range dirs {
		modules, err := loader.ScanDirectory(dir)
		if err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("Manifest scan failed")
			failures++
			continue
		}
		for _, m := range modules {
			total++
			if m.Manifest().Checksum != "" {
				if err := m.VerifyChecksum(); err != nil {
					fmt.Printf("[error] %s: %v\n", m.Ref().Key(), err)
					failures++
					continue
				}
			}
			fmt.Printf("[ok] %s (%d candidates)\n", m.Ref().Key(), len(m.Candidates()))
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d manifests failed validation", failures, total)
	}
	fmt.Printf("OK: %d manifest(s) valid\n", total)
	return nil
}
