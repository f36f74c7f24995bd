package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/autowire/internal/cli/ui"
	"github.com/conduit-lang/autowire/internal/tooling/build"
)

// NewGenerateCommand creates the generate command
func NewGenerateCommand(global *globalOptions) *cobra.Command {
	var (
		check           bool
		output          string
		pkg             string
		exclude         []string
		allowDuplicates bool
	)

	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"gen", "g"},
		Short:   "Generate the wiring file",
		Long: `Scan the module for annotated types and write the registration file.

The generated file declares:
  Register(c)   registers every class into c, dependencies first
  Bootstrap(c)  registers and resolves one instance of every class

A pass that finds a circular dependency, a duplicate class name or a class
the generated file cannot import fails without touching the previous file.

Examples:
  autowire generate
  autowire generate --output internal/wiring/wiring_gen.go
  autowire generate --check     # fail when the file is out of date (CI)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			opts := cfg.BuildOptions()
			if output != "" {
				opts.Output = output
			}
			if pkg != "" {
				opts.Package = pkg
			}
			opts.Exclude = append(opts.Exclude, exclude...)
			if cmd.Flags().Changed("allow-duplicates") {
				opts.AllowDuplicates = allowDuplicates
			}
			opts.Check = check

			sys, err := build.NewSystem(opts, logger)
			if err != nil {
				return err
			}

			result, err := sys.Generate(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			writeWarnings(cmd.ErrOrStderr(), result)
			writeSummary(out, sys, result)

			switch {
			case check:
				ui.WriteSuccess(out, "wiring is up to date", color.NoColor)
			case result.Unchanged:
				ui.WriteSuccess(out, "wiring unchanged", color.NoColor)
			default:
				ui.WriteSuccess(out, fmt.Sprintf("wrote %s", relTo(sys.Root(), result.OutputPath)), color.NoColor)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Report whether the wiring file is current without writing it")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Generated file, relative to the root")
	cmd.Flags().StringVar(&pkg, "package", "", "Package clause of the generated file (default: inferred)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Additional glob patterns to skip")
	cmd.Flags().BoolVar(&allowDuplicates, "allow-duplicates", false, "Keep the first class when two share a name")

	return cmd
}

// writeSummary prints the pass report
func writeSummary(w io.Writer, sys *build.System, result *build.Result) {
	kv := ui.NewKeyValueTable(w, color.NoColor)
	kv.Add("Output", relTo(sys.Root(), result.OutputPath))
	kv.Add("Classes", strconv.Itoa(len(result.Order)))
	kv.Add("Files", strconv.Itoa(result.Files))
	if len(result.Skipped) > 0 {
		kv.Add("Skipped", strconv.Itoa(len(result.Skipped)))
	}
	if len(result.Unknown) > 0 {
		kv.Add("Unknown", strconv.Itoa(len(result.Unknown)))
	}
	kv.Add("Duration", result.Duration.Round(time.Microsecond).String())
	kv.Render()
}

func writeWarnings(w io.Writer, result *build.Result) {
	for _, name := range result.Unknown {
		fmt.Fprint(w, ui.UnknownDependencyWarning(name, result.RequiredBy[name], result.Order, color.NoColor))
	}
	for _, m := range result.Mismatches {
		fmt.Fprint(w, ui.Warning(m.String()+"; Bootstrap will fail with a type mismatch", color.NoColor))
	}
}

func relTo(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
