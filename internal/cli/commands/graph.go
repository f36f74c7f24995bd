package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/autowire/internal/cli/ui"
	"github.com/conduit-lang/autowire/internal/compiler/graph"
	"github.com/conduit-lang/autowire/internal/tooling/build"
)

// graphReport is the machine-readable form of an analysis
type graphReport struct {
	Order   []string        `json:"order" yaml:"order"`
	Classes []classReport   `json:"classes" yaml:"classes"`
	Unknown []unknownReport `json:"unknown,omitempty" yaml:"unknown,omitempty"`
}

type classReport struct {
	Name         string   `json:"name" yaml:"name"`
	Kind         string   `json:"kind" yaml:"kind"`
	Origin       string   `json:"origin" yaml:"origin"`
	Constructor  string   `json:"constructor,omitempty" yaml:"constructor,omitempty"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	Guards       []string `json:"guards,omitempty" yaml:"guards,omitempty"`
}

type unknownReport struct {
	Name       string   `json:"name" yaml:"name"`
	RequiredBy []string `json:"required_by" yaml:"required_by"`
}

// NewGraphCommand creates the graph command
func NewGraphCommand(global *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph [class]",
		Short: "Show classes in registration order",
		Long: `Analyze the module and print every class in the order it will be
registered, with the classes it depends on. Nothing is written.

With a class name, only that class and what it transitively depends on
are shown.

Examples:
  autowire graph
  autowire graph OrderController
  autowire graph --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
			}

			cfg, logger, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sys, err := build.NewSystem(cfg.BuildOptions(), logger)
			if err != nil {
				return err
			}

			analysis, err := sys.Analyze(cmd.Context())
			if err != nil {
				return err
			}

			order := analysis.Order
			if len(args) == 1 {
				focus := args[0]
				if !analysis.Graph.Has(focus) {
					ui.WriteError(cmd.ErrOrStderr(), ui.ErrorOptions{
						Context:      "Class not found",
						Problem:      focus,
						Suggestions:  ui.FindSimilar(focus, analysis.Order, nil),
						HelpCommands: []string{"List every class: autowire graph"},
						NoColor:      color.NoColor,
					})
					return &reportedError{err: fmt.Errorf("no class named %s", focus)}
				}
				order = closure(analysis.Graph, analysis.Order, focus)
			}

			report := buildReport(sys, analysis, order)
			out := cmd.OutOrStdout()

			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(report); err != nil {
					return err
				}
				return enc.Close()
			default:
				writeGraphText(out, report, analysis.Order)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")

	return cmd
}

// closure returns focus and every class it transitively depends on, in
// registration order
func closure(g *graph.DependencyGraph, order []string, focus string) []string {
	keep := map[string]bool{}
	var visit func(name string)
	visit = func(name string) {
		if keep[name] || !g.Has(name) {
			return
		}
		keep[name] = true
		for _, dep := range g.Dependencies(name) {
			visit(dep)
		}
	}
	visit(focus)

	result := make([]string, 0, len(keep))
	for _, name := range order {
		if keep[name] {
			result = append(result, name)
		}
	}
	return result
}

func buildReport(sys *build.System, analysis *build.Analysis, order []string) *graphReport {
	report := &graphReport{
		Order:   order,
		Classes: make([]classReport, 0, len(order)),
	}

	inOrder := make(map[string]bool, len(order))
	for _, name := range order {
		inOrder[name] = true
		class := analysis.Index[name]
		report.Classes = append(report.Classes, classReport{
			Name:         name,
			Kind:         string(class.Kind),
			Origin:       relTo(sys.Root(), class.Origin),
			Constructor:  class.Constructor,
			Dependencies: analysis.Graph.Dependencies(name),
			Guards:       class.GuardDependencyNames,
		})
	}

	for _, name := range analysis.Graph.Unknown() {
		var requiredBy []string
		for _, dependent := range analysis.Graph.Dependents(name) {
			if inOrder[dependent] {
				requiredBy = append(requiredBy, dependent)
			}
		}
		if len(requiredBy) > 0 {
			report.Unknown = append(report.Unknown, unknownReport{Name: name, RequiredBy: requiredBy})
		}
	}
	return report
}

func writeGraphText(w io.Writer, report *graphReport, known []string) {
	noColor := color.NoColor

	ui.Header(w, "Registration order", noColor)
	table := ui.NewTable(w, []string{"#", "Class", "Kind", "Depends on", "Origin"}, &ui.TableOptions{NoColor: noColor})
	for i, class := range report.Classes {
		table.AddRow(strconv.Itoa(i+1), class.Name, class.Kind, strings.Join(class.Dependencies, ", "), class.Origin)
	}
	table.Render()

	for _, unknown := range report.Unknown {
		fmt.Fprintln(w)
		fmt.Fprint(w, ui.UnknownDependencyWarning(unknown.Name, unknown.RequiredBy, known, noColor))
	}
}
