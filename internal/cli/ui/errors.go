package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/conduit-lang/autowire/internal/compiler/codegen"
	"github.com/conduit-lang/autowire/internal/compiler/graph"
	"github.com/conduit-lang/autowire/internal/tooling/build"
)

// ErrorLevel represents the severity of an error message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
	ErrorLevelInfo
)

// ErrorOptions configures the error message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Consequence  string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// paint returns a color that honours noColor
func paint(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// FormatError creates a standardized error message with suggestions and help commands
//
// Example output:
//
//	❌ CIRCULAR DEPENDENCY: OrderService -> PaymentService -> OrderService
//	   The previous wiring file was left untouched.
//
//	   → Inspect the graph: autowire graph
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	var header, body *color.Color
	var symbol string

	switch opts.Level {
	case ErrorLevelWarning:
		header = paint(opts.NoColor, color.FgYellow, color.Bold)
		body = paint(opts.NoColor, color.FgYellow)
		symbol = "⚠️"
	case ErrorLevelInfo:
		header = paint(opts.NoColor, color.FgCyan, color.Bold)
		body = paint(opts.NoColor, color.FgCyan)
		symbol = "ℹ️"
	default:
		header = paint(opts.NoColor, color.FgRed, color.Bold)
		body = paint(opts.NoColor, color.FgRed)
		symbol = "❌"
	}

	if opts.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(opts.Context), opts.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if opts.Consequence != "" {
		body.Fprintf(&b, "   %s\n", opts.Consequence)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		paint(opts.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := paint(opts.NoColor, color.FgCyan)
		for _, cmd := range opts.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted error message to the writer
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// FormatSuccess creates a success message
func FormatSuccess(message string, noColor bool) string {
	return paint(noColor, color.FgGreen, color.Bold).Sprintf("✓ %s", message)
}

// WriteSuccess writes a success message to the writer
func WriteSuccess(w io.Writer, message string, noColor bool) {
	fmt.Fprintln(w, FormatSuccess(message, noColor))
}

// Describe maps a generation error to a diagnostic
func Describe(err error, noColor bool) ErrorOptions {
	var (
		cycle     *graph.CycleError
		duplicate *graph.DuplicateClassError
		importErr *codegen.ImportError
	)

	switch {
	case errors.As(err, &cycle):
		return ErrorOptions{
			Context:     "Circular dependency",
			Problem:     strings.Join(cycle.Path, " -> "),
			Consequence: fmt.Sprintf("%s is reached again while its own dependencies are being ordered. The previous wiring file was left untouched.", cycle.Node),
			HelpCommands: []string{
				"Inspect the graph: autowire graph",
				"Break the cycle by removing a constructor parameter or a guard",
			},
			NoColor: noColor,
		}
	case errors.As(err, &duplicate):
		return ErrorOptions{
			Context:     "Duplicate class",
			Problem:     duplicate.Name,
			Consequence: fmt.Sprintf("Declared in %s and %s. Classes are wired by name, so names must be unique.", duplicate.First, duplicate.Second),
			HelpCommands: []string{
				"Rename one of the types",
				"Or keep the first declaration: set allow_duplicates: true in autowire.yml",
			},
			NoColor: noColor,
		}
	case errors.As(err, &importErr):
		return ErrorOptions{
			Context:     "Cannot import",
			Problem:     importErr.Class,
			Consequence: fmt.Sprintf("%s: %s.", importErr.Origin, importErr.Reason),
			HelpCommands: []string{
				"Export the type and its constructor, or move it out of package main",
				"Or generate into the class's own package: autowire generate --output <dir>/wiring_gen.go",
			},
			NoColor: noColor,
		}
	case errors.Is(err, build.ErrStale):
		return ErrorOptions{
			Context: "Wiring out of date",
			Problem: strings.TrimPrefix(err.Error(), build.ErrStale.Error()+": "),
			HelpCommands: []string{
				"Regenerate: autowire generate",
			},
			NoColor: noColor,
		}
	default:
		return ErrorOptions{
			Context: "Generation failed",
			Problem: err.Error(),
			HelpCommands: []string{
				"Get help: autowire generate --help",
			},
			NoColor: noColor,
		}
	}
}

// UnknownDependencyWarning describes a dependency name with no scanned class
func UnknownDependencyWarning(name string, requiredBy []string, known []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:       ErrorLevelWarning,
		Context:     "Unknown dependency",
		Problem:     name,
		Consequence: fmt.Sprintf("Required by %s. Resolving them will fail unless %s is registered by hand.", strings.Join(requiredBy, ", "), name),
		Suggestions: FindSimilar(name, known, nil),
		NoColor:     noColor,
	})
}

// ConfigError creates a standardized configuration error
func ConfigError(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelError,
		Context: "Configuration error",
		Problem: message,
		HelpCommands: []string{
			"View config: cat autowire.yml",
			"Create one: autowire init",
		},
		NoColor: noColor,
	})
}

// Warning creates a standardized warning message
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelWarning,
		Problem: message,
		NoColor: noColor,
	})
}
