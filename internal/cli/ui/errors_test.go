package ui

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/conduit-lang/autowire/internal/compiler/codegen"
	"github.com/conduit-lang/autowire/internal/compiler/graph"
	"github.com/conduit-lang/autowire/internal/tooling/build"
)

func TestFormatError(t *testing.T) {
	tests := []struct {
		name     string
		opts     ErrorOptions
		contains []string
		excludes []string
	}{
		{
			name: "basic error",
			opts: ErrorOptions{
				Context: "generation failed",
				Problem: "scan failed",
			},
			contains: []string{"❌", "GENERATION FAILED: scan failed"},
		},
		{
			name: "suggestions",
			opts: ErrorOptions{
				Problem:     "UserServce",
				Suggestions: []string{"UserService", "UserStore"},
			},
			contains: []string{"Did you mean: UserService, UserStore?"},
		},
		{
			name: "help commands",
			opts: ErrorOptions{
				Problem:      "broken",
				HelpCommands: []string{"autowire graph", "autowire generate --help"},
			},
			contains: []string{"→ autowire graph", "→ autowire generate --help"},
		},
		{
			name: "warning without context",
			opts: ErrorOptions{
				Level:   ErrorLevelWarning,
				Problem: "nothing to wire",
			},
			contains: []string{"⚠️ nothing to wire"},
			excludes: []string{":"},
		},
		{
			name: "info",
			opts: ErrorOptions{
				Level:       ErrorLevelInfo,
				Problem:     "watching",
				Consequence: "press ctrl-c to stop",
			},
			contains: []string{"ℹ️ watching", "   press ctrl-c to stop"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.NoColor = true
			out := FormatError(tt.opts)
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in:\n%s", want, out)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(out, unwanted) {
					t.Errorf("unexpected %q in:\n%s", unwanted, out)
				}
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	WriteError(&buf, ErrorOptions{Problem: "boom", NoColor: true})
	if got := buf.String(); got != "❌ boom\n" {
		t.Errorf("WriteError() = %q", got)
	}
}

func TestWriteSuccess(t *testing.T) {
	var buf bytes.Buffer
	WriteSuccess(&buf, "wrote wiring/wiring_gen.go", true)
	if got := buf.String(); got != "✓ wrote wiring/wiring_gen.go\n" {
		t.Errorf("WriteSuccess() = %q", got)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		context string
		want    string
	}{
		{
			name:    "cycle",
			err:     fmt.Errorf("pass: %w", &graph.CycleError{Node: "X", Path: []string{"X", "Y", "X"}}),
			context: "Circular dependency",
			want:    "X -> Y -> X",
		},
		{
			name:    "duplicate",
			err:     &graph.DuplicateClassError{Name: "ServiceA", First: "a.go", Second: "b.go"},
			context: "Duplicate class",
			want:    "Declared in a.go and b.go",
		},
		{
			name:    "import",
			err:     &codegen.ImportError{Class: "Handler", Origin: "cmd/api/handler.go", Reason: "package main cannot be imported"},
			context: "Cannot import",
			want:    "cmd/api/handler.go: package main cannot be imported.",
		},
		{
			name:    "stale",
			err:     fmt.Errorf("%w: /src/wiring/wiring_gen.go", build.ErrStale),
			context: "Wiring out of date",
			want:    "/src/wiring/wiring_gen.go",
		},
		{
			name:    "other",
			err:     errors.New("scan failed: permission denied"),
			context: "Generation failed",
			want:    "scan failed: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Describe(tt.err, true)
			if opts.Context != tt.context {
				t.Errorf("Context = %q, want %q", opts.Context, tt.context)
			}
			if !opts.NoColor {
				t.Error("NoColor not propagated")
			}
			out := FormatError(opts)
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in:\n%s", tt.want, out)
			}
			if len(opts.HelpCommands) == 0 {
				t.Error("expected at least one help command")
			}
		})
	}
}

func TestUnknownDependencyWarning(t *testing.T) {
	out := UnknownDependencyWarning("UserServce", []string{"AuthController", "ProfileController"}, []string{"UserService", "OrderService"}, true)

	for _, want := range []string{
		"⚠️ UNKNOWN DEPENDENCY: UserServce",
		"Required by AuthController, ProfileController.",
		"Did you mean: UserService?",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestConfigError(t *testing.T) {
	out := ConfigError("output must be a .go file", true)
	if !strings.Contains(out, "CONFIGURATION ERROR: output must be a .go file") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "autowire init") {
		t.Errorf("missing init hint:\n%s", out)
	}
}

func TestWarning(t *testing.T) {
	if out := Warning("no classes found", true); out != "⚠️ no classes found\n" {
		t.Errorf("Warning() = %q", out)
	}
}
