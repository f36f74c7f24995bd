package codegen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// ErrNoModule is returned when no go.mod exists above a directory
var ErrNoModule = errors.New("no go.mod found")

// Module is the Go module that owns the scanned tree
type Module struct {
	// Root is the absolute directory holding go.mod.
	Root string
	// Path is the module path declared in go.mod.
	Path string
}

// FindModule walks up from dir to the nearest go.mod and reads its module path
func FindModule(dir string) (*Module, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	for current := abs; ; {
		data, err := os.ReadFile(filepath.Join(current, "go.mod"))
		if err == nil {
			path := modfile.ModulePath(data)
			if path == "" {
				return nil, fmt.Errorf("%s/go.mod has no module directive", current)
			}
			return &Module{Root: current, Path: path}, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read go.mod: %w", err)
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, fmt.Errorf("%w in %s or any parent directory", ErrNoModule, abs)
		}
		current = parent
	}
}

// ImportPath returns the import path of the package in dir, which must be
// inside the module.
func (m *Module) ImportPath(dir string) (string, error) {
	rel, err := filepath.Rel(m.Root, dir)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside module %s", dir, m.Path)
	}
	if rel == "." {
		return m.Path, nil
	}
	return m.Path + "/" + rel, nil
}

// Rel returns path relative to the module root with forward slashes, or
// path unchanged when it lies outside the module.
func (m *Module) Rel(path string) string {
	rel, err := filepath.Rel(m.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
