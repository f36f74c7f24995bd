package graph

import (
	"fmt"

	"github.com/conduit-lang/autowire/internal/compiler/metadata"
)

// BuilderOptions configures graph construction
type BuilderOptions struct {
	// AllowDuplicates keeps the first class of a given name and drops later
	// ones. By default a repeated name is an error.
	AllowDuplicates bool
}

// Builder turns scanned classes into a DependencyGraph
type Builder struct {
	opts BuilderOptions
}

// NewBuilder creates a graph builder
func NewBuilder(opts BuilderOptions) *Builder {
	return &Builder{opts: opts}
}

// Build creates one node per class, including classes without
// dependencies. Edges are constructor dependencies followed by guard
// dependencies. The same input always yields the same graph.
func (b *Builder) Build(classes []*metadata.ClassMetadata) (*DependencyGraph, error) {
	g := New()
	origins := make(map[string]string, len(classes))

	for _, class := range classes {
		if first, exists := origins[class.Name]; exists {
			if b.opts.AllowDuplicates {
				continue
			}
			return nil, &DuplicateClassError{Name: class.Name, First: first, Second: class.Origin}
		}
		origins[class.Name] = class.Origin

		g.AddNode(class.Name, class.Origin)
		for _, dep := range class.ConstructorDependencyNames {
			g.AddDependency(class.Name, dep, metadata.OriginConstructor)
		}
		for _, dep := range class.GuardDependencyNames {
			g.AddDependency(class.Name, dep, metadata.OriginGuard)
		}
	}

	return g, nil
}

// DuplicateClassError reports two classes sharing one name. Classes are
// keyed by name only, so a collision would wire the wrong dependency.
type DuplicateClassError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateClassError) Error() string {
	return fmt.Sprintf("duplicate class name %s: declared in %s and %s", e.Name, e.First, e.Second)
}
