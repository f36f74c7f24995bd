package metadata

import (
	"go/ast"
)

// Kind classifies an annotated type.
type Kind string

const (
	// KindInjectable marks a plain injectable service
	KindInjectable Kind = "injectable"
	// KindController marks an HTTP controller
	KindController Kind = "controller"
	// KindGuard marks a guard used by controllers
	KindGuard Kind = "guard"
	// KindSocketController marks a socket gateway
	KindSocketController Kind = "socket-controller"
)

// DependencyOrigin records where a dependency was declared.
type DependencyOrigin string

const (
	OriginConstructor DependencyOrigin = "constructor"
	OriginGuard       DependencyOrigin = "guard"
)

// ClassUnit is one annotated type together with the declarations the
// extractor needs to read its dependencies. Units are rebuilt on every scan.
type ClassUnit struct {
	Name    string
	Package string
	// Dir is the absolute directory of the declaring package.
	Dir string
	// Origin is the file that declares the type.
	Origin string

	Doc         *ast.CommentGroup
	TypeParams  *ast.FieldList
	Methods     []*ast.FuncDecl
	Constructor *ast.FuncDecl
}

// Param describes one constructor parameter.
type Param struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// TypeName is the dependency name, empty for placeholders.
	TypeName   string `json:"type,omitempty" yaml:"type,omitempty"`
	Dependency bool   `json:"dependency" yaml:"dependency"`
	// Pointer is set for dependencies taken as *T.
	Pointer bool `json:"pointer,omitempty" yaml:"pointer,omitempty"`
}

// ClassMetadata is everything known about one annotated type.
type ClassMetadata struct {
	Name             string `json:"name" yaml:"name"`
	Kind             Kind   `json:"kind" yaml:"kind"`
	Injectable       bool   `json:"injectable" yaml:"injectable"`
	SocketController bool   `json:"socket_controller" yaml:"socket_controller"`

	// ConstructorDependencyNames keeps parameter order, duplicates included.
	ConstructorDependencyNames []string `json:"constructor_dependencies" yaml:"constructor_dependencies"`
	// GuardDependencyNames is a sorted set.
	GuardDependencyNames []string `json:"guard_dependencies" yaml:"guard_dependencies"`

	Params         []Param `json:"params,omitempty" yaml:"params,omitempty"`
	Constructor    string  `json:"constructor,omitempty" yaml:"constructor,omitempty"`
	ReturnsError   bool    `json:"returns_error,omitempty" yaml:"returns_error,omitempty"`
	ReturnsPointer bool    `json:"returns_pointer" yaml:"returns_pointer"`

	Package string `json:"package" yaml:"package"`
	Dir     string `json:"-" yaml:"-"`
	Origin  string `json:"origin" yaml:"origin"`
}

// Dependencies returns constructor dependencies followed by guard
// dependencies, without duplicates.
func (m *ClassMetadata) Dependencies() []string {
	seen := make(map[string]struct{}, len(m.ConstructorDependencyNames)+len(m.GuardDependencyNames))
	deps := make([]string, 0, len(m.ConstructorDependencyNames)+len(m.GuardDependencyNames))
	for _, group := range [][]string{m.ConstructorDependencyNames, m.GuardDependencyNames} {
		for _, name := range group {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			deps = append(deps, name)
		}
	}
	return deps
}
