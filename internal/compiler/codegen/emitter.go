// Package codegen renders the registration module: a Go file that registers
// every scanned class into a container in dependency order and binds one
// resolved instance per class.
package codegen

import (
	"bytes"
	"fmt"
	"go/format"
	"go/token"
	"go/types"
	"path"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/conduit-lang/autowire/internal/compiler/metadata"
)

const (
	// DefaultPackage is the package name of the generated file
	DefaultPackage = "wiring"
	// DefaultContainerImport is the import path of the runtime container
	DefaultContainerImport = "github.com/conduit-lang/autowire/pkg/container"

	generatedBanner = "// Code generated by autowire. DO NOT EDIT."
	timestampPrefix = "// Generated at: "
)

// EmitterOptions configures the emitted file
type EmitterOptions struct {
	// Package is the package clause of the generated file.
	Package string
	// OutputDir is the absolute directory the file is written to. Classes
	// declared there are referenced without a qualifier.
	OutputDir string
	// Module resolves class directories to import paths.
	Module *Module
	// ContainerImport overrides the container package path.
	ContainerImport string
	// Comments adds a line naming kind and origin above each registration.
	Comments bool
	// Now stamps the header. Defaults to time.Now.
	Now func() time.Time
}

// ImportError reports a class the generated file cannot reference
type ImportError struct {
	Class  string
	Origin string
	Reason string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("cannot reference %s (%s): %s", e.Class, e.Origin, e.Reason)
}

// Emitter renders registration modules
type Emitter struct {
	opts EmitterOptions

	buf    *bytes.Buffer
	indent int
	// imports maps import path to the name used in the file
	imports map[string]string
	// qualifiers maps class name to its package qualifier, "" when local
	qualifiers map[string]string
	vars       map[string]string
}

// NewEmitter creates an emitter, filling unset options with defaults
func NewEmitter(opts EmitterOptions) *Emitter {
	if opts.Package == "" {
		opts.Package = DefaultPackage
	}
	if opts.ContainerImport == "" {
		opts.ContainerImport = DefaultContainerImport
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Emitter{
		opts:       opts,
		buf:        &bytes.Buffer{},
		imports:    make(map[string]string),
		qualifiers: make(map[string]string),
		vars:       make(map[string]string),
	}
}

// Emit renders the registration module for classes in the given order.
// Every name in order must have an entry in classes.
func (e *Emitter) Emit(order []string, classes map[string]*metadata.ClassMetadata) ([]byte, error) {
	e.reset()

	ordered := make([]*metadata.ClassMetadata, 0, len(order))
	for _, name := range order {
		class, ok := classes[name]
		if !ok {
			return nil, fmt.Errorf("no metadata for %s", name)
		}
		ordered = append(ordered, class)
	}

	if err := e.resolveImports(ordered); err != nil {
		return nil, err
	}
	e.assignVars(ordered)

	e.writeLine(generatedBanner)
	e.writeLine("%s%s", timestampPrefix, e.opts.Now().UTC().Format(time.RFC3339))
	e.writeLine("")
	e.writeLine("package %s", e.opts.Package)
	e.writeLine("")
	e.writeImports()
	e.writeLine("")

	if len(ordered) > 0 {
		e.writeVars(ordered)
		e.writeLine("")
	}

	e.writeRegister(ordered)
	e.writeLine("")
	e.writeBootstrap(ordered)

	formatted, err := format.Source(e.buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("generated code does not parse: %w", err)
	}
	return formatted, nil
}

// reset clears the emitter state
func (e *Emitter) reset() {
	e.buf.Reset()
	e.indent = 0
	e.imports = make(map[string]string)
	e.qualifiers = make(map[string]string)
	e.vars = make(map[string]string)
}

// writeLine writes a formatted line with proper indentation
func (e *Emitter) writeLine(format string, args ...interface{}) {
	if format == "" {
		e.buf.WriteString("\n")
		return
	}

	for i := 0; i < e.indent; i++ {
		e.buf.WriteString("\t")
	}

	if len(args) > 0 {
		e.buf.WriteString(fmt.Sprintf(format, args...))
	} else {
		e.buf.WriteString(format)
	}
	e.buf.WriteString("\n")
}

// resolveImports computes one import per distinct class package and the
// qualifier each class is referenced with. Names are assigned in import
// path order so aliases are stable across runs.
func (e *Emitter) resolveImports(classes []*metadata.ClassMetadata) error {
	pkgNames := make(map[string]string)

	for _, class := range classes {
		if class.Dir == e.opts.OutputDir {
			if class.Package != e.opts.Package {
				return &ImportError{
					Class:  class.Name,
					Origin: e.origin(class),
					Reason: fmt.Sprintf("declared in package %s, output package is %s", class.Package, e.opts.Package),
				}
			}
			continue
		}

		if class.Package == "main" {
			return &ImportError{Class: class.Name, Origin: e.origin(class), Reason: "package main cannot be imported"}
		}
		if !token.IsExported(class.Name) {
			return &ImportError{Class: class.Name, Origin: e.origin(class), Reason: "type is not exported"}
		}
		if class.Constructor != "" && !token.IsExported(class.Constructor) {
			return &ImportError{Class: class.Name, Origin: e.origin(class), Reason: fmt.Sprintf("constructor %s is not exported", class.Constructor)}
		}
		if e.opts.Module == nil {
			return &ImportError{Class: class.Name, Origin: e.origin(class), Reason: "no module to derive an import path from"}
		}

		importPath, err := e.opts.Module.ImportPath(class.Dir)
		if err != nil {
			return &ImportError{Class: class.Name, Origin: e.origin(class), Reason: err.Error()}
		}
		if existing, ok := pkgNames[importPath]; ok && existing != class.Package {
			return &ImportError{Class: class.Name, Origin: e.origin(class), Reason: fmt.Sprintf("%s holds packages %s and %s", importPath, existing, class.Package)}
		}
		pkgNames[importPath] = class.Package
	}

	paths := make([]string, 0, len(pkgNames))
	for p := range pkgNames {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	used := map[string]bool{"container": true}
	e.imports[e.opts.ContainerImport] = "container"

	for _, p := range paths {
		name := pkgNames[p]
		candidate := name
		for i := 2; used[candidate] || reserved(candidate); i++ {
			candidate = fmt.Sprintf("%s%d", name, i)
		}
		used[candidate] = true
		e.imports[p] = candidate
	}

	for _, class := range classes {
		if class.Dir == e.opts.OutputDir {
			e.qualifiers[class.Name] = ""
			continue
		}
		importPath, _ := e.opts.Module.ImportPath(class.Dir)
		e.qualifiers[class.Name] = e.imports[importPath]
	}
	return nil
}

// assignVars names one binding per class by lower-casing the first
// character of the class name.
func (e *Emitter) assignVars(classes []*metadata.ClassMetadata) {
	taken := make(map[string]bool)
	for _, name := range e.imports {
		taken[name] = true
	}
	for _, class := range classes {
		taken[class.Name] = true
	}
	taken["c"] = true
	taken["err"] = true
	taken["Register"] = true
	taken["Bootstrap"] = true

	for _, class := range classes {
		base := lowerFirst(class.Name)
		name := base
		if taken[name] || reserved(name) {
			name = base + "Instance"
		}
		for i := 2; taken[name]; i++ {
			name = fmt.Sprintf("%sInstance%d", base, i)
		}
		taken[name] = true
		e.vars[class.Name] = name
	}
}

func (e *Emitter) writeImports() {
	paths := make([]string, 0, len(e.imports))
	for p := range e.imports {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	e.writeLine("import (")
	e.indent++
	for _, p := range paths {
		if e.imports[p] == path.Base(p) {
			e.writeLine("%q", p)
		} else {
			e.writeLine("%s %q", e.imports[p], p)
		}
	}
	e.indent--
	e.writeLine(")")
}

func (e *Emitter) writeVars(classes []*metadata.ClassMetadata) {
	e.writeLine("var (")
	e.indent++
	for _, class := range classes {
		e.writeLine("%s %s", e.vars[class.Name], e.instanceType(class))
	}
	e.indent--
	e.writeLine(")")
}

func (e *Emitter) writeRegister(classes []*metadata.ClassMetadata) {
	e.writeLine("// Register adds every class to c, dependencies first.")
	e.writeLine("func Register(c *container.Container) error {")
	e.indent++
	for _, class := range classes {
		if e.opts.Comments {
			e.writeLine("// %s (%s) %s", class.Name, class.Kind, e.origin(class))
		}
		args := append([]string{fmt.Sprintf("%q", class.Name), e.constructorExpr(class)}, e.paramArgs(class)...)
		e.writeLine("if err := c.Register(%s); err != nil {", strings.Join(args, ", "))
		e.indent++
		e.writeLine("return err")
		e.indent--
		e.writeLine("}")
	}
	e.writeLine("return nil")
	e.indent--
	e.writeLine("}")
}

func (e *Emitter) writeBootstrap(classes []*metadata.ClassMetadata) {
	e.writeLine("// Bootstrap registers every class and resolves one instance of each.")
	e.writeLine("func Bootstrap(c *container.Container) error {")
	e.indent++
	e.writeLine("if err := Register(c); err != nil {")
	e.indent++
	e.writeLine("return err")
	e.indent--
	e.writeLine("}")

	if len(classes) > 0 {
		e.writeLine("")
		e.writeLine("var err error")
		for _, class := range classes {
			e.writeLine("if %s, err = container.Resolve[%s](c, %q); err != nil {", e.vars[class.Name], e.instanceType(class), class.Name)
			e.indent++
			e.writeLine("return err")
			e.indent--
			e.writeLine("}")
		}
	}

	e.writeLine("return nil")
	e.indent--
	e.writeLine("}")
}

func (e *Emitter) qualified(class *metadata.ClassMetadata, ident string) string {
	if q := e.qualifiers[class.Name]; q != "" {
		return q + "." + ident
	}
	return ident
}

func (e *Emitter) instanceType(class *metadata.ClassMetadata) string {
	typ := e.qualified(class, class.Name)
	if class.ReturnsPointer {
		return "*" + typ
	}
	return typ
}

func (e *Emitter) constructorExpr(class *metadata.ClassMetadata) string {
	if class.Constructor == "" {
		typ := e.qualified(class, class.Name)
		return fmt.Sprintf("func() *%s { return new(%s) }", typ, typ)
	}
	return e.qualified(class, class.Constructor)
}

func (e *Emitter) paramArgs(class *metadata.ClassMetadata) []string {
	args := make([]string, 0, len(class.Params))
	for _, param := range class.Params {
		if param.Dependency {
			args = append(args, fmt.Sprintf("%q", param.TypeName))
		} else {
			args = append(args, "container.Zero")
		}
	}
	return args
}

func (e *Emitter) origin(class *metadata.ClassMetadata) string {
	if e.opts.Module != nil {
		return e.opts.Module.Rel(class.Origin)
	}
	return class.Origin
}

// reserved reports names a generated identifier must not shadow
func reserved(name string) bool {
	return token.IsKeyword(name) || types.Universe.Lookup(name) != nil
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
