// Package metadata extracts dependency metadata from annotated Go types.
//
// A type takes part in wiring when its doc comment carries one of the kind
// directives:
//
//	//autowire:injectable
//	//autowire:controller
//	//autowire:guard
//	//autowire:socket-controller
//
// Guards are attached with //autowire:guards on the type or on any of its
// methods, and a non-default constructor is named with //autowire:constructor.
package metadata

import (
	"go/ast"
	"go/types"
	"sort"
)

// Extract reads the identity and dependencies of one unit. It performs no
// I/O and never fails: missing metadata yields empty collections.
func Extract(unit *ClassUnit) *ClassMetadata {
	directives := ParseDirectives(unit.Doc)

	meta := &ClassMetadata{
		Name:                       unit.Name,
		Kind:                       directives.Kind(),
		Injectable:                 directives.Has(KindInjectable) || directives.Has(KindController) || directives.Has(KindGuard),
		SocketController:           directives.Has(KindSocketController),
		ConstructorDependencyNames: make([]string, 0),
		GuardDependencyNames:       make([]string, 0),
		Params:                     make([]Param, 0),
		ReturnsPointer:             true,
		Package:                    unit.Package,
		Dir:                        unit.Dir,
		Origin:                     unit.Origin,
	}

	meta.GuardDependencyNames = extractGuards(unit, directives)

	if unit.Constructor != nil {
		extractConstructor(unit.Constructor, meta)
	}

	return meta
}

// extractGuards unions class-level and method-level guard names.
func extractGuards(unit *ClassUnit, classLevel Directives) []string {
	set := make(map[string]struct{})
	for _, name := range classLevel.Guards {
		set[name] = struct{}{}
	}

	for _, method := range unit.Methods {
		if method == unit.Constructor {
			continue
		}
		for _, name := range ParseDirectives(method.Doc).Guards {
			set[name] = struct{}{}
		}
	}

	guards := make([]string, 0, len(set))
	for name := range set {
		guards = append(guards, name)
	}
	sort.Strings(guards)
	return guards
}

func extractConstructor(ctor *ast.FuncDecl, meta *ClassMetadata) {
	meta.Constructor = ctor.Name.Name

	typeParams := make(map[string]bool)
	if ctor.Type.TypeParams != nil {
		for _, field := range ctor.Type.TypeParams.List {
			for _, name := range field.Names {
				typeParams[name.Name] = true
			}
		}
	}

	if ctor.Type.Params != nil {
		for _, field := range ctor.Type.Params.List {
			depName := DependencyName(field.Type, typeParams)
			_, pointer := field.Type.(*ast.StarExpr)

			names := field.Names
			if len(names) == 0 {
				names = []*ast.Ident{nil}
			}
			for _, ident := range names {
				param := Param{TypeName: depName, Dependency: depName != "", Pointer: depName != "" && pointer}
				if ident != nil {
					param.Name = ident.Name
				}
				meta.Params = append(meta.Params, param)
				if param.Dependency {
					meta.ConstructorDependencyNames = append(meta.ConstructorDependencyNames, depName)
				}
			}
		}
	}

	results := flattenResults(ctor.Type.Results)
	if len(results) > 0 {
		_, meta.ReturnsPointer = results[0].(*ast.StarExpr)
	}
	if len(results) == 2 {
		if ident, ok := results[1].(*ast.Ident); ok && ident.Name == "error" {
			meta.ReturnsError = true
		}
	}
}

// DependencyName returns the class name a parameter type refers to, or ""
// when the type is a placeholder that cannot be resolved by name:
// predeclared identifiers, type parameters, interface literals, composite
// and function types, variadics and generic instantiations.
func DependencyName(expr ast.Expr, typeParams map[string]bool) string {
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	if paren, ok := expr.(*ast.ParenExpr); ok {
		expr = paren.X
	}

	switch t := expr.(type) {
	case *ast.Ident:
		if typeParams[t.Name] || types.Universe.Lookup(t.Name) != nil {
			return ""
		}
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	}
	return ""
}

// flattenResults expands "(a, b *T, err error)" into one expression per value.
func flattenResults(results *ast.FieldList) []ast.Expr {
	if results == nil {
		return nil
	}
	var out []ast.Expr
	for _, field := range results.List {
		n := len(field.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, field.Type)
		}
	}
	return out
}

// ReturnsType reports whether fn looks like a constructor for typeName:
// its first result is typeName or *typeName, optionally followed by error.
func ReturnsType(fn *ast.FuncDecl, typeName string) bool {
	if fn.Recv != nil {
		return false
	}
	results := flattenResults(fn.Type.Results)
	if len(results) == 0 || len(results) > 2 {
		return false
	}
	if len(results) == 2 {
		ident, ok := results[1].(*ast.Ident)
		if !ok || ident.Name != "error" {
			return false
		}
	}

	first := results[0]
	if star, ok := first.(*ast.StarExpr); ok {
		first = star.X
	}
	ident, ok := first.(*ast.Ident)
	return ok && ident.Name == typeName
}
