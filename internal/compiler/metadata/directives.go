package metadata

import (
	"go/ast"
	"strings"
)

// DirectivePrefix starts every autowire comment directive. Like //go:
// directives there is no space after the slashes.
const DirectivePrefix = "//autowire:"

// Directives holds the autowire directives found in one comment group.
type Directives struct {
	// Kinds lists kind directives in declaration order.
	Kinds       []Kind
	Guards      []string
	Constructor string
}

// Kind returns the first declared kind, or "" when the type is not annotated.
func (d Directives) Kind() Kind {
	if len(d.Kinds) == 0 {
		return ""
	}
	return d.Kinds[0]
}

// Has reports whether kind was declared.
func (d Directives) Has(kind Kind) bool {
	for _, k := range d.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseDirectives reads autowire directives from a doc comment.
// Unknown directives are ignored.
func ParseDirectives(doc *ast.CommentGroup) Directives {
	var d Directives
	if doc == nil {
		return d
	}

	for _, comment := range doc.List {
		if !strings.HasPrefix(comment.Text, DirectivePrefix) {
			continue
		}
		body := strings.TrimSpace(strings.TrimPrefix(comment.Text, DirectivePrefix))
		name, args, _ := strings.Cut(body, " ")
		args = strings.TrimSpace(args)

		switch Kind(name) {
		case KindInjectable, KindController, KindGuard, KindSocketController:
			if !d.Has(Kind(name)) {
				d.Kinds = append(d.Kinds, Kind(name))
			}
			continue
		}

		switch name {
		case "guards":
			d.Guards = append(d.Guards, splitNames(args)...)
		case "constructor":
			d.Constructor = args
		}
	}

	return d
}

// splitNames splits "A, B C" into its names.
func splitNames(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			names = append(names, f)
		}
	}
	return names
}
