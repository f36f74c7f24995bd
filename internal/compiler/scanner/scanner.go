// Package scanner walks a source tree and collects annotated types.
package scanner

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/conduit-lang/autowire/internal/compiler/metadata"
)

// Options configures which files take part in a scan
type Options struct {
	// Root is the directory to walk.
	Root string
	// Suffixes lists recognized source suffixes, e.g. ".go".
	Suffixes []string
	// Exclude lists doublestar globs. Patterns containing a slash match the
	// root-relative path, others match either the relative path or the base name.
	Exclude []string
}

// DefaultSuffixes are used when Options.Suffixes is empty
var DefaultSuffixes = []string{".go"}

// Result is the outcome of one scan pass
type Result struct {
	// Classes are the injectable and socket-controller types in discovery order.
	Classes []*metadata.ClassMetadata
	// Files are the candidate files that were parsed.
	Files []string
	// Skipped are files that could not be loaded.
	Skipped []*UnloadableSourceError
}

// UnloadableSourceError reports a file that failed to parse. It is recovered
// locally: the file is skipped and the scan continues.
type UnloadableSourceError struct {
	Path string
	Err  error
}

func (e *UnloadableSourceError) Error() string {
	return fmt.Sprintf("unloadable source %s: %v", e.Path, e.Err)
}

func (e *UnloadableSourceError) Unwrap() error {
	return e.Err
}

// Scanner discovers annotated types under a root directory. It keeps no
// state between passes: every Scan re-reads the tree from disk.
type Scanner struct {
	opts   Options
	logger *zap.Logger
}

// New creates a scanner
func New(opts Options, logger *zap.Logger) *Scanner {
	if len(opts.Suffixes) == 0 {
		opts.Suffixes = DefaultSuffixes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{opts: opts, logger: logger}
}

// Files returns candidate source files in lexical walk order.
func (s *Scanner) Files() ([]string, error) {
	for _, pattern := range s.opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	root, err := filepath.Abs(s.opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", s.opts.Root, err)
	}

	files := make([]string, 0)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !s.hasSuffix(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if s.Excluded(filepath.ToSlash(rel)) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return files, nil
}

// Excluded reports whether a slash-separated, root-relative path matches an
// exclusion pattern.
func (s *Scanner) Excluded(rel string) bool {
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, pattern := range s.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, base); ok {
				return true
			}
		}
	}
	return false
}

func (s *Scanner) hasSuffix(path string) bool {
	for _, suffix := range s.opts.Suffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// parsedPackage groups the files of one package in one directory
type parsedPackage struct {
	dir   string
	name  string
	files []*parsedFile
}

type parsedFile struct {
	path string
	ast  *ast.File
}

// Scan parses every candidate file and returns the annotated types.
func (s *Scanner) Scan() (*Result, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	result := &Result{
		Classes: make([]*metadata.ClassMetadata, 0),
		Files:   files,
		Skipped: make([]*UnloadableSourceError, 0),
	}

	fset := token.NewFileSet()
	packages := make(map[string]*parsedPackage)
	order := make([]string, 0)

	for _, path := range files {
		file, err := parser.ParseFile(fset, path, nil, parser.ParseComments|parser.SkipObjectResolution)
		if err != nil {
			unloadable := &UnloadableSourceError{Path: path, Err: err}
			s.logger.Warn("skipping unloadable source", zap.String("file", path), zap.Error(err))
			result.Skipped = append(result.Skipped, unloadable)
			continue
		}

		dir := filepath.Dir(path)
		key := dir + "\x00" + file.Name.Name
		pkg, ok := packages[key]
		if !ok {
			pkg = &parsedPackage{dir: dir, name: file.Name.Name}
			packages[key] = pkg
			order = append(order, key)
		}
		pkg.files = append(pkg.files, &parsedFile{path: path, ast: file})
	}

	for _, key := range order {
		for _, unit := range s.collectUnits(packages[key]) {
			meta := metadata.Extract(unit)
			if !meta.Injectable && !meta.SocketController {
				continue
			}
			s.logger.Debug("discovered class",
				zap.String("name", meta.Name),
				zap.String("kind", string(meta.Kind)),
				zap.String("file", meta.Origin),
			)
			result.Classes = append(result.Classes, meta)
		}
	}

	return result, nil
}

// collectUnits builds one ClassUnit per type declared in pkg, in file and
// declaration order. Constructors and methods may live in any file of the
// package.
func (s *Scanner) collectUnits(pkg *parsedPackage) []*metadata.ClassUnit {
	funcs := make(map[string]*ast.FuncDecl)
	methods := make(map[string][]*ast.FuncDecl)

	for _, file := range pkg.files {
		for _, decl := range file.ast.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			if fn.Recv == nil {
				funcs[fn.Name.Name] = fn
				continue
			}
			if recv := receiverName(fn); recv != "" {
				methods[recv] = append(methods[recv], fn)
			}
		}
	}

	units := make([]*metadata.ClassUnit, 0)
	for _, file := range pkg.files {
		for _, decl := range file.ast.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.TYPE {
				continue
			}
			for _, spec := range gen.Specs {
				ts := spec.(*ast.TypeSpec)
				if ts.Assign.IsValid() {
					continue
				}

				doc := ts.Doc
				if doc == nil && len(gen.Specs) == 1 {
					doc = gen.Doc
				}
				directives := metadata.ParseDirectives(doc)
				if directives.Kind() == "" {
					continue
				}

				if ts.TypeParams != nil {
					s.logger.Warn("skipping generic type, it cannot be constructed by name",
						zap.String("name", ts.Name.Name),
						zap.String("file", file.path),
					)
					continue
				}

				units = append(units, &metadata.ClassUnit{
					Name:        ts.Name.Name,
					Package:     pkg.name,
					Dir:         pkg.dir,
					Origin:      file.path,
					Doc:         doc,
					TypeParams:  ts.TypeParams,
					Methods:     methods[ts.Name.Name],
					Constructor: s.constructorFor(ts.Name.Name, directives, funcs, file.path),
				})
			}
		}
	}

	return units
}

func (s *Scanner) constructorFor(typeName string, directives metadata.Directives, funcs map[string]*ast.FuncDecl, origin string) *ast.FuncDecl {
	name := "New" + typeName
	if directives.Constructor != "" {
		name = directives.Constructor
	}

	fn, ok := funcs[name]
	if !ok {
		if directives.Constructor != "" {
			s.logger.Warn("constructor not found, falling back to new()",
				zap.String("name", typeName),
				zap.String("constructor", name),
				zap.String("file", origin),
			)
		}
		return nil
	}

	if !metadata.ReturnsType(fn, typeName) {
		s.logger.Warn("function does not return the annotated type, ignoring it as constructor",
			zap.String("name", typeName),
			zap.String("constructor", name),
		)
		return nil
	}
	if fn.Type.TypeParams != nil {
		s.logger.Warn("generic constructor cannot be referenced without instantiation, falling back to new()",
			zap.String("name", typeName),
			zap.String("constructor", name),
		)
		return nil
	}

	return fn
}

// receiverName returns the base type name of a method receiver.
func receiverName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	expr := fn.Recv.List[0].Type
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		if ident, ok := t.X.(*ast.Ident); ok {
			return ident.Name
		}
	case *ast.IndexListExpr:
		if ident, ok := t.X.(*ast.Ident); ok {
			return ident.Name
		}
	}
	return ""
}
