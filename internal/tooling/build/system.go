// Package build runs generation passes: scan, graph, sort, emit, write.
package build

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/autowire/internal/compiler/codegen"
	"github.com/conduit-lang/autowire/internal/compiler/graph"
	"github.com/conduit-lang/autowire/internal/compiler/metadata"
	"github.com/conduit-lang/autowire/internal/compiler/scanner"
	"github.com/conduit-lang/autowire/internal/logging"
	"github.com/conduit-lang/autowire/internal/metrics"
)

// DefaultOutput is the generated file, relative to the root
const DefaultOutput = "wiring/wiring_gen.go"

// DefaultExclude skips tests, data-transfer objects and vendored code
var DefaultExclude = []string{
	"*_test.go",
	"*_dto.go",
	"vendor/**",
	"testdata/**",
}

// Options configures a generation pass
type Options struct {
	// Root is the directory scanned for classes.
	Root string
	// Output is the generated file. Relative paths are resolved against Root.
	Output string
	// Package overrides the package clause of the generated file. When empty
	// it is read from other Go files in the output directory, falling back to
	// the directory name.
	Package  string
	Suffixes []string
	Exclude  []string
	// AllowDuplicates lets a later class silently lose to an earlier class
	// with the same name.
	AllowDuplicates bool
	// Comments annotates each registration with kind and origin.
	Comments bool
	// Check compares against the existing artifact instead of writing.
	Check bool
}

// DefaultOptions returns sensible defaults
func DefaultOptions() *Options {
	return &Options{
		Root:     ".",
		Output:   DefaultOutput,
		Suffixes: append([]string(nil), scanner.DefaultSuffixes...),
		Exclude:  append([]string(nil), DefaultExclude...),
		Comments: true,
	}
}

// Analysis is everything a pass knows before emitting
type Analysis struct {
	Classes []*metadata.ClassMetadata
	Index   map[string]*metadata.ClassMetadata
	Graph   *graph.DependencyGraph
	// Order is empty when the graph has a cycle.
	Order   []string
	Skipped []*scanner.UnloadableSourceError
	Files   int
}

// Result describes a finished pass
type Result struct {
	PassID     string
	OutputPath string
	Order      []string
	Unknown    []string
	// RequiredBy maps each unknown dependency to the classes naming it.
	RequiredBy map[string][]string
	// Mismatches are parameters Bootstrap would reject with a type mismatch.
	Mismatches []ShapeMismatch
	Skipped    []string
	Files      int
	// Written is set when the artifact was replaced.
	Written bool
	// Unchanged is set when the artifact already matched, timestamp aside.
	Unchanged bool
	// Stale is set by a check pass whose artifact is missing or outdated.
	Stale    bool
	Duration time.Duration
}

// ShapeMismatch is a dependency parameter taken as *T while T's constructor
// returns a T value, or the other way round.
type ShapeMismatch struct {
	Class      string
	Param      string
	Dependency string
	// Pointer is set when the parameter is *Dependency.
	Pointer bool
}

func (m ShapeMismatch) String() string {
	value, pointer := m.Dependency, "*"+m.Dependency
	takes, built := value, pointer
	if m.Pointer {
		takes, built = pointer, value
	}
	param := m.Param
	if param == "" {
		param = "a parameter"
	}
	return fmt.Sprintf("%s takes %s as %s, but %s is constructed as %s", m.Class, param, takes, m.Dependency, built)
}

// shapeMismatches compares each dependency parameter with what the
// dependency's constructor returns. Classes without a constructor are built
// with new(T) and count as pointers.
func shapeMismatches(order []string, index map[string]*metadata.ClassMetadata) []ShapeMismatch {
	mismatches := make([]ShapeMismatch, 0)
	for _, name := range order {
		for _, param := range index[name].Params {
			if !param.Dependency {
				continue
			}
			dep, ok := index[param.TypeName]
			if !ok || dep.ReturnsPointer == param.Pointer {
				continue
			}
			mismatches = append(mismatches, ShapeMismatch{
				Class:      name,
				Param:      param.Name,
				Dependency: param.TypeName,
				Pointer:    param.Pointer,
			})
		}
	}
	return mismatches
}

// ErrStale is returned by a check pass when the artifact is out of date
var ErrStale = errors.New("generated wiring is out of date")

// System coordinates generation passes. Passes are not safe for concurrent
// use; callers serialize them (see watch.Regenerator).
type System struct {
	options *Options
	logger  *zap.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	root       string
	outputPath string
}

// Option customizes a System
type Option func(*System)

// WithMetrics records pass outcomes on r
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *System) { s.metrics = r }
}

// WithClock stamps generated files with now
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// NewSystem creates a new generation system
func NewSystem(opts *Options, logger *zap.Logger, options ...Option) (*System, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger = logging.OrNop(logger)

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", opts.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	output := opts.Output
	if output == "" {
		output = DefaultOutput
	}
	if !filepath.IsAbs(output) {
		output = filepath.Join(root, output)
	}

	s := &System{
		options:    opts,
		logger:     logger,
		now:        time.Now,
		root:       root,
		outputPath: filepath.Clean(output),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute scan root
func (s *System) Root() string {
	return s.root
}

// OutputPath returns the absolute path of the generated file
func (s *System) OutputPath() string {
	return s.outputPath
}

// Analyze scans the tree and orders the classes without emitting anything.
// On a cycle the returned analysis still carries the graph.
func (s *System) Analyze(ctx context.Context) (*Analysis, error) {
	return s.analyze(ctx, s.logger)
}

func (s *System) analyze(ctx context.Context, logger *zap.Logger) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scan, err := scanner.New(scanner.Options{
		Root:     s.root,
		Suffixes: s.options.Suffixes,
		Exclude:  s.excludes(),
	}, logger).Scan()
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	g, err := graph.NewBuilder(graph.BuilderOptions{AllowDuplicates: s.options.AllowDuplicates}).Build(scan.Classes)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Classes: scan.Classes,
		Index:   make(map[string]*metadata.ClassMetadata, len(scan.Classes)),
		Graph:   g,
		Skipped: scan.Skipped,
		Files:   len(scan.Files),
	}
	for _, class := range scan.Classes {
		if _, exists := analysis.Index[class.Name]; !exists {
			analysis.Index[class.Name] = class
		}
	}

	order, err := graph.Sort(g)
	if err != nil {
		return analysis, err
	}
	analysis.Order = order
	return analysis, nil
}

// Generate runs one pass. A failed pass leaves the previous artifact
// untouched.
func (s *System) Generate(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{
		PassID:     uuid.NewString(),
		OutputPath: s.outputPath,
	}
	logger := s.logger.With(zap.String("pass_id", result.PassID))

	err := s.generate(ctx, logger, result)
	result.Duration = time.Since(start)

	outcome := metrics.ResultWritten
	switch {
	case err != nil && !errors.Is(err, ErrStale):
		outcome = metrics.ResultFailed
	case result.Stale:
		outcome = metrics.ResultStale
	case result.Unchanged && !result.Written:
		outcome = metrics.ResultUnchanged
	}
	s.metrics.ObservePass(outcome, result.Duration)

	if err != nil {
		logger.Error("generation failed", zap.Error(err), zap.Duration("duration", result.Duration))
		return result, err
	}

	logger.Info("generation finished",
		zap.Int("classes", len(result.Order)),
		zap.Int("files", result.Files),
		zap.Bool("written", result.Written),
		zap.Bool("unchanged", result.Unchanged),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (s *System) generate(ctx context.Context, logger *zap.Logger, result *Result) error {
	analysis, err := s.analyze(ctx, logger)
	if analysis != nil {
		result.Files = analysis.Files
		s.metrics.SkippedFiles(len(analysis.Skipped))
		for _, skipped := range analysis.Skipped {
			result.Skipped = append(result.Skipped, skipped.Path)
		}
	}
	if err != nil {
		return err
	}

	result.Order = analysis.Order
	result.Unknown = analysis.Graph.Unknown()
	s.metrics.ObserveGraph(len(analysis.Order), len(result.Unknown))

	result.RequiredBy = make(map[string][]string, len(result.Unknown))
	for _, name := range result.Unknown {
		result.RequiredBy[name] = analysis.Graph.Dependents(name)
		logger.Warn("unknown dependency", zap.String("name", name), zap.Strings("required_by", result.RequiredBy[name]))
	}

	result.Mismatches = shapeMismatches(analysis.Order, analysis.Index)
	for _, m := range result.Mismatches {
		logger.Warn("dependency shape mismatch",
			zap.String("class", m.Class),
			zap.String("dependency", m.Dependency),
			zap.Bool("pointer_param", m.Pointer),
		)
	}

	module, err := codegen.FindModule(s.root)
	if err != nil && !errors.Is(err, codegen.ErrNoModule) {
		return err
	}

	pkg := s.options.Package
	if pkg == "" {
		pkg = inferPackage(filepath.Dir(s.outputPath), s.outputPath)
	}

	data, err := codegen.NewEmitter(codegen.EmitterOptions{
		Package:   pkg,
		OutputDir: filepath.Dir(s.outputPath),
		Module:    module,
		Comments:  s.options.Comments,
		Now:       s.now,
	}).Emit(analysis.Order, analysis.Index)
	if err != nil {
		return err
	}

	existing, readErr := os.ReadFile(s.outputPath)
	result.Unchanged = readErr == nil && codegen.Equivalent(existing, data)

	if s.options.Check {
		if !result.Unchanged {
			result.Stale = true
			return fmt.Errorf("%w: %s", ErrStale, s.outputPath)
		}
		return nil
	}

	if err := codegen.WriteFile(s.outputPath, data); err != nil {
		return err
	}
	result.Written = true
	return nil
}

// excludes adds the generated file itself to the configured patterns
func (s *System) excludes() []string {
	patterns := append([]string(nil), s.options.Exclude...)
	if rel, err := filepath.Rel(s.root, s.outputPath); err == nil && !strings.HasPrefix(rel, "..") {
		patterns = append(patterns, filepath.ToSlash(rel))
	}
	return patterns
}

// inferPackage reads the package clause of a sibling Go file, falling back
// to a sanitized directory name.
func inferPackage(dir, output string) string {
	entries, err := os.ReadDir(dir)
	if err == nil {
		fset := token.NewFileSet()
		for _, entry := range entries {
			name := entry.Name()
			path := filepath.Join(dir, name)
			if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") || path == output {
				continue
			}
			file, err := parser.ParseFile(fset, path, nil, parser.PackageClauseOnly)
			if err == nil {
				return file.Name.Name
			}
		}
	}

	var b strings.Builder
	for _, r := range strings.ToLower(filepath.Base(dir)) {
		if unicode.IsLetter(r) || (unicode.IsDigit(r) && b.Len() > 0) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return codegen.DefaultPackage
	}
	return b.String()
}
