package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conduit-lang/autowire/internal/compiler/codegen"
	"github.com/conduit-lang/autowire/internal/compiler/graph"
	"github.com/conduit-lang/autowire/internal/metrics"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// shopModule lays out ServiceA, ServiceB, GuardG and ControllerC across
// three packages of a module.
func shopModule(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, root, "go.mod", "module example.com/shop\n\ngo 1.23\n")
	writeFile(t, root, "internal/app/service.go", `package app

//autowire:injectable
type ServiceA struct{}

//autowire:injectable
type ServiceB struct{ a *ServiceA }

func NewServiceB(a *ServiceA) *ServiceB { return &ServiceB{a: a} }
`)
	writeFile(t, root, "internal/auth/guard.go", `package auth

//autowire:guard
type GuardG struct{}

func NewGuardG() *GuardG { return &GuardG{} }
`)
	writeFile(t, root, "internal/web/controller.go", `package web

import "example.com/shop/internal/app"

//autowire:controller
//autowire:guards GuardG
type ControllerC struct{ b *app.ServiceB }

func NewControllerC(b *app.ServiceB, prefix string) (*ControllerC, error) {
	return &ControllerC{b: b}, nil
}
`)
	return root
}

func newSystem(t *testing.T, root string, mutate func(*Options), options ...Option) *System {
	t.Helper()
	opts := DefaultOptions()
	opts.Root = root
	if mutate != nil {
		mutate(opts)
	}

	clock := func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	options = append([]Option{WithClock(clock)}, options...)

	sys, err := NewSystem(opts, zaptest.NewLogger(t), options...)
	require.NoError(t, err)
	return sys
}

func TestNewSystem(t *testing.T) {
	root := t.TempDir()
	sys, err := NewSystem(&Options{Root: root}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sys.Root(), "wiring", "wiring_gen.go"), sys.OutputPath())

	_, err = NewSystem(&Options{Root: filepath.Join(root, "missing")}, nil)
	assert.Error(t, err)

	writeFile(t, root, "file.txt", "x")
	_, err = NewSystem(&Options{Root: filepath.Join(root, "file.txt")}, nil)
	assert.Error(t, err)
}

func TestSystem_Generate(t *testing.T) {
	root := shopModule(t)
	recorder := metrics.NewRecorder()
	sys := newSystem(t, root, nil, WithMetrics(recorder))

	result, err := sys.Generate(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, result.PassID)
	assert.True(t, result.Written)
	assert.False(t, result.Unchanged)
	assert.Equal(t, []string{"ServiceA", "ServiceB", "GuardG", "ControllerC"}, result.Order)
	assert.Empty(t, result.Unknown)
	assert.Empty(t, result.Mismatches)
	assert.Equal(t, 3, result.Files)

	data, err := os.ReadFile(sys.OutputPath())
	require.NoError(t, err)
	code := string(data)

	assert.True(t, strings.HasPrefix(code, "// Code generated by autowire. DO NOT EDIT.\n// Generated at: 2024-05-06T07:08:09Z\n"))
	assert.Contains(t, code, "package wiring")
	assert.Contains(t, code, `c.Register("ServiceA", func() *app.ServiceA { return new(app.ServiceA) })`)
	assert.Contains(t, code, `c.Register("ControllerC", web.NewControllerC, "ServiceB", container.Zero)`)
	assert.Contains(t, code, "// ControllerC (controller) internal/web/controller.go")
	assert.Less(t, strings.Index(code, `"GuardG"`), strings.Index(code, `"ControllerC"`))

	count, err := testutil.GatherAndCount(recorder.Registry(), "autowire_generation_passes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSystem_Generate_Idempotent(t *testing.T) {
	root := shopModule(t)
	first := newSystem(t, root, nil)

	_, err := first.Generate(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(first.OutputPath())
	require.NoError(t, err)

	later := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	second := newSystem(t, root, nil, WithClock(later))
	result, err := second.Generate(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Unchanged)
	assert.True(t, result.Written)

	after, err := os.ReadFile(second.OutputPath())
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Equal(t, codegen.StripHeader(before), codegen.StripHeader(after))
}

func TestSystem_Generate_Check(t *testing.T) {
	root := shopModule(t)

	check := newSystem(t, root, func(o *Options) { o.Check = true })
	result, err := check.Generate(context.Background())
	assert.True(t, errors.Is(err, ErrStale))
	assert.True(t, result.Stale)
	_, statErr := os.Stat(check.OutputPath())
	assert.True(t, os.IsNotExist(statErr), "check must not write")

	_, err = newSystem(t, root, nil).Generate(context.Background())
	require.NoError(t, err)

	result, err = check.Generate(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Unchanged)
	assert.False(t, result.Written)

	writeFile(t, root, "internal/app/extra.go", "package app\n\n//autowire:injectable\ntype ServiceD struct{}\n")
	_, err = check.Generate(context.Background())
	assert.True(t, errors.Is(err, ErrStale))
}

func TestSystem_Generate_CycleLeavesArtifactUntouched(t *testing.T) {
	root := shopModule(t)
	sys := newSystem(t, root, nil)

	_, err := sys.Generate(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(sys.OutputPath())
	require.NoError(t, err)

	writeFile(t, root, "internal/loop/loop.go", `package loop

//autowire:injectable
type X struct{}

func NewX(y *Y) *X { return &X{} }

//autowire:injectable
type Y struct{}

func NewY(x *X) *Y { return &Y{} }
`)

	result, err := sys.Generate(context.Background())
	var cycle *graph.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Contains(t, []string{"X", "Y"}, cycle.Node)
	assert.False(t, result.Written)

	after, err := os.ReadFile(sys.OutputPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSystem_Generate_ExcludedDependency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/z\n\ngo 1.23\n")
	writeFile(t, root, "svc/z.go", `package svc

//autowire:injectable
type Z struct{}

func NewZ(w *W) *Z { return &Z{} }
`)
	writeFile(t, root, "svc/w_dto.go", `package svc

//autowire:injectable
type W struct{}
`)

	result, err := newSystem(t, root, nil).Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Z"}, result.Order)
	assert.Equal(t, []string{"W"}, result.Unknown)
	assert.Equal(t, map[string][]string{"W": {"Z"}}, result.RequiredBy)
}

func TestSystem_Generate_ShapeMismatch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/v\n\ngo 1.23\n")
	writeFile(t, root, "svc/svc.go", `package svc

//autowire:injectable
type Clock struct{}

func NewClock() Clock { return Clock{} }

//autowire:injectable
type Ledger struct{}

func NewLedger() *Ledger { return &Ledger{} }

//autowire:injectable
type Billing struct{}

func NewBilling(clock *Clock, ledger Ledger, sameShape *Ledger) *Billing { return &Billing{} }
`)

	result, err := newSystem(t, root, nil).Generate(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Written)
	assert.Equal(t, []ShapeMismatch{
		{Class: "Billing", Param: "clock", Dependency: "Clock", Pointer: true},
		{Class: "Billing", Param: "ledger", Dependency: "Ledger", Pointer: false},
	}, result.Mismatches)

	assert.Equal(t, "Billing takes clock as *Clock, but Clock is constructed as Clock", result.Mismatches[0].String())
	assert.Equal(t, "Billing takes ledger as Ledger, but Ledger is constructed as *Ledger", result.Mismatches[1].String())
	assert.Equal(t, "X takes a parameter as *Y, but Y is constructed as Y", ShapeMismatch{Class: "X", Dependency: "Y", Pointer: true}.String())
}

func TestSystem_Generate_SkipsBrokenFiles(t *testing.T) {
	root := shopModule(t)
	writeFile(t, root, "internal/app/broken.go", "package app\n\nfunc {")

	result, err := newSystem(t, root, nil).Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Skipped, 1)
	assert.True(t, strings.HasSuffix(result.Skipped[0], "broken.go"))
	assert.Len(t, result.Order, 4)
}

func TestSystem_Generate_DuplicateNames(t *testing.T) {
	root := shopModule(t)
	writeFile(t, root, "internal/other/service.go", "package other\n\n//autowire:injectable\ntype ServiceA struct{}\n")

	_, err := newSystem(t, root, nil).Generate(context.Background())
	var dup *graph.DuplicateClassError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "ServiceA", dup.Name)

	result, err := newSystem(t, root, func(o *Options) { o.AllowDuplicates = true }).Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Order, 4)
}

func TestSystem_Generate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSystem(t, shopModule(t), nil).Generate(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSystem_Analyze(t *testing.T) {
	analysis, err := newSystem(t, shopModule(t), nil).Analyze(context.Background())
	require.NoError(t, err)

	assert.Len(t, analysis.Classes, 4)
	assert.Equal(t, []string{"ServiceB", "GuardG"}, analysis.Graph.Dependencies("ControllerC"))
	assert.Equal(t, "controller", string(analysis.Index["ControllerC"].Kind))
}

func TestInferPackage(t *testing.T) {
	dir := t.TempDir()
	app := filepath.Join(dir, "cmd", "api")
	writeFile(t, dir, "cmd/api/main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, dir, "cmd/api/main_test.go", "package main_test\n")
	assert.Equal(t, "main", inferPackage(app, filepath.Join(app, "wiring_gen.go")))

	assert.Equal(t, "mywiring", inferPackage(filepath.Join(dir, "my-wiring"), ""))
	assert.Equal(t, codegen.DefaultPackage, inferPackage(filepath.Join(dir, "123"), ""))
}

func TestSystem_PetstoreExampleIsCurrent(t *testing.T) {
	opts := DefaultOptions()
	opts.Root = filepath.Join("..", "..", "..", "examples", "petstore")
	opts.Output = "wiring_gen.go"
	opts.Check = true

	sys, err := NewSystem(opts, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := sys.Generate(context.Background())
	require.NoError(t, err, "run `go generate ./examples/petstore` to refresh the wiring")
	assert.True(t, result.Unchanged)
	assert.Equal(t, []string{"Config", "PetRepository", "ViewCounter", "PetGateway", "AuthGuard", "PetController"}, result.Order)
	assert.Empty(t, result.Unknown)
}
