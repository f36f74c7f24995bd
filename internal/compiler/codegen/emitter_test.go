package codegen

import (
	"errors"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/autowire/internal/compiler/metadata"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func testModule() *Module {
	return &Module{Root: "/src/shop", Path: "example.com/shop"}
}

func meta(name, dir, pkg string, params ...metadata.Param) *metadata.ClassMetadata {
	m := &metadata.ClassMetadata{
		Name:           name,
		Kind:           metadata.KindInjectable,
		Injectable:     true,
		Constructor:    "New" + name,
		Params:         params,
		ReturnsPointer: true,
		Package:        pkg,
		Dir:            dir,
		Origin:         filepath.Join(dir, strings.ToLower(name)+".go"),
	}
	for _, p := range params {
		if p.Dependency {
			m.ConstructorDependencyNames = append(m.ConstructorDependencyNames, p.TypeName)
		}
	}
	return m
}

func dep(name string) metadata.Param {
	return metadata.Param{TypeName: name, Dependency: true}
}

func placeholder() metadata.Param {
	return metadata.Param{}
}

func index(classes ...*metadata.ClassMetadata) map[string]*metadata.ClassMetadata {
	out := make(map[string]*metadata.ClassMetadata, len(classes))
	for _, c := range classes {
		out[c.Name] = c
	}
	return out
}

func TestEmitter_SingleClass(t *testing.T) {
	e := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow})

	out, err := e.Emit([]string{"ServiceA"}, index(meta("ServiceA", "/src/shop/internal/app", "app")))
	require.NoError(t, err)

	expected := `// Code generated by autowire. DO NOT EDIT.
// Generated at: 2024-01-02T03:04:05Z

package wiring

import (
	"example.com/shop/internal/app"
	"github.com/conduit-lang/autowire/pkg/container"
)

var (
	serviceA *app.ServiceA
)

// Register adds every class to c, dependencies first.
func Register(c *container.Container) error {
	if err := c.Register("ServiceA", app.NewServiceA); err != nil {
		return err
	}
	return nil
}

// Bootstrap registers every class and resolves one instance of each.
func Bootstrap(c *container.Container) error {
	if err := Register(c); err != nil {
		return err
	}

	var err error
	if serviceA, err = container.Resolve[*app.ServiceA](c, "ServiceA"); err != nil {
		return err
	}
	return nil
}
`
	assert.Equal(t, expected, string(out))
}

func TestEmitter_RegistrationsFollowOrder(t *testing.T) {
	classes := index(
		meta("ServiceA", "/src/shop/internal/app", "app"),
		meta("ServiceB", "/src/shop/internal/app", "app", dep("ServiceA"), placeholder()),
		meta("GuardG", "/src/shop/internal/auth", "auth"),
		meta("ControllerC", "/src/shop/internal/web", "web", dep("ServiceB")),
	)
	classes["GuardG"].Kind = metadata.KindGuard
	classes["ControllerC"].Kind = metadata.KindController
	classes["ControllerC"].GuardDependencyNames = []string{"GuardG"}

	order := []string{"ServiceA", "GuardG", "ServiceB", "ControllerC"}
	e := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow, Comments: true})

	out, err := e.Emit(order, classes)
	require.NoError(t, err)
	code := string(out)

	registrations := []string{
		`c.Register("ServiceA", app.NewServiceA)`,
		`c.Register("GuardG", auth.NewGuardG)`,
		`c.Register("ServiceB", app.NewServiceB, "ServiceA", container.Zero)`,
		`c.Register("ControllerC", web.NewControllerC, "ServiceB")`,
	}
	last := -1
	for _, r := range registrations {
		pos := strings.Index(code, r)
		require.GreaterOrEqual(t, pos, 0, "missing %s", r)
		assert.Greater(t, pos, last, "%s out of order", r)
		last = pos
	}

	assert.Contains(t, code, "// ControllerC (controller) internal/web/controllerc.go")
	assert.Contains(t, code, `controllerC, err = container.Resolve[*web.ControllerC](c, "ControllerC")`)

	// imports are sorted by path and listed once
	appImport := strings.Index(code, `"example.com/shop/internal/app"`)
	authImport := strings.Index(code, `"example.com/shop/internal/auth"`)
	webImport := strings.Index(code, `"example.com/shop/internal/web"`)
	assert.True(t, appImport < authImport && authImport < webImport)
	assert.Equal(t, 1, strings.Count(code, `"example.com/shop/internal/app"`))

	_, err = parser.ParseFile(token.NewFileSet(), "wiring_gen.go", out, parser.AllErrors)
	assert.NoError(t, err)
}

func TestEmitter_IdempotentModuloTimestamp(t *testing.T) {
	classes := index(
		meta("ServiceA", "/src/shop/internal/app", "app"),
		meta("ServiceB", "/src/shop/internal/app", "app", dep("ServiceA")),
	)
	order := []string{"ServiceA", "ServiceB"}

	first, err := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow}).Emit(order, classes)
	require.NoError(t, err)

	later := func() time.Time { return fixedNow().Add(time.Hour) }
	second, err := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: later}).Emit(order, classes)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, Equivalent(first, second))
	assert.Equal(t, StripHeader(first), StripHeader(second))
}

func TestEmitter_ReusedEmitterResets(t *testing.T) {
	e := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow})
	classes := index(meta("ServiceA", "/src/shop/internal/app", "app"))

	first, err := e.Emit([]string{"ServiceA"}, classes)
	require.NoError(t, err)
	second, err := e.Emit([]string{"ServiceA"}, classes)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEmitter_AliasesCollidingPackages(t *testing.T) {
	classes := index(
		meta("UserStore", "/src/shop/internal/users/store", "store"),
		meta("OrderStore", "/src/shop/internal/orders/store", "store"),
		meta("Registry", "/src/shop/internal/container", "container"),
	)
	order := []string{"UserStore", "OrderStore", "Registry"}

	out, err := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow}).Emit(order, classes)
	require.NoError(t, err)
	code := string(out)

	// paths sort orders before users, so orders keeps the plain name
	assert.Contains(t, code, `"example.com/shop/internal/orders/store"`)
	assert.Contains(t, code, `store2 "example.com/shop/internal/users/store"`)
	assert.Contains(t, code, `container2 "example.com/shop/internal/container"`)
	assert.Contains(t, code, `c.Register("UserStore", store2.NewUserStore)`)
	assert.Contains(t, code, `c.Register("OrderStore", store.NewOrderStore)`)
	assert.Contains(t, code, `c.Register("Registry", container2.NewRegistry)`)
}

func TestEmitter_VariableNames(t *testing.T) {
	classes := index(
		meta("Type", "/src/shop/internal/app", "app"),
		meta("App", "/src/shop/internal/app", "app"),
		meta("Err", "/src/shop/internal/app", "app"),
		meta("URLParser", "/src/shop/internal/app", "app"),
	)
	order := []string{"Type", "App", "Err", "URLParser"}

	out, err := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow}).Emit(order, classes)
	require.NoError(t, err)
	code := string(out)

	assert.Contains(t, code, "typeInstance ")
	assert.Contains(t, code, "appInstance ")
	assert.Contains(t, code, "errInstance ")
	assert.Contains(t, code, "uRLParser ")
}

func TestEmitter_LocalClasses(t *testing.T) {
	local := meta("store", "/src/shop/cmd/api", "main")
	local.Constructor = ""
	server := meta("Server", "/src/shop/cmd/api", "main", dep("store"))

	e := NewEmitter(EmitterOptions{Package: "main", OutputDir: "/src/shop/cmd/api", Module: testModule(), Now: fixedNow})
	out, err := e.Emit([]string{"store", "Server"}, index(local, server))
	require.NoError(t, err)
	code := string(out)

	assert.Contains(t, code, "package main")
	assert.Contains(t, code, `c.Register("store", func() *store { return new(store) })`)
	assert.Contains(t, code, `c.Register("Server", NewServer, "store")`)
	assert.Contains(t, code, `storeInstance, err = container.Resolve[*store](c, "store")`)
	assert.NotContains(t, code, "example.com/shop")
}

func TestEmitter_ValueConstructor(t *testing.T) {
	clock := meta("Clock", "/src/shop/internal/app", "app")
	clock.ReturnsPointer = false

	out, err := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow}).Emit([]string{"Clock"}, index(clock))
	require.NoError(t, err)
	assert.Contains(t, string(out), `container.Resolve[app.Clock](c, "Clock")`)
}

func TestEmitter_EmptyOrder(t *testing.T) {
	out, err := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow}).Emit(nil, nil)
	require.NoError(t, err)
	code := string(out)

	assert.Contains(t, code, "func Register(c *container.Container) error")
	assert.Contains(t, code, "func Bootstrap(c *container.Container) error")
	assert.NotContains(t, code, "var err error")
	assert.NotContains(t, code, "var (")
}

func TestEmitter_ImportErrors(t *testing.T) {
	tests := []struct {
		name   string
		class  *metadata.ClassMetadata
		reason string
	}{
		{
			name:   "main package elsewhere",
			class:  meta("Tool", "/src/shop/cmd/tool", "main"),
			reason: "package main",
		},
		{
			name:   "unexported type elsewhere",
			class:  meta("hidden", "/src/shop/internal/app", "app"),
			reason: "not exported",
		},
		{
			name:   "outside module",
			class:  meta("Vendor", "/elsewhere/lib", "lib"),
			reason: "outside module",
		},
		{
			name:   "wrong package in output dir",
			class:  meta("Local", "/src/shop/wiring", "other"),
			reason: "output package is wiring",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEmitter(EmitterOptions{OutputDir: "/src/shop/wiring", Module: testModule(), Now: fixedNow})
			_, err := e.Emit([]string{tt.class.Name}, index(tt.class))

			var importErr *ImportError
			require.True(t, errors.As(err, &importErr))
			assert.Equal(t, tt.class.Name, importErr.Class)
			assert.Contains(t, importErr.Reason, tt.reason)
		})
	}
}

func TestEmitter_MissingMetadata(t *testing.T) {
	_, err := NewEmitter(EmitterOptions{Module: testModule()}).Emit([]string{"Ghost"}, nil)
	assert.Error(t, err)
}

func TestFindModule(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module example.com/shop\n\ngo 1.23\n"), 0o644))
	nested := filepath.Join(root, "internal", "app")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	mod, err := FindModule(nested)
	require.NoError(t, err)
	assert.Equal(t, "example.com/shop", mod.Path)

	resolvedRoot, err := filepath.Abs(root)
	require.NoError(t, err)
	assert.Equal(t, resolvedRoot, mod.Root)

	path, err := mod.ImportPath(nested)
	require.NoError(t, err)
	assert.Equal(t, "example.com/shop/internal/app", path)

	path, err = mod.ImportPath(mod.Root)
	require.NoError(t, err)
	assert.Equal(t, "example.com/shop", path)

	assert.Equal(t, "internal/app/a.go", mod.Rel(filepath.Join(nested, "a.go")))
}

func TestFindModule_NotFound(t *testing.T) {
	_, err := FindModule(t.TempDir())
	// a go.mod may exist above the temp dir on some machines
	if err != nil {
		assert.True(t, errors.Is(err, ErrNoModule))
	}
}

func TestWriteFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "wiring", "wiring_gen.go")

	require.NoError(t, WriteFile(target, []byte("first\n")))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(data))

	require.NoError(t, WriteFile(target, []byte("second\n")))
	data, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStripHeader(t *testing.T) {
	data := []byte(generatedBanner + "\n" + timestampPrefix + "2024-01-02T03:04:05Z\n\npackage wiring\n")
	assert.Equal(t, generatedBanner+"\n\npackage wiring\n", string(StripHeader(data)))
	assert.Equal(t, "package x\n", string(StripHeader([]byte("package x\n"))))
}
