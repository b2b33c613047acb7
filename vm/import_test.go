package vm

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

func importAs(path, alias string) ast.Node { return &ast.Import{Path: path, Alias: alias} }

// libProgram declares answer = 42 and double(x).
func libProgram(body ...ast.Node) *ast.Program {
	return program(append([]ast.Node{
		decl("answer", num(42)),
		fn("double", []string{"x"}, ret(bin(ident("x"), "*", num(2)))),
	}, body...)...)
}

func encode(t *testing.T, prog *ast.Program) []byte {
	t.Helper()
	data, err := ast.Encode(prog)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return data
}

// withVirtual compiles prog and embeds files into the module.
func withVirtual(t *testing.T, prog *ast.Program, files map[string][]byte) *bytecode.Module {
	t.Helper()
	m := compile(t, prog, 1)
	for name, data := range files {
		m.VirtualFiles[name] = data
	}
	return m
}

// useLib returns lib.answer + double(1).
func useLib(path string) *ast.Program {
	return program(
		importAs(path, "lib"),
		ret(bin(member(ident("lib"), "answer"), "+", call("double", num(1)))),
	)
}

func TestImport_VirtualSyntaxTree(t *testing.T) {
	m := withVirtual(t, useLib("lib"), map[string][]byte{"lib": encode(t, libProgram())})
	o := runModule(t, m)
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !value.Equal(o.result.Value, value.Number(44)) {
		t.Errorf("result = %v, want 44", o.result.Value)
	}
}

func TestImport_CompiledModuleFromLibraryPath(t *testing.T) {
	lib := compile(t, libProgram(), 2)
	data, err := lib.SerializeCompressed()
	if err != nil {
		t.Fatalf("SerializeCompressed() error = %v", err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mathlib"+sourceExt), data, 0o644); err != nil {
		t.Fatal(err)
	}

	o := runModule(t, compile(t, useLib("mathlib"), 1), WithLibraryPaths(dir))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !value.Equal(o.result.Value, value.Number(44)) {
		t.Errorf("result = %v, want 44", o.result.Value)
	}
}

func TestImport_RelativeToImporter(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lib.json"), encode(t, libProgram()), 0o644); err != nil {
		t.Fatal(err)
	}
	m := compile(t, useLib("lib.json"), 1)
	m.FilePath = filepath.Join(dir, "main.oll")

	o := runModule(t, m)
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !value.Equal(o.result.Value, value.Number(44)) {
		t.Errorf("result = %v, want 44", o.result.Value)
	}
}

func TestImport_RunsOncePerVM(t *testing.T) {
	lib := encode(t, libProgram(printLine(str("loaded"))))
	prog := program(
		importAs("lib", "a"),
		importAs("lib", "b"),
		ret(bin(ident("a"), "==", ident("b"))),
	)
	o := runModule(t, withVirtual(t, prog, map[string][]byte{"lib": lib}))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if o.stdout != "loaded\n" {
		t.Errorf("stdout = %q, want one load", o.stdout)
	}
	if !value.Equal(o.result.Value, value.True) {
		t.Error("second import returned a different exports table")
	}
}

func TestImport_DiamondRunsSharedModuleOnce(t *testing.T) {
	// main imports a and b, and both import c.
	files := map[string][]byte{
		"c": encode(t, program(printLine(str("c loaded")), decl("shared", num(20)))),
		"a": encode(t, program(importAs("c", "c"), decl("fromA", member(ident("c"), "shared")))),
		"b": encode(t, program(importAs("c", "c"), decl("fromB", bin(ident("shared"), "+", num(2))))),
	}
	prog := program(
		importAs("a", "a"),
		importAs("b", "b"),
		ret(bin(ident("fromA"), "+", ident("fromB"))),
	)
	o := runModule(t, withVirtual(t, prog, files))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if o.stdout != "c loaded\n" {
		t.Errorf("stdout = %q, want c to run once", o.stdout)
	}
	if !value.Equal(o.result.Value, value.Number(42)) {
		t.Errorf("result = %v, want 42", o.result.Value)
	}
}

func TestImport_ExistingGlobalsWin(t *testing.T) {
	prog := program(
		decl("answer", num(1)),
		importAs("lib", "lib"),
		ret(ident("answer")),
	)
	o := runModule(t, withVirtual(t, prog, map[string][]byte{"lib": encode(t, libProgram())}))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !value.Equal(o.result.Value, value.Number(1)) {
		t.Errorf("answer = %v, want the importer's own binding", o.result.Value)
	}
}

func TestImport_Errors(t *testing.T) {
	tests := []struct {
		name  string
		prog  *ast.Program
		files map[string][]byte
		want  string
		is    error
	}{
		{
			name: "not found",
			prog: useLib("missing"),
			want: "could not resolve module",
		},
		{
			name:  "source without frontend",
			prog:  useLib("lib"),
			files: map[string][]byte{"lib" + sourceExt: []byte("var answer = 42")},
			want:  "no frontend configured",
			is:    ErrNoFrontend,
		},
		{
			name: "circular",
			prog: useLib("a"),
			files: map[string][]byte{
				"a": encode(t, program(importAs("b", "b"))),
				"b": encode(t, program(importAs("a", "a"))),
			},
			want: "circular import",
		},
		{
			name:  "failing module body",
			prog:  useLib("lib"),
			files: map[string][]byte{"lib": encode(t, program(&ast.Throw{Value: str("broken")}))},
			want:  "broken",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := runModule(t, withVirtual(t, tt.prog, tt.files))
			var rt *RuntimeError
			if !errors.As(o.err, &rt) {
				t.Fatalf("Run() error = %v, want *RuntimeError", o.err)
			}
			if rt.Kind != KindImport {
				t.Errorf("Kind = %s, want %s", rt.Kind, KindImport)
			}
			if !strings.Contains(rt.Message, tt.want) {
				t.Errorf("Message = %q, want it to contain %q", rt.Message, tt.want)
			}
			if tt.is != nil && !errors.Is(o.err, tt.is) {
				t.Errorf("errors.Is(%v, %v) = false", o.err, tt.is)
			}
		})
	}
}

func TestImport_NotFoundHint(t *testing.T) {
	o := run(t, useLib("missing"))
	var rt *RuntimeError
	if !errors.As(o.err, &rt) {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !strings.Contains(rt.Hint, "module exists") {
		t.Errorf("Hint = %q", rt.Hint)
	}
}

func TestImport_FailureIsCatchable(t *testing.T) {
	prog := program(&ast.Try{
		Body:     []ast.Node{importAs("missing", "m")},
		CatchVar: "e",
		Catch:    []ast.Node{ret(ident("e"))},
	})
	o := mustRun(t, prog)
	if got := o.result.Value.String(); !strings.HasPrefix(got, "Import error: 'missing'") {
		t.Errorf("caught %q", got)
	}
}

type fakeFrontend struct {
	parsed []string
}

func (f *fakeFrontend) Parse(path string, _ []byte) (*ast.Program, error) {
	f.parsed = append(f.parsed, path)
	return libProgram(), nil
}

func TestImport_Frontend(t *testing.T) {
	front := &fakeFrontend{}
	m := withVirtual(t, useLib("lib"), map[string][]byte{"lib" + sourceExt: []byte("source text")})
	o := runModule(t, m, WithFrontend(front))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !value.Equal(o.result.Value, value.Number(44)) {
		t.Errorf("result = %v, want 44", o.result.Value)
	}
	if len(front.parsed) != 1 || front.parsed[0] != "lib"+sourceExt {
		t.Errorf("parsed = %v, want [lib%s]", front.parsed, sourceExt)
	}
}

type fakeCache struct {
	modules       map[[32]byte]*bytecode.Module
	hits, lookups int
	stored        []string
}

func (c *fakeCache) Lookup(key [32]byte) (*bytecode.Module, bool, error) {
	c.lookups++
	m, ok := c.modules[key]
	if ok {
		c.hits++
	}
	return m, ok, nil
}

func (c *fakeCache) Store(key [32]byte, path string, m *bytecode.Module) error {
	c.modules[key] = m
	c.stored = append(c.stored, path)
	return nil
}

func TestImport_ModuleCache(t *testing.T) {
	cache := &fakeCache{modules: make(map[[32]byte]*bytecode.Module)}
	files := map[string][]byte{"lib": encode(t, libProgram())}

	for i := range 2 {
		o := runModule(t, withVirtual(t, useLib("lib"), files), WithModuleCache(cache))
		if o.err != nil {
			t.Fatalf("run %d: Run() error = %v", i, o.err)
		}
		if !value.Equal(o.result.Value, value.Number(44)) {
			t.Errorf("run %d: result = %v, want 44", i, o.result.Value)
		}
	}
	if cache.lookups != 2 || cache.hits != 1 {
		t.Errorf("lookups = %d, hits = %d, want 2 and 1", cache.lookups, cache.hits)
	}
	if len(cache.stored) != 1 || cache.stored[0] != "lib" {
		t.Errorf("stored = %v, want [lib]", cache.stored)
	}
}

func TestImport_CacheHitKeepsImporterLocation(t *testing.T) {
	// Two byte-identical libraries in different directories each import
	// their own sibling.
	lib := encode(t, program(importAs("sibling.json", "s"), decl("v", member(ident("s"), "n"))))
	root := t.TempDir()
	var libs []string
	for i, n := range []float64{1, 2} {
		dir := filepath.Join(root, []string{"one", "two"}[i])
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, "lib.json")
		if err := os.WriteFile(path, lib, 0o644); err != nil {
			t.Fatal(err)
		}
		sibling := encode(t, program(decl("n", num(n))))
		if err := os.WriteFile(filepath.Join(dir, "sibling.json"), sibling, 0o644); err != nil {
			t.Fatal(err)
		}
		libs = append(libs, path)
	}

	cache := &fakeCache{modules: make(map[[32]byte]*bytecode.Module)}
	prog := program(
		importAs(libs[0], "x"),
		importAs(libs[1], "y"),
		ret(bin(bin(member(ident("x"), "v"), "*", num(10)), "+", member(ident("y"), "v"))),
	)
	o := runModule(t, compile(t, prog, 1), WithModuleCache(cache))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if cache.hits == 0 {
		t.Fatal("second library was not served from the cache")
	}
	if !value.Equal(o.result.Value, value.Number(12)) {
		t.Errorf("x.v*10 + y.v = %v, want 12", o.result.Value)
	}
}

type failingCache struct{}

func (failingCache) Lookup([32]byte) (*bytecode.Module, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func (failingCache) Store([32]byte, string, *bytecode.Module) error {
	return errors.New("disk on fire")
}

func TestImport_CacheFailureOnlyCostsRecompile(t *testing.T) {
	m := withVirtual(t, useLib("lib"), map[string][]byte{"lib": encode(t, libProgram())})
	o := runModule(t, m, WithModuleCache(failingCache{}))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !value.Equal(o.result.Value, value.Number(44)) {
		t.Errorf("result = %v, want 44", o.result.Value)
	}
}

func TestImport_HostGlobalsReachImportedModule(t *testing.T) {
	lib := encode(t, program(decl("answer", ident("seed"))))
	prog := program(importAs("lib", "lib"), ret(member(ident("lib"), "answer")))
	o := runModule(t, withVirtual(t, prog, map[string][]byte{"lib": lib}),
		WithGlobals(map[string]value.Value{"seed": value.Number(9)}))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if !value.Equal(o.result.Value, value.Number(9)) {
		t.Errorf("lib.answer = %v, want 9", o.result.Value)
	}
}
