package vm

import (
	"io"

	"github.com/tliron/commonlog"

	"github.com/ollang/ollang/compiler"
	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
	"github.com/ollang/ollang/vm/gc"
)

// Frontend turns source text into a syntax tree. Imports of source files
// that are neither compiled modules nor JSON syntax trees go through it.
type Frontend interface {
	Parse(path string, src []byte) (*ast.Program, error)
}

// ClosureEvaluator is implemented by frontends that can run interpreted
// closures.
type ClosureEvaluator interface {
	CallClosure(ctx value.Context, c *value.Closure, args []value.Value) (value.Value, error)
}

// ModuleCache stores compiled imports keyed by syntax-tree hash.
type ModuleCache interface {
	Lookup(key [32]byte) (*bytecode.Module, bool, error)
	Store(key [32]byte, path string, m *bytecode.Module) error
}

type config struct {
	globals      map[string]value.Value
	libraryPaths []string
	stdout       io.Writer
	trace        io.Writer
	log          commonlog.Logger
	frontend     Frontend
	gcConfig     gc.Config
	cache        ModuleCache
	compile      compiler.Options
}

// Option configures a VM.
type Option func(*config)

// WithGlobals seeds globals after the module's own bindings.
func WithGlobals(globals map[string]value.Value) Option {
	return func(c *config) {
		for name, v := range globals {
			c.globals[name] = v
		}
	}
}

// WithLibraryPaths sets the directories searched by imports after the
// literal path.
func WithLibraryPaths(paths ...string) Option {
	return func(c *config) { c.libraryPaths = append(c.libraryPaths, paths...) }
}

// WithStdout redirects print and println.
func WithStdout(w io.Writer) Option {
	return func(c *config) { c.stdout = w }
}

// WithLogger replaces the "ollang.vm" logger.
func WithLogger(log commonlog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithFrontend sets the parser used for source imports.
func WithFrontend(f Frontend) Option {
	return func(c *config) { c.frontend = f }
}

// WithGCConfig tunes the native-memory collector.
func WithGCConfig(cfg gc.Config) Option {
	return func(c *config) { c.gcConfig = cfg }
}

// WithModuleCache stores and reuses compiled imports.
func WithModuleCache(cache ModuleCache) Option {
	return func(c *config) { c.cache = cache }
}

// WithCompilerOptions sets how imported syntax trees are compiled.
func WithCompilerOptions(opts compiler.Options) Option {
	return func(c *config) { c.compile = opts }
}

// WithTrace writes one line per executed instruction to w.
func WithTrace(w io.Writer) Option {
	return func(c *config) { c.trace = w }
}
