package vm

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ollang/ollang/compiler"
	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// sourceExt is appended when an import path names no existing file.
const sourceExt = ".oll"

// source is a resolved import.
type source struct {
	key  string // cache key: "virtual:" + name, or an absolute file path
	file string
	data []byte
}

// importModule loads, runs and caches the module at path and returns its
// exports. The cache is shared by every VM of one import tree, so a module
// runs once however many modules import it. Exported names are also merged
// into this VM's globals without replacing existing bindings.
func (vm *VM) importModule(path string) (*value.Map, error) {
	src, err := vm.resolve(path)
	if err != nil {
		return nil, vm.importFailed(path, err)
	}
	if exports, ok := vm.imports[src.key]; ok {
		vm.mergeExports(exports)
		return exports, nil
	}
	if vm.loading[src.key] {
		return nil, vm.importFailed(path, fmt.Errorf("circular import of %s", src.file))
	}

	module, err := vm.load(src)
	if err != nil {
		return nil, vm.importFailed(path, err)
	}

	child := vm.fork(module, vm.cfg.globals)
	child.parent = vm
	child.imports = vm.imports
	child.loading = maps.Clone(vm.loading)
	if child.loading == nil {
		child.loading = make(map[string]bool)
	}
	child.loading[src.key] = true
	vm.children = append(vm.children, child)

	if _, err := child.Run(vm.ctx); err != nil {
		return nil, vm.importFailed(path, err)
	}

	exports := child.exports()
	vm.mergeExports(exports)
	vm.imports[src.key] = exports
	vm.log.Debugf("imported %s from %s (%d exports)", path, src.file, exports.Len())
	return exports, nil
}

// mergeExports binds exported names that this VM does not define yet.
func (vm *VM) mergeExports(exports *value.Map) {
	exports.Range(func(k, v value.Value) bool {
		name := k.String()
		if _, exists := vm.globals[name]; !exists {
			vm.globals[name] = v
		}
		return true
	})
}

func (vm *VM) importFailed(path string, err error) error {
	vm.log.Debugf("import %s failed: %s", path, err)
	return &importError{path: path, err: err}
}

// resolve finds path among the virtual files of this VM and its importers,
// then on disk: as given, next to the importing module, and under each
// library directory. Each location is tried with and without the source
// extension.
func (vm *VM) resolve(path string) (*source, error) {
	names := []string{path, path + sourceExt}
	for v := vm; v != nil; v = v.parent {
		for _, name := range names {
			if data, ok := v.module.VirtualFiles[name]; ok {
				return &source{key: "virtual:" + name, file: name, data: data}, nil
			}
		}
	}

	dirs := []string{""}
	if !filepath.IsAbs(path) {
		if vm.module.FilePath != "" {
			dirs = append(dirs, filepath.Dir(vm.module.FilePath))
		}
		dirs = append(dirs, vm.cfg.libraryPaths...)
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			data, err := os.ReadFile(candidate)
			if err != nil {
				return nil, err
			}
			abs, err := filepath.Abs(candidate)
			if err != nil {
				abs = candidate
			}
			return &source{key: abs, file: candidate, data: data}, nil
		}
	}
	return nil, errNotFound
}

// load turns a resolved import into a module: compiled modules are decoded,
// JSON syntax trees are compiled, and anything else goes through the
// frontend.
func (vm *VM) load(src *source) (*bytecode.Module, error) {
	if bytecode.IsModule(src.data) || bytecode.IsCompressed(src.data) {
		m, err := bytecode.DeserializeModule(src.data)
		if err != nil {
			return nil, err
		}
		if m.FilePath == "" {
			m.FilePath = src.file
		}
		return m, nil
	}

	var prog *ast.Program
	var err error
	if strings.HasSuffix(src.file, ".json") || looksLikeJSON(src.data) {
		prog, err = ast.ParseBytes(src.data)
	} else {
		if vm.cfg.frontend == nil {
			return nil, ErrNoFrontend
		}
		prog, err = vm.cfg.frontend.Parse(src.file, src.data)
	}
	if err != nil {
		return nil, err
	}
	return vm.compile(src.file, prog)
}

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// compile compiles an imported syntax tree, going through the module cache
// when one is configured. Cache failures only cost a recompile.
func (vm *VM) compile(file string, prog *ast.Program) (*bytecode.Module, error) {
	opts := vm.cfg.compile
	var key [32]byte
	cached := vm.cfg.cache != nil
	if cached {
		var err error
		if key, err = compiler.CacheKey(prog, opts); err != nil {
			vm.log.Warningf("cache key for %s: %s", file, err)
			cached = false
		}
	}
	if cached {
		m, ok, err := vm.cfg.cache.Lookup(key)
		switch {
		case err != nil:
			vm.log.Warningf("module cache lookup for %s: %s", file, err)
		case ok:
			vm.log.Debugf("module cache hit for %s", file)
			// The entry may have been stored for another file with the same
			// content; relative imports must resolve against this one.
			hit := *m
			hit.Name = compiler.ModuleName(file)
			hit.FilePath = file
			return &hit, nil
		}
	}

	c := compiler.New(compiler.ModuleName(file), opts)
	c.SetFilePath(file)
	c.AddKnownGlobal(slices.Sorted(maps.Keys(vm.cfg.globals))...)
	m, err := c.Compile(prog)
	if err != nil {
		return nil, err
	}
	if cached {
		if err := vm.cfg.cache.Store(key, file, m); err != nil {
			vm.log.Warningf("module cache store for %s: %s", file, err)
		}
	}
	return m, nil
}

// exports collects the bindings a module makes visible to importers: its
// declared exports, or every global that is not a host builtin.
func (vm *VM) exports() *value.Map {
	m := value.NewMap()
	if len(vm.module.Exports) > 0 {
		for _, name := range vm.module.Exports {
			if v, ok := vm.globals[name]; ok {
				m.Set(value.String(name), v)
			}
		}
		return m
	}
	for _, name := range slices.Sorted(maps.Keys(vm.globals)) {
		v := vm.globals[name]
		if _, builtin := v.(*value.Builtin); builtin {
			continue
		}
		if _, host := vm.cfg.globals[name]; host {
			continue
		}
		m.Set(value.String(name), v)
	}
	return m
}
