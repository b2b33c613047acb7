package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ollang/ollang/compiler"
	"github.com/ollang/ollang/internal/modcache"
	"github.com/ollang/ollang/manifest"
	"github.com/ollang/ollang/pkg/bytecode"
)

// project is the configuration a command runs under: the nearest
// ollang.toml, or defaults rooted at the working directory.
type project struct {
	*manifest.Manifest
	found bool
}

func loadProject(e *env) (*project, error) {
	m, err := manifest.FindAndLoad(e.dir)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		return &project{Manifest: manifest.Default(e.dir)}, nil
	}
	return &project{Manifest: m, found: true}, nil
}

// libraryPaths returns extra directories first, then the project's own and
// those of its dependencies.
func (p *project) libraryPaths(extra []string) ([]string, error) {
	paths := append([]string(nil), extra...)
	if !p.found {
		return paths, nil
	}
	deps, err := manifest.NewResolver(p.Manifest).LibraryPaths()
	if err != nil {
		return nil, fmt.Errorf("resolving dependencies: %w", err)
	}
	return append(paths, deps...), nil
}

// openCache opens the project's module cache, or returns nil when caching
// is disabled.
func (p *project) openCache() (*modcache.Cache, error) {
	path := p.CachePath()
	if path == "" {
		return nil, nil
	}
	return modcache.Open(path)
}

// entry picks the file a command operates on: the argument, or the
// manifest's entry point.
func (p *project) entry(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if e := p.EntryPath(); e != "" {
		return e, nil
	}
	return "", fmt.Errorf("no input file and no [project] entry in %s", manifest.FileName)
}

// loadModule reads a compiled module, or compiles a JSON syntax tree with
// opts.
func loadModule(path string, opts compiler.Options) (*bytecode.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytecode.IsModule(data) {
		m, err := bytecode.DeserializeModule(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if m.FilePath == "" {
			m.FilePath = path
		}
		return m, nil
	}
	return compiler.CompileJSON(path, data, opts)
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
