// Package manifest handles ollang.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/ollang/ollang/compiler"
	"github.com/ollang/ollang/internal/modcache"
	"github.com/ollang/ollang/vm/gc"
)

// FileName is the manifest file looked up in project directories.
const FileName = "ollang.toml"

var log = commonlog.GetLogger("ollang.manifest")

// Manifest represents an ollang.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Compiler     compiler.Options      `toml:"compiler"`
	Runtime      Runtime               `toml:"runtime"`
	GC           gc.Config             `toml:"gc"`
	Cache        Cache                 `toml:"cache"`
	Dependencies map[string]Dependency `toml:"dependencies"`

	// Dir is the directory containing the ollang.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"`
}

// Runtime configures the virtual machine.
type Runtime struct {
	LibraryPaths []string `toml:"library-paths"`
	Trace        bool     `toml:"trace"`
}

// Cache configures the compiled-module cache.
type Cache struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Dependency represents a single project dependency. Its directory is added
// to the import search path.
type Dependency struct {
	Git  string `toml:"git"`
	Tag  string `toml:"tag"`
	Path string `toml:"path"`
}

// Default returns the manifest used when a project has no ollang.toml.
func Default(dir string) *Manifest {
	return &Manifest{
		Compiler: compiler.DefaultOptions(),
		GC:       gc.DefaultConfig(),
		Cache:    Cache{Path: modcache.DefaultPath},
		Dir:      dir,
	}
}

// Load parses an ollang.toml file from the given directory. Keys that are
// absent keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m := Default(abs)
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		log.Warningf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if m.Compiler.OptimizationLevel < 0 || m.Compiler.OptimizationLevel > 2 {
		return nil, fmt.Errorf("%s: optimization-level must be 0, 1 or 2, got %d", path, m.Compiler.OptimizationLevel)
	}
	for name, dep := range m.Dependencies {
		if dep.Git == "" && dep.Path == "" {
			return nil, fmt.Errorf("%s: dependency %q has no git or path specified", path, name)
		}
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an ollang.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// LibraryPaths returns absolute paths for the configured library directories.
func (m *Manifest) LibraryPaths() []string {
	var paths []string
	for _, d := range m.Runtime.LibraryPaths {
		paths = append(paths, m.abs(d))
	}
	return paths
}

// EntryPath returns the absolute path of the project entry point, or "".
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	return m.abs(m.Project.Entry)
}

// CachePath returns the module cache database, or "" when caching is off.
func (m *Manifest) CachePath() string {
	if m.Cache.Disabled {
		return ""
	}
	if m.Cache.Path == "" {
		return m.abs(modcache.DefaultPath)
	}
	return m.abs(m.Cache.Path)
}

// DepsDir returns the path to the .ollang/deps directory.
func (m *Manifest) DepsDir() string {
	return filepath.Join(m.Dir, ".ollang", "deps")
}

// LockFilePath returns the path to .ollang/lock.toml.
func (m *Manifest) LockFilePath() string {
	return filepath.Join(m.Dir, ".ollang", "lock.toml")
}
