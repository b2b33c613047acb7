package manifest

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name
	LocalPath string    // local filesystem path
	Manifest  *Manifest // the dependency's own manifest (may be nil)
}

// LibraryPaths returns the directories imports of this dependency are
// searched in: its own library paths, then its root.
func (d ResolvedDep) LibraryPaths() []string {
	var paths []string
	if d.Manifest != nil {
		paths = d.Manifest.LibraryPaths()
	}
	return append(paths, d.LocalPath)
}

// Resolver manages dependency resolution.
type Resolver struct {
	manifest *Manifest
	lock     *LockFile
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{manifest: m}
}

// Resolve resolves all dependencies and returns them in load order
// (topologically sorted: dependencies before dependents).
func (r *Resolver) Resolve() ([]ResolvedDep, error) {
	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	r.lock = lock

	resolved := make(map[string]*ResolvedDep)
	order, err := r.resolveAll(r.manifest, resolved)
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		return nil, nil
	}

	if err := r.writeLock(order); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return order, nil
}

// LibraryPaths returns the project's own library directories followed by
// those of every dependency.
func (r *Resolver) LibraryPaths() ([]string, error) {
	deps, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	paths := r.manifest.LibraryPaths()
	for _, d := range deps {
		paths = append(paths, d.LibraryPaths()...)
	}
	return paths, nil
}

// resolveAll resolves owner's dependencies recursively, in name order.
func (r *Resolver) resolveAll(owner *Manifest, resolved map[string]*ResolvedDep) ([]ResolvedDep, error) {
	var order []ResolvedDep

	deps := owner.Dependencies
	for _, name := range slices.Sorted(maps.Keys(deps)) {
		if _, ok := resolved[name]; ok {
			continue
		}

		rd, err := r.resolveOne(owner, name, deps[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}
		resolved[name] = rd

		if rd.Manifest != nil && len(rd.Manifest.Dependencies) > 0 {
			transitive, err := r.resolveAll(rd.Manifest, resolved)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}

		order = append(order, *rd)
	}

	return order, nil
}

// resolveOne resolves a single dependency. Path dependencies are relative
// to the manifest that declares them.
func (r *Resolver) resolveOne(owner *Manifest, name string, dep Dependency) (*ResolvedDep, error) {
	if dep.Path != "" {
		localPath, err := filepath.Abs(owner.abs(dep.Path))
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", dep.Path, err)
		}
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, localPath, err)
		}
		return &ResolvedDep{Name: name, LocalPath: localPath, Manifest: loadOptional(localPath)}, nil
	}

	if dep.Git != "" {
		depDir := filepath.Join(r.manifest.DepsDir(), name)

		if _, err := os.Stat(depDir); os.IsNotExist(err) {
			if err := os.MkdirAll(r.manifest.DepsDir(), 0o755); err != nil {
				return nil, fmt.Errorf("creating deps dir: %w", err)
			}
			log.Infof("cloning %s from %s", name, dep.Git)
			if err := gitClone(dep.Git, depDir); err != nil {
				return nil, err
			}
		} else if locked := r.lock.FindLockedDep(name); locked == nil || locked.Tag != dep.Tag {
			log.Infof("fetching %s", name)
			if err := gitFetch(depDir); err != nil {
				return nil, err
			}
		}

		ref := dep.Tag
		if locked := r.lock.FindLockedDep(name); ref == "" && locked != nil && locked.Git == dep.Git {
			ref = locked.Commit
		}
		if ref != "" {
			if err := gitCheckout(depDir, ref); err != nil {
				return nil, err
			}
		}
		return &ResolvedDep{Name: name, LocalPath: depDir, Manifest: loadOptional(depDir)}, nil
	}

	return nil, fmt.Errorf("dependency %q has no git or path specified", name)
}

// loadOptional loads a dependency's manifest if it has one.
func loadOptional(dir string) *Manifest {
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		return nil
	}
	m, err := Load(dir)
	if err != nil {
		log.Warningf("ignoring manifest of %s: %s", dir, err)
		return nil
	}
	return m
}

// writeLock writes the resolved dependencies to the lock file.
func (r *Resolver) writeLock(order []ResolvedDep) error {
	lf := &LockFile{}

	for _, rd := range order {
		ld := LockedDep{Name: rd.Name}

		dep, direct := r.manifest.Dependencies[rd.Name]
		switch {
		case !direct:
			ld.Path = rd.LocalPath
		case dep.Git != "":
			ld.Git = dep.Git
			ld.Tag = dep.Tag
			if commit, err := gitCurrentCommit(rd.LocalPath); err == nil {
				ld.Commit = commit
			}
		default:
			ld.Path = dep.Path
		}

		lf.Deps = append(lf.Deps, ld)
	}

	if err := os.MkdirAll(filepath.Dir(r.manifest.LockFilePath()), 0o755); err != nil {
		return err
	}
	return WriteLock(r.manifest.LockFilePath(), lf)
}
