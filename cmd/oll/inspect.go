package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/ollang/ollang/compiler"
	"github.com/ollang/ollang/pkg/bytecode"
)

func handleDisasmCommand(e *env, args []string) error {
	return printModule(e, "disasm", args, bytecode.Disassemble)
}

func handleDecompileCommand(e *env, args []string) error {
	return printModule(e, "decompile", args, bytecode.Decompile)
}

func printModule(e *env, name string, args []string, render func(*bytecode.Module) string) error {
	fs := newFlagSet(e, name)
	path, err := oneFile(fs, args)
	if err != nil {
		return err
	}
	p, err := loadProject(e)
	if err != nil {
		return err
	}
	m, err := loadModule(path, p.Compiler)
	if err != nil {
		return err
	}
	fmt.Fprint(e.stdout, render(m))
	return nil
}

// summary describes one module for `oll info`.
type summary struct {
	path         string
	size         int
	kind         string
	module       *bytecode.Module
	instructions int
	constants    int
	buildID      string
}

func summarize(path string, opts compiler.Options) (*summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := loadModule(path, opts)
	if err != nil {
		return nil, err
	}
	s := &summary{path: path, size: len(data), kind: "syntax tree", module: m}
	switch {
	case bytecode.IsCompressed(data):
		s.kind = "compressed module"
	case bytecode.IsModule(data):
		s.kind = "module"
	}
	for _, fn := range m.AllFunctions() {
		s.instructions += len(fn.Instructions)
		s.constants += len(fn.Constants)
	}
	switch sm, err := compiler.DecodeSourceMap(m); {
	case err == nil:
		s.buildID = sm.BuildID
	case !errors.Is(err, compiler.ErrNoSourceMap):
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s *summary) write(sb *strings.Builder) {
	m := s.module
	fmt.Fprintf(sb, "%s\n", s.path)
	fmt.Fprintf(sb, "  module:       %s\n", m.Name)
	fmt.Fprintf(sb, "  size:         %s (%s)\n", humanize.Bytes(uint64(s.size)), s.kind)
	fmt.Fprintf(sb, "  functions:    %d\n", len(m.AllFunctions()))
	fmt.Fprintf(sb, "  instructions: %s\n", humanize.Comma(int64(s.instructions)))
	fmt.Fprintf(sb, "  constants:    %d\n", s.constants)
	fmt.Fprintf(sb, "  globals:      %d\n", len(m.Globals))
	if len(m.Exports) > 0 {
		fmt.Fprintf(sb, "  exports:      %s\n", strings.Join(m.Exports, ", "))
	}
	if len(m.Imports) > 0 {
		fmt.Fprintf(sb, "  imports:      %s\n", strings.Join(m.Imports, ", "))
	}
	if len(m.VirtualFiles) > 0 {
		fmt.Fprintf(sb, "  embedded:     %d files\n", len(m.VirtualFiles))
	}
	if s.buildID != "" {
		fmt.Fprintf(sb, "  source map:   build %s\n", s.buildID)
	}
}

// handleInfoCommand summarizes each file, loading them in parallel.
func handleInfoCommand(e *env, args []string) error {
	fs := newFlagSet(e, "info")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no files given")
	}
	p, err := loadProject(e)
	if err != nil {
		return err
	}

	paths := fs.Args()
	summaries := make([]*summary, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			s, err := summarize(path, p.Compiler)
			if err != nil {
				return err
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var sb strings.Builder
	for _, s := range summaries {
		s.write(&sb)
	}
	fmt.Fprint(e.stdout, sb.String())
	return nil
}
