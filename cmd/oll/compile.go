package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ollang/ollang/compiler"
	"github.com/ollang/ollang/pkg/ast"
)

// moduleExt is the extension of compiled modules.
const moduleExt = ".ollc"

// handleCompileCommand processes the `oll compile` subcommand.
// Usage:
//
//	oll compile main.json            # ./main.ollc
//	oll compile -O 2 -z -o app main.json
func handleCompileCommand(e *env, args []string) error {
	fs := newFlagSet(e, "compile")
	output := fs.String("o", "", "Output path (default: input with "+moduleExt+")")
	level := fs.Int("O", -1, "Optimization level 0-2 (default: from ollang.toml)")
	compress := fs.Bool("z", false, "Write a gzip-compressed module")
	noDebug := fs.Bool("no-debug", false, "Omit line and column information")
	strict := fs.Bool("strict", false, "Reject assignment to undeclared names")
	sourceMap := fs.Bool("source-map", false, "Embed a source map")

	p, err := loadProject(e)
	if err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	input, err := p.entry(fs.Args())
	if err != nil {
		return err
	}

	opts := p.Compiler
	if *level >= 0 {
		if *level > 2 {
			return fmt.Errorf("optimization level must be 0, 1 or 2, got %d", *level)
		}
		opts.OptimizationLevel = *level
		opts.Optimize = *level > 0
	}
	if *noDebug {
		opts.DebugInfo = false
	}
	opts.StrictMode = opts.StrictMode || *strict
	opts.GenerateSourceMap = opts.GenerateSourceMap || *sourceMap

	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	prog, err := ast.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}
	c := compiler.New(compiler.ModuleName(input), opts)
	c.SetFilePath(input)
	m, err := c.Compile(prog)
	if err != nil {
		return err
	}
	for _, w := range c.Warnings() {
		fmt.Fprintf(e.stderr, "%s: warning: %s\n", input, w)
	}

	var out []byte
	if *compress {
		out, err = m.SerializeCompressed()
	} else {
		out, err = m.Serialize()
	}
	if err != nil {
		return err
	}

	dest := *output
	if dest == "" {
		dest = strings.TrimSuffix(input, filepath.Ext(input)) + moduleExt
	}
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s -> %s (%s, %d functions)\n", input, dest, humanize.Bytes(uint64(len(out))), len(m.AllFunctions()))
	return nil
}
