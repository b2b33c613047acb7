package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/ollang/ollang/pkg/value"
	"github.com/ollang/ollang/vm"
)

// handleRunCommand processes the `oll run` subcommand. Arguments after the
// input file reach the script as the `args` array. Uncaught script errors
// are reported with their stack trace and exit status 1.
func handleRunCommand(e *env, args []string) error {
	fs := newFlagSet(e, "run")
	trace := fs.Bool("trace", false, "Trace every instruction to stderr")
	noCache := fs.Bool("no-cache", false, "Do not use the compiled-module cache for imports")
	var libs stringList
	fs.Var(&libs, "L", "Add a library directory (repeatable)")

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

	m, err := loadModule(input, p.Compiler)
	if err != nil {
		return err
	}
	paths, err := p.libraryPaths(libs)
	if err != nil {
		return err
	}

	var scriptArgs []value.Value
	if fs.NArg() > 1 {
		for _, a := range fs.Args()[1:] {
			scriptArgs = append(scriptArgs, value.String(a))
		}
	}

	opts := []vm.Option{
		vm.WithStdout(e.stdout),
		vm.WithGlobals(map[string]value.Value{"args": value.NewArray(scriptArgs...)}),
		vm.WithLibraryPaths(paths...),
		vm.WithGCConfig(p.GC),
		vm.WithCompilerOptions(p.Compiler),
	}
	if *trace || p.Runtime.Trace {
		opts = append(opts, vm.WithTrace(e.stderr))
	}
	if !*noCache {
		cache, err := p.openCache()
		if err != nil {
			fmt.Fprintf(e.stderr, "Warning: module cache unavailable: %v\n", err)
		} else if cache != nil {
			defer cache.Close()
			opts = append(opts, vm.WithModuleCache(cache))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	machine := vm.New(m, opts...)
	defer machine.Close()
	_, err = machine.Run(ctx)
	if waitErr := machine.Wait(); err == nil {
		err = waitErr
	}

	var rt *vm.RuntimeError
	if errors.As(err, &rt) {
		fmt.Fprint(e.stderr, rt.Format())
		return exitError{code: 1}
	}
	return err
}
