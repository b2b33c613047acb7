// Oll CLI - compiles, runs and inspects ollang modules
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// command is one `oll` subcommand.
type command struct {
	name    string
	usage   string
	summary string
	run     func(e *env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"compile", "compile [-o out] [-O level] [-z] [-no-debug] [-strict] [-source-map] [file.json]", "compile a JSON syntax tree to a module", handleCompileCommand},
		{"run", "run [-trace] [-no-cache] [-L dir] [file]", "run a module or JSON syntax tree", handleRunCommand},
		{"disasm", "disasm file", "print the instructions of a module", handleDisasmCommand},
		{"decompile", "decompile file", "print pseudo-source reconstructed from a module", handleDecompileCommand},
		{"info", "info files...", "summarize modules", handleInfoCommand},
		{"cache", "cache list | clear | prune [-older-than d]", "manage the compiled-module cache", handleCacheCommand},
	}
}

// env carries what every subcommand needs.
type env struct {
	stdout io.Writer
	stderr io.Writer
	dir    string // where the manifest search starts
}

// exitError carries a process exit status out of a subcommand.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: oll [-v] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		for _, c := range commands {
			fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.summary)
		}
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  oll compile -O 2 main.json     # writes main.ollc\n")
		fmt.Fprintf(os.Stderr, "  oll run main.ollc\n")
		fmt.Fprintf(os.Stderr, "  oll info lib/*.ollc\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	e := &env{stdout: os.Stdout, stderr: os.Stderr, dir: wd}
	os.Exit(dispatch(e, flag.Arg(0), flag.Args()[1:]))
}

// dispatch runs the named subcommand and returns the process exit status.
func dispatch(e *env, name string, args []string) int {
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(e, args)
		var exit exitError
		switch {
		case err == nil:
			return 0
		case errors.As(err, &exit):
			return exit.code
		case errors.Is(err, flag.ErrHelp):
			return 2
		}
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(e.stderr, "Unknown command %q\n", name)
	return 2
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(e *env, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	for _, c := range commands {
		if c.name == name {
			fs.Usage = func() {
				fmt.Fprintf(e.stderr, "Usage: oll %s\n", c.usage)
				fs.PrintDefaults()
			}
		}
	}
	return fs
}

// oneFile parses fs and returns its single positional argument.
func oneFile(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", flag.ErrHelp
	}
	return fs.Arg(0), nil
}
