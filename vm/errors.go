package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ollang/ollang/pkg/value"
	"github.com/ollang/ollang/vm/gc"
)

// ErrNoFrontend is returned when an import needs source parsing and the VM
// was built without a Frontend.
var ErrNoFrontend = errors.New("no frontend configured")

// Error kinds carried by RuntimeError.
const (
	KindRuntime    = "RuntimeError"
	KindImport     = "ImportError"
	KindAllocation = "AllocationError"
	KindThrown     = "Exception"
)

// StackEntry is one frame of a call-stack trace.
type StackEntry struct {
	Function string
	IP       int
	Line     int
	Column   int
}

func (e StackEntry) String() string {
	if e.Line > 0 {
		return fmt.Sprintf("at %s (line %d:%d)", e.Function, e.Line, e.Column)
	}
	return fmt.Sprintf("at %s [ip:%d]", e.Function, e.IP)
}

// RuntimeError is an uncaught failure that crossed the VM boundary.
type RuntimeError struct {
	Kind     string
	Message  string
	Line     int
	Column   int
	Function string

	// CallStack lists frames innermost first.
	CallStack []StackEntry
	Hint      string
	Err       error
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d:%d)", e.Kind, e.Message, e.Line, e.Column)
	}
	return e.Kind + ": " + e.Message
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Format renders the error with location, stack trace and hint.
func (e *RuntimeError) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s\n", e.Kind, e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&sb, "  Location: line %d, column %d\n", e.Line, e.Column)
	}
	if e.Function != "" {
		fmt.Fprintf(&sb, "  Function: %s\n", e.Function)
	}
	if len(e.CallStack) > 0 {
		sb.WriteString("  Stack trace:\n")
		for _, entry := range e.CallStack {
			fmt.Fprintf(&sb, "    %s\n", entry)
		}
	}
	if e.Hint != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", e.Hint)
	}
	return sb.String()
}

// Thrown carries a value raised by THROW.
type Thrown struct {
	Value value.Value
}

func (t *Thrown) Error() string { return t.Value.String() }

// runtimeErrorf builds the plain failures raised by instructions.
func runtimeErrorf(format string, args ...any) error {
	return &value.TypeError{Message: fmt.Sprintf(format, args...)}
}

// messageOf is the text a catch block receives for err.
func messageOf(err error) string {
	var ie *importError
	if errors.As(err, &ie) {
		return ie.Error()
	}
	var thrown *Thrown
	if errors.As(err, &thrown) {
		return thrown.Value.String()
	}
	var rt *RuntimeError
	if errors.As(err, &rt) {
		return rt.Message
	}
	var te *value.TypeError
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

// catchable reports whether script try/catch may intercept err.
func catchable(err error) bool {
	if errors.Is(err, gc.ErrAllocation) || errors.Is(err, errStackOverflow) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rt *RuntimeError
	if errors.As(err, &rt) && rt.Kind == KindAllocation {
		return false
	}
	return true
}

func kindOf(err error) string {
	var thrown *Thrown
	var ie *importError
	switch {
	case errors.As(err, &ie):
		return KindImport
	case errors.As(err, &thrown):
		return KindThrown
	case errors.Is(err, gc.ErrAllocation):
		return KindAllocation
	}
	return KindRuntime
}

// hints maps message fragments to advice. Every fragment of an entry must
// be present.
var hints = []struct {
	fragments []string
	hint      string
}{
	{[]string{"not defined"}, "Check for typos in variable names or missing 'var' declarations."},
	{[]string{"Global", "not found"}, "The variable may not have been imported or defined in the current scope."},
	{[]string{"non-callable"}, "You're trying to call something that isn't a function. Check the variable type."},
	{[]string{"Function", "not found"}, "Ensure the function is defined before it's called, or check for typos."},
	{[]string{"Index", "out of range"}, "Array or string index is out of bounds. Check the length before accessing."},
	{[]string{"division"}, "Check for division by zero or invalid math operations."},
	{[]string{"type", "mismatch"}, "Ensure operand types match. Use str() or num() for conversion."},
	{[]string{"could not resolve module"}, "Check the file path and ensure the module exists in a library directory."},
	{[]string{"Stack overflow"}, "Check for unbounded recursion."},
	{[]string{"frontend"}, "Import a compiled module or a JSON syntax tree, or configure a frontend."},
}

// hintFor returns advice for a failure message, or "".
func hintFor(message string) string {
	for _, h := range hints {
		matched := true
		for _, f := range h.fragments {
			if !strings.Contains(message, f) {
				matched = false
				break
			}
		}
		if matched {
			return h.hint
		}
	}
	return ""
}

// errNotFound reports an import path that matched no candidate.
var errNotFound = errors.New("could not resolve module")

// importError marks failures while loading a module.
type importError struct {
	path string
	err  error
}

func (e *importError) Error() string {
	return fmt.Sprintf("Import error: '%s': %s", e.path, messageOf(e.err))
}

func (e *importError) Unwrap() error { return e.err }
