package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/value"
)

// runAndWait runs prog and joins every spawned VM before reading stdout.
func runAndWait(t *testing.T, prog *ast.Program) (*VM, string, error, error) {
	t.Helper()
	var out bytes.Buffer
	machine := New(compile(t, prog, 1), WithStdout(&out))
	t.Cleanup(func() { machine.Close() })
	_, runErr := machine.Run(t.Context())
	waitErr := machine.Wait()
	return machine, out.String(), runErr, waitErr
}

func TestSpawn(t *testing.T) {
	prog := program(
		fn("worker", []string{"n"}, printLine(bin(ident("n"), "*", num(2)))),
		expr(call("spawn", ident("worker"), num(21))),
	)
	_, stdout, runErr, waitErr := runAndWait(t, prog)
	if runErr != nil || waitErr != nil {
		t.Fatalf("Run() error = %v, Wait() error = %v", runErr, waitErr)
	}
	if stdout != "42\n" {
		t.Errorf("stdout = %q, want %q", stdout, "42\n")
	}
}

func TestSpawn_GlobalsAreSnapshotted(t *testing.T) {
	prog := program(
		decl("counter", num(1)),
		fn("bump", nil, assign("counter", num(5))),
		expr(call("spawn", ident("bump"))),
	)
	machine, _, runErr, waitErr := runAndWait(t, prog)
	if runErr != nil || waitErr != nil {
		t.Fatalf("Run() error = %v, Wait() error = %v", runErr, waitErr)
	}
	if got := globalOf(t, machine, "counter"); !value.Equal(got, value.Number(1)) {
		t.Errorf("counter = %v, want 1", got)
	}
}

func TestSpawn_FailureReportedByWait(t *testing.T) {
	prog := program(
		fn("bad", nil, &ast.Throw{Value: str("nope")}),
		expr(call("spawn", ident("bad"))),
	)
	_, _, runErr, waitErr := runAndWait(t, prog)
	if runErr != nil {
		t.Fatalf("Run() error = %v", runErr)
	}
	if waitErr == nil || !strings.Contains(waitErr.Error(), "nope") {
		t.Errorf("Wait() error = %v, want the thrown value", waitErr)
	}
}

func TestSpawn_NonCallable(t *testing.T) {
	_, _, runErr, _ := runAndWait(t, program(expr(call("spawn", num(1)))))
	if runErr == nil || !strings.Contains(runErr.Error(), "non-callable number") {
		t.Errorf("Run() error = %v", runErr)
	}
}

func TestSpawn_AfterClose(t *testing.T) {
	machine := New(compile(t, program(fn("f", nil, ret(null()))), 0))
	if _, err := machine.Run(t.Context()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	f := globalOf(t, machine, "f")
	if err := machine.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := machine.spawn(f, nil); !errors.Is(err, errClosed) {
		t.Errorf("spawn() error = %v, want %v", err, errClosed)
	}
}
