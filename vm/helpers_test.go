package vm

import (
	"bytes"
	"context"
	"testing"

	"github.com/ollang/ollang/compiler"
	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// Syntax-tree builders so tests read close to source code.

func num(v float64) ast.Node     { return &ast.Number{Value: v} }
func str(v string) ast.Node      { return &ast.String{Value: v} }
func ident(name string) ast.Node { return &ast.Identifier{Name: name} }
func expr(n ast.Node) ast.Node   { return &ast.ExpressionStatement{Expression: n} }
func ret(v ast.Node) ast.Node    { return &ast.Return{Value: v} }
func null() ast.Node             { return &ast.Null{} }

func program(body ...ast.Node) *ast.Program { return &ast.Program{Body: body} }

func bin(l ast.Node, op string, r ast.Node) ast.Node {
	return &ast.BinaryOp{Left: l, Op: op, Right: r}
}

func decl(name string, v ast.Node) ast.Node { return &ast.Declaration{Name: name, Value: v} }

func assign(name string, v ast.Node) ast.Node { return &ast.Assignment{Name: name, Value: v} }

func call(callee string, args ...ast.Node) ast.Node {
	return &ast.Call{Callee: ident(callee), Arguments: args}
}

func member(target ast.Node, name string) ast.Node {
	return &ast.Index{Target: target, Index: str(name)}
}

func array(elems ...ast.Node) ast.Node { return &ast.Array{Elements: elems} }

func fn(name string, params []string, body ...ast.Node) *ast.FunctionDef {
	return &ast.FunctionDef{Name: name, Params: params, Body: body}
}

func printLine(args ...ast.Node) ast.Node { return expr(call("println", args...)) }

// compile builds a module from prog with the given optimization level.
func compile(t *testing.T, prog *ast.Program, level int) *bytecode.Module {
	t.Helper()
	opts := compiler.DefaultOptions()
	opts.Optimize = level > 0
	opts.OptimizationLevel = level
	m, err := compiler.Compile("test", prog, opts)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return m
}

// outcome is what one run of a program produced.
type outcome struct {
	vm     *VM
	result *Result
	stdout string
	err    error
}

func runModule(t *testing.T, m *bytecode.Module, opts ...Option) outcome {
	t.Helper()
	var out bytes.Buffer
	machine := New(m, append([]Option{WithStdout(&out)}, opts...)...)
	t.Cleanup(func() { machine.Close() })
	res, err := machine.Run(context.Background())
	return outcome{vm: machine, result: res, stdout: out.String(), err: err}
}

func run(t *testing.T, prog *ast.Program, opts ...Option) outcome {
	t.Helper()
	return runModule(t, compile(t, prog, 1), opts...)
}

// mustRun fails the test when the program does not complete.
func mustRun(t *testing.T, prog *ast.Program, opts ...Option) outcome {
	t.Helper()
	o := run(t, prog, opts...)
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	return o
}

// assemble builds a module whose main function is emitted by body and
// returns the value left on the stack.
func assemble(t *testing.T, body func(a *bytecode.Assembler)) *bytecode.Module {
	t.Helper()
	a := bytecode.NewAssembler("asm")
	body(a)
	a.Emit(bytecode.OpReturn)
	m, err := a.Seal()
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	return m
}

// push emits a constant of any supported kind.
func push(a *bytecode.Assembler, v any) {
	switch x := v.(type) {
	case nil:
		a.EmitPushNull()
	case float64:
		a.EmitPushNumber(x)
	case int:
		a.EmitPushNumber(float64(x))
	case string:
		a.EmitPushString(x)
	case bool:
		a.EmitPushBool(x)
	default:
		a.EmitInt(bytecode.OpPushConstIdx, a.ConstantIndex(v))
	}
}

func globalOf(t *testing.T, machine *VM, name string) value.Value {
	t.Helper()
	v, ok := machine.Global(name)
	if !ok {
		t.Fatalf("global %s not defined", name)
	}
	return v
}
