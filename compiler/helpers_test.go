package compiler

import (
	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
)

// Small builders so tests read close to source code.

func num(v float64) ast.Node     { return &ast.Number{Value: v} }
func str(v string) ast.Node      { return &ast.String{Value: v} }
func ident(name string) ast.Node { return &ast.Identifier{Name: name} }
func expr(n ast.Node) ast.Node   { return &ast.ExpressionStatement{Expression: n} }
func ret(v ast.Node) ast.Node    { return &ast.Return{Value: v} }

func program(body ...ast.Node) *ast.Program {
	return &ast.Program{Body: body}
}

func bin(l ast.Node, op string, r ast.Node) ast.Node {
	return &ast.BinaryOp{Left: l, Op: op, Right: r}
}

func decl(name string, v ast.Node) ast.Node {
	return &ast.Declaration{Name: name, Value: v}
}

func assign(name string, v ast.Node) ast.Node {
	return &ast.Assignment{Name: name, Value: v}
}

func call(callee string, args ...ast.Node) ast.Node {
	return &ast.Call{Callee: ident(callee), Arguments: args}
}

func opcodes(fn *bytecode.Function) []bytecode.Opcode {
	ops := make([]bytecode.Opcode, len(fn.Instructions))
	for i, in := range fn.Instructions {
		ops[i] = in.Op
	}
	return ops
}

func hasOp(fn *bytecode.Function, op bytecode.Opcode) bool {
	for _, in := range fn.Instructions {
		if in.Op == op {
			return true
		}
	}
	return false
}

func countOp(fn *bytecode.Function, op bytecode.Opcode) int {
	n := 0
	for _, in := range fn.Instructions {
		if in.Op == op {
			n++
		}
	}
	return n
}

func noOptimize() Options {
	opts := DefaultOptions()
	opts.Optimize = false
	return opts
}
