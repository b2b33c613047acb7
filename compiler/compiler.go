// Package compiler translates an ollang syntax tree into a bytecode module.
package compiler

import (
	"errors"
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/optimizer"
)

var log = commonlog.GetLogger("ollang.compiler")

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Compiler compiles one program into one module. It is not reusable.
type Compiler struct {
	opts     Options
	asm      *bytecode.Assembler
	filePath string

	// Current function; swapped around nested function bodies.
	fc *funcContext

	labels  int
	temps   int
	lambdas int

	known    []string
	warnings []string
	used     bool
}

// New creates a compiler for a module called name.
func New(name string, opts Options) *Compiler {
	asm := bytecode.NewAssembler(name)
	asm.SetDebugInfo(opts.DebugInfo)
	return &Compiler{
		opts: opts,
		asm:  asm,
		fc:   newFuncContext(asm.Current(), true),
	}
}

// SetFilePath records the source path on the module.
func (c *Compiler) SetFilePath(p string) { c.filePath = p }

// AddKnownGlobal declares host-provided globals for strict mode.
func (c *Compiler) AddKnownGlobal(names ...string) { c.known = append(c.known, names...) }

// Warnings returns the analyzer warnings of the last compilation.
func (c *Compiler) Warnings() []string { return c.warnings }

// Compile checks prog, generates code for it, seals the module and, when
// enabled, optimizes it and attaches a source map.
func (c *Compiler) Compile(prog *ast.Program) (*bytecode.Module, error) {
	if c.used {
		return nil, errors.New("compiler already used")
	}
	c.used = true

	analyzer := NewSemanticAnalyzer(c.opts.StrictMode)
	for _, name := range c.known {
		analyzer.AddKnownGlobal(name)
	}
	analyzer.AnalyzeProgram(prog)
	c.warnings = analyzer.Warnings()
	for _, w := range c.warnings {
		log.Warning(w)
	}
	if errs := analyzer.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}

	if err := c.compileStatements(prog.Body); err != nil {
		return nil, err
	}
	if !endsWithReturn(prog.Body) {
		c.asm.Emit(bytecode.OpReturnNull)
	}

	m, err := c.asm.Seal()
	if err != nil {
		return nil, &Error{Message: "sealing module: " + err.Error(), Err: err}
	}
	m.FilePath = c.filePath

	if level := c.opts.optimizationLevel(); level > 0 {
		if err := optimizer.New(level).Optimize(m); err != nil {
			return nil, &Error{Message: "optimizing module: " + err.Error(), Err: err}
		}
	}
	if c.opts.GenerateSourceMap {
		if err := attachSourceMap(m, c.opts); err != nil {
			return nil, &Error{Message: "writing source map: " + err.Error(), Err: err}
		}
	}
	log.Debugf("compiled %s: %d functions", m.Name, len(m.Functions))
	return m, nil
}

// Compile compiles prog into a module called name.
func Compile(name string, prog *ast.Program, opts Options) (*bytecode.Module, error) {
	return New(name, opts).Compile(prog)
}

// CompileJSON decodes a JSON syntax tree and compiles it. The module is
// named after the file's base name.
func CompileJSON(filePath string, data []byte, opts Options) (*bytecode.Module, error) {
	prog, err := ast.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	c := New(ModuleName(filePath), opts)
	c.SetFilePath(filePath)
	return c.Compile(prog)
}

// ModuleName derives a module name from a file path: its base name without
// extension.
func ModuleName(filePath string) string {
	base := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

// endsWithReturn reports whether the last statement is a return.
func endsWithReturn(stmts []ast.Node) bool {
	if len(stmts) == 0 {
		return false
	}
	_, ok := stmts[len(stmts)-1].(*ast.Return)
	return ok
}

// methodParams returns a method's slot layout: non-static methods take the
// receiver as an implicit first parameter.
func methodParams(m *ast.FunctionDef) []string {
	if m.IsStatic {
		return m.Params
	}
	return append([]string{"self"}, m.Params...)
}

// importBinding is the name an import is bound to.
func importBinding(n *ast.Import) string {
	if n.Alias != "" {
		return n.Alias
	}
	return ModuleName(n.Path)
}

func (c *Compiler) at(node ast.Node) {
	if node == nil {
		return
	}
	pos := node.Pos()
	c.asm.SetPosition(pos.Line, pos.Column)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStatements(stmts []ast.Node) error {
	for _, stmt := range stmts {
		if err := c.compileStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileStatement(node ast.Node) error {
	c.at(node)
	switch n := node.(type) {
	case *ast.ExpressionStatement:
		return c.compileDiscarded(n.Expression)
	case *ast.Declaration:
		return c.compileDeclaration(n)
	case *ast.FunctionDef:
		if n.IsLambda() {
			return c.compileDiscarded(n)
		}
		if err := c.compileFunction(n); err != nil {
			return err
		}
		c.at(n)
		c.storeNew(n.Name)
		return nil
	case *ast.ClassDef:
		return c.compileClass(n)
	case *ast.If:
		return c.compileIf(n)
	case *ast.While:
		return c.compileWhile(n)
	case *ast.DoWhile:
		return c.compileDoWhile(n)
	case *ast.For:
		return c.compileFor(n)
	case *ast.Break:
		return c.compileJumpOut(n, true)
	case *ast.Continue:
		return c.compileJumpOut(n, false)
	case *ast.Return:
		if n.Value == nil {
			c.asm.Emit(bytecode.OpReturnNull)
			return nil
		}
		if err := c.compileExpr(n.Value); err != nil {
			return err
		}
		c.at(n)
		c.asm.Emit(bytecode.OpReturn)
		return nil
	case *ast.Throw:
		if err := c.compileExpr(n.Value); err != nil {
			return err
		}
		c.at(n)
		c.asm.Emit(bytecode.OpThrow)
		return nil
	case *ast.Try:
		return c.compileTry(n)
	case *ast.Switch:
		return c.compileSwitch(n)
	case *ast.Import:
		c.asm.EmitInt(bytecode.OpImport, c.asm.ConstantIndex(n.Path))
		c.asm.ModuleRef().Imports = append(c.asm.ModuleRef().Imports, n.Path)
		c.storeNew(importBinding(n))
		return nil
	case *ast.Program:
		return c.compileStatements(n.Body)
	}
	// Any other node is an expression evaluated for its side effects.
	return c.compileDiscarded(node)
}

// compileDiscarded evaluates an expression and drops its value.
func (c *Compiler) compileDiscarded(expr ast.Node) error {
	if err := c.compileExpr(expr); err != nil {
		return err
	}
	c.asm.Emit(bytecode.OpPop)
	return nil
}

// storeNew pops into a freshly declared binding: a global in the main
// function, a new local slot anywhere else.
func (c *Compiler) storeNew(name string) {
	if c.fc.main {
		c.asm.EmitStoreGlobal(name)
		c.recordGlobal(name, nil)
		return
	}
	c.asm.EmitStoreLocal(c.fc.declare(name))
}

// recordGlobal lists a top-level binding in the module's global table and
// exports. Literal initializers become the serialized default.
func (c *Compiler) recordGlobal(name string, initial any) {
	m := c.asm.ModuleRef()
	if _, seen := m.Globals[name]; !seen {
		m.Exports = append(m.Exports, name)
	}
	m.Globals[name] = initial
}

func (c *Compiler) compileDeclaration(n *ast.Declaration) error {
	if n.Value == nil {
		c.asm.EmitPushNull()
	} else if err := c.compileExpr(n.Value); err != nil {
		return err
	}
	c.at(n)
	if c.fc.main {
		c.asm.EmitStoreGlobal(n.Name)
		c.recordGlobal(n.Name, literalValue(n.Value))
		return nil
	}
	c.asm.EmitStoreLocal(c.fc.declare(n.Name))
	if n.Const {
		c.fc.consts[n.Name] = true
	}
	return nil
}

// literalValue returns the constant a scalar literal denotes, or nil.
func literalValue(n ast.Node) any {
	switch v := n.(type) {
	case *ast.Number:
		return v.Value
	case *ast.String:
		return v.Value
	case *ast.Boolean:
		return v.Value
	}
	return nil
}

// compileFunction compiles a function body into its own module function and
// pushes a reference to it.
func (c *Compiler) compileFunction(n *ast.FunctionDef) error {
	name := n.Name
	switch {
	case n.IsLambda():
		c.lambdas++
		name = fmt.Sprintf("%s%d", ast.LambdaPrefix, c.lambdas)
	case !c.fc.main:
		name = c.nestedName(n.Name)
	}
	if err := c.compileBody(n, name, n.Params); err != nil {
		return err
	}
	c.at(n)
	c.asm.EmitInt(bytecode.OpFunc, c.asm.ConstantIndex(name))
	return nil
}

// nestedName qualifies a function defined inside another function with the
// enclosing function's name. Local functions are bound to slots, so two
// enclosing functions may each define one with the same source name.
func (c *Compiler) nestedName(name string) string {
	base := c.fc.fn.Name + "$" + name
	qualified := base
	for i := 2; c.asm.ModuleRef().Function(qualified) != nil; i++ {
		qualified = fmt.Sprintf("%s#%d", base, i)
	}
	return qualified
}

// compileBody generates name's instructions with params in the leading
// slots, then switches back to the enclosing function.
func (c *Compiler) compileBody(n *ast.FunctionDef, name string, params []string) error {
	outer, outerFn := c.fc, c.asm.Current()

	fn, err := c.asm.DefineFunction(name, len(params), false)
	if err != nil {
		return errorAt(n, err, "%v", err)
	}
	fn.IsStatic = n.IsStatic
	c.fc = newFuncContext(fn, false)
	for _, p := range params {
		c.fc.declare(p)
	}

	bodyErr := c.compileStatements(n.Body)
	if bodyErr == nil && !endsWithReturn(n.Body) {
		c.asm.Emit(bytecode.OpReturnNull)
	}
	labelErr := c.asm.RestoreLabelContext()

	c.fc = outer
	c.asm.SetCurrent(outerFn)
	if bodyErr != nil {
		return bodyErr
	}
	if labelErr != nil {
		return errorAt(n, labelErr, "%v", labelErr)
	}
	return nil
}

// compileClass builds the class from its parent (or null), attaches every
// method and binds the result.
func (c *Compiler) compileClass(n *ast.ClassDef) error {
	if n.Parent != "" {
		c.loadName(n.Parent)
	} else {
		c.asm.EmitPushNull()
	}
	c.asm.EmitInt(bytecode.OpNewClass, c.asm.ConstantIndex(n.Name))
	for _, m := range n.Methods {
		name := n.Name + "." + m.Name
		if err := c.compileBody(m, name, methodParams(m)); err != nil {
			return err
		}
		c.at(m)
		c.asm.EmitInt(bytecode.OpFunc, c.asm.ConstantIndex(name))
		c.asm.EmitInt(bytecode.OpMethod, c.asm.ConstantIndex(m.Name))
	}
	c.at(n)
	c.storeNew(n.Name)
	return nil
}

func (c *Compiler) compileIf(n *ast.If) error {
	elseLabel, endLabel := c.newLabel("else"), c.newLabel("endif")
	if err := c.compileExpr(n.Condition); err != nil {
		return err
	}
	c.asm.EmitJumpIfFalse(elseLabel)
	if err := c.compileStatements(n.Then); err != nil {
		return err
	}
	if len(n.Else) > 0 {
		c.asm.EmitJump(endLabel)
	}
	if err := c.label(n, elseLabel); err != nil {
		return err
	}
	if len(n.Else) > 0 {
		if err := c.compileStatements(n.Else); err != nil {
			return err
		}
	}
	return c.label(n, endLabel)
}

func (c *Compiler) compileWhile(n *ast.While) error {
	start, end := c.newLabel("while_start"), c.newLabel("while_end")
	if err := c.label(n, start); err != nil {
		return err
	}
	if err := c.compileExpr(n.Condition); err != nil {
		return err
	}
	c.asm.EmitJumpIfFalse(end)

	c.fc.pushLoop(loopContext{start: start, end: end, cont: start})
	err := c.compileStatements(n.Body)
	c.fc.popLoop()
	if err != nil {
		return err
	}
	c.asm.EmitJump(start)
	return c.label(n, end)
}

func (c *Compiler) compileDoWhile(n *ast.DoWhile) error {
	start, cont, end := c.newLabel("do_start"), c.newLabel("do_cond"), c.newLabel("do_end")
	if err := c.label(n, start); err != nil {
		return err
	}
	c.fc.pushLoop(loopContext{start: start, end: end, cont: cont})
	err := c.compileStatements(n.Body)
	c.fc.popLoop()
	if err != nil {
		return err
	}
	if err := c.label(n, cont); err != nil {
		return err
	}
	if err := c.compileExpr(n.Condition); err != nil {
		return err
	}
	c.asm.EmitJumpIfTrue(start)
	return c.label(n, end)
}

// compileFor iterates by index over the iterable, which ITER_PREP has
// turned into an Array (a Map yields its keys).
func (c *Compiler) compileFor(n *ast.For) error {
	start, cont, end := c.newLabel("for_start"), c.newLabel("for_next"), c.newLabel("for_end")

	if err := c.compileExpr(n.Iterable); err != nil {
		return err
	}
	c.at(n)
	c.asm.Emit(bytecode.OpIterPrep)
	items := c.newTemp()
	c.asm.EmitStoreLocal(items)
	index := c.newTemp()
	c.asm.EmitPushNumber(0)
	c.asm.EmitStoreLocal(index)

	if err := c.label(n, start); err != nil {
		return err
	}
	c.asm.EmitLoadLocal(index)
	c.asm.EmitLoadLocal(items)
	c.asm.EmitPushString("length")
	c.asm.Emit(bytecode.OpLoadIndex)
	c.asm.Emit(bytecode.OpLt)
	c.asm.EmitJumpIfFalse(end)

	c.asm.EmitLoadLocal(items)
	c.asm.EmitLoadLocal(index)
	c.asm.Emit(bytecode.OpLoadIndex)
	if slot, ok := c.fc.resolve(n.Iterator); ok {
		c.asm.EmitStoreLocal(slot)
	} else {
		c.storeNew(n.Iterator)
	}

	c.fc.pushLoop(loopContext{start: start, end: end, cont: cont})
	err := c.compileStatements(n.Body)
	c.fc.popLoop()
	if err != nil {
		return err
	}

	if err := c.label(n, cont); err != nil {
		return err
	}
	c.asm.EmitLoadLocal(index)
	c.asm.EmitPushNumber(1)
	c.asm.Emit(bytecode.OpAdd)
	c.asm.EmitStoreLocal(index)
	c.asm.EmitJump(start)
	return c.label(n, end)
}

// compileJumpOut compiles break (toBreak) or continue. Handlers installed
// by try statements inside the loop are removed first.
func (c *Compiler) compileJumpOut(n ast.Node, toBreak bool) error {
	loop, ok := c.fc.currentLoop()
	if !ok {
		word := "continue"
		if toBreak {
			word = "break"
		}
		return errorAt(n, ErrNoLoop, "'%s' outside of a loop", word)
	}
	for i := len(c.fc.tries); i > loop.tries; i-- {
		c.asm.Emit(bytecode.OpTryEnd)
	}
	if toBreak {
		c.asm.EmitJump(loop.end)
	} else {
		c.asm.EmitJump(loop.cont)
	}
	return nil
}

// compileTry lays out:
//
//	TRY_BEGIN catch; body; TRY_END; JMP finally
//	catch: bind or drop the error; catch body
//	finally: finally body
func (c *Compiler) compileTry(n *ast.Try) error {
	t := tryContext{
		catch:   c.newLabel("catch"),
		finally: c.newLabel("finally"),
		end:     c.newLabel("try_end"),
	}
	c.asm.EmitTryBegin(t.catch)
	c.fc.pushTry(t)
	err := c.compileStatements(n.Body)
	c.fc.popTry()
	if err != nil {
		return err
	}
	c.at(n)
	c.asm.Emit(bytecode.OpTryEnd)
	c.asm.EmitJump(t.finally)

	if err := c.label(n, t.catch); err != nil {
		return err
	}
	if n.CatchVar != "" {
		if slot, ok := c.fc.resolve(n.CatchVar); ok {
			c.asm.EmitStoreLocal(slot)
		} else {
			c.storeNew(n.CatchVar)
		}
	} else {
		c.asm.Emit(bytecode.OpPop)
	}
	if err := c.compileStatements(n.Catch); err != nil {
		return err
	}

	if err := c.label(n, t.finally); err != nil {
		return err
	}
	if err := c.compileStatements(n.Finally); err != nil {
		return err
	}
	return c.label(n, t.end)
}

// compileSwitch evaluates the subject once and compares a copy against each
// case in order. Every path pops the subject before running a body; bodies
// never fall through.
func (c *Compiler) compileSwitch(n *ast.Switch) error {
	if err := c.compileExpr(n.Subject); err != nil {
		return err
	}
	end := c.newLabel("switch_end")
	labels := make([]string, len(n.Cases))
	defaultCase := -1
	for i, cs := range n.Cases {
		if cs.Value == nil {
			defaultCase = i
			labels[i] = c.newLabel("switch_default")
			continue
		}
		labels[i] = c.newLabel("case")
		c.asm.Emit(bytecode.OpDup)
		if err := c.compileExpr(cs.Value); err != nil {
			return err
		}
		c.asm.Emit(bytecode.OpEq)
		c.asm.EmitJumpIfTrue(labels[i])
	}
	c.asm.Emit(bytecode.OpPop)
	if defaultCase >= 0 {
		c.asm.EmitJump(labels[defaultCase])
	} else {
		c.asm.EmitJump(end)
	}

	for i, cs := range n.Cases {
		if err := c.label(n, labels[i]); err != nil {
			return err
		}
		if i != defaultCase {
			c.asm.Emit(bytecode.OpPop)
		}
		if err := c.compileStatements(cs.Body); err != nil {
			return err
		}
		c.asm.EmitJump(end)
	}
	return c.label(n, end)
}

func (c *Compiler) label(n ast.Node, name string) error {
	if err := c.asm.Label(name); err != nil {
		return errorAt(n, err, "%v", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[string]bytecode.Opcode{
	"+":          bytecode.OpAdd,
	"-":          bytecode.OpSub,
	"*":          bytecode.OpMul,
	"/":          bytecode.OpDiv,
	"%":          bytecode.OpMod,
	"**":         bytecode.OpPow,
	"==":         bytecode.OpEq,
	"!=":         bytecode.OpNe,
	"<":          bytecode.OpLt,
	"<=":         bytecode.OpLe,
	">":          bytecode.OpGt,
	">=":         bytecode.OpGe,
	"&":          bytecode.OpBand,
	"|":          bytecode.OpBor,
	"^":          bytecode.OpBxor,
	"<<":         bytecode.OpShl,
	">>":         bytecode.OpShr,
	">>>":        bytecode.OpUshr,
	"??":         bytecode.OpCoalesce,
	"in":         bytecode.OpIn,
	"instanceof": bytecode.OpInstanceof,
}

var unaryOps = map[string]bytecode.Opcode{
	"-":      bytecode.OpUnm,
	"!":      bytecode.OpNot,
	"not":    bytecode.OpNot,
	"~":      bytecode.OpBnot,
	"+":      bytecode.OpToNum,
	"typeof": bytecode.OpTypeof,
}

func (c *Compiler) compileExpr(node ast.Node) error {
	c.at(node)
	switch n := node.(type) {
	case *ast.Number:
		c.asm.EmitPushNumber(n.Value)
	case *ast.String:
		c.asm.EmitPushString(n.Value)
	case *ast.Boolean:
		c.asm.EmitPushBool(n.Value)
	case *ast.Null:
		c.asm.EmitPushNull()
	case *ast.Identifier:
		c.loadName(n.Name)
	case *ast.Assignment:
		if err := c.compileExpr(n.Value); err != nil {
			return err
		}
		c.at(n)
		c.asm.Emit(bytecode.OpDup)
		c.storeName(n.Name)
	case *ast.IndexAssignment:
		if err := c.compileExprs(n.Target, n.Index, n.Value); err != nil {
			return err
		}
		c.at(n)
		c.asm.Emit(bytecode.OpStoreIndex)
	case *ast.BinaryOp:
		return c.compileBinary(n)
	case *ast.UnaryOp:
		op, ok := unaryOps[n.Op]
		if !ok {
			return errorAt(n, ErrUnknownOperator, "unknown unary operator '%s'", n.Op)
		}
		if err := c.compileExpr(n.Operand); err != nil {
			return err
		}
		c.at(n)
		c.asm.Emit(op)
	case *ast.Call:
		return c.compileCall(n)
	case *ast.Array:
		if err := c.compileExprs(n.Elements...); err != nil {
			return err
		}
		c.at(n)
		c.asm.EmitInt(bytecode.OpNewArray, len(n.Elements))
	case *ast.Dict:
		c.asm.Emit(bytecode.OpNewDict)
		for _, e := range n.Entries {
			c.asm.Emit(bytecode.OpDup)
			if err := c.compileExprs(e.Key, e.Value); err != nil {
				return err
			}
			c.asm.Emit(bytecode.OpStoreIndex)
			c.asm.Emit(bytecode.OpPop)
		}
	case *ast.Index:
		if err := c.compileExprs(n.Target, n.Index); err != nil {
			return err
		}
		c.at(n)
		c.asm.Emit(bytecode.OpLoadIndex)
	case *ast.FunctionDef:
		if err := c.compileFunction(n); err != nil {
			return err
		}
		if !n.IsLambda() {
			c.asm.Emit(bytecode.OpDup)
			c.storeNew(n.Name)
		}
	case *ast.Declaration:
		if err := c.compileDeclaration(n); err != nil {
			return err
		}
		c.loadName(n.Name)
	case *ast.ExpressionStatement:
		return c.compileExpr(n.Expression)
	default:
		return errorAt(node, ErrUnsupportedNode, "cannot compile %s node", nodeTypeName(node))
	}
	return nil
}

func nodeTypeName(n ast.Node) string {
	if n == nil {
		return "empty"
	}
	return n.NodeType()
}

func (c *Compiler) compileExprs(nodes ...ast.Node) error {
	for _, n := range nodes {
		if err := c.compileExpr(n); err != nil {
			return err
		}
	}
	return nil
}

// compileBinary evaluates left then right. `and` and `or` short-circuit:
// the left value stays on the stack as the result when it decides.
func (c *Compiler) compileBinary(n *ast.BinaryOp) error {
	switch n.Op {
	case "and", "&&", "or", "||":
		if err := c.compileExpr(n.Left); err != nil {
			return err
		}
		end := c.newLabel("logic_end")
		c.at(n)
		c.asm.Emit(bytecode.OpDup)
		if n.Op == "and" || n.Op == "&&" {
			c.asm.EmitJumpIfFalse(end)
		} else {
			c.asm.EmitJumpIfTrue(end)
		}
		c.asm.Emit(bytecode.OpPop)
		if err := c.compileExpr(n.Right); err != nil {
			return err
		}
		return c.label(n, end)
	}
	op, ok := binaryOps[n.Op]
	if !ok {
		return errorAt(n, ErrUnknownOperator, "unknown binary operator '%s'", n.Op)
	}
	if err := c.compileExprs(n.Left, n.Right); err != nil {
		return err
	}
	c.at(n)
	c.asm.Emit(op)
	return nil
}

// compileCall pushes the callee, then each argument.
func (c *Compiler) compileCall(n *ast.Call) error {
	if len(n.Arguments) > math.MaxUint8 {
		return errorAt(n, nil, "too many arguments (%d)", len(n.Arguments))
	}
	if err := c.compileExpr(n.Callee); err != nil {
		return err
	}
	if err := c.compileExprs(n.Arguments...); err != nil {
		return err
	}
	c.at(n)
	c.asm.Emit(bytecode.OpCall, byte(len(n.Arguments)))
	return nil
}

// loadName pushes a local when name is bound in the current function,
// otherwise the global.
func (c *Compiler) loadName(name string) {
	if slot, ok := c.fc.resolve(name); ok {
		c.asm.EmitLoadLocal(slot)
		return
	}
	c.asm.EmitLoadGlobal(name)
}

// storeName pops into an existing local, otherwise into the global.
func (c *Compiler) storeName(name string) {
	if slot, ok := c.fc.resolve(name); ok {
		c.asm.EmitStoreLocal(slot)
		return
	}
	c.asm.EmitStoreGlobal(name)
}
