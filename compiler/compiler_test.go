package compiler

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
)

func TestCompile_ArithmeticDeclaration(t *testing.T) {
	// var x = 1 + 2 * 3;
	prog := program(decl("x", bin(num(1), "+", bin(num(2), "*", num(3)))))

	t.Run("unoptimized", func(t *testing.T) {
		m, err := Compile("test", prog, noOptimize())
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		want := []bytecode.Opcode{
			bytecode.OpPushConstIdx, bytecode.OpPushConstIdx, bytecode.OpPushConstIdx,
			bytecode.OpMul, bytecode.OpAdd, bytecode.OpStoreGlobal, bytecode.OpReturnNull,
		}
		if got := opcodes(m.Main); !slices.Equal(got, want) {
			t.Errorf("main = %v, want %v", got, want)
		}
		if m.Main.MaxStackSize != 3 {
			t.Errorf("MaxStackSize = %d, want 3", m.Main.MaxStackSize)
		}
	})

	t.Run("folded", func(t *testing.T) {
		m, err := Compile("test", prog, DefaultOptions())
		if err != nil {
			t.Fatalf("Compile() error = %v", err)
		}
		want := []bytecode.Opcode{bytecode.OpPushConstIdx, bytecode.OpStoreGlobal, bytecode.OpReturnNull}
		if got := opcodes(m.Main); !slices.Equal(got, want) {
			t.Fatalf("main = %v, want %v", got, want)
		}
		c := m.Main.Constants[m.Main.Instructions[0].OperandInt()]
		if c != 7.0 {
			t.Errorf("folded constant = %v, want 7", c)
		}
	})

	m, err := Compile("test", prog, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, ok := m.Globals["x"]; !ok {
		t.Error("x missing from module globals")
	}
	if !slices.Contains(m.Exports, "x") {
		t.Errorf("Exports = %v, want x", m.Exports)
	}
}

func TestCompile_LiteralGlobalDefault(t *testing.T) {
	m, err := Compile("test", program(decl("name", str("ollang")), decl("n", num(4))), noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if m.Globals["name"] != "ollang" {
		t.Errorf("Globals[name] = %v, want ollang", m.Globals["name"])
	}
	if m.Globals["n"] != 4.0 {
		t.Errorf("Globals[n] = %v, want 4", m.Globals["n"])
	}
}

func TestCompile_FunctionAndCall(t *testing.T) {
	// func f(a) { return a + 1; } println(f(41));
	prog := program(
		&ast.FunctionDef{Name: "f", Params: []string{"a"}, Body: []ast.Node{
			ret(bin(ident("a"), "+", num(1))),
		}},
		expr(call("println", call("f", num(41)))),
	)
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	f := m.Function("f")
	if f == nil {
		t.Fatal("function f not defined")
	}
	if f.Arity != 1 {
		t.Errorf("f.Arity = %d, want 1", f.Arity)
	}
	wantF := []bytecode.Opcode{bytecode.OpLoadLocalN, bytecode.OpPushConstIdx, bytecode.OpAdd, bytecode.OpReturn}
	if got := opcodes(f); !slices.Equal(got, wantF) {
		t.Errorf("f = %v, want %v", got, wantF)
	}

	wantMain := []bytecode.Opcode{
		bytecode.OpFunc, bytecode.OpStoreGlobal,
		bytecode.OpLoadGlobal, bytecode.OpLoadGlobal, bytecode.OpPushConstIdx,
		bytecode.OpCall, bytecode.OpCall, bytecode.OpPop, bytecode.OpReturnNull,
	}
	if got := opcodes(m.Main); !slices.Equal(got, wantMain) {
		t.Errorf("main = %v, want %v", got, wantMain)
	}
	if argc := m.Main.Instructions[5].OperandByte(); argc != 1 {
		t.Errorf("CALL argc = %d, want 1", argc)
	}
}

func TestCompile_FunctionLocals(t *testing.T) {
	prog := program(&ast.FunctionDef{Name: "f", Body: []ast.Node{
		decl("tmp", num(1)),
		ret(ident("tmp")),
	}})
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	f := m.Function("f")
	if hasOp(f, bytecode.OpStoreGlobal) || hasOp(f, bytecode.OpLoadGlobal) {
		t.Errorf("function declaration compiled to a global: %v", opcodes(f))
	}
	if idx := f.LocalIndex("tmp"); idx != 0 {
		t.Errorf("LocalIndex(tmp) = %d, want 0", idx)
	}
	if _, ok := m.Globals["tmp"]; ok {
		t.Error("function local leaked into module globals")
	}
}

func TestCompile_WhileLoop(t *testing.T) {
	// i = 0; while (i < 3) { i = i + 1; }
	prog := program(
		decl("i", num(0)),
		&ast.While{Condition: bin(ident("i"), "<", num(3)), Body: []ast.Node{
			expr(assign("i", bin(ident("i"), "+", num(1)))),
		}},
	)
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	var backward, exit bool
	for i, in := range m.Main.Instructions {
		switch in.Op {
		case bytecode.OpJmp:
			if in.OperandInt() < 0 {
				backward = true
			}
		case bytecode.OpJmpF:
			target := i + 1 + in.OperandInt()
			if m.Main.Instructions[target].Op != bytecode.OpReturnNull {
				t.Errorf("loop exit targets %v, want RETURN_NULL", m.Main.Instructions[target].Op)
			}
			exit = true
		}
	}
	if !backward || !exit {
		t.Errorf("loop shape: backward jump %v, exit jump %v", backward, exit)
	}
}

func TestCompile_TryCatch(t *testing.T) {
	// try { throw "boom"; } catch (e) { return e; }
	prog := program(&ast.Try{
		Body:     []ast.Node{&ast.Throw{Value: str("boom")}},
		CatchVar: "e",
		Catch:    []ast.Node{ret(ident("e"))},
	})
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	ins := m.Main.Instructions
	if ins[0].Op != bytecode.OpTryBegin {
		t.Fatalf("first instruction = %v, want TRY_BEGIN", ins[0].Op)
	}
	catch := 1 + ins[0].OperandInt()
	if ins[catch].Op != bytecode.OpStoreGlobal {
		t.Errorf("catch block starts with %v, want STORE_GLOBAL", ins[catch].Op)
	}
	if name := m.Main.Constants[ins[catch].OperandInt()]; name != "e" {
		t.Errorf("catch binds %v, want e", name)
	}
	if n := countOp(m.Main, bytecode.OpTryEnd); n != 1 {
		t.Errorf("TRY_END count = %d, want 1", n)
	}
	// The catch block is entered with the error on the stack.
	if m.Main.MaxStackSize < 1 {
		t.Errorf("MaxStackSize = %d, want >= 1", m.Main.MaxStackSize)
	}
}

func TestCompile_ForWithBreak(t *testing.T) {
	// for x in [1, 2, 3] { try { if (x == 2) { break; } } catch (e) {} }
	prog := program(&ast.For{
		Iterator: "x",
		Iterable: &ast.Array{Elements: []ast.Node{num(1), num(2), num(3)}},
		Body: []ast.Node{&ast.Try{
			Body: []ast.Node{&ast.If{
				Condition: bin(ident("x"), "==", num(2)),
				Then:      []ast.Node{&ast.Break{}},
			}},
			CatchVar: "e",
		}},
	})
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !hasOp(m.Main, bytecode.OpIterPrep) {
		t.Error("for loop does not normalize its iterable")
	}
	// One TRY_END on the normal path, one before the break leaves the try.
	if n := countOp(m.Main, bytecode.OpTryEnd); n != 2 {
		t.Errorf("TRY_END count = %d, want 2", n)
	}
	var temps int
	for _, name := range m.Main.Locals {
		if strings.HasPrefix(name, TempPrefix) {
			temps++
		}
	}
	if temps != 2 {
		t.Errorf("temporaries = %d, want 2", temps)
	}
}

func TestCompile_JumpOffsetsResolved(t *testing.T) {
	prog := program(
		decl("i", num(0)),
		&ast.DoWhile{Condition: bin(ident("i"), "<", num(10)), Body: []ast.Node{
			&ast.If{
				Condition: bin(ident("i"), "==", num(5)),
				Then:      []ast.Node{&ast.Continue{}},
				Else:      []ast.Node{expr(assign("i", bin(ident("i"), "+", num(2))))},
			},
			expr(assign("i", bin(ident("i"), "+", num(1)))),
		}},
		&ast.Switch{Subject: ident("i"), Cases: []ast.SwitchCase{
			{Value: num(1), Body: []ast.Node{expr(call("println", str("one")))}},
			{Body: []ast.Node{expr(call("println", str("other")))}},
		}},
		expr(bin(ident("i"), "and", bin(ident("i"), "or", num(0)))),
	)
	for _, level := range []int{0, 1, 2} {
		opts := DefaultOptions()
		opts.OptimizationLevel = level
		m, err := Compile("test", prog, opts)
		if err != nil {
			t.Fatalf("level %d: Compile() error = %v", level, err)
		}
		for _, fn := range m.AllFunctions() {
			n := len(fn.Instructions)
			for i, in := range fn.Instructions {
				if !in.Op.IsJump() && in.Op != bytecode.OpTryBegin {
					continue
				}
				if target := i + 1 + in.OperandInt(); target < 0 || target > n {
					t.Errorf("level %d: %s[%d] %v targets %d outside [0, %d]", level, fn.Name, i, in.Op, target, n)
				}
			}
		}
	}
}

func TestCompile_SwitchPopsSubject(t *testing.T) {
	prog := program(&ast.Switch{Subject: num(2), Cases: []ast.SwitchCase{
		{Value: num(1), Body: []ast.Node{expr(num(10))}},
		{Value: num(2), Body: []ast.Node{expr(num(20))}},
	}})
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	ins := m.Main.Instructions
	for i, in := range ins {
		if in.Op != bytecode.OpJmpT {
			continue
		}
		target := i + 1 + in.OperandInt()
		if ins[target].Op != bytecode.OpPop {
			t.Errorf("case at %d starts with %v, want POP", target, ins[target].Op)
		}
	}
	if countOp(m.Main, bytecode.OpDup) != 2 {
		t.Errorf("DUP count = %d, want one per case", countOp(m.Main, bytecode.OpDup))
	}
}

func TestCompile_Class(t *testing.T) {
	prog := program(&ast.ClassDef{Name: "Point", Methods: []*ast.FunctionDef{
		{Name: "init", Params: []string{"x"}, Body: []ast.Node{
			&ast.IndexAssignment{Target: ident("self"), Index: str("x"), Value: ident("x")},
		}},
		{Name: "origin", IsStatic: true},
	}})
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	ctor := m.Function("Point.init")
	if ctor == nil {
		t.Fatal("method Point.init not defined")
	}
	if ctor.Arity != 2 || ctor.LocalIndex("self") != 0 {
		t.Errorf("Point.init arity = %d, self slot = %d; want 2 and 0", ctor.Arity, ctor.LocalIndex("self"))
	}
	if origin := m.Function("Point.origin"); origin == nil || origin.Arity != 0 || !origin.IsStatic {
		t.Errorf("Point.origin = %+v, want static with arity 0", origin)
	}
	if !hasOp(m.Main, bytecode.OpNewClass) || countOp(m.Main, bytecode.OpMethod) != 2 {
		t.Errorf("main = %v, want NEW_CLASS and two METHOD", opcodes(m.Main))
	}
}

func TestCompile_Import(t *testing.T) {
	prog := program(
		&ast.Import{Path: "lib/utils.ol"},
		&ast.Import{Path: "lib/strings.ol", Alias: "s"},
	)
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !slices.Equal(m.Imports, []string{"lib/utils.ol", "lib/strings.ol"}) {
		t.Errorf("Imports = %v", m.Imports)
	}
	for _, name := range []string{"utils", "s"} {
		if _, ok := m.Globals[name]; !ok {
			t.Errorf("import binding %q missing from globals", name)
		}
	}
}

func TestCompile_Lambda(t *testing.T) {
	prog := program(decl("inc", &ast.FunctionDef{Params: []string{"n"}, Body: []ast.Node{
		ret(bin(ident("n"), "+", num(1))),
	}}))
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if m.Function(ast.LambdaPrefix+"1") == nil {
		t.Errorf("lambda not compiled as %s1", ast.LambdaPrefix)
	}
	if _, ok := m.Globals["inc"]; !ok {
		t.Error("inc missing from globals")
	}
}

func TestCompile_NestedFunctionsWithSameName(t *testing.T) {
	helper := func(v float64) ast.Node {
		return &ast.FunctionDef{Name: "helper", Body: []ast.Node{ret(num(v))}}
	}
	prog := program(
		&ast.FunctionDef{Name: "a", Body: []ast.Node{helper(1), ret(call("helper"))}},
		&ast.FunctionDef{Name: "b", Body: []ast.Node{helper(2), helper(3), ret(call("helper"))}},
	)
	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	for _, name := range []string{"a$helper", "b$helper", "b$helper#2"} {
		if m.Function(name) == nil {
			t.Errorf("function %s not compiled", name)
		}
	}
	if m.Function("helper") != nil {
		t.Error("nested helper compiled under its bare name")
	}
	seen := make(map[string]bool)
	for _, fn := range m.AllFunctions() {
		if seen[fn.Name] {
			t.Errorf("function name %s used twice", fn.Name)
		}
		seen[fn.Name] = true
	}
}

func TestCompile_Errors(t *testing.T) {
	tooMany := make([]ast.Node, 256)
	for i := range tooMany {
		tooMany[i] = num(float64(i))
	}

	tests := []struct {
		name    string
		prog    *ast.Program
		wantErr error
		wantMsg string
	}{
		{
			name:    "break outside loop",
			prog:    program(&ast.Break{Position: ast.Position{Line: 3, Column: 2}}),
			wantErr: ErrNoLoop,
			wantMsg: "line 3:2: 'break' outside of a loop",
		},
		{
			name:    "continue in function outside loop",
			prog:    program(&ast.While{Condition: &ast.Boolean{Value: true}, Body: []ast.Node{&ast.FunctionDef{Name: "f", Body: []ast.Node{&ast.Continue{}}}}}),
			wantErr: ErrNoLoop,
			wantMsg: "'continue' outside of a loop",
		},
		{
			name:    "unknown binary operator",
			prog:    program(expr(bin(num(1), "<=>", num(2)))),
			wantErr: ErrUnknownOperator,
			wantMsg: "unknown binary operator '<=>'",
		},
		{
			name:    "unknown unary operator",
			prog:    program(expr(&ast.UnaryOp{Op: "++", Operand: num(1)})),
			wantErr: ErrUnknownOperator,
		},
		{
			name:    "statement used as expression",
			prog:    program(expr(call("f", &ast.Break{}))),
			wantErr: ErrUnsupportedNode,
			wantMsg: "cannot compile Break node",
		},
		{
			name:    "const assignment",
			prog:    program(&ast.Declaration{Name: "k", Value: num(1), Const: true}, expr(assign("k", num(2)))),
			wantErr: ErrConstAssignment,
		},
		{
			name:    "too many arguments",
			prog:    program(expr(call("f", tooMany...))),
			wantMsg: "too many arguments (256)",
		},
		{
			name:    "duplicate function",
			prog:    program(&ast.FunctionDef{Name: "f"}, &ast.FunctionDef{Name: "f"}),
			wantMsg: `function "f" already defined`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile("test", tt.prog, DefaultOptions())
			if err == nil {
				t.Fatal("Compile() error = nil, want error")
			}
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Errorf("error %T is not *Error", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Compile() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Compile() error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestCompile_StrictMode(t *testing.T) {
	prog := program(expr(assign("args", num(1))))
	opts := DefaultOptions()
	opts.StrictMode = true

	if _, err := Compile("test", prog, opts); !errors.Is(err, ErrUndeclared) {
		t.Errorf("Compile() error = %v, want ErrUndeclared", err)
	}

	c := New("test", opts)
	c.AddKnownGlobal("args")
	if _, err := c.Compile(prog); err != nil {
		t.Errorf("Compile() with known global error = %v", err)
	}
}

func TestCompiler_SingleUse(t *testing.T) {
	c := New("test", DefaultOptions())
	if _, err := c.Compile(program()); err != nil {
		t.Fatalf("first Compile() error = %v", err)
	}
	if _, err := c.Compile(program()); err == nil {
		t.Error("second Compile() error = nil, want error")
	}
}

func TestCompile_EmptyProgram(t *testing.T) {
	m, err := Compile("empty", program(), DefaultOptions())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if got := opcodes(m.Main); !slices.Equal(got, []bytecode.Opcode{bytecode.OpReturnNull}) {
		t.Errorf("main = %v, want [RETURN_NULL]", got)
	}
}

func TestCompile_Warnings(t *testing.T) {
	c := New("test", DefaultOptions())
	_, err := c.Compile(program(&ast.FunctionDef{Name: "f", Body: []ast.Node{
		ret(nil),
		expr(num(1)),
	}}))
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if len(c.Warnings()) != 1 {
		t.Errorf("Warnings() = %v, want one unreachable-code warning", c.Warnings())
	}
}

func TestCompile_DebugInfo(t *testing.T) {
	prog := program(&ast.Declaration{
		Position: ast.Position{Line: 2, Column: 1},
		Name:     "x",
		Value:    &ast.Number{Position: ast.Position{Line: 2, Column: 9}, Value: 1},
	})

	m, err := Compile("test", prog, noOptimize())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if m.Flags&bytecode.FlagDebugInfo == 0 {
		t.Error("FlagDebugInfo not set")
	}
	if in := m.Main.Instructions[0]; in.Line != 2 || in.Column != 9 {
		t.Errorf("position = %d:%d, want 2:9", in.Line, in.Column)
	}

	opts := noOptimize()
	opts.DebugInfo = false
	m, err = Compile("test", prog, opts)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if in := m.Main.Instructions[0]; in.Line != 0 || in.Column != 0 {
		t.Errorf("position without debug info = %d:%d, want 0:0", in.Line, in.Column)
	}
}

func TestSourceMap_RoundTrip(t *testing.T) {
	prog := program(
		&ast.Declaration{
			Position: ast.Position{Line: 1, Column: 1},
			Name:     "x",
			Value:    &ast.Number{Position: ast.Position{Line: 1, Column: 9}, Value: 1},
		},
		&ast.FunctionDef{Position: ast.Position{Line: 2, Column: 1}, Name: "f", Body: []ast.Node{
			&ast.Return{Position: ast.Position{Line: 3, Column: 5}, Value: &ast.Number{Position: ast.Position{Line: 3, Column: 12}, Value: 2}},
		}},
	)
	opts := DefaultOptions()
	opts.GenerateSourceMap = true

	c := New("mapped", opts)
	c.SetFilePath("src/mapped.ol")
	m, err := c.Compile(prog)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	sm, err := DecodeSourceMap(m)
	if err != nil {
		t.Fatalf("DecodeSourceMap() error = %v", err)
	}
	if sm.BuildID == "" {
		t.Error("BuildID is empty")
	}
	if sm.Module != "mapped" || sm.Source != "src/mapped.ol" {
		t.Errorf("Module, Source = %q, %q", sm.Module, sm.Source)
	}
	if sm.Options != opts {
		t.Errorf("Options = %+v, want %+v", sm.Options, opts)
	}
	if pos, ok := sm.Lookup("main", 0); !ok || pos.Line != 1 || pos.Column != 9 {
		t.Errorf("Lookup(main, 0) = %+v, %v; want 1:9", pos, ok)
	}
	if pos, ok := sm.Lookup("f", 0); !ok || pos.Line != 3 {
		t.Errorf("Lookup(f, 0) = %+v, %v; want line 3", pos, ok)
	}
	if _, ok := sm.Lookup("f", 99); ok {
		t.Error("Lookup past the end succeeded")
	}
	if _, ok := sm.Lookup("missing", 0); ok {
		t.Error("Lookup of an unknown function succeeded")
	}

	plain, err := Compile("plain", prog, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if _, err := DecodeSourceMap(plain); !errors.Is(err, ErrNoSourceMap) {
		t.Errorf("DecodeSourceMap() error = %v, want ErrNoSourceMap", err)
	}
}

func TestCompileJSON(t *testing.T) {
	src := `{"type": "Program", "body": [
		{"type": "Declaration", "name": "x", "line": 1, "column": 1,
		 "value": {"type": "Number", "value": 5, "line": 1, "column": 9}}
	]}`
	m, err := CompileJSON("scripts/demo.ol.json", []byte(src), DefaultOptions())
	if err != nil {
		t.Fatalf("CompileJSON() error = %v", err)
	}
	if m.Name != "demo" || m.FilePath != "scripts/demo.ol.json" {
		t.Errorf("Name, FilePath = %q, %q", m.Name, m.FilePath)
	}
	if m.Globals["x"] != 5.0 {
		t.Errorf("Globals[x] = %v, want 5", m.Globals["x"])
	}

	if _, err := CompileJSON("bad.json", []byte(`{"type": "Goto"}`), DefaultOptions()); err == nil {
		t.Error("CompileJSON() of an unknown node succeeded")
	}
}

func TestModuleName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.ol", "main"},
		{"lib/utils.ol", "utils"},
		{`C:\scripts\tool.ol`, "tool"},
		{"archive.tar.gz", "archive"},
		{"noext", "noext"},
		{".hidden", ".hidden"},
	}
	for _, tt := range tests {
		if got := ModuleName(tt.path); got != tt.want {
			t.Errorf("ModuleName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestOptions(t *testing.T) {
	opts := DefaultOptions()
	if !opts.Optimize || !opts.DebugInfo || opts.OptimizationLevel != 1 {
		t.Errorf("DefaultOptions() = %+v", opts)
	}
	if got := opts.optimizationLevel(); got != 1 {
		t.Errorf("optimizationLevel() = %d, want 1", got)
	}
	opts.Optimize = false
	if got := opts.optimizationLevel(); got != 0 {
		t.Errorf("optimizationLevel() with Optimize off = %d, want 0", got)
	}
}

func TestError_Format(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Message: "bad", Line: 3, Column: 4}, "line 3:4: bad"},
		{&Error{Message: "bad"}, "bad"},
		{&Error{Err: ErrNoLoop, Line: 1, Column: 1}, "line 1:1: not inside a loop"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

// simulateDepth walks straight-line code and returns the deepest stack it
// reaches. Only valid for functions without jumps.
func simulateDepth(fn *bytecode.Function) int {
	depth, max := 0, 0
	for _, in := range fn.Instructions {
		pop, push := bytecode.StackEffect(in.Op, in.Operands)
		depth += push - pop
		if depth > max {
			max = depth
		}
	}
	return max
}

func TestCompile_StackUsageCoversExecution(t *testing.T) {
	programs := []*ast.Program{
		program(decl("x", &ast.Array{Elements: []ast.Node{num(1), num(2), &ast.Array{Elements: []ast.Node{num(3), num(4)}}}})),
		program(decl("d", &ast.Dict{Entries: []ast.DictEntry{{Key: str("a"), Value: bin(num(1), "+", num(2))}}})),
		program(expr(call("f", num(1), bin(num(2), "*", bin(num(3), "-", num(4))), str("s")))),
		program(expr(&ast.IndexAssignment{Target: ident("a"), Index: num(0), Value: &ast.UnaryOp{Op: "-", Operand: num(1)}})),
	}
	for i, prog := range programs {
		m, err := Compile("test", prog, noOptimize())
		if err != nil {
			t.Fatalf("program %d: Compile() error = %v", i, err)
		}
		if sim := simulateDepth(m.Main); m.Main.MaxStackSize < sim {
			t.Errorf("program %d: MaxStackSize = %d, simulated %d", i, m.Main.MaxStackSize, sim)
		}
	}
}

func TestCacheKey(t *testing.T) {
	opts := DefaultOptions()
	a := program(decl("x", bin(num(1), "+", num(2))))
	b := program(decl("x", bin(num(1), "+", num(2))))

	ka, err := CacheKey(a, opts)
	if err != nil {
		t.Fatalf("CacheKey() error = %v", err)
	}
	kb, _ := CacheKey(b, opts)
	if ka != kb {
		t.Error("equal programs have different keys")
	}

	other := opts
	other.OptimizationLevel = 2
	if k, _ := CacheKey(a, other); k == ka {
		t.Error("changing the optimization level kept the key")
	}

	c := program(decl("x", bin(num(1), "-", num(2))))
	if k, _ := CacheKey(c, opts); k == ka {
		t.Error("different programs share a key")
	}
}
