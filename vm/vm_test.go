package vm

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ollang/ollang/pkg/ast"
	"github.com/ollang/ollang/pkg/bytecode"
	"github.com/ollang/ollang/pkg/value"
)

// ---------------------------------------------------------------------------
// End-to-end programs
// ---------------------------------------------------------------------------

func TestRun_GlobalArithmetic(t *testing.T) {
	// var x = 1 + 2 * 3;
	o := mustRun(t, program(decl("x", bin(num(1), "+", bin(num(2), "*", num(3))))))
	if got := globalOf(t, o.vm, "x"); !value.Equal(got, value.Number(7)) {
		t.Errorf("x = %v, want 7", got)
	}
}

func TestRun_FunctionCallOutput(t *testing.T) {
	// func f(a) { return a + 1; } println(f(41));
	o := mustRun(t, program(
		fn("f", []string{"a"}, ret(bin(ident("a"), "+", num(1)))),
		printLine(call("f", num(41))),
	))
	if o.stdout != "42\n" {
		t.Errorf("stdout = %q, want %q", o.stdout, "42\n")
	}
}

func TestRun_WhileLoop(t *testing.T) {
	// var i = 0; var n = 0; while (i < 3) { i = i + 1; n = n + 1; }
	o := mustRun(t, program(
		decl("i", num(0)),
		decl("n", num(0)),
		&ast.While{Condition: bin(ident("i"), "<", num(3)), Body: []ast.Node{
			expr(assign("i", bin(ident("i"), "+", num(1)))),
			expr(assign("n", bin(ident("n"), "+", num(1)))),
		}},
	))
	if got := globalOf(t, o.vm, "i"); !value.Equal(got, value.Number(3)) {
		t.Errorf("i = %v, want 3", got)
	}
	if got := globalOf(t, o.vm, "n"); !value.Equal(got, value.Number(3)) {
		t.Errorf("iterations = %v, want 3", got)
	}
}

func TestRun_TopLevelTryReturnsThrownValue(t *testing.T) {
	// try { throw "boom"; } catch (e) { return e; }
	o := mustRun(t, program(&ast.Try{
		Body:     []ast.Node{&ast.Throw{Value: str("boom")}},
		CatchVar: "e",
		Catch:    []ast.Node{ret(ident("e"))},
	}))
	if !value.Equal(o.result.Value, value.String("boom")) {
		t.Errorf("result = %v, want boom", o.result.Value)
	}
}

func TestRun_ArrayElementKeepsBlockAlive(t *testing.T) {
	// var arr = [alloc(16)]; gc(); var before = gc_stats().allocationCount;
	// arr[0] = null; gc(); var after = gc_stats().allocationCount;
	o := mustRun(t, program(
		decl("arr", array(call("alloc", num(16)))),
		expr(call("gc")),
		decl("before", member(call("gc_stats"), "allocationCount")),
		expr(&ast.IndexAssignment{Target: ident("arr"), Index: num(0), Value: null()}),
		expr(call("gc")),
		decl("after", member(call("gc_stats"), "allocationCount")),
	))
	if got := globalOf(t, o.vm, "before"); !value.Equal(got, value.Number(1)) {
		t.Errorf("live blocks while referenced = %v, want 1", got)
	}
	if got := globalOf(t, o.vm, "after"); !value.Equal(got, value.Number(0)) {
		t.Errorf("live blocks after removal = %v, want 0", got)
	}
}

func TestRun_ForLoopWithBreak(t *testing.T) {
	tests := []struct {
		name string
		body []ast.Node
		want string
	}{
		{
			name: "visits every element in order",
			body: []ast.Node{printLine(ident("x"))},
			want: "1\n2\n3\n",
		},
		{
			name: "break on the second iteration",
			body: []ast.Node{
				printLine(ident("x")),
				&ast.If{Condition: bin(ident("x"), "==", num(2)), Then: []ast.Node{&ast.Break{}}},
			},
			want: "1\n2\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := mustRun(t, program(&ast.For{
				Iterator: "x",
				Iterable: array(num(1), num(2), num(3)),
				Body:     tt.body,
			}))
			if o.stdout != tt.want {
				t.Errorf("stdout = %q, want %q", o.stdout, tt.want)
			}
		})
	}
}

func TestRun_ForLoopOverDictKeys(t *testing.T) {
	dict := &ast.Dict{Entries: []ast.DictEntry{
		{Key: str("a"), Value: num(1)},
		{Key: str("b"), Value: num(2)},
	}}
	o := mustRun(t, program(&ast.For{Iterator: "k", Iterable: dict, Body: []ast.Node{printLine(ident("k"))}}))
	if o.stdout != "a\nb\n" {
		t.Errorf("stdout = %q, want %q", o.stdout, "a\nb\n")
	}
}

func TestRun_Classes(t *testing.T) {
	// class Point { constructor(x) { self.x = x; } getX() { return self.x; } }
	// var p = Point(3); return p.getX();
	class := &ast.ClassDef{Name: "Point", Methods: []*ast.FunctionDef{
		fn("constructor", []string{"x"},
			expr(&ast.IndexAssignment{Target: ident("self"), Index: str("x"), Value: ident("x")})),
		fn("getX", nil, ret(member(ident("self"), "x"))),
	}}
	o := mustRun(t, program(
		class,
		decl("p", call("Point", num(3))),
		ret(&ast.Call{Callee: member(ident("p"), "getX")}),
	))
	if !value.Equal(o.result.Value, value.Number(3)) {
		t.Errorf("p.getX() = %v, want 3", o.result.Value)
	}
	p, ok := globalOf(t, o.vm, "p").(*value.Instance)
	if !ok {
		t.Fatalf("p = %T, want *value.Instance", globalOf(t, o.vm, "p"))
	}
	if p.Class.Name() != "Point" {
		t.Errorf("class = %s, want Point", p.Class.Name())
	}
}

func TestRun_InheritedMethod(t *testing.T) {
	base := &ast.ClassDef{Name: "Base", Methods: []*ast.FunctionDef{
		fn("hello", nil, ret(str("hi"))),
	}}
	derived := &ast.ClassDef{Name: "Derived", Parent: "Base"}
	o := mustRun(t, program(
		base, derived,
		decl("d", call("Derived")),
		ret(&ast.Call{Callee: member(ident("d"), "hello")}),
	))
	if !value.Equal(o.result.Value, value.String("hi")) {
		t.Errorf("d.hello() = %v, want hi", o.result.Value)
	}
}

func TestRun_Recursion(t *testing.T) {
	// func fact(n) { if (n <= 1) { return 1; } return n * fact(n - 1); }
	fact := fn("fact", []string{"n"},
		&ast.If{Condition: bin(ident("n"), "<=", num(1)), Then: []ast.Node{ret(num(1))}},
		ret(bin(ident("n"), "*", call("fact", bin(ident("n"), "-", num(1))))),
	)
	o := mustRun(t, program(fact, ret(call("fact", num(10)))))
	if !value.Equal(o.result.Value, value.Number(3628800)) {
		t.Errorf("fact(10) = %v, want 3628800", o.result.Value)
	}
	if o.result.Instructions == 0 {
		t.Error("Instructions = 0, want a count")
	}
}

func TestRun_PointerIndexing(t *testing.T) {
	// var p = alloc(4); p[1] = 65; return p[1];
	o := mustRun(t, program(
		decl("p", call("alloc", num(4))),
		expr(&ast.IndexAssignment{Target: ident("p"), Index: num(1), Value: num(65)}),
		ret(&ast.Index{Target: ident("p"), Index: num(1)}),
	))
	if !value.Equal(o.result.Value, value.Number(65)) {
		t.Errorf("p[1] = %v, want 65", o.result.Value)
	}
}

func TestRun_DivisionByZeroIsSilent(t *testing.T) {
	o := runModule(t, compile(t, program(
		ret(array(bin(num(1), "/", num(0)), bin(num(0), "/", num(0)))),
	), 0))
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	got := o.result.Value.(*value.Array).Elements
	if f := got[0].AsNumber(); !math.IsInf(f, 1) {
		t.Errorf("1/0 = %v, want +Inf", f)
	}
	if f := got[1].AsNumber(); !math.IsNaN(f) {
		t.Errorf("0/0 = %v, want NaN", f)
	}
}

// ---------------------------------------------------------------------------
// Optimizer equivalence
// ---------------------------------------------------------------------------

func TestRun_OptimizationLevelsAgree(t *testing.T) {
	corpus := map[string]*ast.Program{
		"folding": program(
			decl("a", bin(bin(num(2), "*", num(3)), "+", bin(num(10), "%", num(4)))),
			printLine(ident("a")),
			printLine(bin(str("n="), "+", bin(num(1), "/", num(4)))),
			ret(bin(bin(num(7), "-", num(2)), "**", num(2))),
		),
		"branches": program(
			decl("i", num(0)),
			decl("acc", str("")),
			&ast.While{Condition: bin(ident("i"), "<", num(5)), Body: []ast.Node{
				&ast.If{
					Condition: bin(bin(ident("i"), "%", num(2)), "==", num(0)),
					Then:      []ast.Node{expr(assign("acc", bin(ident("acc"), "+", str("e"))))},
					Else:      []ast.Node{expr(assign("acc", bin(ident("acc"), "+", str("o"))))},
				},
				expr(assign("i", bin(ident("i"), "+", num(1)))),
			}},
			printLine(ident("acc")),
			ret(ident("i")),
		),
		"functions": program(
			fn("sq", []string{"x"}, ret(bin(ident("x"), "*", ident("x")))),
			decl("total", num(0)),
			&ast.For{Iterator: "v", Iterable: array(num(1), num(2), num(3)), Body: []ast.Node{
				expr(assign("total", bin(ident("total"), "+", call("sq", ident("v"))))),
			}},
			printLine(ident("total")),
			ret(bin(bin(ident("total"), ">", num(10)), "&&", bin(num(1), "<", num(2)))),
		),
	}
	for name, prog := range corpus {
		t.Run(name, func(t *testing.T) {
			plain := runModule(t, compile(t, prog, 0))
			optimized := runModule(t, compile(t, prog, 2))
			if plain.err != nil || optimized.err != nil {
				t.Fatalf("errors = %v, %v", plain.err, optimized.err)
			}
			if plain.stdout != optimized.stdout {
				t.Errorf("stdout = %q (level 2), want %q (level 0)", optimized.stdout, plain.stdout)
			}
			if !value.Equal(plain.result.Value, optimized.result.Value) {
				t.Errorf("result = %v (level 2), want %v (level 0)", optimized.result.Value, plain.result.Value)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestRun_UncaughtErrorTrace(t *testing.T) {
	// func inner() { return missing; } func outer() { return inner(); } outer();
	o := run(t, program(
		fn("inner", nil, ret(ident("missing"))),
		fn("outer", nil, ret(call("inner"))),
		expr(call("outer")),
	))
	var rt *RuntimeError
	if !errors.As(o.err, &rt) {
		t.Fatalf("Run() error = %v, want *RuntimeError", o.err)
	}
	if rt.Kind != KindRuntime {
		t.Errorf("Kind = %s, want %s", rt.Kind, KindRuntime)
	}
	if !strings.Contains(rt.Message, "missing") {
		t.Errorf("Message = %q, want the missing name", rt.Message)
	}
	if rt.Function != "inner" {
		t.Errorf("Function = %q, want inner", rt.Function)
	}
	var names []string
	for _, e := range rt.CallStack {
		names = append(names, e.Function)
	}
	if want := "inner,outer,main"; strings.Join(names, ",") != want {
		t.Errorf("CallStack = %v, want %s", names, want)
	}
	if rt.Hint == "" {
		t.Error("Hint is empty")
	}
	formatted := rt.Format()
	for _, want := range []string{"[RuntimeError]", "Function: inner", "Stack trace:", "at outer", "Hint:"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("Format() = %q, missing %q", formatted, want)
		}
	}
}

func TestRun_ErrorLocation(t *testing.T) {
	thrower := &ast.Throw{Value: str("bad")}
	thrower.Line, thrower.Column = 3, 5
	o := run(t, program(thrower))
	var rt *RuntimeError
	if !errors.As(o.err, &rt) {
		t.Fatalf("Run() error = %v, want *RuntimeError", o.err)
	}
	if rt.Kind != KindThrown {
		t.Errorf("Kind = %s, want %s", rt.Kind, KindThrown)
	}
	if rt.Line != 3 || rt.Column != 5 {
		t.Errorf("location = %d:%d, want 3:5", rt.Line, rt.Column)
	}
	if rt.Message != "bad" {
		t.Errorf("Message = %q, want bad", rt.Message)
	}
}

func TestRun_CallNonCallable(t *testing.T) {
	o := run(t, program(decl("x", num(1)), expr(call("x"))))
	var rt *RuntimeError
	if !errors.As(o.err, &rt) {
		t.Fatalf("Run() error = %v, want *RuntimeError", o.err)
	}
	if !strings.Contains(rt.Message, "non-callable") {
		t.Errorf("Message = %q, want non-callable", rt.Message)
	}
	if !strings.Contains(rt.Hint, "isn't a function") {
		t.Errorf("Hint = %q", rt.Hint)
	}
}

func TestRun_CatchRuntimeErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body []ast.Node
		want string
	}{
		{"undefined global", []ast.Node{expr(call("nope"))}, "Global 'nope' not found"},
		{"non-callable", []ast.Node{expr(&ast.Call{Callee: num(3)})}, "Attempt to call non-callable number"},
		{"nested call", []ast.Node{expr(call("boom"))}, "from boom"},
	}
	boom := fn("boom", nil, &ast.Throw{Value: str("from boom")})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := mustRun(t, program(boom, &ast.Try{Body: tt.body, CatchVar: "e", Catch: []ast.Node{ret(ident("e"))}}))
			if !value.Equal(o.result.Value, value.String(tt.want)) {
				t.Errorf("caught %v, want %q", o.result.Value, tt.want)
			}
		})
	}
}

func TestRun_CatchUnwindsOperandStack(t *testing.T) {
	// var r = 1 + (try-protected call that throws); the catch must see a clean stack.
	o := mustRun(t, program(
		fn("boom", nil, &ast.Throw{Value: str("x")}),
		decl("r", num(0)),
		&ast.Try{
			Body:     []ast.Node{expr(assign("r", bin(num(1), "+", call("boom"))))},
			CatchVar: "e",
			Catch:    []ast.Node{expr(assign("r", num(2)))},
		},
		ret(ident("r")),
	))
	if !value.Equal(o.result.Value, value.Number(2)) {
		t.Errorf("r = %v, want 2", o.result.Value)
	}
}

func TestRun_StackOverflowIsNotCatchable(t *testing.T) {
	// func down(n) { return down(n + 1); } try { down(0); } catch (e) { return "caught"; }
	o := run(t, program(
		fn("down", []string{"n"}, ret(call("down", bin(ident("n"), "+", num(1))))),
		&ast.Try{Body: []ast.Node{expr(call("down", num(0)))}, CatchVar: "e", Catch: []ast.Node{ret(str("caught"))}},
	))
	if !errors.Is(o.err, errStackOverflow) {
		t.Fatalf("Run() error = %v, want stack overflow", o.err)
	}
	var rt *RuntimeError
	if errors.As(o.err, &rt) && len(rt.CallStack) == 0 {
		t.Error("CallStack is empty")
	}
	if len(o.vm.frames) != 0 || len(o.vm.stack) != 0 {
		t.Errorf("frames = %d, stack = %d after failure, want 0, 0", len(o.vm.frames), len(o.vm.stack))
	}
}

func TestRun_AllocationErrorIsNotCatchable(t *testing.T) {
	o := run(t, program(&ast.Try{
		Body:     []ast.Node{expr(call("alloc", num(0)))},
		CatchVar: "e",
		Catch:    []ast.Node{ret(str("caught"))},
	}))
	var rt *RuntimeError
	if !errors.As(o.err, &rt) {
		t.Fatalf("Run() error = %v, want *RuntimeError", o.err)
	}
	if rt.Kind != KindAllocation {
		t.Errorf("Kind = %s, want %s", rt.Kind, KindAllocation)
	}
}

func TestRun_Cancellation(t *testing.T) {
	m := compile(t, program(&ast.While{Condition: &ast.Boolean{Value: true}}), 0)
	machine := New(m)
	defer machine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := machine.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
}

func TestRun_Halt(t *testing.T) {
	m := assemble(t, func(a *bytecode.Assembler) {
		push(a, 1)
		a.Emit(bytecode.OpHalt)
		push(a, 2)
	})
	o := runModule(t, m)
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	if o.result.Value.Kind() != value.KindNull {
		t.Errorf("result = %v, want null", o.result.Value)
	}
}

// ---------------------------------------------------------------------------
// Host API
// ---------------------------------------------------------------------------

func TestWithGlobals(t *testing.T) {
	args := value.NewArray(value.String("a"), value.String("b"))
	o := mustRun(t, program(ret(member(ident("args"), "length"))), WithGlobals(map[string]value.Value{"args": args}))
	if !value.Equal(o.result.Value, value.Number(2)) {
		t.Errorf("args.length = %v, want 2", o.result.Value)
	}
}

func TestCallFromHost(t *testing.T) {
	o := mustRun(t, program(fn("double", []string{"x"}, ret(bin(ident("x"), "*", num(2))))))
	double := globalOf(t, o.vm, "double")
	got, err := o.vm.Call(double, value.Number(21))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !value.Equal(got, value.Number(42)) {
		t.Errorf("double(21) = %v, want 42", got)
	}
}

func TestBuiltinReentersBytecode(t *testing.T) {
	// twice(f, x) is a host builtin calling back into the script.
	twice := value.NewBuiltin("twice", func(ctx value.Context, args []value.Value) (value.Value, error) {
		v, err := ctx.Call(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return ctx.Call(args[0], v)
	})
	o := mustRun(t, program(
		fn("inc", []string{"x"}, ret(bin(ident("x"), "+", num(1)))),
		ret(call("twice", ident("inc"), num(5))),
	), WithGlobals(map[string]value.Value{"twice": twice}))
	if !value.Equal(o.result.Value, value.Number(7)) {
		t.Errorf("twice(inc, 5) = %v, want 7", o.result.Value)
	}
}

func TestBuiltinErrorCrossesHostBoundary(t *testing.T) {
	calls := value.NewBuiltin("calls", func(ctx value.Context, args []value.Value) (value.Value, error) {
		return ctx.Call(args[0])
	})
	o := run(t, program(
		fn("fails", nil, ret(ident("undefined_thing"))),
		expr(call("calls", ident("fails"))),
	), WithGlobals(map[string]value.Value{"calls": calls}))
	var rt *RuntimeError
	if !errors.As(o.err, &rt) {
		t.Fatalf("Run() error = %v, want *RuntimeError", o.err)
	}
	var names []string
	for _, e := range rt.CallStack {
		names = append(names, e.Function)
	}
	if want := "fails,main"; strings.Join(names, ",") != want {
		t.Errorf("CallStack = %v, want %s", names, want)
	}
}

func TestTrace(t *testing.T) {
	var trace strings.Builder
	mustRun(t, program(decl("x", num(1))), WithTrace(&trace))
	if !strings.Contains(trace.String(), "STORE_GLOBAL") {
		t.Errorf("trace = %q, want STORE_GLOBAL", trace.String())
	}
}

func TestConstantPoolWrappedOncePerFunction(t *testing.T) {
	o := mustRun(t, program(fn("greet", nil, ret(str("hi")))))
	greet := globalOf(t, o.vm, "greet").(*value.Compiled)

	for i := 0; i < 2; i++ {
		got, err := o.vm.Call(greet)
		if err != nil {
			t.Fatalf("Call() error = %v", err)
		}
		if !value.Equal(got, value.String("hi")) {
			t.Errorf("greet() = %v, want hi", got)
		}
	}
	consts, ok := o.vm.constants[greet.Fn]
	if !ok {
		t.Fatal("greet has no cached constant pool")
	}
	if again := o.vm.constantsFor(greet.Fn); &again[0] != &consts[0] {
		t.Error("constantsFor rebuilt the pool on a later call")
	}
}

func TestCompositeConstantsAreNotShared(t *testing.T) {
	m := assemble(t, func(a *bytecode.Assembler) {
		push(a, []any{1.0, 2.0})
	})
	o := runModule(t, m)
	if o.err != nil {
		t.Fatalf("Run() error = %v", o.err)
	}
	main := &value.Compiled{Fn: m.Main, Module: m}

	first, err := o.vm.Call(main)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	first.(*value.Array).Append(value.Number(3))
	second, err := o.vm.Call(main)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := second.String(); got != "[1, 2]" {
		t.Errorf("second call = %s, want [1, 2]", got)
	}
}

func TestRun_NestedFunctionsWithSameName(t *testing.T) {
	o := mustRun(t, program(
		fn("a", nil, fn("helper", nil, ret(num(1))), ret(call("helper"))),
		fn("b", nil, fn("helper", nil, ret(num(2))), ret(call("helper"))),
		ret(bin(bin(call("a"), "*", num(10)), "+", call("b"))),
	))
	if !value.Equal(o.result.Value, value.Number(12)) {
		t.Errorf("a()*10 + b() = %v, want 12", o.result.Value)
	}
}
