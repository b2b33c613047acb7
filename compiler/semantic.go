package compiler

import (
	"fmt"

	"github.com/ollang/ollang/pkg/ast"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: Pre-codegen semantic checks
// ---------------------------------------------------------------------------

// SemanticAnalyzer checks a program before code generation. It rejects
// assignments to constants (and, in strict mode, to undeclared names) and
// warns about unreachable statements.
type SemanticAnalyzer struct {
	strict   bool
	errors   []*Error
	warnings []string

	// Names bound at the top level of the program, hoisted so function
	// bodies can assign to globals declared after them.
	globals      map[string]bool
	globalConsts map[string]bool
	knownGlobals map[string]bool

	// Current function scope; nil while analyzing top-level statements.
	scope *scopeFrame
}

// scopeFrame is the set of names visible in one function body.
type scopeFrame struct {
	names  map[string]bool
	consts map[string]bool
}

// NewSemanticAnalyzer creates an analyzer.
func NewSemanticAnalyzer(strict bool) *SemanticAnalyzer {
	return &SemanticAnalyzer{
		strict:       strict,
		globals:      make(map[string]bool),
		globalConsts: make(map[string]bool),
		knownGlobals: make(map[string]bool),
	}
}

// AddKnownGlobal marks a name as defined by the host (a builtin or a seeded
// global), so strict mode accepts assignments to it.
func (s *SemanticAnalyzer) AddKnownGlobal(name string) {
	s.knownGlobals[name] = true
}

// Errors returns accumulated analysis errors.
func (s *SemanticAnalyzer) Errors() []*Error { return s.errors }

// Warnings returns accumulated warnings, formatted with their position.
func (s *SemanticAnalyzer) Warnings() []string { return s.warnings }

func (s *SemanticAnalyzer) errorAt(node ast.Node, cause error, format string, args ...any) {
	s.errors = append(s.errors, errorAt(node, cause, format, args...))
}

func (s *SemanticAnalyzer) warnAt(node ast.Node, format string, args ...any) {
	pos := node.Pos()
	msg := fmt.Sprintf("warning: line %d, column %d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	s.warnings = append(s.warnings, msg)
}

// AnalyzeProgram runs every check over prog.
func (s *SemanticAnalyzer) AnalyzeProgram(prog *ast.Program) {
	s.hoist(prog.Body)
	s.analyzeStatements(prog.Body)
}

// hoist records every name the top level binds, descending into control
// structures but not into function bodies.
func (s *SemanticAnalyzer) hoist(stmts []ast.Node) {
	for _, stmt := range stmts {
		switch n := stmt.(type) {
		case *ast.Declaration:
			s.globals[n.Name] = true
			if n.Const {
				s.globalConsts[n.Name] = true
			}
		case *ast.FunctionDef:
			if !n.IsLambda() {
				s.globals[n.Name] = true
			}
		case *ast.ClassDef:
			s.globals[n.Name] = true
		case *ast.Import:
			s.globals[importBinding(n)] = true
		case *ast.For:
			s.globals[n.Iterator] = true
			s.hoist(n.Body)
		case *ast.If:
			s.hoist(n.Then)
			s.hoist(n.Else)
		case *ast.While:
			s.hoist(n.Body)
		case *ast.DoWhile:
			s.hoist(n.Body)
		case *ast.Try:
			if n.CatchVar != "" {
				s.globals[n.CatchVar] = true
			}
			s.hoist(n.Body)
			s.hoist(n.Catch)
			s.hoist(n.Finally)
		case *ast.Switch:
			for _, c := range n.Cases {
				s.hoist(c.Body)
			}
		}
	}
}

func (s *SemanticAnalyzer) analyzeStatements(stmts []ast.Node) {
	for _, stmt := range stmts {
		s.analyze(stmt)
	}
	s.checkUnreachableCode(stmts)
}

func (s *SemanticAnalyzer) bind(name string, constant bool) {
	if s.scope == nil {
		return
	}
	s.scope.names[name] = true
	s.scope.consts[name] = constant
}

// analyze walks one node.
func (s *SemanticAnalyzer) analyze(node ast.Node) {
	switch n := node.(type) {
	case nil:
	case *ast.Declaration:
		s.analyze(n.Value)
		s.bind(n.Name, n.Const)
	case *ast.Assignment:
		s.analyze(n.Value)
		s.checkAssignmentTarget(n)
	case *ast.IndexAssignment:
		s.analyze(n.Target)
		s.analyze(n.Index)
		s.analyze(n.Value)
	case *ast.BinaryOp:
		s.analyze(n.Left)
		s.analyze(n.Right)
	case *ast.UnaryOp:
		s.analyze(n.Operand)
	case *ast.Call:
		s.analyze(n.Callee)
		for _, arg := range n.Arguments {
			s.analyze(arg)
		}
	case *ast.Array:
		for _, el := range n.Elements {
			s.analyze(el)
		}
	case *ast.Dict:
		for _, e := range n.Entries {
			s.analyze(e.Key)
			s.analyze(e.Value)
		}
	case *ast.Index:
		s.analyze(n.Target)
		s.analyze(n.Index)
	case *ast.FunctionDef:
		if !n.IsLambda() {
			s.bind(n.Name, false)
		}
		s.analyzeFunction(n.Params, n.Body)
	case *ast.ClassDef:
		s.bind(n.Name, false)
		for _, m := range n.Methods {
			s.analyzeFunction(methodParams(m), m.Body)
		}
	case *ast.If:
		s.analyze(n.Condition)
		s.analyzeStatements(n.Then)
		s.analyzeStatements(n.Else)
	case *ast.While:
		s.analyze(n.Condition)
		s.analyzeStatements(n.Body)
	case *ast.DoWhile:
		s.analyzeStatements(n.Body)
		s.analyze(n.Condition)
	case *ast.For:
		s.analyze(n.Iterable)
		s.bind(n.Iterator, false)
		s.analyzeStatements(n.Body)
	case *ast.Return:
		s.analyze(n.Value)
	case *ast.Throw:
		s.analyze(n.Value)
	case *ast.Try:
		s.analyzeStatements(n.Body)
		if n.CatchVar != "" {
			s.bind(n.CatchVar, false)
		}
		s.analyzeStatements(n.Catch)
		s.analyzeStatements(n.Finally)
	case *ast.Switch:
		s.analyze(n.Subject)
		for _, c := range n.Cases {
			s.analyze(c.Value)
			s.analyzeStatements(c.Body)
		}
	case *ast.Import:
		s.bind(importBinding(n), false)
	case *ast.ExpressionStatement:
		s.analyze(n.Expression)
	}
}

// analyzeFunction checks a function body in a fresh scope holding only its
// parameters.
func (s *SemanticAnalyzer) analyzeFunction(params []string, body []ast.Node) {
	outer := s.scope
	s.scope = &scopeFrame{names: make(map[string]bool), consts: make(map[string]bool)}
	for _, p := range params {
		s.scope.names[p] = true
	}
	s.analyzeStatements(body)
	s.scope = outer
}

// checkAssignmentTarget rejects writes to constants and, in strict mode, to
// names nothing declared.
func (s *SemanticAnalyzer) checkAssignmentTarget(a *ast.Assignment) {
	name := a.Name
	if s.scope != nil && s.scope.names[name] {
		if s.scope.consts[name] {
			s.errorAt(a, ErrConstAssignment, "cannot assign to constant '%s'", name)
		}
		return
	}
	if s.globalConsts[name] {
		s.errorAt(a, ErrConstAssignment, "cannot assign to constant '%s'", name)
		return
	}
	if s.strict && !s.globals[name] && !s.knownGlobals[name] {
		s.errorAt(a, ErrUndeclared, "assignment to undeclared variable '%s'", name)
	}
}

// checkUnreachableCode warns once about statements after a return, throw,
// break or continue.
func (s *SemanticAnalyzer) checkUnreachableCode(stmts []ast.Node) {
	for i, stmt := range stmts {
		switch stmt.(type) {
		case *ast.Return, *ast.Throw, *ast.Break, *ast.Continue:
			if i < len(stmts)-1 {
				s.warnAt(stmts[i+1], "unreachable code after %s", stmt.NodeType())
				return
			}
		}
	}
}

// Analyze runs semantic analysis over prog and returns every warning and
// the first error, if any.
func Analyze(prog *ast.Program, strict bool) ([]string, error) {
	analyzer := NewSemanticAnalyzer(strict)
	analyzer.AnalyzeProgram(prog)
	if errs := analyzer.Errors(); len(errs) > 0 {
		return analyzer.Warnings(), errs[0]
	}
	return analyzer.Warnings(), nil
}
