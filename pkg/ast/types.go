// Package ast defines the ollang syntax tree consumed by the compiler.
//
// Trees are produced by an external parser and exchanged as JSON: every node
// is an object with a "type" discriminator plus "line" and "column" fields.
package ast

// Position is a location in the source file.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Pos returns the node's position.
func (p Position) Pos() Position { return p }

// Node is implemented by every syntax tree node.
type Node interface {
	Pos() Position
	// NodeType returns the JSON "type" discriminator.
	NodeType() string
}

// Node type discriminators.
const (
	TypeProgram             = "Program"
	TypeImport              = "Import"
	TypeNumber              = "Number"
	TypeString              = "String"
	TypeBoolean             = "Boolean"
	TypeNull                = "Null"
	TypeIdentifier          = "Identifier"
	TypeAssignment          = "Assignment"
	TypeDeclaration         = "Declaration"
	TypeIndexAssignment     = "IndexAssignment"
	TypeBinaryOp            = "BinaryOp"
	TypeUnaryOp             = "UnaryOp"
	TypeCall                = "Call"
	TypeArray               = "Array"
	TypeDict                = "Dict"
	TypeIndex               = "Index"
	TypeFunctionDef         = "FunctionDef"
	TypeIf                  = "If"
	TypeWhile               = "While"
	TypeDoWhile             = "DoWhile"
	TypeFor                 = "For"
	TypeReturn              = "Return"
	TypeBreak               = "Break"
	TypeContinue            = "Continue"
	TypeThrow               = "Throw"
	TypeTry                 = "Try"
	TypeClassDef            = "ClassDef"
	TypeSwitch              = "Switch"
	TypeExpressionStatement = "ExpressionStatement"
)

// LambdaPrefix starts the name of every anonymous function. Source code
// cannot spell it, so lambdas never collide with user bindings.
const LambdaPrefix = "$lambda_"

// Program is the root of a compilation unit.
type Program struct {
	Position
	Body []Node
}

// Import binds another module's exports: `import "path" as alias`.
type Import struct {
	Position
	Path  string
	Alias string // empty: bind to the path's base name
}

// Number is a numeric literal.
type Number struct {
	Position
	Value float64
}

// String is a string literal.
type String struct {
	Position
	Value string
}

// Boolean is true or false.
type Boolean struct {
	Position
	Value bool
}

// Null is the null literal.
type Null struct {
	Position
}

// Identifier references a variable.
type Identifier struct {
	Position
	Name string
}

// Assignment stores into an existing variable and yields the value.
type Assignment struct {
	Position
	Name  string
	Value Node
}

// Declaration introduces a variable (`var` or `const`).
type Declaration struct {
	Position
	Name  string
	Value Node // nil declares null
	Const bool
}

// IndexAssignment is `target[index] = value`.
type IndexAssignment struct {
	Position
	Target Node
	Index  Node
	Value  Node
}

// BinaryOp applies an infix operator.
type BinaryOp struct {
	Position
	Left  Node
	Op    string
	Right Node
}

// UnaryOp applies a prefix operator: -, not, !, ~.
type UnaryOp struct {
	Position
	Op      string
	Operand Node
}

// Call invokes a callee with positional arguments.
type Call struct {
	Position
	Callee    Node
	Arguments []Node
}

// Array is an array literal.
type Array struct {
	Position
	Elements []Node
}

// DictEntry is one key/value pair of a Dict literal.
type DictEntry struct {
	Key   Node
	Value Node
}

// Dict is a map literal. Entries keep source order.
type Dict struct {
	Position
	Entries []DictEntry
}

// Index reads `target[index]`; also used for member access `obj.name`.
type Index struct {
	Position
	Target Node
	Index  Node
}

// FunctionDef defines a named function, a method, or (with an empty name or
// LambdaPrefix) an anonymous function expression.
type FunctionDef struct {
	Position
	Name       string
	Params     []string
	Body       []Node
	IsStatic   bool
	ReturnType string
	Attributes []string
}

// IsLambda reports whether the definition is an anonymous function.
func (f *FunctionDef) IsLambda() bool {
	return f.Name == "" || len(f.Name) >= len(LambdaPrefix) && f.Name[:len(LambdaPrefix)] == LambdaPrefix
}

// If is a conditional with an optional else branch.
type If struct {
	Position
	Condition Node
	Then      []Node
	Else      []Node
}

// While loops while the condition is truthy.
type While struct {
	Position
	Condition Node
	Body      []Node
}

// DoWhile runs the body once before testing the condition.
type DoWhile struct {
	Position
	Condition Node
	Body      []Node
}

// For iterates an Array's elements or a Map's keys.
type For struct {
	Position
	Iterator string
	Iterable Node
	Body     []Node
}

// Return leaves the current function; Value may be nil.
type Return struct {
	Position
	Value Node
}

// Break exits the innermost loop.
type Break struct {
	Position
}

// Continue jumps to the next iteration of the innermost loop.
type Continue struct {
	Position
}

// Throw raises a value.
type Throw struct {
	Position
	Value Node
}

// Try runs Body, handing a raised value to Catch, and always runs Finally.
type Try struct {
	Position
	Body     []Node
	CatchVar string // empty discards the caught value
	Catch    []Node
	Finally  []Node
}

// ClassDef declares a class with an optional parent.
type ClassDef struct {
	Position
	Name    string
	Parent  string
	Methods []*FunctionDef
}

// SwitchCase is one arm of a Switch. A nil Value marks the default arm.
type SwitchCase struct {
	Value Node
	Body  []Node
}

// Switch compares a subject against each case value in order.
type Switch struct {
	Position
	Subject Node
	Cases   []SwitchCase
}

// ExpressionStatement evaluates an expression for its side effects.
type ExpressionStatement struct {
	Position
	Expression Node
}

func (*Program) NodeType() string             { return TypeProgram }
func (*Import) NodeType() string              { return TypeImport }
func (*Number) NodeType() string              { return TypeNumber }
func (*String) NodeType() string              { return TypeString }
func (*Boolean) NodeType() string             { return TypeBoolean }
func (*Null) NodeType() string                { return TypeNull }
func (*Identifier) NodeType() string          { return TypeIdentifier }
func (*Assignment) NodeType() string          { return TypeAssignment }
func (*Declaration) NodeType() string         { return TypeDeclaration }
func (*IndexAssignment) NodeType() string     { return TypeIndexAssignment }
func (*BinaryOp) NodeType() string            { return TypeBinaryOp }
func (*UnaryOp) NodeType() string             { return TypeUnaryOp }
func (*Call) NodeType() string                { return TypeCall }
func (*Array) NodeType() string               { return TypeArray }
func (*Dict) NodeType() string                { return TypeDict }
func (*Index) NodeType() string               { return TypeIndex }
func (*FunctionDef) NodeType() string         { return TypeFunctionDef }
func (*If) NodeType() string                  { return TypeIf }
func (*While) NodeType() string               { return TypeWhile }
func (*DoWhile) NodeType() string             { return TypeDoWhile }
func (*For) NodeType() string                 { return TypeFor }
func (*Return) NodeType() string              { return TypeReturn }
func (*Break) NodeType() string               { return TypeBreak }
func (*Continue) NodeType() string            { return TypeContinue }
func (*Throw) NodeType() string               { return TypeThrow }
func (*Try) NodeType() string                 { return TypeTry }
func (*ClassDef) NodeType() string            { return TypeClassDef }
func (*Switch) NodeType() string              { return TypeSwitch }
func (*ExpressionStatement) NodeType() string { return TypeExpressionStatement }
