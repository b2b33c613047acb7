package hash

import (
	"encoding/binary"
	"math"

	"github.com/ollang/ollang/pkg/ast"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a syntax tree.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (uint32=4B)
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Booleans: single byte (0/1)
//   - Lists: uint32 count, then the elements inline
//   - Positions: line and column as uint32, only when requested
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of node. When
// positions is false, source locations are left out so that reformatting
// the source does not change the result.
func Serialize(node ast.Node, positions bool) []byte {
	s := &serializer{buf: make([]byte, 0, 256), positions: positions}
	s.writeByte(HashVersion)
	s.serializeNode(node)
	return s.buf
}

type serializer struct {
	buf       []byte
	positions bool
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeStrings(vs []string) {
	s.writeUint32(uint32(len(vs)))
	for _, v := range vs {
		s.writeString(v)
	}
}

func (s *serializer) writeNodes(nodes []ast.Node) {
	s.writeUint32(uint32(len(nodes)))
	for _, n := range nodes {
		s.serializeNode(n)
	}
}

func (s *serializer) tag(tag byte, node ast.Node) {
	s.writeByte(tag)
	if s.positions {
		pos := node.Pos()
		s.writeUint32(uint32(pos.Line))
		s.writeUint32(uint32(pos.Column))
	}
}

func (s *serializer) serializeFunction(n *ast.FunctionDef) {
	s.tag(TagFunctionDef, n)
	s.writeString(n.Name)
	s.writeStrings(n.Params)
	s.writeBool(n.IsStatic)
	s.writeString(n.ReturnType)
	s.writeStrings(n.Attributes)
	s.writeNodes(n.Body)
}

func (s *serializer) serializeNode(node ast.Node) {
	switch n := node.(type) {
	case nil:
		s.writeByte(TagAbsent)

	case *ast.Number:
		s.tag(TagNumber, n)
		s.writeFloat64(n.Value)

	case *ast.String:
		s.tag(TagString, n)
		s.writeString(n.Value)

	case *ast.Boolean:
		s.tag(TagBoolean, n)
		s.writeBool(n.Value)

	case *ast.Null:
		s.tag(TagNull, n)

	case *ast.Array:
		s.tag(TagArray, n)
		s.writeNodes(n.Elements)

	case *ast.Dict:
		s.tag(TagDict, n)
		s.writeUint32(uint32(len(n.Entries)))
		for _, e := range n.Entries {
			s.serializeNode(e.Key)
			s.serializeNode(e.Value)
		}

	case *ast.Identifier:
		s.tag(TagIdentifier, n)
		s.writeString(n.Name)

	case *ast.Assignment:
		s.tag(TagAssignment, n)
		s.writeString(n.Name)
		s.serializeNode(n.Value)

	case *ast.Declaration:
		s.tag(TagDeclaration, n)
		s.writeString(n.Name)
		s.writeBool(n.Const)
		s.serializeNode(n.Value)

	case *ast.IndexAssignment:
		s.tag(TagIndexAssignment, n)
		s.serializeNode(n.Target)
		s.serializeNode(n.Index)
		s.serializeNode(n.Value)

	case *ast.BinaryOp:
		s.tag(TagBinaryOp, n)
		s.writeString(n.Op)
		s.serializeNode(n.Left)
		s.serializeNode(n.Right)

	case *ast.UnaryOp:
		s.tag(TagUnaryOp, n)
		s.writeString(n.Op)
		s.serializeNode(n.Operand)

	case *ast.Call:
		s.tag(TagCall, n)
		s.serializeNode(n.Callee)
		s.writeNodes(n.Arguments)

	case *ast.Index:
		s.tag(TagIndex, n)
		s.serializeNode(n.Target)
		s.serializeNode(n.Index)

	case *ast.FunctionDef:
		s.serializeFunction(n)

	case *ast.ClassDef:
		s.tag(TagClassDef, n)
		s.writeString(n.Name)
		s.writeString(n.Parent)
		s.writeUint32(uint32(len(n.Methods)))
		for _, m := range n.Methods {
			s.serializeFunction(m)
		}

	case *ast.Import:
		s.tag(TagImport, n)
		s.writeString(n.Path)
		s.writeString(n.Alias)

	case *ast.If:
		s.tag(TagIf, n)
		s.serializeNode(n.Condition)
		s.writeNodes(n.Then)
		s.writeNodes(n.Else)

	case *ast.While:
		s.tag(TagWhile, n)
		s.serializeNode(n.Condition)
		s.writeNodes(n.Body)

	case *ast.DoWhile:
		s.tag(TagDoWhile, n)
		s.serializeNode(n.Condition)
		s.writeNodes(n.Body)

	case *ast.For:
		s.tag(TagFor, n)
		s.writeString(n.Iterator)
		s.serializeNode(n.Iterable)
		s.writeNodes(n.Body)

	case *ast.Return:
		s.tag(TagReturn, n)
		s.serializeNode(n.Value)

	case *ast.Break:
		s.tag(TagBreak, n)

	case *ast.Continue:
		s.tag(TagContinue, n)

	case *ast.Throw:
		s.tag(TagThrow, n)
		s.serializeNode(n.Value)

	case *ast.Try:
		s.tag(TagTry, n)
		s.writeNodes(n.Body)
		s.writeString(n.CatchVar)
		s.writeNodes(n.Catch)
		s.writeNodes(n.Finally)

	case *ast.Switch:
		s.tag(TagSwitch, n)
		s.serializeNode(n.Subject)
		s.writeUint32(uint32(len(n.Cases)))
		for _, c := range n.Cases {
			s.serializeNode(c.Value)
			s.writeNodes(c.Body)
		}

	case *ast.Program:
		s.tag(TagProgram, n)
		s.writeNodes(n.Body)

	case *ast.ExpressionStatement:
		s.tag(TagExprStmt, n)
		s.serializeNode(n.Expression)
	}
}
