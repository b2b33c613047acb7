package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the hashing AST serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every cached module keyed by a previously computed hash.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// AST node type tags. Each tag uniquely identifies a node kind in the
// serialized byte stream.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Literals
	TagNumber  byte = 0x01
	TagString  byte = 0x02
	TagBoolean byte = 0x03
	TagNull    byte = 0x04
	TagArray   byte = 0x05
	TagDict    byte = 0x06

	// References and operators
	TagIdentifier      byte = 0x10
	TagAssignment      byte = 0x11
	TagDeclaration     byte = 0x12
	TagIndexAssignment byte = 0x13
	TagBinaryOp        byte = 0x14
	TagUnaryOp         byte = 0x15
	TagCall            byte = 0x16
	TagIndex           byte = 0x17

	// Definitions
	TagFunctionDef byte = 0x20
	TagClassDef    byte = 0x21
	TagImport      byte = 0x22

	// Control flow
	TagIf       byte = 0x30
	TagWhile    byte = 0x31
	TagDoWhile  byte = 0x32
	TagFor      byte = 0x33
	TagReturn   byte = 0x34
	TagBreak    byte = 0x35
	TagContinue byte = 0x36
	TagThrow    byte = 0x37
	TagTry      byte = 0x38
	TagSwitch   byte = 0x39

	// Structure
	TagProgram  byte = 0x40
	TagExprStmt byte = 0x41
	TagAbsent   byte = 0x42 // optional child not present

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagNumber, TagString, TagBoolean, TagNull, TagArray, TagDict,
	TagIdentifier, TagAssignment, TagDeclaration, TagIndexAssignment,
	TagBinaryOp, TagUnaryOp, TagCall, TagIndex,
	TagFunctionDef, TagClassDef, TagImport,
	TagIf, TagWhile, TagDoWhile, TagFor, TagReturn, TagBreak, TagContinue,
	TagThrow, TagTry, TagSwitch,
	TagProgram, TagExprStmt, TagAbsent,
}
