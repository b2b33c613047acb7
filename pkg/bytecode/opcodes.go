package bytecode

import (
	"encoding/binary"
	"fmt"
)

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack operations (0x00-0x0F)
	// ========================================================================

	OpNop           Opcode = 0x00 // No operation
	OpPushNull      Opcode = 0x01 // Push null
	OpPushTrue      Opcode = 0x02 // Push true
	OpPushFalse     Opcode = 0x03 // Push false
	OpPushNumConst  Opcode = 0x04 // Push numeric constant: <index:i32>
	OpPushStrConst  Opcode = 0x05 // Push string constant: <index:i32>
	OpPushBoolConst Opcode = 0x06 // Push boolean constant: <index:i32>
	OpPushConstIdx  Opcode = 0x07 // Push constant from pool: <index:i32>
	OpPop           Opcode = 0x08 // Pop top of stack
	OpDup           Opcode = 0x09 // Duplicate top of stack
	OpDupN          Opcode = 0x0A // Duplicate top n values: <n:u8>
	OpSwap          Opcode = 0x0B // Swap top two values
	OpSwapN         Opcode = 0x0C // Swap top with the value n below: <n:u8>
	OpRot           Opcode = 0x0D // Rotate top three: a b c -> b c a
	OpOver          Opcode = 0x0E // Copy second value to top: a b -> a b a
	OpPick          Opcode = 0x0F // Copy value n below top: <n:u8>

	// ========================================================================
	// Variables and memory (0x10-0x1F)
	// ========================================================================

	OpLoadLocal    Opcode = 0x10 // Push local: <slot:i32>
	OpStoreLocal   Opcode = 0x11 // Pop into local: <slot:i32>
	OpLoadLocalN   Opcode = 0x12 // Push local: <slot:u8>
	OpStoreLocalN  Opcode = 0x13 // Pop into local: <slot:u8>
	OpLoadGlobal   Opcode = 0x14 // Push global named by constant: <index:i32>
	OpStoreGlobal  Opcode = 0x15 // Pop into global named by constant: <index:i32>
	OpLoadUpvalue  Opcode = 0x16 // Reserved: <index:i32>
	OpStoreUpvalue Opcode = 0x17 // Reserved: <index:i32>
	OpCloseUpvalue Opcode = 0x18 // Reserved: <index:i32>
	OpLoadField    Opcode = 0x19 // Pop object, push field named by constant: <index:i32>
	OpStoreField   Opcode = 0x1A // Pop value and object, store field, push value: <index:i32>
	OpLoadIndex    Opcode = 0x1B // Pop index and target, push target[index]
	OpStoreIndex   Opcode = 0x1C // Pop value, index, target; store; push value
	OpNewSlot      Opcode = 0x1D // Pop value, key, target; define slot; push value
	OpDeleteSlot   Opcode = 0x1E // Pop key and target; delete; push removed value
	OpGetMeta      Opcode = 0x1F // Pop value, push its class or type name

	// ========================================================================
	// Arithmetic (0x20-0x37)
	// ========================================================================

	OpAdd   Opcode = 0x20 // Pop two, push sum (string concat if either is a string)
	OpSub   Opcode = 0x21 // Pop two, push difference (a - b where b is TOS)
	OpMul   Opcode = 0x22 // Pop two, push product
	OpDiv   Opcode = 0x23 // Pop two, push quotient (IEEE semantics)
	OpMod   Opcode = 0x24 // Pop two, push remainder
	OpPow   Opcode = 0x25 // Pop two, push a ** b
	OpUnm   Opcode = 0x26 // Negate top of stack
	OpFloor Opcode = 0x27
	OpCeil  Opcode = 0x28
	OpRound Opcode = 0x29
	OpAbs   Opcode = 0x2A
	OpSqrt  Opcode = 0x2B
	OpLog   Opcode = 0x2C
	OpLog10 Opcode = 0x2D
	OpExp   Opcode = 0x2E
	OpSin   Opcode = 0x2F
	OpCos   Opcode = 0x30
	OpTan   Opcode = 0x31
	OpAsin  Opcode = 0x32
	OpAcos  Opcode = 0x33
	OpAtan  Opcode = 0x34
	OpAtan2 Opcode = 0x35
	OpRand  Opcode = 0x36
	OpSrand Opcode = 0x37

	// ========================================================================
	// Bitwise (0x38-0x40)
	// ========================================================================

	OpBand Opcode = 0x38
	OpBor  Opcode = 0x39
	OpBxor Opcode = 0x3A
	OpBnot Opcode = 0x3B
	OpShl  Opcode = 0x3C
	OpShr  Opcode = 0x3D
	OpUshr Opcode = 0x3E
	OpRol  Opcode = 0x3F
	OpRor  Opcode = 0x40

	// ========================================================================
	// Comparison (0x41-0x4F)
	// ========================================================================

	OpEq         Opcode = 0x41
	OpNe         Opcode = 0x42
	OpLt         Opcode = 0x43
	OpLe         Opcode = 0x44
	OpGt         Opcode = 0x45
	OpGe         Opcode = 0x46
	OpCmp        Opcode = 0x47 // Pop two, push -1, 0 or 1
	OpTypeof     Opcode = 0x48 // Pop value, push type name
	OpInstanceof Opcode = 0x49
	OpIn         Opcode = 0x4A
	OpIsNull     Opcode = 0x4B
	OpIsNaN      Opcode = 0x4C
	OpIsFinite   Opcode = 0x4D
	OpIsInt      Opcode = 0x4E
	OpIsStr      Opcode = 0x4F

	// ========================================================================
	// Logical (0x50-0x57)
	// ========================================================================

	OpAnd      Opcode = 0x50
	OpOr       Opcode = 0x51
	OpNot      Opcode = 0x52
	OpBool     Opcode = 0x53
	OpCoalesce Opcode = 0x54
	OpTernary  Opcode = 0x55
	OpHalt     Opcode = 0x56 // Stop the current execution
	OpIterPrep Opcode = 0x57 // Normalize a for-loop iterable: Array as is, Map to its keys

	// ========================================================================
	// String (0x60-0x6F)
	// ========================================================================

	OpConcat   Opcode = 0x60
	OpStrLen   Opcode = 0x61
	OpSubstr   Opcode = 0x62
	OpFind     Opcode = 0x63
	OpRfind    Opcode = 0x64
	OpLower    Opcode = 0x65
	OpUpper    Opcode = 0x66
	OpTrim     Opcode = 0x67
	OpLtrim    Opcode = 0x68
	OpRtrim    Opcode = 0x69
	OpReplace  Opcode = 0x6A
	OpSplit    Opcode = 0x6B
	OpJoin     Opcode = 0x6C
	OpFormat   Opcode = 0x6D
	OpEscape   Opcode = 0x6E
	OpUnescape Opcode = 0x6F

	// ========================================================================
	// Array (0x70-0x7F)
	// ========================================================================

	OpNewArray     Opcode = 0x70 // Pop count values into a new array: <count:i32>
	OpNewArrayWith Opcode = 0x71
	OpArrayLen     Opcode = 0x72 // Pop array, push its length
	OpArrayPush    Opcode = 0x73
	OpArrayPop     Opcode = 0x74
	OpArrayShift   Opcode = 0x75
	OpArrayUnshift Opcode = 0x76
	OpArraySlice   Opcode = 0x77
	OpArraySplice  Opcode = 0x78
	OpArrayConcat  Opcode = 0x79
	OpArrayReverse Opcode = 0x7A
	OpArraySort    Opcode = 0x7B
	OpArrayMap     Opcode = 0x7C
	OpArrayFilter  Opcode = 0x7D
	OpArrayReduce  Opcode = 0x7E
	OpArrayForeach Opcode = 0x7F

	// ========================================================================
	// Dictionary (0x80-0x88)
	// ========================================================================

	OpNewDict     Opcode = 0x80 // Push an empty map
	OpNewDictWith Opcode = 0x81
	OpDictLen     Opcode = 0x82
	OpDictKeys    Opcode = 0x83
	OpDictValues  Opcode = 0x84
	OpDictHas     Opcode = 0x85
	OpDictMerge   Opcode = 0x86
	OpDictRemove  Opcode = 0x87
	OpDictClear   Opcode = 0x88

	// ========================================================================
	// Type conversion (0x90-0x9B)
	// ========================================================================

	OpToNum      Opcode = 0x90
	OpToStr      Opcode = 0x91
	OpToBool     Opcode = 0x92
	OpToInt      Opcode = 0x93
	OpToFloat    Opcode = 0x94
	OpToHex      Opcode = 0x95
	OpToBase64   Opcode = 0x96
	OpFromBase64 Opcode = 0x97
	OpParseJSON  Opcode = 0x98
	OpStringify  Opcode = 0x99
	OpClone      Opcode = 0x9A
	OpDeepClone  Opcode = 0x9B

	// ========================================================================
	// Control flow (0xA0-0xB2)
	// ========================================================================

	OpJmp         Opcode = 0xA0 // Unconditional jump: <offset:i32>
	OpJmpT        Opcode = 0xA1 // Pop, jump if truthy: <offset:i32>
	OpJmpF        Opcode = 0xA2 // Pop, jump if falsy: <offset:i32>
	OpJmpNull     Opcode = 0xA3 // Pop, jump if null: <offset:i32>
	OpJmpNN       Opcode = 0xA4 // Pop, jump if not null: <offset:i32>
	OpJmpEq       Opcode = 0xA5 // Pop two, jump if equal: <offset:i32>
	OpJmpNe       Opcode = 0xA6
	OpJmpLt       Opcode = 0xA7
	OpJmpLe       Opcode = 0xA8
	OpJmpGt       Opcode = 0xA9
	OpJmpGe       Opcode = 0xAA
	OpSwitch      Opcode = 0xAB
	OpSwitchRange Opcode = 0xAC
	OpSwitchStr   Opcode = 0xAD
	OpTryBegin    Opcode = 0xAE // Push exception handler: <catch_offset:i32>
	OpTryEnd      Opcode = 0xAF // Pop exception handler
	OpThrow       Opcode = 0xB1 // Pop value, raise it
	OpRethrow     Opcode = 0xB2

	// ========================================================================
	// Calls (0xB3-0xBC)
	// ========================================================================

	OpCall        Opcode = 0xB3 // Pop callee and argc args, call: <argc:u8>
	OpCallMethod  Opcode = 0xB4
	OpCallTail    Opcode = 0xB5
	OpCallVararg  Opcode = 0xB6
	OpCallBuiltin Opcode = 0xB7 // Call global named by constant: <index:i32><argc:u8>
	OpReturn      Opcode = 0xB8 // Return top of stack
	OpReturnNull  Opcode = 0xB9 // Return null
	OpYield       Opcode = 0xBA
	OpResume      Opcode = 0xBB
	OpSpawn       Opcode = 0xBC // Pop function and argument, run on a new VM

	// ========================================================================
	// Function creation (0xC0-0xCA)
	// ========================================================================

	OpClosure       Opcode = 0xC0
	OpClosureVararg Opcode = 0xC1
	OpFunc          Opcode = 0xC2 // Push module function named by constant: <index:i32>
	OpLambda        Opcode = 0xC3
	OpMethod        Opcode = 0xC4 // Pop function, attach to class on top: <name:i32>
	OpGetter        Opcode = 0xC5
	OpSetter        Opcode = 0xC6
	OpBind          Opcode = 0xC7
	OpApply         Opcode = 0xC8
	OpCallCtor      Opcode = 0xC9
	OpSuper         Opcode = 0xCA

	// ========================================================================
	// Class and object (0xD0-0xD9)
	// ========================================================================

	OpNewClass  Opcode = 0xD0 // Pop parent (or null), push class: <name:i32>
	OpNewObject Opcode = 0xD1 // Pop class, push instance
	OpInstance  Opcode = 0xD2 // Pop class, push instance
	OpInherit   Opcode = 0xD3
	OpMixin     Opcode = 0xD4
	OpGetProto  Opcode = 0xD5
	OpSetProto  Opcode = 0xD6
	OpGetSlot   Opcode = 0xD7
	OpSetSlot   Opcode = 0xD8
	OpDefSlot   Opcode = 0xD9

	// ========================================================================
	// Module and scope (0xE0-0xE8)
	// ========================================================================

	OpImport     Opcode = 0xE0 // Import module at constant path, push exports: <index:i32>
	OpExport     Opcode = 0xE1
	OpRequire    Opcode = 0xE2
	OpModule     Opcode = 0xE3
	OpScopeBegin Opcode = 0xE4
	OpScopeEnd   Opcode = 0xE5
	OpWithBegin  Opcode = 0xE6
	OpWithEnd    Opcode = 0xE7
	OpUseStrict  Opcode = 0xE8

	// ========================================================================
	// Memory and native (0xF0-0xFF)
	// ========================================================================

	OpAlloc   Opcode = 0xF0
	OpFree    Opcode = 0xF1
	OpRealloc Opcode = 0xF2
	OpMemcpy  Opcode = 0xF3
	OpMemmove Opcode = 0xF4
	OpMemset  Opcode = 0xF5
	OpMemcmp  Opcode = 0xF6
	OpRead8   Opcode = 0xF7
	OpRead16  Opcode = 0xF8
	OpRead32  Opcode = 0xF9
	OpRead64  Opcode = 0xFA
	OpWrite8  Opcode = 0xFB
	OpWrite16 Opcode = 0xFC
	OpWrite32 Opcode = 0xFD
	OpWrite64 Opcode = 0xFE
	OpNative  Opcode = 0xFF
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack
	OpNop:           {"NOP", 0, 0, 0},
	OpPushNull:      {"PUSH_NULL", 0, 1, 0},
	OpPushTrue:      {"PUSH_TRUE", 0, 1, 0},
	OpPushFalse:     {"PUSH_FALSE", 0, 1, 0},
	OpPushNumConst:  {"PUSH_NUM_CONST", 0, 1, 4},
	OpPushStrConst:  {"PUSH_STR_CONST", 0, 1, 4},
	OpPushBoolConst: {"PUSH_BOOL_CONST", 0, 1, 4},
	OpPushConstIdx:  {"PUSH_CONST_IDX", 0, 1, 4},
	OpPop:           {"POP", 1, 0, 0},
	OpDup:           {"DUP", 1, 2, 0},
	OpDupN:          {"DUP_N", -1, 0, 1},
	OpSwap:          {"SWAP", 2, 2, 0},
	OpSwapN:         {"SWAP_N", 0, 0, 1},
	OpRot:           {"ROT", 3, 3, 0},
	OpOver:          {"OVER", 2, 3, 0},
	OpPick:          {"PICK", 0, 1, 1},

	// Variables
	OpLoadLocal:    {"LOAD_LOCAL", 0, 1, 4},
	OpStoreLocal:   {"STORE_LOCAL", 1, 0, 4},
	OpLoadLocalN:   {"LOAD_LOCAL_N", 0, 1, 1},
	OpStoreLocalN:  {"STORE_LOCAL_N", 1, 0, 1},
	OpLoadGlobal:   {"LOAD_GLOBAL", 0, 1, 4},
	OpStoreGlobal:  {"STORE_GLOBAL", 1, 0, 4},
	OpLoadUpvalue:  {"LOAD_UPVALUE", 0, 1, 4},
	OpStoreUpvalue: {"STORE_UPVALUE", 1, 0, 4},
	OpCloseUpvalue: {"CLOSE_UPVALUE", 0, 0, 4},
	OpLoadField:    {"LOAD_FIELD", 1, 1, 4},
	OpStoreField:   {"STORE_FIELD", 2, 1, 4},
	OpLoadIndex:    {"LOAD_INDEX", 2, 1, 0},
	OpStoreIndex:   {"STORE_INDEX", 3, 1, 0},
	OpNewSlot:      {"NEW_SLOT", 3, 1, 0},
	OpDeleteSlot:   {"DELETE_SLOT", 2, 1, 0},
	OpGetMeta:      {"GET_META", 1, 1, 0},

	// Arithmetic
	OpAdd:   {"ADD", 2, 1, 0},
	OpSub:   {"SUB", 2, 1, 0},
	OpMul:   {"MUL", 2, 1, 0},
	OpDiv:   {"DIV", 2, 1, 0},
	OpMod:   {"MOD", 2, 1, 0},
	OpPow:   {"POW", 2, 1, 0},
	OpUnm:   {"UNM", 1, 1, 0},
	OpFloor: {"FLOOR", 1, 1, 0},
	OpCeil:  {"CEIL", 1, 1, 0},
	OpRound: {"ROUND", 1, 1, 0},
	OpAbs:   {"ABS", 1, 1, 0},
	OpSqrt:  {"SQRT", 1, 1, 0},
	OpLog:   {"LOG", 1, 1, 0},
	OpLog10: {"LOG10", 1, 1, 0},
	OpExp:   {"EXP", 1, 1, 0},
	OpSin:   {"SIN", 1, 1, 0},
	OpCos:   {"COS", 1, 1, 0},
	OpTan:   {"TAN", 1, 1, 0},
	OpAsin:  {"ASIN", 1, 1, 0},
	OpAcos:  {"ACOS", 1, 1, 0},
	OpAtan:  {"ATAN", 1, 1, 0},
	OpAtan2: {"ATAN2", 2, 1, 0},
	OpRand:  {"RAND", 0, 1, 0},
	OpSrand: {"SRAND", 1, 0, 0},

	// Bitwise
	OpBand: {"BAND", 2, 1, 0},
	OpBor:  {"BOR", 2, 1, 0},
	OpBxor: {"BXOR", 2, 1, 0},
	OpBnot: {"BNOT", 1, 1, 0},
	OpShl:  {"SHL", 2, 1, 0},
	OpShr:  {"SHR", 2, 1, 0},
	OpUshr: {"USHR", 2, 1, 0},
	OpRol:  {"ROL", 2, 1, 0},
	OpRor:  {"ROR", 2, 1, 0},

	// Comparison
	OpEq:         {"EQ", 2, 1, 0},
	OpNe:         {"NE", 2, 1, 0},
	OpLt:         {"LT", 2, 1, 0},
	OpLe:         {"LE", 2, 1, 0},
	OpGt:         {"GT", 2, 1, 0},
	OpGe:         {"GE", 2, 1, 0},
	OpCmp:        {"CMP", 2, 1, 0},
	OpTypeof:     {"TYPEOF", 1, 1, 0},
	OpInstanceof: {"INSTANCEOF", 2, 1, 0},
	OpIn:         {"IN", 2, 1, 0},
	OpIsNull:     {"IS_NULL", 1, 1, 0},
	OpIsNaN:      {"IS_NAN", 1, 1, 0},
	OpIsFinite:   {"IS_FINITE", 1, 1, 0},
	OpIsInt:      {"IS_INT", 1, 1, 0},
	OpIsStr:      {"IS_STR", 1, 1, 0},

	// Logical
	OpAnd:      {"AND", 2, 1, 0},
	OpOr:       {"OR", 2, 1, 0},
	OpNot:      {"NOT", 1, 1, 0},
	OpBool:     {"BOOL", 1, 1, 0},
	OpCoalesce: {"COALESCE", 2, 1, 0},
	OpTernary:  {"TERNARY", 3, 1, 0},
	OpHalt:     {"HALT", 0, 0, 0},
	OpIterPrep: {"ITER_PREP", 1, 1, 0},

	// String
	OpConcat:   {"CONCAT", 2, 1, 0},
	OpStrLen:   {"STR_LEN", 1, 1, 0},
	OpSubstr:   {"SUBSTR", 3, 1, 0},
	OpFind:     {"FIND", 2, 1, 0},
	OpRfind:    {"RFIND", 2, 1, 0},
	OpLower:    {"LOWER", 1, 1, 0},
	OpUpper:    {"UPPER", 1, 1, 0},
	OpTrim:     {"TRIM", 1, 1, 0},
	OpLtrim:    {"LTRIM", 1, 1, 0},
	OpRtrim:    {"RTRIM", 1, 1, 0},
	OpReplace:  {"REPLACE", 3, 1, 0},
	OpSplit:    {"SPLIT", 2, 1, 0},
	OpJoin:     {"JOIN", 2, 1, 0},
	OpFormat:   {"FORMAT", 2, 1, 0},
	OpEscape:   {"ESCAPE", 1, 1, 0},
	OpUnescape: {"UNESCAPE", 1, 1, 0},

	// Array
	OpNewArray:     {"NEW_ARRAY", -1, 1, 4},
	OpNewArrayWith: {"NEW_ARRAY_WITH", 1, 1, 0},
	OpArrayLen:     {"ARRAY_LEN", 1, 1, 0},
	OpArrayPush:    {"ARRAY_PUSH", 2, 1, 0},
	OpArrayPop:     {"ARRAY_POP", 1, 1, 0},
	OpArrayShift:   {"ARRAY_SHIFT", 1, 1, 0},
	OpArrayUnshift: {"ARRAY_UNSHIFT", 2, 1, 0},
	OpArraySlice:   {"ARRAY_SLICE", 3, 1, 0},
	OpArraySplice:  {"ARRAY_SPLICE", 3, 1, 0},
	OpArrayConcat:  {"ARRAY_CONCAT", 2, 1, 0},
	OpArrayReverse: {"ARRAY_REVERSE", 1, 1, 0},
	OpArraySort:    {"ARRAY_SORT", 1, 1, 0},
	OpArrayMap:     {"ARRAY_MAP", 2, 1, 0},
	OpArrayFilter:  {"ARRAY_FILTER", 2, 1, 0},
	OpArrayReduce:  {"ARRAY_REDUCE", 3, 1, 0},
	OpArrayForeach: {"ARRAY_FOREACH", 2, 0, 0},

	// Dictionary
	OpNewDict:     {"NEW_DICT", 0, 1, 0},
	OpNewDictWith: {"NEW_DICT_WITH", 1, 1, 0},
	OpDictLen:     {"DICT_LEN", 1, 1, 0},
	OpDictKeys:    {"DICT_KEYS", 1, 1, 0},
	OpDictValues:  {"DICT_VALUES", 1, 1, 0},
	OpDictHas:     {"DICT_HAS", 2, 1, 0},
	OpDictMerge:   {"DICT_MERGE", 2, 1, 0},
	OpDictRemove:  {"DICT_REMOVE", 2, 1, 0},
	OpDictClear:   {"DICT_CLEAR", 1, 1, 0},

	// Conversion
	OpToNum:      {"TO_NUM", 1, 1, 0},
	OpToStr:      {"TO_STR", 1, 1, 0},
	OpToBool:     {"TO_BOOL", 1, 1, 0},
	OpToInt:      {"TO_INT", 1, 1, 0},
	OpToFloat:    {"TO_FLOAT", 1, 1, 0},
	OpToHex:      {"TO_HEX", 1, 1, 0},
	OpToBase64:   {"TO_BASE64", 1, 1, 0},
	OpFromBase64: {"FROM_BASE64", 1, 1, 0},
	OpParseJSON:  {"PARSE_JSON", 1, 1, 0},
	OpStringify:  {"STRINGIFY", 1, 1, 0},
	OpClone:      {"CLONE", 1, 1, 0},
	OpDeepClone:  {"DEEP_CLONE", 1, 1, 0},

	// Control flow
	OpJmp:         {"JMP", 0, 0, 4},
	OpJmpT:        {"JMP_T", 1, 0, 4},
	OpJmpF:        {"JMP_F", 1, 0, 4},
	OpJmpNull:     {"JMP_NULL", 1, 0, 4},
	OpJmpNN:       {"JMP_NN", 1, 0, 4},
	OpJmpEq:       {"JMP_EQ", 2, 0, 4},
	OpJmpNe:       {"JMP_NE", 2, 0, 4},
	OpJmpLt:       {"JMP_LT", 2, 0, 4},
	OpJmpLe:       {"JMP_LE", 2, 0, 4},
	OpJmpGt:       {"JMP_GT", 2, 0, 4},
	OpJmpGe:       {"JMP_GE", 2, 0, 4},
	OpSwitch:      {"SWITCH", 1, 0, 4},
	OpSwitchRange: {"SWITCH_RANGE", 1, 0, 4},
	OpSwitchStr:   {"SWITCH_STR", 1, 0, 4},
	OpTryBegin:    {"TRY_BEGIN", 0, 0, 4},
	OpTryEnd:      {"TRY_END", 0, 0, 0},
	OpThrow:       {"THROW", 1, 0, 0},
	OpRethrow:     {"RETHROW", 0, 0, 0},

	// Calls
	OpCall:        {"CALL", -1, 1, 1}, // Pops callee + argc args
	OpCallMethod:  {"CALL_METHOD", -1, 1, 1},
	OpCallTail:    {"CALL_TAIL", -1, 1, 1},
	OpCallVararg:  {"CALL_VARARG", 2, 1, 0},
	OpCallBuiltin: {"CALL_BUILTIN", -1, 1, 5}, // Pops argc args
	OpReturn:      {"RETURN", 1, 0, 0},
	OpReturnNull:  {"RETURN_NULL", 0, 0, 0},
	OpYield:       {"YIELD", 1, 1, 0},
	OpResume:      {"RESUME", 1, 1, 0},
	OpSpawn:       {"SPAWN", 2, 1, 0},

	// Function creation
	OpClosure:       {"CLOSURE", 0, 1, 4},
	OpClosureVararg: {"CLOSURE_VARARG", 0, 1, 4},
	OpFunc:          {"FUNC", 0, 1, 4},
	OpLambda:        {"LAMBDA", 0, 1, 4},
	OpMethod:        {"METHOD", 1, 0, 4},
	OpGetter:        {"GETTER", 1, 0, 4},
	OpSetter:        {"SETTER", 1, 0, 4},
	OpBind:          {"BIND", 2, 1, 0},
	OpApply:         {"APPLY", 2, 1, 0},
	OpCallCtor:      {"CALL_CTOR", -1, 1, 1},
	OpSuper:         {"SUPER", 0, 1, 0},

	// Class and object
	OpNewClass:  {"NEW_CLASS", 1, 1, 4},
	OpNewObject: {"NEW_OBJECT", 1, 1, 0},
	OpInstance:  {"INSTANCE", 1, 1, 0},
	OpInherit:   {"INHERIT", 2, 1, 0},
	OpMixin:     {"MIXIN", 2, 1, 0},
	OpGetProto:  {"GET_PROTO", 1, 1, 0},
	OpSetProto:  {"SET_PROTO", 2, 1, 0},
	OpGetSlot:   {"GET_SLOT", 1, 1, 4},
	OpSetSlot:   {"SET_SLOT", 2, 1, 4},
	OpDefSlot:   {"DEF_SLOT", 2, 1, 4},

	// Module and scope
	OpImport:     {"IMPORT", 0, 1, 4},
	OpExport:     {"EXPORT", 1, 0, 4},
	OpRequire:    {"REQUIRE", 0, 1, 4},
	OpModule:     {"MODULE", 0, 0, 4},
	OpScopeBegin: {"SCOPE_BEGIN", 0, 0, 0},
	OpScopeEnd:   {"SCOPE_END", 0, 0, 0},
	OpWithBegin:  {"WITH_BEGIN", 1, 0, 0},
	OpWithEnd:    {"WITH_END", 0, 0, 0},
	OpUseStrict:  {"USE_STRICT", 0, 0, 0},

	// Memory and native
	OpAlloc:   {"ALLOC", 1, 1, 0},
	OpFree:    {"FREE", 1, 0, 0},
	OpRealloc: {"REALLOC", 2, 1, 0},
	OpMemcpy:  {"MEMCPY", 3, 0, 0},
	OpMemmove: {"MEMMOVE", 3, 0, 0},
	OpMemset:  {"MEMSET", 3, 0, 0},
	OpMemcmp:  {"MEMCMP", 3, 1, 0},
	OpRead8:   {"READ8", 1, 1, 0},
	OpRead16:  {"READ16", 1, 1, 0},
	OpRead32:  {"READ32", 1, 1, 0},
	OpRead64:  {"READ64", 1, 1, 0},
	OpWrite8:  {"WRITE8", 2, 0, 0},
	OpWrite16: {"WRITE16", 2, 0, 0},
	OpWrite32: {"WRITE32", 2, 0, 0},
	OpWrite64: {"WRITE64", 2, 0, 0},
	OpNative:  {"NATIVE", -1, 1, 5},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op)), StackPop: 0, StackPush: 0, OperandLen: 0}
}

// IsDefined reports whether op has an entry in the opcode table.
func (op Opcode) IsDefined() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// IsJump returns true if this opcode carries a relative jump offset.
func (op Opcode) IsJump() bool {
	return op >= OpJmp && op <= OpJmpGe
}

// IsConditionalJump returns true for jumps that may fall through.
func (op Opcode) IsConditionalJump() bool {
	return op > OpJmp && op <= OpJmpGe
}

// IsReturn returns true if this opcode leaves the current frame.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnNull
}

// IsTerminator returns true if control never falls through to the next instruction.
func (op Opcode) IsTerminator() bool {
	return op == OpJmp || op == OpReturn || op == OpReturnNull ||
		op == OpThrow || op == OpRethrow || op == OpHalt
}

// IsPush returns true for opcodes that push a constant without popping anything.
func (op Opcode) IsPush() bool {
	switch op {
	case OpPushNull, OpPushTrue, OpPushFalse, OpPushConstIdx,
		OpPushNumConst, OpPushStrConst, OpPushBoolConst:
		return true
	}
	return false
}

// IsArithmetic returns true for the binary arithmetic opcodes the optimizer can fold.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpPow
}

// StackEffect returns how many values the instruction pops and pushes,
// resolving variable-effect opcodes from their operands.
func StackEffect(op Opcode, operands []byte) (pop, push int) {
	info := GetOpcodeInfo(op)
	if info.StackPop >= 0 {
		return info.StackPop, info.StackPush
	}
	switch op {
	case OpCall, OpCallMethod, OpCallTail, OpCallCtor:
		if len(operands) > 0 {
			return int(operands[0]) + 1, 1
		}
		return 1, 1
	case OpCallBuiltin, OpNative:
		if len(operands) >= 5 {
			return int(operands[4]), 1
		}
		return 0, 1
	case OpNewArray:
		if len(operands) >= 4 {
			return int(int32(binary.LittleEndian.Uint32(operands))), 1
		}
		return 0, 1
	case OpDupN:
		if len(operands) > 0 {
			n := int(operands[0])
			return n, 2 * n
		}
		return 1, 2
	}
	return 0, info.StackPush
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
