// Package bytecode defines the ollang instruction set, the Function and
// Module containers, their binary encoding, and the Assembler the compiler
// emits through.
//
// # Instructions
//
// An instruction is a one-byte opcode, an operand byte sequence and the
// source line and column it came from. Four-byte operands are little-endian
// signed 32-bit integers: constant-pool indices, local slots, counts, or
// relative jump offsets. A jump offset is measured from the instruction
// after the jump, so a jump at index i with offset o lands on i+1+o.
//
// # Modules
//
// A Module holds a main function (the top-level statements), named functions,
// default globals, informational export/import lists, a dependency table,
// opaque custom data and an embedded virtual filesystem used to bundle
// library sources with a program.
//
// The serialized form starts with the "OLLANG" magic, a three-byte version
// and a flags byte. Each function is stored as a length-prefixed "FUNC" blob
// with its nested functions encoded recursively. A module may be wrapped in a
// gzip stream; DeserializeModule detects the gzip header and unwraps it.
// Malformed input is rejected with an error wrapping ErrCorrupt and nothing is
// partially loaded.
//
// # Assembling
//
// The Assembler keeps one label context per function under construction.
// Jumps to labels that are not yet defined get a placeholder operand and are
// backpatched when the label is placed. Scalar constants are deduplicated per
// function. Seal verifies that every label was resolved and computes
// MaxStackSize and MaxLocals, which the VM sizes frames from.
package bytecode
