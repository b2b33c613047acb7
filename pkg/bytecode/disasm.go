package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the whole module.
func Disassemble(m *Module) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Module: %s\n", m.Name))
	sb.WriteString(fmt.Sprintf("File: %s\n", m.FilePath))
	if m.Flags != 0 {
		sb.WriteString(fmt.Sprintf("Flags: 0x%02X", byte(m.Flags)))
		if m.Flags&FlagCompressed != 0 {
			sb.WriteString(" [COMPRESSED]")
		}
		if m.Flags&FlagDebugInfo != 0 {
			sb.WriteString(" [DEBUG]")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(m.Globals) > 0 {
		sb.WriteString("Globals:\n")
		for _, name := range sortedKeys(m.Globals) {
			sb.WriteString(fmt.Sprintf("  %s = %s\n", name, FormatConstant(m.Globals[name])))
		}
		sb.WriteString("\n")
	}

	if len(m.Exports) > 0 {
		sb.WriteString("Exports:\n")
		for _, name := range m.Exports {
			sb.WriteString(fmt.Sprintf("  %s\n", name))
		}
		sb.WriteString("\n")
	}

	if len(m.VirtualFiles) > 0 {
		sb.WriteString("Virtual files:\n")
		for _, name := range sortedKeys(m.VirtualFiles) {
			sb.WriteString(fmt.Sprintf("  %s (%d bytes)\n", name, len(m.VirtualFiles[name])))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Main function:\n")
	if m.Main != nil {
		DisassembleFunction(&sb, m.Main, 1)
	}
	sb.WriteString("\n")

	if len(m.Functions) > 0 {
		sb.WriteString("Functions:\n")
		for _, fn := range m.Functions {
			sb.WriteString(fmt.Sprintf("Function: %s (arity=%d, vararg=%t)\n", fn.Name, fn.Arity, fn.IsVararg))
			DisassembleFunction(&sb, fn, 1)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// DisassembleFunction writes the listing of one function at the given indent level.
func DisassembleFunction(sb *strings.Builder, fn *Function, indent int) {
	pad := strings.Repeat("  ", indent)

	if len(fn.Constants) > 0 {
		sb.WriteString(pad + "Constants:\n")
		for i, c := range fn.Constants {
			sb.WriteString(fmt.Sprintf("%s  [%d] = %s\n", pad, i, FormatConstant(c)))
		}
	}

	if len(fn.Locals) > 0 {
		sb.WriteString(pad + "Locals:\n")
		for i, name := range fn.Locals {
			sb.WriteString(fmt.Sprintf("%s  [%d] = %s\n", pad, i, name))
		}
	}

	sb.WriteString(fmt.Sprintf("%sInstructions (max stack: %d, max locals: %d):\n", pad, fn.MaxStackSize, fn.MaxLocals))
	for i, in := range fn.Instructions {
		sb.WriteString(fmt.Sprintf("%s  %04d: %-20s", pad, i, in.Op.String()))
		if len(in.Operands) > 0 {
			sb.WriteString(" [")
			sb.WriteString(formatOperands(fn, i, in))
			sb.WriteString("]")
		}
		if in.Line > 0 {
			sb.WriteString(fmt.Sprintf(" (line %d:%d)", in.Line, in.Column))
		}
		sb.WriteString("\n")
	}

	if len(fn.NestedFunctions) > 0 {
		sb.WriteString(pad + "Nested functions:\n")
		for _, nested := range fn.NestedFunctions {
			sb.WriteString(fmt.Sprintf("%s  Function: %s\n", pad, nested.Name))
			DisassembleFunction(sb, nested, indent+2)
		}
	}
}

// formatOperands annotates an instruction's operands with constant values,
// local names or resolved jump targets where it can.
func formatOperands(fn *Function, i int, in Instruction) string {
	switch in.Op {
	case OpPushConstIdx, OpPushNumConst, OpPushStrConst, OpPushBoolConst,
		OpLoadGlobal, OpStoreGlobal, OpFunc, OpMethod, OpNewClass, OpImport:
		if len(in.Operands) >= 4 {
			idx := in.OperandInt()
			if idx >= 0 && idx < len(fn.Constants) {
				return fmt.Sprintf("const[%d]=%s", idx, FormatConstant(fn.Constants[idx]))
			}
		}

	case OpCallBuiltin:
		if len(in.Operands) >= 5 {
			idx := in.OperandInt()
			if idx >= 0 && idx < len(fn.Constants) {
				return fmt.Sprintf("const[%d]=%s, argc=%d", idx, FormatConstant(fn.Constants[idx]), in.Operands[4])
			}
		}

	case OpLoadLocalN, OpStoreLocalN:
		slot := in.OperandByte()
		if slot < len(fn.Locals) {
			return fmt.Sprintf("local[%d]=%s", slot, fn.Locals[slot])
		}

	case OpLoadLocal, OpStoreLocal:
		slot := in.OperandInt()
		if slot >= 0 && slot < len(fn.Locals) {
			return fmt.Sprintf("local[%d]=%s", slot, fn.Locals[slot])
		}

	case OpCall:
		return fmt.Sprintf("argc=%d", in.OperandByte())

	case OpNewArray:
		return fmt.Sprintf("count=%d", in.OperandInt())
	}

	if (in.Op.IsJump() || in.Op == OpTryBegin) && len(in.Operands) >= 4 {
		return fmt.Sprintf("-> %04d", i+1+in.OperandInt())
	}

	parts := make([]string, len(in.Operands))
	for j, b := range in.Operands {
		parts[j] = fmt.Sprintf("0x%02X", b)
	}
	return strings.Join(parts, ", ")
}
