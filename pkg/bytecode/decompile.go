package bytecode

import (
	"fmt"
	"strings"
)

// Decompile reconstructs approximate source for a module. Only straight-line
// code is recovered; control flow shows up as the expressions feeding it.
func Decompile(m *Module) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("// Decompiled OLL code from %s\n\n", m.Name))

	if m.Main != nil {
		decompileFunction(&sb, m.Main, 0)
	}
	for _, fn := range m.Functions {
		sb.WriteString("\n")
		decompileFunction(&sb, fn, 0)
	}
	return sb.String()
}

type exprEntry struct {
	text string
	// assigned marks the copy left behind by an assignment; popping it
	// produces no statement.
	assigned bool
}

type exprStack []exprEntry

func (s *exprStack) push(text string) { *s = append(*s, exprEntry{text: text}) }

func (s *exprStack) pop() (exprEntry, bool) {
	if len(*s) == 0 {
		return exprEntry{}, false
	}
	e := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return e, true
}

func (s *exprStack) popText(fallback string) string {
	if e, ok := s.pop(); ok {
		return e.text
	}
	return fallback
}

var binarySymbols = map[Opcode]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%", OpPow: "**",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpGt: ">", OpLe: "<=", OpGe: ">=",
	OpAnd: "and", OpOr: "or",
	OpBand: "&", OpBor: "|", OpBxor: "^", OpShl: "<<", OpShr: ">>",
}

func decompileFunction(sb *strings.Builder, fn *Function, indent int) {
	isMain := fn.Name == MainFunctionName
	if !isMain {
		params := make([]string, fn.Arity)
		for i := range params {
			if i < len(fn.Locals) {
				params[i] = fn.Locals[i]
			} else {
				params[i] = fmt.Sprintf("arg_%d", i)
			}
		}
		sb.WriteString(fmt.Sprintf("%sfunc %s(%s) {\n", strings.Repeat("  ", indent), fn.Name, strings.Join(params, ", ")))
		indent += 2
	}
	pad := strings.Repeat("  ", indent)

	constant := func(idx int) string {
		if idx >= 0 && idx < len(fn.Constants) {
			return FormatConstant(fn.Constants[idx])
		}
		return fmt.Sprintf("const_%d", idx)
	}
	name := func(idx int) string {
		if idx >= 0 && idx < len(fn.Constants) {
			if s, ok := fn.Constants[idx].(string); ok {
				return s
			}
		}
		return fmt.Sprintf("global_%d", idx)
	}
	local := func(slot int) string {
		if slot >= 0 && slot < len(fn.Locals) {
			return fn.Locals[slot]
		}
		return fmt.Sprintf("local_%d", slot)
	}

	var stack exprStack
	store := func(target string) {
		e, ok := stack.pop()
		if !ok {
			return
		}
		sb.WriteString(fmt.Sprintf("%s%s = %s\n", pad, target, e.text))
		// An assignment expression leaves a duplicate behind; replace it
		// with the target so later uses read naturally.
		if n := len(stack); n > 0 && stack[n-1].text == e.text {
			stack[n-1] = exprEntry{text: target, assigned: true}
		}
	}

	for _, in := range fn.Instructions {
		switch in.Op {
		case OpPushNull:
			stack.push("null")
		case OpPushTrue:
			stack.push("true")
		case OpPushFalse:
			stack.push("false")
		case OpPushConstIdx, OpPushNumConst, OpPushStrConst, OpPushBoolConst:
			stack.push(constant(in.OperandInt()))
		case OpLoadGlobal:
			stack.push(name(in.OperandInt()))
		case OpLoadLocalN:
			stack.push(local(in.OperandByte()))
		case OpLoadLocal:
			stack.push(local(in.OperandInt()))
		case OpStoreGlobal:
			store(name(in.OperandInt()))
		case OpStoreLocalN:
			store(local(in.OperandByte()))
		case OpStoreLocal:
			store(local(in.OperandInt()))
		case OpDup:
			if n := len(stack); n > 0 {
				stack = append(stack, stack[n-1])
			}
		case OpFunc:
			stack.push(name(in.OperandInt()))
		case OpCall:
			argc := in.OperandByte()
			args := make([]string, argc)
			for j := argc - 1; j >= 0; j-- {
				args[j] = stack.popText("?")
			}
			callee := stack.popText("unknown")
			stack.push(fmt.Sprintf("%s(%s)", callee, strings.Join(args, ", ")))
		case OpCallBuiltin:
			argc := 0
			if len(in.Operands) >= 5 {
				argc = int(in.Operands[4])
			}
			args := make([]string, argc)
			for j := argc - 1; j >= 0; j-- {
				args[j] = stack.popText("?")
			}
			stack.push(fmt.Sprintf("%s(%s)", name(in.OperandInt()), strings.Join(args, ", ")))
		case OpPop:
			if e, ok := stack.pop(); ok && !e.assigned && e.text != "" {
				sb.WriteString(pad + e.text + "\n")
			}
		case OpNot:
			stack.push(fmt.Sprintf("(not %s)", stack.popText("?")))
		case OpUnm:
			stack.push(fmt.Sprintf("(-%s)", stack.popText("?")))
		case OpBnot:
			stack.push(fmt.Sprintf("(~%s)", stack.popText("?")))
		case OpLoadIndex:
			idx := stack.popText("?")
			target := stack.popText("?")
			stack.push(fmt.Sprintf("%s[%s]", target, idx))
		case OpReturn:
			sb.WriteString(fmt.Sprintf("%sreturn %s\n", pad, stack.popText("null")))
		case OpReturnNull:
			sb.WriteString(pad + "return\n")
		case OpThrow:
			sb.WriteString(fmt.Sprintf("%sthrow %s\n", pad, stack.popText("null")))
		case OpNewArray:
			count := in.OperandInt()
			if count < 0 {
				count = 0
			}
			elems := make([]string, count)
			for j := count - 1; j >= 0; j-- {
				elems[j] = stack.popText("?")
			}
			stack.push("[" + strings.Join(elems, ", ") + "]")
		case OpNewDict:
			stack.push("{}")
		default:
			if sym, ok := binarySymbols[in.Op]; ok {
				b := stack.popText("?")
				a := stack.popText("?")
				stack.push(fmt.Sprintf("(%s %s %s)", a, sym, b))
			}
		}
	}

	if !isMain {
		sb.WriteString(strings.Repeat("  ", indent-2) + "}\n")
	}
}
