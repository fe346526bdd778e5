package classfile

import "fmt"

// Opcode is a JVM instruction opcode.
type Opcode uint8

// Opcodes referenced by name elsewhere in the module. The full table
// lives in opTable.
const (
	OpNop           Opcode = 0x00
	OpAconstNull    Opcode = 0x01
	OpBipush        Opcode = 0x10
	OpSipush        Opcode = 0x11
	OpLdc           Opcode = 0x12
	OpLdcW          Opcode = 0x13
	OpLdc2W         Opcode = 0x14
	OpIload         Opcode = 0x15
	OpLload         Opcode = 0x16
	OpFload         Opcode = 0x17
	OpDload         Opcode = 0x18
	OpAload         Opcode = 0x19
	OpAload0        Opcode = 0x2a
	OpIstore        Opcode = 0x36
	OpLstore        Opcode = 0x37
	OpFstore        Opcode = 0x38
	OpDstore        Opcode = 0x39
	OpAstore        Opcode = 0x3a
	OpPop           Opcode = 0x57
	OpPop2          Opcode = 0x58
	OpDup           Opcode = 0x59
	OpIadd          Opcode = 0x60
	OpIinc          Opcode = 0x84
	OpIfeq          Opcode = 0x99
	OpIfne          Opcode = 0x9a
	OpIfIcmpge      Opcode = 0xa2
	OpGoto          Opcode = 0xa7
	OpJsr           Opcode = 0xa8
	OpRet           Opcode = 0xa9
	OpTableSwitch   Opcode = 0xaa
	OpLookupSwitch  Opcode = 0xab
	OpIreturn       Opcode = 0xac
	OpAreturn       Opcode = 0xb0
	OpReturn        Opcode = 0xb1
	OpGetStatic     Opcode = 0xb2
	OpPutStatic     Opcode = 0xb3
	OpGetField      Opcode = 0xb4
	OpPutField      Opcode = 0xb5
	OpInvokeVirtual Opcode = 0xb6
	OpInvokeSpecial Opcode = 0xb7
	OpInvokeStatic  Opcode = 0xb8
	OpInvokeIface   Opcode = 0xb9
	OpInvokeDynamic Opcode = 0xba
	OpNew           Opcode = 0xbb
	OpNewArray      Opcode = 0xbc
	OpANewArray     Opcode = 0xbd
	OpAthrow        Opcode = 0xbf
	OpCheckCast     Opcode = 0xc0
	OpInstanceOf    Opcode = 0xc1
	OpWide          Opcode = 0xc4
	OpMultiANewArr  Opcode = 0xc5
	OpIfNull        Opcode = 0xc6
	OpIfNonNull     Opcode = 0xc7
	OpGotoW         Opcode = 0xc8
	OpJsrW          Opcode = 0xc9
)

// Kind classifies an instruction by operand shape.
type Kind uint8

const (
	KindInvalid        Kind = iota // undefined opcode
	KindSimple                     // no operands
	KindLocal                      // local variable index (u1, u2 with wide)
	KindInt                        // bipush, sipush, newarray
	KindLdc                        // constant pool load
	KindField                      // field reference
	KindMethod                     // method reference (incl. invokeinterface)
	KindDynamic                    // invokedynamic
	KindType                       // class reference
	KindBranch                     // relative jump
	KindIinc                       // local index + signed increment
	KindTableSwitch                // tableswitch
	KindLookupSwitch               // lookupswitch
	KindMultiANewArray             // class reference + dimensions
)

// varStack marks pop/push counts that depend on operands.
const varStack = -1

type opSpec struct {
	name  string
	kind  Kind
	pop   int8 // stack slots consumed, or varStack
	push  int8 // stack slots produced, or varStack
	local int8 // implied local index for xload_n/xstore_n, -1 otherwise
	width int8 // local slot width for load/store instructions
	term  bool // no fallthrough successor
}

var opTable [256]opSpec

func def(op Opcode, name string, kind Kind, pop, push int8) {
	opTable[op] = opSpec{name: name, kind: kind, pop: pop, push: push, local: -1}
}

func init() {
	def(0x00, "nop", KindSimple, 0, 0)
	def(0x01, "aconst_null", KindSimple, 0, 1)
	for i, n := range []string{"iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5"} {
		def(Opcode(0x02+i), n, KindSimple, 0, 1)
	}
	def(0x09, "lconst_0", KindSimple, 0, 2)
	def(0x0a, "lconst_1", KindSimple, 0, 2)
	def(0x0b, "fconst_0", KindSimple, 0, 1)
	def(0x0c, "fconst_1", KindSimple, 0, 1)
	def(0x0d, "fconst_2", KindSimple, 0, 1)
	def(0x0e, "dconst_0", KindSimple, 0, 2)
	def(0x0f, "dconst_1", KindSimple, 0, 2)
	def(OpBipush, "bipush", KindInt, 0, 1)
	def(OpSipush, "sipush", KindInt, 0, 1)
	def(OpLdc, "ldc", KindLdc, 0, 1)
	def(OpLdcW, "ldc_w", KindLdc, 0, 1)
	def(OpLdc2W, "ldc2_w", KindLdc, 0, 2)

	// Typed loads and stores: i, l, f, d, a.
	prefixes := []string{"i", "l", "f", "d", "a"}
	widths := []int8{1, 2, 1, 2, 1}
	for t, p := range prefixes {
		w := widths[t]
		load := Opcode(0x15 + t)
		opTable[load] = opSpec{name: p + "load", kind: KindLocal, pop: 0, push: w, local: -1, width: w}
		store := Opcode(0x36 + t)
		opTable[store] = opSpec{name: p + "store", kind: KindLocal, pop: w, push: 0, local: -1, width: w}
		for n := 0; n < 4; n++ {
			opTable[0x1a+4*t+n] = opSpec{
				name: fmt.Sprintf("%sload_%d", p, n), kind: KindSimple,
				pop: 0, push: w, local: int8(n), width: w,
			}
			opTable[0x3b+4*t+n] = opSpec{
				name: fmt.Sprintf("%sstore_%d", p, n), kind: KindSimple,
				pop: w, push: 0, local: int8(n), width: w,
			}
		}
	}

	// Array loads and stores: i, l, f, d, a, b, c, s.
	arr := []string{"i", "l", "f", "d", "a", "b", "c", "s"}
	for t, p := range arr {
		w := int8(1)
		if p == "l" || p == "d" {
			w = 2
		}
		def(Opcode(0x2e+t), p+"aload", KindSimple, 2, w)
		def(Opcode(0x4f+t), p+"astore", KindSimple, 2+w, 0)
	}

	def(OpPop, "pop", KindSimple, 1, 0)
	def(OpPop2, "pop2", KindSimple, 2, 0)
	def(OpDup, "dup", KindSimple, 1, 2)
	def(0x5a, "dup_x1", KindSimple, 2, 3)
	def(0x5b, "dup_x2", KindSimple, 3, 4)
	def(0x5c, "dup2", KindSimple, 2, 4)
	def(0x5d, "dup2_x1", KindSimple, 3, 5)
	def(0x5e, "dup2_x2", KindSimple, 4, 6)
	def(0x5f, "swap", KindSimple, 2, 2)

	// Arithmetic: add, sub, mul, div, rem over i, l, f, d.
	for g, name := range []string{"add", "sub", "mul", "div", "rem"} {
		for t, p := range prefixes[:4] {
			w := widths[t]
			def(Opcode(0x60+4*g+t), p+name, KindSimple, 2*w, w)
		}
	}
	for t, p := range prefixes[:4] {
		def(Opcode(0x74+t), p+"neg", KindSimple, widths[t], widths[t])
	}
	def(0x78, "ishl", KindSimple, 2, 1)
	def(0x79, "lshl", KindSimple, 3, 2)
	def(0x7a, "ishr", KindSimple, 2, 1)
	def(0x7b, "lshr", KindSimple, 3, 2)
	def(0x7c, "iushr", KindSimple, 2, 1)
	def(0x7d, "lushr", KindSimple, 3, 2)
	def(0x7e, "iand", KindSimple, 2, 1)
	def(0x7f, "land", KindSimple, 4, 2)
	def(0x80, "ior", KindSimple, 2, 1)
	def(0x81, "lor", KindSimple, 4, 2)
	def(0x82, "ixor", KindSimple, 2, 1)
	def(0x83, "lxor", KindSimple, 4, 2)
	def(OpIinc, "iinc", KindIinc, 0, 0)

	// Conversions.
	conv := []struct {
		name      string
		pop, push int8
	}{
		{"i2l", 1, 2}, {"i2f", 1, 1}, {"i2d", 1, 2},
		{"l2i", 2, 1}, {"l2f", 2, 1}, {"l2d", 2, 2},
		{"f2i", 1, 1}, {"f2l", 1, 2}, {"f2d", 1, 2},
		{"d2i", 2, 1}, {"d2l", 2, 2}, {"d2f", 2, 1},
		{"i2b", 1, 1}, {"i2c", 1, 1}, {"i2s", 1, 1},
	}
	for i, c := range conv {
		def(Opcode(0x85+i), c.name, KindSimple, c.pop, c.push)
	}

	def(0x94, "lcmp", KindSimple, 4, 1)
	def(0x95, "fcmpl", KindSimple, 2, 1)
	def(0x96, "fcmpg", KindSimple, 2, 1)
	def(0x97, "dcmpl", KindSimple, 4, 1)
	def(0x98, "dcmpg", KindSimple, 4, 1)

	for i, n := range []string{"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle"} {
		def(Opcode(0x99+i), n, KindBranch, 1, 0)
	}
	for i, n := range []string{"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne"} {
		def(Opcode(0x9f+i), n, KindBranch, 2, 0)
	}
	def(OpGoto, "goto", KindBranch, 0, 0)
	def(OpJsr, "jsr", KindBranch, 0, 1)
	opTable[OpRet] = opSpec{name: "ret", kind: KindLocal, local: -1, width: 1}
	def(OpTableSwitch, "tableswitch", KindTableSwitch, 1, 0)
	def(OpLookupSwitch, "lookupswitch", KindLookupSwitch, 1, 0)

	def(OpIreturn, "ireturn", KindSimple, 1, 0)
	def(0xad, "lreturn", KindSimple, 2, 0)
	def(0xae, "freturn", KindSimple, 1, 0)
	def(0xaf, "dreturn", KindSimple, 2, 0)
	def(OpAreturn, "areturn", KindSimple, 1, 0)
	def(OpReturn, "return", KindSimple, 0, 0)

	def(OpGetStatic, "getstatic", KindField, varStack, varStack)
	def(OpPutStatic, "putstatic", KindField, varStack, varStack)
	def(OpGetField, "getfield", KindField, varStack, varStack)
	def(OpPutField, "putfield", KindField, varStack, varStack)
	def(OpInvokeVirtual, "invokevirtual", KindMethod, varStack, varStack)
	def(OpInvokeSpecial, "invokespecial", KindMethod, varStack, varStack)
	def(OpInvokeStatic, "invokestatic", KindMethod, varStack, varStack)
	def(OpInvokeIface, "invokeinterface", KindMethod, varStack, varStack)
	def(OpInvokeDynamic, "invokedynamic", KindDynamic, varStack, varStack)

	def(OpNew, "new", KindType, 0, 1)
	def(OpNewArray, "newarray", KindInt, 1, 1)
	def(OpANewArray, "anewarray", KindType, 1, 1)
	def(0xbe, "arraylength", KindSimple, 1, 1)
	def(OpAthrow, "athrow", KindSimple, 1, 0)
	def(OpCheckCast, "checkcast", KindType, 1, 1)
	def(OpInstanceOf, "instanceof", KindType, 1, 1)
	def(0xc2, "monitorenter", KindSimple, 1, 0)
	def(0xc3, "monitorexit", KindSimple, 1, 0)
	def(OpMultiANewArr, "multianewarray", KindMultiANewArray, varStack, 1)
	def(OpIfNull, "ifnull", KindBranch, 1, 0)
	def(OpIfNonNull, "ifnonnull", KindBranch, 1, 0)
	def(OpGotoW, "goto_w", KindBranch, 0, 0)
	def(OpJsrW, "jsr_w", KindBranch, 0, 1)

	for _, op := range []Opcode{
		OpGoto, OpGotoW, OpRet, OpTableSwitch, OpLookupSwitch,
		OpIreturn, 0xad, 0xae, 0xaf, OpAreturn, OpReturn, OpAthrow,
	} {
		opTable[op].term = true
	}
}

// String returns the mnemonic, or "op_0x.." for undefined opcodes.
func (op Opcode) String() string {
	if s := opTable[op].name; s != "" {
		return s
	}
	return fmt.Sprintf("op_0x%02x", uint8(op))
}

// Kind returns the operand shape of op, KindInvalid if op is undefined.
func (op Opcode) Kind() Kind { return opTable[op].kind }

// IsTerminal reports whether op never falls through to the next instruction.
func (op Opcode) IsTerminal() bool { return opTable[op].term }

func (op Opcode) isJsr() bool { return op == OpJsr || op == OpJsrW }

func (op Opcode) isWideBranch() bool { return op == OpGotoW || op == OpJsrW }
