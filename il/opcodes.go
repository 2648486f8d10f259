package il

import "fmt"

// Opcode is a CIL opcode. Two-byte opcodes carry the 0xFE prefix in the high
// byte.
type Opcode uint16

// Prefix introduces the two-byte opcode space.
const Prefix = 0xFE

// OperandKind is the inline operand encoding of an opcode (ECMA-335 III.1.9).
type OperandKind uint8

const (
	InlineNone           OperandKind = iota
	ShortInlineI                     // int8, or uint8 for unaligned. and no.
	ShortInlineVar                   // uint8 argument or local index
	InlineVar                        // uint16 argument or local index
	InlineI                          // int32
	InlineI8                         // int64
	ShortInlineR                     // float32
	InlineR                          // float64
	InlineField                      // Field or MemberRef token
	InlineMethod                     // MethodDef, MemberRef or MethodSpec token
	InlineType                       // TypeDef, TypeRef or TypeSpec token
	InlineTok                        // any of the above, for ldtoken
	InlineSig                        // StandAloneSig token
	InlineString                     // user string token
	ShortInlineBrTarget              // int8 relative offset
	InlineBrTarget                   // int32 relative offset
	InlineSwitch                     // uint32 count followed by int32 offsets
)

// IsToken reports whether the operand is a metadata token.
func (k OperandKind) IsToken() bool {
	return k >= InlineField && k <= InlineString
}

// IsBranch reports whether the operand is a single branch target.
func (k OperandKind) IsBranch() bool {
	return k == ShortInlineBrTarget || k == InlineBrTarget
}

// Size is the encoded operand size; InlineSwitch reports its fixed count
// prefix only.
func (k OperandKind) Size() int {
	switch k {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineVar, ShortInlineBrTarget:
		return 1
	case InlineVar:
		return 2
	case InlineI8, InlineR:
		return 8
	}
	return 4
}

// One-byte opcodes.
const (
	Nop         Opcode = 0x00
	Break       Opcode = 0x01
	Ldarg0      Opcode = 0x02
	Ldarg1      Opcode = 0x03
	Ldarg2      Opcode = 0x04
	Ldarg3      Opcode = 0x05
	Ldloc0      Opcode = 0x06
	Ldloc1      Opcode = 0x07
	Ldloc2      Opcode = 0x08
	Ldloc3      Opcode = 0x09
	Stloc0      Opcode = 0x0A
	Stloc1      Opcode = 0x0B
	Stloc2      Opcode = 0x0C
	Stloc3      Opcode = 0x0D
	LdargS      Opcode = 0x0E
	LdargaS     Opcode = 0x0F
	StargS      Opcode = 0x10
	LdlocS      Opcode = 0x11
	LdlocaS     Opcode = 0x12
	StlocS      Opcode = 0x13
	Ldnull      Opcode = 0x14
	LdcI4M1     Opcode = 0x15
	LdcI40      Opcode = 0x16
	LdcI41      Opcode = 0x17
	LdcI42      Opcode = 0x18
	LdcI43      Opcode = 0x19
	LdcI44      Opcode = 0x1A
	LdcI45      Opcode = 0x1B
	LdcI46      Opcode = 0x1C
	LdcI47      Opcode = 0x1D
	LdcI48      Opcode = 0x1E
	LdcI4S      Opcode = 0x1F
	LdcI4       Opcode = 0x20
	LdcI8       Opcode = 0x21
	LdcR4       Opcode = 0x22
	LdcR8       Opcode = 0x23
	Dup         Opcode = 0x25
	Pop         Opcode = 0x26
	Jmp         Opcode = 0x27
	Call        Opcode = 0x28
	Calli       Opcode = 0x29
	Ret         Opcode = 0x2A
	BrS         Opcode = 0x2B
	BrfalseS    Opcode = 0x2C
	BrtrueS     Opcode = 0x2D
	BeqS        Opcode = 0x2E
	BgeS        Opcode = 0x2F
	BgtS        Opcode = 0x30
	BleS        Opcode = 0x31
	BltS        Opcode = 0x32
	BneUnS      Opcode = 0x33
	BgeUnS      Opcode = 0x34
	BgtUnS      Opcode = 0x35
	BleUnS      Opcode = 0x36
	BltUnS      Opcode = 0x37
	Br          Opcode = 0x38
	Brfalse     Opcode = 0x39
	Brtrue      Opcode = 0x3A
	Beq         Opcode = 0x3B
	Bge         Opcode = 0x3C
	Bgt         Opcode = 0x3D
	Ble         Opcode = 0x3E
	Blt         Opcode = 0x3F
	BneUn       Opcode = 0x40
	BgeUn       Opcode = 0x41
	BgtUn       Opcode = 0x42
	BleUn       Opcode = 0x43
	BltUn       Opcode = 0x44
	Switch      Opcode = 0x45
	LdindI1     Opcode = 0x46
	LdindU1     Opcode = 0x47
	LdindI2     Opcode = 0x48
	LdindU2     Opcode = 0x49
	LdindI4     Opcode = 0x4A
	LdindU4     Opcode = 0x4B
	LdindI8     Opcode = 0x4C
	LdindI      Opcode = 0x4D
	LdindR4     Opcode = 0x4E
	LdindR8     Opcode = 0x4F
	LdindRef    Opcode = 0x50
	StindRef    Opcode = 0x51
	StindI1     Opcode = 0x52
	StindI2     Opcode = 0x53
	StindI4     Opcode = 0x54
	StindI8     Opcode = 0x55
	StindR4     Opcode = 0x56
	StindR8     Opcode = 0x57
	Add         Opcode = 0x58
	Sub         Opcode = 0x59
	Mul         Opcode = 0x5A
	Div         Opcode = 0x5B
	DivUn       Opcode = 0x5C
	Rem         Opcode = 0x5D
	RemUn       Opcode = 0x5E
	And         Opcode = 0x5F
	Or          Opcode = 0x60
	Xor         Opcode = 0x61
	Shl         Opcode = 0x62
	Shr         Opcode = 0x63
	ShrUn       Opcode = 0x64
	Neg         Opcode = 0x65
	Not         Opcode = 0x66
	ConvI1      Opcode = 0x67
	ConvI2      Opcode = 0x68
	ConvI4      Opcode = 0x69
	ConvI8      Opcode = 0x6A
	ConvR4      Opcode = 0x6B
	ConvR8      Opcode = 0x6C
	ConvU4      Opcode = 0x6D
	ConvU8      Opcode = 0x6E
	Callvirt    Opcode = 0x6F
	Cpobj       Opcode = 0x70
	Ldobj       Opcode = 0x71
	Ldstr       Opcode = 0x72
	Newobj      Opcode = 0x73
	Castclass   Opcode = 0x74
	Isinst      Opcode = 0x75
	ConvRUn     Opcode = 0x76
	Unbox       Opcode = 0x79
	Throw       Opcode = 0x7A
	Ldfld       Opcode = 0x7B
	Ldflda      Opcode = 0x7C
	Stfld       Opcode = 0x7D
	Ldsfld      Opcode = 0x7E
	Ldsflda     Opcode = 0x7F
	Stsfld      Opcode = 0x80
	Stobj       Opcode = 0x81
	ConvOvfI1Un Opcode = 0x82
	ConvOvfI2Un Opcode = 0x83
	ConvOvfI4Un Opcode = 0x84
	ConvOvfI8Un Opcode = 0x85
	ConvOvfU1Un Opcode = 0x86
	ConvOvfU2Un Opcode = 0x87
	ConvOvfU4Un Opcode = 0x88
	ConvOvfU8Un Opcode = 0x89
	ConvOvfIUn  Opcode = 0x8A
	ConvOvfUUn  Opcode = 0x8B
	Box         Opcode = 0x8C
	Newarr      Opcode = 0x8D
	Ldlen       Opcode = 0x8E
	Ldelema     Opcode = 0x8F
	LdelemI1    Opcode = 0x90
	LdelemU1    Opcode = 0x91
	LdelemI2    Opcode = 0x92
	LdelemU2    Opcode = 0x93
	LdelemI4    Opcode = 0x94
	LdelemU4    Opcode = 0x95
	LdelemI8    Opcode = 0x96
	LdelemI     Opcode = 0x97
	LdelemR4    Opcode = 0x98
	LdelemR8    Opcode = 0x99
	LdelemRef   Opcode = 0x9A
	StelemI     Opcode = 0x9B
	StelemI1    Opcode = 0x9C
	StelemI2    Opcode = 0x9D
	StelemI4    Opcode = 0x9E
	StelemI8    Opcode = 0x9F
	StelemR4    Opcode = 0xA0
	StelemR8    Opcode = 0xA1
	StelemRef   Opcode = 0xA2
	Ldelem      Opcode = 0xA3
	Stelem      Opcode = 0xA4
	UnboxAny    Opcode = 0xA5
	ConvOvfI1   Opcode = 0xB3
	ConvOvfU1   Opcode = 0xB4
	ConvOvfI2   Opcode = 0xB5
	ConvOvfU2   Opcode = 0xB6
	ConvOvfI4   Opcode = 0xB7
	ConvOvfU4   Opcode = 0xB8
	ConvOvfI8   Opcode = 0xB9
	ConvOvfU8   Opcode = 0xBA
	Refanyval   Opcode = 0xC2
	Ckfinite    Opcode = 0xC3
	Mkrefany    Opcode = 0xC6
	Ldtoken     Opcode = 0xD0
	ConvU2      Opcode = 0xD1
	ConvU1      Opcode = 0xD2
	ConvI       Opcode = 0xD3
	ConvOvfI    Opcode = 0xD4
	ConvOvfU    Opcode = 0xD5
	AddOvf      Opcode = 0xD6
	AddOvfUn    Opcode = 0xD7
	MulOvf      Opcode = 0xD8
	MulOvfUn    Opcode = 0xD9
	SubOvf      Opcode = 0xDA
	SubOvfUn    Opcode = 0xDB
	Endfinally  Opcode = 0xDC
	Leave       Opcode = 0xDD
	LeaveS      Opcode = 0xDE
	StindI      Opcode = 0xDF
	ConvU       Opcode = 0xE0
)

// Two-byte opcodes.
const (
	Arglist     Opcode = 0xFE00
	Ceq         Opcode = 0xFE01
	Cgt         Opcode = 0xFE02
	CgtUn       Opcode = 0xFE03
	Clt         Opcode = 0xFE04
	CltUn       Opcode = 0xFE05
	Ldftn       Opcode = 0xFE06
	Ldvirtftn   Opcode = 0xFE07
	Ldarg       Opcode = 0xFE09
	Ldarga      Opcode = 0xFE0A
	Starg       Opcode = 0xFE0B
	Ldloc       Opcode = 0xFE0C
	Ldloca      Opcode = 0xFE0D
	Stloc       Opcode = 0xFE0E
	Localloc    Opcode = 0xFE0F
	Endfilter   Opcode = 0xFE11
	Unaligned   Opcode = 0xFE12
	Volatile    Opcode = 0xFE13
	Tail        Opcode = 0xFE14
	Initobj     Opcode = 0xFE15
	Constrained Opcode = 0xFE16
	Cpblk       Opcode = 0xFE17
	Initblk     Opcode = 0xFE18
	No          Opcode = 0xFE19
	Rethrow     Opcode = 0xFE1A
	Sizeof      Opcode = 0xFE1C
	Refanytype  Opcode = 0xFE1D
	Readonly    Opcode = 0xFE1E
)

type opInfo struct {
	name    string
	operand OperandKind
}

var (
	oneByte [256]*opInfo
	twoByte [256]*opInfo
)

// shortForm and longForm pair the branch opcodes that differ only in operand
// width.
var (
	shortForm = map[Opcode]Opcode{}
	longForm  = map[Opcode]Opcode{}
)

func def(op Opcode, name string, operand OperandKind) {
	info := &opInfo{name: name, operand: operand}
	if op>>8 == Prefix {
		twoByte[op&0xFF] = info
	} else {
		oneByte[op] = info
	}
}

func init() {
	for op, name := range map[Opcode]string{
		Nop: "nop", Break: "break",
		Ldarg0: "ldarg.0", Ldarg1: "ldarg.1", Ldarg2: "ldarg.2", Ldarg3: "ldarg.3",
		Ldloc0: "ldloc.0", Ldloc1: "ldloc.1", Ldloc2: "ldloc.2", Ldloc3: "ldloc.3",
		Stloc0: "stloc.0", Stloc1: "stloc.1", Stloc2: "stloc.2", Stloc3: "stloc.3",
		Ldnull: "ldnull", LdcI4M1: "ldc.i4.m1",
		LdcI40: "ldc.i4.0", LdcI41: "ldc.i4.1", LdcI42: "ldc.i4.2", LdcI43: "ldc.i4.3",
		LdcI44: "ldc.i4.4", LdcI45: "ldc.i4.5", LdcI46: "ldc.i4.6", LdcI47: "ldc.i4.7", LdcI48: "ldc.i4.8",
		Dup: "dup", Pop: "pop", Ret: "ret",
		LdindI1: "ldind.i1", LdindU1: "ldind.u1", LdindI2: "ldind.i2", LdindU2: "ldind.u2",
		LdindI4: "ldind.i4", LdindU4: "ldind.u4", LdindI8: "ldind.i8", LdindI: "ldind.i",
		LdindR4: "ldind.r4", LdindR8: "ldind.r8", LdindRef: "ldind.ref",
		StindRef: "stind.ref", StindI1: "stind.i1", StindI2: "stind.i2", StindI4: "stind.i4",
		StindI8: "stind.i8", StindR4: "stind.r4", StindR8: "stind.r8", StindI: "stind.i",
		Add: "add", Sub: "sub", Mul: "mul", Div: "div", DivUn: "div.un", Rem: "rem", RemUn: "rem.un",
		And: "and", Or: "or", Xor: "xor", Shl: "shl", Shr: "shr", ShrUn: "shr.un", Neg: "neg", Not: "not",
		ConvI1: "conv.i1", ConvI2: "conv.i2", ConvI4: "conv.i4", ConvI8: "conv.i8",
		ConvR4: "conv.r4", ConvR8: "conv.r8", ConvU4: "conv.u4", ConvU8: "conv.u8", ConvRUn: "conv.r.un",
		Throw: "throw",
		ConvOvfI1Un: "conv.ovf.i1.un", ConvOvfI2Un: "conv.ovf.i2.un", ConvOvfI4Un: "conv.ovf.i4.un",
		ConvOvfI8Un: "conv.ovf.i8.un", ConvOvfU1Un: "conv.ovf.u1.un", ConvOvfU2Un: "conv.ovf.u2.un",
		ConvOvfU4Un: "conv.ovf.u4.un", ConvOvfU8Un: "conv.ovf.u8.un", ConvOvfIUn: "conv.ovf.i.un",
		ConvOvfUUn: "conv.ovf.u.un",
		Ldlen:    "ldlen",
		LdelemI1: "ldelem.i1", LdelemU1: "ldelem.u1", LdelemI2: "ldelem.i2", LdelemU2: "ldelem.u2",
		LdelemI4: "ldelem.i4", LdelemU4: "ldelem.u4", LdelemI8: "ldelem.i8", LdelemI: "ldelem.i",
		LdelemR4: "ldelem.r4", LdelemR8: "ldelem.r8", LdelemRef: "ldelem.ref",
		StelemI: "stelem.i", StelemI1: "stelem.i1", StelemI2: "stelem.i2", StelemI4: "stelem.i4",
		StelemI8: "stelem.i8", StelemR4: "stelem.r4", StelemR8: "stelem.r8", StelemRef: "stelem.ref",
		ConvOvfI1: "conv.ovf.i1", ConvOvfU1: "conv.ovf.u1", ConvOvfI2: "conv.ovf.i2", ConvOvfU2: "conv.ovf.u2",
		ConvOvfI4: "conv.ovf.i4", ConvOvfU4: "conv.ovf.u4", ConvOvfI8: "conv.ovf.i8", ConvOvfU8: "conv.ovf.u8",
		Ckfinite: "ckfinite",
		ConvU2:   "conv.u2", ConvU1: "conv.u1", ConvI: "conv.i", ConvOvfI: "conv.ovf.i", ConvOvfU: "conv.ovf.u",
		AddOvf: "add.ovf", AddOvfUn: "add.ovf.un", MulOvf: "mul.ovf", MulOvfUn: "mul.ovf.un",
		SubOvf: "sub.ovf", SubOvfUn: "sub.ovf.un", Endfinally: "endfinally", ConvU: "conv.u",
		Arglist: "arglist", Ceq: "ceq", Cgt: "cgt", CgtUn: "cgt.un", Clt: "clt", CltUn: "clt.un",
		Localloc: "localloc", Endfilter: "endfilter", Volatile: "volatile.", Tail: "tail.",
		Cpblk: "cpblk", Initblk: "initblk", Rethrow: "rethrow", Refanytype: "refanytype", Readonly: "readonly.",
	} {
		def(op, name, InlineNone)
	}

	def(LdargS, "ldarg.s", ShortInlineVar)
	def(LdargaS, "ldarga.s", ShortInlineVar)
	def(StargS, "starg.s", ShortInlineVar)
	def(LdlocS, "ldloc.s", ShortInlineVar)
	def(LdlocaS, "ldloca.s", ShortInlineVar)
	def(StlocS, "stloc.s", ShortInlineVar)
	def(Ldarg, "ldarg", InlineVar)
	def(Ldarga, "ldarga", InlineVar)
	def(Starg, "starg", InlineVar)
	def(Ldloc, "ldloc", InlineVar)
	def(Ldloca, "ldloca", InlineVar)
	def(Stloc, "stloc", InlineVar)

	def(LdcI4S, "ldc.i4.s", ShortInlineI)
	def(Unaligned, "unaligned.", ShortInlineI)
	def(No, "no.", ShortInlineI)
	def(LdcI4, "ldc.i4", InlineI)
	def(LdcI8, "ldc.i8", InlineI8)
	def(LdcR4, "ldc.r4", ShortInlineR)
	def(LdcR8, "ldc.r8", InlineR)

	for op, name := range map[Opcode]string{
		Jmp: "jmp", Call: "call", Callvirt: "callvirt", Newobj: "newobj", Ldftn: "ldftn", Ldvirtftn: "ldvirtftn",
	} {
		def(op, name, InlineMethod)
	}
	def(Calli, "calli", InlineSig)
	def(Ldstr, "ldstr", InlineString)
	def(Ldtoken, "ldtoken", InlineTok)
	for op, name := range map[Opcode]string{
		Ldfld: "ldfld", Ldflda: "ldflda", Stfld: "stfld", Ldsfld: "ldsfld", Ldsflda: "ldsflda", Stsfld: "stsfld",
	} {
		def(op, name, InlineField)
	}
	for op, name := range map[Opcode]string{
		Cpobj: "cpobj", Ldobj: "ldobj", Castclass: "castclass", Isinst: "isinst", Unbox: "unbox",
		Stobj: "stobj", Box: "box", Newarr: "newarr", Ldelema: "ldelema", Ldelem: "ldelem",
		Stelem: "stelem", UnboxAny: "unbox.any", Refanyval: "refanyval", Mkrefany: "mkrefany",
		Initobj: "initobj", Constrained: "constrained.", Sizeof: "sizeof",
	} {
		def(op, name, InlineType)
	}

	def(Switch, "switch", InlineSwitch)
	for _, p := range []struct {
		short, long Opcode
		name        string
	}{
		{BrS, Br, "br"}, {BrfalseS, Brfalse, "brfalse"}, {BrtrueS, Brtrue, "brtrue"},
		{BeqS, Beq, "beq"}, {BgeS, Bge, "bge"}, {BgtS, Bgt, "bgt"}, {BleS, Ble, "ble"}, {BltS, Blt, "blt"},
		{BneUnS, BneUn, "bne.un"}, {BgeUnS, BgeUn, "bge.un"}, {BgtUnS, BgtUn, "bgt.un"},
		{BleUnS, BleUn, "ble.un"}, {BltUnS, BltUn, "blt.un"}, {LeaveS, Leave, "leave"},
	} {
		def(p.short, p.name+".s", ShortInlineBrTarget)
		def(p.long, p.name, InlineBrTarget)
		shortForm[p.long] = p.short
		longForm[p.short] = p.long
	}
}

func (op Opcode) info() *opInfo {
	if op>>8 == Prefix {
		return twoByte[op&0xFF]
	}
	if op > 0xFF {
		return nil
	}
	return oneByte[op]
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return op.info() != nil
}

// Name is the ilasm mnemonic.
func (op Opcode) Name() string {
	if i := op.info(); i != nil {
		return i.name
	}
	return fmt.Sprintf("op_%04x", uint16(op))
}

func (op Opcode) String() string { return op.Name() }

// Operand returns the inline operand kind.
func (op Opcode) Operand() OperandKind {
	if i := op.info(); i != nil {
		return i.operand
	}
	return InlineNone
}

// Size is the encoded opcode width in bytes.
func (op Opcode) Size() int {
	if op>>8 == Prefix {
		return 2
	}
	return 1
}

// Short returns the short branch form of op, or op itself.
func (op Opcode) Short() Opcode {
	if s, ok := shortForm[op]; ok {
		return s
	}
	return op
}

// Long returns the long branch form of op, or op itself.
func (op Opcode) Long() Opcode {
	if l, ok := longForm[op]; ok {
		return l
	}
	return op
}
