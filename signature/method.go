package signature

// CallingConvention is the first byte of a method, field, property,
// local-variable or method-spec signature.
type CallingConvention byte

const (
	CallDefault      CallingConvention = 0x00
	CallC            CallingConvention = 0x01
	CallStdCall      CallingConvention = 0x02
	CallThisCall     CallingConvention = 0x03
	CallFastCall     CallingConvention = 0x04
	CallVarArg       CallingConvention = 0x05
	CallField        CallingConvention = 0x06
	CallLocalSig     CallingConvention = 0x07
	CallProperty     CallingConvention = 0x08
	CallUnmanaged    CallingConvention = 0x09
	CallGenericInst  CallingConvention = 0x0A
	CallNativeVarArg CallingConvention = 0x0B

	CallKindMask     CallingConvention = 0x0F
	CallGeneric      CallingConvention = 0x10
	CallHasThis      CallingConvention = 0x20
	CallExplicitThis CallingConvention = 0x40
)

// Kind returns the convention without flag bits.
func (c CallingConvention) Kind() CallingConvention { return c & CallKindMask }

// HasThis reports the instance flag.
func (c CallingConvention) HasThis() bool { return c&CallHasThis != 0 }

// ExplicitThis reports the explicit-this flag.
func (c CallingConvention) ExplicitThis() bool { return c&CallExplicitThis != 0 }

// Generic reports whether a generic parameter count follows.
func (c CallingConvention) Generic() bool { return c&CallGeneric != 0 }

// MethodSig is a MethodDefSig, MethodRefSig or StandAloneMethodSig.
type MethodSig struct {
	Return Type
	Params []Type
	// VarArgs are the call-site arguments after the sentinel; only
	// meaningful when Sentinel is set.
	VarArgs       []Type
	GenParamCount uint32
	CallConv      CallingConvention
	Sentinel      bool
}

// ParamCount returns the declared parameter count including vararg extras.
func (m *MethodSig) ParamCount() int {
	return len(m.Params) + len(m.VarArgs)
}

// FieldSig is a field signature.
type FieldSig struct {
	Type Type
}

// PropertySig is a property signature.
type PropertySig struct {
	Type    Type
	Params  []Type
	HasThis bool
}

// LocalVarSig lists the locals of a method body.
type LocalVarSig struct {
	Locals []Type
}

// MethodSpecSig is the instantiation of a generic method.
type MethodSpecSig struct {
	Args []Type
}
