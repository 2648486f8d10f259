package signature

import (
	"fmt"

	"github.com/wippyai/ilweave/metadata"
)

// ElementType is a signature element type byte (ECMA-335 II.23.1.16).
type ElementType byte

const (
	ElemEnd         ElementType = 0x00
	ElemVoid        ElementType = 0x01
	ElemBoolean     ElementType = 0x02
	ElemChar        ElementType = 0x03
	ElemI1          ElementType = 0x04
	ElemU1          ElementType = 0x05
	ElemI2          ElementType = 0x06
	ElemU2          ElementType = 0x07
	ElemI4          ElementType = 0x08
	ElemU4          ElementType = 0x09
	ElemI8          ElementType = 0x0A
	ElemU8          ElementType = 0x0B
	ElemR4          ElementType = 0x0C
	ElemR8          ElementType = 0x0D
	ElemString      ElementType = 0x0E
	ElemPtr         ElementType = 0x0F
	ElemByRef       ElementType = 0x10
	ElemValueType   ElementType = 0x11
	ElemClass       ElementType = 0x12
	ElemVar         ElementType = 0x13
	ElemArray       ElementType = 0x14
	ElemGenericInst ElementType = 0x15
	ElemTypedByRef  ElementType = 0x16
	ElemI           ElementType = 0x18
	ElemU           ElementType = 0x19
	ElemFnPtr       ElementType = 0x1B
	ElemObject      ElementType = 0x1C
	ElemSzArray     ElementType = 0x1D
	ElemMVar        ElementType = 0x1E
	ElemCModReqd    ElementType = 0x1F
	ElemCModOpt     ElementType = 0x20
	ElemInternal    ElementType = 0x21
	ElemModifier    ElementType = 0x40
	ElemSentinel    ElementType = 0x41
	ElemPinned      ElementType = 0x45
	// ElemSystemType, ElemBoxed and ElemEnum only occur in custom
	// attribute blobs.
	ElemSystemType ElementType = 0x50
	ElemBoxed      ElementType = 0x51
	ElemField      ElementType = 0x53
	ElemProperty   ElementType = 0x54
	ElemEnum       ElementType = 0x55
)

var intrinsicNames = map[ElementType]string{
	ElemVoid:       "void",
	ElemBoolean:    "bool",
	ElemChar:       "char",
	ElemI1:         "int8",
	ElemU1:         "uint8",
	ElemI2:         "int16",
	ElemU2:         "uint16",
	ElemI4:         "int32",
	ElemU4:         "uint32",
	ElemI8:         "int64",
	ElemU8:         "uint64",
	ElemR4:         "float32",
	ElemR8:         "float64",
	ElemString:     "string",
	ElemTypedByRef: "typedref",
	ElemI:          "native int",
	ElemU:          "native uint",
	ElemObject:     "object",
}

// IsIntrinsic reports whether e is a primitive element type with no operands.
func (e ElementType) IsIntrinsic() bool {
	_, ok := intrinsicNames[e]
	return ok
}

func (e ElementType) String() string {
	if n, ok := intrinsicNames[e]; ok {
		return n
	}
	return fmt.Sprintf("ElementType(0x%02x)", byte(e))
}

// Type is a node of a decoded type signature. Values are immutable; mutating
// a signature means building a new tree.
type Type interface {
	Element() ElementType
	isType()
}

// Intrinsic is a primitive type: void, bool, the numeric types, string,
// object, typedref, native int and native uint.
type Intrinsic struct {
	Kind ElementType
}

// TypeDefOrRef is a class or valuetype reference by token.
type TypeDefOrRef struct {
	Token     metadata.Token
	ValueType bool
}

// Pointer is an unmanaged pointer.
type Pointer struct {
	Elem Type
}

// ByRef is a managed reference.
type ByRef struct {
	Elem Type
}

// SzArray is a single-dimensional zero-based array.
type SzArray struct {
	Elem Type
}

// Array is a general array with rank, sizes and lower bounds.
type Array struct {
	Elem     Type
	Sizes    []uint32
	LoBounds []int32
	Rank     uint32
}

// GenericParam references a type (Var) or method (MVar) generic parameter
// by position.
type GenericParam struct {
	Index  uint32
	Method bool
}

// GenericInstance is a generic type applied to arguments.
type GenericInstance struct {
	Args    []Type
	Generic TypeDefOrRef
}

// FunctionPointer is a method pointer type.
type FunctionPointer struct {
	Method *MethodSig
}

// Modified is a custom modifier (modreq or modopt) applied to Elem.
type Modified struct {
	Elem     Type
	Modifier metadata.Token
	Required bool
}

// Pinned marks a pinned local.
type Pinned struct {
	Elem Type
}

func (Intrinsic) isType()       {}
func (TypeDefOrRef) isType()    {}
func (Pointer) isType()         {}
func (ByRef) isType()           {}
func (SzArray) isType()         {}
func (Array) isType()           {}
func (GenericParam) isType()    {}
func (GenericInstance) isType() {}
func (FunctionPointer) isType() {}
func (Modified) isType()        {}
func (Pinned) isType()          {}

func (t Intrinsic) Element() ElementType { return t.Kind }

func (t TypeDefOrRef) Element() ElementType {
	if t.ValueType {
		return ElemValueType
	}
	return ElemClass
}

func (Pointer) Element() ElementType         { return ElemPtr }
func (ByRef) Element() ElementType           { return ElemByRef }
func (SzArray) Element() ElementType         { return ElemSzArray }
func (Array) Element() ElementType           { return ElemArray }
func (GenericInstance) Element() ElementType { return ElemGenericInst }
func (FunctionPointer) Element() ElementType { return ElemFnPtr }
func (Pinned) Element() ElementType          { return ElemPinned }

func (t GenericParam) Element() ElementType {
	if t.Method {
		return ElemMVar
	}
	return ElemVar
}

func (t Modified) Element() ElementType {
	if t.Required {
		return ElemCModReqd
	}
	return ElemCModOpt
}

// Convenience constructors for common intrinsics.
var (
	Void    Type = Intrinsic{ElemVoid}
	Bool    Type = Intrinsic{ElemBoolean}
	Int32   Type = Intrinsic{ElemI4}
	Int64   Type = Intrinsic{ElemI8}
	String  Type = Intrinsic{ElemString}
	Object  Type = Intrinsic{ElemObject}
	IntPtr  Type = Intrinsic{ElemI}
	UIntPtr Type = Intrinsic{ElemU}
)

// Strip removes custom modifiers and pinned markers from the top of t.
func Strip(t Type) Type {
	for {
		switch v := t.(type) {
		case Modified:
			t = v.Elem
		case Pinned:
			t = v.Elem
		default:
			return t
		}
	}
}
