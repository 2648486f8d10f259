package attr

import (
	"fmt"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

// SerializationType describes how a custom attribute argument is encoded
// (ECMA-335 II.23.3).
type SerializationType interface {
	// Tag is the FieldOrPropType byte used when the type is spelled out.
	Tag() signature.ElementType
	String() string
	isSerialization()
}

// Intrinsic is bool, char, the integer and float types, or string.
type Intrinsic struct {
	Kind signature.ElementType
}

// SystemType is a System.Type argument, serialized as a type name.
type SystemType struct{}

// Boxed is an object argument carrying its own type tag.
type Boxed struct{}

// Enum is an enum argument serialized as its underlying integer.
type Enum struct {
	// Name is the serialized type name, assembly-qualified when the enum
	// lives in another assembly.
	Name       string
	Underlying signature.ElementType
}

// Array is a single-dimensional array argument.
type Array struct {
	Elem SerializationType
}

func (Intrinsic) isSerialization()  {}
func (SystemType) isSerialization() {}
func (Boxed) isSerialization()      {}
func (Enum) isSerialization()       {}
func (Array) isSerialization()      {}

func (t Intrinsic) Tag() signature.ElementType { return t.Kind }
func (SystemType) Tag() signature.ElementType  { return signature.ElemSystemType }
func (Boxed) Tag() signature.ElementType       { return signature.ElemBoxed }
func (Enum) Tag() signature.ElementType        { return signature.ElemEnum }
func (Array) Tag() signature.ElementType       { return signature.ElemSzArray }

func (t Intrinsic) String() string { return t.Kind.String() }
func (SystemType) String() string  { return "type" }
func (Boxed) String() string       { return "object" }
func (t Enum) String() string      { return "enum " + t.Name }
func (t Array) String() string     { return t.Elem.String() + "[]" }

// validIntrinsic reports whether e may appear as an attribute argument type.
func validIntrinsic(e signature.ElementType) bool {
	return e >= signature.ElemBoolean && e <= signature.ElemString
}

// Classifier tells FromSignature how a class or valuetype token serializes:
// SystemType for System.Type, Enum for enums.
type Classifier func(tok metadata.Token) (SerializationType, error)

// FromSignature maps a constructor parameter type to its serialization type.
func FromSignature(t signature.Type, classify Classifier) (SerializationType, error) {
	switch v := signature.Strip(t).(type) {
	case signature.Intrinsic:
		if v.Kind == signature.ElemObject {
			return Boxed{}, nil
		}
		if validIntrinsic(v.Kind) {
			return Intrinsic{Kind: v.Kind}, nil
		}
	case signature.SzArray:
		elem, err := FromSignature(v.Elem, classify)
		if err != nil {
			return nil, err
		}
		if _, nested := elem.(Array); nested {
			return nil, errors.Unsupported(errors.PhaseSignature, "nested array attribute argument")
		}
		return Array{Elem: elem}, nil
	case signature.TypeDefOrRef:
		if classify == nil {
			return nil, errors.Unsupported(errors.PhaseSignature, "class attribute argument without classifier")
		}
		return classify(v.Token)
	}
	return nil, errors.InvalidInput(errors.PhaseSignature,
		fmt.Sprintf("type %s cannot be an attribute argument", signature.Format(t, signature.TokenNamer{})))
}
