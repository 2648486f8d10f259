package marshal

import (
	"strconv"
	"strings"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
)

// Type is a decoded marshaling descriptor. Every variant can re-encode itself
// and render as the body of an ilasm marshal(...) clause.
type Type interface {
	Native() NativeType
	encode(w *binary.Writer) error
	String() string
}

// Intrinsic is a descriptor with no operands.
type Intrinsic struct {
	Kind NativeType
}

// Array is a variable-length native array. Absent operands are -1.
// HasElem is false only for a descriptor that ends after its lead byte.
type Array struct {
	Elem    NativeType
	HasElem bool
	// AdditionalSizeParameter is the ParamNum operand.
	AdditionalSizeParameter int32
	// FixedArraySize is the NumElem operand.
	FixedArraySize int32
	Flags          uint32
	HasFlags       bool
}

// FixedArray is an inline array of Size elements.
type FixedArray struct {
	Size    uint32
	Elem    NativeType
	HasElem bool
}

// FixedSysString is an inline character buffer of Size characters.
type FixedSysString struct {
	Size uint32
}

// SafeArray is an OLE SAFEARRAY of VarType elements.
type SafeArray struct {
	UserDefinedSubType string
	VarType            VarEnum
	HasVarType         bool
	HasSubType         bool
}

// Interface is an interface pointer, optionally with an iid_is parameter.
type Interface struct {
	Kind              NativeType
	IIDParameterIndex uint32
	HasIIDParameter   bool
}

// CustomMarshaler names an ICustomMarshaler implementation.
type CustomMarshaler struct {
	GUID          string
	UnmanagedType string
	ManagedType   string
	Cookie        string
}

// Raw holds a descriptor this package does not model, kept verbatim.
type Raw struct {
	Bytes []byte
}

func (t Intrinsic) Native() NativeType       { return t.Kind }
func (Array) Native() NativeType             { return NativeArray }
func (FixedArray) Native() NativeType        { return NativeFixedArray }
func (FixedSysString) Native() NativeType    { return NativeFixedSysString }
func (SafeArray) Native() NativeType         { return NativeSafeArray }
func (t Interface) Native() NativeType       { return t.Kind }
func (CustomMarshaler) Native() NativeType   { return NativeCustomMarshaler }
func (t Raw) Native() NativeType {
	if len(t.Bytes) == 0 {
		return 0
	}
	return NativeType(t.Bytes[0])
}

// NewArray returns an array descriptor with both size operands absent.
func NewArray(elem NativeType) Array {
	return Array{Elem: elem, HasElem: true, AdditionalSizeParameter: -1, FixedArraySize: -1}
}

// Size computes the element count for a call: FixedArraySize, plus the value
// of parameter AdditionalSizeParameter-1 when that operand is neither 0 nor
// absent. An absent fixed size counts as 0.
func (a Array) Size(param func(index int) int64) int64 {
	var size int64
	if a.FixedArraySize != -1 {
		size = int64(a.FixedArraySize)
	}
	if a.AdditionalSizeParameter != 0 && a.AdditionalSizeParameter != -1 && param != nil {
		size += param(int(a.AdditionalSizeParameter) - 1)
	}
	return size
}

func (t Intrinsic) String() string { return t.Kind.Keyword() }

// String renders elem[fixed+param]. A zero parameter is not printed when a
// fixed size is present.
func (a Array) String() string {
	var b strings.Builder
	b.WriteString(a.Elem.Keyword())
	b.WriteByte('[')
	if a.FixedArraySize != -1 {
		b.WriteString(strconv.Itoa(int(a.FixedArraySize)))
	}
	if a.AdditionalSizeParameter != -1 && !(a.AdditionalSizeParameter == 0 && a.FixedArraySize != -1) {
		b.WriteByte('+')
		b.WriteString(strconv.Itoa(int(a.AdditionalSizeParameter)))
	}
	b.WriteByte(']')
	return b.String()
}

func (t FixedArray) String() string {
	s := "fixed array [" + strconv.FormatUint(uint64(t.Size), 10) + "]"
	if t.HasElem {
		s += " " + t.Elem.Keyword()
	}
	return s
}

func (t FixedSysString) String() string {
	return "fixed sysstring [" + strconv.FormatUint(uint64(t.Size), 10) + "]"
}

func (t SafeArray) String() string {
	s := "safearray"
	if t.HasVarType {
		if k := t.VarType.Keyword(); k != "" {
			s += " " + k
		}
	}
	if t.HasSubType {
		s += ", " + strconv.Quote(t.UserDefinedSubType)
	}
	return s
}

func (t Interface) String() string {
	s := t.Kind.Keyword()
	if t.HasIIDParameter {
		s += "(iidparam = " + strconv.FormatUint(uint64(t.IIDParameterIndex), 10) + ")"
	}
	return s
}

func (t CustomMarshaler) String() string {
	return "custom (" + strconv.Quote(t.GUID) + ", " + strconv.Quote(t.UnmanagedType) + ", " +
		strconv.Quote(t.ManagedType) + ", " + strconv.Quote(t.Cookie) + ")"
}

func (t Raw) String() string {
	var b strings.Builder
	b.WriteString("/* raw")
	for _, c := range t.Bytes {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(c), 16))
	}
	b.WriteString(" */")
	return b.String()
}

// Decode parses a FieldMarshal.NativeType blob located at base.
func Decode(blob []byte, base int) (Type, error) {
	r := binary.NewReaderAt(blob, base).WithPhase(errors.PhaseSignature)
	lead, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	kind := NativeType(lead)
	var t Type
	switch kind {
	case NativeArray:
		a := NewArray(NativeMax)
		a.HasElem = false
		if r.Remaining() > 0 {
			b, _ := r.ReadByte()
			a.Elem, a.HasElem = NativeType(b), true
		}
		if r.Remaining() > 0 {
			v, err := r.ReadCompressedUint()
			if err != nil {
				return nil, err
			}
			a.AdditionalSizeParameter = int32(v)
		}
		if r.Remaining() > 0 {
			v, err := r.ReadCompressedUint()
			if err != nil {
				return nil, err
			}
			a.FixedArraySize = int32(v)
		}
		if r.Remaining() > 0 {
			if a.Flags, err = r.ReadCompressedUint(); err != nil {
				return nil, err
			}
			a.HasFlags = true
		}
		t = a

	case NativeFixedArray:
		f := FixedArray{}
		if f.Size, err = r.ReadCompressedUint(); err != nil {
			return nil, err
		}
		if r.Remaining() > 0 {
			b, _ := r.ReadByte()
			f.Elem, f.HasElem = NativeType(b), true
		}
		t = f

	case NativeFixedSysString:
		f := FixedSysString{}
		if f.Size, err = r.ReadCompressedUint(); err != nil {
			return nil, err
		}
		t = f

	case NativeSafeArray:
		s := SafeArray{}
		if r.Remaining() > 0 {
			v, err := r.ReadCompressedUint()
			if err != nil {
				return nil, err
			}
			s.VarType, s.HasVarType = VarEnum(v), true
		}
		if r.Remaining() > 0 {
			str, null, err := r.ReadSerString()
			if err != nil {
				return nil, err
			}
			s.UserDefinedSubType, s.HasSubType = str, !null
		}
		t = s

	case NativeIUnknown, NativeIDispatch, NativeInterface, NativeIInspectable:
		i := Interface{Kind: kind}
		if r.Remaining() > 0 {
			if i.IIDParameterIndex, err = r.ReadCompressedUint(); err != nil {
				return nil, err
			}
			i.HasIIDParameter = true
		}
		t = i

	case NativeCustomMarshaler:
		c := CustomMarshaler{}
		for _, dst := range []*string{&c.GUID, &c.UnmanagedType, &c.ManagedType, &c.Cookie} {
			s, _, err := r.ReadSerString()
			if err != nil {
				return nil, err
			}
			*dst = s
		}
		t = c

	default:
		if _, ok := nativeKeywords[kind]; ok && r.Remaining() == 0 {
			return Intrinsic{Kind: kind}, nil
		}
		return Raw{Bytes: append([]byte(nil), blob...)}, nil
	}

	if r.Remaining() != 0 {
		return nil, errors.InvalidData(errors.PhaseSignature, r.Position(), "trailing bytes in marshal descriptor")
	}
	return t, nil
}

// Encode returns the blob encoding of t.
func Encode(t Type) ([]byte, error) {
	w := binary.NewWriter()
	if err := t.encode(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (t Intrinsic) encode(w *binary.Writer) error {
	w.Byte(byte(t.Kind))
	return nil
}

func (a Array) encode(w *binary.Writer) error {
	w.Byte(byte(NativeArray))
	bare := a.AdditionalSizeParameter == -1 && a.FixedArraySize == -1 && !a.HasFlags
	if bare && !a.HasElem {
		return nil
	}
	w.Byte(byte(a.Elem))
	if bare {
		return nil
	}
	param := a.AdditionalSizeParameter
	if param == -1 {
		param = 0
	}
	if err := w.WriteCompressedUint(uint32(param)); err != nil {
		return err
	}
	if a.FixedArraySize == -1 && !a.HasFlags {
		return nil
	}
	fixed := a.FixedArraySize
	if fixed == -1 {
		fixed = 0
	}
	if err := w.WriteCompressedUint(uint32(fixed)); err != nil {
		return err
	}
	if a.HasFlags {
		return w.WriteCompressedUint(a.Flags)
	}
	return nil
}

func (t FixedArray) encode(w *binary.Writer) error {
	w.Byte(byte(NativeFixedArray))
	if err := w.WriteCompressedUint(t.Size); err != nil {
		return err
	}
	if t.HasElem {
		w.Byte(byte(t.Elem))
	}
	return nil
}

func (t FixedSysString) encode(w *binary.Writer) error {
	w.Byte(byte(NativeFixedSysString))
	return w.WriteCompressedUint(t.Size)
}

func (t SafeArray) encode(w *binary.Writer) error {
	w.Byte(byte(NativeSafeArray))
	if !t.HasVarType && !t.HasSubType {
		return nil
	}
	if err := w.WriteCompressedUint(uint32(t.VarType)); err != nil {
		return err
	}
	if t.HasSubType {
		return w.WriteSerString(t.UserDefinedSubType, false)
	}
	return nil
}

func (t Interface) encode(w *binary.Writer) error {
	w.Byte(byte(t.Kind))
	if t.HasIIDParameter {
		return w.WriteCompressedUint(t.IIDParameterIndex)
	}
	return nil
}

func (t CustomMarshaler) encode(w *binary.Writer) error {
	w.Byte(byte(NativeCustomMarshaler))
	for _, s := range []string{t.GUID, t.UnmanagedType, t.ManagedType, t.Cookie} {
		if err := w.WriteSerString(s, false); err != nil {
			return err
		}
	}
	return nil
}

func (t Raw) encode(w *binary.Writer) error {
	w.WriteBytes(t.Bytes)
	return nil
}
