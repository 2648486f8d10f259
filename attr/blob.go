package attr

import (
	"fmt"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
	"github.com/wippyai/ilweave/signature"
)

// Prolog is the leading u16 of every custom attribute blob.
const Prolog uint16 = 0x0001

const (
	namedField    = byte(signature.ElemField)
	namedProperty = byte(signature.ElemProperty)
	nullArray     = 0xFFFFFFFF
)

// Value is one decoded argument. Value holds bool, uint16 (char), the sized
// integer and float types, string, []Value for arrays, or Value for boxed
// arguments. A nil Value is a null string, type or array.
type Value struct {
	Type  SerializationType
	Value any
}

// NamedArg is a field or property assignment.
type NamedArg struct {
	Name    string
	Value   Value
	IsField bool
}

// Blob is a decoded custom attribute value.
type Blob struct {
	Fixed []Value
	Named []NamedArg
}

// EnumLookup returns the underlying type of an enum named in a blob.
type EnumLookup func(name string) (signature.ElementType, error)

type decoder struct {
	r     *binary.Reader
	enums EnumLookup
}

// Decode parses blob against the constructor's parameter types. enums may be
// nil when the blob names no enum types.
func Decode(blob []byte, base int, params []SerializationType, enums EnumLookup) (*Blob, error) {
	d := &decoder{r: binary.NewReaderAt(blob, base).WithPhase(errors.PhaseSignature), enums: enums}
	prolog, err := d.r.ReadU16()
	if err != nil {
		return nil, err
	}
	if prolog != Prolog {
		return nil, errors.SignatureGrammar(base, fmt.Sprintf("custom attribute prolog 0x%04x", prolog))
	}

	out := &Blob{}
	for _, p := range params {
		v, err := d.value(p)
		if err != nil {
			return nil, err
		}
		out.Fixed = append(out.Fixed, v)
	}

	n, err := d.r.ReadU16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		kind, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if kind != namedField && kind != namedProperty {
			return nil, errors.SignatureGrammar(d.r.Position()-1, fmt.Sprintf("named argument kind 0x%02x", kind))
		}
		typ, err := d.fieldOrPropType()
		if err != nil {
			return nil, err
		}
		name, _, err := d.r.ReadSerString()
		if err != nil {
			return nil, err
		}
		v, err := d.value(typ)
		if err != nil {
			return nil, err
		}
		out.Named = append(out.Named, NamedArg{Name: name, Value: v, IsField: kind == namedField})
	}
	if d.r.Remaining() != 0 {
		return nil, errors.SignatureGrammar(d.r.Position(), "trailing bytes in custom attribute blob")
	}
	return out, nil
}

func (d *decoder) fieldOrPropType() (SerializationType, error) {
	pos := d.r.Position()
	b, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	e := signature.ElementType(b)
	switch {
	case validIntrinsic(e):
		return Intrinsic{Kind: e}, nil
	case e == signature.ElemSystemType:
		return SystemType{}, nil
	case e == signature.ElemBoxed:
		return Boxed{}, nil
	case e == signature.ElemSzArray:
		elem, err := d.fieldOrPropType()
		if err != nil {
			return nil, err
		}
		return Array{Elem: elem}, nil
	case e == signature.ElemEnum:
		name, _, err := d.r.ReadSerString()
		if err != nil {
			return nil, err
		}
		if d.enums == nil {
			return nil, errors.Unresolved(errors.PhaseSignature, 0, "enum "+name, nil)
		}
		u, err := d.enums(name)
		if err != nil {
			return nil, err
		}
		return Enum{Name: name, Underlying: u}, nil
	}
	return nil, errors.SignatureGrammar(pos, fmt.Sprintf("invalid serialization type 0x%02x", b))
}

func (d *decoder) value(t SerializationType) (Value, error) {
	switch v := t.(type) {
	case Intrinsic:
		x, err := d.primitive(v.Kind)
		return Value{Type: t, Value: x}, err
	case Enum:
		x, err := d.primitive(v.Underlying)
		return Value{Type: t, Value: x}, err
	case SystemType:
		s, null, err := d.r.ReadSerString()
		if err != nil || null {
			return Value{Type: t}, err
		}
		return Value{Type: t, Value: s}, nil
	case Boxed:
		inner, err := d.fieldOrPropType()
		if err != nil {
			return Value{}, err
		}
		x, err := d.value(inner)
		if err != nil {
			return Value{}, err
		}
		return Value{Type: t, Value: x}, nil
	case Array:
		n, err := d.r.ReadU32()
		if err != nil {
			return Value{}, err
		}
		if n == nullArray {
			return Value{Type: t}, nil
		}
		if int64(n) > int64(d.r.Remaining()) {
			return Value{}, errors.SignatureGrammar(d.r.Position()-4, fmt.Sprintf("array of %d elements exceeds blob", n))
		}
		elems := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			e, err := d.value(v.Elem)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, e)
		}
		return Value{Type: t, Value: elems}, nil
	}
	return Value{}, errors.InvalidInput(errors.PhaseSignature, fmt.Sprintf("unknown serialization type %T", t))
}

func (d *decoder) primitive(e signature.ElementType) (any, error) {
	r := d.r
	switch e {
	case signature.ElemBoolean:
		b, err := r.ReadByte()
		return b != 0, err
	case signature.ElemChar:
		return r.ReadU16()
	case signature.ElemI1:
		b, err := r.ReadByte()
		return int8(b), err
	case signature.ElemU1:
		return r.ReadByte()
	case signature.ElemI2:
		v, err := r.ReadU16()
		return int16(v), err
	case signature.ElemU2:
		return r.ReadU16()
	case signature.ElemI4:
		v, err := r.ReadU32()
		return int32(v), err
	case signature.ElemU4:
		return r.ReadU32()
	case signature.ElemI8:
		v, err := r.ReadU64()
		return int64(v), err
	case signature.ElemU8:
		return r.ReadU64()
	case signature.ElemR4:
		return r.ReadF32()
	case signature.ElemR8:
		return r.ReadF64()
	case signature.ElemString:
		s, null, err := r.ReadSerString()
		if err != nil || null {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.SignatureGrammar(r.Position(), fmt.Sprintf("element type 0x%02x is not serializable", byte(e)))
}

// Encode emits the blob for b. Fixed argument types come from each Value.
func Encode(b *Blob) ([]byte, error) {
	w := binary.NewWriter()
	w.WriteU16(Prolog)
	for _, v := range b.Fixed {
		if err := encodeValue(w, v); err != nil {
			return nil, err
		}
	}
	w.WriteU16(uint16(len(b.Named)))
	for _, n := range b.Named {
		if n.IsField {
			w.Byte(namedField)
		} else {
			w.Byte(namedProperty)
		}
		if err := encodeType(w, n.Value.Type); err != nil {
			return nil, err
		}
		if err := w.WriteSerString(n.Name, false); err != nil {
			return nil, err
		}
		if err := encodeValue(w, n.Value); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func encodeType(w *binary.Writer, t SerializationType) error {
	w.Byte(byte(t.Tag()))
	switch v := t.(type) {
	case Array:
		return encodeType(w, v.Elem)
	case Enum:
		return w.WriteSerString(v.Name, false)
	}
	return nil
}

func encodeValue(w *binary.Writer, v Value) error {
	switch t := v.Type.(type) {
	case Intrinsic:
		return encodePrimitive(w, t.Kind, v.Value)
	case Enum:
		return encodePrimitive(w, t.Underlying, v.Value)
	case SystemType:
		s, ok := v.Value.(string)
		return w.WriteSerString(s, !ok)
	case Boxed:
		inner, ok := v.Value.(Value)
		if !ok {
			return mismatch(t, v.Value)
		}
		if err := encodeType(w, inner.Type); err != nil {
			return err
		}
		return encodeValue(w, inner)
	case Array:
		if v.Value == nil {
			w.WriteU32(nullArray)
			return nil
		}
		elems, ok := v.Value.([]Value)
		if !ok {
			return mismatch(t, v.Value)
		}
		w.WriteU32(uint32(len(elems)))
		for _, e := range elems {
			if e.Type == nil {
				e.Type = t.Elem
			}
			if err := encodeValue(w, e); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.InvalidInput(errors.PhaseSignature, fmt.Sprintf("unknown serialization type %T", v.Type))
}

func encodePrimitive(w *binary.Writer, e signature.ElementType, x any) error {
	switch e {
	case signature.ElemString:
		s, ok := x.(string)
		if !ok && x != nil {
			return mismatch(Intrinsic{Kind: e}, x)
		}
		return w.WriteSerString(s, !ok)
	case signature.ElemR4:
		f, ok := x.(float32)
		if !ok {
			return mismatch(Intrinsic{Kind: e}, x)
		}
		w.WriteF32(f)
		return nil
	case signature.ElemR8:
		f, ok := x.(float64)
		if !ok {
			return mismatch(Intrinsic{Kind: e}, x)
		}
		w.WriteF64(f)
		return nil
	case signature.ElemBoolean:
		b, ok := x.(bool)
		if !ok {
			return mismatch(Intrinsic{Kind: e}, x)
		}
		if b {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
		return nil
	}

	u, ok := integerBits(x)
	if !ok {
		return mismatch(Intrinsic{Kind: e}, x)
	}
	switch e {
	case signature.ElemI1, signature.ElemU1:
		w.Byte(byte(u))
	case signature.ElemChar, signature.ElemI2, signature.ElemU2:
		w.WriteU16(uint16(u))
	case signature.ElemI4, signature.ElemU4:
		w.WriteU32(uint32(u))
	case signature.ElemI8, signature.ElemU8:
		w.WriteU64(u)
	default:
		return errors.InvalidInput(errors.PhaseSignature, fmt.Sprintf("element type 0x%02x is not serializable", byte(e)))
	}
	return nil
}

func integerBits(x any) (uint64, bool) {
	switch v := x.(type) {
	case int8:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case int16:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case int32:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case int64:
		return uint64(v), true
	case uint64:
		return v, true
	case int:
		return uint64(v), true
	}
	return 0, false
}

func mismatch(t SerializationType, x any) error {
	return errors.InvalidInput(errors.PhaseSignature, fmt.Sprintf("value %v (%T) does not match %s", x, x, t))
}
