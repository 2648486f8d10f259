package signature

import (
	"fmt"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
	"github.com/wippyai/ilweave/metadata"
)

// Encoder writes signatures. It is the exact inverse of Decoder for
// canonically encoded input.
type Encoder struct {
	w *binary.Writer
}

// NewEncoder returns an encoder with an empty buffer.
func NewEncoder() *Encoder {
	return &Encoder{w: binary.NewWriter()}
}

// Bytes returns the encoded blob.
func (e *Encoder) Bytes() []byte { return e.w.Bytes() }

// EncodeType encodes a standalone type signature.
func EncodeType(t Type) ([]byte, error) {
	e := NewEncoder()
	if err := e.Type(t); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeMethod encodes a method signature.
func EncodeMethod(m *MethodSig) ([]byte, error) {
	e := NewEncoder()
	if err := e.Method(m); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeField encodes a field signature.
func EncodeField(f *FieldSig) ([]byte, error) {
	e := NewEncoder()
	e.w.Byte(byte(CallField))
	if err := e.Type(f.Type); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeProperty encodes a property signature.
func EncodeProperty(p *PropertySig) ([]byte, error) {
	e := NewEncoder()
	cc := CallProperty
	if p.HasThis {
		cc |= CallHasThis
	}
	e.w.Byte(byte(cc))
	if err := e.count(len(p.Params)); err != nil {
		return nil, err
	}
	if err := e.Type(p.Type); err != nil {
		return nil, err
	}
	if err := e.types(p.Params); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeLocals encodes a LocalVarSig.
func EncodeLocals(l *LocalVarSig) ([]byte, error) {
	e := NewEncoder()
	e.w.Byte(byte(CallLocalSig))
	if err := e.count(len(l.Locals)); err != nil {
		return nil, err
	}
	if err := e.types(l.Locals); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// EncodeMethodSpec encodes a generic method instantiation.
func EncodeMethodSpec(s *MethodSpecSig) ([]byte, error) {
	e := NewEncoder()
	e.w.Byte(byte(CallGenericInst))
	if err := e.count(len(s.Args)); err != nil {
		return nil, err
	}
	if err := e.types(s.Args); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Method encodes a method signature.
func (e *Encoder) Method(m *MethodSig) error {
	cc := m.CallConv
	if m.GenParamCount > 0 {
		cc |= CallGeneric
	}
	e.w.Byte(byte(cc))
	if cc.Generic() {
		if err := e.w.WriteCompressedUint(m.GenParamCount); err != nil {
			return err
		}
	}
	if err := e.count(m.ParamCount()); err != nil {
		return err
	}
	if err := e.Type(m.Return); err != nil {
		return err
	}
	if err := e.types(m.Params); err != nil {
		return err
	}
	if m.Sentinel {
		e.w.Byte(byte(ElemSentinel))
		if err := e.types(m.VarArgs); err != nil {
			return err
		}
	}
	return nil
}

// Type encodes one type.
func (e *Encoder) Type(t Type) error {
	switch v := t.(type) {
	case Intrinsic:
		if !v.Kind.IsIntrinsic() {
			return errors.InvalidInput(errors.PhaseSignature, fmt.Sprintf("0x%02x is not an intrinsic element type", byte(v.Kind)))
		}
		e.w.Byte(byte(v.Kind))
	case TypeDefOrRef:
		e.w.Byte(byte(v.Element()))
		return e.typeToken(v.Token)
	case Pointer:
		e.w.Byte(byte(ElemPtr))
		return e.Type(v.Elem)
	case ByRef:
		e.w.Byte(byte(ElemByRef))
		return e.Type(v.Elem)
	case SzArray:
		e.w.Byte(byte(ElemSzArray))
		return e.Type(v.Elem)
	case Pinned:
		e.w.Byte(byte(ElemPinned))
		return e.Type(v.Elem)
	case GenericParam:
		e.w.Byte(byte(v.Element()))
		return e.w.WriteCompressedUint(v.Index)
	case Array:
		e.w.Byte(byte(ElemArray))
		if err := e.Type(v.Elem); err != nil {
			return err
		}
		if err := e.w.WriteCompressedUint(v.Rank); err != nil {
			return err
		}
		if err := e.count(len(v.Sizes)); err != nil {
			return err
		}
		for _, s := range v.Sizes {
			if err := e.w.WriteCompressedUint(s); err != nil {
				return err
			}
		}
		if err := e.count(len(v.LoBounds)); err != nil {
			return err
		}
		for _, lb := range v.LoBounds {
			if err := e.w.WriteCompressedInt(lb); err != nil {
				return err
			}
		}
	case GenericInstance:
		e.w.Byte(byte(ElemGenericInst))
		e.w.Byte(byte(v.Generic.Element()))
		if err := e.typeToken(v.Generic.Token); err != nil {
			return err
		}
		if err := e.count(len(v.Args)); err != nil {
			return err
		}
		return e.types(v.Args)
	case FunctionPointer:
		e.w.Byte(byte(ElemFnPtr))
		return e.Method(v.Method)
	case Modified:
		e.w.Byte(byte(v.Element()))
		if err := e.typeToken(v.Modifier); err != nil {
			return err
		}
		return e.Type(v.Elem)
	case nil:
		return errors.InvalidInput(errors.PhaseSignature, "nil type in signature")
	default:
		return errors.InvalidInput(errors.PhaseSignature, fmt.Sprintf("unknown signature node %T", t))
	}
	return nil
}

func (e *Encoder) types(ts []Type) error {
	for _, t := range ts {
		if err := e.Type(t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) count(n int) error {
	return e.w.WriteCompressedUint(uint32(n))
}

func (e *Encoder) typeToken(tok metadata.Token) error {
	v, err := metadata.Coded(metadata.CodedTypeDefOrRef).Encode(tok)
	if err != nil {
		return err
	}
	return e.w.WriteCompressedUint(v)
}
