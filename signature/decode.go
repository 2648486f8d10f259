package signature

import (
	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
	"github.com/wippyai/ilweave/metadata"
)

// maxDepth bounds type nesting so hostile blobs cannot exhaust the stack.
const maxDepth = 64

// Decoder reads signatures from one blob. Offsets in errors are absolute when
// the blob's heap position is supplied.
type Decoder struct {
	r     *binary.Reader
	depth int
}

// NewDecoder returns a decoder over blob located at base.
func NewDecoder(blob []byte, base int) *Decoder {
	return &Decoder{r: binary.NewReaderAt(blob, base).WithPhase(errors.PhaseSignature)}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return d.r.Remaining() }

// DecodeType decodes a standalone type signature, such as a TypeSpec blob.
func DecodeType(blob []byte, base int) (Type, error) {
	d := NewDecoder(blob, base)
	t, err := d.Type()
	if err != nil {
		return nil, err
	}
	return t, d.end()
}

// DecodeMethod decodes a method signature blob.
func DecodeMethod(blob []byte, base int) (*MethodSig, error) {
	d := NewDecoder(blob, base)
	m, err := d.Method()
	if err != nil {
		return nil, err
	}
	return m, d.end()
}

// DecodeField decodes a field signature blob.
func DecodeField(blob []byte, base int) (*FieldSig, error) {
	d := NewDecoder(blob, base)
	cc, err := d.callConv()
	if err != nil {
		return nil, err
	}
	if cc.Kind() != CallField {
		return nil, d.fail(-1, "field signature starts with 0x%02x", byte(cc))
	}
	t, err := d.Type()
	if err != nil {
		return nil, err
	}
	return &FieldSig{Type: t}, d.end()
}

// DecodeProperty decodes a property signature blob.
func DecodeProperty(blob []byte, base int) (*PropertySig, error) {
	d := NewDecoder(blob, base)
	cc, err := d.callConv()
	if err != nil {
		return nil, err
	}
	if cc.Kind() != CallProperty {
		return nil, d.fail(-1, "property signature starts with 0x%02x", byte(cc))
	}
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	p := &PropertySig{HasThis: cc.HasThis()}
	if p.Type, err = d.Type(); err != nil {
		return nil, err
	}
	if p.Params, err = d.types(n); err != nil {
		return nil, err
	}
	return p, d.end()
}

// DecodeLocals decodes a LocalVarSig blob.
func DecodeLocals(blob []byte, base int) (*LocalVarSig, error) {
	d := NewDecoder(blob, base)
	cc, err := d.callConv()
	if err != nil {
		return nil, err
	}
	if cc != CallLocalSig {
		return nil, d.fail(-1, "local signature starts with 0x%02x", byte(cc))
	}
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	locals, err := d.types(n)
	if err != nil {
		return nil, err
	}
	return &LocalVarSig{Locals: locals}, d.end()
}

// DecodeMethodSpec decodes a MethodSpec instantiation blob.
func DecodeMethodSpec(blob []byte, base int) (*MethodSpecSig, error) {
	d := NewDecoder(blob, base)
	cc, err := d.callConv()
	if err != nil {
		return nil, err
	}
	if cc != CallGenericInst {
		return nil, d.fail(-1, "method spec signature starts with 0x%02x", byte(cc))
	}
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	args, err := d.types(n)
	if err != nil {
		return nil, err
	}
	return &MethodSpecSig{Args: args}, d.end()
}

// Kind peeks at the calling convention of a blob without decoding it.
func Kind(blob []byte) (CallingConvention, bool) {
	if len(blob) == 0 {
		return 0, false
	}
	return CallingConvention(blob[0]), true
}

// Method decodes a method signature at the cursor.
func (d *Decoder) Method() (*MethodSig, error) {
	cc, err := d.callConv()
	if err != nil {
		return nil, err
	}
	switch cc.Kind() {
	case CallField, CallLocalSig, CallProperty, CallGenericInst:
		return nil, d.fail(-1, "method signature starts with 0x%02x", byte(cc))
	}
	m := &MethodSig{CallConv: cc}
	if cc.Generic() {
		if m.GenParamCount, err = d.count(); err != nil {
			return nil, err
		}
	}
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	if m.Return, err = d.Type(); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		b, err := d.r.PeekByte()
		if err != nil {
			return nil, d.wrap(err)
		}
		if ElementType(b) == ElemSentinel {
			if m.Sentinel {
				return nil, d.fail(0, "duplicate sentinel")
			}
			_, _ = d.r.ReadByte()
			m.Sentinel = true
		}
		t, err := d.Type()
		if err != nil {
			return nil, err
		}
		if m.Sentinel {
			m.VarArgs = append(m.VarArgs, t)
		} else {
			m.Params = append(m.Params, t)
		}
	}
	return m, nil
}

// Type decodes one type at the cursor, consuming exactly its grammar span.
func (d *Decoder) Type() (Type, error) {
	d.depth++
	defer func() { d.depth-- }()
	if d.depth > maxDepth {
		return nil, d.fail(0, "type nesting exceeds %d", maxDepth)
	}

	b, err := d.r.ReadByte()
	if err != nil {
		return nil, d.wrap(err)
	}
	e := ElementType(b)
	if e.IsIntrinsic() {
		return Intrinsic{Kind: e}, nil
	}

	switch e {
	case ElemClass, ElemValueType:
		tok, err := d.typeToken()
		if err != nil {
			return nil, err
		}
		return TypeDefOrRef{Token: tok, ValueType: e == ElemValueType}, nil

	case ElemPtr:
		inner, err := d.Type()
		if err != nil {
			return nil, err
		}
		return Pointer{Elem: inner}, nil

	case ElemByRef:
		inner, err := d.Type()
		if err != nil {
			return nil, err
		}
		return ByRef{Elem: inner}, nil

	case ElemSzArray:
		inner, err := d.Type()
		if err != nil {
			return nil, err
		}
		return SzArray{Elem: inner}, nil

	case ElemPinned:
		inner, err := d.Type()
		if err != nil {
			return nil, err
		}
		return Pinned{Elem: inner}, nil

	case ElemVar, ElemMVar:
		idx, err := d.count()
		if err != nil {
			return nil, err
		}
		return GenericParam{Index: idx, Method: e == ElemMVar}, nil

	case ElemArray:
		return d.array()

	case ElemGenericInst:
		return d.genericInst()

	case ElemFnPtr:
		m, err := d.Method()
		if err != nil {
			return nil, err
		}
		return FunctionPointer{Method: m}, nil

	case ElemCModReqd, ElemCModOpt:
		tok, err := d.typeToken()
		if err != nil {
			return nil, err
		}
		inner, err := d.Type()
		if err != nil {
			return nil, err
		}
		return Modified{Required: e == ElemCModReqd, Modifier: tok, Elem: inner}, nil
	}
	return nil, d.fail(-1, "unexpected element type 0x%02x", b)
}

func (d *Decoder) array() (Type, error) {
	elem, err := d.Type()
	if err != nil {
		return nil, err
	}
	a := Array{Elem: elem}
	if a.Rank, err = d.count(); err != nil {
		return nil, err
	}
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	if n > a.Rank {
		return nil, d.fail(0, "%d sizes for rank %d", n, a.Rank)
	}
	for i := uint32(0); i < n; i++ {
		v, err := d.count()
		if err != nil {
			return nil, err
		}
		a.Sizes = append(a.Sizes, v)
	}
	if n, err = d.count(); err != nil {
		return nil, err
	}
	if n > a.Rank {
		return nil, d.fail(0, "%d lower bounds for rank %d", n, a.Rank)
	}
	for i := uint32(0); i < n; i++ {
		v, err := d.r.ReadCompressedInt()
		if err != nil {
			return nil, d.wrap(err)
		}
		a.LoBounds = append(a.LoBounds, v)
	}
	return a, nil
}

func (d *Decoder) genericInst() (Type, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return nil, d.wrap(err)
	}
	e := ElementType(b)
	if e != ElemClass && e != ElemValueType {
		return nil, d.fail(-1, "generic instance of element type 0x%02x", b)
	}
	tok, err := d.typeToken()
	if err != nil {
		return nil, err
	}
	n, err := d.count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, d.fail(0, "generic instance with no arguments")
	}
	args, err := d.types(n)
	if err != nil {
		return nil, err
	}
	return GenericInstance{Generic: TypeDefOrRef{Token: tok, ValueType: e == ElemValueType}, Args: args}, nil
}

func (d *Decoder) types(n uint32) ([]Type, error) {
	if int(n) > d.r.Remaining() {
		return nil, d.fail(0, "count %d exceeds remaining %d bytes", n, d.r.Remaining())
	}
	out := make([]Type, 0, n)
	for i := uint32(0); i < n; i++ {
		t, err := d.Type()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// typeToken reads a TypeDefOrRefOrSpecEncoded value.
func (d *Decoder) typeToken() (metadata.Token, error) {
	pos := d.r.Position()
	v, err := d.r.ReadCompressedUint()
	if err != nil {
		return 0, d.wrap(err)
	}
	tok, err := metadata.Coded(metadata.CodedTypeDefOrRef).Decode(v)
	if err != nil || tok.IsNil() {
		return 0, errors.New(errors.PhaseSignature, errors.KindSignatureGrammar).
			At(pos).
			Value(v).
			Cause(err).
			Detail("invalid TypeDefOrRefOrSpec encoding 0x%x", v).
			Build()
	}
	return tok, nil
}

func (d *Decoder) callConv() (CallingConvention, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, d.wrap(err)
	}
	return CallingConvention(b), nil
}

func (d *Decoder) count() (uint32, error) {
	v, err := d.r.ReadCompressedUint()
	if err != nil {
		return 0, d.wrap(err)
	}
	return v, nil
}

func (d *Decoder) end() error {
	if d.r.Remaining() != 0 {
		return d.fail(0, "%d trailing bytes", d.r.Remaining())
	}
	return nil
}

// fail reports a grammar error at the cursor, adjusted by rel bytes.
func (d *Decoder) fail(rel int, format string, args ...any) error {
	return errors.New(errors.PhaseSignature, errors.KindSignatureGrammar).
		At(d.r.Position() + rel).
		Detail(format, args...).
		Build()
}

// wrap converts a cursor error (truncation, bad compressed integer) into a
// grammar error at the same offset.
func (d *Decoder) wrap(err error) error {
	e, ok := err.(*errors.Error)
	if !ok {
		return err
	}
	return &errors.Error{
		Phase:  errors.PhaseSignature,
		Kind:   errors.KindSignatureGrammar,
		Offset: e.Offset,
		Detail: "truncated or malformed signature",
		Cause:  e,
	}
}
