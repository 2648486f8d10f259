package model

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/ilweave/errors"
	ibinary "github.com/wippyai/ilweave/internal/binary"
	"github.com/wippyai/ilweave/il"
	"github.com/wippyai/ilweave/marshal"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

// Member attribute bits used by the model.
const (
	FieldStatic       uint16 = 0x0010
	FieldLiteral      uint16 = 0x0040
	FieldHasFieldRVA  uint16 = 0x0100
	FieldPublic       uint16 = 0x0006
	FieldPrivate      uint16 = 0x0001
	MethodStatic      uint16 = 0x0010
	MethodVirtual     uint16 = 0x0040
	MethodAbstract    uint16 = 0x0400
	MethodPublic      uint16 = 0x0006
	MethodPrivate     uint16 = 0x0001
	MethodHideBySig   uint16 = 0x0080
	MethodSpecialName uint16 = 0x0800
	MethodRTSpecial   uint16 = 0x1000
	MethodPInvokeImpl uint16 = 0x2000
	ImplRuntime       uint16 = 0x0003
	ImplInternalCall  uint16 = 0x1000
	ParamIn           uint16 = 0x0001
	ParamOut          uint16 = 0x0002
	ParamOptional     uint16 = 0x0010
	ParamHasDefault   uint16 = 0x1000
)

// MethodSemantics kinds.
const (
	SemanticSetter   uint16 = 0x0001
	SemanticGetter   uint16 = 0x0002
	SemanticOther    uint16 = 0x0004
	SemanticAddOn    uint16 = 0x0008
	SemanticRemoveOn uint16 = 0x0010
	SemanticFire     uint16 = 0x0020
)

// Constant is a literal default value of a field, parameter or property.
type Constant struct {
	Type  signature.ElementType
	Value []byte
}

// Literal decodes the value: bool, uint16 for char, sized integers and
// floats, string, or nil for a null reference.
func (c *Constant) Literal() (any, error) {
	need := map[signature.ElementType]int{
		signature.ElemBoolean: 1, signature.ElemI1: 1, signature.ElemU1: 1,
		signature.ElemChar: 2, signature.ElemI2: 2, signature.ElemU2: 2,
		signature.ElemI4: 4, signature.ElemU4: 4, signature.ElemR4: 4,
		signature.ElemI8: 8, signature.ElemU8: 8, signature.ElemR8: 8,
		signature.ElemClass: 4,
	}
	if n, ok := need[c.Type]; ok && len(c.Value) < n {
		return nil, errors.Truncated(errors.PhaseDecode, int(errors.NoOffset), n, len(c.Value))
	}
	v := c.Value
	le := binary.LittleEndian
	switch c.Type {
	case signature.ElemBoolean:
		return v[0] != 0, nil
	case signature.ElemChar:
		return le.Uint16(v), nil
	case signature.ElemI1:
		return int8(v[0]), nil
	case signature.ElemU1:
		return v[0], nil
	case signature.ElemI2:
		return int16(le.Uint16(v)), nil
	case signature.ElemU2:
		return le.Uint16(v), nil
	case signature.ElemI4:
		return int32(le.Uint32(v)), nil
	case signature.ElemU4:
		return le.Uint32(v), nil
	case signature.ElemI8:
		return int64(le.Uint64(v)), nil
	case signature.ElemU8:
		return le.Uint64(v), nil
	case signature.ElemR4:
		return math.Float32frombits(le.Uint32(v)), nil
	case signature.ElemR8:
		return math.Float64frombits(le.Uint64(v)), nil
	case signature.ElemString:
		return ibinary.DecodeUTF16(v)
	case signature.ElemClass:
		return nil, nil
	}
	return nil, errors.InvalidData(errors.PhaseDecode, int(errors.NoOffset), "constant of type "+c.Type.String())
}

// PInvokeInfo is an ImplMap row: the native import behind a method.
type PInvokeInfo struct {
	Flags      uint16
	ImportName string
	// Scope is the ModuleRef naming the native library.
	Scope metadata.Token
}

// Semantic ties an accessor method to a property or event.
type Semantic struct {
	Kind   uint16
	Method metadata.Token
}

// FieldDef is a field of a TypeDef.
type FieldDef struct {
	attributed
	name  string
	flags uint16

	Signature *signature.FieldSig
	Constant  *Constant
	Marshal   marshal.Type
	// Offset is the explicit layout offset, nil when the type has none.
	Offset  *uint32
	PInvoke *PInvokeInfo

	declaring metadata.Token
	rva       uint32
	initial   []byte
	hasData   bool
}

// NewFieldDef returns a detached field.
func NewFieldDef(name string, flags uint16, sig *signature.FieldSig) *FieldDef {
	f := &FieldDef{name: name, flags: flags, Signature: sig}
	f.attrsLoaded = true
	return f
}

func (f *FieldDef) fill(row metadata.Row) error {
	m := f.module
	ts := m.tables
	var err error
	f.flags = uint16(row[0])
	if f.name, err = m.str(row[1]); err != nil {
		return err
	}
	blob, base, err := m.blob(row[2])
	if err != nil {
		return err
	}
	if f.Signature, err = signature.DecodeField(blob, base); err != nil {
		return err
	}
	if f.Constant, err = m.constant(f.token); err != nil {
		return err
	}
	if f.Marshal, err = m.marshalOf(f.token); err != nil {
		return err
	}
	rid := f.token.RID()
	if r := ts.FindRow(metadata.TableFieldLayout, 1, rid); r != 0 {
		off := ts.Value(metadata.TableFieldLayout, r, 0)
		f.Offset = &off
	}
	if r := ts.FindRow(metadata.TableFieldRVA, 1, rid); r != 0 {
		f.rva = ts.Value(metadata.TableFieldRVA, r, 0)
	}
	f.PInvoke, err = m.pinvoke(f.token)
	return err
}

// Name returns the field name.
func (f *FieldDef) Name() string { return f.name }

// Attributes returns the FieldAttributes flags.
func (f *FieldDef) Attributes() uint16 { return f.flags }

// IsStatic reports the static flag.
func (f *FieldDef) IsStatic() bool { return f.flags&FieldStatic != 0 }

// SetName renames the field.
func (f *FieldDef) SetName(name string) error {
	if err := f.mutable(); err != nil {
		return err
	}
	f.name = name
	return nil
}

// SetAttributes replaces the FieldAttributes flags.
func (f *FieldDef) SetAttributes(flags uint16) error {
	if err := f.mutable(); err != nil {
		return err
	}
	f.flags = flags
	return nil
}

// DeclaringType returns the type that owns the field.
func (f *FieldDef) DeclaringType() (*TypeDef, error) {
	if f.declaring.IsNil() && f.loaded() {
		owner, err := f.module.ownerOf(metadata.TableTypeDef, 4, metadata.TableField, f.token.RID())
		if err != nil {
			return nil, err
		}
		f.declaring = owner
	}
	if f.declaring.IsNil() {
		return nil, nil
	}
	return resolveAs[*TypeDef](f.module, f.declaring)
}

// InitialValue returns the data a FieldRVA row points at, or nil.
func (f *FieldDef) InitialValue() ([]byte, error) {
	if f.hasData || f.rva == 0 || f.module.image == nil {
		return f.initial, nil
	}
	size, err := f.module.dataSize(f.Signature.Type)
	if err != nil {
		return nil, err
	}
	data, _, err := f.module.image.Slice(f.rva, size)
	if err != nil {
		return nil, err
	}
	f.initial, f.hasData = data, true
	return data, nil
}

// SetInitialValue replaces the field's mapped data; nil removes it.
func (f *FieldDef) SetInitialValue(data []byte) error {
	if err := f.mutable(); err != nil {
		return err
	}
	f.initial, f.hasData, f.rva = data, true, 0
	return nil
}

// dataSize is the byte size of a field's mapped data.
func (m *Module) dataSize(t signature.Type) (uint32, error) {
	switch v := signature.Strip(t).(type) {
	case signature.Intrinsic:
		switch v.Kind {
		case signature.ElemBoolean, signature.ElemI1, signature.ElemU1:
			return 1, nil
		case signature.ElemChar, signature.ElemI2, signature.ElemU2:
			return 2, nil
		case signature.ElemI4, signature.ElemU4, signature.ElemR4:
			return 4, nil
		case signature.ElemI8, signature.ElemU8, signature.ElemR8:
			return 8, nil
		case signature.ElemI, signature.ElemU:
			if m.image != nil && m.image.PE32Plus {
				return 8, nil
			}
			return 4, nil
		}
	case signature.TypeDefOrRef:
		if v.Token.Table() == metadata.TableTypeDef {
			td, err := resolveAs[*TypeDef](m, v.Token)
			if err != nil {
				return 0, err
			}
			l, err := td.Layout()
			if err != nil {
				return 0, err
			}
			if l != nil && l.ClassSize > 0 {
				return l.ClassSize, nil
			}
		}
	}
	return 0, errors.Unsupported(errors.PhaseResolve, "size of mapped field data of type "+
		signature.Format(t, signature.TokenNamer{}))
}

// MethodDef is a method of a TypeDef. It owns its parameters, generic
// parameters and body; the body is decoded on first access.
type MethodDef struct {
	attributed
	name      string
	flags     uint16
	implFlags uint16

	Signature *signature.MethodSig
	PInvoke   *PInvokeInfo

	declaring metadata.Token
	rva       uint32
	raw       []byte
	rawLoaded bool
	body      *il.Body

	membersLoaded bool
	loading       bool
	params        []*ParameterDef
	genericParams []*GenericParameter
	security      []*PermissionSet
}

// NewMethodDef returns a detached method with no body.
func NewMethodDef(name string, flags, implFlags uint16, sig *signature.MethodSig) *MethodDef {
	md := &MethodDef{name: name, flags: flags, implFlags: implFlags, Signature: sig}
	md.attrsLoaded = true
	md.membersLoaded = true
	md.rawLoaded = true
	return md
}

func (md *MethodDef) fill(row metadata.Row) error {
	m := md.module
	var err error
	md.rva = row[0]
	md.implFlags = uint16(row[1])
	md.flags = uint16(row[2])
	if md.name, err = m.str(row[3]); err != nil {
		return err
	}
	blob, base, err := m.blob(row[4])
	if err != nil {
		return err
	}
	if md.Signature, err = signature.DecodeMethod(blob, base); err != nil {
		return err
	}
	md.PInvoke, err = m.pinvoke(md.token)
	return err
}

// Name returns the method name.
func (md *MethodDef) Name() string { return md.name }

// Attributes returns the MethodAttributes flags.
func (md *MethodDef) Attributes() uint16 { return md.flags }

// ImplAttributes returns the MethodImplAttributes flags.
func (md *MethodDef) ImplAttributes() uint16 { return md.implFlags }

// IsStatic reports the static flag.
func (md *MethodDef) IsStatic() bool { return md.flags&MethodStatic != 0 }

// SetName renames the method.
func (md *MethodDef) SetName(name string) error {
	if err := md.mutable(); err != nil {
		return err
	}
	md.name = name
	return nil
}

// SetAttributes replaces the MethodAttributes flags.
func (md *MethodDef) SetAttributes(flags uint16) error {
	if err := md.mutable(); err != nil {
		return err
	}
	md.flags = flags
	return nil
}

// SetImplAttributes replaces the MethodImplAttributes flags.
func (md *MethodDef) SetImplAttributes(flags uint16) error {
	if err := md.mutable(); err != nil {
		return err
	}
	md.implFlags = flags
	return nil
}

// DeclaringType returns the type that owns the method.
func (md *MethodDef) DeclaringType() (*TypeDef, error) {
	if md.declaring.IsNil() && md.loaded() {
		owner, err := md.module.ownerOf(metadata.TableTypeDef, 5, metadata.TableMethodDef, md.token.RID())
		if err != nil {
			return nil, err
		}
		md.declaring = owner
	}
	if md.declaring.IsNil() {
		return nil, nil
	}
	return resolveAs[*TypeDef](md.module, md.declaring)
}

// FullName returns "Declaring::Name".
func (md *MethodDef) FullName() (string, error) {
	t, err := md.DeclaringType()
	if err != nil || t == nil {
		return md.name, err
	}
	tn, err := t.FullName()
	if err != nil {
		return "", err
	}
	return tn + "::" + md.name, nil
}

// HasBody reports whether the method carries IL.
func (md *MethodDef) HasBody() bool {
	return md.body != nil || md.rva != 0 && md.implFlags&ImplRuntime == 0
}

// RawBody returns the encoded body exactly as loaded, or nil when the method
// has none or its body has been replaced.
func (md *MethodDef) RawBody() ([]byte, error) {
	if md.rawLoaded {
		return md.raw, nil
	}
	if md.rva != 0 && md.implFlags&ImplRuntime == 0 && md.module.image != nil {
		raw, _, err := md.module.image.MethodBody(md.rva)
		if err != nil {
			return nil, err
		}
		md.raw = raw
	}
	md.rawLoaded = true
	return md.raw, nil
}

// Body decodes the IL body on first access. It returns nil for abstract,
// runtime and P/Invoke methods.
func (md *MethodDef) Body() (*il.Body, error) {
	if md.body != nil {
		return md.body, nil
	}
	raw, err := md.RawBody()
	if err != nil || raw == nil {
		return nil, err
	}
	_, off, err := md.module.image.MethodBody(md.rva)
	if err != nil {
		return nil, err
	}
	b, err := il.Decode(raw, off)
	if err != nil {
		return nil, err
	}
	md.body = b
	return b, nil
}

// SetBody replaces the method body; nil removes it.
func (md *MethodDef) SetBody(b *il.Body) error {
	if err := md.mutable(); err != nil {
		return err
	}
	md.body = b
	md.raw, md.rawLoaded, md.rva = nil, true, 0
	return nil
}

func (md *MethodDef) load() error {
	if md.membersLoaded || md.loading {
		return nil
	}
	if !md.loaded() {
		md.membersLoaded = true
		return nil
	}
	md.loading = true
	defer func() { md.loading = false }()

	m := md.module
	var params []*ParameterDef
	err := m.members(metadata.TableMethodDef, md.token.RID(), 5, metadata.TableParam, func(tok metadata.Token) error {
		p, err := resolveAs[*ParameterDef](m, tok)
		if err == nil {
			p.method = md.token
			params = append(params, p)
		}
		return err
	})
	if err != nil {
		return err
	}
	gps, err := m.genericParams(md.token)
	if err != nil {
		return err
	}
	security, err := m.permissionSets(md.token)
	if err != nil {
		return err
	}
	md.params, md.genericParams, md.security = params, gps, security
	md.membersLoaded = true
	return nil
}

// Parameters returns the Param rows, including the return value row
// (Sequence 0) when present.
func (md *MethodDef) Parameters() ([]*ParameterDef, error) {
	if err := md.load(); err != nil {
		return nil, err
	}
	return md.params, nil
}

// GenericParameters returns the method's generic parameters by position.
func (md *MethodDef) GenericParameters() ([]*GenericParameter, error) {
	if err := md.load(); err != nil {
		return nil, err
	}
	return md.genericParams, nil
}

// Security returns the declarative security attached to the method.
func (md *MethodDef) Security() ([]*PermissionSet, error) {
	if err := md.load(); err != nil {
		return nil, err
	}
	return md.security, nil
}

// AddParameter appends a Param row.
func (md *MethodDef) AddParameter(p *ParameterDef) error {
	if err := md.mutable(); err != nil {
		return err
	}
	if err := md.load(); err != nil {
		return err
	}
	if md.module != nil {
		if err := md.module.adopt(p, metadata.TableParam); err != nil {
			return err
		}
	}
	p.method = md.token
	md.params = append(md.params, p)
	return nil
}

// AddGenericParameter appends a method generic parameter named name.
func (md *MethodDef) AddGenericParameter(name string) (*GenericParameter, error) {
	if err := md.mutable(); err != nil {
		return nil, err
	}
	if err := md.load(); err != nil {
		return nil, err
	}
	gp := &GenericParameter{Number: uint16(len(md.genericParams)), Name: name, Owner: md.token}
	gp.attrsLoaded = true
	gp.constraintsLoaded = true
	if md.module != nil {
		if err := md.module.adopt(gp, metadata.TableGenericParam); err != nil {
			return nil, err
		}
	}
	md.genericParams = append(md.genericParams, gp)
	return gp, nil
}

// ParameterDef is a Param row: name, flags and position of one parameter.
// Sequence 0 describes the return value.
type ParameterDef struct {
	attributed
	name     string
	flags    uint16
	Sequence uint16
	Constant *Constant
	Marshal  marshal.Type
	method   metadata.Token
}

// NewParameterDef returns a detached parameter.
func NewParameterDef(name string, flags, sequence uint16) *ParameterDef {
	p := &ParameterDef{name: name, flags: flags, Sequence: sequence}
	p.attrsLoaded = true
	return p
}

func (p *ParameterDef) fill(row metadata.Row) error {
	m := p.module
	var err error
	p.flags = uint16(row[0])
	p.Sequence = uint16(row[1])
	if p.name, err = m.str(row[2]); err != nil {
		return err
	}
	if p.Constant, err = m.constant(p.token); err != nil {
		return err
	}
	p.Marshal, err = m.marshalOf(p.token)
	return err
}

// Name returns the parameter name.
func (p *ParameterDef) Name() string { return p.name }

// Attributes returns the ParamAttributes flags.
func (p *ParameterDef) Attributes() uint16 { return p.flags }

// SetName renames the parameter.
func (p *ParameterDef) SetName(name string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.name = name
	return nil
}

// SetAttributes replaces the ParamAttributes flags.
func (p *ParameterDef) SetAttributes(flags uint16) error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.flags = flags
	return nil
}

// PropertyDef is a property of a TypeDef.
type PropertyDef struct {
	attributed
	name      string
	flags     uint16
	Signature *signature.PropertySig
	Constant  *Constant
	// Semantics lists the accessors in MethodSemantics row order.
	Semantics []Semantic
	declaring metadata.Token
}

// NewPropertyDef returns a detached property.
func NewPropertyDef(name string, flags uint16, sig *signature.PropertySig) *PropertyDef {
	p := &PropertyDef{name: name, flags: flags, Signature: sig}
	p.attrsLoaded = true
	return p
}

func (p *PropertyDef) fill(row metadata.Row) error {
	m := p.module
	var err error
	p.flags = uint16(row[0])
	if p.name, err = m.str(row[1]); err != nil {
		return err
	}
	blob, base, err := m.blob(row[2])
	if err != nil {
		return err
	}
	if p.Signature, err = signature.DecodeProperty(blob, base); err != nil {
		return err
	}
	if p.Constant, err = m.constant(p.token); err != nil {
		return err
	}
	p.Semantics, err = m.semantics(p.token)
	return err
}

// Name returns the property name.
func (p *PropertyDef) Name() string { return p.name }

// Attributes returns the PropertyAttributes flags.
func (p *PropertyDef) Attributes() uint16 { return p.flags }

// SetName renames the property.
func (p *PropertyDef) SetName(name string) error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.name = name
	return nil
}

// SetAttributes replaces the PropertyAttributes flags.
func (p *PropertyDef) SetAttributes(flags uint16) error {
	if err := p.mutable(); err != nil {
		return err
	}
	p.flags = flags
	return nil
}

// EventDef is an event of a TypeDef.
type EventDef struct {
	attributed
	name      string
	flags     uint16
	EventType metadata.Token
	Semantics []Semantic
	declaring metadata.Token
}

// NewEventDef returns a detached event.
func NewEventDef(name string, flags uint16, eventType metadata.Token) *EventDef {
	e := &EventDef{name: name, flags: flags, EventType: eventType}
	e.attrsLoaded = true
	return e
}

func (e *EventDef) fill(row metadata.Row) error {
	m := e.module
	var err error
	e.flags = uint16(row[0])
	if e.name, err = m.str(row[1]); err != nil {
		return err
	}
	if e.EventType, err = m.coded(metadata.CodedTypeDefOrRef, row[2]); err != nil {
		return err
	}
	e.Semantics, err = m.semantics(e.token)
	return err
}

// Name returns the event name.
func (e *EventDef) Name() string { return e.name }

// Attributes returns the EventAttributes flags.
func (e *EventDef) Attributes() uint16 { return e.flags }

// SetName renames the event.
func (e *EventDef) SetName(name string) error {
	if err := e.mutable(); err != nil {
		return err
	}
	e.name = name
	return nil
}

// SetAttributes replaces the EventAttributes flags.
func (e *EventDef) SetAttributes(flags uint16) error {
	if err := e.mutable(); err != nil {
		return err
	}
	e.flags = flags
	return nil
}

// MemberRef references a method or field through its parent: a TypeRef,
// TypeSpec, ModuleRef, TypeDef or, for vararg call sites, a MethodDef.
// Exactly one of MethodSig and FieldSig is set.
type MemberRef struct {
	attributed
	Parent    metadata.Token
	Name      string
	MethodSig *signature.MethodSig
	FieldSig  *signature.FieldSig
}

func (r *MemberRef) fill(row metadata.Row) error {
	m := r.module
	var err error
	if r.Parent, err = m.coded(metadata.CodedMemberRefParent, row[0]); err != nil {
		return err
	}
	if r.Name, err = m.str(row[1]); err != nil {
		return err
	}
	blob, base, err := m.blob(row[2])
	if err != nil {
		return err
	}
	if cc, ok := signature.Kind(blob); ok && cc.Kind() == signature.CallField {
		r.FieldSig, err = signature.DecodeField(blob, base)
		return err
	}
	r.MethodSig, err = signature.DecodeMethod(blob, base)
	return err
}

// IsField reports whether the reference names a field.
func (r *MemberRef) IsField() bool { return r.FieldSig != nil }

// NewMemberRef adds a method reference.
func (m *Module) NewMemberRef(parent metadata.Token, name string, sig *signature.MethodSig) (*MemberRef, error) {
	return m.newMemberRef(&MemberRef{Parent: parent, Name: name, MethodSig: sig})
}

// NewFieldRef adds a field reference.
func (m *Module) NewFieldRef(parent metadata.Token, name string, sig *signature.FieldSig) (*MemberRef, error) {
	return m.newMemberRef(&MemberRef{Parent: parent, Name: name, FieldSig: sig})
}

func (m *Module) newMemberRef(r *MemberRef) (*MemberRef, error) {
	if !metadata.Coded(metadata.CodedMemberRefParent).Accepts(r.Parent.Table()) {
		return nil, errors.InvalidInput(errors.PhaseModel, r.Parent.String()+" cannot own a member reference")
	}
	r.attrsLoaded = true
	if err := m.adopt(r, metadata.TableMemberRef); err != nil {
		return nil, err
	}
	return r, m.appendList(metadata.TableMemberRef, r)
}

// MethodSpec is an instantiation of a generic method.
type MethodSpec struct {
	attributed
	Method        metadata.Token
	Instantiation *signature.MethodSpecSig
}

func (s *MethodSpec) fill(row metadata.Row) error {
	m := s.module
	var err error
	if s.Method, err = m.coded(metadata.CodedMethodDefOrRef, row[0]); err != nil {
		return err
	}
	blob, base, err := m.blob(row[1])
	if err != nil {
		return err
	}
	s.Instantiation, err = signature.DecodeMethodSpec(blob, base)
	return err
}

// NewMethodSpec adds a generic method instantiation.
func (m *Module) NewMethodSpec(method metadata.Token, args ...signature.Type) (*MethodSpec, error) {
	if !metadata.Coded(metadata.CodedMethodDefOrRef).Accepts(method.Table()) {
		return nil, errors.InvalidInput(errors.PhaseModel, method.String()+" is not a method")
	}
	s := &MethodSpec{Method: method, Instantiation: &signature.MethodSpecSig{Args: args}}
	s.attrsLoaded = true
	if err := m.adopt(s, metadata.TableMethodSpec); err != nil {
		return nil, err
	}
	return s, m.appendList(metadata.TableMethodSpec, s)
}
