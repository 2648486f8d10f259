package model

import (
	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

// TypeAttributes bits used by the model (ECMA-335 II.23.1.15).
const (
	TypeVisibilityMask    uint32 = 0x00000007
	TypePublic            uint32 = 0x00000001
	TypeNestedPublic      uint32 = 0x00000002
	TypeNestedPrivate     uint32 = 0x00000003
	TypeLayoutMask        uint32 = 0x00000018
	TypeSequentialLayout  uint32 = 0x00000008
	TypeExplicitLayout    uint32 = 0x00000010
	TypeInterface         uint32 = 0x00000020
	TypeAbstract          uint32 = 0x00000080
	TypeSealed            uint32 = 0x00000100
	TypeSpecialName       uint32 = 0x00000400
	TypeImport            uint32 = 0x00001000
	TypeSerializable      uint32 = 0x00002000
	TypeStringFormatMask  uint32 = 0x00030000
	TypeBeforeFieldInit   uint32 = 0x00100000
	TypeRTSpecialName     uint32 = 0x00000800
	TypeHasSecurity       uint32 = 0x00040000
	TypeForwarder         uint32 = 0x00200000
)

// ClassLayout is the packing and size of a type with explicit or sequential
// layout.
type ClassLayout struct {
	PackingSize uint16
	ClassSize   uint32
}

// MethodOverride is a MethodImpl row: Body implements Declaration.
type MethodOverride struct {
	Body        metadata.Token
	Declaration metadata.Token
}

// TypeDef is a type defined in this module. It owns its fields, methods,
// properties, events, nested types, generic parameters and interface
// implementations; member lists load on first access.
type TypeDef struct {
	attributed
	namespace string
	name      string
	flags     uint32
	extends   metadata.Token
	layout    *ClassLayout

	enclosing      metadata.Token
	enclosingKnown bool

	membersLoaded bool
	loading       bool
	fields        []*FieldDef
	methods       []*MethodDef
	properties    []*PropertyDef
	events        []*EventDef
	nested        []*TypeDef
	genericParams []*GenericParameter
	interfaces    []*InterfaceImpl
	overrides     []MethodOverride
	security      []*PermissionSet
}

// NewTypeDef returns a detached type. It gets a token when added to a module
// or to an enclosing type.
func NewTypeDef(namespace, name string, flags uint32, extends metadata.Token) *TypeDef {
	t := &TypeDef{namespace: namespace, name: name, flags: flags, extends: extends}
	t.membersLoaded = true
	t.attrsLoaded = true
	t.enclosingKnown = true
	return t
}

func (t *TypeDef) fill(row metadata.Row) error {
	m := t.module
	var err error
	t.flags = row[0]
	if t.name, err = m.str(row[1]); err != nil {
		return err
	}
	if t.namespace, err = m.str(row[2]); err != nil {
		return err
	}
	t.extends, err = m.coded(metadata.CodedTypeDefOrRef, row[3])
	return err
}

// Name returns the simple name.
func (t *TypeDef) Name() string { return t.name }

// Namespace returns the namespace; nested types usually have none.
func (t *TypeDef) Namespace() string { return t.namespace }

// Attributes returns the TypeAttributes flags.
func (t *TypeDef) Attributes() uint32 { return t.flags }

// Extends returns the base type token, nil for interfaces and System.Object.
func (t *TypeDef) Extends() metadata.Token { return t.extends }

// IsInterface reports the interface flag.
func (t *TypeDef) IsInterface() bool { return t.flags&TypeInterface != 0 }

// IsNested reports whether the type is declared inside another type.
func (t *TypeDef) IsNested() bool {
	enc, err := t.enclosingToken()
	return err == nil && !enc.IsNil()
}

// BaseType resolves the base type, or returns nil when there is none.
func (t *TypeDef) BaseType() (Declaration, error) {
	if t.extends.IsNil() {
		return nil, nil
	}
	return t.module.Resolve(t.extends)
}

// SetName renames the type.
func (t *TypeDef) SetName(name string) error {
	if err := t.mutable(); err != nil {
		return err
	}
	t.name = name
	return nil
}

// SetNamespace moves the type to another namespace.
func (t *TypeDef) SetNamespace(ns string) error {
	if err := t.mutable(); err != nil {
		return err
	}
	t.namespace = ns
	return nil
}

// SetAttributes replaces the TypeAttributes flags.
func (t *TypeDef) SetAttributes(flags uint32) error {
	if err := t.mutable(); err != nil {
		return err
	}
	t.flags = flags
	return nil
}

// SetBaseType replaces the base type. tok must be a TypeDef, TypeRef or
// TypeSpec, or nil.
func (t *TypeDef) SetBaseType(tok metadata.Token) error {
	if err := t.mutable(); err != nil {
		return err
	}
	if !tok.IsNil() && !metadata.Coded(metadata.CodedTypeDefOrRef).Accepts(tok.Table()) {
		return errors.InvalidInput(errors.PhaseModel, tok.String()+" cannot be a base type")
	}
	t.extends = tok
	return nil
}

func (t *TypeDef) enclosingToken() (metadata.Token, error) {
	if t.enclosingKnown {
		return t.enclosing, nil
	}
	if t.loaded() {
		ts := t.module.tables
		if r := ts.FindRow(metadata.TableNestedClass, 0, t.token.RID()); r != 0 {
			t.enclosing = metadata.NewToken(metadata.TableTypeDef, ts.Value(metadata.TableNestedClass, r, 1))
		}
	}
	t.enclosingKnown = true
	return t.enclosing, nil
}

// DeclaringType returns the enclosing type of a nested type, or nil.
func (t *TypeDef) DeclaringType() (*TypeDef, error) {
	enc, err := t.enclosingToken()
	if err != nil || enc.IsNil() {
		return nil, err
	}
	return resolveAs[*TypeDef](t.module, enc)
}

// FullName returns "Namespace.Name", with nested types joined by '/'.
func (t *TypeDef) FullName() (string, error) {
	name := qualify(t.namespace, t.name)
	for cur, depth := t, 0; ; depth++ {
		outer, err := cur.DeclaringType()
		if err != nil {
			return "", err
		}
		if outer == nil {
			return name, nil
		}
		if depth >= maxNestingDepth {
			return "", nestingCycle("NestedClass", "EnclosingClass", t.token)
		}
		name = qualify(outer.namespace, outer.name) + "/" + name
		cur = outer
	}
}

func qualify(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// maxNestingDepth bounds enclosing-type and resolution-scope chains. A
// longer chain loops back on itself.
const maxNestingDepth = 64

func nestingCycle(table, column string, tok metadata.Token) error {
	e := errors.SchemaViolation(errors.PhaseResolve, table, column, "nesting cycle at "+tok.String())
	e.Token = uint32(tok)
	return e
}

func (t *TypeDef) load() error {
	if t.membersLoaded || t.loading {
		return nil
	}
	if !t.loaded() {
		t.membersLoaded = true
		return nil
	}
	t.loading = true
	defer func() { t.loading = false }()

	m := t.module
	ts := m.tables
	rid := t.token.RID()
	var (
		fields  []*FieldDef
		methods []*MethodDef
		props   []*PropertyDef
		events  []*EventDef
		nested  []*TypeDef
	)
	err := m.members(metadata.TableTypeDef, rid, 4, metadata.TableField, func(tok metadata.Token) error {
		f, err := resolveAs[*FieldDef](m, tok)
		if err == nil {
			f.declaring = t.token
			fields = append(fields, f)
		}
		return err
	})
	if err != nil {
		return err
	}
	err = m.members(metadata.TableTypeDef, rid, 5, metadata.TableMethodDef, func(tok metadata.Token) error {
		md, err := resolveAs[*MethodDef](m, tok)
		if err == nil {
			md.declaring = t.token
			methods = append(methods, md)
		}
		return err
	})
	if err != nil {
		return err
	}
	if pm := ts.FindRow(metadata.TablePropertyMap, 0, rid); pm != 0 {
		err = m.members(metadata.TablePropertyMap, pm, 1, metadata.TableProperty, func(tok metadata.Token) error {
			p, err := resolveAs[*PropertyDef](m, tok)
			if err == nil {
				p.declaring = t.token
				props = append(props, p)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	if em := ts.FindRow(metadata.TableEventMap, 0, rid); em != 0 {
		err = m.members(metadata.TableEventMap, em, 1, metadata.TableEvent, func(tok metadata.Token) error {
			e, err := resolveAs[*EventDef](m, tok)
			if err == nil {
				e.declaring = t.token
				events = append(events, e)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	for _, r := range ts.FindRows(metadata.TableNestedClass, 1, rid) {
		n, err := resolveAs[*TypeDef](m, metadata.NewToken(metadata.TableTypeDef, ts.Value(metadata.TableNestedClass, r, 0)))
		if err != nil {
			return err
		}
		n.enclosing, n.enclosingKnown = t.token, true
		nested = append(nested, n)
	}
	gps, err := m.genericParams(t.token)
	if err != nil {
		return err
	}
	var ifaces []*InterfaceImpl
	for _, r := range ts.FindRows(metadata.TableInterfaceImpl, 0, rid) {
		ii, err := resolveAs[*InterfaceImpl](m, metadata.NewToken(metadata.TableInterfaceImpl, r))
		if err != nil {
			return err
		}
		ifaces = append(ifaces, ii)
	}
	if r := ts.FindRow(metadata.TableClassLayout, 2, rid); r != 0 {
		t.layout = &ClassLayout{
			PackingSize: uint16(ts.Value(metadata.TableClassLayout, r, 0)),
			ClassSize:   ts.Value(metadata.TableClassLayout, r, 1),
		}
	}
	var overrides []MethodOverride
	for _, r := range ts.FindRows(metadata.TableMethodImpl, 0, rid) {
		body, err := m.coded(metadata.CodedMethodDefOrRef, ts.Value(metadata.TableMethodImpl, r, 1))
		if err != nil {
			return err
		}
		decl, err := m.coded(metadata.CodedMethodDefOrRef, ts.Value(metadata.TableMethodImpl, r, 2))
		if err != nil {
			return err
		}
		overrides = append(overrides, MethodOverride{Body: body, Declaration: decl})
	}
	security, err := m.permissionSets(t.token)
	if err != nil {
		return err
	}

	t.fields, t.methods, t.properties, t.events, t.nested = fields, methods, props, events, nested
	t.genericParams, t.interfaces, t.overrides, t.security = gps, ifaces, overrides, security
	t.membersLoaded = true
	return nil
}

// Fields returns the fields in declaration order.
func (t *TypeDef) Fields() ([]*FieldDef, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.fields, nil
}

// Methods returns the methods in declaration order.
func (t *TypeDef) Methods() ([]*MethodDef, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.methods, nil
}

// Properties returns the properties in declaration order.
func (t *TypeDef) Properties() ([]*PropertyDef, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.properties, nil
}

// Events returns the events in declaration order.
func (t *TypeDef) Events() ([]*EventDef, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.events, nil
}

// NestedTypes returns the types declared inside t.
func (t *TypeDef) NestedTypes() ([]*TypeDef, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.nested, nil
}

// GenericParameters returns the type's generic parameters by position.
func (t *TypeDef) GenericParameters() ([]*GenericParameter, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.genericParams, nil
}

// Interfaces returns the implemented interfaces.
func (t *TypeDef) Interfaces() ([]*InterfaceImpl, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.interfaces, nil
}

// Layout returns the class layout, or nil for auto layout.
func (t *TypeDef) Layout() (*ClassLayout, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.layout, nil
}

// Overrides returns the explicit method implementations.
func (t *TypeDef) Overrides() ([]MethodOverride, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.overrides, nil
}

// Security returns the declarative security attached to the type.
func (t *TypeDef) Security() ([]*PermissionSet, error) {
	if err := t.load(); err != nil {
		return nil, err
	}
	return t.security, nil
}

// FindMethod returns the first method with the given name, or nil.
func (t *TypeDef) FindMethod(name string) (*MethodDef, error) {
	methods, err := t.Methods()
	if err != nil {
		return nil, err
	}
	for _, md := range methods {
		if md.name == name {
			return md, nil
		}
	}
	return nil, nil
}

// FindField returns the field with the given name, or nil.
func (t *TypeDef) FindField(name string) (*FieldDef, error) {
	fields, err := t.Fields()
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.name == name {
			return f, nil
		}
	}
	return nil, nil
}

func (t *TypeDef) prepare() error {
	if err := t.mutable(); err != nil {
		return err
	}
	if t.module == nil {
		return errors.InvalidInput(errors.PhaseModel, "type "+t.name+" is not part of a module")
	}
	return t.load()
}

// AddField appends f and gives it a token.
func (t *TypeDef) AddField(f *FieldDef) error {
	if err := t.prepare(); err != nil {
		return err
	}
	if err := t.module.adopt(f, metadata.TableField); err != nil {
		return err
	}
	f.declaring = t.token
	t.fields = append(t.fields, f)
	return nil
}

// RemoveField detaches f. References to it elsewhere make Write fail.
func (t *TypeDef) RemoveField(f *FieldDef) error {
	if err := t.prepare(); err != nil {
		return err
	}
	var ok bool
	if t.fields, ok = remove(t.fields, f); !ok {
		return errors.NotFound(errors.PhaseModel, "field", f.name)
	}
	return nil
}

// AddMethod appends md and gives it a token.
func (t *TypeDef) AddMethod(md *MethodDef) error {
	if err := t.prepare(); err != nil {
		return err
	}
	if err := t.module.adopt(md, metadata.TableMethodDef); err != nil {
		return err
	}
	md.declaring = t.token
	for _, p := range md.params {
		if err := t.module.adopt(p, metadata.TableParam); err != nil {
			return err
		}
	}
	for _, gp := range md.genericParams {
		if err := t.module.adopt(gp, metadata.TableGenericParam); err != nil {
			return err
		}
		gp.Owner = md.token
	}
	t.methods = append(t.methods, md)
	return nil
}

// RemoveMethod detaches md. References to it elsewhere make Write fail.
func (t *TypeDef) RemoveMethod(md *MethodDef) error {
	if err := t.prepare(); err != nil {
		return err
	}
	var ok bool
	if t.methods, ok = remove(t.methods, md); !ok {
		return errors.NotFound(errors.PhaseModel, "method", md.name)
	}
	return nil
}

// AddProperty appends p.
func (t *TypeDef) AddProperty(p *PropertyDef) error {
	if err := t.prepare(); err != nil {
		return err
	}
	if err := t.module.adopt(p, metadata.TableProperty); err != nil {
		return err
	}
	p.declaring = t.token
	t.properties = append(t.properties, p)
	return nil
}

// AddEvent appends e.
func (t *TypeDef) AddEvent(e *EventDef) error {
	if err := t.prepare(); err != nil {
		return err
	}
	if err := t.module.adopt(e, metadata.TableEvent); err != nil {
		return err
	}
	e.declaring = t.token
	t.events = append(t.events, e)
	return nil
}

// AddNestedType declares n inside t.
func (t *TypeDef) AddNestedType(n *TypeDef) error {
	if err := t.prepare(); err != nil {
		return err
	}
	if err := t.module.addType(n); err != nil {
		return err
	}
	n.enclosing, n.enclosingKnown = t.token, true
	t.nested = append(t.nested, n)
	return nil
}

// AddGenericParameter appends a generic parameter named name.
func (t *TypeDef) AddGenericParameter(name string) (*GenericParameter, error) {
	if err := t.prepare(); err != nil {
		return nil, err
	}
	gp := &GenericParameter{Number: uint16(len(t.genericParams)), Name: name, Owner: t.token}
	gp.attrsLoaded = true
	gp.constraintsLoaded = true
	if err := t.module.adopt(gp, metadata.TableGenericParam); err != nil {
		return nil, err
	}
	t.genericParams = append(t.genericParams, gp)
	return gp, nil
}

// AddInterface records that t implements iface.
func (t *TypeDef) AddInterface(iface metadata.Token) (*InterfaceImpl, error) {
	if err := t.prepare(); err != nil {
		return nil, err
	}
	if !metadata.Coded(metadata.CodedTypeDefOrRef).Accepts(iface.Table()) {
		return nil, errors.InvalidInput(errors.PhaseModel, iface.String()+" cannot be an interface")
	}
	ii := &InterfaceImpl{Class: t.token, Interface: iface}
	ii.attrsLoaded = true
	if err := t.module.adopt(ii, metadata.TableInterfaceImpl); err != nil {
		return nil, err
	}
	t.interfaces = append(t.interfaces, ii)
	return ii, nil
}

// AddOverride records that body implements decl.
func (t *TypeDef) AddOverride(body, decl metadata.Token) error {
	if err := t.prepare(); err != nil {
		return err
	}
	t.overrides = append(t.overrides, MethodOverride{Body: body, Declaration: decl})
	return nil
}

// SetLayout sets or clears the class layout.
func (t *TypeDef) SetLayout(l *ClassLayout) error {
	if err := t.prepare(); err != nil {
		return err
	}
	t.layout = l
	return nil
}

// AddType adds a top-level type to the module.
func (m *Module) AddType(t *TypeDef) error {
	if err := m.mutable(); err != nil {
		return err
	}
	return m.addType(t)
}

func (m *Module) addType(t *TypeDef) error {
	if t.module == m {
		return errors.InvalidInput(errors.PhaseModel, "type "+t.name+" is already part of the module")
	}
	if err := m.adopt(t, metadata.TableTypeDef); err != nil {
		return err
	}
	return m.appendList(metadata.TableTypeDef, t)
}

// RemoveType removes t and every type nested in it.
func (m *Module) RemoveType(t *TypeDef) error {
	if err := m.mutable(); err != nil {
		return err
	}
	if t.token.RID() == 1 {
		return errors.InvalidInput(errors.PhaseModel, "the <Module> type cannot be removed")
	}
	all, err := m.list(metadata.TableTypeDef)
	if err != nil {
		return err
	}
	var ok bool
	if m.lists[metadata.TableTypeDef], ok = remove(all, Declaration(t)); !ok {
		return errors.NotFound(errors.PhaseModel, "type", t.name)
	}
	outer, err := t.DeclaringType()
	if err != nil {
		return err
	}
	if outer != nil {
		if err := outer.load(); err != nil {
			return err
		}
		outer.nested, _ = remove(outer.nested, t)
	}
	nested, err := t.NestedTypes()
	if err != nil {
		return err
	}
	for _, n := range append([]*TypeDef(nil), nested...) {
		if err := m.RemoveType(n); err != nil {
			return err
		}
	}
	return nil
}

// TypeRef references a type by name through a resolution scope: a module, a
// module reference, an assembly reference, or the enclosing TypeRef.
type TypeRef struct {
	attributed
	Scope     metadata.Token
	Namespace string
	Name      string
}

func (r *TypeRef) fill(row metadata.Row) error {
	m := r.module
	var err error
	if r.Scope, err = m.coded(metadata.CodedResolutionScope, row[0]); err != nil {
		return err
	}
	if r.Name, err = m.str(row[1]); err != nil {
		return err
	}
	r.Namespace, err = m.str(row[2])
	return err
}

// FullName returns the referenced name with nesting joined by '/'.
func (r *TypeRef) FullName() (string, error) {
	name := qualify(r.Namespace, r.Name)
	for cur, depth := r, 0; cur.Scope.Table() == metadata.TableTypeRef && !cur.Scope.IsNil(); depth++ {
		if depth >= maxNestingDepth {
			return "", nestingCycle("TypeRef", "ResolutionScope", r.token)
		}
		outer, err := resolveAs[*TypeRef](r.module, cur.Scope)
		if err != nil {
			return "", err
		}
		name = qualify(outer.Namespace, outer.Name) + "/" + name
		cur = outer
	}
	return name, nil
}

// rootScope follows TypeRef scopes out to the scope of the outermost type.
func (r *TypeRef) rootScope() (metadata.Token, error) {
	scope := r.Scope
	for depth := 0; scope.Table() == metadata.TableTypeRef && !scope.IsNil(); depth++ {
		if depth >= maxNestingDepth {
			return 0, nestingCycle("TypeRef", "ResolutionScope", r.token)
		}
		outer, err := resolveAs[*TypeRef](r.module, scope)
		if err != nil {
			return 0, err
		}
		scope = outer.Scope
	}
	return scope, nil
}

// NewTypeRef adds a type reference. scope must be a Module, ModuleRef,
// AssemblyRef or TypeRef token.
func (m *Module) NewTypeRef(scope metadata.Token, namespace, name string) (*TypeRef, error) {
	if !scope.IsNil() && !metadata.Coded(metadata.CodedResolutionScope).Accepts(scope.Table()) {
		return nil, errors.InvalidInput(errors.PhaseModel, scope.String()+" is not a resolution scope")
	}
	r := &TypeRef{Scope: scope, Namespace: namespace, Name: name}
	r.attrsLoaded = true
	if err := m.adopt(r, metadata.TableTypeRef); err != nil {
		return nil, err
	}
	return r, m.appendList(metadata.TableTypeRef, r)
}

// TypeSpec is a constructed type: a generic instance, array, pointer or
// generic parameter.
type TypeSpec struct {
	attributed
	Signature signature.Type
}

func (s *TypeSpec) fill(row metadata.Row) error {
	blob, base, err := s.module.blob(row[0])
	if err != nil {
		return err
	}
	s.Signature, err = signature.DecodeType(blob, base)
	return err
}

// NewTypeSpec adds a type specification.
func (m *Module) NewTypeSpec(sig signature.Type) (*TypeSpec, error) {
	s := &TypeSpec{Signature: sig}
	s.attrsLoaded = true
	if err := m.adopt(s, metadata.TableTypeSpec); err != nil {
		return nil, err
	}
	return s, m.appendList(metadata.TableTypeSpec, s)
}
