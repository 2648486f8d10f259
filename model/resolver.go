package model

import (
	"cmp"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/marshal"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

// filler is a declaration that can populate itself from its row.
type filler interface {
	Declaration
	fill(row metadata.Row) error
}

var factories = [metadata.TableCount]func() filler{
	metadata.TableModule:                 func() filler { return &ModuleDef{} },
	metadata.TableTypeRef:                func() filler { return &TypeRef{} },
	metadata.TableTypeDef:                func() filler { return &TypeDef{} },
	metadata.TableField:                  func() filler { return &FieldDef{} },
	metadata.TableMethodDef:              func() filler { return &MethodDef{} },
	metadata.TableParam:                  func() filler { return &ParameterDef{} },
	metadata.TableInterfaceImpl:          func() filler { return &InterfaceImpl{} },
	metadata.TableMemberRef:              func() filler { return &MemberRef{} },
	metadata.TableCustomAttribute:        func() filler { return &CustomAttribute{} },
	metadata.TableDeclSecurity:           func() filler { return &PermissionSet{} },
	metadata.TableStandAloneSig:          func() filler { return &StandaloneSignature{} },
	metadata.TableEvent:                  func() filler { return &EventDef{} },
	metadata.TableProperty:               func() filler { return &PropertyDef{} },
	metadata.TableModuleRef:              func() filler { return &ModuleRef{} },
	metadata.TableTypeSpec:               func() filler { return &TypeSpec{} },
	metadata.TableAssembly:               func() filler { return &AssemblyDef{} },
	metadata.TableAssemblyRef:            func() filler { return &AssemblyRef{} },
	metadata.TableFile:                   func() filler { return &FileDef{} },
	metadata.TableExportedType:           func() filler { return &ExportedType{} },
	metadata.TableManifestResource:       func() filler { return &ManifestResource{} },
	metadata.TableGenericParam:           func() filler { return &GenericParameter{} },
	metadata.TableMethodSpec:             func() filler { return &MethodSpec{} },
	metadata.TableGenericParamConstraint: func() filler { return &GenericParamConstraint{} },
}

// Resolve returns the declaration behind tok, materializing it on first use.
// Every later call for the same token returns the same instance. A token
// whose row is being materialized further up the stack resolves to the
// partially filled instance, which breaks reference cycles.
func (m *Module) Resolve(tok metadata.Token) (Declaration, error) {
	if d, ok := m.cache[tok]; ok {
		if m.inflight[tok] {
			m.log.Debug("re-entrant resolve", zap.Stringer("token", tok))
		}
		return d, nil
	}
	t := tok.Table()
	if !t.Valid() || factories[t] == nil {
		return nil, errors.SchemaViolation(errors.PhaseResolve, t.String(), "", "token "+tok.String()+" does not name a declaration")
	}
	if tok.RID() == 0 || m.tables == nil || tok.RID() > m.tables.RowCount(t) {
		return nil, errors.Unresolved(errors.PhaseResolve, uint32(tok), "no such row", nil)
	}
	row, err := m.tables.ReadRow(t, tok.RID())
	if err != nil {
		return nil, err
	}
	d := factories[t]()
	m.register(d, tok)
	d.decl().orig = row
	m.inflight[tok] = true
	err = d.fill(row)
	delete(m.inflight, tok)
	if err != nil {
		delete(m.cache, tok)
		return nil, err
	}
	return d, nil
}

// TryResolve is Resolve without the error: it returns nil when tok cannot
// be materialized.
func (m *Module) TryResolve(tok metadata.Token) Declaration {
	d, err := m.Resolve(tok)
	if err != nil {
		m.log.Debug("resolve failed", zap.Stringer("token", tok), zap.Error(err))
		return nil
	}
	return d
}

func (m *Module) str(off uint32) (string, error) {
	if off == 0 {
		return "", nil
	}
	if m.tables.Strings == nil {
		return "", errors.New(errors.PhaseDecode, errors.KindMalformedMetadata).
			Value(off).
			Detail("string reference without a #Strings heap").
			Build()
	}
	return m.tables.Strings.Get(off)
}

// blob returns a blob and its absolute position, for error offsets.
func (m *Module) blob(off uint32) ([]byte, int, error) {
	if m.tables.Blobs == nil {
		if off == 0 {
			return nil, 0, nil
		}
		return nil, 0, errors.New(errors.PhaseDecode, errors.KindMalformedMetadata).
			Value(off).
			Detail("blob reference without a #Blob heap").
			Build()
	}
	b, err := m.tables.Blobs.Get(off)
	return b, m.tables.Blobs.Base() + int(off), err
}

func (m *Module) guid(idx uint32) (uuid.UUID, error) {
	if idx == 0 || m.tables.GUIDs == nil {
		return uuid.Nil, nil
	}
	return m.tables.GUIDs.Get(idx)
}

func (m *Module) coded(kind metadata.CodedKind, v uint32) (metadata.Token, error) {
	return metadata.Coded(kind).Decode(v)
}

// members walks the list column col of owner row rid and calls fn for every
// member token, following pointer tables.
func (m *Module) members(owner metadata.TableID, rid uint32, col int, target metadata.TableID, fn func(metadata.Token) error) error {
	start, end, err := m.tables.List(owner, rid, col)
	if err != nil {
		return err
	}
	for pos := start; pos < end; pos++ {
		if err := fn(metadata.NewToken(target, m.tables.Indirect(target, pos))); err != nil {
			return err
		}
	}
	return nil
}

// ownerOf finds the owner row whose member list holds rid.
func (m *Module) ownerOf(owner metadata.TableID, col int, target metadata.TableID, rid uint32) (metadata.Token, error) {
	pos := rid
	if ptr, ok := pointerTable(target); ok && m.tables.RowCount(ptr) > 0 {
		pos = 0
		for p := uint32(1); p <= m.tables.RowCount(ptr); p++ {
			if m.tables.Value(ptr, p, 0) == rid {
				pos = p
				break
			}
		}
	}
	if pos == 0 {
		return 0, nil
	}
	o := m.tables.FindOwner(owner, col, pos)
	if o == 0 {
		return 0, nil
	}
	return metadata.NewToken(owner, o), nil
}

func pointerTable(t metadata.TableID) (metadata.TableID, bool) {
	switch t {
	case metadata.TableField:
		return metadata.TableFieldPtr, true
	case metadata.TableMethodDef:
		return metadata.TableMethodPtr, true
	case metadata.TableParam:
		return metadata.TableParamPtr, true
	case metadata.TableEvent:
		return metadata.TableEventPtr, true
	case metadata.TableProperty:
		return metadata.TablePropertyPtr, true
	}
	return 0, false
}

// genericParams loads the generic parameters of a TypeDef or MethodDef
// ordered by number.
func (m *Module) genericParams(owner metadata.Token) ([]*GenericParameter, error) {
	key, err := metadata.Coded(metadata.CodedTypeOrMethodDef).Encode(owner)
	if err != nil {
		return nil, err
	}
	var out []*GenericParameter
	for _, r := range m.tables.FindRows(metadata.TableGenericParam, 2, key) {
		gp, err := resolveAs[*GenericParameter](m, metadata.NewToken(metadata.TableGenericParam, r))
		if err != nil {
			return nil, err
		}
		out = append(out, gp)
	}
	slices.SortStableFunc(out, func(a, b *GenericParameter) int { return cmp.Compare(a.Number, b.Number) })
	return out, nil
}

func (m *Module) permissionSets(owner metadata.Token) ([]*PermissionSet, error) {
	key, err := metadata.Coded(metadata.CodedHasDeclSecurity).Encode(owner)
	if err != nil {
		return nil, err
	}
	var out []*PermissionSet
	for _, r := range m.tables.FindRows(metadata.TableDeclSecurity, 1, key) {
		ps, err := resolveAs[*PermissionSet](m, metadata.NewToken(metadata.TableDeclSecurity, r))
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, nil
}

func (m *Module) constant(owner metadata.Token) (*Constant, error) {
	key, err := metadata.Coded(metadata.CodedHasConstant).Encode(owner)
	if err != nil {
		return nil, err
	}
	r := m.tables.FindRow(metadata.TableConstant, 1, key)
	if r == 0 {
		return nil, nil
	}
	value, _, err := m.blob(m.tables.Value(metadata.TableConstant, r, 2))
	if err != nil {
		return nil, err
	}
	return &Constant{
		Type:  signature.ElementType(m.tables.Value(metadata.TableConstant, r, 0)),
		Value: value,
	}, nil
}

func (m *Module) marshalOf(owner metadata.Token) (marshal.Type, error) {
	key, err := metadata.Coded(metadata.CodedHasFieldMarshal).Encode(owner)
	if err != nil {
		return nil, err
	}
	r := m.tables.FindRow(metadata.TableFieldMarshal, 0, key)
	if r == 0 {
		return nil, nil
	}
	blob, base, err := m.blob(m.tables.Value(metadata.TableFieldMarshal, r, 1))
	if err != nil {
		return nil, err
	}
	return marshal.Decode(blob, base)
}

func (m *Module) pinvoke(owner metadata.Token) (*PInvokeInfo, error) {
	key, err := metadata.Coded(metadata.CodedMemberForwarded).Encode(owner)
	if err != nil {
		return nil, err
	}
	r := m.tables.FindRow(metadata.TableImplMap, 1, key)
	if r == 0 {
		return nil, nil
	}
	row, err := m.tables.ReadRow(metadata.TableImplMap, r)
	if err != nil {
		return nil, err
	}
	name, err := m.str(row[2])
	if err != nil {
		return nil, err
	}
	return &PInvokeInfo{
		Flags:      uint16(row[0]),
		ImportName: name,
		Scope:      metadata.NewToken(metadata.TableModuleRef, row[3]),
	}, nil
}

func (m *Module) semantics(assoc metadata.Token) ([]Semantic, error) {
	key, err := metadata.Coded(metadata.CodedHasSemantics).Encode(assoc)
	if err != nil {
		return nil, err
	}
	var out []Semantic
	for _, r := range m.tables.FindRows(metadata.TableMethodSemantics, 2, key) {
		out = append(out, Semantic{
			Kind:   uint16(m.tables.Value(metadata.TableMethodSemantics, r, 0)),
			Method: metadata.NewToken(metadata.TableMethodDef, m.tables.Value(metadata.TableMethodSemantics, r, 1)),
		})
	}
	return out, nil
}
