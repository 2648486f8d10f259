package model

import (
	"cmp"
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/il"
	"github.com/wippyai/ilweave/marshal"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/peimage"
	"github.com/wippyai/ilweave/signature"
)

// WriteOptions tunes image emission.
type WriteOptions struct {
	// StrongNameKey is opaque key material; only its size matters, to
	// reserve the signature slot. Signing happens outside this package.
	StrongNameKey []byte
	// PreserveHeapSizes keeps the wide-index bits of the loaded tables
	// header even when the heaps would fit narrow indexes.
	PreserveHeapSizes bool
}

const (
	ctxCheckInterval   = 64
	defaultStrongName  = 128
	strongNameOverhead = 32
)

// refTables are the module-level tables written in list order.
var refTables = []metadata.TableID{
	metadata.TableTypeRef,
	metadata.TableMemberRef,
	metadata.TableStandAloneSig,
	metadata.TableModuleRef,
	metadata.TableTypeSpec,
	metadata.TableAssemblyRef,
	metadata.TableFile,
	metadata.TableExportedType,
	metadata.TableManifestResource,
	metadata.TableMethodSpec,
}

// droppedTables are never written.
var droppedTables = []metadata.TableID{
	metadata.TableFieldPtr,
	metadata.TableMethodPtr,
	metadata.TableParamPtr,
	metadata.TableEventPtr,
	metadata.TablePropertyPtr,
	metadata.TableENCLog,
	metadata.TableENCMap,
	metadata.TableAssemblyProcessor,
	metadata.TableAssemblyOS,
	metadata.TableAssemblyRefProcessor,
	metadata.TableAssemblyRefOS,
}

// Write freezes the module and writes it as a PE image to w.
func (m *Module) Write(ctx context.Context, w io.Writer, opts WriteOptions) error {
	data, err := m.Encode(ctx, opts)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(errors.PhaseWrite, errors.KindInvalidData, err, "write image")
	}
	return nil
}

// WriteFile writes the image to a temporary file next to path and renames
// it into place, so path is never left partially written.
func (m *Module) WriteFile(ctx context.Context, path string, opts WriteOptions) error {
	data, err := m.Encode(ctx, opts)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(errors.PhaseWrite, errors.KindInvalidData, err, "create temporary file")
	}
	tmp := f.Name()
	if _, err = f.Write(data); err == nil {
		err = f.Close()
	} else {
		_ = f.Close()
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(errors.PhaseWrite, errors.KindInvalidData, err, path)
	}
	return nil
}

// Encode freezes the module and returns its PE image. Every token the graph
// references must name a declaration that is written; a dangling one fails
// with an unresolved reference error naming it.
func (m *Module) Encode(ctx context.Context, opts WriteOptions) ([]byte, error) {
	m.Freeze()
	e := newEmitter(ctx, m, opts)
	if err := e.collect(); err != nil {
		return nil, err
	}
	m.log.Debug("rows assigned",
		zap.Int("types", len(e.types)),
		zap.Int("methods", len(e.methods)),
		zap.Int("fields", len(e.fields)))
	if err := e.payload(); err != nil {
		return nil, err
	}
	layout := e.layout()
	place := peimage.Plan(layout)
	md, err := e.metadata(place)
	if err != nil {
		return nil, err
	}
	out, err := peimage.Write(layout, md)
	if err != nil {
		return nil, err
	}
	m.log.Debug("module written", zap.String("name", m.Name()), zap.Int("bytes", len(out)))
	return out, nil
}

type emitter struct {
	ctx  context.Context
	m    *Module
	opts WriteOptions
	err  error

	remap map[metadata.Token]metadata.Token

	types      []*TypeDef
	fields     []*FieldDef
	methods    []*MethodDef
	params     []*ParameterDef
	properties []*PropertyDef
	events     []*EventDef
	gps        []*GenericParameter
	gpcs       []*GenericParamConstraint
	gpcOwners  []metadata.Token
	ifaces     []*InterfaceImpl
	security   []*PermissionSet
	secOwners  []metadata.Token
	refs       [metadata.TableCount][]Declaration
	attributed []Attributed

	fieldStart  []uint32
	methodStart []uint32
	propStart   []uint32
	eventStart  []uint32
	paramStart  []uint32

	bodies    [][]byte
	bodyOf    map[*MethodDef]int
	fieldData [][]byte
	dataOf    map[*FieldDef]int
	resources [][]byte
	resOf     map[*ManifestResource]int

	tb      *metadata.TableBuilder
	strings *metadata.StringHeapBuilder
	blobs   *metadata.BlobHeapBuilder
	guids   *metadata.GUIDHeapBuilder
}

func newEmitter(ctx context.Context, m *Module, opts WriteOptions) *emitter {
	e := &emitter{
		ctx:    ctx,
		m:      m,
		opts:   opts,
		remap:  make(map[metadata.Token]metadata.Token),
		bodyOf: make(map[*MethodDef]int),
		dataOf: make(map[*FieldDef]int),
		resOf:  make(map[*ManifestResource]int),
	}
	var (
		strs  *metadata.StringHeap
		blobs *metadata.BlobHeap
		guids *metadata.GUIDHeap
	)
	if ts := m.tables; ts != nil {
		strs, blobs, guids = ts.Strings, ts.Blobs, ts.GUIDs
	}
	e.strings = metadata.NewStringHeapBuilder(strs)
	e.blobs = metadata.NewBlobHeapBuilder(blobs)
	e.guids = metadata.NewGUIDHeapBuilder(guids)
	return e
}

func (e *emitter) assign(d Declaration, t metadata.TableID, rid uint32) {
	e.remap[d.Token()] = metadata.NewToken(t, rid)
	if a, ok := d.(Attributed); ok {
		e.attributed = append(e.attributed, a)
	}
}

// collect walks the graph in emit order and assigns every declaration its
// output row.
func (e *emitter) collect() error {
	m := e.m
	if m.tables != nil {
		for _, t := range droppedTables {
			if n := m.tables.RowCount(t); n > 0 {
				m.log.Warn("table not written", zap.Stringer("table", t), zap.Uint32("rows", n))
			}
		}
	}
	e.assign(m.def, metadata.TableModule, 1)
	if m.assembly != nil {
		e.assign(m.assembly, metadata.TableAssembly, 1)
	}

	types, err := m.AllTypes()
	if err != nil {
		return err
	}
	e.types = types
	for i, t := range types {
		if i%ctxCheckInterval == 0 {
			if err := e.ctx.Err(); err != nil {
				return err
			}
		}
		e.assign(t, metadata.TableTypeDef, uint32(i+1))
	}
	for _, t := range types {
		if err := e.collectMembers(t); err != nil {
			return err
		}
	}
	if err := e.collectGenerics(); err != nil {
		return err
	}
	for _, t := range types {
		ifaces, err := t.Interfaces()
		if err != nil {
			return err
		}
		for _, ii := range ifaces {
			e.ifaces = append(e.ifaces, ii)
			e.assign(ii, metadata.TableInterfaceImpl, uint32(len(e.ifaces)))
		}
	}
	if err := e.collectSecurity(); err != nil {
		return err
	}
	for _, t := range refTables {
		list, err := m.list(t)
		if err != nil {
			return err
		}
		e.refs[t] = list
		for i, d := range list {
			e.assign(d, t, uint32(i+1))
		}
	}
	return nil
}

func (e *emitter) collectMembers(t *TypeDef) error {
	fields, err := t.Fields()
	if err != nil {
		return err
	}
	e.fieldStart = append(e.fieldStart, uint32(len(e.fields)+1))
	for _, f := range fields {
		e.fields = append(e.fields, f)
		e.assign(f, metadata.TableField, uint32(len(e.fields)))
	}

	methods, err := t.Methods()
	if err != nil {
		return err
	}
	e.methodStart = append(e.methodStart, uint32(len(e.methods)+1))
	for _, md := range methods {
		e.methods = append(e.methods, md)
		e.assign(md, metadata.TableMethodDef, uint32(len(e.methods)))
		params, err := md.Parameters()
		if err != nil {
			return err
		}
		e.paramStart = append(e.paramStart, uint32(len(e.params)+1))
		for _, p := range params {
			e.params = append(e.params, p)
			e.assign(p, metadata.TableParam, uint32(len(e.params)))
		}
	}

	props, err := t.Properties()
	if err != nil {
		return err
	}
	e.propStart = append(e.propStart, uint32(len(e.properties)+1))
	for _, p := range props {
		e.properties = append(e.properties, p)
		e.assign(p, metadata.TableProperty, uint32(len(e.properties)))
	}

	events, err := t.Events()
	if err != nil {
		return err
	}
	e.eventStart = append(e.eventStart, uint32(len(e.events)+1))
	for _, ev := range events {
		e.events = append(e.events, ev)
		e.assign(ev, metadata.TableEvent, uint32(len(e.events)))
	}
	return nil
}

// collectGenerics orders generic parameters by owner, then number, and
// assigns constraints in that order so both tables come out sorted.
func (e *emitter) collectGenerics() error {
	type keyed struct {
		gp    *GenericParameter
		owner uint32
	}
	var all []keyed
	add := func(owner metadata.Token, gps []*GenericParameter) error {
		key, err := metadata.Coded(metadata.CodedTypeOrMethodDef).Encode(e.remap[owner])
		if err != nil {
			return err
		}
		for _, gp := range gps {
			all = append(all, keyed{gp, key})
		}
		return nil
	}
	for _, t := range e.types {
		gps, err := t.GenericParameters()
		if err != nil {
			return err
		}
		if err := add(t.token, gps); err != nil {
			return err
		}
	}
	for _, md := range e.methods {
		gps, err := md.GenericParameters()
		if err != nil {
			return err
		}
		if err := add(md.token, gps); err != nil {
			return err
		}
	}
	slices.SortStableFunc(all, func(a, b keyed) int {
		if c := cmp.Compare(a.owner, b.owner); c != 0 {
			return c
		}
		return cmp.Compare(a.gp.Number, b.gp.Number)
	})
	for _, k := range all {
		e.gps = append(e.gps, k.gp)
		e.assign(k.gp, metadata.TableGenericParam, uint32(len(e.gps)))
	}
	for _, gp := range e.gps {
		cs, err := gp.Constraints()
		if err != nil {
			return err
		}
		for _, c := range cs {
			e.gpcs = append(e.gpcs, c)
			e.gpcOwners = append(e.gpcOwners, gp.token)
			e.assign(c, metadata.TableGenericParamConstraint, uint32(len(e.gpcs)))
		}
	}
	return nil
}

func (e *emitter) collectSecurity() error {
	type keyed struct {
		ps    *PermissionSet
		owner metadata.Token
		key   uint32
	}
	var all []keyed
	add := func(owner metadata.Token, sets []*PermissionSet) error {
		key, err := metadata.Coded(metadata.CodedHasDeclSecurity).Encode(e.remap[owner])
		if err != nil {
			return err
		}
		for _, ps := range sets {
			all = append(all, keyed{ps, owner, key})
		}
		return nil
	}
	for _, t := range e.types {
		sets, err := t.Security()
		if err != nil {
			return err
		}
		if err := add(t.token, sets); err != nil {
			return err
		}
	}
	for _, md := range e.methods {
		sets, err := md.Security()
		if err != nil {
			return err
		}
		if err := add(md.token, sets); err != nil {
			return err
		}
	}
	if a := e.m.assembly; a != nil {
		sets, err := a.Security()
		if err != nil {
			return err
		}
		if err := add(a.token, sets); err != nil {
			return err
		}
	}
	slices.SortStableFunc(all, func(a, b keyed) int { return cmp.Compare(a.key, b.key) })
	for _, k := range all {
		e.security = append(e.security, k.ps)
		e.secOwners = append(e.secOwners, k.owner)
		e.assign(k.ps, metadata.TableDeclSecurity, uint32(len(e.security)))
	}
	return nil
}

// tok maps an input token to its output token. A token with no output row
// records an unresolved reference error.
func (e *emitter) tok(t metadata.Token) metadata.Token {
	if t.IsNil() || t.Table() == metadata.TableUserString {
		return t
	}
	if n, ok := e.remap[t]; ok {
		return n
	}
	if e.err == nil {
		e.err = errors.Unresolved(errors.PhaseWrite, uint32(t), "referenced declaration is not part of the written module", nil)
	}
	return t
}

func (e *emitter) rid(t metadata.Token) uint32 {
	if t.IsNil() {
		return 0
	}
	return e.tok(t).RID()
}

func (e *emitter) coded(kind metadata.CodedKind, t metadata.Token) uint32 {
	v, err := metadata.Coded(kind).Encode(e.tok(t))
	if err != nil && e.err == nil {
		e.err = err
	}
	return v
}

func (e *emitter) fail(err error) {
	if err != nil && e.err == nil {
		e.err = err
	}
}

func hint(d Declaration, col int) uint32 { return d.decl().orig[col] }

func (e *emitter) str(s string, d Declaration, col int) uint32 {
	return e.strings.AddAt(s, hint(d, col))
}

func (e *emitter) blob(data []byte, d Declaration, col int) uint32 {
	off, err := e.blobs.AddAt(data, hint(d, col))
	e.fail(err)
	return off
}

func (e *emitter) addBlob(data []byte) uint32 {
	off, err := e.blobs.Add(data)
	e.fail(err)
	return off
}

func (e *emitter) mapType(t signature.Type) signature.Type {
	if t == nil {
		return nil
	}
	return signature.Map(t, e.tok)
}

func (e *emitter) mapTypes(ts []signature.Type) []signature.Type {
	if ts == nil {
		return nil
	}
	out := make([]signature.Type, len(ts))
	for i, t := range ts {
		out[i] = e.mapType(t)
	}
	return out
}

func (e *emitter) fieldSig(s *signature.FieldSig) []byte {
	if s == nil {
		e.fail(errors.InvalidInput(errors.PhaseWrite, "field without signature"))
		return nil
	}
	b, err := signature.EncodeField(&signature.FieldSig{Type: e.mapType(s.Type)})
	e.fail(err)
	return b
}

func (e *emitter) methodSig(s *signature.MethodSig) []byte {
	if s == nil {
		e.fail(errors.InvalidInput(errors.PhaseWrite, "method without signature"))
		return nil
	}
	b, err := signature.EncodeMethod(signature.MapMethod(s, e.tok))
	e.fail(err)
	return b
}

// payload encodes method bodies, field data and embedded resources.
func (e *emitter) payload() error {
	for i, md := range e.methods {
		if i%ctxCheckInterval == 0 {
			if err := e.ctx.Err(); err != nil {
				return err
			}
		}
		b, err := e.body(md)
		if err != nil {
			return err
		}
		if b != nil {
			e.bodyOf[md] = len(e.bodies)
			e.bodies = append(e.bodies, b)
		}
	}
	for _, f := range e.fields {
		data, err := f.InitialValue()
		if err != nil {
			return err
		}
		if data != nil {
			e.dataOf[f] = len(e.fieldData)
			e.fieldData = append(e.fieldData, data)
		}
	}
	for _, d := range e.refs[metadata.TableManifestResource] {
		r := d.(*ManifestResource)
		if !r.Embedded() {
			continue
		}
		data, err := r.Data()
		if err != nil {
			return err
		}
		e.resOf[r] = len(e.resources)
		e.resources = append(e.resources, data)
	}
	return e.err
}

// body returns the encoded body of md. A body never decoded by the caller
// is copied verbatim when none of its tokens move.
func (e *emitter) body(md *MethodDef) ([]byte, error) {
	if md.body == nil {
		raw, err := md.RawBody()
		if err != nil || raw == nil {
			return nil, err
		}
		b, err := il.Decode(raw, 0)
		if err != nil {
			return nil, err
		}
		identity := true
		for _, t := range b.Tokens() {
			if e.tok(t) != t {
				identity = false
			}
		}
		if e.err != nil {
			return nil, e.err
		}
		if identity {
			return raw, nil
		}
		return e.remapBody(b)
	}
	enc, err := il.Encode(md.body)
	if err != nil {
		return nil, err
	}
	b, err := il.Decode(enc, 0)
	if err != nil {
		return nil, err
	}
	return e.remapBody(b)
}

func (e *emitter) remapBody(b *il.Body) ([]byte, error) {
	err := b.RemapTokens(func(t metadata.Token) (metadata.Token, error) {
		n := e.tok(t)
		return n, e.err
	})
	if err != nil {
		return nil, err
	}
	return il.Encode(b)
}

func (e *emitter) layout() *peimage.Layout {
	m := e.m
	l := &peimage.Layout{
		Bodies:     e.bodies,
		FieldData:  e.fieldData,
		Resources:  e.resources,
		EntryPoint: uint32(e.tok(m.EntryPoint)),
		Flags:      m.Flags,
		DLL:        m.DLL,
	}
	if im := m.image; im != nil {
		l.Subsystem = im.Subsystem
		l.TimeDateStamp = im.TimeDateStamp
		l.RuntimeMajor = im.CLI.MajorRuntimeVersion
		l.RuntimeMinor = im.CLI.MinorRuntimeVersion
		if !im.PE32Plus && im.ImageBase <= 0xFFFFFFFF {
			l.ImageBase = uint32(im.ImageBase)
		}
		l.StrongNameSize = im.StrongNameSize()
	}
	if n := len(e.opts.StrongNameKey); n > 0 {
		l.StrongNameSize = defaultStrongName
		if n > strongNameOverhead {
			l.StrongNameSize = uint32(n - strongNameOverhead)
		}
	}
	return l
}

// metadata builds the tables and heaps and returns the metadata root.
func (e *emitter) metadata(place *peimage.Placement) ([]byte, error) {
	m := e.m
	e.tb = metadata.NewTableBuilder()
	if ts := m.tables; ts != nil {
		h := ts.Header
		if !e.opts.PreserveHeapSizes {
			h.HeapSizes &^= metadata.HeapStringsWide | metadata.HeapGUIDWide | metadata.HeapBlobWide
		}
		h.Sorted |= metadata.DefaultSortedMask
		e.tb.Header = h
	}

	e.moduleRows()
	e.typeRows(place)
	e.auxRows()
	e.refRows(place)
	e.genericRows()
	e.attributeRows()
	if e.err != nil {
		return nil, e.err
	}
	for t := metadata.TableID(0); t < metadata.TableCount; t++ {
		if _, ok := metadata.SortKey(t); ok {
			e.tb.Sort(t)
		}
	}

	tables, err := e.tb.Encode(e.strings.Len(), e.guids.Count(), e.blobs.Len())
	if err != nil {
		return nil, err
	}
	us := m.userStringHeap()
	major, minor := uint16(1), uint16(1)
	if m.tables != nil {
		major, minor = m.tables.Root.MajorVersion, m.tables.Root.MinorVersion
	}
	return metadata.EncodeRoot(m.RuntimeVersion, major, minor, []metadata.StreamData{
		{Name: metadata.StreamTables, Data: tables},
		{Name: metadata.StreamStrings, Data: e.strings.Bytes()},
		{Name: metadata.StreamUserStrings, Data: us.Bytes()},
		{Name: metadata.StreamGUID, Data: e.guids.Bytes()},
		{Name: metadata.StreamBlob, Data: e.blobs.Bytes()},
	}), nil
}

func (e *emitter) moduleRows() {
	d := e.m.def
	e.tb.Add(metadata.TableModule, metadata.Row{
		uint32(d.Generation),
		e.str(d.Name, d, 1),
		e.guids.AddAt(d.Mvid, hint(d, 2)),
		e.guids.AddAt(d.EncID, hint(d, 3)),
		e.guids.AddAt(d.EncBaseID, hint(d, 4)),
	})
	if a := e.m.assembly; a != nil {
		e.tb.Add(metadata.TableAssembly, metadata.Row{
			a.HashAlgorithm,
			uint32(a.Version.Major), uint32(a.Version.Minor), uint32(a.Version.Build), uint32(a.Version.Revision),
			a.Flags,
			e.blob(a.PublicKey, a, 6),
			e.str(a.Name, a, 7),
			e.str(a.Culture, a, 8),
		})
	}
}

func (e *emitter) constant(c *Constant, parent metadata.Token) {
	if c == nil {
		return
	}
	e.tb.Add(metadata.TableConstant, metadata.Row{
		uint32(c.Type),
		e.coded(metadata.CodedHasConstant, parent),
		e.addBlob(c.Value),
	})
}

func (e *emitter) marshal(t marshal.Type, parent metadata.Token) {
	if t == nil {
		return
	}
	b, err := marshal.Encode(t)
	e.fail(err)
	e.tb.Add(metadata.TableFieldMarshal, metadata.Row{
		e.coded(metadata.CodedHasFieldMarshal, parent),
		e.addBlob(b),
	})
}

func (e *emitter) pinvoke(p *PInvokeInfo, owner metadata.Token) {
	if p == nil {
		return
	}
	e.tb.Add(metadata.TableImplMap, metadata.Row{
		uint32(p.Flags),
		e.coded(metadata.CodedMemberForwarded, owner),
		e.strings.Add(p.ImportName),
		e.rid(p.Scope),
	})
}

func (e *emitter) typeRows(place *peimage.Placement) {
	for i, t := range e.types {
		e.tb.Add(metadata.TableTypeDef, metadata.Row{
			t.flags,
			e.str(t.name, t, 1),
			e.str(t.namespace, t, 2),
			e.coded(metadata.CodedTypeDefOrRef, t.extends),
			e.fieldStart[i],
			e.methodStart[i],
		})
	}
	for _, f := range e.fields {
		flags := f.flags
		idx, hasData := e.dataOf[f]
		if hasData {
			flags |= FieldHasFieldRVA
		}
		e.tb.Add(metadata.TableField, metadata.Row{
			uint32(flags),
			e.str(f.name, f, 1),
			e.blob(e.fieldSig(f.Signature), f, 2),
		})
		tok := f.token
		e.constant(f.Constant, tok)
		e.marshal(f.Marshal, tok)
		e.pinvoke(f.PInvoke, tok)
		if f.Offset != nil {
			e.tb.Add(metadata.TableFieldLayout, metadata.Row{*f.Offset, e.rid(tok)})
		}
		if hasData {
			e.tb.Add(metadata.TableFieldRVA, metadata.Row{place.FieldDataRVAs[idx], e.rid(tok)})
		}
	}
	for i, md := range e.methods {
		var rva uint32
		if idx, ok := e.bodyOf[md]; ok {
			rva = place.BodyRVAs[idx]
		}
		e.tb.Add(metadata.TableMethodDef, metadata.Row{
			rva,
			uint32(md.implFlags),
			uint32(md.flags),
			e.str(md.name, md, 3),
			e.blob(e.methodSig(md.Signature), md, 4),
			e.paramStart[i],
		})
		e.pinvoke(md.PInvoke, md.token)
	}
	for _, p := range e.params {
		e.tb.Add(metadata.TableParam, metadata.Row{
			uint32(p.flags),
			uint32(p.Sequence),
			e.str(p.name, p, 2),
		})
		e.constant(p.Constant, p.token)
		e.marshal(p.Marshal, p.token)
	}
	for _, ii := range e.ifaces {
		e.tb.Add(metadata.TableInterfaceImpl, metadata.Row{
			e.rid(ii.Class),
			e.coded(metadata.CodedTypeDefOrRef, ii.Interface),
		})
	}
}

// auxRows emits the rows hanging off types: maps, layout, nesting,
// overrides, semantics and security.
func (e *emitter) auxRows() {
	for i, t := range e.types {
		rid := uint32(i + 1)
		end := uint32(len(e.properties) + 1)
		if i+1 < len(e.propStart) {
			end = e.propStart[i+1]
		}
		if e.propStart[i] < end {
			e.tb.Add(metadata.TablePropertyMap, metadata.Row{rid, e.propStart[i]})
		}
		end = uint32(len(e.events) + 1)
		if i+1 < len(e.eventStart) {
			end = e.eventStart[i+1]
		}
		if e.eventStart[i] < end {
			e.tb.Add(metadata.TableEventMap, metadata.Row{rid, e.eventStart[i]})
		}
		if t.layout != nil {
			e.tb.Add(metadata.TableClassLayout, metadata.Row{uint32(t.layout.PackingSize), t.layout.ClassSize, rid})
		}
		if enc, err := t.enclosingToken(); err != nil {
			e.fail(err)
		} else if !enc.IsNil() {
			e.tb.Add(metadata.TableNestedClass, metadata.Row{rid, e.rid(enc)})
		}
		for _, o := range t.overrides {
			e.tb.Add(metadata.TableMethodImpl, metadata.Row{
				rid,
				e.coded(metadata.CodedMethodDefOrRef, o.Body),
				e.coded(metadata.CodedMethodDefOrRef, o.Declaration),
			})
		}
	}
	for _, p := range e.properties {
		e.tb.Add(metadata.TableProperty, metadata.Row{
			uint32(p.flags),
			e.str(p.name, p, 1),
			e.blob(e.propertySig(p.Signature), p, 2),
		})
		e.constant(p.Constant, p.token)
		e.semantics(p.Semantics, p.token)
	}
	for _, ev := range e.events {
		e.tb.Add(metadata.TableEvent, metadata.Row{
			uint32(ev.flags),
			e.str(ev.name, ev, 1),
			e.coded(metadata.CodedTypeDefOrRef, ev.EventType),
		})
		e.semantics(ev.Semantics, ev.token)
	}
	for i, ps := range e.security {
		e.tb.Add(metadata.TableDeclSecurity, metadata.Row{
			uint32(ps.Action),
			e.coded(metadata.CodedHasDeclSecurity, e.secOwners[i]),
			e.blob(ps.Value, ps, 2),
		})
	}
}

func (e *emitter) propertySig(s *signature.PropertySig) []byte {
	if s == nil {
		e.fail(errors.InvalidInput(errors.PhaseWrite, "property without signature"))
		return nil
	}
	b, err := signature.EncodeProperty(&signature.PropertySig{
		Type:    e.mapType(s.Type),
		Params:  e.mapTypes(s.Params),
		HasThis: s.HasThis,
	})
	e.fail(err)
	return b
}

func (e *emitter) semantics(sems []Semantic, assoc metadata.Token) {
	for _, s := range sems {
		e.tb.Add(metadata.TableMethodSemantics, metadata.Row{
			uint32(s.Kind),
			e.rid(s.Method),
			e.coded(metadata.CodedHasSemantics, assoc),
		})
	}
}

func (e *emitter) refRows(place *peimage.Placement) {
	for _, d := range e.refs[metadata.TableTypeRef] {
		r := d.(*TypeRef)
		e.tb.Add(metadata.TableTypeRef, metadata.Row{
			e.coded(metadata.CodedResolutionScope, r.Scope),
			e.str(r.Name, r, 1),
			e.str(r.Namespace, r, 2),
		})
	}
	for _, d := range e.refs[metadata.TableMemberRef] {
		r := d.(*MemberRef)
		var sig []byte
		if r.FieldSig != nil {
			sig = e.fieldSig(r.FieldSig)
		} else {
			sig = e.methodSig(r.MethodSig)
		}
		e.tb.Add(metadata.TableMemberRef, metadata.Row{
			e.coded(metadata.CodedMemberRefParent, r.Parent),
			e.str(r.Name, r, 1),
			e.blob(sig, r, 2),
		})
	}
	for _, d := range e.refs[metadata.TableStandAloneSig] {
		s := d.(*StandaloneSignature)
		var (
			b   []byte
			err error
		)
		if s.Locals != nil {
			b, err = signature.EncodeLocals(&signature.LocalVarSig{Locals: e.mapTypes(s.Locals.Locals)})
		} else {
			b = e.methodSig(s.Method)
		}
		e.fail(err)
		e.tb.Add(metadata.TableStandAloneSig, metadata.Row{e.blob(b, s, 0)})
	}
	for _, d := range e.refs[metadata.TableModuleRef] {
		r := d.(*ModuleRef)
		e.tb.Add(metadata.TableModuleRef, metadata.Row{e.str(r.Name, r, 0)})
	}
	for _, d := range e.refs[metadata.TableTypeSpec] {
		s := d.(*TypeSpec)
		b, err := signature.EncodeType(e.mapType(s.Signature))
		e.fail(err)
		e.tb.Add(metadata.TableTypeSpec, metadata.Row{e.blob(b, s, 0)})
	}
	for _, d := range e.refs[metadata.TableAssemblyRef] {
		r := d.(*AssemblyRef)
		e.tb.Add(metadata.TableAssemblyRef, metadata.Row{
			uint32(r.Version.Major), uint32(r.Version.Minor), uint32(r.Version.Build), uint32(r.Version.Revision),
			r.Flags,
			e.blob(r.PublicKeyOrToken, r, 5),
			e.str(r.Name, r, 6),
			e.str(r.Culture, r, 7),
			e.blob(r.HashValue, r, 8),
		})
	}
	for _, d := range e.refs[metadata.TableFile] {
		f := d.(*FileDef)
		e.tb.Add(metadata.TableFile, metadata.Row{f.Flags, e.str(f.Name, f, 1), e.blob(f.HashValue, f, 2)})
	}
	for _, d := range e.refs[metadata.TableExportedType] {
		x := d.(*ExportedType)
		e.tb.Add(metadata.TableExportedType, metadata.Row{
			x.Flags,
			x.TypeDefID,
			e.str(x.Name, x, 2),
			e.str(x.Namespace, x, 3),
			e.coded(metadata.CodedImplementation, x.Implementation),
		})
	}
	for _, d := range e.refs[metadata.TableManifestResource] {
		r := d.(*ManifestResource)
		off := r.offset
		if idx, ok := e.resOf[r]; ok {
			off = place.ResourceOffsets[idx]
		}
		e.tb.Add(metadata.TableManifestResource, metadata.Row{
			off,
			r.Flags,
			e.str(r.Name, r, 2),
			e.coded(metadata.CodedImplementation, r.Implementation),
		})
	}
	for _, d := range e.refs[metadata.TableMethodSpec] {
		s := d.(*MethodSpec)
		var args []signature.Type
		if s.Instantiation != nil {
			args = e.mapTypes(s.Instantiation.Args)
		}
		b, err := signature.EncodeMethodSpec(&signature.MethodSpecSig{Args: args})
		e.fail(err)
		e.tb.Add(metadata.TableMethodSpec, metadata.Row{
			e.coded(metadata.CodedMethodDefOrRef, s.Method),
			e.blob(b, s, 1),
		})
	}
}

func (e *emitter) genericRows() {
	for _, gp := range e.gps {
		e.tb.Add(metadata.TableGenericParam, metadata.Row{
			uint32(gp.Number),
			uint32(gp.Flags),
			e.coded(metadata.CodedTypeOrMethodDef, gp.Owner),
			e.str(gp.Name, gp, 3),
		})
	}
	for i, c := range e.gpcs {
		e.tb.Add(metadata.TableGenericParamConstraint, metadata.Row{
			e.rid(e.gpcOwners[i]),
			e.coded(metadata.CodedTypeDefOrRef, c.Constraint),
		})
	}
}

func (e *emitter) attributeRows() {
	for _, a := range e.attributed {
		cas, err := a.CustomAttributes()
		if err != nil {
			e.fail(err)
			return
		}
		for _, ca := range cas {
			e.tb.Add(metadata.TableCustomAttribute, metadata.Row{
				e.coded(metadata.CodedHasCustomAttribute, a.Token()),
				e.coded(metadata.CodedCustomAttributeType, ca.Constructor),
				e.blob(ca.Value, ca, 2),
			})
		}
	}
}
