package model

import (
	"context"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/peimage"
)

// DefaultRuntimeVersion is the metadata version string of new modules.
const DefaultRuntimeVersion = "v4.0.30319"

// ReadStrategy loads a file into memory. release, when not nil, is called
// once the module built from data is closed.
type ReadStrategy func(path string) (data []byte, release func() error, err error)

// ReadWholeFile reads the file with os.ReadFile.
func ReadWholeFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	return data, nil, err
}

type options struct {
	resolver AssemblyResolver
	logger   *zap.Logger
	read     ReadStrategy
}

// Option configures Load and LoadFile.
type Option func(*options)

// WithAssemblyResolver sets the resolver consulted for types defined in
// other assemblies.
func WithAssemblyResolver(r AssemblyResolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithLogger overrides the package logger for one module.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReadStrategy sets how LoadFile reads its input.
func WithReadStrategy(s ReadStrategy) Option {
	return func(o *options) { o.read = s }
}

// Module is the declaration graph of one managed module. A Module is not safe
// for concurrent use.
type Module struct {
	tables   *metadata.TableStore
	image    *peimage.Image
	release  func() error
	resolver AssemblyResolver
	log      *zap.Logger

	cache    map[metadata.Token]Declaration
	inflight map[metadata.Token]bool
	next     [metadata.TableCount]uint32
	lists    [metadata.TableCount][]Declaration
	listed   [metadata.TableCount]bool

	userStrings *metadata.UserStringHeapBuilder
	newStrings  map[uint32]string

	def      *ModuleDef
	assembly *AssemblyDef
	frozen   bool

	// RuntimeVersion is the metadata root version string.
	RuntimeVersion string
	// EntryPoint is a MethodDef token, or nil for libraries.
	EntryPoint metadata.Token
	// Flags are the CLI header flags.
	Flags uint32
	DLL   bool
}

func newModule(o *options) *Module {
	m := &Module{
		resolver:   o.resolver,
		log:        o.logger,
		cache:      make(map[metadata.Token]Declaration),
		inflight:   make(map[metadata.Token]bool),
		newStrings: make(map[uint32]string),
	}
	if m.log == nil {
		m.log = Logger()
	}
	return m
}

func collect(opts []Option) *options {
	o := &options{read: ReadWholeFile}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New returns an empty library module holding the <Module> type. When
// assembly is not empty the module also defines an assembly of that name.
func New(name, assembly string, opts ...Option) *Module {
	m := newModule(collect(opts))
	m.RuntimeVersion = DefaultRuntimeVersion
	m.Flags = peimage.FlagILOnly
	m.DLL = true

	m.def = &ModuleDef{Name: name, Mvid: uuid.New()}
	m.register(m.def, m.allocate(metadata.TableModule))
	global := &TypeDef{name: "<Module>"}
	global.membersLoaded = true
	global.attrsLoaded = true
	m.register(global, m.allocate(metadata.TableTypeDef))
	m.lists[metadata.TableTypeDef] = []Declaration{global}
	for t := range m.listed {
		m.listed[t] = true
	}
	if assembly != "" {
		m.assembly = &AssemblyDef{Name: assembly, HashAlgorithm: 0x8004, securityLoaded: true}
		m.assembly.attrsLoaded = true
		m.register(m.assembly, m.allocate(metadata.TableAssembly))
	}
	m.def.attrsLoaded = true
	return m
}

// Load builds a module from a PE image held in memory. data must stay
// unchanged for the life of the module. No module is returned on error.
func Load(ctx context.Context, data []byte, opts ...Option) (*Module, error) {
	return load(ctx, data, nil, collect(opts))
}

// LoadFile reads path with the configured ReadStrategy and loads it.
func LoadFile(ctx context.Context, path string, opts ...Option) (*Module, error) {
	o := collect(opts)
	data, release, err := o.read(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, path)
	}
	m, err := load(ctx, data, release, o)
	if err != nil && release != nil {
		_ = release()
	}
	return m, err
}

func load(ctx context.Context, data []byte, release func() error, o *options) (*Module, error) {
	im, err := peimage.Read(data)
	if err != nil {
		return nil, err
	}
	md, off, err := im.Metadata()
	if err != nil {
		return nil, err
	}
	ts, err := metadata.Load(ctx, md, off)
	if err != nil {
		return nil, err
	}
	if ts.RowCount(metadata.TableModule) == 0 {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformedMetadata).
			Table(metadata.TableModule.String()).
			Detail("module table is empty").
			Build()
	}

	m := newModule(o)
	m.tables = ts
	m.image = im
	m.release = release
	m.RuntimeVersion = ts.Root.Version
	m.EntryPoint = metadata.Token(im.CLI.EntryPoint)
	m.Flags = im.CLI.Flags
	m.DLL = im.IsDLL()
	for t := metadata.TableID(0); t < metadata.TableCount; t++ {
		m.next[t] = ts.RowCount(t)
	}
	for _, t := range []metadata.TableID{metadata.TableENCLog, metadata.TableENCMap} {
		if n := ts.RowCount(t); n > 0 {
			m.log.Warn("edit-and-continue table ignored", zap.Stringer("table", t), zap.Uint32("rows", n))
		}
	}

	if m.def, err = resolveAs[*ModuleDef](m, metadata.NewToken(metadata.TableModule, 1)); err != nil {
		return nil, err
	}
	if ts.RowCount(metadata.TableAssembly) > 0 {
		if m.assembly, err = resolveAs[*AssemblyDef](m, metadata.NewToken(metadata.TableAssembly, 1)); err != nil {
			return nil, err
		}
	}
	m.log.Debug("module loaded",
		zap.String("name", m.def.Name),
		zap.Int("tables", ts.TableCountPresent()),
		zap.Uint32("types", ts.RowCount(metadata.TableTypeDef)))
	return m, nil
}

// Close releases the input buffer when the module was loaded with a
// ReadStrategy that maps files.
func (m *Module) Close() error {
	if m.release == nil {
		return nil
	}
	r := m.release
	m.release = nil
	return r()
}

// Tables returns the raw table store, or nil for a module built with New.
func (m *Module) Tables() *metadata.TableStore { return m.tables }

// Image returns the PE image the module was loaded from, or nil.
func (m *Module) Image() *peimage.Image { return m.image }

// Def returns the Module row.
func (m *Module) Def() *ModuleDef { return m.def }

// Name returns the module name.
func (m *Module) Name() string { return m.def.Name }

// Assembly returns the assembly manifest, or nil for a netmodule.
func (m *Module) Assembly() *AssemblyDef { return m.assembly }

// Frozen reports whether Freeze has been called.
func (m *Module) Frozen() bool { return m.frozen }

// Freeze makes the graph read-only. Write freezes the module before it
// starts emitting.
func (m *Module) Freeze() { m.frozen = true }

func (m *Module) mutable() error {
	if m.frozen {
		return errors.Frozen("module " + m.def.Name)
	}
	return nil
}

// allocate returns a fresh token above every loaded and allocated row.
func (m *Module) allocate(t metadata.TableID) metadata.Token {
	m.next[t]++
	return metadata.NewToken(t, m.next[t])
}

func (m *Module) register(d Declaration, tok metadata.Token) {
	b := d.decl()
	b.module = m
	b.token = tok
	m.cache[tok] = d
}

// adopt gives a declaration built by the caller a token in this module.
func (m *Module) adopt(d Declaration, t metadata.TableID) error {
	if err := m.mutable(); err != nil {
		return err
	}
	b := d.decl()
	if b.module != nil {
		if b.module != m {
			return errors.InvalidInput(errors.PhaseModel, "declaration belongs to another module")
		}
		return nil
	}
	m.register(d, m.allocate(t))
	return nil
}

// list returns every declaration of a module-level table in row order.
func (m *Module) list(t metadata.TableID) ([]Declaration, error) {
	if m.listed[t] {
		return m.lists[t], nil
	}
	var out []Declaration
	if m.tables != nil {
		n := m.tables.RowCount(t)
		out = make([]Declaration, 0, n)
		for rid := uint32(1); rid <= n; rid++ {
			d, err := m.Resolve(metadata.NewToken(t, rid))
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	m.lists[t] = out
	m.listed[t] = true
	return out, nil
}

func listOf[T Declaration](m *Module, t metadata.TableID) ([]T, error) {
	ds, err := m.list(t)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(ds))
	for i, d := range ds {
		out[i] = d.(T)
	}
	return out, nil
}

func (m *Module) appendList(t metadata.TableID, d Declaration) error {
	if _, err := m.list(t); err != nil {
		return err
	}
	m.lists[t] = append(m.lists[t], d)
	return nil
}

// AllTypes returns every TypeDef, nested ones included, in row order.
func (m *Module) AllTypes() ([]*TypeDef, error) { return listOf[*TypeDef](m, metadata.TableTypeDef) }

// Types returns the top-level types in row order.
func (m *Module) Types() ([]*TypeDef, error) {
	all, err := m.AllTypes()
	if err != nil {
		return nil, err
	}
	var out []*TypeDef
	for _, t := range all {
		enc, err := t.enclosingToken()
		if err != nil {
			return nil, err
		}
		if enc.IsNil() {
			out = append(out, t)
		}
	}
	return out, nil
}

// TypeRefs returns the type references in row order.
func (m *Module) TypeRefs() ([]*TypeRef, error) { return listOf[*TypeRef](m, metadata.TableTypeRef) }

// TypeSpecs returns the type specifications in row order.
func (m *Module) TypeSpecs() ([]*TypeSpec, error) { return listOf[*TypeSpec](m, metadata.TableTypeSpec) }

// MemberRefs returns the member references in row order.
func (m *Module) MemberRefs() ([]*MemberRef, error) {
	return listOf[*MemberRef](m, metadata.TableMemberRef)
}

// MethodSpecs returns the generic method instantiations in row order.
func (m *Module) MethodSpecs() ([]*MethodSpec, error) {
	return listOf[*MethodSpec](m, metadata.TableMethodSpec)
}

// StandaloneSignatures returns the standalone signatures in row order.
func (m *Module) StandaloneSignatures() ([]*StandaloneSignature, error) {
	return listOf[*StandaloneSignature](m, metadata.TableStandAloneSig)
}

// ModuleRefs returns the module references in row order.
func (m *Module) ModuleRefs() ([]*ModuleRef, error) {
	return listOf[*ModuleRef](m, metadata.TableModuleRef)
}

// AssemblyRefs returns the assembly references in row order.
func (m *Module) AssemblyRefs() ([]*AssemblyRef, error) {
	return listOf[*AssemblyRef](m, metadata.TableAssemblyRef)
}

// Files returns the File rows in row order.
func (m *Module) Files() ([]*FileDef, error) { return listOf[*FileDef](m, metadata.TableFile) }

// ExportedTypes returns the exported types and forwarders in row order.
func (m *Module) ExportedTypes() ([]*ExportedType, error) {
	return listOf[*ExportedType](m, metadata.TableExportedType)
}

// Resources returns the manifest resources in row order.
func (m *Module) Resources() ([]*ManifestResource, error) {
	return listOf[*ManifestResource](m, metadata.TableManifestResource)
}

// FindType returns the type with the given full name ("Ns.Outer/Inner"), or
// nil.
func (m *Module) FindType(fullName string) (*TypeDef, error) {
	all, err := m.AllTypes()
	if err != nil {
		return nil, err
	}
	for _, t := range all {
		name, err := t.FullName()
		if err != nil {
			return nil, err
		}
		if name == fullName {
			return t, nil
		}
	}
	return nil, nil
}

// UserString returns the literal behind an ldstr token.
func (m *Module) UserString(tok metadata.Token) (string, error) {
	if tok.Table() != metadata.TableUserString {
		return "", errors.InvalidInput(errors.PhaseResolve, tok.String()+" is not a user string token")
	}
	if s, ok := m.newStrings[tok.RID()]; ok {
		return s, nil
	}
	if m.tables == nil || m.tables.UserStrings == nil {
		return "", errors.Unresolved(errors.PhaseResolve, uint32(tok), "module has no #US heap", nil)
	}
	return m.tables.UserStrings.Get(tok.RID())
}

func (m *Module) userStringHeap() *metadata.UserStringHeapBuilder {
	if m.userStrings == nil {
		var seed *metadata.UserStringHeap
		if m.tables != nil {
			seed = m.tables.UserStrings
		}
		m.userStrings = metadata.NewUserStringHeapBuilder(seed)
	}
	return m.userStrings
}

// NewUserString interns s in the #US heap and returns its ldstr token.
func (m *Module) NewUserString(s string) (metadata.Token, error) {
	if err := m.mutable(); err != nil {
		return 0, err
	}
	off, err := m.userStringHeap().Add(s)
	if err != nil {
		return 0, err
	}
	if off > metadata.MaxRID {
		return 0, errors.EncodingOverflow("#US", "offset", uint64(off), 3)
	}
	m.newStrings[off] = s
	return metadata.NewToken(metadata.TableUserString, off), nil
}
