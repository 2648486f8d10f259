package model

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
)

// Assembly flag bits.
const (
	AssemblyPublicKey    uint32 = 0x0001
	AssemblyRetargetable uint32 = 0x0100
)

// maxForwardDepth bounds chains of type forwarders.
const maxForwardDepth = 16

// AssemblyResolver locates the module that defines an assembly.
type AssemblyResolver interface {
	Resolve(ctx context.Context, name AssemblyName) (*Module, error)
}

// Version is a four-part assembly version.
type Version struct {
	Major, Minor, Build, Revision uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// AssemblyName identifies an assembly. PublicKeyOrToken holds the full key
// when Flags has AssemblyPublicKey, the 8-byte token otherwise.
type AssemblyName struct {
	Name             string
	Version          Version
	Culture          string
	PublicKeyOrToken []byte
	Flags            uint32
}

// PublicKeyToken returns the 8-byte token, computing it from a full key.
func (n AssemblyName) PublicKeyToken() []byte {
	if n.Flags&AssemblyPublicKey == 0 || len(n.PublicKeyOrToken) == 0 {
		return n.PublicKeyOrToken
	}
	sum := sha1.Sum(n.PublicKeyOrToken)
	tok := make([]byte, 8)
	for i := range tok {
		tok[i] = sum[len(sum)-1-i]
	}
	return tok
}

// String renders the display name: "Name, Version=..., Culture=...,
// PublicKeyToken=...".
func (n AssemblyName) String() string {
	culture := n.Culture
	if culture == "" {
		culture = "neutral"
	}
	pkt := "null"
	if t := n.PublicKeyToken(); len(t) > 0 {
		pkt = hex.EncodeToString(t)
	}
	return fmt.Sprintf("%s, Version=%s, Culture=%s, PublicKeyToken=%s", n.Name, n.Version, culture, pkt)
}

// ModuleDef is the Module row.
type ModuleDef struct {
	attributed
	Name       string
	Mvid       uuid.UUID
	Generation uint16
	EncID      uuid.UUID
	EncBaseID  uuid.UUID
}

func (d *ModuleDef) fill(row metadata.Row) error {
	m := d.module
	var err error
	d.Generation = uint16(row[0])
	if d.Name, err = m.str(row[1]); err != nil {
		return err
	}
	if d.Mvid, err = m.guid(row[2]); err != nil {
		return err
	}
	if d.EncID, err = m.guid(row[3]); err != nil {
		return err
	}
	d.EncBaseID, err = m.guid(row[4])
	return err
}

// AssemblyDef is the assembly manifest of the module.
type AssemblyDef struct {
	attributed
	Name          string
	Culture       string
	Version       Version
	Flags         uint32
	HashAlgorithm uint32
	PublicKey     []byte

	security       []*PermissionSet
	securityLoaded bool
}

func (a *AssemblyDef) fill(row metadata.Row) error {
	m := a.module
	var err error
	a.HashAlgorithm = row[0]
	a.Version = Version{uint16(row[1]), uint16(row[2]), uint16(row[3]), uint16(row[4])}
	a.Flags = row[5]
	if a.PublicKey, _, err = m.blob(row[6]); err != nil {
		return err
	}
	if a.Name, err = m.str(row[7]); err != nil {
		return err
	}
	a.Culture, err = m.str(row[8])
	return err
}

// AssemblyName returns the identity of the assembly.
func (a *AssemblyDef) AssemblyName() AssemblyName {
	n := AssemblyName{Name: a.Name, Version: a.Version, Culture: a.Culture, PublicKeyOrToken: a.PublicKey}
	if len(a.PublicKey) > 0 {
		n.Flags = AssemblyPublicKey
	}
	return n
}

// Security returns the assembly-level declarative security.
func (a *AssemblyDef) Security() ([]*PermissionSet, error) {
	if !a.securityLoaded {
		if a.loaded() {
			ps, err := a.module.permissionSets(a.token)
			if err != nil {
				return nil, err
			}
			a.security = ps
		}
		a.securityLoaded = true
	}
	return a.security, nil
}

// AssemblyRef references another assembly.
type AssemblyRef struct {
	attributed
	Name             string
	Culture          string
	Version          Version
	Flags            uint32
	PublicKeyOrToken []byte
	HashValue        []byte
}

func (r *AssemblyRef) fill(row metadata.Row) error {
	m := r.module
	var err error
	r.Version = Version{uint16(row[0]), uint16(row[1]), uint16(row[2]), uint16(row[3])}
	r.Flags = row[4]
	if r.PublicKeyOrToken, _, err = m.blob(row[5]); err != nil {
		return err
	}
	if r.Name, err = m.str(row[6]); err != nil {
		return err
	}
	if r.Culture, err = m.str(row[7]); err != nil {
		return err
	}
	r.HashValue, _, err = m.blob(row[8])
	return err
}

// AssemblyName returns the referenced identity.
func (r *AssemblyRef) AssemblyName() AssemblyName {
	return AssemblyName{
		Name:             r.Name,
		Version:          r.Version,
		Culture:          r.Culture,
		PublicKeyOrToken: r.PublicKeyOrToken,
		Flags:            r.Flags,
	}
}

// NewAssemblyRef adds a reference to the named assembly.
func (m *Module) NewAssemblyRef(name AssemblyName) (*AssemblyRef, error) {
	r := &AssemblyRef{
		Name:             name.Name,
		Culture:          name.Culture,
		Version:          name.Version,
		Flags:            name.Flags,
		PublicKeyOrToken: name.PublicKeyOrToken,
	}
	r.attrsLoaded = true
	if err := m.adopt(r, metadata.TableAssemblyRef); err != nil {
		return nil, err
	}
	return r, m.appendList(metadata.TableAssemblyRef, r)
}

// FindAssemblyRef returns the first reference with the given simple name,
// or nil.
func (m *Module) FindAssemblyRef(name string) (*AssemblyRef, error) {
	refs, err := m.AssemblyRefs()
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return nil, nil
}

// ModuleRef names another module file or a native library.
type ModuleRef struct {
	attributed
	Name string
}

func (r *ModuleRef) fill(row metadata.Row) error {
	var err error
	r.Name, err = r.module.str(row[0])
	return err
}

// NewModuleRef adds a module reference.
func (m *Module) NewModuleRef(name string) (*ModuleRef, error) {
	r := &ModuleRef{Name: name}
	r.attrsLoaded = true
	if err := m.adopt(r, metadata.TableModuleRef); err != nil {
		return nil, err
	}
	return r, m.appendList(metadata.TableModuleRef, r)
}

// FileDef is a File row of a multi-file assembly.
type FileDef struct {
	attributed
	Flags     uint32
	Name      string
	HashValue []byte
}

func (f *FileDef) fill(row metadata.Row) error {
	var err error
	f.Flags = row[0]
	if f.Name, err = f.module.str(row[1]); err != nil {
		return err
	}
	f.HashValue, _, err = f.module.blob(row[2])
	return err
}

// ExportedType is a type exported from another module of the assembly, or a
// forwarder to another assembly.
type ExportedType struct {
	attributed
	Flags     uint32
	TypeDefID uint32
	Name      string
	Namespace string
	// Implementation is a File, AssemblyRef or enclosing ExportedType.
	Implementation metadata.Token
}

func (e *ExportedType) fill(row metadata.Row) error {
	m := e.module
	var err error
	e.Flags = row[0]
	e.TypeDefID = row[1]
	if e.Name, err = m.str(row[2]); err != nil {
		return err
	}
	if e.Namespace, err = m.str(row[3]); err != nil {
		return err
	}
	e.Implementation, err = m.coded(metadata.CodedImplementation, row[4])
	return err
}

// FullName returns the exported name with nesting joined by '/'.
func (e *ExportedType) FullName() (string, error) {
	name := qualify(e.Namespace, e.Name)
	impl := e.Implementation
	for depth := 0; impl.Table() == metadata.TableExportedType && !impl.IsNil(); depth++ {
		if depth >= maxNestingDepth {
			return "", nestingCycle("ExportedType", "Implementation", e.token)
		}
		outer, err := resolveAs[*ExportedType](e.module, impl)
		if err != nil {
			return "", err
		}
		name = qualify(outer.Namespace, outer.Name) + "/" + name
		impl = outer.Implementation
	}
	return name, nil
}

// NewExportedType adds an exported type or forwarder.
func (m *Module) NewExportedType(impl metadata.Token, namespace, name string, flags uint32) (*ExportedType, error) {
	if !metadata.Coded(metadata.CodedImplementation).Accepts(impl.Table()) {
		return nil, errors.InvalidInput(errors.PhaseModel, impl.String()+" cannot implement an exported type")
	}
	e := &ExportedType{Flags: flags, Name: name, Namespace: namespace, Implementation: impl}
	e.attrsLoaded = true
	if err := m.adopt(e, metadata.TableExportedType); err != nil {
		return nil, err
	}
	return e, m.appendList(metadata.TableExportedType, e)
}

// Manifest resource visibility.
const (
	ResourcePublic  uint32 = 0x0001
	ResourcePrivate uint32 = 0x0002
)

// ManifestResource is a named resource. Embedded resources have a nil
// Implementation and their bytes come from the image; linked ones name a
// File or AssemblyRef.
type ManifestResource struct {
	attributed
	Name           string
	Flags          uint32
	Implementation metadata.Token

	offset     uint32
	data       []byte
	dataLoaded bool
}

func (r *ManifestResource) fill(row metadata.Row) error {
	var err error
	r.offset = row[0]
	r.Flags = row[1]
	if r.Name, err = r.module.str(row[2]); err != nil {
		return err
	}
	r.Implementation, err = r.module.coded(metadata.CodedImplementation, row[3])
	return err
}

// Embedded reports whether the resource bytes live in this image.
func (r *ManifestResource) Embedded() bool { return r.Implementation.IsNil() }

// Data returns the bytes of an embedded resource, or nil for a linked one.
func (r *ManifestResource) Data() ([]byte, error) {
	if r.dataLoaded || !r.Embedded() {
		return r.data, nil
	}
	if r.module.image != nil {
		data, err := r.module.image.Resource(r.offset)
		if err != nil {
			return nil, err
		}
		r.data = data
	}
	r.dataLoaded = true
	return r.data, nil
}

// SetData replaces the embedded bytes.
func (r *ManifestResource) SetData(data []byte) error {
	if err := r.mutable(); err != nil {
		return err
	}
	r.data, r.dataLoaded = data, true
	return nil
}

// NewResource adds an embedded resource.
func (m *Module) NewResource(name string, flags uint32, data []byte) (*ManifestResource, error) {
	r := &ManifestResource{Name: name, Flags: flags, data: data, dataLoaded: true}
	r.attrsLoaded = true
	if err := m.adopt(r, metadata.TableManifestResource); err != nil {
		return nil, err
	}
	return r, m.appendList(metadata.TableManifestResource, r)
}

// ResolveTypeRef finds the TypeDef a reference names, following nesting,
// assembly references and type forwarders. Types in other assemblies need a
// resolver.
func (m *Module) ResolveTypeRef(ctx context.Context, ref *TypeRef) (*TypeDef, error) {
	return m.resolveTypeRef(ctx, ref, 0)
}

func (m *Module) resolveTypeRef(ctx context.Context, ref *TypeRef, depth int) (*TypeDef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scope := ref.Scope
	switch {
	case scope.IsNil():
		name, err := ref.FullName()
		if err != nil {
			return nil, err
		}
		return m.findExported(ctx, ref.token, name, 0)
	case scope.Table() == metadata.TableModule:
		return m.findLocal(ref)
	case scope.Table() == metadata.TableTypeRef:
		if depth >= maxNestingDepth {
			return nil, nestingCycle("TypeRef", "ResolutionScope", ref.token)
		}
		outerRef, err := resolveAs[*TypeRef](m, scope)
		if err != nil {
			return nil, err
		}
		outer, err := m.resolveTypeRef(ctx, outerRef, depth+1)
		if err != nil {
			return nil, err
		}
		nested, err := outer.NestedTypes()
		if err != nil {
			return nil, err
		}
		for _, n := range nested {
			if n.name == ref.Name && n.namespace == ref.Namespace {
				return n, nil
			}
		}
		return nil, errors.Unresolved(errors.PhaseResolve, uint32(ref.token),
			fmt.Sprintf("nested type %s not found", qualify(ref.Namespace, ref.Name)), nil)
	case scope.Table() == metadata.TableAssemblyRef:
		ar, err := resolveAs[*AssemblyRef](m, scope)
		if err != nil {
			return nil, err
		}
		target, err := m.resolveAssembly(ctx, ref.token, ar.AssemblyName())
		if err != nil {
			return nil, err
		}
		name, err := ref.FullName()
		if err != nil {
			return nil, err
		}
		return target.findExported(ctx, ref.token, name, 0)
	}
	return nil, errors.Unsupported(errors.PhaseResolve, "type reference scoped to "+scope.Table().String())
}

func (m *Module) findLocal(ref *TypeRef) (*TypeDef, error) {
	name, err := ref.FullName()
	if err != nil {
		return nil, err
	}
	td, err := m.FindType(name)
	if err != nil {
		return nil, err
	}
	if td == nil {
		return nil, errors.Unresolved(errors.PhaseResolve, uint32(ref.token), "type "+name+" not found in "+m.Name(), nil)
	}
	return td, nil
}

func (m *Module) resolveAssembly(ctx context.Context, from metadata.Token, name AssemblyName) (*Module, error) {
	if m.resolver == nil {
		return nil, errors.Unresolved(errors.PhaseResolve, uint32(from), "no assembly resolver for "+name.Name, nil)
	}
	target, err := m.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, errors.Unresolved(errors.PhaseResolve, uint32(from), "assembly "+name.Name, err)
	}
	return target, nil
}

// findExported looks for fullName among the module's types, then follows a
// matching ExportedType to the assembly it forwards to.
func (m *Module) findExported(ctx context.Context, from metadata.Token, fullName string, depth int) (*TypeDef, error) {
	td, err := m.FindType(fullName)
	if err != nil || td != nil {
		return td, err
	}
	if depth >= maxForwardDepth {
		return nil, errors.Unresolved(errors.PhaseResolve, uint32(from), "forwarder chain too long for "+fullName, nil)
	}
	exported, err := m.ExportedTypes()
	if err != nil {
		return nil, err
	}
	for _, e := range exported {
		name, err := e.FullName()
		if err != nil {
			return nil, err
		}
		if name != fullName || e.Implementation.Table() != metadata.TableAssemblyRef {
			continue
		}
		ar, err := resolveAs[*AssemblyRef](m, e.Implementation)
		if err != nil {
			return nil, err
		}
		m.log.Debug("following type forwarder", zap.String("type", fullName), zap.String("assembly", ar.Name))
		target, err := m.resolveAssembly(ctx, from, ar.AssemblyName())
		if err != nil {
			return nil, err
		}
		return target.findExported(ctx, from, fullName, depth+1)
	}
	return nil, errors.Unresolved(errors.PhaseResolve, uint32(from), "type "+fullName+" not found in "+m.Name(), nil)
}

// ResolveType returns the TypeDef behind a TypeDef or TypeRef token.
func (m *Module) ResolveType(ctx context.Context, tok metadata.Token) (*TypeDef, error) {
	switch tok.Table() {
	case metadata.TableTypeDef:
		return resolveAs[*TypeDef](m, tok)
	case metadata.TableTypeRef:
		ref, err := resolveAs[*TypeRef](m, tok)
		if err != nil {
			return nil, err
		}
		return m.ResolveTypeRef(ctx, ref)
	}
	return nil, errors.InvalidInput(errors.PhaseResolve, tok.String()+" does not name a type definition")
}
