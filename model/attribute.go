package model

import (
	"context"
	"strings"

	"github.com/wippyai/ilweave/attr"
	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

// ConstructorSignature returns the signature of the attribute constructor.
func (ca *CustomAttribute) ConstructorSignature() (*signature.MethodSig, error) {
	d, err := ca.module.Resolve(ca.Constructor)
	if err != nil {
		return nil, err
	}
	switch v := d.(type) {
	case *MethodDef:
		return v.Signature, nil
	case *MemberRef:
		if v.MethodSig != nil {
			return v.MethodSig, nil
		}
	}
	return nil, errors.SchemaViolation(errors.PhaseResolve, metadata.TableCustomAttribute.String(), "Type",
		ca.Constructor.String()+" is not a constructor")
}

// Decode parses the argument blob. Enum arguments defined in other
// assemblies need the module's assembly resolver.
func (ca *CustomAttribute) Decode(ctx context.Context) (*attr.Blob, error) {
	m := ca.module
	sig, err := ca.ConstructorSignature()
	if err != nil {
		return nil, err
	}
	classify := func(tok metadata.Token) (attr.SerializationType, error) {
		return m.classify(ctx, tok)
	}
	params := make([]attr.SerializationType, len(sig.Params))
	for i, p := range sig.Params {
		if params[i], err = attr.FromSignature(p, classify); err != nil {
			return nil, err
		}
	}
	base := 0
	if ca.loaded() {
		_, base, _ = m.blob(ca.orig[2])
	}
	return attr.Decode(ca.Value, base, params, func(name string) (signature.ElementType, error) {
		return m.enumByName(ctx, name)
	})
}

// classify maps a class or valuetype argument to System.Type or an enum.
func (m *Module) classify(ctx context.Context, tok metadata.Token) (attr.SerializationType, error) {
	id, err := m.identity(tok)
	if err != nil {
		return nil, err
	}
	if id.name == "System.Type" {
		return attr.SystemType{}, nil
	}
	td, err := m.ResolveType(ctx, tok)
	if err != nil {
		return nil, err
	}
	under, ok, err := td.EnumUnderlying()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseSignature, id.name+" cannot be an attribute argument")
	}
	name := strings.ReplaceAll(id.name, "/", "+")
	if td.module != m && td.module.assembly != nil {
		name += ", " + td.module.assembly.AssemblyName().String()
	}
	return attr.Enum{Name: name, Underlying: under}, nil
}

// enumByName finds the underlying type of an enum named in a blob:
// "Ns.Type" or "Ns.Outer+Inner", optionally followed by ", Assembly...".
func (m *Module) enumByName(ctx context.Context, name string) (signature.ElementType, error) {
	typeName, asm, _ := strings.Cut(name, ",")
	typeName = strings.ReplaceAll(strings.TrimSpace(typeName), "+", "/")
	target := m
	if asm = strings.TrimSpace(asm); asm != "" {
		simple, _, _ := strings.Cut(asm, ",")
		simple = strings.TrimSpace(simple)
		if m.assembly == nil || !strings.EqualFold(simple, m.assembly.Name) {
			an := AssemblyName{Name: simple}
			if ref, err := m.FindAssemblyRef(simple); err == nil && ref != nil {
				an = ref.AssemblyName()
			}
			var err error
			if target, err = m.resolveAssembly(ctx, 0, an); err != nil {
				return 0, err
			}
		}
	}
	td, err := target.findExported(ctx, 0, typeName, 0)
	if err != nil {
		return 0, err
	}
	under, ok, err := td.EnumUnderlying()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.InvalidInput(errors.PhaseSignature, typeName+" is not an enum")
	}
	return under, nil
}

// EnumUnderlying returns the integer type of an enum. ok is false when t
// does not derive from System.Enum.
func (t *TypeDef) EnumUnderlying() (signature.ElementType, bool, error) {
	if t.extends.IsNil() {
		return 0, false, nil
	}
	id, err := t.module.identity(t.extends)
	if err != nil || id.name != "System.Enum" {
		return 0, false, err
	}
	fields, err := t.Fields()
	if err != nil {
		return 0, false, err
	}
	for _, f := range fields {
		if f.IsStatic() || f.Signature == nil {
			continue
		}
		if in, ok := signature.Strip(f.Signature.Type).(signature.Intrinsic); ok {
			return in.Kind, true, nil
		}
	}
	return 0, false, errors.SchemaViolation(errors.PhaseResolve, metadata.TableTypeDef.String(), "",
		"enum "+t.name+" has no instance field")
}
