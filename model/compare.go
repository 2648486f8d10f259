package model

import (
	"strings"

	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

// typeIdentity names a type independently of the module that refers to it.
type typeIdentity struct {
	scope string
	name  string
}

// scopeName is the lowercased assembly name, or the module name for a
// netmodule.
func (m *Module) scopeName() string {
	if m.assembly != nil {
		return strings.ToLower(m.assembly.Name)
	}
	return strings.ToLower(m.def.Name)
}

// identity returns the identity of a TypeDef or TypeRef token. Type
// forwarders are not followed.
func (m *Module) identity(tok metadata.Token) (typeIdentity, error) {
	switch tok.Table() {
	case metadata.TableTypeDef:
		td, err := resolveAs[*TypeDef](m, tok)
		if err != nil {
			return typeIdentity{}, err
		}
		name, err := td.FullName()
		return typeIdentity{m.scopeName(), name}, err
	case metadata.TableTypeRef:
		ref, err := resolveAs[*TypeRef](m, tok)
		if err != nil {
			return typeIdentity{}, err
		}
		name, err := ref.FullName()
		if err != nil {
			return typeIdentity{}, err
		}
		scope, err := ref.rootScope()
		if err != nil {
			return typeIdentity{}, err
		}
		if scope.Table() == metadata.TableAssemblyRef && !scope.IsNil() {
			ar, err := resolveAs[*AssemblyRef](m, scope)
			if err != nil {
				return typeIdentity{}, err
			}
			return typeIdentity{strings.ToLower(ar.Name), name}, nil
		}
		return typeIdentity{m.scopeName(), name}, nil
	}
	return typeIdentity{}, nil
}

// SignatureComparer compares signatures that may come from different
// modules. Type tokens are equal when they name the same type in the same
// assembly; TypeSpecs compare by structure.
type SignatureComparer struct{}

// TokenEqual returns the token predicate for signatures of am and bm.
func (c SignatureComparer) TokenEqual(am, bm *Module) signature.TokenEqual {
	var eq signature.TokenEqual
	eq = func(a, b metadata.Token) bool {
		if am == bm && a == b {
			return true
		}
		at, bt := a.Table() == metadata.TableTypeSpec, b.Table() == metadata.TableTypeSpec
		if at || bt {
			if !at || !bt {
				return false
			}
			sa, err := resolveAs[*TypeSpec](am, a)
			if err != nil {
				return false
			}
			sb, err := resolveAs[*TypeSpec](bm, b)
			if err != nil {
				return false
			}
			return signature.EqualFunc(sa.Signature, sb.Signature, eq)
		}
		ia, err := am.identity(a)
		if err != nil || ia.name == "" {
			return false
		}
		ib, err := bm.identity(b)
		return err == nil && ia == ib
	}
	return eq
}

// Types reports whether a from am and b from bm denote the same type.
func (c SignatureComparer) Types(am *Module, a signature.Type, bm *Module, b signature.Type) bool {
	return signature.EqualFunc(a, b, c.TokenEqual(am, bm))
}

// Methods reports whether two method signatures match.
func (c SignatureComparer) Methods(am *Module, a *signature.MethodSig, bm *Module, b *signature.MethodSig) bool {
	return signature.MethodEqualFunc(a, b, c.TokenEqual(am, bm))
}

// Tokens reports whether two type tokens denote the same type.
func (c SignatureComparer) Tokens(am *Module, a metadata.Token, bm *Module, b metadata.Token) bool {
	return c.TokenEqual(am, bm)(a, b)
}

// MethodComparer matches MethodDefs and method MemberRefs by declaring type,
// name and signature, so a reference can be paired with its definition.
type MethodComparer struct {
	Signatures SignatureComparer
}

type methodKey struct {
	module    *Module
	declaring metadata.Token
	name      string
	sig       *signature.MethodSig
}

func methodKeyOf(d Declaration) (methodKey, bool) {
	switch v := d.(type) {
	case *MethodDef:
		t, err := v.DeclaringType()
		if err != nil || t == nil {
			return methodKey{}, false
		}
		return methodKey{v.module, t.token, v.name, v.Signature}, true
	case *MemberRef:
		if v.MethodSig == nil {
			return methodKey{}, false
		}
		parent := v.Parent
		if parent.Table() == metadata.TableMethodDef {
			md, err := resolveAs[*MethodDef](v.module, parent)
			if err != nil {
				return methodKey{}, false
			}
			t, err := md.DeclaringType()
			if err != nil || t == nil {
				return methodKey{}, false
			}
			parent = t.token
		}
		return methodKey{v.module, parent, v.Name, v.MethodSig}, true
	}
	return methodKey{}, false
}

// Equal reports whether a and b denote the same method. Anything other than
// a MethodDef or method MemberRef is never equal.
func (c MethodComparer) Equal(a, b Declaration) bool {
	ka, ok := methodKeyOf(a)
	if !ok {
		return false
	}
	kb, ok := methodKeyOf(b)
	if !ok || ka.name != kb.name {
		return false
	}
	eq := c.Signatures.TokenEqual(ka.module, kb.module)
	return eq(ka.declaring, kb.declaring) && signature.MethodEqualFunc(ka.sig, kb.sig, eq)
}

// FindMethod returns the method of t matching sig from module from, or nil.
func (c MethodComparer) FindMethod(t *TypeDef, name string, from *Module, sig *signature.MethodSig) (*MethodDef, error) {
	methods, err := t.Methods()
	if err != nil {
		return nil, err
	}
	for _, md := range methods {
		if md.name == name && c.Signatures.Methods(t.module, md.Signature, from, sig) {
			return md, nil
		}
	}
	return nil, nil
}
