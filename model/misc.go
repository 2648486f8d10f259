package model

import (
	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

// CustomAttribute applies an attribute constructor with an encoded argument
// blob to a parent declaration. Decode parses the blob.
type CustomAttribute struct {
	base
	Parent      metadata.Token
	Constructor metadata.Token
	Value       []byte
}

// NewCustomAttribute returns a detached attribute; AddCustomAttribute on the
// target attaches it.
func NewCustomAttribute(ctor metadata.Token, value []byte) *CustomAttribute {
	return &CustomAttribute{Constructor: ctor, Value: value}
}

func (ca *CustomAttribute) fill(row metadata.Row) error {
	m := ca.module
	var err error
	if ca.Parent, err = m.coded(metadata.CodedHasCustomAttribute, row[0]); err != nil {
		return err
	}
	if ca.Constructor, err = m.coded(metadata.CodedCustomAttributeType, row[1]); err != nil {
		return err
	}
	ca.Value, _, err = m.blob(row[2])
	return err
}

// GenericParameter is a type or method generic parameter.
type GenericParameter struct {
	attributed
	Number uint16
	Flags  uint16
	// Owner is the TypeDef or MethodDef declaring the parameter.
	Owner metadata.Token
	Name  string

	constraints       []*GenericParamConstraint
	constraintsLoaded bool
}

func (gp *GenericParameter) fill(row metadata.Row) error {
	m := gp.module
	var err error
	gp.Number = uint16(row[0])
	gp.Flags = uint16(row[1])
	if gp.Owner, err = m.coded(metadata.CodedTypeOrMethodDef, row[2]); err != nil {
		return err
	}
	gp.Name, err = m.str(row[3])
	return err
}

// Constraints returns the parameter's constraints in row order.
func (gp *GenericParameter) Constraints() ([]*GenericParamConstraint, error) {
	if gp.constraintsLoaded {
		return gp.constraints, nil
	}
	if gp.loaded() {
		m := gp.module
		for _, r := range m.tables.FindRows(metadata.TableGenericParamConstraint, 0, gp.token.RID()) {
			c, err := resolveAs[*GenericParamConstraint](m, metadata.NewToken(metadata.TableGenericParamConstraint, r))
			if err != nil {
				return nil, err
			}
			gp.constraints = append(gp.constraints, c)
		}
	}
	gp.constraintsLoaded = true
	return gp.constraints, nil
}

// AddConstraint constrains the parameter to a TypeDef, TypeRef or TypeSpec.
func (gp *GenericParameter) AddConstraint(t metadata.Token) (*GenericParamConstraint, error) {
	if err := gp.mutable(); err != nil {
		return nil, err
	}
	if !metadata.Coded(metadata.CodedTypeDefOrRef).Accepts(t.Table()) {
		return nil, errors.InvalidInput(errors.PhaseModel, t.String()+" cannot constrain a generic parameter")
	}
	if _, err := gp.Constraints(); err != nil {
		return nil, err
	}
	c := &GenericParamConstraint{Owner: gp.token, Constraint: t}
	c.attrsLoaded = true
	if gp.module != nil {
		if err := gp.module.adopt(c, metadata.TableGenericParamConstraint); err != nil {
			return nil, err
		}
	}
	gp.constraints = append(gp.constraints, c)
	return c, nil
}

// GenericParamConstraint is one constraint of a generic parameter.
type GenericParamConstraint struct {
	attributed
	Owner      metadata.Token
	Constraint metadata.Token
}

func (c *GenericParamConstraint) fill(row metadata.Row) error {
	var err error
	c.Owner = metadata.NewToken(metadata.TableGenericParam, row[0])
	c.Constraint, err = c.module.coded(metadata.CodedTypeDefOrRef, row[1])
	return err
}

// InterfaceImpl records that Class implements Interface.
type InterfaceImpl struct {
	attributed
	Class     metadata.Token
	Interface metadata.Token
}

func (ii *InterfaceImpl) fill(row metadata.Row) error {
	var err error
	ii.Class = metadata.NewToken(metadata.TableTypeDef, row[0])
	ii.Interface, err = ii.module.coded(metadata.CodedTypeDefOrRef, row[1])
	return err
}

// StandaloneSignature is a local variable signature or, for calli sites, a
// method signature. Exactly one of Locals and Method is set.
type StandaloneSignature struct {
	attributed
	Locals *signature.LocalVarSig
	Method *signature.MethodSig
}

func (s *StandaloneSignature) fill(row metadata.Row) error {
	blob, base, err := s.module.blob(row[0])
	if err != nil {
		return err
	}
	if cc, ok := signature.Kind(blob); ok && cc.Kind() == signature.CallLocalSig {
		s.Locals, err = signature.DecodeLocals(blob, base)
		return err
	}
	s.Method, err = signature.DecodeMethod(blob, base)
	return err
}

// NewLocalsSignature adds a StandAloneSig row for a method's locals.
func (m *Module) NewLocalsSignature(locals ...signature.Type) (*StandaloneSignature, error) {
	return m.newStandalone(&StandaloneSignature{Locals: &signature.LocalVarSig{Locals: locals}})
}

// NewCallSiteSignature adds a StandAloneSig row for a calli site.
func (m *Module) NewCallSiteSignature(sig *signature.MethodSig) (*StandaloneSignature, error) {
	return m.newStandalone(&StandaloneSignature{Method: sig})
}

func (m *Module) newStandalone(s *StandaloneSignature) (*StandaloneSignature, error) {
	s.attrsLoaded = true
	if err := m.adopt(s, metadata.TableStandAloneSig); err != nil {
		return nil, err
	}
	return s, m.appendList(metadata.TableStandAloneSig, s)
}

// PermissionSet is a DeclSecurity row. Value is the serialized permission
// set, kept opaque.
type PermissionSet struct {
	attributed
	Action uint16
	Parent metadata.Token
	Value  []byte
}

func (ps *PermissionSet) fill(row metadata.Row) error {
	var err error
	ps.Action = uint16(row[0])
	if ps.Parent, err = ps.module.coded(metadata.CodedHasDeclSecurity, row[1]); err != nil {
		return err
	}
	ps.Value, _, err = ps.module.blob(row[2])
	return err
}
