package model

import (
	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
)

// Declaration is one materialized metadata entity. At most one Declaration
// exists per token within a module.
type Declaration interface {
	Token() metadata.Token
	Module() *Module
	decl() *base
}

// Attributed is a declaration that can carry custom attributes.
type Attributed interface {
	Declaration
	CustomAttributes() ([]*CustomAttribute, error)
	AddCustomAttribute(ca *CustomAttribute) error
	RemoveCustomAttribute(ca *CustomAttribute) error
}

// base is shared by every declaration variant. orig holds the row the
// declaration was loaded from; its heap offsets are reused on write when the
// value is unchanged.
type base struct {
	module *Module
	token  metadata.Token
	orig   metadata.Row
}

func (b *base) Token() metadata.Token { return b.token }
func (b *base) Module() *Module        { return b.module }
func (b *base) decl() *base            { return b }

func (b *base) loaded() bool {
	m := b.module
	return m != nil && m.tables != nil && b.token.RID() <= m.tables.RowCount(b.token.Table())
}

func (b *base) mutable() error {
	if b.module != nil && b.module.frozen {
		return errors.Frozen(b.token.Table().String() + " " + b.token.String())
	}
	return nil
}

// attributed adds the custom attribute list, loaded on first access.
type attributed struct {
	base
	attrs       []*CustomAttribute
	attrsLoaded bool
}

// CustomAttributes returns the attributes applied to the declaration in row
// order.
func (a *attributed) CustomAttributes() ([]*CustomAttribute, error) {
	if err := a.loadAttributes(); err != nil {
		return nil, err
	}
	return a.attrs, nil
}

func (a *attributed) loadAttributes() error {
	if a.attrsLoaded {
		return nil
	}
	if a.loaded() {
		parent, err := metadata.Coded(metadata.CodedHasCustomAttribute).Encode(a.token)
		if err != nil {
			return err
		}
		for _, rid := range a.module.tables.FindRows(metadata.TableCustomAttribute, 0, parent) {
			ca, err := resolveAs[*CustomAttribute](a.module, metadata.NewToken(metadata.TableCustomAttribute, rid))
			if err != nil {
				return err
			}
			a.attrs = append(a.attrs, ca)
		}
	}
	a.attrsLoaded = true
	return nil
}

// AddCustomAttribute appends ca and makes the declaration its parent.
func (a *attributed) AddCustomAttribute(ca *CustomAttribute) error {
	if err := a.mutable(); err != nil {
		return err
	}
	if err := a.loadAttributes(); err != nil {
		return err
	}
	if a.module != nil {
		if err := a.module.adopt(ca, metadata.TableCustomAttribute); err != nil {
			return err
		}
	}
	ca.Parent = a.token
	a.attrs = append(a.attrs, ca)
	return nil
}

// RemoveCustomAttribute detaches ca. Removing an attribute that is not
// applied is an error.
func (a *attributed) RemoveCustomAttribute(ca *CustomAttribute) error {
	if err := a.mutable(); err != nil {
		return err
	}
	if err := a.loadAttributes(); err != nil {
		return err
	}
	var ok bool
	if a.attrs, ok = remove(a.attrs, ca); !ok {
		return errors.NotFound(errors.PhaseModel, "custom attribute", ca.token.String())
	}
	return nil
}

func remove[T comparable](list []T, v T) ([]T, bool) {
	for i, x := range list {
		if x == v {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

// resolveAs resolves tok and asserts its variant.
func resolveAs[T Declaration](m *Module, tok metadata.Token) (T, error) {
	var zero T
	d, err := m.Resolve(tok)
	if err != nil {
		return zero, err
	}
	v, ok := d.(T)
	if !ok {
		return zero, errors.New(errors.PhaseResolve, errors.KindSchemaViolation).
			Token(uint32(tok)).
			Detail("%s resolved to unexpected %T", tok, d).
			Build()
	}
	return v, nil
}
