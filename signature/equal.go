package signature

import "github.com/wippyai/ilweave/metadata"

// TokenEqual decides whether two type tokens denote the same type. Tokens
// from different modules need a resolver-aware comparison.
type TokenEqual func(a, b metadata.Token) bool

// SameToken compares tokens by value.
func SameToken(a, b metadata.Token) bool { return a == b }

// Equal reports whether two signatures have the same shape and tokens.
// Generic parameters compare by position.
func Equal(a, b Type) bool {
	return EqualFunc(a, b, SameToken)
}

// EqualFunc is Equal with a caller-supplied token comparison.
func EqualFunc(a, b Type, eq TokenEqual) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case Intrinsic:
		y, ok := b.(Intrinsic)
		return ok && x.Kind == y.Kind
	case TypeDefOrRef:
		y, ok := b.(TypeDefOrRef)
		return ok && x.ValueType == y.ValueType && eq(x.Token, y.Token)
	case Pointer:
		y, ok := b.(Pointer)
		return ok && EqualFunc(x.Elem, y.Elem, eq)
	case ByRef:
		y, ok := b.(ByRef)
		return ok && EqualFunc(x.Elem, y.Elem, eq)
	case SzArray:
		y, ok := b.(SzArray)
		return ok && EqualFunc(x.Elem, y.Elem, eq)
	case Pinned:
		y, ok := b.(Pinned)
		return ok && EqualFunc(x.Elem, y.Elem, eq)
	case GenericParam:
		y, ok := b.(GenericParam)
		return ok && x == y
	case Array:
		y, ok := b.(Array)
		if !ok || x.Rank != y.Rank || len(x.Sizes) != len(y.Sizes) || len(x.LoBounds) != len(y.LoBounds) {
			return false
		}
		for i := range x.Sizes {
			if x.Sizes[i] != y.Sizes[i] {
				return false
			}
		}
		for i := range x.LoBounds {
			if x.LoBounds[i] != y.LoBounds[i] {
				return false
			}
		}
		return EqualFunc(x.Elem, y.Elem, eq)
	case GenericInstance:
		y, ok := b.(GenericInstance)
		return ok && EqualFunc(x.Generic, y.Generic, eq) && equalList(x.Args, y.Args, eq)
	case FunctionPointer:
		y, ok := b.(FunctionPointer)
		return ok && MethodEqualFunc(x.Method, y.Method, eq)
	case Modified:
		y, ok := b.(Modified)
		return ok && x.Required == y.Required && eq(x.Modifier, y.Modifier) && EqualFunc(x.Elem, y.Elem, eq)
	}
	return false
}

// MethodEqual compares method signatures structurally.
func MethodEqual(a, b *MethodSig) bool {
	return MethodEqualFunc(a, b, SameToken)
}

// MethodEqualFunc compares calling convention, generic arity, return type and
// parameters.
func MethodEqualFunc(a, b *MethodSig, eq TokenEqual) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.CallConv == b.CallConv &&
		a.GenParamCount == b.GenParamCount &&
		a.Sentinel == b.Sentinel &&
		EqualFunc(a.Return, b.Return, eq) &&
		equalList(a.Params, b.Params, eq) &&
		equalList(a.VarArgs, b.VarArgs, eq)
}

func equalList(a, b []Type, eq TokenEqual) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !EqualFunc(a[i], b[i], eq) {
			return false
		}
	}
	return true
}

// Map rebuilds t with every token passed through fn. It is used to renumber
// references when a module is written.
func Map(t Type, fn func(metadata.Token) metadata.Token) Type {
	switch v := t.(type) {
	case TypeDefOrRef:
		v.Token = fn(v.Token)
		return v
	case Pointer:
		return Pointer{Elem: Map(v.Elem, fn)}
	case ByRef:
		return ByRef{Elem: Map(v.Elem, fn)}
	case SzArray:
		return SzArray{Elem: Map(v.Elem, fn)}
	case Pinned:
		return Pinned{Elem: Map(v.Elem, fn)}
	case Array:
		v.Elem = Map(v.Elem, fn)
		return v
	case GenericInstance:
		return GenericInstance{
			Generic: TypeDefOrRef{Token: fn(v.Generic.Token), ValueType: v.Generic.ValueType},
			Args:    mapList(v.Args, fn),
		}
	case FunctionPointer:
		return FunctionPointer{Method: MapMethod(v.Method, fn)}
	case Modified:
		return Modified{Required: v.Required, Modifier: fn(v.Modifier), Elem: Map(v.Elem, fn)}
	}
	return t
}

// MapMethod applies Map to every type of a method signature.
func MapMethod(m *MethodSig, fn func(metadata.Token) metadata.Token) *MethodSig {
	if m == nil {
		return nil
	}
	out := *m
	out.Return = Map(m.Return, fn)
	out.Params = mapList(m.Params, fn)
	out.VarArgs = mapList(m.VarArgs, fn)
	return &out
}

func mapList(ts []Type, fn func(metadata.Token) metadata.Token) []Type {
	if ts == nil {
		return nil
	}
	out := make([]Type, len(ts))
	for i, t := range ts {
		out[i] = Map(t, fn)
	}
	return out
}

// Walk calls fn for every token referenced by t.
func Walk(t Type, fn func(metadata.Token)) {
	Map(t, func(tok metadata.Token) metadata.Token {
		fn(tok)
		return tok
	})
}

// WalkMethod calls fn for every token referenced by m.
func WalkMethod(m *MethodSig, fn func(metadata.Token)) {
	MapMethod(m, func(tok metadata.Token) metadata.Token {
		fn(tok)
		return tok
	})
}
