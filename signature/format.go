package signature

import (
	"strconv"
	"strings"

	"github.com/wippyai/ilweave/metadata"
)

// Namer supplies ilasm names for tokens and generic parameters.
type Namer interface {
	// TypeName returns the qualified name of a TypeDef, TypeRef or TypeSpec,
	// including any [assembly] prefix.
	TypeName(tok metadata.Token) string
}

// GenericNamer optionally names generic parameters. Without it parameters
// print as !0 and !!0.
type GenericNamer interface {
	GenericParamName(index uint32, method bool) (string, bool)
}

// TokenNamer prints raw tokens; useful for diagnostics.
type TokenNamer struct{}

// TypeName renders the token in hex.
func (TokenNamer) TypeName(tok metadata.Token) string {
	return "{" + tok.String() + "}"
}

// Format renders t in ilasm syntax.
func Format(t Type, n Namer) string {
	var b strings.Builder
	formatType(&b, t, n)
	return b.String()
}

// FormatMethod renders a method signature with name placed between the
// return type and the parameter list.
func FormatMethod(m *MethodSig, name string, n Namer) string {
	var b strings.Builder
	formatMethod(&b, m, name, n)
	return b.String()
}

// FormatParams renders a parenthesized parameter list.
func FormatParams(params []Type, n Namer) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		formatType(&b, p, n)
	}
	b.WriteByte(')')
	return b.String()
}

func formatMethod(b *strings.Builder, m *MethodSig, name string, n Namer) {
	if m.CallConv.HasThis() {
		b.WriteString("instance ")
	}
	if m.CallConv.ExplicitThis() {
		b.WriteString("explicit ")
	}
	switch m.CallConv.Kind() {
	case CallVarArg:
		b.WriteString("vararg ")
	case CallC:
		b.WriteString("unmanaged cdecl ")
	case CallStdCall:
		b.WriteString("unmanaged stdcall ")
	case CallThisCall:
		b.WriteString("unmanaged thiscall ")
	case CallFastCall:
		b.WriteString("unmanaged fastcall ")
	}
	formatType(b, m.Return, n)
	b.WriteByte(' ')
	b.WriteString(name)
	if m.GenParamCount > 0 && name != "*" {
		b.WriteByte('<')
		for i := uint32(0); i < m.GenParamCount; i++ {
			if i > 0 {
				b.WriteString(", ")
			}
			writeGenericParam(b, GenericParam{Index: i, Method: true}, n)
		}
		b.WriteByte('>')
	}
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		formatType(b, p, n)
	}
	if m.Sentinel {
		if len(m.Params) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("...")
		for _, p := range m.VarArgs {
			b.WriteString(", ")
			formatType(b, p, n)
		}
	}
	b.WriteByte(')')
}

func formatType(b *strings.Builder, t Type, n Namer) {
	switch v := t.(type) {
	case Intrinsic:
		b.WriteString(v.Kind.String())
	case TypeDefOrRef:
		if v.ValueType {
			b.WriteString("valuetype ")
		} else {
			b.WriteString("class ")
		}
		b.WriteString(n.TypeName(v.Token))
	case Pointer:
		formatType(b, v.Elem, n)
		b.WriteByte('*')
	case ByRef:
		formatType(b, v.Elem, n)
		b.WriteByte('&')
	case SzArray:
		formatType(b, v.Elem, n)
		b.WriteString("[]")
	case Pinned:
		formatType(b, v.Elem, n)
		b.WriteString(" pinned")
	case GenericParam:
		writeGenericParam(b, v, n)
	case Array:
		formatType(b, v.Elem, n)
		b.WriteByte('[')
		for i := uint32(0); i < v.Rank; i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(arrayBound(v, int(i)))
		}
		b.WriteByte(']')
	case GenericInstance:
		formatType(b, v.Generic, n)
		b.WriteByte('<')
		for i, a := range v.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			formatType(b, a, n)
		}
		b.WriteByte('>')
	case FunctionPointer:
		b.WriteString("method ")
		formatMethod(b, v.Method, "*", n)
	case Modified:
		formatType(b, v.Elem, n)
		if v.Required {
			b.WriteString(" modreq(")
		} else {
			b.WriteString(" modopt(")
		}
		b.WriteString(n.TypeName(v.Modifier))
		b.WriteByte(')')
	case nil:
		b.WriteString("<nil>")
	}
}

// arrayBound renders one dimension: "", "0...", "0...4" or "5".
func arrayBound(a Array, i int) string {
	hasLo := i < len(a.LoBounds)
	hasSize := i < len(a.Sizes)
	switch {
	case hasLo && hasSize:
		lo := a.LoBounds[i]
		return strconv.Itoa(int(lo)) + "..." + strconv.Itoa(int(lo)+int(a.Sizes[i])-1)
	case hasLo:
		return strconv.Itoa(int(a.LoBounds[i])) + "..."
	case hasSize:
		return strconv.Itoa(int(a.Sizes[i]))
	}
	return ""
}

func writeGenericParam(b *strings.Builder, g GenericParam, n Namer) {
	if g.Method {
		b.WriteString("!!")
	} else {
		b.WriteByte('!')
	}
	if gn, ok := n.(GenericNamer); ok {
		if name, ok := gn.GenericParamName(g.Index, g.Method); ok && name != "" {
			b.WriteString(name)
			return
		}
	}
	b.WriteString(strconv.FormatUint(uint64(g.Index), 10))
}
