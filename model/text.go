package model

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wippyai/ilweave/attr"
	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/il"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

type flagWord struct {
	bit  uint32
	word string
}

var typeVisibility = [...]string{
	"private", "public", "nested public", "nested private",
	"nested family", "nested assembly", "nested famandassem", "nested famorassem",
}

var typeWords = []flagWord{
	{TypeInterface, "interface"},
	{TypeAbstract, "abstract"},
	{TypeSealed, "sealed"},
	{TypeSpecialName, "specialname"},
	{TypeRTSpecialName, "rtspecialname"},
	{TypeImport, "import"},
	{TypeSerializable, "serializable"},
	{TypeBeforeFieldInit, "beforefieldinit"},
}

var memberAccess = [...]string{
	"privatescope", "private", "famandassem", "assembly", "family", "famorassem", "public", "",
}

var fieldWords = []flagWord{
	{uint32(FieldStatic), "static"},
	{0x0020, "initonly"},
	{uint32(FieldLiteral), "literal"},
	{0x0080, "notserialized"},
	{0x0200, "specialname"},
	{0x0400, "rtspecialname"},
}

var methodWords = []flagWord{
	{0x0020, "final"},
	{uint32(MethodVirtual), "virtual"},
	{uint32(MethodHideBySig), "hidebysig"},
	{0x0100, "newslot"},
	{0x0200, "strict"},
	{uint32(MethodAbstract), "abstract"},
	{uint32(MethodSpecialName), "specialname"},
	{uint32(MethodRTSpecial), "rtspecialname"},
}

var implWords = []flagWord{
	{0x0008, "noinlining"},
	{0x0010, "forwardref"},
	{0x0020, "synchronized"},
	{0x0040, "nooptimization"},
	{0x0080, "preservesig"},
	{0x0100, "aggressiveinlining"},
	{uint32(ImplInternalCall), "internalcall"},
}

var paramWords = []flagWord{
	{uint32(ParamIn), "[in]"},
	{uint32(ParamOut), "[out]"},
	{uint32(ParamOptional), "[opt]"},
}

func words(flags uint32, table []flagWord) []string {
	var out []string
	for _, w := range table {
		if flags&w.bit != 0 {
			out = append(out, w.word)
		}
	}
	return out
}

// textWriter accumulates the first write error so rendering code can stay
// linear.
type textWriter struct {
	w      io.Writer
	err    error
	indent int
}

func (t *textWriter) line(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, "%s%s\n", strings.Repeat("  ", t.indent), fmt.Sprintf(format, args...))
}

func (t *textWriter) open() {
	t.line("{")
	t.indent++
}

func (t *textWriter) close() {
	t.indent--
	t.line("}")
}

// textNamer names tokens for ilasm output. Generic parameters of the type
// and method being printed render by name.
type textNamer struct {
	m      *Module
	typeGP []*GenericParameter
	methGP []*GenericParameter
}

func (n *textNamer) TypeName(tok metadata.Token) string {
	switch tok.Table() {
	case metadata.TableTypeDef:
		td, err := resolveAs[*TypeDef](n.m, tok)
		if err != nil {
			break
		}
		name, err := td.FullName()
		if err != nil {
			break
		}
		return quoteName(name)
	case metadata.TableTypeRef:
		ref, err := resolveAs[*TypeRef](n.m, tok)
		if err != nil {
			break
		}
		name, err := ref.FullName()
		if err != nil {
			break
		}
		scope, err := ref.rootScope()
		if err != nil {
			return quoteName(name)
		}
		switch {
		case scope.Table() == metadata.TableAssemblyRef && !scope.IsNil():
			if ar, err := resolveAs[*AssemblyRef](n.m, scope); err == nil {
				return "[" + quoteName(ar.Name) + "]" + quoteName(name)
			}
		case scope.Table() == metadata.TableModuleRef && !scope.IsNil():
			if mr, err := resolveAs[*ModuleRef](n.m, scope); err == nil {
				return "[.module " + quoteName(mr.Name) + "]" + quoteName(name)
			}
		}
		return quoteName(name)
	case metadata.TableTypeSpec:
		ts, err := resolveAs[*TypeSpec](n.m, tok)
		if err != nil {
			break
		}
		return signature.Format(ts.Signature, n)
	}
	return signature.TokenNamer{}.TypeName(tok)
}

func (n *textNamer) GenericParamName(index uint32, method bool) (string, bool) {
	list := n.typeGP
	if method {
		list = n.methGP
	}
	if int(index) < len(list) {
		return quoteName(list[index].Name), true
	}
	return "", false
}

// FormatToken renders IL operands.
func (n *textNamer) FormatToken(kind il.OperandKind, tok metadata.Token) string {
	switch tok.Table() {
	case metadata.TableUserString:
		s, err := n.m.UserString(tok)
		if err != nil {
			return il.RawTokens{}.FormatToken(kind, tok)
		}
		return strconv.Quote(s)
	case metadata.TableTypeDef, metadata.TableTypeRef, metadata.TableTypeSpec:
		return n.TypeName(tok)
	case metadata.TableField:
		s := n.memberName(tok)
		if kind == il.InlineTok {
			return "field " + s
		}
		return s
	case metadata.TableMethodDef, metadata.TableMethodSpec:
		s := n.memberName(tok)
		if kind == il.InlineTok {
			return "method " + s
		}
		return s
	case metadata.TableMemberRef:
		s := n.memberName(tok)
		if kind != il.InlineTok {
			return s
		}
		if r, err := resolveAs[*MemberRef](n.m, tok); err == nil && r.IsField() {
			return "field " + s
		}
		return "method " + s
	case metadata.TableStandAloneSig:
		if s, err := resolveAs[*StandaloneSignature](n.m, tok); err == nil && s.Method != nil {
			return signature.FormatMethod(s.Method, "", n)
		}
	}
	return il.RawTokens{}.FormatToken(kind, tok)
}

// memberName renders a field or method reference with its signature.
func (n *textNamer) memberName(tok metadata.Token) string {
	d, err := n.m.Resolve(tok)
	if err != nil {
		return signature.TokenNamer{}.TypeName(tok)
	}
	switch v := d.(type) {
	case *FieldDef:
		owner := n.ownerName(v.declaring)
		return signature.Format(v.Signature.Type, n) + " " + owner + "::" + quoteName(v.name)
	case *MethodDef:
		if _, err := v.DeclaringType(); err != nil {
			break
		}
		return signature.FormatMethod(v.Signature, n.ownerName(v.declaring)+"::"+quoteName(v.name), n)
	case *MemberRef:
		owner := n.parentName(v.Parent)
		if v.FieldSig != nil {
			return signature.Format(v.FieldSig.Type, n) + " " + owner + "::" + quoteName(v.Name)
		}
		return signature.FormatMethod(v.MethodSig, owner+"::"+quoteName(v.Name), n)
	case *MethodSpec:
		base := n.memberName(v.Method)
		if v.Instantiation == nil {
			return base
		}
		args := signature.FormatParams(v.Instantiation.Args, n)
		return base + " <" + args[1:len(args)-1] + ">"
	}
	return signature.TokenNamer{}.TypeName(tok)
}

func (n *textNamer) ownerName(tok metadata.Token) string {
	if tok.IsNil() {
		return "'<Module>'"
	}
	return n.TypeName(tok)
}

func (n *textNamer) parentName(tok metadata.Token) string {
	switch tok.Table() {
	case metadata.TableModuleRef:
		if mr, err := resolveAs[*ModuleRef](n.m, tok); err == nil {
			return "[.module " + quoteName(mr.Name) + "]'<Module>'"
		}
	case metadata.TableMethodDef:
		if md, err := resolveAs[*MethodDef](n.m, tok); err == nil {
			if _, err := md.DeclaringType(); err == nil {
				return n.ownerName(md.declaring)
			}
		}
	}
	return n.TypeName(tok)
}

// quoteName single-quotes names that are not plain ilasm identifiers.
func quoteName(s string) string {
	if s == "" {
		return "''"
	}
	plain := true
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || r == '@' || r == '`' || r == '?':
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case (r >= '0' && r <= '9' || r == '.' || r == '/') && i > 0:
		default:
			plain = false
		}
	}
	if plain && !strings.HasSuffix(s, ".") && !strings.Contains(s, "..") {
		return s
	}
	parts := strings.Split(s, "/")
	if len(parts) > 1 {
		for i, p := range parts {
			parts[i] = quoteName(p)
		}
		return strings.Join(parts, "/")
	}
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", `\'`) + "'"
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	sb.WriteByte(')')
	return sb.String()
}

// WriteText renders the module as ilasm source.
func (m *Module) WriteText(ctx context.Context, w io.Writer) error {
	t := &textWriter{w: w}
	n := &textNamer{m: m}

	refs, err := m.AssemblyRefs()
	if err != nil {
		return err
	}
	for _, r := range refs {
		t.line(".assembly extern %s", quoteName(r.Name))
		t.open()
		if len(r.PublicKeyOrToken) > 0 {
			key := ".publickeytoken"
			if r.Flags&AssemblyPublicKey != 0 {
				key = ".publickey"
			}
			t.line("%s = %s", key, hexBytes(r.PublicKeyOrToken))
		}
		if r.Culture != "" {
			t.line(".culture %s", strconv.Quote(r.Culture))
		}
		t.line(".ver %d:%d:%d:%d", r.Version.Major, r.Version.Minor, r.Version.Build, r.Version.Revision)
		t.close()
	}
	if a := m.assembly; a != nil {
		t.line(".assembly %s", quoteName(a.Name))
		t.open()
		if err := m.textAttributes(t, n, a); err != nil {
			return err
		}
		if err := m.textSecurity(t, a.Security); err != nil {
			return err
		}
		if len(a.PublicKey) > 0 {
			t.line(".publickey = %s", hexBytes(a.PublicKey))
		}
		t.line(".hash algorithm 0x%08x", a.HashAlgorithm)
		if a.Culture != "" {
			t.line(".culture %s", strconv.Quote(a.Culture))
		}
		t.line(".ver %d:%d:%d:%d", a.Version.Major, a.Version.Minor, a.Version.Build, a.Version.Revision)
		t.close()
	}
	resources, err := m.Resources()
	if err != nil {
		return err
	}
	for _, r := range resources {
		vis := "public"
		if r.Flags&ResourcePrivate != 0 {
			vis = "private"
		}
		t.line(".mresource %s %s", vis, quoteName(r.Name))
		t.open()
		if !r.Embedded() {
			t.line("// implementation %s", r.Implementation)
		} else if data, err := r.Data(); err == nil {
			t.line("// %d bytes", len(data))
		}
		t.close()
	}
	t.line(".module %s", quoteName(m.Name()))
	t.line("// MVID: {%s}", strings.ToUpper(m.def.Mvid.String()))
	if err := m.textAttributes(t, n, m.def); err != nil {
		return err
	}
	mrefs, err := m.ModuleRefs()
	if err != nil {
		return err
	}
	for _, r := range mrefs {
		t.line(".module extern %s", quoteName(r.Name))
	}
	t.line("")

	types, err := m.Types()
	if err != nil {
		return err
	}
	for i, td := range types {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := m.textType(t, n, td); err != nil {
			return err
		}
	}
	if t.err != nil {
		return errors.Wrap(errors.PhaseText, errors.KindInvalidData, t.err, "write text")
	}
	return nil
}

func (m *Module) textAttributes(t *textWriter, n *textNamer, a Attributed) error {
	cas, err := a.CustomAttributes()
	if err != nil {
		return err
	}
	for _, ca := range cas {
		t.line(".custom %s = %s", n.memberName(ca.Constructor), hexBytes(ca.Value))
	}
	return nil
}

func (m *Module) textSecurity(t *textWriter, sets func() ([]*PermissionSet, error)) error {
	ps, err := sets()
	if err != nil {
		return err
	}
	for _, p := range ps {
		t.line(".permissionset %d = %s", p.Action, hexBytes(p.Value))
	}
	return nil
}

func genericList(n *textNamer, gps []*GenericParameter) (string, error) {
	if len(gps) == 0 {
		return "", nil
	}
	parts := make([]string, len(gps))
	for i, gp := range gps {
		var b strings.Builder
		switch gp.Flags & 0x3 {
		case 1:
			b.WriteString("+")
		case 2:
			b.WriteString("-")
		}
		if gp.Flags&0x04 != 0 {
			b.WriteString("class ")
		}
		if gp.Flags&0x08 != 0 {
			b.WriteString("valuetype ")
		}
		if gp.Flags&0x10 != 0 {
			b.WriteString(".ctor ")
		}
		cs, err := gp.Constraints()
		if err != nil {
			return "", err
		}
		if len(cs) > 0 {
			names := make([]string, len(cs))
			for j, c := range cs {
				names[j] = n.TypeName(c.Constraint)
			}
			b.WriteString("(" + strings.Join(names, ", ") + ") ")
		}
		b.WriteString(quoteName(gp.Name))
		parts[i] = b.String()
	}
	return "<" + strings.Join(parts, ", ") + ">", nil
}

func (m *Module) textType(t *textWriter, n *textNamer, td *TypeDef) error {
	gps, err := td.GenericParameters()
	if err != nil {
		return err
	}
	n.typeGP = gps
	head := []string{typeVisibility[td.flags&TypeVisibilityMask]}
	switch td.flags & TypeLayoutMask {
	case TypeSequentialLayout:
		head = append(head, "sequential")
	case TypeExplicitLayout:
		head = append(head, "explicit")
	default:
		head = append(head, "auto")
	}
	switch td.flags & TypeStringFormatMask {
	case 0x10000:
		head = append(head, "unicode")
	case 0x20000:
		head = append(head, "autochar")
	default:
		head = append(head, "ansi")
	}
	head = append(head, words(td.flags, typeWords)...)
	generics, err := genericList(n, gps)
	if err != nil {
		return err
	}
	t.line(".class %s %s%s", strings.Join(head, " "), quoteName(qualify(td.namespace, td.name)), generics)
	if !td.extends.IsNil() {
		t.line("       extends %s", n.TypeName(td.extends))
	}
	ifaces, err := td.Interfaces()
	if err != nil {
		return err
	}
	for _, ii := range ifaces {
		t.line("       implements %s", n.TypeName(ii.Interface))
	}
	t.open()
	if err := m.textAttributes(t, n, td); err != nil {
		return err
	}
	if err := m.textSecurity(t, td.Security); err != nil {
		return err
	}
	if l, err := td.Layout(); err != nil {
		return err
	} else if l != nil {
		t.line(".pack %d", l.PackingSize)
		t.line(".size %d", l.ClassSize)
	}
	nested, err := td.NestedTypes()
	if err != nil {
		return err
	}
	for _, nt := range nested {
		if err := m.textType(t, n, nt); err != nil {
			return err
		}
		n.typeGP = gps
	}
	fields, err := td.Fields()
	if err != nil {
		return err
	}
	for _, f := range fields {
		if err := m.textField(t, n, f); err != nil {
			return err
		}
	}
	methods, err := td.Methods()
	if err != nil {
		return err
	}
	for _, md := range methods {
		if err := m.textMethod(t, n, md); err != nil {
			return err
		}
	}
	props, err := td.Properties()
	if err != nil {
		return err
	}
	for _, p := range props {
		if err := m.textProperty(t, n, p); err != nil {
			return err
		}
	}
	events, err := td.Events()
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := m.textEvent(t, n, ev); err != nil {
			return err
		}
	}
	t.close()
	return nil
}

func constantText(c *Constant) string {
	v, err := c.Literal()
	if err != nil {
		return "bytearray " + hexBytes(c.Value)
	}
	switch x := v.(type) {
	case nil:
		return "nullref"
	case string:
		return strconv.Quote(x)
	case bool:
		return "bool(" + strconv.FormatBool(x) + ")"
	case float32:
		return "float32(" + strconv.FormatFloat(float64(x), 'g', -1, 32) + ")"
	case float64:
		return "float64(" + strconv.FormatFloat(x, 'g', -1, 64) + ")"
	}
	if c.Type == signature.ElemChar {
		return fmt.Sprintf("char(0x%04X)", v)
	}
	return fmt.Sprintf("%s(%d)", c.Type, v)
}

func (m *Module) textField(t *textWriter, n *textNamer, f *FieldDef) error {
	parts := []string{".field"}
	if f.Offset != nil {
		parts = append(parts, fmt.Sprintf("[%d]", *f.Offset))
	}
	if acc := memberAccess[f.flags&0x7]; acc != "" {
		parts = append(parts, acc)
	}
	parts = append(parts, words(uint32(f.flags), fieldWords)...)
	if f.PInvoke != nil {
		parts = append(parts, "pinvokeimpl("+n.pinvokeScope(f.PInvoke)+")")
	}
	if f.Marshal != nil {
		parts = append(parts, "marshal("+f.Marshal.String()+")")
	}
	if f.Signature != nil {
		parts = append(parts, signature.Format(f.Signature.Type, n))
	}
	parts = append(parts, quoteName(f.name))
	if f.Constant != nil {
		parts = append(parts, "=", constantText(f.Constant))
	}
	data, err := f.InitialValue()
	if err != nil {
		return err
	}
	if data != nil {
		parts = append(parts, fmt.Sprintf("at D_%08X", f.token.RID()))
	}
	t.line("%s", strings.Join(parts, " "))
	if data != nil {
		t.line(".data D_%08X = bytearray %s", f.token.RID(), hexBytes(data))
	}
	return m.textAttributes(t, n, f)
}

func (n *textNamer) pinvokeScope(p *PInvokeInfo) string {
	lib := ""
	if mr, err := resolveAs[*ModuleRef](n.m, p.Scope); err == nil {
		lib = mr.Name
	}
	s := strconv.Quote(lib)
	if p.ImportName != "" {
		s += " as " + strconv.Quote(p.ImportName)
	}
	return s
}

func (m *Module) textMethod(t *textWriter, n *textNamer, md *MethodDef) error {
	gps, err := md.GenericParameters()
	if err != nil {
		return err
	}
	n.methGP = gps
	defer func() { n.methGP = nil }()

	parts := []string{".method"}
	if acc := memberAccess[md.flags&0x7]; acc != "" {
		parts = append(parts, acc)
	}
	parts = append(parts, words(uint32(md.flags), methodWords)...)
	if md.flags&MethodStatic != 0 {
		parts = append(parts, "static")
	}
	if md.PInvoke != nil {
		parts = append(parts, "pinvokeimpl("+n.pinvokeScope(md.PInvoke)+")")
	}
	generics, err := genericList(n, gps)
	if err != nil {
		return err
	}
	params, err := md.Parameters()
	if err != nil {
		return err
	}
	byPos := make(map[uint16]*ParameterDef, len(params))
	for _, p := range params {
		byPos[p.Sequence] = p
	}
	sig := md.Signature
	var b strings.Builder
	if sig.CallConv.HasThis() {
		b.WriteString("instance ")
	}
	b.WriteString(signature.Format(sig.Return, n))
	b.WriteByte(' ')
	b.WriteString(quoteName(md.name))
	b.WriteString(generics)
	b.WriteByte('(')
	for i, pt := range sig.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if p := byPos[uint16(i+1)]; p != nil {
			if ws := words(uint32(p.flags), paramWords); len(ws) > 0 {
				b.WriteString(strings.Join(ws, " ") + " ")
			}
			b.WriteString(signature.Format(pt, n))
			if p.Marshal != nil {
				b.WriteString(" marshal(" + p.Marshal.String() + ")")
			}
			if p.name != "" {
				b.WriteString(" " + quoteName(p.name))
			}
			continue
		}
		b.WriteString(signature.Format(pt, n))
	}
	b.WriteByte(')')
	parts = append(parts, b.String())
	switch md.implFlags & ImplRuntime {
	case ImplRuntime:
		parts = append(parts, "runtime")
	case 0x0001:
		parts = append(parts, "native")
	default:
		parts = append(parts, "cil")
	}
	if md.implFlags&0x0004 != 0 {
		parts = append(parts, "unmanaged")
	} else {
		parts = append(parts, "managed")
	}
	parts = append(parts, words(uint32(md.implFlags), implWords)...)
	t.line("%s", strings.Join(parts, " "))
	t.open()
	if err := m.textAttributes(t, n, md); err != nil {
		return err
	}
	if err := m.textSecurity(t, md.Security); err != nil {
		return err
	}
	for _, p := range params {
		if p.Constant != nil {
			t.line(".param [%d] = %s", p.Sequence, constantText(p.Constant))
		}
		cas, err := p.CustomAttributes()
		if err != nil {
			return err
		}
		if len(cas) > 0 && p.Constant == nil {
			t.line(".param [%d]", p.Sequence)
		}
		if err := m.textAttributes(t, n, p); err != nil {
			return err
		}
	}
	if m.EntryPoint == md.token && !md.token.IsNil() {
		t.line(".entrypoint")
	}
	if owner, err := md.DeclaringType(); err != nil {
		return err
	} else if owner != nil {
		overrides, err := owner.Overrides()
		if err != nil {
			return err
		}
		for _, o := range overrides {
			if o.Body == md.token {
				t.line(".override %s", n.memberName(o.Declaration))
			}
		}
	}
	body, err := md.Body()
	if err != nil {
		return err
	}
	if body != nil {
		if err := m.textBody(t, n, body); err != nil {
			return err
		}
	}
	t.close()
	return nil
}

func (m *Module) textBody(t *textWriter, n *textNamer, body *il.Body) error {
	t.line(".maxstack %d", body.MaxStack)
	if !body.LocalVarSig.IsNil() {
		s, err := resolveAs[*StandaloneSignature](m, body.LocalVarSig)
		if err != nil {
			return err
		}
		if s.Locals != nil {
			locals := make([]string, len(s.Locals.Locals))
			for i, l := range s.Locals.Locals {
				locals[i] = fmt.Sprintf("%s V_%d", signature.Format(l, n), i)
			}
			init := ""
			if body.InitLocals {
				init = "init "
			}
			t.line(".locals %s(%s)", init, strings.Join(locals, ", "))
		}
	}
	code, err := body.Format(n, strings.Repeat("  ", t.indent))
	if err != nil {
		return err
	}
	if t.err == nil {
		_, t.err = io.WriteString(t.w, code)
	}
	return nil
}

func (m *Module) textProperty(t *textWriter, n *textNamer, p *PropertyDef) error {
	sig := p.Signature
	inst := ""
	if sig.HasThis {
		inst = "instance "
	}
	head := ".property " + strings.Join(append(words(uint32(p.flags), []flagWord{{0x0200, "specialname"}, {0x0400, "rtspecialname"}}), ""), " ")
	t.line("%s%s%s %s%s", head, inst, signature.Format(sig.Type, n), quoteName(p.name), signature.FormatParams(sig.Params, n))
	t.open()
	if err := m.textAttributes(t, n, p); err != nil {
		return err
	}
	if p.Constant != nil {
		t.line("= %s", constantText(p.Constant))
	}
	for _, s := range p.Semantics {
		t.line("%s %s", semanticWord(s.Kind), n.memberName(s.Method))
	}
	t.close()
	return nil
}

func (m *Module) textEvent(t *textWriter, n *textNamer, ev *EventDef) error {
	t.line(".event %s %s", n.TypeName(ev.EventType), quoteName(ev.name))
	t.open()
	if err := m.textAttributes(t, n, ev); err != nil {
		return err
	}
	for _, s := range ev.Semantics {
		t.line("%s %s", semanticWord(s.Kind), n.memberName(s.Method))
	}
	t.close()
	return nil
}

func semanticWord(kind uint16) string {
	switch kind {
	case SemanticSetter:
		return ".set"
	case SemanticGetter:
		return ".get"
	case SemanticAddOn:
		return ".addon"
	case SemanticRemoveOn:
		return ".removeon"
	case SemanticFire:
		return ".fire"
	}
	return ".other"
}

// AttributeText renders a decoded attribute blob, e.g. for diagnostics.
func AttributeText(b *attr.Blob) string {
	var parts []string
	for _, v := range b.Fixed {
		parts = append(parts, valueText(v))
	}
	for _, na := range b.Named {
		kind := "property"
		if na.IsField {
			kind = "field"
		}
		parts = append(parts, fmt.Sprintf("%s %s %s = %s", kind, na.Value.Type, quoteName(na.Name), valueText(na.Value)))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func valueText(v attr.Value) string {
	switch x := v.Value.(type) {
	case nil:
		return "nullref"
	case string:
		return strconv.Quote(x)
	case []attr.Value:
		items := make([]string, len(x))
		for i, e := range x {
			items[i] = valueText(e)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case attr.Value:
		return "box " + valueText(x)
	}
	return fmt.Sprint(v.Value)
}

// FormatToken renders tok the way WriteText prints IL operands: a type name,
// "method ..." or "field ..." with the signature, or a quoted literal.
func (m *Module) FormatToken(tok metadata.Token) string {
	n := &textNamer{m: m}
	return n.FormatToken(il.InlineTok, tok)
}
