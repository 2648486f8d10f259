package model

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/il"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

var (
	i4     = signature.Intrinsic{Kind: signature.ElemI4}
	str    = signature.Intrinsic{Kind: signature.ElemString}
	ecmaPK = []byte{0xB7, 0x7A, 0x5C, 0x56, 0x19, 0x34, 0xE0, 0x89}
)

type sample struct {
	m      *Module
	corlib *AssemblyRef
	object *TypeRef
	foo    *TypeDef
	count  *FieldDef
	answer *MethodDef
	greet  *MethodDef
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func newSample(t *testing.T) *sample {
	t.Helper()
	s := &sample{m: New("Sample.dll", "Sample")}
	var err error
	s.corlib, err = s.m.NewAssemblyRef(AssemblyName{Name: "mscorlib", Version: Version{4, 0, 0, 0}, PublicKeyOrToken: ecmaPK})
	must(t, err)
	s.object, err = s.m.NewTypeRef(s.corlib.Token(), "System", "Object")
	must(t, err)

	s.foo = NewTypeDef("Demo", "Foo", TypePublic|TypeBeforeFieldInit, s.object.Token())
	must(t, s.m.AddType(s.foo))

	s.count = NewFieldDef("count", FieldPrivate|FieldStatic, &signature.FieldSig{Type: i4})
	must(t, s.foo.AddField(s.count))

	s.answer = NewMethodDef("Answer", MethodPublic|MethodStatic|MethodHideBySig, 0, &signature.MethodSig{Return: i4})
	must(t, s.foo.AddMethod(s.answer))
	body := il.NewBody()
	body.Sequences[0].Append(
		&il.Instruction{Op: il.LdcI4S, Operand: int8(42)},
		&il.Instruction{Op: il.Ret},
	)
	must(t, s.answer.SetBody(body))

	s.greet = NewMethodDef("Greet", MethodPublic|MethodStatic|MethodHideBySig, 0,
		&signature.MethodSig{Return: str, Params: []signature.Type{i4}})
	must(t, s.greet.AddParameter(NewParameterDef("times", 0, 1)))
	must(t, s.foo.AddMethod(s.greet))
	hello, err := s.m.NewUserString("hello")
	must(t, err)
	body = il.NewBody()
	body.Sequences[0].Append(
		&il.Instruction{Op: il.Call, Operand: s.answer.Token()},
		&il.Instruction{Op: il.Stsfld, Operand: s.count.Token()},
		&il.Instruction{Op: il.Ldstr, Operand: hello},
		&il.Instruction{Op: il.Ret},
	)
	must(t, s.greet.SetBody(body))
	return s
}

func reload(t *testing.T, m *Module) (*Module, []byte) {
	t.Helper()
	data, err := m.Encode(context.Background(), WriteOptions{})
	must(t, err)
	out, err := Load(context.Background(), data)
	must(t, err)
	return out, data
}

func TestNewModule(t *testing.T) {
	m := New("Empty.dll", "")
	if m.Assembly() != nil {
		t.Error("netmodule has an assembly")
	}
	types, err := m.Types()
	must(t, err)
	if len(types) != 1 || types[0].Name() != "<Module>" || types[0].Token().RID() != 1 {
		t.Fatalf("types = %v", types)
	}
	if err := m.RemoveType(types[0]); err == nil {
		t.Error("removing <Module> succeeded")
	}
}

func TestBuildWriteLoad(t *testing.T) {
	s := newSample(t)
	m, _ := reload(t, s.m)

	if m.Name() != "Sample.dll" || m.Assembly() == nil || m.Assembly().Name != "Sample" {
		t.Fatalf("module %q assembly %+v", m.Name(), m.Assembly())
	}
	if m.Def().Mvid != s.m.Def().Mvid {
		t.Error("mvid changed")
	}
	foo, err := m.FindType("Demo.Foo")
	must(t, err)
	if foo == nil {
		t.Fatal("Demo.Foo not found")
	}
	if foo.Attributes() != TypePublic|TypeBeforeFieldInit {
		t.Errorf("flags = 0x%x", foo.Attributes())
	}

	base, err := foo.BaseType()
	must(t, err)
	ref, ok := base.(*TypeRef)
	if !ok || ref.Namespace != "System" || ref.Name != "Object" {
		t.Fatalf("base = %#v", base)
	}
	scope, err := resolveAs[*AssemblyRef](m, ref.Scope)
	must(t, err)
	if scope.Name != "mscorlib" || !bytes.Equal(scope.PublicKeyOrToken, ecmaPK) || scope.Version != (Version{4, 0, 0, 0}) {
		t.Errorf("scope = %+v", scope)
	}

	fields, err := foo.Fields()
	must(t, err)
	if len(fields) != 1 || fields[0].Name() != "count" || !fields[0].IsStatic() {
		t.Fatalf("fields = %v", fields)
	}
	if _, ok := fields[0].Signature.Type.(signature.Intrinsic); !ok {
		t.Errorf("field type = %#v", fields[0].Signature.Type)
	}

	methods, err := foo.Methods()
	must(t, err)
	if len(methods) != 2 || methods[0].Name() != "Answer" || methods[1].Name() != "Greet" {
		t.Fatalf("methods = %v", methods)
	}
	body, err := methods[0].Body()
	must(t, err)
	ins := body.Instructions()
	if len(ins) != 2 || ins[0].Op != il.LdcI4S || ins[0].Operand != int8(42) || ins[1].Op != il.Ret {
		t.Fatalf("Answer body = %v", ins)
	}

	params, err := methods[1].Parameters()
	must(t, err)
	if len(params) != 1 || params[0].Name() != "times" || params[0].Sequence != 1 {
		t.Errorf("params = %v", params)
	}
	body, err = methods[1].Body()
	must(t, err)
	ins = body.Instructions()
	if len(ins) != 4 {
		t.Fatalf("Greet body = %v", ins)
	}
	if tok, _ := ins[0].Token(); tok != methods[0].Token() {
		t.Errorf("call target %s, want %s", tok, methods[0].Token())
	}
	if tok, _ := ins[1].Token(); tok != fields[0].Token() {
		t.Errorf("stsfld target %s, want %s", tok, fields[0].Token())
	}
	tok, _ := ins[2].Token()
	lit, err := m.UserString(tok)
	must(t, err)
	if lit != "hello" {
		t.Errorf("ldstr = %q", lit)
	}
}

func TestRoundTripStable(t *testing.T) {
	s := newSample(t)
	m2, first := reload(t, s.m)
	m3, second := reload(t, m2)
	_, third := reload(t, m3)
	if len(first) == 0 || !bytes.Equal(second, third) {
		t.Fatalf("image changed across an unmodified round trip: %d vs %d bytes", len(second), len(third))
	}

	for tid := metadata.TableID(0); tid < metadata.TableCount; tid++ {
		if m2.Tables().RowCount(tid) != m3.Tables().RowCount(tid) {
			t.Errorf("%s rows %d vs %d", tid, m2.Tables().RowCount(tid), m3.Tables().RowCount(tid))
		}
	}
}

func TestRawBodyKept(t *testing.T) {
	s := newSample(t)
	m, _ := reload(t, s.m)
	foo, err := m.FindType("Demo.Foo")
	must(t, err)
	md, err := foo.FindMethod("Answer")
	must(t, err)
	raw, err := md.RawBody()
	must(t, err)
	if !bytes.Equal(raw, []byte{0x0E, 0x1F, 42, 0x2A}) {
		t.Errorf("raw body = % x", raw)
	}
}

func TestFrozenAfterWrite(t *testing.T) {
	s := newSample(t)
	if _, err := s.m.Encode(context.Background(), WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	if !s.m.Frozen() {
		t.Fatal("module not frozen")
	}
	checks := map[string]error{
		"AddType":  s.m.AddType(NewTypeDef("Demo", "Bar", TypePublic, s.object.Token())),
		"SetName":  s.foo.SetName("Baz"),
		"SetBody":  s.answer.SetBody(nil),
		"AddField": s.foo.AddField(NewFieldDef("x", FieldPublic, &signature.FieldSig{Type: i4})),
	}
	_, err := s.m.NewUserString("late")
	checks["NewUserString"] = err
	for name, err := range checks {
		if !errors.IsFrozen(err) {
			t.Errorf("%s: err = %v", name, err)
		}
	}
	if s.foo.Name() != "Foo" {
		t.Error("frozen type renamed")
	}
}

func TestRemovedMethodUnresolved(t *testing.T) {
	s := newSample(t)
	must(t, s.foo.RemoveMethod(s.answer))
	_, err := s.m.Encode(context.Background(), WriteOptions{})
	if !errors.IsUnresolved(err) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), s.answer.Token().String()) {
		t.Errorf("error does not name %s: %v", s.answer.Token(), err)
	}
}

func TestRenameSurvivesWrite(t *testing.T) {
	s := newSample(t)
	must(t, s.foo.SetName("Renamed"))
	must(t, s.count.SetName("total"))
	m, _ := reload(t, s.m)
	foo, err := m.FindType("Demo.Renamed")
	must(t, err)
	if foo == nil {
		t.Fatal("renamed type missing")
	}
	f, err := foo.FindField("total")
	must(t, err)
	if f == nil {
		t.Error("renamed field missing")
	}
}

func TestCyclicGenericConstraint(t *testing.T) {
	s := newSample(t)
	m := s.m
	cmp, err := m.NewTypeRef(s.corlib.Token(), "System", "IComparable`1")
	must(t, err)
	box := NewTypeDef("Demo", "Box`1", TypePublic, s.object.Token())
	must(t, m.AddType(box))
	gp, err := box.AddGenericParameter("T")
	must(t, err)
	self := signature.GenericInstance{
		Generic: signature.TypeDefOrRef{Token: box.Token()},
		Args:    []signature.Type{signature.GenericParam{Index: 0}},
	}
	spec, err := m.NewTypeSpec(signature.GenericInstance{
		Generic: signature.TypeDefOrRef{Token: cmp.Token()},
		Args:    []signature.Type{self},
	})
	must(t, err)
	_, err = gp.AddConstraint(spec.Token())
	must(t, err)

	loaded, _ := reload(t, m)
	box2, err := loaded.FindType("Demo.Box`1")
	must(t, err)
	gps, err := box2.GenericParameters()
	must(t, err)
	if len(gps) != 1 || gps[0].Name != "T" || gps[0].Owner != box2.Token() {
		t.Fatalf("generic parameters = %v", gps)
	}
	cs, err := gps[0].Constraints()
	must(t, err)
	if len(cs) != 1 {
		t.Fatalf("constraints = %v", cs)
	}
	ts, err := resolveAs[*TypeSpec](loaded, cs[0].Constraint)
	must(t, err)
	outer, ok := ts.Signature.(signature.GenericInstance)
	if !ok || len(outer.Args) != 1 {
		t.Fatalf("constraint = %#v", ts.Signature)
	}
	inner, ok := outer.Args[0].(signature.GenericInstance)
	if !ok || inner.Generic.Token != box2.Token() {
		t.Errorf("self reference = %#v, want %s", outer.Args[0], box2.Token())
	}

	seen := map[metadata.Token]Declaration{}
	all, err := loaded.AllTypes()
	must(t, err)
	for _, td := range all {
		if prev, dup := seen[td.Token()]; dup {
			t.Errorf("token %s shared by %v and %v", td.Token(), prev, td)
		}
		seen[td.Token()] = td
		again, err := loaded.Resolve(td.Token())
		must(t, err)
		if again != Declaration(td) {
			t.Errorf("Resolve(%s) returned a second instance", td.Token())
		}
	}
}

func TestNestedTypes(t *testing.T) {
	s := newSample(t)
	inner := NewTypeDef("", "Inner", TypeNestedPublic, s.object.Token())
	must(t, s.foo.AddNestedType(inner))
	m, _ := reload(t, s.m)

	td, err := m.FindType("Demo.Foo/Inner")
	must(t, err)
	if td == nil || !td.IsNested() {
		t.Fatalf("nested type = %v", td)
	}
	outer, err := td.DeclaringType()
	must(t, err)
	if outer == nil || outer.Name() != "Foo" {
		t.Errorf("declaring type = %v", outer)
	}
	top, err := m.Types()
	must(t, err)
	for _, x := range top {
		if x.Name() == "Inner" {
			t.Error("nested type listed as top-level")
		}
	}
}

// nestedCycle encodes Demo.Foo/B/C, then repoints B's NestedClass row at C
// so B and C enclose each other.
func nestedCycle(t *testing.T) []byte {
	t.Helper()
	s := newSample(t)
	b := NewTypeDef("", "B", TypeNestedPublic, s.object.Token())
	must(t, s.foo.AddNestedType(b))
	c := NewTypeDef("", "C", TypeNestedPublic, s.object.Token())
	must(t, b.AddNestedType(c))
	m, data := reload(t, s.m)

	lb, err := m.FindType("Demo.Foo/B")
	must(t, err)
	lc, err := m.FindType("Demo.Foo/B/C")
	must(t, err)
	if lb == nil || lc == nil {
		t.Fatal("nested types missing after reload")
	}
	ts := m.Tables()
	row := ts.FindRow(metadata.TableNestedClass, 0, lb.Token().RID())
	if row == 0 {
		t.Fatal("no NestedClass row for B")
	}
	sizes := ts.Sizes()
	layout := sizes.Layout(metadata.TableNestedClass)
	if layout.Widths[1] != 2 {
		t.Fatalf("EnclosingClass width = %d", layout.Widths[1])
	}
	pos := ts.TableOffset(metadata.TableNestedClass) + int(row-1)*layout.RowWidth + layout.Offsets[1]
	patched := bytes.Clone(data)
	rid := lc.Token().RID()
	patched[pos], patched[pos+1] = byte(rid), byte(rid>>8)
	return patched
}

func TestNestedClassCycle(t *testing.T) {
	ctx := context.Background()
	m, err := Load(ctx, nestedCycle(t))
	must(t, err)

	if _, err := m.FindType("Missing"); !errors.IsSchemaViolation(err) {
		t.Fatalf("FindType err = %v", err)
	}
	all, err := m.AllTypes()
	must(t, err)
	var cyclic []metadata.Token
	for _, td := range all {
		if td.Name() != "B" && td.Name() != "C" {
			continue
		}
		cyclic = append(cyclic, td.Token())
		_, err := td.FullName()
		e, ok := err.(*errors.Error)
		if !ok || e.Kind != errors.KindSchemaViolation || e.Token != uint32(td.Token()) {
			t.Errorf("%s: FullName err = %v", td.Name(), err)
		}
	}
	if len(cyclic) != 2 {
		t.Fatalf("found %d cycle members, want 2", len(cyclic))
	}
	var sc SignatureComparer
	if sc.Tokens(m, cyclic[0], m, cyclic[1]) {
		t.Error("cyclic types compare equal")
	}
	var buf bytes.Buffer
	if err := m.WriteText(ctx, &buf); err != nil && !errors.IsSchemaViolation(err) {
		t.Errorf("WriteText err = %v", err)
	}
}

func TestSelfScopedReferences(t *testing.T) {
	s := newSample(t)
	ref, err := s.m.NewTypeRef(s.corlib.Token(), "Demo", "Loop")
	must(t, err)
	ref.Scope = ref.Token()

	if _, err := ref.FullName(); !errors.IsSchemaViolation(err) {
		t.Errorf("FullName err = %v", err)
	}
	if _, err := s.m.ResolveTypeRef(context.Background(), ref); !errors.IsSchemaViolation(err) {
		t.Errorf("ResolveTypeRef err = %v", err)
	}
	var sc SignatureComparer
	if sc.Tokens(s.m, ref.Token(), s.m, s.object.Token()) {
		t.Error("self-scoped reference equals System.Object")
	}
	if _, err := s.m.identity(ref.Token()); !errors.IsSchemaViolation(err) {
		t.Errorf("identity err = %v", err)
	}

	exp, err := s.m.NewExportedType(s.corlib.Token(), "Demo", "Gone", 0)
	must(t, err)
	exp.Implementation = exp.Token()
	if _, err := exp.FullName(); !errors.IsSchemaViolation(err) {
		t.Errorf("exported FullName err = %v", err)
	}
}

func TestFieldInitialValue(t *testing.T) {
	s := newSample(t)
	data := NewFieldDef("table", FieldPrivate|FieldStatic, &signature.FieldSig{Type: i4})
	must(t, s.foo.AddField(data))
	must(t, data.SetInitialValue([]byte{1, 2, 3, 4}))
	m, _ := reload(t, s.m)
	foo, err := m.FindType("Demo.Foo")
	must(t, err)
	f, err := foo.FindField("table")
	must(t, err)
	got, err := f.InitialValue()
	must(t, err)
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("initial value = %v", got)
	}
	if f.Attributes()&FieldHasFieldRVA == 0 {
		t.Error("HasFieldRVA not set")
	}
}

func TestResources(t *testing.T) {
	s := newSample(t)
	_, err := s.m.NewResource("greeting.txt", ResourcePublic, []byte("hi there"))
	must(t, err)
	m, _ := reload(t, s.m)
	rs, err := m.Resources()
	must(t, err)
	if len(rs) != 1 || rs[0].Name != "greeting.txt" || !rs[0].Embedded() {
		t.Fatalf("resources = %v", rs)
	}
	data, err := rs[0].Data()
	must(t, err)
	if string(data) != "hi there" {
		t.Errorf("data = %q", data)
	}
}

func TestPublicKeyToken(t *testing.T) {
	ecmaKey := make([]byte, 16)
	ecmaKey[8] = 4
	n := AssemblyName{Name: "mscorlib", PublicKeyOrToken: ecmaKey, Flags: AssemblyPublicKey}
	if got := n.PublicKeyToken(); !bytes.Equal(got, ecmaPK) {
		t.Errorf("token = %x", got)
	}
	n = AssemblyName{Name: "x", PublicKeyOrToken: ecmaPK}
	if got := n.PublicKeyToken(); !bytes.Equal(got, ecmaPK) {
		t.Errorf("token passthrough = %x", got)
	}
	n = AssemblyName{Name: "mscorlib", Version: Version{4, 0, 0, 0}, PublicKeyOrToken: ecmaPK}
	want := "mscorlib, Version=4.0.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089"
	if n.String() != want {
		t.Errorf("display name = %q", n.String())
	}
}

type mapResolver map[string]*Module

func (r mapResolver) Resolve(_ context.Context, name AssemblyName) (*Module, error) {
	if m, ok := r[name.Name]; ok {
		return m, nil
	}
	return nil, errors.NotFound(errors.PhaseResolve, "assembly", name.Name)
}

func TestResolveTypeRef(t *testing.T) {
	lib := New("Lib.dll", "Lib")
	widget := NewTypeDef("Lib", "Widget", TypePublic, 0)
	must(t, lib.AddType(widget))
	libLoaded, _ := reload(t, lib)

	app := New("App.dll", "App", WithAssemblyResolver(mapResolver{"Lib": libLoaded}))
	ar, err := app.NewAssemblyRef(AssemblyName{Name: "Lib"})
	must(t, err)
	ref, err := app.NewTypeRef(ar.Token(), "Lib", "Widget")
	must(t, err)
	missing, err := app.NewTypeRef(ar.Token(), "Lib", "Gadget")
	must(t, err)

	ctx := context.Background()
	td, err := app.ResolveTypeRef(ctx, ref)
	must(t, err)
	if td.Module() != libLoaded || td.Name() != "Widget" {
		t.Errorf("resolved %v in %v", td, td.Module())
	}
	if _, err := app.ResolveTypeRef(ctx, missing); !errors.IsUnresolved(err) {
		t.Errorf("missing type err = %v", err)
	}

	bare := New("Bare.dll", "Bare")
	ar2, err := bare.NewAssemblyRef(AssemblyName{Name: "Lib"})
	must(t, err)
	ref2, err := bare.NewTypeRef(ar2.Token(), "Lib", "Widget")
	must(t, err)
	if _, err := bare.ResolveTypeRef(ctx, ref2); !errors.IsUnresolved(err) {
		t.Errorf("no resolver err = %v", err)
	}
}

func TestComparers(t *testing.T) {
	a := newSample(t)
	b := newSample(t)
	var sc SignatureComparer
	objA := signature.TypeDefOrRef{Token: a.object.Token()}
	objB := signature.TypeDefOrRef{Token: b.object.Token()}
	if !sc.Types(a.m, signature.SzArray{Elem: objA}, b.m, signature.SzArray{Elem: objB}) {
		t.Error("object[] differs across modules")
	}
	if sc.Types(a.m, objA, b.m, signature.TypeDefOrRef{Token: b.foo.Token()}) {
		t.Error("System.Object equals Demo.Foo")
	}

	ref, err := a.m.NewMemberRef(a.foo.Token(), "Answer", &signature.MethodSig{Return: i4})
	must(t, err)
	mc := MethodComparer{}
	if !mc.Equal(ref, a.answer) || !mc.Equal(a.answer, b.answer) {
		t.Error("matching methods compare unequal")
	}
	if mc.Equal(a.answer, a.greet) || mc.Equal(a.answer, a.count) {
		t.Error("different members compare equal")
	}
	found, err := mc.FindMethod(b.foo, "Greet", a.m, a.greet.Signature)
	must(t, err)
	if found != b.greet {
		t.Errorf("FindMethod = %v", found)
	}
}

func TestLazyMembers(t *testing.T) {
	s := newSample(t)
	m, _ := reload(t, s.m)
	foo, err := m.FindType("Demo.Foo")
	must(t, err)
	if foo.membersLoaded {
		t.Error("members loaded before access")
	}
	if _, err := foo.Methods(); err != nil {
		t.Fatal(err)
	}
	if !foo.membersLoaded {
		t.Error("members not loaded after access")
	}
	if _, ok := m.cache[metadata.NewToken(metadata.TableMethodDef, 1)]; !ok {
		t.Error("method not cached")
	}
}

func TestWriteText(t *testing.T) {
	s := newSample(t)
	m, _ := reload(t, s.m)
	var buf bytes.Buffer
	must(t, m.WriteText(context.Background(), &buf))
	out := buf.String()
	for _, want := range []string{
		".assembly extern mscorlib",
		".publickeytoken = (B7 7A 5C 56 19 34 E0 89)",
		".ver 4:0:0:0",
		".assembly Sample",
		".module Sample.dll",
		".class public auto ansi beforefieldinit Demo.Foo",
		"extends [mscorlib]System.Object",
		".field private static int32 count",
		"int32 Answer() cil managed",
		"ldc.i4.s",
		`ldstr "hello"`,
		"call int32 Demo.Foo::Answer()",
		"stsfld int32 Demo.Foo::count",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestQuoteName(t *testing.T) {
	tests := map[string]string{
		"Foo":        "Foo",
		"Demo.Foo":   "Demo.Foo",
		"<Module>":   "'<Module>'",
		"Box`1":      "Box`1",
		"it's":       `'it\'s'`,
		"Outer/In-1": "Outer/'In-1'",
		"":           "''",
	}
	for in, want := range tests {
		if got := quoteName(in); got != want {
			t.Errorf("quoteName(%q) = %q, want %q", in, got, want)
		}
	}
}
