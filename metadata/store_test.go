package metadata

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/wippyai/ilweave/errors"
)

// sampleBuilder returns a small but cross-referencing set of tables.
func sampleBuilder(t *testing.T) *TableBuilder {
	t.Helper()
	b := NewTableBuilder()
	b.Add(TableModule, Row{0, 1, 1, 0, 0})
	b.Add(TableTypeRef, Row{encode(t, CodedResolutionScope, NewToken(TableAssemblyRef, 1)), 10, 20})
	b.Add(TableTypeDef, Row{0, 30, 0, 0, 1, 1})
	b.Add(TableTypeDef, Row{0x100001, 40, 20, encode(t, CodedTypeDefOrRef, NewToken(TableTypeRef, 1)), 1, 1})
	b.Add(TableTypeDef, Row{0x100001, 50, 20, encode(t, CodedTypeDefOrRef, NewToken(TableTypeRef, 1)), 3, 2})
	b.Add(TableField, Row{0x0001, 60, 1})
	b.Add(TableField, Row{0x0001, 61, 1})
	b.Add(TableField, Row{0x0001, 62, 1})
	b.Add(TableMethodDef, Row{0x2050, 0, 0x0086, 70, 5, 1})
	b.Add(TableCustomAttribute, Row{encode(t, CodedHasCustomAttribute, NewToken(TableTypeDef, 2)), encode(t, CodedCustomAttributeType, NewToken(TableMethodDef, 1)), 9})
	b.Add(TableCustomAttribute, Row{encode(t, CodedHasCustomAttribute, NewToken(TableTypeDef, 2)), encode(t, CodedCustomAttributeType, NewToken(TableMethodDef, 1)), 12})
	b.Add(TableCustomAttribute, Row{encode(t, CodedHasCustomAttribute, NewToken(TableTypeDef, 3)), encode(t, CodedCustomAttributeType, NewToken(TableMethodDef, 1)), 15})
	b.Add(TableAssemblyRef, Row{4, 0, 0, 0, 0, 0, 80, 0, 0})
	return b
}

func encode(t *testing.T, k CodedKind, tok Token) uint32 {
	t.Helper()
	v, err := Coded(k).Encode(tok)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestLoadTablesRoundTrip(t *testing.T) {
	b := sampleBuilder(t)
	stream, err := b.Encode(0x100, 1, 0x40)
	if err != nil {
		t.Fatal(err)
	}

	ts, err := LoadTables(context.Background(), stream, 0)
	if err != nil {
		t.Fatalf("LoadTables: %v", err)
	}
	if ts.RowCount(TableTypeDef) != 3 || ts.RowCount(TableField) != 3 {
		t.Fatalf("row counts: %d %d", ts.RowCount(TableTypeDef), ts.RowCount(TableField))
	}
	for id := TableID(0); id < TableCount; id++ {
		for rid := uint32(1); rid <= b.RowCount(id); rid++ {
			row, err := ts.ReadRow(id, rid)
			if err != nil {
				t.Fatalf("%s[%d]: %v", id, rid, err)
			}
			if row != b.Get(id, rid) {
				t.Errorf("%s[%d]: got %v, want %v", id, rid, row, b.Get(id, rid))
			}
		}
	}

	// Re-encode from what was read and compare stream bytes.
	again := NewTableBuilder()
	again.Header = ts.Header
	for id := TableID(0); id < TableCount; id++ {
		for rid := uint32(1); rid <= ts.RowCount(id); rid++ {
			row, _ := ts.ReadRow(id, rid)
			again.Add(id, row)
		}
	}
	out, err := again.Encode(0x100, 1, 0x40)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, stream) {
		t.Error("re-encoded stream differs")
	}
}

func TestLoadTablesOverrunNamesTable(t *testing.T) {
	b := NewTableBuilder()
	for i := 0; i < 5; i++ {
		b.Add(TableTypeDef, Row{0, 1, 0, 0, 1, 1})
	}
	stream, err := b.Encode(16, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	// header (24) + one row count (4); each TypeDef row is 14 bytes
	const base = 0x2000
	truncated := stream[:24+4+3*14]

	ts, err := LoadTables(context.Background(), truncated, base)
	if ts != nil {
		t.Error("no store may be returned on failure")
	}
	if !errors.IsDecode(err) {
		t.Fatalf("expected decode error, got %v", err)
	}
	e := err.(*errors.Error)
	if e.Table != "TypeDef" {
		t.Errorf("Table = %q, want TypeDef", e.Table)
	}
	if e.Offset != base+28 {
		t.Errorf("Offset = %#x, want %#x", e.Offset, base+28)
	}
}

func TestLoadTablesRejectsCodedTag(t *testing.T) {
	b := NewTableBuilder()
	b.Add(TableTypeDef, Row{0, 1, 0, 0, 1, 1})
	b.Add(TableInterfaceImpl, Row{1, 1<<2 | 3})
	stream, err := b.Encode(16, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	_, err = LoadTables(context.Background(), stream, 0)
	if !errors.IsSchemaViolation(err) {
		t.Fatalf("expected schema violation, got %v", err)
	}
	e := err.(*errors.Error)
	if e.Table != "InterfaceImpl" || e.Column != "Interface" {
		t.Errorf("got %s.%s", e.Table, e.Column)
	}
}

func TestLoadTablesHonoursContext(t *testing.T) {
	stream, err := sampleBuilder(t).Encode(16, 1, 16)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := LoadTables(ctx, stream, 0); err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestReadRowOutOfRange(t *testing.T) {
	stream, _ := sampleBuilder(t).Encode(16, 1, 16)
	ts, err := LoadTables(context.Background(), stream, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, rid := range []uint32{0, 4} {
		if _, err := ts.ReadRow(TableTypeDef, rid); !errors.IsSchemaViolation(err) {
			t.Errorf("rid %d: expected schema violation, got %v", rid, err)
		}
	}
}

func TestListRanges(t *testing.T) {
	stream, _ := sampleBuilder(t).Encode(16, 1, 16)
	ts, _ := LoadTables(context.Background(), stream, 0)

	tests := []struct {
		rid        uint32
		start, end uint32
	}{
		{1, 1, 1},
		{2, 1, 3},
		{3, 3, 4},
	}
	for _, tt := range tests {
		start, end, err := ts.List(TableTypeDef, tt.rid, 4)
		if err != nil {
			t.Fatal(err)
		}
		if start != tt.start || end != tt.end {
			t.Errorf("TypeDef %d fields: [%d,%d), want [%d,%d)", tt.rid, start, end, tt.start, tt.end)
		}
	}
	start, end, _ := ts.List(TableTypeDef, 3, 5)
	if start != 2 || end != 2 {
		t.Errorf("TypeDef 3 methods: [%d,%d), want empty at 2", start, end)
	}
}

func TestFindRowsSorted(t *testing.T) {
	stream, _ := sampleBuilder(t).Encode(16, 1, 16)
	ts, _ := LoadTables(context.Background(), stream, 0)
	if !ts.IsSorted(TableCustomAttribute) {
		t.Fatal("CustomAttribute should be marked sorted")
	}
	parent := encode(t, CodedHasCustomAttribute, NewToken(TableTypeDef, 2))
	rows := ts.FindRows(TableCustomAttribute, 0, parent)
	if len(rows) != 2 || rows[0] != 1 || rows[1] != 2 {
		t.Errorf("got %v, want [1 2]", rows)
	}
	if ts.FindRow(TableCustomAttribute, 0, encode(t, CodedHasCustomAttribute, NewToken(TableField, 1))) != 0 {
		t.Error("unexpected match")
	}
}

func TestBuilderSortReturnsPermutation(t *testing.T) {
	b := NewTableBuilder()
	b.Add(TableNestedClass, Row{3, 1})
	b.Add(TableNestedClass, Row{2, 1})
	b.Add(TableNestedClass, Row{4, 2})
	perm := b.Sort(TableNestedClass)
	if perm[0] != 2 || perm[1] != 1 || perm[2] != 3 {
		t.Errorf("perm = %v", perm)
	}
	if b.Get(TableNestedClass, 1)[0] != 2 {
		t.Errorf("first row %v", b.Get(TableNestedClass, 1))
	}
}

func TestBuilderOverflow(t *testing.T) {
	b := NewTableBuilder()
	b.Add(TableTypeDef, Row{0, 0x10000, 0, 0, 1, 1})
	_, err := b.Encode(16, 0, 16)
	if !errors.IsEncodingOverflow(err) {
		t.Fatalf("expected overflow, got %v", err)
	}
	e := err.(*errors.Error)
	if e.Table != "TypeDef" || e.Column != "TypeName" {
		t.Errorf("got %s.%s", e.Table, e.Column)
	}
	// the same value fits once the strings heap is wide
	if _, err := b.Encode(0x10001, 0, 16); err != nil {
		t.Errorf("wide heap: %v", err)
	}
}

func TestLoadFullRoot(t *testing.T) {
	strs := NewStringHeapBuilder(nil)
	name := strs.Add("sample.dll")
	guids := NewGUIDHeapBuilder(nil)
	mvid := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
	gidx := guids.Add(mvid)
	blobs := NewBlobHeapBuilder(nil)
	if _, err := blobs.Add([]byte{0x06, 0x08}); err != nil {
		t.Fatal(err)
	}
	us := NewUserStringHeapBuilder(nil)
	hello, err := us.Add("hello")
	if err != nil {
		t.Fatal(err)
	}

	tb := NewTableBuilder()
	tb.Add(TableModule, Row{0, name, gidx, 0, 0})
	tables, err := tb.Encode(strs.Len(), guids.Count(), blobs.Len())
	if err != nil {
		t.Fatal(err)
	}
	md := EncodeRoot("v4.0.30319", 1, 1, []StreamData{
		{StreamTables, tables},
		{StreamStrings, strs.Bytes()},
		{StreamUserStrings, us.Bytes()},
		{StreamGUID, guids.Bytes()},
		{StreamBlob, blobs.Bytes()},
	})

	ts, err := Load(context.Background(), md, 0x1000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ts.Root.Version != "v4.0.30319" || len(ts.Root.Streams) != 5 {
		t.Errorf("root: %q, %d streams", ts.Root.Version, len(ts.Root.Streams))
	}
	row, err := ts.ReadRow(TableModule, 1)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := ts.Strings.Get(row[1]); s != "sample.dll" {
		t.Errorf("module name %q", s)
	}
	if g, _ := ts.GUIDs.Get(row[2]); g != mvid {
		t.Errorf("mvid %v", g)
	}
	if s, _ := ts.UserStrings.Get(hello); s != "hello" {
		t.Errorf("user string %q", s)
	}
	if _, err := ts.Strings.Get(0x9999); !errors.IsDecode(err) {
		t.Errorf("out of range string: got %v", err)
	}
}

func TestParseRootRejectsSignature(t *testing.T) {
	_, err := ParseRoot([]byte("XXXX\x01\x00\x01\x00"), 0x200)
	e, ok := err.(*errors.Error)
	if !ok || e.Kind != errors.KindMalformedMetadata || e.Offset != 0x200 {
		t.Errorf("got %v", err)
	}
}
