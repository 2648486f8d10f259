package metadata

import (
	"bytes"
	"testing"

	"github.com/wippyai/ilweave/errors"
)

func TestSchemaCoversEveryTable(t *testing.T) {
	for id := TableID(0); id < TableCount; id++ {
		cols := Schema(id)
		if len(cols) == 0 {
			t.Errorf("%s: no columns", id)
		}
		if len(cols) > MaxColumns {
			t.Errorf("%s: %d columns exceed MaxColumns", id, len(cols))
		}
	}
	if Schema(TableCount) != nil {
		t.Error("undefined table should have no schema")
	}
}

func TestTableIndexWidth(t *testing.T) {
	var s Sizes
	col := Schema(TableTypeDef)[4] // FieldList
	s.Rows[TableField] = 0xFFFF
	if w := s.ColumnWidth(col); w != 2 {
		t.Errorf("0xFFFF rows: width %d, want 2", w)
	}
	s.Rows[TableField] = 0x10000
	if w := s.ColumnWidth(col); w != 4 {
		t.Errorf("0x10000 rows: width %d, want 4", w)
	}
}

func TestCodedIndexWidth(t *testing.T) {
	tests := []struct {
		kind  CodedKind
		table TableID
		rows  uint32
		want  int
	}{
		{CodedTypeDefOrRef, TableTypeRef, 0x3FFF, 2},
		{CodedTypeDefOrRef, TableTypeSpec, 0x4000, 4},
		{CodedHasCustomAttribute, TableMethodSpec, 0x7FF, 2},
		{CodedHasCustomAttribute, TableParam, 0x800, 4},
		{CodedHasSemantics, TableProperty, 0x7FFF, 2},
		{CodedHasSemantics, TableEvent, 0x8000, 4},
		{CodedCustomAttributeType, TableMemberRef, 0x1FFF, 2},
		{CodedCustomAttributeType, TableMethodDef, 0x2000, 4},
	}
	for _, tt := range tests {
		var s Sizes
		s.Rows[tt.table] = tt.rows
		if got := s.CodedWidth(tt.kind); got != tt.want {
			t.Errorf("%s with %s=%#x rows: width %d, want %d", tt.kind, tt.table, tt.rows, got, tt.want)
		}
	}
}

func TestHeapIndexWidth(t *testing.T) {
	s := Sizes{HeapSizes: HeapBlobWide}
	if s.ColumnWidth(Column{Kind: ColString}) != 2 {
		t.Error("strings should be narrow")
	}
	if s.ColumnWidth(Column{Kind: ColBlob}) != 4 {
		t.Error("blob should be wide")
	}
	if got := s.RowWidth(TableMemberRef); got != 2+2+4 {
		t.Errorf("MemberRef row width %d, want 8", got)
	}
}

func TestCodedRoundTrip(t *testing.T) {
	ci := Coded(CodedMemberRefParent)
	for _, tok := range []Token{
		NewToken(TableTypeDef, 1),
		NewToken(TableTypeRef, 0x1234),
		NewToken(TableModuleRef, 7),
		NewToken(TableMethodDef, 3),
		NewToken(TableTypeSpec, 99),
	} {
		v, err := ci.Encode(tok)
		if err != nil {
			t.Fatalf("encode %s: %v", tok, err)
		}
		back, err := ci.Decode(v)
		if err != nil || back != tok {
			t.Errorf("decode %#x: got %s, %v, want %s", v, back, err, tok)
		}
	}
	if v, err := ci.Encode(0); err != nil || v != 0 {
		t.Errorf("nil token: got %#x, %v", v, err)
	}
}

func TestCodedRejectsForeignTable(t *testing.T) {
	_, err := Coded(CodedTypeDefOrRef).Encode(NewToken(TableField, 1))
	if !errors.IsSchemaViolation(err) {
		t.Errorf("expected schema violation, got %v", err)
	}
}

func TestCodedRejectsHoleTag(t *testing.T) {
	ci := Coded(CodedCustomAttributeType)
	if _, err := ci.Decode(1<<3 | 0); !errors.IsSchemaViolation(err) {
		t.Errorf("tag 0: expected schema violation, got %v", err)
	}
	if _, err := ci.Decode(1<<3 | 5); !errors.IsSchemaViolation(err) {
		t.Errorf("tag 5: expected schema violation, got %v", err)
	}
	tok, err := ci.Decode(2<<3 | 3)
	if err != nil || tok != NewToken(TableMemberRef, 2) {
		t.Errorf("tag 3: got %s, %v", tok, err)
	}
}

func TestToken(t *testing.T) {
	tok := NewToken(TableMethodDef, 1)
	if tok != 0x06000001 {
		t.Errorf("got %#x", uint32(tok))
	}
	if tok.Table() != TableMethodDef || tok.RID() != 1 || tok.IsNil() {
		t.Errorf("accessors: %s %d %v", tok.Table(), tok.RID(), tok.IsNil())
	}
	if tok.String() != "0x06000001" {
		t.Errorf("String = %q", tok.String())
	}
	if NewToken(TableTypeDef, 5).Compare(NewToken(TableMethodDef, 1)) >= 0 {
		t.Error("tokens order by table first")
	}
	parsed, err := ParseToken("0x02000005")
	if err != nil || parsed != NewToken(TableTypeDef, 5) {
		t.Errorf("ParseToken: %s, %v", parsed, err)
	}
}

func TestCompressedWrappers(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []uint32{0, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFFFF} {
		if err := WriteCompressedUint(&buf, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := WriteCompressedInt(&buf, -8192); err != nil {
		t.Fatal(err)
	}
	r := bytes.NewReader(buf.Bytes())
	for _, want := range []uint32{0, 0x7F, 0x80, 0x3FFF, 0x4000, 0x1FFFFFFF} {
		got, err := ReadCompressedUint(r)
		if err != nil || got != want {
			t.Errorf("got %#x, %v, want %#x", got, err, want)
		}
	}
	if v, err := ReadCompressedInt(r); err != nil || v != -8192 {
		t.Errorf("signed: got %d, %v", v, err)
	}
	if _, err := ReadCompressedUint(r); !errors.IsDecode(err) {
		t.Errorf("at end: expected decode error, got %v", err)
	}
	if _, err := ReadCompressedUint(bytes.NewReader([]byte{0xF0})); !errors.IsDecode(err) {
		t.Errorf("bad lead: expected decode error, got %v", err)
	}
	_, err := ReadCompressedInt(bytes.NewReader([]byte{0xE1}))
	e, ok := err.(*errors.Error)
	if !ok || e.Kind != errors.KindInvalidCompressed || e.Offset != errors.NoOffset {
		t.Errorf("signed bad lead: got %v", err)
	}
}

func TestCompressedMinimalWidth(t *testing.T) {
	for v := uint32(0); v < 0x5000; v += 7 {
		enc, err := EncodeCompressedUint(v)
		if err != nil {
			t.Fatal(err)
		}
		want := 4
		switch {
		case v < 0x80:
			want = 1
		case v < 0x4000:
			want = 2
		}
		if len(enc) != want {
			t.Fatalf("%#x: width %d, want %d", v, len(enc), want)
		}
	}
}
