package binary

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/wippyai/ilweave/errors"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(data)

	for i, want := range data {
		if r.Position() != i {
			t.Errorf("position before read %d: got %d, want %d", i, r.Position(), i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	_, err := r.ReadByte()
	if !errors.IsDecode(err) {
		t.Errorf("expected decode error at end of input, got %v", err)
	}
}

func TestReaderPositionIsAbsolute(t *testing.T) {
	r := NewReaderAt([]byte{0x01, 0x02}, 0x100)
	if _, err := r.ReadU16(); err != nil {
		t.Fatal(err)
	}
	_, err := r.ReadByte()
	e, ok := err.(*errors.Error)
	if !ok {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if e.Offset != 0x102 {
		t.Errorf("Offset = 0x%x, want 0x102", e.Offset)
	}
	if e.Kind != errors.KindTruncated {
		t.Errorf("Kind = %v", e.Kind)
	}
}

func TestReaderFixedWidth(t *testing.T) {
	data := []byte{
		0x34, 0x12,
		0x78, 0x56, 0x34, 0x12,
		0x01, 0, 0, 0, 0, 0, 0, 0x80,
	}
	r := NewReader(data)
	u16, _ := r.ReadU16()
	u32, _ := r.ReadU32()
	u64, _ := r.ReadU64()
	if u16 != 0x1234 || u32 != 0x12345678 || u64 != 0x8000000000000001 {
		t.Errorf("got 0x%x 0x%x 0x%x", u16, u32, u64)
	}
	if r.Remaining() != 0 {
		t.Errorf("remaining = %d", r.Remaining())
	}
}

func TestReadCompressedUint(t *testing.T) {
	tests := []struct {
		encoded []byte
		want    uint32
	}{
		{[]byte{0x03}, 0x03},
		{[]byte{0x7F}, 0x7F},
		{[]byte{0x80, 0x80}, 0x80},
		{[]byte{0xAE, 0x57}, 0x2E57},
		{[]byte{0xBF, 0xFF}, 0x3FFF},
		{[]byte{0xC0, 0x00, 0x40, 0x00}, 0x4000},
		{[]byte{0xDF, 0xFF, 0xFF, 0xFF}, 0x1FFFFFFF},
	}

	for _, tt := range tests {
		r := NewReader(tt.encoded)
		got, err := r.ReadCompressedUint()
		if err != nil {
			t.Errorf("ReadCompressedUint(%x): %v", tt.encoded, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ReadCompressedUint(%x): got 0x%x, want 0x%x", tt.encoded, got, tt.want)
		}
		if r.Remaining() != 0 {
			t.Errorf("ReadCompressedUint(%x): %d bytes left", tt.encoded, r.Remaining())
		}
	}
}

func TestReadCompressedUintRejectsLeadPattern(t *testing.T) {
	r := NewReader([]byte{0xE0, 0, 0, 0})
	_, err := r.ReadCompressedUint()
	if err == nil {
		t.Fatal("expected error for 111xxxxx lead byte")
	}
	e := err.(*errors.Error)
	if e.Kind != errors.KindInvalidCompressed || e.Offset != 0 {
		t.Errorf("got %v", e)
	}
}

func TestReadCompressedUintTruncated(t *testing.T) {
	r := NewReader([]byte{0xC0, 0x01})
	if _, err := r.ReadCompressedUint(); !errors.IsDecode(err) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestCompressedUintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x7F, 0x80, 0x3FFF, 0x4000, 0x123456, MaxCompressedUint}
	for _, v := range values {
		enc, err := AppendCompressedUint(nil, v)
		if err != nil {
			t.Fatalf("encode 0x%x: %v", v, err)
		}
		if len(enc) != CompressedUintSize(v) {
			t.Errorf("encode 0x%x: width %d, want %d", v, len(enc), CompressedUintSize(v))
		}
		got, err := NewReader(enc).ReadCompressedUint()
		if err != nil || got != v {
			t.Errorf("round trip 0x%x: got 0x%x, %v", v, got, err)
		}
	}
}

func TestCompressedUintOverflow(t *testing.T) {
	_, err := AppendCompressedUint(nil, MaxCompressedUint+1)
	if !errors.IsEncodingOverflow(err) {
		t.Errorf("expected overflow, got %v", err)
	}
}

func TestCompressedIntKnownEncodings(t *testing.T) {
	tests := []struct {
		want  []byte
		value int32
	}{
		{[]byte{0x06}, 3},
		{[]byte{0x7B}, -3},
		{[]byte{0x80, 0x80}, 64},
		{[]byte{0x01}, -64},
		{[]byte{0xC0, 0x00, 0x40, 0x00}, 8192},
		{[]byte{0x80, 0x01}, -8192},
		{[]byte{0xDF, 0xFF, 0xFF, 0xFE}, 268435455},
		{[]byte{0xC0, 0x00, 0x00, 0x01}, -268435456},
	}

	for _, tt := range tests {
		got, err := AppendCompressedInt(nil, tt.value)
		if err != nil {
			t.Fatalf("encode %d: %v", tt.value, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("encode %d: got %x, want %x", tt.value, got, tt.want)
		}
		back, err := NewReader(got).ReadCompressedInt()
		if err != nil || back != tt.value {
			t.Errorf("decode %x: got %d, %v", got, back, err)
		}
	}
}

func TestReadCString(t *testing.T) {
	r := NewReader([]byte("Object\x00System\x00"))
	a, err := r.ReadCString()
	if err != nil || a != "Object" {
		t.Fatalf("got %q, %v", a, err)
	}
	b, err := r.ReadCString()
	if err != nil || b != "System" {
		t.Fatalf("got %q, %v", b, err)
	}
	if _, err := NewReader([]byte("abc")).ReadCString(); !errors.IsDecode(err) {
		t.Errorf("unterminated string: got %v", err)
	}
}

func TestSerString(t *testing.T) {
	w := NewWriter()
	for _, tt := range []struct {
		s    string
		null bool
	}{{"hello", false}, {"", true}, {"", false}} {
		if err := w.WriteSerString(tt.s, tt.null); err != nil {
			t.Fatal(err)
		}
	}

	r := NewReader(w.Bytes())
	s, null, err := r.ReadSerString()
	if err != nil || null || s != "hello" {
		t.Fatalf("got %q %v %v", s, null, err)
	}
	_, null, err = r.ReadSerString()
	if err != nil || !null {
		t.Fatalf("expected null, got %v %v", null, err)
	}
	s, null, err = r.ReadSerString()
	if err != nil || null || s != "" {
		t.Fatalf("expected empty, got %q %v %v", s, null, err)
	}
}

func TestLengthPrefixOverflow(t *testing.T) {
	w := NewWriter()
	for _, n := range []int{MaxCompressedUint + 1, -1} {
		if err := w.writeLength(n); !errors.IsEncodingOverflow(err) {
			t.Errorf("%d: expected overflow, got %v", n, err)
		}
	}
	if w.Len() != 0 {
		t.Errorf("wrote %d bytes on overflow", w.Len())
	}
	if err := w.writeLength(MaxCompressedUint); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(w.Bytes(), []byte{0xDF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("max length: % x", w.Bytes())
	}
}

func TestGUIDLayout(t *testing.T) {
	u := uuid.MustParse("00112233-4455-6677-8899-aabbccddeeff")
	w := NewWriter()
	w.WriteGUID(u)
	want := []byte{0x33, 0x22, 0x11, 0x00, 0x55, 0x44, 0x77, 0x66, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("on-disk layout: got %x", w.Bytes())
	}
	got, err := NewReader(w.Bytes()).ReadGUID()
	if err != nil || got != u {
		t.Errorf("round trip: got %v, %v", got, err)
	}
}

func TestUTF16(t *testing.T) {
	enc, err := EncodeUTF16("Hé")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, []byte{'H', 0, 0xE9, 0}) {
		t.Errorf("got %x", enc)
	}
	s, err := DecodeUTF16(enc)
	if err != nil || s != "Hé" {
		t.Errorf("got %q, %v", s, err)
	}
}

func TestWriterIndexAndPatch(t *testing.T) {
	w := NewWriter()
	if !w.WriteIndex(0xFFFF, 2) {
		t.Error("0xFFFF fits two bytes")
	}
	if w.WriteIndex(0x10000, 2) {
		t.Error("0x10000 does not fit two bytes")
	}
	w.WriteIndex(7, 4)
	w.PutU32At(2, 9)
	want := []byte{0xFF, 0xFF, 9, 0, 0, 0}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("got %x, want %x", w.Bytes(), want)
	}
}

func TestWriterAlign(t *testing.T) {
	w := NewWriter()
	w.Byte(1)
	w.Align(4)
	if w.Len() != 4 {
		t.Errorf("Len = %d, want 4", w.Len())
	}
	w.Align(4)
	if w.Len() != 4 {
		t.Errorf("aligned writer should not grow, Len = %d", w.Len())
	}
}

func TestReaderHeapIndex(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	r := NewReader(data)
	narrow, _ := r.ReadHeapIndex(false)
	wide, _ := r.ReadHeapIndex(true)
	if narrow != 0x0201 || wide != 0x06050403 {
		t.Errorf("got 0x%x 0x%x", narrow, wide)
	}
}
