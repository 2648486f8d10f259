package metadata

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/wippyai/ilweave/errors"
)

func TestStringHeapBuilderKeepsSeedOffsets(t *testing.T) {
	seed := NewStringHeap([]byte("\x00System\x00Object\x00"), 0)
	b := NewStringHeapBuilder(seed)

	if off := b.AddAt("Object", 8); off != 8 {
		t.Errorf("AddAt existing: %d, want 8", off)
	}
	// suffix sharing: "tem" lives inside "System"
	if off := b.AddAt("tem", 4); off != 4 {
		t.Errorf("AddAt suffix: %d, want 4", off)
	}
	if off := b.Add("System"); off != 1 {
		t.Errorf("Add seeded: %d, want 1", off)
	}
	off := b.AddAt("Renamed", 8)
	if off != 15 {
		t.Errorf("AddAt changed value: %d, want 15", off)
	}
	h := NewStringHeap(b.Bytes(), 0)
	if s, _ := h.Get(off); s != "Renamed" {
		t.Errorf("got %q", s)
	}
	if len(b.Bytes())%4 != 0 {
		t.Errorf("heap not padded: %d", len(b.Bytes()))
	}
}

func TestBlobHeapBuilder(t *testing.T) {
	b := NewBlobHeapBuilder(nil)
	a, err := b.Add([]byte{0x20, 0x00, 0x01})
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := b.Add([]byte{0x20, 0x00, 0x01}); again != a {
		t.Errorf("dedupe: %d != %d", again, a)
	}
	seeded := NewBlobHeapBuilder(NewBlobHeap(b.Bytes(), 0))
	if off, err := seeded.AddAt([]byte{0x20, 0x00, 0x01}, a); err != nil || off != a {
		t.Errorf("AddAt: %d, %v, want %d", off, err, a)
	}
	long := bytes.Repeat([]byte{0xAB}, 200)
	off, err := seeded.Add(long)
	if err != nil {
		t.Fatal(err)
	}
	got, err := NewBlobHeap(seeded.Bytes(), 0).Get(off)
	if err != nil || !bytes.Equal(got, long) {
		t.Errorf("long blob: %d bytes, %v", len(got), err)
	}
}

func TestHeapLengthPrefix(t *testing.T) {
	buf, err := appendLength(nil, StreamBlob, 0x4000)
	if err != nil || !bytes.Equal(buf, []byte{0xC0, 0x00, 0x40, 0x00}) {
		t.Errorf("0x4000: % x, %v", buf, err)
	}
	for _, n := range []int{0x20000000, 0x7FFFFFFF, -1} {
		buf, err := appendLength([]byte{0x01}, StreamUserStrings, n)
		if !errors.IsEncodingOverflow(err) {
			t.Errorf("%#x: expected overflow, got %v", n, err)
		}
		if len(buf) != 1 {
			t.Errorf("%#x: prefix written on overflow: % x", n, buf)
		}
	}
}

func TestGUIDHeapBuilder(t *testing.T) {
	b := NewGUIDHeapBuilder(nil)
	g1 := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	g2 := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	if b.Add(uuid.Nil) != 0 {
		t.Error("nil GUID must be index 0")
	}
	if b.Add(g1) != 1 || b.Add(g2) != 2 || b.Add(g1) != 1 {
		t.Error("unexpected indices")
	}
	h := NewGUIDHeap(b.Bytes(), 0)
	if g, _ := h.Get(2); g != g2 {
		t.Errorf("Get(2) = %v", g)
	}
	if _, err := h.Get(3); err == nil {
		t.Error("expected out of range error")
	}
}

func TestUserStringTerminalByte(t *testing.T) {
	tests := []struct {
		s    string
		last byte
	}{
		{"plain", 0},
		{"it's", 1},
		{"naïve", 1},
		{"", 0},
	}
	for _, tt := range tests {
		enc := EncodeUserString(tt.s)
		if enc[len(enc)-1] != tt.last {
			t.Errorf("%q: terminal byte %d, want %d", tt.s, enc[len(enc)-1], tt.last)
		}
	}

	b := NewUserStringHeapBuilder(nil)
	off, err := b.Add("naïve")
	if err != nil {
		t.Fatal(err)
	}
	seeded := NewUserStringHeapBuilder(NewUserStringHeap(b.Bytes(), 0))
	if got, _ := seeded.AddAt("naïve", off); got != off {
		t.Errorf("AddAt: %d, want %d", got, off)
	}
	if got, _ := seeded.Add("naïve"); got != off {
		t.Errorf("seed index: %d, want %d", got, off)
	}
}
