package marshal

import (
	"bytes"
	"testing"
)

func TestArrayText(t *testing.T) {
	tests := []struct {
		want  string
		fixed int32
		param int32
	}{
		{"int32[3]", 3, -1},
		{"int32[+2]", -1, 2},
		{"int32[]", -1, -1},
		{"int32[3]", 3, 0},
		{"int32[+0]", -1, 0},
		{"int32[3+2]", 3, 2},
	}
	for _, tt := range tests {
		a := Array{Elem: NativeI4, FixedArraySize: tt.fixed, AdditionalSizeParameter: tt.param}
		if got := a.String(); got != tt.want {
			t.Errorf("Array(fixed=%d, param=%d) = %q, want %q", tt.fixed, tt.param, got, tt.want)
		}
	}
}

func TestArraySize(t *testing.T) {
	params := []int64{10, 20, 30}
	lookup := func(i int) int64 { return params[i] }

	tests := []struct {
		fixed, param int32
		want         int64
	}{
		{3, -1, 3},
		{3, 0, 3},
		{3, 2, 3 + 20},
		{-1, 1, 10},
		{-1, 3, 30},
		{-1, -1, 0},
	}
	for _, tt := range tests {
		a := Array{Elem: NativeI4, FixedArraySize: tt.fixed, AdditionalSizeParameter: tt.param}
		if got := a.Size(lookup); got != tt.want {
			t.Errorf("Size(fixed=%d, param=%d) = %d, want %d", tt.fixed, tt.param, got, tt.want)
		}
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		text string
	}{
		{"intrinsic", []byte{0x14}, "lpstr"},
		{"bare array", []byte{0x2A}, "[]"},
		{"array unspecified elem", []byte{0x2A, 0x50}, "[]"},
		{"array elem only", []byte{0x2A, 0x07}, "int32[]"},
		{"array param", []byte{0x2A, 0x07, 0x02}, "int32[+2]"},
		{"array both", []byte{0x2A, 0x07, 0x00, 0x03}, "int32[3]"},
		{"array flags", []byte{0x2A, 0x07, 0x01, 0x04, 0x01}, "int32[4+1]"},
		{"fixed array", []byte{0x1E, 0x10, 0x04}, "fixed array [16] unsigned int8"},
		{"sysstring", []byte{0x17, 0x80, 0x80}, "fixed sysstring [128]"},
		{"safearray", []byte{0x1D, 0x03}, "safearray int32"},
		{"safearray vector", []byte{0x1D, 0x90, 0x08}, "safearray bstr vector"},
		{"safearray subtype", []byte{0x1D, 0x1D, 0x03, 'F', 'o', 'o'}, `safearray userdefined, "Foo"`},
		{"iid param", []byte{0x1C, 0x01}, "interface(iidparam = 1)"},
		{"custom", []byte{0x2C, 0x00, 0x00, 0x03, 'M', '.', 'X', 0x01, 'c'}, `custom ("", "", "M.X", "c")`},
		{"unknown", []byte{0x01, 0x02}, "/* raw 1 2 */"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt, err := Decode(tt.blob, 0)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := mt.String(); got != tt.text {
				t.Errorf("text %q, want %q", got, tt.text)
			}
			out, err := Encode(mt)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out, tt.blob) {
				t.Errorf("encode %x, want %x", out, tt.blob)
			}
		})
	}
}

func TestNewArrayEncodesMinimally(t *testing.T) {
	out, _ := Encode(NewArray(NativeLPWStr))
	if !bytes.Equal(out, []byte{0x2A, 0x15}) {
		t.Errorf("got %x", out)
	}
	a := NewArray(NativeI4)
	a.FixedArraySize = 3
	out, _ = Encode(a)
	if !bytes.Equal(out, []byte{0x2A, 0x07, 0x00, 0x03}) {
		t.Errorf("fixed only: got %x", out)
	}
}

func TestBareArrayKeepsElemAbsent(t *testing.T) {
	mt, err := Decode([]byte{0x2A}, 0)
	if err != nil {
		t.Fatal(err)
	}
	a, ok := mt.(Array)
	if !ok || a.HasElem || a.Elem != NativeMax {
		t.Fatalf("decoded %#v", mt)
	}
	a.FixedArraySize = 2
	out, err := Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{0x2A, 0x50, 0x00, 0x02}) {
		t.Errorf("with operands: got %x", out)
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{0x1E}, 0); err == nil {
		t.Error("expected error for fixed array without size")
	}
	if _, err := Decode(nil, 0); err == nil {
		t.Error("expected error for empty blob")
	}
}
