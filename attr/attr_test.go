package attr

import (
	"bytes"
	"testing"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/signature"
)

func TestDecodeFixedAndNamed(t *testing.T) {
	// [Obsolete("gone", true)] with a named property Level = 3 (int32).
	blob := []byte{
		0x01, 0x00,
		0x04, 'g', 'o', 'n', 'e',
		0x01,
		0x01, 0x00,
		0x54, 0x08, 0x05, 'L', 'e', 'v', 'e', 'l', 0x03, 0x00, 0x00, 0x00,
	}
	params := []SerializationType{Intrinsic{Kind: signature.ElemString}, Intrinsic{Kind: signature.ElemBoolean}}

	b, err := Decode(blob, 0, params, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Fixed) != 2 || b.Fixed[0].Value != "gone" || b.Fixed[1].Value != true {
		t.Fatalf("fixed args %+v", b.Fixed)
	}
	if len(b.Named) != 1 {
		t.Fatalf("named args %+v", b.Named)
	}
	n := b.Named[0]
	if n.IsField || n.Name != "Level" || n.Value.Value != int32(3) {
		t.Errorf("named arg %+v", n)
	}

	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, blob) {
		t.Errorf("encode %x, want %x", out, blob)
	}
}

func TestDecodeNulls(t *testing.T) {
	blob := []byte{0x01, 0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00}
	params := []SerializationType{
		Intrinsic{Kind: signature.ElemString},
		Array{Elem: Intrinsic{Kind: signature.ElemI4}},
	}
	b, err := Decode(blob, 0, params, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.Fixed[0].Value != nil || b.Fixed[1].Value != nil {
		t.Errorf("want nulls, got %+v", b.Fixed)
	}
	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, blob) {
		t.Errorf("encode %x, want %x", out, blob)
	}
}

func TestDecodeBoxedAndEnum(t *testing.T) {
	// object arg boxing an int16, then a named field of enum type "E" = 2 (u1)
	blob := []byte{
		0x01, 0x00,
		0x06, 0x07, 0x00,
		0x01, 0x00,
		0x53, 0x55, 0x01, 'E', 0x01, 'F', 0x02,
	}
	enums := func(name string) (signature.ElementType, error) {
		if name != "E" {
			return 0, errors.NotFound(errors.PhaseSignature, "enum", name)
		}
		return signature.ElemU1, nil
	}
	b, err := Decode(blob, 0, []SerializationType{Boxed{}}, enums)
	if err != nil {
		t.Fatal(err)
	}
	inner, ok := b.Fixed[0].Value.(Value)
	if !ok || inner.Value != int16(7) {
		t.Fatalf("boxed value %+v", b.Fixed[0])
	}
	n := b.Named[0]
	if !n.IsField || n.Name != "F" || n.Value.Value != uint8(2) {
		t.Errorf("named %+v", n)
	}
	if e, ok := n.Value.Type.(Enum); !ok || e.Name != "E" {
		t.Errorf("enum type %v", n.Value.Type)
	}
	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, blob) {
		t.Errorf("encode %x, want %x", out, blob)
	}
}

func TestDecodeEnumWithoutLookup(t *testing.T) {
	blob := []byte{0x01, 0x00, 0x01, 0x00, 0x53, 0x55, 0x01, 'E', 0x01, 'F', 0x02}
	_, err := Decode(blob, 0, nil, nil)
	if !errors.IsUnresolved(err) {
		t.Errorf("want unresolved, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	bytesArray := []SerializationType{Array{Elem: Intrinsic{Kind: signature.ElemU1}}}
	tests := []struct {
		name   string
		blob   []byte
		params []SerializationType
	}{
		{"bad prolog", []byte{0x02, 0x00, 0x00, 0x00}, nil},
		{"bad named kind", []byte{0x01, 0x00, 0x01, 0x00, 0x52, 0x08, 0x01, 'X', 0, 0, 0, 0}, nil},
		{"bad type tag", []byte{0x01, 0x00, 0x01, 0x00, 0x53, 0x12, 0x01, 'X'}, nil},
		{"trailing", []byte{0x01, 0x00, 0x00, 0x00, 0x00}, nil},
		{"huge array", []byte{0x01, 0x00, 0x00, 0x10, 0x00, 0x00}, bytesArray},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.blob, 0, tt.params, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFromSignature(t *testing.T) {
	typeTok := metadata.NewToken(metadata.TableTypeRef, 1)
	classify := func(tok metadata.Token) (SerializationType, error) {
		if tok == typeTok {
			return SystemType{}, nil
		}
		return Enum{Name: "E", Underlying: signature.ElemI4}, nil
	}

	tests := []struct {
		in   signature.Type
		want string
	}{
		{signature.Int32, "int32"},
		{signature.Object, "object"},
		{signature.SzArray{Elem: signature.String}, "string[]"},
		{signature.TypeDefOrRef{Token: typeTok}, "type"},
		{signature.TypeDefOrRef{Token: metadata.NewToken(metadata.TableTypeRef, 2), ValueType: true}, "enum E"},
	}
	for _, tt := range tests {
		got, err := FromSignature(tt.in, classify)
		if err != nil {
			t.Fatalf("%v: %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("FromSignature = %s, want %s", got, tt.want)
		}
	}

	if _, err := FromSignature(signature.IntPtr, classify); err == nil {
		t.Error("native int must not be an attribute argument")
	}
	nested := signature.SzArray{Elem: signature.SzArray{Elem: signature.Int32}}
	if _, err := FromSignature(nested, classify); err == nil {
		t.Error("nested arrays must be rejected")
	}
}
