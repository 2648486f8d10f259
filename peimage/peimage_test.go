package peimage

import (
	"bytes"
	"testing"

	"github.com/wippyai/ilweave/errors"
)

func testLayout() *Layout {
	return &Layout{
		Bodies: [][]byte{
			{0x06, 0x2A},       // tiny: ret
			{0x0A, 0x00, 0x2A}, // tiny: nop; ret
		},
		FieldData:      [][]byte{{1, 2, 3, 4, 5}},
		Resources:      [][]byte{[]byte("hello"), {}},
		StrongNameSize: 128,
		EntryPoint:     0x06000001,
		Flags:          FlagILOnly,
		TimeDateStamp:  0x5F000000,
	}
}

func TestWriteRead(t *testing.T) {
	l := testLayout()
	md := append([]byte("BSJB"), bytes.Repeat([]byte{0xAB}, 61)...)
	p := Plan(l)

	data, err := Write(l, md)
	if err != nil {
		t.Fatal(err)
	}
	im, err := Read(data)
	if err != nil {
		t.Fatal(err)
	}

	if im.PE32Plus || im.IsDLL() {
		t.Errorf("PE32Plus=%v DLL=%v", im.PE32Plus, im.IsDLL())
	}
	if im.CLI.Cb != cliHeaderSize || im.CLI.MajorRuntimeVersion != 2 || im.CLI.MinorRuntimeVersion != 5 {
		t.Errorf("CLI header = %+v", im.CLI)
	}
	if im.CLI.Flags != FlagILOnly || im.CLI.EntryPoint != 0x06000001 {
		t.Errorf("flags 0x%x entry 0x%x", im.CLI.Flags, im.CLI.EntryPoint)
	}
	if im.CLI.Metadata.RVA != p.MetadataRVA {
		t.Errorf("metadata RVA 0x%x, planned 0x%x", im.CLI.Metadata.RVA, p.MetadataRVA)
	}
	if im.StrongNameSize() != 128 || im.TimeDateStamp != 0x5F000000 {
		t.Errorf("strong name %d, timestamp 0x%x", im.StrongNameSize(), im.TimeDateStamp)
	}

	got, _, err := im.Metadata()
	if err != nil || !bytes.Equal(got, md) {
		t.Fatalf("metadata = %x, %v", got, err)
	}
	for i, want := range l.Bodies {
		if p.BodyRVAs[i]%4 != 0 {
			t.Errorf("body %d at unaligned RVA 0x%x", i, p.BodyRVAs[i])
		}
		body, _, err := im.MethodBody(p.BodyRVAs[i])
		if err != nil || !bytes.Equal(body, want) {
			t.Errorf("body %d = %x, %v", i, body, err)
		}
	}
	fd, _, err := im.Slice(p.FieldDataRVAs[0], 5)
	if err != nil || !bytes.Equal(fd, l.FieldData[0]) {
		t.Errorf("field data = %x, %v", fd, err)
	}
	for i, want := range l.Resources {
		res, err := im.Resource(p.ResourceOffsets[i])
		if err != nil || !bytes.Equal(res, want) {
			t.Errorf("resource %d = %q, %v", i, res, err)
		}
	}
}

func TestWriteDLL(t *testing.T) {
	l := &Layout{Bodies: [][]byte{{0x06, 0x2A}}, DLL: true, Flags: FlagILOnly}
	data, err := Write(l, []byte("BSJB0000"))
	if err != nil {
		t.Fatal(err)
	}
	im, err := Read(data)
	if err != nil {
		t.Fatal(err)
	}
	if !im.IsDLL() || im.ImageBase != defaultDllBase {
		t.Errorf("DLL=%v base=0x%x", im.IsDLL(), im.ImageBase)
	}
	if !bytes.Contains(data, []byte("_CorDllMain\x00")) {
		t.Error("DLL image does not import _CorDllMain")
	}
	if im.CLI.Resources.Size != 0 || im.CLI.StrongNameSignature.RVA != 0 {
		t.Errorf("unexpected directories %+v", im.CLI)
	}
}

func TestPlanOrdersMetadataLast(t *testing.T) {
	l := testLayout()
	p := Plan(l)
	last := p.BodyRVAs[len(p.BodyRVAs)-1]
	if !(last < p.FieldDataRVAs[0] && p.FieldDataRVAs[0] < p.ResourcesRVA &&
		p.ResourcesRVA < p.StrongNameRVA && p.StrongNameRVA < p.MetadataRVA) {
		t.Errorf("placement out of order: %+v", p)
	}
	if p.FieldDataRVAs[0]%fieldDataAlign != 0 {
		t.Errorf("field data RVA 0x%x not aligned", p.FieldDataRVAs[0])
	}
}

func TestReadErrors(t *testing.T) {
	if _, err := Read([]byte("not a PE image at all")); !errors.IsDecode(err) {
		t.Errorf("garbage: got %v", err)
	}
	if _, err := Write(&Layout{}, nil); err == nil {
		t.Error("empty metadata accepted")
	}

	data, err := Write(testLayout(), []byte("BSJB0000"))
	if err != nil {
		t.Fatal(err)
	}
	im, err := Read(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := im.Slice(0x00F00000, 4); !errors.IsDecode(err) {
		t.Errorf("RVA outside sections: got %v", err)
	}
	if _, err := im.Resource(im.CLI.Resources.Size); !errors.IsDecode(err) {
		t.Errorf("resource past directory: got %v", err)
	}
}
