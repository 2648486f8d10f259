package peimage

import (
	"debug/pe"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
)

// Fixed layout of emitted images.
const (
	fileAlignment    = 0x200
	sectionAlignment = 0x2000
	textRVA          = sectionAlignment
	iatSize          = 8
	dosHeaderSize    = 0x80
	optHeader32Size  = 0xE0
	sectionHdrSize   = 40
	fieldDataAlign   = 8
	resourceAlign    = 8

	defaultExeBase = 0x00400000
	defaultDllBase = 0x10000000

	dllCharacteristics = pe.IMAGE_DLLCHARACTERISTICS_DYNAMIC_BASE | pe.IMAGE_DLLCHARACTERISTICS_NX_COMPAT |
		pe.IMAGE_DLLCHARACTERISTICS_NO_SEH | pe.IMAGE_DLLCHARACTERISTICS_TERMINAL_SERVER_AWARE
)

// dosHeader is the conventional MS-DOS header and stub, e_lfanew = 0x80.
var dosHeader = [dosHeaderSize]byte{
	0x4D, 0x5A, 0x90, 0x00, 0x03, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00,
	0xB8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00,
	0x0E, 0x1F, 0xBA, 0x0E, 0x00, 0xB4, 0x09, 0xCD, 0x21, 0xB8, 0x01, 0x4C, 0xCD, 0x21, 0x54, 0x68,
	0x69, 0x73, 0x20, 0x70, 0x72, 0x6F, 0x67, 0x72, 0x61, 0x6D, 0x20, 0x63, 0x61, 0x6E, 0x6E, 0x6F,
	0x74, 0x20, 0x62, 0x65, 0x20, 0x72, 0x75, 0x6E, 0x20, 0x69, 0x6E, 0x20, 0x44, 0x4F, 0x53, 0x20,
	0x6D, 0x6F, 0x64, 0x65, 0x2E, 0x0D, 0x0D, 0x0A, 0x24, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Layout is everything a managed image carries besides its metadata.
type Layout struct {
	Bodies    [][]byte
	FieldData [][]byte
	Resources [][]byte
	// StrongNameSize reserves a zeroed signature slot; signing is external.
	StrongNameSize uint32
	EntryPoint     uint32
	Flags          uint32
	RuntimeMajor   uint16
	RuntimeMinor   uint16
	DLL            bool
	Subsystem      uint16
	ImageBase      uint32
	TimeDateStamp  uint32
}

// Placement is where Plan put each piece of a Layout.
type Placement struct {
	BodyRVAs        []uint32
	FieldDataRVAs   []uint32
	ResourceOffsets []uint32
	ResourcesRVA    uint32
	ResourcesSize   uint32
	StrongNameRVA   uint32
	MetadataRVA     uint32
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// Plan assigns RVAs to bodies, field data and resources. The metadata is
// placed after all of them, so its size does not move anything it refers to.
func Plan(l *Layout) *Placement {
	p := &Placement{}
	rva := uint32(textRVA + iatSize + cliHeaderSize)
	for _, b := range l.Bodies {
		rva = align(rva, 4)
		p.BodyRVAs = append(p.BodyRVAs, rva)
		rva += uint32(len(b))
	}
	for _, d := range l.FieldData {
		rva = align(rva, fieldDataAlign)
		p.FieldDataRVAs = append(p.FieldDataRVAs, rva)
		rva += uint32(len(d))
	}
	rva = align(rva, resourceAlign)
	p.ResourcesRVA = rva
	var off uint32
	for _, r := range l.Resources {
		off = align(off, resourceAlign)
		p.ResourceOffsets = append(p.ResourceOffsets, off)
		off += resourceLenPrefix + uint32(len(r))
	}
	p.ResourcesSize = off
	rva = align(rva+off, 4)
	p.StrongNameRVA = rva
	rva = align(rva+l.StrongNameSize, 4)
	p.MetadataRVA = rva
	return p
}

// Write emits a PE32 image holding metadata and the pieces of l at the RVAs
// Plan assigns.
func Write(l *Layout, metadata []byte) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, errors.InvalidInput(errors.PhaseWrite, "empty metadata")
	}
	p := Plan(l)

	text := binary.NewWriter()
	at := func(rva uint32) {
		if n := int(rva - textRVA); n > text.Len() {
			text.Zero(n - text.Len())
		}
	}

	// IAT and CLI header are patched once the import table is placed.
	text.Zero(iatSize + cliHeaderSize)
	for i, b := range l.Bodies {
		at(p.BodyRVAs[i])
		text.WriteBytes(b)
	}
	for i, d := range l.FieldData {
		at(p.FieldDataRVAs[i])
		text.WriteBytes(d)
	}
	for i, r := range l.Resources {
		at(p.ResourcesRVA + p.ResourceOffsets[i])
		text.WriteU32(uint32(len(r)))
		text.WriteBytes(r)
	}
	at(p.StrongNameRVA)
	text.Zero(int(l.StrongNameSize))
	at(p.MetadataRVA)
	text.WriteBytes(metadata)

	text.Align(4)
	importRVA := uint32(textRVA + text.Len())
	iltRVA := importRVA + 40
	hintRVA := iltRVA + 8
	entryName := "_CorExeMain"
	if l.DLL {
		entryName = "_CorDllMain"
	}
	nameRVA := hintRVA + 2 + uint32(len(entryName)) + 1
	nameRVA = align(nameRVA, 2)

	// Import directory: one descriptor for mscoree.dll, then a null one.
	text.WriteU32(iltRVA)
	text.WriteU32(0)
	text.WriteU32(0)
	text.WriteU32(nameRVA)
	text.WriteU32(textRVA)
	text.Zero(20)
	text.WriteU32(hintRVA)
	text.WriteU32(0)
	text.WriteU16(0)
	text.WriteCString(entryName)
	at(nameRVA)
	text.WriteCString("mscoree.dll")
	importSize := uint32(textRVA+text.Len()) - importRVA

	// jmp dword ptr [IAT]; the absolute address is 4-aligned for the fixup.
	for (text.Len()+2)%4 != 0 {
		text.Byte(0)
	}
	entryRVA := uint32(textRVA + text.Len())
	imageBase := l.ImageBase
	if imageBase == 0 {
		imageBase = defaultExeBase
		if l.DLL {
			imageBase = defaultDllBase
		}
	}
	text.Byte(0xFF)
	text.Byte(0x25)
	text.WriteU32(imageBase + textRVA)
	fixupRVA := entryRVA + 2

	textBytes := text.Bytes()
	patch := binary.NewWriter()
	patch.WriteU32(hintRVA)
	patch.WriteU32(0)
	patch.WriteU32(cliHeaderSize)
	major, minor := l.RuntimeMajor, l.RuntimeMinor
	if major == 0 {
		major, minor = 2, 5
	}
	patch.WriteU16(major)
	patch.WriteU16(minor)
	patch.WriteU32(p.MetadataRVA)
	patch.WriteU32(uint32(len(metadata)))
	patch.WriteU32(l.Flags)
	patch.WriteU32(l.EntryPoint)
	if p.ResourcesSize > 0 {
		patch.WriteU32(p.ResourcesRVA)
		patch.WriteU32(p.ResourcesSize)
	} else {
		patch.Zero(8)
	}
	if l.StrongNameSize > 0 {
		patch.WriteU32(p.StrongNameRVA)
		patch.WriteU32(l.StrongNameSize)
	} else {
		patch.Zero(8)
	}
	patch.Zero(8 * 4)
	copy(textBytes, patch.Bytes())

	reloc := binary.NewWriter()
	reloc.WriteU32(fixupRVA &^ 0xFFF)
	reloc.WriteU32(12)
	reloc.WriteU16(uint16(3<<12 | fixupRVA&0xFFF))
	reloc.WriteU16(0)

	textVirtual := uint32(len(textBytes))
	textRaw := align(textVirtual, fileAlignment)
	relocRVA := align(textRVA+textVirtual, sectionAlignment)
	relocVirtual := uint32(reloc.Len())
	relocRaw := align(relocVirtual, fileAlignment)
	headersSize := align(dosHeaderSize+4+20+optHeader32Size+2*sectionHdrSize, fileAlignment)
	imageSize := align(relocRVA+relocVirtual, sectionAlignment)

	w := binary.NewWriter()
	w.WriteBytes(dosHeader[:])
	w.WriteString("PE\x00\x00")

	characteristics := uint16(pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE)
	if l.DLL {
		characteristics |= pe.IMAGE_FILE_DLL
	}
	w.WriteU16(pe.IMAGE_FILE_MACHINE_I386)
	w.WriteU16(2)
	w.WriteU32(l.TimeDateStamp)
	w.WriteU32(0)
	w.WriteU32(0)
	w.WriteU16(optHeader32Size)
	w.WriteU16(characteristics)

	subsystem := l.Subsystem
	if subsystem == 0 {
		subsystem = pe.IMAGE_SUBSYSTEM_WINDOWS_CUI
	}
	w.WriteU16(0x10B)
	w.Byte(48)
	w.Byte(0)
	w.WriteU32(textRaw)
	w.WriteU32(relocRaw)
	w.WriteU32(0)
	w.WriteU32(entryRVA)
	w.WriteU32(textRVA)
	w.WriteU32(relocRVA)
	w.WriteU32(imageBase)
	w.WriteU32(sectionAlignment)
	w.WriteU32(fileAlignment)
	w.WriteU16(4)
	w.WriteU16(0)
	w.WriteU16(0)
	w.WriteU16(0)
	w.WriteU16(4)
	w.WriteU16(0)
	w.WriteU32(0)
	w.WriteU32(imageSize)
	w.WriteU32(headersSize)
	w.WriteU32(0)
	w.WriteU16(subsystem)
	w.WriteU16(dllCharacteristics)
	w.WriteU32(0x100000)
	w.WriteU32(0x1000)
	w.WriteU32(0x100000)
	w.WriteU32(0x1000)
	w.WriteU32(0)
	w.WriteU32(numDataDirs)
	dirs := [numDataDirs]Directory{
		DirImport:        {importRVA, importSize},
		DirBaseReloc:     {relocRVA, relocVirtual},
		DirIAT:           {textRVA, iatSize},
		DirComDescriptor: {textRVA + iatSize, cliHeaderSize},
	}
	for _, d := range dirs {
		w.WriteU32(d.RVA)
		w.WriteU32(d.Size)
	}

	writeSection := func(name string, virtual, rva, raw, ptr, chars uint32) {
		var n [8]byte
		copy(n[:], name)
		w.WriteBytes(n[:])
		w.WriteU32(virtual)
		w.WriteU32(rva)
		w.WriteU32(raw)
		w.WriteU32(ptr)
		w.Zero(12)
		w.WriteU32(chars)
	}
	writeSection(".text", textVirtual, textRVA, textRaw, headersSize,
		pe.IMAGE_SCN_CNT_CODE|pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_MEM_READ)
	writeSection(".reloc", relocVirtual, relocRVA, relocRaw, headersSize+textRaw,
		pe.IMAGE_SCN_CNT_INITIALIZED_DATA|pe.IMAGE_SCN_MEM_DISCARDABLE|pe.IMAGE_SCN_MEM_READ)

	w.Zero(int(headersSize) - w.Len())
	w.WriteBytes(textBytes)
	w.Zero(int(textRaw - textVirtual))
	w.WriteBytes(reloc.Bytes())
	w.Zero(int(relocRaw - relocVirtual))
	return w.Bytes(), nil
}
