package peimage

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/il"
)

// Data directory slots used by managed images.
const (
	DirImport         = 1
	DirBaseReloc      = 5
	DirIAT            = 12
	DirComDescriptor  = 14
	cliHeaderSize     = 72
	numDataDirs       = 16
	resourceLenPrefix = 4
)

// CLI header flags (ECMA-335 II.25.3.3.1).
const (
	FlagILOnly           = 0x00000001
	Flag32BitRequired    = 0x00000002
	FlagStrongNameSigned = 0x00000008
	FlagNativeEntryPoint = 0x00000010
	FlagTrackDebugData   = 0x00010000
	Flag32BitPreferred   = 0x00020000
)

// Directory is an RVA and size pair.
type Directory struct {
	RVA  uint32
	Size uint32
}

// CLIHeader is the runtime header pointed to by the COM descriptor directory.
type CLIHeader struct {
	Cb                      uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	Metadata                Directory
	Flags                   uint32
	EntryPoint              uint32
	Resources               Directory
	StrongNameSignature     Directory
	CodeManagerTable        Directory
	VTableFixups            Directory
	ExportAddressTableJumps Directory
	ManagedNativeHeader     Directory
}

// Section is a PE section as mapped by the loader.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	Offset         uint32
	Size           uint32
}

// Image is a parsed managed PE file. The underlying bytes are shared, not
// copied.
type Image struct {
	data     []byte
	Sections []Section
	CLI      CLIHeader

	Machine            uint16
	Characteristics    uint16
	TimeDateStamp      uint32
	Subsystem          uint16
	DllCharacteristics uint16
	ImageBase          uint64
	PE32Plus           bool
}

// Read parses a PE image and its CLI header.
func Read(data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "not a PE image")
	}
	defer f.Close()

	im := &Image{
		data:            data,
		Machine:         f.Machine,
		Characteristics: f.Characteristics,
		TimeDateStamp:   f.TimeDateStamp,
	}
	var com pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes <= DirComDescriptor {
			return nil, errors.InvalidData(errors.PhaseLoad, 0, "image has no COM descriptor directory")
		}
		com = oh.DataDirectory[DirComDescriptor]
		im.Subsystem, im.DllCharacteristics, im.ImageBase = oh.Subsystem, oh.DllCharacteristics, uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes <= DirComDescriptor {
			return nil, errors.InvalidData(errors.PhaseLoad, 0, "image has no COM descriptor directory")
		}
		com = oh.DataDirectory[DirComDescriptor]
		im.Subsystem, im.DllCharacteristics, im.ImageBase = oh.Subsystem, oh.DllCharacteristics, oh.ImageBase
		im.PE32Plus = true
	default:
		return nil, errors.InvalidData(errors.PhaseLoad, 0, "image has no optional header")
	}
	for _, s := range f.Sections {
		im.Sections = append(im.Sections, Section{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			Offset:         s.Offset,
			Size:           s.Size,
		})
	}
	if com.VirtualAddress == 0 || com.Size < cliHeaderSize {
		return nil, errors.InvalidData(errors.PhaseLoad, 0, "image is not a managed module")
	}

	raw, off, err := im.Slice(com.VirtualAddress, cliHeaderSize)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &im.CLI); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindTruncated, err, "CLI header")
	}
	if im.CLI.Cb < cliHeaderSize {
		return nil, errors.InvalidData(errors.PhaseLoad, off, fmt.Sprintf("CLI header size %d", im.CLI.Cb))
	}
	return im, nil
}

// Bytes returns the whole image.
func (im *Image) Bytes() []byte { return im.data }

func (im *Image) section(rva uint32) (*Section, bool) {
	for i := range im.Sections {
		s := &im.Sections[i]
		span := max(s.VirtualSize, s.Size)
		if rva >= s.VirtualAddress && rva-s.VirtualAddress < span {
			return s, true
		}
	}
	return nil, false
}

// Slice maps size bytes at rva to the file. It returns the bytes and their
// file offset.
func (im *Image) Slice(rva, size uint32) ([]byte, int, error) {
	s, ok := im.section(rva)
	if !ok {
		return nil, 0, errors.InvalidData(errors.PhaseLoad, int(errors.NoOffset), fmt.Sprintf("RVA 0x%x is outside every section", rva))
	}
	rel := rva - s.VirtualAddress
	if uint64(rel)+uint64(size) > uint64(s.Size) {
		return nil, 0, errors.Truncated(errors.PhaseLoad, int(s.Offset+rel), int(size), int(s.Size)-int(rel))
	}
	off := int(s.Offset + rel)
	if off+int(size) > len(im.data) {
		return nil, 0, errors.Truncated(errors.PhaseLoad, off, int(size), len(im.data)-off)
	}
	return im.data[off : off+int(size) : off+int(size)], off, nil
}

// tail returns everything from rva to the end of its section's raw data.
func (im *Image) tail(rva uint32) ([]byte, int, error) {
	s, ok := im.section(rva)
	if !ok {
		return nil, 0, errors.InvalidData(errors.PhaseLoad, int(errors.NoOffset), fmt.Sprintf("RVA 0x%x is outside every section", rva))
	}
	rel := rva - s.VirtualAddress
	if rel >= s.Size {
		return nil, 0, errors.Truncated(errors.PhaseLoad, int(s.Offset+rel), 1, 0)
	}
	return im.Slice(rva, s.Size-rel)
}

// Metadata returns the metadata root bytes and their file offset.
func (im *Image) Metadata() ([]byte, int, error) {
	return im.Slice(im.CLI.Metadata.RVA, im.CLI.Metadata.Size)
}

// MethodBody returns the exact bytes of the method body at rva, header and
// exception sections included, and their file offset.
func (im *Image) MethodBody(rva uint32) ([]byte, int, error) {
	data, off, err := im.tail(rva)
	if err != nil {
		return nil, 0, err
	}
	n, err := il.BodySize(data)
	if err != nil {
		return nil, 0, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, fmt.Sprintf("method body at RVA 0x%x", rva))
	}
	return data[:n:n], off, nil
}

// Resource returns the embedded manifest resource at offset within the
// resources directory.
func (im *Image) Resource(offset uint32) ([]byte, error) {
	dir := im.CLI.Resources
	if uint64(offset)+resourceLenPrefix > uint64(dir.Size) {
		return nil, errors.InvalidData(errors.PhaseLoad, int(errors.NoOffset), fmt.Sprintf("resource offset 0x%x beyond directory of %d bytes", offset, dir.Size))
	}
	hdr, _, err := im.Slice(dir.RVA+offset, resourceLenPrefix)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr)
	if uint64(offset)+resourceLenPrefix+uint64(n) > uint64(dir.Size) {
		return nil, errors.InvalidData(errors.PhaseLoad, int(errors.NoOffset), fmt.Sprintf("resource at 0x%x of %d bytes overruns directory", offset, n))
	}
	data, _, err := im.Slice(dir.RVA+offset+resourceLenPrefix, n)
	return data, err
}

// StrongNameSize is the size of the strong-name signature slot.
func (im *Image) StrongNameSize() uint32 {
	return im.CLI.StrongNameSignature.Size
}

// IsDLL reports whether the image is a library.
func (im *Image) IsDLL() bool {
	return im.Characteristics&pe.IMAGE_FILE_DLL != 0
}
