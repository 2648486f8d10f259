package metadata

import (
	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
)

// RootSignature is the "BSJB" magic at the start of the metadata root.
const RootSignature uint32 = 0x424A5342

// StreamHeader locates one stream inside the metadata root.
type StreamHeader struct {
	Name   string
	Offset uint32
	Size   uint32
}

// Root is the parsed metadata root (ECMA-335 II.24.2.1).
type Root struct {
	Version      string
	Streams      []StreamHeader
	data         []byte
	base         int
	Reserved     uint32
	MajorVersion uint16
	MinorVersion uint16
	Flags        uint16
}

// ParseRoot parses the metadata root located at base in the image.
func ParseRoot(data []byte, base int) (*Root, error) {
	r := binary.NewReaderAt(data, base).WithPhase(errors.PhaseLoad)

	sig, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if sig != RootSignature {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformedMetadata).
			At(base).
			Value(sig).
			Detail("metadata signature 0x%08x, want BSJB", sig).
			Build()
	}

	root := &Root{data: data, base: base}
	if root.MajorVersion, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if root.MinorVersion, err = r.ReadU16(); err != nil {
		return nil, err
	}
	if root.Reserved, err = r.ReadU32(); err != nil {
		return nil, err
	}
	vlen, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	vstart := r.Position()
	vbytes, err := r.ReadBytes(int(vlen))
	if err != nil {
		return nil, err
	}
	root.Version = string(trimNUL(vbytes))
	if int(vlen)%4 != 0 {
		return nil, errors.InvalidData(errors.PhaseLoad, vstart, "version length not a multiple of 4")
	}
	if root.Flags, err = r.ReadU16(); err != nil {
		return nil, err
	}
	count, err := r.ReadU16()
	if err != nil {
		return nil, err
	}

	for i := 0; i < int(count); i++ {
		var h StreamHeader
		if h.Offset, err = r.ReadU32(); err != nil {
			return nil, err
		}
		if h.Size, err = r.ReadU32(); err != nil {
			return nil, err
		}
		nameStart := r.Offset()
		if h.Name, err = r.ReadCString(); err != nil {
			return nil, err
		}
		if err := r.Seek(nameStart + align4(r.Offset()-nameStart)); err != nil {
			return nil, err
		}
		if int64(h.Offset)+int64(h.Size) > int64(len(data)) {
			return nil, errors.New(errors.PhaseLoad, errors.KindMalformedMetadata).
				Table(h.Name).
				At(base + int(h.Offset)).
				Detail("stream extends past metadata end (size 0x%x)", h.Size).
				Build()
		}
		root.Streams = append(root.Streams, h)
	}
	return root, nil
}

// Stream returns the bytes of the named stream and their absolute position.
func (r *Root) Stream(name string) (data []byte, base int, ok bool) {
	for _, h := range r.Streams {
		if h.Name == name {
			return r.data[h.Offset : h.Offset+h.Size], r.base + int(h.Offset), true
		}
	}
	return nil, 0, false
}

// TablesStream returns the compressed (#~) or uncompressed (#-) tables stream.
func (r *Root) TablesStream() (data []byte, base int, name string, ok bool) {
	for _, n := range []string{StreamTables, StreamTablesUncomp} {
		if d, b, found := r.Stream(n); found {
			return d, b, n, true
		}
	}
	return nil, 0, "", false
}

// StreamData is one stream to be emitted by EncodeRoot.
type StreamData struct {
	Name string
	Data []byte
}

// EncodeRoot emits a metadata root followed by the given streams in order.
// Stream data is padded to 4 bytes.
func EncodeRoot(version string, major, minor uint16, streams []StreamData) []byte {
	w := binary.NewWriter()
	w.WriteU32(RootSignature)
	w.WriteU16(major)
	w.WriteU16(minor)
	w.WriteU32(0)
	vlen := align4(len(version) + 1)
	w.WriteU32(uint32(vlen))
	w.WriteString(version)
	w.Zero(vlen - len(version))
	w.WriteU16(0)
	w.WriteU16(uint16(len(streams)))

	headerSize := w.Len()
	for _, s := range streams {
		headerSize += 8 + align4(len(s.Name)+1)
	}

	offset := headerSize
	for _, s := range streams {
		w.WriteU32(uint32(offset))
		w.WriteU32(uint32(align4(len(s.Data))))
		w.WriteString(s.Name)
		w.Zero(align4(len(s.Name)+1) - len(s.Name))
		offset += align4(len(s.Data))
	}
	for _, s := range streams {
		w.WriteBytes(s.Data)
		w.Align(4)
	}
	return w.Bytes()
}

func align4(n int) int {
	return (n + 3) &^ 3
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
