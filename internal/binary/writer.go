package binary

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/google/uuid"

	"github.com/wippyai/ilweave/errors"
)

// Writer provides buffered little-endian writing for the metadata encoders.
type Writer struct {
	buf *bytes.Buffer
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{buf: &bytes.Buffer{}}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteString writes raw string bytes.
func (w *Writer) WriteString(s string) {
	w.buf.WriteString(s)
}

// Zero writes n zero bytes.
func (w *Writer) Zero(n int) {
	for i := 0; i < n; i++ {
		w.buf.WriteByte(0)
	}
}

// Align pads with zeros to the next multiple of n.
func (w *Writer) Align(n int) {
	if rem := w.buf.Len() % n; rem != 0 {
		w.Zero(n - rem)
	}
}

// WriteU16 writes a little-endian uint16.
func (w *Writer) WriteU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// WriteU32 writes a little-endian uint32.
func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// WriteU64 writes a little-endian uint64.
func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteF32 writes a little-endian float32.
func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteF64 writes a little-endian float64.
func (w *Writer) WriteF64(v float64) {
	w.WriteU64(math.Float64bits(v))
}

// WriteIndex writes a 2- or 4-byte index. It reports false when v does not
// fit the requested width.
func (w *Writer) WriteIndex(v uint32, width int) bool {
	if width == 2 {
		if v > 0xFFFF {
			return false
		}
		w.WriteU16(uint16(v))
		return true
	}
	w.WriteU32(v)
	return true
}

// PutU16At overwrites two bytes at an already written position.
func (w *Writer) PutU16At(pos int, v uint16) {
	binary.LittleEndian.PutUint16(w.buf.Bytes()[pos:], v)
}

// PutU32At overwrites four bytes at an already written position.
func (w *Writer) PutU32At(pos int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf.Bytes()[pos:], v)
}

// WriteCompressedUint writes v using the minimal compressed width.
func (w *Writer) WriteCompressedUint(v uint32) error {
	b, err := AppendCompressedUint(nil, v)
	if err != nil {
		return err
	}
	w.buf.Write(b)
	return nil
}

// WriteCompressedInt writes a compressed signed integer.
func (w *Writer) WriteCompressedInt(v int32) error {
	b, err := AppendCompressedInt(nil, v)
	if err != nil {
		return err
	}
	w.buf.Write(b)
	return nil
}

// WriteSerString writes a SerString; isNull emits the 0xFF marker.
func (w *Writer) WriteSerString(s string, isNull bool) error {
	if isNull {
		w.buf.WriteByte(NullSerString)
		return nil
	}
	if err := w.writeLength(len(s)); err != nil {
		return err
	}
	w.buf.WriteString(s)
	return nil
}

// writeLength writes n as a compressed length prefix.
func (w *Writer) writeLength(n int) error {
	if n < 0 || n > MaxCompressedUint {
		return &errors.Error{
			Phase:  errors.PhaseEncode,
			Kind:   errors.KindEncodingOverflow,
			Offset: errors.NoOffset,
			Value:  uint64(n),
			Detail: "length exceeds compressed integer range",
		}
	}
	return w.WriteCompressedUint(uint32(n))
}

// WriteCString writes s followed by a NUL terminator.
func (w *Writer) WriteCString(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// WriteGUID writes a GUID in its on-disk layout.
func (w *Writer) WriteGUID(u uuid.UUID) {
	b := GUIDToBytes(u)
	w.buf.Write(b[:])
}

// AppendCompressedUint appends the minimal compressed encoding of v.
func AppendCompressedUint(dst []byte, v uint32) ([]byte, error) {
	switch {
	case v < 0x80:
		return append(dst, byte(v)), nil
	case v < 0x4000:
		return append(dst, byte(v>>8)|0x80, byte(v)), nil
	case v <= MaxCompressedUint:
		return append(dst, byte(v>>24)|0xC0, byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return dst, &errors.Error{
			Phase:  errors.PhaseEncode,
			Kind:   errors.KindEncodingOverflow,
			Offset: errors.NoOffset,
			Value:  uint64(v),
			Detail: "value exceeds compressed integer range",
		}
	}
}

// AppendCompressedInt appends the compressed signed encoding of v.
func AppendCompressedInt(dst []byte, v int32) ([]byte, error) {
	var sign uint32
	if v < 0 {
		sign = 1
	}
	switch {
	case v >= -0x40 && v < 0x40:
		return append(dst, byte((uint32(v)&0x3F)<<1|sign)), nil
	case v >= -0x2000 && v < 0x2000:
		u := (uint32(v)&0x1FFF)<<1 | sign
		return append(dst, byte(u>>8)|0x80, byte(u)), nil
	case v >= MinCompressedInt && v <= MaxCompressedInt:
		u := (uint32(v)&0x0FFFFFFF)<<1 | sign
		return append(dst, byte(u>>24)|0xC0, byte(u>>16), byte(u>>8), byte(u)), nil
	default:
		return dst, &errors.Error{
			Phase:  errors.PhaseEncode,
			Kind:   errors.KindEncodingOverflow,
			Offset: errors.NoOffset,
			Value:  uint64(uint32(v)),
			Detail: "value exceeds compressed signed integer range",
		}
	}
}

// CompressedUintSize returns the encoded width of v, or 0 when v is out of range.
func CompressedUintSize(v uint32) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	case v <= MaxCompressedUint:
		return 4
	}
	return 0
}
