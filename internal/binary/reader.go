// Package binary provides the byte cursor primitives shared by the metadata,
// signature and IL codecs.
package binary

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"github.com/wippyai/ilweave/errors"
)

// Compressed integer limits (ECMA-335 II.23.2).
const (
	MaxCompressedUint = 0x1FFFFFFF
	MinCompressedInt  = -(1 << 28)
	MaxCompressedInt  = 1<<28 - 1
)

// NullSerString is the length byte that marks a null SerString.
const NullSerString = 0xFF

// Reader is a cursor over an in-memory byte slice. Positions reported in
// errors are absolute: the base offset of the slice inside its enclosing
// buffer plus the cursor position.
type Reader struct {
	data  []byte
	pos   int
	base  int
	phase errors.Phase
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, phase: errors.PhaseDecode}
}

// NewReaderAt creates a Reader over data which starts at base within a larger buffer.
func NewReaderAt(data []byte, base int) *Reader {
	return &Reader{data: data, base: base, phase: errors.PhaseDecode}
}

// WithPhase sets the phase reported by errors from this reader.
func (r *Reader) WithPhase(p errors.Phase) *Reader {
	r.phase = p
	return r
}

// Position returns the absolute byte position.
func (r *Reader) Position() int {
	return r.base + r.pos
}

// Offset returns the position relative to the start of the slice.
func (r *Reader) Offset() int {
	return r.pos
}

// Len returns the total slice length.
func (r *Reader) Len() int {
	return len(r.data)
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Seek moves the cursor to a slice-relative position.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return errors.Truncated(r.phase, r.base+pos, 0, len(r.data)-pos)
	}
	r.pos = pos
	return nil
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.pos += n
	return nil
}

// Align advances the cursor to the next multiple of n relative to the slice start.
func (r *Reader) Align(n int) error {
	if rem := r.pos % n; rem != 0 {
		return r.Skip(n - rem)
	}
	return nil
}

func (r *Reader) need(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return errors.Truncated(r.phase, r.Position(), n, r.Remaining())
	}
	return nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// PeekByte returns the next byte without advancing.
func (r *Reader) PeekByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	return r.data[r.pos], nil
}

// ReadBytes returns the next n bytes as a subslice of the underlying buffer.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadRemaining returns all unread bytes.
func (r *Reader) ReadRemaining() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadU32 reads a little-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadU64 reads a little-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadF32 reads a little-endian IEEE-754 float32.
func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

// ReadF64 reads a little-endian IEEE-754 float64.
func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadIndex reads a 2- or 4-byte table or heap index.
func (r *Reader) ReadIndex(width int) (uint32, error) {
	if width == 2 {
		v, err := r.ReadU16()
		return uint32(v), err
	}
	return r.ReadU32()
}

// ReadHeapIndex reads a heap index whose width depends on the module-wide
// wide-heap flag.
func (r *Reader) ReadHeapIndex(wide bool) (uint32, error) {
	if wide {
		return r.ReadU32()
	}
	return r.ReadIndex(2)
}

// ReadCompressedUint reads an ECMA-335 compressed unsigned integer.
func (r *Reader) ReadCompressedUint() (uint32, error) {
	start := r.Position()
	b0, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		b1, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x3F)<<8 | uint32(b1), nil
	case b0&0xE0 == 0xC0:
		rest, err := r.ReadBytes(3)
		if err != nil {
			return 0, err
		}
		return uint32(b0&0x1F)<<24 | uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2]), nil
	default:
		return 0, errors.InvalidCompressed(r.phase, start, b0)
	}
}

// ReadCompressedInt reads an ECMA-335 compressed signed integer. The sign
// bit is rotated into the least significant bit of the encoded value.
func (r *Reader) ReadCompressedInt() (int32, error) {
	start := r.pos
	u, err := r.ReadCompressedUint()
	if err != nil {
		return 0, err
	}
	width := r.pos - start
	neg := u&1 != 0
	v := int32(u >> 1)
	if neg {
		switch width {
		case 1:
			v -= 0x40
		case 2:
			v -= 0x2000
		default:
			v -= 0x10000000
		}
	}
	return v, nil
}

// ReadCString reads a NUL-terminated UTF-8 string.
func (r *Reader) ReadCString() (string, error) {
	start := r.pos
	for i := r.pos; i < len(r.data); i++ {
		if r.data[i] == 0 {
			s := r.data[start:i]
			r.pos = i + 1
			if !utf8.Valid(s) {
				return "", errors.InvalidData(r.phase, r.base+start, "invalid UTF-8 in string")
			}
			return string(s), nil
		}
	}
	return "", errors.Truncated(r.phase, r.base+start, len(r.data)-start+1, len(r.data)-start)
}

// ReadSerString reads a length-prefixed UTF-8 string as used by custom
// attribute and marshal blobs. A 0xFF length marks null.
func (r *Reader) ReadSerString() (s string, isNull bool, err error) {
	b, err := r.PeekByte()
	if err != nil {
		return "", false, err
	}
	if b == NullSerString {
		r.pos++
		return "", true, nil
	}
	n, err := r.ReadCompressedUint()
	if err != nil {
		return "", false, err
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return "", false, err
	}
	return string(data), false, nil
}

// ReadGUID reads a 16-byte GUID in its on-disk (mixed-endian) layout.
func (r *Reader) ReadGUID() (uuid.UUID, error) {
	b, err := r.ReadBytes(16)
	if err != nil {
		return uuid.Nil, err
	}
	return GUIDFromBytes(b), nil
}

// GUIDFromBytes converts the on-disk GUID layout (little-endian Data1..3)
// into an RFC 4122 byte-order UUID.
func GUIDFromBytes(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}

// GUIDToBytes is the inverse of GUIDFromBytes.
func GUIDToBytes(u uuid.UUID) [16]byte {
	var b [16]byte
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeUTF16 decodes little-endian UTF-16 bytes.
func DecodeUTF16(b []byte) (string, error) {
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// EncodeUTF16 encodes s as little-endian UTF-16 without a byte order mark.
func EncodeUTF16(s string) ([]byte, error) {
	return utf16le.NewEncoder().Bytes([]byte(s))
}
