package metadata

import (
	"bytes"

	"github.com/google/uuid"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
)

// Heap builders accumulate the heaps of an output module. A builder seeded
// from a loaded heap starts from its exact bytes, so every original offset
// stays valid and unchanged values keep their position.

// StringHeapBuilder builds a #Strings heap.
type StringHeapBuilder struct {
	buf   []byte
	index map[string]uint32
}

// NewStringHeapBuilder returns a builder seeded with seed's bytes, or an empty
// heap when seed is nil.
func NewStringHeapBuilder(seed *StringHeap) *StringHeapBuilder {
	b := &StringHeapBuilder{index: make(map[string]uint32)}
	if seed != nil && len(seed.data) > 0 {
		b.buf = append([]byte(nil), seed.data...)
		start := 0
		for i, c := range b.buf {
			if c != 0 {
				continue
			}
			if i > start {
				s := string(b.buf[start:i])
				if _, ok := b.index[s]; !ok {
					b.index[s] = uint32(start)
				}
			}
			start = i + 1
		}
	} else {
		b.buf = []byte{0}
	}
	b.index[""] = 0
	return b
}

// Add returns the offset of s, appending it if not already present.
func (b *StringHeapBuilder) Add(s string) uint32 {
	if off, ok := b.index[s]; ok {
		return off
	}
	off := uint32(len(b.buf))
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	b.index[s] = off
	return off
}

// AddAt returns hint when the seeded heap already holds s at that offset,
// including suffix-shared positions; otherwise it behaves like Add.
func (b *StringHeapBuilder) AddAt(s string, hint uint32) uint32 {
	if hint != 0 && int(hint)+len(s) < len(b.buf) &&
		b.buf[int(hint)+len(s)] == 0 && string(b.buf[hint:int(hint)+len(s)]) == s {
		return hint
	}
	return b.Add(s)
}

// Len returns the unpadded heap size.
func (b *StringHeapBuilder) Len() int { return len(b.buf) }

// Bytes returns the heap padded to a 4-byte boundary.
func (b *StringHeapBuilder) Bytes() []byte { return pad4(b.buf) }

// BlobHeapBuilder builds a #Blob heap.
type BlobHeapBuilder struct {
	buf   []byte
	index map[string]uint32
}

// NewBlobHeapBuilder returns a builder seeded with seed's bytes.
func NewBlobHeapBuilder(seed *BlobHeap) *BlobHeapBuilder {
	b := &BlobHeapBuilder{index: make(map[string]uint32)}
	if seed == nil || len(seed.data) == 0 {
		b.buf = []byte{0}
		b.index[""] = 0
		return b
	}
	b.buf = append([]byte(nil), seed.data...)
	r := binary.NewReader(b.buf)
	for r.Remaining() > 0 {
		off := uint32(r.Offset())
		n, err := r.ReadCompressedUint()
		if err != nil {
			break
		}
		data, err := r.ReadBytes(int(n))
		if err != nil {
			break
		}
		if _, ok := b.index[string(data)]; !ok {
			b.index[string(data)] = off
		}
	}
	return b
}

// Add returns the offset of data, appending it if not already present.
func (b *BlobHeapBuilder) Add(data []byte) (uint32, error) {
	if off, ok := b.index[string(data)]; ok {
		return off, nil
	}
	off := uint32(len(b.buf))
	buf, err := appendLength(b.buf, StreamBlob, len(data))
	if err != nil {
		return 0, err
	}
	b.buf = append(buf, data...)
	b.index[string(data)] = off
	return off, nil
}

// appendLength appends the compressed length prefix of a heap entry.
func appendLength(buf []byte, heap string, n int) ([]byte, error) {
	if n < 0 || n > binary.MaxCompressedUint {
		return buf, errors.EncodingOverflow(heap, "length", uint64(n), 4)
	}
	return binary.AppendCompressedUint(buf, uint32(n))
}

// AddAt returns hint when the seeded heap holds an identical blob there.
func (b *BlobHeapBuilder) AddAt(data []byte, hint uint32) (uint32, error) {
	if int(hint) < len(b.buf) {
		r := binary.NewReader(b.buf)
		if r.Seek(int(hint)) == nil {
			if n, err := r.ReadCompressedUint(); err == nil && int(n) == len(data) {
				if got, err := r.ReadBytes(int(n)); err == nil && bytes.Equal(got, data) {
					return hint, nil
				}
			}
		}
	}
	return b.Add(data)
}

// Len returns the unpadded heap size.
func (b *BlobHeapBuilder) Len() int { return len(b.buf) }

// Bytes returns the heap padded to a 4-byte boundary.
func (b *BlobHeapBuilder) Bytes() []byte { return pad4(b.buf) }

// GUIDHeapBuilder builds a #GUID heap.
type GUIDHeapBuilder struct {
	buf   []byte
	index map[uuid.UUID]uint32
}

// NewGUIDHeapBuilder returns a builder seeded with seed's entries.
func NewGUIDHeapBuilder(seed *GUIDHeap) *GUIDHeapBuilder {
	b := &GUIDHeapBuilder{index: make(map[uuid.UUID]uint32)}
	if seed != nil {
		b.buf = append([]byte(nil), seed.data[:len(seed.data)/16*16]...)
		for i := 0; i < len(b.buf)/16; i++ {
			g := binary.GUIDFromBytes(b.buf[i*16 : i*16+16])
			if _, ok := b.index[g]; !ok {
				b.index[g] = uint32(i + 1)
			}
		}
	}
	return b
}

// Add returns the 1-based index of g. The nil GUID is index 0.
func (b *GUIDHeapBuilder) Add(g uuid.UUID) uint32 {
	if g == uuid.Nil {
		return 0
	}
	if idx, ok := b.index[g]; ok {
		return idx
	}
	raw := binary.GUIDToBytes(g)
	b.buf = append(b.buf, raw[:]...)
	idx := uint32(len(b.buf) / 16)
	b.index[g] = idx
	return idx
}

// AddAt returns hint when the seeded heap holds g at that index.
func (b *GUIDHeapBuilder) AddAt(g uuid.UUID, hint uint32) uint32 {
	if hint != 0 && int(hint)*16 <= len(b.buf) &&
		binary.GUIDFromBytes(b.buf[(hint-1)*16:hint*16]) == g {
		return hint
	}
	return b.Add(g)
}

// Count returns the number of GUIDs.
func (b *GUIDHeapBuilder) Count() int { return len(b.buf) / 16 }

// Bytes returns the heap.
func (b *GUIDHeapBuilder) Bytes() []byte { return b.buf }

// UserStringHeapBuilder builds a #US heap.
type UserStringHeapBuilder struct {
	buf   []byte
	index map[string]uint32
}

// NewUserStringHeapBuilder returns a builder seeded with seed's bytes.
func NewUserStringHeapBuilder(seed *UserStringHeap) *UserStringHeapBuilder {
	b := &UserStringHeapBuilder{index: make(map[string]uint32)}
	if seed == nil || len(seed.data) == 0 {
		b.buf = []byte{0}
		return b
	}
	b.buf = append([]byte(nil), seed.data...)
	h := &UserStringHeap{data: b.buf}
	r := binary.NewReader(b.buf)
	if r.Skip(1) != nil {
		return b
	}
	for r.Remaining() > 0 {
		off := uint32(r.Offset())
		n, err := r.ReadCompressedUint()
		if err != nil || r.Skip(int(n)) != nil {
			break
		}
		if n == 0 {
			continue
		}
		if s, err := h.Get(off); err == nil {
			if _, ok := b.index[s]; !ok {
				b.index[s] = off
			}
		}
	}
	return b
}

// Add returns the offset of s, appending it if not already present.
func (b *UserStringHeapBuilder) Add(s string) (uint32, error) {
	if off, ok := b.index[s]; ok {
		return off, nil
	}
	off := uint32(len(b.buf))
	enc := EncodeUserString(s)
	buf, err := appendLength(b.buf, StreamUserStrings, len(enc))
	if err != nil {
		return 0, err
	}
	b.buf = append(buf, enc...)
	b.index[s] = off
	return off, nil
}

// AddAt returns hint when the seeded heap holds s at that offset.
func (b *UserStringHeapBuilder) AddAt(s string, hint uint32) (uint32, error) {
	if hint != 0 && int(hint) < len(b.buf) {
		h := &UserStringHeap{data: b.buf}
		if got, err := h.Get(hint); err == nil && got == s {
			return hint, nil
		}
	}
	return b.Add(s)
}

// Len returns the unpadded heap size.
func (b *UserStringHeapBuilder) Len() int { return len(b.buf) }

// Bytes returns the heap padded to a 4-byte boundary.
func (b *UserStringHeapBuilder) Bytes() []byte { return pad4(b.buf) }

// EncodeUserString returns the #US entry payload for s: UTF-16LE code units
// followed by the terminal byte, which is 1 when any code unit is outside
// printable ASCII or is one of the characters ECMA-335 II.24.2.4 lists.
func EncodeUserString(s string) []byte {
	out, err := binary.EncodeUTF16(s)
	if err != nil {
		out = nil
	}
	var special byte
	for i := 0; i+1 < len(out); i += 2 {
		if userStringSpecial(uint16(out[i]) | uint16(out[i+1])<<8) {
			special = 1
			break
		}
	}
	return append(out, special)
}

func userStringSpecial(u uint16) bool {
	if u >= 0x7F {
		return true
	}
	return (u >= 0x01 && u <= 0x08) || (u >= 0x0E && u <= 0x1F) || u == 0x27 || u == 0x2D
}

func pad4(b []byte) []byte {
	if rem := len(b) % 4; rem != 0 {
		out := make([]byte, len(b), len(b)+4-rem)
		copy(out, b)
		return append(out, make([]byte, 4-rem)...)
	}
	return b
}
