package metadata

import (
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
)

// Stream names.
const (
	StreamTables       = "#~"
	StreamTablesUncomp = "#-"
	StreamStrings      = "#Strings"
	StreamUserStrings  = "#US"
	StreamBlob         = "#Blob"
	StreamGUID         = "#GUID"
)

// StringHeap is the #Strings heap: NUL-terminated UTF-8 strings addressed by
// byte offset.
type StringHeap struct {
	data []byte
	base int
}

// NewStringHeap wraps heap bytes located at base in the enclosing image.
func NewStringHeap(data []byte, base int) *StringHeap {
	return &StringHeap{data: data, base: base}
}

// Get returns the string at off. Offset 0 is the empty string.
func (h *StringHeap) Get(off uint32) (string, error) {
	if off == 0 {
		return "", nil
	}
	if int64(off) >= int64(len(h.data)) {
		return "", heapRange(StreamStrings, h.base, off, len(h.data))
	}
	for i := int(off); i < len(h.data); i++ {
		if h.data[i] == 0 {
			s := h.data[off:i]
			if !utf8.Valid(s) {
				return "", errors.InvalidData(errors.PhaseDecode, h.base+int(off), "invalid UTF-8 in #Strings")
			}
			return string(s), nil
		}
	}
	return "", errors.Truncated(errors.PhaseDecode, h.base+int(off), len(h.data)-int(off)+1, len(h.data)-int(off))
}

// Bytes returns the raw heap.
func (h *StringHeap) Bytes() []byte { return h.data }

// Len returns the heap size in bytes.
func (h *StringHeap) Len() int { return len(h.data) }

// BlobHeap is the #Blob heap: compressed-length-prefixed byte strings.
type BlobHeap struct {
	data []byte
	base int
}

// NewBlobHeap wraps heap bytes located at base in the enclosing image.
func NewBlobHeap(data []byte, base int) *BlobHeap {
	return &BlobHeap{data: data, base: base}
}

// Get returns the blob at off as a subslice of the heap. Offset 0 is the
// empty blob.
func (h *BlobHeap) Get(off uint32) ([]byte, error) {
	if off == 0 && len(h.data) == 0 {
		return nil, nil
	}
	if int64(off) >= int64(len(h.data)) {
		return nil, heapRange(StreamBlob, h.base, off, len(h.data))
	}
	r := binary.NewReaderAt(h.data, h.base)
	if err := r.Seek(int(off)); err != nil {
		return nil, err
	}
	n, err := r.ReadCompressedUint()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(int(n))
}

// Base returns the absolute position of the heap, for error offsets.
func (h *BlobHeap) Base() int { return h.base }

// Bytes returns the raw heap.
func (h *BlobHeap) Bytes() []byte { return h.data }

// Len returns the heap size in bytes.
func (h *BlobHeap) Len() int { return len(h.data) }

// GUIDHeap is the #GUID heap: 16-byte entries addressed by 1-based index.
type GUIDHeap struct {
	data []byte
	base int
}

// NewGUIDHeap wraps heap bytes located at base in the enclosing image.
func NewGUIDHeap(data []byte, base int) *GUIDHeap {
	return &GUIDHeap{data: data, base: base}
}

// Get returns the GUID at a 1-based index. Index 0 is the nil GUID.
func (h *GUIDHeap) Get(index uint32) (uuid.UUID, error) {
	if index == 0 {
		return uuid.Nil, nil
	}
	off := int64(index-1) * 16
	if off+16 > int64(len(h.data)) {
		return uuid.Nil, heapRange(StreamGUID, h.base, index, len(h.data)/16)
	}
	return binary.GUIDFromBytes(h.data[off : off+16]), nil
}

// Count returns the number of GUIDs in the heap.
func (h *GUIDHeap) Count() int { return len(h.data) / 16 }

// Bytes returns the raw heap.
func (h *GUIDHeap) Bytes() []byte { return h.data }

// UserStringHeap is the #US heap: UTF-16 string literals referenced by ldstr.
type UserStringHeap struct {
	data []byte
	base int
}

// NewUserStringHeap wraps heap bytes located at base in the enclosing image.
func NewUserStringHeap(data []byte, base int) *UserStringHeap {
	return &UserStringHeap{data: data, base: base}
}

// Get returns the string at off. The trailing terminal byte is dropped.
func (h *UserStringHeap) Get(off uint32) (string, error) {
	if int64(off) >= int64(len(h.data)) {
		return "", heapRange(StreamUserStrings, h.base, off, len(h.data))
	}
	r := binary.NewReaderAt(h.data, h.base)
	if err := r.Seek(int(off)); err != nil {
		return "", err
	}
	n, err := r.ReadCompressedUint()
	if err != nil {
		return "", err
	}
	raw, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if len(raw)%2 == 1 {
		raw = raw[:len(raw)-1]
	}
	return binary.DecodeUTF16(raw)
}

// Bytes returns the raw heap.
func (h *UserStringHeap) Bytes() []byte { return h.data }

// Len returns the heap size in bytes.
func (h *UserStringHeap) Len() int { return len(h.data) }

func heapRange(heap string, base int, off uint32, size int) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Table(heap).
		At(base).
		Value(off).
		Detail("index 0x%x outside heap of size 0x%x", off, size).
		Build()
}
