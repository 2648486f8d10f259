package metadata

import (
	"sort"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
)

// TableBuilder accumulates the rows of an output tables stream. Rows are
// appended while counts are still open; Encode fixes the counts and computes
// every column width from them.
type TableBuilder struct {
	// Header seeds the emitted header. Valid is recomputed from row counts;
	// HeapSizes bits are only ever added to.
	Header TablesHeader
	rows   [TableCount][]Row
}

// NewTableBuilder returns a builder with the common 2.0 header and sorted mask.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{
		Header: TablesHeader{
			MajorVersion: 2,
			MinorVersion: 0,
			Reserved1:    1,
			Sorted:       DefaultSortedMask,
		},
	}
}

// Add appends a row and returns its token.
func (b *TableBuilder) Add(t TableID, row Row) Token {
	b.rows[t] = append(b.rows[t], row)
	return NewToken(t, uint32(len(b.rows[t])))
}

// Set replaces row rid of table t.
func (b *TableBuilder) Set(t TableID, rid uint32, row Row) {
	b.rows[t][rid-1] = row
}

// Get returns row rid of table t.
func (b *TableBuilder) Get(t TableID, rid uint32) Row {
	return b.rows[t][rid-1]
}

// RowCount returns the current number of rows in table t.
func (b *TableBuilder) RowCount(t TableID) uint32 {
	return uint32(len(b.rows[t]))
}

// Rows returns the rows of table t. The slice is owned by the builder.
func (b *TableBuilder) Rows(t TableID) []Row {
	return b.rows[t]
}

// Sort stably orders a sorted table by its key column. It returns the
// permutation applied: perm[newRID-1] = oldRID.
func (b *TableBuilder) Sort(t TableID) []uint32 {
	key, ok := SortKey(t)
	rows := b.rows[t]
	perm := make([]uint32, len(rows))
	for i := range perm {
		perm[i] = uint32(i + 1)
	}
	if !ok {
		return perm
	}
	sort.SliceStable(perm, func(i, j int) bool {
		return rows[perm[i]-1][key] < rows[perm[j]-1][key]
	})
	sorted := make([]Row, len(rows))
	for i, old := range perm {
		sorted[i] = rows[old-1]
	}
	b.rows[t] = sorted
	return perm
}

// Sizes returns the width inputs for the current row counts and heap sizes.
func (b *TableBuilder) Sizes(strings, guids, blobs int) Sizes {
	s := Sizes{HeapSizes: b.Header.HeapSizes}
	for t := TableID(0); t < TableCount; t++ {
		s.Rows[t] = uint32(len(b.rows[t]))
	}
	if strings > 0xFFFF {
		s.HeapSizes |= HeapStringsWide
	}
	if guids > 0xFFFF {
		s.HeapSizes |= HeapGUIDWide
	}
	if blobs > 0xFFFF {
		s.HeapSizes |= HeapBlobWide
	}
	return s
}

// Encode emits the tables stream. stringsLen, guidCount and blobLen are the
// final heap sizes. A value that does not fit its computed column width is an
// EncodingOverflow error naming table and column.
func (b *TableBuilder) Encode(stringsLen, guidCount, blobLen int) ([]byte, error) {
	sizes := b.Sizes(stringsLen, guidCount, blobLen)
	h := b.Header
	h.HeapSizes = sizes.HeapSizes
	h.Valid = 0
	for t := TableID(0); t < TableCount; t++ {
		if len(b.rows[t]) > 0 {
			h.Valid |= 1 << t
		}
	}

	w := binary.NewWriter()
	w.WriteU32(h.Reserved0)
	w.Byte(h.MajorVersion)
	w.Byte(h.MinorVersion)
	w.Byte(h.HeapSizes)
	w.Byte(h.Reserved1)
	w.WriteU64(h.Valid)
	w.WriteU64(h.Sorted)
	for t := TableID(0); t < TableCount; t++ {
		if n := len(b.rows[t]); n > 0 {
			w.WriteU32(uint32(n))
		}
	}
	if h.HeapSizes&HeapExtraData != 0 {
		w.WriteU32(h.ExtraData)
	}

	for t := TableID(0); t < TableCount; t++ {
		if len(b.rows[t]) == 0 {
			continue
		}
		cols := Schema(t)
		layout := sizes.Layout(t)
		for _, row := range b.rows[t] {
			for i, c := range cols {
				width := layout.Widths[i]
				if c.Kind == ColU16 && row[i] > 0xFFFF {
					return nil, errors.EncodingOverflow(t.String(), c.Name, uint64(row[i]), width)
				}
				if !w.WriteIndex(row[i], width) {
					return nil, errors.EncodingOverflow(t.String(), c.Name, uint64(row[i]), width)
				}
			}
		}
	}
	w.Align(4)
	return w.Bytes(), nil
}
