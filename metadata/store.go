package metadata

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
)

// TablesHeader is the fixed header of the tables stream (ECMA-335 II.24.2.6).
type TablesHeader struct {
	Valid        uint64
	Sorted       uint64
	Reserved0    uint32
	ExtraData    uint32
	MajorVersion byte
	MinorVersion byte
	HeapSizes    byte
	Reserved1    byte
}

type table struct {
	data   []byte
	layout Layout
	offset int
	rows   uint32
}

// TableStore holds the raw rows of every table after one linear pass over
// the tables stream, plus the heaps they reference. Row counts never change
// after Load returns.
type TableStore struct {
	Root        *Root
	Strings     *StringHeap
	Blobs       *BlobHeap
	GUIDs       *GUIDHeap
	UserStrings *UserStringHeap
	Header      TablesHeader
	// StreamName is "#~" or "#-".
	StreamName string
	sizes      Sizes
	tables     [TableCount]table
}

// Load parses a metadata root located at base in the image and decodes its
// tables stream and heaps. No partially populated store is returned on error.
func Load(ctx context.Context, data []byte, base int) (*TableStore, error) {
	root, err := ParseRoot(data, base)
	if err != nil {
		return nil, err
	}
	stream, sbase, name, ok := root.TablesStream()
	if !ok {
		return nil, errors.New(errors.PhaseLoad, errors.KindMalformedMetadata).
			At(base).
			Detail("no tables stream").
			Build()
	}
	ts, err := LoadTables(ctx, stream, sbase)
	if err != nil {
		return nil, err
	}
	ts.Root = root
	ts.StreamName = name
	if d, b, ok := root.Stream(StreamStrings); ok {
		ts.Strings = NewStringHeap(d, b)
	}
	if d, b, ok := root.Stream(StreamBlob); ok {
		ts.Blobs = NewBlobHeap(d, b)
	}
	if d, b, ok := root.Stream(StreamGUID); ok {
		ts.GUIDs = NewGUIDHeap(d, b)
	}
	if d, b, ok := root.Stream(StreamUserStrings); ok {
		ts.UserStrings = NewUserStringHeap(d, b)
	}
	return ts, nil
}

// LoadTables decodes a tables stream located at base. Heaps are left empty.
//
// All row counts are read before any row so that every column width is known
// when the first table is sliced. Coded-index tags are validated for every row.
func LoadTables(ctx context.Context, stream []byte, base int) (*TableStore, error) {
	r := binary.NewReaderAt(stream, base)
	ts := &TableStore{
		StreamName:  StreamTables,
		Strings:     NewStringHeap(nil, 0),
		Blobs:       NewBlobHeap(nil, 0),
		GUIDs:       NewGUIDHeap(nil, 0),
		UserStrings: NewUserStringHeap(nil, 0),
	}
	h := &ts.Header

	var err error
	if h.Reserved0, err = r.ReadU32(); err != nil {
		return nil, err
	}
	if h.MajorVersion, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if h.MinorVersion, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if h.HeapSizes, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if h.Reserved1, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if h.Valid, err = r.ReadU64(); err != nil {
		return nil, err
	}
	if h.Sorted, err = r.ReadU64(); err != nil {
		return nil, err
	}

	if undefined := h.Valid >> TableCount; undefined != 0 {
		return nil, errors.New(errors.PhaseDecode, errors.KindMalformedMetadata).
			At(base + 8).
			Value(h.Valid).
			Detail("valid mask names undefined tables 0x%x", undefined<<TableCount).
			Build()
	}

	ts.sizes.HeapSizes = h.HeapSizes
	for t := TableID(0); t < TableCount; t++ {
		if h.Valid&(1<<t) == 0 {
			continue
		}
		n, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		if n > MaxRID {
			return nil, errors.MalformedTable(t.String(), r.Position()-4, "row count exceeds token range")
		}
		ts.sizes.Rows[t] = n
	}
	if h.HeapSizes&HeapExtraData != 0 {
		if h.ExtraData, err = r.ReadU32(); err != nil {
			return nil, err
		}
	}

	for t := TableID(0); t < TableCount; t++ {
		if h.Valid&(1<<t) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tb := &ts.tables[t]
		tb.rows = ts.sizes.Rows[t]
		tb.layout = ts.sizes.Layout(t)
		tb.offset = r.Position()
		size := int64(tb.rows) * int64(tb.layout.RowWidth)
		if size > int64(r.Remaining()) {
			return nil, errors.New(errors.PhaseDecode, errors.KindMalformedMetadata).
				Table(t.String()).
				At(tb.offset).
				Detail("%d rows of %d bytes need 0x%x bytes, 0x%x remain",
					tb.rows, tb.layout.RowWidth, size, r.Remaining()).
				Build()
		}
		tb.data, _ = r.ReadBytes(int(size))
		if err := ts.validateCoded(t); err != nil {
			return nil, err
		}
	}

	Logger().Debug("tables loaded",
		zap.Int("tables", ts.TableCountPresent()),
		zap.Uint8("heap_sizes", h.HeapSizes),
		zap.Int("stream_size", len(stream)))
	return ts, nil
}

func (ts *TableStore) validateCoded(t TableID) error {
	tb := &ts.tables[t]
	cols := Schema(t)
	for i, c := range cols {
		if c.Kind != ColCoded {
			continue
		}
		ci := Coded(c.Coded)
		for rid := uint32(1); rid <= tb.rows; rid++ {
			v := tb.value(rid, i)
			if _, err := ci.Decode(v); err != nil {
				return errors.New(errors.PhaseDecode, errors.KindSchemaViolation).
					Table(t.String()).
					Column(c.Name).
					Token(uint32(NewToken(t, rid))).
					At(tb.offset + int(rid-1)*tb.layout.RowWidth + tb.layout.Offsets[i]).
					Cause(err).
					Detail("coded index tag out of range").
					Build()
			}
		}
	}
	return nil
}

func (tb *table) value(rid uint32, col int) uint32 {
	off := int(rid-1)*tb.layout.RowWidth + tb.layout.Offsets[col]
	b := tb.data[off:]
	if tb.layout.Widths[col] == 2 {
		return uint32(b[0]) | uint32(b[1])<<8
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Sizes returns the row counts and heap flags that determine column widths.
func (ts *TableStore) Sizes() Sizes { return ts.sizes }

// RowCount returns the number of rows in table t.
func (ts *TableStore) RowCount(t TableID) uint32 {
	if !t.Valid() {
		return 0
	}
	return ts.tables[t].rows
}

// TableCountPresent returns the number of tables with a Valid bit set.
func (ts *TableStore) TableCountPresent() int {
	n := 0
	for t := TableID(0); t < TableCount; t++ {
		if ts.Header.Valid&(1<<t) != 0 {
			n++
		}
	}
	return n
}

// IsSorted reports whether the Sorted bit for t is set.
func (ts *TableStore) IsSorted(t TableID) bool {
	return ts.Header.Sorted&(1<<t) != 0
}

// TableBytes returns the raw row bytes of table t.
func (ts *TableStore) TableBytes(t TableID) []byte {
	if !t.Valid() {
		return nil
	}
	return ts.tables[t].data
}

// TableOffset returns the absolute position of table t's first row.
func (ts *TableStore) TableOffset(t TableID) int {
	return ts.tables[t].offset
}

// ReadRow returns the column values of row rid (1-based) of table t.
func (ts *TableStore) ReadRow(t TableID, rid uint32) (Row, error) {
	var row Row
	if !t.Valid() {
		return row, errors.SchemaViolation(errors.PhaseDecode, t.String(), "", "undefined table")
	}
	tb := &ts.tables[t]
	if rid == 0 || rid > tb.rows {
		return row, errors.New(errors.PhaseDecode, errors.KindSchemaViolation).
			Table(t.String()).
			Token(uint32(NewToken(t, rid))).
			Value(rid).
			Detail("row %d outside 1..%d", rid, tb.rows).
			Build()
	}
	for i := 0; i < tb.layout.Columns; i++ {
		row[i] = tb.value(rid, i)
	}
	return row, nil
}

// Value returns one column of a row. The row must exist.
func (ts *TableStore) Value(t TableID, rid uint32, col int) uint32 {
	return ts.tables[t].value(rid, col)
}

// List returns the half-open RID range [start, end) of the list column col
// of row rid, such as TypeDef.FieldList. The range ends where the next row's
// list starts, or after the target table's last row.
func (ts *TableStore) List(t TableID, rid uint32, col int) (start, end uint32, err error) {
	row, err := ts.ReadRow(t, rid)
	if err != nil {
		return 0, 0, err
	}
	c := Schema(t)[col]
	target := c.Table
	if ptr, ok := ptrTables[target]; ok && ts.RowCount(ptr) > 0 {
		target = ptr
	}
	start = row[col]
	limit := ts.RowCount(target) + 1
	if rid < ts.tables[t].rows {
		end = ts.Value(t, rid+1, col)
	} else {
		end = limit
	}
	if start == 0 {
		start = limit
	}
	if end > limit {
		end = limit
	}
	if start > end {
		return 0, 0, errors.New(errors.PhaseDecode, errors.KindSchemaViolation).
			Table(t.String()).
			Column(c.Name).
			Token(uint32(NewToken(t, rid))).
			Detail("list start %d after end %d", start, end).
			Build()
	}
	return start, end, nil
}

var ptrTables = map[TableID]TableID{
	TableField:     TableFieldPtr,
	TableMethodDef: TableMethodPtr,
	TableParam:     TableParamPtr,
	TableEvent:     TableEventPtr,
	TableProperty:  TablePropertyPtr,
}

// Indirect maps a list position to the row it denotes, following the
// FieldPtr/MethodPtr/ParamPtr/EventPtr/PropertyPtr table when one is present.
func (ts *TableStore) Indirect(target TableID, pos uint32) uint32 {
	if ptr, ok := ptrTables[target]; ok && ts.RowCount(ptr) > 0 && pos <= ts.RowCount(ptr) {
		return ts.Value(ptr, pos, 0)
	}
	return pos
}

// FindRows returns the RIDs of table t whose column col equals value, in row
// order. Sorted tables keyed on col are binary searched; others are scanned.
func (ts *TableStore) FindRows(t TableID, col int, value uint32) []uint32 {
	tb := &ts.tables[t]
	if tb.rows == 0 {
		return nil
	}
	if key, ok := SortKey(t); ok && key == col && ts.IsSorted(t) {
		n := int(tb.rows)
		lo := sort.Search(n, func(i int) bool { return tb.value(uint32(i+1), col) >= value })
		var out []uint32
		for i := lo; i < n && tb.value(uint32(i+1), col) == value; i++ {
			out = append(out, uint32(i+1))
		}
		return out
	}
	var out []uint32
	for rid := uint32(1); rid <= tb.rows; rid++ {
		if tb.value(rid, col) == value {
			out = append(out, rid)
		}
	}
	return out
}

// FindRow returns the first RID matching FindRows, or 0.
func (ts *TableStore) FindRow(t TableID, col int, value uint32) uint32 {
	if rows := ts.FindRows(t, col, value); len(rows) > 0 {
		return rows[0]
	}
	return 0
}

// FindOwner returns the row of owner table t whose list column col contains
// member rid, as for PropertyMap or EventMap. It returns 0 when none does.
func (ts *TableStore) FindOwner(t TableID, col int, rid uint32) uint32 {
	n := ts.tables[t].rows
	for o := uint32(1); o <= n; o++ {
		start, end, err := ts.List(t, o, col)
		if err == nil && rid >= start && rid < end {
			return o
		}
	}
	return 0
}
