package metadata

import (
	"fmt"

	"github.com/wippyai/ilweave/errors"
)

// ColumnKind identifies how a column value is stored.
type ColumnKind byte

const (
	ColU16    ColumnKind = iota // fixed 2-byte value
	ColU32                      // fixed 4-byte value
	ColString                   // #Strings heap offset
	ColGUID                     // #GUID heap index (1-based)
	ColBlob                     // #Blob heap offset
	ColTable                    // simple index into one table
	ColCoded                    // coded index into one of several tables
)

// Column describes one column of a table row.
type Column struct {
	Name  string
	Kind  ColumnKind
	Table TableID   // ColTable target
	Coded CodedKind // ColCoded descriptor
}

// MaxColumns is the widest row in the schema (Assembly, AssemblyRef).
const MaxColumns = 9

// Row holds the raw column values of one table row.
type Row [MaxColumns]uint32

// CodedKind names a coded index family.
type CodedKind byte

const (
	CodedTypeDefOrRef CodedKind = iota
	CodedHasConstant
	CodedHasCustomAttribute
	CodedHasFieldMarshal
	CodedHasDeclSecurity
	CodedMemberRefParent
	CodedHasSemantics
	CodedMethodDefOrRef
	CodedMemberForwarded
	CodedImplementation
	CodedCustomAttributeType
	CodedResolutionScope
	CodedTypeOrMethodDef
	codedKindCount
)

// CodedIndex describes the tag space of a coded index family.
type CodedIndex struct {
	Name   string
	Bits   uint
	Tables []TableID
}

var codedIndices = [codedKindCount]CodedIndex{
	CodedTypeDefOrRef:  {"TypeDefOrRef", 2, []TableID{TableTypeDef, TableTypeRef, TableTypeSpec}},
	CodedHasConstant:   {"HasConstant", 2, []TableID{TableField, TableParam, TableProperty}},
	CodedHasCustomAttribute: {"HasCustomAttribute", 5, []TableID{
		TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam, TableInterfaceImpl,
		TableMemberRef, TableModule, TableDeclSecurity, TableProperty, TableEvent, TableStandAloneSig,
		TableModuleRef, TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile, TableExportedType,
		TableManifestResource, TableGenericParam, TableGenericParamConstraint, TableMethodSpec,
	}},
	CodedHasFieldMarshal:     {"HasFieldMarshal", 1, []TableID{TableField, TableParam}},
	CodedHasDeclSecurity:     {"HasDeclSecurity", 2, []TableID{TableTypeDef, TableMethodDef, TableAssembly}},
	CodedMemberRefParent:     {"MemberRefParent", 3, []TableID{TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec}},
	CodedHasSemantics:        {"HasSemantics", 1, []TableID{TableEvent, TableProperty}},
	CodedMethodDefOrRef:      {"MethodDefOrRef", 1, []TableID{TableMethodDef, TableMemberRef}},
	CodedMemberForwarded:     {"MemberForwarded", 1, []TableID{TableField, TableMethodDef}},
	CodedImplementation:      {"Implementation", 2, []TableID{TableFile, TableAssemblyRef, TableExportedType}},
	CodedCustomAttributeType: {"CustomAttributeType", 3, []TableID{noTable, noTable, TableMethodDef, TableMemberRef, noTable}},
	CodedResolutionScope:     {"ResolutionScope", 2, []TableID{TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef}},
	CodedTypeOrMethodDef:     {"TypeOrMethodDef", 1, []TableID{TableTypeDef, TableMethodDef}},
}

// Coded returns the descriptor of a coded index family.
func Coded(k CodedKind) *CodedIndex {
	return &codedIndices[k]
}

func (k CodedKind) String() string {
	if k < codedKindCount {
		return codedIndices[k].Name
	}
	return fmt.Sprintf("CodedKind(%d)", byte(k))
}

// Decode splits a coded value into a token. A zero row yields the nil token.
func (c *CodedIndex) Decode(v uint32) (Token, error) {
	tag := v & (1<<c.Bits - 1)
	rid := v >> c.Bits
	if int(tag) >= len(c.Tables) || c.Tables[tag] == noTable {
		if rid == 0 {
			return 0, nil
		}
		return 0, errors.New(errors.PhaseDecode, errors.KindSchemaViolation).
			Value(tag).
			Detail("tag %d outside %s tag space", tag, c.Name).
			Build()
	}
	if rid == 0 {
		return 0, nil
	}
	return NewToken(c.Tables[tag], rid), nil
}

// Encode packs a token into a coded value. The nil token encodes as 0.
func (c *CodedIndex) Encode(tok Token) (uint32, error) {
	if tok.IsNil() {
		return 0, nil
	}
	for tag, t := range c.Tables {
		if t == tok.Table() {
			return tok.RID()<<c.Bits | uint32(tag), nil
		}
	}
	return 0, errors.New(errors.PhaseEncode, errors.KindSchemaViolation).
		Token(uint32(tok)).
		Detail("table %s is not a %s target", tok.Table(), c.Name).
		Build()
}

// Accepts reports whether tok's table belongs to the coded family.
func (c *CodedIndex) Accepts(t TableID) bool {
	for _, ct := range c.Tables {
		if ct == t {
			return true
		}
	}
	return false
}

func u16(name string) Column       { return Column{Name: name, Kind: ColU16} }
func u32(name string) Column       { return Column{Name: name, Kind: ColU32} }
func str(name string) Column       { return Column{Name: name, Kind: ColString} }
func guid(name string) Column      { return Column{Name: name, Kind: ColGUID} }
func blob(name string) Column      { return Column{Name: name, Kind: ColBlob} }
func idx(name string, t TableID) Column {
	return Column{Name: name, Kind: ColTable, Table: t}
}
func coded(name string, k CodedKind) Column {
	return Column{Name: name, Kind: ColCoded, Coded: k}
}

var schema = [TableCount][]Column{
	TableModule:    {u16("Generation"), str("Name"), guid("Mvid"), guid("EncId"), guid("EncBaseId")},
	TableTypeRef:   {coded("ResolutionScope", CodedResolutionScope), str("TypeName"), str("TypeNamespace")},
	TableTypeDef:   {u32("Flags"), str("TypeName"), str("TypeNamespace"), coded("Extends", CodedTypeDefOrRef), idx("FieldList", TableField), idx("MethodList", TableMethodDef)},
	TableFieldPtr:  {idx("Field", TableField)},
	TableField:     {u16("Flags"), str("Name"), blob("Signature")},
	TableMethodPtr: {idx("Method", TableMethodDef)},
	TableMethodDef: {u32("RVA"), u16("ImplFlags"), u16("Flags"), str("Name"), blob("Signature"), idx("ParamList", TableParam)},
	TableParamPtr:  {idx("Param", TableParam)},
	TableParam:     {u16("Flags"), u16("Sequence"), str("Name")},
	TableInterfaceImpl: {idx("Class", TableTypeDef), coded("Interface", CodedTypeDefOrRef)},
	TableMemberRef:     {coded("Class", CodedMemberRefParent), str("Name"), blob("Signature")},
	// Type is a one-byte element type followed by a zero padding byte.
	TableConstant:        {u16("Type"), coded("Parent", CodedHasConstant), blob("Value")},
	TableCustomAttribute: {coded("Parent", CodedHasCustomAttribute), coded("Type", CodedCustomAttributeType), blob("Value")},
	TableFieldMarshal:    {coded("Parent", CodedHasFieldMarshal), blob("NativeType")},
	TableDeclSecurity:    {u16("Action"), coded("Parent", CodedHasDeclSecurity), blob("PermissionSet")},
	TableClassLayout:     {u16("PackingSize"), u32("ClassSize"), idx("Parent", TableTypeDef)},
	TableFieldLayout:     {u32("Offset"), idx("Field", TableField)},
	TableStandAloneSig:   {blob("Signature")},
	TableEventMap:        {idx("Parent", TableTypeDef), idx("EventList", TableEvent)},
	TableEventPtr:        {idx("Event", TableEvent)},
	TableEvent:           {u16("EventFlags"), str("Name"), coded("EventType", CodedTypeDefOrRef)},
	TablePropertyMap:     {idx("Parent", TableTypeDef), idx("PropertyList", TableProperty)},
	TablePropertyPtr:     {idx("Property", TableProperty)},
	TableProperty:        {u16("Flags"), str("Name"), blob("Type")},
	TableMethodSemantics: {u16("Semantics"), idx("Method", TableMethodDef), coded("Association", CodedHasSemantics)},
	TableMethodImpl:      {idx("Class", TableTypeDef), coded("MethodBody", CodedMethodDefOrRef), coded("MethodDeclaration", CodedMethodDefOrRef)},
	TableModuleRef:       {str("Name")},
	TableTypeSpec:        {blob("Signature")},
	TableImplMap:         {u16("MappingFlags"), coded("MemberForwarded", CodedMemberForwarded), str("ImportName"), idx("ImportScope", TableModuleRef)},
	TableFieldRVA:        {u32("RVA"), idx("Field", TableField)},
	TableENCLog:          {u32("Token"), u32("FuncCode")},
	TableENCMap:          {u32("Token")},
	TableAssembly: {u32("HashAlgId"), u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"),
		u32("Flags"), blob("PublicKey"), str("Name"), str("Culture")},
	TableAssemblyProcessor: {u32("Processor")},
	TableAssemblyOS:        {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion")},
	TableAssemblyRef: {u16("MajorVersion"), u16("MinorVersion"), u16("BuildNumber"), u16("RevisionNumber"),
		u32("Flags"), blob("PublicKeyOrToken"), str("Name"), str("Culture"), blob("HashValue")},
	TableAssemblyRefProcessor: {u32("Processor"), idx("AssemblyRef", TableAssemblyRef)},
	TableAssemblyRefOS:        {u32("OSPlatformID"), u32("OSMajorVersion"), u32("OSMinorVersion"), idx("AssemblyRef", TableAssemblyRef)},
	TableFile:                 {u32("Flags"), str("Name"), blob("HashValue")},
	TableExportedType:         {u32("Flags"), u32("TypeDefId"), str("TypeName"), str("TypeNamespace"), coded("Implementation", CodedImplementation)},
	TableManifestResource:     {u32("Offset"), u32("Flags"), str("Name"), coded("Implementation", CodedImplementation)},
	TableNestedClass:          {idx("NestedClass", TableTypeDef), idx("EnclosingClass", TableTypeDef)},
	TableGenericParam:         {u16("Number"), u16("Flags"), coded("Owner", CodedTypeOrMethodDef), str("Name")},
	TableMethodSpec:           {coded("Method", CodedMethodDefOrRef), blob("Instantiation")},
	TableGenericParamConstraint: {idx("Owner", TableGenericParam), coded("Constraint", CodedTypeDefOrRef)},
}

// Schema returns the ordered columns of a table.
func Schema(t TableID) []Column {
	if !t.Valid() {
		return nil
	}
	return schema[t]
}

// ColumnIndex returns the position of a named column, or -1.
func ColumnIndex(t TableID, name string) int {
	for i, c := range Schema(t) {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Heap size flags of the tables stream header.
const (
	HeapStringsWide byte = 0x01
	HeapGUIDWide    byte = 0x02
	HeapBlobWide    byte = 0x04
	HeapPadding     byte = 0x08
	HeapDeltaOnly   byte = 0x20
	HeapExtraData   byte = 0x40
	HeapHasDelete   byte = 0x80
)

// Sizes carries everything column widths depend on: every table's row count
// and the heap-size flags.
type Sizes struct {
	Rows      [TableCount]uint32
	HeapSizes byte
}

// ColumnWidth returns the encoded width of a column in bytes.
func (s *Sizes) ColumnWidth(c Column) int {
	switch c.Kind {
	case ColU16:
		return 2
	case ColU32:
		return 4
	case ColString:
		return s.heapWidth(HeapStringsWide)
	case ColGUID:
		return s.heapWidth(HeapGUIDWide)
	case ColBlob:
		return s.heapWidth(HeapBlobWide)
	case ColTable:
		if s.Rows[c.Table] > 0xFFFF {
			return 4
		}
		return 2
	case ColCoded:
		return s.CodedWidth(c.Coded)
	}
	return 0
}

func (s *Sizes) heapWidth(flag byte) int {
	if s.HeapSizes&flag != 0 {
		return 4
	}
	return 2
}

// CodedWidth returns 2 when every referenced table's row count fits in the
// bits left over after the tag, 4 otherwise.
func (s *Sizes) CodedWidth(k CodedKind) int {
	ci := &codedIndices[k]
	var maxRows uint32
	for _, t := range ci.Tables {
		if t != noTable && s.Rows[t] > maxRows {
			maxRows = s.Rows[t]
		}
	}
	if maxRows < 1<<(16-ci.Bits) {
		return 2
	}
	return 4
}

// RowWidth returns the byte width of one row of table t.
func (s *Sizes) RowWidth(t TableID) int {
	w := 0
	for _, c := range Schema(t) {
		w += s.ColumnWidth(c)
	}
	return w
}

// Layout is the byte layout of one table's rows.
type Layout struct {
	Offsets  [MaxColumns]int
	Widths   [MaxColumns]int
	Columns  int
	RowWidth int
}

// Layout computes the column offsets of table t.
func (s *Sizes) Layout(t TableID) Layout {
	var l Layout
	for i, c := range Schema(t) {
		w := s.ColumnWidth(c)
		l.Offsets[i] = l.RowWidth
		l.Widths[i] = w
		l.RowWidth += w
	}
	l.Columns = len(Schema(t))
	return l
}
