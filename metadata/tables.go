package metadata

import "fmt"

// TableID is the ordinal of a metadata table (ECMA-335 II.22).
type TableID byte

// Metadata table ordinals.
const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethodDef              TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableENCLog                 TableID = 0x1E
	TableENCMap                 TableID = 0x1F
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	// TableCount is one past the highest defined table ordinal.
	TableCount = 0x2D

	// TableUserString is the token type of #US heap references (ldstr).
	TableUserString TableID = 0x70
	// TableString is the token type used for #Strings references in
	// unmanaged metadata APIs; it never appears in tables.
	TableString TableID = 0x71

	noTable TableID = 0xFF
)

var tableNames = [TableCount]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "MethodDef",
	"ParamPtr", "Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute",
	"FieldMarshal", "DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig",
	"EventMap", "EventPtr", "Event", "PropertyMap", "PropertyPtr", "Property",
	"MethodSemantics", "MethodImpl", "ModuleRef", "TypeSpec", "ImplMap", "FieldRVA",
	"ENCLog", "ENCMap", "Assembly", "AssemblyProcessor", "AssemblyOS", "AssemblyRef",
	"AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType", "ManifestResource",
	"NestedClass", "GenericParam", "MethodSpec", "GenericParamConstraint",
}

func (t TableID) String() string {
	switch {
	case int(t) < TableCount:
		return tableNames[t]
	case t == TableUserString:
		return "UserString"
	case t == TableString:
		return "String"
	}
	return fmt.Sprintf("Table(0x%02x)", byte(t))
}

// Valid reports whether t is a defined table ordinal.
func (t TableID) Valid() bool {
	return int(t) < TableCount
}

// Sorted tables: the ECMA-335 sort requirement, keyed by column.
var sortKeys = map[TableID]int{
	TableInterfaceImpl:          0,
	TableConstant:               1,
	TableCustomAttribute:        0,
	TableFieldMarshal:           0,
	TableDeclSecurity:           1,
	TableClassLayout:            2,
	TableFieldLayout:            1,
	TableMethodSemantics:        2,
	TableMethodImpl:             0,
	TableImplMap:                1,
	TableFieldRVA:               1,
	TableNestedClass:            0,
	TableGenericParam:           2,
	TableGenericParamConstraint: 0,
}

// SortKey returns the column a sorted table is ordered by.
func SortKey(t TableID) (column int, ok bool) {
	column, ok = sortKeys[t]
	return column, ok
}

// DefaultSortedMask is the Sorted bit vector emitted by common compilers.
const DefaultSortedMask uint64 = 0x000016003301FA00
