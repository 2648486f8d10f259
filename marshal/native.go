package marshal

import (
	"fmt"
	"strings"
)

// NativeType is the leading byte of a marshaling descriptor (ECMA-335 II.23.4).
type NativeType byte

const (
	NativeBoolean         NativeType = 0x02
	NativeI1              NativeType = 0x03
	NativeU1              NativeType = 0x04
	NativeI2              NativeType = 0x05
	NativeU2              NativeType = 0x06
	NativeI4              NativeType = 0x07
	NativeU4              NativeType = 0x08
	NativeI8              NativeType = 0x09
	NativeU8              NativeType = 0x0A
	NativeR4              NativeType = 0x0B
	NativeR8              NativeType = 0x0C
	NativeCurrency        NativeType = 0x0F
	NativeBStr            NativeType = 0x13
	NativeLPStr           NativeType = 0x14
	NativeLPWStr          NativeType = 0x15
	NativeLPTStr          NativeType = 0x16
	NativeFixedSysString  NativeType = 0x17
	NativeIUnknown        NativeType = 0x19
	NativeIDispatch       NativeType = 0x1A
	NativeStruct          NativeType = 0x1B
	NativeInterface       NativeType = 0x1C
	NativeSafeArray       NativeType = 0x1D
	NativeFixedArray      NativeType = 0x1E
	NativeInt             NativeType = 0x1F
	NativeUInt            NativeType = 0x20
	NativeByValStr        NativeType = 0x22
	NativeAnsiBStr        NativeType = 0x23
	NativeTBStr           NativeType = 0x24
	NativeVariantBool     NativeType = 0x25
	NativeFunc            NativeType = 0x26
	NativeAsAny           NativeType = 0x28
	NativeArray           NativeType = 0x2A
	NativeLPStruct        NativeType = 0x2B
	NativeCustomMarshaler NativeType = 0x2C
	NativeError           NativeType = 0x2D
	NativeIInspectable    NativeType = 0x2E
	NativeHString         NativeType = 0x2F
	NativeLPUTF8Str       NativeType = 0x30
	// NativeMax marks an unspecified array element type.
	NativeMax NativeType = 0x50
)

// nativeKeywords is the ilasm spelling of each intrinsic native type.
var nativeKeywords = map[NativeType]string{
	NativeBoolean:      "bool",
	NativeI1:           "int8",
	NativeU1:           "unsigned int8",
	NativeI2:           "int16",
	NativeU2:           "unsigned int16",
	NativeI4:           "int32",
	NativeU4:           "unsigned int32",
	NativeI8:           "int64",
	NativeU8:           "unsigned int64",
	NativeR4:           "float32",
	NativeR8:           "float64",
	NativeCurrency:     "currency",
	NativeBStr:         "bstr",
	NativeLPStr:        "lpstr",
	NativeLPWStr:       "lpwstr",
	NativeLPTStr:       "lptstr",
	NativeIUnknown:     "iunknown",
	NativeIDispatch:    "idispatch",
	NativeStruct:       "struct",
	NativeInterface:    "interface",
	NativeInt:          "int",
	NativeUInt:         "unsigned int",
	NativeByValStr:     "byvalstr",
	NativeAnsiBStr:     "ansi bstr",
	NativeTBStr:        "tbstr",
	NativeVariantBool:  "variant bool",
	NativeFunc:         "method",
	NativeAsAny:        "as any",
	NativeLPStruct:     "lpstruct",
	NativeError:        "error",
	NativeIInspectable: "iinspectable",
	NativeHString:      "hstring",
	NativeLPUTF8Str:    "lputf8str",
	NativeMax:          "",
}

// Keyword returns the ilasm keyword of n.
func (n NativeType) Keyword() string {
	if k, ok := nativeKeywords[n]; ok {
		return k
	}
	return fmt.Sprintf("/* native 0x%02x */", byte(n))
}

func (n NativeType) String() string { return n.Keyword() }

// VarEnum is an OLE VARTYPE used by safe array descriptors.
type VarEnum uint32

const (
	VTEmpty           VarEnum = 0
	VTNull            VarEnum = 1
	VTI2              VarEnum = 2
	VTI4              VarEnum = 3
	VTR4              VarEnum = 4
	VTR8              VarEnum = 5
	VTCY              VarEnum = 6
	VTDate            VarEnum = 7
	VTBStr            VarEnum = 8
	VTDispatch        VarEnum = 9
	VTError           VarEnum = 10
	VTBool            VarEnum = 11
	VTVariant         VarEnum = 12
	VTUnknown         VarEnum = 13
	VTDecimal         VarEnum = 14
	VTI1              VarEnum = 16
	VTUI1             VarEnum = 17
	VTUI2             VarEnum = 18
	VTUI4             VarEnum = 19
	VTI8              VarEnum = 20
	VTUI8             VarEnum = 21
	VTInt             VarEnum = 22
	VTUInt            VarEnum = 23
	VTVoid            VarEnum = 24
	VTHResult         VarEnum = 25
	VTPtr             VarEnum = 26
	VTSafeArray       VarEnum = 27
	VTCArray          VarEnum = 28
	VTUserDefined     VarEnum = 29
	VTLPStr           VarEnum = 30
	VTLPWStr          VarEnum = 31
	VTRecord          VarEnum = 36
	VTFileTime        VarEnum = 64
	VTBlob            VarEnum = 65
	VTStream          VarEnum = 66
	VTStorage         VarEnum = 67
	VTStreamedObject  VarEnum = 68
	VTStoredObject    VarEnum = 69
	VTBlobObject      VarEnum = 70
	VTCF              VarEnum = 71
	VTCLSID           VarEnum = 72
	VTVector          VarEnum = 0x1000
	VTArray           VarEnum = 0x2000
	VTByRef           VarEnum = 0x4000
	varEnumFlagsMask  VarEnum = VTVector | VTArray | VTByRef
	varEnumTypeMask   VarEnum = ^varEnumFlagsMask
)

// varKeywords is the ilasm variant-type spelling, built once.
var varKeywords = map[VarEnum]string{
	VTEmpty:          "",
	VTNull:           "null",
	VTI2:             "int16",
	VTI4:             "int32",
	VTR4:             "float32",
	VTR8:             "float64",
	VTCY:             "currency",
	VTDate:           "date",
	VTBStr:           "bstr",
	VTDispatch:       "idispatch",
	VTError:          "error",
	VTBool:           "bool",
	VTVariant:        "variant",
	VTUnknown:        "iunknown",
	VTDecimal:        "decimal",
	VTI1:             "int8",
	VTUI1:            "unsigned int8",
	VTUI2:            "unsigned int16",
	VTUI4:            "unsigned int32",
	VTI8:             "int64",
	VTUI8:            "unsigned int64",
	VTInt:            "int",
	VTUInt:           "unsigned int",
	VTVoid:           "void",
	VTHResult:        "hresult",
	VTPtr:            "*",
	VTSafeArray:      "safearray",
	VTCArray:         "carray",
	VTUserDefined:    "userdefined",
	VTLPStr:          "lpstr",
	VTLPWStr:         "lpwstr",
	VTRecord:         "record",
	VTFileTime:       "filetime",
	VTBlob:           "blob",
	VTStream:         "stream",
	VTStorage:        "storage",
	VTStreamedObject: "streamed_object",
	VTStoredObject:   "stored_object",
	VTBlobObject:     "blob_object",
	VTCF:             "cf",
	VTCLSID:          "clsid",
}

// Keyword renders v with its vector, array and byref modifiers.
func (v VarEnum) Keyword() string {
	var b strings.Builder
	if k, ok := varKeywords[v&varEnumTypeMask]; ok {
		b.WriteString(k)
	} else {
		fmt.Fprintf(&b, "/* VT 0x%x */", uint32(v&varEnumTypeMask))
	}
	if v&VTVector != 0 {
		b.WriteString(" vector")
	}
	if v&VTArray != 0 {
		b.WriteString(" []")
	}
	if v&VTByRef != 0 {
		b.WriteString(" &")
	}
	return b.String()
}

func (v VarEnum) String() string { return v.Keyword() }
