// Package marshal decodes, encodes and renders the native-type descriptors
// stored in FieldMarshal rows (ECMA-335 II.23.4).
//
// Array descriptors keep their optional operands literally: -1 marks an
// absent ParamNum or NumElem. The text form and Size follow the same rule, so
// the binary and textual writers agree on the element count:
//
//	Array{Elem: NativeI4, FixedArraySize: 3, AdditionalSizeParameter: -1} // int32[3]
//	Array{Elem: NativeI4, FixedArraySize: -1, AdditionalSizeParameter: 2} // int32[+2]
package marshal
