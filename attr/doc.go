// Package attr decodes and encodes custom attribute value blobs.
//
// Fixed arguments are typed by the constructor signature, mapped to
// SerializationType with FromSignature; named arguments carry their own type
// encoding. Enum underlying types are supplied by the caller, which owns type
// resolution.
package attr
