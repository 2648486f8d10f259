// Package errors provides structured error types for the ilweave codec.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries positional context: the metadata table and
// column, the offending token, and the byte offset inside the input.
//
// The kinds implement the codec's error taxonomy:
//
//	DecodeError            KindTruncated, KindInvalidCompressed,
//	                       KindMalformedMetadata, KindUnknownOpcode, KindInvalidData
//	SchemaViolation        KindSchemaViolation
//	UnresolvedReference    KindUnresolvedReference
//	SignatureGrammarError  KindSignatureGrammar
//	EncodingOverflowError  KindEncodingOverflow
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindMalformedMetadata).
//		Table("TypeDef").
//		At(0x1f4).
//		Detail("row data exceeds stream").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Truncated(errors.PhaseDecode, off, 4, 1)
//	err := errors.Unresolved(errors.PhaseWrite, tok, "dangling reference", nil)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
