package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // container and stream location
	PhaseDecode    Phase = "decode"    // bytes to tables/heaps/IL
	PhaseResolve   Phase = "resolve"   // token to declaration
	PhaseSignature Phase = "signature" // signature and blob grammars
	PhaseEncode    Phase = "encode"    // tables/heaps/IL to bytes
	PhaseWrite     Phase = "write"     // module graph to output image
	PhaseText      Phase = "text"      // textual IL rendering
	PhaseModel     Phase = "model"     // declaration graph mutation
)

// Kind categorizes the error
type Kind string

const (
	KindTruncated           Kind = "truncated"
	KindInvalidCompressed   Kind = "invalid_compressed"
	KindMalformedMetadata   Kind = "malformed_metadata"
	KindUnknownOpcode       Kind = "unknown_opcode"
	KindInvalidData         Kind = "invalid_data"
	KindSchemaViolation     Kind = "schema_violation"
	KindUnresolvedReference Kind = "unresolved_reference"
	KindSignatureGrammar    Kind = "signature_grammar"
	KindEncodingOverflow    Kind = "encoding_overflow"
	KindFrozen              Kind = "frozen"
	KindInvalidInput        Kind = "invalid_input"
	KindUnsupported         Kind = "unsupported"
	KindNotFound            Kind = "not_found"
)

// NoOffset marks an Error that carries no byte position.
const NoOffset int64 = -1

// Error is the structured error type used throughout the codec
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Table  string
	Column string
	Detail string
	Offset int64
	Token  uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Table != "" {
		b.WriteString(" in ")
		b.WriteString(e.Table)
		if e.Column != "" {
			b.WriteByte('.')
			b.WriteString(e.Column)
		}
	}

	if e.Token != 0 {
		fmt.Fprintf(&b, " token 0x%08x", e.Token)
	}

	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset 0x%x", e.Offset)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Targets for errors.Is that match on kind regardless of phase.
var (
	ErrUnresolvedReference = &Error{Kind: KindUnresolvedReference}
	ErrSchemaViolation     = &Error{Kind: KindSchemaViolation}
	ErrSignatureGrammar    = &Error{Kind: KindSignatureGrammar}
	ErrEncodingOverflow    = &Error{Kind: KindEncodingOverflow}
	ErrFrozen              = &Error{Kind: KindFrozen}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Offset: NoOffset,
		},
	}
}

// Table sets the metadata table name
func (b *Builder) Table(name string) *Builder {
	b.err.Table = name
	return b
}

// Column sets the table column name
func (b *Builder) Column(name string) *Builder {
	b.err.Column = name
	return b
}

// Token sets the offending metadata token
func (b *Builder) Token(tok uint32) *Builder {
	b.err.Token = tok
	return b
}

// At sets the byte offset
func (b *Builder) At(offset int) *Builder {
	b.err.Offset = int64(offset)
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Truncated creates a truncated-input error
func Truncated(phase Phase, offset, need, have int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTruncated,
		Offset: int64(offset),
		Detail: fmt.Sprintf("need %d bytes, %d available", need, have),
	}
}

// InvalidCompressed creates an error for a compressed integer with a
// disallowed leading-bit pattern
func InvalidCompressed(phase Phase, offset int, lead byte) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidCompressed,
		Offset: int64(offset),
		Value:  lead,
		Detail: fmt.Sprintf("invalid compressed integer lead byte 0x%02x", lead),
	}
}

// MalformedTable creates a malformed-metadata error naming the table
func MalformedTable(table string, offset int, detail string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindMalformedMetadata,
		Table:  table,
		Offset: int64(offset),
		Detail: detail,
	}
}

// SchemaViolation creates a row or coded-index violation
func SchemaViolation(phase Phase, table, column string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindSchemaViolation,
		Table:  table,
		Column: column,
		Offset: NoOffset,
		Detail: detail,
	}
}

// Unresolved creates an unresolved-reference error for a token
func Unresolved(phase Phase, token uint32, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnresolvedReference,
		Token:  token,
		Offset: NoOffset,
		Detail: detail,
		Cause:  cause,
	}
}

// SignatureGrammar creates a signature grammar error
func SignatureGrammar(offset int, detail string) *Error {
	return &Error{
		Phase:  PhaseSignature,
		Kind:   KindSignatureGrammar,
		Offset: int64(offset),
		Detail: detail,
	}
}

// EncodingOverflow creates an error for a value that exceeds its column
func EncodingOverflow(table, column string, value uint64, width int) *Error {
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindEncodingOverflow,
		Table:  table,
		Column: column,
		Offset: NoOffset,
		Value:  value,
		Detail: fmt.Sprintf("value 0x%x does not fit %d bytes", value, width),
	}
}

// UnknownOpcode creates an IL decode error at the opcode's byte offset
func UnknownOpcode(offset int, code uint16) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnknownOpcode,
		Offset: int64(offset),
		Value:  code,
		Detail: fmt.Sprintf("unknown opcode 0x%02x", code),
	}
}

// InvalidData creates a generic malformed-input error
func InvalidData(phase Phase, offset int, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Offset: int64(offset),
		Detail: detail,
	}
}

// Frozen creates an error for a mutation after the module was handed to the writer
func Frozen(what string) *Error {
	return &Error{
		Phase:  PhaseModel,
		Kind:   KindFrozen,
		Offset: NoOffset,
		Detail: fmt.Sprintf("cannot modify %s after write", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Offset: NoOffset,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Offset: NoOffset,
		Detail: detail,
	}
}

// Unsupported creates an unsupported feature error
func Unsupported(phase Phase, feature string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Offset: NoOffset,
		Detail: feature + " is not supported",
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Offset: NoOffset,
		Detail: detail,
		Cause:  cause,
	}
}

// Taxonomy predicates

// IsDecode reports whether err is a decode-time error (malformed bytes,
// truncated stream, invalid compressed integer, unknown opcode).
func IsDecode(err error) bool {
	e, ok := as(err)
	if !ok {
		return false
	}
	switch e.Kind {
	case KindTruncated, KindInvalidCompressed, KindMalformedMetadata, KindUnknownOpcode, KindInvalidData:
		return true
	}
	return false
}

// IsSchemaViolation reports whether err is a row-range or coded-index violation.
func IsSchemaViolation(err error) bool { return hasKind(err, KindSchemaViolation) }

// IsUnresolved reports whether err is an unresolved token or assembly reference.
func IsUnresolved(err error) bool { return hasKind(err, KindUnresolvedReference) }

// IsSignatureGrammar reports whether err came from a signature grammar violation.
func IsSignatureGrammar(err error) bool { return hasKind(err, KindSignatureGrammar) }

// IsEncodingOverflow reports whether err is a column width overflow.
func IsEncodingOverflow(err error) bool { return hasKind(err, KindEncodingOverflow) }

// IsFrozen reports whether err rejects a mutation of a frozen module.
func IsFrozen(err error) bool { return hasKind(err, KindFrozen) }

func hasKind(err error, kind Kind) bool {
	e, ok := as(err)
	return ok && e.Kind == kind
}

func as(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
