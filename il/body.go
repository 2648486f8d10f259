package il

import (
	"slices"

	"github.com/wippyai/ilweave/metadata"
)

// Instruction is one decoded CIL instruction. Operand holds:
//
//	InlineNone          nil
//	ShortInlineI        int8 (uint8 for unaligned. and no.)
//	ShortInlineVar      uint8
//	InlineVar           uint16
//	InlineI             int32
//	InlineI8            int64
//	ShortInlineR        float32
//	InlineR             float64
//	token kinds         metadata.Token
//	branch kinds        *Sequence
//	InlineSwitch        []*Sequence
type Instruction struct {
	Operand any
	Op      Opcode
	// Offset is the byte offset within the code, set by Decode and by every
	// layout.
	Offset int
}

// Target returns the branch target of a branch instruction.
func (i *Instruction) Target() *Sequence {
	s, _ := i.Operand.(*Sequence)
	return s
}

// Targets returns the switch table of a switch instruction.
func (i *Instruction) Targets() []*Sequence {
	s, _ := i.Operand.([]*Sequence)
	return s
}

// Token returns the metadata token operand, if any.
func (i *Instruction) Token() (metadata.Token, bool) {
	t, ok := i.Operand.(metadata.Token)
	return t, ok
}

// Sequence is a run of instructions that branches and exception clauses can
// target. An empty trailing sequence marks the end of the code.
type Sequence struct {
	Instructions []*Instruction
	offset       int
}

// Offset returns the code offset of the sequence after the last layout.
func (s *Sequence) Offset() int { return s.offset }

// Append adds instructions to the end of the sequence.
func (s *Sequence) Append(ins ...*Instruction) *Sequence {
	s.Instructions = append(s.Instructions, ins...)
	return s
}

// Insert places ins before position i.
func (s *Sequence) Insert(i int, ins ...*Instruction) {
	s.Instructions = slices.Insert(s.Instructions, i, ins...)
}

// HandlerKind is the exception clause kind.
type HandlerKind uint32

const (
	HandlerCatch   HandlerKind = 0x0
	HandlerFilter  HandlerKind = 0x1
	HandlerFinally HandlerKind = 0x2
	HandlerFault   HandlerKind = 0x4
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFilter:
		return "filter"
	case HandlerFinally:
		return "finally"
	case HandlerFault:
		return "fault"
	}
	return "handler"
}

// ExceptionHandler is one exception clause. End sequences are exclusive.
type ExceptionHandler struct {
	TryStart     *Sequence
	TryEnd       *Sequence
	HandlerStart *Sequence
	HandlerEnd   *Sequence
	// Filter starts the filter block of a HandlerFilter clause.
	Filter    *Sequence
	CatchType metadata.Token
	Kind      HandlerKind
}

// Body is a method body: header fields, code as an ordered list of
// sequences, and exception clauses.
type Body struct {
	Sequences   []*Sequence
	Handlers    []*ExceptionHandler
	LocalVarSig metadata.Token
	MaxStack    uint16
	InitLocals  bool
	// Fat keeps a fat header even when a tiny one would do.
	Fat bool
	// FatSections keeps fat exception sections even when small ones fit.
	FatSections bool
}

// NewBody returns an empty body with a single sequence.
func NewBody() *Body {
	return &Body{Sequences: []*Sequence{{}}, MaxStack: 8}
}

// Instructions returns the flat instruction list in code order.
func (b *Body) Instructions() []*Instruction {
	var n int
	for _, s := range b.Sequences {
		n += len(s.Instructions)
	}
	out := make([]*Instruction, 0, n)
	for _, s := range b.Sequences {
		out = append(out, s.Instructions...)
	}
	return out
}

// Tokens returns every metadata token the body references: the local
// signature, instruction operands and catch types, in code order.
func (b *Body) Tokens() []metadata.Token {
	var out []metadata.Token
	if !b.LocalVarSig.IsNil() {
		out = append(out, b.LocalVarSig)
	}
	for _, s := range b.Sequences {
		for _, ins := range s.Instructions {
			if t, ok := ins.Token(); ok {
				out = append(out, t)
			}
		}
	}
	for _, h := range b.Handlers {
		if h.Kind == HandlerCatch && !h.CatchType.IsNil() {
			out = append(out, h.CatchType)
		}
	}
	return out
}

// RemapTokens rewrites every token the body references through fn.
func (b *Body) RemapTokens(fn func(metadata.Token) (metadata.Token, error)) error {
	if !b.LocalVarSig.IsNil() {
		t, err := fn(b.LocalVarSig)
		if err != nil {
			return err
		}
		b.LocalVarSig = t
	}
	for _, s := range b.Sequences {
		for _, ins := range s.Instructions {
			tok, ok := ins.Token()
			if !ok {
				continue
			}
			t, err := fn(tok)
			if err != nil {
				return err
			}
			ins.Operand = t
		}
	}
	for _, h := range b.Handlers {
		if h.Kind != HandlerCatch || h.CatchType.IsNil() {
			continue
		}
		t, err := fn(h.CatchType)
		if err != nil {
			return err
		}
		h.CatchType = t
	}
	return nil
}
