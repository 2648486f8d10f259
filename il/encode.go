package il

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
	"github.com/wippyai/ilweave/metadata"
)

// plan is a settled layout: every instruction and sequence has its offset and
// every branch its operand width.
type plan struct {
	insts    []*Instruction
	long     []bool
	codeSize int
}

func (p *plan) size(i int) int {
	ins := p.insts[i]
	switch kind := ins.Op.Operand(); kind {
	case ShortInlineBrTarget, InlineBrTarget:
		if p.long[i] {
			return ins.Op.Long().Size() + 4
		}
		return ins.Op.Short().Size() + 1
	case InlineSwitch:
		return ins.Op.Size() + 4 + 4*len(ins.Targets())
	default:
		return ins.Op.Size() + kind.Size()
	}
}

func (p *plan) assign(b *Body) {
	off, i := 0, 0
	for _, s := range b.Sequences {
		s.offset = off
		for _, ins := range s.Instructions {
			ins.Offset = off
			off += p.size(i)
			i++
		}
	}
	p.codeSize = off
}

// op returns the opcode emitted for instruction i.
func (p *plan) op(i int) Opcode {
	ins := p.insts[i]
	if !ins.Op.Operand().IsBranch() {
		return ins.Op
	}
	if p.long[i] {
		return ins.Op.Long()
	}
	return ins.Op.Short()
}

// layout assigns offsets. Branches start in short form and are widened one
// round at a time until every displacement fits; widening only grows the
// code, so the loop ends after at most one round per branch.
func layout(b *Body) (*plan, error) {
	owned := make(map[*Sequence]bool, len(b.Sequences))
	for _, s := range b.Sequences {
		if s == nil {
			return nil, errors.InvalidInput(errors.PhaseEncode, "nil sequence in method body")
		}
		owned[s] = true
	}
	p := &plan{insts: b.Instructions()}
	p.long = make([]bool, len(p.insts))

	for _, ins := range p.insts {
		if !ins.Op.Valid() {
			return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("unknown opcode 0x%04x", uint16(ins.Op)))
		}
		switch ins.Op.Operand() {
		case ShortInlineBrTarget, InlineBrTarget:
			if t := ins.Target(); t == nil || !owned[t] {
				return nil, danglingTarget(ins)
			}
		case InlineSwitch:
			if _, ok := ins.Operand.([]*Sequence); !ok && ins.Operand != nil {
				return nil, operandMismatch(ins)
			}
			for _, t := range ins.Targets() {
				if t == nil || !owned[t] {
					return nil, danglingTarget(ins)
				}
			}
		}
	}
	for i, h := range b.Handlers {
		for _, s := range []*Sequence{h.TryStart, h.TryEnd, h.HandlerStart, h.HandlerEnd, h.Filter} {
			if s != nil && !owned[s] {
				return nil, errors.InvalidInput(errors.PhaseEncode,
					fmt.Sprintf("exception clause %d references a sequence outside the body", i))
			}
		}
	}

	for round := 1; ; round++ {
		p.assign(b)
		widened := 0
		for i, ins := range p.insts {
			if !ins.Op.Operand().IsBranch() || p.long[i] {
				continue
			}
			d := ins.Target().offset - (ins.Offset + p.size(i))
			if d < math.MinInt8 || d > math.MaxInt8 {
				p.long[i] = true
				widened++
			}
		}
		if widened == 0 {
			return p, nil
		}
		Logger().Debug("widened branches", zap.Int("round", round), zap.Int("count", widened))
	}
}

// Layout assigns instruction and sequence offsets without encoding and
// returns the code size.
func (b *Body) Layout() (int, error) {
	p, err := layout(b)
	if err != nil {
		return 0, err
	}
	return p.codeSize, nil
}

func (b *Body) tiny(codeSize int) bool {
	return !b.Fat && codeSize < maxTinyCodeSize && b.MaxStack <= tinyMaxStack &&
		b.LocalVarSig.IsNil() && !b.InitLocals && len(b.Handlers) == 0
}

// Encode lays out b and emits the method body bytes.
func Encode(b *Body) ([]byte, error) {
	p, err := layout(b)
	if err != nil {
		return nil, err
	}
	w := binary.NewWriter()
	if b.tiny(p.codeSize) {
		w.Byte(byte(p.codeSize<<2 | formatTiny))
	} else {
		flags := uint16(formatFat | fatHeaderDwords<<12)
		if len(b.Handlers) > 0 {
			flags |= flagMoreSects
		}
		if b.InitLocals {
			flags |= flagInitLocals
		}
		w.WriteU16(flags)
		w.WriteU16(b.MaxStack)
		w.WriteU32(uint32(p.codeSize))
		w.WriteU32(uint32(b.LocalVarSig))
	}

	codeStart := w.Len()
	for i, ins := range p.insts {
		if err := p.emit(w, i, ins); err != nil {
			return nil, err
		}
	}
	if got := w.Len() - codeStart; got != p.codeSize {
		return nil, errors.New(errors.PhaseEncode, errors.KindEncodingOverflow).
			Detail("emitted %d code bytes, layout planned %d", got, p.codeSize).Build()
	}

	if len(b.Handlers) > 0 {
		w.Align(4)
		if err := b.encodeHandlers(w); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func (p *plan) emit(w *binary.Writer, i int, ins *Instruction) error {
	op := p.op(i)
	if op.Size() == 2 {
		w.Byte(Prefix)
	}
	w.Byte(byte(op))

	next := ins.Offset + p.size(i)
	switch op.Operand() {
	case InlineNone:
		if ins.Operand != nil {
			return operandMismatch(ins)
		}
	case ShortInlineI:
		switch v := ins.Operand.(type) {
		case int8:
			w.Byte(byte(v))
		case uint8:
			w.Byte(v)
		default:
			return operandMismatch(ins)
		}
	case ShortInlineVar:
		v, ok := ins.Operand.(uint8)
		if !ok {
			return operandMismatch(ins)
		}
		w.Byte(v)
	case InlineVar:
		v, ok := ins.Operand.(uint16)
		if !ok {
			return operandMismatch(ins)
		}
		w.WriteU16(v)
	case InlineI:
		v, ok := ins.Operand.(int32)
		if !ok {
			return operandMismatch(ins)
		}
		w.WriteU32(uint32(v))
	case InlineI8:
		v, ok := ins.Operand.(int64)
		if !ok {
			return operandMismatch(ins)
		}
		w.WriteU64(uint64(v))
	case ShortInlineR:
		v, ok := ins.Operand.(float32)
		if !ok {
			return operandMismatch(ins)
		}
		w.WriteF32(v)
	case InlineR:
		v, ok := ins.Operand.(float64)
		if !ok {
			return operandMismatch(ins)
		}
		w.WriteF64(v)
	case InlineField, InlineMethod, InlineType, InlineTok, InlineSig, InlineString:
		v, ok := ins.Operand.(metadata.Token)
		if !ok {
			return operandMismatch(ins)
		}
		w.WriteU32(uint32(v))
	case ShortInlineBrTarget:
		w.Byte(byte(int8(ins.Target().offset - next)))
	case InlineBrTarget:
		w.WriteU32(uint32(int32(ins.Target().offset - next)))
	case InlineSwitch:
		targets := ins.Targets()
		w.WriteU32(uint32(len(targets)))
		for _, t := range targets {
			w.WriteU32(uint32(int32(t.offset - next)))
		}
	}
	return nil
}

func (b *Body) encodeHandlers(w *binary.Writer) error {
	type clause struct {
		flags, tryOff, tryLen, hOff, hLen, extra uint32
	}
	clauses := make([]clause, len(b.Handlers))
	small := !b.FatSections && 4+len(b.Handlers)*smallClauseSize <= math.MaxUint8
	for i, h := range b.Handlers {
		if h.TryStart == nil || h.TryEnd == nil || h.HandlerStart == nil || h.HandlerEnd == nil {
			return errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("exception clause %d has an unset boundary", i))
		}
		c := clause{
			flags:  uint32(h.Kind),
			tryOff: uint32(h.TryStart.offset),
			tryLen: uint32(h.TryEnd.offset - h.TryStart.offset),
			hOff:   uint32(h.HandlerStart.offset),
			hLen:   uint32(h.HandlerEnd.offset - h.HandlerStart.offset),
		}
		if h.TryEnd.offset < h.TryStart.offset || h.HandlerEnd.offset < h.HandlerStart.offset {
			return errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("exception clause %d ends before it starts", i))
		}
		switch h.Kind {
		case HandlerCatch:
			c.extra = uint32(h.CatchType)
		case HandlerFilter:
			if h.Filter == nil {
				return errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("filter clause %d has no filter block", i))
			}
			c.extra = uint32(h.Filter.offset)
		}
		if c.tryOff > math.MaxUint16 || c.hOff > math.MaxUint16 || c.tryLen > math.MaxUint8 || c.hLen > math.MaxUint8 {
			small = false
		}
		clauses[i] = c
	}

	if small {
		w.Byte(sectEHTable)
		w.Byte(byte(4 + len(clauses)*smallClauseSize))
		w.WriteU16(0)
		for _, c := range clauses {
			w.WriteU16(uint16(c.flags))
			w.WriteU16(uint16(c.tryOff))
			w.Byte(byte(c.tryLen))
			w.WriteU16(uint16(c.hOff))
			w.Byte(byte(c.hLen))
			w.WriteU32(c.extra)
		}
		return nil
	}

	size := 4 + len(clauses)*fatClauseSize
	if size > 0xFFFFFF {
		return errors.EncodingOverflow("method body", "exception section", uint64(size), 3)
	}
	w.Byte(sectEHTable | sectFatFormat)
	w.Byte(byte(size))
	w.Byte(byte(size >> 8))
	w.Byte(byte(size >> 16))
	for _, c := range clauses {
		w.WriteU32(c.flags)
		w.WriteU32(c.tryOff)
		w.WriteU32(c.tryLen)
		w.WriteU32(c.hOff)
		w.WriteU32(c.hLen)
		w.WriteU32(c.extra)
	}
	return nil
}

func danglingTarget(ins *Instruction) error {
	return errors.InvalidInput(errors.PhaseEncode,
		fmt.Sprintf("%s at IL_%04x targets a sequence outside the body", ins.Op.Name(), ins.Offset))
}

func operandMismatch(ins *Instruction) error {
	return errors.InvalidInput(errors.PhaseEncode,
		fmt.Sprintf("%s at IL_%04x has operand %v (%T)", ins.Op.Name(), ins.Offset, ins.Operand, ins.Operand))
}
