package il

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
	"github.com/wippyai/ilweave/metadata"
)

// Method header and section flags (ECMA-335 II.25.4).
const (
	formatMask      = 0x3
	formatTiny      = 0x2
	formatFat       = 0x3
	flagMoreSects   = 0x8
	flagInitLocals  = 0x10
	fatHeaderDwords = 3
	maxTinyCodeSize = 1 << 6
	tinyMaxStack    = 8

	sectEHTable   = 0x01
	sectFatFormat = 0x40
	sectMoreSects = 0x80

	smallClauseSize = 12
	fatClauseSize   = 24
)

type header struct {
	codeSize  int
	moreSects bool
}

func readHeader(r *binary.Reader, b *Body) (header, error) {
	start := r.Position()
	first, err := r.ReadByte()
	if err != nil {
		return header{}, err
	}
	switch first & formatMask {
	case formatTiny:
		if b != nil {
			b.MaxStack = tinyMaxStack
		}
		return header{codeSize: int(first >> 2)}, nil
	case formatFat:
		second, err := r.ReadByte()
		if err != nil {
			return header{}, err
		}
		flags := uint16(first) | uint16(second)<<8
		if size := int(flags >> 12); size != fatHeaderDwords {
			return header{}, errors.InvalidData(errors.PhaseDecode, start, fmt.Sprintf("fat method header of %d dwords", size))
		}
		maxStack, err := r.ReadU16()
		if err != nil {
			return header{}, err
		}
		codeSize, err := r.ReadU32()
		if err != nil {
			return header{}, err
		}
		sig, err := r.ReadU32()
		if err != nil {
			return header{}, err
		}
		if b != nil {
			b.Fat = true
			b.MaxStack = maxStack
			b.LocalVarSig = metadata.Token(sig)
			b.InitLocals = flags&flagInitLocals != 0
		}
		if int64(codeSize) > int64(r.Remaining()) {
			return header{}, errors.Truncated(errors.PhaseDecode, r.Position(), int(min(codeSize, math.MaxInt32)), r.Remaining())
		}
		return header{codeSize: int(codeSize), moreSects: flags&flagMoreSects != 0}, nil
	}
	return header{}, errors.InvalidData(errors.PhaseDecode, start, fmt.Sprintf("method header format 0x%x", first&formatMask))
}

// BodySize returns the encoded length of the method body at the start of data,
// including exception sections.
func BodySize(data []byte) (int, error) {
	r := binary.NewReader(data)
	h, err := readHeader(r, nil)
	if err != nil {
		return 0, err
	}
	if err := r.Skip(h.codeSize); err != nil {
		return 0, err
	}
	more := h.moreSects
	for more {
		if err := r.Align(4); err != nil {
			return 0, err
		}
		kind, size, err := readSectionHeader(r)
		if err != nil {
			return 0, err
		}
		if err := r.Skip(size - 4); err != nil {
			return 0, err
		}
		more = kind&sectMoreSects != 0
	}
	return r.Offset(), nil
}

func readSectionHeader(r *binary.Reader) (kind byte, size int, err error) {
	start := r.Position()
	kind, err = r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	if kind&sectFatFormat != 0 {
		b, err := r.ReadBytes(3)
		if err != nil {
			return 0, 0, err
		}
		size = int(b[0]) | int(b[1])<<8 | int(b[2])<<16
	} else {
		b, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		size = int(b)
		if err := r.Skip(2); err != nil {
			return 0, 0, err
		}
	}
	if size < 4 {
		return 0, 0, errors.InvalidData(errors.PhaseDecode, start, fmt.Sprintf("method data section of %d bytes", size))
	}
	return kind, size, nil
}

type rawInstruction struct {
	ins     *Instruction
	targets []int
}

// Decode parses a method body. base is the position of data in its enclosing
// image and is used for error offsets only.
func Decode(data []byte, base int) (*Body, error) {
	r := binary.NewReaderAt(data, base)
	b := &Body{}
	h, err := readHeader(r, b)
	if err != nil {
		return nil, err
	}
	codeBase := r.Position()
	code, err := r.ReadBytes(h.codeSize)
	if err != nil {
		return nil, err
	}
	raws, err := decodeCode(code, codeBase)
	if err != nil {
		return nil, err
	}

	type rawClause struct {
		kind                       HandlerKind
		tryOff, tryEnd, hOff, hEnd int
		extra                      uint32
	}
	var clauses []rawClause
	more := h.moreSects
	for more {
		if err := r.Align(4); err != nil {
			return nil, err
		}
		start := r.Position()
		kind, size, err := readSectionHeader(r)
		if err != nil {
			return nil, err
		}
		more = kind&sectMoreSects != 0
		if kind&sectEHTable == 0 {
			Logger().Debug("skipping method data section", zap.Uint8("kind", kind), zap.Int("offset", start))
			if err := r.Skip(size - 4); err != nil {
				return nil, err
			}
			continue
		}
		fat := kind&sectFatFormat != 0
		clauseSize := smallClauseSize
		if fat {
			clauseSize = fatClauseSize
			b.FatSections = true
		}
		if (size-4)%clauseSize != 0 {
			return nil, errors.InvalidData(errors.PhaseDecode, start, fmt.Sprintf("exception section of %d bytes", size))
		}
		for i := 0; i < (size-4)/clauseSize; i++ {
			var c rawClause
			var flags, tryOff, tryLen, hOff, hLen uint32
			if fat {
				vals := [6]uint32{}
				for j := range vals {
					if vals[j], err = r.ReadU32(); err != nil {
						return nil, err
					}
				}
				flags, tryOff, tryLen, hOff, hLen, c.extra = vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
			} else {
				f, err := r.ReadU16()
				if err != nil {
					return nil, err
				}
				to, err := r.ReadU16()
				if err != nil {
					return nil, err
				}
				tl, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				ho, err := r.ReadU16()
				if err != nil {
					return nil, err
				}
				hl, err := r.ReadByte()
				if err != nil {
					return nil, err
				}
				if c.extra, err = r.ReadU32(); err != nil {
					return nil, err
				}
				flags, tryOff, tryLen, hOff, hLen = uint32(f), uint32(to), uint32(tl), uint32(ho), uint32(hl)
			}
			c.kind = HandlerKind(flags)
			c.tryOff, c.tryEnd = int(tryOff), int(tryOff)+int(tryLen)
			c.hOff, c.hEnd = int(hOff), int(hOff)+int(hLen)
			clauses = append(clauses, c)
		}
	}

	// Every branch target and clause boundary starts a sequence.
	starts := make(map[int]bool, len(raws)+1)
	for _, ri := range raws {
		starts[ri.ins.Offset] = true
	}
	starts[h.codeSize] = true
	labels := map[int]bool{0: true}
	mark := func(off int, what string) error {
		if !starts[off] {
			return errors.InvalidData(errors.PhaseDecode, codeBase+off, what+" is not an instruction boundary")
		}
		labels[off] = true
		return nil
	}
	for _, ri := range raws {
		for _, t := range ri.targets {
			if err := mark(t, fmt.Sprintf("branch target IL_%04x", t)); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range clauses {
		offs := []int{c.tryOff, c.tryEnd, c.hOff, c.hEnd}
		if c.kind == HandlerFilter {
			offs = append(offs, int(c.extra))
		}
		for _, off := range offs {
			if err := mark(off, fmt.Sprintf("exception clause offset IL_%04x", off)); err != nil {
				return nil, err
			}
		}
	}

	seqAt := make(map[int]*Sequence, len(labels))
	var cur *Sequence
	for _, ri := range raws {
		off := ri.ins.Offset
		if cur == nil || labels[off] {
			cur = &Sequence{offset: off}
			seqAt[off] = cur
			b.Sequences = append(b.Sequences, cur)
		}
		cur.Instructions = append(cur.Instructions, ri.ins)
	}
	if labels[h.codeSize] {
		end := &Sequence{offset: h.codeSize}
		seqAt[h.codeSize] = end
		b.Sequences = append(b.Sequences, end)
	}

	for _, ri := range raws {
		switch ri.ins.Op.Operand() {
		case ShortInlineBrTarget, InlineBrTarget:
			ri.ins.Operand = seqAt[ri.targets[0]]
		case InlineSwitch:
			seqs := make([]*Sequence, len(ri.targets))
			for i, t := range ri.targets {
				seqs[i] = seqAt[t]
			}
			ri.ins.Operand = seqs
		}
	}
	for _, c := range clauses {
		eh := &ExceptionHandler{
			Kind:         c.kind,
			TryStart:     seqAt[c.tryOff],
			TryEnd:       seqAt[c.tryEnd],
			HandlerStart: seqAt[c.hOff],
			HandlerEnd:   seqAt[c.hEnd],
		}
		switch c.kind {
		case HandlerCatch:
			eh.CatchType = metadata.Token(c.extra)
		case HandlerFilter:
			eh.Filter = seqAt[int(c.extra)]
		}
		b.Handlers = append(b.Handlers, eh)
	}
	return b, nil
}

func decodeCode(code []byte, base int) ([]rawInstruction, error) {
	r := binary.NewReaderAt(code, base)
	raws := make([]rawInstruction, 0, len(code)/2)
	for r.Remaining() > 0 {
		off := r.Offset()
		first, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		op := Opcode(first)
		if first == Prefix {
			second, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			op = Opcode(Prefix)<<8 | Opcode(second)
		}
		if !op.Valid() {
			return nil, errors.UnknownOpcode(base+off, uint16(op))
		}
		ins := &Instruction{Op: op, Offset: off}
		ri := rawInstruction{ins: ins}

		switch op.Operand() {
		case InlineNone:
		case ShortInlineI:
			v, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if op == LdcI4S {
				ins.Operand = int8(v)
			} else {
				ins.Operand = v
			}
		case ShortInlineVar:
			v, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			ins.Operand = v
		case InlineVar:
			v, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			ins.Operand = v
		case InlineI:
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			ins.Operand = int32(v)
		case InlineI8:
			v, err := r.ReadU64()
			if err != nil {
				return nil, err
			}
			ins.Operand = int64(v)
		case ShortInlineR:
			v, err := r.ReadF32()
			if err != nil {
				return nil, err
			}
			ins.Operand = v
		case InlineR:
			v, err := r.ReadF64()
			if err != nil {
				return nil, err
			}
			ins.Operand = v
		case InlineField, InlineMethod, InlineType, InlineTok, InlineSig, InlineString:
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			ins.Operand = metadata.Token(v)
		case ShortInlineBrTarget:
			v, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			ri.targets = []int{r.Offset() + int(int8(v))}
		case InlineBrTarget:
			v, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			ri.targets = []int{r.Offset() + int(int32(v))}
		case InlineSwitch:
			n, err := r.ReadU32()
			if err != nil {
				return nil, err
			}
			if int64(n)*4 > int64(r.Remaining()) {
				return nil, errors.Truncated(errors.PhaseDecode, r.Position(), int(min(int64(n)*4, math.MaxInt32)), r.Remaining())
			}
			deltas := make([]int32, n)
			for i := range deltas {
				v, err := r.ReadU32()
				if err != nil {
					return nil, err
				}
				deltas[i] = int32(v)
			}
			next := r.Offset()
			ri.targets = make([]int, n)
			for i, d := range deltas {
				ri.targets[i] = next + int(d)
			}
		}
		raws = append(raws, ri)
	}
	return raws, nil
}
