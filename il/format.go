package il

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wippyai/ilweave/metadata"
)

// TokenFormatter renders token operands, e.g. a quoted literal for ldstr or a
// qualified member reference for call.
type TokenFormatter interface {
	FormatToken(kind OperandKind, tok metadata.Token) string
}

// RawTokens prints tokens as hex.
type RawTokens struct{}

// FormatToken renders tok in hex, or as a user string reference.
func (RawTokens) FormatToken(_ OperandKind, tok metadata.Token) string {
	return "/* " + tok.String() + " */"
}

// Label is the ilasm label of a code offset.
func Label(off int) string {
	return fmt.Sprintf("IL_%04x", off)
}

// Format lays out b and renders its instructions and exception clauses in
// ilasm syntax, one per line, each line prefixed with indent.
func (b *Body) Format(f TokenFormatter, indent string) (string, error) {
	p, err := layout(b)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, ins := range p.insts {
		op := p.op(i)
		sb.WriteString(indent)
		sb.WriteString(Label(ins.Offset))
		sb.WriteString(": ")
		sb.WriteString(op.Name())
		if operand := formatOperand(op, ins, f); operand != "" {
			sb.WriteByte(' ')
			sb.WriteString(operand)
		}
		sb.WriteByte('\n')
	}
	for _, h := range b.Handlers {
		sb.WriteString(indent)
		fmt.Fprintf(&sb, ".try %s to %s ", Label(h.TryStart.offset), Label(h.TryEnd.offset))
		switch h.Kind {
		case HandlerCatch:
			fmt.Fprintf(&sb, "catch %s ", f.FormatToken(InlineType, h.CatchType))
		case HandlerFilter:
			fmt.Fprintf(&sb, "filter %s ", Label(h.Filter.offset))
		default:
			sb.WriteString(h.Kind.String())
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "handler %s to %s\n", Label(h.HandlerStart.offset), Label(h.HandlerEnd.offset))
	}
	return sb.String(), nil
}

func formatOperand(op Opcode, ins *Instruction, f TokenFormatter) string {
	switch v := ins.Operand.(type) {
	case nil:
		return ""
	case int8:
		return strconv.Itoa(int(v))
	case uint8:
		return strconv.Itoa(int(v))
	case uint16:
		return strconv.Itoa(int(v))
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return formatFloat(float64(v), 32, isSpecial(float64(v)), func() []byte {
			bits := math.Float32bits(v)
			return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
		})
	case float64:
		return formatFloat(v, 64, isSpecial(v), func() []byte {
			bits := math.Float64bits(v)
			out := make([]byte, 8)
			for i := range out {
				out[i] = byte(bits >> (8 * i))
			}
			return out
		})
	case metadata.Token:
		return f.FormatToken(op.Operand(), v)
	case *Sequence:
		return Label(v.offset)
	case []*Sequence:
		labels := make([]string, len(v))
		for i, s := range v {
			labels[i] = Label(s.offset)
		}
		return "(" + strings.Join(labels, ", ") + ")"
	}
	return fmt.Sprintf("/* %v */", ins.Operand)
}

func isSpecial(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || (v == 0 && math.Signbit(v))
}

// formatFloat prints finite values as decimal literals and everything else as
// the little-endian byte form ilasm accepts.
func formatFloat(v float64, bitSize int, special bool, raw func() []byte) string {
	if special {
		b := raw()
		parts := make([]string, len(b))
		for i, x := range b {
			parts[i] = fmt.Sprintf("%02X", x)
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
	s := strconv.FormatFloat(v, 'g', -1, bitSize)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
