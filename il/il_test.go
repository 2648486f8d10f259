package il

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/metadata"
)

func fatHeader(codeSize int, maxStack uint16, more bool) []byte {
	flags := uint16(0x3003)
	if more {
		flags |= flagMoreSects
	}
	return []byte{
		byte(flags), byte(flags >> 8),
		byte(maxStack), byte(maxStack >> 8),
		byte(codeSize), byte(codeSize >> 8), byte(codeSize >> 16), byte(codeSize >> 24),
		0, 0, 0, 0,
	}
}

func TestOpcodeTable(t *testing.T) {
	tests := []struct {
		op      Opcode
		name    string
		operand OperandKind
		size    int
	}{
		{Nop, "nop", InlineNone, 1},
		{LdcI4S, "ldc.i4.s", ShortInlineI, 1},
		{BrS, "br.s", ShortInlineBrTarget, 1},
		{Br, "br", InlineBrTarget, 1},
		{LeaveS, "leave.s", ShortInlineBrTarget, 1},
		{Switch, "switch", InlineSwitch, 1},
		{Call, "call", InlineMethod, 1},
		{Ldstr, "ldstr", InlineString, 1},
		{Ldtoken, "ldtoken", InlineTok, 1},
		{Ceq, "ceq", InlineNone, 2},
		{Ldloc, "ldloc", InlineVar, 2},
		{Constrained, "constrained.", InlineType, 2},
		{Unaligned, "unaligned.", ShortInlineI, 2},
	}
	for _, tt := range tests {
		if tt.op.Name() != tt.name || tt.op.Operand() != tt.operand || tt.op.Size() != tt.size {
			t.Errorf("%04x: got %s/%d/%d, want %s/%d/%d", uint16(tt.op),
				tt.op.Name(), tt.op.Operand(), tt.op.Size(), tt.name, tt.operand, tt.size)
		}
	}
	if BrtrueS.Long() != Brtrue || Brtrue.Short() != BrtrueS || Leave.Short() != LeaveS {
		t.Error("branch pairs are not linked")
	}
	if Nop.Long() != Nop || Opcode(0x24).Valid() || Opcode(0xFE08).Valid() {
		t.Error("unexpected opcode table entries")
	}
}

func TestDecodeTinyRoundTrip(t *testing.T) {
	// ldarg.0; ldc.i4.s -3; add; ldstr 0x70000001; pop; ret
	code := []byte{0x02, 0x1F, 0xFD, 0x58, 0x72, 0x01, 0x00, 0x00, 0x70, 0x26, 0x2A}
	body := append([]byte{byte(len(code)<<2 | formatTiny)}, code...)

	b, err := Decode(body, 0x100)
	if err != nil {
		t.Fatal(err)
	}
	if b.Fat || b.MaxStack != 8 || len(b.Sequences) != 1 {
		t.Fatalf("header fat=%v maxstack=%d sequences=%d", b.Fat, b.MaxStack, len(b.Sequences))
	}
	ins := b.Instructions()
	if len(ins) != 6 {
		t.Fatalf("got %d instructions", len(ins))
	}
	if ins[1].Operand != int8(-3) {
		t.Errorf("ldc.i4.s operand %v", ins[1].Operand)
	}
	if tok, ok := ins[3].Token(); !ok || tok != metadata.Token(0x70000001) {
		t.Errorf("ldstr operand %v", ins[3].Operand)
	}
	if ins[5].Offset != 10 {
		t.Errorf("ret at %d", ins[5].Offset)
	}

	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, body) {
		t.Errorf("encode %x\nwant   %x", out, body)
	}
}

func TestBranchFixpoint(t *testing.T) {
	code := bytes.Repeat([]byte{byte(Nop)}, 200)
	code = append(code, byte(BrS), 0x00, byte(Ret))
	body := append(fatHeader(len(code), 8, false), code...)

	b, err := Decode(body, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Sequences) != 2 {
		t.Fatalf("want 2 sequences, got %d", len(b.Sequences))
	}
	br := b.Sequences[0].Instructions[200]
	if br.Target() != b.Sequences[1] {
		t.Fatal("branch does not target the ret sequence")
	}

	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, body) {
		t.Fatal("unmodified body did not round trip")
	}
	if out[12+200] != byte(BrS) {
		t.Errorf("branch encoded as %02x, want short form", out[12+200])
	}

	padding := &Sequence{}
	for i := 0; i < 40000; i++ {
		padding.Append(&Instruction{Op: Nop})
	}
	b.Sequences = []*Sequence{b.Sequences[0], padding, b.Sequences[1]}

	out, err = Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if out[12+200] != byte(Br) {
		t.Fatalf("branch encoded as %02x, want long form", out[12+200])
	}
	disp := int32(uint32(out[213]) | uint32(out[214])<<8 | uint32(out[215])<<16 | uint32(out[216])<<24)
	if disp != 40000 {
		t.Errorf("displacement %d, want 40000", disp)
	}
	if want := 12 + 200 + 5 + 40000 + 1; len(out) != want {
		t.Errorf("body size %d, want %d", len(out), want)
	}
	if b.Sequences[2].Offset() != 200+5+40000 {
		t.Errorf("target offset %d", b.Sequences[2].Offset())
	}
}

func TestBranchWideningMultiple(t *testing.T) {
	// Both branches jump over more than 127 bytes.
	target := &Sequence{}
	target.Append(&Instruction{Op: Ret})

	first := &Sequence{}
	first.Append(&Instruction{Op: Br, Operand: target})
	mid := &Sequence{}
	for i := 0; i < 125; i++ {
		mid.Append(&Instruction{Op: Nop})
	}
	second := &Sequence{}
	second.Append(&Instruction{Op: BrS, Operand: target})
	far := &Sequence{}
	for i := 0; i < 200; i++ {
		far.Append(&Instruction{Op: Nop})
	}

	b := NewBody()
	b.Sequences = []*Sequence{first, mid, second, far, target}
	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	hdr := 12
	if out[hdr] != byte(Br) {
		t.Errorf("first branch %02x, want long form", out[hdr])
	}
	if second.Instructions[0].Offset != 5+125 || out[hdr+130] != byte(Br) {
		t.Errorf("second branch at %d encoded %02x", second.Instructions[0].Offset, out[hdr+130])
	}
}

func TestBackwardShortBranch(t *testing.T) {
	loop := &Sequence{}
	loop.Append(&Instruction{Op: Nop}, &Instruction{Op: Br, Operand: loop})
	b := NewBody()
	b.Sequences = []*Sequence{loop}
	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{3<<2 | formatTiny, byte(Nop), byte(BrS), 0xFD}
	if !bytes.Equal(out, want) {
		t.Errorf("got %x, want %x", out, want)
	}
}

func TestSwitchTargets(t *testing.T) {
	// switch (IL_000d, IL_000e); ret; ret
	code := []byte{
		0x45, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00,
		0x2A, 0x2A,
	}
	body := append([]byte{byte(len(code)<<2 | formatTiny)}, code...)
	b, err := Decode(body, 0)
	if err != nil {
		t.Fatal(err)
	}
	sw := b.Instructions()[0]
	targets := sw.Targets()
	if len(targets) != 2 || targets[0].Offset() != 13 || targets[1].Offset() != 14 {
		t.Fatalf("switch targets %+v", targets)
	}
	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, body) {
		t.Errorf("encode %x, want %x", out, body)
	}
}

func TestExceptionClauses(t *testing.T) {
	// try { nop; leave.s end } catch (TypeRef 1) { pop; leave.s end } end: ret
	code := []byte{0x00, 0xDE, 0x03, 0x26, 0xDE, 0x00, 0x2A}
	body := fatHeader(len(code), 1, true)
	body = append(body, code...)
	body = append(body, 0) // align to 4
	body = append(body,
		sectEHTable, 4+12, 0, 0,
		0x00, 0x00, 0x00, 0x00, 0x03, 0x03, 0x00, 0x03, 0x01, 0x00, 0x00, 0x01,
	)

	n, err := BodySize(append(append([]byte{}, body...), 0xAA, 0xBB))
	if err != nil || n != len(body) {
		t.Fatalf("BodySize = %d, %v; want %d", n, err, len(body))
	}

	b, err := Decode(body, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Handlers) != 1 {
		t.Fatalf("handlers %d", len(b.Handlers))
	}
	h := b.Handlers[0]
	if h.Kind != HandlerCatch || h.CatchType != metadata.NewToken(metadata.TableTypeRef, 1) {
		t.Errorf("handler %+v", h)
	}
	if h.TryStart.Offset() != 0 || h.TryEnd.Offset() != 3 || h.HandlerEnd.Offset() != 6 {
		t.Errorf("clause bounds %d %d %d", h.TryStart.Offset(), h.TryEnd.Offset(), h.HandlerEnd.Offset())
	}
	toks := b.Tokens()
	if len(toks) != 1 || toks[0] != h.CatchType {
		t.Errorf("tokens %v", toks)
	}

	out, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, body) {
		t.Errorf("encode %x\nwant   %x", out, body)
	}

	text, err := b.Format(RawTokens{}, "  ")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "  IL_0001: leave.s IL_0006\n") {
		t.Errorf("missing leave line:\n%s", text)
	}
	if !strings.Contains(text, ".try IL_0000 to IL_0003 catch /* 0x01000001 */ handler IL_0003 to IL_0006") {
		t.Errorf("missing try clause:\n%s", text)
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{3<<2 | formatTiny, 0x00, 0x24, 0x2A}, 0x40)
	if !errors.IsDecode(err) {
		t.Fatalf("want decode error, got %v", err)
	}
	e := err.(*errors.Error)
	if e.Kind != errors.KindUnknownOpcode || e.Offset != 0x42 {
		t.Errorf("kind %s offset %#x", e.Kind, e.Offset)
	}

	// br.s into the middle of ldc.i4
	code := []byte{0x2B, 0x01, 0x20, 0x00, 0x00, 0x00, 0x00, 0x2A}
	if _, err := Decode(append([]byte{byte(len(code)<<2 | formatTiny)}, code...), 0); !errors.IsDecode(err) {
		t.Errorf("misaligned branch: %v", err)
	}

	if _, err := Decode([]byte{5<<2 | formatTiny, 0x00}, 0); !errors.IsDecode(err) {
		t.Errorf("truncated code: %v", err)
	}
	if _, err := Decode([]byte{0x01}, 0); !errors.IsDecode(err) {
		t.Errorf("bad header: %v", err)
	}
}

func TestRemapTokens(t *testing.T) {
	b := NewBody()
	b.LocalVarSig = metadata.NewToken(metadata.TableStandAloneSig, 1)
	b.Sequences[0].Append(
		&Instruction{Op: Call, Operand: metadata.NewToken(metadata.TableMethodDef, 4)},
		&Instruction{Op: Ret},
	)
	err := b.RemapTokens(func(tok metadata.Token) (metadata.Token, error) {
		return metadata.NewToken(tok.Table(), tok.RID()+10), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	toks := b.Tokens()
	if len(toks) != 2 || toks[0].RID() != 11 || toks[1].RID() != 14 {
		t.Errorf("tokens %v", toks)
	}
}

func TestEncodeRejectsBadOperands(t *testing.T) {
	orphan := &Sequence{}
	b := NewBody()
	b.Sequences[0].Append(&Instruction{Op: BrS, Operand: orphan})
	if _, err := Encode(b); err == nil {
		t.Error("expected dangling target error")
	}

	b = NewBody()
	b.Sequences[0].Append(&Instruction{Op: LdcI4, Operand: 7})
	if _, err := Encode(b); err == nil {
		t.Error("expected operand type error")
	}
}

func TestFormatOperands(t *testing.T) {
	b := NewBody()
	b.Sequences[0].Append(
		&Instruction{Op: LdcR8, Operand: 2.0},
		&Instruction{Op: LdcR4, Operand: float32(math.NaN())},
		&Instruction{Op: LdcI8, Operand: int64(-5)},
		&Instruction{Op: Ldloc, Operand: uint16(300)},
	)
	text, err := b.Format(RawTokens{}, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ldc.r8 2.0", "ldc.r4 (00 00 C0 7F)", "ldc.i8 -5", "ldloc 300"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in\n%s", want, text)
		}
	}
}
