package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseDecode,
				Kind:   KindMalformedMetadata,
				Table:  "TypeDef",
				Column: "Extends",
				Token:  0x02000001,
				Offset: 0x40,
				Detail: "row data exceeds stream",
			},
			contains: []string{"[decode]", "malformed_metadata", "TypeDef.Extends", "0x02000001", "offset 0x40", "row data exceeds stream"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase:  PhaseEncode,
				Kind:   KindEncodingOverflow,
				Offset: NoOffset,
			},
			contains: []string{"[encode]", "encoding_overflow"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseResolve,
				Kind:   KindUnresolvedReference,
				Offset: NoOffset,
				Detail: "assembly mscorlib",
				Cause:  errors.New("file not found"),
			},
			contains: []string{"[resolve]", "unresolved_reference", "assembly mscorlib", "caused by", "file not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_NoOffsetOmitted(t *testing.T) {
	err := InvalidInput(PhaseWrite, "nil module")
	if strings.Contains(err.Error(), "offset") {
		t.Errorf("message %q should not mention an offset", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseDecode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not see through to cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseWrite,
		Kind:  KindUnresolvedReference,
		Token: 0x0a000003,
	}

	if !err.Is(&Error{Phase: PhaseWrite, Kind: KindUnresolvedReference}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseResolve, Kind: KindUnresolvedReference}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseWrite, Kind: KindSchemaViolation}) {
		t.Error("Is should not match different kind")
	}
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Error("phase-less target should match on kind")
	}
	if errors.Is(err, ErrSchemaViolation) {
		t.Error("phase-less target with other kind should not match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseDecode, KindSchemaViolation).
		Table("CustomAttribute").
		Column("Parent").
		Token(0x0c000002).
		At(12).
		Value(31).
		Cause(cause).
		Detail("tag %d outside %s", 31, "HasCustomAttribute").
		Build()

	if err.Phase != PhaseDecode {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseDecode)
	}
	if err.Kind != KindSchemaViolation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindSchemaViolation)
	}
	if err.Table != "CustomAttribute" || err.Column != "Parent" {
		t.Errorf("Table/Column = %v/%v", err.Table, err.Column)
	}
	if err.Token != 0x0c000002 {
		t.Errorf("Token = 0x%x", err.Token)
	}
	if err.Offset != 12 {
		t.Errorf("Offset = %d, want 12", err.Offset)
	}
	if err.Value != 31 {
		t.Errorf("Value = %v, want 31", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "tag 31 outside HasCustomAttribute" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestBuilderDefaultsToNoOffset(t *testing.T) {
	err := New(PhaseText, KindUnsupported).Build()
	if err.Offset != NoOffset {
		t.Errorf("Offset = %d, want NoOffset", err.Offset)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Truncated", func(t *testing.T) {
		err := Truncated(PhaseDecode, 7, 4, 1)
		if err.Kind != KindTruncated || err.Offset != 7 {
			t.Errorf("got %v", err)
		}
		if !IsDecode(err) {
			t.Error("truncated should be a decode error")
		}
	})

	t.Run("InvalidCompressed", func(t *testing.T) {
		err := InvalidCompressed(PhaseDecode, 3, 0xe0)
		if err.Kind != KindInvalidCompressed {
			t.Errorf("Kind = %v", err.Kind)
		}
		if !strings.Contains(err.Detail, "0xe0") {
			t.Errorf("Detail = %q", err.Detail)
		}
	})

	t.Run("MalformedTable", func(t *testing.T) {
		err := MalformedTable("TypeDef", 100, "overrun")
		if err.Table != "TypeDef" || err.Offset != 100 {
			t.Errorf("got %v", err)
		}
		if !IsDecode(err) {
			t.Error("malformed metadata should be a decode error")
		}
	})

	t.Run("SchemaViolation", func(t *testing.T) {
		err := SchemaViolation(PhaseResolve, "Field", "", "rid 9 out of range")
		if !IsSchemaViolation(err) {
			t.Error("IsSchemaViolation = false")
		}
		if IsDecode(err) {
			t.Error("schema violation is not a decode error")
		}
	})

	t.Run("Unresolved", func(t *testing.T) {
		err := Unresolved(PhaseWrite, 0x01000005, "dangling", nil)
		if !IsUnresolved(err) || err.Token != 0x01000005 {
			t.Errorf("got %v", err)
		}
	})

	t.Run("SignatureGrammar", func(t *testing.T) {
		err := SignatureGrammar(2, "unexpected element type 0x99")
		if !IsSignatureGrammar(err) {
			t.Error("IsSignatureGrammar = false")
		}
	})

	t.Run("EncodingOverflow", func(t *testing.T) {
		err := EncodingOverflow("MethodDef", "ParamList", 0x1_0000, 2)
		if !IsEncodingOverflow(err) {
			t.Error("IsEncodingOverflow = false")
		}
		if err.Value != uint64(0x1_0000) {
			t.Errorf("Value = %v", err.Value)
		}
	})

	t.Run("UnknownOpcode", func(t *testing.T) {
		err := UnknownOpcode(5, 0xfe30)
		if err.Kind != KindUnknownOpcode || err.Offset != 5 {
			t.Errorf("got %v", err)
		}
	})

	t.Run("Frozen", func(t *testing.T) {
		err := Frozen("type Foo")
		if !errors.Is(err, ErrFrozen) {
			t.Error("frozen error should match ErrFrozen")
		}
	})
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	inner := EncodingOverflow("Param", "Name", 1<<20, 2)
	wrapped := fmt.Errorf("write module: %w", inner)
	if !IsEncodingOverflow(wrapped) {
		t.Error("predicate should unwrap fmt.Errorf chains")
	}
	if IsDecode(wrapped) {
		t.Error("overflow is not a decode error")
	}
	if IsDecode(errors.New("plain")) {
		t.Error("plain errors match no taxonomy class")
	}
}
