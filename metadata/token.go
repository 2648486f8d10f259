package metadata

import "fmt"

// Token identifies a metadata entity: table ordinal in the high byte, 1-based
// row index in the low 24 bits. A zero row is the nil reference.
type Token uint32

// MaxRID is the largest row index a token can carry.
const MaxRID = 0x00FFFFFF

// NewToken builds a token from a table and row index.
func NewToken(t TableID, rid uint32) Token {
	return Token(uint32(t)<<24 | rid&MaxRID)
}

// Table returns the table ordinal.
func (t Token) Table() TableID {
	return TableID(t >> 24)
}

// RID returns the 1-based row index.
func (t Token) RID() uint32 {
	return uint32(t) & MaxRID
}

// IsNil reports whether the token references no row.
func (t Token) IsNil() bool {
	return t.RID() == 0
}

// Compare orders tokens by table, then row.
func (t Token) Compare(o Token) int {
	switch {
	case t < o:
		return -1
	case t > o:
		return 1
	}
	return 0
}

func (t Token) String() string {
	return fmt.Sprintf("0x%08x", uint32(t))
}

// ParseToken parses "0x06000001" or "06000001".
func ParseToken(s string) (Token, error) {
	var v uint32
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
		return 0, fmt.Errorf("parse token %q: %w", s, err)
	}
	return Token(v), nil
}
