package metadata

import (
	"bytes"
	"io"

	"github.com/wippyai/ilweave/errors"
	"github.com/wippyai/ilweave/internal/binary"
)

// Compressed integer encoding utilities for signature and blob grammars

// ReadCompressedUint reads an unsigned compressed integer (1, 2 or 4 bytes
// selected by the leading bits). A 111xxxxx lead byte is rejected.
func ReadCompressedUint(r io.ByteReader) (uint32, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, truncated(err)
	}
	var n int
	switch {
	case b0&0x80 == 0:
		return uint32(b0), nil
	case b0&0xC0 == 0x80:
		n = 1
	case b0&0xE0 == 0xC0:
		n = 3
	default:
		return 0, errors.InvalidCompressed(errors.PhaseDecode, int(errors.NoOffset), b0)
	}
	buf := []byte{b0, 0, 0, 0}
	for i := 1; i <= n; i++ {
		if buf[i], err = r.ReadByte(); err != nil {
			return 0, truncated(err)
		}
	}
	return binary.NewReader(buf[:n+1]).ReadCompressedUint()
}

// ReadCompressedInt reads a signed compressed integer.
func ReadCompressedInt(r io.ByteReader) (int32, error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, truncated(err)
	}
	buf := []byte{b0, 0, 0, 0}
	n := 0
	switch {
	case b0&0x80 == 0:
	case b0&0xC0 == 0x80:
		n = 1
	case b0&0xE0 == 0xC0:
		n = 3
	default:
		return 0, errors.InvalidCompressed(errors.PhaseDecode, int(errors.NoOffset), b0)
	}
	for i := 1; i <= n; i++ {
		if buf[i], err = r.ReadByte(); err != nil {
			return 0, truncated(err)
		}
	}
	return binary.NewReader(buf[:n+1]).ReadCompressedInt()
}

// WriteCompressedUint writes the minimal encoding of v.
func WriteCompressedUint(w *bytes.Buffer, v uint32) error {
	b, err := binary.AppendCompressedUint(nil, v)
	if err != nil {
		return err
	}
	w.Write(b)
	return nil
}

// WriteCompressedInt writes the minimal signed encoding of v.
func WriteCompressedInt(w *bytes.Buffer, v int32) error {
	b, err := binary.AppendCompressedInt(nil, v)
	if err != nil {
		return err
	}
	w.Write(b)
	return nil
}

// EncodeCompressedUint encodes v to bytes.
func EncodeCompressedUint(v uint32) ([]byte, error) {
	return binary.AppendCompressedUint(nil, v)
}

// EncodeCompressedInt encodes v to bytes.
func EncodeCompressedInt(v int32) ([]byte, error) {
	return binary.AppendCompressedInt(nil, v)
}

// CompressedUintSize returns the encoded width of v (0 if out of range).
func CompressedUintSize(v uint32) int {
	return binary.CompressedUintSize(v)
}

func truncated(err error) error {
	if err == io.EOF {
		return errors.Wrap(errors.PhaseDecode, errors.KindTruncated, err, "compressed integer")
	}
	return err
}
