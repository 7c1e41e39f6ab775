// Package wire implements the canonical binary encoding that block-header
// hashes, transaction hashes and deterministic registry ids are computed
// over. Every
// multi-byte integer is little-endian; every variable-length field is
// length-prefixed with an 8-byte LE count so encoding is unambiguous and
// preserves field order, which is what makes hashes over it stable and
// reproducible across peers.
package wire

import (
	"bytes"
	"encoding/binary"
)

// Writer accumulates a canonical encoding.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// WriteUint64 appends v as 8 little-endian bytes.
func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteInt64 appends v as 8 little-endian bytes.
func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteByte appends a single byte.
func (w *Writer) WriteByte(b byte) {
	w.buf.WriteByte(b)
}

// WriteBytes appends a length-prefixed byte string.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint64(uint64(len(b)))
	w.buf.Write(b)
}

// WriteString appends a length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// WriteBytesSlice appends a count-prefixed sequence of length-prefixed byte
// strings, used for fields like extra_witnesses.
func (w *Writer) WriteBytesSlice(items [][]byte) {
	w.WriteUint64(uint64(len(items)))
	for _, it := range items {
		w.WriteBytes(it)
	}
}

// LE64 returns v encoded as 8 little-endian bytes, the building block the
// spec's tx-id and vrf-seed formulas (H(... || LE64(x) || ...)) use
// directly without going through a full Writer.
func LE64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
