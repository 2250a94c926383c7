package utils

import (
	"encoding/binary"
)

// Read decodes a little- or big-endian fixed-layout struct T from the
// front of b. It mirrors the generic reader the ELF side of this family
// of linkers uses for Ehdr/Shdr/Sym: callers size b themselves and Read
// never allocates beyond the returned value.
func Read[T any](b []byte, order binary.ByteOrder) T {
	var v T
	buf := &sliceReader{b: b}
	MustNo(binary.Read(buf, order, &v))
	return v
}

// ReadSlice decodes b as a packed array of entrySize-byte records into a
// []T. len(b) need not be an exact multiple of entrySize; the remainder
// is ignored, matching how symbol/section tables are frequently
// over-allocated by their containing format.
func ReadSlice[T any](b []byte, order binary.ByteOrder, entrySize int) []T {
	n := len(b) / entrySize
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = Read[T](b[i*entrySize:(i+1)*entrySize], order)
	}
	return out
}

// sliceReader adapts a []byte to io.Reader without an extra copy through
// bytes.Reader's larger API surface.
type sliceReader struct {
	b []byte
}

func (r *sliceReader) Read(p []byte) (int, error) {
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
