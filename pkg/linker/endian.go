package linker

import "encoding/binary"

func byteOrderLE() binary.ByteOrder { return binary.LittleEndian }

// pointerWidth is 4 or 8, matching the Mach-O magic's word size.
type pointerWidth int

const (
	width32 pointerWidth = 4
	width64 pointerWidth = 8
)

// machoLayout bundles the two axes the dylib/object parsers are generic
// over (§4.5: "generic over pointer width (32/64) and endianness"), so a
// single code path handles all four supported architectures.
type machoLayout struct {
	order binary.ByteOrder
	width pointerWidth
}

// detectLayout classifies the first four bytes of a Mach-O-family slice.
// Returns ok=false if the magic matches none of the four thin-Mach-O
// possibilities.
func detectLayout(b []byte) (layout machoLayout, ok bool) {
	if len(b) < 4 {
		return machoLayout{}, false
	}
	// The magic constants are defined as the byte sequence a file
	// written in ITS OWN byte order produces. Reading those same four
	// bytes with a fixed reference order (big-endian, arbitrarily) lets
	// a single comparison recover both facts at once: a direct hit means
	// the file matches that reference order; a hit on the "cigam" (magic
	// spelled backwards) constant means the file is byte-swapped
	// relative to it.
	raw := binary.BigEndian.Uint32(b[:4])
	switch raw {
	case Magic32:
		return machoLayout{order: binary.BigEndian, width: width32}, true
	case Magic64:
		return machoLayout{order: binary.BigEndian, width: width64}, true
	case CigamMagic32:
		return machoLayout{order: binary.LittleEndian, width: width32}, true
	case CigamMagic64:
		return machoLayout{order: binary.LittleEndian, width: width64}, true
	}
	return machoLayout{}, false
}
