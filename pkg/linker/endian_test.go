package linker

import (
	"encoding/binary"
	"testing"
)

func TestDetectLayoutAllFourVariants(t *testing.T) {
	cases := []struct {
		name       string
		magic      uint32
		wantOrder  binary.ByteOrder
		wantWidth  pointerWidth
	}{
		{"Magic32", Magic32, binary.BigEndian, width32},
		{"Magic64", Magic64, binary.BigEndian, width64},
		{"CigamMagic32", CigamMagic32, binary.LittleEndian, width32},
		{"CigamMagic64", CigamMagic64, binary.LittleEndian, width64},
	}
	for _, c := range cases {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, c.magic)
		layout, ok := detectLayout(b)
		if !ok {
			t.Errorf("%s: detectLayout = ok=false, want true", c.name)
			continue
		}
		if layout.order != c.wantOrder || layout.width != c.wantWidth {
			t.Errorf("%s: got %+v, want order=%v width=%v", c.name, layout, c.wantOrder, c.wantWidth)
		}
	}
}

func TestDetectLayoutRejectsUnrelatedMagic(t *testing.T) {
	if _, ok := detectLayout([]byte{0x00, 0x00, 0x00, 0x00}); ok {
		t.Error("detectLayout(zeros) = true, want false")
	}
}

func TestDetectLayoutTooShort(t *testing.T) {
	if _, ok := detectLayout([]byte{0x01, 0x02}); ok {
		t.Error("detectLayout(short buffer) = true, want false")
	}
}
