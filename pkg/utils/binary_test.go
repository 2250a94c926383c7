package utils

import (
	"encoding/binary"
	"testing"
)

type point32 struct {
	X uint32
	Y uint32
}

func TestReadLittleEndian(t *testing.T) {
	b := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	p := Read[point32](b, binary.LittleEndian)
	if p.X != 1 || p.Y != 2 {
		t.Errorf("Read = %+v, want {1 2}", p)
	}
}

func TestReadBigEndian(t *testing.T) {
	b := []byte{0, 0, 0, 1, 0, 0, 0, 2}
	p := Read[point32](b, binary.BigEndian)
	if p.X != 1 || p.Y != 2 {
		t.Errorf("Read = %+v, want {1 2}", p)
	}
}

func TestReadSlice(t *testing.T) {
	b := []byte{
		1, 0, 0, 0, 2, 0, 0, 0,
		3, 0, 0, 0, 4, 0, 0, 0,
		9, 9, 9, // trailing partial record, ignored
	}
	got := ReadSlice[point32](b, binary.LittleEndian, 8)
	want := []point32{{1, 2}, {3, 4}}
	if len(got) != len(want) {
		t.Fatalf("ReadSlice returned %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
