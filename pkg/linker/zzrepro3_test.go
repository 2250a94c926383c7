package linker

import (
	"fmt"
	"testing"
)

func TestReproFormatProbe(t *testing.T) {
	dir := t.TempDir()
	objPath := writeTempFile(t, dir, "a.o", buildMachHeader64(CPUTypeArm64, FiletypeObject, 0))
	info := &FileInfo{Path: objPath, Ordinal: 0}
	opts := Options{CPUType: CPUTypeArm64}
	f, err := FormatProbe(info, opts, &probeStats{})
	fmt.Println("f", f, "err", err)
}
