package linker

import (
	"encoding/binary"
	"testing"
)

// buildMachHeader64 hand-encodes a little-endian 64-bit Mach-O header
// followed by sizeOfCmds bytes of (zeroed) load command space.
func buildMachHeader64(cpuType CPUType, filetype Filetype, sizeOfCmds uint32) []byte {
	b := make([]byte, MachHeader64Size+int(sizeOfCmds))
	binary.LittleEndian.PutUint32(b[0:4], Magic64)
	binary.LittleEndian.PutUint32(b[4:8], uint32(cpuType))
	binary.LittleEndian.PutUint32(b[8:12], 0)
	binary.LittleEndian.PutUint32(b[12:16], uint32(filetype))
	binary.LittleEndian.PutUint32(b[16:20], 0)
	binary.LittleEndian.PutUint32(b[20:24], sizeOfCmds)
	binary.LittleEndian.PutUint32(b[24:28], 0)
	binary.LittleEndian.PutUint32(b[28:32], 0)
	return b
}

func TestProbeObjectAccepts64Bit(t *testing.T) {
	data := buildMachHeader64(CPUTypeArm64, FiletypeObject, 16)
	f, ok, err := probeObject("a.o", data, Options{CPUType: CPUTypeArm64})
	if err != nil || !ok {
		t.Fatalf("probeObject = (%v, %v, %v), want a hit", f, ok, err)
	}
	if f.Header.NCmds != 0 || f.Layout.width != width64 {
		t.Errorf("unexpected header/layout: %+v", f)
	}
}

func TestProbeObjectRejectsWrongArch(t *testing.T) {
	data := buildMachHeader64(CPUTypeX8664, FiletypeObject, 0)
	_, ok, err := probeObject("a.o", data, Options{CPUType: CPUTypeArm64})
	if err == nil || !ok {
		t.Fatalf("probeObject(wrong arch) = (ok=%v, err=%v), want an arch-mismatch error with ok=true", ok, err)
	}
}

func TestProbeObjectNotAMachHeader(t *testing.T) {
	_, ok, err := probeObject("a.txt", []byte("hello world, not mach-o at all!"), Options{})
	if ok || err != nil {
		t.Errorf("probeObject(garbage) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestProbeObjectRejectsNonObjectFiletype(t *testing.T) {
	data := buildMachHeader64(CPUTypeArm64, FiletypeDylib, 0)
	_, ok, err := probeObject("libFoo.dylib", data, Options{CPUType: CPUTypeArm64})
	if ok || err != nil {
		t.Errorf("probeObject(dylib filetype) = (%v, %v), want (false, nil) so dispatch tries the next probe", ok, err)
	}
}

func TestProbeObjectRejectsTruncatedLoadCommands(t *testing.T) {
	data := buildMachHeader64(CPUTypeArm64, FiletypeObject, 100)
	data = data[:MachHeader64Size+4] // lie about SizeOfCmds vs actual length
	_, ok, err := probeObject("a.o", data, Options{CPUType: CPUTypeArm64})
	if err == nil || !ok {
		t.Fatalf("probeObject(truncated cmds) = (ok=%v, err=%v), want a malformed error", ok, err)
	}
}
