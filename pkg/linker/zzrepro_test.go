package linker

import (
	"context"
	"testing"
)

func TestReproMini(t *testing.T) {
	dir := t.TempDir()
	objPath := writeTempFile(t, dir, "a.o", buildMachHeader64(CPUTypeArm64, FiletypeObject, 0))
	opts := Options{CPUType: CPUTypeArm64, Inputs: []InputDescriptor{{Path: objPath}}}
	o, err := New(context.Background(), opts)
	if err != nil { t.Fatal(err) }
	err = o.ForEachInitialAtom(context.Background(), AtomHandlerFuncs{})
	if err != nil { t.Fatal(err) }
}
