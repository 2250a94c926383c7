package linker

import "testing"

func TestIsFatMagic(t *testing.T) {
	be := []byte{0xca, 0xfe, 0xba, 0xbe, 0, 0, 0, 0}
	if !isFatMagic(be) {
		t.Error("isFatMagic(FatMagic bytes) = false, want true")
	}
	le := []byte{0xbe, 0xba, 0xfe, 0xca}
	if !isFatMagic(le) {
		t.Error("isFatMagic(FatCigam bytes) = false, want true")
	}
	if isFatMagic([]byte{0, 1, 2, 3}) {
		t.Error("isFatMagic(garbage) = true, want false")
	}
	if isFatMagic([]byte{0, 1}) {
		t.Error("isFatMagic(too short) = true, want false")
	}
}

func TestDispatchFallsThroughToArchive(t *testing.T) {
	data := buildArchive([]arMember{{"a.o", []byte("body")}})
	mf := &mappedFile{slice: data}
	info := &FileInfo{Path: "lib.a"}

	f, err := dispatch(info, mf, Options{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	a, ok := f.(*Archive)
	if !ok {
		t.Fatalf("dispatch returned %T, want *Archive", f)
	}
	if len(a.Members) != 1 {
		t.Errorf("got %d members, want 1", len(a.Members))
	}
}

func TestDispatchFallsThroughToTextStub(t *testing.T) {
	mf := &mappedFile{slice: []byte(sampleTBD)}
	info := &FileInfo{Path: "libFoo.tbd"}

	f, err := dispatch(info, mf, Options{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d, ok := f.(*Dylib)
	if !ok {
		t.Fatalf("dispatch returned %T, want *Dylib", f)
	}
	if d.InstallPath != "/usr/lib/libFoo.dylib" {
		t.Errorf("InstallPath = %q", d.InstallPath)
	}
}

func TestDispatchUnrecognized(t *testing.T) {
	mf := &mappedFile{slice: []byte("not a recognizable format at all")}
	info := &FileInfo{Path: "mystery"}

	f, err := dispatch(info, mf, Options{})
	if f != nil {
		t.Errorf("dispatch returned %v, want nil", f)
	}
	if err != nil {
		t.Errorf("dispatch returned an error, want (nil, nil) so FormatProbe can diagnose it: %v", err)
	}
}

func TestDiagnoseUnrecognizedReturnsMalformed(t *testing.T) {
	err := diagnoseUnrecognized("mystery", []byte{1, 2, 3})
	ie, ok := err.(*IngestError)
	if !ok || ie.Kind != ErrMalformed {
		t.Errorf("diagnoseUnrecognized returned %v, want an ErrMalformed IngestError", err)
	}
}
