package linker

import (
	"encoding/binary"
	"testing"
)

func newNlist64(strx uint32, weakDef bool, value uint64) []byte {
	b := make([]byte, Nlist64Size)
	binary.LittleEndian.PutUint32(b[0:4], strx)
	desc := uint16(0)
	if weakDef {
		desc |= NWeakDef
	}
	binary.LittleEndian.PutUint16(b[6:8], desc)
	binary.LittleEndian.PutUint64(b[8:16], value)
	return b
}

// buildClassicalFixture lays out a string pool followed by nsyms nlist_64
// entries, with symtab/dysymtab pointing at them.
func buildClassicalFixture(names []string, weak []bool) (data []byte, symtab *SymtabCommand, dysymtab *DysymtabCommand) {
	strPool := []byte{0}
	offsets := make([]uint32, len(names))
	for i, n := range names {
		offsets[i] = uint32(len(strPool))
		strPool = append(strPool, []byte(n)...)
		strPool = append(strPool, 0)
	}
	symOff := uint32(len(strPool))
	var symBytes []byte
	for i := range names {
		symBytes = append(symBytes, newNlist64(offsets[i], weak[i], uint64(0x1000+i))...)
	}
	data = append(append([]byte{}, strPool...), symBytes...)

	symtab = &SymtabCommand{SymOff: symOff, NSyms: uint32(len(names)), StrOff: 0, StrSize: uint32(len(strPool))}
	dysymtab = &DysymtabCommand{IExtDefSym: 0, NExtDefSym: uint32(len(names))}
	return data, symtab, dysymtab
}

func TestBuildClassicalExportsNoTOC(t *testing.T) {
	data, symtab, dysymtab := buildClassicalFixture([]string{"_foo", "_bar"}, []bool{false, true})
	st := &dylibParseState{
		path:     "libFoo.dylib",
		data:     data,
		layout:   machoLayout{order: binary.LittleEndian, width: width64},
		symtab:   symtab,
		dysymtab: dysymtab,
	}
	out, err := st.buildClassicalExports()
	if err != nil {
		t.Fatalf("buildClassicalExports: %v", err)
	}
	if len(out) != 2 || out[0].Name != "_foo" || out[1].Name != "_bar" {
		t.Fatalf("got %+v", out)
	}
	if out[1].Flags&exportFlagWeakDef == 0 {
		t.Error("_bar should carry the weak-def flag")
	}
	if out[0].Flags&exportFlagWeakDef != 0 {
		t.Error("_foo should not be weak")
	}
}

func TestBuildClassicalExportsMissingTables(t *testing.T) {
	st := &dylibParseState{path: "libFoo.dylib"}
	if _, err := st.buildClassicalExports(); err == nil {
		t.Fatal("expected an error with no symtab/dysymtab and no export trie")
	}
}

func TestDependentLeafMatches(t *testing.T) {
	cases := []struct {
		dep, sub string
		want     bool
	}{
		{"/usr/lib/libFoo.dylib", "Foo", true},
		{"/System/Library/Frameworks/Foo.framework/Foo", "Foo", true},
		{"/usr/lib/libFoo_debug.dylib", "Foo", true},
		{"/usr/lib/libBar.dylib", "Foo", false},
	}
	for _, c := range cases {
		if got := dependentLeafMatches(c.dep, c.sub); got != c.want {
			t.Errorf("dependentLeafMatches(%q, %q) = %v, want %v", c.dep, c.sub, got, c.want)
		}
	}
}

func TestParseDirectiveVersion(t *testing.T) {
	v, err := parseDirectiveVersion("2.1.3")
	if err != nil {
		t.Fatalf("parseDirectiveVersion: %v", err)
	}
	if v != NewVersion(2, 1, 3) {
		t.Errorf("got %v, want 2.1.3", v)
	}
}

func TestParseDirectiveVersionRejectsNonDigits(t *testing.T) {
	if _, err := parseDirectiveVersion("2.x.3"); err == nil {
		t.Fatal("expected an error for a non-numeric version component")
	}
}

func TestBuildDependentsClassifiesLoadCommands(t *testing.T) {
	st := &dylibParseState{
		path: "libFoo.dylib",
		dylib: &Dylib{
			fileBase: fileBase{path: "libFoo.dylib"},
		},
		pending: []pendingDependent{
			{cmd: LCLoadDylib, path: "/usr/lib/libA.dylib"},
			{cmd: LCLoadWeakDylib, path: "/usr/lib/libB.dylib"},
			{cmd: LCReexportDylib, path: "/usr/lib/libC.dylib"},
			{cmd: LCLoadUpwardDylib, path: "/usr/lib/libD.dylib"},
		},
	}
	if err := st.buildDependents(); err != nil {
		t.Fatalf("buildDependents: %v", err)
	}
	if len(st.dylib.Dependents) != 4 {
		t.Fatalf("got %d dependents, want 4", len(st.dylib.Dependents))
	}
	byPath := make(map[string]*Dependent)
	for _, d := range st.dylib.Dependents {
		byPath[d.Path] = d
	}
	if byPath["/usr/lib/libB.dylib"].Weak != true {
		t.Error("libB should be Weak")
	}
	if byPath["/usr/lib/libC.dylib"].ReExport != true {
		t.Error("libC should be ReExport")
	}
	if byPath["/usr/lib/libD.dylib"].Upward != true {
		t.Error("libD should be Upward")
	}
	if byPath["/usr/lib/libA.dylib"].Weak || byPath["/usr/lib/libA.dylib"].ReExport || byPath["/usr/lib/libA.dylib"].Upward {
		t.Error("libA should be a plain dependent")
	}
}

func TestBuildDependentsSkipsBundleLoader(t *testing.T) {
	st := &dylibParseState{
		path:  "prog",
		dylib: &Dylib{fileBase: fileBase{path: "prog"}},
		opts:  Options{BundleLoaderPath: "/usr/bin/prog"},
		pending: []pendingDependent{
			{cmd: LCLoadDylib, path: "/usr/bin/prog"},
			{cmd: LCLoadDylib, path: "/usr/lib/libA.dylib"},
		},
	}
	if err := st.buildDependents(); err != nil {
		t.Fatalf("buildDependents: %v", err)
	}
	if len(st.dylib.Dependents) != 1 || st.dylib.Dependents[0].Path != "/usr/lib/libA.dylib" {
		t.Fatalf("got %+v, want only libA", st.dylib.Dependents)
	}
}

func TestBuildDependentsRejectsContradictoryNoReexportFlag(t *testing.T) {
	st := &dylibParseState{
		path:   "libFoo.dylib",
		dylib:  &Dylib{fileBase: fileBase{path: "libFoo.dylib"}},
		header: MachHeader64{MachHeader32: MachHeader32{Flags: MHNoReexportedDylibs}},
		pending: []pendingDependent{
			{cmd: LCReexportDylib, path: "/usr/lib/libC.dylib"},
		},
	}
	if err := st.buildDependents(); err == nil {
		t.Fatal("expected an error: MH_NO_REEXPORTED_DYLIBS contradicted by an LC_REEXPORT_DYLIB")
	}
}
