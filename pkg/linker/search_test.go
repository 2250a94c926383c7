package linker

import "testing"

func newTestDylib(path, installPath string) *Dylib {
	return &Dylib{
		fileBase:    fileBase{path: path},
		InstallPath: installPath,
		exports:     make(map[string]DylibExport),
		exportCache: make(map[string]*ExportAtom),
	}
}

// TestSearchLibrariesStrongHitAfterWeakHit is the regression test for the
// precedence bug found during review: a weak hit in an earlier searched
// file must not suppress a genuine strong hit in a later one.
func TestSearchLibrariesStrongHitAfterWeakHit(t *testing.T) {
	weakLib := newTestDylib("/usr/lib/libWeak.dylib", "/usr/lib/libWeak.dylib")
	weakLib.exports["_sym"] = DylibExport{Name: "_sym", WeakDef: true}

	strongLib := newTestDylib("/usr/lib/libStrong.dylib", "/usr/lib/libStrong.dylib")
	strongLib.exports["_sym"] = DylibExport{Name: "_sym"}

	o := &Orchestrator{
		installPathMap: make(map[string]*Dylib),
		explicit:       make(map[string]bool),
		searchList:     []File{weakLib, strongLib},
	}

	var gotFile File
	var gotAtom Atom
	ok := o.searchLibraries("_sym", true, false, false, AtomHandlerFuncs{
		FileFunc: func(f File) { gotFile = f },
		AtomFunc: func(a Atom) { gotAtom = a },
	})
	if !ok {
		t.Fatal("searchLibraries(_sym) = false, want true")
	}
	if gotFile != strongLib {
		t.Errorf("resolved to %v, want the strong definition in strongLib", gotFile)
	}
	if gotAtom == nil || gotAtom.(*ExportAtom).WeakDef() {
		t.Error("resolved atom is weak, want the strong one")
	}
}

func TestSearchLibrariesFallsBackToWeakHit(t *testing.T) {
	weakLib := newTestDylib("/usr/lib/libWeak.dylib", "/usr/lib/libWeak.dylib")
	weakLib.exports["_sym"] = DylibExport{Name: "_sym", WeakDef: true}

	o := &Orchestrator{
		installPathMap: make(map[string]*Dylib),
		explicit:       make(map[string]bool),
		searchList:     []File{weakLib},
	}

	var gotAtom Atom
	ok := o.searchLibraries("_sym", true, false, false, AtomHandlerFuncs{
		AtomFunc: func(a Atom) { gotAtom = a },
	})
	if !ok {
		t.Fatal("searchLibraries should fall back to the only (weak) hit")
	}
	if gotAtom == nil || !gotAtom.(*ExportAtom).WeakDef() {
		t.Error("expected the weak-def atom to be returned")
	}
}

func TestSearchLibrariesNoHit(t *testing.T) {
	lib := newTestDylib("/usr/lib/libFoo.dylib", "/usr/lib/libFoo.dylib")
	o := &Orchestrator{
		installPathMap: make(map[string]*Dylib),
		explicit:       make(map[string]bool),
		searchList:     []File{lib},
	}
	if ok := o.searchLibraries("_nope", true, false, false, AtomHandlerFuncs{}); ok {
		t.Error("searchLibraries found a symbol that does not exist")
	}
}

func TestSearchLibrariesArchive(t *testing.T) {
	a := &Archive{
		fileBase: fileBase{path: "/tmp/libfoo.a"},
		toc:      map[string]int64{"_sym": 100},
	}
	o := &Orchestrator{
		installPathMap: make(map[string]*Dylib),
		explicit:       make(map[string]bool),
		searchList:     []File{a},
	}
	var gotFile File
	ok := o.searchLibraries("_sym", false, true, false, AtomHandlerFuncs{
		FileFunc: func(f File) { gotFile = f },
	})
	if !ok || gotFile != a {
		t.Fatalf("searchLibraries(archive) = (%v, %v), want (true, a)", ok, gotFile)
	}
}

func TestSearchLibrariesRespectsSearchFlags(t *testing.T) {
	lib := newTestDylib("/usr/lib/libFoo.dylib", "/usr/lib/libFoo.dylib")
	lib.exports["_sym"] = DylibExport{Name: "_sym"}
	o := &Orchestrator{
		installPathMap: make(map[string]*Dylib),
		explicit:       make(map[string]bool),
		searchList:     []File{lib},
	}
	if ok := o.searchLibraries("_sym", false, true, false, AtomHandlerFuncs{}); ok {
		t.Error("searchLibraries found a dylib export with searchDylibs=false")
	}
}

func TestAddDylibDedupesByInstallPath(t *testing.T) {
	o := &Orchestrator{installPathMap: make(map[string]*Dylib), explicit: make(map[string]bool)}
	first := newTestDylib("/usr/lib/libFoo.dylib", "/usr/lib/libFoo.dylib")
	second := newTestDylib("/usr/lib/libFoo.dylib", "/usr/lib/libFoo.dylib")

	o.addDylib(first.InstallPath, first)
	o.addDylib(second.InstallPath, second)

	if len(o.allDylibs) != 1 {
		t.Fatalf("allDylibs = %d entries, want 1 (invariant 4)", len(o.allDylibs))
	}
	got, ok := o.lookupInstallPath("/usr/lib/libFoo.dylib")
	if !ok || got != first {
		t.Errorf("lookupInstallPath = (%v, %v), want the first writer", got, ok)
	}
}

func TestSortedImplicitDylibsOrderAndFilter(t *testing.T) {
	o := &Orchestrator{installPathMap: make(map[string]*Dylib), explicit: make(map[string]bool)}
	explicitLib := newTestDylib("/usr/lib/libB.dylib", "/usr/lib/libB.dylib")
	explicitLib.SetFlags(func(f *DylibFlags) { f.ExplicitlyLinked = true })
	implicitA := newTestDylib("/usr/lib/libC.dylib", "/usr/lib/libC.dylib")
	implicitB := newTestDylib("/usr/lib/libA.dylib", "/usr/lib/libA.dylib")

	o.allDylibs = []*Dylib{explicitLib, implicitA, implicitB}

	got := o.sortedImplicitDylibs()
	if len(got) != 2 {
		t.Fatalf("got %d implicit dylibs, want 2", len(got))
	}
	if got[0].InstallPath != "/usr/lib/libA.dylib" || got[1].InstallPath != "/usr/lib/libC.dylib" {
		t.Errorf("not sorted by install path: %v, %v", got[0].InstallPath, got[1].InstallPath)
	}
}
