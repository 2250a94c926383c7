package linker

import (
	"strconv"
	"strings"
	"sync"

	"github.com/ksco/machold/pkg/utils"
)

// ObjCConstraint classifies a dylib's Objective-C garbage-collection
// posture, decoded from objc_image_info (§4.5, LC_SEGMENT/__DATA,__objc_imageinfo).
type ObjCConstraint int

const (
	ObjCConstraintNone ObjCConstraint = iota
	ObjCConstraintRetainRelease
	ObjCConstraintGC
	ObjCConstraintRetainReleaseOrGC
	ObjCConstraintSimulator
)

// DylibExport is one entry of a Dylib's export hash table (§3, Dylib).
type DylibExport struct {
	Name    string
	WeakDef bool
	TLV     bool
	Address uint64
}

// Dependent is one LC_LOAD_DYLIB/LC_LOAD_WEAK_DYLIB/LC_REEXPORT_DYLIB
// entry, resolved to a concrete Dylib by the IndirectResolver (§3,
// Dependent).
type Dependent struct {
	Path     string
	ReExport bool
	Upward   bool
	Weak     bool

	dylib *Dylib // set exactly once, by IndirectResolver
}

// Dylib returns the resolved target, or nil before resolution.
func (d *Dependent) Dylib() *Dylib { return d.dylib }

// Flags a Dylib carries about how it participates in this link (§3,
// Dylib.flags).
type DylibFlags struct {
	ExplicitlyLinked  bool
	ImplicitlyLinked  bool
	WillBeReExported  bool
	WillBeUpwardDylib bool
	ForcedWeakLinked  bool
	WillBeLazyLoaded  bool
}

// Dylib is a parsed Mach-O dynamic library (§3, Dylib).
type Dylib struct {
	fileBase

	InstallPath          string
	CurrentVersion       Version
	CompatVersion        Version
	Timestamp            uint32
	ParentUmbrella       string
	AllowableClients     []string
	ObjCConstraint       ObjCConstraint
	SwiftVersion         uint8
	Platform             Platform
	MinOSVersion         Version
	HasWeakDefines       bool
	DeadStrippable       bool
	PublicInstallName    bool
	IsBundle             bool // parsed from an MH_BUNDLE or MH_EXECUTE (bundle-loader) input
	Dependents           []*Dependent
	WrongOS              bool // recorded, not diagnosed here (§4.5)

	flagsMu sync.Mutex
	flags   DylibFlags

	exports    map[string]DylibExport
	exportsMu  sync.RWMutex
	ignoreSet  map[string]bool
	exportCache   map[string]*ExportAtom
	exportCacheMu sync.Mutex

	imports *ImportAtom
}

func (d *Dylib) Kind() FileKind { return FileKindDylib }

func (d *Dylib) SetFlags(f func(*DylibFlags)) {
	d.flagsMu.Lock()
	defer d.flagsMu.Unlock()
	f(&d.flags)
}

func (d *Dylib) Flags() DylibFlags {
	d.flagsMu.Lock()
	defer d.flagsMu.Unlock()
	return d.flags
}

// hasOwnExport reports whether name is present in this dylib's own export
// table and not hidden by a $ld$hide directive (does not recurse into
// re-exports; see containsOrReExports for the recursive query).
func (d *Dylib) hasOwnExport(name string) (DylibExport, bool) {
	if d.ignoreSet[name] {
		return DylibExport{}, false
	}
	d.exportsMu.RLock()
	defer d.exportsMu.RUnlock()
	e, ok := d.exports[name]
	return e, ok
}

// containsOrReExports recurses through re-exported dependents that are not
// already implicitly linked (invariant 7) looking for name, without
// materializing an atom. The search moves to the child dylib, but the
// export data it finds is reported back to the receiver so ownership stays
// with the dylib that was actually asked, not the one whose table happened
// to hold the definition.
func (d *Dylib) containsOrReExports(name string) (DylibExport, bool) {
	if e, ok := d.hasOwnExport(name); ok {
		return e, true
	}
	for _, dep := range d.Dependents {
		if !dep.ReExport {
			continue
		}
		target := dep.dylib
		if target == nil || target.Flags().ImplicitlyLinked {
			continue
		}
		if e, ok := target.containsOrReExports(name); ok {
			return e, true
		}
	}
	return DylibExport{}, false
}

// justInTimeforEachAtom implements §4.5's just-in-time resolution: search
// this dylib, then its re-exported dependents, but always materialize the
// resulting ExportAtom on the receiver d — a re-export from child B must
// still bind to A's ordinal, since B may not even be in the link's dylib
// set under two-level namespace.
func (d *Dylib) justInTimeforEachAtom(name string, handler AtomHandler) bool {
	if d.ignoreSet[name] {
		return false
	}
	e, ok := d.containsOrReExports(name)
	if !ok {
		return false
	}
	handler.DoAtom(d.exportAtomFor(name, e))
	return true
}

func (d *Dylib) exportAtomFor(name string, e DylibExport) *ExportAtom {
	d.exportCacheMu.Lock()
	defer d.exportCacheMu.Unlock()
	if a, ok := d.exportCache[name]; ok {
		return a
	}
	a := &ExportAtom{name: name, owner: d, export: e}
	d.exportCache[name] = a
	return a
}

// hasWeakDefinition follows the same containsOrReExports traversal as
// justInTimeforEachAtom but only reports the weak-def flag, never
// materializing an atom.
func (d *Dylib) hasWeakDefinition(name string) bool {
	e, ok := d.containsOrReExports(name)
	return ok && e.WeakDef
}

// ldDirective is a decoded "$ld$<action>$<condition>$<symbol>" magic
// export name (§4.5, "Magic export directives").
type ldDirective struct {
	Action    string
	Condition string
	Symbol    string
}

func parseLdDirective(name string) (ldDirective, bool) {
	rest, ok := utils.RemovePrefix(name, "$ld$")
	if !ok {
		return ldDirective{}, false
	}
	parts := strings.SplitN(rest, "$", 3)
	if len(parts) != 3 {
		return ldDirective{}, false
	}
	return ldDirective{Action: parts[0], Condition: parts[1], Symbol: parts[2]}, true
}

// directiveApplies checks a "os<major>.<minor>" condition against the
// link's minOS version (§4.5): the directive is ignored unless the
// condition matches exactly.
func directiveApplies(condition string, minOS Version) bool {
	rest, ok := utils.RemovePrefix(condition, "os")
	if !ok {
		return false
	}
	dotIdx := strings.IndexByte(rest, '.')
	if dotIdx < 0 {
		return false
	}
	major, err1 := strconv.Atoi(rest[:dotIdx])
	minor, err2 := strconv.Atoi(rest[dotIdx+1:])
	if err1 != nil || err2 != nil {
		return false
	}
	return major == minOS.Major() && minor == minOS.Minor()
}
