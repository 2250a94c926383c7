package linker

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"zombiezen.com/go/log"

	"github.com/ksco/machold/pkg/utils"
)

// searchLibraries implements §4.1's undefined-symbol resolution: the
// explicit search-library list first, then indirect dylibs per the
// namespace rule. A weak-def hit keeps looking for a strong def; a
// strong def ends the search successfully.
func (o *Orchestrator) searchLibraries(name string, searchDylibs, searchArchives, dataSymbolOnly bool, handler AtomHandler) bool {
	var weakHitFile File
	var weakHitAtom Atom

	tryFile := func(f File) bool {
		switch v := f.(type) {
		case *Dylib:
			if !searchDylibs {
				return false
			}
			strongHit := false
			v.justInTimeforEachAtom(name, AtomHandlerFuncs{AtomFunc: func(a Atom) {
				if ea, ok := a.(*ExportAtom); ok && ea.WeakDef() {
					if weakHitAtom == nil {
						weakHitFile, weakHitAtom = f, a
					}
					return
				}
				strongHit = true
				handler.DoAtom(a)
			}})
			return strongHit
		case *Archive:
			if !searchArchives {
				return false
			}
			_, ok := v.HasSymbol(name)
			return ok
		default:
			return false
		}
	}

	for _, f := range o.searchList {
		if tryFile(f) {
			handler.DoFile(f)
			return true
		}
	}

	for _, d := range o.sortedImplicitDylibs() {
		if o.explicit[d.InstallPath] {
			continue
		}
		if o.opts.Namespace == NamespaceTwoLevel && !d.Flags().ImplicitlyLinked {
			continue
		}
		if tryFile(d) {
			handler.DoFile(d)
			return true
		}
	}

	if weakHitAtom != nil {
		handler.DoFile(weakHitFile)
		handler.DoAtom(weakHitAtom)
		return true
	}
	_ = dataSymbolOnly
	return false
}

// searchWeakDefInDylib implements §4.1: does any explicitly- or
// implicitly-linked dylib advertising MH_WEAK_DEFINES weakly define
// name.
func (o *Orchestrator) searchWeakDefInDylib(name string) bool {
	for _, f := range o.parsed {
		d, ok := f.(*Dylib)
		if !ok || !d.HasWeakDefines {
			continue
		}
		if !d.Flags().ExplicitlyLinked && !d.Flags().ImplicitlyLinked {
			continue
		}
		if d.hasWeakDefinition(name) {
			return true
		}
	}
	return false
}

// findDylib implements §4.7's four-step resolution order, adding the
// result to the install-path map (first writer wins) and logging it.
func (o *Orchestrator) findDylib(installPath, fromPath string) (*Dylib, error) {
	if d, ok := o.lookupInstallPath(installPath); ok {
		return d, nil
	}

	for _, ov := range o.opts.InstallPathOverrides {
		if ov.InstallPath != installPath {
			continue
		}
		d, err := o.parseIndirectDylib(ov.ActualPath, installPath)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	if rest, ok := utils.RemovePrefix(installPath, "@loader_path/"); ok {
		candidate := filepath.Join(filepath.Dir(fromPath), rest)
		if _, err := os.Stat(candidate); err == nil {
			d, err := o.parseIndirectDylib(candidate, installPath)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}

	if rest, ok := utils.RemovePrefix(installPath, "@rpath/"); ok {
		for _, dir := range o.opts.RPaths {
			candidate := filepath.Join(dir, rest)
			if _, err := os.Stat(candidate); err == nil {
				d, err := o.parseIndirectDylib(candidate, installPath)
				if err != nil {
					return nil, err
				}
				return d, nil
			}
		}
	}

	for _, dir := range o.opts.LibrarySearchPaths {
		candidate := filepath.Join(dir, filepath.Base(installPath))
		if _, err := os.Stat(candidate); err == nil {
			d, err := o.parseIndirectDylib(candidate, installPath)
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}

	return nil, malformed(fromPath, "cannot locate dependent dylib %q", installPath)
}

// parseIndirectDylib parses actualPath at a fresh indirect ordinal and
// registers it in the install-path map under installPath.
func (o *Orchestrator) parseIndirectDylib(actualPath, installPath string) (*Dylib, error) {
	ord := o.indirectOrdinals.allocate()
	info := &FileInfo{Path: actualPath, Ordinal: ord, Options: OptIndirect}
	f, err := FormatProbe(info, o.opts, o.stats)
	if err != nil {
		return nil, err
	}
	d, ok := f.(*Dylib)
	if !ok {
		return nil, malformed(actualPath, "dependent %q is not a dylib", installPath)
	}
	if d.InstallPath == "" {
		d.InstallPath = installPath
	}
	o.addDylib(installPath, d)
	log.Debugf(context.Background(), "[Logging for XBS] Used indirect library: %s", actualPath)
	return d, nil
}

// addDylib implements invariant 4: at most one entry per install path.
// A later dylib with an already-recorded install path is dropped,
// silently when both paths resolve (via symlinks) to the same file and
// with a debug log line otherwise.
func (o *Orchestrator) addDylib(installPath string, d *Dylib) {
	o.installPathMu.Lock()
	defer o.installPathMu.Unlock()
	if existing, ok := o.installPathMap[installPath]; ok {
		if !samePath(existing.Path(), d.Path()) {
			log.Debugf(context.Background(), "install path %s already resolved to %s, ignoring %s",
				installPath, existing.Path(), d.Path())
		}
		return
	}
	o.installPathMap[installPath] = d
	o.allDylibs = append(o.allDylibs, d)
}

func (o *Orchestrator) lookupInstallPath(installPath string) (*Dylib, bool) {
	o.installPathMu.Lock()
	defer o.installPathMu.Unlock()
	d, ok := o.installPathMap[installPath]
	return d, ok
}

func samePath(a, b string) bool {
	if a == b {
		return true
	}
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && ra == rb
}

// sortedImplicitDylibs returns every parsed dylib not explicitly linked,
// sorted by install path, for deterministic implicit search order
// (§5, "Ordering guarantees").
func (o *Orchestrator) sortedImplicitDylibs() []*Dylib {
	o.installPathMu.Lock()
	defer o.installPathMu.Unlock()
	out := make([]*Dylib, 0, len(o.allDylibs))
	for _, d := range o.allDylibs {
		if !d.Flags().ExplicitlyLinked {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstallPath < out[j].InstallPath })
	return out
}
