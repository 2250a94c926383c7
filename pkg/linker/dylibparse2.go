package linker

import (
	"path/filepath"
	"strings"

	"github.com/ksco/machold/pkg/utils"
)

// buildExports implements §4.5's two construction paths and the "Magic
// export directives" post-processing that applies regardless of which
// path produced the raw entries.
func (st *dylibParseState) buildExports() error {
	var raw []trieExport
	if st.dyldInfo != nil && st.dyldInfo.ExportSize > 0 {
		entries, err := walkExportTrie(st.path, st.data, st.dyldInfo.ExportOff, st.dyldInfo.ExportSize)
		if err != nil {
			return err
		}
		raw = entries
	} else {
		entries, err := st.buildClassicalExports()
		if err != nil {
			return err
		}
		raw = entries
	}

	var directives []ldDirective
	for _, e := range raw {
		if d, ok := parseLdDirective(e.Name); ok {
			directives = append(directives, d)
			continue
		}
		st.dylib.exports[e.Name] = DylibExport{
			Name:    e.Name,
			WeakDef: e.Flags&exportFlagWeakDef != 0,
			TLV:     e.Flags&exportFlagThreadLocal != 0,
			Address: e.Address,
		}
	}

	if st.dylib.InstallPath == canonicalLibSystem &&
		(st.opts.CPUType == CPUTypeI386 || st.opts.CPUType == CPUTypeX8664) {
		st.dylib.exports["dyld_stub_binder"] = DylibExport{Name: "dyld_stub_binder"}
	}

	for _, d := range directives {
		if !directiveApplies(d.Condition, st.opts.MinOSVersion) {
			continue
		}
		switch d.Action {
		case "hide":
			st.dylib.ignoreSet[d.Symbol] = true
			delete(st.dylib.exports, d.Symbol)
		case "add":
			weak := false
			if e, ok := st.dylib.exports[d.Symbol]; ok {
				weak = e.WeakDef
			}
			st.dylib.exports[d.Symbol] = DylibExport{Name: d.Symbol, WeakDef: weak}
		case "install_name":
			st.dylib.InstallPath = d.Symbol
			st.dylib.PublicInstallName = true
			if strings.Contains(d.Symbol, "ApplicationServices") {
				// Grandfathered: ApplicationServices overrides historically
				// carry a stale compatibility version that must be rewritten
				// to match the override, not the original LC_ID_DYLIB.
				st.dylib.CompatVersion = NewVersion(1, 0, 0)
			}
		case "compatibility_version":
			if v, err := parseDirectiveVersion(d.Symbol); err == nil {
				st.dylib.CompatVersion = v
			}
		}
	}
	return nil
}

// buildClassicalExports implements §4.5's non-trie export path.
func (st *dylibParseState) buildClassicalExports() ([]trieExport, error) {
	if st.symtab == nil || st.dysymtab == nil {
		return nil, malformed(st.path, "missing LC_SYMTAB/LC_DYSYMTAB and no LC_DYLD_INFO export trie")
	}
	nlistSize := Nlist64Size
	if st.layout.width == width32 {
		nlistSize = Nlist32Size
	}
	symBase := uint64(st.symtab.SymOff)
	strBase := st.symtab.StrOff

	readOne := func(idx uint32) (name string, weakDef bool, addr uint64, ok bool) {
		off := symBase + uint64(idx)*uint64(nlistSize)
		if off+uint64(nlistSize) > uint64(len(st.data)) {
			return "", false, 0, false
		}
		if st.layout.width == width64 {
			n := utils.Read[Nlist64](st.data[off:off+uint64(nlistSize)], st.layout.order)
			return utils.CString(st.data[strBase:], n.StrX), n.Desc&NWeakDef != 0, n.Value, true
		}
		n := utils.Read[Nlist32](st.data[off:off+uint64(nlistSize)], st.layout.order)
		return utils.CString(st.data[strBase:], n.StrX), n.Desc&NWeakDef != 0, uint64(n.Value), true
	}

	var out []trieExport
	if st.dysymtab.TocOff == 0 {
		for i := st.dysymtab.IExtDefSym; i < st.dysymtab.IExtDefSym+st.dysymtab.NExtDefSym; i++ {
			name, weak, addr, ok := readOne(i)
			if !ok {
				continue
			}
			flags := uint64(0)
			if weak {
				flags |= exportFlagWeakDef
			}
			out = append(out, trieExport{Name: name, Flags: flags, Address: addr})
		}
	} else {
		tocBytes := st.data[st.dysymtab.TocOff:]
		toc := utils.ReadSlice[DylibTableOfContents](tocBytes, st.layout.order, 8)
		for i := uint32(0); i < st.dysymtab.NToc && int(i) < len(toc); i++ {
			name, weak, addr, ok := readOne(toc[i].SymbolIndex)
			if !ok {
				continue
			}
			flags := uint64(0)
			if weak {
				flags |= exportFlagWeakDef
			}
			out = append(out, trieExport{Name: name, Flags: flags, Address: addr})
		}
	}
	return out, nil
}

func parseDirectiveVersion(s string) (Version, error) {
	parts := strings.SplitN(s, ".", 3)
	var nums [3]uint8
	for i := 0; i < len(parts) && i < 3; i++ {
		v, err := parseUint8(parts[i])
		if err != nil {
			return 0, err
		}
		nums[i] = v
	}
	return NewVersion(nums[0], nums[1], nums[2]), nil
}

func parseUint8(s string) (uint8, error) {
	var v int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, malformed("", "bad version component %q", s)
		}
		v = v*10 + int(c-'0')
	}
	return uint8(v), nil
}

// buildDependents implements §4.5's "Dependent construction".
func (st *dylibParseState) buildDependents() error {
	if st.compressedLinkEdit && st.header.Flags&MHNoReexportedDylibs != 0 && st.opts.Namespace != NamespaceFlat {
		return nil
	}

	for _, p := range st.pending {
		if st.opts.BundleLoaderPath != "" && p.path == st.opts.BundleLoaderPath {
			continue
		}
		dep := &Dependent{
			Path:     p.path,
			ReExport: p.cmd == LCReexportDylib,
			Weak:     p.cmd == LCLoadWeakDylib,
			Upward:   p.cmd == LCLoadUpwardDylib,
		}
		st.dylib.Dependents = append(st.dylib.Dependents, dep)
	}

	for _, umbrellaName := range st.subUmbrellaLibNames {
		for _, dep := range st.dylib.Dependents {
			if dependentLeafMatches(dep.Path, umbrellaName) {
				dep.ReExport = true
			}
		}
	}

	if st.header.Flags&MHNoReexportedDylibs != 0 {
		for _, dep := range st.dylib.Dependents {
			if dep.ReExport {
				return malformed(st.path, "MH_NO_REEXPORTED_DYLIBS contradicted by contents")
			}
		}
	}
	return nil
}

// dependentLeafMatches compares a dependent's path leaf against a
// LC_SUB_UMBRELLA/LC_SUB_LIBRARY name (§4.5): basename, "lib" prefix and
// first dot-or-underscore suffix stripped from both sides.
func dependentLeafMatches(depPath, subName string) bool {
	return normalizeLeaf(filepath.Base(depPath)) == normalizeLeaf(subName)
}

func normalizeLeaf(s string) string {
	s = strings.TrimPrefix(s, "lib")
	if i := strings.IndexAny(s, "._"); i >= 0 {
		s = s[:i]
	}
	return s
}

// buildImportsAtom implements §4.5's "Flat-namespace imports atom".
func (st *dylibParseState) buildImportsAtom() {
	if st.symtab == nil || st.dysymtab == nil {
		return
	}
	nlistSize := Nlist64Size
	if st.layout.width == width32 {
		nlistSize = Nlist32Size
	}
	symBase := uint64(st.symtab.SymOff)
	strBase := st.symtab.StrOff
	var names []string
	for i := st.dysymtab.IUndefSym; i < st.dysymtab.IUndefSym+st.dysymtab.NUndefSym; i++ {
		off := symBase + uint64(i)*uint64(nlistSize)
		if off+uint64(nlistSize) > uint64(len(st.data)) {
			continue
		}
		var strx uint32
		if st.layout.width == width64 {
			strx = utils.Read[Nlist64](st.data[off:off+uint64(nlistSize)], st.layout.order).StrX
		} else {
			strx = utils.Read[Nlist32](st.data[off:off+uint64(nlistSize)], st.layout.order).StrX
		}
		names = append(names, utils.CString(st.data[strBase:], strx))
	}
	st.dylib.imports = &ImportAtom{owner: st.dylib, names: names}
}
