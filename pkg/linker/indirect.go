package linker

// resolveIndirectDylibs implements §4.6: resolve every parsed dylib's
// dependents to concrete Dylibs, iterating to a fixed point since
// resolving one dependent can add further ones to walk, then check the
// resulting re-export graph for cycles.
func (o *Orchestrator) resolveIndirectDylibs() error {
	for {
		progressed, err := o.resolveOnePass()
		if err != nil {
			return err
		}
		if !progressed {
			break
		}
	}
	return o.detectReexportCycles()
}

// resolveOnePass walks every currently-known dylib's dependents once,
// resolving any that are not yet resolved. It reports whether any
// dependent was resolved or any new dylib was discovered, so the caller
// can keep iterating to a fixed point (a freshly discovered dylib may
// itself have unresolved dependents).
func (o *Orchestrator) resolveOnePass() (progressed bool, err error) {
	o.installPathMu.Lock()
	snapshot := append([]*Dylib(nil), o.allDylibs...)
	o.installPathMu.Unlock()

	for _, d := range snapshot {
		for _, dep := range d.Dependents {
			if dep.dylib != nil {
				continue
			}
			before := o.dylibCount()
			if err := o.resolveDependent(d, dep); err != nil {
				return false, err
			}
			if dep.dylib != nil {
				progressed = true
			}
			if o.dylibCount() != before {
				progressed = true
			}
		}
	}
	return progressed, nil
}

func (o *Orchestrator) dylibCount() int {
	o.installPathMu.Lock()
	defer o.installPathMu.Unlock()
	return len(o.allDylibs)
}

// resolveDependent implements §4.6's per-dependent rules.
func (o *Orchestrator) resolveDependent(parent *Dylib, dep *Dependent) error {
	if o.opts.Namespace == NamespaceFlat {
		target, err := o.findDylib(dep.Path, parent.Path())
		if err != nil {
			return err
		}
		dep.dylib = target
		return nil
	}

	target, err := o.findDylib(dep.Path, parent.Path())
	if err != nil {
		return err
	}
	dep.dylib = target

	if dep.ReExport {
		if target.PublicInstallName && !target.WrongOS {
			if parent.Flags().ExplicitlyLinked && dep.Path == target.InstallPath {
				target.SetFlags(func(f *DylibFlags) { f.ImplicitlyLinked = true })
			}
		}
		return nil
	}

	if target.ParentUmbrella != "" && dependentLeafMatches(parent.Path(), target.ParentUmbrella) {
		dep.ReExport = true
	}
	return nil
}

// detectReexportCycles walks the re-export graph from every root,
// tracking the current path with a prev-chain; a back-edge to a dylib
// already on the path is a fatal cycle (§4.6).
func (o *Orchestrator) detectReexportCycles() error {
	o.installPathMu.Lock()
	roots := append([]*Dylib(nil), o.allDylibs...)
	o.installPathMu.Unlock()

	for _, root := range roots {
		if err := walkReexports(root, nil); err != nil {
			return err
		}
	}
	return nil
}

func walkReexports(d *Dylib, chain []*Dylib) error {
	for _, prev := range chain {
		if prev == d {
			return cycleErr(chain[len(chain)-1].InstallPath, d.InstallPath)
		}
	}
	chain = append(chain, d)
	for _, dep := range d.Dependents {
		if !dep.ReExport || dep.dylib == nil {
			continue
		}
		if err := walkReexports(dep.dylib, chain); err != nil {
			return err
		}
	}
	return nil
}
