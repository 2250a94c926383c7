package linker

import (
	"context"
	"sync"

	"zombiezen.com/go/log"
)

// Orchestrator owns the parsed-files vector, the ordinal allocators, the
// install-path-to-dylib index, and the search-library list; it drives
// ingestion and exposes the iteration and symbol-lookup contract (§4.1).
type Orchestrator struct {
	opts  Options
	infos []*FileInfo

	pool     *ParserPool
	listener *PipelineListener
	stats    *probeStats

	indirectOrdinals     *ordinalAllocator
	linkerOptionOrdinals *ordinalAllocator

	parsed []File // mirrors pool.parsed once each slot's WaitForSlot completes

	installPathMu  sync.Mutex
	installPathMap map[string]*Dylib
	allDylibs      []*Dylib

	searchList []File          // explicit command-line dylibs/archives, in input order
	explicit   map[string]bool // install path -> explicitly linked

	trace *TraceWriter
}

// New implements §4.1's `new(options, inputs)`: infer architecture if
// unset, pre-size the parsed-files vector, and spawn the parser pool
// (and pipeline listener, if configured).
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.CPUType == 0 {
		opts.CPUType = inferHostArchitecture()
	}

	infos := make([]*FileInfo, len(opts.Inputs))
	var cmdLineOrdinals ordinalAllocator
	for i, d := range opts.Inputs {
		fo := fileOptionsFromDescriptor(d)
		infos[i] = &FileInfo{
			Path:    d.Path,
			Length:  d.Length,
			Ordinal: cmdLineOrdinals.allocate(),
			Options: fo,
			Slot:    i,
		}
	}

	o := &Orchestrator{
		opts:                 opts,
		infos:                infos,
		stats:                &probeStats{},
		indirectOrdinals:     newOrdinalAllocator(ordinalIndirectBase),
		linkerOptionOrdinals: newOrdinalAllocator(ordinalLinkerOptionBase),
		installPathMap:       make(map[string]*Dylib),
		explicit:             make(map[string]bool),
	}

	if opts.TraceDylibs || opts.TraceArchives {
		tw, err := NewTraceWriter(opts.TraceFile)
		if err != nil {
			return nil, err
		}
		o.trace = tw
	}

	maxWorkers := hostParallelism()
	o.pool = NewParserPool(ctx, infos, opts, o.stats, maxWorkers)

	if opts.PipelineFIFO != "" {
		o.listener = NewPipelineListener(opts.PipelineFIFO, infos, o.pool)
		go o.listener.Run(ctx)
	}

	return o, nil
}

// inferHostArchitecture implements the fallback half of §4.6's "infers
// architecture if not set": when the driver hasn't pinned a target, this
// core targets the architecture it itself was built for, mirroring how
// a native `ld` binary defaults to its own machine's slice of a fat
// input.
func inferHostArchitecture() CPUType {
	switch hostArch {
	case "arm64":
		return CPUTypeArm64
	case "amd64":
		return CPUTypeX8664
	case "386":
		return CPUTypeI386
	case "arm":
		return CPUTypeArm
	default:
		return CPUTypeX8664
	}
}

// ForEachInitialAtom implements §4.1's ordered iteration and post-pass
// steps 1-3, 5 and 6; step 4 (command-line opaque sections) is not
// performed here. handler receives each slot's file (and, for object
// files' initial atoms, would receive atoms too — object-atom iteration
// itself belongs to the external atom/layout collaborator per §1, so
// this core only ever calls handler.DoFile for objects/archives/bitcode
// and handler.DoAtom for the synthetic/export/import atoms it owns).
func (o *Orchestrator) ForEachInitialAtom(ctx context.Context, handler AtomHandler) error {
	o.parsed = make([]File, len(o.infos))

	for slot := range o.infos {
		f, err := o.pool.WaitForSlot(slot)
		if err != nil {
			return err
		}
		o.parsed[slot] = f
		o.recordDependencyMetadata(f)
		handler.DoFile(f)
	}

	o.markExplicitDylibs()
	o.processLinkerOptionLibraries()

	if err := o.resolveIndirectDylibs(); err != nil {
		return err
	}

	o.emitSyntheticAtoms(handler)

	if o.trace != nil {
		o.trace.WriteSummary(o.parsed)
	}

	return nil
}

// recordDependencyMetadata files a freshly-parsed dylib into the
// install-path index and search list; archives/objects need no further
// bookkeeping here (their content is the atom collaborator's concern).
func (o *Orchestrator) recordDependencyMetadata(f File) {
	switch v := f.(type) {
	case *Dylib:
		o.addDylib(v.InstallPath, v)
		o.searchList = append(o.searchList, v)
	case *Archive:
		o.searchList = append(o.searchList, v)
	}
}

// markExplicitDylibs implements ForEachInitialAtom step 1: every dylib
// named directly on the command line (i.e. every parsed Dylib, since
// indirect ones are discovered later and never appear in the initial
// parsed-files vector) is flagged explicitly linked.
func (o *Orchestrator) markExplicitDylibs() {
	for _, f := range o.parsed {
		d, ok := f.(*Dylib)
		if !ok {
			continue
		}
		d.SetFlags(func(fl *DylibFlags) { fl.ExplicitlyLinked = true })
		o.explicit[d.InstallPath] = true
	}
}

// processLinkerOptionLibraries implements ForEachInitialAtom step 2.
// Object files may embed an LC_LINKER_OPTION load command naming extra
// libraries to link; recognizing and walking that command belongs to
// the object-file/atom collaborator (§1), not this core, so this step is
// deliberately a no-op here. The half this core does own —
// AllocateLinkerOptionOrdinal handing out fresh ordinals in the
// linker-option range for whatever the collaborator surfaces — is
// exercised directly, since nothing calls it while that collaborator is
// out of scope.
func (o *Orchestrator) processLinkerOptionLibraries() {}

// AllocateLinkerOptionOrdinal hands the atom collaborator a fresh
// ordinal in the linker-option range (§3) for a library named by an
// object file's embedded LC_LINKER_OPTION.
func (o *Orchestrator) AllocateLinkerOptionOrdinal() Ordinal {
	return o.linkerOptionOrdinals.allocate()
}

// emitSyntheticAtoms implements ForEachInitialAtom steps 5 and 6: the
// implicit __dso_handle/header atoms for the configured output kind,
// and, for dynamic and static executables, a page-zero atom. No
// custom-stack atom is emitted.
func (o *Orchestrator) emitSyntheticAtoms(handler AtomHandler) {
	header := &syntheticAtom{name: "__mh_execute_header"}
	if o.opts.OutputKind == OutputDynamicLibrary {
		header = &syntheticAtom{name: "__mh_dylib_header"}
	}
	handler.DoAtom(header)
	handler.DoAtom(&syntheticAtom{name: "___dso_handle"})

	switch o.opts.OutputKind {
	case OutputDynamicExecutable, OutputStaticExecutable:
		handler.DoAtom(&syntheticAtom{name: "__mh_execute_page_zero"})
	}
}

// Dylibs implements §4.1's `dylibs(state)`: populate the output's dylib
// list per the output-kind policy.
func (o *Orchestrator) Dylibs() ([]*Dylib, error) {
	if !o.opts.OutputKind.AllowsDylibs() {
		for _, f := range o.parsed {
			if d, ok := f.(*Dylib); ok {
				log.Warnf(context.Background(), "%s: dylib linked against an output kind that forbids dylibs", d.Path())
			}
		}
		return nil, nil
	}

	var out []*Dylib
	seen := make(map[string]bool)
	for _, f := range o.parsed {
		d, ok := f.(*Dylib)
		if !ok || seen[d.InstallPath] {
			continue
		}
		seen[d.InstallPath] = true
		out = append(out, d)
	}

	needsEntry := o.opts.OutputKind == OutputDynamicExecutable
	haveLibSystem := false
	for _, d := range out {
		if d.InstallPath == canonicalLibSystem {
			haveLibSystem = true
		}
	}

	if o.opts.Namespace == NamespaceTwoLevel {
		// sortedImplicitDylibs only excludes explicitly-linked dylibs; a
		// plain transitive LC_LOAD_DYLIB dependent that was never promoted
		// to ImplicitlyLinked (invariant 4.6) does not belong in the
		// output's dylib list, mirroring the filter searchLibraries applies
		// before trying an implicit dylib.
		for _, d := range o.sortedImplicitDylibs() {
			if !d.Flags().ImplicitlyLinked {
				continue
			}
			if d.InstallPath == canonicalLibSystem {
				haveLibSystem = true
			}
			out = append(out, d)
		}
	}

	if needsEntry && !haveLibSystem {
		return nil, policyErr("", "output requires an entry point but no dylib provides %s", canonicalLibSystem)
	}
	return out, nil
}

// SearchLibraries and SearchWeakDefInDylib are the public forwarders for
// §4.1's undefined-symbol resolution.
func (o *Orchestrator) SearchLibraries(name string, searchDylibs, searchArchives, dataSymbolOnly bool, handler AtomHandler) bool {
	return o.searchLibraries(name, searchDylibs, searchArchives, dataSymbolOnly, handler)
}

func (o *Orchestrator) SearchWeakDefInDylib(name string) bool {
	return o.searchWeakDefInDylib(name)
}

// FindDylib exposes §4.7's resolution for callers outside indirect
// resolution (e.g. -dylib_file/@loader_path diagnostics from cmd/machold).
func (o *Orchestrator) FindDylib(installPath, fromPath string) (*Dylib, error) {
	return o.findDylib(installPath, fromPath)
}

// Wait blocks until every worker (and, if configured, the pipeline
// listener's dependent workers) has finished.
func (o *Orchestrator) Wait() error {
	return o.pool.Wait()
}

// Stats exposes the atomic byte/count counters recorded during parsing
// (§4.4, "Atomic counters"; §5, "Global counters").
func (o *Orchestrator) Stats() (filesProbed, bytesMapped int64) {
	return o.stats.filesProbed, o.stats.bytesMapped
}
