package linker

// Atom is the linker's indivisible unit of content. This core never
// materializes atoms for object-file content (that belongs to the atom
// iteration / layout stage, §1's explicitly-out-of-scope collaborator);
// it only ever hands the driver synthetic header/stack atoms and proxy
// atoms standing in for a dylib's exports and flat-namespace imports.
type Atom interface {
	Name() string
	Owner() File
}

// AtomHandler is the callback protocol handed to ForEachInitialAtom and
// to justInTimeforEachAtom (§4.5, §6).
type AtomHandler interface {
	DoFile(f File)
	DoAtom(a Atom)
}

// AtomHandlerFuncs adapts two plain functions to AtomHandler, the way a
// caller that only cares about one callback typically wants to.
type AtomHandlerFuncs struct {
	FileFunc func(File)
	AtomFunc func(Atom)
}

func (h AtomHandlerFuncs) DoFile(f File) {
	if h.FileFunc != nil {
		h.FileFunc(f)
	}
}

func (h AtomHandlerFuncs) DoAtom(a Atom) {
	if h.AtomFunc != nil {
		h.AtomFunc(a)
	}
}

// syntheticAtom backs every header/stack/dso-handle atom this core
// fabricates. It carries no content — laying it out is the driver's job.
type syntheticAtom struct {
	name  string
	owner File
}

func (a *syntheticAtom) Name() string  { return a.name }
func (a *syntheticAtom) Owner() File   { return a.owner }

// ExportAtom is a zero-content proxy for one exported dylib symbol,
// created on demand the first time a just-in-time query resolves to it
// (§3, ExportAtom).
type ExportAtom struct {
	name   string
	owner  *Dylib
	export DylibExport
}

func (a *ExportAtom) Name() string  { return a.name }
func (a *ExportAtom) Owner() File   { return a.owner }
func (a *ExportAtom) WeakDef() bool { return a.export.WeakDef }
func (a *ExportAtom) TLV() bool     { return a.export.TLV }
func (a *ExportAtom) Address() uint64 { return a.export.Address }

// ImportAtom carries the list of undefined references a flat, flat-linked
// dylib is known to need, so the output retains them transitively
// (§4.5, "Flat-namespace imports atom").
type ImportAtom struct {
	owner *Dylib
	names []string
}

func (a *ImportAtom) Name() string   { return "<imports>" }
func (a *ImportAtom) Owner() File    { return a.owner }
func (a *ImportAtom) Names() []string { return a.names }
