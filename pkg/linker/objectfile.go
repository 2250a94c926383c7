package linker

import (
	"github.com/ksco/machold/pkg/utils"
)

// ObjectFile is a thin, relocatable Mach-O input (§4.4 dispatch step
// 5(a)). Everything past validating the header and locating the load
// commands — atom construction, relocation resolution, section layout —
// belongs to the atom-level resolver, an external collaborator (§1); this
// core only identifies the file and keeps its mapping alive for that
// collaborator to walk.
type ObjectFile struct {
	fileBase
	Header    MachHeader64 // Reserved is zero for 32-bit inputs
	Layout    machoLayout
	Data      []byte // the whole mapped (and possibly fat-remapped) slice
	InArchive bool
}

func (o *ObjectFile) Kind() FileKind { return FileKindObject }

// probeObject implements §4.4 dispatch step 5(a): Mach-O relocatable.
// Returns ok=false (not an error) when the slice isn't a thin Mach-O
// object at all, so the dispatcher can fall through to the next probe.
func probeObject(path string, b []byte, opts Options) (*ObjectFile, bool, error) {
	layout, ok := detectLayout(b)
	if !ok {
		return nil, false, nil
	}

	hdrSize := int(MachHeader32Size)
	if layout.width == width64 {
		hdrSize = MachHeader64Size
	}
	if len(b) < hdrSize {
		return nil, false, nil
	}

	base := utils.Read[MachHeader32](b[:MachHeader32Size], layout.order)
	if Filetype(base.Filetype) != FiletypeObject {
		return nil, false, nil
	}

	if CPUType(base.CPUType) != opts.CPUType {
		return nil, true, archMismatch(path, "object file built for wrong architecture: %v (wanted %v)",
			CPUType(base.CPUType), opts.CPUType)
	}

	hdr := MachHeader64{MachHeader32: base}
	if layout.width == width64 {
		hdr = utils.Read[MachHeader64](b[:MachHeader64Size], layout.order)
	}

	if uint64(hdr.SizeOfCmds)+uint64(hdrSize) > uint64(len(b)) {
		return nil, true, malformed(path, "load commands extend past end of file")
	}

	return &ObjectFile{
		fileBase: fileBase{path: path},
		Header: hdr,
		Layout: layout,
		Data:   b,
	}, true, nil
}
