package linker

import (
	"context"
	"fmt"
	"strings"

	"zombiezen.com/go/log"

	"github.com/ksco/machold/pkg/utils"
)

// canonicalLibSystem is the install path whose export table gets a
// synthesized dyld_stub_binder entry (§4.5), whichever construction path
// built it.
const canonicalLibSystem = "/usr/lib/libSystem.B.dylib"

// objc image_info flags (§4.5).
const (
	objcImageSupportsGC   uint32 = 1 << 1
	objcImageRequiresGC   uint32 = 1 << 2
	objcImageIsSimulated  uint32 = 1 << 5
)

// buildVersion platform values (LC_BUILD_VERSION).
const (
	bvPlatformMacOS    = 1
	bvPlatformIOS      = 2
	bvPlatformTVOS     = 3
	bvPlatformWatchOS  = 4
	bvPlatformIOSSim   = 7
	bvPlatformTVOSSim  = 8
	bvPlatformWatchSim = 9
)

type pendingDependent struct {
	cmd     LoadCmd
	path    string
	cmdOff  int64
}

// dylibParseState accumulates everything the single load-command pass
// discovers before the post-processing steps (export table, dependent
// construction) run (§4.5).
type dylibParseState struct {
	path   string
	data   []byte
	layout machoLayout
	header MachHeader64
	opts   Options
	indirect bool

	symtab   *SymtabCommand
	dysymtab *DysymtabCommand
	dyldInfo *DyldInfoCommand
	compressedLinkEdit bool

	dylib *Dylib

	pending           []pendingDependent
	explicitReExport  bool
	subUmbrellaLibNames []string

	bitcodeSize uint64
}

// probeDylib implements §4.4 dispatch steps 5(c)/5(d) worth of
// validation and, on success, the entire §4.5 load-command walk.
func probeDylib(path string, b []byte, opts Options, indirect bool, bundleLoaderAllowed bool) (*Dylib, bool, error) {
	layout, ok := detectLayout(b)
	if !ok {
		return nil, false, nil
	}
	hdrSize := MachHeader32Size
	if layout.width == width64 {
		hdrSize = MachHeader64Size
	}
	if len(b) < hdrSize {
		return nil, false, nil
	}
	base := utils.Read[MachHeader32](b[:MachHeader32Size], layout.order)
	ft := Filetype(base.Filetype)
	isBundleLoader := ft == FiletypeExecute && bundleLoaderAllowed
	if ft != FiletypeDylib && ft != FiletypeDylibStub && ft != FiletypeBundle && !isBundleLoader {
		return nil, false, nil
	}
	if CPUType(base.CPUType) != opts.CPUType {
		return nil, true, archMismatch(path, "dylib built for wrong architecture: %v (wanted %v)",
			CPUType(base.CPUType), opts.CPUType)
	}

	hdr := MachHeader64{MachHeader32: base}
	if layout.width == width64 {
		hdr = utils.Read[MachHeader64](b[:MachHeader64Size], layout.order)
	}

	st := &dylibParseState{
		path: path, data: b, layout: layout, header: hdr, opts: opts, indirect: indirect,
		dylib: &Dylib{
			fileBase:  fileBase{path: path},
			IsBundle:  ft == FiletypeBundle || isBundleLoader,
			exports:   make(map[string]DylibExport),
			ignoreSet: make(map[string]bool),
			exportCache: make(map[string]*ExportAtom),
		},
	}

	// A DYLIB_STUB with zero load commands is a blank stub (§4.5): no
	// symbols, no dependents, nothing further to walk.
	if ft == FiletypeDylibStub && hdr.NCmds == 0 {
		return st.dylib, true, nil
	}

	if err := st.walkLoadCommands(); err != nil {
		return nil, true, err
	}
	if err := st.checkPlatformCompatibility(); err != nil {
		return nil, true, err
	}
	if err := st.buildExports(); err != nil {
		return nil, true, err
	}
	if err := st.buildDependents(); err != nil {
		return nil, true, err
	}
	if opts.Namespace == NamespaceFlat && st.header.Flags&MHTwoLevel == 0 {
		st.buildImportsAtom()
	}

	return st.dylib, true, nil
}

func (st *dylibParseState) cmdAreaEnd() int64 {
	hdrSize := int64(MachHeader32Size)
	if st.layout.width == width64 {
		hdrSize = MachHeader64Size
	}
	return hdrSize + int64(st.header.SizeOfCmds)
}

func (st *dylibParseState) walkLoadCommands() error {
	hdrSize := int64(MachHeader32Size)
	if st.layout.width == width64 {
		hdrSize = MachHeader64Size
	}
	end := st.cmdAreaEnd()
	if end > int64(len(st.data)) {
		return malformed(st.path, "sizeofcmds extends past end of file")
	}

	pos := hdrSize
	for i := uint32(0); i < st.header.NCmds; i++ {
		if pos+LoadCommandSize > end {
			return malformed(st.path, "load command table truncated")
		}
		lc := utils.Read[LoadCommand](st.data[pos:pos+LoadCommandSize], st.layout.order)
		if lc.CmdSize < LoadCommandSize || pos+int64(lc.CmdSize) > end {
			return malformed(st.path, "load command %d extends past load command area", i)
		}
		if err := st.handleCommand(pos, LoadCmd(lc.Cmd), lc.CmdSize); err != nil {
			return err
		}
		pos += int64(lc.CmdSize)
	}
	return nil
}

func (st *dylibParseState) handleCommand(off int64, cmd LoadCmd, size uint32) error {
	body := st.data[off : off+int64(size)]
	switch cmd {
	case LCSymtab:
		c := utils.Read[SymtabCommand](body, st.layout.order)
		if uint64(c.StrOff)+uint64(c.StrSize) > uint64(len(st.data)) {
			return malformed(st.path, "LC_SYMTAB string pool past end of file")
		}
		st.symtab = &c

	case LCDysymtab:
		c := utils.Read[DysymtabCommand](body, st.layout.order)
		st.dysymtab = &c

	case LCDyldInfo, LCDyldInfoOnly:
		c := utils.Read[DyldInfoCommand](body, st.layout.order)
		st.dyldInfo = &c
		st.compressedLinkEdit = true

	case LCIDDylib:
		c := utils.Read[DylibCommand](body, st.layout.order)
		name := utils.CString(body, c.Dylib.NameOffset)
		st.dylib.InstallPath = name
		st.dylib.Timestamp = c.Dylib.Timestamp
		st.dylib.CurrentVersion = Version(c.Dylib.CurrentVersion)
		st.dylib.CompatVersion = Version(c.Dylib.CompatibilityVersion)
		st.dylib.PublicInstallName = true

	case LCLoadDylib, LCLoadWeakDylib, LCReexportDylib, LCLoadUpwardDylib:
		c := utils.Read[DylibCommand](body, st.layout.order)
		path := utils.CString(body, c.Dylib.NameOffset)
		st.pending = append(st.pending, pendingDependent{cmd: cmd, path: path, cmdOff: off})
		if cmd == LCReexportDylib {
			st.explicitReExport = true
		}

	case LCSubFramework:
		c := utils.Read[SubFrameworkCommand](body, st.layout.order)
		st.dylib.ParentUmbrella = utils.CString(body, c.UmbrellaOffset)

	case LCSubClient:
		c := utils.Read[SubClientCommand](body, st.layout.order)
		st.dylib.AllowableClients = append(st.dylib.AllowableClients, utils.CString(body, c.ClientOffset))
		st.dylib.PublicInstallName = false

	case LCSubUmbrella:
		c := utils.Read[SubUmbrellaCommand](body, st.layout.order)
		st.subUmbrellaLibNames = append(st.subUmbrellaLibNames, utils.CString(body, c.SubUmbrellaOffset))

	case LCSubLibrary:
		c := utils.Read[SubLibraryCommand](body, st.layout.order)
		st.subUmbrellaLibNames = append(st.subUmbrellaLibNames, utils.CString(body, c.SubLibraryOffset))

	case LCVersionMinMacOSX:
		c := utils.Read[VersionMinCommand](body, st.layout.order)
		st.dylib.Platform = PlatformMacOS
		st.dylib.MinOSVersion = Version(c.Version)

	case LCVersionMinIphoneOS:
		c := utils.Read[VersionMinCommand](body, st.layout.order)
		st.dylib.Platform = PlatformIOS
		st.dylib.MinOSVersion = Version(c.Version)

	case LCBuildVersion:
		c := utils.Read[BuildVersionCommand](body, st.layout.order)
		st.dylib.Platform = platformFromBuildVersion(c.Platform)
		st.dylib.MinOSVersion = Version(c.MinOS)

	case LCSegment64:
		st.handleSegment64(body)

	case LCSegment:
		st.handleSegment32(body)
	}
	return nil
}

func platformFromBuildVersion(p uint32) Platform {
	switch p {
	case bvPlatformMacOS:
		return PlatformMacOS
	case bvPlatformIOS:
		return PlatformIOS
	case bvPlatformTVOS:
		return PlatformTVOS
	case bvPlatformWatchOS:
		return PlatformWatchOS
	case bvPlatformIOSSim:
		return PlatformIOSSimulator
	case bvPlatformTVOSSim:
		return PlatformTVOSSimulator
	case bvPlatformWatchSim:
		return PlatformWatchOSSimulator
	default:
		return PlatformUnknown
	}
}

// handleSegment64 looks only at the two segments this core cares about:
// the Objective-C image-info section (constraint/Swift-version) and an
// __LLVM,__bundle* section recording an embedded-bitcode payload size
// (§4.5). Section contents themselves are never read for any other
// purpose.
func (st *dylibParseState) handleSegment64(body []byte) {
	seg := utils.Read[SegmentCommand64](body, st.layout.order)
	segName := cstringFixed(seg.SegName[:])
	if seg.NSects == 0 {
		return
	}
	off := int64(SegmentCommand64Size)
	for i := uint32(0); i < seg.NSects && off+Section64Size <= int64(len(body)); i++ {
		sect := utils.Read[Section64](body[off:off+Section64Size], st.layout.order)
		sectName := cstringFixed(sect.SectName[:])
		switch {
		case (segName == "__DATA" || segName == "__DATA_CONST") && sectName == "__objc_imageinfo":
			st.readObjCImageInfo(sect.Offset)
		case segName == "__LLVM" && strings.HasPrefix(sectName, "__bundle"):
			st.bitcodeSize += sect.Size
		}
		off += Section64Size
	}
}

// handleSegment32 is handleSegment64's 32-bit counterpart (struct
// segment_command/section), needed since i386/arm dylibs carry LC_SEGMENT
// rather than LC_SEGMENT_64.
func (st *dylibParseState) handleSegment32(body []byte) {
	seg := utils.Read[SegmentCommand](body, st.layout.order)
	segName := cstringFixed(seg.SegName[:])
	if seg.NSects == 0 {
		return
	}
	off := int64(SegmentCommandSize)
	for i := uint32(0); i < seg.NSects && off+SectionSize <= int64(len(body)); i++ {
		sect := utils.Read[Section](body[off:off+SectionSize], st.layout.order)
		sectName := cstringFixed(sect.SectName[:])
		switch {
		case (segName == "__DATA" || segName == "__DATA_CONST") && sectName == "__objc_imageinfo":
			st.readObjCImageInfo(sect.Offset)
		case segName == "__LLVM" && strings.HasPrefix(sectName, "__bundle"):
			st.bitcodeSize += uint64(sect.Size)
		}
		off += SectionSize
	}
}

func cstringFixed(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func (st *dylibParseState) readObjCImageInfo(offset uint32) {
	if offset == 0 || uint64(offset)+8 > uint64(len(st.data)) {
		return
	}
	raw := st.data[offset : offset+8]
	flags := st.layout.order.Uint32(raw[4:8])
	switch {
	case flags&objcImageIsSimulated != 0:
		st.dylib.ObjCConstraint = ObjCConstraintSimulator
	case flags&objcImageRequiresGC != 0:
		st.dylib.ObjCConstraint = ObjCConstraintGC
	case flags&objcImageSupportsGC != 0:
		st.dylib.ObjCConstraint = ObjCConstraintRetainReleaseOrGC
	default:
		st.dylib.ObjCConstraint = ObjCConstraintRetainRelease
	}
	st.dylib.SwiftVersion = uint8((flags >> 8) & 0xff)
}

// checkPlatformCompatibility implements §4.5's "Cross-linking
// compatibility check". Indirect dylibs never fail here; a mismatch is
// only recorded (WrongOS) for the IndirectResolver's own bookkeeping.
func (st *dylibParseState) checkPlatformCompatibility() error {
	if st.dylib.Platform == PlatformUnknown || st.opts.Platform == PlatformUnknown {
		return nil
	}
	if st.dylib.Platform == st.opts.Platform {
		return nil
	}
	if st.indirect {
		st.dylib.WrongOS = true
		return nil
	}
	isTVOS := st.dylib.Platform == PlatformTVOS || st.dylib.Platform == PlatformTVOSSimulator ||
		st.opts.Platform == PlatformTVOS || st.opts.Platform == PlatformTVOSSimulator
	if isTVOS && st.opts.BitcodeMode == BitcodeModeNone {
		log.Warnf(context.Background(), "%s: built for platform %v, link is for %v (grandfathered tvOS warning)",
			st.path, st.dylib.Platform, st.opts.Platform)
		return nil
	}
	return archMismatch(st.path, "building for %v but linking against dylib built for %v", st.opts.Platform, st.dylib.Platform)
}

func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformIOS:
		return "iOS"
	case PlatformIOSSimulator:
		return "iOS Simulator"
	case PlatformTVOS:
		return "tvOS"
	case PlatformTVOSSimulator:
		return "tvOS Simulator"
	case PlatformWatchOS:
		return "watchOS"
	case PlatformWatchOSSimulator:
		return "watchOS Simulator"
	default:
		return "unknown"
	}
}

func (t CPUType) String() string {
	switch t {
	case CPUTypeI386:
		return "i386"
	case CPUTypeX8664:
		return "x86_64"
	case CPUTypeArm:
		return "arm"
	case CPUTypeArm64:
		return "arm64"
	default:
		return fmt.Sprintf("cputype(%#x)", int32(t))
	}
}
