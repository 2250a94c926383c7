package linker

// Mach-O magic numbers. The magic alone tells us pointer width and
// endianness: the "cigam" forms are the byte-swapped mirror image of the
// canonical ones. detectLayout reads the first four bytes big-endian, so
// a canonical hit selects big-endian decoding and a cigam hit selects
// little-endian decoding.
const (
	Magic32    uint32 = 0xfeedface
	Magic64    uint32 = 0xfeedfacf
	CigamMagic32 uint32 = 0xcefaedfe
	CigamMagic64 uint32 = 0xcffaedfe
	FatMagic   uint32 = 0xcafebabe
	FatCigam   uint32 = 0xbebafeca
)

// CPUType and CPUSubtype identify a Mach-O slice's architecture.
type CPUType int32
type CPUSubtype int32

const (
	CPUTypeI386  CPUType = 7
	CPUTypeX8664 CPUType = 7 | cpuArch64
	CPUTypeArm   CPUType = 12
	CPUTypeArm64 CPUType = 12 | cpuArch64

	cpuArch64 CPUType = 0x01000000
)

// Filetype is the Mach-O mh_filetype field.
type Filetype uint32

const (
	FiletypeObject     Filetype = 0x1
	FiletypeExecute    Filetype = 0x2
	FiletypeBundle     Filetype = 0x8
	FiletypeDylib      Filetype = 0x6
	FiletypeDylibStub  Filetype = 0x9
)

// Header mask flags relevant to dylib parsing (mh_flags).
const (
	MHNoReexportedDylibs uint32 = 0x00100000
	MHTwoLevel           uint32 = 0x00000080
	MHWeakDefines        uint32 = 0x00008000
	MHBindsToWeak        uint32 = 0x00010000
)

// LoadCmd is the load-command opcode. The high bit (lcReqDyld) marks
// commands dyld must understand to run the image; it is irrelevant to a
// static linker's ingestion, so rather than masking it off at comparison
// time, the handful of commands that always carry it (LC_LOAD_WEAK_DYLIB,
// LC_REEXPORT_DYLIB, LC_LOAD_UPWARD_DYLIB, LC_DYLD_INFO_ONLY) simply bake
// it into their own constant below.
type LoadCmd uint32

const lcReqDyld LoadCmd = 0x80000000

const (
	LCSegment         LoadCmd = 0x1
	LCSymtab          LoadCmd = 0x2
	LCDysymtab        LoadCmd = 0xb
	LCLoadDylib       LoadCmd = 0xc
	LCIDDylib         LoadCmd = 0xd
	LCLoadWeakDylib   LoadCmd = 0x18 | lcReqDyld
	LCReexportDylib   LoadCmd = 0x1f | lcReqDyld
	LCLoadUpwardDylib LoadCmd = 0x23 | lcReqDyld
	LCSegment64       LoadCmd = 0x19
	LCSubFramework    LoadCmd = 0x12
	LCSubUmbrella     LoadCmd = 0x13
	LCSubClient       LoadCmd = 0x14
	LCSubLibrary      LoadCmd = 0x15
	LCVersionMinMacOSX LoadCmd = 0x24
	LCVersionMinIphoneOS LoadCmd = 0x25
	LCDyldInfo        LoadCmd = 0x22
	LCDyldInfoOnly    LoadCmd = 0x22 | lcReqDyld
	LCBuildVersion    LoadCmd = 0x32
)

// Endian-neutral fixed-layout structures. Every field is decoded with
// utils.Read against an explicit binary.ByteOrder derived from the magic;
// there is no architecture-specific struct duplication the way a
// hand-rolled 32-vs-64 union would require, mirroring how debug/macho and
// the toolchain's internal macho helper (see the retrieved
// CongLeSolutionX-go_community__macho.go) layer a small reader on top of
// otherwise format-defined byte layouts.

type MachHeader32 struct {
	Magic      uint32
	CPUType    int32
	CPUSubtype int32
	Filetype   uint32
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
}

type MachHeader64 struct {
	MachHeader32
	Reserved uint32
}

const (
	MachHeader32Size = 28
	MachHeader64Size = 32
)

// LoadCommand is the two-word header prefixing every load command.
type LoadCommand struct {
	Cmd     uint32
	CmdSize uint32
}

const LoadCommandSize = 8

type DylibT struct {
	NameOffset           uint32
	Timestamp            uint32
	CurrentVersion       uint32
	CompatibilityVersion uint32
}

const DylibTSize = 16

// DylibCommand backs LC_ID_DYLIB, LC_LOAD_DYLIB, LC_LOAD_WEAK_DYLIB and
// LC_REEXPORT_DYLIB: all four share this payload shape.
type DylibCommand struct {
	LoadCommand
	Dylib DylibT
}

const DylibCommandSize = LoadCommandSize + DylibTSize

type SubFrameworkCommand struct {
	LoadCommand
	UmbrellaOffset uint32
}

type SubClientCommand struct {
	LoadCommand
	ClientOffset uint32
}

type SubUmbrellaCommand struct {
	LoadCommand
	SubUmbrellaOffset uint32
}

type SubLibraryCommand struct {
	LoadCommand
	SubLibraryOffset uint32
}

type SymtabCommand struct {
	LoadCommand
	SymOff  uint32
	NSyms   uint32
	StrOff  uint32
	StrSize uint32
}

type DysymtabCommand struct {
	LoadCommand
	ILocalSym      uint32
	NLocalSym      uint32
	IExtDefSym     uint32
	NExtDefSym     uint32
	IUndefSym      uint32
	NUndefSym      uint32
	TocOff         uint32
	NToc           uint32
	ModTabOff      uint32
	NModTab        uint32
	ExtRefSymOff   uint32
	NExtRefSyms    uint32
	IndirectSymOff uint32
	NIndirectSyms  uint32
	ExtRelOff      uint32
	NExtRel        uint32
	LocRelOff      uint32
	NLocRel        uint32
}

// DylibTableOfContents is one entry of the LC_DYSYMTAB TOC, used by the
// classical (non-trie) export path when tocoff != 0.
type DylibTableOfContents struct {
	SymbolIndex uint32
	ModuleIndex uint32
}

type DyldInfoCommand struct {
	LoadCommand
	RebaseOff    uint32
	RebaseSize   uint32
	BindOff      uint32
	BindSize     uint32
	WeakBindOff  uint32
	WeakBindSize uint32
	LazyBindOff  uint32
	LazyBindSize uint32
	ExportOff    uint32
	ExportSize   uint32
}

type VersionMinCommand struct {
	LoadCommand
	Version uint32
	Sdk     uint32
}

type BuildVersionCommand struct {
	LoadCommand
	Platform    uint32
	MinOS       uint32
	Sdk         uint32
	NTools      uint32
}

// SegmentCommand64 is struct segment_command_64. handleSegment64 walks
// the Section64 headers that follow it, looking only for the
// __objc_imageinfo and __LLVM,__bundle* sections.
type SegmentCommand64 struct {
	LoadCommand
	SegName  [16]byte
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

const SegmentCommand64Size = 72

type Section64 struct {
	SectName  [16]byte
	SegName   [16]byte
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	RelOff    uint32
	NReloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

const Section64Size = 80

// SegmentCommand and Section are the 32-bit counterparts of
// SegmentCommand64/Section64 (struct segment_command/section), needed for
// i386/arm dylibs alongside the 64-bit forms.
type SegmentCommand struct {
	LoadCommand
	SegName  [16]byte
	VMAddr   uint32
	VMSize   uint32
	FileOff  uint32
	FileSize uint32
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

const SegmentCommandSize = 56

type Section struct {
	SectName  [16]byte
	SegName   [16]byte
	Addr      uint32
	Size      uint32
	Offset    uint32
	Align     uint32
	RelOff    uint32
	NReloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
}

const SectionSize = 68

// Nlist64 is the 64-bit symbol-table entry (struct nlist_64).
type Nlist64 struct {
	StrX  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

const Nlist64Size = 16

// Nlist32 is the 32-bit symbol-table entry.
type Nlist32 struct {
	StrX  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint32
}

const Nlist32Size = 12

// n_type bits.
const (
	NStab uint8 = 0xe0
	NPext uint8 = 0x10
	NType uint8 = 0x0e
	NExt  uint8 = 0x01

	NUndf uint8 = 0x0
	NAbs  uint8 = 0x2
	NSect uint8 = 0xe
)

// n_desc bits (16-bit).
const (
	NWeakDef uint16 = 0x0080
	NWeakRef uint16 = 0x0040
)
