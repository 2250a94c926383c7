package linker

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/ksco/machold/pkg/utils"
)

// FileKind discriminates the five outcomes of format probing (§4.4).
type FileKind int

const (
	FileKindObject FileKind = iota
	FileKindArchive
	FileKindDylib
	FileKindBitcode
	FileKindIgnored
)

func (k FileKind) String() string {
	switch k {
	case FileKindObject:
		return "object"
	case FileKindArchive:
		return "archive"
	case FileKindDylib:
		return "dylib"
	case FileKindBitcode:
		return "bitcode"
	case FileKindIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// File is the sum type of everything FormatProbe can produce (§3, File
// variant). Object, Archive, Dylib, Bitcode and IgnoredFile all satisfy
// it.
type File interface {
	Kind() FileKind
	Path() string
	Ordinal() Ordinal
	ModTime() time.Time
}

// fileBase is embedded by every File implementation for the fields every
// variant shares.
type fileBase struct {
	path    string
	ordinal Ordinal
	modTime time.Time
}

func (b *fileBase) Path() string       { return b.path }
func (b *fileBase) Ordinal() Ordinal   { return b.ordinal }
func (b *fileBase) ModTime() time.Time { return b.modTime }

// IgnoredFile is the sentinel installed into a slot whose input was
// skipped: architecture mismatch under a downgrade policy, a stray dylib
// where the output forbids one, or a fatal-but-forgiven parse error
// (§4.1, "Failure semantics").
type IgnoredFile struct {
	fileBase
	Reason string
}

func (f *IgnoredFile) Kind() FileKind { return FileKindIgnored }

// mappedFile is the raw byte view of an opened input, produced by
// openAndMap and consumed by FormatProbe. It is not itself a File: it is
// the mmap-backed buffer a parser turns into one.
type mappedFile struct {
	path     string
	modTime  time.Time
	fd       int    // open until the caller finishes fat-slice selection; see closeFD
	full     []byte // the whole mapping, before any fat-slice remap
	slice    []byte // the selected architecture slice (== full for thin files)
	remapped bool
}

// closeFD implements §4.4 step 4: the descriptor is closed once slice
// selection (and any resulting remap) is done; the mapping persists.
func (mf *mappedFile) closeFD() {
	if mf.fd >= 0 {
		unix.Close(mf.fd)
		mf.fd = -1
	}
}

// minFileLength is the smallest a Mach-O-family input could plausibly be
// (§4.4, step 1): shorter than this and it cannot even hold a thin header.
const minFileLength = 20

// openAndMap implements §4.4 step 1: open, then mmap the file's current
// size (from stat) read-only/private/file-backed. The descriptor is left
// open in the returned mappedFile for fat-slice selection and remapping;
// the caller closes it with closeFD (step 4).
func openAndMap(info *FileInfo) (*mappedFile, error) {
	fd, err := unix.Open(info.Path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, &IngestError{Kind: ErrEnvironmental, Path: info.Path,
			Msg: fmt.Sprintf("open: %v", err)}
	}
	closeOnErr := true
	defer func() {
		if closeOnErr {
			unix.Close(fd)
		}
	}()

	st, err := os.Stat(info.Path)
	if err != nil {
		return nil, &IngestError{Kind: ErrEnvironmental, Path: info.Path,
			Msg: fmt.Sprintf("stat: %v", err)}
	}
	size := st.Size()
	if size < minFileLength {
		return nil, &IngestError{Kind: ErrMalformed, Path: info.Path,
			Msg: fmt.Sprintf("file too small (%s)", humanize.Bytes(uint64(size)))}
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, &IngestError{Kind: ErrEnvironmental, Path: info.Path,
			Msg: fmt.Sprintf("mmap: %v", err)}
	}

	closeOnErr = false
	return &mappedFile{
		path:    info.Path,
		modTime: st.ModTime(),
		fd:      fd,
		full:    data,
		slice:   data,
	}, nil
}

// growTo re-mmaps the file at its current fd after it has grown past the
// original stat, used only by the fat-slice truncation retry (§4.4 step
// 2). The fd must still be open, which holds during slice selection
// since closeFD runs after it.
func (mf *mappedFile) growTo(newSize int64) error {
	if mf.fd < 0 {
		return fmt.Errorf("file descriptor already closed")
	}
	data, err := unix.Mmap(mf.fd, 0, int(newSize), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return err
	}
	unix.Munmap(mf.full)
	mf.full = data
	mf.slice = data
	return nil
}

// remapSlice implements §4.4 step 3: if the chosen fat slice's offset is
// page-aligned, munmap the whole file and re-mmap just the slice at
// offset 0, releasing the rest of the mapping's footprint. Otherwise the
// slice is simply indexed into the existing mapping. Skipping the remap
// is always correct (§9, open question) — it is a footprint optimization,
// not a correctness requirement — so any failure to remap silently falls
// back to in-place indexing.
func (mf *mappedFile) remapSlice(fd int, offset, size int64, pageSize int64) {
	mf.slice = mf.full[offset : offset+size]
	if offset%pageSize != 0 {
		return
	}
	newData, err := unix.Mmap(fd, offset, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return
	}
	unix.Munmap(mf.full)
	mf.full = newData
	mf.slice = newData
	mf.remapped = true
}

// release unmaps the file. Objects and archives keep their mapping alive
// for the link's duration (the caller simply never calls release for
// them); dylibs release immediately after their symbol table has been
// copied into owned strings (§4.5, "Memory release").
func (mf *mappedFile) release() {
	if mf.full != nil {
		utils.MustNo(unix.Munmap(mf.full))
		mf.full = nil
		mf.slice = nil
	}
}
