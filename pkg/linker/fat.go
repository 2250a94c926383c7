package linker

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/ksco/machold/pkg/utils"
)

// FatHeader is the big-endian wrapper header of a universal binary.
type FatHeader struct {
	Magic    uint32
	NFatArch uint32
}

const FatHeaderSize = 8

// FatArch describes one slice of a universal binary.
type FatArch struct {
	CPUType    int32
	CPUSubtype int32
	Offset     uint32
	Size       uint32
	Align      uint32
}

const FatArchSize = 20

// selectFatSlice implements §4.4 step 2: choose the slice matching the
// requested architecture, preferring an exact (cpuType,cpuSubtype) match
// when a sub-architecture was requested, else the first cpuType match.
// If the chosen slice's byte range would run past the file, it re-stats
// once after a short delay to tolerate a build system still writing the
// file, then fails fatally if still out of range.
func selectFatSlice(mf *mappedFile, opts Options) (offset, size int64, err error) {
	if len(mf.full) < FatHeaderSize {
		return 0, 0, malformed(mf.path, "truncated fat header")
	}
	hdr := utils.Read[FatHeader](mf.full[:FatHeaderSize], binary.BigEndian)
	n := int(hdr.NFatArch)
	archBytes := mf.full[FatHeaderSize:]
	need := n * FatArchSize
	if len(archBytes) < need {
		return 0, 0, malformed(mf.path, "truncated fat arch table")
	}
	archs := utils.ReadSlice[FatArch](archBytes[:need], binary.BigEndian, FatArchSize)

	var exact, cpuOnly *FatArch
	for i := range archs {
		a := &archs[i]
		if CPUType(a.CPUType) != opts.CPUType {
			continue
		}
		if cpuOnly == nil {
			cpuOnly = a
		}
		if opts.SubArchExact && CPUSubtype(a.CPUSubtype) == opts.CPUSubtype {
			exact = a
			break
		}
	}
	chosen := exact
	if chosen == nil {
		chosen = cpuOnly
	}
	if chosen == nil {
		return 0, 0, archMismatch(mf.path, "universal binary missing required slice for %v", opts.CPUType)
	}

	offset = int64(chosen.Offset)
	size = int64(chosen.Size)
	if offset+size > int64(len(mf.full)) {
		// Tolerates a build system that is still writing the file: wait
		// briefly and re-stat once before giving up.
		time.Sleep(1 * time.Second)
		st, statErr := os.Stat(mf.path)
		if statErr != nil || st.Size() < offset+size {
			return 0, 0, malformed(mf.path, "truncated fat file")
		}
		if err := mf.growTo(st.Size()); err != nil {
			return 0, 0, malformed(mf.path, "truncated fat file")
		}
	}
	return offset, size, nil
}
