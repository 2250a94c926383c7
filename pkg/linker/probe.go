package linker

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"zombiezen.com/go/log"
)

// pageSize is assumed rather than queried per-file: every platform this
// core targets uses a 4K or 16K page, and remapSlice's page-alignment
// check is only a footprint optimization (§4.4 step 3) — a wrong guess
// just means it never takes the fast path, not a correctness bug.
const pageSize = 4096

// probeStats accumulates the byte/file counters the trace writer and
// diagnostics report (§4.4, "Instrumentation"). All fields are updated
// with atomic ops since the parser pool drives FormatProbe from many
// worker goroutines concurrently.
type probeStats struct {
	filesProbed int64
	bytesMapped int64
}

func (s *probeStats) recordMap(n int64) {
	atomic.AddInt64(&s.bytesMapped, n)
	atomic.AddInt64(&s.filesProbed, 1)
}

// FormatProbe implements §4.4 end to end: open and map the declared
// input, select and remap a universal-binary slice if present, then try
// each format probe in dispatch order until one claims the bytes.
func FormatProbe(info *FileInfo, opts Options, stats *probeStats) (File, error) {
	mf, err := openAndMap(info)
	if err != nil {
		return nil, err
	}

	if isFatMagic(mf.full) {
		offset, size, ferr := selectFatSlice(mf, opts)
		if ferr != nil {
			mf.closeFD()
			mf.release()
			return nil, ferr
		}
		mf.remapSlice(mf.fd, offset, size, pageSize)
	}
	mf.closeFD()

	if stats != nil {
		stats.recordMap(int64(len(mf.slice)))
	}

	f, err := dispatch(info, mf, opts)
	if err != nil {
		mf.release()
		return nil, err
	}
	if f == nil {
		mf.release()
		return nil, diagnoseUnrecognized(info.Path, mf.slice)
	}

	// §4.5 "Memory release": a dylib copies every string and table entry
	// it needs into its own fields during probeDylib's walk, so its
	// backing mapping is released immediately rather than held for the
	// link's duration the way object/archive/bitcode mappings are.
	if _, ok := f.(*Dylib); ok {
		mf.release()
	}
	return f, nil
}

func isFatMagic(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	m := binary.BigEndian.Uint32(b[:4])
	return m == FatMagic || m == FatCigam
}

// dispatch implements §4.4 step 5's ordered probe list: object, bitcode,
// dylib, text stub, archive. The first probe to claim the bytes wins;
// probes report ok=false (not an error) when they simply don't
// recognize the format, letting dispatch fall through.
func dispatch(info *FileInfo, mf *mappedFile, opts Options) (File, error) {
	b := mf.slice

	if obj, ok, err := probeObject(info.Path, b, opts); err != nil {
		return nil, err
	} else if ok {
		obj.ordinal = info.Ordinal
		obj.modTime = info.ModTime
		obj.InArchive = info.FromArchiveOf != ""
		return obj, nil
	}

	if bc, ok, err := probeBitcode(info.Path, b, opts); err != nil {
		return nil, err
	} else if ok {
		bc.ordinal = info.Ordinal
		bc.modTime = info.ModTime
		bc.InArchive = info.FromArchiveOf != ""
		return bc, nil
	}

	bundleLoaderAllowed := info.Options.Has(OptBundleLoader)
	if dy, ok, err := probeDylib(info.Path, b, opts, info.Options.Has(OptIndirect), bundleLoaderAllowed); err != nil {
		return nil, err
	} else if ok {
		dy.ordinal = info.Ordinal
		dy.modTime = info.ModTime
		return dy, nil
	}

	if looksLikeTextStub(b) {
		dy, err := parseTextStub(info.Path, b)
		if err != nil {
			return nil, err
		}
		dy.ordinal = info.Ordinal
		dy.modTime = info.ModTime
		return dy, nil
	}

	if looksLikeArchive(b) {
		ar, err := parseArchive(info.Path, b)
		if err != nil {
			return nil, err
		}
		ar.ordinal = info.Ordinal
		ar.modTime = info.ModTime
		return ar, nil
	}

	return nil, nil
}

// diagnoseUnrecognized implements §4.4's final diagnostic: none of the
// five probes claimed the bytes, so report the file's leading bytes to
// help identify what was actually handed to the linker.
func diagnoseUnrecognized(path string, b []byte) error {
	n := 16
	if len(b) < n {
		n = len(b)
	}
	log.Debugf(context.Background(), "%s: unrecognized file, first %d bytes: % x", path, n, b[:n])
	return malformed(path, "unrecognized file format (first %d bytes: % x)", n, b[:n])
}
