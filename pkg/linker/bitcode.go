package linker

import (
	"github.com/llir/llvm/ir"
)

// bitcodeWrapperMagic and bitcodeMagic are LLVM's two on-disk signatures:
// a raw bitcode file, or one wrapped in Apple's four-word header (used to
// embed a CPU type alongside the bitcode blob).
const (
	bitcodeMagic        uint32 = 0xdec04342 // 'BC' 0xc0 0xde, little-endian read as u32
	bitcodeWrapperMagic uint32 = 0x0b17c0de
)

// BitcodeFile is an LTO bitcode input identified but not compiled by this
// core (§1: "not the LTO/codegen backend" is explicitly out of scope).
// Module is a placeholder boundary object: an empty *ir.Module a real LTO
// backend would replace with the actual parsed IR, kept here only so the
// type this core hands its caller matches the shape the eventual
// consumer expects.
type BitcodeFile struct {
	fileBase
	Module    *ir.Module
	Wrapped   bool
	InArchive bool
}

func (b *BitcodeFile) Kind() FileKind { return FileKindBitcode }

// probeBitcode implements §4.4 dispatch step 5(b). It identifies bitcode
// purely by magic; actual IR parsing is the LTO backend's job.
func probeBitcode(path string, b []byte, opts Options) (*BitcodeFile, bool, error) {
	if opts.BitcodeMode == BitcodeModeNone {
		return nil, false, nil
	}
	if len(b) < 4 {
		return nil, false, nil
	}
	magic := byteOrderLE().Uint32(b[:4])
	switch magic {
	case bitcodeMagic:
		return &BitcodeFile{fileBase: fileBase{path: path}, Module: &ir.Module{}}, true, nil
	case bitcodeWrapperMagic:
		return &BitcodeFile{fileBase: fileBase{path: path}, Module: &ir.Module{}, Wrapped: true}, true, nil
	default:
		return nil, false, nil
	}
}
