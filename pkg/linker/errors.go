package linker

import "fmt"

// ErrKind classifies an ingestion failure per §7's taxonomy. It exists
// so callers (and the Orchestrator's own downgrade logic) can decide
// programmatically whether a failure is one that may be turned into a
// warning, rather than string-matching messages.
type ErrKind int

const (
	// ErrEnvironmental covers open/mmap/stat failures.
	ErrEnvironmental ErrKind = iota
	// ErrMalformed covers structurally invalid input: truncated fat
	// slices, load commands past sizeofcmds, a string pool past EOF,
	// a missing required load command.
	ErrMalformed
	// ErrArchMismatch covers architecture/platform mismatches, which
	// are fatal by default but downgradable (Options.IgnoreOtherArch).
	ErrArchMismatch
	// ErrPolicy covers policy violations: a dylib on an output that
	// forbids dylibs, a sub-framework or non-allowable-client link, a
	// direct link forbidden by an umbrella.
	ErrPolicy
	// ErrCycle covers a detected re-export cycle.
	ErrCycle
)

func (k ErrKind) String() string {
	switch k {
	case ErrEnvironmental:
		return "environmental"
	case ErrMalformed:
		return "malformed"
	case ErrArchMismatch:
		return "arch-mismatch"
	case ErrPolicy:
		return "policy"
	case ErrCycle:
		return "cycle"
	default:
		return "unknown"
	}
}

// IngestError is the error type every parser-facing failure in this
// module surfaces as. The parser pool latches the first one under
// parseLock (§4.2) and the Orchestrator re-raises it when it next blocks
// on a slot (§4.1, "Failure semantics").
type IngestError struct {
	Kind ErrKind
	Path string
	Msg  string
}

func (e *IngestError) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

// Downgradable reports whether this error's Kind may be turned into a
// warning and its slot filled with an Ignored sentinel instead of
// aborting the link, per §7's "Architecture/platform mismatch" entry.
func (e *IngestError) Downgradable() bool {
	return e.Kind == ErrArchMismatch
}

func malformed(path, format string, args ...any) *IngestError {
	return &IngestError{Kind: ErrMalformed, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func policyErr(path, format string, args ...any) *IngestError {
	return &IngestError{Kind: ErrPolicy, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func archMismatch(path, format string, args ...any) *IngestError {
	return &IngestError{Kind: ErrArchMismatch, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func cycleErr(a, b string) *IngestError {
	return &IngestError{Kind: ErrCycle, Msg: fmt.Sprintf("cycle in dylib re-exports: %s <-> %s", a, b)}
}
