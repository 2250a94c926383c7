package linker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// TraceWriter implements the Environment behaviors described in §6:
// tracing writes `[Logging for XBS] Used ... library: <realpath>` lines
// to LD_TRACE_FILE (or standard error when unset), and a per-run session
// id (stamped via a UUID, the way a build-system trace log correlates
// entries across a distributed build) prefixes the dependency dump. The
// deeper snapshot/trace logging back-end a real build system might
// consume this output into is an external collaborator (§1); this type
// only ever produces the lines.
type TraceWriter struct {
	w         io.WriteCloser
	ownsFile  bool
	sessionID uuid.UUID
}

// NewTraceWriter opens path (or falls back to standard error when path
// is empty) and stamps a session id for this trace run.
func NewTraceWriter(path string) (*TraceWriter, error) {
	if path == "" {
		return &TraceWriter{w: os.Stderr, sessionID: uuid.New()}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, &IngestError{Kind: ErrEnvironmental, Path: path,
			Msg: fmt.Sprintf("open trace file: %v", err)}
	}
	return &TraceWriter{w: f, ownsFile: true, sessionID: uuid.New()}, nil
}

// UsedLibrary emits one `[Logging for XBS] Used ... library:` line, the
// canonical form a build system's dependency tracker greps for.
func (t *TraceWriter) UsedLibrary(kind, path string) {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		real = path
	}
	fmt.Fprintf(t.w, "[Logging for XBS] Used %s library: %s\n", kind, real)
}

// WriteSummary emits the categorized dependency dump described in §6's
// "Environment" paragraph: one line per object, archive, and dylib
// (direct/indirect/upward as applicable), plus a byte total for the run.
func (t *TraceWriter) WriteSummary(files []File) {
	fmt.Fprintf(t.w, "# session %s\n", t.sessionID)
	var totalBytes int64
	for _, f := range files {
		switch v := f.(type) {
		case *ObjectFile:
			fmt.Fprintf(t.w, "object: %s\n", v.Path())
			totalBytes += int64(len(v.Data))
		case *Archive:
			t.UsedLibrary("archive", v.Path())
			for _, m := range v.Members {
				totalBytes += int64(len(m.Data))
			}
		case *Dylib:
			kind := "direct"
			if v.Flags().ImplicitlyLinked {
				kind = "indirect"
			}
			if v.Flags().WillBeUpwardDylib {
				kind = "upward"
			}
			if v.IsBundle {
				kind = "bundle-loader"
			}
			t.UsedLibrary(kind, v.Path())
		case *BitcodeFile:
			fmt.Fprintf(t.w, "bitcode: %s\n", v.Path())
		}
	}
	fmt.Fprintf(t.w, "# total input bytes: %s\n", humanize.Bytes(uint64(totalBytes)))
}

// Close releases the underlying file, if this writer opened one.
func (t *TraceWriter) Close() error {
	if t.ownsFile {
		return t.w.Close()
	}
	return nil
}
