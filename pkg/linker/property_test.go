package linker

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fileSummary reduces a parsed File down to the fields that must be
// identical regardless of how many workers raced to produce it: which
// slot it landed in should never depend on parse order (§4.2's ordered
// consumer decouples completion order from delivery order).
type fileSummary struct {
	Slot int
	Kind FileKind
	Path string
}

func parseAllWithWorkers(t *testing.T, infos []*FileInfo, opts Options, maxWorkers int) []fileSummary {
	t.Helper()
	pool := NewParserPool(context.Background(), infos, opts, &probeStats{}, maxWorkers)
	out := make([]fileSummary, len(infos))
	for i := range infos {
		f, err := pool.WaitForSlot(i)
		if err != nil {
			t.Fatalf("WaitForSlot(%d) with maxWorkers=%d: %v", i, maxWorkers, err)
		}
		out[i] = fileSummary{Slot: i, Kind: f.Kind(), Path: f.Path()}
	}
	if err := pool.Wait(); err != nil {
		t.Fatalf("Wait() with maxWorkers=%d: %v", maxWorkers, err)
	}
	return out
}

// TestParserPoolOrderIndependentOfWorkerCount is the property test
// promised for the pool: a fully serial parse (one worker) and a heavily
// parallel one must deliver the exact same per-slot results, since slot
// order is a property of the input list, not of which worker happened to
// finish first.
func TestParserPoolOrderIndependentOfWorkerCount(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeTempFile(t, dir, "a.o", buildMachHeader64(CPUTypeArm64, FiletypeObject, 0)),
		writeTempFile(t, dir, "b.a", buildArchive([]arMember{{"x.o", []byte("body1")}})),
		writeTempFile(t, dir, "c.o", buildMachHeader64(CPUTypeArm64, FiletypeObject, 0)),
		writeTempFile(t, dir, "d.a", buildArchive([]arMember{{"y.o", []byte("body2")}})),
		writeTempFile(t, dir, "e.o", buildMachHeader64(CPUTypeArm64, FiletypeObject, 0)),
	}
	opts := Options{CPUType: CPUTypeArm64}

	newInfos := func() []*FileInfo {
		infos := make([]*FileInfo, len(paths))
		for i, p := range paths {
			infos[i] = &FileInfo{Path: p, Ordinal: Ordinal(i), Slot: i}
		}
		return infos
	}

	serial := parseAllWithWorkers(t, newInfos(), opts, 1)
	parallel := parseAllWithWorkers(t, newInfos(), opts, 8)

	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Errorf("serial vs parallel parse mismatch (-serial +parallel):\n%s", diff)
	}
}
