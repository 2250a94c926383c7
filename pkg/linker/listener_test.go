package linker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestNewPipelineListenerIndexesOnlyFromFileList(t *testing.T) {
	infos := []*FileInfo{
		{Path: "/tmp/a.o", Options: OptFromFileList},
		{Path: "/tmp/b.o"},
		{Path: "/tmp/c.o", Options: OptFromFileList},
	}
	l := NewPipelineListener("/tmp/fifo", infos, nil)
	if len(l.byPath) != 2 {
		t.Fatalf("byPath has %d entries, want 2", len(l.byPath))
	}
	if _, ok := l.byPath["/tmp/b.o"]; ok {
		t.Error("non from-file-list entry should not be indexed")
	}
	if slot, ok := l.byPath["/tmp/c.o"]; !ok || slot != 2 {
		t.Errorf("c.o -> %d, want slot 2", slot)
	}
}

func TestPipelineListenerRunDeliversPaths(t *testing.T) {
	dir := t.TempDir()
	fifoPath := filepath.Join(dir, "pipe")
	if err := unix.Mkfifo(fifoPath, 0600); err != nil {
		t.Fatalf("Mkfifo: %v", err)
	}
	objPath := writeTempFile(t, dir, "a.o", buildMachHeader64(CPUTypeArm64, FiletypeObject, 0))

	infos := []*FileInfo{{Path: objPath, Options: OptFromFileList}}
	pool := NewParserPool(context.Background(), infos, Options{CPUType: CPUTypeArm64}, &probeStats{}, 1)
	l := NewPipelineListener(fifoPath, infos, pool)

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	// A FIFO open for writing blocks until a reader is present; Run's
	// os.Open(fifoPath) is that reader.
	w, err := os.OpenFile(fifoPath, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open fifo for writing: %v", err)
	}
	if _, err := w.WriteString(objPath + "\n"); err != nil {
		t.Fatalf("write fifo: %v", err)
	}
	w.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("PipelineListener.Run did not return after delivering the only entry")
	}

	f, err := pool.WaitForSlot(0)
	if err != nil {
		t.Fatalf("WaitForSlot(0): %v", err)
	}
	if f.Kind() != FileKindObject {
		t.Errorf("got %v, want object", f.Kind())
	}
	_ = pool.Wait()
}

func TestPipelineListenerWarnsOnUndeclaredPath(t *testing.T) {
	dir := t.TempDir()
	fifoPath := filepath.Join(dir, "pipe")
	if err := unix.Mkfifo(fifoPath, 0600); err != nil {
		t.Fatalf("Mkfifo: %v", err)
	}
	objPath := writeTempFile(t, dir, "a.o", buildMachHeader64(CPUTypeArm64, FiletypeObject, 0))

	infos := []*FileInfo{{Path: objPath, Options: OptFromFileList}}
	pool := NewParserPool(context.Background(), infos, Options{CPUType: CPUTypeArm64}, &probeStats{}, 1)
	l := NewPipelineListener(fifoPath, infos, pool)

	done := make(chan struct{})
	go func() {
		l.Run(context.Background())
		close(done)
	}()

	w, err := os.OpenFile(fifoPath, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open fifo for writing: %v", err)
	}
	w.WriteString("/tmp/not-declared.o\n")
	w.WriteString(objPath + "\n")
	w.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("PipelineListener.Run did not return")
	}
	_ = pool.Wait()
}
