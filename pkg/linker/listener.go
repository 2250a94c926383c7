package linker

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"zombiezen.com/go/log"
)

// PipelineListener implements §4.3: it lets a build system stream
// compilation outputs to the linker as they finish, overlapping
// compilation with parsing, by writing newline-terminated paths to a
// FIFO the driver names in Options.PipelineFIFO.
type PipelineListener struct {
	fifoPath string
	byPath   map[string]int // path -> slot, restricted to from-file-list entries
	pool     *ParserPool
}

// NewPipelineListener indexes only the from-file-list entries: the FIFO
// protocol only ever names files the driver declared with that option
// (§4.3).
func NewPipelineListener(fifoPath string, infos []*FileInfo, pool *ParserPool) *PipelineListener {
	byPath := make(map[string]int)
	for i, info := range infos {
		if info.Options.Has(OptFromFileList) {
			byPath[info.Path] = i
		}
	}
	return &PipelineListener{fifoPath: fifoPath, byPath: byPath, pool: pool}
}

// Run opens the FIFO and reads until every from-file-list entry has been
// delivered or an error occurs. It is meant to run on its own goroutine,
// started by the Orchestrator alongside the parser pool.
func (l *PipelineListener) Run(ctx context.Context) {
	f, err := os.Open(l.fifoPath)
	if err != nil {
		l.pool.LatchError(&IngestError{Kind: ErrEnvironmental, Path: l.fifoPath,
			Msg: fmt.Sprintf("open pipeline fifo: %v", err)})
		return
	}
	defer f.Close()

	remaining := len(l.byPath)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for remaining > 0 && sc.Scan() {
		path := sc.Text()
		if path == "" {
			continue
		}
		slot, ok := l.byPath[path]
		if !ok {
			log.Warnf(ctx, "pipeline listener: %s not declared with -filelist, ignoring", path)
			continue
		}
		st, err := os.Stat(path)
		if err != nil || st.Size() == 0 {
			l.pool.LatchError(&IngestError{Kind: ErrEnvironmental, Path: path,
				Msg: "pipeline-delivered file missing or empty"})
			return
		}
		l.pool.MarkReady(slot)
		delete(l.byPath, path)
		remaining--
	}
	if err := sc.Err(); err != nil {
		l.pool.LatchError(&IngestError{Kind: ErrEnvironmental, Path: l.fifoPath,
			Msg: fmt.Sprintf("read pipeline fifo: %v", err)})
		return
	}
	if remaining > 0 {
		l.pool.LatchError(&IngestError{Kind: ErrEnvironmental, Path: l.fifoPath,
			Msg: fmt.Sprintf("pipeline fifo closed with %d declared file(s) not delivered", remaining)})
	}
}
