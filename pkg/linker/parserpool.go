package linker

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ksco/machold/pkg/utils"
)

// ParserPool implements §4.2: a bounded worker pool draining a
// cursor-driven work queue shared with the Orchestrator's ordered
// consumer and, when a pipeline FIFO is configured, the PipelineListener.
type ParserPool struct {
	opts  Options
	stats *probeStats

	mu               sync.Mutex
	workReady        *sync.Cond
	newFileAvailable *sync.Cond

	infos  []*FileInfo
	parsed []File

	availableInputFiles int
	parseCursor         int
	remainingInputFiles int
	neededFileSlot      int
	idleWorkers         int
	availableWorkers    int

	exception error

	sem *semaphore.Weighted
	g   *errgroup.Group
	ctx context.Context
}

// NewParserPool pre-sizes the parsed-files vector to len(infos) and marks
// every already-declared (non from-file-list) input ready immediately;
// from-file-list entries stay unready until the PipelineListener delivers
// their path over the FIFO (§4.3).
func NewParserPool(ctx context.Context, infos []*FileInfo, opts Options, stats *probeStats, maxWorkers int) *ParserPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers > len(infos) && len(infos) > 0 {
		maxWorkers = len(infos)
	}

	p := &ParserPool{
		opts:                opts,
		stats:               stats,
		infos:               infos,
		parsed:              make([]File, len(infos)),
		remainingInputFiles: len(infos),
		neededFileSlot:      -1,
		ctx:                 ctx,
	}
	p.workReady = sync.NewCond(&p.mu)
	p.newFileAvailable = sync.NewCond(&p.mu)

	for _, info := range infos {
		if !info.Options.Has(OptFromFileList) {
			info.readyToParse = true
			p.availableInputFiles++
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	p.g = g
	p.ctx = gctx
	p.sem = semaphore.NewWeighted(int64(maxWorkers))

	initialWorkers := maxWorkers
	if p.availableInputFiles < initialWorkers {
		initialWorkers = p.availableInputFiles
	}
	if initialWorkers < 1 && len(infos) > 0 {
		initialWorkers = 1
	}
	p.availableWorkers = maxWorkers - initialWorkers
	for i := 0; i < initialWorkers; i++ {
		p.spawnWorker()
	}
	return p
}

// spawnWorker starts one worker under the errgroup. An internal invariant
// violation deep in a probe (utils.Assert/utils.Fatal) panics with a
// *utils.FatalError; recovering it here turns a would-be process crash
// into a normal fatal outcome, latched the same way runWorker latches an
// ordinary parse error so WaitForSlot callers waiting on other slots don't
// hang forever on a cond that a crashed worker never broadcasts.
func (p *ParserPool) spawnWorker() {
	if !p.sem.TryAcquire(1) {
		return
	}
	p.g.Go(func() (err error) {
		defer p.sem.Release(1)
		defer func() {
			if err == nil {
				return
			}
			p.mu.Lock()
			if p.exception == nil {
				p.exception = err
			}
			p.remainingInputFiles = 0
			p.workReady.Broadcast()
			p.newFileAvailable.Broadcast()
			p.mu.Unlock()
		}()
		defer utils.Recover(&err)
		p.runWorker()
		return nil
	})
}

// runWorker implements §4.2's worker-loop contract precisely: claim a
// slot under parseLock, release the lock for the (syscall-heavy) parse
// itself, then re-acquire to publish the result.
func (p *ParserPool) runWorker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		if p.remainingInputFiles == 0 {
			p.mu.Unlock()
			return
		}
		slot, info, ok := p.claimNextLocked()
		if !ok {
			p.idleWorkers++
			p.workReady.Wait()
			p.idleWorkers--
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()

		file, err := FormatProbe(info, p.opts, p.stats)

		p.mu.Lock()
		if err != nil {
			file, err = p.downgradeLocked(info, err)
		}
		if err != nil {
			if p.exception == nil {
				p.exception = err
			}
			p.remainingInputFiles = 0
			p.workReady.Broadcast()
			p.newFileAvailable.Broadcast()
			p.mu.Unlock()
			return
		}
		p.parsed[slot] = file
		p.remainingInputFiles--
		if slot == p.neededFileSlot {
			p.newFileAvailable.Broadcast()
		}
		done := p.remainingInputFiles == 0
		p.mu.Unlock()
		if done {
			p.workReady.Broadcast()
			return
		}
	}
}

// downgradeLocked implements the Orchestrator's "Failure semantics":
// architecture mismatches (and other Downgradable kinds) under a
// forgiving policy become an IgnoredFile plus a latched non-fatal
// warning path, rather than aborting the whole link.
func (p *ParserPool) downgradeLocked(info *FileInfo, err error) (File, error) {
	ie, ok := err.(*IngestError)
	if !ok || !ie.Downgradable() || !p.opts.IgnoreOtherArch {
		return nil, err
	}
	return &IgnoredFile{
		fileBase: fileBase{path: info.Path, ordinal: info.Ordinal, modTime: info.ModTime},
		Reason:   ie.Error(),
	}, nil
}

// claimNextLocked scans from parseCursor for the first ready, unparsed
// slot, claims it, and advances the cursor past it (§4.2).
func (p *ParserPool) claimNextLocked() (slot int, info *FileInfo, ok bool) {
	for i := p.parseCursor; i < len(p.infos); i++ {
		if p.parsed[i] != nil {
			continue
		}
		if !p.infos[i].readyToParse {
			continue
		}
		p.infos[i].readyToParse = false
		p.availableInputFiles--
		p.parseCursor = i + 1
		return i, p.infos[i], true
	}
	return 0, nil, false
}

// WaitForSlot blocks until slot has a parsed File (or the pool has
// latched a fatal exception), lazily spawning an extra worker to
// accelerate the critical path per §4.2's "Lazy spawn".
func (p *ParserPool) WaitForSlot(slot int) (File, error) {
	utils.Assert(slot >= 0 && slot < len(p.parsed))

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.parsed[slot] == nil && p.exception == nil && p.availableWorkers > 0 {
		p.availableWorkers--
		p.mu.Unlock()
		p.spawnWorker()
		p.mu.Lock()
	}

	p.neededFileSlot = slot
	for p.parsed[slot] == nil && p.exception == nil {
		p.newFileAvailable.Wait()
	}
	if p.parsed[slot] == nil && p.exception != nil {
		return nil, p.exception
	}
	return p.parsed[slot], nil
}

// MarkReady implements the PipelineListener's side of §4.3: a
// from-file-list slot has just arrived over the FIFO.
func (p *ParserPool) MarkReady(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.infos[slot].readyToParse {
		return
	}
	p.infos[slot].readyToParse = true
	p.availableInputFiles++
	if slot < p.parseCursor {
		p.parseCursor = slot
	}
	if p.idleWorkers > 0 {
		p.workReady.Signal()
	} else if p.availableWorkers > 0 {
		p.availableWorkers--
		p.mu.Unlock()
		p.spawnWorker()
		p.mu.Lock()
	}
}

// LatchError lets the PipelineListener report a fatal error (e.g. the
// FIFO closing early) through the same channel as a worker's parse
// exception.
func (p *ParserPool) LatchError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exception == nil {
		p.exception = err
	}
	p.remainingInputFiles = 0
	p.workReady.Broadcast()
	p.newFileAvailable.Broadcast()
}

// Wait blocks until every spawned worker has returned.
func (p *ParserPool) Wait() error {
	return p.g.Wait()
}
