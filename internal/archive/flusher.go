package archive

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/meshscan-io/meshscan/internal/mesh"
)

// Flusher batches accepted fragments and writes them to a FragmentArchive
// on an interval, so file I/O never runs on the pipeline's coordinating
// flow. It implements mesh.ArchiveSink: the session enqueues fragments,
// forces completion flushes and clears through it.
type Flusher struct {
	archive  *FragmentArchive
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	queue   []*ArchiveRecord
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// FlusherConfig contains configuration for a Flusher.
type FlusherConfig struct {
	// Archive is the destination store.
	Archive *FragmentArchive
	// Interval is how often queued records are written (default: 2s).
	Interval time.Duration
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// NewFlusher creates a Flusher. Run must be called for queued records to
// reach disk.
func NewFlusher(cfg FlusherConfig) *Flusher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Flusher{
		archive:  cfg.Archive,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// AppendFragment implements mesh.ArchiveSink. It queues the fragment for
// the next flush and returns false when the archive (including queued
// records) is already at capacity.
func (f *Flusher) AppendFragment(frag *mesh.MeshFragment) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.archive.Count()+len(f.queue) >= f.archive.Capacity() {
		return false
	}
	f.queue = append(f.queue, RecordFromFragment(frag))
	return true
}

// Clear implements mesh.ArchiveSink: it drops queued records and deletes
// the archive namespace.
func (f *Flusher) Clear() error {
	f.mu.Lock()
	f.queue = nil
	f.mu.Unlock()
	return f.archive.Clear()
}

// Run starts the periodic flush loop. It blocks until the context is
// cancelled or Stop is called, writing a final flush on the way out.
func (f *Flusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil // already running
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Printf("Flusher started: interval=%v", f.interval)

	for {
		select {
		case <-ctx.Done():
			f.flush()
			return nil
		case <-f.stopCh:
			f.flush()
			return nil
		case <-ticker.C:
			f.flush()
		}
	}
}

// Stop requests the flusher to stop and waits for it. Safe to call
// multiple times.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	f.mu.Unlock()

	<-f.doneCh
}

// Flush implements mesh.ArchiveSink: it writes queued records
// immediately, outside the interval. The session calls it when a
// capture window completes so exports see every accepted fragment.
func (f *Flusher) Flush() {
	f.flush()
}

// QueueLen returns the number of records awaiting a flush.
func (f *Flusher) QueueLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *Flusher) flush() {
	// The generation is captured in the same critical section as the
	// batch: a Clear landing after this point rotates the archive and
	// these records are rejected instead of written into the next
	// session's namespace.
	f.mu.Lock()
	batch := f.queue
	f.queue = nil
	gen := f.archive.Generation()
	f.mu.Unlock()

	for _, rec := range batch {
		accepted, err := f.archive.AppendGeneration(rec, gen)
		if err != nil {
			// An I/O failure costs one record, never the session.
			f.logger.Printf("Flusher: failed to archive fragment %s: %v", rec.ID, err)
			continue
		}
		if !accepted {
			f.logger.Printf("Flusher: dropped fragment %s (archive full or session cleared)", rec.ID)
		}
	}
}
