package mesh

import (
	"sync"
	"time"

	"github.com/meshscan-io/meshscan/internal/monitoring"
)

// RenderEntity is an opaque display artifact built from one fragment. It
// is owned by the presentation layer, one-to-one with a live fragment.
type RenderEntity interface{}

// RenderBuilder constructs a render entity from a fragment. Build may be
// expensive (vertex extraction, buffer packing) and runs on a worker
// goroutine, never on the coordinating one.
type RenderBuilder interface {
	Build(frag *MeshFragment) (RenderEntity, error)
}

// RenderSink receives entity lifecycle events. All calls are serialised
// on a single coordinating goroutine, so sink implementations may touch
// shared render state without locking.
type RenderSink interface {
	EntityCreated(id string, entity RenderEntity)
	EntityRemoved(id string)
}

// SchedulerConfig contains configuration for the UpdateScheduler.
type SchedulerConfig struct {
	Store           *FragmentStore
	Builder         RenderBuilder
	Sink            RenderSink
	UpdateInterval  time.Duration // minimum gap between flushes (default: 250ms)
	BatchSize       int           // max entity builds per flush step (default: 4)
	InterBatchDelay time.Duration // pause between catch-up steps (default: 50ms)
	// SessionActive is checked before committing a batch; when it reports
	// false the scheduler drops pending work instead of building entities
	// for a session that has already stopped. Nil means always active.
	SessionActive func() bool
}

// UpdateScheduler throttles and batches fragment-store mutations into
// incremental render work. Changed fragment IDs are coalesced into a
// pending set; each flush step builds at most BatchSize new entities and
// reschedules itself until the set drains, so catch-up never blocks.
//
// Existing entities are deliberately not rebuilt on fragment update:
// rebuild cost dominates and minor anchor drift is visually acceptable.
// An entity is created once and removed when its fragment is removed,
// which also makes reprocessing an unchanged ID a no-op.
type UpdateScheduler struct {
	store           *FragmentStore
	builder         RenderBuilder
	sink            RenderSink
	updateInterval  time.Duration
	batchSize       int
	interBatchDelay time.Duration
	sessionActive   func() bool

	mu        sync.Mutex
	pending   map[string]struct{}
	order     []string // FIFO of changed IDs; stale entries skipped via pending
	entities  map[string]bool
	lastFlush time.Time
	flushing  bool
	timer     *time.Timer
	closed    bool

	batches       int64
	buildFailures int64

	flushWG sync.WaitGroup

	sendMu      sync.RWMutex
	applyClosed bool
	applyCh     chan applyOp
	applyDone   chan struct{}
}

type applyOp struct {
	id      string
	entity  RenderEntity
	removed bool
}

// NewUpdateScheduler creates a scheduler and starts its coordinating
// goroutine. Close must be called to release it.
func NewUpdateScheduler(cfg SchedulerConfig) *UpdateScheduler {
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = 250 * time.Millisecond
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 4
	}
	if cfg.InterBatchDelay == 0 {
		cfg.InterBatchDelay = 50 * time.Millisecond
	}
	s := &UpdateScheduler{
		store:           cfg.Store,
		builder:         cfg.Builder,
		sink:            cfg.Sink,
		updateInterval:  cfg.UpdateInterval,
		batchSize:       cfg.BatchSize,
		interBatchDelay: cfg.InterBatchDelay,
		sessionActive:   cfg.SessionActive,
		pending:         make(map[string]struct{}),
		entities:        make(map[string]bool),
		applyCh:         make(chan applyOp, 16),
		applyDone:       make(chan struct{}),
	}
	go s.applyWorker()
	return s
}

// applyWorker is the coordinating goroutine: it applies finished entities
// to the sink one at a time, so no two render-state mutations interleave.
func (s *UpdateScheduler) applyWorker() {
	defer close(s.applyDone)
	for op := range s.applyCh {
		if s.sink == nil {
			continue
		}
		if op.removed {
			s.sink.EntityRemoved(op.id)
		} else {
			s.sink.EntityCreated(op.id, op.entity)
		}
	}
}

func (s *UpdateScheduler) send(op applyOp) {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.applyClosed {
		return
	}
	s.applyCh <- op
}

// FragmentChanged implements StoreObserver. The change is flushed
// immediately when the scheduler is idle and the last flush is older than
// UpdateInterval; otherwise it is coalesced and a flush is scheduled.
func (s *UpdateScheduler) FragmentChanged(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, queued := s.pending[id]; !queued {
		s.pending[id] = struct{}{}
		s.order = append(s.order, id)
	}
	if s.flushing {
		s.mu.Unlock()
		return
	}
	since := time.Since(s.lastFlush)
	if since >= s.updateInterval {
		s.beginFlushLocked()
		s.mu.Unlock()
		go s.flushStep()
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.updateInterval-since, s.flushFromTimer)
	}
	s.mu.Unlock()
}

// FragmentRemoved implements StoreObserver. Pending work for the ID is
// dropped and its entity, if any, is torn down.
func (s *UpdateScheduler) FragmentRemoved(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	hadEntity := s.entities[id]
	delete(s.entities, id)
	s.mu.Unlock()

	if hadEntity {
		s.send(applyOp{id: id, removed: true})
	}
}

// beginFlushLocked marks a flush chain as started. Caller holds s.mu.
func (s *UpdateScheduler) beginFlushLocked() {
	s.flushing = true
	s.lastFlush = time.Now()
	s.flushWG.Add(1)
}

// endFlushLocked marks the flush chain finished. Caller holds s.mu.
func (s *UpdateScheduler) endFlushLocked() {
	s.flushing = false
	s.flushWG.Done()
}

func (s *UpdateScheduler) flushFromTimer() {
	s.mu.Lock()
	s.timer = nil
	if s.closed || s.flushing || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	s.beginFlushLocked()
	s.mu.Unlock()
	s.flushStep()
}

// flushStep processes one batch of pending IDs on a worker goroutine and
// reschedules itself while work remains.
func (s *UpdateScheduler) flushStep() {
	s.mu.Lock()
	if s.closed {
		s.pending = make(map[string]struct{})
		s.order = nil
		s.endFlushLocked()
		s.mu.Unlock()
		return
	}

	batch := make([]string, 0, s.batchSize)
	for len(s.order) > 0 && len(batch) < s.batchSize {
		id := s.order[0]
		s.order = s.order[1:]
		if _, queued := s.pending[id]; !queued {
			continue
		}
		delete(s.pending, id)
		if s.entities[id] {
			continue // entity exists: updates are intentionally not rebuilt
		}
		batch = append(batch, id)
	}
	if len(batch) > 0 {
		s.batches++
	}
	s.mu.Unlock()

	// A stopped session lets the in-flight batch die here: drop the work
	// and schedule nothing further.
	if s.sessionActive != nil && !s.sessionActive() {
		s.mu.Lock()
		s.pending = make(map[string]struct{})
		s.order = nil
		s.endFlushLocked()
		s.mu.Unlock()
		return
	}

	built := make([]applyOp, 0, len(batch))
	for _, id := range batch {
		frag, ok := s.store.Get(id)
		if !ok {
			continue // removed while pending
		}
		entity, err := s.builder.Build(frag)
		if err != nil {
			monitoring.Logf("[UpdateScheduler] build failed for fragment %s: %v", id, err)
			s.mu.Lock()
			s.buildFailures++
			s.mu.Unlock()
			continue
		}
		built = append(built, applyOp{id: id, entity: entity})
	}

	s.mu.Lock()
	applied := built[:0]
	for _, op := range built {
		// A removal that landed while the build was in flight wins: the
		// fragment is gone from the store, so its entity never registers
		// and the sink never sees it.
		if _, ok := s.store.Get(op.id); !ok {
			continue
		}
		s.entities[op.id] = true
		applied = append(applied, op)
	}
	more := len(s.pending) > 0
	if more {
		time.AfterFunc(s.interBatchDelay, s.flushStep)
	} else {
		s.endFlushLocked()
	}
	s.mu.Unlock()

	for _, op := range applied {
		s.send(op)
	}
}

// HasEntity reports whether a render entity exists for the fragment ID.
func (s *UpdateScheduler) HasEntity(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities[id]
}

// EntityCount returns the number of live render entities.
func (s *UpdateScheduler) EntityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// PendingCount returns the number of coalesced changed IDs not yet flushed.
func (s *UpdateScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Batches returns the number of flush steps that processed at least one ID.
func (s *UpdateScheduler) Batches() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// BuildFailures returns the number of entity builds that failed and were
// skipped.
func (s *UpdateScheduler) BuildFailures() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildFailures
}

// Close stops the scheduler: in-flight batches complete, no further ones
// are scheduled, and the coordinating goroutine is shut down.
func (s *UpdateScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.applyDone
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.flushWG.Wait()

	s.sendMu.Lock()
	s.applyClosed = true
	close(s.applyCh)
	s.sendMu.Unlock()
	<-s.applyDone
}
