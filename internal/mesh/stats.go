package mesh

import (
	"sync"
	"time"

	"github.com/meshscan-io/meshscan/internal/monitoring"
)

// PipelineStats tracks pipeline throughput counters. All methods are safe
// for concurrent use; counters accumulate until GetAndReset.
type PipelineStats struct {
	mu             sync.Mutex
	events         int64
	ignored        int64
	malformed      int64
	accepted       int64
	vertices       int64
	rejected       map[ValidationReason]int64
	storeRejects   int64
	archiveRejects int64
	lastReset      time.Time
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Events         int64                      `json:"events"`
	Ignored        int64                      `json:"ignored"`
	Malformed      int64                      `json:"malformed"`
	Accepted       int64                      `json:"accepted"`
	Vertices       int64                      `json:"vertices"`
	Rejected       map[ValidationReason]int64 `json:"rejected"`
	StoreRejects   int64                      `json:"store_rejects"`
	ArchiveRejects int64                      `json:"archive_rejects"`
}

// NewPipelineStats creates a zeroed stats collector.
func NewPipelineStats() *PipelineStats {
	return &PipelineStats{
		rejected:  make(map[ValidationReason]int64),
		lastReset: time.Now(),
	}
}

// AddEvent counts one sensor event received.
func (ps *PipelineStats) AddEvent() {
	ps.mu.Lock()
	ps.events++
	ps.mu.Unlock()
}

// AddIgnored counts an event delivered outside the Scanning state.
func (ps *PipelineStats) AddIgnored() {
	ps.mu.Lock()
	ps.ignored++
	ps.mu.Unlock()
}

// AddMalformed counts an undecodable datagram.
func (ps *PipelineStats) AddMalformed() {
	ps.mu.Lock()
	ps.malformed++
	ps.mu.Unlock()
}

// AddAccepted counts a validated fragment and its vertices.
func (ps *PipelineStats) AddAccepted(vertexCount int) {
	ps.mu.Lock()
	ps.accepted++
	ps.vertices += int64(vertexCount)
	ps.mu.Unlock()
}

// AddRejected counts a validation rejection by reason.
func (ps *PipelineStats) AddRejected(reason ValidationReason) {
	ps.mu.Lock()
	ps.rejected[reason]++
	ps.mu.Unlock()
}

// AddStoreReject counts a fragment dropped because the store was full.
func (ps *PipelineStats) AddStoreReject() {
	ps.mu.Lock()
	ps.storeRejects++
	ps.mu.Unlock()
}

// AddArchiveReject counts a fragment not persisted because the archive
// was full.
func (ps *PipelineStats) AddArchiveReject() {
	ps.mu.Lock()
	ps.archiveRejects++
	ps.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (ps *PipelineStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.snapshotLocked()
}

func (ps *PipelineStats) snapshotLocked() StatsSnapshot {
	rejected := make(map[ValidationReason]int64, len(ps.rejected))
	for reason, n := range ps.rejected {
		rejected[reason] = n
	}
	return StatsSnapshot{
		Events:         ps.events,
		Ignored:        ps.ignored,
		Malformed:      ps.malformed,
		Accepted:       ps.accepted,
		Vertices:       ps.vertices,
		Rejected:       rejected,
		StoreRejects:   ps.storeRejects,
		ArchiveRejects: ps.archiveRejects,
	}
}

// GetAndReset returns the counters accumulated since the last reset and
// zeroes them, along with the covered duration.
func (ps *PipelineStats) GetAndReset() (StatsSnapshot, time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	snap := ps.snapshotLocked()
	duration := time.Since(ps.lastReset)
	ps.events, ps.ignored, ps.malformed = 0, 0, 0
	ps.accepted, ps.vertices = 0, 0
	ps.rejected = make(map[ValidationReason]int64)
	ps.storeRejects, ps.archiveRejects = 0, 0
	ps.lastReset = time.Now()
	return snap, duration
}

// LogStats emits a one-line summary and resets the counters. Intended to
// be called on a fixed interval by the listener.
func (ps *PipelineStats) LogStats() {
	snap, duration := ps.GetAndReset()
	if snap.Events == 0 {
		return
	}
	var rejectedTotal int64
	for _, n := range snap.Rejected {
		rejectedTotal += n
	}
	monitoring.Logf("[Stats] %v: events=%d accepted=%d rejected=%d ignored=%d malformed=%d store_full=%d archive_full=%d vertices=%d",
		duration.Round(time.Second), snap.Events, snap.Accepted, rejectedTotal,
		snap.Ignored, snap.Malformed, snap.StoreRejects, snap.ArchiveRejects, snap.Vertices)
}
