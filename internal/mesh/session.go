package mesh

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/meshscan-io/meshscan/internal/monitoring"
)

// SessionState is the scan session lifecycle state.
type SessionState string

const (
	StateIdle     SessionState = "idle"
	StateScanning SessionState = "scanning"
	StateComplete SessionState = "complete"
)

// ArchiveSink receives accepted fragments for durable storage and is
// cleared when the session restarts. Implemented by the archive package;
// the session holds the interface so persistence stays an explicit,
// passed-in collaborator rather than a process-wide singleton.
type ArchiveSink interface {
	// AppendFragment queues a fragment for archival. Returns false when
	// the archive is at capacity; the session treats that as a non-fatal
	// signal, not an error.
	AppendFragment(frag *MeshFragment) bool
	// Flush forces queued fragments to durable storage. The session
	// calls it when the capture window closes so an export started
	// right after completion sees every accepted record.
	Flush()
	// Clear drops all queued and persisted records.
	Clear() error
}

// SessionRecorder persists session lifecycle milestones (for history
// listings owned by unrelated UI). Optional.
type SessionRecorder interface {
	SessionStarted(sessionID string, startedAt time.Time) error
	SessionCompleted(sessionID string, completedAt time.Time, fragments, vertices int) error
}

// SessionConfig contains the collaborators and capture window for a
// ScanSession.
type SessionConfig struct {
	Store     *FragmentStore
	Validator *FragmentValidator
	Archive   ArchiveSink     // optional
	Recorder  SessionRecorder // optional
	Stats     *PipelineStats  // optional
	// TargetDuration auto-completes the session once elapsed time reaches
	// it. Zero means the session runs until Stop is called.
	TargetDuration time.Duration
}

// ScanSession coordinates a timed or user-controlled capture window:
// Idle → Scanning → Complete, with reset back to Idle from any state.
// Fragment events are accepted only while Scanning; late sensor events
// after stop are expected and silently ignored.
//
// Bounding the capture in a session rather than accumulating forever
// keeps progress reporting deterministic and lets the export step know
// the record set is complete.
type ScanSession struct {
	store     *FragmentStore
	validator *FragmentValidator
	archive   ArchiveSink
	recorder  SessionRecorder
	stats     *PipelineStats
	target    time.Duration

	mu           sync.Mutex
	state        SessionState
	sessionID    string
	startedAt    time.Time
	elapsed      time.Duration
	finalCount   int
	vertexTotal  int
	vertexCounts map[string]int
	archivedIDs  map[string]bool
	now          func() time.Time
}

// SessionStatus is a point-in-time snapshot for progress reporting.
type SessionStatus struct {
	SessionID      string       `json:"session_id,omitempty"`
	State          SessionState `json:"state"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
	TargetSeconds  float64      `json:"target_seconds,omitempty"`
	FragmentCount  int          `json:"fragment_count"`
	VertexTotal    int          `json:"vertex_total"`
	MeanVertices   float64      `json:"mean_vertices_per_fragment"`
}

// NewScanSession creates a session in the Idle state.
func NewScanSession(cfg SessionConfig) *ScanSession {
	return &ScanSession{
		store:        cfg.Store,
		validator:    cfg.Validator,
		archive:      cfg.Archive,
		recorder:     cfg.Recorder,
		stats:        cfg.Stats,
		target:       cfg.TargetDuration,
		state:        StateIdle,
		vertexCounts: make(map[string]int),
		archivedIDs:  make(map[string]bool),
		now:          time.Now,
	}
}

// Start begins a new capture window. Valid from Idle or Complete; all
// previously accumulated fragments and archive records are cleared.
func (s *ScanSession) Start() error {
	s.mu.Lock()
	if s.state == StateScanning {
		s.mu.Unlock()
		return fmt.Errorf("cannot start session from state %q", s.state)
	}
	s.mu.Unlock()

	// Clear the previous capture before entering Scanning: while the
	// state is still Idle or Complete, an event racing the restart is
	// ignored rather than accepted and then wiped.
	s.store.Clear()
	s.clearArchive()

	s.mu.Lock()
	if s.state == StateScanning {
		// Lost a restart race to another caller.
		s.mu.Unlock()
		return fmt.Errorf("cannot start session from state %q", StateScanning)
	}
	s.sessionID = uuid.New().String()
	s.startedAt = s.now()
	s.elapsed = 0
	s.finalCount = 0
	s.vertexTotal = 0
	s.vertexCounts = make(map[string]int)
	s.archivedIDs = make(map[string]bool)
	s.state = StateScanning
	id, startedAt := s.sessionID, s.startedAt
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.SessionStarted(id, startedAt); err != nil {
			monitoring.Logf("[ScanSession] failed to record session start %s: %v", id, err)
		}
	}
	monitoring.Logf("[ScanSession] started session %s (target=%v)", id, s.target)
	return nil
}

// Tick advances the session clock. Driven by one external clock tap
// (typically every 100-500ms) while Scanning; calls in other states are
// no-ops. When a target duration is configured and reached, the session
// completes automatically.
func (s *ScanSession) Tick() {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	s.elapsed = s.now().Sub(s.startedAt)
	if s.target > 0 && s.elapsed >= s.target {
		s.completeLocked("target_reached")
		s.mu.Unlock()
		s.flushArchive()
		return
	}
	s.mu.Unlock()
}

// Stop finalises the capture window. Valid only while Scanning.
func (s *ScanSession) Stop() error {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return fmt.Errorf("cannot stop session from state %q", s.state)
	}
	s.elapsed = s.now().Sub(s.startedAt)
	s.completeLocked("stopped")
	s.mu.Unlock()
	s.flushArchive()
	return nil
}

// completeLocked transitions Scanning → Complete. Caller holds s.mu.
func (s *ScanSession) completeLocked(reason string) {
	s.state = StateComplete
	s.finalCount = s.store.Count()
	id := s.sessionID
	completedAt := s.now()
	fragments, vertices := s.finalCount, s.vertexTotal

	if s.recorder != nil {
		if err := s.recorder.SessionCompleted(id, completedAt, fragments, vertices); err != nil {
			monitoring.Logf("[ScanSession] failed to record session completion %s: %v", id, err)
		}
	}
	monitoring.Logf("[ScanSession] session %s complete (%s): %d fragments, %d vertices after %v",
		id, reason, fragments, vertices, s.elapsed.Round(time.Millisecond))
}

// Reset clears all accumulated state and returns to Idle. Valid from any
// state.
func (s *ScanSession) Reset() {
	s.mu.Lock()
	s.state = StateIdle
	s.sessionID = ""
	s.elapsed = 0
	s.finalCount = 0
	s.vertexTotal = 0
	s.vertexCounts = make(map[string]int)
	s.archivedIDs = make(map[string]bool)
	s.mu.Unlock()

	s.store.Clear()
	s.clearArchive()
	monitoring.Logf("[ScanSession] reset")
}

// flushArchive pushes queued records to disk when the capture window
// closes, so a composite export taken right after completion is not
// missing the tail of the session.
func (s *ScanSession) flushArchive() {
	if s.archive == nil {
		return
	}
	s.archive.Flush()
}

func (s *ScanSession) clearArchive() {
	if s.archive == nil {
		return
	}
	// Archive deletion failures are logged, not propagated: a stale file
	// left behind does not corrupt future sessions, which use a fresh
	// namespace.
	if err := s.archive.Clear(); err != nil {
		monitoring.Logf("[ScanSession] archive clear failed: %v", err)
	}
}

// HandleEvent processes one sensor fragment event. Events are accepted
// only while Scanning; in Idle or Complete they are counted and ignored.
func (s *ScanSession) HandleEvent(ev SensorEvent) {
	if s.stats != nil {
		s.stats.AddEvent()
	}
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		if s.stats != nil {
			s.stats.AddIgnored()
		}
		return
	}
	s.mu.Unlock()

	switch ev.Type {
	case EventFragmentAdded, EventFragmentUpdated:
		s.handleUpsert(ev)
	case EventFragmentRemoved:
		s.handleRemove(ev.Fragment.ID)
	default:
		monitoring.Logf("[ScanSession] unknown event type %q", ev.Type)
	}
}

func (s *ScanSession) handleUpsert(ev SensorEvent) {
	raw := ev.Fragment
	if raw.ID == "" {
		// Sensors occasionally deliver anonymous patches; give them a
		// stable identity so updates and removals can still correlate.
		raw.ID = uuid.New().String()
	}

	frag, err := s.validator.Validate(raw)
	if err != nil {
		debugf("[ScanSession] %v", err)
		if s.stats != nil {
			s.stats.AddRejected(RejectionReason(err))
		}
		return
	}

	if !s.store.Upsert(frag.ID, frag) {
		debugf("[ScanSession] store at capacity, dropped fragment %s", frag.ID)
		if s.stats != nil {
			s.stats.AddStoreReject()
		}
		return
	}

	s.mu.Lock()
	s.vertexTotal += len(frag.Vertices) - s.vertexCounts[frag.ID]
	s.vertexCounts[frag.ID] = len(frag.Vertices)
	firstArchive := !s.archivedIDs[frag.ID]
	if firstArchive {
		s.archivedIDs[frag.ID] = true
	}
	s.mu.Unlock()

	if s.stats != nil {
		s.stats.AddAccepted(len(frag.Vertices))
	}

	// Archive each fragment once, on first acceptance. Updates mutate the
	// store in place; the archived record keeps the first good geometry.
	if s.archive != nil && firstArchive {
		if !s.archive.AppendFragment(frag) {
			debugf("[ScanSession] archive at capacity, fragment %s not persisted", frag.ID)
			if s.stats != nil {
				s.stats.AddArchiveReject()
			}
			s.mu.Lock()
			s.archivedIDs[frag.ID] = false
			s.mu.Unlock()
		}
	}
}

func (s *ScanSession) handleRemove(id string) {
	if id == "" {
		return
	}
	s.store.Remove(id)
	s.mu.Lock()
	if n, ok := s.vertexCounts[id]; ok {
		s.vertexTotal -= n
		delete(s.vertexCounts, id)
	}
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *ScanSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsScanning reports whether the session is accepting fragment events.
// Used by the scheduler to avoid committing batches after stop.
func (s *ScanSession) IsScanning() bool {
	return s.State() == StateScanning
}

// Status returns a progress snapshot.
func (s *ScanSession) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SessionStatus{
		SessionID:      s.sessionID,
		State:          s.state,
		ElapsedSeconds: s.elapsed.Seconds(),
		VertexTotal:    s.vertexTotal,
	}
	if s.target > 0 {
		status.TargetSeconds = s.target.Seconds()
	}
	if s.state == StateComplete {
		status.FragmentCount = s.finalCount
	} else {
		status.FragmentCount = s.store.Count()
	}
	if len(s.vertexCounts) > 0 {
		counts := make([]float64, 0, len(s.vertexCounts))
		for _, n := range s.vertexCounts {
			counts = append(counts, float64(n))
		}
		status.MeanVertices = stat.Mean(counts, nil)
	}
	return status
}
