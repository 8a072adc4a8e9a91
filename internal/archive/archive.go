package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/meshscan-io/meshscan/internal/monitoring"
)

// DefaultArchiveCapacity bounds concurrent record files. The cap is small
// because archival cost is dominated by file I/O, not memory: each record
// may hold thousands of points.
const DefaultArchiveCapacity = 3

// FragmentArchiveConfig contains configuration for a FragmentArchive.
type FragmentArchiveConfig struct {
	// Dir is the base directory for record namespaces. Empty selects a
	// directory under os.TempDir().
	Dir string
	// Capacity is the maximum number of records (default: 3).
	Capacity int
}

// FragmentArchive stores fragment records as individual files under a
// session-scoped namespace directory. Append rejects once at capacity;
// Clear deletes the namespace as a unit and starts a fresh one, so a
// stale file left behind by a failed deletion cannot leak into a later
// session.
type FragmentArchive struct {
	baseDir  string
	capacity int

	mu         sync.Mutex
	namespace  string // current session-scoped subdirectory, created lazily
	generation uint64 // namespace epoch, advanced by Clear
	seq        int    // monotonic record sequence within the namespace
	count      int
}

// NewFragmentArchive creates an archive rooted at cfg.Dir.
func NewFragmentArchive(cfg FragmentArchiveConfig) *FragmentArchive {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "meshscan-archive")
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultArchiveCapacity
	}
	return &FragmentArchive{
		baseDir:  dir,
		capacity: capacity,
	}
}

// Capacity returns the configured record limit.
func (a *FragmentArchive) Capacity() int { return a.capacity }

// Count returns the number of records in the current namespace.
func (a *FragmentArchive) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// namespaceDirLocked returns the current namespace directory, creating a
// fresh one on first use. Caller holds a.mu.
func (a *FragmentArchive) namespaceDirLocked() (string, error) {
	if a.namespace == "" {
		a.namespace = uuid.New().String()
		a.seq = 0
		a.count = 0
	}
	dir := filepath.Join(a.baseDir, a.namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive namespace %s: %w", dir, err)
	}
	return dir, nil
}

// Generation identifies the current namespace epoch; Clear advances it.
// Writers that stage records outside the archive lock capture it with
// their batch and pass it to AppendGeneration.
func (a *FragmentArchive) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// Append writes one record file. It returns (false, nil) once the archive
// is at capacity and (false, err) on I/O failure; both are non-fatal to
// the session.
func (a *FragmentArchive) Append(rec *ArchiveRecord) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.appendLocked(rec)
}

// AppendGeneration is Append gated on gen still being current. A batch
// taken before a Clear carries the old generation, so its records are
// dropped here instead of leaking into the next session's namespace.
func (a *FragmentArchive) AppendGeneration(rec *ArchiveRecord, gen uint64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.generation {
		debugf("[FragmentArchive] dropped stale record %s (generation %d, now %d)",
			rec.ID, gen, a.generation)
		return false, nil
	}
	return a.appendLocked(rec)
}

func (a *FragmentArchive) appendLocked(rec *ArchiveRecord) (bool, error) {
	if a.count >= a.capacity {
		return false, nil
	}
	dir, err := a.namespaceDirLocked()
	if err != nil {
		return false, err
	}

	blob, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}

	a.seq++
	name := fmt.Sprintf("%04d-%s.rec", a.seq, sanitizeID(rec.ID))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		a.seq--
		return false, fmt.Errorf("write record %s: %w", path, err)
	}
	a.count++
	debugf("[FragmentArchive] wrote record %s (%d vertices, %d/%d records)",
		name, len(rec.Vertices), a.count, a.capacity)
	return true, nil
}

// LoadAll reads every record in the current namespace in append order.
// Records that fail to decode are logged and skipped rather than failing
// the whole load.
func (a *FragmentArchive) LoadAll() ([]*ArchiveRecord, error) {
	a.mu.Lock()
	if a.namespace == "" {
		a.mu.Unlock()
		return nil, nil
	}
	dir := filepath.Join(a.baseDir, a.namespace)
	a.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive namespace %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".rec" {
			names = append(names, e.Name())
		}
	}
	// Sequence prefix in the filename preserves append order.
	sort.Strings(names)

	records := make([]*ArchiveRecord, 0, len(names))
	for _, name := range names {
		blob, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			monitoring.Logf("[FragmentArchive] skipping unreadable record %s: %v", name, err)
			continue
		}
		rec, err := decodeRecord(blob)
		if err != nil {
			monitoring.Logf("[FragmentArchive] skipping corrupt record %s: %v", name, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clear deletes the current namespace and its records as a unit. The
// archive then rotates to a fresh namespace regardless of whether the
// deletion succeeded.
func (a *FragmentArchive) Clear() error {
	a.mu.Lock()
	namespace := a.namespace
	a.namespace = ""
	a.generation++
	a.seq = 0
	a.count = 0
	a.mu.Unlock()

	if namespace == "" {
		return nil
	}
	dir := filepath.Join(a.baseDir, namespace)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete archive namespace %s: %w", dir, err)
	}
	return nil
}

// sanitizeID makes a fragment ID safe to embed in a filename.
func sanitizeID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "fragment"
	}
	return string(out)
}
