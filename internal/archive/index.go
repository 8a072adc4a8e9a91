package archive

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExportRecord is one composite export's metadata, persisted in the index
// for listing and deletion by unrelated UI.
type ExportRecord struct {
	ExportID      string `json:"export_id"`
	SessionID     string `json:"session_id,omitempty"`
	FileName      string `json:"file_name"`
	CreatedAtNs   int64  `json:"created_at_ns"`
	FragmentCount int    `json:"fragment_count"`
	PointCount    int    `json:"point_count"`
}

// ExportStore provides persistence for composite export metadata.
type ExportStore struct {
	db *sql.DB
}

// NewExportStore creates a new ExportStore.
func NewExportStore(db *sql.DB) *ExportStore {
	return &ExportStore{db: db}
}

// Insert creates a new export record. If rec.ExportID is empty, a new
// UUID is generated.
func (s *ExportStore) Insert(rec *ExportRecord) error {
	if rec.ExportID == "" {
		rec.ExportID = uuid.New().String()
	}
	if rec.CreatedAtNs == 0 {
		rec.CreatedAtNs = time.Now().UnixNano()
	}

	query := `
		INSERT INTO mesh_exports (
			export_id, session_id, file_name, created_at_ns, fragment_count, point_count
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		rec.ExportID,
		nullString(rec.SessionID),
		rec.FileName,
		rec.CreatedAtNs,
		rec.FragmentCount,
		rec.PointCount,
	)
	if err != nil {
		return fmt.Errorf("insert export %s: %w", rec.ExportID, err)
	}
	return nil
}

// Get returns one export record, or nil when absent.
func (s *ExportStore) Get(exportID string) (*ExportRecord, error) {
	query := `
		SELECT export_id, session_id, file_name, created_at_ns, fragment_count, point_count
		FROM mesh_exports
		WHERE export_id = ?
	`
	var rec ExportRecord
	var sessionID sql.NullString
	err := s.db.QueryRow(query, exportID).Scan(
		&rec.ExportID, &sessionID, &rec.FileName,
		&rec.CreatedAtNs, &rec.FragmentCount, &rec.PointCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get export %s: %w", exportID, err)
	}
	if sessionID.Valid {
		rec.SessionID = sessionID.String
	}
	return &rec, nil
}

// List returns export records ordered by most recent first.
func (s *ExportStore) List(limit int) ([]ExportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT export_id, session_id, file_name, created_at_ns, fragment_count, point_count
		FROM mesh_exports
		ORDER BY created_at_ns DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	var records []ExportRecord
	for rows.Next() {
		var rec ExportRecord
		var sessionID sql.NullString
		if err := rows.Scan(&rec.ExportID, &sessionID, &rec.FileName,
			&rec.CreatedAtNs, &rec.FragmentCount, &rec.PointCount); err != nil {
			return nil, fmt.Errorf("scan export row: %w", err)
		}
		if sessionID.Valid {
			rec.SessionID = sessionID.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes an export record and returns its file name so the
// caller can remove the artifact. Returns ("", nil) when the record does
// not exist.
func (s *ExportStore) Delete(exportID string) (string, error) {
	rec, err := s.Get(exportID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	if _, err := s.db.Exec(`DELETE FROM mesh_exports WHERE export_id = ?`, exportID); err != nil {
		return "", fmt.Errorf("delete export %s: %w", exportID, err)
	}
	return rec.FileName, nil
}

// SessionStore persists scan session lifecycle milestones. It implements
// mesh.SessionRecorder.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// SessionStarted inserts a row for a newly started session.
func (s *SessionStore) SessionStarted(sessionID string, startedAt time.Time) error {
	query := `
		INSERT INTO scan_sessions (session_id, started_at_ns, status)
		VALUES (?, ?, 'scanning')
	`
	if _, err := s.db.Exec(query, sessionID, startedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert session %s: %w", sessionID, err)
	}
	return nil
}

// SessionCompleted finalises a session row with its statistics.
func (s *SessionStore) SessionCompleted(sessionID string, completedAt time.Time, fragments, vertices int) error {
	query := `
		UPDATE scan_sessions
		SET completed_at_ns = ?, fragment_count = ?, vertex_total = ?, status = 'complete'
		WHERE session_id = ?
	`
	if _, err := s.db.Exec(query, completedAt.UnixNano(), fragments, vertices, sessionID); err != nil {
		return fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	return nil
}

// SessionSummary is one row of scan session history.
type SessionSummary struct {
	SessionID     string `json:"session_id"`
	StartedAtNs   int64  `json:"started_at_ns"`
	CompletedAtNs *int64 `json:"completed_at_ns,omitempty"`
	FragmentCount int    `json:"fragment_count"`
	VertexTotal   int    `json:"vertex_total"`
	Status        string `json:"status"`
}

// ListSessions returns recent sessions, most recent first.
func (s *SessionStore) ListSessions(limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT session_id, started_at_ns, completed_at_ns, fragment_count, vertex_total, status
		FROM scan_sessions
		ORDER BY started_at_ns DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var rec SessionSummary
		var completedAt sql.NullInt64
		if err := rows.Scan(&rec.SessionID, &rec.StartedAtNs, &completedAt,
			&rec.FragmentCount, &rec.VertexTotal, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if completedAt.Valid {
			v := completedAt.Int64
			rec.CompletedAtNs = &v
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

// nullString converts empty strings to nil for SQL storage.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
