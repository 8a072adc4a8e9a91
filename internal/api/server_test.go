package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/meshscan-io/meshscan/internal/archive"
	"github.com/meshscan-io/meshscan/internal/mesh"
	"github.com/meshscan-io/meshscan/internal/meshdb"
)

type testEnv struct {
	server  *Server
	mux     *http.ServeMux
	session *mesh.ScanSession
	store   *mesh.FragmentStore
	archive *archive.FragmentArchive
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := meshdb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store := mesh.NewFragmentStore(8)
	validator := mesh.NewFragmentValidator(mesh.ValidatorConfig{})
	sampler := mesh.NewSpatialGridSampler(mesh.SamplerConfig{})
	stats := mesh.NewPipelineStats()
	arch := archive.NewFragmentArchive(archive.FragmentArchiveConfig{
		Dir:      t.TempDir(),
		Capacity: 3,
	})
	sessions := archive.NewSessionStore(db.DB)
	session := mesh.NewScanSession(mesh.SessionConfig{
		Store:     store,
		Validator: validator,
		Recorder:  sessions,
		Stats:     stats,
	})

	srv := NewServer(session, store, sampler, nil, stats,
		arch, archive.NewExportStore(db.DB), sessions, t.TempDir())
	return &testEnv{
		server:  srv,
		mux:     srv.ServeMux(),
		session: session,
		store:   store,
		archive: arch,
	}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Errorf("healthz: %d %q", w.Code, w.Body.String())
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/session/start")
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	var status mesh.SessionStatus
	decodeBody(t, w, &status)
	if status.State != mesh.StateScanning || status.SessionID == "" {
		t.Errorf("unexpected status after start: %+v", status)
	}

	// Starting twice conflicts.
	if w := e.do(t, http.MethodPost, "/api/session/start"); w.Code != http.StatusConflict {
		t.Errorf("double start: %d", w.Code)
	}

	if w := e.do(t, http.MethodPost, "/api/session/stop"); w.Code != http.StatusOK {
		t.Errorf("stop: %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/session/stop"); w.Code != http.StatusConflict {
		t.Errorf("stop while complete: %d", w.Code)
	}

	if w := e.do(t, http.MethodPost, "/api/session/reset"); w.Code != http.StatusOK {
		t.Errorf("reset: %d", w.Code)
	}
	decodeBody(t, e.do(t, http.MethodGet, "/api/session"), &struct {
		Session *mesh.SessionStatus `json:"session"`
	}{&status})
	if status.State != mesh.StateIdle {
		t.Errorf("state after reset: %q", status.State)
	}
}

func TestSessionStatusIncludesStats(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/session/start")
	e.session.HandleEvent(mesh.SensorEvent{
		Type: mesh.EventFragmentAdded,
		Fragment: mesh.RawFragment{
			ID:        "a",
			Vertices:  []mesh.Vec3{{X: 0}, {X: 1}, {Y: 1}},
			Indices:   []uint32{0, 1, 2},
			Transform: mesh.IdentityTransform(),
		},
	})

	var resp sessionResponse
	decodeBody(t, e.do(t, http.MethodGet, "/api/session"), &resp)
	if resp.Stats.Accepted != 1 || resp.Stats.Events != 1 {
		t.Errorf("stats not surfaced: %+v", resp.Stats)
	}
	if resp.Session.FragmentCount != 1 {
		t.Errorf("fragment count: %+v", resp.Session)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, http.MethodGet, "/api/session/start"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start: %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/points"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST points: %d", w.Code)
	}
}

func TestPointsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.store.Upsert("a", &mesh.MeshFragment{
		ID: "a",
		Vertices: []mesh.Vec3{
			{X: 0, Y: 0, Z: 0},
			{X: 0.001, Y: 0, Z: 0},
		},
		Indices:   []uint32{0, 1, 0},
		Transform: mesh.IdentityTransform(),
	})

	var resp struct {
		Count  int                 `json:"count"`
		Points []mesh.SampledPoint `json:"points"`
	}
	decodeBody(t, e.do(t, http.MethodGet, "/api/points"), &resp)
	if resp.Count != 1 || len(resp.Points) != 1 {
		t.Errorf("expected both vertices in one cell: %+v", resp)
	}

	// A finer per-request grid separates them.
	decodeBody(t, e.do(t, http.MethodGet, "/api/points?cell_size=0.0005"), &resp)
	if resp.Count != 2 {
		t.Errorf("per-request cell size ignored: %+v", resp)
	}

	if w := e.do(t, http.MethodGet, "/api/points?cell_size=bogus"); w.Code != http.StatusBadRequest {
		t.Errorf("bad cell_size: %d", w.Code)
	}
}

func TestPointsEmptyStore(t *testing.T) {
	e := newTestEnv(t)
	var resp struct {
		Count  int                 `json:"count"`
		Points []mesh.SampledPoint `json:"points"`
	}
	decodeBody(t, e.do(t, http.MethodGet, "/api/points"), &resp)
	if resp.Count != 0 || resp.Points == nil {
		t.Errorf("empty store should yield empty array: %+v", resp)
	}
}

func archiveQuad(t *testing.T, a *archive.FragmentArchive, id string) {
	t.Helper()
	ok, err := a.Append(archive.RecordFromFragment(&mesh.MeshFragment{
		ID: id,
		Vertices: []mesh.Vec3{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 1, Y: 1, Z: 0},
		},
		Indices:   []uint32{0, 1, 2},
		Transform: mesh.IdentityTransform(),
	}))
	if !ok || err != nil {
		t.Fatalf("archive append: ok=%v err=%v", ok, err)
	}
}

func TestExportFlow(t *testing.T) {
	e := newTestEnv(t)
	archiveQuad(t, e.archive, "frag-1")

	w := e.do(t, http.MethodPost, "/api/export?file_name=test.asc")
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d %s", w.Code, w.Body.String())
	}
	var rec archive.ExportRecord
	decodeBody(t, w, &rec)
	if rec.ExportID == "" || rec.PointCount != 3 || rec.FragmentCount != 1 {
		t.Errorf("unexpected export record: %+v", rec)
	}
	if _, err := os.Stat(rec.FileName); err != nil {
		t.Errorf("export artifact missing: %v", err)
	}

	var records []archive.ExportRecord
	decodeBody(t, e.do(t, http.MethodGet, "/api/exports"), &records)
	if len(records) != 1 || records[0].ExportID != rec.ExportID {
		t.Errorf("export not listed: %+v", records)
	}

	if w := e.do(t, http.MethodDelete, "/api/exports/"+rec.ExportID); w.Code != http.StatusOK {
		t.Errorf("delete: %d %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(rec.FileName); !os.IsNotExist(err) {
		t.Error("artifact survives deletion")
	}
	decodeBody(t, e.do(t, http.MethodGet, "/api/exports"), &records)
	if len(records) != 0 {
		t.Errorf("deleted export still listed: %+v", records)
	}
}

func TestExportEmptyArchiveConflicts(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, http.MethodPost, "/api/export"); w.Code != http.StatusConflict {
		t.Errorf("empty export: %d", w.Code)
	}
}

func TestExportDeleteMissing(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do(t, http.MethodDelete, "/api/exports/nope"); w.Code != http.StatusNotFound {
		t.Errorf("missing delete: %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/api/exports/"); w.Code != http.StatusBadRequest {
		t.Errorf("empty id: %d", w.Code)
	}
}

func TestSessionHistoryEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/session/start")
	e.do(t, http.MethodPost, "/api/session/stop")

	var sessions []archive.SessionSummary
	decodeBody(t, e.do(t, http.MethodGet, "/api/sessions"), &sessions)
	if len(sessions) != 1 || sessions[0].Status != "complete" {
		t.Errorf("unexpected history: %+v", sessions)
	}
}
