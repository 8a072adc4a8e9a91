package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshscan-io/meshscan/internal/meshdb"
)

func newTestDB(t *testing.T) *meshdb.MeshDB {
	t.Helper()
	db, err := meshdb.Open(":memory:")
	require.NoError(t, err, "open test database")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExportStoreInsertAndGet(t *testing.T) {
	db := newTestDB(t)
	store := NewExportStore(db.DB)

	rec := &ExportRecord{
		SessionID:     "sess-1",
		FileName:      "/tmp/scan.asc",
		FragmentCount: 3,
		PointCount:    1200,
	}
	require.NoError(t, store.Insert(rec))
	require.NotEmpty(t, rec.ExportID, "Insert should assign an ID")
	require.NotZero(t, rec.CreatedAtNs, "Insert should assign a timestamp")

	got, err := store.Get(rec.ExportID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.FileName, got.FileName)
	require.Equal(t, 1200, got.PointCount)
	require.Equal(t, "sess-1", got.SessionID)

	missing, err := store.Get("nope")
	require.NoError(t, err)
	require.Nil(t, missing, "missing record should be (nil, nil)")
}

func TestExportStoreListOrdering(t *testing.T) {
	db := newTestDB(t)
	store := NewExportStore(db.DB)

	base := time.Now().UnixNano()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Insert(&ExportRecord{
			FileName:    "/tmp/scan.asc",
			CreatedAtNs: base + int64(i),
		}))
	}

	records, err := store.List(10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i := 1; i < len(records); i++ {
		require.GreaterOrEqual(t, records[i-1].CreatedAtNs, records[i].CreatedAtNs,
			"list must be most recent first")
	}
}

func TestExportStoreListLimit(t *testing.T) {
	db := newTestDB(t)
	store := NewExportStore(db.DB)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(&ExportRecord{FileName: "/tmp/scan.asc"}))
	}
	records, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestExportStoreDelete(t *testing.T) {
	db := newTestDB(t)
	store := NewExportStore(db.DB)

	rec := &ExportRecord{FileName: "/tmp/deleted.asc"}
	require.NoError(t, store.Insert(rec))

	fileName, err := store.Delete(rec.ExportID)
	require.NoError(t, err)
	require.Equal(t, "/tmp/deleted.asc", fileName)

	got, err := store.Get(rec.ExportID)
	require.NoError(t, err)
	require.Nil(t, got, "record should be gone after delete")

	fileName, err = store.Delete("missing")
	require.NoError(t, err)
	require.Empty(t, fileName, "deleting a missing record is a no-op")
}

func TestSessionStoreLifecycle(t *testing.T) {
	db := newTestDB(t)
	store := NewSessionStore(db.DB)

	started := time.Now()
	require.NoError(t, store.SessionStarted("sess-1", started))

	sessions, err := store.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "scanning", sessions[0].Status)
	require.Nil(t, sessions[0].CompletedAtNs, "incomplete session has no completion time")

	require.NoError(t, store.SessionCompleted("sess-1", started.Add(30*time.Second), 5, 2000))

	sessions, err = store.ListSessions(10)
	require.NoError(t, err)
	s := sessions[0]
	require.Equal(t, "complete", s.Status)
	require.Equal(t, 5, s.FragmentCount)
	require.Equal(t, 2000, s.VertexTotal)
	require.NotNil(t, s.CompletedAtNs)
}

func TestSessionStoreListOrdering(t *testing.T) {
	db := newTestDB(t)
	store := NewSessionStore(db.DB)

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.SessionStarted(id, base.Add(time.Duration(i)*time.Second)))
	}

	sessions, err := store.ListSessions(2)
	require.NoError(t, err)
	require.Len(t, sessions, 2, "limit must be applied")
	require.Equal(t, "c", sessions[0].SessionID)
	require.Equal(t, "b", sessions[1].SessionID)
}
