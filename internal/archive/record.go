// Package archive persists accepted mesh fragments as individually
// addressable record files under a session-scoped namespace, maintains a
// sqlite index of composite exports, and reassembles records into a
// composite model for export and viewing.
package archive

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/meshscan-io/meshscan/internal/mesh"
)

// ArchiveRecord is the on-disk serialisation of one mesh fragment:
// identity, vertex array, index array and a flat 16-element transform.
// Coordinates are stored as float32; sensor depth data carries no more
// precision than that and records may hold thousands of points.
type ArchiveRecord struct {
	ID        string       `cbor:"id"`
	Vertices  [][3]float32 `cbor:"vertices"`
	Indices   []uint32     `cbor:"indices"`
	Transform [16]float32  `cbor:"transform"`
}

// RecordFromFragment converts a validated fragment into its archival form.
func RecordFromFragment(frag *mesh.MeshFragment) *ArchiveRecord {
	rec := &ArchiveRecord{
		ID:       frag.ID,
		Vertices: make([][3]float32, len(frag.Vertices)),
		Indices:  append([]uint32(nil), frag.Indices...),
	}
	for i, v := range frag.Vertices {
		rec.Vertices[i] = [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
	}
	for i, v := range frag.Transform {
		rec.Transform[i] = float32(v)
	}
	return rec
}

// TransformMatrix returns the record's transform widened back to the
// pipeline's float64 form.
func (r *ArchiveRecord) TransformMatrix() mesh.Transform {
	var t mesh.Transform
	for i, v := range r.Transform {
		t[i] = float64(v)
	}
	return t
}

// WorldPoints returns the record's vertices transformed into world space.
func (r *ArchiveRecord) WorldPoints() []mesh.Vec3 {
	t := r.TransformMatrix()
	out := make([]mesh.Vec3, len(r.Vertices))
	for i, v := range r.Vertices {
		out[i] = t.Apply(mesh.Vec3{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])})
	}
	return out
}

// encodeRecord serialises a record as gzip-compressed CBOR.
func encodeRecord(rec *ArchiveRecord) ([]byte, error) {
	raw, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("cbor encode record %s: %w", rec.ID, err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress record %s: %w", rec.ID, err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("finalise record %s: %w", rec.ID, err)
	}
	return buf.Bytes(), nil
}

// decodeRecord reverses encodeRecord.
func decodeRecord(blob []byte) (*ArchiveRecord, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gunzip record: %w", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress record: %w", err)
	}
	var rec ArchiveRecord
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("cbor decode record: %w", err)
	}
	return &rec, nil
}
