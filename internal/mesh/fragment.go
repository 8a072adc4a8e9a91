// Package mesh implements the live surface-reconstruction pipeline: it
// validates mesh fragments reported by a depth sensor, keeps a bounded
// store of accepted fragments, schedules incremental render-entity
// creation, and downsamples fragment vertices into a spatial grid for
// point-cloud views and floor detection.
package mesh

// RawFragment is one mesh patch as delivered by the sensor/tracking
// subsystem, prior to validation. Buffers are untrusted: counts, index
// ranges and coordinate magnitudes are only checked by the validator.
type RawFragment struct {
	ID        string
	Vertices  []Vec3
	Normals   []Vec3 // optional, may be nil or mismatched; dropped unless len == len(Vertices)
	Indices   []uint32
	Transform Transform
}

// MeshFragment is a validated, well-formed triangle mesh owned by the
// FragmentStore. Downstream components hold references, never copies.
type MeshFragment struct {
	ID        string
	Vertices  []Vec3
	Normals   []Vec3 // nil when the sensor did not supply usable normals
	Indices   []uint32
	Transform Transform
	Bounds    Bounds // world-space axis-aligned bounds
}

// TriangleCount returns the number of triangles in the fragment.
func (f *MeshFragment) TriangleCount() int {
	return len(f.Indices) / 3
}

// WorldVertices returns the fragment's vertices transformed into world space.
func (f *MeshFragment) WorldVertices() []Vec3 {
	out := make([]Vec3, len(f.Vertices))
	for i, v := range f.Vertices {
		out[i] = f.Transform.Apply(v)
	}
	return out
}

// PointClass tags a sampled point by the floor heuristic.
type PointClass string

const (
	// ClassFloor marks points at or below the height threshold.
	ClassFloor PointClass = "floor"
	// ClassOther marks everything else.
	ClassOther PointClass = "other"
)

// SampledPoint is one voxel representative produced by the grid sampler.
// Sampled points are transient and recomputed on demand; they are never
// persisted.
type SampledPoint struct {
	Position Vec3       `json:"position"`
	Class    PointClass `json:"class"`
}

// SensorEventType identifies a fragment lifecycle event from the sensor.
type SensorEventType string

const (
	EventFragmentAdded   SensorEventType = "fragment_added"
	EventFragmentUpdated SensorEventType = "fragment_updated"
	EventFragmentRemoved SensorEventType = "fragment_removed"
)

// SensorEvent is one fragment add/update/remove notification. The core
// never polls the sensor; it only reacts to these events.
type SensorEvent struct {
	Type     SensorEventType
	Fragment RawFragment // ID only for removals
}
