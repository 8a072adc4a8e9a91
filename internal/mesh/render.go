package mesh

import "fmt"

// VertexBufferEntity is the default render entity: fragment geometry
// packed into flat world-space buffers ready for upload by an external
// renderer. It is rebuilt from scratch, never patched.
type VertexBufferEntity struct {
	FragmentID    string
	Positions     []float32 // x,y,z triples in world space
	Normals       []float32 // x,y,z triples, empty when the fragment has no normals
	Indices       []uint32
	TriangleCount int
	Bounds        Bounds
}

// VertexBufferBuilder packs validated fragments into VertexBufferEntity
// values. The packing walks every vertex, so it belongs on a worker
// goroutine; the scheduler arranges that.
type VertexBufferBuilder struct{}

// Build implements RenderBuilder.
func (VertexBufferBuilder) Build(frag *MeshFragment) (RenderEntity, error) {
	if frag == nil {
		return nil, fmt.Errorf("nil fragment")
	}
	if len(frag.Vertices) == 0 || len(frag.Indices) == 0 {
		return nil, fmt.Errorf("fragment %s has empty buffers", frag.ID)
	}

	entity := &VertexBufferEntity{
		FragmentID:    frag.ID,
		Positions:     make([]float32, 0, len(frag.Vertices)*3),
		Indices:       append([]uint32(nil), frag.Indices...),
		TriangleCount: frag.TriangleCount(),
		Bounds:        frag.Bounds,
	}
	for _, v := range frag.Vertices {
		w := frag.Transform.Apply(v)
		entity.Positions = append(entity.Positions, float32(w.X), float32(w.Y), float32(w.Z))
	}
	if len(frag.Normals) == len(frag.Vertices) {
		entity.Normals = make([]float32, 0, len(frag.Normals)*3)
		// Rotate normals without the translation column.
		t := frag.Transform
		for _, n := range frag.Normals {
			entity.Normals = append(entity.Normals,
				float32(t[0]*n.X+t[1]*n.Y+t[2]*n.Z),
				float32(t[4]*n.X+t[5]*n.Y+t[6]*n.Z),
				float32(t[8]*n.X+t[9]*n.Y+t[10]*n.Z),
			)
		}
	}
	return entity, nil
}
