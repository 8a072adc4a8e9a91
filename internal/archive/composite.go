package archive

import (
	"fmt"

	"github.com/meshscan-io/meshscan/internal/mesh"
)

// CompositeModel is the merged result of all records in a session,
// suitable for export. The reference transform is taken from the first
// record so an external writer can re-anchor the model.
type CompositeModel struct {
	Points        []mesh.Vec3
	Reference     mesh.Transform
	FragmentCount int
}

// Composite merges the world-space point sets of every archived record.
// An empty archive yields an empty model, not an error; a corrupt record
// costs only its own points (LoadAll skips it).
func (a *FragmentArchive) Composite() (*CompositeModel, error) {
	records, err := a.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load archive records: %w", err)
	}

	model := &CompositeModel{
		Reference:     mesh.IdentityTransform(),
		FragmentCount: len(records),
	}
	if len(records) == 0 {
		return model, nil
	}

	model.Reference = records[0].TransformMatrix()
	total := 0
	for _, rec := range records {
		total += len(rec.Vertices)
	}
	model.Points = make([]mesh.Vec3, 0, total)
	for _, rec := range records {
		model.Points = append(model.Points, rec.WorldPoints()...)
	}
	return model, nil
}

// Sampled reduces the composite's points with the given sampler, for
// exports that want a downsampled point cloud instead of raw vertices.
func (m *CompositeModel) Sampled(sampler *mesh.SpatialGridSampler) []mesh.SampledPoint {
	return sampler.Sample(m.Points)
}
