package mesh

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SamplerConfig contains configuration for the SpatialGridSampler.
// Zero values are replaced with defaults by NewSpatialGridSampler.
type SamplerConfig struct {
	CellSize      float64 // voxel edge length in meters (default: 0.05)
	FloorFraction float64 // height fraction of the Y range tagged floor (default: 0.2)
}

// SpatialGridSampler quantises a point set into a 3D voxel grid and
// reduces each occupied voxel to its arithmetic-mean representative.
// Sampling is a deterministic many-to-one reduction: the same input set
// and cell size always yield the same output set.
//
// Floor classification is a height heuristic, not geometry-aware: it
// assumes the sensor's vertical axis is gravity-aligned and tags the
// lowest FloorFraction of the sampled Y range as floor. No normal
// analysis is performed.
type SpatialGridSampler struct {
	cellSize      float64
	floorFraction float64
}

// NewSpatialGridSampler creates a sampler, applying defaults for
// zero-valued configuration.
func NewSpatialGridSampler(cfg SamplerConfig) *SpatialGridSampler {
	if cfg.CellSize <= 0 {
		cfg.CellSize = 0.05
	}
	if cfg.FloorFraction <= 0 {
		cfg.FloorFraction = 0.2
	}
	return &SpatialGridSampler{
		cellSize:      cfg.CellSize,
		floorFraction: cfg.FloorFraction,
	}
}

// CellSize returns the configured voxel edge length.
func (s *SpatialGridSampler) CellSize() float64 { return s.cellSize }

// Sample reduces points to one representative per occupied voxel of the
// configured cell size and classifies each representative. Output is
// sorted by voxel key so repeated calls produce identical slices. An
// empty input yields an empty result.
func (s *SpatialGridSampler) Sample(points []Vec3) []SampledPoint {
	return s.SampleCellSize(points, s.cellSize)
}

// SampleCellSize is Sample with an explicit cell size, used by callers
// that vary grid resolution per view.
func (s *SpatialGridSampler) SampleCellSize(points []Vec3, cellSize float64) []SampledPoint {
	if len(points) == 0 {
		return nil
	}
	if cellSize <= 0 {
		cellSize = s.cellSize
	}

	type cell struct {
		sum   Vec3
		count int
	}
	grid := make(map[voxelKey]*cell)
	for _, p := range points {
		key := voxelKeyFor(p, cellSize)
		c := grid[key]
		if c == nil {
			c = &cell{}
			grid[key] = c
		}
		c.sum.X += p.X
		c.sum.Y += p.Y
		c.sum.Z += p.Z
		c.count++
	}

	keys := make([]voxelKey, 0, len(grid))
	for key := range grid {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	sampled := make([]SampledPoint, 0, len(keys))
	for _, key := range keys {
		c := grid[key]
		n := float64(c.count)
		sampled = append(sampled, SampledPoint{
			Position: Vec3{X: c.sum.X / n, Y: c.sum.Y / n, Z: c.sum.Z / n},
			Class:    ClassOther,
		})
	}

	s.classifyFloor(sampled)
	return sampled
}

// classifyFloor tags sampled points at or below
// minY + (maxY-minY)*floorFraction as floor.
func (s *SpatialGridSampler) classifyFloor(sampled []SampledPoint) {
	if len(sampled) == 0 {
		return
	}
	ys := make([]float64, len(sampled))
	for i, p := range sampled {
		ys[i] = p.Position.Y
	}
	minY := floats.Min(ys)
	maxY := floats.Max(ys)
	threshold := minY + (maxY-minY)*s.floorFraction
	for i := range sampled {
		if sampled[i].Position.Y <= threshold {
			sampled[i].Class = ClassFloor
		}
	}
}

type voxelKey struct {
	X, Y, Z int
}

func voxelKeyFor(p Vec3, cellSize float64) voxelKey {
	return voxelKey{
		X: int(math.Floor(p.X / cellSize)),
		Y: int(math.Floor(p.Y / cellSize)),
		Z: int(math.Floor(p.Z / cellSize)),
	}
}

func (k voxelKey) less(o voxelKey) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.Z < o.Z
}
