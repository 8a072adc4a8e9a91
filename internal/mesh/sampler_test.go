package mesh

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSamplerMergesPointsWithinCell(t *testing.T) {
	s := NewSpatialGridSampler(SamplerConfig{CellSize: 0.3})
	points := []Vec3{
		{0, 0, 0},
		{0.05, 0, 0},
		{5, 5, 5},
	}

	sampled := s.Sample(points)
	if len(sampled) != 2 {
		t.Fatalf("expected 2 sampled points, got %d", len(sampled))
	}

	// The two near-origin points collapse to their mean.
	got := sampled[0].Position
	if math.Abs(got.X-0.025) > 1e-9 || got.Y != 0 || got.Z != 0 {
		t.Errorf("unexpected cell mean: %+v", got)
	}
}

func TestSamplerCellBoundary(t *testing.T) {
	// Points straddling a cell boundary stay separate.
	s := NewSpatialGridSampler(SamplerConfig{CellSize: 0.1})
	sampled := s.Sample([]Vec3{
		{0.09, 0, 0},
		{0.11, 0, 0},
	})
	if len(sampled) != 2 {
		t.Errorf("expected boundary points in separate cells, got %d", len(sampled))
	}
}

func TestSamplerNegativeCoordinates(t *testing.T) {
	// floor(-0.01/0.1) = -1, so points just below zero land in their own cell.
	s := NewSpatialGridSampler(SamplerConfig{CellSize: 0.1})
	sampled := s.Sample([]Vec3{
		{-0.01, 0, 0},
		{0.01, 0, 0},
	})
	if len(sampled) != 2 {
		t.Errorf("expected 2 cells across the origin, got %d", len(sampled))
	}
}

func TestSamplerEmptyInput(t *testing.T) {
	s := NewSpatialGridSampler(SamplerConfig{})
	if got := s.Sample(nil); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestSamplerFloorClassification(t *testing.T) {
	// Y range [0, 2] with fraction 0.2 puts the threshold at 0.4: points at
	// 0 and 0.1 are floor, 1 and 2 are not. Cell size 0.05 keeps each point
	// in its own cell.
	s := NewSpatialGridSampler(SamplerConfig{CellSize: 0.05, FloorFraction: 0.2})
	sampled := s.Sample([]Vec3{
		{0, 0, 0},
		{1, 0.1, 1},
		{2, 1, 2},
		{3, 2, 3},
	})
	if len(sampled) != 4 {
		t.Fatalf("expected 4 sampled points, got %d", len(sampled))
	}

	byY := make(map[float64]PointClass)
	for _, p := range sampled {
		byY[p.Position.Y] = p.Class
	}
	wantFloor := map[float64]bool{0: true, 0.1: true, 1: false, 2: false}
	for y, floor := range wantFloor {
		want := ClassOther
		if floor {
			want = ClassFloor
		}
		if byY[y] != want {
			t.Errorf("point at y=%v: expected class %q, got %q", y, want, byY[y])
		}
	}
}

func TestSamplerFlatInputAllFloor(t *testing.T) {
	// Zero Y range makes the threshold equal to minY, so everything
	// classifies as floor.
	s := NewSpatialGridSampler(SamplerConfig{CellSize: 0.05})
	sampled := s.Sample([]Vec3{
		{0, 0.5, 0},
		{1, 0.5, 1},
	})
	for _, p := range sampled {
		if p.Class != ClassFloor {
			t.Errorf("flat input point classified %q", p.Class)
		}
	}
}

func TestSamplerDeterministic(t *testing.T) {
	s := NewSpatialGridSampler(SamplerConfig{CellSize: 0.2})
	points := []Vec3{
		{0.3, 1.2, -0.7},
		{0.31, 1.21, -0.69},
		{-2, 0, 4},
		{1.5, 0.4, 1.5},
		{1.52, 0.41, 1.49},
	}

	first := s.Sample(points)
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, s.Sample(points)); diff != "" {
			t.Fatalf("sampling is not deterministic (-first +rerun):\n%s", diff)
		}
	}
}

func TestSamplerPerRequestCellSize(t *testing.T) {
	s := NewSpatialGridSampler(SamplerConfig{CellSize: 0.05})
	points := []Vec3{{0, 0, 0}, {0.2, 0, 0}}

	if got := len(s.SampleCellSize(points, 1.0)); got != 1 {
		t.Errorf("coarse grid: expected 1 point, got %d", got)
	}
	if got := len(s.SampleCellSize(points, 0)); got != 2 {
		t.Errorf("zero cell size should fall back to configured: got %d", got)
	}
}
