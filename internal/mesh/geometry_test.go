package mesh

import (
	"math"
	"testing"
)

func TestTransformApply(t *testing.T) {
	translate := IdentityTransform()
	translate[3] = 1
	translate[7] = 2
	translate[11] = 3

	got := translate.Apply(Vec3{1, 1, 1})
	want := Vec3{2, 3, 4}
	if got != want {
		t.Errorf("translation: got %+v, want %+v", got, want)
	}

	// 90 degree rotation about Y: x' = z, z' = -x.
	rot := Transform{
		0, 0, 1, 0,
		0, 1, 0, 0,
		-1, 0, 0, 0,
		0, 0, 0, 1,
	}
	got = rot.Apply(Vec3{1, 0, 0})
	want = Vec3{0, 0, -1}
	if got != want {
		t.Errorf("rotation: got %+v, want %+v", got, want)
	}
}

func TestTransformFinite(t *testing.T) {
	if !IdentityTransform().Finite() {
		t.Error("identity reported non-finite")
	}
	bad := IdentityTransform()
	bad[10] = math.NaN()
	if bad.Finite() {
		t.Error("NaN entry reported finite")
	}
	bad[10] = math.Inf(-1)
	if bad.Finite() {
		t.Error("Inf entry reported finite")
	}
}

func TestComputeBounds(t *testing.T) {
	b := ComputeBounds([]Vec3{
		{1, -2, 3},
		{-1, 5, 0},
		{0, 0, -4},
	})
	if b.Min != (Vec3{-1, -2, -4}) || b.Max != (Vec3{1, 5, 3}) {
		t.Errorf("unexpected bounds: %+v", b)
	}

	if ComputeBounds(nil) != (Bounds{}) {
		t.Error("empty input should yield zero bounds")
	}
}

func TestWorldVerticesAppliesTransform(t *testing.T) {
	frag := testFragment("t")
	frag.Transform[3] = 10 // translate X

	world := frag.WorldVertices()
	if world[0].X != 10 || world[1].X != 11 {
		t.Errorf("transform not applied: %+v", world[:2])
	}
	// Local vertices unchanged.
	if frag.Vertices[0].X != 0 {
		t.Error("WorldVertices mutated local vertices")
	}
}

func TestTriangleCount(t *testing.T) {
	frag := testFragment("t")
	if got := frag.TriangleCount(); got != 1 {
		t.Errorf("expected 1 triangle, got %d", got)
	}
}
