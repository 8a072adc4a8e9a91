package mesh

import "math"

// Vec3 is a 3D position in meters.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Transform is a 4x4 row-major homogeneous transform:
// m00,m01,m02,m03, m10,... It maps fragment-local coordinates to world space.
type Transform [16]float64

// IdentityTransform returns the identity transform.
func IdentityTransform() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Apply transforms a local-space point into world space.
func (t Transform) Apply(p Vec3) Vec3 {
	return Vec3{
		X: t[0]*p.X + t[1]*p.Y + t[2]*p.Z + t[3],
		Y: t[4]*p.X + t[5]*p.Y + t[6]*p.Z + t[7],
		Z: t[8]*p.X + t[9]*p.Y + t[10]*p.Z + t[11],
	}
}

// Finite reports whether every matrix entry is a finite number.
func (t Transform) Finite() bool {
	for _, v := range t {
		if !isFinite(v) {
			return false
		}
	}
	return true
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// ComputeBounds returns the axis-aligned bounds of a point set.
// An empty input yields the zero Bounds.
func ComputeBounds(points []Vec3) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b.Min.X = math.Min(b.Min.X, p.X)
		b.Min.Y = math.Min(b.Min.Y, p.Y)
		b.Min.Z = math.Min(b.Min.Z, p.Z)
		b.Max.X = math.Max(b.Max.X, p.X)
		b.Max.Y = math.Max(b.Max.Y, p.Y)
		b.Max.Z = math.Max(b.Max.Z, p.Z)
	}
	return b
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
