package mesh

import (
	"errors"
	"fmt"
)

// ValidationReason classifies why a raw fragment was rejected.
type ValidationReason string

const (
	ReasonTooSmall            ValidationReason = "too_small"
	ReasonTooLarge            ValidationReason = "too_large"
	ReasonDegenerateGeometry  ValidationReason = "degenerate_geometry"
	ReasonIndexOutOfRange     ValidationReason = "index_out_of_range"
	ReasonInsufficientIndices ValidationReason = "insufficient_indices"
	ReasonInvalidTransform    ValidationReason = "invalid_transform"
)

// ValidationError reports a rejected fragment. Rejections are recovered
// locally: the fragment is dropped and nothing propagates to the session.
type ValidationError struct {
	Reason ValidationReason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fragment rejected (%s): %s", e.Reason, e.Detail)
}

// RejectionReason extracts the ValidationReason from an error returned by
// Validate, or "" if the error is not a ValidationError.
func RejectionReason(err error) ValidationReason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// ValidatorConfig contains the geometry limits for fragment validation.
// Zero values are replaced with defaults by NewFragmentValidator.
type ValidatorConfig struct {
	MinVertices   int     // minimum vertex count (default: 3)
	MaxVertices   int     // maximum vertex count (default: 65536)
	MinFaces      int     // minimum triangle count (default: 1)
	MaxFaces      int     // maximum triangle count (default: 131072)
	MaxCoordinate float64 // maximum absolute coordinate value in meters (default: 100)
}

// FragmentValidator normalises raw sensor fragments into well-formed
// triangle meshes, or rejects them. Validate is pure: it never mutates
// shared state, so it is safe to call from worker goroutines.
//
// Sensor fragments are noisy and arrive at irregular granularity; a NaN
// coordinate or out-of-range index must be caught here, before any
// downstream buffer work can read past the end of a vertex array.
type FragmentValidator struct {
	cfg ValidatorConfig
}

// NewFragmentValidator creates a validator, applying defaults for any
// zero-valued limits.
func NewFragmentValidator(cfg ValidatorConfig) *FragmentValidator {
	if cfg.MinVertices == 0 {
		cfg.MinVertices = 3
	}
	if cfg.MaxVertices == 0 {
		cfg.MaxVertices = 65536
	}
	if cfg.MinFaces == 0 {
		cfg.MinFaces = 1
	}
	if cfg.MaxFaces == 0 {
		cfg.MaxFaces = 131072
	}
	if cfg.MaxCoordinate == 0 {
		cfg.MaxCoordinate = 100.0
	}
	return &FragmentValidator{cfg: cfg}
}

// Validate checks a raw fragment and returns a normalised MeshFragment,
// or a *ValidationError describing the first failed check. Checks run in
// order: counts, coordinate sanity, index range, index trimming, transform.
// The returned fragment owns copies of the input buffers.
func (v *FragmentValidator) Validate(raw RawFragment) (*MeshFragment, error) {
	vertexCount := len(raw.Vertices)
	faceCount := len(raw.Indices) / 3

	if vertexCount < v.cfg.MinVertices || faceCount < v.cfg.MinFaces {
		return nil, &ValidationError{
			Reason: ReasonTooSmall,
			Detail: fmt.Sprintf("%d vertices, %d faces (min %d/%d)", vertexCount, faceCount, v.cfg.MinVertices, v.cfg.MinFaces),
		}
	}
	if vertexCount > v.cfg.MaxVertices || faceCount > v.cfg.MaxFaces {
		return nil, &ValidationError{
			Reason: ReasonTooLarge,
			Detail: fmt.Sprintf("%d vertices, %d faces (max %d/%d)", vertexCount, faceCount, v.cfg.MaxVertices, v.cfg.MaxFaces),
		}
	}

	for i, p := range raw.Vertices {
		if !isFinite(p.X) || !isFinite(p.Y) || !isFinite(p.Z) {
			return nil, &ValidationError{
				Reason: ReasonDegenerateGeometry,
				Detail: fmt.Sprintf("non-finite coordinate at vertex %d", i),
			}
		}
		if absOver(p.X, v.cfg.MaxCoordinate) || absOver(p.Y, v.cfg.MaxCoordinate) || absOver(p.Z, v.cfg.MaxCoordinate) {
			return nil, &ValidationError{
				Reason: ReasonDegenerateGeometry,
				Detail: fmt.Sprintf("vertex %d outside ±%.0f", i, v.cfg.MaxCoordinate),
			}
		}
	}

	// Compared in 64 bits: int(idx) would go negative on a 32-bit
	// platform for indices past 2^31 and slip through the check.
	for i, idx := range raw.Indices {
		if uint64(idx) >= uint64(vertexCount) {
			return nil, &ValidationError{
				Reason: ReasonIndexOutOfRange,
				Detail: fmt.Sprintf("index %d at position %d >= vertex count %d", idx, i, vertexCount),
			}
		}
	}

	// Trim a trailing partial triangle rather than rejecting the whole
	// fragment: sensors routinely split index buffers across events.
	trimmed := len(raw.Indices) - len(raw.Indices)%3
	if trimmed < 3 {
		return nil, &ValidationError{
			Reason: ReasonInsufficientIndices,
			Detail: fmt.Sprintf("%d indices after trimming", trimmed),
		}
	}

	if !raw.Transform.Finite() {
		return nil, &ValidationError{
			Reason: ReasonInvalidTransform,
			Detail: "non-finite transform matrix entry",
		}
	}

	frag := &MeshFragment{
		ID:        raw.ID,
		Vertices:  append([]Vec3(nil), raw.Vertices...),
		Indices:   append([]uint32(nil), raw.Indices[:trimmed]...),
		Transform: raw.Transform,
	}
	if len(raw.Normals) == len(raw.Vertices) {
		frag.Normals = append([]Vec3(nil), raw.Normals...)
	}
	frag.Bounds = ComputeBounds(frag.WorldVertices())
	return frag, nil
}

func absOver(v, limit float64) bool {
	return v > limit || v < -limit
}
