package mesh

import (
	"math"
	"testing"
)

// quadFragment returns a valid two-triangle fragment.
func quadFragment(id string) RawFragment {
	return RawFragment{
		ID: id,
		Vertices: []Vec3{
			{0, 0, 0},
			{1, 0, 0},
			{1, 1, 0},
			{0, 1, 0},
		},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
		Transform: IdentityTransform(),
	}
}

func TestValidateAcceptsWellFormedFragment(t *testing.T) {
	v := NewFragmentValidator(ValidatorConfig{})
	frag, err := v.Validate(quadFragment("quad"))
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if frag.ID != "quad" {
		t.Errorf("expected ID quad, got %q", frag.ID)
	}
	if got := frag.TriangleCount(); got != 2 {
		t.Errorf("expected 2 triangles, got %d", got)
	}
	if frag.Bounds.Max.X != 1 || frag.Bounds.Max.Y != 1 {
		t.Errorf("unexpected bounds: %+v", frag.Bounds)
	}
}

func TestValidateRejectionReasons(t *testing.T) {
	nan := math.NaN()
	badTransform := IdentityTransform()
	badTransform[5] = math.Inf(1)

	tests := []struct {
		name   string
		raw    RawFragment
		reason ValidationReason
	}{
		{
			name: "too few vertices",
			raw: RawFragment{
				Vertices:  []Vec3{{0, 0, 0}, {1, 0, 0}},
				Indices:   []uint32{0, 1, 0},
				Transform: IdentityTransform(),
			},
			reason: ReasonTooSmall,
		},
		{
			name: "no faces",
			raw: RawFragment{
				Vertices:  []Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
				Indices:   []uint32{0, 1},
				Transform: IdentityTransform(),
			},
			reason: ReasonTooSmall,
		},
		{
			name: "nan coordinate",
			raw: RawFragment{
				Vertices:  []Vec3{{0, 0, 0}, {nan, 0, 0}, {0, 1, 0}},
				Indices:   []uint32{0, 1, 2},
				Transform: IdentityTransform(),
			},
			reason: ReasonDegenerateGeometry,
		},
		{
			name: "coordinate out of range",
			raw: RawFragment{
				Vertices:  []Vec3{{0, 0, 0}, {101, 0, 0}, {0, 1, 0}},
				Indices:   []uint32{0, 1, 2},
				Transform: IdentityTransform(),
			},
			reason: ReasonDegenerateGeometry,
		},
		{
			name: "index out of range",
			raw: RawFragment{
				Vertices:  []Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
				Indices:   []uint32{0, 1, 3},
				Transform: IdentityTransform(),
			},
			reason: ReasonIndexOutOfRange,
		},
		{
			// Index past 2^31 must still reject on 32-bit platforms,
			// where a plain int conversion would wrap negative.
			name: "index past int32 range",
			raw: RawFragment{
				Vertices:  []Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
				Indices:   []uint32{0, 1, 1<<31 + 5},
				Transform: IdentityTransform(),
			},
			reason: ReasonIndexOutOfRange,
		},
		{
			name: "non-finite transform",
			raw: RawFragment{
				Vertices:  []Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
				Indices:   []uint32{0, 1, 2},
				Transform: badTransform,
			},
			reason: ReasonInvalidTransform,
		},
	}

	v := NewFragmentValidator(ValidatorConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.raw)
			if err == nil {
				t.Fatal("expected rejection, got nil error")
			}
			if got := RejectionReason(err); got != tt.reason {
				t.Errorf("expected reason %q, got %q (%v)", tt.reason, got, err)
			}
		})
	}
}

func TestValidateSizeLimits(t *testing.T) {
	v := NewFragmentValidator(ValidatorConfig{MaxVertices: 4, MaxFaces: 1})

	raw := quadFragment("big")
	_, err := v.Validate(raw)
	if got := RejectionReason(err); got != ReasonTooLarge {
		t.Errorf("expected too_large for 2 faces with MaxFaces=1, got %q", got)
	}

	raw.Indices = raw.Indices[:3]
	if _, err := v.Validate(raw); err != nil {
		t.Errorf("single-face fragment should pass: %v", err)
	}
}

func TestValidateTrimsPartialTriangle(t *testing.T) {
	v := NewFragmentValidator(ValidatorConfig{})
	raw := quadFragment("trim")
	raw.Indices = append(raw.Indices, 1) // dangling index

	frag, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if len(frag.Indices) != 6 {
		t.Errorf("expected trailing index trimmed to 6, got %d", len(frag.Indices))
	}
}

func TestValidateIndexCheckPrecedesTrim(t *testing.T) {
	// An out-of-range index in the trailing partial triangle still rejects:
	// range checking runs over the full buffer before trimming.
	v := NewFragmentValidator(ValidatorConfig{})
	raw := quadFragment("trailing")
	raw.Indices = append(raw.Indices, 99)

	_, err := v.Validate(raw)
	if got := RejectionReason(err); got != ReasonIndexOutOfRange {
		t.Errorf("expected index_out_of_range, got %q", got)
	}
}

func TestValidateDropsMismatchedNormals(t *testing.T) {
	v := NewFragmentValidator(ValidatorConfig{})
	raw := quadFragment("normals")
	raw.Normals = []Vec3{{0, 0, 1}} // wrong length

	frag, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if frag.Normals != nil {
		t.Errorf("expected mismatched normals dropped, got %d", len(frag.Normals))
	}
}

func TestValidateCopiesBuffers(t *testing.T) {
	v := NewFragmentValidator(ValidatorConfig{})
	raw := quadFragment("copy")
	frag, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	raw.Vertices[0].X = 42
	raw.Indices[0] = 3
	if frag.Vertices[0].X != 0 || frag.Indices[0] != 0 {
		t.Error("validated fragment shares buffers with raw input")
	}
}

func TestRejectionReasonNonValidationError(t *testing.T) {
	if got := RejectionReason(errSentinel); got != "" {
		t.Errorf("expected empty reason for foreign error, got %q", got)
	}
}

var errSentinel = &testError{}

type testError struct{}

func (*testError) Error() string { return "sentinel" }
