package fingerprint

import (
	"image/color"
	"math"
	"testing"
)

func TestShapeDescriptorLength(t *testing.T) {
	t.Parallel()

	got, err := shapeDescriptor(scene(200, 120), 64, 16, 9)
	if err != nil {
		t.Fatalf("shapeDescriptor() error = %v", err)
	}
	if want := ShapeLen(64, 16, 9); len(got) != want || want != 324 {
		t.Errorf("len = %d, ShapeLen = %d, want 324", len(got), want)
	}
}

func TestShapeDescriptorBlocksAreUnitOrZero(t *testing.T) {
	t.Parallel()

	checker := fill(128, 128, func(x, y int) color.RGBA {
		if (x/16+y/16)%2 == 0 {
			return gray(255)
		}
		return gray(0)
	})
	got, err := shapeDescriptor(checker, 64, 16, 9)
	if err != nil {
		t.Fatal(err)
	}

	blockLen := ShapeBlockLen(9)
	nonZero := 0
	for start := 0; start < len(got); start += blockLen {
		var s float64
		for _, v := range got[start : start+blockLen] {
			if v < 0 {
				t.Fatalf("negative HOG value %v", v)
			}
			s += float64(v) * float64(v)
		}
		if s == 0 {
			continue
		}
		nonZero++
		if math.Abs(math.Sqrt(s)-1) > 1e-4 {
			t.Errorf("block at %d has norm %v, want 1", start, math.Sqrt(s))
		}
	}
	if nonZero == 0 {
		t.Error("checkerboard produced no edges")
	}
}

func TestShapeDescriptorFlatImageIsZero(t *testing.T) {
	t.Parallel()

	got, err := shapeDescriptor(fill(64, 64, func(_, _ int) color.RGBA { return gray(77) }), 64, 16, 9)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != 0 {
			t.Fatalf("value %d = %v, want 0 for a flat image", i, v)
		}
	}
}

func TestShapeDescriptorInvalidGeometry(t *testing.T) {
	t.Parallel()

	img := scene(32, 32)
	for _, tc := range []struct{ size, cell, bins int }{
		{64, 0, 9},
		{64, 20, 9},
		{16, 16, 9},
		{64, 16, 0},
	} {
		if _, err := shapeDescriptor(img, tc.size, tc.cell, tc.bins); err == nil {
			t.Errorf("shapeDescriptor(size=%d cell=%d bins=%d) error = nil", tc.size, tc.cell, tc.bins)
		}
	}
}

func TestL2Hys(t *testing.T) {
	t.Parallel()

	v := []float64{10, 0, 0, 0}
	l2Hys(v)
	if math.Abs(v[0]-1) > 1e-12 {
		t.Errorf("single spike = %v, want 1 after clip and renormalize", v[0])
	}

	z := []float64{0, 0}
	l2Hys(z)
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("zero block changed: %v", z)
	}
}
