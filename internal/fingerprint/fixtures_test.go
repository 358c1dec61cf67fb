package fingerprint

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"
)

// fill builds a w x h RGBA image from a pixel function.
func fill(w, h int, f func(x, y int) color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, f(x, y))
		}
	}
	return img
}

func gray(v uint8) color.RGBA { return color.RGBA{v, v, v, 255} }

// scene is a smooth image with some structure, used where only stability
// matters.
func scene(w, h int) *image.RGBA {
	return fill(w, h, func(x, y int) color.RGBA {
		fx, fy := float64(x)/float64(w), float64(y)/float64(h)
		c := color.RGBA{R: uint8(255 * fx), G: uint8(255 * fy), B: 90, A: 255}
		if fx > 0.3 && fx < 0.6 && fy > 0.4 && fy < 0.8 {
			c = color.RGBA{R: 240, G: 240, B: 30, A: 255}
		}
		return c
	})
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// fakeEngine returns a fixed vector, or panics/errs on demand.
type fakeEngine struct {
	size  int
	out   []float32
	err   error
	panic bool
	calls int
}

func (f *fakeEngine) Infer(input []float32) ([]float32, error) {
	f.calls++
	if f.panic {
		panic("model exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(input) != 3*f.size*f.size {
		return nil, os.ErrInvalid
	}
	out := make([]float32, len(f.out))
	copy(out, f.out)
	return out, nil
}

func (f *fakeEngine) InputSize() int  { return f.size }
func (f *fakeEngine) Dimensions() int { return len(f.out) }
func (f *fakeEngine) Close() error    { return nil }
