package fingerprint

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

var laplacian = [9]float64{
	0, 1, 0,
	1, -4, 1,
	0, 1, 0,
}

// hysClip is the L2-Hys clipping threshold.
const hysClip = 0.2

// ShapeBlockLen is the length of one normalized HOG block (2x2 cells).
func ShapeBlockLen(bins int) int { return 4 * bins }

// ShapeLen is the descriptor length for a size x size canonical image with
// cell-pixel cells.
func ShapeLen(size, cell, bins int) int {
	cells := size / cell
	return (cells - 1) * (cells - 1) * ShapeBlockLen(bins)
}

// shapeDescriptor runs a Laplacian edge filter, resizes the edge map to a
// size x size square and computes a HOG descriptor over it: unsigned
// orientations in bins, cell-pixel cells, overlapping 2x2 blocks with
// L2-Hys normalization.
func shapeDescriptor(img image.Image, size, cell, bins int) ([]float32, error) {
	if img.Bounds().Empty() {
		return nil, errEmptyImage
	}
	if cell < 1 || size%cell != 0 || size/cell < 2 {
		return nil, fmt.Errorf("fingerprint: shape size %d not divisible into at least 2x2 cells of %d", size, cell)
	}
	if bins < 1 {
		return nil, fmt.Errorf("fingerprint: shape bins must be positive, got %d", bins)
	}

	work := imaging.Grayscale(imaging.Fit(img, 4*size, 4*size, imaging.Box))
	edges := imaging.Convolve3x3(work, laplacian, &imaging.ConvolveOptions{Abs: true})
	canon := imaging.Resize(edges, size, size, imaging.Linear)

	px := func(x, y int) float64 {
		x = min(max(x, 0), size-1)
		y = min(max(y, 0), size-1)
		return float64(canon.Pix[y*canon.Stride+x*4])
	}

	cells := size / cell
	hist := make([]float64, cells*cells*bins)
	binWidth := 180.0 / float64(bins)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			gx := px(x+1, y) - px(x-1, y)
			gy := px(x, y+1) - px(x, y-1)
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			angle := math.Atan2(gy, gx) * 180 / math.Pi
			if angle < 0 {
				angle += 180
			}
			if angle >= 180 {
				angle -= 180
			}

			pos := angle/binWidth - 0.5
			b0 := int(math.Floor(pos))
			frac := pos - float64(b0)
			b1 := b0 + 1
			b0 = (b0 + bins) % bins
			b1 = b1 % bins

			c := ((y/cell)*cells + x/cell) * bins
			hist[c+b0] += mag * (1 - frac)
			hist[c+b1] += mag * frac
		}
	}

	blockLen := ShapeBlockLen(bins)
	out := make([]float32, 0, ShapeLen(size, cell, bins))
	block := make([]float64, blockLen)
	for by := 0; by < cells-1; by++ {
		for bx := 0; bx < cells-1; bx++ {
			block = block[:0]
			for _, c := range [4][2]int{{by, bx}, {by, bx + 1}, {by + 1, bx}, {by + 1, bx + 1}} {
				start := (c[0]*cells + c[1]) * bins
				block = append(block, hist[start:start+bins]...)
			}
			l2Hys(block)
			for _, v := range block {
				out = append(out, float32(v))
			}
		}
	}
	return out, nil
}

// l2Hys L2-normalizes v, clips at hysClip and renormalizes. All-zero
// blocks stay zero.
func l2Hys(v []float64) {
	normalize := func() {
		var s float64
		for _, x := range v {
			s += x * x
		}
		if s == 0 {
			return
		}
		n := math.Sqrt(s)
		for i := range v {
			v[i] /= n
		}
	}
	normalize()
	for i := range v {
		if v[i] > hysClip {
			v[i] = hysClip
		}
	}
	normalize()
}
