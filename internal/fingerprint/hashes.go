package fingerprint

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var errEmptyImage = errors.New("fingerprint: image has no pixels")

// blockPixels is the side of one block in the resized blockhash square.
const blockPixels = 4

// lumaGrid resizes img to w x h and returns row-major luminance values.
func lumaGrid(img image.Image, w, h int) ([]float64, error) {
	if img.Bounds().Empty() {
		return nil, errEmptyImage
	}
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("fingerprint: invalid grid %dx%d", w, h)
	}
	g := imaging.Grayscale(imaging.Resize(img, w, h, imaging.Box))
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < w; x++ {
			out[y*w+x] = float64(row[x*4])
		}
	}
	return out, nil
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// perceptualHash binarizes a size x size luminance grid against its mean.
func perceptualHash(img image.Image, size int) (Hash, error) {
	grid, err := lumaGrid(img, size, size)
	if err != nil {
		return "", err
	}
	m := mean(grid)
	bits := make([]bool, len(grid))
	for i, v := range grid {
		bits[i] = v > m
	}
	return packBits(bits), nil
}

// differenceHash compares horizontal neighbours on a (size+1) x size grid,
// row-major, one bit per left > right.
func differenceHash(img image.Image, size int) (Hash, error) {
	w := size + 1
	grid, err := lumaGrid(img, w, size)
	if err != nil {
		return "", err
	}
	bits := make([]bool, 0, size*size)
	for y := 0; y < size; y++ {
		row := grid[y*w : (y+1)*w]
		for x := 0; x < size; x++ {
			bits = append(bits, row[x] > row[x+1])
		}
	}
	return packBits(bits), nil
}

// blockHash splits a square resize into k x k blocks and binarizes each
// block mean against the mean of all blocks, giving k*k bits.
func blockHash(img image.Image, k int) (Hash, error) {
	side := k * blockPixels
	grid, err := lumaGrid(img, side, side)
	if err != nil {
		return "", err
	}

	blocks := make([]float64, k*k)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			blocks[(y/blockPixels)*k+x/blockPixels] += grid[y*side+x]
		}
	}
	for i := range blocks {
		blocks[i] /= blockPixels * blockPixels
	}

	m := mean(blocks)
	bits := make([]bool, len(blocks))
	for i, v := range blocks {
		bits[i] = v > m
	}
	return packBits(bits), nil
}
