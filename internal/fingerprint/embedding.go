package fingerprint

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Engine runs an image-classification model and returns the penultimate
// layer output for one input tensor.
type Engine interface {
	// Infer takes a 1x3xSxS tensor in CHW order and returns the raw
	// embedding of length Dimensions().
	Infer(input []float32) ([]float32, error)
	InputSize() int
	Dimensions() int
	Close() error
}

// ImageNet normalization constants.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// prepareTensor center-crops img to size x size and lays it out as a
// normalized CHW float tensor.
func prepareTensor(img image.Image, size int) ([]float32, error) {
	if img.Bounds().Empty() {
		return nil, errEmptyImage
	}
	if size < 1 {
		return nil, fmt.Errorf("fingerprint: invalid model input size %d", size)
	}

	sq := imaging.Fill(img, size, size, imaging.Center, imaging.Linear)
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := sq.Pix[y*sq.Stride:]
		for x := 0; x < size; x++ {
			for c := 0; c < 3; c++ {
				v := float32(row[x*4+c]) / 255
				out[c*plane+y*size+x] = (v - imagenetMean[c]) / imagenetStd[c]
			}
		}
	}
	return out, nil
}

// embed runs img through engine and returns an L2-normalized copy of the
// output.
func embed(engine Engine, img image.Image) ([]float32, error) {
	if engine == nil {
		return nil, errors.New("fingerprint: no inference engine configured")
	}
	input, err := prepareTensor(img, engine.InputSize())
	if err != nil {
		return nil, err
	}
	raw, err := engine.Infer(input)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(raw) != engine.Dimensions() {
		return nil, fmt.Errorf("fingerprint: engine returned %d values, want %d", len(raw), engine.Dimensions())
	}

	out := make([]float32, len(raw))
	copy(out, raw)
	for _, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, errors.New("fingerprint: engine returned non-finite values")
		}
	}
	if !NormalizeL2(out) {
		return nil, errors.New("fingerprint: engine returned a zero vector")
	}
	return out, nil
}

// NormalizeL2 scales x in place to unit L2 norm. It reports false for the
// zero vector, which is left unchanged.
func NormalizeL2(x []float32) bool {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return false
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
	return true
}
