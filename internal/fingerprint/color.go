package fingerprint

import (
	"errors"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// colorSampleSize bounds the image the histogram is computed over.
const colorSampleSize = 128

// colorHistogram quantizes R, G and B into bins each, optionally followed
// by a hueBins hue histogram over chromatic pixels, L1-normalized as one
// vector.
func colorHistogram(img image.Image, bins, hueBins int) ([]float32, error) {
	if img.Bounds().Empty() {
		return nil, errEmptyImage
	}
	if bins < 1 || bins > 256 {
		return nil, errors.New("fingerprint: color bins must be in [1, 256]")
	}

	small := imaging.Fit(img, colorSampleSize, colorSampleSize, imaging.Box)
	counts := make([]float64, 3*bins+hueBins)
	hue := counts[3*bins:]

	b := small.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := small.Pix[y*small.Stride:]
		for x := 0; x < b.Dx(); x++ {
			r, g, bl := row[x*4], row[x*4+1], row[x*4+2]
			counts[int(r)*bins/256]++
			counts[bins+int(g)*bins/256]++
			counts[2*bins+int(bl)*bins/256]++
			if hueBins > 0 {
				if h, ok := hueOf(r, g, bl); ok {
					i := int(h * float64(hueBins) / 360)
					if i >= hueBins {
						i = hueBins - 1
					}
					hue[i]++
				}
			}
		}
	}

	var total float64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return nil, errEmptyImage
	}
	out := make([]float32, len(counts))
	for i, c := range counts {
		out[i] = float32(c / total)
	}
	return out, nil
}

// hueOf returns the HSV hue in degrees. ok is false for achromatic pixels.
func hueOf(r, g, b uint8) (float64, bool) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255
	hi := math.Max(rf, math.Max(gf, bf))
	lo := math.Min(rf, math.Min(gf, bf))
	c := hi - lo
	if c < 1e-6 {
		return 0, false
	}
	var h float64
	switch hi {
	case rf:
		h = math.Mod((gf-bf)/c, 6)
	case gf:
		h = (bf-rf)/c + 2
	default:
		h = (rf-gf)/c + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, true
}
