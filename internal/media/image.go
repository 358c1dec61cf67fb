package media

import (
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"

	"imgcat/internal/filesystem"
	"imgcat/internal/logging"
	"imgcat/internal/metrics"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// MaxImageDimension is the maximum width or height handed to the
	// extractor. Fingerprints work on tiny grids, so anything larger only
	// costs memory.
	MaxImageDimension = 4096

	// MaxImagePixels caps width * height (~20MP, ~80MB in RGBA).
	MaxImagePixels = 20_000_000
)

// ErrUnsupportedFormat is returned when neither the Go decoders nor libvips
// can read a file.
var ErrUnsupportedFormat = errors.New("media: unsupported image format")

// Info describes the source image before any downscaling.
type Info struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// Open decodes path into an image no larger than MaxImageDimension /
// MaxImagePixels. Info reports the original dimensions.
func Open(path string) (image.Image, Info, error) {
	info, err := probe(path)
	if err == nil {
		img, loadErr := LoadImageConstrained(path, MaxImageDimension, MaxImagePixels)
		if loadErr == nil {
			metrics.DecodeByFormat.WithLabelValues(info.Format, "imaging").Inc()
			return img, info, nil
		}
		err = loadErr
	}

	if IsVipsAvailable() {
		img, vinfo, vipsErr := LoadImageWithVips(path, MaxImageDimension)
		if vipsErr == nil {
			metrics.DecodeByFormat.WithLabelValues(vinfo.Format, "vips").Inc()
			return img, vinfo, nil
		}
		logging.Debug("libvips could not decode %s: %v", path, vipsErr)
	}

	format := info.Format
	if format == "" {
		format = formatFromExt(path)
	}
	metrics.DecodeErrors.WithLabelValues(format).Inc()
	if errors.Is(err, image.ErrFormat) {
		return nil, Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
	return nil, Info{}, err
}

// probe reads the header only.
func probe(path string) (Info, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return Info{}, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()
	return decodeConfig(f)
}

func decodeConfig(r io.Reader) (Info, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return Info{}, err
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

func formatFromExt(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "unknown"
	}
	return ext[1:]
}

// constrainedSize returns the target size for an image of w x h, and
// whether any downscale is needed.
func constrainedSize(width, height, maxDimension, maxPixels int) (int, int, bool) {
	if width <= maxDimension && height <= maxDimension && width*height <= maxPixels {
		return width, height, false
	}

	targetWidth, targetHeight := width, height
	if width > maxDimension || height > maxDimension {
		if width > height {
			targetWidth = maxDimension
			targetHeight = height * maxDimension / width
		} else {
			targetHeight = maxDimension
			targetWidth = width * maxDimension / height
		}
	}

	if targetPixels := targetWidth * targetHeight; targetPixels > maxPixels {
		scale := float64(maxPixels) / float64(targetPixels)
		targetWidth = int(float64(targetWidth) * scale)
		targetHeight = int(float64(targetHeight) * scale)
	}
	return max(targetWidth, 1), max(targetHeight, 1), true
}

// LoadImageConstrained loads an image with EXIF auto-orientation,
// downscaling if it exceeds the size limits.
func LoadImageConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	targetWidth, targetHeight, shrink := constrainedSize(b.Dx(), b.Dy(), maxDimension, maxPixels)
	if !shrink {
		return img, nil
	}

	logging.Debug("Constraining large image %s from %dx%d to %dx%d",
		path, b.Dx(), b.Dy(), targetWidth, targetHeight)
	return imaging.Resize(img, targetWidth, targetHeight, imaging.Box), nil
}
