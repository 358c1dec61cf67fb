package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"imgcat/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
)

// ErrVipsUnavailable is returned by LoadImageWithVips before InitVips.
var ErrVipsUnavailable = errors.New("libvips not available")

// vipsState guards libvips startup and shutdown.
var vipsState struct {
	sync.Mutex
	running bool
}

// vipsLogLevel is the most verbose libvips level worth forwarding at the
// current log level.
func vipsLogLevel() vips.LogLevel {
	switch logging.GetLevel() {
	case logging.LevelDebug:
		return vips.LogLevelInfo
	case logging.LevelInfo, logging.LevelWarn:
		return vips.LogLevelWarning
	default:
		return vips.LogLevelCritical
	}
}

// forwardVipsLog routes a libvips message to the matching log function.
// Warnings surface only at debug level since libvips is chatty about
// recoverable decoder issues.
func forwardVipsLog(domain string, level vips.LogLevel, msg string) {
	switch {
	case level <= vips.LogLevelCritical:
		logging.Error("[%s] %s", domain, msg)
	case level == vips.LogLevelWarning && logging.IsDebugEnabled():
		logging.Warn("[%s] %s", domain, msg)
	default:
		logging.Debug("[%s] %s", domain, msg)
	}
}

// InitVips starts libvips as the fallback decoder for formats the Go
// decoders lack (HEIC, AVIF, JPEG 2000). It is idempotent.
func InitVips() error {
	vipsState.Lock()
	defer vipsState.Unlock()
	if vipsState.running {
		return nil
	}

	vips.LoggingSettings(forwardVipsLog, vipsLogLevel())
	// One vips thread per call: extraction is already parallel across the
	// worker pool.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 << 20,
		MaxCacheSize:     100,
	})
	vipsState.running = true
	logging.Info("libvips %s started", vips.Version)
	return nil
}

// ShutdownVips releases libvips. Later decodes fall back to Go only.
func ShutdownVips() {
	vipsState.Lock()
	defer vipsState.Unlock()
	if !vipsState.running {
		return
	}
	vips.Shutdown()
	vipsState.running = false
	logging.Info("libvips shut down")
}

// IsVipsAvailable reports whether libvips is running.
func IsVipsAvailable() bool {
	vipsState.Lock()
	defer vipsState.Unlock()
	return vipsState.running
}

// LoadImageWithVips decodes path with libvips, shrinking so neither side
// exceeds maxDimension. Info carries the original dimensions.
func LoadImageWithVips(path string, maxDimension int) (image.Image, Info, error) {
	if !IsVipsAvailable() {
		return nil, Info{}, ErrVipsUnavailable
	}

	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		return nil, Info{}, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	info := Info{
		Width:  ref.Width(),
		Height: ref.Height(),
		Format: vipsFormatName(ref.Format()),
	}

	if err := ref.AutoRotate(); err != nil {
		return nil, Info{}, fmt.Errorf("vips autorotate: %w", err)
	}

	w, h, shrink := constrainedSize(ref.Width(), ref.Height(), maxDimension, MaxImagePixels)
	if shrink {
		if err := ref.Thumbnail(w, h, vips.InterestingNone); err != nil {
			return nil, Info{}, fmt.Errorf("vips thumbnail: %w", err)
		}
	}

	// PNG keeps the pixels lossless between libvips and the Go side.
	buf, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, Info{}, fmt.Errorf("vips export: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, Info{}, fmt.Errorf("decode vips output: %w", err)
	}
	return img, info, nil
}

func vipsFormatName(t vips.ImageType) string {
	if name, ok := vips.ImageTypes[t]; ok && name != "" {
		return strings.ToLower(name)
	}
	return "unknown"
}
