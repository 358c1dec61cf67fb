package fingerprint

import (
	"errors"
	"fmt"
	"image"
	"time"

	"imgcat/internal/logging"
	"imgcat/internal/media"
	"imgcat/internal/metrics"

	"github.com/disintegration/imaging"
)

// workingSize bounds the copy every modality starts from.
const workingSize = 512

// DecodeError rejects a whole file: it could not be read or decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ModalityError records one modality that could not be computed. The
// record is still written with that modality absent.
type ModalityError struct {
	Modality Modality
	Err      error
}

func (e *ModalityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Modality, e.Err)
}

func (e *ModalityError) Unwrap() error { return e.Err }

// Options controls the size of each modality.
type Options struct {
	HashSize   int        `yaml:"hash_size"`
	BlockGrid  int        `yaml:"block_grid"`
	ColorBins  int        `yaml:"color_bins"`
	HueBins    int        `yaml:"hue_bins"`
	ShapeSize  int        `yaml:"shape_size"`
	ShapeCell  int        `yaml:"shape_cell"`
	ShapeBins  int        `yaml:"shape_bins"`
	Modalities []Modality `yaml:"modalities"`
}

// DefaultOptions yields 64-bit phash/dhash, a 256-bit blockhash, a 42-bin
// color histogram and a 324-float HOG descriptor.
func DefaultOptions() Options {
	return Options{
		HashSize:   8,
		BlockGrid:  16,
		ColorBins:  8,
		HueBins:    18,
		ShapeSize:  64,
		ShapeCell:  16,
		ShapeBins:  9,
		Modalities: AllModalities,
	}
}

// Validate checks sizes.
func (o Options) Validate() error {
	switch {
	case o.HashSize < 2:
		return fmt.Errorf("hash size must be at least 2, got %d", o.HashSize)
	case o.BlockGrid < 2:
		return fmt.Errorf("block grid must be at least 2, got %d", o.BlockGrid)
	case o.ColorBins < 1 || o.ColorBins > 256:
		return fmt.Errorf("color bins must be in [1, 256], got %d", o.ColorBins)
	case o.HueBins < 0:
		return fmt.Errorf("hue bins must not be negative, got %d", o.HueBins)
	case o.ShapeCell < 1 || o.ShapeSize%o.ShapeCell != 0 || o.ShapeSize/o.ShapeCell < 2:
		return fmt.Errorf("shape size %d must hold at least 2x2 cells of %d", o.ShapeSize, o.ShapeCell)
	case o.ShapeBins < 1:
		return fmt.Errorf("shape bins must be positive, got %d", o.ShapeBins)
	}
	return nil
}

// Result is a successful extraction. Failures lists the modalities left
// absent.
type Result struct {
	Fingerprint Fingerprint
	Info        media.Info
	Failures    []ModalityError
}

// Extractor derives fingerprints. It is safe for concurrent use when the
// engine is.
type Extractor struct {
	opts   Options
	engine Engine
	wanted map[Modality]bool
}

// NewExtractor creates an extractor. engine may be nil, in which case the
// embedding modality is never produced.
func NewExtractor(opts Options, engine Engine) (*Extractor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Modalities) == 0 {
		opts.Modalities = AllModalities
	}
	wanted := make(map[Modality]bool, len(opts.Modalities))
	for _, m := range opts.Modalities {
		if _, err := ParseModality(string(m)); err != nil {
			return nil, err
		}
		wanted[m] = true
	}
	if engine == nil {
		delete(wanted, Embedding)
	}
	return &Extractor{opts: opts, engine: engine, wanted: wanted}, nil
}

// Options returns the extractor's options.
func (e *Extractor) Options() Options { return e.opts }

// Wants reports whether the extractor produces modality m.
func (e *Extractor) Wants(m Modality) bool { return e.wanted[m] }

// ExtractFile decodes path and extracts every wanted modality. Only a read
// or decode failure returns an error, always a *DecodeError.
func (e *Extractor) ExtractFile(path string) (Result, error) {
	img, info, err := media.Open(path)
	if err != nil {
		return Result{}, &DecodeError{Path: path, Err: err}
	}

	fp, failures := e.Extract(img)
	for _, f := range failures {
		logging.Warn("Fingerprint %s: modality %s failed: %v", path, f.Modality, f.Err)
	}
	return Result{Fingerprint: fp, Info: info, Failures: failures}, nil
}

// Extract computes each wanted modality independently. A failing or
// panicking modality is reported and left absent.
func (e *Extractor) Extract(img image.Image) (Fingerprint, []ModalityError) {
	var fp Fingerprint
	var failures []ModalityError

	if img == nil || img.Bounds().Empty() {
		for _, m := range AllModalities {
			if e.wanted[m] {
				failures = append(failures, ModalityError{Modality: m, Err: errEmptyImage})
				metrics.ExtractionFailures.WithLabelValues(string(m)).Inc()
			}
		}
		return fp, failures
	}

	base := imaging.Fit(img, workingSize, workingSize, imaging.Box)

	for _, m := range AllModalities {
		if !e.wanted[m] {
			continue
		}
		start := time.Now()
		err := e.run(m, base, img, &fp)
		metrics.ExtractionDuration.WithLabelValues(string(m)).Observe(time.Since(start).Seconds())
		if err != nil {
			failures = append(failures, ModalityError{Modality: m, Err: err})
			metrics.ExtractionFailures.WithLabelValues(string(m)).Inc()
		}
	}
	return fp, failures
}

// run computes one modality into fp, converting a panic into an error.
func (e *Extractor) run(m Modality, base, orig image.Image, fp *Fingerprint) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch m {
	case PHash:
		fp.PHash, err = perceptualHash(base, e.opts.HashSize)
	case DHash:
		fp.DHash, err = differenceHash(base, e.opts.HashSize)
	case BlockHash:
		fp.BlockHash, err = blockHash(base, e.opts.BlockGrid)
	case Color:
		fp.Color, err = colorHistogram(base, e.opts.ColorBins, e.opts.HueBins)
	case Shape:
		fp.Shape, err = shapeDescriptor(base, e.opts.ShapeSize, e.opts.ShapeCell, e.opts.ShapeBins)
	case Embedding:
		// The model may want more than the working copy holds.
		src := base
		if e.engine.InputSize() > workingSize {
			src = orig
		}
		fp.Embedding, err = embed(e.engine, src)
	default:
		err = errors.New("unknown modality")
	}
	return err
}
