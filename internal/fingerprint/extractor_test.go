package fingerprint

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestExtractAllModalities(t *testing.T) {
	t.Parallel()

	ex, err := NewExtractor(DefaultOptions(), &fakeEngine{size: 16, out: []float32{1, 2, 2}})
	if err != nil {
		t.Fatal(err)
	}

	fp, failures := ex.Extract(scene(300, 200))
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
	if got := fp.Present(); !reflect.DeepEqual(got, AllModalities) {
		t.Errorf("Present() = %v, want all", got)
	}
	if fp.PHash.Len() != 64 || fp.DHash.Len() != 64 || fp.BlockHash.Len() != 256 {
		t.Errorf("hash lengths = %d/%d/%d", fp.PHash.Len(), fp.DHash.Len(), fp.BlockHash.Len())
	}
	if len(fp.Color) != 42 {
		t.Errorf("color len = %d, want 42", len(fp.Color))
	}
	if len(fp.Shape) != 324 {
		t.Errorf("shape len = %d, want 324", len(fp.Shape))
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	t.Parallel()

	ex, err := NewExtractor(DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	img := scene(180, 240)
	a, _ := ex.Extract(img)
	b, _ := ex.Extract(img)
	if !reflect.DeepEqual(a, b) {
		t.Error("two extractions of the same image differ")
	}
}

func TestExtractModalityFailureIsIsolated(t *testing.T) {
	t.Parallel()

	ex, err := NewExtractor(DefaultOptions(), &fakeEngine{size: 8, out: []float32{1}, panic: true})
	if err != nil {
		t.Fatal(err)
	}

	fp, failures := ex.Extract(scene(64, 64))
	if len(failures) != 1 || failures[0].Modality != Embedding {
		t.Fatalf("failures = %v, want one embedding failure", failures)
	}
	if fp.Has(Embedding) {
		t.Error("failed embedding must be absent")
	}
	for _, m := range []Modality{PHash, DHash, BlockHash, Color, Shape} {
		if !fp.Has(m) {
			t.Errorf("modality %s missing after unrelated failure", m)
		}
	}
}

func TestExtractWithoutEngineSkipsEmbedding(t *testing.T) {
	t.Parallel()

	ex, err := NewExtractor(DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Wants(Embedding) {
		t.Error("Wants(Embedding) = true without an engine")
	}
	fp, failures := ex.Extract(scene(64, 64))
	if len(failures) != 0 {
		t.Errorf("failures = %v", failures)
	}
	if fp.Has(Embedding) {
		t.Error("embedding present without an engine")
	}
}

func TestExtractSubsetOfModalities(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Modalities = []Modality{DHash, Color}
	ex, err := NewExtractor(opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	fp, _ := ex.Extract(scene(64, 64))
	if got := fp.Present(); !reflect.DeepEqual(got, []Modality{DHash, Color}) {
		t.Errorf("Present() = %v", got)
	}
}

func TestExtractFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writePNG(t, good, scene(120, 90))

	bad := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	ex, err := NewExtractor(DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}

	res, err := ex.ExtractFile(good)
	if err != nil {
		t.Fatalf("ExtractFile(good) error = %v", err)
	}
	if res.Info.Width != 120 || res.Info.Height != 90 || res.Info.Format != "png" {
		t.Errorf("Info = %+v", res.Info)
	}
	if !res.Fingerprint.Has(PHash) {
		t.Error("phash missing")
	}

	for _, path := range []string{bad, filepath.Join(dir, "missing.png")} {
		_, err := ex.ExtractFile(path)
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("ExtractFile(%s) error = %v, want *DecodeError", filepath.Base(path), err)
			continue
		}
		if de.Path != path {
			t.Errorf("DecodeError.Path = %q, want %q", de.Path, path)
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults", func(*Options) {}, false},
		{"hash too small", func(o *Options) { o.HashSize = 1 }, true},
		{"block grid too small", func(o *Options) { o.BlockGrid = 0 }, true},
		{"too many color bins", func(o *Options) { o.ColorBins = 300 }, true},
		{"negative hue bins", func(o *Options) { o.HueBins = -1 }, true},
		{"hue disabled", func(o *Options) { o.HueBins = 0 }, false},
		{"cell does not divide", func(o *Options) { o.ShapeCell = 24 }, true},
		{"zero shape bins", func(o *Options) { o.ShapeBins = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := DefaultOptions()
			tt.mutate(&o)
			if err := o.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewExtractorRejectsUnknownModality(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Modalities = []Modality{"sift"}
	if _, err := NewExtractor(opts, nil); err == nil {
		t.Error("NewExtractor() error = nil for unknown modality")
	}
}
