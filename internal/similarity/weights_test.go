package similarity

import (
	"math"
	"testing"

	"imgcat/internal/fingerprint"
)

func TestPresets(t *testing.T) {
	t.Parallel()

	for _, name := range PresetNames() {
		w, ok := Preset(name)
		if !ok {
			t.Fatalf("Preset(%q) missing", name)
		}
		if err := w.Validate(); err != nil {
			t.Errorf("preset %q invalid: %v", name, err)
		}
	}

	w, _ := Preset("DEFAULT")
	if w[fingerprint.Embedding] != 0.7 || w[fingerprint.Shape] != 0.2 || w[fingerprint.Color] != 0.1 {
		t.Errorf("default preset = %v", w)
	}

	// Presets are copies.
	w[fingerprint.Embedding] = 0
	if again, _ := Preset(PresetDefault); again[fingerprint.Embedding] != 0.7 {
		t.Error("mutating a preset copy changed the preset")
	}

	if _, ok := Preset("nope"); ok {
		t.Error("unknown preset should not resolve")
	}
}

func TestWeightsNormalize(t *testing.T) {
	t.Parallel()

	w := Weights{fingerprint.Embedding: 2, fingerprint.Color: 2, fingerprint.Shape: 0}.Normalize()
	if len(w) != 2 {
		t.Fatalf("Normalize() kept %d weights, want 2", len(w))
	}
	if math.Abs(w[fingerprint.Embedding]-0.5) > 1e-12 || math.Abs(w[fingerprint.Color]-0.5) > 1e-12 {
		t.Errorf("Normalize() = %v", w)
	}
	if got := (Weights{}).Normalize(); len(got) != 0 {
		t.Errorf("empty Normalize() = %v", got)
	}
}

func TestParseWeights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Weights
		wantErr bool
	}{
		{in: "embedding=0.7,shape=0.2,color=0.1", want: Weights{fingerprint.Embedding: 0.7, fingerprint.Shape: 0.2, fingerprint.Color: 0.1}},
		{in: " phash = 1 , ", want: Weights{fingerprint.PHash: 1}},
		{in: "embedding", wantErr: true},
		{in: "texture=1", wantErr: true},
		{in: "color=abc", wantErr: true},
		{in: "color=-1", wantErr: true},
		{in: "color=0", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWeights(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWeights(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ParseWeights(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for m, v := range tt.want {
				if got[m] != v {
					t.Errorf("weight %s = %v, want %v", m, got[m], v)
				}
			}
		})
	}
}

func TestWeightsString(t *testing.T) {
	t.Parallel()

	w := Weights{fingerprint.Color: 0.1, fingerprint.Embedding: 0.7}
	if got := w.String(); got != "color=0.1,embedding=0.7" {
		t.Errorf("String() = %q", got)
	}
	back, err := ParseWeights(w.String())
	if err != nil || back[fingerprint.Color] != 0.1 || back[fingerprint.Embedding] != 0.7 {
		t.Errorf("ParseWeights(String()) = %v, %v", back, err)
	}
}
