package fingerprint

import (
	"reflect"
	"testing"
)

func TestParseModality(t *testing.T) {
	t.Parallel()

	for _, m := range AllModalities {
		got, err := ParseModality(" " + string(m) + " ")
		if err != nil || got != m {
			t.Errorf("ParseModality(%q) = %q, %v", m, got, err)
		}
	}
	if got, err := ParseModality("PHASH"); err != nil || got != PHash {
		t.Errorf("ParseModality(PHASH) = %q, %v", got, err)
	}
	if _, err := ParseModality("sift"); err == nil {
		t.Error("ParseModality(sift) error = nil")
	}
}

func TestFingerprintPresence(t *testing.T) {
	t.Parallel()

	var empty Fingerprint
	if !empty.IsEmpty() || empty.Has(PHash) {
		t.Error("zero Fingerprint should have no modalities")
	}

	fp := Fingerprint{DHash: "00ff", Embedding: []float32{1}}
	if got := fp.Present(); !reflect.DeepEqual(got, []Modality{DHash, Embedding}) {
		t.Errorf("Present() = %v", got)
	}
	if fp.Hash(DHash) != "00ff" || fp.Hash(Color) != "" {
		t.Error("Hash() accessor wrong")
	}
	if len(fp.Vector(Embedding)) != 1 || fp.Vector(PHash) != nil {
		t.Error("Vector() accessor wrong")
	}
	if !DHash.IsHash() || Color.IsHash() {
		t.Error("IsHash() wrong")
	}
}
