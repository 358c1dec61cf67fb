package fingerprint

import (
	"errors"
	"testing"
)

func TestPackBits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bits []bool
		want Hash
	}{
		{"msb first", []bool{true, false, false, false, false, false, false, false}, "80"},
		{"two bytes", []bool{
			false, false, false, false, true, true, true, true,
			true, false, false, false, false, false, false, true,
		}, "0f81"},
		{"partial byte padded right", []bool{true, true, true}, "e0"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := packBits(tt.bits); got != tt.want {
				t.Errorf("packBits() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashAccessors(t *testing.T) {
	t.Parallel()

	h := Hash("0f81")
	if h.Len() != 16 {
		t.Errorf("Len() = %d, want 16", h.Len())
	}
	if h.Bit(0) || !h.Bit(4) || !h.Bit(8) || !h.Bit(15) || h.Bit(14) {
		t.Error("Bit() does not read MSB-first")
	}
	if h.Bit(99) {
		t.Error("Bit() out of range should be false")
	}
	if got := h.Prefix(2); got != "0f" {
		t.Errorf("Prefix(2) = %q", got)
	}
	if got := h.Prefix(10); got != "0f81" {
		t.Errorf("Prefix(10) = %q", got)
	}
	if !Hash("").IsZero() || h.IsZero() {
		t.Error("IsZero() wrong")
	}
}

func TestHammingDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b Hash
		want int
	}{
		{"ff", "ff", 0},
		{"ff", "0f", 4},
		{"ff00", "00ff", 16},
		{"8000000000000001", "0000000000000000", 2},
	}
	for _, tt := range tests {
		got, err := HammingDistance(tt.a, tt.b)
		if err != nil {
			t.Fatalf("HammingDistance(%s, %s) error = %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("HammingDistance(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	if _, err := HammingDistance("ff", "ffff"); !errors.Is(err, ErrHashLength) {
		t.Errorf("length mismatch error = %v, want ErrHashLength", err)
	}
	if _, err := HammingDistance("zz", "ff"); err == nil {
		t.Error("invalid hex should fail")
	}
}
