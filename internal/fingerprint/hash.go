package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
)

// ErrHashLength is returned when comparing hashes of different lengths.
var ErrHashLength = errors.New("fingerprint: hash lengths differ")

// Hash is a fixed-length bit string stored as lowercase hex, most
// significant bit first. The empty Hash is "absent".
type Hash string

// packBits packs bits MSB-first into a hex Hash. A trailing partial byte is
// zero-padded on the right.
func packBits(b []bool) Hash {
	out := make([]byte, (len(b)+7)/8)
	for i, set := range b {
		if set {
			out[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return Hash(hex.EncodeToString(out))
}

// IsZero reports whether the hash is absent.
func (h Hash) IsZero() bool { return h == "" }

// Len returns the number of bits.
func (h Hash) Len() int { return len(h) * 4 }

// Bytes decodes the hex representation.
func (h Hash) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, fmt.Errorf("fingerprint: invalid hash %q: %w", string(h), err)
	}
	return b, nil
}

// Bit reports whether bit i (0 = most significant) is set.
func (h Hash) Bit(i int) bool {
	b, err := h.Bytes()
	if err != nil || i < 0 || i/8 >= len(b) {
		return false
	}
	return b[i/8]&(1<<(7-uint(i%8))) != 0
}

// Prefix returns the first n hex characters, or the whole hash if shorter.
func (h Hash) Prefix(n int) string {
	if len(h) <= n {
		return string(h)
	}
	return string(h[:n])
}

// HammingDistance counts differing bits between two equal-length hashes.
func HammingDistance(a, b Hash) (int, error) {
	if a.Len() != b.Len() {
		return 0, fmt.Errorf("%w: %d vs %d bits", ErrHashLength, a.Len(), b.Len())
	}
	ab, err := a.Bytes()
	if err != nil {
		return 0, err
	}
	bb, err := b.Bytes()
	if err != nil {
		return 0, err
	}
	d := 0
	for i := range ab {
		d += bits.OnesCount8(ab[i] ^ bb[i])
	}
	return d, nil
}
