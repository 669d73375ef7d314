// Package fingerprint computes the digests that identify registered media:
// a whole-file digest for exact-match checks and per-block digests over the
// grayscale tiles of an image.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// DefaultBlockSize is the edge length of an image tile in pixels.
const DefaultBlockSize = 32

// ErrDecode is returned when a payload cannot be parsed as the declared media kind.
var ErrDecode = errors.New("fingerprint: decode failed")

// Algorithm names the hash function used for every digest of one record.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm accepts "sha256" or "blake3". The empty string maps to
// SHA256, which is what records written before the field existed used.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA256:
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	default:
		return "", fmt.Errorf("fingerprint: unknown algorithm %q", name)
	}
}

// OrDefault returns a, or SHA256 when a is unset.
func (a Algorithm) OrDefault() Algorithm {
	if a == "" {
		return SHA256
	}
	return a
}

func (a Algorithm) newHash() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Sum returns the lowercase hex digest of data.
func (a Algorithm) Sum(data []byte) string {
	h := a.newHash()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest streams r through the hash and returns the hex digest.
func (a Algorithm) Digest(r io.Reader) (string, error) {
	h := a.newHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("fingerprint: read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestFile returns the whole-file digest of the file at path.
func (a Algorithm) DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: open: %w", err)
	}
	defer f.Close()
	return a.Digest(f)
}

// Verify confirms that the digest of data matches expectedHex.
func (a Algorithm) Verify(data []byte, expectedHex string) error {
	got := a.Sum(data)
	if got != expectedHex {
		return fmt.Errorf("fingerprint: %s mismatch: got %s, expected %s", a.OrDefault(), got, expectedHex)
	}
	return nil
}
