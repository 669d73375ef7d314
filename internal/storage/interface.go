package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no payload is stored under a digest.
var ErrNotFound = errors.New("storage: block not found")

// Backend defines the interface for content-addressed block stores.
// Keys are the hex digests of the payloads' content.
type Backend interface {
	// Put stores payload under digest. Storing an existing digest is a no-op.
	Put(ctx context.Context, digest string, payload []byte) error

	// Get returns the payload stored under digest, or ErrNotFound.
	Get(ctx context.Context, digest string) ([]byte, error)

	// Exists reports whether a payload is stored under digest.
	Exists(ctx context.Context, digest string) (bool, error)

	// Provider returns the name of the storage provider (e.g., "s3", "filesystem").
	Provider() string
}

// validDigest rejects keys that are not plain lowercase hex so a digest can
// never escape the store root or collide with a temp file.
func validDigest(digest string) error {
	if digest == "" {
		return fmt.Errorf("storage: empty digest")
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("storage: invalid digest %q", digest)
	}
	for _, c := range digest {
		if c >= 'A' && c <= 'F' {
			return fmt.Errorf("storage: digest %q is not lowercase", digest)
		}
	}
	return nil
}
