package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore implements the Backend interface using the local filesystem.
// Each payload lives in one file named by its digest.
type FSStore struct {
	root     string
	provider string
}

// NewFSStore creates a new filesystem-based storage backend.
func NewFSStore(root string) (*FSStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid root path: %w", err)
	}

	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root dir: %w", err)
	}

	return &FSStore{
		root:     absRoot,
		provider: "filesystem",
	}, nil
}

func (s *FSStore) Provider() string {
	return s.provider
}

// Root returns the absolute directory holding the block files.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) path(digest string) string {
	return filepath.Join(s.root, digest)
}

func (s *FSStore) Put(ctx context.Context, digest string, payload []byte) error {
	if err := validDigest(digest); err != nil {
		return err
	}
	// Content addressing makes an existing file authoritative.
	if ok, err := s.Exists(ctx, digest); err != nil {
		return err
	} else if ok {
		return nil
	}

	// Atomic write: write to temp file then rename (same partition)
	tmpFile, err := os.CreateTemp(s.root, ".block-*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmpFile.Name()
	defer os.Remove(tmpName) // Cleanup (ignored if renamed successfully)

	if err := tmpFile.Chmod(0o644); err != nil {
		tmpFile.Close()
		return fmt.Errorf("storage: chmod: %w", err)
	}

	if _, err := tmpFile.Write(payload); err != nil {
		tmpFile.Close()
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}

	if err := os.Rename(tmpName, s.path(digest)); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, digest string) ([]byte, error) {
	if err := validDigest(digest); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(digest))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

func (s *FSStore) Exists(_ context.Context, digest string) (bool, error) {
	if err := validDigest(digest); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(digest))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("storage: stat: %w", err)
	}
}
