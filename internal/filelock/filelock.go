// Package filelock serialises writers of a shared JSON document across
// processes with an advisory lock on a sibling ".lock" file.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock blocks until the exclusive lock guarding path is held. The returned
// function releases it. The lock file itself is left in place.
func Lock(path string) (unlock func() error, err error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("filelock: mkdir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", lockPath, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: lock %s: %w", lockPath, err)
	}
	return func() error {
		uerr := unlockFile(f)
		cerr := f.Close()
		if uerr != nil {
			return fmt.Errorf("filelock: unlock %s: %w", lockPath, uerr)
		}
		return cerr
	}, nil
}
