package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/filelock"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

// FileStore keeps the ledger as a JSON object mapping the decimal index to
// its entry. The file is rewritten in full on every append, under a lock file
// shared with other processes.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) ([]worm.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// ReadFile parses a ledger document without going through a Ledger.
func ReadFile(path string) ([]worm.Entry, error) {
	return NewFileStore(path).read()
}

func (s *FileStore) read() ([]worm.Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc map[string]worm.Entry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	entries := make([]worm.Entry, 0, len(doc))
	for key, e := range doc {
		idx, err := strconv.ParseInt(key, 10, 64)
		if err != nil || idx != e.Index {
			return nil, fmt.Errorf("%w: key %q does not match entry index %d", ErrCorrupt, key, e.Index)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries, nil
}

func (s *FileStore) Last(ctx context.Context) (worm.Entry, bool, error) {
	entries, err := s.Load(ctx)
	if err != nil || len(entries) == 0 {
		return worm.Entry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

func (s *FileStore) Append(_ context.Context, entries ...worm.Entry) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := filelock.Lock(s.path)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("ledger: %w", uerr)
		}
	}()

	existing, err := s.read()
	if err != nil {
		return err
	}
	doc := make(map[string]worm.Entry, len(existing)+len(entries))
	for _, e := range existing {
		doc[strconv.FormatInt(e.Index, 10)] = e
	}
	for _, e := range entries {
		key := strconv.FormatInt(e.Index, 10)
		if _, taken := doc[key]; taken {
			return fmt.Errorf("%w: %d", ErrIndexTaken, e.Index)
		}
		doc[key] = e
	}
	return s.write(doc)
}

func (s *FileStore) write(doc map[string]worm.Entry) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("ledger: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("ledger: rename: %w", err)
	}
	return nil
}
