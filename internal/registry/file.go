package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/filelock"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
)

// FileStore keeps the registry as one JSON document mapping reference id to
// record. The document is re-read on every call and rewritten in full on
// every change, under a lock file shared with other processes.
type FileStore struct {
	path   string
	policy CorruptPolicy
	log    *zap.Logger

	mu sync.Mutex
}

func NewFileStore(path string, policy CorruptPolicy, log *zap.Logger) *FileStore {
	if policy == "" {
		policy = CorruptFail
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, policy: policy, log: log}
}

func (s *FileStore) read() (map[string]*models.Record, error) {
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return map[string]*models.Record{}, nil
	case err != nil:
		return nil, fmt.Errorf("registry: read %s: %w", s.path, err)
	}

	records := map[string]*models.Record{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			if s.policy != CorruptReset {
				return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
			}
			s.log.Error("registry document is corrupt, starting empty",
				zap.String("path", s.path), zap.Error(err))
			records = map[string]*models.Record{}
		}
	}
	for id, rec := range records {
		if rec == nil {
			delete(records, id)
			continue
		}
		if rec.ReferenceID == "" {
			rec.ReferenceID = id
		}
	}
	return records, nil
}

// update runs fn on the current document while holding both the in-process
// mutex and the cross-process lock, and writes the document back when fn
// succeeds.
func (s *FileStore) update(fn func(records map[string]*models.Record) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := filelock.Lock(s.path)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("registry: %w", uerr)
		}
	}()

	records, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}
	return s.flush(records)
}

// flush must be called from update.
func (s *FileStore) flush(records map[string]*models.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("registry: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Register(_ context.Context, rec *models.Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	return s.update(func(records map[string]*models.Record) error {
		if _, ok := records[rec.ReferenceID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, rec.ReferenceID)
		}
		for id, existing := range records {
			if existing.SHA == rec.SHA {
				return fmt.Errorf("%w: matches %s", ErrDuplicateMedia, id)
			}
		}
		records[rec.ReferenceID] = clone(rec)
		return nil
	})
}

func (s *FileStore) Withdraw(_ context.Context, refID, sha string) error {
	return s.update(func(records map[string]*models.Record) error {
		rec, ok := records[refID]
		if !ok || rec.SHA != sha {
			return fmt.Errorf("%w: %s", ErrNotFound, refID)
		}
		delete(records, refID)
		return nil
	})
}

func (s *FileStore) Lookup(_ context.Context, refID string) (*models.Record, error) {
	records, err := s.read()
	if err != nil {
		return nil, err
	}
	rec, ok := records[refID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, refID)
	}
	return rec, nil
}

func (s *FileStore) FindByDigest(_ context.Context, sha string) (*models.Record, error) {
	records, err := s.read()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.SHA == sha {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: digest %s", ErrNotFound, sha)
}

func (s *FileStore) List(_ context.Context) ([]*models.Record, error) {
	records, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]*models.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}
