// Package registry persists the reference record of every registered media
// item and answers lookups by reference id or whole-file digest.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
)

var (
	ErrDuplicateReference = errors.New("registry: reference id already registered")
	ErrDuplicateMedia     = errors.New("registry: media already registered")
	ErrNotFound           = errors.New("registry: record not found")
	ErrCorrupt            = errors.New("registry: store is corrupt")
)

// Store is implemented by every registry backend.
type Store interface {
	// Register inserts rec if neither its reference id nor its whole-file
	// digest is already present. The check and the insert are atomic.
	Register(ctx context.Context, rec *models.Record) error
	Lookup(ctx context.Context, refID string) (*models.Record, error)
	// FindByDigest returns the record whose whole-file digest is sha, or ErrNotFound.
	FindByDigest(ctx context.Context, sha string) (*models.Record, error)
	// List returns every record ordered by registration time.
	List(ctx context.Context) ([]*models.Record, error)
	// Withdraw removes the record refID registered with digest sha. It exists
	// only to undo a registration whose ledger entry could not be written;
	// a record that made it into the ledger is never withdrawn.
	Withdraw(ctx context.Context, refID, sha string) error
}

// CorruptPolicy decides what a file-backed store does when its document
// cannot be parsed.
type CorruptPolicy string

const (
	CorruptFail  CorruptPolicy = "fail"
	CorruptReset CorruptPolicy = "reset"
)

func validate(rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("registry: nil record")
	}
	if rec.ReferenceID == "" {
		return fmt.Errorf("registry: empty reference id")
	}
	if rec.SHA == "" {
		return fmt.Errorf("registry: record %s has no digest", rec.ReferenceID)
	}
	return nil
}

// clone copies rec including its slices, so callers never share memory
// with a stored record.
func clone(rec *models.Record) *models.Record {
	cp := *rec
	cp.Blocks = slices.Clone(rec.Blocks)
	cp.Positions = slices.Clone(rec.Positions)
	cp.Frames = slices.Clone(rec.Frames)
	cp.FrameIndexes = slices.Clone(rec.FrameIndexes)
	return &cp
}

// FindByFilename returns the earliest record registered under filename.
func FindByFilename(ctx context.Context, s Store, filename string) (*models.Record, error) {
	if filename == "" {
		return nil, ErrNotFound
	}
	recs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.Filename == filename {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: filename %s", ErrNotFound, filename)
}

func sortRecords(recs []*models.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		}
		return recs[i].ReferenceID < recs[j].ReferenceID
	})
}
