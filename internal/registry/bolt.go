package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
)

var (
	recordsBucket = []byte("records")
	digestsBucket = []byte("digests")
)

// BoltStore keeps records in a bolt bucket keyed by reference id and a
// secondary digests bucket mapping whole-file digest to reference id.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, digestsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: ensure buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Register(_ context.Context, rec *models.Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		digests := tx.Bucket(digestsBucket)
		if records.Get([]byte(rec.ReferenceID)) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, rec.ReferenceID)
		}
		if existing := digests.Get([]byte(rec.SHA)); existing != nil {
			return fmt.Errorf("%w: matches %s", ErrDuplicateMedia, existing)
		}
		if err := records.Put([]byte(rec.ReferenceID), data); err != nil {
			return fmt.Errorf("registry: put record: %w", err)
		}
		if err := digests.Put([]byte(rec.SHA), []byte(rec.ReferenceID)); err != nil {
			return fmt.Errorf("registry: put digest: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) Withdraw(_ context.Context, refID, sha string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		digests := tx.Bucket(digestsBucket)
		if records.Get([]byte(refID)) == nil || string(digests.Get([]byte(sha))) != refID {
			return fmt.Errorf("%w: %s", ErrNotFound, refID)
		}
		if err := records.Delete([]byte(refID)); err != nil {
			return fmt.Errorf("registry: delete record: %w", err)
		}
		if err := digests.Delete([]byte(sha)); err != nil {
			return fmt.Errorf("registry: delete digest: %w", err)
		}
		return nil
	})
}

func decodeRecord(id, data []byte) (*models.Record, error) {
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: record %s: %v", ErrCorrupt, id, err)
	}
	return &rec, nil
}

func (s *BoltStore) Lookup(_ context.Context, refID string) (*models.Record, error) {
	var rec *models.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get([]byte(refID))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, refID)
		}
		var err error
		rec, err = decodeRecord([]byte(refID), v)
		return err
	})
	return rec, err
}

func (s *BoltStore) FindByDigest(_ context.Context, sha string) (*models.Record, error) {
	var rec *models.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(digestsBucket).Get([]byte(sha))
		if id == nil {
			return fmt.Errorf("%w: digest %s", ErrNotFound, sha)
		}
		v := tx.Bucket(recordsBucket).Get(id)
		if v == nil {
			return fmt.Errorf("%w: digest index points at missing record %s", ErrCorrupt, id)
		}
		var err error
		rec, err = decodeRecord(id, v)
		return err
	})
	return rec, err
}

func (s *BoltStore) List(_ context.Context) ([]*models.Record, error) {
	var out []*models.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(k, v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}
