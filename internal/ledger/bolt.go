package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

var entriesBucket = []byte("ledger")

// BoltStore keeps entries under big-endian index keys so bolt's key order is
// chain order.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: ensure bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func indexKey(i int64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i))
	return k
}

func decodeEntry(v []byte) (worm.Entry, error) {
	var e worm.Entry
	if err := json.Unmarshal(v, &e); err != nil {
		return worm.Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return e, nil
}

func (s *BoltStore) Load(_ context.Context) ([]worm.Entry, error) {
	var out []worm.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(_, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Last(_ context.Context) (worm.Entry, bool, error) {
	var (
		e  worm.Entry
		ok bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(entriesBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		var err error
		e, err = decodeEntry(v)
		ok = err == nil
		return err
	})
	return e, ok, err
}

func (s *BoltStore) Append(_ context.Context, entries ...worm.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		for _, e := range entries {
			k := indexKey(e.Index)
			if b.Get(k) != nil {
				return fmt.Errorf("%w: %d", ErrIndexTaken, e.Index)
			}
			v, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("ledger: marshal: %w", err)
			}
			if err := b.Put(k, v); err != nil {
				return fmt.Errorf("ledger: put: %w", err)
			}
		}
		return nil
	})
}
