// Package ledger maintains the append-only, hash-chained record of every
// successful registration.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

var (
	// ErrCorrupt is returned when persisted entries cannot be parsed.
	ErrCorrupt = errors.New("ledger: store is corrupt")
	// ErrIndexTaken is returned by Store.Append when another writer has
	// already stored an entry at one of the indexes.
	ErrIndexTaken = errors.New("ledger: index already written")
)

// appendAttempts bounds how often Append re-reads the tail after losing an
// index to another writer.
const appendAttempts = 5

// Store persists ledger entries. Implementations never modify or remove an
// entry once appended.
type Store interface {
	Load(ctx context.Context) ([]worm.Entry, error)
	// Last returns the entry with the highest index; ok is false when empty.
	Last(ctx context.Context) (e worm.Entry, ok bool, err error)
	Append(ctx context.Context, entries ...worm.Entry) error
}

// Fields are the caller-supplied parts of a new entry.
type Fields struct {
	ReferenceID string
	MediaType   string
	Filename    string
	Owner       string
	Fingerprint string
}

type Ledger struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu sync.Mutex

	subMu sync.Mutex
	subs  map[chan worm.Entry]struct{}
}

func New(store Store, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		store: store,
		log:   log,
		now:   time.Now,
		subs:  make(map[chan worm.Entry]struct{}),
	}
}

// timestamp truncates to microseconds so every backend, Postgres included,
// round-trips the value that was hashed.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// Append links a new entry to the current tail and persists it. The genesis
// entry is written first when the ledger is empty. When another process
// wins the index, the tail is re-read and the entry relinked.
func (l *Ledger) Append(ctx context.Context, f Fields) (worm.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		var next worm.Entry
		next, err = l.appendOnce(ctx, f)
		if err == nil {
			l.log.Info("ledger entry appended",
				zap.Int64("index", next.Index),
				zap.String("ref_id", next.ReferenceID),
				zap.String("entry_hash", next.EntryHash))
			l.publish(next)
			return next, nil
		}
		if !errors.Is(err, ErrIndexTaken) {
			return worm.Entry{}, err
		}
		l.log.Warn("ledger index taken by another writer, retrying",
			zap.String("ref_id", f.ReferenceID), zap.Int("attempt", attempt))
	}
	return worm.Entry{}, err
}

func (l *Ledger) appendOnce(ctx context.Context, f Fields) (worm.Entry, error) {
	now := l.timestamp()
	prev, ok, err := l.store.Last(ctx)
	if err != nil {
		return worm.Entry{}, fmt.Errorf("ledger: read tail: %w", err)
	}

	var batch []worm.Entry
	if !ok {
		prev, err = worm.Genesis(now)
		if err != nil {
			return worm.Entry{}, err
		}
		batch = append(batch, prev)
	}

	next, err := worm.Next(prev, worm.Entry{
		ReferenceID: f.ReferenceID,
		MediaType:   f.MediaType,
		Filename:    f.Filename,
		Owner:       f.Owner,
		Fingerprint: f.Fingerprint,
		Timestamp:   now,
	})
	if err != nil {
		return worm.Entry{}, err
	}
	batch = append(batch, next)

	if err := l.store.Append(ctx, batch...); err != nil {
		return worm.Entry{}, fmt.Errorf("ledger: append: %w", err)
	}
	return next, nil
}

// Tail returns the newest entry; ok is false for an empty ledger. An error
// means the ledger cannot currently be appended to.
func (l *Ledger) Tail(ctx context.Context) (e worm.Entry, ok bool, err error) {
	e, ok, err = l.store.Last(ctx)
	if err != nil {
		return worm.Entry{}, false, fmt.Errorf("ledger: read tail: %w", err)
	}
	return e, ok, nil
}

// Entries returns every entry in index order.
func (l *Ledger) Entries(ctx context.Context) ([]worm.Entry, error) {
	return l.store.Load(ctx)
}

// Validate recomputes every hash and link of the chain.
func (l *Ledger) Validate(ctx context.Context) (worm.Report, error) {
	entries, err := l.store.Load(ctx)
	if err != nil {
		return worm.Report{}, err
	}
	report := worm.Validate(entries)
	if !report.OK {
		l.log.Warn("ledger validation failed",
			zap.Int64("broken_at", report.BrokenAt),
			zap.Strings("errors", report.Errors))
	}
	return report, nil
}

// Subscribe returns a channel receiving every entry appended after the call
// and a function that ends the subscription. Slow subscribers miss entries
// rather than block appends.
func (l *Ledger) Subscribe() (<-chan worm.Entry, func()) {
	ch := make(chan worm.Entry, 16)
	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, ch)
			l.subMu.Unlock()
			close(ch)
		})
	}
}

func (l *Ledger) publish(e worm.Entry) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
			l.log.Warn("ledger subscriber lagging, entry dropped", zap.Int64("index", e.Index))
		}
	}
}
