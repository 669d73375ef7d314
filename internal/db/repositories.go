package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/ledger"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/models"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/registry"
	"github.com/rithikashettigar/ChainVerify-Forensics/pkg/worm"
)

const uniqueViolation = "23505"

// ── RegistryRepository ────────────────────────────────────────────────────────

// RegistryRepository implements registry.Store on Postgres. The primary key
// and the UNIQUE sha constraint make register-if-absent a single statement.
type RegistryRepository struct{ db *pgxpool.Pool }

func NewRegistryRepository(db *pgxpool.Pool) *RegistryRepository {
	return &RegistryRepository{db: db}
}

var _ registry.Store = (*RegistryRepository)(nil)

func (r *RegistryRepository) Register(ctx context.Context, rec *models.Record) error {
	if rec == nil || rec.ReferenceID == "" || rec.SHA == "" {
		return fmt.Errorf("registry: incomplete record")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	const q = `INSERT INTO records
		(reference_id,sha,media_type,filename,owner,merkle_root,body,created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.db.Exec(ctx, q,
		rec.ReferenceID, rec.SHA, string(rec.MediaType), rec.Filename, rec.Owner,
		rec.MerkleRoot, body, rec.Timestamp.UTC(),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "records_sha_key" {
			return fmt.Errorf("%w: %s", registry.ErrDuplicateMedia, rec.SHA)
		}
		return fmt.Errorf("%w: %s", registry.ErrDuplicateReference, rec.ReferenceID)
	}
	if err != nil {
		return fmt.Errorf("record insert: %w", err)
	}
	return nil
}

func (r *RegistryRepository) Withdraw(ctx context.Context, refID, sha string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM records WHERE reference_id=$1 AND sha=$2`, refID, sha)
	if err != nil {
		return fmt.Errorf("record delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, refID)
	}
	return nil
}

func (r *RegistryRepository) Lookup(ctx context.Context, refID string) (*models.Record, error) {
	return r.one(ctx, `SELECT body FROM records WHERE reference_id=$1`, refID)
}

func (r *RegistryRepository) FindByDigest(ctx context.Context, sha string) (*models.Record, error) {
	return r.one(ctx, `SELECT body FROM records WHERE sha=$1`, sha)
}

func (r *RegistryRepository) List(ctx context.Context) ([]*models.Record, error) {
	rows, err := r.db.Query(ctx, `SELECT body FROM records ORDER BY created_at, reference_id`)
	if err != nil {
		return nil, fmt.Errorf("record list: %w", err)
	}
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *RegistryRepository) one(ctx context.Context, q string, arg string) (*models.Record, error) {
	var body []byte
	err := r.db.QueryRow(ctx, q, arg).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("record get: %w", err)
	}
	return decodeRecord(body)
}

func decodeRecord(body []byte) (*models.Record, error) {
	rec := &models.Record{}
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", registry.ErrCorrupt, err)
	}
	return rec, nil
}

// ── LedgerRepository ──────────────────────────────────────────────────────────

// LedgerRepository implements ledger.Store on Postgres. A trigger rejects
// UPDATE and DELETE on the table.
type LedgerRepository struct{ db *pgxpool.Pool }

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

var _ ledger.Store = (*LedgerRepository)(nil)

const ledgerColumns = `idx,reference_id,media_type,filename,owner,fingerprint,created_at,prev_hash,entry_hash`

func scanEntry(row pgx.Row) (worm.Entry, error) {
	var e worm.Entry
	err := row.Scan(&e.Index, &e.ReferenceID, &e.MediaType, &e.Filename, &e.Owner,
		&e.Fingerprint, &e.Timestamp, &e.PrevHash, &e.EntryHash)
	e.Timestamp = e.Timestamp.UTC()
	return e, err
}

func (r *LedgerRepository) Load(ctx context.Context) ([]worm.Entry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("ledger list: %w", err)
	}
	defer rows.Close()
	var out []worm.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *LedgerRepository) Last(ctx context.Context) (worm.Entry, bool, error) {
	e, err := scanEntry(r.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries ORDER BY idx DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return worm.Entry{}, false, nil
	}
	if err != nil {
		return worm.Entry{}, false, fmt.Errorf("ledger last: %w", err)
	}
	return e, true, nil
}

// Append inserts entries in one transaction. A concurrent writer that won
// the same index makes the whole batch fail on the primary key.
func (r *LedgerRepository) Append(ctx context.Context, entries ...worm.Entry) error {
	const q = `INSERT INTO ledger_entries(` + ledgerColumns + `) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for _, e := range entries {
			if _, err := tx.Exec(ctx, q, e.Index, e.ReferenceID, e.MediaType, e.Filename, e.Owner,
				e.Fingerprint, e.Timestamp.UTC(), e.PrevHash, e.EntryHash); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
					return fmt.Errorf("%w: %d", ledger.ErrIndexTaken, e.Index)
				}
				return fmt.Errorf("ledger insert %d: %w", e.Index, err)
			}
		}
		return nil
	})
}
