// Package worm provides the hash chain behind the registration ledger:
// canonical entry hashing, the genesis sentinel and full-chain validation.
package worm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash is the well-known seed referenced by the genesis entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one link of the ledger. EntryHash covers every other field,
// PrevHash included.
type Entry struct {
	Index       int64     `json:"index"`
	ReferenceID string    `json:"reference_id"`
	MediaType   string    `json:"media_type"`
	Filename    string    `json:"filename"`
	Owner       string    `json:"owner"`
	Fingerprint string    `json:"fingerprint"`
	Timestamp   time.Time `json:"timestamp"`
	PrevHash    string    `json:"prev_hash"`
	EntryHash   string    `json:"entry_hash"`
}

// Genesis builds the index 0 entry with sentinel fields and its hash set.
func Genesis(now time.Time) (Entry, error) {
	e := Entry{
		Index:       0,
		ReferenceID: "",
		MediaType:   "none",
		Filename:    "GENESIS",
		Owner:       "system",
		Fingerprint: GenesisHash,
		Timestamp:   now.UTC(),
		PrevHash:    GenesisHash,
	}
	h, err := EntryHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = h
	return e, nil
}

// Canonical returns the deterministic serialisation of e without its
// entry_hash: JSON with keys sorted and HTML escaping disabled.
func Canonical(e Entry) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("worm: marshal entry: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("worm: canonical decode: %w", err)
	}
	delete(fields, "entry_hash")

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("worm: canonical encode: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// EntryHash computes SHA-256 over the canonical form of e.
func EntryHash(e Entry) (string, error) {
	b, err := Canonical(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Next builds the entry that follows prev, linking and hashing it.
func Next(prev Entry, e Entry) (Entry, error) {
	e.Index = prev.Index + 1
	e.PrevHash = prev.EntryHash
	e.Timestamp = e.Timestamp.UTC()
	h, err := EntryHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = h
	return e, nil
}

// Report is the outcome of Validate. BrokenAt is the first index that
// failed, or -1.
type Report struct {
	OK       bool     `json:"ok"`
	Total    int      `json:"total"`
	LastHash string   `json:"last_hash,omitempty"`
	BrokenAt int64    `json:"broken_at"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *Report) fail(index int64, format string, args ...interface{}) {
	if r.OK {
		r.BrokenAt = index
	}
	r.OK = false
	r.Errors = append(r.Errors, fmt.Sprintf("index %d: ", index)+fmt.Sprintf(format, args...))
}

// Validate walks entries (ordered by index) from genesis forward. Every
// entry must sit at its own position, link to its predecessor's hash and
// hash to its stored entry_hash. An empty ledger is valid.
func Validate(entries []Entry) Report {
	report := Report{OK: true, Total: len(entries), BrokenAt: -1}

	prevHash := GenesisHash
	for i, e := range entries {
		if e.Index != int64(i) {
			report.fail(int64(i), "index mismatch: stored %d", e.Index)
		}
		if e.PrevHash != prevHash {
			report.fail(e.Index, "prev_hash mismatch: expected %s, got %s", prevHash, e.PrevHash)
		}
		computed, err := EntryHash(e)
		if err != nil {
			report.fail(e.Index, "hash: %v", err)
		} else if computed != e.EntryHash {
			report.fail(e.Index, "entry_hash mismatch: expected %s, got %s", computed, e.EntryHash)
		}
		prevHash = e.EntryHash
		report.LastHash = e.EntryHash
	}
	return report
}
