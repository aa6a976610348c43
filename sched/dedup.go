package sched

import (
	"database/sql"
	"time"

	"github.com/sakaguchi/xbot/errors"
)

// DedupRecord marks a logical unit of work as completed. Records are created
// only on success transitions and are immutable thereafter.
type DedupRecord struct {
	Key         string    `json:"key"`
	ResultRef   string    `json:"result_ref"`
	CompletedAt time.Time `json:"completed_at"`
}

// DedupIndex is the authority on whether a stage handler may run for a key.
// The scheduler checks Has(key) immediately before invoking a handler and
// calls Record immediately after success; no externally observable side
// effect happens outside that bracket.
type DedupIndex struct {
	db *sql.DB
}

// NewDedupIndex creates a dedup index backed by the given database.
func NewDedupIndex(db *sql.DB) *DedupIndex {
	return &DedupIndex{db: db}
}

// Has reports whether the key has already completed successfully.
func (d *DedupIndex) Has(key string) (bool, error) {
	var exists bool
	err := d.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM dedup_records WHERE key = ?)`, key,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check dedup key")
	}
	return exists, nil
}

// Record marks key as completed with the produced artefact reference.
// Recording an already-present key is a no-op, not an error, which makes the
// success path safe to re-run after a crash.
func (d *DedupIndex) Record(key, resultRef string) error {
	_, err := d.db.Exec(
		`INSERT OR IGNORE INTO dedup_records (key, result_ref, completed_at) VALUES (?, ?, ?)`,
		key, resultRef, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record dedup key %s", key)
	}
	return nil
}

// Lookup returns the result reference for key, or ok=false if absent.
func (d *DedupIndex) Lookup(key string) (resultRef string, ok bool, err error) {
	err = d.db.QueryRow(
		`SELECT result_ref FROM dedup_records WHERE key = ?`, key,
	).Scan(&resultRef)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "failed to look up dedup key")
	}
	return resultRef, true, nil
}

// Get returns the full record for key, or ErrNotFound.
func (d *DedupIndex) Get(key string) (*DedupRecord, error) {
	var rec DedupRecord
	err := d.db.QueryRow(
		`SELECT key, result_ref, completed_at FROM dedup_records WHERE key = ?`, key,
	).Scan(&rec.Key, &rec.ResultRef, &rec.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "dedup record %s", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get dedup record")
	}
	return &rec, nil
}
