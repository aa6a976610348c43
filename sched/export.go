package sched

import (
	"encoding/json"
	"time"

	"github.com/sakaguchi/xbot/errors"
)

// ExportRecord is the flat structured view of a job and its dedup outcome,
// used for backup and migration. Field order is stable so exports diff
// cleanly.
type ExportRecord struct {
	ID           string          `json:"id"`
	Kind         JobKind         `json:"kind"`
	PayloadKey   string          `json:"payload_key"`
	State        JobState        `json:"state"`
	AttemptCount int             `json:"attempt_count"`
	RunAt        time.Time       `json:"run_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	LastError    *JobError       `json:"last_error,omitempty"`
	ResultRef    string          `json:"result_ref,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Export builds the flat record for one job, joining the dedup index when
// the work completed.
func Export(store *Store, dedup *DedupIndex, jobID string) (*ExportRecord, error) {
	job, err := store.Get(jobID)
	if err != nil {
		return nil, err
	}

	rec := &ExportRecord{
		ID:           job.ID,
		Kind:         job.Kind,
		PayloadKey:   job.PayloadKey,
		State:        job.State,
		AttemptCount: job.AttemptCount,
		RunAt:        job.RunAt,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		Payload:      job.Payload,
		LastError:    job.LastError,
	}

	dr, err := dedup.Get(job.DedupKey())
	if err == nil {
		rec.ResultRef = dr.ResultRef
		completed := dr.CompletedAt
		rec.CompletedAt = &completed
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return rec, nil
}

// ExportAll builds flat records for every job matching the filter.
func ExportAll(store *Store, dedup *DedupIndex, filter ListFilter) ([]*ExportRecord, error) {
	jobs, err := store.List(filter)
	if err != nil {
		return nil, err
	}

	records := make([]*ExportRecord, 0, len(jobs))
	for _, job := range jobs {
		rec, err := Export(store, dedup, job.ID)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarshalExport renders records as indented JSON for backup files.
func MarshalExport(records []*ExportRecord) ([]byte, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal export")
	}
	return data, nil
}
