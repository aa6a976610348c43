// Package sched provides the persistent job store, deduplication index, and
// scheduling core that sequence the scrape, translate, and publish pipeline.
package sched

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobKind identifies which pipeline stage a job executes.
type JobKind string

const (
	KindScrape    JobKind = "scrape"
	KindTranslate JobKind = "translate"
	KindPublish   JobKind = "publish"
)

// IsValidKind returns true if the kind string is a valid JobKind
func IsValidKind(s string) bool {
	switch JobKind(s) {
	case KindScrape, KindTranslate, KindPublish:
		return true
	default:
		return false
	}
}

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateRetrying  JobState = "retrying"
)

// IsValidState returns true if the state string is a valid JobState
func IsValidState(s string) bool {
	switch JobState(s) {
	case StatePending, StateRunning, StateSucceeded, StateFailed, StateRetrying:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further automatic transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// JobError is the structured error from the most recent failed attempt.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job represents one logical unit of pipeline work.
//
// Identity is deterministic: the ID is a v5 UUID of (kind, payload key), so
// enqueueing the same logical work twice reuses the existing record instead
// of creating a duplicate.
type Job struct {
	ID           string          `json:"id"`
	Kind         JobKind         `json:"kind"`
	PayloadKey   string          `json:"payload_key"` // e.g. "tweet:1234567890", "handle:nasa"
	Payload      json.RawMessage `json:"payload,omitempty"`
	State        JobState        `json:"state"`
	AttemptCount int             `json:"attempt_count"`
	AuthSignals  int             `json:"auth_signals,omitempty"` // consecutive unresolved credential signals
	RunAt        time.Time       `json:"run_at"`
	LastError    *JobError       `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// jobNamespace seeds deterministic job identity. Changing it would orphan
// every persisted job, so it is fixed forever.
var jobNamespace = uuid.MustParse("9c5fe354-b1a6-4d42-91c2-d31f5f74e87b")

// JobID derives the deterministic job identifier for (kind, payloadKey).
func JobID(kind JobKind, payloadKey string) string {
	return uuid.NewSHA1(jobNamespace, []byte(DedupKey(kind, payloadKey))).String()
}

// DedupKey is the logical unit-of-work fingerprint, e.g. "publish:tweet:1234567890".
func DedupKey(kind JobKind, payloadKey string) string {
	return string(kind) + ":" + payloadKey
}

// NewJob creates a pending job with deterministic identity.
func NewJob(kind JobKind, payloadKey string, payload json.RawMessage, runAt time.Time) *Job {
	now := time.Now().UTC()
	if runAt.IsZero() {
		runAt = now
	}
	return &Job{
		ID:         JobID(kind, payloadKey),
		Kind:       kind,
		PayloadKey: payloadKey,
		Payload:    payload,
		State:      StatePending,
		RunAt:      runAt.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// DedupKey returns the fingerprint for this job's logical unit of work.
func (j *Job) DedupKey() string {
	return DedupKey(j.Kind, j.PayloadKey)
}

// Start marks the job as running and counts the execution attempt.
func (j *Job) Start(now time.Time) {
	j.State = StateRunning
	j.AttemptCount++
	j.UpdatedAt = now
}

// Succeed marks the job as succeeded and clears failure bookkeeping.
func (j *Job) Succeed(now time.Time) {
	j.State = StateSucceeded
	j.LastError = nil
	j.AuthSignals = 0
	j.UpdatedAt = now
}

// Fail marks the job as terminally failed with the originating error.
func (j *Job) Fail(now time.Time, jerr *JobError) {
	j.State = StateFailed
	j.LastError = jerr
	j.UpdatedAt = now
}

// Retry schedules another attempt at nextRun, recording the originating error.
func (j *Job) Retry(now, nextRun time.Time, jerr *JobError) {
	j.State = StateRetrying
	j.RunAt = nextRun.UTC()
	j.LastError = jerr
	j.UpdatedAt = now
}

// Reset forces the job back to pending so it is eligible immediately.
// Used by manual override and by retrying→pending promotion.
func (j *Job) Reset(now time.Time) {
	j.State = StatePending
	j.UpdatedAt = now
}
