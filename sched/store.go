package sched

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sakaguchi/xbot/errors"
)

// Store-layer error taxonomy. Programming or data errors: always surfaced,
// never silently retried.
var (
	ErrNotFound = errors.New("job not found")
	ErrConflict = errors.New("job already exists")
)

// Store persists jobs in SQLite. It is the source of truth for what has and
// has not executed. All writes are durable before the caller proceeds.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes read-modify-write cycles per store
}

// NewStore creates a job store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, kind, payload_key, payload, state, attempt_count, auth_signals,
	run_at, last_error_kind, last_error_message, created_at, updated_at`

// Put inserts a new job. Returns ErrConflict if a job with the same
// deterministic id already exists.
func (s *Store) Put(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(s.db, job)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insert(ex execer, job *Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}
	errKind, errMsg := splitJobError(job.LastError)

	_, err := ex.Exec(query,
		job.ID,
		job.Kind,
		job.PayloadKey,
		payload,
		job.State,
		job.AttemptCount,
		job.AuthSignals,
		job.RunAt,
		errKind,
		errMsg,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			conflict := errors.Wrapf(ErrConflict, "job %s", job.ID)
			conflict = errors.WithDetail(conflict, fmt.Sprintf("Kind: %s", job.Kind))
			conflict = errors.WithDetail(conflict, fmt.Sprintf("Payload key: %s", job.PayloadKey))
			return conflict
		}
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// Get retrieves a job by ID. Returns ErrNotFound if no such job exists.
func (s *Store) Get(id string) (*Job, error) {
	return s.get(s.db, id)
}

type rowQuerier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func (s *Store) get(q rowQuerier, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(q.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ListFilter narrows List results. Empty slices match everything.
type ListFilter struct {
	States []JobState
	Kinds  []JobKind
}

// List returns jobs matching the filter, ordered run_at ascending then
// created_at ascending (earliest-deadline-first, ties broken by age).
func (s *Store) List(filter ListFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []interface{}
	var where []string

	if len(filter.States) > 0 {
		clause := "state IN (" + placeholders(len(filter.States)) + ")"
		where = append(where, clause)
		for _, st := range filter.States {
			args = append(args, st)
		}
	}
	if len(filter.Kinds) > 0 {
		clause := "kind IN (" + placeholders(len(filter.Kinds)) + ")"
		where = append(where, clause)
		for _, k := range filter.Kinds {
			args = append(args, k)
		}
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY run_at ASC, created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListDue returns pending jobs whose run_at has elapsed, in execution order.
func (s *Store) ListDue(now time.Time) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE state = ? AND run_at <= ?
		ORDER BY run_at ASC, created_at ASC`

	rows, err := s.db.Query(query, StatePending, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListRetryingDue returns retrying jobs whose backoff delay has elapsed.
func (s *Store) ListRetryingDue(now time.Time) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE state = ? AND run_at <= ?
		ORDER BY run_at ASC, created_at ASC`

	rows, err := s.db.Query(query, StateRetrying, now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list retrying jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Update applies mutate to the job inside a transaction. The store mutex
// guarantees no two concurrent updates interleave on the same job id.
// Returns ErrNotFound if the job does not exist.
func (s *Store) Update(id string, mutate func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin update")
	}
	defer tx.Rollback()

	job, err := s.get(tx, id)
	if err != nil {
		return nil, err
	}

	if err := mutate(job); err != nil {
		return nil, errors.Wrapf(err, "mutator rejected job %s", id)
	}

	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}
	errKind, errMsg := splitJobError(job.LastError)

	query := `
		UPDATE jobs
		SET payload = ?,
		    state = ?,
		    attempt_count = ?,
		    auth_signals = ?,
		    run_at = ?,
		    last_error_kind = ?,
		    last_error_message = ?,
		    updated_at = ?
		WHERE id = ?
	`
	if _, err := tx.Exec(query,
		payload,
		job.State,
		job.AttemptCount,
		job.AuthSignals,
		job.RunAt,
		errKind,
		errMsg,
		job.UpdatedAt,
		job.ID,
	); err != nil {
		return nil, errors.Wrap(err, "failed to update job")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit job update")
	}
	return job, nil
}

// Counts returns the number of jobs per state, for status summaries.
func (s *Store) Counts() (map[JobState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobState]int)
	for rows.Next() {
		var state JobState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var payload, errKind, errMsg sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.PayloadKey,
		&payload,
		&job.State,
		&job.AttemptCount,
		&job.AuthSignals,
		&job.RunAt,
		&errKind,
		&errMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	if errKind.Valid {
		job.LastError = &JobError{Kind: ErrorKind(errKind.String), Message: errMsg.String}
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

func splitJobError(jerr *JobError) (kind, msg sql.NullString) {
	if jerr == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: string(jerr.Kind), Valid: true},
		sql.NullString{String: jerr.Message, Valid: true}
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}

func isUniqueViolation(err error) bool {
	// go-sqlite3 reports constraint violations in the error text; matching on
	// the message avoids importing driver internals here.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
