package thread

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sakaguchi/xbot/errors"
)

// ErrNotFound is returned when a thread or translation does not exist.
var ErrNotFound = errors.New("not found")

// Store persists threads and translations in SQLite. Segments are kept as
// JSON columns: they are only ever read back whole.
type Store struct {
	db *sql.DB
}

// NewStore creates a thread store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertThread inserts or replaces a captured thread keyed by its root id.
func (s *Store) UpsertThread(t *Thread) error {
	if t.RootID() == "" {
		return errors.New("thread has no segments")
	}
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return errors.Wrap(err, "failed to marshal thread segments")
	}

	_, err = s.db.Exec(`
		INSERT INTO threads (root_id, author_handle, segments, collected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(root_id) DO UPDATE SET
			author_handle = excluded.author_handle,
			segments = excluded.segments,
			collected_at = excluded.collected_at
	`, t.RootID(), t.AuthorHandle, string(segments), t.CollectedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert thread %s", t.RootID())
	}
	return nil
}

// GetThread retrieves a thread by root id. Returns ErrNotFound if absent.
func (s *Store) GetThread(rootID string) (*Thread, error) {
	var t Thread
	var segments string
	err := s.db.QueryRow(`
		SELECT author_handle, segments, collected_at FROM threads WHERE root_id = ?
	`, rootID).Scan(&t.AuthorHandle, &segments, &t.CollectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "thread %s", rootID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get thread")
	}
	if err := json.Unmarshal([]byte(segments), &t.Segments); err != nil {
		return nil, errors.Wrapf(err, "corrupt segments for thread %s", rootID)
	}
	return &t, nil
}

// ListThreadsForHandle returns all captured threads for an author handle,
// newest first.
func (s *Store) ListThreadsForHandle(handle string) ([]*Thread, error) {
	rows, err := s.db.Query(`
		SELECT author_handle, segments, collected_at FROM threads
		WHERE author_handle = ?
		ORDER BY collected_at DESC
	`, handle)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list threads")
	}
	defer rows.Close()
	return scanThreads(rows)
}

// CountThreads returns the number of stored threads.
func (s *Store) CountThreads() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM threads`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count threads")
	}
	return n, nil
}

func scanThreads(rows *sql.Rows) ([]*Thread, error) {
	var threads []*Thread
	for rows.Next() {
		var t Thread
		var segments string
		if err := rows.Scan(&t.AuthorHandle, &segments, &t.CollectedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan thread")
		}
		if err := json.Unmarshal([]byte(segments), &t.Segments); err != nil {
			return nil, errors.Wrap(err, "corrupt thread segments")
		}
		threads = append(threads, &t)
	}
	return threads, rows.Err()
}

// UpsertTranslation inserts or replaces a translation keyed by root id.
func (s *Store) UpsertTranslation(tr *Translation) error {
	segments, err := json.Marshal(tr.Segments)
	if err != nil {
		return errors.Wrap(err, "failed to marshal translation segments")
	}
	titles, err := json.Marshal(tr.Titles)
	if err != nil {
		return errors.Wrap(err, "failed to marshal titles")
	}

	_, err = s.db.Exec(`
		INSERT INTO translations (root_id, author_handle, segments, titles, status, manual_override, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(root_id) DO UPDATE SET
			segments = excluded.segments,
			titles = excluded.titles,
			status = excluded.status,
			manual_override = excluded.manual_override,
			updated_at = excluded.updated_at
	`, tr.RootID, tr.AuthorHandle, string(segments), string(titles),
		tr.Status, tr.ManualOverride, tr.CreatedAt, tr.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert translation %s", tr.RootID)
	}
	return nil
}

// GetTranslation retrieves a translation by root id. Returns ErrNotFound if
// absent.
func (s *Store) GetTranslation(rootID string) (*Translation, error) {
	var tr Translation
	var segments, titles string
	err := s.db.QueryRow(`
		SELECT root_id, author_handle, segments, titles, status, manual_override, created_at, updated_at
		FROM translations WHERE root_id = ?
	`, rootID).Scan(&tr.RootID, &tr.AuthorHandle, &segments, &titles,
		&tr.Status, &tr.ManualOverride, &tr.CreatedAt, &tr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "translation %s", rootID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get translation")
	}
	if err := json.Unmarshal([]byte(segments), &tr.Segments); err != nil {
		return nil, errors.Wrapf(err, "corrupt segments for translation %s", rootID)
	}
	if titles != "" {
		if err := json.Unmarshal([]byte(titles), &tr.Titles); err != nil {
			return nil, errors.Wrapf(err, "corrupt titles for translation %s", rootID)
		}
	}
	return &tr, nil
}

// CountTranslations returns the number of stored translations.
func (s *Store) CountTranslations() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM translations`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count translations")
	}
	return n, nil
}

// GetCursor returns the stored scrape cursor for a handle, or "" if none.
func (s *Store) GetCursor(handle string) (string, error) {
	var cursor string
	err := s.db.QueryRow(`SELECT cursor FROM scrape_cursors WHERE handle = ?`, handle).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get scrape cursor")
	}
	return cursor, nil
}

// SetCursor stores the scrape cursor for a handle.
func (s *Store) SetCursor(handle, cursor string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_cursors (handle, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, handle, cursor, time.Now().UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to set scrape cursor for %s", handle)
	}
	return nil
}
