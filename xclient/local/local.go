// Package local provides file-backed implementations of the scraper and
// publisher contracts: threads arrive as JSON files in a spool directory,
// published segments land in an NDJSON outbox. Useful for local runs and
// as the reference implementation in tests; platform HTTP clients plug in
// behind the same interfaces.
package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/thread"
)

// Scraper reads thread JSON files from a spool directory. Files are named
// <handle>--<anything>.json and consumed in lexical order; the cursor is
// the last consumed file name, so re-running a window is idempotent.
type Scraper struct {
	dir string
	log *zap.SugaredLogger
}

// NewScraper constructs a spool-directory scraper.
func NewScraper(dir string, log *zap.SugaredLogger) *Scraper {
	return &Scraper{dir: dir, log: log}
}

// FetchSince returns the threads from spool files newer than cursor.
func (s *Scraper) FetchSince(ctx context.Context, handle, cursor string) ([]*thread.Thread, string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cursor, nil
		}
		return nil, "", errors.Wrapf(err, "read spool dir %s", s.dir)
	}

	prefix := handle + "--"
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		if cursor != "" && name <= cursor {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var threads []*thread.Thread
	next := cursor
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, "", errors.Wrapf(err, "read spool file %s", name)
		}
		var t thread.Thread
		if err := json.Unmarshal(data, &t); err != nil {
			// A malformed file should not wedge the whole handle.
			s.log.Warnw("skipping malformed spool file", "file", name, "error", err)
			next = name
			continue
		}
		if t.AuthorHandle == "" {
			t.AuthorHandle = handle
		}
		if t.CollectedAt.IsZero() {
			t.CollectedAt = time.Now().UTC()
		}
		threads = append(threads, &t)
		next = name
	}

	return threads, next, nil
}

// OutboxEntry is one published segment as recorded in the outbox file.
type OutboxEntry struct {
	PostID    string    `json:"post_id"`
	Text      string    `json:"text"`
	MediaURLs []string  `json:"media_urls,omitempty"`
	InReplyTo string    `json:"in_reply_to,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
}

// Publisher appends posted segments to an NDJSON outbox file and hands back
// generated post ids, preserving the reply-chain structure.
type Publisher struct {
	path string
	log  *zap.SugaredLogger
}

// NewPublisher constructs an outbox publisher.
func NewPublisher(path string, log *zap.SugaredLogger) *Publisher {
	return &Publisher{path: path, log: log}
}

// PostSegment records one segment in the outbox.
func (p *Publisher) PostSegment(ctx context.Context, text string, mediaURLs []string, inReplyTo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entry := OutboxEntry{
		PostID:    uuid.NewString(),
		Text:      text,
		MediaURLs: mediaURLs,
		InReplyTo: inReplyTo,
		PostedAt:  time.Now().UTC(),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return "", errors.Wrap(err, "encode outbox entry")
	}

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", errors.Wrapf(err, "open outbox %s", p.path)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", errors.Wrap(err, "write outbox entry")
	}

	p.log.Infow("segment written to outbox",
		"post_id", entry.PostID,
		"in_reply_to", inReplyTo,
		"chars", len([]rune(text)))
	return entry.PostID, nil
}
