// Package xclient defines the contracts for the platform scraping and
// publishing collaborators. Implementations live outside this repository;
// the pipeline depends only on these interfaces and error kinds.
package xclient

import (
	"context"

	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/thread"
)

// Collaborator failure sentinels. The pipeline maps these onto the
// scheduler's retry taxonomy.
var (
	ErrRateLimited      = errors.New("rate limited")
	ErrAuthError        = errors.New("authentication failed")
	ErrNotFound         = errors.New("account not found")
	ErrDuplicateContent = errors.New("duplicate content")
	ErrMediaTooLarge    = errors.New("media too large")
)

// MaxPostLength is the platform's per-post character limit, enforced during
// publish validation (including dry runs).
const MaxPostLength = 280

// Scraper fetches threads for a monitored handle. Server-side pagination is
// assumed idempotent: calling repeatedly with the same cursor is safe.
type Scraper interface {
	// FetchSince returns threads observed after cursor, plus the next
	// cursor. An empty cursor starts from the oldest available thread.
	FetchSince(ctx context.Context, handle, cursor string) (threads []*thread.Thread, nextCursor string, err error)
}

// Publisher posts single segments, threading replies via inReplyTo.
type Publisher interface {
	PostSegment(ctx context.Context, text string, mediaURLs []string, inReplyTo string) (postID string, err error)
}
