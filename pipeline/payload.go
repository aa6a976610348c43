// Package pipeline implements the three stage handlers that move a thread
// from source account to translated republication: scrape, translate,
// publish. Each handler maps its upstream errors onto the scheduler's
// retry taxonomy.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sakaguchi/xbot/errors"
)

// ScrapePayload asks the scrape stage to fetch new threads for a handle.
// Window marks the polling window so that repeated scrapes of the same
// handle produce distinct jobs.
type ScrapePayload struct {
	Handle string    `json:"handle"`
	Window time.Time `json:"window"`
}

// ScrapeKey derives the payload key for a scrape job. The window timestamp
// is truncated to the polling interval so one job covers one window.
func ScrapeKey(handle string, window time.Time, interval time.Duration) string {
	if interval > 0 {
		window = window.Truncate(interval)
	}
	return fmt.Sprintf("handle:%s:%d", handle, window.Unix())
}

// TranslatePayload asks the translate stage to translate one stored thread.
type TranslatePayload struct {
	ThreadID string `json:"thread_id"`
	Handle   string `json:"handle"`
}

// TranslateKey derives the payload key for a translate job.
func TranslateKey(threadID string) string {
	return "thread:" + threadID
}

// PublishPayload asks the publish stage to post one translated thread.
// DryRun renders and validates the plan without posting.
type PublishPayload struct {
	ThreadID   string `json:"thread_id"`
	Credential string `json:"credential,omitempty"`
	TitleIndex int    `json:"title_index,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

// PublishKey derives the payload key for a publish job. Dry runs get a
// distinct key so a rehearsal never blocks the real publication.
func PublishKey(threadID string, dryRun bool) string {
	if dryRun {
		return "thread:" + threadID + ":dry"
	}
	return "thread:" + threadID
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.Wrap(err, "decode payload")
	}
	return v, nil
}
