package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/xclient"
)

// Enqueuer schedules follow-up jobs. *sched.Scheduler satisfies it.
type Enqueuer interface {
	Enqueue(kind sched.JobKind, payloadKey string, payload json.RawMessage, runAt time.Time) (*sched.Job, error)
}

// ScrapeHandler fetches new threads for a monitored handle, stores them,
// advances the handle's cursor, and enqueues a translate job per thread.
type ScrapeHandler struct {
	store    *thread.Store
	scraper  xclient.Scraper
	enqueuer Enqueuer
	log      *zap.SugaredLogger
	timeNow  func() time.Time
}

// NewScrapeHandler constructs the scrape stage.
func NewScrapeHandler(store *thread.Store, scraper xclient.Scraper, enqueuer Enqueuer, log *zap.SugaredLogger) *ScrapeHandler {
	return &ScrapeHandler{
		store:    store,
		scraper:  scraper,
		enqueuer: enqueuer,
		log:      log,
		timeNow:  time.Now,
	}
}

func (h *ScrapeHandler) Kind() sched.JobKind { return sched.KindScrape }

// Execute runs one scrape window. The cursor is only advanced after every
// fetched thread has been persisted, so a crash mid-scrape re-fetches the
// window instead of losing threads.
func (h *ScrapeHandler) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	payload, err := decode[ScrapePayload](raw)
	if err != nil {
		return "", sched.Permanent(err)
	}
	if payload.Handle == "" {
		return "", sched.Permanentf("scrape payload missing handle")
	}

	cursor, err := h.store.GetCursor(payload.Handle)
	if err != nil {
		return "", sched.Transient(errors.Wrap(err, "load cursor"))
	}

	threads, nextCursor, err := h.scraper.FetchSince(ctx, payload.Handle, cursor)
	if err != nil {
		return "", mapScrapeError(err)
	}

	stored := 0
	for _, t := range threads {
		if t.RootID() == "" {
			h.log.Warnw("skipping thread with no segments", "handle", payload.Handle)
			continue
		}
		if err := h.store.UpsertThread(t); err != nil {
			return "", sched.Transient(errors.Wrapf(err, "store thread %s", t.RootID()))
		}
		stored++

		next, err := json.Marshal(TranslatePayload{ThreadID: t.RootID(), Handle: payload.Handle})
		if err != nil {
			return "", sched.Permanent(errors.Wrap(err, "encode translate payload"))
		}
		if _, err := h.enqueuer.Enqueue(sched.KindTranslate, TranslateKey(t.RootID()), next, h.timeNow().UTC()); err != nil {
			return "", sched.Transient(errors.Wrapf(err, "enqueue translate for %s", t.RootID()))
		}
	}

	if nextCursor != "" && nextCursor != cursor {
		if err := h.store.SetCursor(payload.Handle, nextCursor); err != nil {
			return "", sched.Transient(errors.Wrap(err, "advance cursor"))
		}
	}

	h.log.Infow("scrape window complete",
		"handle", payload.Handle,
		"threads", stored,
		"cursor", nextCursor)
	return fmt.Sprintf("scraped:%s:%d", payload.Handle, stored), nil
}

// mapScrapeError translates scraper failures onto the retry taxonomy.
func mapScrapeError(err error) error {
	switch {
	case errors.Is(err, xclient.ErrRateLimited):
		return sched.Transient(err)
	case errors.Is(err, xclient.ErrAuthError):
		return sched.AuthExpired(err)
	case errors.Is(err, xclient.ErrNotFound):
		return sched.Permanent(err)
	default:
		return sched.Transient(err)
	}
}
