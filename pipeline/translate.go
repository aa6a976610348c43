package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/translate"
)

// TranslateHandler produces a translation for a stored thread and marks it
// ready for publishing. Threads that already carry a manual override are
// left untouched.
type TranslateHandler struct {
	store    *thread.Store
	provider translate.Provider
	profile  translate.Profile
	log      *zap.SugaredLogger
	timeNow  func() time.Time
}

// NewTranslateHandler constructs the translate stage.
func NewTranslateHandler(store *thread.Store, provider translate.Provider, profile translate.Profile, log *zap.SugaredLogger) *TranslateHandler {
	return &TranslateHandler{
		store:    store,
		provider: provider,
		profile:  profile,
		log:      log,
		timeNow:  time.Now,
	}
}

func (h *TranslateHandler) Kind() sched.JobKind { return sched.KindTranslate }

func (h *TranslateHandler) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	payload, err := decode[TranslatePayload](raw)
	if err != nil {
		return "", sched.Permanent(err)
	}

	t, err := h.store.GetThread(payload.ThreadID)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return "", sched.Permanentf("thread %s not stored", payload.ThreadID)
		}
		return "", sched.Transient(errors.Wrap(err, "load thread"))
	}

	if existing, err := h.store.GetTranslation(payload.ThreadID); err == nil && existing.ManualOverride {
		h.log.Infow("manual translation present, keeping it", "thread", payload.ThreadID)
		return "translated:" + payload.ThreadID + ":manual", nil
	}

	texts, err := h.provider.TranslateSegments(ctx, t, h.profile)
	if err != nil {
		return "", mapProviderError(err)
	}
	if len(texts) != len(t.Segments) {
		return "", sched.Permanentf("provider returned %d segments for %d", len(texts), len(t.Segments))
	}

	titleCount := h.profile.TitleCount
	var titles []string
	if titleCount > 0 {
		titles, err = h.provider.GenerateTitles(ctx, t, texts, titleCount)
		if err != nil {
			// Titles are optional garnish. A translation without them is
			// still publishable.
			h.log.Warnw("title generation failed", "thread", payload.ThreadID, "error", err)
			titles = nil
		}
	}

	now := h.timeNow().UTC()
	tr := &thread.Translation{
		AuthorHandle: t.AuthorHandle,
		RootID:       t.RootID(),
		Titles:       titles,
		Status:       thread.TranslationDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, seg := range t.Segments {
		tr.Segments = append(tr.Segments, thread.TranslationSegment{
			SegmentID: seg.ID,
			Text:      texts[i],
			HasMedia:  len(seg.Media) > 0,
		})
	}
	tr.MarkReady()

	if err := h.store.UpsertTranslation(tr); err != nil {
		return "", sched.Transient(errors.Wrap(err, "store translation"))
	}

	h.log.Infow("thread translated",
		"thread", payload.ThreadID,
		"segments", len(tr.Segments),
		"titles", len(titles))
	return "translated:" + payload.ThreadID, nil
}

// mapProviderError translates provider failures onto the retry taxonomy.
// Quota exhaustion is treated as transient: quotas refill.
func mapProviderError(err error) error {
	switch {
	case errors.Is(err, translate.ErrRateLimited), errors.Is(err, translate.ErrQuotaExceeded):
		return sched.Transient(err)
	case errors.Is(err, translate.ErrContentRejected):
		return sched.Permanent(err)
	case errors.Is(err, translate.ErrAuth):
		return sched.AuthExpired(err)
	default:
		return sched.Transient(err)
	}
}
