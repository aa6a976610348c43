package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/creds"
	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/xclient"
)

// PublisherFactory builds an authenticated publisher for one credential.
type PublisherFactory func(cred creds.Credential) xclient.Publisher

// PlannedPost is one post in a publish plan, in posting order.
type PlannedPost struct {
	Text      string   `json:"text"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

// PublishHandler posts a ready translation as a reply chain under a pool
// credential. A dry run builds and validates the plan without posting.
type PublishHandler struct {
	store   *thread.Store
	pool    *creds.Pool
	factory PublisherFactory
	log     *zap.SugaredLogger
	timeNow func() time.Time
}

// NewPublishHandler constructs the publish stage.
func NewPublishHandler(store *thread.Store, pool *creds.Pool, factory PublisherFactory, log *zap.SugaredLogger) *PublishHandler {
	return &PublishHandler{
		store:   store,
		pool:    pool,
		factory: factory,
		log:     log,
		timeNow: time.Now,
	}
}

func (h *PublishHandler) Kind() sched.JobKind { return sched.KindPublish }

func (h *PublishHandler) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	payload, err := decode[PublishPayload](raw)
	if err != nil {
		return "", sched.Permanent(err)
	}

	tr, err := h.store.GetTranslation(payload.ThreadID)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			return "", sched.Permanentf("no translation for thread %s", payload.ThreadID)
		}
		return "", sched.Transient(errors.Wrap(err, "load translation"))
	}
	if tr.Status == thread.TranslationDraft {
		return "", sched.Transientf("translation for %s still draft", payload.ThreadID)
	}
	if tr.Status == thread.TranslationPublished && !payload.DryRun {
		// Already published through another path, nothing to post.
		return "published:" + payload.ThreadID, nil
	}

	src, err := h.store.GetThread(payload.ThreadID)
	if err != nil {
		return "", sched.Transient(errors.Wrap(err, "load source thread"))
	}

	var cred creds.Credential
	if payload.Credential != "" {
		cred, err = h.pool.AcquireNamed(ctx, payload.Credential)
	} else {
		cred, err = h.pool.Acquire(ctx)
	}
	if err != nil {
		if errors.Is(err, creds.ErrNoCredential) {
			return "", sched.Permanent(err)
		}
		return "", sched.Transient(errors.Wrap(err, "acquire credential"))
	}
	defer h.pool.Release(cred.Name)

	plan, err := buildPlan(tr, src, cred, payload.TitleIndex)
	if err != nil {
		return "", err
	}

	if payload.DryRun {
		for i, post := range plan {
			h.log.Infow("dry run post",
				"thread", payload.ThreadID,
				"position", i,
				"chars", len([]rune(post.Text)),
				"media", len(post.MediaURLs))
		}
		return fmt.Sprintf("dryrun:%s:%d", payload.ThreadID, len(plan)), nil
	}

	publisher := h.factory(cred)
	inReplyTo := ""
	var firstID string
	for i, post := range plan {
		postID, err := publisher.PostSegment(ctx, post.Text, post.MediaURLs, inReplyTo)
		if err != nil {
			return "", mapPublishError(errors.Wrapf(err, "post %d of %d", i+1, len(plan)))
		}
		if firstID == "" {
			firstID = postID
		}
		inReplyTo = postID
	}

	tr.MarkPublished()
	if err := h.store.UpsertTranslation(tr); err != nil {
		// The chain is live; surface the bookkeeping failure but keep the
		// posted id in the message for the operator.
		return "", sched.Transient(errors.Wrapf(err, "mark published (root post %s)", firstID))
	}

	h.log.Infow("thread published",
		"thread", payload.ThreadID,
		"credential", cred.Name,
		"posts", len(plan),
		"root_post", firstID)
	return "published:" + payload.ThreadID + ":" + firstID, nil
}

// buildPlan lays out the reply chain: optional title post, one post per
// translated segment with the source segment's media, optional closing
// message. Every post is length-checked; an overlong post fails the plan
// permanently since retrying cannot shrink it.
func buildPlan(tr *thread.Translation, src *thread.Thread, cred creds.Credential, titleIndex int) ([]PlannedPost, error) {
	media := make(map[string][]string, len(src.Segments))
	for _, seg := range src.Segments {
		for _, m := range seg.Media {
			media[seg.ID] = append(media[seg.ID], m.URL)
		}
	}

	var plan []PlannedPost
	if len(tr.Titles) > 0 {
		if titleIndex < 0 || titleIndex >= len(tr.Titles) {
			titleIndex = 0
		}
		plan = append(plan, PlannedPost{Text: tr.Titles[titleIndex]})
	}
	for _, seg := range tr.Segments {
		plan = append(plan, PlannedPost{Text: seg.Text, MediaURLs: media[seg.SegmentID]})
	}
	if cred.ClosingMessage != "" {
		plan = append(plan, PlannedPost{Text: cred.ClosingMessage})
	}

	for i, post := range plan {
		if n := len([]rune(post.Text)); n > xclient.MaxPostLength {
			return nil, sched.Permanentf("post %d is %d chars, limit %d", i+1, n, xclient.MaxPostLength)
		}
	}
	return plan, nil
}

// mapPublishError translates publisher failures onto the retry taxonomy.
// Duplicate content is permanent: the platform is telling us this exact
// text already exists, so a retry would only repeat the rejection.
func mapPublishError(err error) error {
	switch {
	case errors.Is(err, xclient.ErrRateLimited):
		return sched.Transient(err)
	case errors.Is(err, xclient.ErrAuthError):
		return sched.AuthExpired(err)
	case errors.Is(err, xclient.ErrDuplicateContent), errors.Is(err, xclient.ErrMediaTooLarge):
		return sched.Permanent(err)
	default:
		return sched.Transient(err)
	}
}

// PublishChainer enqueues a publish job when a translate job succeeds and
// chained publishing is enabled.
type PublishChainer struct {
	DryRun bool
}

func (c *PublishChainer) Chain(job *sched.Job, resultRef string) (sched.JobKind, string, json.RawMessage, bool) {
	if job.Kind != sched.KindTranslate {
		return "", "", nil, false
	}
	var payload TranslatePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ThreadID == "" {
		return "", "", nil, false
	}
	next, err := json.Marshal(PublishPayload{ThreadID: payload.ThreadID, DryRun: c.DryRun})
	if err != nil {
		return "", "", nil, false
	}
	return sched.KindPublish, PublishKey(payload.ThreadID, c.DryRun), next, true
}
