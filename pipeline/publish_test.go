package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakaguchi/xbot/creds"
	xbottest "github.com/sakaguchi/xbot/internal/testing"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/xclient"
)

type publishFixture struct {
	store     *thread.Store
	publisher *fakePublisher
	handler   *PublishHandler
}

func newPublishFixture(t *testing.T, credentials ...creds.Credential) *publishFixture {
	t.Helper()
	if len(credentials) == 0 {
		credentials = []creds.Credential{{Name: "main"}}
	}
	f := &publishFixture{
		store:     thread.NewStore(xbottest.CreateTestDB(t)),
		publisher: &fakePublisher{},
	}
	pool := creds.NewPool(credentials, 0)
	f.handler = NewPublishHandler(f.store, pool, func(creds.Credential) xclient.Publisher {
		return f.publisher
	}, testLog)
	return f
}

func (f *publishFixture) seed(t *testing.T, status thread.TranslationStatus, titles ...string) {
	t.Helper()
	src := storedThread("1001", "nasa", "first", "second")
	src.Segments[0].Media = []thread.MediaAsset{{ID: "m1", URL: "https://example.com/m1.jpg", Type: thread.MediaPhoto}}
	require.NoError(t, f.store.UpsertThread(src))

	now := time.Now().UTC()
	require.NoError(t, f.store.UpsertTranslation(&thread.Translation{
		AuthorHandle: "nasa",
		RootID:       "1001",
		Segments: []thread.TranslationSegment{
			{SegmentID: "1001", Text: "最初", HasMedia: true},
			{SegmentID: "1001-1", Text: "次"},
		},
		Titles:    titles,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestPublishPostsReplyChain(t *testing.T) {
	f := newPublishFixture(t, creds.Credential{Name: "main", ClosingMessage: "翻訳アカウントです"})
	f.seed(t, thread.TranslationReady, "題名A", "題名B")

	ref, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001"}))
	require.NoError(t, err)
	assert.Equal(t, "published:1001:post-1", ref)

	// Title, two segments, closing message.
	require.Len(t, f.publisher.posts, 4)
	assert.Equal(t, "題名A", f.publisher.posts[0].text)
	assert.Equal(t, "最初", f.publisher.posts[1].text)
	assert.Equal(t, []string{"https://example.com/m1.jpg"}, f.publisher.posts[1].mediaURLs)
	assert.Equal(t, "翻訳アカウントです", f.publisher.posts[3].text)

	// Each post replies to the previous one.
	assert.Empty(t, f.publisher.posts[0].inReplyTo)
	assert.Equal(t, "post-1", f.publisher.posts[1].inReplyTo)
	assert.Equal(t, "post-2", f.publisher.posts[2].inReplyTo)
	assert.Equal(t, "post-3", f.publisher.posts[3].inReplyTo)

	tr, err := f.store.GetTranslation("1001")
	require.NoError(t, err)
	assert.Equal(t, thread.TranslationPublished, tr.Status)
}

func TestPublishWithoutTitlesOrClosing(t *testing.T) {
	f := newPublishFixture(t)
	f.seed(t, thread.TranslationReady)

	ref, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001"}))
	require.NoError(t, err)
	assert.Equal(t, "published:1001:post-1", ref)
	assert.Len(t, f.publisher.posts, 2)
}

func TestPublishTitleIndexSelectsAndClamps(t *testing.T) {
	f := newPublishFixture(t)
	f.seed(t, thread.TranslationReady, "題名A", "題名B")

	ref, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001", TitleIndex: 1}))
	require.NoError(t, err)
	assert.Equal(t, "published:1001:post-1", ref)
	assert.Equal(t, "題名B", f.publisher.posts[0].text)

	g := newPublishFixture(t)
	g.seed(t, thread.TranslationReady, "題名A", "題名B")
	_, err = g.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001", TitleIndex: 7}))
	require.NoError(t, err)
	assert.Equal(t, "題名A", g.publisher.posts[0].text)
}

func TestPublishDryRunPostsNothing(t *testing.T) {
	f := newPublishFixture(t)
	f.seed(t, thread.TranslationReady, "題名A")

	ref, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001", DryRun: true}))
	require.NoError(t, err)
	assert.Equal(t, "dryrun:1001:3", ref)
	assert.Empty(t, f.publisher.posts)

	tr, err := f.store.GetTranslation("1001")
	require.NoError(t, err)
	assert.Equal(t, thread.TranslationReady, tr.Status)
}

func TestPublishDryRunStillValidatesLength(t *testing.T) {
	f := newPublishFixture(t)
	f.seed(t, thread.TranslationReady, strings.Repeat("あ", xclient.MaxPostLength+1))

	_, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001", DryRun: true}))
	require.Error(t, err)
	assert.Equal(t, sched.ErrorPermanent, sched.Classify(err))
}

func TestPublishDraftTranslationIsTransient(t *testing.T) {
	f := newPublishFixture(t)
	f.seed(t, thread.TranslationDraft)

	_, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001"}))
	require.Error(t, err)
	assert.Equal(t, sched.ErrorTransient, sched.Classify(err))
	assert.Empty(t, f.publisher.posts)
}

func TestPublishAlreadyPublishedIsNoop(t *testing.T) {
	f := newPublishFixture(t)
	f.seed(t, thread.TranslationPublished)

	ref, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001"}))
	require.NoError(t, err)
	assert.Equal(t, "published:1001", ref)
	assert.Empty(t, f.publisher.posts)
}

func TestPublishMissingTranslationIsPermanent(t *testing.T) {
	f := newPublishFixture(t)

	_, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "ghost"}))
	require.Error(t, err)
	assert.Equal(t, sched.ErrorPermanent, sched.Classify(err))
}

func TestPublishOverlongSegmentIsPermanent(t *testing.T) {
	f := newPublishFixture(t)
	src := storedThread("1001", "nasa", "first")
	require.NoError(t, f.store.UpsertThread(src))
	now := time.Now().UTC()
	require.NoError(t, f.store.UpsertTranslation(&thread.Translation{
		RootID:    "1001",
		Segments:  []thread.TranslationSegment{{SegmentID: "1001", Text: strings.Repeat("あ", xclient.MaxPostLength+1)}},
		Status:    thread.TranslationReady,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	_, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001"}))
	require.Error(t, err)
	assert.Equal(t, sched.ErrorPermanent, sched.Classify(err))
	assert.Empty(t, f.publisher.posts)
}

func TestPublishUnknownCredentialIsPermanent(t *testing.T) {
	f := newPublishFixture(t)
	f.seed(t, thread.TranslationReady)

	_, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001", Credential: "ghost"}))
	require.Error(t, err)
	assert.Equal(t, sched.ErrorPermanent, sched.Classify(err))
}

func TestPublishEmptyPoolIsPermanent(t *testing.T) {
	store := thread.NewStore(xbottest.CreateTestDB(t))
	publisher := &fakePublisher{}
	handler := NewPublishHandler(store, creds.NewPool(nil, 0), func(creds.Credential) xclient.Publisher {
		return publisher
	}, testLog)

	src := storedThread("1001", "nasa", "first")
	require.NoError(t, store.UpsertThread(src))
	now := time.Now().UTC()
	require.NoError(t, store.UpsertTranslation(&thread.Translation{
		RootID:    "1001",
		Segments:  []thread.TranslationSegment{{SegmentID: "1001", Text: "訳"}},
		Status:    thread.TranslationReady,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	_, err := handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001"}))
	require.Error(t, err)
	assert.Equal(t, sched.ErrorPermanent, sched.Classify(err))
}

func TestPublishErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want sched.ErrorKind
	}{
		{"rate limited", xclient.ErrRateLimited, sched.ErrorTransient},
		{"auth", xclient.ErrAuthError, sched.ErrorAuthExpired},
		{"duplicate", xclient.ErrDuplicateContent, sched.ErrorPermanent},
		{"media too large", xclient.ErrMediaTooLarge, sched.ErrorPermanent},
		{"network fault", assert.AnError, sched.ErrorTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newPublishFixture(t)
			f.seed(t, thread.TranslationReady)
			f.publisher.failAt = 1
			f.publisher.failErr = tc.err

			_, err := f.handler.Execute(context.Background(), mustMarshal(PublishPayload{ThreadID: "1001"}))
			require.Error(t, err)
			assert.Equal(t, tc.want, sched.Classify(err))

			tr, err := f.store.GetTranslation("1001")
			require.NoError(t, err)
			assert.Equal(t, thread.TranslationReady, tr.Status)
		})
	}
}

func TestPublishChainerChainsTranslateSuccess(t *testing.T) {
	chainer := &PublishChainer{}
	payload := mustMarshal(TranslatePayload{ThreadID: "1001", Handle: "nasa"})
	job := sched.NewJob(sched.KindTranslate, TranslateKey("1001"), payload, time.Now().UTC())

	kind, key, next, ok := chainer.Chain(job, "translated:1001")
	require.True(t, ok)
	assert.Equal(t, sched.KindPublish, kind)
	assert.Equal(t, "thread:1001", key)

	var p PublishPayload
	require.NoError(t, json.Unmarshal(next, &p))
	assert.Equal(t, "1001", p.ThreadID)
	assert.False(t, p.DryRun)
}

func TestPublishChainerDryRunUsesRehearsalKey(t *testing.T) {
	chainer := &PublishChainer{DryRun: true}
	payload := mustMarshal(TranslatePayload{ThreadID: "1001"})
	job := sched.NewJob(sched.KindTranslate, TranslateKey("1001"), payload, time.Now().UTC())

	_, key, next, ok := chainer.Chain(job, "translated:1001")
	require.True(t, ok)
	assert.Equal(t, "thread:1001:dry", key)

	var p PublishPayload
	require.NoError(t, json.Unmarshal(next, &p))
	assert.True(t, p.DryRun)
}

func TestPublishChainerIgnoresOtherKinds(t *testing.T) {
	chainer := &PublishChainer{}
	job := sched.NewJob(sched.KindScrape, "handle:nasa:0", mustMarshal(ScrapePayload{Handle: "nasa"}), time.Now().UTC())

	_, _, _, ok := chainer.Chain(job, "scraped:nasa:1")
	assert.False(t, ok)
}
