package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xbottest "github.com/sakaguchi/xbot/internal/testing"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/translate"
)

var testProfile = translate.Profile{TargetLanguage: "Japanese", TitleCount: 2}

func TestTranslateStoresReadyTranslation(t *testing.T) {
	store := thread.NewStore(xbottest.CreateTestDB(t))
	src := storedThread("1001", "nasa", "first", "second")
	src.Segments[1].Media = []thread.MediaAsset{{ID: "m1", URL: "https://example.com/m1.jpg", Type: thread.MediaPhoto}}
	require.NoError(t, store.UpsertThread(src))

	provider := &fakeProvider{
		segments: []string{"最初", "次"},
		titles:   []string{"題名A", "題名B"},
	}
	handler := NewTranslateHandler(store, provider, testProfile, testLog)

	ref, err := handler.Execute(context.Background(), mustMarshal(TranslatePayload{ThreadID: "1001", Handle: "nasa"}))
	require.NoError(t, err)
	assert.Equal(t, "translated:1001", ref)

	tr, err := store.GetTranslation("1001")
	require.NoError(t, err)
	assert.Equal(t, thread.TranslationReady, tr.Status)
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "最初", tr.Segments[0].Text)
	assert.False(t, tr.Segments[0].HasMedia)
	assert.True(t, tr.Segments[1].HasMedia)
	assert.Equal(t, []string{"題名A", "題名B"}, tr.Titles)
}

func TestTranslateKeepsManualOverride(t *testing.T) {
	store := thread.NewStore(xbottest.CreateTestDB(t))
	require.NoError(t, store.UpsertThread(storedThread("1001", "nasa", "first")))

	now := time.Now().UTC()
	manual := &thread.Translation{
		RootID:         "1001",
		Segments:       []thread.TranslationSegment{{SegmentID: "1001", Text: "手動訳"}},
		Status:         thread.TranslationReady,
		ManualOverride: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, store.UpsertTranslation(manual))

	provider := &fakeProvider{segments: []string{"機械訳"}}
	handler := NewTranslateHandler(store, provider, testProfile, testLog)

	ref, err := handler.Execute(context.Background(), mustMarshal(TranslatePayload{ThreadID: "1001"}))
	require.NoError(t, err)
	assert.Equal(t, "translated:1001:manual", ref)

	tr, err := store.GetTranslation("1001")
	require.NoError(t, err)
	assert.Equal(t, "手動訳", tr.Segments[0].Text)
}

func TestTranslateMissingThreadIsPermanent(t *testing.T) {
	store := thread.NewStore(xbottest.CreateTestDB(t))
	handler := NewTranslateHandler(store, &fakeProvider{}, testProfile, testLog)

	_, err := handler.Execute(context.Background(), mustMarshal(TranslatePayload{ThreadID: "ghost"}))
	require.Error(t, err)
	assert.Equal(t, sched.ErrorPermanent, sched.Classify(err))
}

func TestTranslateSegmentCountMismatchIsPermanent(t *testing.T) {
	store := thread.NewStore(xbottest.CreateTestDB(t))
	require.NoError(t, store.UpsertThread(storedThread("1001", "nasa", "first", "second")))

	provider := &fakeProvider{segments: []string{"only one"}}
	handler := NewTranslateHandler(store, provider, testProfile, testLog)

	_, err := handler.Execute(context.Background(), mustMarshal(TranslatePayload{ThreadID: "1001"}))
	require.Error(t, err)
	assert.Equal(t, sched.ErrorPermanent, sched.Classify(err))
}

func TestTranslateTitleFailureIsTolerated(t *testing.T) {
	store := thread.NewStore(xbottest.CreateTestDB(t))
	require.NoError(t, store.UpsertThread(storedThread("1001", "nasa", "first")))

	provider := &fakeProvider{segments: []string{"訳"}, titlesErr: assert.AnError}
	handler := NewTranslateHandler(store, provider, testProfile, testLog)

	ref, err := handler.Execute(context.Background(), mustMarshal(TranslatePayload{ThreadID: "1001"}))
	require.NoError(t, err)
	assert.Equal(t, "translated:1001", ref)

	tr, err := store.GetTranslation("1001")
	require.NoError(t, err)
	assert.Empty(t, tr.Titles)
	assert.Equal(t, thread.TranslationReady, tr.Status)
}

func TestTranslateSkipsTitlesWhenCountZero(t *testing.T) {
	store := thread.NewStore(xbottest.CreateTestDB(t))
	require.NoError(t, store.UpsertThread(storedThread("1001", "nasa", "first")))

	provider := &fakeProvider{segments: []string{"訳"}, titlesErr: assert.AnError}
	handler := NewTranslateHandler(store, provider, translate.Profile{TargetLanguage: "Japanese"}, testLog)

	_, err := handler.Execute(context.Background(), mustMarshal(TranslatePayload{ThreadID: "1001"}))
	require.NoError(t, err)
}

func TestTranslateProviderErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want sched.ErrorKind
	}{
		{"rate limited", translate.ErrRateLimited, sched.ErrorTransient},
		{"quota", translate.ErrQuotaExceeded, sched.ErrorTransient},
		{"rejected", translate.ErrContentRejected, sched.ErrorPermanent},
		{"auth", translate.ErrAuth, sched.ErrorAuthExpired},
		{"network fault", assert.AnError, sched.ErrorTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := thread.NewStore(xbottest.CreateTestDB(t))
			require.NoError(t, store.UpsertThread(storedThread("1001", "nasa", "first")))

			handler := NewTranslateHandler(store, &fakeProvider{segErr: tc.err}, testProfile, testLog)
			_, err := handler.Execute(context.Background(), mustMarshal(TranslatePayload{ThreadID: "1001"}))
			require.Error(t, err)
			assert.Equal(t, tc.want, sched.Classify(err))
		})
	}
}
