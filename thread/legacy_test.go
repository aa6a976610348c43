package thread

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xbottest "github.com/sakaguchi/xbot/internal/testing"
)

func writeLegacyFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const legacyTweets = `{
  "nasa": [
    {
      "ID": "1001",
      "Text": "root post",
      "Timestamp": 1700000000,
      "Photos": [{"ID": "m1", "URL": "https://example.com/m1.jpg", "Preview": "https://example.com/m1-thumb.jpg"}],
      "Thread": [
        {
          "ID": "1001-2",
          "Text": "child post",
          "Timestamp": 1700000060,
          "Videos": [{"ID": "m2", "URL": "https://example.com/m2.mp4"}]
        }
      ]
    }
  ],
  "esa": [
    {"ID": "2001", "Text": "solo post", "Timestamp": 1700000100}
  ]
}`

const legacyTranslations = `{
  "nasa": [
    {
      "ID": "1001",
      "Text": "ルート投稿",
      "Timestamp": 1700000000,
      "Titles": ["タイトル一", "タイトル二"],
      "Photos": [{"ID": "m1", "URL": "https://example.com/m1.jpg"}],
      "Thread": [
        {"ID": "1001-2", "Text": "続きの投稿", "Timestamp": 1700000060}
      ]
    }
  ]
}`

func TestLoadLegacyThreads(t *testing.T) {
	path := writeLegacyFile(t, "complete_tweets.json", legacyTweets)

	threads, err := LoadLegacyThreads(path)
	require.NoError(t, err)
	require.Len(t, threads, 2)

	// Handles come back sorted, so esa precedes nasa.
	assert.Equal(t, "esa", threads[0].AuthorHandle)
	assert.Equal(t, "2001", threads[0].RootID())

	got := threads[1]
	assert.Equal(t, "nasa", got.AuthorHandle)
	assert.Equal(t, "1001", got.RootID())
	assert.True(t, got.CollectedAt.Equal(time.Unix(1700000000, 0).UTC()))
	require.Len(t, got.Segments, 2)
	assert.Equal(t, "root post", got.Segments[0].Text)
	require.Len(t, got.Segments[0].Media, 1)
	assert.Equal(t, MediaPhoto, got.Segments[0].Media[0].Type)
	assert.Equal(t, "https://example.com/m1-thumb.jpg", got.Segments[0].Media[0].PreviewURL)
	assert.Equal(t, "child post", got.Segments[1].Text)
	require.Len(t, got.Segments[1].Media, 1)
	assert.Equal(t, MediaVideo, got.Segments[1].Media[0].Type)
	assert.True(t, got.Segments[1].Timestamp.Equal(time.Unix(1700000060, 0).UTC()))
}

func TestLoadLegacyTranslations(t *testing.T) {
	path := writeLegacyFile(t, "translated_tweets_sorted.json", legacyTranslations)

	translations, err := LoadLegacyTranslations(path)
	require.NoError(t, err)
	require.Len(t, translations, 1)

	got := translations[0]
	assert.Equal(t, "nasa", got.AuthorHandle)
	assert.Equal(t, "1001", got.RootID)
	assert.Equal(t, TranslationReady, got.Status)
	assert.False(t, got.ManualOverride)
	assert.Equal(t, []string{"タイトル一", "タイトル二"}, got.Titles)
	assert.True(t, got.CreatedAt.Equal(time.Unix(1700000000, 0).UTC()))
	require.Len(t, got.Segments, 2)
	assert.Equal(t, "ルート投稿", got.Segments[0].Text)
	assert.True(t, got.Segments[0].HasMedia)
	assert.Equal(t, "続きの投稿", got.Segments[1].Text)
	assert.False(t, got.Segments[1].HasMedia)
}

func TestLoadLegacyMissingFileYieldsNothing(t *testing.T) {
	threads, err := LoadLegacyThreads(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, threads)

	translations, err := LoadLegacyTranslations(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, translations)
}

func TestLoadLegacyRejectsMalformedFile(t *testing.T) {
	path := writeLegacyFile(t, "complete_tweets.json", `{"nasa": "not a list"}`)

	_, err := LoadLegacyThreads(path)
	assert.Error(t, err)
}

func TestLoadLegacyZeroTimestampFallsBackToNow(t *testing.T) {
	path := writeLegacyFile(t, "complete_tweets.json", `{"nasa": [{"ID": "3001", "Text": "undated"}]}`)

	threads, err := LoadLegacyThreads(path)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.WithinDuration(t, time.Now().UTC(), threads[0].CollectedAt, time.Minute)
}

func TestLegacyImportRoundTripsThroughStore(t *testing.T) {
	store := NewStore(xbottest.CreateTestDB(t))
	tweetsPath := writeLegacyFile(t, "complete_tweets.json", legacyTweets)
	translationsPath := writeLegacyFile(t, "translated_tweets_sorted.json", legacyTranslations)

	threads, err := LoadLegacyThreads(tweetsPath)
	require.NoError(t, err)
	for _, th := range threads {
		require.NoError(t, store.UpsertThread(th))
	}
	translations, err := LoadLegacyTranslations(translationsPath)
	require.NoError(t, err)
	for _, tr := range translations {
		require.NoError(t, store.UpsertTranslation(tr))
	}

	stored, err := store.GetThread("1001")
	require.NoError(t, err)
	assert.Len(t, stored.Segments, 2)

	storedTr, err := store.GetTranslation("1001")
	require.NoError(t, err)
	assert.Equal(t, TranslationReady, storedTr.Status)
	assert.Len(t, storedTr.Titles, 2)
}
