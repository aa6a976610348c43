package local

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/thread"
)

var testLog = zap.NewNop().Sugar()

func writeSpoolFile(t *testing.T, dir, name string, th *thread.Thread) {
	t.Helper()
	data, err := json.Marshal(th)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func spoolThread(rootID string, texts ...string) *thread.Thread {
	th := &thread.Thread{AuthorHandle: "nasa", CollectedAt: time.Now().UTC()}
	for i, text := range texts {
		id := rootID
		if i > 0 {
			id = rootID + "-reply"
		}
		th.Segments = append(th.Segments, thread.Segment{ID: id, Text: text})
	}
	return th
}

func TestFetchSinceReadsInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	writeSpoolFile(t, dir, "nasa--002.json", spoolThread("1002", "second"))
	writeSpoolFile(t, dir, "nasa--001.json", spoolThread("1001", "first"))
	writeSpoolFile(t, dir, "spacex--001.json", spoolThread("2001", "other handle"))

	scraper := NewScraper(dir, testLog)
	threads, cursor, err := scraper.FetchSince(context.Background(), "nasa", "")
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "1001", threads[0].RootID())
	assert.Equal(t, "1002", threads[1].RootID())
	assert.Equal(t, "nasa--002.json", cursor)
}

func TestFetchSinceResumesFromCursor(t *testing.T) {
	dir := t.TempDir()
	writeSpoolFile(t, dir, "nasa--001.json", spoolThread("1001", "first"))
	writeSpoolFile(t, dir, "nasa--002.json", spoolThread("1002", "second"))

	scraper := NewScraper(dir, testLog)
	threads, cursor, err := scraper.FetchSince(context.Background(), "nasa", "nasa--001.json")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "1002", threads[0].RootID())
	assert.Equal(t, "nasa--002.json", cursor)

	// Nothing new: cursor holds.
	threads, cursor, err = scraper.FetchSince(context.Background(), "nasa", cursor)
	require.NoError(t, err)
	assert.Empty(t, threads)
	assert.Equal(t, "nasa--002.json", cursor)
}

func TestFetchSinceSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nasa--001.json"), []byte("{broken"), 0644))
	writeSpoolFile(t, dir, "nasa--002.json", spoolThread("1002", "good"))

	scraper := NewScraper(dir, testLog)
	threads, cursor, err := scraper.FetchSince(context.Background(), "nasa", "")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "1002", threads[0].RootID())
	// The malformed file is consumed so it is never retried.
	assert.Equal(t, "nasa--002.json", cursor)
}

func TestFetchSinceFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	th := spoolThread("1001", "no handle")
	th.AuthorHandle = ""
	th.CollectedAt = time.Time{}
	writeSpoolFile(t, dir, "nasa--001.json", th)

	scraper := NewScraper(dir, testLog)
	threads, _, err := scraper.FetchSince(context.Background(), "nasa", "")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "nasa", threads[0].AuthorHandle)
	assert.False(t, threads[0].CollectedAt.IsZero())
}

func TestFetchSinceMissingDirIsEmpty(t *testing.T) {
	scraper := NewScraper(filepath.Join(t.TempDir(), "absent"), testLog)
	threads, cursor, err := scraper.FetchSince(context.Background(), "nasa", "mark")
	require.NoError(t, err)
	assert.Empty(t, threads)
	assert.Equal(t, "mark", cursor)
}

func TestFetchSinceIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nasa--sub.json"), 0755))
	writeSpoolFile(t, dir, "nasa--001.json", spoolThread("1001", "first"))

	scraper := NewScraper(dir, testLog)
	threads, _, err := scraper.FetchSince(context.Background(), "nasa", "")
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestPostSegmentAppendsOutboxEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.ndjson")
	publisher := NewPublisher(path, testLog)
	ctx := context.Background()

	first, err := publisher.PostSegment(ctx, "題名", nil, "")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := publisher.PostSegment(ctx, "本文", []string{"https://example.com/m1.jpg"}, first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []OutboxEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry OutboxEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].PostID)
	assert.Empty(t, entries[0].InReplyTo)
	assert.Equal(t, "本文", entries[1].Text)
	assert.Equal(t, first, entries[1].InReplyTo)
	assert.Equal(t, []string{"https://example.com/m1.jpg"}, entries[1].MediaURLs)
}

func TestPostSegmentHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.ndjson")
	publisher := NewPublisher(path, testLog)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := publisher.PostSegment(ctx, "text", nil, "")
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
