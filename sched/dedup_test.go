package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xbottest "github.com/sakaguchi/xbot/internal/testing"
)

func TestDedupRecordAndLookup(t *testing.T) {
	dedup := NewDedupIndex(xbottest.CreateTestDB(t))

	done, err := dedup.Has("publish:tweet:1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, dedup.Record("publish:tweet:1", "posted:111"))

	done, err = dedup.Has("publish:tweet:1")
	require.NoError(t, err)
	assert.True(t, done)

	ref, ok, err := dedup.Lookup("publish:tweet:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "posted:111", ref)
}

func TestDedupRecordIsImmutable(t *testing.T) {
	dedup := NewDedupIndex(xbottest.CreateTestDB(t))

	require.NoError(t, dedup.Record("publish:tweet:2", "posted:first"))
	// Re-recording must neither error nor overwrite: the first completed
	// result is the result.
	require.NoError(t, dedup.Record("publish:tweet:2", "posted:second"))

	ref, ok, err := dedup.Lookup("publish:tweet:2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "posted:first", ref)
}

func TestDedupLookupMissing(t *testing.T) {
	dedup := NewDedupIndex(xbottest.CreateTestDB(t))

	_, ok, err := dedup.Lookup("translate:thread:404")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = dedup.Get("translate:thread:404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDedupGetReturnsRecord(t *testing.T) {
	dedup := NewDedupIndex(xbottest.CreateTestDB(t))

	require.NoError(t, dedup.Record("scrape:handle:nasa:5", "scraped:nasa:3"))

	record, err := dedup.Get("scrape:handle:nasa:5")
	require.NoError(t, err)
	assert.Equal(t, "scrape:handle:nasa:5", record.Key)
	assert.Equal(t, "scraped:nasa:3", record.ResultRef)
	assert.False(t, record.CompletedAt.IsZero())
}
