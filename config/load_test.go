package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xbot.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[scrape]
handles = ["nasa"]
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nasa"}, cfg.Scrape.Handles)
	assert.Equal(t, "xbot.db", cfg.Database.Path)
	assert.Equal(t, 30, cfg.Scheduler.PollIntervalSeconds)
	assert.Equal(t, 3, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 15, cfg.Scrape.IntervalMinutes)
	assert.Equal(t, "Japanese", cfg.Translation.TargetLanguage)
	assert.Equal(t, "gpt-4o-mini", cfg.Translation.OpenAI.Model)
	assert.Equal(t, 5, cfg.Publish.CallsPerMinute)
	assert.Equal(t, "outbox.ndjson", cfg.Publish.OutboxPath)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[scheduler]
max_attempts = 5
backoff_base_seconds = 10
backoff_cap_seconds = 60
chain_publish = true

[scrape]
handles = ["nasa", "spacex"]
interval_minutes = 5

[translation]
target_language = "German"
tone = "casual"

[publish]
dry_run = true

[[credentials]]
name = "main"
consumer_key = "ck"
closing_message = "bot account"

[[credentials]]
name = "backup"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scheduler.MaxAttempts)
	assert.True(t, cfg.Scheduler.ChainPublish)
	assert.Equal(t, []string{"nasa", "spacex"}, cfg.Scrape.Handles)
	assert.Equal(t, "German", cfg.Translation.TargetLanguage)
	assert.True(t, cfg.Publish.DryRun)
	require.Len(t, cfg.Credentials, 2)
	assert.Equal(t, "main", cfg.Credentials[0].Name)
	assert.Equal(t, "bot account", cfg.Credentials[0].ClosingMessage)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
[scheduler]
max_attempts = 0
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestConversions(t *testing.T) {
	path := writeConfig(t, `
[scheduler]
poll_interval_seconds = 10
handler_timeout_seconds = 60
chain_publish = true

[scrape]
interval_minutes = 5

[translation]
target_language = "German"
tone = "formal"
title_count = 2

[[credentials]]
name = "main"
consumer_key = "ck"
consumer_secret = "cs"
access_token = "at"
access_token_secret = "ats"
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	sc := cfg.ToSched()
	assert.Equal(t, 10*time.Second, sc.PollInterval)
	assert.Equal(t, time.Minute, sc.HandlerTimeout)
	assert.True(t, sc.ChainPublish)

	assert.Equal(t, 5*time.Minute, cfg.ScrapeInterval())

	profile := cfg.ToProfile()
	assert.Equal(t, "German", profile.TargetLanguage)
	assert.Equal(t, "formal", profile.Tone)
	assert.Equal(t, 2, profile.TitleCount)

	pool := cfg.ToCredentials()
	require.Len(t, pool, 1)
	assert.Equal(t, "main", pool[0].Name)
	assert.Equal(t, "ck", pool[0].ConsumerKey)
	assert.Equal(t, "ats", pool[0].AccessTokenSecret)
}
