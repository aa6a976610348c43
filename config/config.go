// Package config holds the bot's layered TOML configuration: defaults,
// system and user files, a project file found by upward search, and
// XBOT_-prefixed environment variables, in rising precedence.
package config

import (
	"time"

	"github.com/sakaguchi/xbot/creds"
	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/translate"
	"github.com/sakaguchi/xbot/translate/openai"
)

// Config is the root configuration.
type Config struct {
	Database    DatabaseConfig     `mapstructure:"database"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	Scrape      ScrapeConfig       `mapstructure:"scrape"`
	Translation TranslationConfig  `mapstructure:"translation"`
	Publish     PublishConfig      `mapstructure:"publish"`
	Credentials []CredentialConfig `mapstructure:"credentials"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the job scheduler.
type SchedulerConfig struct {
	PollIntervalSeconds   int  `mapstructure:"poll_interval_seconds"`   // how often the ticker looks for due jobs
	HandlerTimeoutSeconds int  `mapstructure:"handler_timeout_seconds"` // per-execution deadline
	MaxAttempts           int  `mapstructure:"max_attempts"`            // transient retries before terminal failure
	BackoffBaseSeconds    int  `mapstructure:"backoff_base_seconds"`
	BackoffCapSeconds     int  `mapstructure:"backoff_cap_seconds"`
	AuthRetryDelaySeconds int  `mapstructure:"auth_retry_delay_seconds"` // wait after an auth expiry signal
	MaxAuthSignals        int  `mapstructure:"max_auth_signals"`         // auth expiries tolerated before terminal failure
	ChainPublish          bool `mapstructure:"chain_publish"`            // auto-enqueue publish after translate
}

// ScrapeConfig configures the source account polling.
type ScrapeConfig struct {
	Handles         []string `mapstructure:"handles"`          // monitored account handles
	IntervalMinutes int      `mapstructure:"interval_minutes"` // polling window size
	SpoolDir        string   `mapstructure:"spool_dir"`        // drop directory for captured thread JSON
}

// TranslationConfig configures the translation provider and target profile.
type TranslationConfig struct {
	TargetLanguage string       `mapstructure:"target_language"`
	Tone           string       `mapstructure:"tone"`
	TitleCount     int          `mapstructure:"title_count"`
	OpenAI         OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible translation backend.
type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// PublishConfig configures the publishing stage.
type PublishConfig struct {
	DryRun         bool   `mapstructure:"dry_run"`          // render plans without posting
	CallsPerMinute int    `mapstructure:"calls_per_minute"` // per-credential rate limit, 0 = unlimited
	OutboxPath     string `mapstructure:"outbox_path"`      // NDJSON file receiving posted segments
}

// CredentialConfig is one publisher identity.
type CredentialConfig struct {
	Name              string `mapstructure:"name"`
	ConsumerKey       string `mapstructure:"consumer_key"`
	ConsumerSecret    string `mapstructure:"consumer_secret"`
	AccessToken       string `mapstructure:"access_token"`
	AccessTokenSecret string `mapstructure:"access_token_secret"`
	ClosingMessage    string `mapstructure:"closing_message"`
}

// ToSched converts the scheduler section into the scheduler's own config.
func (c *Config) ToSched() sched.Config {
	return sched.Config{
		PollInterval:   time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second,
		HandlerTimeout: time.Duration(c.Scheduler.HandlerTimeoutSeconds) * time.Second,
		MaxAttempts:    c.Scheduler.MaxAttempts,
		BackoffBase:    time.Duration(c.Scheduler.BackoffBaseSeconds) * time.Second,
		BackoffCap:     time.Duration(c.Scheduler.BackoffCapSeconds) * time.Second,
		AuthRetryDelay: time.Duration(c.Scheduler.AuthRetryDelaySeconds) * time.Second,
		MaxAuthSignals: c.Scheduler.MaxAuthSignals,
		ChainPublish:   c.Scheduler.ChainPublish,
	}
}

// ScrapeInterval returns the polling window as a duration.
func (c *Config) ScrapeInterval() time.Duration {
	return time.Duration(c.Scrape.IntervalMinutes) * time.Minute
}

// ToProfile converts the translation section into a provider profile.
func (c *Config) ToProfile() translate.Profile {
	return translate.Profile{
		TargetLanguage: c.Translation.TargetLanguage,
		Tone:           c.Translation.Tone,
		TitleCount:     c.Translation.TitleCount,
	}
}

// ToOpenAI converts the provider section into the backend's config.
func (c *Config) ToOpenAI() openai.Config {
	return openai.Config{
		APIKey:      c.Translation.OpenAI.APIKey,
		BaseURL:     c.Translation.OpenAI.BaseURL,
		Model:       c.Translation.OpenAI.Model,
		Temperature: float32(c.Translation.OpenAI.Temperature),
		Timeout:     time.Duration(c.Translation.OpenAI.TimeoutSeconds) * time.Second,
	}
}

// ToCredentials converts the credentials section into pool credentials.
func (c *Config) ToCredentials() []creds.Credential {
	out := make([]creds.Credential, 0, len(c.Credentials))
	for _, cc := range c.Credentials {
		out = append(out, creds.Credential{
			Name:              cc.Name,
			ConsumerKey:       cc.ConsumerKey,
			ConsumerSecret:    cc.ConsumerSecret,
			AccessToken:       cc.AccessToken,
			AccessTokenSecret: cc.AccessTokenSecret,
			ClosingMessage:    cc.ClosingMessage,
		})
	}
	return out
}
