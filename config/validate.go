package config

import "github.com/sakaguchi/xbot/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Scheduler poll interval: 0 = manual ticks only, negative = invalid
	if c.Scheduler.PollIntervalSeconds < 0 {
		return errors.Newf("scheduler.poll_interval_seconds must be >= 0, got %d", c.Scheduler.PollIntervalSeconds)
	}
	if c.Scheduler.HandlerTimeoutSeconds <= 0 {
		return errors.Newf("scheduler.handler_timeout_seconds must be > 0, got %d", c.Scheduler.HandlerTimeoutSeconds)
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return errors.Newf("scheduler.max_attempts must be > 0, got %d", c.Scheduler.MaxAttempts)
	}
	if c.Scheduler.BackoffBaseSeconds <= 0 {
		return errors.Newf("scheduler.backoff_base_seconds must be > 0, got %d", c.Scheduler.BackoffBaseSeconds)
	}
	if c.Scheduler.BackoffCapSeconds < c.Scheduler.BackoffBaseSeconds {
		return errors.Newf("scheduler.backoff_cap_seconds must be >= backoff_base_seconds, got %d < %d",
			c.Scheduler.BackoffCapSeconds, c.Scheduler.BackoffBaseSeconds)
	}
	if c.Scheduler.MaxAuthSignals <= 0 {
		return errors.Newf("scheduler.max_auth_signals must be > 0, got %d", c.Scheduler.MaxAuthSignals)
	}

	if c.Scrape.IntervalMinutes <= 0 {
		return errors.Newf("scrape.interval_minutes must be > 0, got %d", c.Scrape.IntervalMinutes)
	}

	if c.Translation.TargetLanguage == "" {
		return errors.New("translation.target_language cannot be empty")
	}
	if c.Translation.TitleCount < 0 {
		return errors.Newf("translation.title_count must be >= 0, got %d", c.Translation.TitleCount)
	}

	if c.Publish.CallsPerMinute < 0 {
		return errors.Newf("publish.calls_per_minute must be >= 0, got %d", c.Publish.CallsPerMinute)
	}

	seen := make(map[string]bool, len(c.Credentials))
	for i, cred := range c.Credentials {
		if cred.Name == "" {
			return errors.Newf("credentials[%d].name cannot be empty", i)
		}
		if seen[cred.Name] {
			return errors.Newf("duplicate credential name %q", cred.Name)
		}
		seen[cred.Name] = true
	}

	return nil
}
