package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "xbot.db")

	// Scheduler defaults mirror sched.DefaultConfig
	v.SetDefault("scheduler.poll_interval_seconds", 30)
	v.SetDefault("scheduler.handler_timeout_seconds", 120)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_base_seconds", 30)
	v.SetDefault("scheduler.backoff_cap_seconds", 300)
	v.SetDefault("scheduler.auth_retry_delay_seconds", 60)
	v.SetDefault("scheduler.max_auth_signals", 3)
	v.SetDefault("scheduler.chain_publish", false)

	// Scrape defaults
	v.SetDefault("scrape.interval_minutes", 15)
	v.SetDefault("scrape.spool_dir", "spool")

	// Translation defaults
	v.SetDefault("translation.target_language", "Japanese")
	v.SetDefault("translation.title_count", 3)
	v.SetDefault("translation.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("translation.openai.model", "gpt-4o-mini") // Cost-effective default
	v.SetDefault("translation.openai.temperature", 0.2)     // Deterministic
	v.SetDefault("translation.openai.timeout_seconds", 30)

	// Publish defaults
	v.SetDefault("publish.dry_run", false)
	v.SetDefault("publish.calls_per_minute", 5) // Polite per-credential posting rate
	v.SetDefault("publish.outbox_path", "outbox.ndjson")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("translation.openai.api_key", "XBOT_OPENAI_API_KEY", "OPENAI_API_KEY")
}
