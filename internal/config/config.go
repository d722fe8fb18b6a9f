// Package config holds the gateway's runtime configuration. Files are
// JSON5; secrets come from the environment only and are never written
// to disk.
package config

import "time"

// Config is the root configuration for the relay.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Commands  CommandsConfig  `json:"commands,omitempty"`
	Worker    WorkerConfig    `json:"worker"`
	Executor  ExecutorConfig  `json:"executor"`
	Webhooks  WebhooksConfig  `json:"webhooks"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Retry     RetryConfig     `json:"retry,omitempty"`
	Breaker   BreakerConfig   `json:"breaker,omitempty"`
	Dedup     DedupConfig     `json:"dedup,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm"`
}

// DatabaseConfig selects the persistence backend.
// PostgresDSN is NEVER read from config files — env HOOKRELAY_POSTGRES_DSN only.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	// SQLitePath backs standalone mode when no DSN is set.
	SQLitePath string `json:"sqlite_path,omitempty"`
}

// CommandsConfig points at the command registry file.
type CommandsConfig struct {
	// File is a JSON command list; empty means built-in commands only.
	File string `json:"file,omitempty"`
	// Watch reloads the file on change.
	Watch bool `json:"watch,omitempty"`
	// Prefixes override the default trigger prefixes.
	Prefixes []string `json:"prefixes,omitempty"`
	// BotAccounts are extra actor logins treated as bots.
	BotAccounts []string `json:"bot_accounts,omitempty"`
	// SelfIDs are this system's own account/app IDs per provider.
	SelfIDs []string `json:"self_ids,omitempty"`
}

// WorkerConfig tunes the task worker pool.
type WorkerConfig struct {
	Concurrency      int    `json:"concurrency"`
	TaskTimeoutSec   int    `json:"task_timeout_sec"`
	ShutdownGraceSec int    `json:"shutdown_grace_sec"`
	WorkspaceRoot    string `json:"workspace_root"`
	DefaultWorkDir   string `json:"default_work_dir,omitempty"`
}

// ExecutorConfig tunes the agent CLI invocation.
type ExecutorConfig struct {
	Binary       string `json:"binary"`
	Model        string `json:"model,omitempty"`
	AllowedTools string `json:"allowed_tools,omitempty"`
}

// WebhooksConfig carries the per-provider signing secrets.
// All fields come from env only.
type WebhooksConfig struct {
	GitHubSecret string `json:"-"` // HOOKRELAY_GITHUB_WEBHOOK_SECRET
	JiraSecret   string `json:"-"` // HOOKRELAY_JIRA_WEBHOOK_SECRET
	SlackSecret  string `json:"-"` // HOOKRELAY_SLACK_SIGNING_SECRET
	SentrySecret string `json:"-"` // HOOKRELAY_SENTRY_CLIENT_SECRET
}

// DispatchConfig configures result posting and notifications.
// API credentials come from env only.
type DispatchConfig struct {
	SuccessChannel string  `json:"success_channel,omitempty"`
	FailureChannel string  `json:"failure_channel,omitempty"`
	GitHubAPIBase  string  `json:"github_api_base,omitempty"`
	JiraBaseURL    string  `json:"jira_base_url,omitempty"`
	OutboundRPS    float64 `json:"outbound_rps,omitempty"`
	OutboundBurst  int     `json:"outbound_burst,omitempty"`

	GitHubToken   string `json:"-"` // HOOKRELAY_GITHUB_TOKEN
	JiraAuthToken string `json:"-"` // HOOKRELAY_JIRA_AUTH_TOKEN
	SlackBotToken string `json:"-"` // HOOKRELAY_SLACK_BOT_TOKEN
}

// RetryConfig tunes the outbound retry policy.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts"`
	MinWaitSec  float64 `json:"min_wait_sec"`
	MaxWaitSec  float64 `json:"max_wait_sec"`
	Multiplier  float64 `json:"multiplier"`
}

// BreakerConfig tunes the per-integration circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	SuccessThreshold int `json:"success_threshold"`
	TimeoutSec       int `json:"timeout_sec"`
	HalfOpenMaxCalls int `json:"half_open_max_calls"`
}

// DedupConfig tunes the posted-message dedup store.
type DedupConfig struct {
	TTLMinutes int `json:"ttl_minutes"`
	// SweepSchedule is a cron expression for expired-key cleanup.
	SweepSchedule string `json:"sweep_schedule,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// TaskTimeout returns the worker task timeout as a duration.
func (w WorkerConfig) TaskTimeout() time.Duration {
	return time.Duration(w.TaskTimeoutSec) * time.Second
}

// ShutdownGrace returns the worker shutdown grace as a duration.
func (w WorkerConfig) ShutdownGrace() time.Duration {
	return time.Duration(w.ShutdownGraceSec) * time.Second
}

// DedupTTL returns the dedup key lifetime as a duration.
func (d DedupConfig) TTL() time.Duration {
	return time.Duration(d.TTLMinutes) * time.Minute
}
