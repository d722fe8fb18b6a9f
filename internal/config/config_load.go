package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         18890,
			RateLimitRPM: 60,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.hookrelay/hookrelay.db",
		},
		Worker: WorkerConfig{
			Concurrency:      3,
			TaskTimeoutSec:   1800,
			ShutdownGraceSec: 30,
			WorkspaceRoot:    "~/.hookrelay/workspaces",
		},
		Executor: ExecutorConfig{
			Binary: "claude",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			MinWaitSec:  1,
			MaxWaitSec:  30,
			Multiplier:  2,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			TimeoutSec:       60,
			HalfOpenMaxCalls: 1,
		},
		Dedup: DedupConfig{
			TTLMinutes:    1440,
			SweepSchedule: "*/30 * * * *",
		},
		Dispatch: DispatchConfig{
			GitHubAPIBase: "https://api.github.com",
			OutboundRPS:   5,
			OutboundBurst: 10,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "hookrelay",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets only live here.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Signing secrets
	envStr("HOOKRELAY_GITHUB_WEBHOOK_SECRET", &c.Webhooks.GitHubSecret)
	envStr("HOOKRELAY_JIRA_WEBHOOK_SECRET", &c.Webhooks.JiraSecret)
	envStr("HOOKRELAY_SLACK_SIGNING_SECRET", &c.Webhooks.SlackSecret)
	envStr("HOOKRELAY_SENTRY_CLIENT_SECRET", &c.Webhooks.SentrySecret)

	// Outbound API credentials
	envStr("HOOKRELAY_GITHUB_TOKEN", &c.Dispatch.GitHubToken)
	envStr("HOOKRELAY_JIRA_AUTH_TOKEN", &c.Dispatch.JiraAuthToken)
	envStr("HOOKRELAY_SLACK_BOT_TOKEN", &c.Dispatch.SlackBotToken)

	// Database
	envStr("HOOKRELAY_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("HOOKRELAY_SQLITE_PATH", &c.Database.SQLitePath)

	// Server host/port
	envStr("HOOKRELAY_HOST", &c.Server.Host)
	if v := os.Getenv("HOOKRELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	// Worker
	envStr("HOOKRELAY_WORKSPACE_ROOT", &c.Worker.WorkspaceRoot)
	if v := os.Getenv("HOOKRELAY_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Worker.Concurrency = n
		}
	}

	// Executor
	envStr("HOOKRELAY_AGENT_BINARY", &c.Executor.Binary)
	envStr("HOOKRELAY_AGENT_MODEL", &c.Executor.Model)

	// Notification channels (comma-separated override kept simple)
	envStr("HOOKRELAY_SUCCESS_CHANNEL", &c.Dispatch.SuccessChannel)
	envStr("HOOKRELAY_FAILURE_CHANNEL", &c.Dispatch.FailureChannel)
	envStr("HOOKRELAY_JIRA_BASE_URL", &c.Dispatch.JiraBaseURL)

	// Commands
	envStr("HOOKRELAY_COMMANDS_FILE", &c.Commands.File)
	if v := os.Getenv("HOOKRELAY_BOT_ACCOUNTS"); v != "" {
		c.Commands.BotAccounts = strings.Split(v, ",")
	}

	// Telemetry
	envStr("HOOKRELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("HOOKRELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("HOOKRELAY_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HOOKRELAY_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Standalone reports whether the relay runs on embedded SQLite
// instead of Postgres.
func (c *Config) Standalone() bool {
	return c.Database.PostgresDSN == ""
}

// WorkspaceRoot returns the expanded workspace root path.
func (c *Config) WorkspaceRoot() string {
	return ExpandHome(c.Worker.WorkspaceRoot)
}

// SQLitePath returns the expanded SQLite database path.
func (c *Config) SQLitePath() string {
	return ExpandHome(c.Database.SQLitePath)
}

// Save writes the config to disk. Secret fields carry `json:"-"` so
// they never persist.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
