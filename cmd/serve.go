package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/hookrelay/internal/command"
	"github.com/nextlevelbuilder/hookrelay/internal/config"
	"github.com/nextlevelbuilder/hookrelay/internal/dedup"
	"github.com/nextlevelbuilder/hookrelay/internal/dispatch"
	"github.com/nextlevelbuilder/hookrelay/internal/executor"
	"github.com/nextlevelbuilder/hookrelay/internal/flow"
	"github.com/nextlevelbuilder/hookrelay/internal/gateway"
	"github.com/nextlevelbuilder/hookrelay/internal/queue"
	"github.com/nextlevelbuilder/hookrelay/internal/resilience"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
	"github.com/nextlevelbuilder/hookrelay/internal/store/sqlstore"
	"github.com/nextlevelbuilder/hookrelay/internal/telemetry"
	"github.com/nextlevelbuilder/hookrelay/internal/webhook"
	"github.com/nextlevelbuilder/hookrelay/internal/worker"
)

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(log)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Error("telemetry init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	// Persistence: Postgres when a DSN is set, embedded SQLite otherwise.
	var db *sql.DB
	dialect := queue.DialectPostgres
	if cfg.Standalone() {
		path := cfg.SQLitePath()
		os.MkdirAll(filepath.Dir(path), 0755)
		db, err = sqlstore.OpenSQLite(path)
		if err == nil {
			err = sqlstore.EnsureSQLiteSchema(db)
		}
		dialect = queue.DialectSQLite
		log.Info("standalone mode", "sqlite_path", path)
	} else {
		db, err = sqlstore.OpenPostgres(cfg.Database.PostgresDSN)
		log.Info("managed mode", "backend", "postgres")
	}
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	stores := &store.Stores{
		Tasks:         sqlstore.NewTaskStore(db),
		Conversations: sqlstore.NewConversationStore(db),
	}
	q := queue.NewSQLQueue(db, dialect)
	dd := dedup.NewSQLStore(db, cfg.Dedup.TTL())

	// Command registry: file-backed with hot reload, or built-ins.
	cmds := command.DefaultCommands()
	if cfg.Commands.File != "" {
		loaded, loadErr := command.LoadCommandsFile(cfg.Commands.File)
		if loadErr != nil {
			log.Error("failed to load commands file", "path", cfg.Commands.File, "error", loadErr)
			os.Exit(1)
		}
		cmds = loaded
	}
	registry, err := command.NewRegistry(cmds)
	if err != nil {
		log.Error("invalid command registry", "error", err)
		os.Exit(1)
	}
	guard := command.NewLoopGuard(dd, cfg.Commands.SelfIDs, cfg.Commands.BotAccounts)
	matcher, err := command.NewMatcher(cfg.Commands.Prefixes, registry, guard, log)
	if err != nil {
		log.Error("invalid trigger prefixes", "error", err)
		os.Exit(1)
	}
	if cfg.Commands.File != "" && cfg.Commands.Watch {
		go func() {
			if err := command.WatchCommandsFile(ctx, cfg.Commands.File, matcher, log); err != nil {
				log.Warn("commands file watcher stopped", "error", err)
			}
		}()
	}

	validator := webhook.NewValidator(webhookSecrets(cfg))
	correlator := flow.NewCorrelator(stores, log)

	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          time.Duration(cfg.Breaker.TimeoutSec) * time.Second,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	}, log)

	posters, notifier := dispatch.BuildPosters(dispatch.PosterSettings{
		GitHubAPIBase: cfg.Dispatch.GitHubAPIBase,
		GitHubToken:   cfg.Dispatch.GitHubToken,
		JiraBaseURL:   cfg.Dispatch.JiraBaseURL,
		JiraAuthToken: cfg.Dispatch.JiraAuthToken,
		SlackBotToken: cfg.Dispatch.SlackBotToken,
		RPS:           cfg.Dispatch.OutboundRPS,
		Burst:         cfg.Dispatch.OutboundBurst,
	})
	dispatcher := dispatch.New(dispatch.Config{
		SuccessChannel: cfg.Dispatch.SuccessChannel,
		FailureChannel: cfg.Dispatch.FailureChannel,
		RetryPolicy: resilience.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			MinWait:     time.Duration(cfg.Retry.MinWaitSec * float64(time.Second)),
			MaxWait:     time.Duration(cfg.Retry.MaxWaitSec * float64(time.Second)),
			Multiplier:  cfg.Retry.Multiplier,
		},
	}, posters, notifier, dd, breakers, log)

	exec := executor.NewClaudeExecutor(log)
	if cfg.Executor.Binary != "" {
		exec.Binary = cfg.Executor.Binary
	}
	exec.Model = cfg.Executor.Model
	exec.AllowedTools = cfg.Executor.AllowedTools

	workspaceRoot := cfg.WorkspaceRoot()
	os.MkdirAll(workspaceRoot, 0755)
	workspaces := executor.NewWorkspaceManager(workspaceRoot, log)

	hub := gateway.NewHub(log)
	pool := worker.New(worker.Config{
		Concurrency:       cfg.Worker.Concurrency,
		TaskTimeout:       cfg.Worker.TaskTimeout(),
		DefaultWorkingDir: config.ExpandHome(cfg.Worker.DefaultWorkDir),
		ShutdownGrace:     cfg.Worker.ShutdownGrace(),
	}, q, stores, exec, workspaces, hub, dispatcher, log)

	server := gateway.NewServer(gateway.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerMinute: cfg.Server.RateLimitRPM,
	}, validator, []webhook.Normalizer{
		&webhook.GitHubNormalizer{},
		&webhook.JiraNormalizer{},
		&webhook.SlackNormalizer{},
		&webhook.SentryNormalizer{},
	}, matcher, correlator, q, hub, breakers, log)

	go runDedupSweeper(ctx, cfg.Dedup.SweepSchedule, dd, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(ctx) }()

	log.Info("hookrelay starting",
		"version", Version,
		"commands", len(cmds),
		"concurrency", cfg.Worker.Concurrency,
	)

	if err := server.Start(ctx); err != nil {
		log.Error("ingress error", "error", err)
		cancel()
	}
	if err := <-poolDone; err != nil {
		log.Warn("worker pool exit", "error", err)
	}
}

// webhookSecrets builds the per-provider signing secret map, omitting
// providers with no secret so their deliveries are rejected outright.
func webhookSecrets(cfg *config.Config) map[store.Provider]string {
	secrets := make(map[store.Provider]string)
	if cfg.Webhooks.GitHubSecret != "" {
		secrets[store.ProviderGitHub] = cfg.Webhooks.GitHubSecret
	}
	if cfg.Webhooks.JiraSecret != "" {
		secrets[store.ProviderJira] = cfg.Webhooks.JiraSecret
	}
	if cfg.Webhooks.SlackSecret != "" {
		secrets[store.ProviderSlack] = cfg.Webhooks.SlackSecret
	}
	if cfg.Webhooks.SentrySecret != "" {
		secrets[store.ProviderSentry] = cfg.Webhooks.SentrySecret
	}
	return secrets
}

// runDedupSweeper drops expired dedup keys on the configured cron
// schedule. An invalid expression disables sweeping rather than failing
// startup.
func runDedupSweeper(ctx context.Context, schedule string, dd dedup.Store, log *slog.Logger) {
	if schedule == "" {
		return
	}
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		log.Warn("invalid dedup sweep schedule, sweeping disabled", "schedule", schedule)
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(schedule, now)
			if err != nil || !due {
				continue
			}
			n, err := dd.Sweep(ctx)
			if err != nil {
				log.Warn("dedup sweep failed", "error", err)
			} else if n > 0 {
				log.Info("dedup sweep complete", "removed", n)
			}
		}
	}
}
