package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/threadclaw/internal/config"
	"github.com/nextlevelbuilder/threadclaw/internal/platform/mattermost"
	"github.com/nextlevelbuilder/threadclaw/internal/platform/slack"
	"github.com/nextlevelbuilder/threadclaw/internal/store"
	filestore "github.com/nextlevelbuilder/threadclaw/internal/store/file"
	pgstore "github.com/nextlevelbuilder/threadclaw/internal/store/pg"
	sqlitestore "github.com/nextlevelbuilder/threadclaw/internal/store/sqlite"
	"github.com/nextlevelbuilder/threadclaw/internal/supervisor"
	"github.com/nextlevelbuilder/threadclaw/internal/tracing"
	"github.com/nextlevelbuilder/threadclaw/internal/worktree"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Debug("tracing shutdown", "error", err)
		}
	}()

	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("store setup failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var worktrees *worktree.Manager
	if cfg.Worktree.Enabled {
		worktrees, err = worktree.NewManager(config.ExpandHome(cfg.Worktree.Root))
		if err != nil {
			slog.Error("worktree setup failed", "error", err)
			os.Exit(1)
		}
	}

	platforms, err := connectPlatforms(ctx, cfg)
	if err != nil {
		slog.Error("platform setup failed", "error", err)
		os.Exit(1)
	}
	if len(platforms) == 0 {
		fmt.Println("No chat platform is enabled. Configure Mattermost or Slack credentials and try again.")
		os.Exit(1)
	}

	sup := supervisor.New(cfg, st, worktrees, Version, platforms)

	// Hot reload pushes only the allowlists; everything else needs a
	// restart.
	if err := config.Watch(ctx, cfgPath, func(fresh *config.Config) {
		sup.SetAllowedUsers("mattermost", fresh.Platforms.Mattermost.AllowedUsers)
		sup.SetAllowedUsers("slack", fresh.Platforms.Slack.AllowedUsers)
	}); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	slog.Info("threadclaw started", "version", Version, "platforms", len(platforms))
	if err := sup.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("supervisor exited", "error", err)
		os.Exit(1)
	}
	slog.Info("threadclaw stopped")
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if verbose {
		level = "debug"
	}
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.SessionStore, error) {
	switch cfg.Backend {
	case "", "file":
		return filestore.New(config.ExpandHome(cfg.Dir))
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = config.ExpandHome("~/.threadclaw/sessions.db")
		}
		return sqlitestore.New(ctx, config.ExpandHome(path))
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("storage backend postgres requires THREADCLAW_POSTGRES_DSN")
		}
		return pgstore.New(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func connectPlatforms(ctx context.Context, cfg *config.Config) ([]supervisor.Platform, error) {
	var platforms []supervisor.Platform

	if cfg.Platforms.Mattermost.Enabled {
		mm, err := mattermost.New(ctx, mattermost.Config{
			ServerURL:    cfg.Platforms.Mattermost.ServerURL,
			Token:        cfg.Platforms.Mattermost.Token,
			TeamName:     cfg.Platforms.Mattermost.TeamName,
			AllowedUsers: cfg.Platforms.Mattermost.AllowedUsers,
		})
		if err != nil {
			return nil, fmt.Errorf("mattermost: %w", err)
		}
		platforms = append(platforms, supervisor.Platform{ID: "mattermost", Client: mm, Listener: mm})
	}

	if cfg.Platforms.Slack.Enabled {
		sl, err := slack.New(ctx, slack.Config{
			BotToken:     cfg.Platforms.Slack.BotToken,
			AppToken:     cfg.Platforms.Slack.AppToken,
			AllowedUsers: cfg.Platforms.Slack.AllowedUsers,
			Debug:        cfg.Platforms.Slack.Debug,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: %w", err)
		}
		platforms = append(platforms, supervisor.Platform{ID: "slack", Client: sl, Listener: sl})
	}

	return platforms, nil
}
