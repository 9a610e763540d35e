package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/threadclaw/internal/config"
	"github.com/nextlevelbuilder/threadclaw/internal/upgrade"
	"github.com/nextlevelbuilder/threadclaw/internal/worktree"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("threadclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — defaults plus env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Agent:")
	if path, err := exec.LookPath(cfg.Agent.Command); err != nil {
		fmt.Printf("    %-12s %s (NOT FOUND in PATH)\n", "Command:", cfg.Agent.Command)
	} else {
		fmt.Printf("    %-12s %s\n", "Command:", path)
	}
	workDir := cfg.AgentWorkDir()
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		fmt.Printf("    %-12s %s (NOT A DIRECTORY)\n", "Workdir:", workDir)
	} else {
		fmt.Printf("    %-12s %s\n", "Workdir:", workDir)
	}

	fmt.Println()
	fmt.Println("  Platforms:")
	checkPlatform("Mattermost", cfg.Platforms.Mattermost.Enabled,
		cfg.Platforms.Mattermost.ServerURL != "" && cfg.Platforms.Mattermost.Token != "")
	checkPlatform("Slack", cfg.Platforms.Slack.Enabled,
		cfg.Platforms.Slack.BotToken != "" && cfg.Platforms.Slack.AppToken != "")

	fmt.Println()
	fmt.Println("  Storage:")
	backend := cfg.Storage.Backend
	if backend == "" {
		backend = "file"
	}
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	if backend == "postgres" {
		checkPostgres(cfg.Storage.PostgresDSN)
	}

	if cfg.Worktree.Enabled {
		fmt.Println()
		fmt.Println("  Worktrees:")
		if _, err := exec.LookPath("git"); err != nil {
			fmt.Printf("    %-12s NOT FOUND in PATH\n", "git:")
		} else {
			fmt.Printf("    %-12s OK\n", "git:")
		}
		if worktree.IsGitRepo(workDir) {
			fmt.Printf("    %-12s %s is a git repository\n", "Workdir:", workDir)
		} else {
			fmt.Printf("    %-12s %s is NOT a git repository\n", "Workdir:", workDir)
		}
	}

	if cfg.Telemetry.Enabled {
		fmt.Println()
		fmt.Printf("  Telemetry:  %s (%s)\n", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	}
}

func checkPlatform(name string, enabled, credentialed bool) {
	switch {
	case !enabled:
		fmt.Printf("    %-12s disabled\n", name+":")
	case !credentialed:
		fmt.Printf("    %-12s enabled (MISSING CREDENTIALS)\n", name+":")
	default:
		fmt.Printf("    %-12s enabled\n", name+":")
	}
}

func checkPostgres(dsn string) {
	if dsn == "" {
		fmt.Printf("    %-12s MISSING (set THREADCLAW_POSTGRES_DSN)\n", "DSN:")
		return
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.PingContext(context.Background()); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")

	s, err := upgrade.CheckSchema(db)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Printf("    %-12s v%d (DIRTY — run: threadclaw migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Printf("    %-12s v%d (run: threadclaw migrate up)\n", "Schema:", s.CurrentVersion)
	}
}
