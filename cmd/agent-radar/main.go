package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/asheshgoplani/agent-radar/internal/config"
	"github.com/asheshgoplani/agent-radar/internal/logging"
)

const Version = "0.3.1"

// Table column widths for sessions command output
const (
	tableColState = 12
	tableColPath  = 40
	tableColID    = 12
)

// env holds everything the subcommands share.
type env struct {
	paths config.Paths
	cfg   *config.Config
}

// loadEnv resolves the data dir and configuration. A broken config
// file degrades to defaults; the CLI should answer queries even when
// the config has a typo in it.
func loadEnv() *env {
	paths, err := config.DefaultPaths()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (using defaults)\n", err)
	}

	logging.Init(logging.Config{
		LogDir:                paths.LogDir(),
		Level:                 cfg.Logs.Level,
		Format:                cfg.Logs.Format,
		MaxSizeMB:             cfg.Logs.MaxSizeMB,
		MaxBackups:            cfg.Logs.Backups,
		MaxAgeDays:            cfg.Logs.RetentionDays,
		Compress:              cfg.Logs.GetCompress(),
		AggregateIntervalSecs: cfg.Logs.AggregateIntervalS,
		Debug:                 cfg.Logs.Level == "debug" || os.Getenv("AGENTRADAR_DEBUG") != "",
	})

	return &env{paths: paths, cfg: cfg}
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("Agent Radar v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "hook-handler":
		// Hooks must never block or fail the agent that invoked them.
		handleHookEvent(loadEnv())
		logging.Shutdown()
		os.Exit(0)
	case "resolve":
		exitCode := handleResolve(loadEnv(), args[1:])
		logging.Shutdown()
		os.Exit(exitCode)
	case "sessions", "ls":
		exitCode := handleSessions(loadEnv(), args[1:])
		logging.Shutdown()
		os.Exit(exitCode)
	case "health":
		exitCode := handleHealth(loadEnv(), args[1:])
		logging.Shutdown()
		os.Exit(exitCode)
	case "serve":
		exitCode := handleServe(loadEnv(), args[1:])
		logging.Shutdown()
		os.Exit(exitCode)
	case "clean":
		exitCode := handleClean(loadEnv(), args[1:])
		logging.Shutdown()
		os.Exit(exitCode)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`Agent Radar - live status for coding agent sessions

Usage:
  agent-radar <command> [flags]

Commands:
  hook-handler        Ingest one hook event from stdin (wired into agent hooks)
  resolve <path>      Resolve the session state at a project path
  sessions            List all known sessions
  health              Show data source health
  serve               Run the HTTP/websocket status server
  clean               Sweep dead locks, stale records, and old journal rows
  version             Print version

Flags:
  --json              Machine-readable output (resolve, sessions, health)

Environment:
  AGENTRADAR_DIR      Data directory (default ~/.agent-radar)
  AGENTRADAR_DEBUG    Enable debug logging
`)
}

func cliLog() *slog.Logger {
	return logging.ForComponent(logging.CompCLI)
}
