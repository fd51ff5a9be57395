package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/metantonio/open-first-agent/internal/config"
	"github.com/metantonio/open-first-agent/internal/gateway"
	"github.com/metantonio/open-first-agent/internal/history"
	"github.com/metantonio/open-first-agent/internal/orchestrator"
	"github.com/metantonio/open-first-agent/internal/server"
	"github.com/metantonio/open-first-agent/internal/shell"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Every log record also reaches connected sessions as a server_log event.
	logs := gateway.NewLogBroadcaster(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger := slog.New(logs)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	gw := gateway.New(logger, store, logs,
		func(string) gateway.ShellController {
			return shell.NewController(cfg.Shell, cfg.WorkDir)
		},
		func(string) orchestrator.Handler {
			return orchestrator.NewChatClient(cfg.Provider)
		},
	)
	gw.DefaultBrowserEnabled = cfg.BrowserAgent

	fmt.Printf("\nopen-first-agent running at ws://localhost:%d/ws\n\n", cfg.Port)

	srv := server.New(cfg, gw)
	return srv.Start(ctx)
}
