package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"screener/internal/app"
	"screener/internal/config"
	"screener/internal/live"
	"screener/internal/tui"
	"screener/internal/util"
	"screener/pkg/screener"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so logs go to a dated file.
	logPath := filepath.Join(cfg.Logging.Dir, fmt.Sprintf("screener-tui-%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := util.NewLogger(cfg.Logging.Level, logFile)
	util.SetDefault(logger)

	client := screener.NewClient(cfg.API.BaseURL,
		screener.WithTimeout(cfg.API.Timeout),
		screener.WithRetries(cfg.API.Retries, 200*time.Millisecond),
		screener.WithRateLimit(cfg.API.RateLimitPerMin),
		screener.WithLogger(logger),
	)
	dialer := live.NewWebsocketDialer(10 * time.Second)

	orch := app.New(client, dialer, app.OptionsFromConfig(cfg), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "starting: %v\n", err)
		os.Exit(1)
	}
	defer orch.Stop()
	logger.Info("screener started", "api", cfg.API.BaseURL, "stream", cfg.Stream.URL)

	model := tui.New(ctx, orch, tui.Options{SearchDebounce: cfg.UI.SearchDebounce}, logger)
	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
