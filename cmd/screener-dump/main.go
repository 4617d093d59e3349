package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screener/internal/app"
	"screener/internal/config"
	"screener/internal/dashboard"
	"screener/internal/domain"
	"screener/internal/util"
	"screener/pkg/screener"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	viewName := flag.String("view", "movers", "view to print: movers, losers or tracked")
	interval := flag.String("interval", "", "interval for the tracked view (default from config)")
	text := flag.String("filter", "", "substring filter over symbol, exchange and name")
	exchange := flag.String("exchange", "", "only rows from this exchange")
	sortKey := flag.String("sort", "", "sort key (symbol, price, changePercent, volume, rsi, macd, sma20, sma50, sma200)")
	asc := flag.Bool("asc", false, "sort ascending")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := util.NewLogger(cfg.Logging.Level, os.Stderr)

	view, ok := app.ParseView(*viewName)
	if !ok || view == app.ViewLive {
		fmt.Fprintf(os.Stderr, "unknown view %q (want movers, losers or tracked)\n", *viewName)
		os.Exit(2)
	}

	sort := dashboard.DefaultSort(view == app.ViewLosers)
	if *sortKey != "" {
		key, err := dashboard.ParseSortKey(*sortKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		sort = dashboard.SortSpec{Key: key, Direction: dashboard.Descending}
		if *asc {
			sort.Direction = dashboard.Ascending
		}
	}

	client := screener.NewClient(cfg.API.BaseURL,
		screener.WithTimeout(cfg.API.Timeout),
		screener.WithRetries(cfg.API.Retries, 200*time.Millisecond),
		screener.WithRateLimit(cfg.API.RateLimitPerMin),
		screener.WithLogger(logger),
	)

	opts := app.OptionsFromConfig(cfg)
	opts.ManualPolling = true
	opts.View = view
	if *interval != "" {
		iv, err := domain.ParseInterval(*interval)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		opts.Interval = iv
	}
	orch := app.New(client, nil, opts, logger)
	defer orch.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := fetch(ctx, orch, view); err != nil {
		logger.Error("fetch failed", "view", view.String(), "error", err)
		os.Exit(1)
	}

	filter := dashboard.FilterSpec{Text: *text, Exchange: *exchange}

	rows := dashboard.Apply(orch.Snapshot().RowsFor(view), filter, sort)
	if err := dashboard.WriteText(os.Stdout, rows); err != nil {
		logger.Error("writing table", "error", err)
		os.Exit(1)
	}
}

// fetch runs the one poll that fills view.
func fetch(ctx context.Context, orch *app.Orchestrator, view app.View) error {
	if view == app.ViewTracked {
		if err := orch.RefreshFavorites(ctx); err != nil {
			return err
		}
		return orch.PollTracked(ctx)
	}
	return orch.PollMovers(ctx)
}
