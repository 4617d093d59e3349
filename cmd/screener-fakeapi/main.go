package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"screener/internal/domain"
	"screener/internal/fakeapi"
	"screener/internal/util"
)

// asset is one simulated instrument.
type asset struct {
	symbol, name string
	open, price  float64
	volume       float64
	rsi, macd    float64
	signal       float64
	sma20, sma50 float64
	sma200       float64
}

var universe = []asset{
	{symbol: "NASDAQ:AAPL", name: "Apple Inc.", price: 189.50, volume: 52e6},
	{symbol: "NASDAQ:MSFT", name: "Microsoft Corporation", price: 415.20, volume: 21e6},
	{symbol: "NASDAQ:NVDA", name: "NVIDIA Corporation", price: 121.40, volume: 310e6},
	{symbol: "NASDAQ:TSLA", name: "Tesla, Inc.", price: 248.10, volume: 98e6},
	{symbol: "NASDAQ:AMZN", name: "Amazon.com, Inc.", price: 186.30, volume: 40e6},
	{symbol: "NASDAQ:INTC", name: "Intel Corporation", price: 30.15, volume: 45e6},
	{symbol: "NYSE:IBM", name: "International Business Machines", price: 212.70, volume: 4e6},
	{symbol: "NYSE:KO", name: "The Coca-Cola Company", price: 63.40, volume: 12e6},
	{symbol: "NYSE:JPM", name: "JPMorgan Chase & Co.", price: 205.90, volume: 9e6},
	{symbol: "NYSE:XOM", name: "Exxon Mobil Corporation", price: 114.80, volume: 16e6},
	{symbol: "BINANCE:BTCUSDT", name: "Bitcoin / TetherUS", price: 67250.00, volume: 2.1e9},
	{symbol: "BINANCE:ETHUSDT", name: "Ethereum / TetherUS", price: 3120.50, volume: 9.5e8},
}

// market random-walks the universe and pushes it into the fake backend.
type market struct {
	mu     sync.Mutex
	assets []asset
	srv    *fakeapi.Server
	log    *slog.Logger
}

func newMarket(srv *fakeapi.Server, log *slog.Logger) *market {
	assets := make([]asset, len(universe))
	copy(assets, universe)
	for i := range assets {
		a := &assets[i]
		a.open = a.price
		a.sma20 = a.price * (1 + (rand.Float64()-0.5)*0.04)
		a.sma50 = a.price * (1 + (rand.Float64()-0.5)*0.08)
		a.sma200 = a.price * (1 + (rand.Float64()-0.5)*0.2)
		a.rsi = 30 + rand.Float64()*40
	}
	return &market{assets: assets, srv: srv, log: log}
}

// step moves every price and republishes movers, history and the stream.
func (m *market) step() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rows := make([]map[string]any, 0, len(m.assets))
	for i := range m.assets {
		a := &m.assets[i]
		a.price *= 1 + rand.NormFloat64()*0.004
		a.volume *= 1 + rand.Float64()*0.01
		a.rsi = min(95, max(5, a.rsi+rand.NormFloat64()*3))
		a.macd += rand.NormFloat64() * 0.2
		a.signal += (a.macd - a.signal) * 0.2

		row := a.row()
		rows = append(rows, row)
		m.srv.SetLive(a.symbol, row)
		for _, iv := range domain.AllIntervals {
			m.srv.SetHistory(a.symbol, iv, []domain.Bar{a.bar(now, iv)})
		}
	}
	m.srv.SetMovers(rows)
	if err := m.srv.Broadcast(rows); err != nil {
		m.log.Warn("broadcasting market update", "error", err)
	}
	m.log.Debug("market step", "assets", len(rows), "clients", m.srv.Connections())
}

func (a *asset) change() float64 {
	return (a.price - a.open) / a.open * 100
}

// row uses the screener backend's column labels.
func (a *asset) row() map[string]any {
	return map[string]any{
		"Symbol":                       a.symbol,
		"Name":                         a.name,
		"Exchange":                     domain.ExchangeOf(a.symbol),
		"Price":                        a.price,
		"Change %":                     a.change(),
		"Volume":                       a.volume,
		"Relative Strength Index (14)": a.rsi,
		"MACD Level (12, 26)":          a.macd,
		"MACD Signal (12, 26)":         a.signal,
		"SMA20":                        a.sma20,
		"SMA50":                        a.sma50,
		"SMA200":                       a.sma200,
	}
}

func (a *asset) bar(ts time.Time, iv domain.Interval) domain.Bar {
	f := func(v float64) *float64 { return &v }
	return domain.Bar{
		Symbol:    a.symbol,
		Timestamp: ts,
		Interval:  string(iv),
		Open:      f(a.open),
		High:      f(max(a.open, a.price)),
		Low:       f(min(a.open, a.price)),
		Close:     f(a.price),
		Volume:    f(a.volume),
		Indicators: map[string]*float64{
			"RSI":         f(a.rsi),
			"MACD":        f(a.macd),
			"MACD_Signal": f(a.signal),
			"SMA20":       f(a.sma20),
			"SMA50":       f(a.sma50),
			"SMA200":      f(a.sma200),
		},
	}
}

func searchIndex() []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(universe))
	for _, a := range universe {
		out = append(out, domain.SearchResult{
			Symbol:   a.symbol,
			Name:     a.name,
			Exchange: domain.ExchangeOf(a.symbol),
		})
	}
	return out
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	dbPath := flag.String("db", ":memory:", "SQLite database for favorites")
	every := flag.Duration("every", 2*time.Second, "market update period")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := util.NewLogger(*level, os.Stderr)
	util.SetDefault(logger)

	srv, err := fakeapi.Open(*dbPath, logger)
	if err != nil {
		logger.Error("opening backend", "error", err)
		os.Exit(1)
	}
	defer srv.Close()
	srv.SetSearchIndex(searchIndex())

	mkt := newMarket(srv, logger)
	mkt.step()

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", *every), mkt.step); err != nil {
		logger.Error("scheduling market updates", "error", err)
		os.Exit(1)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpSrv := &http.Server{Addr: *addr, Handler: srv.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("fake screener backend listening", "addr", *addr, "db", *dbPath)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serving", "error", err)
		os.Exit(1)
	}
}
