// Package app is the orchestrator of the screener client. One loop goroutine
// owns all state (rows, favorites, connection state, activity log); every
// operation posts a closure to it, and readers get immutable snapshots.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"screener/internal/config"
	"screener/internal/dashboard"
	"screener/internal/domain"
	"screener/internal/live"
	"screener/internal/tracked"
	"screener/pkg/screener"
)

// API is the backend surface the orchestrator consumes.
type API interface {
	Favorites(ctx context.Context) ([]domain.FavoriteSymbol, error)
	AddFavorite(ctx context.Context, symbol string) (domain.FavoriteSymbol, error)
	RemoveFavorite(ctx context.Context, symbol string) error
	History(ctx context.Context, symbol string, interval domain.Interval, limit int) ([]domain.Bar, error)
	TopMovers(ctx context.Context, interval domain.Interval, limit int, order screener.Order) ([]domain.Row, error)
	Search(ctx context.Context, query string) ([]domain.SearchResult, error)
	FavoritesLive(ctx context.Context, interval domain.Interval) ([]domain.Row, error)
}

// Compile-time interface check.
var _ API = (*screener.Client)(nil)

// ErrStopped is returned by operations issued after Stop.
var ErrStopped = errors.New("orchestrator stopped")

// minSearchLen is the shortest query sent to the search endpoint.
const minSearchLen = 2

// Options configures an Orchestrator.
type Options struct {
	StreamURL      string
	StreamInterval domain.Interval
	ReconnectDelay time.Duration

	MoversEvery    time.Duration
	TrackedEvery   time.Duration
	MoversLimit    int
	HistoryLimit   int
	HistoryWorkers int

	// DiscardStale drops a response older than the last one applied for
	// the same request kind. Off, the last response to arrive wins.
	DiscardStale bool

	ActivityCapacity int
	Interval         domain.Interval
	View             View

	// ManualPolling disables the periodic polls; the caller drives
	// PollMovers and PollTracked.
	ManualPolling bool

	// Now and After replace the clock for tests.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// OptionsFromConfig maps the client configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StreamURL:        cfg.Stream.URL,
		StreamInterval:   domain.Interval(cfg.Stream.Interval),
		ReconnectDelay:   cfg.Stream.ReconnectDelay,
		MoversEvery:      cfg.Poll.MoversEvery,
		TrackedEvery:     cfg.Poll.TrackedEvery,
		MoversLimit:      cfg.Poll.MoversLimit,
		HistoryLimit:     cfg.Poll.HistoryLimit,
		DiscardStale:     cfg.Poll.DiscardStale,
		ActivityCapacity: cfg.Activity.Capacity,
		Interval:         domain.Interval(cfg.UI.DefaultInterval),
	}
}

func (o *Options) fillDefaults() {
	if iv, err := domain.ParseInterval(string(o.StreamInterval)); err == nil {
		o.StreamInterval = iv
	}
	if iv, err := domain.ParseInterval(string(o.Interval)); err == nil {
		o.Interval = iv
	}
	if o.StreamInterval == "" {
		o.StreamInterval = domain.Interval1Day
	}
	if o.Interval == "" {
		o.Interval = o.StreamInterval
	}
	if o.MoversEvery <= 0 {
		o.MoversEvery = 5 * time.Second
	}
	if o.TrackedEvery <= 0 {
		o.TrackedEvery = 10 * time.Second
	}
	if o.MoversLimit <= 0 {
		o.MoversLimit = 50
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 1
	}
	if o.HistoryWorkers <= 0 {
		o.HistoryWorkers = 8
	}
	if o.ActivityCapacity <= 0 {
		o.ActivityCapacity = DefaultActivityCapacity
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// state is everything the loop goroutine owns. Slices are replaced, never
// modified in place, so snapshots can share them.
type state struct {
	view           View
	interval       domain.Interval
	streamInterval domain.Interval

	movers    []domain.Row
	losers    []domain.Row
	stream    []domain.Row
	favorites []domain.FavoriteSymbol
	polled    map[string]domain.Row
	tracked   []domain.Row

	conn     domain.ConnectionState
	dropped  int
	activity *ActivityLog
	gate     seqGate
	version  uint64
}

// remerge recomputes the tracked rows from scratch.
func (st *state) remerge() {
	st.tracked = tracked.Merge(tracked.Inputs{
		Favorites:      st.favorites,
		Polled:         st.polled,
		Stream:         st.stream,
		StreamInterval: st.streamInterval,
		ActiveInterval: st.interval,
	})
}

// Orchestrator wires polls, the live feed and the reconciler together.
type Orchestrator struct {
	api  API
	feed *live.Manager
	opts Options
	log  *slog.Logger

	st       *state
	ops      chan op
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	// mu guards the lifecycle fields and orders background launches
	// against Stop.
	mu         sync.Mutex
	started    bool
	stopped    bool
	sched      *cron.Cron
	stopParent func() bool
	inflight   sync.WaitGroup

	snap   atomic.Pointer[Snapshot]
	subsMu sync.Mutex
	nextID int
	subs   map[int]chan Snapshot
}

// New creates an orchestrator. A nil dialer disables the live feed. The
// state loop runs from construction; Start begins network activity.
func New(api API, dialer live.Dialer, opts Options, log *slog.Logger) *Orchestrator {
	opts.fillDefaults()
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		api:      api,
		opts:     opts,
		log:      log,
		ops:      make(chan op),
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan Snapshot),
		st: &state{
			view:           opts.View,
			interval:       opts.Interval,
			streamInterval: opts.StreamInterval,
			conn:           domain.Closed,
			activity:       NewActivityLog(opts.ActivityCapacity),
			gate:           seqGate{discard: opts.DiscardStale},
			movers:         []domain.Row{},
			losers:         []domain.Row{},
			stream:         []domain.Row{},
			tracked:        []domain.Row{},
		},
	}
	if dialer != nil {
		o.feed = live.NewManager(dialer, live.Options{
			URL:            opts.StreamURL,
			ReconnectDelay: opts.ReconnectDelay,
			After:          opts.After,
		}, feedHandler{o}, log)
	}
	o.publish()
	go o.loop()
	return o
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start connects the live feed, schedules the polls and issues the initial
// fetches. Cancelling ctx has the same effect as Stop minus the wait.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return ErrStopped
	}
	if o.started {
		return errors.New("orchestrator already started")
	}
	o.started = true
	o.stopParent = context.AfterFunc(ctx, o.cancel)
	o.post(func(st *state) { o.record(st, LevelInfo, "Initializing core systems") })

	if !o.opts.ManualPolling {
		sched, err := newScheduler(o.log,
			job{name: "movers", every: o.opts.MoversEvery, run: func() { o.PollMovers(o.ctx) }},
			job{name: "tracked", every: o.opts.TrackedEvery, run: func() { o.PollTracked(o.ctx) }},
		)
		if err != nil {
			return err
		}
		o.sched = sched
		sched.Start()
	}
	if o.feed != nil {
		o.feed.Start(o.ctx)
	}

	o.backgroundLocked(func(ctx context.Context) {
		if err := o.RefreshFavorites(ctx); err == nil {
			o.SeedTracked(ctx)
			o.PollTracked(ctx)
		}
	})
	o.backgroundLocked(func(ctx context.Context) { o.PollMovers(ctx) })
	o.log.Info("orchestrator started", "stream", o.opts.StreamURL, "interval", o.opts.Interval)
	return nil
}

// Stop clears every timer, closes the live connection, waits for in-flight
// work and ends the state loop. No state changes after Stop returns.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.cancel()
	sched, stopParent := o.sched, o.stopParent
	o.mu.Unlock()

	if stopParent != nil {
		stopParent()
	}
	if sched != nil {
		<-sched.Stop().Done()
	}
	if o.feed != nil {
		o.feed.Stop()
	}
	o.inflight.Wait()
	<-o.loopDone

	o.subsMu.Lock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.subsMu.Unlock()
	o.log.Info("orchestrator stopped")
}

// background runs fn on its own goroutine, tracked by Stop.
func (o *Orchestrator) background(fn func(ctx context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.backgroundLocked(fn)
}

func (o *Orchestrator) backgroundLocked(fn func(ctx context.Context)) {
	if o.stopped {
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		fn(o.ctx)
	}()
}

// ---------------------------------------------------------------------------
// State loop
// ---------------------------------------------------------------------------

func (o *Orchestrator) loop() {
	defer close(o.loopDone)
	for {
		select {
		case <-o.ctx.Done():
			return
		case op := <-o.ops:
			op.fn(o.st)
			o.st.version++
			o.publish()
			if op.done != nil {
				close(op.done)
			}
		}
	}
}

// op is one state mutation; done, when set, is closed once the resulting
// snapshot is published.
type op struct {
	fn   func(*state)
	done chan struct{}
}

func (o *Orchestrator) send(x op) bool {
	select {
	case o.ops <- x:
		return true
	case <-o.ctx.Done():
		return false
	}
}

// post hands fn to the loop without waiting. It reports false once the loop
// has stopped.
func (o *Orchestrator) post(fn func(*state)) bool {
	return o.send(op{fn: fn})
}

// sync runs fn on the loop and waits until the snapshot it produces is
// published.
func (o *Orchestrator) sync(fn func(*state)) bool {
	done := make(chan struct{})
	if !o.send(op{fn: fn, done: done}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-o.loopDone:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func (o *Orchestrator) publish() {
	st := o.st
	snap := &Snapshot{
		Version:        st.version,
		View:           st.view,
		Interval:       st.interval,
		StreamInterval: st.streamInterval,
		Movers:         st.movers,
		Losers:         st.losers,
		Tracked:        st.tracked,
		Stream:         st.stream,
		Favorites:      st.favorites,
		Connection:     st.conn,
		Dropped:        st.dropped,
		Activity:       st.activity.Entries(),
	}
	o.snap.Store(snap)

	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		// Keep only the newest snapshot for slow subscribers.
		select {
		case ch <- *snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- *snap:
			default:
			}
		}
	}
}

// Snapshot returns the latest published state.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.snap.Load()
}

// Subscribe returns a channel receiving every new snapshot. A subscriber
// that falls behind only sees the newest one. The channel is closed by
// Unsubscribe or Stop.
func (o *Orchestrator) Subscribe() (id int, ch <-chan Snapshot) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	id = o.nextID
	o.nextID++
	c := make(chan Snapshot, 1)
	o.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (o *Orchestrator) Unsubscribe(id int) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	if ch, ok := o.subs[id]; ok {
		close(ch)
		delete(o.subs, id)
	}
}

// ---------------------------------------------------------------------------
// Activity
// ---------------------------------------------------------------------------

// record appends an activity entry; it must run on the loop.
func (o *Orchestrator) record(st *state, level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	st.activity.Add(Entry{
		ID:      uuid.NewString(),
		Time:    o.opts.Now(),
		Level:   level,
		Message: msg,
	})
	switch level {
	case LevelError:
		o.log.Error("activity", "message", msg)
	case LevelWarning:
		o.log.Warn("activity", "message", msg)
	default:
		o.log.Info("activity", "level", string(level), "message", msg)
	}
}

// ---------------------------------------------------------------------------
// View state
// ---------------------------------------------------------------------------

// SetView switches the visible view.
func (o *Orchestrator) SetView(v View) {
	o.sync(func(st *state) { st.view = v })
}

// SetInterval changes the tracked-view interval. Poll snapshots of the old
// interval are dropped, the tracked rows are re-merged at once and a fresh
// tracked poll is issued.
func (o *Orchestrator) SetInterval(iv domain.Interval) error {
	iv, err := domain.ParseInterval(string(iv))
	if err != nil {
		return err
	}
	changed := false
	if !o.sync(func(st *state) {
		if st.interval == iv {
			return
		}
		changed = true
		st.interval = iv
		st.polled = nil
		if st.gate.discard {
			st.gate.invalidate(kindTracked)
		}
		st.remerge()
		o.record(st, LevelInfo, "Tracked interval set to %s", iv.Label())
	}) {
		return ErrStopped
	}
	if changed {
		o.background(func(ctx context.Context) { o.PollTracked(ctx) })
	}
	return nil
}

// ---------------------------------------------------------------------------
// Polls
// ---------------------------------------------------------------------------

// PollMovers fetches the top movers and top losers together and applies
// both. Losers are filtered so a gainer never shows up among them.
func (o *Orchestrator) PollMovers(ctx context.Context) error {
	var moversSeq, losersSeq uint64
	var iv domain.Interval
	if !o.sync(func(st *state) {
		moversSeq = st.gate.next(kindMovers)
		losersSeq = st.gate.next(kindLosers)
		iv = st.streamInterval
	}) {
		return ErrStopped
	}

	var movers, losers []domain.Row
	var moversErr, losersErr error
	var g errgroup.Group
	g.Go(func() error {
		movers, moversErr = o.api.TopMovers(ctx, iv, o.opts.MoversLimit, screener.OrderDesc)
		return nil
	})
	g.Go(func() error {
		losers, losersErr = o.api.TopMovers(ctx, iv, o.opts.MoversLimit, screener.OrderAsc)
		return nil
	})
	g.Wait()

	if !o.sync(func(st *state) {
		o.applyRows(st, kindMovers, moversSeq, moversErr, func() {
			st.movers = movers
		})
		o.applyRows(st, kindLosers, losersSeq, losersErr, func() {
			st.losers = dashboard.Losers(losers)
		})
	}) {
		return ErrStopped
	}
	return errors.Join(moversErr, losersErr)
}

// applyRows applies one poll response through the sequence gate.
func (o *Orchestrator) applyRows(st *state, k requestKind, seq uint64, err error, apply func()) {
	if err != nil {
		if o.ctx.Err() == nil {
			o.record(st, LevelError, "Failed to fetch %s: %v", k, err)
		}
		return
	}
	if !st.gate.accept(k, seq) {
		o.log.Debug("discarding stale response", "kind", k.String(), "seq", seq)
		return
	}
	apply()
}

// PollTracked fetches the latest bar of every favorite at the current
// interval and re-merges the tracked rows. Favorites whose history fails or
// is empty keep their placeholder.
func (o *Orchestrator) PollTracked(ctx context.Context) error {
	var (
		favs []domain.FavoriteSymbol
		iv   domain.Interval
		seq  uint64
	)
	if !o.sync(func(st *state) {
		favs = st.favorites
		iv = st.interval
		seq = st.gate.next(kindTracked)
	}) {
		return ErrStopped
	}

	var (
		mu     sync.Mutex
		polled = make(map[string]domain.Row, len(favs))
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.HistoryWorkers)
	for _, fav := range favs {
		g.Go(func() error {
			bars, err := o.api.History(gctx, fav.Symbol, iv, o.opts.HistoryLimit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", fav.Symbol, err))
				return nil
			}
			if len(bars) == 0 {
				return nil
			}
			polled[fav.Symbol] = domain.RowFromBar(fav.Symbol, iv, bars[0])
			return nil
		})
	}
	g.Wait()
	err := errors.Join(errs...)

	if !o.sync(func(st *state) {
		if err != nil && o.ctx.Err() == nil {
			o.record(st, LevelError, "Failed to fetch tracked history: %v", err)
		}
		if !st.gate.accept(kindTracked, seq) {
			o.log.Debug("discarding stale response", "kind", kindTracked.String(), "seq", seq)
			return
		}
		// Keep older values for favorites that failed this round, as long as
		// they were fetched for the same interval.
		if st.interval == iv {
			for sym, row := range st.polled {
				if _, ok := polled[sym]; !ok {
					polled[sym] = row
				}
			}
		}
		st.polled = polled
		st.remerge()
	}) {
		return ErrStopped
	}
	return err
}

// SeedTracked fills favorites that have no poll snapshot yet from the
// backend's live favorites snapshot at the current interval. Snapshots a
// tracked poll already produced are never replaced, and the result is
// dropped if the interval changed while the request was in flight.
func (o *Orchestrator) SeedTracked(ctx context.Context) error {
	var (
		iv      domain.Interval
		missing bool
	)
	if !o.sync(func(st *state) {
		iv = st.interval
		for _, fav := range st.favorites {
			if _, ok := st.polled[fav.Symbol]; !ok {
				missing = true
				break
			}
		}
	}) {
		return ErrStopped
	}
	if !missing {
		return nil
	}

	rows, err := o.api.FavoritesLive(ctx, iv)

	if !o.sync(func(st *state) {
		if err != nil {
			if o.ctx.Err() == nil {
				o.record(st, LevelWarning, "Failed to fetch live favorites: %v", err)
			}
			return
		}
		if st.interval != iv {
			return
		}
		tracked := make(map[string]bool, len(st.favorites))
		for _, fav := range st.favorites {
			tracked[fav.Symbol] = true
		}
		polled := make(map[string]domain.Row, len(st.polled)+len(rows))
		for sym, row := range st.polled {
			polled[sym] = row
		}
		seeded := 0
		for _, r := range rows {
			if !tracked[r.Symbol] {
				continue
			}
			if _, ok := polled[r.Symbol]; ok {
				continue
			}
			polled[r.Symbol] = r
			seeded++
		}
		if seeded == 0 {
			return
		}
		st.polled = polled
		st.remerge()
		o.log.Debug("seeded tracked rows from live favorites", "rows", seeded, "interval", iv)
	}) {
		return ErrStopped
	}
	return err
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

// RefreshFavorites re-fetches the favorites list and re-merges.
func (o *Orchestrator) RefreshFavorites(ctx context.Context) error {
	var seq uint64
	if !o.sync(func(st *state) { seq = st.gate.next(kindFavorites) }) {
		return ErrStopped
	}

	favs, err := o.api.Favorites(ctx)

	if !o.sync(func(st *state) {
		o.applyRows(st, kindFavorites, seq, err, func() {
			if favs == nil {
				favs = []domain.FavoriteSymbol{}
			}
			st.favorites = favs
			st.remerge()
		})
	}) {
		return ErrStopped
	}
	return err
}

// AddFavorite tracks symbol. An already-tracked symbol is a warning, not an
// error. The favorites list is re-fetched either way.
func (o *Orchestrator) AddFavorite(ctx context.Context, symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return domain.ErrNoSymbol
	}
	_, err := o.api.AddFavorite(ctx, symbol)
	o.sync(func(st *state) {
		switch {
		case err == nil:
			o.record(st, LevelSuccess, "Added %s to tracked assets", symbol)
		case screener.IsStatus(err, http.StatusBadRequest):
			o.record(st, LevelWarning, "%s is already tracked", symbol)
		default:
			o.record(st, LevelError, "Failed to add %s: %v", symbol, err)
		}
	})
	if err != nil && !screener.IsStatus(err, http.StatusBadRequest) {
		return err
	}
	if err := o.RefreshFavorites(ctx); err != nil {
		return err
	}
	return o.PollTracked(ctx)
}

// RemoveFavorite stops tracking symbol. An unknown symbol is a warning, not
// an error. The favorites list is re-fetched either way.
func (o *Orchestrator) RemoveFavorite(ctx context.Context, symbol string) error {
	err := o.api.RemoveFavorite(ctx, symbol)
	o.sync(func(st *state) {
		switch {
		case err == nil:
			o.record(st, LevelSuccess, "Removed %s from tracked assets", symbol)
		case screener.IsStatus(err, http.StatusNotFound):
			o.record(st, LevelWarning, "%s is not tracked", symbol)
		default:
			o.record(st, LevelError, "Failed to remove %s: %v", symbol, err)
		}
	})
	if err != nil && !screener.IsStatus(err, http.StatusNotFound) {
		return err
	}
	return o.RefreshFavorites(ctx)
}

// ToggleFavorite removes symbol when tracked and adds it otherwise.
func (o *Orchestrator) ToggleFavorite(ctx context.Context, symbol string) error {
	if o.Snapshot().IsFavorite(symbol) {
		return o.RemoveFavorite(ctx, symbol)
	}
	return o.AddFavorite(ctx, symbol)
}

// Search queries the ticker index. Queries shorter than two characters
// return no results without a request.
func (o *Orchestrator) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if len(query) < minSearchLen {
		return nil, nil
	}
	res, err := o.api.Search(ctx, query)
	if err != nil {
		if ctx.Err() == nil {
			o.post(func(st *state) { o.record(st, LevelError, "Search for %q failed: %v", query, err) })
		}
		return nil, err
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Live feed
// ---------------------------------------------------------------------------

// feedHandler forwards live-feed events into the state loop.
type feedHandler struct {
	o *Orchestrator
}

func (h feedHandler) HandleState(s domain.ConnectionState, cause error) {
	o := h.o
	o.post(func(st *state) {
		st.conn = s
		switch s {
		case domain.Connecting:
			o.record(st, LevelInfo, "Establishing websocket connection")
		case domain.Open:
			o.record(st, LevelSuccess, "Connected to live feed")
		case domain.Closed:
			if cause != nil {
				o.record(st, LevelWarning, "Live feed disconnected, retrying in %s", o.feedDelay())
			} else {
				o.record(st, LevelInfo, "Live feed closed")
			}
		}
	})
}

func (h feedHandler) HandleRows(rows []domain.Row) {
	h.o.post(func(st *state) {
		st.stream = rows
		st.remerge()
	})
}

func (h feedHandler) HandleWelcome(msg string) {
	o := h.o
	o.post(func(st *state) { o.record(st, LevelInfo, "%s", msg) })
}

func (h feedHandler) HandleDrop(error) {
	h.o.post(func(st *state) { st.dropped++ })
}

func (o *Orchestrator) feedDelay() time.Duration {
	if o.opts.ReconnectDelay > 0 {
		return o.opts.ReconnectDelay
	}
	return live.DefaultReconnectDelay
}
