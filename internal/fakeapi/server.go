// Package fakeapi is an in-process stand-in for the screener backend: the
// REST endpoints the client consumes plus the websocket push stream. It backs
// the client's tests and the local demo server.
package fakeapi

import (
	"cmp"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"screener/internal/domain"
)

// Server serves the fake backend API.
type Server struct {
	favorites *FavoriteStore
	log       *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	movers  []map[string]any
	live    map[string]map[string]any
	history map[string][]domain.Bar
	search  []domain.SearchResult

	// favMu serializes favorite mutations so the uniqueness check and the
	// insert happen together.
	favMu sync.Mutex

	hub      *hub
	upgrader websocket.Upgrader

	requests sync.Map // "METHOD /path" -> *atomic.Int64
}

// New creates a server with an empty in-memory favorites store.
func New(log *slog.Logger) (*Server, error) {
	return Open(":memory:", log)
}

// Open creates a server whose favorites live in the SQLite database at
// dbPath.
func Open(dbPath string, log *slog.Logger) (*Server, error) {
	store, err := NewFavoriteStore(dbPath)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		favorites: store,
		log:       log,
		now:       time.Now,
		live:      make(map[string]map[string]any),
		history:   make(map[string][]domain.Bar),
		hub:       newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// Close drops every stream client and closes the store.
func (s *Server) Close() error {
	s.hub.closeAll()
	return s.favorites.Close()
}

// ---------------------------------------------------------------------------
// Seeding
// ---------------------------------------------------------------------------

// SetMovers replaces the screener universe served by top-movers.
func (s *Server) SetMovers(rows []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movers = rows
}

// SetLive sets the live snapshot returned for symbol by favorites/live.
func (s *Server) SetLive(symbol string, row map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[symbol] = row
}

// SetHistory sets the bars of symbol at interval, in any order.
func (s *Server) SetHistory(symbol string, interval domain.Interval, bars []domain.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[historyKey(symbol, interval)] = bars
}

// SetSearchIndex replaces the ticker search index.
func (s *Server) SetSearchIndex(results []domain.SearchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = results
}

// Favorites exposes the favorites store for seeding and assertions.
func (s *Server) Favorites() *FavoriteStore {
	return s.favorites
}

// Requests returns how many times "METHOD /path" was served.
func (s *Server) Requests(route string) int64 {
	v, ok := s.requests.Load(route)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func historyKey(symbol string, interval domain.Interval) string {
	return symbol + "|" + string(interval)
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

// Handler returns the chi router with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.countRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/favorites", s.handleListFavorites)
		r.Post("/favorites", s.handleAddFavorite)
		r.Get("/favorites/live", s.handleFavoritesLive)
		r.Get("/favorites/history", s.handleHistory)
		r.Delete("/favorites/{symbol}", s.handleRemoveFavorite)
		r.Get("/screener/top-movers", s.handleTopMovers)
		r.Get("/screener/search", s.handleSearch)
	})
	r.Get("/ws", s.handleStream)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, _ := s.requests.LoadOrStore(r.Method+" "+r.URL.Path, new(atomic.Int64))
		v.(*atomic.Int64).Add(1)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := s.favorites.List(r.Context())
	if err != nil {
		s.log.Error("listing favorites", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list favorites")
		return
	}
	writeJSON(w, http.StatusOK, favs)
}

func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	s.favMu.Lock()
	fav, err := s.favorites.Add(r.Context(), symbol, s.now())
	s.favMu.Unlock()
	switch {
	case errors.Is(err, ErrDuplicate):
		writeError(w, http.StatusBadRequest, "Symbol already in favorites")
	case err != nil:
		s.log.Error("adding favorite", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add favorite")
	default:
		s.log.Info("favorite added", "symbol", symbol, "id", fav.ID)
		writeJSON(w, http.StatusOK, fav)
	}
}

func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	symbol, err := url.PathUnescape(chi.URLParam(r, "symbol"))
	if err != nil || symbol == "" {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}

	s.favMu.Lock()
	err = s.favorites.Remove(r.Context(), symbol)
	s.favMu.Unlock()
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Symbol not found in favorites")
	case err != nil:
		s.log.Error("removing favorite", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove favorite")
	default:
		s.log.Info("favorite removed", "symbol", symbol)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Symbol removed from favorites"})
	}
}

func (s *Server) handleFavoritesLive(w http.ResponseWriter, r *http.Request) {
	favs, err := s.favorites.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list favorites")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]map[string]any, 0, len(favs))
	for _, f := range favs {
		if row, ok := s.live[f.Symbol]; ok {
			out = append(out, row)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	interval := domain.Interval(q.Get("interval"))
	if interval == "" {
		interval = domain.Interval1Day
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	s.mu.RLock()
	bars := slices.Clone(s.history[historyKey(symbol, interval)])
	s.mu.RUnlock()

	// Newest first.
	slices.SortStableFunc(bars, func(a, b domain.Bar) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if len(bars) > limit {
		bars = bars[:limit]
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	writeJSON(w, http.StatusOK, bars)
}

// ---------------------------------------------------------------------------
// Screener
// ---------------------------------------------------------------------------

func (s *Server) handleTopMovers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	asc := q.Get("sort") == "asc"

	s.mu.RLock()
	rows := slices.Clone(s.movers)
	s.mu.RUnlock()

	change := func(raw map[string]any) float64 {
		row, err := domain.NormalizeRow(raw)
		if err != nil {
			return 0
		}
		return row.ChangePercent.Or(0)
	}
	slices.SortStableFunc(rows, func(a, b map[string]any) int {
		if asc {
			return cmp.Compare(change(a), change(b))
		}
		return cmp.Compare(change(b), change(a))
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	out := []domain.SearchResult{}
	if len(q) < 2 {
		writeJSON(w, http.StatusOK, out)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, res := range s.search {
		if strings.Contains(strings.ToLower(res.Symbol), q) ||
			strings.Contains(strings.ToLower(res.Name), q) ||
			strings.Contains(strings.ToLower(res.Description), q) {
			out = append(out, res)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
