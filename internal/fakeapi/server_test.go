package fakeapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener/internal/domain"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func doJSON(t *testing.T, method, u string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, u, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func f64(v float64) *float64 { return &v }

func TestFavoritesLifecycle(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/api/v1/favorites"

	var fav domain.FavoriteSymbol
	require.Equal(t, http.StatusOK, doJSON(t, "POST", base, map[string]string{"symbol": "BINANCE:BTCUSDT"}, &fav))
	assert.Equal(t, "BINANCE:BTCUSDT", fav.Symbol)
	assert.NotZero(t, fav.ID)
	assert.False(t, fav.AddedAt.IsZero())

	require.Equal(t, http.StatusOK, doJSON(t, "POST", base, map[string]string{"symbol": "ETHUSDT"}, nil))

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, doJSON(t, "POST", base, map[string]string{"symbol": "ETHUSDT"}, &errBody))
	assert.Contains(t, errBody["detail"], "already")
	assert.Equal(t, http.StatusBadRequest, doJSON(t, "POST", base, map[string]string{"symbol": " "}, nil))

	var favs []domain.FavoriteSymbol
	require.Equal(t, http.StatusOK, doJSON(t, "GET", base, nil, &favs))
	require.Len(t, favs, 2)
	assert.Equal(t, "BINANCE:BTCUSDT", favs[0].Symbol)
	assert.Equal(t, "ETHUSDT", favs[1].Symbol)

	del := base + "/" + url.PathEscape("BINANCE:BTCUSDT")
	assert.Equal(t, http.StatusOK, doJSON(t, "DELETE", del, nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, "DELETE", del, nil, nil))

	require.Equal(t, http.StatusOK, doJSON(t, "GET", base, nil, &favs))
	require.Len(t, favs, 1)
	assert.Equal(t, "ETHUSDT", favs[0].Symbol)
}

func TestRemoveFavoriteWithEscapedSlash(t *testing.T) {
	s, ts := newTestServer(t)
	_, err := s.Favorites().Add(t.Context(), "FX:EUR/USD", time.Now())
	require.NoError(t, err)

	u := ts.URL + "/api/v1/favorites/" + url.PathEscape("FX:EUR/USD")
	assert.Equal(t, http.StatusOK, doJSON(t, "DELETE", u, nil, nil))

	ok, err := s.Favorites().Contains(t.Context(), "FX:EUR/USD")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryNewestFirstAndLimited(t *testing.T) {
	s, ts := newTestServer(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetHistory("BTCUSDT", domain.Interval5m, []domain.Bar{
		{Symbol: "BTCUSDT", Timestamp: t0, Close: f64(1)},
		{Symbol: "BTCUSDT", Timestamp: t0.Add(10 * time.Minute), Close: f64(3)},
		{Symbol: "BTCUSDT", Timestamp: t0.Add(5 * time.Minute), Close: f64(2)},
	})

	var bars []domain.Bar
	u := ts.URL + "/api/v1/favorites/history?symbol=BTCUSDT&interval=5&limit=2"
	require.Equal(t, http.StatusOK, doJSON(t, "GET", u, nil, &bars))
	require.Len(t, bars, 2)
	assert.Equal(t, 3.0, *bars[0].Close)
	assert.Equal(t, 2.0, *bars[1].Close)

	u = ts.URL + "/api/v1/favorites/history?symbol=BTCUSDT&interval=60"
	require.Equal(t, http.StatusOK, doJSON(t, "GET", u, nil, &bars))
	assert.Empty(t, bars)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, "GET", ts.URL+"/api/v1/favorites/history", nil, nil))
}

func TestFavoritesLiveOnlyFavorites(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetLive("BTCUSDT", map[string]any{"symbol": "BTCUSDT", "close": 100})
	s.SetLive("ETHUSDT", map[string]any{"symbol": "ETHUSDT", "close": 5})
	_, err := s.Favorites().Add(t.Context(), "BTCUSDT", time.Now())
	require.NoError(t, err)

	var rows []map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/api/v1/favorites/live?interval=1D", nil, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "BTCUSDT", rows[0]["symbol"])
}

func TestTopMoversSortAndLimit(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetMovers([]map[string]any{
		{"Symbol": "A", "Change %": 1.0},
		{"Symbol": "B", "Change %": -4.0},
		{"Symbol": "C", "Change %": 7.5},
		{"Symbol": "D", "Change %": -0.5},
	})

	var rows []map[string]any
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/api/v1/screener/top-movers?interval=1D&limit=3&sort=desc", nil, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, []any{"C", "A", "D"}, []any{rows[0]["Symbol"], rows[1]["Symbol"], rows[2]["Symbol"]})

	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/api/v1/screener/top-movers?sort=asc&limit=2", nil, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0]["Symbol"])
	assert.Equal(t, "D", rows[1]["Symbol"])
}

func TestSearch(t *testing.T) {
	s, ts := newTestServer(t)
	s.SetSearchIndex([]domain.SearchResult{
		{Symbol: "BINANCE:BTCUSDT", Name: "Bitcoin", Exchange: "BINANCE"},
		{Symbol: "BINANCE:ETHUSDT", Name: "Ethereum", Exchange: "BINANCE"},
	})

	var res []domain.SearchResult
	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/api/v1/screener/search?q=bitc", nil, &res))
	require.Len(t, res, 1)
	assert.Equal(t, "BINANCE:BTCUSDT", res[0].Symbol)

	require.Equal(t, http.StatusOK, doJSON(t, "GET", ts.URL+"/api/v1/screener/search?q=b", nil, &res))
	assert.Empty(t, res)
}

func TestStreamWelcomeAndBroadcast(t *testing.T) {
	s, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var env map[string]any
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "welcome", env["type"])

	require.Eventually(t, func() bool { return s.Connections() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Broadcast([]map[string]any{{"Symbol": "BTCUSDT", "Price": 1.5}}))

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "market_update", env["type"])
	data := env["data"].([]any)
	require.Len(t, data, 1)

	s.DropStreams()
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return s.Connections() == 0 }, time.Second, 5*time.Millisecond)
}
