// Package domain defines the canonical data shapes shared by every layer of
// the screener client: rows, favorites, history bars, intervals and the
// live-feed connection state.
package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoSymbol is returned when a raw record carries no usable symbol.
var ErrNoSymbol = errors.New("record has no symbol")

// ---------------------------------------------------------------------------
// Optional numerics
// ---------------------------------------------------------------------------

// Value is an optional numeric field. The zero Value is absent, which keeps
// "the source never sent it" distinguishable from an explicit zero.
type Value struct {
	v  float64
	ok bool
}

// Some returns a present Value holding v.
func Some(v float64) Value { return Value{v: v, ok: true} }

// Get returns the value and whether it is present.
func (x Value) Get() (float64, bool) { return x.v, x.ok }

// Valid reports whether the value is present.
func (x Value) Valid() bool { return x.ok }

// Or returns the value, or def when absent.
func (x Value) Or(def float64) float64 {
	if !x.ok {
		return def
	}
	return x.v
}

func (x Value) String() string {
	if !x.ok {
		return "<none>"
	}
	return strconv.FormatFloat(x.v, 'f', -1, 64)
}

// Volume is either a number or a string the backend already formatted
// (e.g. "12.4B").
type Volume struct {
	Num  Value
	Text string
}

// Valid reports whether any volume was supplied.
func (v Volume) Valid() bool { return v.Num.Valid() || v.Text != "" }

// Float returns the numeric volume. Pre-formatted text with a K/M/B/T
// suffix is expanded so that both shapes sort together.
func (v Volume) Float() (float64, bool) {
	if f, ok := v.Num.Get(); ok {
		return f, true
	}
	return parseSuffixed(v.Text)
}

func parseSuffixed(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, false
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1e3
	case 'M', 'm':
		mult = 1e6
	case 'B', 'b':
		mult = 1e9
	case 'T', 't':
		mult = 1e12
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

// Row is one asset's canonical market snapshot. Every component downstream
// of normalization reads only these fields.
type Row struct {
	Symbol        string
	Exchange      string
	Name          string
	Description   string
	Price         Value
	ChangePercent Value
	Volume        Volume

	RSI        Value // RSI-14
	MACD       Value // MACD level (12, 26)
	MACDSignal Value // MACD signal (12, 26)
	SMA20      Value
	SMA50      Value
	SMA200     Value

	// Interval the values were computed over; empty when the source did
	// not say.
	Interval Interval
}

// Ticker returns the symbol without its exchange prefix.
func (r Row) Ticker() string { return TickerOf(r.Symbol) }

// ExchangeOf returns the "EXCHANGE" part of an "EXCHANGE:TICKER" symbol, or
// "" when the symbol has no prefix.
func ExchangeOf(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i > 0 {
		return symbol[:i]
	}
	return ""
}

// TickerOf strips the exchange prefix from symbol.
func TickerOf(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		return symbol[i+1:]
	}
	return symbol
}

// FavoriteSymbol is a user's persisted tracking choice as stored by the
// backend.
type FavoriteSymbol struct {
	ID      int64     `json:"id"`
	Symbol  string    `json:"symbol"`
	AddedAt time.Time `json:"added_at"`
}

// Bar is one historical OHLCV record for a favorite at a given interval.
type Bar struct {
	ID         int64               `json:"id,omitempty"`
	Symbol     string              `json:"symbol"`
	Timestamp  time.Time           `json:"timestamp"`
	Interval   string              `json:"interval"`
	Open       *float64            `json:"open"`
	High       *float64            `json:"high"`
	Low        *float64            `json:"low"`
	Close      *float64            `json:"close"`
	Volume     *float64            `json:"volume"`
	Indicators map[string]*float64 `json:"indicators,omitempty"`
}

// SearchResult is one hit from the ticker search index.
type SearchResult struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Exchange    string `json:"exchange"`
	Description string `json:"description"`
}

// ---------------------------------------------------------------------------
// Connection state
// ---------------------------------------------------------------------------

// ConnectionState is the lifecycle state of the live-feed connection.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Open
	Closing
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ---------------------------------------------------------------------------
// Intervals
// ---------------------------------------------------------------------------

// Interval is a timeframe selector. Values computed over different
// intervals are not comparable.
type Interval string

const (
	Interval1m   Interval = "1"
	Interval5m   Interval = "5"
	Interval10m  Interval = "10"
	Interval15m  Interval = "15"
	Interval1h   Interval = "60"
	Interval2h   Interval = "120"
	Interval4h   Interval = "240"
	Interval6h   Interval = "360"
	Interval12h  Interval = "720"
	Interval1Day Interval = "1D"
	Interval1Wk  Interval = "1W"
	Interval1Mo  Interval = "1M"
)

// AllIntervals lists every interval the backend understands.
var AllIntervals = []Interval{
	Interval1m, Interval5m, Interval10m, Interval15m, Interval1h, Interval2h,
	Interval4h, Interval6h, Interval12h, Interval1Day, Interval1Wk, Interval1Mo,
}

// SelectorIntervals is the subset offered by the table interval selector.
var SelectorIntervals = []Interval{
	Interval1m, Interval5m, Interval15m, Interval1h, Interval4h,
	Interval1Day, Interval1Wk, Interval1Mo,
}

// minutesPerDay is the minute-count spelling of the daily interval.
const minutesPerDay = "1440"

// ParseInterval validates s against AllIntervals. The minute spelling of a
// day, "1440", is accepted and returned as Interval1Day.
func ParseInterval(s string) (Interval, error) {
	if s == minutesPerDay {
		return Interval1Day, nil
	}
	for _, iv := range AllIntervals {
		if string(iv) == s {
			return iv, nil
		}
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Label returns a short human label, e.g. "5m", "4h", "1D".
func (iv Interval) Label() string {
	n, err := strconv.Atoi(string(iv))
	if err != nil {
		return string(iv)
	}
	if n%60 == 0 {
		return fmt.Sprintf("%dh", n/60)
	}
	return fmt.Sprintf("%dm", n)
}
