// Package dashboard provides the filter/sort engine and cell formatting
// shared by the interactive table views and the one-shot dump command.
package dashboard

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strings"

	"screener/internal/domain"
)

// RSIBucket selects rows by RSI-14 level.
type RSIBucket int

const (
	RSIAll        RSIBucket = iota
	RSIOverbought           // RSI >= 70
	RSIOversold             // 0 < RSI <= 30
)

// TrendBucket selects rows whose price is above a moving average.
type TrendBucket int

const (
	TrendAll TrendBucket = iota
	TrendAboveSMA50
	TrendAboveSMA200
)

// MACDBucket selects rows by MACD level vs signal.
type MACDBucket int

const (
	MACDAll     MACDBucket = iota
	MACDBullish            // level > signal
	MACDBearish            // level < signal
)

// Thresholds for the RSI buckets. Both bounds are inclusive.
const (
	Overbought = 70.0
	Oversold   = 30.0
)

// FilterSpec is the set of row filters a table view applies.
type FilterSpec struct {
	Text     string // substring over symbol, exchange, name, description
	Exchange string // exact exchange prefix, "" for any
	RSI      RSIBucket
	Trend    TrendBucket
	MACD     MACDBucket
}

// IsZero reports whether f passes every row.
func (f FilterSpec) IsZero() bool {
	return strings.TrimSpace(f.Text) == "" && f.Exchange == "" &&
		f.RSI == RSIAll && f.Trend == TrendAll && f.MACD == MACDAll
}

// SortKey names the row field a view is sorted by.
type SortKey string

const (
	KeyNone   SortKey = ""
	KeySymbol SortKey = "symbol"
	KeyPrice  SortKey = "price"
	KeyChange SortKey = "changePercent"
	KeyVolume SortKey = "volume"
	KeyRSI    SortKey = "rsi"
	KeyMACD   SortKey = "macd"
	KeySMA20  SortKey = "sma20"
	KeySMA50  SortKey = "sma50"
	KeySMA200 SortKey = "sma200"
)

// SortKeys lists every sortable key in column order.
var SortKeys = []SortKey{
	KeySymbol, KeyPrice, KeyChange, KeyVolume, KeyRSI,
	KeyMACD, KeySMA20, KeySMA50, KeySMA200,
}

// ParseSortKey validates s against SortKeys.
func ParseSortKey(s string) (SortKey, error) {
	if i := slices.Index(SortKeys, SortKey(s)); i >= 0 {
		return SortKeys[i], nil
	}
	return KeyNone, fmt.Errorf("unknown sort key %q", s)
}

// Direction is the sort direction.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// SortSpec is the active sort key and direction of a view.
type SortSpec struct {
	Key       SortKey
	Direction Direction
}

// DefaultSort is the on-mount sort of a view: change percent descending, or
// ascending for a losers view.
func DefaultSort(losers bool) SortSpec {
	if losers {
		return SortSpec{Key: KeyChange, Direction: Ascending}
	}
	return SortSpec{Key: KeyChange, Direction: Descending}
}

// Apply filters and sorts rows. It is a pure function: rows is never
// modified and the result is a fresh slice.
func Apply(rows []domain.Row, f FilterSpec, s SortSpec) []domain.Row {
	out := Filter(rows, f)
	Sort(out, s)
	return out
}

// Filter returns the rows passing every active filter, in input order.
func Filter(rows []domain.Row, f FilterSpec) []domain.Row {
	text := strings.ToLower(strings.TrimSpace(f.Text))
	out := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		if text != "" && !matchText(r, text) {
			continue
		}
		if f.Exchange != "" && r.Exchange != f.Exchange {
			continue
		}
		if !matchRSI(r, f.RSI) || !matchTrend(r, f.Trend) || !matchMACD(r, f.MACD) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchText(r domain.Row, text string) bool {
	for _, field := range []string{r.Symbol, r.Exchange, r.Name, r.Description} {
		if field != "" && strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}

func matchRSI(r domain.Row, b RSIBucket) bool {
	if b == RSIAll {
		return true
	}
	rsi, ok := r.RSI.Get()
	if !ok {
		return false
	}
	switch b {
	case RSIOverbought:
		return rsi >= Overbought
	case RSIOversold:
		// 0 means "not computed", not "extremely oversold".
		return rsi > 0 && rsi <= Oversold
	}
	return true
}

func matchTrend(r domain.Row, b TrendBucket) bool {
	var sma domain.Value
	switch b {
	case TrendAboveSMA50:
		sma = r.SMA50
	case TrendAboveSMA200:
		sma = r.SMA200
	default:
		return true
	}
	price, pok := r.Price.Get()
	avg, aok := sma.Get()
	return pok && aok && price > avg
}

func matchMACD(r domain.Row, b MACDBucket) bool {
	if b == MACDAll {
		return true
	}
	level, lok := r.MACD.Get()
	signal, sok := r.MACDSignal.Get()
	if !lok || !sok {
		return false
	}
	if b == MACDBullish {
		return level > signal
	}
	return level < signal
}

// Sort orders rows in place by s. The sort is stable. Rows missing the sort
// key's value go last in both directions; the direction only inverts the
// comparison between defined values.
func Sort(rows []domain.Row, s SortSpec) {
	if s.Key == KeyNone {
		return
	}
	slices.SortStableFunc(rows, func(a, b domain.Row) int {
		return compareRows(a, b, s)
	})
}

func compareRows(a, b domain.Row, s SortSpec) int {
	var c int
	if s.Key == KeySymbol {
		c = strings.Compare(a.Symbol, b.Symbol)
	} else {
		av, aok := sortValue(a, s.Key)
		bv, bok := sortValue(b, s.Key)
		switch {
		case !aok && !bok:
			return 0
		case !aok:
			return 1
		case !bok:
			return -1
		}
		c = cmp.Compare(av, bv)
	}
	if s.Direction == Descending {
		c = -c
	}
	return c
}

func sortValue(r domain.Row, key SortKey) (float64, bool) {
	switch key {
	case KeyPrice:
		return r.Price.Get()
	case KeyChange:
		return r.ChangePercent.Get()
	case KeyVolume:
		return r.Volume.Float()
	case KeyRSI:
		return r.RSI.Get()
	case KeyMACD:
		return r.MACD.Get()
	case KeySMA20:
		return r.SMA20.Get()
	case KeySMA50:
		return r.SMA50.Get()
	case KeySMA200:
		return r.SMA200.Get()
	}
	return 0, false
}

// Losers keeps rows with a defined, strictly negative change. The top-movers
// endpoint has been seen to leak gainers into an ascending request.
func Losers(rows []domain.Row) []domain.Row {
	out := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		if c, ok := r.ChangePercent.Get(); ok && c < 0 {
			out = append(out, r)
		}
	}
	return out
}

// Exchanges returns the distinct exchange prefixes present in rows, sorted.
func Exchanges(rows []domain.Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if r.Exchange != "" && !seen[r.Exchange] {
			seen[r.Exchange] = true
			out = append(out, r.Exchange)
		}
	}
	sort.Strings(out)
	return out
}
