package domain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// Alias keys per canonical field, in precedence order. The first key that
// is present in the raw record wins; later aliases are never consulted.
var (
	symbolKeys      = []string{"Symbol", "symbol", "ticker"}
	exchangeKeys    = []string{"Exchange", "exchange"}
	nameKeys        = []string{"Name", "name"}
	descriptionKeys = []string{"Description", "description"}
	priceKeys       = []string{"Price", "close", "price", "last"}
	changeKeys      = []string{"Change %", "changePercent", "change"}
	volumeKeys      = []string{"Volume", "volume", "volume (24h)"}
	intervalKeys    = []string{"interval", "Interval"}

	rsiKeys    = []string{"RSI", "Relative Strength Index (14)"}
	macdKeys   = []string{"MACD", "MACD Level (12, 26)"}
	signalKeys = []string{"MACD_Signal", "MACD Signal (12, 26)"}
	sma20Keys  = []string{"SMA20", "Simple Moving Average (20)"}
	sma50Keys  = []string{"SMA50", "Simple Moving Average (50)"}
	sma200Keys = []string{"SMA200", "Simple Moving Average (200)"}
)

// NormalizeRow maps a raw record with aliased keys onto a canonical Row.
// It fails with ErrNoSymbol when none of the symbol aliases is usable.
// Indicators are looked up on the record first, then in a nested
// "indicators" object.
func NormalizeRow(raw map[string]any) (Row, error) {
	sym := firstString(raw, symbolKeys)
	if sym == "" {
		return Row{}, ErrNoSymbol
	}

	r := Row{
		Symbol:        sym,
		Exchange:      firstString(raw, exchangeKeys),
		Name:          firstString(raw, nameKeys),
		Description:   firstString(raw, descriptionKeys),
		Price:         firstValue(raw, priceKeys),
		ChangePercent: firstValue(raw, changeKeys),
		Volume:        firstVolume(raw, volumeKeys),
	}
	if r.Exchange == "" {
		r.Exchange = ExchangeOf(sym)
	}
	if iv := firstString(raw, intervalKeys); iv != "" {
		if parsed, err := ParseInterval(iv); err == nil {
			r.Interval = parsed
		}
	}

	ind, _ := raw["indicators"].(map[string]any)
	indicator := func(keys []string) Value {
		if v := firstValue(raw, keys); v.Valid() {
			return v
		}
		return firstValue(ind, keys)
	}
	r.RSI = indicator(rsiKeys)
	r.MACD = indicator(macdKeys)
	r.MACDSignal = indicator(signalKeys)
	r.SMA20 = indicator(sma20Keys)
	r.SMA50 = indicator(sma50Keys)
	r.SMA200 = indicator(sma200Keys)
	return r, nil
}

// NormalizeRows normalizes a batch, dropping (and logging) records without
// a symbol. The result never aliases raw.
func NormalizeRows(raw []map[string]any, log *slog.Logger) []Row {
	rows := make([]Row, 0, len(raw))
	for i, rec := range raw {
		r, err := NormalizeRow(rec)
		if err != nil {
			if log != nil {
				log.Warn("dropping row", "index", i, "error", err)
			}
			continue
		}
		rows = append(rows, r)
	}
	return rows
}

// RowFromBar builds the poll snapshot for symbol from its newest history
// bar. Change percent is derived from the bar's own open and close.
func RowFromBar(symbol string, interval Interval, b Bar) Row {
	r := Row{
		Symbol:   symbol,
		Exchange: ExchangeOf(symbol),
		Price:    fromPtr(b.Close),
		Volume:   Volume{Num: fromPtr(b.Volume)},
		Interval: interval,
	}
	if b.Open != nil && b.Close != nil && *b.Open != 0 {
		r.ChangePercent = Some((*b.Close - *b.Open) / *b.Open * 100)
	}
	ind := func(key string) Value {
		return fromPtr(b.Indicators[key])
	}
	r.RSI = ind("RSI")
	r.MACD = ind("MACD")
	r.MACDSignal = ind("MACD_Signal")
	r.SMA20 = ind("SMA20")
	r.SMA50 = ind("SMA50")
	r.SMA200 = ind("SMA200")
	return r
}

func fromPtr(p *float64) Value {
	if p == nil || math.IsNaN(*p) {
		return Value{}
	}
	return Some(*p)
}

// ---------------------------------------------------------------------------
// Raw accessors
// ---------------------------------------------------------------------------

func firstString(raw map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		case fmt.Stringer:
			return s.String()
		}
	}
	return ""
}

func firstValue(raw map[string]any, keys []string) Value {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return Some(f)
		}
	}
	return Value{}
}

func firstVolume(raw map[string]any, keys []string) Volume {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return Volume{Num: Some(f)}
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return Volume{Text: strings.TrimSpace(s)}
		}
	}
	return Volume{}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
