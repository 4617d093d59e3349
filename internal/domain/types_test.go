package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValueZeroIsAbsent(t *testing.T) {
	var v Value
	if v.Valid() {
		t.Error("zero Value should be absent")
	}
	if got := v.Or(-1); got != -1 {
		t.Errorf("Or(-1) = %v, want -1", got)
	}
	z := Some(0)
	if !z.Valid() {
		t.Error("Some(0) should be present")
	}
	if f, ok := z.Get(); !ok || f != 0 {
		t.Errorf("Some(0).Get() = %v, %v", f, ok)
	}
}

func TestNormalizeRowAliases(t *testing.T) {
	tests := []struct {
		name      string
		raw       map[string]any
		symbol    string
		price     Value
		change    Value
		exchange  string
		volumeNum Value
		volumeTxt string
	}{
		{
			name:     "screener labels",
			raw:      map[string]any{"Symbol": "BINANCE:BTCUSDT", "Price": 105.0, "Change %": -2.5, "Volume": 1000.0},
			symbol:   "BINANCE:BTCUSDT",
			price:    Some(105),
			change:   Some(-2.5),
			exchange: "BINANCE",
			volumeNum: Some(1000),
		},
		{
			name:     "lowercase poll shape",
			raw:      map[string]any{"symbol": "BTCUSDT", "close": 100.0, "exchange": "BINANCE"},
			symbol:   "BTCUSDT",
			price:    Some(100),
			exchange: "BINANCE",
		},
		{
			name:      "capitalized wins over lowercase",
			raw:       map[string]any{"Symbol": "A", "symbol": "B", "Price": 1.0, "close": 2.0, "volume": "12.4B"},
			symbol:    "A",
			price:     Some(1),
			volumeTxt: "12.4B",
		},
		{
			name:   "explicit zero price stays present",
			raw:    map[string]any{"ticker": "ETHUSD", "last": 0.0},
			symbol: "ETHUSD",
			price:  Some(0),
		},
		{
			name:   "numeric strings",
			raw:    map[string]any{"symbol": "X", "price": "3.5", "change": json.Number("1.25")},
			symbol: "X",
			price:  Some(3.5),
			change: Some(1.25),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NormalizeRow(tt.raw)
			if err != nil {
				t.Fatalf("NormalizeRow: %v", err)
			}
			if r.Symbol != tt.symbol {
				t.Errorf("Symbol = %q, want %q", r.Symbol, tt.symbol)
			}
			if r.Price != tt.price {
				t.Errorf("Price = %v, want %v", r.Price, tt.price)
			}
			if r.ChangePercent != tt.change {
				t.Errorf("ChangePercent = %v, want %v", r.ChangePercent, tt.change)
			}
			if r.Exchange != tt.exchange {
				t.Errorf("Exchange = %q, want %q", r.Exchange, tt.exchange)
			}
			if r.Volume.Num != tt.volumeNum || r.Volume.Text != tt.volumeTxt {
				t.Errorf("Volume = %+v, want num %v text %q", r.Volume, tt.volumeNum, tt.volumeTxt)
			}
		})
	}
}

func TestNormalizeRowMissingSymbol(t *testing.T) {
	_, err := NormalizeRow(map[string]any{"Price": 1.0})
	if !errors.Is(err, ErrNoSymbol) {
		t.Fatalf("err = %v, want ErrNoSymbol", err)
	}
	rows := NormalizeRows([]map[string]any{
		{"Price": 1.0},
		{"symbol": "OK"},
	}, nil)
	if len(rows) != 1 || rows[0].Symbol != "OK" {
		t.Fatalf("NormalizeRows = %+v, want only OK", rows)
	}
}

func TestNormalizeRowIndicators(t *testing.T) {
	r, err := NormalizeRow(map[string]any{
		"symbol":                       "BTC",
		"Relative Strength Index (14)": 71.0,
		"indicators": map[string]any{
			"RSI":         10.0, // top-level label wins
			"MACD":        1.5,
			"MACD_Signal": 1.0,
			"SMA50":       90.0,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.RSI != Some(71) {
		t.Errorf("RSI = %v, want 71", r.RSI)
	}
	if r.MACD != Some(1.5) || r.MACDSignal != Some(1) {
		t.Errorf("MACD = %v / %v", r.MACD, r.MACDSignal)
	}
	if r.SMA50 != Some(90) {
		t.Errorf("SMA50 = %v", r.SMA50)
	}
	if r.SMA20.Valid() || r.SMA200.Valid() {
		t.Error("missing SMAs should be absent, not zero")
	}
}

func TestRowFromBar(t *testing.T) {
	open, closeP, rsi := 90.0, 100.0, 55.0
	r := RowFromBar("BINANCE:BTCUSDT", Interval5m, Bar{
		Open:       &open,
		Close:      &closeP,
		Indicators: map[string]*float64{"RSI": &rsi, "SMA20": nil},
	})
	if r.Price != Some(100) {
		t.Errorf("Price = %v, want 100", r.Price)
	}
	got, _ := r.ChangePercent.Get()
	if want := 100.0 / 9; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("ChangePercent = %v, want %v", got, want)
	}
	if r.Exchange != "BINANCE" || r.Interval != Interval5m {
		t.Errorf("Exchange/Interval = %q/%q", r.Exchange, r.Interval)
	}
	if r.RSI != Some(55) || r.SMA20.Valid() {
		t.Errorf("indicators = RSI %v SMA20 %v", r.RSI, r.SMA20)
	}
}

func TestVolumeFloat(t *testing.T) {
	tests := []struct {
		v    Volume
		want float64
		ok   bool
	}{
		{Volume{Num: Some(42)}, 42, true},
		{Volume{Text: "12.4B"}, 12.4e9, true},
		{Volume{Text: "$1,500K"}, 1.5e6, true},
		{Volume{Text: "n/a"}, 0, false},
		{Volume{}, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.v.Float()
		if ok != tt.ok || (ok && (got < tt.want*0.999999 || got > tt.want*1.000001)) {
			t.Errorf("%+v.Float() = %v, %v; want %v, %v", tt.v, got, ok, tt.want, tt.ok)
		}
	}
}

func TestIntervals(t *testing.T) {
	if _, err := ParseInterval("1D"); err != nil {
		t.Errorf("ParseInterval(1D): %v", err)
	}
	if iv, err := ParseInterval("1440"); err != nil || iv != Interval1Day {
		t.Errorf("ParseInterval(1440) = %q, %v; want 1D", iv, err)
	}
	if _, err := ParseInterval("7"); err == nil {
		t.Error("ParseInterval(7) should fail")
	}
	labels := map[Interval]string{Interval5m: "5m", Interval4h: "4h", Interval1Day: "1D"}
	for iv, want := range labels {
		if got := iv.Label(); got != want {
			t.Errorf("%q.Label() = %q, want %q", iv, got, want)
		}
	}
	if Open.String() != "OPEN" || Closed.String() != "CLOSED" {
		t.Error("unexpected ConnectionState strings")
	}
}
