package tracked

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener/internal/domain"
)

func btcInputs(active domain.Interval) Inputs {
	polled, err := domain.NormalizeRow(map[string]any{"symbol": "BTCUSDT", "close": 100.0, "open": 90.0})
	if err != nil {
		panic(err)
	}
	streamed, err := domain.NormalizeRow(map[string]any{"Symbol": "BTCUSDT", "Price": 105.0})
	if err != nil {
		panic(err)
	}
	return Inputs{
		Favorites:      []domain.FavoriteSymbol{{ID: 1, Symbol: "BINANCE:BTCUSDT"}},
		Polled:         map[string]domain.Row{"BINANCE:BTCUSDT": polled},
		Stream:         []domain.Row{streamed},
		StreamInterval: domain.Interval1Day,
		ActiveInterval: active,
	}
}

func TestMergeIntervalMismatchKeepsPollValues(t *testing.T) {
	rows := Merge(btcInputs(domain.Interval5m))
	require.Len(t, rows, 1)
	assert.Equal(t, "BINANCE:BTCUSDT", rows[0].Symbol)
	assert.Equal(t, domain.Some(100), rows[0].Price)
}

func TestMergeIntervalMatchOverlaysStream(t *testing.T) {
	rows := Merge(btcInputs(domain.Interval1Day))
	require.Len(t, rows, 1)
	assert.Equal(t, domain.Some(105), rows[0].Price)
	assert.Equal(t, "BINANCE", rows[0].Exchange)
}

func TestMergeIgnoresOtherExchangeStreamRow(t *testing.T) {
	in := btcInputs(domain.Interval1Day)
	in.Stream = []domain.Row{{
		Symbol:        "BYBIT:BTCUSDT",
		Price:         domain.Some(999),
		ChangePercent: domain.Some(-42),
	}}

	rows := Merge(in)
	require.Len(t, rows, 1)
	assert.Equal(t, "BINANCE:BTCUSDT", rows[0].Symbol)
	assert.Equal(t, domain.Some(100), rows[0].Price)
	assert.False(t, rows[0].ChangePercent.Valid(), "change must not come from another exchange")
}

func TestMergeOverlaysOnlyPresentStreamFields(t *testing.T) {
	in := btcInputs(domain.Interval1Day)
	in.Polled["BINANCE:BTCUSDT"] = domain.Row{
		Symbol:        "BTCUSDT",
		Price:         domain.Some(100),
		ChangePercent: domain.Some(1.5),
		Volume:        domain.Volume{Num: domain.Some(10)},
		RSI:           domain.Some(44),
	}
	in.Stream = []domain.Row{{Symbol: "BINANCE:BTCUSDT", ChangePercent: domain.Some(3), RSI: domain.Some(99)}}

	rows := Merge(in)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.Some(100), rows[0].Price, "absent stream price must not erase poll price")
	assert.Equal(t, domain.Some(3), rows[0].ChangePercent)
	assert.Equal(t, domain.Some(10), rows[0].Volume.Num)
	assert.Equal(t, domain.Some(44), rows[0].RSI, "indicators always come from the poll snapshot")
}

func TestMergeMissingPollSnapshotKeepsPlaceholder(t *testing.T) {
	in := btcInputs(domain.Interval1Day)
	in.Favorites = append(in.Favorites, domain.FavoriteSymbol{ID: 2, Symbol: "COINBASE:ETHUSD"})

	rows := Merge(in)
	require.Len(t, rows, 2)
	eth := rows[1]
	assert.Equal(t, "COINBASE:ETHUSD", eth.Symbol)
	assert.Equal(t, "COINBASE", eth.Exchange)
	assert.False(t, eth.Price.Valid())
	assert.False(t, eth.ChangePercent.Valid())
	assert.False(t, eth.Volume.Valid())
}

func TestMergeFollowsFavoritesOrderAndDedups(t *testing.T) {
	in := Inputs{
		Favorites: []domain.FavoriteSymbol{
			{Symbol: "B"}, {Symbol: "A"}, {Symbol: "B"}, {Symbol: ""},
		},
		Polled: map[string]domain.Row{"Z": {Symbol: "Z"}},
	}
	rows := Merge(in)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0].Symbol)
	assert.Equal(t, "A", rows[1].Symbol)
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	in := btcInputs(domain.Interval1Day)
	before := in.Polled["BINANCE:BTCUSDT"]
	_ = Merge(in)
	assert.Equal(t, before, in.Polled["BINANCE:BTCUSDT"])
}

func TestMergeNoFavorites(t *testing.T) {
	rows := Merge(Inputs{StreamInterval: domain.Interval1Day, ActiveInterval: domain.Interval1Day})
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestIntervalsMatch(t *testing.T) {
	assert.True(t, IntervalsMatch(domain.Interval1Day, domain.Interval1Day))
	day, err := domain.ParseInterval("1440")
	require.NoError(t, err)
	assert.True(t, IntervalsMatch(day, domain.Interval1Day))
	assert.False(t, IntervalsMatch(domain.Interval5m, domain.Interval1Day))
	assert.False(t, IntervalsMatch(domain.Interval1Wk, domain.Interval1Day))
	assert.False(t, IntervalsMatch("", ""))
}
