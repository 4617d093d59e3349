// Package tracked merges the persisted favorites list with the latest poll
// snapshots and push-stream values into the rows of the tracked view.
package tracked

import (
	"screener/internal/domain"
)

// Inputs is everything one merge pass reads. Merge never modifies it.
type Inputs struct {
	// Favorites decides which symbols appear, in this order.
	Favorites []domain.FavoriteSymbol

	// Polled holds the per-favorite poll snapshot for ActiveInterval, keyed
	// by favorite symbol.
	Polled map[string]domain.Row

	// Stream is the freshest push-stream batch. Its values are always
	// computed over StreamInterval.
	Stream []domain.Row

	StreamInterval domain.Interval
	ActiveInterval domain.Interval
}

// IntervalsMatch reports whether stream values computed over stream may be
// shown next to poll values computed over active. Both must be canonical
// (as returned by domain.ParseInterval), so "1440" has become "1D".
func IntervalsMatch(active, stream domain.Interval) bool {
	return active != "" && active == stream
}

// Merge produces the tracked rows, one per favorite in favorites order.
//
// Each row starts from the favorite's poll snapshot. Price, change percent
// and volume are overlaid from the stream only when the active interval
// matches the stream's interval; otherwise the poll values stand. A
// favorite without a poll snapshot yet is kept with its symbol and
// exchange only, so every numeric cell renders as a placeholder.
func Merge(in Inputs) []domain.Row {
	overlay := IntervalsMatch(in.ActiveInterval, in.StreamInterval)
	stream := indexStream(in.Stream)

	out := make([]domain.Row, 0, len(in.Favorites))
	seen := make(map[string]bool, len(in.Favorites))
	for _, fav := range in.Favorites {
		if fav.Symbol == "" || seen[fav.Symbol] {
			continue
		}
		seen[fav.Symbol] = true

		polled, ok := in.Polled[fav.Symbol]
		if !ok {
			out = append(out, placeholder(fav.Symbol))
			continue
		}

		r := polled
		r.Symbol = fav.Symbol
		if r.Exchange == "" {
			r.Exchange = domain.ExchangeOf(fav.Symbol)
		}
		if r.Interval == "" {
			r.Interval = in.ActiveInterval
		}
		if overlay {
			if s, ok := stream.lookup(fav.Symbol); ok {
				applyStream(&r, s)
			}
		}
		out = append(out, r)
	}
	return out
}

func placeholder(symbol string) domain.Row {
	return domain.Row{Symbol: symbol, Exchange: domain.ExchangeOf(symbol)}
}

// applyStream overlays the fields the stream actually carries.
func applyStream(r *domain.Row, s domain.Row) {
	if s.Price.Valid() {
		r.Price = s.Price
	}
	if s.ChangePercent.Valid() {
		r.ChangePercent = s.ChangePercent
	}
	if s.Volume.Valid() {
		r.Volume = s.Volume
	}
}

// streamIndex finds stream rows by full symbol. A stream row without an
// exchange prefix also matches any favorite with the same ticker; a prefixed
// row only ever matches its own exchange.
type streamIndex struct {
	bySymbol map[string]domain.Row
	byTicker map[string]domain.Row
}

func indexStream(rows []domain.Row) streamIndex {
	idx := streamIndex{
		bySymbol: make(map[string]domain.Row, len(rows)),
		byTicker: make(map[string]domain.Row, len(rows)),
	}
	for _, r := range rows {
		idx.bySymbol[r.Symbol] = r
		if domain.ExchangeOf(r.Symbol) != "" {
			continue
		}
		if _, dup := idx.byTicker[r.Ticker()]; !dup {
			idx.byTicker[r.Ticker()] = r
		}
	}
	return idx
}

func (idx streamIndex) lookup(symbol string) (domain.Row, bool) {
	if r, ok := idx.bySymbol[symbol]; ok {
		return r, true
	}
	r, ok := idx.byTicker[domain.TickerOf(symbol)]
	return r, ok
}
