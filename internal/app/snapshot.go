package app

import (
	"screener/internal/domain"
)

// View selects which row set the user is looking at.
type View int

const (
	ViewMovers View = iota
	ViewLosers
	ViewTracked
	ViewLive
)

// Views lists every view in tab order.
var Views = []View{ViewMovers, ViewLosers, ViewTracked, ViewLive}

func (v View) String() string {
	switch v {
	case ViewMovers:
		return "TOP_MOVERS"
	case ViewLosers:
		return "TOP_LOSERS"
	case ViewTracked:
		return "TRACKED_ASSETS"
	case ViewLive:
		return "LIVE_FEED"
	default:
		return "UNKNOWN"
	}
}

// ParseView maps "movers", "losers", "tracked" and "live" to a View.
func ParseView(s string) (View, bool) {
	switch s {
	case "movers":
		return ViewMovers, true
	case "losers":
		return ViewLosers, true
	case "tracked":
		return ViewTracked, true
	case "live":
		return ViewLive, true
	default:
		return 0, false
	}
}

// Snapshot is a read-only copy of the orchestrator state. Slices are shared
// with the orchestrator, which only ever replaces them; callers must not
// modify them.
type Snapshot struct {
	Version uint64

	View           View
	Interval       domain.Interval
	StreamInterval domain.Interval

	Movers  []domain.Row
	Losers  []domain.Row
	Tracked []domain.Row
	Stream  []domain.Row

	Favorites  []domain.FavoriteSymbol
	Connection domain.ConnectionState
	Dropped    int

	Activity []Entry
}

// Rows returns the rows of the current view.
func (s Snapshot) Rows() []domain.Row {
	return s.RowsFor(s.View)
}

// RowsFor returns the rows of v.
func (s Snapshot) RowsFor(v View) []domain.Row {
	switch v {
	case ViewMovers:
		return s.Movers
	case ViewLosers:
		return s.Losers
	case ViewTracked:
		return s.Tracked
	case ViewLive:
		return s.Stream
	default:
		return nil
	}
}

// IsFavorite reports whether symbol is tracked.
func (s Snapshot) IsFavorite(symbol string) bool {
	for _, f := range s.Favorites {
		if f.Symbol == symbol {
			return true
		}
	}
	return false
}
