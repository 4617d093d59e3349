package app

// requestKind names an independently sequenced request stream.
type requestKind int

const (
	kindMovers requestKind = iota
	kindLosers
	kindTracked
	kindFavorites
	numKinds
)

func (k requestKind) String() string {
	switch k {
	case kindMovers:
		return "movers"
	case kindLosers:
		return "losers"
	case kindTracked:
		return "tracked"
	case kindFavorites:
		return "favorites"
	default:
		return "unknown"
	}
}

// seqGate numbers outgoing requests per kind and decides whether a response
// may be applied. With discard off every response is applied in arrival
// order, so a slow response can overwrite a fresher one.
type seqGate struct {
	discard bool
	issued  [numKinds]uint64
	applied [numKinds]uint64
}

// next returns the sequence number for a new request of kind k.
func (g *seqGate) next(k requestKind) uint64 {
	g.issued[k]++
	return g.issued[k]
}

// accept reports whether the response to request seq may be applied, and
// records it as applied if so.
func (g *seqGate) accept(k requestKind, seq uint64) bool {
	if g.discard && seq <= g.applied[k] {
		return false
	}
	g.applied[k] = seq
	return true
}

// invalidate marks every request of kind k issued so far as stale.
func (g *seqGate) invalidate(k requestKind) {
	g.applied[k] = g.issued[k]
}
