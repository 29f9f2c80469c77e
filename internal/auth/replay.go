package auth

import (
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// ReplayGuard remembers byte strings that must only ever be used once, such
// as challenges we signed or signatures we accepted. Membership is
// probabilistic: a false positive refuses a fresh value, never accepts a
// replayed one.
type ReplayGuard struct {
	filter   *cuckoo.Filter
	capacity uint
}

// NewReplayGuard sizes the filter for roughly capacity entries. When it
// fills up it is cleared and starts over.
func NewReplayGuard(capacity uint) *ReplayGuard {
	if capacity == 0 {
		capacity = 4096
	}
	return &ReplayGuard{filter: cuckoo.NewFilter(capacity), capacity: capacity}
}

// Seen reports whether value was remembered before.
func (g *ReplayGuard) Seen(value []byte) bool {
	if g == nil {
		return false
	}
	return g.filter.Lookup(value)
}

// Remember records value. It returns false when value had already been
// remembered.
func (g *ReplayGuard) Remember(value []byte) bool {
	if g == nil {
		return true
	}
	if g.filter.Lookup(value) {
		return false
	}
	if g.filter.Count() >= g.capacity {
		g.filter.Reset()
	}
	return g.filter.Insert(value)
}

// Count reports how many values are remembered.
func (g *ReplayGuard) Count() uint {
	if g == nil {
		return 0
	}
	return g.filter.Count()
}
