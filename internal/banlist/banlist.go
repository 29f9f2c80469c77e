// Package banlist keeps the server's address bans and persists them to a
// flat text file.
package banlist

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go4.org/netipx"
)

const (
	// MaxReasonLength caps stored reasons.
	MaxReasonLength = 30

	DefaultUsername = "Direct IP ban"
	DefaultReason   = "No reason given"
)

var (
	ErrInvalidAddress = errors.New("banlist: invalid address")
	ErrUnknownFormat  = errors.New("banlist: unknown ban file format")
	ErrNotLoaded      = errors.New("banlist: refusing to save before a load was attempted")
)

// Entry is one banned range.
type Entry struct {
	Prefix   netip.Prefix
	Unban    time.Time
	Username string
	Reason   string
}

// Permanent reports an entry with no unban time.
func (e Entry) Permanent() bool {
	return e.Unban.IsZero()
}

// Expired reports whether a timed ban has been served at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.Permanent() && !now.Before(e.Unban)
}

// List is a set of bans. It is safe for concurrent use so console commands
// may edit it while the network loop reads it.
type List struct {
	mu      sync.RWMutex
	entries []Entry
	set     *netipx.IPSet
	now     func() time.Time
	loaded  bool
}

// New returns an empty list using now as its clock.
func New(now func() time.Time) *List {
	if now == nil {
		now = time.Now
	}
	l := &List{now: now}
	l.rebuild()
	return l
}

// Add bans addr with the given prefix length. bits <= 0 bans the single
// address. A zero until bans permanently.
func (l *List) Add(addr netip.Addr, bits int, username, reason string, until time.Time) error {
	if !addr.IsValid() {
		return ErrInvalidAddress
	}
	addr = addr.Unmap()
	if bits <= 0 || bits > addr.BitLen() {
		bits = addr.BitLen()
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if username == "" {
		username = DefaultUsername
	}
	if reason == "" {
		reason = DefaultReason
	}
	if len(reason) > MaxReasonLength {
		reason = reason[:MaxReasonLength]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Prefix: prefix, Unban: until, Username: username, Reason: reason})
	l.rebuild()
	return nil
}

// Lookup returns the ban covering addr, if any is still active. Permanent
// bans win over timed ones; among timed bans the longest wins.
func (l *List) Lookup(addr netip.Addr) (Entry, bool) {
	addr = addr.Unmap()
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.set.Contains(addr) {
		return Entry{}, false
	}
	var best Entry
	found := false
	for _, e := range l.entries {
		if !e.Prefix.Contains(addr) || e.Expired(now) {
			continue
		}
		switch {
		case !found:
			best, found = e, true
		case e.Permanent():
			best = e
		case !best.Permanent() && e.Unban.After(best.Unban):
			best = e
		}
	}
	return best, found
}

// Entries returns a copy of every entry, expired ones included.
func (l *List) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Clear removes every ban.
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.rebuild()
}

func (l *List) rebuild() {
	var b netipx.IPSetBuilder
	for _, e := range l.entries {
		b.AddPrefix(e.Prefix)
	}
	set, err := b.IPSet()
	if err != nil {
		set = &netipx.IPSet{}
	}
	l.set = set
}

// Remaining splits the time left on a timed ban the way joiners are shown
// it: minutes round to nearest, hours and days round up from one short.
func Remaining(left time.Duration) (days, hours, minutes int) {
	seconds := int(left / time.Second)
	minutes = (seconds + 30) / 60
	hours = (minutes + 1) / 60
	days = (hours + 1) / 24
	return days, hours, minutes
}

// RemainingText renders Remaining as "N day(s)", "N hour(s)", "N minute(s)"
// or "<1 minute".
func RemainingText(left time.Duration) string {
	days, hours, minutes := Remaining(left)
	switch {
	case days > 0:
		return plural(days, "day")
	case hours > 0:
		return plural(hours, "hour")
	case minutes > 0:
		return plural(minutes, "minute")
	default:
		return "<1 minute"
	}
}

func plural(n int, unit string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, unit)
	}
	return fmt.Sprintf("%d %s", n, unit)
}
