package consistency

import (
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/tics"
)

// ResendCooldown is how long a node is left alone after it confirms a
// reload.
const ResendCooldown = 5 * tics.Rate

// ResyncTimeout is how long a node has to ask for a scheduled snapshot.
const ResyncTimeout = 3 * tics.Rate

// Decision is what the server does about one reported value.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionResend
	DecisionKick
)

func (d Decision) String() string {
	switch d {
	case DecisionResend:
		return "resend"
	case DecisionKick:
		return "kick"
	default:
		return "none"
	}
}

// Report is a node's claim about a tic it simulated.
type Report struct {
	Tic   tics.Tic
	Value int16
}

// Tracker compares client reports against the local ring and runs the
// per-node resync bookkeeping kept in the registry.
type Tracker struct {
	ring     *Ring
	reg      *registry.Registry
	attempts int
}

// NewTracker allows attempts resends per node before kicking. Zero kicks
// on the first mismatch.
func NewTracker(ring *Ring, reg *registry.Registry, attempts int) *Tracker {
	return &Tracker{ring: ring, reg: reg, attempts: attempts}
}

// Check decides what to do about report from node. gametic is the local
// simulation tic and now the wall-clock tic.
func (t *Tracker) Check(node int, report Report, gametic tics.Tic, inLevel bool, now tics.Tic) Decision {
	n := t.reg.Node(node)
	if n == nil || !inLevel {
		return DecisionNone
	}
	if report.Tic > gametic || report.Tic+tics.Backup-1 <= gametic {
		return DecisionNone
	}
	if t.ring.At(report.Tic) == report.Value {
		return DecisionNone
	}
	if n.ResendingSaveGame || n.ResendCooldown > now || t.ResendingToAnyone() {
		return DecisionNone
	}
	if n.ResyncAttempts >= t.attempts {
		return DecisionKick
	}
	n.ResyncAttempts++
	n.ResendingSaveGame = true
	n.ResyncDeadline = now + ResyncTimeout
	return DecisionResend
}

// Expire handles a resync that node has not confirmed by its deadline.
// Any transfer in flight is abandoned; the node is told again while
// attempts remain and kicked after that.
func (t *Tracker) Expire(node int, now tics.Tic) Decision {
	n := t.reg.Node(node)
	if n == nil || !n.ResendingSaveGame || now <= n.ResyncDeadline {
		return DecisionNone
	}
	n.SendingSaveGame = false
	if n.ResyncAttempts >= t.attempts {
		n.ResendingSaveGame = false
		return DecisionKick
	}
	n.ResyncAttempts++
	n.ResyncDeadline = now + ResyncTimeout
	return DecisionResend
}

// ResendingToAnyone reports whether some node is mid resync.
func (t *Tracker) ResendingToAnyone() bool {
	for n := 0; n < protocol.MaxNodes; n++ {
		if t.reg.Node(n).ResendingSaveGame {
			return true
		}
	}
	return false
}

// Received records that node reloaded the snapshot it was sent.
func (t *Tracker) Received(node int, now tics.Tic) {
	n := t.reg.Node(node)
	if n == nil {
		return
	}
	n.SendingSaveGame = false
	n.ResendingSaveGame = false
	n.ResendCooldown = now + ResendCooldown
}
