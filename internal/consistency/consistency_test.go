package consistency

import (
	"testing"

	"kartsync/server/internal/registry"
	"kartsync/server/internal/tics"
)

func sampleState() State {
	var s State
	s.InLevel = true
	s.Players[0] = PlayerState{InGame: true, HasBody: true, X: 1000, Y: -20, ItemType: 3}
	s.Players[1] = PlayerState{InGame: true, HasBody: true, X: 42, Y: 17}
	s.RandSeeds = []uint32{0xDEADBEEF, 12345}
	return s
}

func TestHashDetectsDivergence(t *testing.T) {
	a := sampleState()
	b := sampleState()
	if Hash(a) != Hash(b) {
		t.Fatalf("equal states must hash equally")
	}
	b.Players[1].X++
	if Hash(a) == Hash(b) {
		t.Fatalf("expected moved player to change the hash")
	}
	c := sampleState()
	c.RandSeeds[1]++
	if Hash(a) == Hash(c) {
		t.Fatalf("expected rng state to change the hash")
	}
}

func TestHashIgnoresSeedsOutsideLevel(t *testing.T) {
	a := sampleState()
	a.InLevel = false
	b := a
	b.RandSeeds = []uint32{1}
	if Hash(a) != Hash(b) {
		t.Fatalf("seeds must not matter outside a level")
	}
}

func newTracker(attempts int) (*Tracker, *Ring, *registry.Registry) {
	reg := registry.New()
	_ = reg.AddNode(1, 0)
	_ = reg.AddNode(2, 0)
	ring := &Ring{}
	return NewTracker(ring, reg, attempts), ring, reg
}

func TestSingleResendWithinCooldown(t *testing.T) {
	tracker, ring, _ := newTracker(3)
	ring.Store(100, 7)

	resends := 0
	for now := tics.Tic(1000); now < 1000+ResendCooldown; now++ {
		if tracker.Check(1, Report{Tic: 100, Value: 8}, 110, true, now) == DecisionResend {
			resends++
		}
	}
	if resends != 1 {
		t.Fatalf("expected exactly one resend, got %d", resends)
	}

	tracker.Received(1, 2000)
	if got := tracker.Check(1, Report{Tic: 100, Value: 8}, 110, true, 2000+ResendCooldown-1); got != DecisionNone {
		t.Fatalf("expected cooldown to hold, got %s", got)
	}
	if got := tracker.Check(1, Report{Tic: 100, Value: 8}, 110, true, 2000+ResendCooldown); got != DecisionResend {
		t.Fatalf("expected resend after cooldown, got %s", got)
	}
}

func TestOneResyncAtATime(t *testing.T) {
	tracker, ring, _ := newTracker(3)
	ring.Store(50, 1)
	if tracker.Check(1, Report{Tic: 50, Value: 2}, 60, true, 0) != DecisionResend {
		t.Fatalf("expected first node to resync")
	}
	if got := tracker.Check(2, Report{Tic: 50, Value: 2}, 60, true, 0); got != DecisionNone {
		t.Fatalf("expected second node to wait, got %s", got)
	}
}

func TestAttemptsExhaustedKicks(t *testing.T) {
	tracker, ring, reg := newTracker(1)
	ring.Store(10, 1)
	if tracker.Check(1, Report{Tic: 10, Value: 2}, 20, true, 0) != DecisionResend {
		t.Fatalf("expected resend")
	}
	tracker.Received(1, 0)
	if got := tracker.Check(1, Report{Tic: 10, Value: 2}, 20, true, ResendCooldown); got != DecisionKick {
		t.Fatalf("expected kick after budget, got %s", got)
	}
	reg.ResetNode(1)
	if reg.Node(1).ResyncAttempts != 0 {
		t.Fatalf("reset must clear attempts")
	}
}

func TestReportsOutsideRingIgnored(t *testing.T) {
	tracker, ring, _ := newTracker(3)
	ring.Store(5, 1)
	if got := tracker.Check(1, Report{Tic: 5, Value: 2}, 4, true, 0); got != DecisionNone {
		t.Fatalf("future tic must be ignored, got %s", got)
	}
	if got := tracker.Check(1, Report{Tic: 5, Value: 2}, 5+tics.Backup, true, 0); got != DecisionNone {
		t.Fatalf("overwritten tic must be ignored, got %s", got)
	}
	if got := tracker.Check(1, Report{Tic: 5, Value: 2}, 6, false, 0); got != DecisionNone {
		t.Fatalf("outside a level must be ignored, got %s", got)
	}
}

func TestUnconfirmedResyncExpires(t *testing.T) {
	tracker, ring, reg := newTracker(2)
	ring.Store(10, 1)
	if tracker.Check(1, Report{Tic: 10, Value: 2}, 20, true, 100) != DecisionResend {
		t.Fatalf("expected resend")
	}
	if got := tracker.Expire(1, 100+ResyncTimeout); got != DecisionNone {
		t.Fatalf("expired before the deadline: %s", got)
	}

	reg.Node(1).SendingSaveGame = true
	if got := tracker.Expire(1, 101+ResyncTimeout); got != DecisionResend {
		t.Fatalf("expected a second notice, got %s", got)
	}
	if n := reg.Node(1); n.SendingSaveGame || !n.ResendingSaveGame || n.ResyncAttempts != 2 {
		t.Fatalf("unexpected node state %+v", n)
	}
	if !tracker.ResendingToAnyone() {
		t.Fatalf("resync should still be in progress")
	}

	if got := tracker.Expire(1, 102+2*ResyncTimeout); got != DecisionKick {
		t.Fatalf("expected kick after budget, got %s", got)
	}
	if tracker.ResendingToAnyone() {
		t.Fatalf("an abandoned resync must not block other nodes")
	}
	if got := tracker.Check(2, Report{Tic: 10, Value: 2}, 20, true, 500); got != DecisionResend {
		t.Fatalf("expected the other node to resync, got %s", got)
	}
}
