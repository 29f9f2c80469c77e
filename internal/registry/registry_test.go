package registry

import (
	"errors"
	"testing"
)

func TestMapNodeToPlayerEnforcesExclusivity(t *testing.T) {
	reg := New()
	if err := reg.MapNodeToPlayer(1, 0, 3); err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if err := reg.MapNodeToPlayer(2, 0, 3); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if err := reg.MapNodeToPlayer(1, 1, 4); err != nil {
		t.Fatalf("second split failed: %v", err)
	}
	if got := reg.Node(1).PlayersPerNode; got != 2 {
		t.Fatalf("expected two players on node, got %d", got)
	}
	if err := reg.MapNodeToPlayer(1, 1, 4); err != nil {
		t.Fatalf("remapping same slot failed: %v", err)
	}
	if got := reg.Node(1).PlayersPerNode; got != 2 {
		t.Fatalf("expected remap to keep count, got %d", got)
	}
	if err := reg.SlotOwners(); err != nil {
		t.Fatalf("unexpected inconsistency: %v", err)
	}
	if err := reg.MapNodeToPlayer(1, 4, 5); !errors.Is(err, ErrSplitRange) {
		t.Fatalf("expected split range error, got %v", err)
	}
}

func TestRemovePlayerFreesSlotAndReportsEmptyNode(t *testing.T) {
	reg := New()
	_ = reg.MapNodeToPlayer(5, 0, 0)
	_ = reg.MapNodeToPlayer(5, 1, 1)
	reg.Player(0).InGame = true
	reg.Player(1).InGame = true

	node, empty := reg.RemovePlayer(1)
	if node != 5 || empty {
		t.Fatalf("expected node 5 still occupied, got node=%d empty=%v", node, empty)
	}
	if reg.NodeToSplitPlayer(5, 1) != NoPlayer {
		t.Fatalf("expected split 1 to be cleared")
	}
	node, empty = reg.RemovePlayer(0)
	if node != 5 || !empty {
		t.Fatalf("expected node 5 to be empty, got node=%d empty=%v", node, empty)
	}
	if slot := reg.FreeSlot(false); slot != 0 {
		t.Fatalf("expected slot 0 to be reusable, got %d", slot)
	}
	if err := reg.MapNodeToPlayer(6, 0, 1); err != nil {
		t.Fatalf("expected freed slot to be claimable by another node: %v", err)
	}
}

func TestResetNodeIsIdempotent(t *testing.T) {
	reg := New()
	_ = reg.AddNode(3, 40)
	reg.Node(3).ResendingSaveGame = true
	reg.Node(3).Ban = BanStatus{Active: true, Reason: "x"}
	reg.ResetNode(3)
	first := *reg.Node(3)
	reg.ResetNode(3)
	if *reg.Node(3) != first {
		t.Fatalf("expected second reset to be a no-op")
	}
	if first.InGame || first.ResendingSaveGame || first.Ban.Active || first.Players[0] != NoPlayer {
		t.Fatalf("expected clean node, got %+v", first)
	}
}

func TestFreeSlotPrefersEmptyOverBots(t *testing.T) {
	reg := New()
	for p := 0; p < len(reg.players); p++ {
		reg.Player(p).InGame = true
	}
	reg.Player(7).Bot = true
	if slot := reg.FreeSlot(false); slot != NoPlayer {
		t.Fatalf("expected full session, got %d", slot)
	}
	if slot := reg.FreeSlot(true); slot != 7 {
		t.Fatalf("expected bot slot 7, got %d", slot)
	}
	reg.Player(12).InGame = false
	if slot := reg.FreeSlot(true); slot != 12 {
		t.Fatalf("expected free slot 12 before bots, got %d", slot)
	}
}

func TestConnectedPlayersCountsPendingJoins(t *testing.T) {
	reg := New()
	_ = reg.MapNodeToPlayer(1, 0, 0)
	_ = reg.MapNodeToPlayer(2, 0, 1)
	if got := reg.ConnectedPlayers(); got != 2 {
		t.Fatalf("expected 2 connected players, got %d", got)
	}
	if got := reg.NodePlayers(1); len(got) != 1 || got[0] != 0 {
		t.Fatalf("unexpected node players %v", got)
	}
}

func TestNodesIncludesPendingAuth(t *testing.T) {
	reg := New()
	if err := reg.AddNode(3, 10); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	reg.Node(5).NeedsAuth = true
	got := reg.Nodes()
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Fatalf("unexpected nodes %v", got)
	}
	_ = reg.MapNodeToPlayer(3, 0, 2)
	reg.Player(2).Bot = true
	if slot := reg.FreeSlot(true); slot != 0 {
		t.Fatalf("expected slot 0, got %d", slot)
	}
}
