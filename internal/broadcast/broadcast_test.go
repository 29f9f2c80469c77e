package broadcast

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/ticbuf"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
)

func newServer(t *testing.T, softMax int) (*Broadcaster, *ticbuf.Ring, *ticbuf.TextStore, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	if err := reg.AddNode(0, 0); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := reg.AddNode(1, 0); err != nil {
		t.Fatalf("add node: %v", err)
	}
	ring := ticbuf.NewRing()
	text := ticbuf.NewTextStore()
	return New(ring, text, reg, softMax), ring, text, reg
}

func TestPlanWindow(t *testing.T) {
	b, _, _, reg := newServer(t, 0)
	n := reg.Node(1)
	n.NetTics = 100
	n.SupposedTics = 104

	w, ok, err := b.Plan(1, n, Counters{MakeTic: 200, NumSlots: 2})
	if err != nil || !ok {
		t.Fatalf("expected a window, ok=%v err=%v", ok, err)
	}
	if w.First != 104 || w.Last != 100+tics.ClientBackup {
		t.Fatalf("unexpected window %+v", w)
	}

	w, _, _ = b.Plan(1, n, Counters{MakeTic: 110, FirstTicsToSend: 106, NumSlots: 2})
	if w.First != 106 || w.Last != 110 {
		t.Fatalf("expected clamp to firstticstosend, got %+v", w)
	}
}

func TestIdleResendEveryFourthTic(t *testing.T) {
	b, _, _, reg := newServer(t, 0)
	n := reg.Node(1)
	n.NetTics = 50
	n.SupposedTics = 60
	sent := 0
	for now := tics.Tic(0); now < 8; now++ {
		w, ok, err := b.Plan(1, n, Counters{MakeTic: 60, Now: now, NumSlots: 1})
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		if ok {
			sent++
			if w.First != 50 || w.Last != 60 {
				t.Fatalf("idle resend must restart at the ack, got %+v", w)
			}
		}
	}
	if sent != 2 {
		t.Fatalf("expected two hedged resends in eight tics, got %d", sent)
	}
	n.NetTics = 60
	if _, ok, _ := b.Plan(1, n, Counters{MakeTic: 60, Now: 3, NumSlots: 1}); ok {
		t.Fatalf("fully acknowledged node must not be sent anything")
	}
}

func TestPlanCutsAtSoftMax(t *testing.T) {
	b, _, text, reg := newServer(t, 200)
	n := reg.Node(1)
	perTic := protocol.TicWireSize(4, nil)
	_ = text.Append(3, 0, bytes.Repeat([]byte{1}, 200))

	w, ok, err := b.Plan(1, n, Counters{MakeTic: 30, NumSlots: 4})
	if err != nil || !ok {
		t.Fatalf("plan: ok=%v err=%v", ok, err)
	}
	fits := (200 - protocol.HeaderSize - protocol.ServerTicsBaseSize) / perTic
	if fits > 3 {
		fits = 3
	}
	if w.Len() != fits {
		t.Fatalf("expected %d tics before the heavy tic, got %+v", fits, w)
	}

	n.SupposedTics, n.NetTics = 3, 3
	w, ok, err = b.Plan(1, n, Counters{MakeTic: 30, NumSlots: 4})
	if err != nil || !ok || w.First != 3 || w.Last != 4 {
		t.Fatalf("expected oversized tic to be sent alone, got %+v ok=%v err=%v", w, ok, err)
	}
}

func TestPlanFailsWhenTicCannotFit(t *testing.T) {
	b, _, text, reg := newServer(t, 0)
	for source := uint8(0); source < 8; source++ {
		_ = text.Append(0, source, bytes.Repeat([]byte{1}, 250))
		reg.Player(int(source)).InGame = true
	}
	_, _, err := b.Plan(1, reg.Node(1), Counters{MakeTic: 5, NumSlots: protocol.MaxPlayers})
	if !errors.Is(err, ErrPacketTooLarge) {
		t.Fatalf("expected packet too large, got %v", err)
	}
}

func TestSentKeepsExtraTicsAndAck(t *testing.T) {
	n := &registry.Node{NetTics: 10}
	Sent(n, Window{First: 10, Last: 20}, 2)
	if n.SupposedTics != 18 {
		t.Fatalf("expected 18, got %d", n.SupposedTics)
	}
	Sent(n, Window{First: 10, Last: 11}, 2)
	if n.SupposedTics != 11 {
		t.Fatalf("single tic window must not go backward, got %d", n.SupposedTics)
	}
	n.NetTics = 30
	Sent(n, Window{First: 20, Last: 25}, 0)
	if n.SupposedTics != 30 {
		t.Fatalf("cursor must not fall behind ack, got %d", n.SupposedTics)
	}
}

func TestBuildSkipsTextFromAbsentPlayers(t *testing.T) {
	b, ring, text, reg := newServer(t, 0)
	ring.Set(7, 1, ticcmd.Command{ForwardMove: 5})
	_ = text.Append(7, 0, []byte{1, 0})
	_ = text.Append(7, 2, []byte{1, 0})
	_ = text.Append(7, protocol.ServerSource, []byte{2, 0})
	reg.Player(0).InGame = true

	packet := b.Build(Window{First: 7, Last: 8}, Counters{NumSlots: 2})
	if packet.StartTic != 7 || len(packet.Tics) != 1 {
		t.Fatalf("unexpected packet %+v", packet)
	}
	if packet.Tics[0].Cmds[1].ForwardMove != 5 {
		t.Fatalf("commands not copied")
	}
	sources := []uint8{}
	for _, entry := range packet.Tics[0].Text {
		sources = append(sources, entry.Source)
	}
	if len(sources) != 2 || sources[0] != 0 || sources[1] != protocol.ServerSource {
		t.Fatalf("unexpected text sources %v", sources)
	}
}

func window(start tics.Tic, count int, marker int8) protocol.ServerTics {
	p := protocol.ServerTics{StartTic: tics.Low(start), NumSlots: 1}
	for i := 0; i < count; i++ {
		p.Tics = append(p.Tics, protocol.TicData{
			Cmds: []ticcmd.Command{{ForwardMove: marker}},
			Text: []protocol.TextEntry{{Source: 0, Data: []byte{byte(i)}}},
		})
	}
	return p
}

func TestReceiverAcceptsOnlyContiguousWindows(t *testing.T) {
	ring := ticbuf.NewRing()
	text := ticbuf.NewTextStore()
	r := NewReceiver(ring, text)
	r.Reset(300)

	if r.Accept(window(305, 4, 1), 300, 300) || !r.PacketMissed {
		t.Fatalf("gapped packet must be refused and flagged")
	}
	if !r.Accept(window(298, 6, 2), 300, 300) || r.NeededTic != 304 {
		t.Fatalf("overlapping packet must advance to 304, got %d", r.NeededTic)
	}
	if ring.Get(303, 0).ForwardMove != 2 {
		t.Fatalf("commands not stored")
	}
	if text.Get(298, 0) != nil || text.Get(300, 0) == nil {
		t.Fatalf("text must only be copied for tics at or after gametic")
	}
	if r.Accept(window(300, 4, 3), 304, 300) {
		t.Fatalf("duplicate packet must not be accepted")
	}
	if r.Accept(window(304, 64, 4), 304, 300); r.NeededTic != 300+tics.ClientBackup {
		t.Fatalf("window must be capped at gametic+backup, got %d", r.NeededTic)
	}
}

func TestReceiverWatermarkIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := NewReceiver(ticbuf.NewRing(), ticbuf.NewTextStore())
	r.Reset(250)
	var gametic tics.Tic = 250
	last := r.NeededTic
	for step := 0; step < 2000; step++ {
		start := r.NeededTic - tics.Tic(rng.Intn(20)) + tics.Tic(rng.Intn(6))
		count := 1 + rng.Intn(10)
		r.Accept(window(start, count, 0), r.NeededTic, gametic)
		if r.NeededTic < last {
			t.Fatalf("watermark went backward at step %d: %d < %d", step, r.NeededTic, last)
		}
		last = r.NeededTic
		if gametic < r.NeededTic && rng.Intn(2) == 0 {
			gametic++
		}
	}
	if r.NeededTic <= 250 {
		t.Fatalf("expected progress, stuck at %d", r.NeededTic)
	}
}
