// Package broadcast moves the authoritative tic stream from the server to
// every node and rebuilds it on the client.
package broadcast

import (
	"errors"
	"fmt"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/ticbuf"
	"kartsync/server/internal/tics"
)

// ErrPacketTooLarge means a single tic cannot fit the largest datagram.
// The session cannot continue with this many players.
var ErrPacketTooLarge = errors.New("broadcast: tic exceeds maximum packet length")

// Counters is the server's view of the tic timeline for one send pass.
type Counters struct {
	MakeTic         tics.Tic
	FirstTicsToSend tics.Tic
	Now             tics.Tic
	ExtraTics       tics.Tic
	NumSlots        int
}

// Window is the half-open tic range [First, Last) chosen for a node.
type Window struct {
	First tics.Tic
	Last  tics.Tic
}

func (w Window) Len() int {
	return int(w.Last - w.First)
}

// Broadcaster builds ServerTics packets from the command ring and text store.
type Broadcaster struct {
	ring    *ticbuf.Ring
	text    *ticbuf.TextStore
	reg     *registry.Registry
	softMax int
}

// New builds packets no larger than softMax bytes when possible.
func New(ring *ticbuf.Ring, text *ticbuf.TextStore, reg *registry.Registry, softMax int) *Broadcaster {
	if softMax <= 0 || softMax > protocol.MaxPacketLength {
		softMax = protocol.MaxPacketLength
	}
	return &Broadcaster{ring: ring, text: text, reg: reg, softMax: softMax}
}

// SoftMax is the preferred packet length.
func (b *Broadcaster) SoftMax() int {
	return b.softMax
}

// Plan picks the tics to send node. It reports false when the node is up to
// date and this is not its turn to have the unacknowledged range hedged.
func (b *Broadcaster) Plan(node int, n *registry.Node, c Counters) (Window, bool, error) {
	first := n.SupposedTics
	last := n.NetTics + tics.ClientBackup
	if last > c.MakeTic {
		last = c.MakeTic
	}
	if first >= last {
		first = n.NetTics
		if first >= last || (uint32(c.Now)+uint32(node))&3 != 0 {
			return Window{}, false, nil
		}
	}
	if first < c.FirstTicsToSend {
		first = c.FirstTicsToSend
	}
	if first >= last {
		return Window{}, false, nil
	}

	size := protocol.HeaderSize + protocol.ServerTicsBaseSize
	for t := first; t < last; t++ {
		size += protocol.TicWireSize(c.NumSlots, b.entries(t))
		if size <= b.softMax {
			continue
		}
		last = t
		if last == first {
			if size > protocol.MaxPacketLength {
				return Window{}, false, fmt.Errorf("%w: %d bytes for %d slots to node %d", ErrPacketTooLarge, size, c.NumSlots, node)
			}
			last++
		}
		break
	}
	return Window{First: first, Last: last}, true, nil
}

// Build serialises w.
func (b *Broadcaster) Build(w Window, c Counters) protocol.ServerTics {
	out := protocol.ServerTics{
		StartTic: tics.Low(w.First),
		NumSlots: uint8(c.NumSlots),
		Tics:     make([]protocol.TicData, 0, w.Len()),
	}
	for t := w.First; t < w.Last; t++ {
		out.Tics = append(out.Tics, protocol.TicData{
			Cmds: b.ring.Slots(t, c.NumSlots),
			Text: b.entries(t),
		})
	}
	return out
}

// Sent moves the node's predicted cursor past w, keeping extratics of it
// to be resent next time. The cursor never falls behind the ack.
func Sent(n *registry.Node, w Window, extratics tics.Tic) {
	if w.Last > extratics && w.Last-extratics > w.First {
		n.SupposedTics = w.Last - extratics
	} else {
		n.SupposedTics = w.Last
	}
	if n.SupposedTics < n.NetTics {
		n.SupposedTics = n.NetTics
	}
}

// SendFunc delivers one packet to node.
type SendFunc func(node int, tics protocol.ServerTics) error

// SendTics plans, builds and sends a packet to every in-game remote node.
func (b *Broadcaster) SendTics(c Counters, send SendFunc) error {
	for _, node := range b.reg.InGameNodes() {
		if node == 0 {
			continue
		}
		n := b.reg.Node(node)
		w, ok, err := b.Plan(node, n, c)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := send(node, b.Build(w, c)); err != nil {
			return fmt.Errorf("send tics to node %d: %w", node, err)
		}
		Sent(n, w, c.ExtraTics)
	}
	b.reg.Node(0).SupposedTics = c.MakeTic
	return nil
}

// entries lists the text for t from sources that are still present.
func (b *Broadcaster) entries(t tics.Tic) []protocol.TextEntry {
	all := b.text.Entries(t)
	out := all[:0]
	for _, entry := range all {
		if int(entry.Source) == protocol.ServerSource {
			out = append(out, entry)
			continue
		}
		if p := b.reg.Player(int(entry.Source)); p != nil && p.InGame {
			out = append(out, entry)
		}
	}
	return out
}
