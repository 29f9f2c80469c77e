package broadcast

import (
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/ticbuf"
	"kartsync/server/internal/tics"
)

// Receiver tracks how far the client may simulate.
type Receiver struct {
	// NeededTic is the first tic not yet received. Simulation may run up
	// to, not including, it.
	NeededTic tics.Tic
	// PacketMissed is set when a packet skipped past NeededTic.
	PacketMissed bool

	ring *ticbuf.Ring
	text *ticbuf.TextStore
}

func NewReceiver(ring *ticbuf.Ring, text *ticbuf.TextStore) *Receiver {
	return &Receiver{ring: ring, text: text}
}

// Reset places the watermark at t, after a join or a reload.
func (r *Receiver) Reset(t tics.Tic) {
	r.NeededTic = t
	r.PacketMissed = false
}

// Accept applies an inbound tic window. maketic anchors the truncated
// start tic and gametic bounds how far ahead the window may reach. It
// reports whether the watermark advanced; duplicate, stale and gapped
// packets leave everything untouched.
func (r *Receiver) Accept(p protocol.ServerTics, maketic, gametic tics.Tic) bool {
	start := tics.Expand(p.StartTic, maketic)
	end := start + tics.Tic(len(p.Tics))
	if end > gametic+tics.ClientBackup {
		end = gametic + tics.ClientBackup
	}
	r.PacketMissed = start > r.NeededTic
	if start > r.NeededTic || end <= r.NeededTic {
		return false
	}
	for i, t := 0, start; t < end; i, t = i+1, t+1 {
		data := p.Tics[i]
		r.ring.Clear(t)
		r.text.Clear(t)
		r.ring.Load(t, data.Cmds)
		if t < gametic {
			continue
		}
		for _, entry := range data.Text {
			r.text.Set(t, entry.Source, entry.Data)
		}
	}
	r.NeededTic = end
	return true
}
