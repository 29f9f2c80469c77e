// Package ticbuf stores the authoritative per-tic command window and the
// text commands attached to it.
package ticbuf

import (
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
)

// Ring holds one command per player slot for the last tics.Backup tics.
type Ring struct {
	cmds [tics.Backup][protocol.MaxPlayers]ticcmd.Command
}

func NewRing() *Ring {
	return &Ring{}
}

func slot(t tics.Tic) int {
	return int(t % tics.Backup)
}

// Clear zeroes every command stored for t.
func (r *Ring) Clear(t tics.Tic) {
	r.cmds[slot(t)] = [protocol.MaxPlayers]ticcmd.Command{}
}

// Set stores cmd for player at t.
func (r *Ring) Set(t tics.Tic, player int, cmd ticcmd.Command) {
	if player < 0 || player >= protocol.MaxPlayers {
		return
	}
	r.cmds[slot(t)][player] = cmd
}

// Get returns the command stored for player at t.
func (r *Ring) Get(t tics.Tic, player int) ticcmd.Command {
	if player < 0 || player >= protocol.MaxPlayers {
		return ticcmd.Command{}
	}
	return r.cmds[slot(t)][player]
}

// Slots returns a copy of the first n slots at t.
func (r *Ring) Slots(t tics.Tic, n int) []ticcmd.Command {
	if n > protocol.MaxPlayers {
		n = protocol.MaxPlayers
	}
	out := make([]ticcmd.Command, n)
	copy(out, r.cmds[slot(t)][:n])
	return out
}

// Load overwrites the first len(cmds) slots at t.
func (r *Ring) Load(t tics.Tic, cmds []ticcmd.Command) {
	copy(r.cmds[slot(t)][:], cmds)
}
