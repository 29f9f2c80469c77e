// Package consistency detects simulation divergence between peers and
// decides when a node gets a fresh snapshot.
package consistency

import (
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/tics"
)

// PlayerState is the per-player input to the hash.
type PlayerState struct {
	InGame   bool
	HasBody  bool
	X, Y     int32
	ItemType int32
}

// State is the cheap-to-read part of the simulation every peer folds into
// its consistency value.
type State struct {
	InLevel   bool
	Players   [protocol.MaxPlayers]PlayerState
	RandSeeds []uint32
}

// Hash folds s into a 16 bit value. It is a tripwire, not a digest: equal
// states always agree and most divergences show up within a few tics.
func Hash(s State) int16 {
	var ret uint32
	for i, p := range s.Players {
		switch {
		case !p.InGame:
			ret ^= 0xCCCC
		case !p.HasBody || !s.InLevel:
		default:
			ret += uint32(p.X)
			ret -= uint32(p.Y)
			ret += uint32(p.ItemType)
			ret *= uint32(i + 1)
		}
	}
	if s.InLevel {
		for i, seed := range s.RandSeeds {
			if i&1 == 1 {
				ret -= seed
			} else {
				ret += seed
			}
		}
	}
	return int16(ret & 0xFFFF)
}

// Ring keeps the local consistency value of the last tics.Backup tics.
type Ring struct {
	values [tics.Backup]int16
}

func (r *Ring) Store(t tics.Tic, v int16) {
	r.values[t%tics.Backup] = v
}

func (r *Ring) At(t tics.Tic) int16 {
	return r.values[t%tics.Backup]
}
