// Package world is the kart arena hosted by the dedicated server. It is
// fully deterministic: integer positions, a table-driven sine and a single
// random stream advanced once per tic, so every peer that runs the same
// commands ends up bit-for-bit identical.
package world

import (
	"kartsync/server/internal/consistency"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
)

const (
	// ButtonItem rolls an item when empty-handed and uses it otherwise.
	ButtonItem uint16 = 1 << 0

	// ItemKinds is the number of distinct items a roll can produce.
	ItemKinds = 8

	accel    = 40
	turnStep = 1
	spawnTry = 16
)

// Kart is one player's body.
type Kart struct {
	Present bool
	X, Y    int32
	Angle   uint16
	Speed   int32
	Item    int32
}

// Roster reports which player slots are in the game.
type Roster func(player int) bool

// World implements the simulation driven by the lockstep session.
type World struct {
	cfg    Config
	roster Roster

	level     bool
	levelTime tics.Tic
	// phaseTime counts intermission tics.
	phaseTime tics.Tic
	rand      uint32
	karts     [protocol.MaxPlayers]Kart
}

// New starts the first level right away.
func New(cfg Config, roster Roster) *World {
	w := &World{cfg: cfg.normalized(), roster: roster}
	w.rand = w.cfg.Seed
	w.startLevel()
	return w
}

// SetRoster replaces the in-game test, e.g. once the session's registry
// exists.
func (w *World) SetRoster(roster Roster) {
	w.roster = roster
}

func (w *World) inGame(p int) bool {
	return w.roster != nil && w.roster(p)
}

// next advances the random stream (xorshift32).
func (w *World) next() uint32 {
	x := w.rand
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	w.rand = x
	return x
}

func (w *World) startLevel() {
	w.level = true
	w.levelTime = 0
	w.phaseTime = 0
	for p := range w.karts {
		w.karts[p] = Kart{}
		if w.inGame(p) {
			w.spawn(p)
		}
	}
}

func (w *World) RunTic(tic tics.Tic, cmds []ticcmd.Command) {
	w.next()
	if !w.level {
		w.phaseTime++
		if w.phaseTime >= w.cfg.IntermissionTics {
			w.startLevel()
		}
		return
	}
	w.levelTime++
	for p := range w.karts {
		k := &w.karts[p]
		if !w.inGame(p) {
			*k = Kart{}
			continue
		}
		if !k.Present {
			w.spawn(p)
		}
		var cmd ticcmd.Command
		if p < len(cmds) {
			cmd = cmds[p]
		}
		w.drive(k, cmd)
	}
	if w.cfg.LevelTics > 0 && w.levelTime >= w.cfg.LevelTics {
		w.level = false
		w.phaseTime = 0
	}
}

// spawn places player p at a random free spot.
func (w *World) spawn(p int) {
	k := Kart{Present: true}
	minX, maxX := int32(KartHalf), w.cfg.Width-KartHalf
	minY, maxY := int32(KartHalf), w.cfg.Height-KartHalf
	k.X, k.Y = minX*Frac, minY*Frac
	for try := 0; try < spawnTry; try++ {
		x := minX + int32(w.next()%uint32(maxX-minX))
		y := minY + int32(w.next()%uint32(maxY-minY))
		if !w.blocked(x*Frac, y*Frac) {
			k.X, k.Y = x*Frac, y*Frac
			break
		}
	}
	k.Angle = uint16(w.next())
	w.karts[p] = k
}

func (w *World) drive(k *Kart, cmd ticcmd.Command) {
	k.Angle += uint16(int32(cmd.Turning) * turnStep)
	target := int32(cmd.ForwardMove) * accel
	k.Speed += (target - k.Speed) / 8

	dx := k.Speed * cosine(k.Angle) / sineScale
	dy := k.Speed * sine(k.Angle) / sineScale
	blockedX := w.moveX(k, dx)
	blockedY := w.moveY(k, dy)
	if blockedX || blockedY {
		k.Speed /= 2
	}

	if cmd.Buttons&ButtonItem != 0 {
		if k.Item == 0 {
			k.Item = int32(w.next()%ItemKinds) + 1
		} else {
			k.Item = 0
		}
	}
}

func (w *World) ConsistencyState() consistency.State {
	s := consistency.State{
		InLevel:   w.level,
		RandSeeds: []uint32{w.rand, uint32(w.levelTime)},
	}
	for p, k := range w.karts {
		s.Players[p] = consistency.PlayerState{
			InGame:   w.inGame(p),
			HasBody:  k.Present,
			X:        k.X,
			Y:        k.Y,
			ItemType: k.Item,
		}
	}
	return s
}

func (w *World) InLevel() bool       { return w.level }
func (w *World) LevelTime() tics.Tic { return w.levelTime }

// Kart returns player p's body.
func (w *World) Kart(p int) Kart {
	if p < 0 || p >= len(w.karts) {
		return Kart{}
	}
	return w.karts[p]
}
