package world

import (
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
)

// Bots drives bot karts in slow weaving circles. Commands depend only on
// the slot and the tic, so the server can build them without looking at
// the world.
type Bots struct{}

func (Bots) BotCommand(player int, tic tics.Tic) ticcmd.Command {
	phase := (int(tic/tics.Rate) + player*7) % 5
	return ticcmd.Command{
		ForwardMove: ticcmd.MaxPlayerMove,
		Turning:     int16((phase - 2) * 200),
	}
}
