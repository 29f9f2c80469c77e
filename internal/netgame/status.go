package netgame

import (
	"kartsync/server/internal/auth"
	"kartsync/server/internal/tics"
)

// Status is a point-in-time summary of a server for operators.
type Status struct {
	Name      string   `json:"name"`
	GameTic   tics.Tic `json:"gameTic"`
	InLevel   bool     `json:"inLevel"`
	LevelTime tics.Tic `json:"levelTime"`
	// Nodes counts connected remote machines.
	Nodes   int            `json:"nodes"`
	Players []PlayerStatus `json:"players"`
	MaxPing tics.Tic       `json:"maxPing"`
}

type PlayerStatus struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name"`
	Node  int    `json:"node"`
	Key   string `json:"key,omitempty"`
	Bot   bool   `json:"bot,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	// Ping is in tics.
	Ping uint32 `json:"ping"`
}

// Status must be called from the goroutine driving the server.
func (s *Server) Status() Status {
	st := Status{
		Name:      s.cfg.Name,
		GameTic:   s.gametic,
		InLevel:   s.game.InLevel(),
		LevelTime: s.game.LevelTime(),
		Nodes:     len(s.remoteNodes()),
		MaxPing:   s.cfg.MaxPing,
	}
	for _, p := range s.reg.InGamePlayers() {
		player := s.reg.Player(p)
		ps := PlayerStatus{
			Slot:  p,
			Name:  player.Name,
			Node:  player.Node,
			Bot:   player.Bot,
			Admin: player.Admin,
			Ping:  s.Ping(p),
		}
		if !player.Bot {
			ps.Key = auth.KeyID(player.PublicKey)
		}
		st.Players = append(st.Players, ps)
	}
	return st
}
