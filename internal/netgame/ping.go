package netgame

import (
	"context"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/xcmd"
)

// pingTable accumulates per-player lag between the once-a-second updates.
// Values are in tics.
type pingTable struct {
	accum    [protocol.MaxPlayers]uint32
	samples  uint32
	pings    [protocol.MaxPlayers]uint32
	overTime [protocol.MaxPlayers]int
	// next is the wall tic of the next published update.
	next tics.Tic
}

// nextSecond is the first whole second after t.
func nextSecond(t tics.Tic) tics.Tic {
	return t - t%tics.Rate + tics.Rate
}

// lag is how far node's acknowledgement trails the simulation.
func (s *Server) lag(node int) tics.Tic {
	if node <= 0 {
		return 0
	}
	n := s.reg.Node(node)
	if n.NetTics >= s.gametic {
		return 0
	}
	return s.gametic - n.NetTics
}

// updatePingTable samples lag every frame and publishes averages once a
// second. The fastest remote player sets the input delay of local players.
func (s *Server) updatePingTable(ctx context.Context) {
	if s.gametime >= s.ping.next {
		s.pingUpdate(ctx)
		s.ping.next = nextSecond(s.gametime)
	}

	fastest := tics.Tic(0)
	found := false
	for _, p := range s.reg.InGamePlayers() {
		player := s.reg.Player(p)
		if player.Bot || player.Node <= 0 {
			continue
		}
		lag := s.lag(player.Node)
		s.ping.accum[p] += uint32(lag)
		if !found || lag < fastest {
			fastest = lag
			found = true
		}
	}
	s.lowestLag = max(int(fastest), s.cfg.MinDelay)
	if s.lowestLag > 0 {
		s.lowestLag = min(s.lowestLag, ticcmd.MaxGentlemenDelay)
	}
	for _, p := range s.reg.NodePlayers(0) {
		s.ping.accum[p] += uint32(fastest)
	}
	s.ping.samples++
}

func (s *Server) pingUpdate(ctx context.Context) {
	samples := max(s.ping.samples, 1)
	for p := range s.ping.pings {
		s.ping.pings[p] = s.ping.accum[p] / samples
		s.ping.accum[p] = 0
	}
	s.ping.samples = 0

	if s.cfg.MaxPing > 0 {
		var laggers []int
		nonlaggers := 0
		for _, p := range s.reg.InGamePlayers() {
			player := s.reg.Player(p)
			if player.Bot || player.Node <= 0 {
				continue
			}
			settled := s.gametic-player.JoinTic > 10*tics.Rate
			if settled && tics.Tic(s.ping.pings[p]) > s.cfg.MaxPing {
				laggers = append(laggers, p)
			} else {
				nonlaggers++
			}
		}
		over := [protocol.MaxPlayers]bool{}
		for _, p := range laggers {
			over[p] = true
		}
		for p := range s.ping.overTime {
			if !over[p] {
				s.ping.overTime[p] = 0
			}
		}
		// Laggers are only kicked while someone is under the limit.
		if nonlaggers > 0 {
			for _, p := range laggers {
				s.ping.overTime[p]++
				if s.ping.overTime[p] >= s.cfg.PingTimeout {
					s.ping.overTime[p] = 0
					s.sendKick(p, xcmd.KickPingHigh, "")
				}
			}
		}
	}

	table := protocol.PingTable{MaxPing: uint32(s.cfg.MaxPing)}
	copy(table.Pings[:], s.ping.pings[:])
	payload := protocol.AppendPingTable(nil, table)
	for _, node := range s.remoteNodes() {
		s.sendLogged(node, protocol.KindPing, payload)
	}
}

// Ping returns the last published average lag of player p in tics.
func (s *Server) Ping(p int) uint32 {
	if !registry.ValidPlayer(p) {
		return 0
	}
	return s.ping.pings[p]
}
