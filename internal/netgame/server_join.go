package netgame

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/google/uuid"

	"kartsync/server/internal/auth"
	"kartsync/server/internal/join"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/snapshot"
	"kartsync/server/internal/telemetry"
	"kartsync/server/internal/xcmd"
	"kartsync/server/logging"
	"kartsync/server/logging/lifecycle"
	"kartsync/server/logging/resync"
	"kartsync/server/logging/security"
)

func (s *Server) handleAskInfo(ctx context.Context, node int, pkt protocol.Packet) error {
	ask, err := protocol.DecodeAskInfo(pkt.Payload)
	if err != nil {
		s.closeAway(node)
		return err
	}
	settings := s.admission.Settings()
	info := protocol.ServerInfo{
		Marker:        protocol.Marker,
		PacketVersion: protocol.PacketVersion,
		Application:   protocol.Application,
		Version:       protocol.Version,
		Subversion:    protocol.Subversion,
		Players:       uint8(len(s.reg.InGamePlayers())),
		MaxPlayer:     uint8(s.admission.MaxPlayers()),
		RefuseReason:  protocol.InfoJoinable,
		ServerName:    s.cfg.Name,
		Time:          ask.Time,
		Dedicated:     settings.Dedicated,
	}
	switch {
	case !settings.AllowJoin:
		info.RefuseReason = protocol.InfoJoinsDisabled
	case s.reg.ConnectedPlayers() >= s.admission.MaxPlayers():
		info.RefuseReason = protocol.InfoFull
	}
	s.sendLogged(node, protocol.KindServerInfo, protocol.AppendServerInfo(nil, info))
	if !s.reg.Node(node).NeedsAuth {
		s.closeAway(node)
	}
	return nil
}

// handleClientKey stores the joiner's keys and answers with a fresh
// challenge they must sign in ClientJoin.
func (s *Server) handleClientKey(ctx context.Context, node int, pkt protocol.Packet) error {
	key, err := protocol.DecodeClientKey(pkt.Payload)
	if err != nil {
		s.closeAway(node)
		return err
	}
	challenge, err := auth.GenerateChallenge(s.cfg.Random, s.wall(), s.cfg.ServerIP)
	if err != nil {
		s.closeAway(node)
		return fmt.Errorf("generate challenge: %w", err)
	}
	s.replay.Remember(challenge[:])

	n := s.reg.Node(node)
	n.LastReceivedKey = key.Keys
	n.LastSentChallenge = challenge
	n.NeedsAuth = true
	n.FreezeTimeout = s.gametime + s.cfg.JoinTimeout
	return s.send(node, protocol.KindServerChallenge, protocol.AppendChallenge(nil, challenge))
}

func (s *Server) handleClientJoin(ctx context.Context, node int, pkt protocol.Packet) error {
	cfg, err := protocol.DecodeClientConfig(pkt.Payload)
	if err != nil {
		s.refuse(ctx, node, join.ReasonIncompatible)
		return err
	}
	n := s.reg.Node(node)
	addr := s.tr.Addr(node).Addr()
	s.refreshBan(n, addr)

	local := min(int(cfg.LocalPlayers), protocol.MaxSplitscreen)
	for split := 0; split < local; split++ {
		if sig := cfg.Responses[split]; !sig.IsZero() && s.replay.Seen(sig[:]) {
			security.SignatureFailed(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), security.SignatureFailedPayload{
				Reason: "replayed join signature",
				Key:    auth.KeyID(n.LastReceivedKey[split]),
			}, "")
			s.refuse(ctx, node, join.ReasonBadSignature)
			return nil
		}
	}

	accepted, refusal := s.admission.Check(join.Request{Node: node, Addr: addr, Config: cfg, Now: s.wall()})
	if refusal != nil {
		s.refuse(ctx, node, refusal.Reason)
		return nil
	}

	newNode := !n.InGame
	if newNode {
		if err := s.reg.AddNode(node, s.gametic); err != nil {
			return err
		}
		n.FreezeTimeout = s.gametime + s.cfg.JoinTimeout
		if err := s.sendServerConfig(node); err != nil {
			s.logger.Printf("%v", err)
			n.InGame = false
			s.refuse(ctx, node, join.ReasonConfigFailed)
			return nil
		}
		lifecycle.NodeAdded(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), lifecycle.NodeAddedPayload{
			Addr:    s.tr.Addr(node).String(),
			Players: accepted.Waiting,
		}, uuid.NewString())
	}
	for split := 0; split < local; split++ {
		if sig := cfg.Responses[split]; !sig.IsZero() {
			s.replay.Remember(sig[:])
		}
	}

	if accepted.Waiting == 0 {
		return nil
	}
	if newNode {
		if err := s.sendSaveGame(ctx, node, false); err != nil {
			return err
		}
	}
	s.addWaitingPlayers(node, accepted)
	s.admission.NoteJoin()
	s.joining = true
	return nil
}

// refreshBan copies the ban list's verdict for addr onto the node so the
// checklist sees bans added since the node first spoke.
func (s *Server) refreshBan(n *registry.Node, addr netip.Addr) {
	entry, ok := s.bans.Lookup(addr)
	if !ok {
		n.Ban = registry.BanStatus{}
		return
	}
	n.Ban = registry.BanStatus{Active: true, Reason: entry.Reason, Expires: entry.Unban}
}

// refuse tells node why it cannot join. A full server keeps the node so
// the client can keep asking for a slot.
func (s *Server) refuse(ctx context.Context, node int, reason string) {
	s.sendLogged(node, protocol.KindServerRefuse, protocol.AppendServerRefuse(nil, protocol.ServerRefuse{Reason: reason}))
	s.metrics.Add(telemetry.KeyJoinsRefused, 1)
	lifecycle.JoinRefused(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), lifecycle.JoinRefusedPayload{
		Addr:   s.tr.Addr(node).String(),
		Reason: reason,
	}, "")
	n := s.reg.Node(node)
	if n.InGame {
		return
	}
	if join.ParseRefusal(reason).Retryable() {
		n.NeedsAuth = true
		n.FreezeTimeout = s.gametime + s.cfg.JoinTimeout
		return
	}
	s.closeAway(node)
}

func (s *Server) sendServerConfig(node int) error {
	serverPlayer := uint8(0xFF)
	if registry.ValidPlayer(s.serverPlayer) {
		serverPlayer = uint8(s.serverPlayer)
	}
	cfg := protocol.ServerConfig{
		Version:        protocol.Version,
		Subversion:     protocol.Subversion,
		ServerPlayer:   serverPlayer,
		MaxPlayer:      uint8(s.admission.MaxPlayers()),
		ClientNode:     uint8(node),
		AllowNewPlayer: s.admission.Settings().AllowJoin,
		GameTic:        uint32(s.gametic),
		InLevel:        s.game.InLevel(),
		ServerName:     s.cfg.Name,
	}
	return s.send(node, protocol.KindServerConfig, protocol.AppendServerConfig(nil, cfg))
}

// addWaitingPlayers reserves slots for the node's new players and queues
// the commands that put them in game.
func (s *Server) addWaitingPlayers(node int, accepted join.Accepted) {
	n := s.reg.Node(node)
	for i := 0; i < accepted.Waiting; i++ {
		p := s.reg.FreeSlot(true)
		if p == registry.NoPlayer {
			s.logger.Printf("node %d: no slot for %q", node, accepted.Names[i])
			break
		}
		split := n.PlayersPerNode
		if err := s.reg.MapNodeToPlayer(node, split, p); err != nil {
			s.logger.Printf("node %d: %v", node, err)
			break
		}
		s.issue(xcmd.IDAddPlayer, xcmd.AddPlayer{
			Node:   uint8(node),
			Player: uint8(p),
			Split:  uint8(split),
			Name:   accepted.Names[i],
			Key:    accepted.Keys[i],
			Admin:  s.adminKey(accepted.Keys[i]),
		}.Params())
	}
	n.Waiting = 0
}

func (s *Server) adminKey(key protocol.PublicKey) bool {
	if key.IsZero() {
		return false
	}
	return slices.Contains(s.cfg.AdminKeys, auth.KeyID(key))
}

// sendSaveGame streams the state at gametic to node. The node's freeze
// deadline grows with the snapshot size.
func (s *Server) sendSaveGame(ctx context.Context, node int, resending bool) error {
	data, err := s.game.Save()
	if err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	state := snapshot.State{Tic: s.gametic, Game: data}
	for _, p := range s.reg.InGamePlayers() {
		player := s.reg.Player(p)
		nodeByte := uint8(player.Node)
		if player.Bot {
			nodeByte = botNode
		}
		state.Players = append(state.Players, snapshot.PlayerRecord{
			Slot:  uint8(p),
			Node:  nodeByte,
			Split: uint8(player.Split),
			Admin: player.Admin,
			Bot:   player.Bot,
			Name:  player.Name,
			Key:   player.PublicKey,
		})
	}
	raw := snapshot.Encode(state)
	packed, err := snapshot.Pack(raw)
	if err != nil {
		return err
	}
	fragments := snapshot.Fragment(s.gametic, packed)
	for _, f := range fragments {
		if err := s.send(node, protocol.KindSaveGameFragment, protocol.AppendSaveGameFragment(nil, f)); err != nil {
			return err
		}
	}

	n := s.reg.Node(node)
	n.SendingSaveGame = true
	s.saves[node] = fragments
	wait := s.cfg.JoinTimeout + snapshot.FreezeExtension(len(packed))
	if resending {
		n.ResendingSaveGame = true
		n.ResyncDeadline = s.gametime + wait
	}
	n.FreezeTimeout = s.gametime + wait
	resync.SnapshotSent(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), resync.SnapshotPayload{
		Tic:       uint64(s.gametic),
		Bytes:     len(raw),
		Fragments: len(fragments),
		Packed:    len(packed),
	})
	return nil
}

// resendFragments repeats the fragments of node's pending snapshot named
// in req, or all of them. Requests for an older transfer are ignored.
func (s *Server) resendFragments(ctx context.Context, node int, req protocol.SaveGameRequest) error {
	pending := s.saves[node]
	if len(req.Offsets) > 0 && req.Tic != pending[0].Tic {
		return nil
	}
	resent := 0
	for _, f := range pending {
		if len(req.Offsets) > 0 && !slices.Contains(req.Offsets, f.Offset) {
			continue
		}
		if err := s.send(node, protocol.KindSaveGameFragment, protocol.AppendSaveGameFragment(nil, f)); err != nil {
			return err
		}
		resent++
	}
	resync.FragmentsResent(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), resync.FragmentsPayload{
		Tic:       uint64(pending[0].Tic),
		Requested: len(req.Offsets),
		Resent:    resent,
	})
	return nil
}

// ban records a kick that carries a ban against the node's address.
func (s *Server) ban(ctx context.Context, node int, name string, k xcmd.Kick) {
	addr := s.tr.Addr(node).Addr()
	if !addr.IsValid() {
		return
	}
	var until time.Time
	permanent := k.Message.PermanentBan()
	if !permanent {
		until = s.wall().Add(s.cfg.KickTime)
	}
	if err := s.bans.Add(addr, 0, name, k.Reason, until); err != nil {
		s.logger.Printf("ban %s: %v", addr, err)
		return
	}
	if s.cfg.BanFile != "" {
		if err := s.bans.SaveFile(s.cfg.BanFile); err != nil {
			s.logger.Printf("save bans: %v", err)
		}
	}
	security.BanApplied(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), security.BanPayload{
		Addr:      addr.String(),
		Reason:    k.Reason,
		Until:     until,
		Permanent: permanent,
	})
}
