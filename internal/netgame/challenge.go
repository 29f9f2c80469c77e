package netgame

import (
	"context"

	"kartsync/server/internal/auth"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/xcmd"
	"kartsync/server/logging"
	"kartsync/server/logging/security"
)

// crossed reports whether leveltime passed mark since the previous frame.
// Several tics may run per frame, so exact equality is not enough.
func crossed(prev, now, mark tics.Tic) bool {
	return prev < mark && now >= mark
}

// updateChallenges drives the challenge-all round off level time: the
// challenge goes out at the start mark, players who did not answer are
// kicked at the second mark and every signature is relayed at the third.
func (s *Server) updateChallenges(ctx context.Context) {
	if !s.game.InLevel() {
		s.lastLevelTime = 0
		return
	}
	lt := s.game.LevelTime()
	prev := s.lastLevelTime
	if lt < prev {
		prev = 0
	}
	s.lastLevelTime = lt

	if crossed(prev, lt, auth.ChallengeAllStart) {
		s.startChallengeRound(ctx)
	}
	if crossed(prev, lt, auth.ChallengeAllKickUnresponsive) {
		for _, p := range s.round.Unverified(s.reg) {
			s.signatureFailed(ctx, p, "no response to challenge")
		}
	}
	if crossed(prev, lt, auth.ChallengeAllSendResults) && s.round != nil {
		payload := protocol.AppendResultsAll(nil, s.round.Results(s.reg))
		for _, node := range s.remoteNodes() {
			s.sendLogged(node, protocol.KindResultsAll, payload)
		}
	}
}

func (s *Server) startChallengeRound(ctx context.Context) {
	secret, err := auth.GenerateChallenge(s.cfg.Random, s.wall(), s.cfg.ServerIP)
	if err != nil {
		s.logger.Printf("challenge-all: %v", err)
		return
	}
	s.round = auth.NewServerRound(secret, s.reg)

	if len(s.cfg.LocalPlayers) > 0 {
		resp, err := auth.SignAll(s.cfg.LocalPlayers, secret)
		if err != nil {
			s.logger.Printf("challenge-all: sign local players: %v", err)
		} else {
			s.round.Respond(s.reg, 0, resp)
		}
	}

	payload := protocol.AppendChallenge(nil, secret)
	for _, node := range s.remoteNodes() {
		s.sendLogged(node, protocol.KindChallengeAll, payload)
	}
	security.ChallengeIssued(ctx, s.pub, uint64(s.gametic), security.ChallengePayload{
		Players: len(s.reg.InGamePlayers()),
	}, s.round.ID.String())
}

func (s *Server) handleResponseAll(ctx context.Context, node int, pkt protocol.Packet) error {
	resp, err := protocol.DecodeResponseAll(pkt.Payload)
	if err != nil {
		return err
	}
	if s.round == nil {
		return auth.ErrNoRoundInProcess
	}
	for _, p := range s.round.Respond(s.reg, node, resp) {
		s.signatureFailed(ctx, p, "bad challenge response")
	}
	return nil
}

func (s *Server) signatureFailed(ctx context.Context, p int, reason string) {
	trace := ""
	if s.round != nil {
		trace = s.round.ID.String()
	}
	security.SignatureFailed(ctx, s.pub, uint64(s.gametic), logging.PlayerRef(p), security.SignatureFailedPayload{
		Reason: reason,
		Key:    auth.KeyID(s.reg.Player(p).PublicKey),
	}, trace)
	s.sendKick(p, xcmd.KickSigFail, "")
}

// remoteNodes lists in-game nodes other than the host that carry players.
func (s *Server) remoteNodes() []int {
	var out []int
	for _, node := range s.reg.InGameNodes() {
		if node == 0 || s.reg.NodeToSplitPlayer(node, 0) == registry.NoPlayer {
			continue
		}
		out = append(out, node)
	}
	return out
}
