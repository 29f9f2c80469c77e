package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/tics"
)

// Leveltime schedule of a challenge-all round, in tics.
const (
	ChallengeAllStart            = 5 * tics.Rate
	ChallengeAllKickUnresponsive = 10 * tics.Rate
	ChallengeAllSendResults      = 12 * tics.Rate
	ChallengeAllClientCutoff     = 15 * tics.Rate
)

var (
	ErrInvalidResult    = errors.New("auth: server sent invalid client signature")
	ErrMissingResults   = errors.New("auth: didn't receive client signatures")
	ErrNoRoundInProcess = errors.New("auth: no challenge round in progress")
)

// ServerRound collects every player's signature over one shared nonce.
// Keys are captured when the challenge goes out; a player whose key differs
// by the time results are sent never saw this challenge and is left alone.
type ServerRound struct {
	ID       uuid.UUID
	Secret   protocol.Challenge
	known    [protocol.MaxPlayers]protocol.PublicKey
	received [protocol.MaxPlayers]protocol.Signature
}

// NewServerRound records the keys of every player hosted by an in-game node.
func NewServerRound(secret protocol.Challenge, reg *registry.Registry) *ServerRound {
	round := &ServerRound{ID: uuid.New(), Secret: secret}
	for _, n := range reg.InGameNodes() {
		for _, p := range reg.NodePlayers(n) {
			round.known[p] = reg.Player(p).PublicKey
		}
	}
	return round
}

// Known returns the key recorded for p when the challenge went out.
func (r *ServerRound) Known(p int) protocol.PublicKey {
	if r == nil || !registry.ValidPlayer(p) {
		return protocol.PublicKey{}
	}
	return r.known[p]
}

// Signature returns the verified signature stored for p.
func (r *ServerRound) Signature(p int) protocol.Signature {
	if r == nil || !registry.ValidPlayer(p) {
		return protocol.Signature{}
	}
	return r.received[p]
}

// Respond checks one node's response. It returns the players whose
// signature failed; they must be kicked. Guests, players that were not
// present at challenge time and players whose key changed are skipped.
func (r *ServerRound) Respond(reg *registry.Registry, node int, resp protocol.ResponseAll) []int {
	if r == nil {
		return nil
	}
	var failed []int
	for split := 0; split < protocol.MaxSplitscreen; split++ {
		p := reg.NodeToSplitPlayer(node, split)
		if p == registry.NoPlayer {
			continue
		}
		player := reg.Player(p)
		if player.Guest() {
			continue
		}
		known := r.known[p]
		if known.IsZero() || known != player.PublicKey {
			continue
		}
		if !Verify(known, r.Secret[:], resp.Signatures[split]) {
			failed = append(failed, p)
			continue
		}
		r.received[p] = resp.Signatures[split]
	}
	return failed
}

// Unverified lists players who owed a response and never sent one. Players
// on the local node are trusted.
func (r *ServerRound) Unverified(reg *registry.Registry) []int {
	if r == nil {
		return nil
	}
	var out []int
	for _, p := range reg.InGamePlayers() {
		player := reg.Player(p)
		if !r.received[p].IsZero() || player.Guest() || player.Bot {
			continue
		}
		if r.known[p].IsZero() || r.known[p] != player.PublicKey {
			continue
		}
		if player.Node == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Results packs the signatures of players still in game.
func (r *ServerRound) Results(reg *registry.Registry) protocol.ResultsAll {
	var out protocol.ResultsAll
	if r == nil {
		return out
	}
	for _, p := range reg.InGamePlayers() {
		out.Signatures[p] = r.received[p]
	}
	return out
}

// ClientRound is a client's view of a challenge-all round.
type ClientRound struct {
	expecting bool
	secret    protocol.Challenge
	known     [protocol.MaxPlayers]protocol.PublicKey
}

// Expect arms the round; results are required before the cutoff.
func (c *ClientRound) Expect() {
	c.expecting = true
}

// Expecting reports whether results are still owed.
func (c *ClientRound) Expecting() bool {
	return c.expecting
}

// Snapshot notes the key of every non-guest player present now.
func (c *ClientRound) Snapshot(reg *registry.Registry) {
	c.known = [protocol.MaxPlayers]protocol.PublicKey{}
	for _, p := range reg.InGamePlayers() {
		player := reg.Player(p)
		if player.Guest() {
			continue
		}
		c.known[p] = player.PublicKey
	}
}

// Known returns the key noted for p at snapshot time.
func (c *ClientRound) Known(p int) protocol.PublicKey {
	if !registry.ValidPlayer(p) {
		return protocol.PublicKey{}
	}
	return c.known[p]
}

// Challenge stores the nonce that results will be checked against.
func (c *ClientRound) Challenge(secret protocol.Challenge) {
	c.secret = secret
}

// Verify checks relayed signatures. Absent players, guests, players who
// arrived after the snapshot and players whose key changed since are not
// enforced. The round is finished on return unless no round was expected.
func (c *ClientRound) Verify(reg *registry.Registry, results protocol.ResultsAll) error {
	if !c.expecting {
		return ErrNoRoundInProcess
	}
	defer c.finish()
	for p := 0; p < protocol.MaxPlayers; p++ {
		player := reg.Player(p)
		if !player.InGame || player.Guest() {
			continue
		}
		known := c.known[p]
		if known.IsZero() || known != player.PublicKey {
			continue
		}
		if !Verify(known, c.secret[:], results.Signatures[p]) {
			return fmt.Errorf("%w: player %d key %s", ErrInvalidResult, p, KeyID(known))
		}
	}
	return nil
}

func (c *ClientRound) finish() {
	c.expecting = false
	c.secret = protocol.Challenge{}
}

// SignAll answers a challenge-all for every local split. Guests leave their
// slot zeroed.
func SignAll(profiles []Profile, secret protocol.Challenge) (protocol.ResponseAll, error) {
	var resp protocol.ResponseAll
	for split, profile := range profiles {
		if split >= protocol.MaxSplitscreen {
			break
		}
		sig, err := profile.Key.Sign(secret[:])
		if err != nil {
			return protocol.ResponseAll{}, fmt.Errorf("split %d: %w", split, err)
		}
		resp.Signatures[split] = sig
	}
	return resp, nil
}
