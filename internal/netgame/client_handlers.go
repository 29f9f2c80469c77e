package netgame

import (
	"context"
	"errors"
	"fmt"

	"kartsync/server/internal/auth"
	"kartsync/server/internal/consistency"
	"kartsync/server/internal/join"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/snapshot"
	"kartsync/server/internal/tics"
	"kartsync/server/logging"
	"kartsync/server/logging/network"
	"kartsync/server/logging/resync"
)

func (c *Client) handleServerInfo(ctx context.Context, pkt protocol.Packet) error {
	if c.machine.State() != join.Searching {
		return nil
	}
	info, err := protocol.DecodeServerInfo(pkt.Payload)
	if err != nil {
		return err
	}
	if info.Application != protocol.Application || info.Version != protocol.Version || info.Subversion != protocol.Subversion {
		c.abort(ctx, join.Cancel, fmt.Sprintf("Incompatible server version %d.%d", info.Version, info.Subversion))
		return nil
	}
	c.info = info
	if err := c.fire(ctx, join.Found); err != nil {
		return err
	}
	return c.checkFiles(ctx)
}

// checkFiles walks the machine through the add-on check up to sending the
// key.
func (c *Client) checkFiles(ctx context.Context) error {
	if c.cfg.Files == nil {
		if err := c.fire(ctx, join.FilesOK); err != nil {
			return err
		}
	} else {
		missing, err := c.cfg.Files.Missing(c.info)
		if err != nil {
			c.abort(ctx, join.Refused, err.Error())
			return nil
		}
		if len(missing) == 0 {
			if err := c.fire(ctx, join.FilesOK); err != nil {
				return err
			}
		} else {
			if err := c.fire(ctx, join.FilesMissing); err != nil {
				return err
			}
			if err := c.cfg.Files.Fetch(ctx, missing); err != nil {
				c.abort(ctx, join.Refused, "Failed to download files:\n"+err.Error())
				return nil
			}
			if err := c.fire(ctx, join.Downloaded); err != nil {
				return err
			}
		}
	}
	if err := c.fire(ctx, join.Loaded); err != nil {
		return err
	}
	return c.fire(ctx, join.SetUp)
}

func (c *Client) handleServerRefuse(ctx context.Context, pkt protocol.Packet) error {
	refusal, err := protocol.DecodeServerRefuse(pkt.Payload)
	if err != nil {
		return err
	}
	parsed := join.ParseRefusal(refusal.Reason)
	if parsed.Retryable() && c.machine.State() == join.WaitingJoinResponse {
		from := c.machine.State()
		if err := c.machine.WaitForSlot(); err != nil {
			return err
		}
		c.joinState(ctx, from, c.machine.State(), "server full")
		return nil
	}
	c.abort(ctx, join.Refused, parsed.Message)
	return nil
}

func (c *Client) handleServerChallenge(ctx context.Context, pkt protocol.Packet) error {
	state := c.machine.State()
	if state != join.WaitingChallenge && state != join.AskingToJoin && state != join.WaitingJoinResponse {
		return errUnexpected
	}
	challenge, err := protocol.DecodeChallenge(pkt.Payload)
	if err != nil {
		return err
	}
	if res := auth.ShouldSign(challenge[:], c.wall(), c.serverAddr); res != auth.SignOK {
		c.abort(ctx, join.Refused, res.JoinMessage())
		return nil
	}
	if !c.replay.Remember(challenge[:]) {
		c.abort(ctx, join.Refused, "Server repeated an old challenge.")
		return nil
	}
	c.challenge = challenge
	if state != join.WaitingChallenge {
		// Answer to a retried key; the next join request signs it.
		return nil
	}
	return c.fire(ctx, join.Challenge)
}

func (c *Client) handleServerConfig(ctx context.Context, pkt protocol.Packet) error {
	if state := c.machine.State(); state != join.AskingToJoin && state != join.WaitingJoinResponse {
		return errUnexpected
	}
	cfg, err := protocol.DecodeServerConfig(pkt.Payload)
	if err != nil {
		return err
	}
	c.myNode = int(cfg.ClientNode)
	c.serverPlayer = registry.NoPlayer
	if registry.ValidPlayer(int(cfg.ServerPlayer)) {
		c.serverPlayer = int(cfg.ServerPlayer)
	}
	c.gametic = tics.Tic(cfg.GameTic)
	c.receiver.Reset(c.gametic)
	c.startDownload()
	c.addedToGame = false
	return c.fire(ctx, join.Config)
}

func (c *Client) handleSaveGameFragment(ctx context.Context, pkt protocol.Packet) error {
	if c.machine.State() != join.DownloadingSaveGame && !c.redownloading {
		return errUnexpected
	}
	fragment, err := protocol.DecodeSaveGameFragment(pkt.Payload)
	if err != nil {
		return err
	}
	done, err := c.assembler.Add(fragment)
	if err != nil {
		return err
	}
	c.saveProgress = c.gametime
	if !done {
		return nil
	}
	packed, _, err := c.assembler.Result()
	c.assembler.Reset()
	if err != nil {
		return err
	}

	if err := c.loadSnapshot(packed); err != nil {
		c.abort(ctx, join.Refused, "Can't load the level!\n("+err.Error()+")")
		return nil
	}
	if c.redownloading && c.keysChanged() {
		c.sigfail(ctx, "Gamestate reload contained new keys")
		return nil
	}
	c.sendLogged(c.serverNode, protocol.KindReceivedGamestate, nil)

	if c.redownloading {
		c.redownloading = false
		resync.ResyncCompleted(ctx, c.pub, uint64(c.gametic), logging.NodeRef(c.myNode))
		return nil
	}
	return c.fire(ctx, join.SaveGameLoaded)
}

func (c *Client) keys() [protocol.MaxPlayers]protocol.PublicKey {
	var out [protocol.MaxPlayers]protocol.PublicKey
	for _, p := range c.reg.InGamePlayers() {
		out[p] = c.reg.Player(p).PublicKey
	}
	return out
}

// keysChanged reports a slot that was occupied before the reload and
// still is, but under another key. Joins and leaves in between are fine.
func (c *Client) keysChanged() bool {
	after := c.keys()
	for p, before := range c.priorKeys {
		if before.IsZero() || after[p].IsZero() {
			continue
		}
		if before != after[p] {
			return true
		}
	}
	return false
}

// loadSnapshot replaces the game and the player table with the server's
// state and restarts simulation at its tic.
func (c *Client) loadSnapshot(packed []byte) error {
	raw, err := snapshot.Unpack(packed)
	if err != nil {
		return err
	}
	state, err := snapshot.Decode(raw)
	if err != nil {
		return err
	}
	if err := c.game.Load(state.Game); err != nil {
		return err
	}

	*c.reg = *registry.New()
	for _, rec := range state.Players {
		p := int(rec.Slot)
		player := c.reg.Player(p)
		if player == nil {
			return fmt.Errorf("%w: %d", registry.ErrPlayerRange, p)
		}
		if rec.Bot {
			*player = registry.Player{Node: registry.NoPlayer, InGame: true, Bot: true, Name: rec.Name}
			continue
		}
		if err := c.reg.MapNodeToPlayer(int(rec.Node), int(rec.Split), p); err != nil {
			return err
		}
		player.InGame = true
		player.Name = rec.Name
		player.PublicKey = rec.Key
		player.Admin = rec.Admin
		player.JoinTic = state.Tic
	}
	if c.myNode != noNode && c.reg.NodeToSplitPlayer(c.myNode, 0) != registry.NoPlayer {
		c.addedToGame = true
	}

	c.gametic = state.Tic
	if c.receiver.NeededTic < state.Tic {
		c.receiver.Reset(state.Tic)
	}
	c.text.ClearBefore(state.Tic)
	c.consist.Store(state.Tic, consistency.Hash(c.game.ConsistencyState()))
	return nil
}

func (c *Client) handleServerTics(ctx context.Context, pkt protocol.Packet) error {
	st, err := protocol.DecodeServerTics(pkt.Payload)
	if err != nil {
		return err
	}
	if c.receiver.Accept(st, c.receiver.NeededTic, c.gametic) || !c.receiver.PacketMissed {
		return nil
	}
	network.PacketMissed(ctx, c.pub, uint64(c.gametic), logging.NodeRef(c.serverNode), network.PacketMissedPayload{
		Needed: uint64(c.receiver.NeededTic),
		Start:  uint64(tics.Expand(st.StartTic, c.receiver.NeededTic)),
	})
	return nil
}

func (c *Client) handlePing(ctx context.Context, pkt protocol.Packet) error {
	table, err := protocol.DecodePingTable(pkt.Payload)
	if err != nil {
		return err
	}
	c.pings = table.Pings
	c.maxPing = table.MaxPing
	return nil
}

// handleWillResend prepares for a resync snapshot; the simulation stops
// until it has been loaded.
func (c *Client) handleWillResend(ctx context.Context, pkt protocol.Packet) error {
	if err := protocol.DecodeEmpty(pkt.Payload); err != nil {
		return err
	}
	if !c.redownloading {
		c.priorKeys = c.keys()
	}
	c.redownloading = true
	c.startDownload()
	c.sendLogged(c.serverNode, protocol.KindCanReceiveGamestate, nil)
	return nil
}

func (c *Client) handleChallengeAll(ctx context.Context, pkt protocol.Packet) error {
	secret, err := protocol.DecodeChallenge(pkt.Payload)
	if err != nil {
		return err
	}
	if res := auth.ShouldSign(secret[:], c.wall(), c.serverAddr); res != auth.SignOK {
		c.sigfail(ctx, res.SigfailMessage())
		return nil
	}
	if !c.replay.Remember(secret[:]) {
		c.sigfail(ctx, "Server repeated an old challenge")
		return nil
	}
	c.round.Challenge(secret)
	resp, err := auth.SignAll(c.cfg.Profiles, secret)
	if err != nil {
		return err
	}
	return c.send(c.serverNode, protocol.KindResponseAll, protocol.AppendResponseAll(nil, resp))
}

func (c *Client) handleResultsAll(ctx context.Context, pkt protocol.Packet) error {
	results, err := protocol.DecodeResultsAll(pkt.Payload)
	if err != nil {
		return err
	}
	err = c.round.Verify(c.reg, results)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrNoRoundInProcess):
		return err
	default:
		c.sigfail(ctx, err.Error())
		return nil
	}
}

func (c *Client) handleServerShutdown(ctx context.Context, pkt protocol.Packet) error {
	c.abort(ctx, join.Refused, "Server has shutdown")
	return nil
}

func (c *Client) handleServerTimeout(ctx context.Context, pkt protocol.Packet) error {
	c.abort(ctx, join.Timeout, "Server Timeout")
	return nil
}
