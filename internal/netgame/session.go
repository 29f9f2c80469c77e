package netgame

import (
	"context"
	"fmt"

	"kartsync/server/internal/auth"
	"kartsync/server/internal/consistency"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/telemetry"
	"kartsync/server/internal/ticbuf"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/xcmd"
	"kartsync/server/logging"
	"kartsync/server/logging/lifecycle"
	"kartsync/server/logging/security"
)

// botNode is the node byte of an XD_ADDPLAYER that creates a bot.
const botNode = 0xFF

// side is what differs between server and client when a text command runs.
type side interface {
	shutdownRequested()
	beforeKick(ctx context.Context, target int, k xcmd.Kick)
	afterRemove(ctx context.Context, node int, empty bool)
	afterAdd(ctx context.Context, a xcmd.AddPlayer)
}

// core is the simulation state both ends keep in lockstep: the command
// ring, the text store, the player registry and the consistency history.
type core struct {
	link

	reg     *registry.Registry
	ring    *ticbuf.Ring
	text    *ticbuf.TextStore
	consist consistency.Ring
	xcmds   *xcmd.Registry
	game    Game
	side    side

	gametic      tics.Tic
	serverPlayer int

	// execCtx is only set while a tic's text commands run.
	execCtx context.Context
}

func newCore(l link, game Game, s side) *core {
	c := &core{
		link:         l,
		reg:          registry.New(),
		ring:         ticbuf.NewRing(),
		text:         ticbuf.NewTextStore(),
		xcmds:        xcmd.NewRegistry(),
		game:         game,
		side:         s,
		serverPlayer: registry.NoPlayer,
	}
	// Ids are distinct constants; Register cannot fail here.
	_ = c.xcmds.Register(xcmd.IDKick, "kick", c.gotKick)
	_ = c.xcmds.Register(xcmd.IDAddPlayer, "addplayer", c.gotAddPlayer)
	_ = c.xcmds.Register(xcmd.IDRemovePlayer, "removeplayer", c.gotRemovePlayer)
	return c
}

// runTic executes the text commands attached to gametic, then the
// simulation itself, and records the resulting consistency value.
func (c *core) runTic(ctx context.Context) {
	c.execCtx = ctx
	for _, entry := range c.text.Entries(c.gametic) {
		if !c.sourcePresent(entry.Source) {
			continue
		}
		if err := c.xcmds.Execute(entry.Data, int(entry.Source)); err != nil {
			c.logger.Printf("tic %d: text from source %d: %v", c.gametic, entry.Source, err)
		}
	}
	c.execCtx = nil

	cmds := c.ring.Slots(c.gametic, protocol.MaxPlayers)
	for p := range cmds {
		if !c.reg.Player(p).InGame {
			cmds[p] = ticcmd.Command{}
		}
	}
	c.game.RunTic(c.gametic, cmds)
	c.gametic++
	c.consist.Store(c.gametic, consistency.Hash(c.game.ConsistencyState()))
	c.metrics.Add(telemetry.KeyTicsRun, 1)
}

func (c *core) sourcePresent(source uint8) bool {
	if int(source) == protocol.ServerSource {
		return true
	}
	p := c.reg.Player(int(source))
	return p != nil && p.InGame
}

func (c *core) cmdCtx() context.Context {
	if c.execCtx != nil {
		return c.execCtx
	}
	return context.Background()
}

func (c *core) isAdmin(p int) bool {
	player := c.reg.Player(p)
	return player != nil && player.Admin
}

// numSlots is one past the highest slot that is in game or held by a node.
func (c *core) numSlots() int {
	for p := protocol.MaxPlayers - 1; p > 0; p-- {
		player := c.reg.Player(p)
		if player.InGame || player.Node != registry.NoPlayer {
			return p + 1
		}
	}
	return 1
}

func (c *core) gotKick(params []byte, player int) error {
	k, err := xcmd.DecodeKick(params)
	if err != nil {
		return err
	}
	target := int(k.Player)
	if !registry.ValidPlayer(target) {
		return fmt.Errorf("kick target %d out of range", target)
	}
	if player != xcmd.ServerSource && player != c.serverPlayer && !c.isAdmin(player) {
		c.logger.Printf("illegal kick command from player %d for player %d", player, target)
		target = player
		k = xcmd.Kick{Player: uint8(player), Message: xcmd.KickConFail}
	}
	if target == c.serverPlayer && c.isAdmin(player) {
		c.side.shutdownRequested()
		return nil
	}
	victim := c.reg.Player(target)
	if !victim.InGame && victim.Node == registry.NoPlayer {
		return nil
	}
	ctx := c.cmdCtx()
	c.logger.Printf("%s", k.Message.ChatText(victim.Name, k.Reason))
	security.KickIssued(ctx, c.pub, uint64(c.gametic), logging.PlayerRef(target), security.KickPayload{
		Message: k.Message.String(),
		Reason:  k.Reason,
		By:      player,
	})
	c.metrics.Add(telemetry.KeyKicks, 1)
	c.side.beforeKick(ctx, target, k)
	c.removePlayer(ctx, target, k.Message.Reason())
	return nil
}

func (c *core) gotAddPlayer(params []byte, player int) error {
	if player != xcmd.ServerSource {
		return fmt.Errorf("add player issued by player %d", player)
	}
	a, err := xcmd.DecodeAddPlayer(params)
	if err != nil {
		return err
	}
	p := int(a.Player)
	slot := c.reg.Player(p)
	if a.Node == botNode {
		if slot.Node != registry.NoPlayer {
			return fmt.Errorf("bot slot %d held by node %d", p, slot.Node)
		}
		*slot = registry.Player{Node: registry.NoPlayer, InGame: true, Bot: true, Name: a.Name, JoinTic: c.gametic}
	} else {
		if err := c.reg.MapNodeToPlayer(int(a.Node), int(a.Split), p); err != nil {
			return err
		}
		slot.InGame = true
		slot.Bot = false
		slot.Name = a.Name
		slot.PublicKey = a.Key
		slot.Admin = a.Admin
		slot.JoinTic = c.gametic
	}
	ctx := c.cmdCtx()
	lifecycle.PlayerJoined(ctx, c.pub, uint64(c.gametic), logging.PlayerRef(p), lifecycle.PlayerJoinedPayload{
		Node:  int(a.Node),
		Split: int(a.Split),
		Name:  a.Name,
		Key:   auth.KeyID(a.Key),
		Admin: a.Admin,
	})
	c.metrics.Store(telemetry.KeyPlayers, uint64(len(c.reg.InGamePlayers())))
	c.side.afterAdd(ctx, a)
	return nil
}

func (c *core) gotRemovePlayer(params []byte, player int) error {
	if player != xcmd.ServerSource {
		return fmt.Errorf("remove player issued by player %d", player)
	}
	r, err := xcmd.DecodeRemovePlayer(params)
	if err != nil {
		return err
	}
	if !registry.ValidPlayer(int(r.Player)) {
		return fmt.Errorf("remove target %d out of range", r.Player)
	}
	c.removePlayer(c.cmdCtx(), int(r.Player), r.Reason)
	return nil
}

func (c *core) removePlayer(ctx context.Context, p int, reason xcmd.RemoveReason) {
	node, empty := c.reg.RemovePlayer(p)
	lifecycle.PlayerRemoved(ctx, c.pub, uint64(c.gametic), logging.PlayerRef(p), lifecycle.PlayerRemovedPayload{
		Reason: reason.String(),
	})
	c.metrics.Store(telemetry.KeyPlayers, uint64(len(c.reg.InGamePlayers())))
	c.side.afterRemove(ctx, node, empty)
}
