package netgame

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"kartsync/server/internal/auth"
	"kartsync/server/internal/broadcast"
	"kartsync/server/internal/join"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/snapshot"
	"kartsync/server/internal/telemetry"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/transport"
	"kartsync/server/internal/xcmd"
	"kartsync/server/logging"
	"kartsync/server/logging/lifecycle"
)

const noNode = -1

const malformedReason = "Received a malformed packet from the server."

// snapshotRetry is how long a stalled snapshot download waits before
// asking for the missing fragments.
const snapshotRetry = tics.Rate

// askInfoInterval spaces AskInfo requests while searching for the server.
const askInfoInterval = time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	// Profiles are the local players, one per split.
	Profiles []auth.Profile
	MinDelay int
	// NetTimeout is how many tics of silence from the server end the
	// session once connected.
	NetTimeout tics.Tic
	// JoinTimeout is how long a snapshot download may go without a new
	// fragment.
	JoinTimeout tics.Tic

	Transport transport.Transport
	Clock     tics.Clock
	Wall      func() time.Time
	Game      Game
	Input     ticcmd.InputSource
	Files     FileChecker
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

type clientHandler func(ctx context.Context, pkt protocol.Packet) error

// Client joins a server and simulates the tics it broadcasts. Like the
// Server it is driven from a single goroutine.
type Client struct {
	*core
	cfg ClientConfig

	wall     func() time.Time
	clock    tics.Clock
	machine  *join.Machine
	receiver *broadcast.Receiver
	history  *ticcmd.History
	textOut  [protocol.MaxSplitscreen]xcmd.Buffer
	replay   *auth.ReplayGuard
	round    auth.ClientRound

	joining   map[protocol.Kind]clientHandler
	connected map[protocol.Kind]clientHandler

	serverNode int
	serverAddr netip.Addr
	myNode     int
	info       protocol.ServerInfo
	challenge  protocol.Challenge
	askInfoAt  time.Time
	traceID    string

	gametime      tics.Tic
	lastHeard     tics.Tic
	lowestLag     int
	cmds          []ticcmd.Command
	addedToGame   bool
	redownloading bool
	assembler     snapshot.Assembler
	saveProgress  tics.Tic
	saveAsked     tics.Tic
	priorKeys     [protocol.MaxPlayers]protocol.PublicKey
	lastLevelTime tics.Tic

	pings   [protocol.MaxPlayers]uint32
	maxPing uint32
}

// NewClient prepares a client for Connect.
func NewClient(cfg ClientConfig, pub logging.Publisher) (*Client, error) {
	if cfg.Transport == nil {
		return nil, errors.New("netgame: client needs a transport")
	}
	if cfg.Game == nil {
		return nil, errors.New("netgame: client needs a game")
	}
	if len(cfg.Profiles) == 0 || len(cfg.Profiles) > protocol.MaxSplitscreen {
		return nil, fmt.Errorf("netgame: %d local players, want 1 to %d", len(cfg.Profiles), protocol.MaxSplitscreen)
	}
	if cfg.Wall == nil {
		cfg.Wall = time.Now
	}
	if cfg.Clock == nil {
		cfg.Clock = tics.NewWallClock(cfg.Wall)
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics()
	}
	if cfg.NetTimeout == 0 {
		cfg.NetTimeout = DefaultServerConfig().NetTimeout
	}
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = DefaultServerConfig().JoinTimeout
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	c := &Client{
		cfg:        cfg,
		wall:       cfg.Wall,
		clock:      cfg.Clock,
		machine:    join.NewMachine(),
		history:    ticcmd.NewHistory(cfg.Input),
		replay:     auth.NewReplayGuard(0),
		serverNode: noNode,
		myNode:     noNode,
		cmds:       make([]ticcmd.Command, len(cfg.Profiles)),
	}
	c.core = newCore(link{tr: cfg.Transport, metrics: cfg.Metrics, logger: cfg.Logger, pub: pub}, cfg.Game, c)
	c.receiver = broadcast.NewReceiver(c.ring, c.text)
	c.buildHandlers()
	c.gametime = c.clock.Now()
	return c, nil
}

func (c *Client) buildHandlers() {
	c.joining = map[protocol.Kind]clientHandler{
		protocol.KindServerInfo:      c.handleServerInfo,
		protocol.KindServerRefuse:    c.handleServerRefuse,
		protocol.KindServerChallenge: c.handleServerChallenge,
		protocol.KindServerConfig:    c.handleServerConfig,
		protocol.KindServerShutdown:  c.handleServerShutdown,
		protocol.KindNodeTimeout:     c.handleServerTimeout,
	}
	c.connected = map[protocol.Kind]clientHandler{
		protocol.KindServerRefuse:        c.handleServerRefuse,
		protocol.KindServerTics:          c.handleServerTics,
		protocol.KindSaveGameFragment:    c.handleSaveGameFragment,
		protocol.KindPing:                c.handlePing,
		protocol.KindWillResendGamestate: c.handleWillResend,
		protocol.KindChallengeAll:        c.handleChallengeAll,
		protocol.KindResultsAll:          c.handleResultsAll,
		protocol.KindServerShutdown:      c.handleServerShutdown,
		protocol.KindNodeTimeout:         c.handleServerTimeout,
	}
}

// State is the join machine's state.
func (c *Client) State() join.State {
	return c.machine.State()
}

// Reason explains why the connection was aborted.
func (c *Client) Reason() string {
	return c.machine.Reason()
}

// GameTic is the next tic to simulate.
func (c *Client) GameTic() tics.Tic {
	return c.gametic
}

// NeededTic is the first tic not yet received from the server.
func (c *Client) NeededTic() tics.Tic {
	return c.receiver.NeededTic
}

// Node is this client's node number on the server, or -1 before the
// server accepted it.
func (c *Client) Node() int {
	return c.myNode
}

// Registry is the client's mirror of the server's player table.
func (c *Client) Registry() *registry.Registry {
	return c.reg
}

// InGame reports whether the server has put this client's players in game.
func (c *Client) InGame() bool {
	return c.addedToGame
}

// Ping returns the last lag the server published for player p, in tics.
func (c *Client) Ping(p int) uint32 {
	if !registry.ValidPlayer(p) {
		return 0
	}
	return c.pings[p]
}

// Connect starts the handshake with the server at addr. Progress happens
// in NetUpdate.
func (c *Client) Connect(ctx context.Context, addr string) error {
	node, err := c.tr.Connect(ctx, addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	if c.machine.State() == join.Aborted {
		if err := c.machine.Fire(join.Reset); err != nil {
			return err
		}
	}
	c.serverNode = node
	c.serverAddr = c.tr.Addr(node).Addr()
	c.traceID = uuid.NewString()
	c.lastHeard = c.clock.Now()
	c.sendAskInfo(c.wall())
	return nil
}

// Disconnect leaves the session.
func (c *Client) Disconnect(ctx context.Context) {
	if c.serverNode == noNode {
		return
	}
	c.sendLogged(c.serverNode, protocol.KindClientQuit, nil)
	if c.machine.State() != join.Aborted {
		c.abort(ctx, join.Cancel, "")
	}
	c.forget(c.serverNode)
	c.serverNode = noNode
}

// SendText queues a text command for split; it goes out with the next
// NetUpdate.
func (c *Client) SendText(split int, id xcmd.ID, params []byte) error {
	if split < 0 || split >= len(c.cfg.Profiles) {
		return fmt.Errorf("%w: %d", registry.ErrSplitRange, split)
	}
	return c.textOut[split].Append(id, params)
}

// Kick asks the server to kick player p. Only admins are obeyed.
func (c *Client) Kick(p int, msg xcmd.KickMessage, reason string) error {
	return c.SendText(0, xcmd.IDKick, xcmd.Kick{Player: uint8(p), Message: msg, Reason: reason}.Params())
}

func (c *Client) aborted() error {
	if c.machine.State() == join.Aborted {
		return fmt.Errorf("%w: %s", ErrAborted, c.machine.Reason())
	}
	return nil
}

// NetUpdate runs one network pass: inbound packets, the join handshake
// and, once accepted, local commands and text.
func (c *Client) NetUpdate(ctx context.Context) error {
	if c.serverNode == noNode {
		return ErrNotConnected
	}
	if err := c.aborted(); err != nil {
		return err
	}
	now := c.clock.Now()
	realtics := int64(now) - int64(c.gametime)
	if realtics <= 0 {
		return nil
	}
	if realtics > 5 {
		realtics = 1
	}
	c.gametime = now

	c.getPackets(ctx)
	if err := c.aborted(); err != nil {
		return err
	}

	wall := c.wall()
	switch state := c.machine.State(); state {
	case join.Searching:
		if !wall.Before(c.askInfoAt) {
			c.sendAskInfo(wall)
		}
	case join.SendingKey, join.AskingToJoin:
		if c.machine.ReadyToSend(wall) {
			c.sendJoinRequest(ctx, wall)
		}
	case join.DownloadingSaveGame, join.Connected:
		if c.gametime > c.lastHeard+c.cfg.NetTimeout {
			c.abort(ctx, join.Timeout, "Server Timeout")
			return c.aborted()
		}
		if c.downloading() {
			c.chaseSnapshot(ctx)
			if err := c.aborted(); err != nil {
				return err
			}
		}
		c.updateChallenges(ctx)
		c.buildLocalCommands(int(realtics))
		c.sendClientCmd()
		c.flushText()
	}

	before := c.machine.State()
	if err := c.machine.Tick(wall); err != nil {
		c.logger.Printf("join: %v", err)
	}
	if after := c.machine.State(); after != before {
		c.joinState(ctx, before, after, "tick")
	}
	return c.aborted()
}

// RunTics simulates every tic received from the server.
func (c *Client) RunTics(ctx context.Context) error {
	if c.machine.State() != join.Connected || c.redownloading {
		return c.aborted()
	}
	for c.receiver.NeededTic > c.gametic && c.machine.State() == join.Connected {
		c.runTic(ctx)
	}
	c.text.ClearBefore(c.gametic)
	return c.aborted()
}

func (c *Client) getPackets(ctx context.Context) {
	for {
		in, ok := c.receive(ctx, c.gametic)
		if !ok {
			return
		}
		node, pkt := in.node, in.pkt
		if node != c.serverNode {
			if in.err == nil {
				c.reject(ctx, c.gametic, node, pkt.Kind(), "not from the server")
			}
			continue
		}
		if in.err != nil {
			c.abort(ctx, join.Refused, malformedReason)
			return
		}
		c.lastHeard = c.gametime
		handlers := c.joining
		if state := c.machine.State(); state == join.DownloadingSaveGame || state == join.Connected {
			handlers = c.connected
		}
		handler := handlers[pkt.Kind()]
		if handler == nil {
			c.reject(ctx, c.gametic, node, pkt.Kind(), errUnexpected.Error())
			continue
		}
		if err := handler(ctx, pkt); err != nil {
			c.reject(ctx, c.gametic, node, pkt.Kind(), err.Error())
			if protocol.Malformed(err) {
				c.abort(ctx, join.Refused, malformedReason)
			}
		}
		if c.machine.State() == join.Aborted {
			return
		}
	}
}

func (c *Client) downloading() bool {
	return c.machine.State() == join.DownloadingSaveGame || c.redownloading
}

// startDownload expects a fresh snapshot transfer.
func (c *Client) startDownload() {
	c.assembler.Reset()
	c.saveProgress = c.gametime
	c.saveAsked = c.gametime
}

// chaseSnapshot asks again for fragments that stopped arriving and gives
// up once nothing has arrived for the join timeout.
func (c *Client) chaseSnapshot(ctx context.Context) {
	if c.gametime > c.saveProgress+c.cfg.JoinTimeout {
		c.abort(ctx, join.Timeout, "Timed out waiting for the game state.")
		return
	}
	if c.gametime < c.saveProgress+snapshotRetry || c.gametime < c.saveAsked+snapshotRetry {
		return
	}
	tic, missing := c.assembler.Missing(protocol.MaxRequestedFragments)
	req := protocol.SaveGameRequest{Tic: tic, Offsets: missing}
	c.sendLogged(c.serverNode, protocol.KindCanReceiveGamestate, protocol.AppendSaveGameRequest(nil, req))
	c.saveAsked = c.gametime
}

func (c *Client) sendAskInfo(wall time.Time) {
	ask := protocol.AskInfo{Marker: protocol.Marker, Version: protocol.Version, Time: uint32(wall.UnixMilli())}
	c.sendLogged(c.serverNode, protocol.KindAskInfo, protocol.AppendAskInfo(nil, ask))
	c.askInfoAt = wall.Add(askInfoInterval)
}

// sendJoinRequest sends the key or join request the machine is waiting
// to send.
func (c *Client) sendJoinRequest(ctx context.Context, wall time.Time) {
	state := c.machine.State()
	var err error
	switch state {
	case join.SendingKey:
		var key protocol.ClientKey
		for split, profile := range c.cfg.Profiles {
			key.Keys[split] = profile.Key.Public
		}
		err = c.send(c.serverNode, protocol.KindClientKey, protocol.AppendClientKey(nil, key))
	case join.AskingToJoin:
		cfg := protocol.NewClientConfig(len(c.cfg.Profiles))
		for split, profile := range c.cfg.Profiles {
			cfg.Names[split] = profile.Name
			sig, signErr := profile.Key.Sign(c.challenge[:])
			if signErr != nil {
				c.abort(ctx, join.Refused, signErr.Error())
				return
			}
			cfg.Responses[split] = sig
		}
		err = c.send(c.serverNode, protocol.KindClientJoin, protocol.AppendClientConfig(nil, cfg))
	default:
		return
	}
	if err != nil {
		c.logger.Printf("join: %v", err)
		return
	}
	if err := c.machine.Sent(wall); err != nil {
		c.logger.Printf("join: %v", err)
		return
	}
	c.joinState(ctx, state, c.machine.State(), "sent")
}

func (c *Client) buildLocalCommands(realtics int) {
	if missing := c.cfg.MinDelay - int(c.receiver.NeededTic-c.gametic); missing > 0 {
		c.lowestLag = missing
	} else {
		c.lowestLag = 0
	}
	for split := range c.cfg.Profiles {
		c.history.Build(split, realtics)
		c.cmds[split] = c.history.Delayed(split, c.lowestLag)
	}
}

// sendClientCmd acknowledges received tics and, once the client's players
// are in game, carries their commands and the local consistency value.
func (c *Client) sendClientCmd() {
	missed := c.receiver.PacketMissed
	cmd := protocol.ClientCmd{
		ClientTic:   tics.Low(c.gametic),
		ResendFrom:  tics.Low(c.receiver.NeededTic),
		Consistency: c.consist.At(c.gametic),
	}
	kind := protocol.KindNodeKeepAlive
	if missed {
		kind = protocol.KindNodeKeepAliveMis
	}
	if c.addedToGame && c.machine.State() == join.Connected && !c.redownloading {
		kind = protocol.ClientCmdKind(len(c.cfg.Profiles), missed)
		cmd.Cmds = c.cmds
	}
	payload, err := protocol.AppendClientCmd(nil, kind, cmd)
	if err != nil {
		c.logger.Printf("%v", err)
		return
	}
	c.sendLogged(c.serverNode, kind, payload)
}

func (c *Client) flushText() {
	for split := range c.cfg.Profiles {
		if c.textOut[split].Len() == 0 {
			continue
		}
		data := c.textOut[split].Flush()
		c.sendLogged(c.serverNode, protocol.TextCmdKind(split), protocol.AppendTextCmd(nil, protocol.TextCmd{Data: data}))
	}
}

// fire applies ev to the join machine and logs the transition.
func (c *Client) fire(ctx context.Context, ev join.Event) error {
	from := c.machine.State()
	if err := c.machine.Fire(ev); err != nil {
		return err
	}
	c.joinState(ctx, from, c.machine.State(), ev.String())
	return nil
}

// abort gives up the connection. States that cannot be refused fall back
// to a cancel.
func (c *Client) abort(ctx context.Context, ev join.Event, reason string) {
	from := c.machine.State()
	if err := c.machine.Abort(ev, reason); err != nil {
		if err := c.machine.Abort(join.Cancel, reason); err != nil {
			c.logger.Printf("abort: %v", err)
			return
		}
	}
	c.logger.Printf("connection aborted: %s", reason)
	c.joinState(ctx, from, join.Aborted, ev.String())
}

func (c *Client) joinState(ctx context.Context, from, to join.State, event string) {
	lifecycle.JoinState(ctx, c.pub, uint64(c.gametic), lifecycle.JoinStatePayload{
		From:  from.String(),
		To:    to.String(),
		Event: event,
	}, c.traceID)
}

// updateChallenges tracks the challenge-all schedule from the client's
// side: results must arrive before the cutoff.
func (c *Client) updateChallenges(ctx context.Context) {
	if c.machine.State() != join.Connected || !c.game.InLevel() {
		c.lastLevelTime = 0
		return
	}
	lt := c.game.LevelTime()
	prev := c.lastLevelTime
	if lt < prev {
		prev = 0
	}
	c.lastLevelTime = lt

	if lt <= auth.ChallengeAllStart {
		c.round.Expect()
	}
	if crossed(prev, lt, auth.ChallengeAllStart) {
		c.round.Snapshot(c.reg)
	}
	if lt > auth.ChallengeAllClientCutoff && c.round.Expecting() {
		c.sigfail(ctx, "Didn't receive client signatures.")
	}
}

func (c *Client) sigfail(ctx context.Context, msg string) {
	c.abort(ctx, join.Refused, "Signature check failed.\n("+msg+")")
}

// side hooks.

func (c *Client) shutdownRequested() {
	c.logger.Printf("server player kicked by an admin")
}

func (c *Client) beforeKick(ctx context.Context, target int, k xcmd.Kick) {
	if c.myNode == noNode || target != c.reg.NodeToSplitPlayer(c.myNode, 0) {
		return
	}
	c.abort(ctx, join.Refused, k.Message.ClientText(k.Reason))
}

func (c *Client) afterRemove(ctx context.Context, node int, empty bool) {
	if empty && node >= 0 {
		c.reg.ResetNode(node)
	}
}

func (c *Client) afterAdd(ctx context.Context, a xcmd.AddPlayer) {
	if int(a.Node) == c.myNode {
		c.addedToGame = true
	}
}
