package netgame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"kartsync/server/internal/auth"
	"kartsync/server/internal/banlist"
	"kartsync/server/internal/broadcast"
	"kartsync/server/internal/consistency"
	"kartsync/server/internal/join"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/telemetry"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/transport"
	"kartsync/server/internal/xcmd"
	"kartsync/server/logging"
	"kartsync/server/logging/network"
	"kartsync/server/logging/resync"
)

// ServerConfig configures a Server. Zero durations and counts fall back to
// DefaultServerConfig where noted.
type ServerConfig struct {
	Name      string
	Admission join.Settings
	// ResyncAttempts is how many snapshots a desynchronised node gets
	// before it is kicked.
	ResyncAttempts int
	KickTime       time.Duration
	// MaxPing is the average lag in tics above which players are kicked;
	// zero disables ping kicks.
	MaxPing tics.Tic
	// PingTimeout is how many seconds a player may stay over MaxPing.
	PingTimeout   int
	MinDelay      int
	NetTimeout    tics.Tic
	JoinTimeout   tics.Tic
	SoftPacketMax int
	ExtraTics     tics.Tic
	// AdminKeys are pretty key ids granted admin on join.
	AdminKeys []string
	// ServerIP is stamped into challenges; clients refuse to sign one that
	// names another public address.
	ServerIP netip.Addr
	BanFile  string
	// LocalPlayers play on the hosting machine. Empty means dedicated.
	LocalPlayers []auth.Profile

	Transport transport.Transport
	Clock     tics.Clock
	Wall      func() time.Time
	Game      Game
	Input     ticcmd.InputSource
	Bots      Bots
	Bans      *banlist.List
	Random    io.Reader
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

// DefaultServerConfig mirrors config.Default.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name: "KartSync server",
		Admission: join.Settings{
			Netgame:            true,
			Dedicated:          true,
			MaxConnections:     protocol.MaxPlayers,
			AllowJoin:          true,
			AllowGuests:        true,
			JoinDelay:          10,
			PerAddressInterval: time.Second,
			PerAddressBurst:    3,
		},
		ResyncAttempts: 2,
		KickTime:       10 * time.Minute,
		MaxPing:        20,
		PingTimeout:    10,
		MinDelay:       2,
		NetTimeout:     210,
		JoinTimeout:    210,
		SoftPacketMax:  protocol.MaxPacketLength,
		ExtraTics:      1,
	}
}

type packetHandler func(ctx context.Context, node int, pkt protocol.Packet) error

var errUnexpected = errors.New("unexpected packet")

// Server is the authoritative end of a session. It is driven from one
// goroutine: NetUpdate, RunTics and KeepAlive must not run concurrently.
type Server struct {
	*core
	cfg ServerConfig

	wall      func() time.Time
	clock     tics.Clock
	tracker   *consistency.Tracker
	bc        *broadcast.Broadcaster
	admission *join.Admission
	bans      *banlist.List
	history   *ticcmd.History
	replay    *auth.ReplayGuard

	inGame map[protocol.Kind]packetHandler
	away   map[protocol.Kind]packetHandler

	maketic         tics.Tic
	neededtic       tics.Tic
	firstticstosend tics.Tic
	tictoclear      tics.Tic
	gametime        tics.Tic
	lowestLag       int

	ping  pingTable
	round *auth.ServerRound
	// saves holds the snapshot each node is still receiving.
	saves         [protocol.MaxNodes][]protocol.SaveGameFragment
	lastLevelTime tics.Tic
	botPending    [protocol.MaxPlayers]bool

	joining  bool
	shutdown bool
	fatal    error
}

// NewServer builds a session host. Local players, if any, are admitted at
// tic 0 on node 0.
func NewServer(cfg ServerConfig, pub logging.Publisher) (*Server, error) {
	if cfg.Transport == nil {
		return nil, errors.New("netgame: server needs a transport")
	}
	if cfg.Game == nil {
		return nil, errors.New("netgame: server needs a game")
	}
	if len(cfg.LocalPlayers) > protocol.MaxSplitscreen {
		return nil, fmt.Errorf("netgame: %d local players, at most %d", len(cfg.LocalPlayers), protocol.MaxSplitscreen)
	}
	defaults := DefaultServerConfig()
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
	if cfg.Bans == nil {
		cfg.Bans = banlist.New(cfg.Wall)
	}
	if cfg.NetTimeout == 0 {
		cfg.NetTimeout = defaults.NetTimeout
	}
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = defaults.JoinTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	cfg.Admission.Dedicated = len(cfg.LocalPlayers) == 0

	s := &Server{
		cfg:       cfg,
		wall:      cfg.Wall,
		clock:     cfg.Clock,
		bans:      cfg.Bans,
		history:   ticcmd.NewHistory(cfg.Input),
		replay:    auth.NewReplayGuard(0),
		lowestLag: cfg.MinDelay,
	}
	s.core = newCore(link{tr: cfg.Transport, metrics: cfg.Metrics, logger: cfg.Logger, pub: pub}, cfg.Game, s)
	s.tracker = consistency.NewTracker(&s.consist, s.reg, cfg.ResyncAttempts)
	s.bc = broadcast.New(s.ring, s.text, s.reg, cfg.SoftPacketMax)
	s.admission = join.NewAdmission(s.reg, cfg.Admission)
	s.buildHandlers()
	s.consist.Store(0, consistency.Hash(cfg.Game.ConsistencyState()))
	s.gametime = s.clock.Now()
	s.ping.next = nextSecond(s.gametime)

	if err := s.reg.AddNode(0, 0); err != nil {
		return nil, err
	}
	local := s.reg.Node(0)
	for split, profile := range cfg.LocalPlayers {
		p := s.reg.FreeSlot(false)
		if err := s.reg.MapNodeToPlayer(0, split, p); err != nil {
			return nil, err
		}
		local.LastReceivedKey[split] = profile.Key.Public
		if split == 0 {
			s.serverPlayer = p
		}
		s.issue(xcmd.IDAddPlayer, xcmd.AddPlayer{
			Player: uint8(p),
			Split:  uint8(split),
			Name:   profile.Name,
			Key:    profile.Key.Public,
		}.Params())
	}
	if s.fatal != nil {
		return nil, s.fatal
	}
	return s, nil
}

func (s *Server) buildHandlers() {
	s.inGame = map[protocol.Kind]packetHandler{
		protocol.KindClientQuit:          s.handleQuit,
		protocol.KindNodeTimeout:         s.handleQuit,
		protocol.KindBasicKeepAlive:      s.handleBasicKeepAlive,
		protocol.KindCanReceiveGamestate: s.handleCanReceiveGamestate,
		protocol.KindReceivedGamestate:   s.handleReceivedGamestate,
		protocol.KindResponseAll:         s.handleResponseAll,
	}
	s.away = map[protocol.Kind]packetHandler{
		protocol.KindAskInfo:     s.handleAskInfo,
		protocol.KindClientKey:   s.handleClientKey,
		protocol.KindClientQuit:  s.handleAwayQuit,
		protocol.KindNodeTimeout: s.handleAwayQuit,
	}
	for kind := protocol.KindClientCmd; kind <= protocol.KindBasicKeepAlive; kind++ {
		if !kind.IsClientCmd() {
			continue
		}
		s.inGame[kind] = s.handleClientCmd
		// Stale commands from a node that already left.
		s.away[kind] = func(context.Context, int, protocol.Packet) error { return errUnexpected }
	}
	for split := 0; split < protocol.MaxSplitscreen; split++ {
		s.inGame[protocol.TextCmdKind(split)] = s.handleTextCmd
	}
}

// Registry exposes the authoritative player table.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// GameTic is the next tic to simulate.
func (s *Server) GameTic() tics.Tic {
	return s.gametic
}

// MakeTic is the next tic to be assembled.
func (s *Server) MakeTic() tics.Tic {
	return s.maketic
}

// ServerPlayer is the hosting player's slot, or registry.NoPlayer.
func (s *Server) ServerPlayer() int {
	return s.serverPlayer
}

// Admission exposes the join checklist, e.g. to change settings.
func (s *Server) Admission() *join.Admission {
	return s.admission
}

// Bans exposes the ban list.
func (s *Server) Bans() *banlist.List {
	return s.bans
}

// NetUpdate runs one network pass: ping bookkeeping, the signature
// schedule, inbound packets, tic assembly and broadcast, and timeouts.
func (s *Server) NetUpdate(ctx context.Context) error {
	if s.fatal != nil {
		return s.fatal
	}
	if s.shutdown {
		return ErrShutdown
	}
	now := s.clock.Now()
	realtics := int64(now) - int64(s.gametime)
	if realtics <= 0 {
		return nil
	}
	if realtics > 5 {
		realtics = 1
	}
	s.gametime = now

	s.updatePingTable(ctx)
	s.updateChallenges(ctx)
	s.buildLocalCommands(int(realtics))
	s.getPackets(ctx)
	if s.fatal != nil {
		return s.fatal
	}

	s.makeTics(ctx, tics.Tic(realtics))
	if err := s.sendTics(ctx); err != nil {
		s.fatal = err
		return err
	}
	s.neededtic = s.maketic

	s.handleNodeTimeouts(ctx)
	s.admission.Decay()
	s.metrics.Store(telemetry.KeyNodes, uint64(len(s.reg.InGameNodes())))
	return s.fatal
}

// RunTics simulates every tic that has been assembled. Nothing runs in a
// pass that admitted a player, so the snapshot sent to the joiner matches
// the tic its stream starts at.
func (s *Server) RunTics(ctx context.Context) error {
	if s.fatal != nil {
		return s.fatal
	}
	if s.joining {
		return nil
	}
	for s.neededtic > s.gametic && !s.shutdown {
		s.runTic(ctx)
	}
	if s.shutdown {
		return ErrShutdown
	}
	return nil
}

// KeepAlive is the pass used while the simulation is paused: it drains
// packets and handles timeouts without assembling tics.
func (s *Server) KeepAlive(ctx context.Context) error {
	if s.fatal != nil {
		return s.fatal
	}
	s.gametime = s.clock.Now()
	s.getPackets(ctx)
	s.handleNodeTimeouts(ctx)
	return s.fatal
}

// Close tells every node the session is over.
func (s *Server) Close() {
	for _, node := range s.reg.InGameNodes() {
		s.sendLogged(node, protocol.KindServerShutdown, nil)
	}
	s.shutdown = true
}

func (s *Server) getPackets(ctx context.Context) {
	s.joining = false
	for {
		in, ok := s.receive(ctx, s.gametic)
		if !ok {
			return
		}
		node, pkt := in.node, in.pkt
		if node <= 0 || node >= protocol.MaxNodes {
			if in.err == nil {
				s.reject(ctx, s.gametic, node, pkt.Kind(), "node out of range")
			}
			continue
		}
		if in.err != nil {
			s.closeMalformed(ctx, node)
			continue
		}
		n := s.reg.Node(node)
		var handler packetHandler
		switch {
		case pkt.Kind() == protocol.KindClientJoin:
			handler = s.handleClientJoin
		case n.InGame:
			handler = s.inGame[pkt.Kind()]
		default:
			handler = s.away[pkt.Kind()]
			if handler == nil {
				s.closeAway(node)
			}
		}
		if handler == nil {
			s.reject(ctx, s.gametic, node, pkt.Kind(), errUnexpected.Error())
			continue
		}
		if err := handler(ctx, node, pkt); err != nil {
			s.reject(ctx, s.gametic, node, pkt.Kind(), err.Error())
			if protocol.Malformed(err) {
				s.closeMalformed(ctx, node)
			}
		}
		if s.fatal != nil {
			return
		}
	}
}

// closeMalformed closes a node that sent a packet that failed to decode.
func (s *Server) closeMalformed(ctx context.Context, node int) {
	if s.reg.Node(node).InGame {
		s.dropNode(ctx, node, xcmd.KickConFail)
		return
	}
	s.closeAway(node)
}

func (s *Server) buildLocalCommands(realtics int) {
	for split, p := range s.reg.Node(0).Players {
		if p == registry.NoPlayer || !s.reg.Player(p).InGame {
			continue
		}
		s.history.Build(split, realtics)
		s.ring.Set(s.maketic, p, s.history.Delayed(split, s.lowestLag))
	}
}

// makeTics assembles up to counts tics, bounded by the ring capacity
// ahead of the slowest acknowledgement.
func (s *Server) makeTics(ctx context.Context, counts tics.Tic) {
	first := s.gametic
	for _, node := range s.reg.InGameNodes() {
		if node == 0 {
			continue
		}
		n := s.reg.Node(node)
		if n.NetTics >= first {
			continue
		}
		first = n.NetTics
		if s.maketic+counts >= n.NetTics+(tics.Backup-tics.Rate) {
			s.logger.Printf("node %d fell %d tics behind", node, s.maketic-n.NetTics)
			s.connectionTimeout(ctx, node)
		}
	}
	s.firstticstosend = first

	if s.maketic+counts >= first+tics.Backup {
		if first+tics.Backup > s.maketic+1 {
			counts = first + tics.Backup - s.maketic - 1
		} else {
			counts = 0
		}
	}
	for i := tics.Tic(0); i < counts; i++ {
		s.makeTic()
	}

	for ; s.tictoclear < first; s.tictoclear++ {
		s.ring.Clear(s.tictoclear)
	}
	s.text.ClearBefore(first)
}

// makeTic closes maketic: bots get their command and players who sent
// nothing repeat their previous one, marked as not received.
func (s *Server) makeTic() {
	for p := 0; p < protocol.MaxPlayers; p++ {
		player := s.reg.Player(p)
		if !player.InGame {
			continue
		}
		if player.Bot && s.cfg.Bots != nil {
			cmd := s.cfg.Bots.BotCommand(p, s.maketic)
			cmd.Flags |= ticcmd.FlagReceived
			s.ring.Set(s.maketic, p, cmd)
			continue
		}
		if s.ring.Get(s.maketic, p).Received() {
			continue
		}
		prev := s.ring.Get(s.maketic-1, p)
		prev.Flags &^= ticcmd.FlagReceived
		s.ring.Set(s.maketic, p, prev)
	}
	s.maketic++
}

func (s *Server) sendTics(ctx context.Context) error {
	counters := broadcast.Counters{
		MakeTic:         s.maketic,
		FirstTicsToSend: s.firstticstosend,
		Now:             s.gametime,
		ExtraTics:       s.cfg.ExtraTics,
		NumSlots:        s.numSlots(),
	}
	return s.bc.SendTics(counters, func(node int, st protocol.ServerTics) error {
		payload, err := protocol.AppendServerTics(nil, st)
		if err != nil {
			return err
		}
		if err := s.send(node, protocol.KindServerTics, payload); err != nil {
			s.logger.Printf("%v", err)
			return nil
		}
		first := tics.Expand(st.StartTic, s.maketic)
		network.TicsSent(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), network.TicsSentPayload{
			First: uint64(first),
			Last:  uint64(first) + uint64(len(st.Tics)),
			Slots: int(st.NumSlots),
			Bytes: len(payload),
		})
		return nil
	})
}

// handleNodeTimeouts drops nodes whose freeze deadline passed and chases
// resyncs that were never confirmed.
func (s *Server) handleNodeTimeouts(ctx context.Context) {
	for _, node := range s.reg.Nodes() {
		if node == 0 {
			continue
		}
		n := s.reg.Node(node)
		if n.FreezeTimeout < s.gametime {
			s.connectionTimeout(ctx, node)
			continue
		}
		if n.InGame {
			s.expireResync(ctx, node)
		}
	}
}

// expireResync repeats the resync notice to a node that let its deadline
// pass, or drops it once its attempts are spent.
func (s *Server) expireResync(ctx context.Context, node int) {
	n := s.reg.Node(node)
	payload := resync.ExpiredPayload{Attempt: n.ResyncAttempts, Sending: n.SendingSaveGame}
	switch s.tracker.Expire(node, s.gametime) {
	case consistency.DecisionResend:
		s.saves[node] = nil
		resync.ResyncExpired(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), payload)
		s.sendLogged(node, protocol.KindWillResendGamestate, nil)
	case consistency.DecisionKick:
		resync.ResyncExpired(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), payload)
		s.dropNode(ctx, node, xcmd.KickConFail)
	}
}

// connectionTimeout handles a silent node as if it had sent NodeTimeout.
func (s *Server) connectionTimeout(ctx context.Context, node int) {
	n := s.reg.Node(node)
	if n.InGame {
		s.dropNode(ctx, node, xcmd.KickTimeout)
		return
	}
	s.closeAway(node)
}

func (s *Server) handleClientCmd(ctx context.Context, node int, pkt protocol.Packet) error {
	kind := pkt.Kind()
	c, err := protocol.DecodeClientCmd(kind, pkt.Payload)
	if err != nil {
		return err
	}
	n := s.reg.Node(node)
	netconsole := s.reg.NodeToSplitPlayer(node, 0)
	realstart := tics.Expand(c.ClientTic, n.NetTics)
	realend := tics.Expand(c.ResendFrom, n.NetTics)

	if kind.Missed() || n.SupposedTics < realend {
		n.SupposedTics = realend
	}
	if n.NetTics > realend {
		network.AckRegression(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), network.AckPayload{
			Previous: uint64(n.NetTics),
			Ack:      uint64(realend),
		}, nil)
		return nil
	}
	if realend > n.NetTics {
		network.AckAdvanced(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), network.AckPayload{
			Previous: uint64(n.NetTics),
			Ack:      uint64(realend),
		}, nil)
	}
	n.NetTics = realend

	if netconsole == registry.NoPlayer {
		return nil
	}
	n.FreezeTimeout = s.gametime + s.cfg.NetTimeout
	if kind.IsKeepAlive() {
		return nil
	}

	for split, cmd := range c.Cmds {
		p := s.reg.NodeToSplitPlayer(node, split)
		if p == registry.NoPlayer {
			continue
		}
		if cmd.Illegal() {
			s.sendKick(p, xcmd.KickConFail, "")
			return fmt.Errorf("illegal command from player %d", p)
		}
		cmd.Flags |= ticcmd.FlagReceived
		s.ring.Set(s.maketic, p, cmd)
	}

	report := consistency.Report{Tic: realstart, Value: c.Consistency}
	switch s.tracker.Check(node, report, s.gametic, s.game.InLevel(), s.gametime) {
	case consistency.DecisionResend:
		s.sendLogged(node, protocol.KindWillResendGamestate, nil)
		s.metrics.Add(telemetry.KeyResyncs, 1)
		resync.ResendScheduled(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), s.divergence(n, report))
	case consistency.DecisionKick:
		resync.ResyncKick(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node), s.divergence(n, report))
		s.sendKick(netconsole, xcmd.KickConFail, "")
	}
	return nil
}

func (s *Server) divergence(n *registry.Node, report consistency.Report) resync.DivergencePayload {
	return resync.DivergencePayload{
		Tic:     uint64(report.Tic),
		Local:   s.consist.At(report.Tic),
		Remote:  report.Value,
		Attempt: n.ResyncAttempts,
	}
}

func (s *Server) handleTextCmd(ctx context.Context, node int, pkt protocol.Packet) error {
	p := s.reg.NodeToSplitPlayer(node, pkt.Kind().TextCmdSplit())
	if !registry.ValidPlayer(p) {
		return errors.New("text command for an empty split")
	}
	tc, err := protocol.DecodeTextCmd(pkt.Payload)
	if err != nil {
		return err
	}
	if _, err := xcmd.Split(tc.Data); err != nil {
		return err
	}
	if _, ok := s.placeText(uint8(p), tc.Data); !ok {
		return fmt.Errorf("%w: %d bytes from player %d", xcmd.ErrTextCmdOverflow, len(tc.Data), p)
	}
	return nil
}

// placeText attaches data from source to the first tic, starting at
// maketic, whose packet still has room and whose per-source budget is not
// spent.
func (s *Server) placeText(source uint8, data []byte) (tics.Tic, bool) {
	limit := s.bc.SoftMax() - (len(data) + 2 + protocol.ServerTicsBaseSize + (s.numSlots()+1)*ticcmd.Size)
	for t := s.maketic; t < s.firstticstosend+tics.Backup; t++ {
		if s.text.Total(t) > limit {
			continue
		}
		if len(s.text.Get(t, source))+len(data) > xcmd.MaxTextCmd {
			continue
		}
		if s.text.Append(t, source, data) == nil {
			return t, true
		}
	}
	return 0, false
}

// issue queues a server text command. Running out of room for the
// server's own commands ends the session.
func (s *Server) issue(id xcmd.ID, params []byte) {
	data, err := xcmd.Encode(nil, id, params)
	if err == nil {
		if _, ok := s.placeText(xcmd.ServerSource, data); !ok {
			err = fmt.Errorf("%w: server %s command", xcmd.ErrTextCmdOverflow, s.xcmds.Name(id))
		}
	}
	if err != nil && s.fatal == nil {
		s.fatal = err
	}
}

func (s *Server) sendKick(p int, msg xcmd.KickMessage, reason string) {
	s.issue(xcmd.IDKick, xcmd.Kick{Player: uint8(p), Message: msg, Reason: reason}.Params())
}

// Kick removes player p from the session on every peer.
func (s *Server) Kick(p int, msg xcmd.KickMessage, reason string) error {
	if !registry.ValidPlayer(p) || !s.reg.Player(p).InGame {
		return fmt.Errorf("%w: %d", registry.ErrPlayerRange, p)
	}
	s.sendKick(p, msg, reason)
	return s.fatal
}

// RemovePlayer frees slot p without a kick message, e.g. for bots.
func (s *Server) RemovePlayer(p int, reason xcmd.RemoveReason) error {
	if !registry.ValidPlayer(p) || !s.reg.Player(p).InGame {
		return fmt.Errorf("%w: %d", registry.ErrPlayerRange, p)
	}
	s.issue(xcmd.IDRemovePlayer, xcmd.RemovePlayer{Player: uint8(p), Reason: reason}.Params())
	return s.fatal
}

// AddBot claims a free slot for a bot driven by the Bots source. The bot
// enters the game when the command runs.
func (s *Server) AddBot(name string) (int, error) {
	for p := 0; p < protocol.MaxPlayers; p++ {
		player := s.reg.Player(p)
		if player.InGame || player.Node != registry.NoPlayer || s.botPending[p] {
			continue
		}
		s.botPending[p] = true
		s.issue(xcmd.IDAddPlayer, xcmd.AddPlayer{Node: botNode, Player: uint8(p), Name: name}.Params())
		return p, s.fatal
	}
	return registry.NoPlayer, errors.New("netgame: no free slot for a bot")
}

func (s *Server) handleQuit(ctx context.Context, node int, pkt protocol.Packet) error {
	msg := xcmd.KickPlayerQuit
	if pkt.Kind() == protocol.KindNodeTimeout {
		msg = xcmd.KickTimeout
	}
	s.dropNode(ctx, node, msg)
	return nil
}

// dropNode takes node out of the game. Its players are kicked through the
// text channel so every peer removes them on the same tic.
func (s *Server) dropNode(ctx context.Context, node int, msg xcmd.KickMessage) {
	n := s.reg.Node(node)
	n.Waiting = 0
	players := s.reg.NodePlayers(node)
	for _, p := range players {
		s.sendKick(p, msg, "")
	}
	n.InGame = false
	n.NeedsAuth = false
	s.forget(node)
	if len(players) == 0 {
		s.reg.ResetNode(node)
	}
	s.logger.Printf("node %d left (%s)", node, msg)
}

func (s *Server) handleAwayQuit(ctx context.Context, node int, pkt protocol.Packet) error {
	s.closeAway(node)
	return nil
}

// forget closes node and drops any snapshot still queued for it.
func (s *Server) forget(node int) {
	if node > 0 && node < protocol.MaxNodes {
		s.saves[node] = nil
	}
	s.core.forget(node)
}

// closeAway forgets a node that never made it into the game.
func (s *Server) closeAway(node int) {
	if node <= 0 || s.reg.Node(node).InGame {
		return
	}
	s.reg.ResetNode(node)
	s.forget(node)
}

func (s *Server) handleBasicKeepAlive(ctx context.Context, node int, pkt protocol.Packet) error {
	if err := protocol.DecodeEmpty(pkt.Payload); err != nil {
		return err
	}
	if s.reg.NodeToSplitPlayer(node, 0) == registry.NoPlayer {
		return nil
	}
	n := s.reg.Node(node)
	n.SendingSaveGame = false
	s.saves[node] = nil
	n.FreezeTimeout = s.gametime + s.cfg.NetTimeout
	return nil
}

// handleCanReceiveGamestate answers a snapshot request. A node with a
// transfer in flight gets the fragments it names again; a node that was
// told to resync gets a fresh snapshot.
func (s *Server) handleCanReceiveGamestate(ctx context.Context, node int, pkt protocol.Packet) error {
	req, err := protocol.DecodeSaveGameRequest(pkt.Payload)
	if err != nil {
		return err
	}
	n := s.reg.Node(node)
	switch {
	case n.SendingSaveGame && len(s.saves[node]) > 0:
		return s.resendFragments(ctx, node, req)
	case n.ResendingSaveGame && !n.SendingSaveGame:
		return s.sendSaveGame(ctx, node, true)
	}
	return nil
}

func (s *Server) handleReceivedGamestate(ctx context.Context, node int, pkt protocol.Packet) error {
	n := s.reg.Node(node)
	n.FreezeTimeout = s.gametime + s.cfg.NetTimeout
	s.saves[node] = nil
	if !n.ResendingSaveGame {
		// Join snapshot.
		n.SendingSaveGame = false
		return nil
	}
	s.tracker.Received(node, s.gametime)
	resync.ResyncCompleted(ctx, s.pub, uint64(s.gametic), logging.NodeRef(node))
	return nil
}

// side hooks, run while text commands execute.

func (s *Server) shutdownRequested() {
	s.logger.Printf("server is being shut down remotely")
	s.shutdown = true
}

func (s *Server) beforeKick(ctx context.Context, target int, k xcmd.Kick) {
	if !k.Message.TemporaryBan() && !k.Message.PermanentBan() {
		return
	}
	player := s.reg.Player(target)
	if player.Node <= 0 {
		return
	}
	s.ban(ctx, player.Node, player.Name, k)
}

func (s *Server) afterRemove(ctx context.Context, node int, empty bool) {
	if !empty || node <= 0 {
		return
	}
	n := s.reg.Node(node)
	if !n.InGame && n.NeedsAuth {
		// The node number already belongs to a new peer.
		return
	}
	s.reg.ResetNode(node)
	s.forget(node)
}

func (s *Server) afterAdd(ctx context.Context, a xcmd.AddPlayer) {
	if a.Node == botNode {
		s.botPending[a.Player] = false
	}
}
