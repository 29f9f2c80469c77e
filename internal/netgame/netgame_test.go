package netgame

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"kartsync/server/internal/auth"
	"kartsync/server/internal/consistency"
	"kartsync/server/internal/join"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/transport"
	"kartsync/server/internal/xcmd"
	"kartsync/server/logging/lifecycle"
	"kartsync/server/logging/resync"
	"kartsync/server/logging/security"
	"kartsync/server/logging/sinks"
)

var epoch = time.Unix(1_700_000_000, 0)

type fakeGame struct {
	level     bool
	levelTime tics.Tic
	seed      uint32
	moves     int32
	// padding makes the saved state span several fragments.
	padding []byte
}

func (g *fakeGame) RunTic(tic tics.Tic, cmds []ticcmd.Command) {
	if g.level {
		g.levelTime++
	}
	for _, cmd := range cmds {
		g.moves += int32(cmd.ForwardMove)
	}
	g.seed = g.seed*1103515245 + 12345
}

func (g *fakeGame) ConsistencyState() consistency.State {
	return consistency.State{InLevel: g.level, RandSeeds: []uint32{g.seed, uint32(g.moves)}}
}

func (g *fakeGame) InLevel() bool       { return g.level }
func (g *fakeGame) LevelTime() tics.Tic { return g.levelTime }

func (g *fakeGame) Save() ([]byte, error) {
	var buf []byte
	level := uint32(0)
	if g.level {
		level = 1
	}
	buf = binary.LittleEndian.AppendUint32(buf, level)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.levelTime))
	buf = binary.LittleEndian.AppendUint32(buf, g.seed)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.moves))
	return append(buf, g.padding...), nil
}

func (g *fakeGame) Load(data []byte) error {
	if len(data) < 16 {
		return errors.New("bad save")
	}
	g.padding = append([]byte(nil), data[16:]...)
	g.level = binary.LittleEndian.Uint32(data[0:]) == 1
	g.levelTime = tics.Tic(binary.LittleEndian.Uint32(data[4:]))
	g.seed = binary.LittleEndian.Uint32(data[8:])
	g.moves = int32(binary.LittleEndian.Uint32(data[12:]))
	return nil
}

type testClient struct {
	*Client
	game  *fakeGame
	tr    *transport.Memory
	input ticcmd.Command
	err   error
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	network *transport.MemoryNetwork
	clock   *tics.ManualClock
	server  *Server
	game    *fakeGame
	events  *sinks.Recorder
	clients []*testClient
}

func (h *harness) wall() time.Time {
	return epoch.Add(time.Duration(h.clock.Now()) * time.Second / tics.Rate)
}

func newHarness(t *testing.T, inLevel bool, tweak func(*ServerConfig)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		network: transport.NewMemoryNetwork(),
		clock:   &tics.ManualClock{},
		game:    &fakeGame{level: inLevel, seed: 7},
		events:  &sinks.Recorder{},
	}
	tr, err := h.network.Listen("server")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := DefaultServerConfig()
	cfg.Admission.JoinDelay = 0
	cfg.MinDelay = 0
	cfg.Transport = tr
	cfg.Clock = h.clock
	cfg.Wall = h.wall
	cfg.Game = h.game
	if tweak != nil {
		tweak(&cfg)
	}
	h.server, err = NewServer(cfg, h.events)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return h
}

func testProfile(t *testing.T, name string, seed byte) auth.Profile {
	t.Helper()
	key, err := auth.KeyFromSeed(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	return auth.Profile{Name: name, Key: key}
}

func (h *harness) addClient(name string, profile auth.Profile) *testClient {
	h.t.Helper()
	tr, err := h.network.Listen(name)
	if err != nil {
		h.t.Fatalf("listen: %v", err)
	}
	tc := &testClient{game: &fakeGame{}, tr: tr}
	tc.Client, err = NewClient(ClientConfig{
		Profiles:  []auth.Profile{profile},
		Transport: tr,
		Clock:     h.clock,
		Wall:      h.wall,
		Game:      tc.game,
		Input:     ticcmd.InputFunc(func(int, int) ticcmd.Command { return tc.input }),
	}, nil)
	if err != nil {
		h.t.Fatalf("new client: %v", err)
	}
	if err := tc.Connect(h.ctx, "server"); err != nil {
		h.t.Fatalf("connect: %v", err)
	}
	h.clients = append(h.clients, tc)
	return tc
}

// step advances one tic and runs a full frame on every peer.
func (h *harness) step() {
	h.t.Helper()
	h.clock.Advance(1)
	if err := h.server.NetUpdate(h.ctx); err != nil {
		h.t.Fatalf("server net update: %v", err)
	}
	if err := h.server.RunTics(h.ctx); err != nil {
		h.t.Fatalf("server run tics: %v", err)
	}
	for _, c := range h.clients {
		if c.err != nil {
			continue
		}
		if c.err = c.NetUpdate(h.ctx); c.err == nil {
			c.err = c.RunTics(h.ctx)
		}
	}
}

func (h *harness) run(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.step()
	}
}

type slotView struct {
	InGame bool
	Node   int
	Split  int
	Name   string
}

func slots(reg *registry.Registry) []slotView {
	out := make([]slotView, 0, 16)
	for p := 0; p < 16; p++ {
		player := reg.Player(p)
		out = append(out, slotView{InGame: player.InGame, Node: player.Node, Split: player.Split, Name: player.Name})
	}
	return out
}

func TestClientsJoinAndStayInLockstep(t *testing.T) {
	h := newHarness(t, false, nil)
	alice := h.addClient("alice", testProfile(t, "Alice", 1))
	bob := h.addClient("bob", testProfile(t, "Bob", 2))
	h.run(20)

	for _, c := range []*testClient{alice, bob} {
		if c.err != nil {
			t.Fatalf("client error: %v", c.err)
		}
		if c.State() != join.Connected || !c.InGame() {
			t.Fatalf("client not in game: state=%s", c.State())
		}
	}
	if err := h.server.Registry().SlotOwners(); err != nil {
		t.Fatalf("slot ownership: %v", err)
	}
	if got := len(h.server.Registry().InGamePlayers()); got != 2 {
		t.Fatalf("expected 2 players in game, got %d", got)
	}
	want := slots(h.server.Registry())
	for _, c := range []*testClient{alice, bob} {
		if diff := cmp.Diff(want, slots(c.Registry())); diff != "" {
			t.Fatalf("client registry differs (-server +client):\n%s", diff)
		}
	}
	if got := len(h.events.OfType(lifecycle.EventPlayerJoined)); got != 2 {
		t.Fatalf("expected 2 join events, got %d", got)
	}

	alice.input = ticcmd.Command{ForwardMove: 10}
	h.run(20)
	if alice.GameTic() == 0 || alice.game.moves == 0 {
		t.Fatalf("alice's input never simulated")
	}
	if h.server.GameTic()-alice.GameTic() > 2 {
		t.Fatalf("client fell behind: server %d client %d", h.server.GameTic(), alice.GameTic())
	}
	if alice.game.moves != bob.game.moves && alice.GameTic() == bob.GameTic() {
		t.Fatalf("peers diverged: %d vs %d", alice.game.moves, bob.game.moves)
	}
}

func TestThirdJoinRefusedWhenFull(t *testing.T) {
	h := newHarness(t, false, func(cfg *ServerConfig) {
		cfg.Admission.MaxConnections = 2
	})
	h.addClient("a", testProfile(t, "First", 1))
	h.run(10)
	h.addClient("b", testProfile(t, "Second", 2))
	h.run(10)
	third := h.addClient("c", testProfile(t, "Third", 3))
	h.run(10)

	refusals := h.events.OfType(lifecycle.EventJoinRefused)
	if len(refusals) == 0 {
		t.Fatalf("expected a refusal")
	}
	payload := refusals[0].Payload.(lifecycle.JoinRefusedPayload)
	if payload.Reason != "Maximum players reached: 2" {
		t.Fatalf("unexpected refusal %q", payload.Reason)
	}
	if third.err != nil || third.State() == join.Connected {
		t.Fatalf("third client should keep waiting: state=%s err=%v", third.State(), third.err)
	}
	if len(h.server.Registry().InGamePlayers()) != 2 {
		t.Fatalf("server admitted too many players")
	}
}

func TestBannedAddressIsRefused(t *testing.T) {
	h := newHarness(t, false, nil)
	tr, err := h.network.Listen("scout")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	// Memory endpoints get sequential addresses; the next one is banned.
	next := tr.LocalAddr().Addr().Next()
	if err := h.server.Bans().Add(next, 0, "", "griefing", h.wall().Add(time.Hour)); err != nil {
		t.Fatalf("ban: %v", err)
	}
	c := h.addClient("banned", testProfile(t, "Banned", 4))
	if c.tr.LocalAddr().Addr() != next {
		t.Fatalf("unexpected address %s", c.tr.LocalAddr())
	}
	h.run(10)

	if !errors.Is(c.err, ErrAborted) {
		t.Fatalf("expected abort, got %v", c.err)
	}
	if !strings.Contains(c.Reason(), "temporarily") || !strings.Contains(c.Reason(), "griefing") {
		t.Fatalf("unexpected reason %q", c.Reason())
	}
}

func TestDesyncTriggersSingleResend(t *testing.T) {
	h := newHarness(t, true, nil)
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(10)
	if c.State() != join.Connected {
		t.Fatalf("not connected: %s (%v)", c.State(), c.err)
	}

	c.game.seed ^= 0x5a5a
	h.run(15)
	if got := len(h.events.OfType(resync.EventResendScheduled)); got != 1 {
		t.Fatalf("expected 1 resend, got %d", got)
	}
	if got := len(h.events.OfType(resync.EventResyncCompleted)); got != 1 {
		t.Fatalf("expected resync to complete, got %d", got)
	}
	if c.err != nil {
		t.Fatalf("client error: %v", c.err)
	}

	// Within the cooldown a new divergence is tolerated.
	c.game.seed ^= 0x0101
	h.run(20)
	if got := len(h.events.OfType(resync.EventResendScheduled)); got != 1 {
		t.Fatalf("resend during cooldown: %d", got)
	}
}

func TestResyncConverges(t *testing.T) {
	h := newHarness(t, true, nil)
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(10)
	c.game.seed ^= 0xffff
	h.run(20)

	if len(h.events.OfType(resync.EventResyncCompleted)) != 1 {
		t.Fatalf("resync did not complete")
	}
	if len(h.events.OfType(resync.EventResyncKick)) != 0 {
		t.Fatalf("unexpected resync kick")
	}
	at := c.GameTic()
	if at == 0 || at > h.server.GameTic() {
		t.Fatalf("client at tic %d, server at %d", at, h.server.GameTic())
	}
	if got, want := c.consist.At(at), h.server.consist.At(at); got != want {
		t.Fatalf("consistency at tic %d: client %d server %d", at, got, want)
	}
}

func TestIllegalCommandKicks(t *testing.T) {
	h := newHarness(t, false, nil)
	c := h.addClient("cheater", testProfile(t, "Cheater", 5))
	h.run(10)
	if !c.InGame() {
		t.Fatalf("client never joined")
	}

	c.input = ticcmd.Command{ForwardMove: ticcmd.MaxPlayerMove + 1}
	h.run(10)

	if !errors.Is(c.err, ErrAborted) {
		t.Fatalf("expected abort, got %v", c.err)
	}
	if c.Reason() != xcmd.KickConFail.ClientText("") {
		t.Fatalf("unexpected reason %q", c.Reason())
	}
	if len(h.server.Registry().InGamePlayers()) != 0 {
		t.Fatalf("player still in game")
	}
	if got := len(h.events.OfType(security.EventKickIssued)); got != 1 {
		t.Fatalf("expected 1 kick, got %d", got)
	}
}

func TestAdminKickBansAddress(t *testing.T) {
	admin := testProfile(t, "Admin", 6)
	h := newHarness(t, false, func(cfg *ServerConfig) {
		cfg.AdminKeys = []string{auth.KeyID(admin.Key.Public)}
	})
	a := h.addClient("admin", admin)
	victim := h.addClient("victim", testProfile(t, "Victim", 7))
	h.run(15)

	target := victim.Registry().NodeToSplitPlayer(victim.Node(), 0)
	if err := a.Kick(target, xcmd.KickCustomBan, "spam"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	h.run(10)

	if !errors.Is(victim.err, ErrAborted) || victim.Reason() != "You have been banned\n(spam)" {
		t.Fatalf("victim not kicked: %v %q", victim.err, victim.Reason())
	}
	if _, ok := h.server.Bans().Lookup(victim.tr.LocalAddr().Addr()); !ok {
		t.Fatalf("victim address not banned")
	}
	if a.err != nil || !a.InGame() {
		t.Fatalf("admin dropped: %v", a.err)
	}
}

func TestNonAdminKickTurnsOnIssuer(t *testing.T) {
	h := newHarness(t, false, nil)
	rogue := h.addClient("rogue", testProfile(t, "Rogue", 8))
	other := h.addClient("other", testProfile(t, "Other", 9))
	h.run(15)

	target := other.Registry().NodeToSplitPlayer(other.Node(), 0)
	if err := rogue.Kick(target, xcmd.KickGoAway, ""); err != nil {
		t.Fatalf("kick: %v", err)
	}
	h.run(10)

	if other.err != nil {
		t.Fatalf("target kicked: %v", other.err)
	}
	if !errors.Is(rogue.err, ErrAborted) {
		t.Fatalf("issuer not kicked: %v", rogue.err)
	}
}

func TestChallengeRoundPasses(t *testing.T) {
	h := newHarness(t, true, nil)
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(int(auth.ChallengeAllClientCutoff) + 20)

	if got := len(h.events.OfType(security.EventChallengeIssued)); got != 1 {
		t.Fatalf("expected 1 challenge round, got %d", got)
	}
	if got := len(h.events.OfType(security.EventSignatureFailed)); got != 0 {
		t.Fatalf("unexpected signature failures: %d", got)
	}
	if c.err != nil || c.State() != join.Connected {
		t.Fatalf("client dropped: state=%s err=%v", c.State(), c.err)
	}
}

func TestServerShutdownAbortsClients(t *testing.T) {
	h := newHarness(t, false, nil)
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(10)

	h.server.Close()
	h.clock.Advance(1)
	if err := c.NetUpdate(h.ctx); !errors.Is(err, ErrAborted) {
		t.Fatalf("expected abort, got %v", err)
	}
	if c.Reason() != "Server has shutdown" {
		t.Fatalf("unexpected reason %q", c.Reason())
	}
	if err := h.server.NetUpdate(h.ctx); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected shutdown, got %v", err)
	}
}

func TestStatusListsPlayersAndBots(t *testing.T) {
	alice := testProfile(t, "Alice", 1)
	h := newHarness(t, false, nil)
	h.addClient("alice", alice)
	h.run(10)
	if _, err := h.server.AddBot("Bot 1"); err != nil {
		t.Fatalf("add bot: %v", err)
	}
	h.run(5)

	st := h.server.Status()
	if st.Nodes != 1 {
		t.Fatalf("expected 1 node, got %d", st.Nodes)
	}
	var names []string
	for _, p := range st.Players {
		names = append(names, p.Name)
		switch {
		case p.Bot && p.Key != "":
			t.Fatalf("bot has a key: %+v", p)
		case !p.Bot && p.Key != auth.KeyID(alice.Key.Public):
			t.Fatalf("unexpected key %q", p.Key)
		}
	}
	if diff := cmp.Diff([]string{"Alice", "Bot 1"}, names); diff != "" {
		t.Fatalf("players (-want +got):\n%s", diff)
	}
}

// dropFromServer loses the server's packets of kind for which lose
// returns true. It reports how many were lost.
func (h *harness) dropFromServer(kind protocol.Kind, lose func(seen int) bool) *int {
	seen, dropped := 0, 0
	h.network.SetDrop(func(from, to string, data []byte) bool {
		if from != "server" || len(data) < protocol.HeaderSize || protocol.Kind(data[6]) != kind {
			return false
		}
		seen++
		if lose(seen) {
			dropped++
			return true
		}
		return false
	})
	return &dropped
}

func TestMalformedPacketClosesNode(t *testing.T) {
	cases := []struct {
		name    string
		kind    protocol.Kind
		payload []byte
	}{
		{name: "short client command", kind: protocol.KindClientCmd, payload: []byte{1, 2, 3}},
		{name: "unknown kind", kind: protocol.Kind(250)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, false, nil)
			c := h.addClient("alice", testProfile(t, "Alice", 1))
			h.run(10)
			node := c.Node()
			if !c.InGame() || !h.server.Registry().Node(node).InGame {
				t.Fatalf("client never joined")
			}

			if err := c.send(c.serverNode, tc.kind, tc.payload); err != nil {
				t.Fatalf("send: %v", err)
			}
			h.run(5)

			if h.server.Registry().Node(node).InGame {
				t.Fatalf("node %d still in game", node)
			}
			if got := len(h.server.Registry().InGamePlayers()); got != 0 {
				t.Fatalf("expected the node's player to be removed, %d left", got)
			}
		})
	}
}

func TestMalformedServerPacketAbortsClient(t *testing.T) {
	h := newHarness(t, false, nil)
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(10)
	if !c.InGame() {
		t.Fatalf("client never joined")
	}

	if err := h.server.send(c.Node(), protocol.KindServerTics, []byte{0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	h.run(1)

	if !errors.Is(c.err, ErrAborted) || c.Reason() != malformedReason {
		t.Fatalf("expected abort for a malformed packet, got %v %q", c.err, c.Reason())
	}
}

func TestLostSnapshotFragmentIsRequestedAgain(t *testing.T) {
	cases := []struct {
		name    string
		padding int
		lose    int
	}{
		{name: "only fragment", padding: 0, lose: 1},
		{name: "middle fragment", padding: 2 * protocol.MaxFragmentData, lose: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, false, nil)
			h.game.padding = make([]byte, tc.padding)
			if _, err := rand.Read(h.game.padding); err != nil {
				t.Fatalf("padding: %v", err)
			}
			dropped := h.dropFromServer(protocol.KindSaveGameFragment, func(seen int) bool { return seen == tc.lose })
			c := h.addClient("alice", testProfile(t, "Alice", 1))
			h.run(3 * tics.Rate)

			if *dropped != 1 {
				t.Fatalf("expected one lost fragment, lost %d", *dropped)
			}
			if c.err != nil || c.State() != join.Connected || !c.InGame() {
				t.Fatalf("client never finished joining: state=%s err=%v", c.State(), c.err)
			}
			if len(h.events.OfType(resync.EventFragmentsResent)) == 0 {
				t.Fatalf("expected fragments to be resent")
			}
			if !bytes.Equal(c.game.padding, h.game.padding) {
				t.Fatalf("client loaded a different state")
			}
		})
	}
}

func TestSnapshotDownloadGivesUp(t *testing.T) {
	h := newHarness(t, false, nil)
	h.dropFromServer(protocol.KindSaveGameFragment, func(int) bool { return true })
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(10)
	if c.State() != join.DownloadingSaveGame {
		t.Fatalf("expected to be downloading, state=%s err=%v", c.State(), c.err)
	}

	h.run(int(DefaultServerConfig().JoinTimeout) + 5)
	if !errors.Is(c.err, ErrAborted) || c.Reason() != "Timed out waiting for the game state." {
		t.Fatalf("expected download timeout, got %v %q", c.err, c.Reason())
	}
}

func TestLostResyncNoticeIsRepeated(t *testing.T) {
	h := newHarness(t, true, nil)
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(10)
	dropped := h.dropFromServer(protocol.KindWillResendGamestate, func(seen int) bool { return seen == 1 })

	c.game.seed ^= 0x5a5a
	h.run(5 * tics.Rate)

	if *dropped != 1 {
		t.Fatalf("expected the first notice to be lost, lost %d", *dropped)
	}
	if got := len(h.events.OfType(resync.EventResyncExpired)); got != 1 {
		t.Fatalf("expected 1 expired resync, got %d", got)
	}
	if got := len(h.events.OfType(resync.EventResyncCompleted)); got != 1 {
		t.Fatalf("expected resync to complete, got %d", got)
	}
	if h.server.tracker.ResendingToAnyone() {
		t.Fatalf("resync still marked in progress")
	}
	if c.err != nil {
		t.Fatalf("client error: %v", c.err)
	}
}

func TestUnansweredResyncKicks(t *testing.T) {
	h := newHarness(t, true, nil)
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(10)
	node := c.Node()
	h.dropFromServer(protocol.KindWillResendGamestate, func(int) bool { return true })

	c.game.seed ^= 0x5a5a
	h.run(3*int(consistency.ResyncTimeout) + 20)

	if h.server.Registry().Node(node).InGame {
		t.Fatalf("node %d kept in game after its resync attempts ran out", node)
	}
	if h.server.tracker.ResendingToAnyone() {
		t.Fatalf("abandoned resync still blocks other nodes")
	}
}

func TestResyncRejectsChangedKeys(t *testing.T) {
	h := newHarness(t, true, nil)
	alice := h.addClient("alice", testProfile(t, "Alice", 1))
	bob := h.addClient("bob", testProfile(t, "Bob", 2))
	h.run(15)
	if !alice.InGame() || !bob.InGame() {
		t.Fatalf("clients never joined")
	}

	slot := h.server.Registry().NodeToSplitPlayer(bob.Node(), 0)
	h.server.Registry().Player(slot).PublicKey = testProfile(t, "Impostor", 3).Key.Public
	alice.game.seed ^= 0x5a5a
	h.run(20)

	if !errors.Is(alice.err, ErrAborted) || !strings.Contains(alice.Reason(), "Gamestate reload contained new keys") {
		t.Fatalf("expected a signature failure, got %v %q", alice.err, alice.Reason())
	}
	if got := len(h.events.OfType(resync.EventResyncCompleted)); got != 0 {
		t.Fatalf("client acknowledged a tampered snapshot")
	}
}

func TestPingTableSentEverySecond(t *testing.T) {
	h := newHarness(t, false, nil)
	c := h.addClient("alice", testProfile(t, "Alice", 1))
	h.run(10)

	pings := 0
	h.network.SetDrop(func(from, to string, data []byte) bool {
		if from == "server" && len(data) >= protocol.HeaderSize && protocol.Kind(data[6]) == protocol.KindPing {
			pings++
		}
		return false
	})
	// Two tics per frame steps over every odd multiple of the tic rate.
	for i := 0; i < 5*tics.Rate; i++ {
		h.clock.Advance(2)
		if err := h.server.NetUpdate(h.ctx); err != nil {
			t.Fatalf("server net update: %v", err)
		}
		if err := h.server.RunTics(h.ctx); err != nil {
			t.Fatalf("server run tics: %v", err)
		}
		if err := c.NetUpdate(h.ctx); err != nil {
			t.Fatalf("client net update: %v", err)
		}
		if err := c.RunTics(h.ctx); err != nil {
			t.Fatalf("client run tics: %v", err)
		}
	}
	if pings != 10 {
		t.Fatalf("expected 10 ping tables in 10 seconds, got %d", pings)
	}
}
