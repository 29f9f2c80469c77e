package join

import (
	"math"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"kartsync/server/internal/auth"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
	"kartsync/server/internal/tics"
)

// Settings are the server options admission depends on.
type Settings struct {
	Netgame        bool
	Dedicated      bool
	MaxConnections int
	AllowJoin      bool
	AllowGuests    bool
	// JoinDelay is the join throttle in seconds; zero disables it.
	JoinDelay int
	// PerAddressInterval spaces join attempts from one address; zero
	// disables the per-address limiter.
	PerAddressInterval time.Duration
	PerAddressBurst    int
}

// Request is one ClientJoin from node.
type Request struct {
	Node   int
	Addr   netip.Addr
	Config protocol.ClientConfig
	Now    time.Time
}

// Accepted describes the players a node may add.
type Accepted struct {
	Waiting int
	Names   [protocol.MaxSplitscreen]string
	Keys    [protocol.MaxSplitscreen]protocol.PublicKey
}

const maxLimiters = 4096

// Admission runs the server's join checklist.
type Admission struct {
	reg       *registry.Registry
	settings  Settings
	joinDelay tics.Tic
	limiters  map[netip.Addr]*rate.Limiter
}

func NewAdmission(reg *registry.Registry, settings Settings) *Admission {
	return &Admission{reg: reg, settings: settings, limiters: make(map[netip.Addr]*rate.Limiter)}
}

// Settings returns the current options.
func (a *Admission) Settings() Settings {
	return a.settings
}

// Update replaces the options, e.g. after a console change.
func (a *Admission) Update(settings Settings) {
	a.settings = settings
}

// MaxPlayers is the session's effective capacity. A dedicated host keeps
// one slot for itself.
func (a *Admission) MaxPlayers() int {
	limit := protocol.MaxPlayers
	if a.settings.Dedicated {
		limit--
	}
	if a.settings.MaxConnections < limit {
		limit = a.settings.MaxConnections
	}
	return limit
}

// JoinDelay is the current throttle counter in tics.
func (a *Admission) JoinDelay() tics.Tic {
	return a.joinDelay
}

// NoteJoin charges the throttle for one admitted join.
func (a *Admission) NoteJoin() {
	a.joinDelay += tics.Tic(a.settings.JoinDelay * tics.Rate)
}

// Decay runs once per tic and bleeds the throttle off.
func (a *Admission) Decay() {
	if a.joinDelay > 0 {
		a.joinDelay--
	}
	if ceiling := tics.Tic(3 * a.settings.JoinDelay * tics.Rate); a.joinDelay > ceiling {
		a.joinDelay = ceiling
	}
}

// Check runs the checklist in order and returns the first failing check's
// refusal.
func (a *Admission) Check(req Request) (Accepted, *Refusal) {
	node := a.reg.Node(req.Node)
	if node == nil {
		return Accepted{}, &Refusal{Reason: ReasonIncompatible}
	}
	cfg := req.Config
	maxplayers := a.MaxPlayers()
	connected := a.reg.ConnectedPlayers()
	if a.settings.Dedicated && a.reg.Player(0).Node == 0 {
		connected--
	}
	local := int(cfg.LocalPlayers)

	if node.Ban.Active {
		left := node.Ban.Expires.Sub(req.Now)
		return Accepted{}, &Refusal{Reason: BanReason(node.Ban.Reason, left, node.Ban.Permanent())}
	}
	if cfg.Marker != protocol.Marker || cfg.PacketVersion != protocol.PacketVersion {
		return Accepted{}, &Refusal{Reason: ReasonIncompatible}
	}
	if cfg.Application != protocol.Application {
		return Accepted{}, &Refusal{Reason: ReasonModification}
	}
	if cfg.Version != protocol.Version || cfg.Subversion != protocol.Subversion {
		return Accepted{}, refuse("Different %s versions cannot\nplay a netgame!\n(server version %d.%d)", protocol.Application, protocol.Version, protocol.Subversion)
	}
	if !a.settings.AllowJoin && req.Node != 0 {
		return Accepted{}, &Refusal{Reason: ReasonJoinsDisabled}
	}
	if connected >= maxplayers {
		return Accepted{}, refuse("%s: %d", ReasonServerFullText, maxplayers)
	}
	if a.settings.Netgame {
		if local > protocol.MaxSplitscreen {
			return Accepted{}, &Refusal{Reason: ReasonTooManyLocal}
		}
		if connected+local > maxplayers {
			return Accepted{}, refuse("Number of local players\nwould exceed maximum: %d", maxplayers)
		}
		if local == 0 {
			return Accepted{}, &Refusal{Reason: ReasonNoPlayers}
		}
		if threshold := tics.Tic(2 * a.settings.JoinDelay * tics.Rate); a.settings.JoinDelay > 0 && a.joinDelay > threshold {
			return Accepted{}, refuse("Too many people are connecting.\nPlease wait %d seconds and then\ntry rejoining.", int((a.joinDelay-threshold)/tics.Rate))
		}
		if req.Node != 0 {
			if wait, ok := a.allowAddress(req.Addr, req.Now); !ok {
				return Accepted{}, refuse("You are connecting too quickly.\nPlease wait %d seconds and then\ntry rejoining.", wait)
			}
		}
	}

	var out Accepted
	out.Waiting = local - node.PlayersPerNode
	if out.Waiting < 0 {
		out.Waiting = 0
	}
	for i := 0; i < out.Waiting && i < protocol.MaxSplitscreen; i++ {
		name := cfg.Names[i]
		if !ValidName(a.reg, name) || duplicateName(out.Names[:i], name) {
			return Accepted{}, &Refusal{Reason: ReasonBadName}
		}
		out.Names[i] = name
		out.Keys[i] = node.LastReceivedKey[i]
		if req.Node == 0 {
			continue
		}
		if node.LastReceivedKey[i].IsZero() {
			if !a.settings.AllowGuests {
				return Accepted{}, &Refusal{Reason: ReasonNoGuests}
			}
			continue
		}
		if a.settings.Netgame && !auth.Verify(node.LastReceivedKey[i], node.LastSentChallenge[:], cfg.Responses[i]) {
			return Accepted{}, &Refusal{Reason: ReasonBadSignature}
		}
	}
	return out, nil
}

func duplicateName(taken []string, name string) bool {
	for _, other := range taken {
		if other == name {
			return true
		}
	}
	return false
}

// allowAddress spends one token of addr's limiter. When empty it reports
// how many whole seconds until the next attempt would pass.
func (a *Admission) allowAddress(addr netip.Addr, now time.Time) (int, bool) {
	if a.settings.PerAddressInterval <= 0 || !addr.IsValid() {
		return 0, true
	}
	addr = addr.Unmap()
	lim, ok := a.limiters[addr]
	if !ok {
		if len(a.limiters) >= maxLimiters {
			a.limiters = make(map[netip.Addr]*rate.Limiter)
		}
		burst := a.settings.PerAddressBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Every(a.settings.PerAddressInterval), burst)
		a.limiters[addr] = lim
	}
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return 0, false
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return 0, true
	}
	r.CancelAt(now)
	return int(math.Ceil(delay.Seconds())), false
}
