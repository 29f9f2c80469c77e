package xcmd

import (
	"fmt"

	"kartsync/server/internal/protocol"
)

// KickMessage says why a player is being removed by XD_KICK.
type KickMessage uint8

const (
	KickGoAway KickMessage = iota
	KickPingHigh
	KickConFail
	KickTimeout
	KickSigFail
	KickPlayerQuit
	KickBanned
	KickCustomKick
	KickCustomBan
)

func (m KickMessage) String() string {
	switch m {
	case KickGoAway:
		return "go_away"
	case KickPingHigh:
		return "ping_high"
	case KickConFail:
		return "con_fail"
	case KickTimeout:
		return "timeout"
	case KickSigFail:
		return "sigfail"
	case KickPlayerQuit:
		return "player_quit"
	case KickBanned:
		return "banned"
	case KickCustomKick:
		return "custom_kick"
	case KickCustomBan:
		return "custom_ban"
	default:
		return fmt.Sprintf("kick(%d)", uint8(m))
	}
}

// HasReason reports whether the message carries a free-form reason.
func (m KickMessage) HasReason() bool {
	return m == KickCustomKick || m == KickCustomBan
}

// TemporaryBan reports kicks that also ban the address for kicktime minutes.
func (m KickMessage) TemporaryBan() bool {
	return m == KickGoAway || m == KickCustomKick
}

// PermanentBan reports kicks that ban the address for good.
func (m KickMessage) PermanentBan() bool {
	return m == KickBanned || m == KickCustomBan
}

// Reason maps a kick onto the removal reason peers record.
func (m KickMessage) Reason() RemoveReason {
	switch m {
	case KickGoAway, KickCustomKick:
		return RemoveKick
	case KickPingHigh:
		return RemovePingLimit
	case KickConFail:
		return RemoveSynch
	case KickTimeout, KickSigFail:
		return RemoveTimeout
	case KickPlayerQuit:
		return RemoveLeave
	case KickBanned, KickCustomBan:
		return RemoveBan
	default:
		return RemoveKick
	}
}

// ChatText is what every peer prints when name is kicked.
func (m KickMessage) ChatText(name, reason string) string {
	switch m {
	case KickGoAway:
		return fmt.Sprintf("*%s has been kicked (No reason given)", name)
	case KickPingHigh:
		return fmt.Sprintf("*%s left the game (Broke delay limit)", name)
	case KickConFail:
		return fmt.Sprintf("*%s left the game (Synch failure)", name)
	case KickTimeout:
		return fmt.Sprintf("*%s left the game (Connection timeout)", name)
	case KickSigFail:
		return fmt.Sprintf("*%s left the game (Invalid signature)", name)
	case KickPlayerQuit:
		return fmt.Sprintf("*%s left the game", name)
	case KickBanned:
		return fmt.Sprintf("*%s has been banned (No reason given)", name)
	case KickCustomKick:
		return fmt.Sprintf("*%s has been kicked (%s)", name, reason)
	case KickCustomBan:
		return fmt.Sprintf("*%s has been banned (%s)", name, reason)
	default:
		return fmt.Sprintf("*%s left the game", name)
	}
}

// ClientText is shown to the player who was kicked.
func (m KickMessage) ClientText(reason string) string {
	switch m {
	case KickConFail:
		return "Server closed connection\n(Synch failure)"
	case KickPingHigh:
		return "Server closed connection\n(Broke delay limit)"
	case KickBanned:
		return "You have been banned by the server"
	case KickCustomKick:
		return fmt.Sprintf("You have been kicked\n(%s)", reason)
	case KickCustomBan:
		return fmt.Sprintf("You have been banned\n(%s)", reason)
	case KickSigFail:
		return "Server closed connection\n(Invalid signature)"
	default:
		return "You have been kicked by the server"
	}
}

// RemoveReason is carried by XD_REMOVEPLAYER.
type RemoveReason uint8

const (
	RemoveKick RemoveReason = iota
	RemovePingLimit
	RemoveSynch
	RemoveTimeout
	RemoveBan
	RemoveLeave
)

func (r RemoveReason) String() string {
	switch r {
	case RemoveKick:
		return "kick"
	case RemovePingLimit:
		return "ping_limit"
	case RemoveSynch:
		return "synch"
	case RemoveTimeout:
		return "timeout"
	case RemoveBan:
		return "ban"
	case RemoveLeave:
		return "leave"
	default:
		return fmt.Sprintf("remove(%d)", uint8(r))
	}
}

// Kick is the XD_KICK payload.
type Kick struct {
	Player  uint8
	Message KickMessage
	Reason  string
}

func (k Kick) Params() []byte {
	out := []byte{k.Player, byte(k.Message)}
	if k.Message.HasReason() {
		out = appendReason(out, k.Reason)
	}
	return out
}

func DecodeKick(params []byte) (Kick, error) {
	r := protocol.NewReader(params)
	k := Kick{Player: r.U8(), Message: KickMessage(r.U8())}
	if k.Message.HasReason() {
		k.Reason = r.LenString()
	}
	return k, r.Done()
}

// AddPlayer is the XD_ADDPLAYER payload announcing a slot assignment.
type AddPlayer struct {
	Node   uint8
	Player uint8
	Split  uint8
	Name   string
	Key    protocol.PublicKey
	Admin  bool
}

func (a AddPlayer) Params() []byte {
	out := []byte{a.Node, a.Player, a.Split}
	out = appendReason(out, a.Name)
	out = append(out, a.Key[:]...)
	if a.Admin {
		return append(out, 1)
	}
	return append(out, 0)
}

func DecodeAddPlayer(params []byte) (AddPlayer, error) {
	r := protocol.NewReader(params)
	a := AddPlayer{Node: r.U8(), Player: r.U8(), Split: r.U8()}
	a.Name = r.LenString()
	r.Read(a.Key[:])
	a.Admin = r.U8() != 0
	if err := r.Done(); err != nil {
		return AddPlayer{}, err
	}
	if a.Split >= protocol.MaxSplitscreen || a.Player >= protocol.MaxPlayers {
		return AddPlayer{}, fmt.Errorf("%w: player %d split %d", protocol.ErrLengthMismatch, a.Player, a.Split)
	}
	return a, nil
}

// RemovePlayer is the XD_REMOVEPLAYER payload.
type RemovePlayer struct {
	Player uint8
	Reason RemoveReason
}

func (r RemovePlayer) Params() []byte {
	return []byte{r.Player, byte(r.Reason)}
}

func DecodeRemovePlayer(params []byte) (RemovePlayer, error) {
	r := protocol.NewReader(params)
	out := RemovePlayer{Player: r.U8(), Reason: RemoveReason(r.U8())}
	return out, r.Done()
}

func appendReason(dst []byte, s string) []byte {
	if len(s) > 200 {
		s = s[:200]
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}
