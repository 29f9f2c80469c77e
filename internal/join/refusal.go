package join

import (
	"fmt"
	"strings"
	"time"

	"kartsync/server/internal/banlist"
	"kartsync/server/internal/protocol"
)

// Refusal is a failed admission. Reason is sent to the joiner verbatim.
type Refusal struct {
	Reason string
}

func (r *Refusal) Error() string {
	return "join refused: " + strings.ReplaceAll(r.Reason, "\n", " ")
}

func refuse(format string, args ...any) *Refusal {
	return &Refusal{Reason: fmt.Sprintf(format, args...)}
}

// Reasons with no parameters.
const (
	ReasonIncompatible   = "Incompatible packet formats."
	ReasonModification   = "Different " + protocol.Application + " modifications\nare not compatible."
	ReasonJoinsDisabled  = "The server is not accepting\njoins for the moment."
	ReasonTooManyLocal   = "Too many players from\nthis node."
	ReasonNoPlayers      = "No players from\nthis node."
	ReasonBadName        = "Bad player name"
	ReasonNoGuests       = "The server doesn't allow GUESTs.\nCreate a profile to join!"
	ReasonBadSignature   = "Signature verification failed."
	ReasonConfigFailed   = "Server couldn't send info, please try again"
	ReasonServerFullText = "Maximum players reached"
)

// BanReason renders the refusal for a banned address. Timed bans carry a
// "K|" prefix and the remaining time; permanent bans a "B|" prefix.
func BanReason(reason string, left time.Duration, permanent bool) string {
	if reason == "" {
		reason = banlist.DefaultReason
	}
	if permanent {
		return "B|" + reason
	}
	return fmt.Sprintf("K|%s\n(Time remaining: %s)", reason, banlist.RemainingText(left))
}

// RefusalKind classifies a refusal the client received.
type RefusalKind int

const (
	RefusalPlain RefusalKind = iota
	RefusalBanned
	RefusalKicked
	RefusalServerFull
)

// ParsedRefusal is a refusal as the client presents it.
type ParsedRefusal struct {
	Kind    RefusalKind
	Message string
}

// Retryable reports refusals after which the client keeps asking.
func (p ParsedRefusal) Retryable() bool {
	return p.Kind == RefusalServerFull
}

// ParseRefusal classifies reason and builds the text shown to the player.
func ParseRefusal(reason string) ParsedRefusal {
	if strings.Contains(reason, ReasonServerFullText) {
		return ParsedRefusal{Kind: RefusalServerFull, Message: reason}
	}
	if len(reason) >= 2 && reason[1] == '|' {
		switch reason[0] {
		case 'B':
			return ParsedRefusal{Kind: RefusalBanned, Message: "You have been banned\nfrom the server\n\nReason:\n" + reason[2:]}
		case 'K':
			return ParsedRefusal{Kind: RefusalKicked, Message: "You have been temporarily\nkicked from the server\n\nReason:\n" + reason[2:]}
		}
	}
	return ParsedRefusal{Kind: RefusalPlain, Message: "Server refuses connection\n\nReason:\n" + reason}
}
