package join

import (
	"strings"

	"kartsync/server/internal/protocol"
	"kartsync/server/internal/registry"
)

// ValidName reports whether name may be used by a joining player. Names must
// be printable, trimmed, not purely numeric and not already taken.
func ValidName(reg *registry.Registry, name string) bool {
	if name == "" || len(name) > protocol.MaxPlayerName {
		return false
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	digits := true
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c > 0x7E {
			return false
		}
		if c < '0' || c > '9' {
			digits = false
		}
	}
	if digits {
		return false
	}
	for _, p := range reg.InGamePlayers() {
		if strings.EqualFold(reg.Player(p).Name, name) {
			return false
		}
	}
	return true
}
