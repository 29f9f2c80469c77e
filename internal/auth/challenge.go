package auth

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"net/netip"
	"time"

	"kartsync/server/internal/protocol"
)

// FreshnessWindow bounds how far a challenge timestamp may drift from the
// signer's clock.
const FreshnessWindow = 5 * time.Minute

// SignResult explains why a challenge is or is not safe to sign.
type SignResult int

const (
	SignOK SignResult = iota
	SignBadTime
	SignBadIP
	SignMalformed
)

func (r SignResult) String() string {
	switch r {
	case SignOK:
		return "ok"
	case SignBadTime:
		return "bad_time"
	case SignBadIP:
		return "bad_ip"
	default:
		return "malformed"
	}
}

// JoinMessage is shown when a server's join challenge is refused.
func (r SignResult) JoinMessage() string {
	switch r {
	case SignOK:
		return ""
	case SignBadIP:
		return "External server IP didn't match the message it sent."
	case SignBadTime:
		return "External server sent a message with an unusual timestamp.\nCheck your clocks!"
	default:
		return "asked for a signature on something strange"
	}
}

// SigfailMessage is shown when an in-game challenge is refused.
func (r SignResult) SigfailMessage() string {
	switch r {
	case SignOK:
		return ""
	case SignBadIP:
		return "External server sent the wrong IP"
	case SignBadTime:
		return "Bad timestamp - check your clocks"
	default:
		return "Unknown auth error - contact a developer"
	}
}

// GenerateChallenge fills a challenge with random bytes, then stamps the
// wall-clock time and the server's IPv4 address over the front so a
// signature cannot be reused later or against another server.
func GenerateChallenge(random io.Reader, now time.Time, serverIP netip.Addr) (protocol.Challenge, error) {
	if random == nil {
		random = rand.Reader
	}
	var c protocol.Challenge
	if _, err := io.ReadFull(random, c[:]); err != nil {
		return protocol.Challenge{}, err
	}
	binary.LittleEndian.PutUint64(c[0:8], uint64(now.Unix()))
	ip := ipv4Bytes(serverIP)
	copy(c[8:12], ip[:])
	return c, nil
}

// ChallengeTime extracts the embedded timestamp.
func ChallengeTime(c protocol.Challenge) time.Time {
	return time.Unix(int64(binary.LittleEndian.Uint64(c[0:8])), 0)
}

// ShouldSign decides whether a challenge was generated for us just now by
// the server we are actually talking to.
func ShouldSign(message []byte, now time.Time, observedServer netip.Addr) SignResult {
	if len(message) != protocol.ChallengeLength {
		return SignMalformed
	}
	var c protocol.Challenge
	copy(c[:], message)
	drift := now.Sub(ChallengeTime(c))
	if drift < 0 {
		drift = -drift
	}
	if drift > FreshnessWindow {
		return SignBadTime
	}
	observed := ipv4Bytes(observedServer)
	var claimed [4]byte
	copy(claimed[:], c[8:12])
	if observed != claimed && IsExternalAddress(observedServer) {
		return SignBadIP
	}
	return SignOK
}

// IsExternalAddress reports whether addr is publicly routable IPv4 space.
// Broadcast, this-network, private and loopback ranges are internal.
func IsExternalAddress(addr netip.Addr) bool {
	ip := ipv4Bytes(addr)
	if ip == [4]byte{255, 255, 255, 255} {
		return false
	}
	switch ip[0] {
	case 0, 10, 127:
		return false
	case 172:
		return ip[1]&^15 != 16
	case 192:
		return ip[1] != 168
	default:
		return true
	}
}

func ipv4Bytes(addr netip.Addr) [4]byte {
	addr = addr.Unmap()
	if !addr.Is4() {
		return [4]byte{}
	}
	return addr.As4()
}
