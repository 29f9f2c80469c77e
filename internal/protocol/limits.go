package protocol

const (
	// MaxPlayers is the number of player slots in a session.
	MaxPlayers = 16
	// MaxNodes is the number of transport nodes; node 0 is the local process.
	MaxNodes = 127
	// MaxSplitscreen is the number of players that may share one node.
	MaxSplitscreen = 4

	// MaxPacketLength is the largest datagram any peer will send.
	MaxPacketLength = 1450

	// PacketVersion changes whenever the wire format does.
	PacketVersion = 1
	// Marker is the fixed byte that opens join and info payloads.
	Marker = 255

	// Application names the build family; peers of another family cannot play together.
	Application = "KartSync"
	// Version and Subversion must match exactly between peers.
	Version    = 2
	Subversion = 3

	MaxPlayerName   = 21
	MaxServerName   = 32
	MaxAvailability = 8
	MaxReasonLength = 255
)

const (
	PublicKeySize   = 32
	SignatureSize   = 64
	ChallengeLength = 32
)

// PublicKey identifies a player profile. The all-zero key marks a guest.
type PublicKey [PublicKeySize]byte

// Signature is an ed25519 signature.
type Signature [SignatureSize]byte

// Challenge is the nonce a peer is asked to sign.
type Challenge [ChallengeLength]byte

// IsZero reports whether the key is the guest key.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// IsZero reports whether no signature was provided.
func (s Signature) IsZero() bool {
	return s == Signature{}
}
