package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"lukechampine.com/blake3"

	"kartsync/server/internal/protocol"
)

// ErrSelfVerify means a freshly made signature failed its own check, which
// points at a corrupted profile rather than a network problem.
var ErrSelfVerify = errors.New("auth: could not self-verify signature")

// KeyPair is a profile's signing identity. The private half never leaves
// the process that owns it.
type KeyPair struct {
	Public  protocol.PublicKey
	private ed25519.PrivateKey
}

// GenerateKey creates a new key pair from rand.
func GenerateKey(rand io.Reader) (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	var kp KeyPair
	copy(kp.Public[:], pub)
	kp.private = priv
	return kp, nil
}

// KeyFromSeed derives a key pair from a 32 byte seed.
func KeyFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("auth: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var kp KeyPair
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	kp.private = priv
	return kp, nil
}

// Guest reports a key pair with no private half.
func (k KeyPair) Guest() bool {
	return len(k.private) == 0
}

// Sign signs message and checks the result against the public key. Guests
// produce the zero signature.
func (k KeyPair) Sign(message []byte) (protocol.Signature, error) {
	var sig protocol.Signature
	if k.Guest() {
		return sig, nil
	}
	copy(sig[:], ed25519.Sign(k.private, message))
	if !Verify(k.Public, message, sig) {
		return protocol.Signature{}, ErrSelfVerify
	}
	return sig, nil
}

// Verify checks sig over message against pub. The guest key never verifies.
func Verify(pub protocol.PublicKey, message []byte, sig protocol.Signature) bool {
	if pub.IsZero() {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), message, sig[:])
}

// PrettyID is a short printable fingerprint of a key or signature.
func PrettyID(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:6])
}

// KeyID fingerprints a public key; the guest key prints as "guest".
func KeyID(key protocol.PublicKey) string {
	if key.IsZero() {
		return "guest"
	}
	return PrettyID(key[:])
}

// Profile is a local player's identity.
type Profile struct {
	Name string
	Key  KeyPair
}

// Guest reports a profile without a key.
func (p Profile) Guest() bool {
	return p.Key.Guest()
}
