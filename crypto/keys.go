package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PrivateKey is an agent's ed25519 signing key.
type PrivateKey []byte

// PublicKey is an agent's ed25519 verification key. Its hex form is the
// agent id carried in every action, link and signed call.
type PublicKey []byte

// GenerateKeyPair creates a fresh agent key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate agent key: %w", err)
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// Hex is the agent id.
func (pub PublicKey) Hex() string { return hex.EncodeToString(pub) }

// Short is the agent id prefix used in log lines.
func (pub PublicKey) Short() string {
	h := pub.Hex()
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func (priv PrivateKey) Hex() string { return hex.EncodeToString(priv) }

// Public derives the agent's public key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// PubKeyFromHex parses an agent id.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := decodeKey("agent id", s, ed25519.PublicKeySize)
	return PublicKey(b), err
}

// PrivKeyFromHex parses a hex signing key as stored by the keystore.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := decodeKey("signing key", s, ed25519.PrivateKeySize)
	return PrivateKey(b), err
}

func decodeKey(what, s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s is not hex: %w", what, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", what, size, len(b))
	}
	return b, nil
}
