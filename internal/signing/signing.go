// Package signing verifies and produces Ed25519 signatures over canonical
// payloads. Identities are base64 encoded public keys.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when an identity does not decode to an Ed25519 public key.
	ErrInvalidKey = errors.New("invalid public key")
	// ErrInvalidSignature is returned when a signature does not match the payload.
	ErrInvalidSignature = errors.New("invalid signature")
)

var enc = base64.StdEncoding

// Authenticator checks that identity signed payload.
type Authenticator interface {
	Verify(identity, signature string, payload []byte) error
}

// Ed25519Authenticator verifies base64 encoded Ed25519 signatures.
type Ed25519Authenticator struct{}

// Verify implements Authenticator.
func (Ed25519Authenticator) Verify(identity, signature string, payload []byte) error {
	pub, err := ParseIdentity(identity)
	if err != nil {
		return err
	}
	sig, err := enc.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(pub, payload, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseIdentity decodes a base64 identity into a public key.
func ParseIdentity(identity string) (ed25519.PublicKey, error) {
	raw, err := enc.DecodeString(identity)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.PublicKey(raw), nil
}

// Signer holds a private key and signs payloads on behalf of its identity.
type Signer struct {
	key      ed25519.PrivateKey
	identity string
}

// NewSigner builds a signer from a 32 byte seed.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Signer{key: key, identity: enc.EncodeToString(key.Public().(ed25519.PublicKey))}, nil
}

// NewSignerFromBase64 decodes a base64 seed and builds a signer.
func NewSignerFromBase64(seed string) (*Signer, error) {
	raw, err := enc.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	return NewSigner(raw)
}

// GenerateSigner returns a signer backed by a fresh random key.
func GenerateSigner() (*Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewSigner(seed)
}

// Identity is the base64 public key.
func (s *Signer) Identity() string { return s.identity }

// Seed returns the base64 seed the signer was built from.
func (s *Signer) Seed() string { return enc.EncodeToString(s.key.Seed()) }

// Sign returns the base64 signature of payload.
func (s *Signer) Sign(payload []byte) string {
	return enc.EncodeToString(ed25519.Sign(s.key, payload))
}
