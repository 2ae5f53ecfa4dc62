package sigverify

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces signatures the matching Verifier accepts. The vault never
// signs; signers exist for the producer-side tooling and tests.
type Signer interface {
	Sign(digest [32]byte) ([]byte, error)
	PublicKey() []byte
	Scheme() Scheme
}

type Ed25519Signer struct {
	key ed25519.PrivateKey
}

// NewEd25519Signer derives the key pair from a 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{key: ed25519.NewKeyFromSeed(seed)}, nil
}

func GenerateEd25519() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{key: priv}, nil
}

func (s *Ed25519Signer) Sign(digest [32]byte) ([]byte, error) {
	return ed25519.Sign(s.key, digest[:]), nil
}

func (s *Ed25519Signer) PublicKey() []byte {
	return []byte(s.key.Public().(ed25519.PublicKey))
}

func (s *Ed25519Signer) Seed() []byte { return s.key.Seed() }

func (s *Ed25519Signer) Scheme() Scheme { return Ed25519 }

type Secp256k1Signer struct {
	key *ecdsa.PrivateKey
}

func NewSecp256k1Signer(key *ecdsa.PrivateKey) *Secp256k1Signer {
	return &Secp256k1Signer{key: key}
}

func GenerateSecp256k1() (*Secp256k1Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Secp256k1Signer{key: key}, nil
}

// Sign returns R || S; the recovery byte is dropped.
func (s *Secp256k1Signer) Sign(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, err
	}
	return sig[:SignatureSize], nil
}

func (s *Secp256k1Signer) PublicKey() []byte {
	return crypto.CompressPubkey(&s.key.PublicKey)
}

func (s *Secp256k1Signer) Seed() []byte { return crypto.FromECDSA(s.key) }

func (s *Secp256k1Signer) Scheme() Scheme { return Secp256k1 }

// NewSigner loads a signer from a hex secret: the 32-byte seed for ed25519 or
// the 32-byte private scalar for secp256k1.
func NewSigner(scheme Scheme, secretHex string) (Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(secretHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	switch scheme {
	case Ed25519:
		return NewEd25519Signer(raw)
	case Secp256k1:
		key, err := crypto.ToECDSA(raw)
		if err != nil {
			return nil, fmt.Errorf("parse secp256k1 key: %w", err)
		}
		return NewSecp256k1Signer(key), nil
	default:
		return nil, fmt.Errorf("unsupported signature scheme %q", scheme)
	}
}
