// Package sigverify checks detached signatures over 32-byte payload digests.
//
// A bad signature is an expected outcome, so Verify returns false instead of
// an error. Malformed keys and signatures of the wrong length also verify as
// false.
package sigverify

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Scheme names a signature algorithm.
type Scheme string

const (
	Ed25519   Scheme = "ed25519"
	Secp256k1 Scheme = "secp256k1"
)

const (
	SignatureSize          = 64
	Ed25519KeySize         = ed25519.PublicKeySize
	Secp256k1CompressedLen = 33
)

func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", Ed25519:
		return Ed25519, nil
	case Secp256k1:
		return Secp256k1, nil
	default:
		return "", fmt.Errorf("unsupported signature scheme %q", s)
	}
}

// Verifier checks signatures for one scheme.
type Verifier interface {
	Verify(digest [32]byte, sig, pub []byte) bool
	// KeySize is the encoded public key length accepted by Verify.
	KeySize() int
	Scheme() Scheme
}

func NewVerifier(s Scheme) (Verifier, error) {
	switch s {
	case Ed25519:
		return ed25519Verifier{}, nil
	case Secp256k1:
		return secp256k1Verifier{}, nil
	default:
		return nil, fmt.Errorf("unsupported signature scheme %q", s)
	}
}

type ed25519Verifier struct{}

func (ed25519Verifier) Verify(digest [32]byte, sig, pub []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig)
}

func (ed25519Verifier) KeySize() int   { return Ed25519KeySize }
func (ed25519Verifier) Scheme() Scheme { return Ed25519 }

// secp256k1Verifier expects a compressed public key and a 64-byte R || S
// signature (no recovery byte). High-S signatures are rejected.
type secp256k1Verifier struct{}

func (secp256k1Verifier) Verify(digest [32]byte, sig, pub []byte) bool {
	if len(pub) != Secp256k1CompressedLen || len(sig) != SignatureSize {
		return false
	}
	return crypto.VerifySignature(pub, digest[:], sig)
}

func (secp256k1Verifier) KeySize() int   { return Secp256k1CompressedLen }
func (secp256k1Verifier) Scheme() Scheme { return Secp256k1 }
