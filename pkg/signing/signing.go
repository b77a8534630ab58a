// Package signing implements the key and signature primitives used by
// operator log envelopes.
//
// Keys and signatures render as "<scheme>:<base64>". Two schemes are
// supported:
//   - ecdsa-p256: SEC1 compressed public keys, ASN.1 DER signatures over SHA-256(msg)
//   - ed25519:    raw 32-byte public keys, 64-byte signatures over msg
package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Scheme names a signature scheme.
type Scheme string

const (
	ECDSAP256 Scheme = "ecdsa-p256"
	Ed25519   Scheme = "ed25519"
)

var (
	ErrUnsupportedScheme = errors.New("signing: unsupported scheme")
	ErrInvalidPublicKey  = errors.New("signing: invalid public key")
	ErrInvalidPrivateKey = errors.New("signing: invalid private key")
	ErrInvalidSignature  = errors.New("signing: invalid signature encoding")
	ErrVerification      = errors.New("signing: signature verification failed")
)

// KeyID is the fingerprint of a public key: "sha256:<hex>" over the key's
// textual encoding.
type KeyID string

func (id KeyID) String() string { return string(id) }

// PublicKey is a verifying key in one of the supported schemes.
type PublicKey struct {
	scheme Scheme
	raw    []byte
}

// ParsePublicKey decodes the textual form of a public key.
func ParsePublicKey(s string) (PublicKey, error) {
	scheme, raw, err := splitEncoded(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	switch scheme {
	case ECDSAP256:
		x, _ := elliptic.UnmarshalCompressed(elliptic.P256(), raw)
		if x == nil {
			return PublicKey{}, fmt.Errorf("%w: not a compressed P-256 point", ErrInvalidPublicKey)
		}
	case Ed25519:
		if len(raw) != ed25519.PublicKeySize {
			return PublicKey{}, fmt.Errorf("%w: ed25519 key must be %d bytes", ErrInvalidPublicKey, ed25519.PublicKeySize)
		}
	default:
		return PublicKey{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return PublicKey{scheme: scheme, raw: raw}, nil
}

// Scheme returns the key's signature scheme.
func (k PublicKey) Scheme() Scheme { return k.scheme }

// IsZero reports whether k is the zero value.
func (k PublicKey) IsZero() bool { return k.scheme == "" }

// String returns the textual form of k.
func (k PublicKey) String() string {
	if k.IsZero() {
		return ""
	}
	return string(k.scheme) + ":" + base64.StdEncoding.EncodeToString(k.raw)
}

// Fingerprint returns the KeyID of k.
func (k PublicKey) Fingerprint() KeyID {
	sum := sha256.Sum256([]byte(k.String()))
	return KeyID("sha256:" + hex.EncodeToString(sum[:]))
}

// Equal reports whether k and other are the same key.
func (k PublicKey) Equal(other PublicKey) bool {
	return k.String() == other.String()
}

// Signature is an encoded signature value.
type Signature struct {
	scheme Scheme
	raw    []byte
}

// ParseSignature decodes the textual form of a signature.
func ParseSignature(s string) (Signature, error) {
	scheme, raw, err := splitEncoded(s)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	switch scheme {
	case ECDSAP256:
		if len(raw) == 0 {
			return Signature{}, fmt.Errorf("%w: empty ecdsa signature", ErrInvalidSignature)
		}
	case Ed25519:
		if len(raw) != ed25519.SignatureSize {
			return Signature{}, fmt.Errorf("%w: ed25519 signature must be %d bytes", ErrInvalidSignature, ed25519.SignatureSize)
		}
	default:
		return Signature{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return Signature{scheme: scheme, raw: raw}, nil
}

// Scheme returns the signature's scheme.
func (s Signature) Scheme() Scheme { return s.scheme }

// String returns the textual form of s.
func (s Signature) String() string {
	if s.scheme == "" {
		return ""
	}
	return string(s.scheme) + ":" + base64.StdEncoding.EncodeToString(s.raw)
}

// Verify checks sig over msg with key. It returns ErrVerification (wrapped)
// on any mismatch, including a scheme mismatch between key and signature.
func Verify(key PublicKey, msg []byte, sig Signature) error {
	if key.scheme != sig.scheme {
		return fmt.Errorf("%w: key scheme %s, signature scheme %s", ErrVerification, key.scheme, sig.scheme)
	}
	switch key.scheme {
	case ECDSAP256:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), key.raw)
		if x == nil {
			return fmt.Errorf("%w: corrupt key", ErrVerification)
		}
		pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		digest := sha256.Sum256(msg)
		if !ecdsa.VerifyASN1(pub, digest[:], sig.raw) {
			return ErrVerification
		}
	case Ed25519:
		if !ed25519.Verify(ed25519.PublicKey(key.raw), msg, sig.raw) {
			return ErrVerification
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, key.scheme)
	}
	return nil
}

// PrivateKey is a signing key in one of the supported schemes.
type PrivateKey struct {
	scheme Scheme
	ecdsa  *ecdsa.PrivateKey
	ed     ed25519.PrivateKey
}

// GenerateKey creates a new random private key for scheme.
func GenerateKey(scheme Scheme) (*PrivateKey, error) {
	switch scheme {
	case ECDSAP256:
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ecdsa key: %w", err)
		}
		return &PrivateKey{scheme: scheme, ecdsa: k}, nil
	case Ed25519:
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		return &PrivateKey{scheme: scheme, ed: k}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// ParsePrivateKey decodes the textual form produced by PrivateKey.String.
// ecdsa-p256 keys carry the 32-byte scalar, ed25519 keys the 32-byte seed.
func ParsePrivateKey(s string) (*PrivateKey, error) {
	scheme, raw, err := splitEncoded(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	switch scheme {
	case ECDSAP256:
		if len(raw) != 32 {
			return nil, fmt.Errorf("%w: ecdsa-p256 scalar must be 32 bytes", ErrInvalidPrivateKey)
		}
		curve := elliptic.P256()
		d := new(big.Int).SetBytes(raw)
		if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
			return nil, fmt.Errorf("%w: scalar out of range", ErrInvalidPrivateKey)
		}
		k := &ecdsa.PrivateKey{D: d}
		k.Curve = curve
		k.X, k.Y = curve.ScalarBaseMult(raw)
		return &PrivateKey{scheme: scheme, ecdsa: k}, nil
	case Ed25519:
		if len(raw) != ed25519.SeedSize {
			return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes", ErrInvalidPrivateKey, ed25519.SeedSize)
		}
		return &PrivateKey{scheme: scheme, ed: ed25519.NewKeyFromSeed(raw)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// String returns the textual form of k. Treat the result as secret.
func (k *PrivateKey) String() string {
	var raw []byte
	switch k.scheme {
	case ECDSAP256:
		raw = k.ecdsa.D.FillBytes(make([]byte, 32))
	case Ed25519:
		raw = k.ed.Seed()
	}
	return string(k.scheme) + ":" + base64.StdEncoding.EncodeToString(raw)
}

// Public returns the verifying key for k.
func (k *PrivateKey) Public() PublicKey {
	switch k.scheme {
	case ECDSAP256:
		return PublicKey{scheme: k.scheme, raw: elliptic.MarshalCompressed(elliptic.P256(), k.ecdsa.X, k.ecdsa.Y)}
	case Ed25519:
		return PublicKey{scheme: k.scheme, raw: []byte(k.ed.Public().(ed25519.PublicKey))}
	}
	return PublicKey{}
}

// Sign signs msg.
func (k *PrivateKey) Sign(msg []byte) (Signature, error) {
	switch k.scheme {
	case ECDSAP256:
		digest := sha256.Sum256(msg)
		raw, err := ecdsa.SignASN1(rand.Reader, k.ecdsa, digest[:])
		if err != nil {
			return Signature{}, fmt.Errorf("ecdsa sign: %w", err)
		}
		return Signature{scheme: k.scheme, raw: raw}, nil
	case Ed25519:
		return Signature{scheme: k.scheme, raw: ed25519.Sign(k.ed, msg)}, nil
	}
	return Signature{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, k.scheme)
}

func splitEncoded(s string) (Scheme, []byte, error) {
	name, b64, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return "", nil, errors.New("missing scheme prefix")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("decode base64: %w", err)
	}
	return Scheme(name), raw, nil
}
