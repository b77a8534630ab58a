// Package hash provides the self-describing digests used to link and
// identify operator log records.
//
// A Digest renders as "<algorithm>:<lowercase hex>", for example
// "sha256:9f86d081...". The algorithm tag travels with the value so a
// digest can be checked against the algorithm a log was initialised with.
package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Algorithm names a supported digest function.
type Algorithm string

const (
	SHA256   Algorithm = "sha256"
	SHA3_256 Algorithm = "sha3-256"
)

var (
	// ErrUnsupportedAlgorithm is returned for an algorithm name outside the supported set.
	ErrUnsupportedAlgorithm = errors.New("hash: unsupported algorithm")
	// ErrInvalidDigest is returned when a digest string is malformed.
	ErrInvalidDigest = errors.New("hash: invalid digest")
)

var sizes = map[Algorithm]int{
	SHA256:   sha256.Size,
	SHA3_256: 32,
}

// ParseAlgorithm returns the Algorithm for name.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(name)
	if !a.Supported() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return a, nil
}

// Supported reports whether a is one of the implemented algorithms.
func (a Algorithm) Supported() bool {
	_, ok := sizes[a]
	return ok
}

// Size returns the digest length in bytes, or 0 for an unsupported algorithm.
func (a Algorithm) Size() int {
	return sizes[a]
}

func (a Algorithm) String() string { return string(a) }

// Digest is a hash value tagged with the algorithm that produced it.
type Digest struct {
	Algorithm Algorithm
	Bytes     []byte
}

// Of hashes data with alg. It panics on an unsupported algorithm; callers
// hold a value that already passed ParseAlgorithm or Supported.
func Of(alg Algorithm, data []byte) Digest {
	var sum []byte
	switch alg {
	case SHA256:
		s := sha256.Sum256(data)
		sum = s[:]
	case SHA3_256:
		s := sha3.Sum256(data)
		sum = s[:]
	default:
		panic(fmt.Sprintf("hash: Of called with unsupported algorithm %q", alg))
	}
	return Digest{Algorithm: alg, Bytes: sum}
}

// Parse decodes the textual form "<algorithm>:<hex>".
func Parse(s string) (Digest, error) {
	name, hexPart, ok := strings.Cut(s, ":")
	if !ok {
		return Digest{}, fmt.Errorf("%w: missing algorithm prefix in %q", ErrInvalidDigest, s)
	}
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return Digest{}, err
	}
	if hexPart != strings.ToLower(hexPart) {
		return Digest{}, fmt.Errorf("%w: digest hex must be lowercase", ErrInvalidDigest)
	}
	b, err := hex.DecodeString(hexPart)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(b) != alg.Size() {
		return Digest{}, fmt.Errorf("%w: %s digest must be %d bytes, got %d", ErrInvalidDigest, alg, alg.Size(), len(b))
	}
	return Digest{Algorithm: alg, Bytes: b}, nil
}

// String returns the textual form of d.
func (d Digest) String() string {
	return string(d.Algorithm) + ":" + hex.EncodeToString(d.Bytes)
}

// IsZero reports whether d holds no value.
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && len(d.Bytes) == 0
}

// Equal reports whether d and other carry the same algorithm and bytes.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && bytes.Equal(d.Bytes, other.Bytes)
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
