package operator

import (
	"fmt"
	"time"

	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

// Permission is a right a key can hold in the operator log.
type Permission uint8

const (
	// PermissionCommit allows a key to append authorization records to
	// subordinate logs and to administer other keys here.
	PermissionCommit Permission = 1
)

// Valid reports whether p is a defined permission.
func (p Permission) Valid() bool {
	return p == PermissionCommit
}

func (p Permission) String() string {
	switch p {
	case PermissionCommit:
		return "commit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// ParsePermission returns the permission named s.
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "commit":
		return PermissionCommit, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperatorPermission, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperatorPermission, uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(text []byte) error {
	v, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Entry is one operation inside a record. The set of variants is closed:
// Init, GrantFlat and RevokeFlat.
type Entry interface {
	entry()
}

// Init declares the log's hash algorithm and founding key. It may only
// appear as the first entry of the first record.
type Init struct {
	HashAlgorithm hash.Algorithm
	Key           signing.PublicKey
}

// GrantFlat grants Permission to Key, not scoped to any resource.
type GrantFlat struct {
	Key        signing.PublicKey
	Permission Permission
}

// RevokeFlat removes Permission from the key identified by KeyID.
type RevokeFlat struct {
	KeyID      signing.KeyID
	Permission Permission
}

func (Init) entry()       {}
func (GrantFlat) entry()  {}
func (RevokeFlat) entry() {}

// Record is one link in the operator log chain.
type Record struct {
	// Prev is the id of the preceding record; nil only for the first record.
	Prev      *hash.Digest
	Version   uint32
	Timestamp time.Time
	Entries   []Entry
}

// Envelope is a record's canonical bytes together with its signer and
// signature as received from a submitter.
type Envelope struct {
	ContentBytes []byte        `json:"content_bytes"`
	KeyID        signing.KeyID `json:"key_id"`
	Signature    string        `json:"signature"`
}

// SignedRecord is a decoded record ready for validation.
type SignedRecord struct {
	Record *Record
	// ContentBytes are the bytes that were signed. When nil, the canonical
	// encoding of Record is used.
	ContentBytes []byte
	KeyID        signing.KeyID
	Signature    signing.Signature
}

// Head is the tip of the chain.
type Head struct {
	RecordID  hash.Digest `json:"record_id"`
	Timestamp time.Time   `json:"timestamp"`
}
