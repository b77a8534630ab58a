package operator

import (
	"fmt"
	"sort"
	"time"

	"github.com/jmerrifield20/operatorlog/pkg/hash"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

// Option configures a LogState.
type Option func(*LogState)

// WithFounderCommit controls whether the key named by Init is granted
// PermissionCommit when the log is initialised. Enabled by default; when
// disabled the founder can sign records but cannot administer keys.
func WithFounderCommit(enabled bool) Option {
	return func(s *LogState) { s.founderCommit = enabled }
}

// WithMaxProtocolVersion sets the highest record version accepted. Records
// with versions 0 through v are accepted. The default is 0.
func WithMaxProtocolVersion(v uint32) Option {
	return func(s *LogState) { s.maxVersion = v }
}

// LogState is the validation state of one operator log. The zero value is
// not usable; create one with NewLogState. A LogState is not safe for
// concurrent use.
type LogState struct {
	founderCommit bool
	maxVersion    uint32

	head          *Head
	length        int
	algorithm     hash.Algorithm
	lastTimestamp time.Time
	founder       signing.KeyID
	keys          map[signing.KeyID]signing.PublicKey
	permissions   map[signing.KeyID]map[Permission]struct{}
}

// NewLogState returns an empty log state.
func NewLogState(opts ...Option) *LogState {
	s := &LogState{
		founderCommit: true,
		keys:          make(map[signing.KeyID]signing.PublicKey),
		permissions:   make(map[signing.KeyID]map[Permission]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append parses and decodes env and validates the result. See Validate.
func (s *LogState) Append(env Envelope) (hash.Digest, error) {
	sig, err := signing.ParseSignature(env.Signature)
	if err != nil {
		return hash.Digest{}, fmt.Errorf("%w: %v", ErrSignatureParseFailure, err)
	}
	rec, err := Decode(env.ContentBytes)
	if err != nil {
		return hash.Digest{}, fmt.Errorf("%w: %w", ErrFailedToDecodeRecord, err)
	}
	return s.Validate(&SignedRecord{
		Record:       rec,
		ContentBytes: env.ContentBytes,
		KeyID:        env.KeyID,
		Signature:    sig,
	})
}

// Validate checks that sr is a legal next record and, if so, applies it and
// returns the new head's record id. On any error the state is unchanged.
//
// Checks run in this order: chain position, init placement, hash algorithm,
// protocol version, timestamp, signer, signature, then each entry in turn.
// When sr.ContentBytes is nil the record is encoded just before the signature
// check, so an unencodable record fails there with its encode error.
func (s *LogState) Validate(sr *SignedRecord) (hash.Digest, error) {
	if sr == nil || sr.Record == nil {
		return hash.Digest{}, fmt.Errorf("%w: no record", ErrFailedToDecodeRecord)
	}
	r := sr.Record

	if s.head == nil {
		if r.Prev != nil {
			return hash.Digest{}, ErrPreviousHashOnFirstRecord
		}
	} else {
		if r.Prev == nil {
			return hash.Digest{}, ErrNoPreviousHashAfterInit
		}
		if r.Prev.Algorithm != s.algorithm {
			return hash.Digest{}, &IncorrectHashAlgorithmError{Found: r.Prev.Algorithm, Expected: s.algorithm}
		}
		if !r.Prev.Equal(s.head.RecordID) {
			return hash.Digest{}, ErrRecordHashDoesNotMatch
		}
	}

	alg := s.algorithm
	var init *Init
	if s.head == nil {
		if len(r.Entries) == 0 {
			return hash.Digest{}, ErrInitialRecordDoesNotInit
		}
		first, ok := r.Entries[0].(Init)
		if !ok {
			return hash.Digest{}, ErrFirstEntryIsNotInit
		}
		if !first.HashAlgorithm.Supported() || first.Key.IsZero() {
			return hash.Digest{}, ErrInitialRecordDoesNotInit
		}
		init = &first
		alg = first.HashAlgorithm
	}
	for i, e := range r.Entries {
		if _, ok := e.(Init); ok && (init == nil || i > 0) {
			return hash.Digest{}, fmt.Errorf("entry %d: %w", i, ErrInitialEntryAfterBeginning)
		}
	}

	if r.Version > s.maxVersion {
		return hash.Digest{}, &ProtocolVersionNotAllowedError{Version: r.Version}
	}

	if r.Timestamp.Before(s.lastTimestamp) {
		return hash.Digest{}, ErrTimestampLowerThanPrevious
	}

	var signerKey signing.PublicKey
	if init != nil {
		if sr.KeyID != init.Key.Fingerprint() {
			return hash.Digest{}, &KeyIDNotRecognizedError{KeyID: sr.KeyID}
		}
		signerKey = init.Key
	} else {
		if !s.recognized(sr.KeyID) {
			return hash.Digest{}, &KeyIDNotRecognizedError{KeyID: sr.KeyID}
		}
		signerKey = s.keys[sr.KeyID]
	}

	content := sr.ContentBytes
	if content == nil {
		var err error
		if content, err = Encode(r); err != nil {
			return hash.Digest{}, err
		}
	}

	if err := signing.Verify(signerKey, SigningPayload(content), sr.Signature); err != nil {
		return hash.Digest{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	next := s.Clone()
	for i, e := range r.Entries {
		if err := next.apply(sr.KeyID, e); err != nil {
			return hash.Digest{}, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	id := RecordID(alg, content)
	next.algorithm = alg
	next.head = &Head{RecordID: id, Timestamp: r.Timestamp}
	next.lastTimestamp = r.Timestamp
	next.length++
	*s = *next
	return id, nil
}

// apply performs one entry's authorization check and effect.
func (s *LogState) apply(signer signing.KeyID, e Entry) error {
	switch e := e.(type) {
	case Init:
		s.founder = e.Key.Fingerprint()
		s.keys[s.founder] = e.Key
		if s.founderCommit {
			s.grant(s.founder, PermissionCommit)
		}
	case GrantFlat:
		if !e.Permission.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownOperatorPermission, e.Permission)
		}
		if !s.HasPermission(signer, PermissionCommit) {
			return &UnauthorizedActionError{KeyID: signer, NeededPermission: PermissionCommit}
		}
		id := e.Key.Fingerprint()
		s.keys[id] = e.Key
		s.grant(id, e.Permission)
	case RevokeFlat:
		if !e.Permission.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownOperatorPermission, e.Permission)
		}
		if !s.HasPermission(signer, PermissionCommit) {
			return &UnauthorizedActionError{KeyID: signer, NeededPermission: PermissionCommit}
		}
		if !s.HasPermission(e.KeyID, e.Permission) {
			return &PermissionNotFoundToRevokeError{KeyID: e.KeyID, Permission: e.Permission}
		}
		s.revoke(e.KeyID, e.Permission)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownOperatorEntry, e)
	}
	return nil
}

func (s *LogState) grant(id signing.KeyID, p Permission) {
	set, ok := s.permissions[id]
	if !ok {
		set = make(map[Permission]struct{})
		s.permissions[id] = set
	}
	set[p] = struct{}{}
}

func (s *LogState) revoke(id signing.KeyID, p Permission) {
	set := s.permissions[id]
	delete(set, p)
	if len(set) == 0 {
		delete(s.permissions, id)
	}
}

// recognized reports whether id may sign records: any key currently holding
// a permission. Without founder commit the founder holds nothing, so it stays
// recognised on its own.
func (s *LogState) recognized(id signing.KeyID) bool {
	if _, ok := s.keys[id]; !ok {
		return false
	}
	if len(s.permissions[id]) > 0 {
		return true
	}
	return !s.founderCommit && id == s.founder
}

// Clone returns a deep copy of s.
func (s *LogState) Clone() *LogState {
	c := *s
	if s.head != nil {
		h := *s.head
		c.head = &h
	}
	c.keys = make(map[signing.KeyID]signing.PublicKey, len(s.keys))
	for id, k := range s.keys {
		c.keys[id] = k
	}
	c.permissions = make(map[signing.KeyID]map[Permission]struct{}, len(s.permissions))
	for id, set := range s.permissions {
		cs := make(map[Permission]struct{}, len(set))
		for p := range set {
			cs[p] = struct{}{}
		}
		c.permissions[id] = cs
	}
	return &c
}

// Head returns the current chain tip, or nil for an empty log.
func (s *LogState) Head() *Head {
	if s.head == nil {
		return nil
	}
	h := *s.head
	return &h
}

// Len returns the number of accepted records.
func (s *LogState) Len() int { return s.length }

// HashAlgorithm returns the algorithm fixed by Init, or "" before Init.
func (s *LogState) HashAlgorithm() hash.Algorithm { return s.algorithm }

// Founder returns the key id named by Init, or "" before Init.
func (s *LogState) Founder() signing.KeyID { return s.founder }

// PublicKey returns the key registered under id.
func (s *LogState) PublicKey(id signing.KeyID) (signing.PublicKey, bool) {
	k, ok := s.keys[id]
	return k, ok
}

// HasPermission reports whether id currently holds p.
func (s *LogState) HasPermission(id signing.KeyID, p Permission) bool {
	_, ok := s.permissions[id][p]
	return ok
}

// Permissions returns a copy of the permission table. Permission lists are
// sorted.
func (s *LogState) Permissions() map[signing.KeyID][]Permission {
	out := make(map[signing.KeyID][]Permission, len(s.permissions))
	for id, set := range s.permissions {
		perms := make([]Permission, 0, len(set))
		for p := range set {
			perms = append(perms, p)
		}
		sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
		out[id] = perms
	}
	return out
}
